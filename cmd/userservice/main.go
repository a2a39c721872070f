package main

import (
	"context"
	"os"

	_ "userservice/docs"
)

// @title           User Registration API
// @version         1.0
// @description     Registers users and publishes USER_REGISTERED events to RabbitMQ for asynchronous welcome notifications.
// @host            localhost:5000
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
