package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"userservice/internal/app"
	"userservice/internal/cli"
	"userservice/pkg/config"
	"userservice/pkg/logging"
	"userservice/pkg/postgres"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "userservice",
		Short:        "User registration service with an asynchronous welcome-notification pipeline",
		SilenceUsage: true,
		RunE:         runServer(app.Options{API: true, Consumer: true}),
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the event consumer in one process",
			RunE:  runServer(app.Options{API: true, Consumer: true}),
		},
		&cobra.Command{
			Use:   "api",
			Short: "Run only the HTTP API",
			RunE:  runServer(app.Options{API: true}),
		},
		&cobra.Command{
			Use:   "consume",
			Short: "Run only the event consumer",
			RunE:  runServer(app.Options{Consumer: true}),
		},
	)
	root.AddCommand(clientCommands()...)
	return root
}

func runServer(opts app.Options) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := logging.Setup("userservice", logging.Options{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		})
		logger.Info("Starting userservice...", "api", opts.API, "consumer", opts.Consumer)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := app.Run(ctx, cfg, logger, opts); err != nil {
			logger.Error("userservice exited", "error", err)
			return err
		}
		return nil
	}
}

func clientCommands() []*cobra.Command {
	var baseURL string
	var noColor bool
	newClient := func(cmd *cobra.Command) *cli.Client {
		c := cli.NewClient(baseURL, cmd.OutOrStdout())
		c.NoColor = noColor
		return c
	}

	var name, email, password string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a user through the running API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).Register(cmd.Context(), name, email, password)
		},
	}
	register.Flags().StringVar(&name, "name", "", "user name")
	register.Flags().StringVar(&email, "email", "", "user email")
	register.Flags().StringVar(&password, "password", "", "user password")

	var loginEmail, loginPassword string
	login := &cobra.Command{
		Use:   "login",
		Short: "Exchange credentials for a bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := newClient(cmd).Login(cmd.Context(), loginEmail, loginPassword)
			return err
		},
	}
	login.Flags().StringVar(&loginEmail, "email", "", "user email")
	login.Flags().StringVar(&loginPassword, "password", "", "user password")

	var token string
	profile := &cobra.Command{
		Use:   "profile",
		Short: "Show the profile for a bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).Profile(cmd.Context(), token)
		},
	}
	profile.Flags().StringVar(&token, "token", "", "bearer token from login")

	health := &cobra.Command{
		Use:   "health",
		Short: "Check that the API answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newClient(cmd).Health(cmd.Context())
		},
	}

	for _, c := range []*cobra.Command{register, login, profile, health} {
		c.Flags().StringVar(&baseURL, "url", "http://localhost:5000", "API base URL")
		c.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	}
	for _, pair := range []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{register, []string{"name", "email", "password"}},
		{login, []string{"email", "password"}},
		{profile, []string{"token"}},
	} {
		for _, f := range pair.flags {
			_ = pair.cmd.MarkFlagRequired(f)
		}
	}

	var limit int
	notifications := &cobra.Command{
		Use:   "notifications",
		Short: "List recent welcome notifications from DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := postgres.Connect(cmd.Context(), config.Load().DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()
			return cli.ShowNotifications(cmd.Context(), db, cmd.OutOrStdout(), limit)
		},
	}
	notifications.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")

	return []*cobra.Command{register, login, profile, health, notifications}
}
