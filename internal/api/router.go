package api

import (
	"log/slog"
	"net/http"

	"userservice/internal/auth"
	"userservice/pkg/middleware"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterConfig is what NewRouter needs beyond the handler.
type RouterConfig struct {
	Tokens      *auth.TokenManager
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter creates and configures the Gin router.
func NewRouter(h *UserHandler, cfg RouterConfig) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Swagger
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.POST("/register", h.Register)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)

	protected := api.Group("/protected", auth.RequireAuth(cfg.Tokens))
	protected.GET("/profile", h.Profile)

	return r
}
