package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"userservice/internal/auth"
	"userservice/internal/users"
	"userservice/pkg/middleware"
	"userservice/pkg/models"

	"github.com/gin-gonic/gin"
)

// UserService is the user-creation collaborator.
type UserService interface {
	CreateUser(ctx context.Context, name, email, password string) (models.User, error)
	Authenticate(ctx context.Context, email, password string) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

// EventPublisher announces newly registered users.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user models.User, correlationID string) (models.UserEvent, error)
}

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

// UserHandler handles user-related HTTP requests.
type UserHandler struct {
	Users     UserService
	Publisher EventPublisher
	Tokens    TokenIssuer
	Logger    *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc UserService, pub EventPublisher, tokens TokenIssuer, logger *slog.Logger) *UserHandler {
	return &UserHandler{Users: svc, Publisher: pub, Tokens: tokens, Logger: logger.With("component", "api")}
}

// RegisterResponse is returned by the registration endpoints.
type RegisterResponse struct {
	Message string      `json:"message" example:"User created"`
	User    models.User `json:"user"`
	Warning string      `json:"warning,omitempty" example:"user created but the registration event could not be published"`
}

// LoginResponse carries an access token.
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// ProfileResponse is returned by the protected profile endpoint.
type ProfileResponse struct {
	Message string      `json:"message" example:"Welcome to your profile"`
	User    models.User `json:"user"`
}

// Register godoc
// @Summary      Register a new user
// @Description  Creates a user and publishes a USER_REGISTERED event
// @Tags         users
// @Accept       json
// @Produce      json
// @Param        request  body      models.RegisterRequest  true  "Registration request"
// @Success      201      {object}  RegisterResponse
// @Failure      400      {object}  map[string]string
// @Failure      409      {object}  map[string]string
// @Failure      503      {object}  map[string]string
// @Router       /api/register [post]
func (h *UserHandler) Register(c *gin.Context) {
	correlationID := middleware.GetCorrelationID(c)
	log := h.Logger.With("correlation_id", correlationID)

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Users.CreateUser(c.Request.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, users.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, users.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	case err != nil:
		log.Error("creating user failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to create user"})
		return
	}

	resp := RegisterResponse{Message: "User created", User: user.Snapshot()}

	// The user already exists at this point; a publish failure is reported, not rolled back.
	if _, err := h.Publisher.PublishUserRegistered(c.Request.Context(), user, correlationID); err != nil {
		log.Error("registration event not published", "user_id", user.ID, "email", user.Email, "error", err)
		resp.Warning = "user created but the registration event could not be published"
	}

	log.Info("user registered", "user_id", user.ID, "email", user.Email)
	c.JSON(http.StatusCreated, resp)
}

// Login godoc
// @Summary      Log in
// @Description  Exchanges credentials for a bearer token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request  body      models.LoginRequest  true  "Login request"
// @Success      200      {object}  LoginResponse
// @Failure      400      {object}  map[string]string
// @Failure      401      {object}  map[string]string
// @Router       /api/auth/login [post]
func (h *UserHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.Users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if err != nil {
		h.Logger.Error("authenticating user failed", "error", err, "correlation_id", middleware.GetCorrelationID(c))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to authenticate"})
		return
	}

	token, err := h.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		h.Logger.Error("issuing token failed", "error", err, "user_id", user.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Token: token, User: user.Snapshot()})
}

// Profile godoc
// @Summary      Current user profile
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  ProfileResponse
// @Failure      401  {object}  map[string]string
// @Router       /api/protected/profile [get]
func (h *UserHandler) Profile(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authorized"})
		return
	}

	user, err := h.Users.GetUser(c.Request.Context(), claims.Subject)
	if errors.Is(err, users.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authorized, user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to fetch user"})
		return
	}

	c.JSON(http.StatusOK, ProfileResponse{Message: "Welcome to your profile", User: user.Snapshot()})
}
