package controller

import (
	"net/http"

	dto "github.com/nestya/auth-service/app/dto/http"
	"github.com/nestya/auth-service/app/metrics"
	"github.com/nestya/auth-service/app/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AuthController struct {
	authService *service.AuthService
	recorder    metrics.Recorder
}

func NewAuthController(authService *service.AuthService, recorder metrics.Recorder) *AuthController {
	return &AuthController{authService: authService, recorder: recorder}
}

func (c *AuthController) Register(ctx echo.Context) error {
	var req dto.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return badRequest(ctx, "invalid request body")
	}

	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.Password == "" {
		return badRequest(ctx, "firstName, lastName, email and password are required")
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	result, err := c.authService.Register(ctx.Request().Context(), req.FirstName, req.LastName, req.Email, req.Password)
	if err != nil {
		return c.fail(ctx, "register", req.Email, err)
	}

	c.recorder.RecordAuth("register", metrics.OutcomeSuccess)
	logrus.WithField("email", req.Email).Info("User registered")
	return ctx.JSON(http.StatusOK, dto.AuthResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

func (c *AuthController) Login(ctx echo.Context) error {
	var req dto.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return badRequest(ctx, "invalid request body")
	}

	if req.Email == "" || req.Password == "" {
		return badRequest(ctx, "email and password are required")
	}

	logrus.WithField("email", req.Email).Info("Login request received")
	result, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password)
	if err != nil {
		return c.fail(ctx, "login", req.Email, err)
	}

	c.recorder.RecordAuth("login", metrics.OutcomeSuccess)
	logrus.WithField("email", req.Email).Info("Login successful")
	return ctx.JSON(http.StatusOK, dto.AuthResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

func (c *AuthController) RefreshToken(ctx echo.Context) error {
	var req dto.RefreshTokenRequest
	if err := ctx.Bind(&req); err != nil {
		logrus.WithError(err).Debug("Failed to bind refresh token request")
		return badRequest(ctx, "invalid request body")
	}

	if req.RefreshToken == "" {
		return badRequest(ctx, "refreshToken is required")
	}

	logrus.Info("Refresh token request received")
	result, err := c.authService.RefreshToken(ctx.Request().Context(), req.RefreshToken)
	if err != nil {
		return c.fail(ctx, "refresh", "", err)
	}

	c.recorder.RecordAuth("refresh", metrics.OutcomeSuccess)
	logrus.Info("Refresh token rotated")
	return ctx.JSON(http.StatusOK, dto.AuthResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

func (c *AuthController) Logout(ctx echo.Context) error {
	var req dto.RefreshTokenRequest
	if err := ctx.Bind(&req); err != nil {
		logrus.WithError(err).Debug("Failed to bind logout request")
		return badRequest(ctx, "invalid request body")
	}

	if req.RefreshToken == "" {
		return badRequest(ctx, "refreshToken is required")
	}

	logrus.Info("Logout request received")
	if err := c.authService.Logout(ctx.Request().Context(), req.RefreshToken); err != nil {
		return c.fail(ctx, "logout", "", err)
	}

	c.recorder.RecordAuth("logout", metrics.OutcomeSuccess)
	logrus.Info("Logout successful")
	return ctx.NoContent(http.StatusOK)
}

// fail translates a domain error into the transport response and records the
// outcome.
func (c *AuthController) fail(ctx echo.Context, operation, email string, err error) error {
	status, message := statusForError(err)

	entry := logrus.WithField("operation", operation)
	if email != "" {
		entry = entry.WithField("email", email)
	}

	if status == http.StatusInternalServerError {
		c.recorder.RecordAuth(operation, metrics.OutcomeError)
		entry.WithError(err).Error("Auth operation failed")
	} else {
		c.recorder.RecordAuth(operation, metrics.OutcomeRejected)
		entry.Warn("Auth operation rejected: " + err.Error())
	}

	return ctx.JSON(status, dto.NewErrorResponse(status, message))
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(http.StatusBadRequest, message))
}
