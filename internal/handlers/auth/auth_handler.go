// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"
	"strconv"

	"timeclock-service/internal/domain/auth"
	"timeclock-service/internal/middleware"
	xerrors "timeclock-service/internal/pkg/errors"
	"timeclock-service/internal/pkg/response"
	authUsecase "timeclock-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// ========== Session ==========

type devLoginRequest struct {
	PrincipalID int64  `json:"principal_id" binding:"required"`
	Subject     string `json:"subject"`
}

// DevLogin issues a credential pair for any known principal. Only routed
// when APP_ENV=development; real sign-in lives in the user directory.
func (h *AuthHandler) DevLogin(c *gin.Context) {
	var req devLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = strconv.FormatInt(req.PrincipalID, 10)
	}

	cred, err := h.authService.Login(c.Request.Context(), subject, req.PrincipalID)
	if err != nil {
		h.logger.Error("dev login failed", zap.Int64("principal_id", req.PrincipalID), zap.Error(err))
		response.Error(c, http.StatusBadGateway, "login failed", nil)
		return
	}

	response.Success(c, http.StatusOK, "login successful", cred)
}

// Refresh rotates a refresh credential (public endpoint)
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	cred, err := h.authService.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "token refreshed", cred)
}

// Logout revokes the bearer access credential and, if supplied, the refresh
// credential. It always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req auth.LogoutRequest
	// The body is optional.
	_ = c.ShouldBindJSON(&req)

	h.authService.Logout(c.Request.Context(), middleware.BearerToken(c), req.RefreshToken)

	response.Success(c, http.StatusOK, "logout successful", nil)
}

// LogoutAll signs the caller out everywhere (requires auth)
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	principal := middleware.MustGetPrincipal(c)

	if err := h.authService.InvalidateAll(c.Request.Context(), principal.PrincipalID); err != nil {
		h.logger.Error("logout all failed",
			zap.Int64("principal_id", principal.PrincipalID),
			zap.Error(err),
		)
		response.Internal(c)
		return
	}

	response.Success(c, http.StatusOK, "all sessions logged out", nil)
}

// ForceLogout signs another principal out everywhere (manager only)
func (h *AuthHandler) ForceLogout(c *gin.Context) {
	target, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid principal id", err)
		return
	}
	actor := middleware.MustGetPrincipal(c)

	if err := h.authService.InvalidateAll(c.Request.Context(), target); err != nil {
		h.logger.Error("force logout failed",
			zap.Int64("principal_id", target),
			zap.Int64("actor_id", actor.PrincipalID),
			zap.Error(err),
		)
		response.Internal(c)
		return
	}

	h.logger.Info("principal force logged out",
		zap.Int64("principal_id", target),
		zap.Int64("actor_id", actor.PrincipalID),
	)
	response.Success(c, http.StatusOK, "principal logged out", nil)
}

func (h *AuthHandler) respondSessionError(c *gin.Context, err error) {
	if sv, ok := xerrors.AsSecurityViolation(err); ok {
		h.logger.Error("refresh rejected: session family revoked",
			zap.Bool("security_violation", true),
			zap.Int64("principal_id", sv.PrincipalID),
			zap.String("root_family_id", sv.RootFamilyID),
			zap.String("client_ip", c.ClientIP()),
		)
		response.Unauthorized(c, "security alert: session revoked")
		return
	}

	if xerrors.IsAuthFailure(err) {
		response.Unauthorized(c, "invalid or expired token")
		return
	}

	h.logger.Error("refresh failed", zap.Error(err))
	response.Error(c, http.StatusBadGateway, "session service unavailable", nil)
}
