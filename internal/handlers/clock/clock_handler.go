// internal/handlers/clock/clock_handler.go
package clock

import (
	"errors"
	"net/http"
	"time"

	"timeclock-service/internal/domain/auth"
	"timeclock-service/internal/middleware"
	xerrors "timeclock-service/internal/pkg/errors"
	"timeclock-service/internal/pkg/response"
	"timeclock-service/internal/service/actiontoken"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClockNotifier confirms a recorded clock event to the token owner.
type ClockNotifier interface {
	NotifyClockRecorded(principalID int64, purpose, stationID string, at time.Time)
}

type ClockHandler struct {
	tokens   *actiontoken.Service
	notifier ClockNotifier
	logger   *zap.Logger
}

func NewClockHandler(tokens *actiontoken.Service, notifier ClockNotifier, logger *zap.Logger) *ClockHandler {
	return &ClockHandler{
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
	}
}

// IssueActionToken returns a QR token for the caller (requires auth)
func (h *ClockHandler) IssueActionToken(c *gin.Context) {
	principal := middleware.MustGetPrincipal(c)

	var req auth.ActionTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}
	purpose, err := actiontoken.ParsePurpose(req.Purpose)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid purpose", err)
		return
	}

	issued, err := h.tokens.Generate(c.Request.Context(), principal.PrincipalID, purpose, req.StationID)
	if err != nil {
		if errors.Is(err, xerrors.ErrInvalidInput) {
			response.ValidationError(c, "invalid request", err)
			return
		}
		h.logger.Error("failed to issue action token",
			zap.Int64("principal_id", principal.PrincipalID),
			zap.Error(err),
		)
		response.Error(c, http.StatusBadGateway, "could not issue token", nil)
		return
	}

	response.Success(c, http.StatusCreated, "action token issued", auth.ActionTokenResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
}

// Scan consumes a QR token presented at a station (manager or admin)
func (h *ClockHandler) Scan(c *gin.Context) {
	var req auth.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	var purpose actiontoken.Purpose
	if req.Purpose != "" {
		p, err := actiontoken.ParsePurpose(req.Purpose)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid purpose", err)
			return
		}
		purpose = p
	}

	res, err := h.tokens.ValidateForPrincipal(c.Request.Context(), req.Token, purpose, req.StationID)
	if err != nil {
		if actiontoken.IsRejection(err) {
			h.logger.Info("action token rejected",
				zap.String("station_id", req.StationID),
				zap.Error(err),
			)
			response.Unauthorized(c, "invalid action token")
			return
		}
		h.logger.Error("action token validation failed", zap.Error(err))
		response.Error(c, http.StatusBadGateway, "could not validate token", nil)
		return
	}

	scanner := middleware.MustGetPrincipal(c)
	h.logger.Info("clock event recorded",
		zap.Int64("principal_id", res.PrincipalID),
		zap.String("purpose", string(res.Purpose)),
		zap.String("station_id", res.StationID),
		zap.Int64("scanned_by", scanner.PrincipalID),
	)
	if h.notifier != nil {
		h.notifier.NotifyClockRecorded(res.PrincipalID, string(res.Purpose), res.StationID, time.Now())
	}

	response.Success(c, http.StatusOK, "clock event recorded", auth.ScanResponse{
		PrincipalID: res.PrincipalID,
		Purpose:     string(res.Purpose),
		StationID:   res.StationID,
		IssuedAt:    res.IssuedAt,
		ExpiresAt:   res.ExpiresAt,
	})
}
