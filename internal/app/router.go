// internal/app/router.go
package app

import (
	"net/http"

	"timeclock-service/internal/domain/auth"
	authHandler "timeclock-service/internal/handlers/auth"
	clockHandler "timeclock-service/internal/handlers/clock"
	wsHandler "timeclock-service/internal/handlers/websocket"
	"timeclock-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	AuthHandler    *authHandler.AuthHandler
	ClockHandler   *clockHandler.ClockHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
	DevRoutes      bool
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	mw := h.AuthMiddleware

	// ==================== WebSocket ====================
	r.GET("/ws/alerts", mw.AuthenticateWebSocket(), mw.RequireAuth(), h.WSHandler.HandleConnection)

	api := r.Group("/api/v1")
	api.Use(mw.Authenticate())

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Auth Routes ====================
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/refresh", h.AuthHandler.Refresh)
		authRoutes.POST("/logout", h.AuthHandler.Logout)
		authRoutes.POST("/logout-all", mw.RequireAuth(), h.AuthHandler.LogoutAll)

		if h.DevRoutes {
			authRoutes.POST("/dev-login", h.AuthHandler.DevLogin)
		}
	}

	// ==================== Clock Routes ====================
	clock := api.Group("/clock")
	{
		clock.POST("/action-token", mw.RequireAuth(), h.ClockHandler.IssueActionToken)
		clock.POST("/scan", mw.RequireRole(auth.RoleManager, auth.RoleAdmin), h.ClockHandler.Scan)
	}

	// ==================== Manager Routes ====================
	admin := api.Group("/admin")
	admin.Use(mw.RequireRole(auth.RoleManager, auth.RoleAdmin))
	{
		admin.POST("/principals/:id/logout-all", h.AuthHandler.ForceLogout)
		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}
}
