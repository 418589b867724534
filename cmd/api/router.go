package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/health/ai", h.AIHealth)

		auth := api.Group("/auth")
		{
			auth.GET("/gmail/url", AuthMiddleware(h.config.JWTSecret), h.GetGmailAuthURL)
			// The callback is reached by redirect from Google; identity
			// travels in the signed state parameter.
			auth.GET("/gmail/callback", h.GmailCallback)
			auth.POST("/outlook/device", AuthMiddleware(h.config.JWTSecret), h.StartOutlookDeviceFlow)
			auth.POST("/outlook/device/poll", AuthMiddleware(h.config.JWTSecret), h.PollOutlookDeviceFlow)
		}

		accounts := api.Group("/accounts")
		accounts.Use(AuthMiddleware(h.config.JWTSecret))
		{
			accounts.GET("", h.ListAccounts)
			accounts.POST("/:id/sync", h.SyncAccount)
			accounts.DELETE("/:id", h.DisconnectAccount)
		}

		emails := api.Group("/emails")
		emails.Use(AuthMiddleware(h.config.JWTSecret))
		{
			emails.GET("", h.ListEmails)
		}

		rules := api.Group("/rules")
		rules.Use(AuthMiddleware(h.config.JWTSecret))
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
		}

		logs := api.Group("/logs")
		logs.Use(AuthMiddleware(h.config.JWTSecret))
		{
			logs.GET("", h.ListLogs)
		}

		settings := api.Group("/settings")
		settings.Use(AuthMiddleware(h.config.JWTSecret))
		{
			settings.GET("", h.settings.GetSettings)
			settings.PUT("", h.settings.UpdateSettings)
		}
	}
}
