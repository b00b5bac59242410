package api

import (
	"github.com/gin-gonic/gin"

	"github.com/user/chatrelay/internal/api/middleware"
	"github.com/user/chatrelay/internal/metrics"
	"github.com/user/chatrelay/internal/service"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	chatService *service.ChatService,
	feedbackService *service.FeedbackService,
	traceService *service.TraceService,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Metrics (operational surface, keyed when an API key is set)
	r.GET("/metrics", middleware.APIKey(cfg.APIKey), gin.WrapH(metrics.Handler()))

	// Chat API
	apiGroup := r.Group("/api")
	chatHandler := NewChatHandler(chatService)
	chatHandler.RegisterRoutes(apiGroup)
	feedbackHandler := NewFeedbackHandler(feedbackService, traceService)
	feedbackHandler.RegisterRoutes(apiGroup)

	return r
}
