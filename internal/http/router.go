package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/seatutor/mariner-backend/internal/http/handlers"
	httpMW "github.com/seatutor/mariner-backend/internal/http/middleware"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

type RouterConfig struct {
	Mode string
	Log  *logger.Logger

	Auth      *httpMW.AuthMiddleware
	RateLimit *httpMW.RateLimiter

	ChatHandler    *httpH.ChatHandler
	MemoryHandler  *httpH.MemoryHandler
	HistoryHandler *httpH.HistoryHandler
	SourceHandler  *httpH.SourceHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("mariner-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(nil))
	r.Use(httpMW.RequestLogger(cfg.Log))

	api := r.Group("/api/v1")

	// Health (no API key: probes run unauthenticated)
	if cfg.HealthHandler != nil {
		api.GET("/health", cfg.HealthHandler.Health)
		api.GET("/health/db", cfg.HealthHandler.HealthDB)
	}

	protected := api.Group("/")
	if cfg.Auth != nil {
		protected.Use(cfg.Auth.RequireAPIKey())
	}
	if cfg.RateLimit != nil {
		protected.Use(cfg.RateLimit.LimitAPI())
	}

	if cfg.ChatHandler != nil {
		chat := protected.Group("/")
		if cfg.RateLimit != nil {
			chat.Use(cfg.RateLimit.LimitChat())
		}
		chat.POST("/chat", cfg.ChatHandler.Chat)
		chat.POST("/chat/stream", cfg.ChatHandler.ChatStream)
	}

	if cfg.MemoryHandler != nil {
		protected.GET("/memories/:user_id", cfg.MemoryHandler.ListMemories)
		protected.GET("/insights/:user_id", cfg.MemoryHandler.ListInsights)
	}
	if cfg.HistoryHandler != nil {
		protected.GET("/history/:user_id", cfg.HistoryHandler.List)
		protected.DELETE("/history/:user_id", cfg.HistoryHandler.Delete)
	}
	if cfg.SourceHandler != nil {
		protected.GET("/sources/:id", cfg.SourceHandler.Get)
	}

	return r
}
