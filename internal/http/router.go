package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-chat/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-chat/internal/http/middleware"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	CORSOrigins    []string
	Metrics        *observability.Metrics
	AuthMiddleware *httpMW.AuthMiddleware

	ChatHandler         *httpH.ChatHandler
	ConversationHandler *httpH.ConversationHandler
	UsageHandler        *httpH.UsageHandler
	PromptAdminHandler  *httpH.PromptAdminHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.Correlate())
	r.Use(httpMW.AccessLog(cfg.Log))
	r.Use(httpMW.RouteMetrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")

	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Chat (SSE)
		if cfg.ChatHandler != nil {
			protected.POST("/chat", cfg.ChatHandler.PostChat)
			protected.GET("/chat/:id/stream", cfg.ChatHandler.ResumeStream)
		}

		// Conversations + votes
		if cfg.ConversationHandler != nil {
			protected.GET("/conversations", cfg.ConversationHandler.List)
			protected.GET("/conversations/:id", cfg.ConversationHandler.Get)
			protected.DELETE("/conversations/:id", cfg.ConversationHandler.Delete)
			protected.PATCH("/conversations/:id/visibility", cfg.ConversationHandler.SetVisibility)
			protected.DELETE("/conversations/:id/messages/:messageId/trailing", cfg.ConversationHandler.TruncateTrailing)

			protected.GET("/vote", cfg.ConversationHandler.ListVotes)
			protected.PATCH("/vote", cfg.ConversationHandler.Vote)
		}

		// Usage
		if cfg.UsageHandler != nil {
			protected.GET("/usage", cfg.UsageHandler.Get)
		}
	}

	admin := protected.Group("/admin")
	{
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAdmin())
		}
		if cfg.PromptAdminHandler != nil {
			admin.GET("/prompts", cfg.PromptAdminHandler.List)
			admin.POST("/prompts", cfg.PromptAdminHandler.Create)
			admin.GET("/prompts/active", cfg.PromptAdminHandler.Active)
			admin.GET("/prompts/:id", cfg.PromptAdminHandler.Get)
			admin.PATCH("/prompts/:id", cfg.PromptAdminHandler.Update)
			admin.DELETE("/prompts/:id", cfg.PromptAdminHandler.Delete)
		}
	}

	return r
}
