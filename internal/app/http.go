package app

import (
	"context"
	"net"

	"gorm.io/gorm"

	chathttp "github.com/yungbote/neurobridge-chat/internal/http"
	httpH "github.com/yungbote/neurobridge-chat/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-chat/internal/http/middleware"
	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/realtime/sse"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health        *httpH.HealthHandler
	Chat          *httpH.ChatHandler
	Conversations *httpH.ConversationHandler
	Usage         *httpH.UsageHandler
	PromptAdmin   *httpH.PromptAdminHandler
}

func wireMiddleware(log *logger.Logger, svcs Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{Auth: httpMW.NewAuthMiddleware(log, svcs.Auth)}
}

func wireHandlers(log *logger.Logger, cfg Config, svcs Services, checks map[string]httpH.Checker) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:        httpH.NewHealthHandler(checks),
		Chat:          httpH.NewChatHandler(log, svcs.Chat, sse.NewWriter(log, cfg.SSEHeartbeat)),
		Conversations: httpH.NewConversationHandler(svcs.Conversations),
		Usage:         httpH.NewUsageHandler(svcs.Admission),
		PromptAdmin:   httpH.NewPromptAdminHandler(svcs.Prompts),
	}
}

// readinessChecks probes the database and, when configured, Redis.
func readinessChecks(db *gorm.DB, clients Clients) map[string]httpH.Checker {
	checks := map[string]httpH.Checker{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if clients.Redis != nil {
		checks["redis"] = clients.Redis.Ping
	}
	return checks
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware, metrics *observability.Metrics) *chathttp.Server {
	return chathttp.NewServer(net.JoinHostPort("", cfg.Port), chathttp.RouterConfig{
		Log:                 log,
		ServiceName:         serviceName,
		CORSOrigins:         cfg.CORSOrigins,
		Metrics:             metrics,
		AuthMiddleware:      middleware.Auth,
		ChatHandler:         handlers.Chat,
		ConversationHandler: handlers.Conversations,
		UsageHandler:        handlers.Usage,
		PromptAdminHandler:  handlers.PromptAdmin,
		HealthHandler:       handlers.Health,
	})
}
