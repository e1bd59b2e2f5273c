package app

import (
	httpInternal "github.com/kestrelworks/aegiskb-backend/internal/http"
	httpH "github.com/kestrelworks/aegiskb-backend/internal/http/handlers"
	httpMW "github.com/kestrelworks/aegiskb-backend/internal/http/middleware"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
)

func wireRouterConfig(log *logger.Logger, cfg Config, serviceset Services) httpInternal.RouterConfig {
	var graphHandler *httpH.GraphHandler
	if serviceset.Provenance != nil {
		graphHandler = httpH.NewGraphHandler(serviceset.Documents, serviceset.Provenance, log)
	}
	return httpInternal.RouterConfig{
		Log:            log,
		AuthMiddleware: httpMW.NewAuthMiddleware(cfg.JWTSecret, log),

		HealthHandler:   httpH.NewHealthHandler(),
		KBHandler:       httpH.NewKBHandler(serviceset.KBs, log),
		DocumentHandler: httpH.NewDocumentHandler(serviceset.Documents, log),
		ChatHandler:     httpH.NewChatHandler(serviceset.Chat, serviceset.RAG, log),
		GraphHandler:    graphHandler,
	}
}
