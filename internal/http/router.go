package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/kestrelworks/aegiskb-backend/internal/http/handlers"
	httpMW "github.com/kestrelworks/aegiskb-backend/internal/http/middleware"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler   *httpH.HealthHandler
	KBHandler       *httpH.KBHandler
	DocumentHandler *httpH.DocumentHandler
	ChatHandler     *httpH.ChatHandler
	GraphHandler    *httpH.GraphHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("aegiskb"))
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.KBHandler != nil {
			protected.POST("/knowledge-bases", cfg.KBHandler.Create)
			protected.GET("/knowledge-bases", cfg.KBHandler.List)
			protected.GET("/knowledge-bases/:id", cfg.KBHandler.Get)
			protected.PATCH("/knowledge-bases/:id", cfg.KBHandler.Update)
			protected.PUT("/knowledge-bases/:id/acls", cfg.KBHandler.ReplaceACLs)
			protected.DELETE("/knowledge-bases/:id", cfg.KBHandler.Delete)
		}

		if cfg.DocumentHandler != nil {
			protected.POST("/knowledge-bases/:id/documents", cfg.DocumentHandler.Upload)
			protected.GET("/knowledge-bases/:id/documents", cfg.DocumentHandler.ListByKB)
			protected.GET("/documents/:id", cfg.DocumentHandler.Get)
			protected.POST("/documents/:id/reingest", cfg.DocumentHandler.Reingest)
			protected.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
		}

		if cfg.ChatHandler != nil {
			protected.POST("/conversations", cfg.ChatHandler.CreateConversation)
			protected.GET("/conversations", cfg.ChatHandler.ListConversations)
			protected.GET("/conversations/:id", cfg.ChatHandler.GetConversation)
			protected.PATCH("/conversations/:id", cfg.ChatHandler.RenameConversation)
			protected.DELETE("/conversations/:id", cfg.ChatHandler.DeleteConversation)
			protected.POST("/conversations/:id/ask", cfg.ChatHandler.Ask)
			protected.POST("/feedback", cfg.ChatHandler.SubmitFeedback)
		}

		if cfg.GraphHandler != nil {
			protected.GET("/documents/:id/citations", cfg.GraphHandler.DocumentNeighborhood)
		}
	}

	return r
}
