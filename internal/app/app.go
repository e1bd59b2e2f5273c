package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/db"
	"github.com/kestrelworks/aegiskb-backend/internal/http"
	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/observability"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *http.Server
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	dbs, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbs.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "aegiskb",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	reposet := wireRepos(dbs.DB(), log)
	clients, err := wireClients(dbs, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	serviceset, err := wireServices(log, reposet, clients)
	if err != nil {
		log.Sync()
		return nil, err
	}

	server := http.NewServer(wireRouterConfig(log, cfg, serviceset))

	return &App{
		Log:          log,
		DB:           dbs.DB(),
		Server:       server,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background ingestion worker.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.IngestWorker != nil {
		a.Services.IngestWorker.Start(ctx)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(":" + a.Cfg.Port)
}

// Shutdown drains in-flight HTTP requests. Close still tears down the
// worker and clients afterward.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return nil
	}
	return a.Server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	ctx := context.Background()
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Clients.Graph != nil {
		_ = a.Clients.Graph.Close(ctx)
	}
	if a.Clients.AuthCache != nil {
		_ = a.Clients.AuthCache.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
