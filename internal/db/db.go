package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/types"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

type Service struct {
	db     *gorm.DB
	driver string
	log    *logger.Logger
}

// New connects using DB_DRIVER (postgres default, sqlite for local work).
// The sqlite mode has no pgvector column support, so it requires the
// in-memory vector index provider.
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := strings.ToLower(utils.GetEnv("DB_DRIVER", "postgres", log))
	switch driver {
	case "postgres":
		return newPostgres(serviceLog, log)
	case "sqlite":
		return newSQLite(serviceLog, log)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

func newPostgres(serviceLog, log *logger.Logger) (*Service, error) {
	host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	port := utils.GetEnv("POSTGRES_PORT", "5432", log)
	user := utils.GetEnv("POSTGRES_USER", "postgres", log)
	password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	name := utils.GetEnv("POSTGRES_NAME", "aegiskb", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "vector";`).Error; err != nil {
		return nil, fmt.Errorf("enable vector extension: %w", err)
	}

	return &Service{db: db, driver: "postgres", log: serviceLog}, nil
}

func newSQLite(serviceLog, log *logger.Logger) (*Service, error) {
	path := utils.GetEnv("SQLITE_PATH", "aegiskb.db", log)
	serviceLog.Info("Opening sqlite database", "path", path)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Service{db: db, driver: "sqlite", log: serviceLog}, nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	// The chunk table's vector column degrades to text under sqlite; that
	// mode pairs with the in-memory index, which never reads it back.
	models := []any{
		&types.KnowledgeBase{},
		&types.KBAccessEntry{},
		&types.Document{},
		&types.DocumentChunk{},
		&types.Conversation{},
		&types.Message{},
		&types.Feedback{},
		&types.IngestionRun{},
	}
	if err := s.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if s.driver == "postgres" {
		if err := s.db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_document_chunk_kb_id ON document_chunk (kb_id);
		`).Error; err != nil {
			return fmt.Errorf("create chunk kb index: %w", err)
		}
		if err := s.db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_document_chunk_fts
			ON document_chunk USING GIN (to_tsvector('simple', text));
		`).Error; err != nil {
			return fmt.Errorf("create chunk fts index: %w", err)
		}
	}
	return nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Driver() string { return s.driver }
