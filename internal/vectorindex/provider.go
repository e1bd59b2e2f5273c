package vectorindex

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// FromEnv selects the retrieval backend via VECTOR_PROVIDER:
//
//	auto:     pgvector on postgres, in-memory otherwise (default)
//	postgres: pgvector + Postgres FTS, requires the postgres driver
//	memory:   in-process index
//	qdrant:   Qdrant for vectors, database index for keywords
func FromEnv(db *gorm.DB, driver string, baseLog *logger.Logger) (Index, error) {
	provider := strings.ToLower(strings.TrimSpace(utils.GetEnv("VECTOR_PROVIDER", "auto", baseLog)))
	driver = strings.ToLower(strings.TrimSpace(driver))

	dbIndex := func() Index {
		if driver == "postgres" {
			return NewPostgresIndex(db, baseLog)
		}
		return NewMemoryIndex(baseLog)
	}

	switch provider {
	case "", "auto":
		return dbIndex(), nil
	case "postgres":
		if driver != "postgres" {
			return nil, fmt.Errorf("VECTOR_PROVIDER=postgres requires DB_DRIVER=postgres, got %q", driver)
		}
		return NewPostgresIndex(db, baseLog), nil
	case "memory":
		return NewMemoryIndex(baseLog), nil
	case "qdrant":
		return NewQdrantIndexFromEnv(baseLog, dbIndex())
	default:
		return nil, fmt.Errorf("unknown VECTOR_PROVIDER %q (expected auto, postgres, memory, or qdrant)", provider)
	}
}
