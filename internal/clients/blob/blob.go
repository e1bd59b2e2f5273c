package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// Store keeps the raw uploaded files. Retrieval never reads from here;
// only ingestion (parse) and document download do.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FromEnv selects the backend via BLOB_PROVIDER: "gcs" or "local"
// (default, rooted at BLOB_LOCAL_DIR).
func FromEnv(log *logger.Logger) (Store, error) {
	provider := strings.ToLower(strings.TrimSpace(utils.GetEnv("BLOB_PROVIDER", "local", log)))
	switch provider {
	case "gcs":
		return NewGCSStore(log)
	case "local":
		return NewLocalStore(utils.GetEnv("BLOB_LOCAL_DIR", "/var/lib/aegiskb/blobs", log), log)
	default:
		return nil, fmt.Errorf("unknown BLOB_PROVIDER %q (expected gcs or local)", provider)
	}
}
