package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kestrelworks/aegiskb-backend/internal/logger"
	"github.com/kestrelworks/aegiskb-backend/internal/utils"
)

// AuthCache caches a principal's authorized-KB set so the ACL query does
// not run on every message. Entries carry a short TTL and the whole cache
// can be invalidated at once when any ACL or clearance changes.
type AuthCache interface {
	GetAuthorizedKBs(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, bool)
	SetAuthorizedKBs(ctx context.Context, principalID uuid.UUID, kbIDs []uuid.UUID)
	// InvalidateAll drops every cached authorization decision. Called after
	// ACL replacement, KB clearance changes, and KB archive or delete.
	InvalidateAll(ctx context.Context)
	Close() error
}

const genKey = "authz:gen"

type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewFromEnv connects to REDIS_ADDR. An empty address disables caching:
// every lookup falls through to the database.
func NewFromEnv(log *logger.Logger) (AuthCache, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		log.Info("Authorization cache disabled, REDIS_ADDR not set")
		return NewNoop(), nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    utils.GetEnv("REDIS_PASSWORD", "", log),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := utils.GetEnvAsInt("AUTHZ_CACHE_TTL_SECONDS", 30, log)
	return &redisCache{
		log: log.With("client", "AuthCache"),
		rdb: rdb,
		ttl: time.Duration(ttl) * time.Second,
	}, nil
}

// Cached sets are versioned by a generation counter. Invalidation bumps
// the counter, which orphans every old key; the orphans expire via TTL.
func (c *redisCache) key(ctx context.Context, principalID uuid.UUID) (string, error) {
	gen, err := c.rdb.Get(ctx, genKey).Int64()
	if err != nil && err != goredis.Nil {
		return "", err
	}
	return fmt.Sprintf("authz:v%d:p:%s", gen, principalID), nil
}

func (c *redisCache) GetAuthorizedKBs(ctx context.Context, principalID uuid.UUID) ([]uuid.UUID, bool) {
	key, err := c.key(ctx, principalID)
	if err != nil {
		c.log.Warn("Authorization cache read failed", "error", err)
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("Authorization cache read failed", "error", err)
		return nil, false
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		c.log.Warn("Authorization cache entry corrupt", "error", err)
		return nil, false
	}
	return ids, true
}

func (c *redisCache) SetAuthorizedKBs(ctx context.Context, principalID uuid.UUID, kbIDs []uuid.UUID) {
	key, err := c.key(ctx, principalID)
	if err != nil {
		c.log.Warn("Authorization cache write failed", "error", err)
		return
	}
	if kbIDs == nil {
		kbIDs = []uuid.UUID{}
	}
	raw, err := json.Marshal(kbIDs)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("Authorization cache write failed", "error", err)
	}
}

func (c *redisCache) InvalidateAll(ctx context.Context) {
	if err := c.rdb.Incr(ctx, genKey).Err(); err != nil {
		c.log.Warn("Authorization cache invalidation failed", "error", err)
	}
}

func (c *redisCache) Close() error {
	return c.rdb.Close()
}

type noopCache struct{}

// NewNoop returns a cache that never hits. Used when redis is absent and
// in tests.
func NewNoop() AuthCache { return noopCache{} }

func (noopCache) GetAuthorizedKBs(context.Context, uuid.UUID) ([]uuid.UUID, bool) { return nil, false }
func (noopCache) SetAuthorizedKBs(context.Context, uuid.UUID, []uuid.UUID)        {}
func (noopCache) InvalidateAll(context.Context)                                   {}
func (noopCache) Close() error                                                    { return nil }
