package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wfmeta/workflow-agent/pkg/logging"
)

// QueryCacheConfig holds Redis cache configuration
type QueryCacheConfig struct {
	Address   string        `json:"address"`
	Password  string        `json:"password"`
	Database  int           `json:"database"`
	TTL       time.Duration `json:"ttl"`
	KeyPrefix string        `json:"key_prefix"`
}

// QueryCache fronts the resolver with a Redis-backed result cache. Cache
// failures degrade to a miss; they are never surfaced to the caller.
type QueryCache struct {
	client *redis.Client
	config *QueryCacheConfig
	logger *logging.StructuredLogger
}

var _ ResultCache = (*QueryCache)(nil)

// NewQueryCache connects to Redis and verifies the connection
func NewQueryCache(config *QueryCacheConfig, logger *logging.StructuredLogger) (*QueryCache, error) {
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "wfagent"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &QueryCache{
		client: client,
		config: config,
		logger: logger.WithComponent("query-cache"),
	}, nil
}

// Get returns a cached resolution if present
func (qc *QueryCache) Get(ctx context.Context, query string, opts Options) (*Resolution, bool) {
	data, err := qc.client.Get(ctx, qc.key(query, opts)).Bytes()
	if err != nil {
		if err != redis.Nil {
			qc.logger.Warn("Cache read failed", "error", err)
		}
		return nil, false
	}

	var res Resolution
	if err := json.Unmarshal(data, &res); err != nil {
		qc.logger.Warn("Cache entry corrupt, dropping", "error", err)
		qc.client.Del(ctx, qc.key(query, opts))
		return nil, false
	}
	return &res, true
}

// Set stores a resolution under the configured TTL
func (qc *QueryCache) Set(ctx context.Context, query string, opts Options, res *Resolution) {
	data, err := json.Marshal(res)
	if err != nil {
		qc.logger.Warn("Cache encode failed", "error", err)
		return
	}
	if err := qc.client.Set(ctx, qc.key(query, opts), data, qc.config.TTL).Err(); err != nil {
		qc.logger.Warn("Cache write failed", "error", err)
	}
}

// Invalidate drops all cached resolutions. Called after ingest so stale
// results never outlive a re-upload.
func (qc *QueryCache) Invalidate(ctx context.Context) {
	pattern := qc.config.KeyPrefix + ":resolve:*"
	iter := qc.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		qc.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		qc.logger.Warn("Cache invalidation incomplete", "error", err)
	}
}

// Ping verifies the Redis connection, for readiness probing
func (qc *QueryCache) Ping(ctx context.Context) error {
	return qc.client.Ping(ctx).Err()
}

// Close releases the Redis connection
func (qc *QueryCache) Close() error {
	return qc.client.Close()
}

// key folds in every option that changes the resolution, so an exact-only
// lookup never reads a cached semantic result for the same query.
func (qc *QueryCache) key(query string, opts Options) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%t|%d", query, opts.SetFile, opts.ExactOnly, opts.TopK)))
	return fmt.Sprintf("%s:resolve:%s", qc.config.KeyPrefix, hex.EncodeToString(sum[:16]))
}
