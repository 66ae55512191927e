package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maneesh/musicbox/internal/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCacheTTL is the time-to-live for cached blob manifests
const DefaultCacheTTL = 5 * time.Minute

// RedisClient caches blob manifests. Manifests are immutable so entries are
// never invalidated, only expired.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient initializes a new Redis client and pings it
func NewRedisClient(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisClient{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

func manifestKey(blobID string) string {
	return fmt.Sprintf("blob:%s", blobID)
}

// GetManifest returns the cached manifest, or nil on a miss
func (rc *RedisClient) GetManifest(ctx context.Context, blobID string) (*models.Manifest, error) {
	ctx, span := tracer.Start(ctx, "redis.get_manifest",
		trace.WithAttributes(
			attribute.String("blob_id", blobID),
		),
	)
	defer span.End()

	data, err := rc.client.Get(ctx, manifestKey(blobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.String("cache_status", "miss"))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached manifest: %w", err)
	}

	span.SetAttributes(attribute.String("cache_status", "hit"))
	return &m, nil
}

// SetManifest stores a manifest with the configured TTL
func (rc *RedisClient) SetManifest(ctx context.Context, m *models.Manifest) error {
	ctx, span := tracer.Start(ctx, "redis.set_manifest",
		trace.WithAttributes(
			attribute.String("blob_id", m.Blob.ID),
		),
	)
	defer span.End()

	data, err := json.Marshal(m)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := rc.client.Set(ctx, manifestKey(m.Blob.ID), data, rc.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}
