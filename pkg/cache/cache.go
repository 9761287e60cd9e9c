// pkg/cache/cache.go

package cache

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dedup suppresses repeated enrichment of the same entity within a TTL.
// Automated enrichment can trigger several times in quick succession for
// one observable (creation, indicator promotion, manual run); each run is
// expensive and produces identical bundles.
type Dedup struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Dedup, error) {
	if cfg.Addr == "" {
		return nil, cerr.New("cache: Redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, cerr.Wrap(err, "cache: pinging Redis")
	}
	return &Dedup{client: client, ttl: cfg.TTL, log: log}, nil
}

// Seen reports whether the entity was marked as enriched within the TTL.
// Read-only: a run that fails must not suppress retries, so marking is a
// separate step taken after the bundle is pushed.
func (d *Dedup) Seen(ctx context.Context, entityID string) (bool, error) {
	n, err := d.client.Exists(ctx, "wazuh-opencti:enriched:"+entityID).Result()
	if err != nil {
		return false, cerr.Wrap(err, "cache: checking entity")
	}
	return n > 0, nil
}

// Mark records the entity as enriched for the TTL.
func (d *Dedup) Mark(ctx context.Context, entityID string) error {
	if err := d.client.Set(ctx, "wazuh-opencti:enriched:"+entityID, 1, d.ttl).Err(); err != nil {
		return cerr.Wrap(err, "cache: marking entity")
	}
	return nil
}

// Forget drops the dedup mark, forcing the next enrichment to run.
func (d *Dedup) Forget(ctx context.Context, entityID string) error {
	return d.client.Del(ctx, "wazuh-opencti:enriched:"+entityID).Err()
}

// Close releases the Redis connection.
func (d *Dedup) Close() error {
	return d.client.Close()
}
