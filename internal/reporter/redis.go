package reporter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/born-ml/centernet/internal/config"
)

const defaultKeyPrefix = "centernet:valid"

// Redis stores scores in a hash keyed by run; fields are epoch numbers.
type Redis struct {
	rc  *redis.Client
	key string
}

// NewRedis returns a reporter writing to the server described by cfg.
func NewRedis(cfg config.RedisConfig, run string) *Redis {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(rc, cfg.Key, run)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rc *redis.Client, prefix, run string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{rc: rc, key: prefix + ":" + run}
}

// Key returns the hash the scores are written to.
func (r *Redis) Key() string { return r.key }

// Report sets field epoch of the run hash to score.
func (r *Redis) Report(ctx context.Context, epoch int, score float64) error {
	if err := r.rc.HSet(ctx, r.key, strconv.Itoa(epoch), score).Err(); err != nil {
		return fmt.Errorf("failed to store score in redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rc.Close()
}
