package db

import (
	"context"

	"github.com/redis/go-redis/v9"

	"jobinsight/discovery-service/internal/errors"
)

// NewRedisClient parses redisURL and verifies connectivity. The client
// publishes notifications, holds the sweep lock and receives triggers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrapf(err, "redis.ParseURL(%q)", redisURL)
	}

	if opts.ClientName == "" {
		opts.ClientName = "discovery-service"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WithHint(errors.Wrap(err, "redis ping failed"),
			"REDIS_URL may be left empty with STORE_DRIVER=memory")
	}

	return client, nil
}
