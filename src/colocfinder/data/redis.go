package data

import (
	"context"
	"log"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const streamEvents = "colocfinder.events"

// MustRedis connects to Redis from a URL like redis://127.0.0.1:6379/0.
func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// OptionalRedis connects when a URL is configured and returns nil
// otherwise. The event stream is optional; the pipeline runs fine
// without it.
func OptionalRedis(url string, logg *slog.Logger) *redis.Client {
	if url == "" {
		logg.Debug("redis not configured, event stream disabled")
		return nil
	}
	return MustRedis(url)
}

// PublishEvent appends an ingest or triage event to the event stream so
// other consumers can follow the pipeline. A nil client disables
// publishing.
func PublishEvent(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	if rdb == nil {
		return nil
	}
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEvents,
		Values: payload,
	}).Result()
	return err
}
