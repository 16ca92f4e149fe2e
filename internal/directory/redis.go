package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNameTTL is how long a remembered channel name stays cached.
const DefaultNameTTL = 30 * 24 * time.Hour

const keyPrefix = "voicestats:channel:"

// RedisDirectory caches channel names in Redis so that timelines can label
// channels the gateway no longer reports, such as deleted ones.
type RedisDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDirectory creates a directory backed by client. A non-positive ttl
// uses DefaultNameTTL.
func NewRedisDirectory(client *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultNameTTL
	}
	return &RedisDirectory{client: client, ttl: ttl}
}

func channelKey(serverID, channelID string) string {
	return keyPrefix + serverID + ":" + channelID
}

// Remember stores the channel's current name and refreshes its TTL.
func (d *RedisDirectory) Remember(ctx context.Context, serverID, channelID, name string) error {
	if name == "" {
		return nil
	}
	if err := d.client.Set(ctx, channelKey(serverID, channelID), name, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to remember channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelName returns the remembered name or ErrUnknownChannel.
func (d *RedisDirectory) ChannelName(ctx context.Context, serverID, channelID string) (string, error) {
	name, err := d.client.Get(ctx, channelKey(serverID, channelID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownChannel
	}
	if err != nil {
		return "", fmt.Errorf("failed to read channel %s: %w", channelID, err)
	}
	return name, nil
}

// HealthCheck pings Redis.
func (d *RedisDirectory) HealthCheck(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
