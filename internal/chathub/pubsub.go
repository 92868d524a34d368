package chathub

import (
	"context"
	"encoding/json"
	"fmt"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// DeliveryChannel is the Redis channel a relay process listens on for one connection.
func DeliveryChannel(prefix, connectionID string) string {
	return prefix + "deliver:" + connectionID
}

// RedisDeliverer delivers through Redis pub/sub so that any relay process can reach a
// connection held by another. A publish nobody receives means the peer is gone.
type RedisDeliverer struct {
	Redis  *redis.Client
	Prefix string
}

var _ Deliverer = (*RedisDeliverer)(nil)

// NewRedisDeliverer creates a RedisDeliverer using the same key prefix as the registry.
func NewRedisDeliverer(rdb *redis.Client, prefix string) *RedisDeliverer {
	return &RedisDeliverer{Redis: rdb, Prefix: prefix}
}

func (r *RedisDeliverer) Deliver(ctx context.Context, connectionID string, d models.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	receivers, err := r.Redis.Publish(ctx, DeliveryChannel(r.Prefix, connectionID), payload).Result()
	if err != nil {
		return apperr.Transient(connectionID, err)
	}
	if receivers == 0 {
		return apperr.PeerGone(connectionID, errNoListener)
	}
	return nil
}
