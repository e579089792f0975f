// Package cache holds the Redis read-through cache for group message
// history. A miss falls through to the message store; writes and group
// deletion invalidate the key. Cache failures degrade to the store — they
// are logged, never surfaced.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/talmuskatel1/ChatServer/internal/models"
	"go.uber.org/zap"
)

const historyPrefix = "history:"

type HistoryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewClient parses a redis:// URL and returns a connected client.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewHistoryCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *HistoryCache {
	return &HistoryCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached history for a group and whether it was a hit.
func (c *HistoryCache) Get(ctx context.Context, groupID uuid.UUID) ([]models.Message, bool) {
	data, err := c.client.Get(ctx, historyPrefix+groupID.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("history cache get failed", zap.Error(err))
		}
		return nil, false
	}

	var messages []models.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		c.logger.Warn("history cache unmarshal failed", zap.Error(err))
		return nil, false
	}
	return messages, true
}

func (c *HistoryCache) Set(ctx context.Context, groupID uuid.UUID, messages []models.Message) {
	data, err := json.Marshal(messages)
	if err != nil {
		c.logger.Warn("history cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, historyPrefix+groupID.String(), data, c.ttl).Err(); err != nil {
		c.logger.Warn("history cache set failed", zap.Error(err))
	}
}

// Invalidate drops the cached history for a group. Called after every
// append and when the group is deleted.
func (c *HistoryCache) Invalidate(ctx context.Context, groupID uuid.UUID) {
	if err := c.client.Del(ctx, historyPrefix+groupID.String()).Err(); err != nil {
		c.logger.Warn("history cache invalidate failed", zap.Error(err))
	}
}
