package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const reportKeyPrefix = "scan:report:"

type Client struct {
	client    *redis.Client
	reportTTL time.Duration
	logger    *zap.Logger
}

func NewClient(host string, port int, password string, db int, reportTTL time.Duration, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)), zap.Duration("report_ttl", reportTTL))

	return &Client{client: client, reportTTL: reportTTL, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetReportID remembers which stored report a paste produced.
func (c *Client) SetReportID(ctx context.Context, contentHash, id string) error {
	err := c.client.Set(ctx, reportKeyPrefix+contentHash, id, c.reportTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set report cache: %w", err)
	}

	c.logger.Debug("Report id cached", zap.String("content_hash", contentHash), zap.Duration("ttl", c.reportTTL))
	return nil
}

func (c *Client) GetReportID(ctx context.Context, contentHash string) (string, bool, error) {
	id, err := c.client.Get(ctx, reportKeyPrefix+contentHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get report cache: %w", err)
	}

	c.logger.Debug("Report cache hit", zap.String("content_hash", contentHash))
	return id, true, nil
}

// InvalidateReports drops every cached paste mapping.
func (c *Client) InvalidateReports(ctx context.Context) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, reportKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	c.logger.Info("Report cache invalidated", zap.Int("removed", removed))
	return removed, nil
}
