package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/internal/metrics"
	"github.com/lodeworks/backend/internal/storage/models"
	"github.com/lodeworks/backend/pkg/logger"
)

const (
	embeddingTTL  = 7 * 24 * time.Hour
	tokenomicsTTL = 30 * time.Second
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, embeddingTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	metrics.CacheHits.WithLabelValues("embedding").Inc()
	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

func (c *Client) SetTokenomics(ctx context.Context, agg *models.TokenomicsAggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	err = c.client.Set(ctx, "tokenomics:totals", data, tokenomicsTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set tokenomics cache: %w", err)
	}

	return nil
}

func (c *Client) GetTokenomics(ctx context.Context) (*models.TokenomicsAggregate, bool, error) {
	data, err := c.client.Get(ctx, "tokenomics:totals").Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("tokenomics").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get tokenomics cache: %w", err)
	}

	var agg models.TokenomicsAggregate
	err = json.Unmarshal(data, &agg)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal aggregate: %w", err)
	}

	metrics.CacheHits.WithLabelValues("tokenomics").Inc()
	return &agg, true, nil
}

func (c *Client) InvalidateTokenomics(ctx context.Context) error {
	err := c.client.Del(ctx, "tokenomics:totals").Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to invalidate tokenomics cache: %w", err)
	}
	return nil
}
