package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meetscribe/internal/models"
	"meetscribe/internal/redis"
)

const keyPrefix = "summary:result:"

// RedisStore keeps results in redis so any replica can serve the download.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}, nil
}

func (s *RedisStore) Save(ctx context.Context, result *models.SummaryResult) error {
	if result == nil || result.ID == "" {
		return errors.New("result id is required")
	}
	stored := result.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = stored.CreatedAt.Add(s.ttl)
	}
	ttl := stored.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+stored.ID, payload, ttl); err != nil {
		return fmt.Errorf("save result %s: %w", stored.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.SummaryResult, error) {
	payload, err := s.client.Get(ctx, keyPrefix+id)
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", id, err)
	}
	var result models.SummaryResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", id, err)
	}
	return &result, nil
}
