package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"docqa/internal/model"
)

const answerKeyPrefix = "docqa:answer:"

type AnswerCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redisv9.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AnswerCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *AnswerCache) GetAnswer(ctx context.Context, key string) (*model.Answer, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get answer failed: %w", err)
	}

	var answer model.Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached answer failed: %w", err)
	}
	return &answer, true, nil
}

func (c *AnswerCache) SetAnswer(ctx context.Context, key string, answer *model.Answer) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer failed: %w", err)
	}
	return nil
}

func (c *AnswerCache) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return answerKeyPrefix + hex.EncodeToString(sum[:])
}
