package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"prepost-assessment-service/internal/app"
)

const answerKeyKey = "assessment:answer-key"

// AnswerKeyCache caches the answer key in Redis and falls back to the
// question bank on a miss.
// The key is stored as: HSET assessment:answer-key {position} {correctOptionIndex}
type AnswerKeyCache struct {
	client *redis.Client
	bank   app.QuestionBank
	ttl    time.Duration
	sf     singleflight.Group
}

func NewAnswerKeyCache(client *redis.Client, bank app.QuestionBank, ttl time.Duration) *AnswerKeyCache {
	return &AnswerKeyCache{client: client, bank: bank, ttl: ttl}
}

func (c *AnswerKeyCache) CorrectAnswers(ctx context.Context) ([]int, error) {
	if key, ok := c.cached(ctx); ok {
		return key, nil
	}

	result, err, _ := c.sf.Do(answerKeyKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if key, ok := c.cached(ctx); ok {
			return key, nil
		}

		questions, err := c.bank.ActiveQuestions(ctx)
		if err != nil {
			return nil, err
		}
		key := make([]int, len(questions))
		fields := make(map[string]interface{}, len(questions))
		for i, q := range questions {
			key[i] = q.CorrectOptionIndex
			fields[strconv.Itoa(i)] = q.CorrectOptionIndex
		}
		if len(key) == 0 {
			return key, nil
		}

		pipe := c.client.TxPipeline()
		pipe.Del(ctx, answerKeyKey)
		pipe.HSet(ctx, answerKeyKey, fields)
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, answerKeyKey, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]int), nil
}

// Invalidate drops the cached key, e.g. after the bank was re-imported.
func (c *AnswerKeyCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, answerKeyKey).Err()
}

// cached rebuilds the key from the hash. A hash with gaps is treated as a miss.
func (c *AnswerKeyCache) cached(ctx context.Context) ([]int, bool) {
	fields, err := c.client.HGetAll(ctx, answerKeyKey).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	key := make([]int, len(fields))
	seen := 0
	for pos, val := range fields {
		i, err := strconv.Atoi(pos)
		if err != nil || i < 0 || i >= len(key) {
			return nil, false
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, false
		}
		key[i] = n
		seen++
	}
	return key, seen == len(key)
}

func (c *AnswerKeyCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
