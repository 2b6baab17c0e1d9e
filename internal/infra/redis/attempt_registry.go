package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"prepost-assessment-service/internal/app"
)

// AttemptRegistry is a Redis-aware implementation of app.AttemptRegistry.
// Notes:
//   - Attempts themselves live in a local map; their timers and mutexes
//     cannot leave the process.
//   - Redis holds a marker per attempt, assessment:attempt:<key>, so
//     operators can see which keys are being worked on right now.
type AttemptRegistry struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	attempts map[string]*app.Attempt
}

func NewAttemptRegistry(client *redis.Client, ttl time.Duration) *AttemptRegistry {
	return &AttemptRegistry{
		client:   client,
		ttl:      ttl,
		attempts: make(map[string]*app.Attempt),
	}
}

func (r *AttemptRegistry) Put(attempt *app.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[attempt.Key()] = attempt
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(attempt.Key()), "1", r.markerTTL(attempt)).Err()
}

func (r *AttemptRegistry) Get(key string) (*app.Attempt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempt, ok := r.attempts[key]
	return attempt, ok
}

func (r *AttemptRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[key]; !ok {
		return
	}
	delete(r.attempts, key)
	_ = r.client.Del(context.Background(), r.key(key)).Err()
}

// markerTTL outlives the attempt's deadline so a crashed instance's markers expire.
func (r *AttemptRegistry) markerTTL(attempt *app.Attempt) time.Duration {
	if left := attempt.Remaining(); left+time.Minute > r.ttl {
		return left + time.Minute
	}
	return r.ttl
}

func (r *AttemptRegistry) key(attemptKey string) string {
	return "assessment:attempt:" + attemptKey
}
