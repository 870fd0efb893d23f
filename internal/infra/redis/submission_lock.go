package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"live-challenge-service/internal/logger"
)

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// SubmissionLocker serializes grading per key across instances.
// A lock expires after ttl so a crashed grader cannot block a participant forever.
type SubmissionLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSubmissionLocker(client *redis.Client, ttl time.Duration) *SubmissionLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SubmissionLocker{client: client, ttl: ttl}
}

func (l *SubmissionLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	lockKey := "submission:lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	return func() {
		// the request context may already be done; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		deleted, err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Int()
		if err != nil {
			logger.Error().Err(err).Str("key", lockKey).Msg("submission lock release failed")
		} else if deleted == 0 {
			logger.Warn().Str("key", lockKey).Msg("submission lock expired before release")
		}
	}, true, nil
}
