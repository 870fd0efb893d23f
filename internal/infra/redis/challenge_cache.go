package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-challenge-service/internal/domain"
	"live-challenge-service/internal/logger"
)

// ChallengeLoader fetches challenges from the backing store on a cache miss.
type ChallengeLoader interface {
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
}

// fillScript stores the loaded copy only if no Invalidate ran since the load began.
//
//	KEYS[1] challenge:{id}  KEYS[2] challenge:{id}:gen
//	ARGV[1] json  ARGV[2] generation read before loading  ARGV[3] ttl in ms (0 = no expiry)
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[2] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// ChallengeCache keeps a JSON copy of each challenge in Redis so that every
// instance serves submissions from the same cached definition.
//
//	SET challenge:{id} <json> PX ttl
//	INCR challenge:{id}:gen  on every invalidation
type ChallengeCache struct {
	client *redis.Client
	loader ChallengeLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewChallengeCache(client *redis.Client, loader ChallengeLoader, ttl time.Duration) *ChallengeCache {
	return &ChallengeCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ChallengeCache) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	if challenge, ok := c.lookup(ctx, id); ok {
		return challenge, nil
	}

	result, err, _ := c.sf.Do(id, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if challenge, ok := c.lookup(ctx, id); ok {
			return challenge, nil
		}

		gen, genErr := c.client.Get(ctx, genKey(id)).Int64()
		if errors.Is(genErr, redis.Nil) {
			gen, genErr = 0, nil
		}

		challenge, err := c.loader.GetChallenge(ctx, id)
		if err != nil {
			return domain.Challenge{}, err
		}
		if genErr != nil {
			logger.Warn().Err(genErr).Str("challengeId", id).Msg("challenge cache generation read failed")
			return challenge, nil
		}

		raw, err := json.Marshal(challenge)
		if err == nil {
			err = fillScript.Run(ctx, c.client, []string{key(id), genKey(id)},
				raw, strconv.FormatInt(gen, 10), c.ttlWithJitter().Milliseconds()).Err()
		}
		if err != nil {
			logger.Warn().Err(err).Str("challengeId", id).Msg("challenge cache fill failed")
		}
		return challenge, nil
	})
	if err != nil {
		return domain.Challenge{}, err
	}
	return result.(domain.Challenge), nil
}

// Invalidate deletes the cached copy and bumps the generation so a load that
// started earlier cannot write its copy back.
func (c *ChallengeCache) Invalidate(ctx context.Context, id string) {
	c.sf.Forget(id)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key(id))
		pipe.Incr(ctx, genKey(id))
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("challengeId", id).Msg("challenge cache invalidation failed")
	}
}

// lookup treats any Redis failure as a miss so the store stays authoritative.
func (c *ChallengeCache) lookup(ctx context.Context, id string) (domain.Challenge, bool) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn().Err(err).Str("challengeId", id).Msg("challenge cache read failed")
		}
		return domain.Challenge{}, false
	}
	var challenge domain.Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return domain.Challenge{}, false
	}
	return challenge, true
}

func (c *ChallengeCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func key(id string) string {
	return "challenge:" + id
}

func genKey(id string) string {
	return key(id) + ":gen"
}
