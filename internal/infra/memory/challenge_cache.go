package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"live-challenge-service/internal/domain"
)

// ChallengeLoader fetches challenges from the backing store.
type ChallengeLoader interface {
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
}

// ChallengeCache caches challenges with TTL to avoid a store hit per submission.
type ChallengeCache struct {
	loader ChallengeLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedChallenge
	// gens is bumped by Invalidate; a load only fills the cache if its id's
	// generation did not move while it was reading the store.
	gens map[string]uint64
}

type cachedChallenge struct {
	challenge domain.Challenge
	expiresAt time.Time
}

func NewChallengeCache(loader ChallengeLoader, ttl time.Duration) *ChallengeCache {
	return &ChallengeCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedChallenge),
		gens:   make(map[string]uint64),
	}
}

func (c *ChallengeCache) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	if challenge, ok := c.lookup(id); ok {
		return challenge, nil
	}

	result, err, _ := c.sf.Do(id, func() (interface{}, error) {
		if challenge, ok := c.lookup(id); ok {
			return challenge, nil
		}

		c.mu.RLock()
		gen := c.gens[id]
		c.mu.RUnlock()

		challenge, err := c.loader.GetChallenge(ctx, id)
		if err != nil {
			return domain.Challenge{}, err
		}

		c.mu.Lock()
		if c.gens[id] == gen {
			c.cache[id] = cachedChallenge{
				challenge: challenge,
				expiresAt: c.clock().Add(c.ttlWithJitter()),
			}
		}
		c.mu.Unlock()
		return challenge, nil
	})
	if err != nil {
		return domain.Challenge{}, err
	}
	return result.(domain.Challenge), nil
}

// Invalidate drops a cached challenge so the next read goes to the store.
// A load already in flight still returns to its callers but is not cached.
func (c *ChallengeCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.gens[id]++
	c.mu.Unlock()
	c.sf.Forget(id)
}

func (c *ChallengeCache) lookup(id string) (domain.Challenge, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[id]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Challenge{}, false
	}
	return entry.challenge, true
}

// ttlWithJitter must be called with mu held; rand.Rand is not safe for concurrent use.
func (c *ChallengeCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
