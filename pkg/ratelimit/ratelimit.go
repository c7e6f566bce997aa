package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the accounting period for tokens-per-minute limits.
const Window = time.Minute

// Limiter meters estimated tokens per API key on top of
// github.com/vnmchuo/ratelimiter. A nil *Limiter allows everything.
//
// Keys carry their own tokens-per-minute budget; one store is kept per
// distinct budget since the library fixes the limit at construction.
type Limiter struct {
	defaultTPM int64
	newStore   func(tpm int64) extratelimit.Limiter

	mu     sync.Mutex
	stores map[int64]extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	return NewLimiterFunc(defaultTPM, func(tpm int64) extratelimit.Limiter {
		return extratelimit.NewRedisStore(rdb,
			extratelimit.WithLimit(int(tpm)),
			extratelimit.WithWindow(Window),
		)
	})
}

// NewTestLimiter routes every key, whatever its budget, to store.
func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return NewLimiterFunc(1, func(int64) extratelimit.Limiter { return store })
}

// NewLimiterFunc builds a limiter whose per-budget stores come from newStore.
func NewLimiterFunc(defaultTPM int64, newStore func(tpm int64) extratelimit.Limiter) *Limiter {
	return &Limiter{
		defaultTPM: defaultTPM,
		newStore:   newStore,
		stores:     make(map[int64]extratelimit.Limiter),
	}
}

func key(keyID string) string {
	return fmt.Sprintf("ratelimit:key:%s", keyID)
}

// storeFor returns the store enforcing tpm; zero or negative means the
// default budget.
func (l *Limiter) storeFor(tpm int64) extratelimit.Limiter {
	if tpm <= 0 {
		tpm = l.defaultTPM
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	store, ok := l.stores[tpm]
	if !ok {
		store = l.newStore(tpm)
		l.stores[tpm] = store
	}
	return store
}

// Allow charges tokens to keyID against its per-minute budget tpm.
func (l *Limiter) Allow(ctx context.Context, keyID string, tpm int64, tokens int) (bool, error) {
	if l == nil {
		return true, nil
	}
	res, err := l.storeFor(tpm).AllowN(ctx, key(keyID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, keyID string, tpm int64) (*extratelimit.Result, error) {
	if l == nil {
		return &extratelimit.Result{Allowed: true}, nil
	}
	return l.storeFor(tpm).Status(ctx, key(keyID))
}

// RetryAfter is the value sent in the Retry-After header on rejection.
func RetryAfter() string {
	return fmt.Sprintf("%d", int(Window.Seconds()))
}

// EstimateTokens approximates the cost of a request before it runs:
// prompt characters / 4 plus the completion budget.
func EstimateTokens(promptChars, maxTokens int) int {
	n := promptChars/4 + maxTokens
	if n <= 0 {
		return 1
	}
	return n
}
