package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type mockStore struct {
	allowed bool
	err     error
	lastKey string
	lastN   int
}

func (m *mockStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.lastKey, m.lastN = key, n
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *mockStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	m.lastKey = key
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func TestLimiter_Allow(t *testing.T) {
	store := &mockStore{allowed: true}
	l := NewTestLimiter(store)

	ok, err := l.Allow(context.Background(), "k1", 0, 300)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ratelimit:key:k1", store.lastKey)
	assert.Equal(t, 300, store.lastN)
}

func TestLimiter_Denied(t *testing.T) {
	l := NewTestLimiter(&mockStore{allowed: false})

	ok, err := l.Allow(context.Background(), "k1", 0, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimiter_StoreError(t *testing.T) {
	l := NewTestLimiter(&mockStore{err: errors.New("redis down")})

	ok, err := l.Allow(context.Background(), "k1", 0, 1)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestLimiter_Nil(t *testing.T) {
	var l *Limiter

	ok, err := l.Allow(context.Background(), "k1", 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := l.Status(context.Background(), "k1", 0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiter_PerKeyBudget(t *testing.T) {
	built := map[int64]*mockStore{}
	l := NewLimiterFunc(1000, func(tpm int64) extratelimit.Limiter {
		s := &mockStore{allowed: true}
		built[tpm] = s
		return s
	})
	ctx := context.Background()

	_, err := l.Allow(ctx, "default-key", 0, 10)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "big-key", 50000, 20)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "other-default", 1000, 30)
	require.NoError(t, err)

	require.Len(t, built, 2, "keys with the same budget share a store")
	assert.Equal(t, "ratelimit:key:big-key", built[50000].lastKey)
	assert.Equal(t, 20, built[50000].lastN)
	assert.Equal(t, "ratelimit:key:other-default", built[1000].lastKey)

	_, err = l.Status(ctx, "big-key", 50000)
	require.NoError(t, err)
	assert.Len(t, built, 2)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 2048+25, EstimateTokens(100, 2048))
	assert.Equal(t, 1, EstimateTokens(0, 0))
	assert.Equal(t, "60", RetryAfter())
}
