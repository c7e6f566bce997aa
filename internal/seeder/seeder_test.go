package seeder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/bedrock-gateway/internal/auth"
)

func TestSeedAPIKey(t *testing.T) {
	store := auth.NewStaticStore(nil)
	ctx := context.Background()

	require.NoError(t, SeedAPIKey(ctx, store, "seed-key", 500))

	k, err := store.GetByKey(ctx, "seed-key")
	require.NoError(t, err)
	assert.Equal(t, SeedOwner, k.Owner)
	assert.Equal(t, int64(500), k.RateLimit)

	// second run is a no-op
	assert.NoError(t, SeedAPIKey(ctx, store, "seed-key", 500))
}

func TestSeedAPIKey_Empty(t *testing.T) {
	assert.Error(t, SeedAPIKey(context.Background(), auth.NewStaticStore(nil), "", 0))
}
