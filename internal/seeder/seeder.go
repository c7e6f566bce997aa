package seeder

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/vnmchuo/bedrock-gateway/internal/auth"
)

const SeedOwner = "seed"

// SeedAPIKey stores key in the key store if it is not already there.
// The raw key is never logged.
func SeedAPIKey(ctx context.Context, store auth.Store, key string, rateLimit int64) error {
	if key == "" {
		return errors.New("seeder: empty api key")
	}

	apiKey := &auth.APIKey{
		Owner:     SeedOwner,
		KeyHash:   auth.HashKey(key),
		RateLimit: rateLimit,
		Active:    true,
	}

	err := store.Create(ctx, apiKey)
	if errors.Is(err, auth.ErrKeyExists) {
		logrus.Info("seeder: api key already present, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"key_id": apiKey.ID,
		"owner":  apiKey.Owner,
	}).Info("seeder: api key created")
	return nil
}
