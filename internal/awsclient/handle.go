package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"
)

// Factory builds a client for a region.
type Factory[T any] func(ctx context.Context, region string) (T, error)

// Handle owns a lazily constructed client that can be swapped at runtime.
// Callers holding a client obtained from Get keep using it after a Rebuild.
type Handle[T any] struct {
	name    string
	factory Factory[T]

	mu     sync.RWMutex
	client T
	region string
	built  bool
}

func NewHandle[T any](name, region string, factory Factory[T]) *Handle[T] {
	return &Handle[T]{
		name:    name,
		factory: factory,
		region:  region,
	}
}

// Get returns the current client, building it on first use.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	h.mu.RLock()
	if h.built {
		c := h.client
		h.mu.RUnlock()
		return c, nil
	}
	region := h.region
	h.mu.RUnlock()

	c, err := h.factory(ctx, region)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("build %s client: %w", h.name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Another caller may have won the race, or a Rebuild may have landed.
	if h.built {
		return h.client, nil
	}
	h.client = c
	h.built = true
	return c, nil
}

// Rebuild constructs a new client for region and swaps it in. An empty region
// keeps the current one.
func (h *Handle[T]) Rebuild(ctx context.Context, region string) error {
	h.mu.RLock()
	if region == "" {
		region = h.region
	}
	h.mu.RUnlock()

	c, err := h.factory(ctx, region)
	if err != nil {
		return fmt.Errorf("rebuild %s client: %w", h.name, err)
	}

	h.mu.Lock()
	h.client = c
	h.region = region
	h.built = true
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"client": h.name,
		"region": region,
	}).Info("AWS client rebuilt")
	return nil
}

func (h *Handle[T]) Region() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.region
}

// LoadConfig resolves the default AWS credential chain for region.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
