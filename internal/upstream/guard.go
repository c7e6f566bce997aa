package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vnmchuo/bedrock-gateway/internal/provider"
	"github.com/vnmchuo/bedrock-gateway/internal/telemetry"
)

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = errors.New("provider temporarily unavailable")

type Config struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// consecutive failures before the breaker opens
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Guard protects a provider with a circuit breaker and retries transient
// failures. Stream calls are only retried while opening; once the first
// chunk is out nothing is replayed.
type Guard struct {
	provider provider.Provider
	breaker  *gobreaker.CircuitBreaker
	cfg      Config
}

func NewGuard(p provider.Provider, cfg Config) *Guard {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	name := p.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Caller-side problems should not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, provider.ErrInvalidRequest)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			telemetry.BreakerOpen.WithLabelValues(name).Set(open)
			logrus.WithFields(logrus.Fields{
				"provider":   name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("circuit breaker state changed")
		},
	}
	return &Guard{
		provider: p,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		cfg:      cfg,
	}
}

func (g *Guard) Name() string {
	return g.provider.Name()
}

func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

func (g *Guard) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	resp, err := retry(ctx, g, req.RequestID, func() (*provider.Response, error) {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return g.provider.Complete(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return result.(*provider.Response), nil
	})
	g.observe("complete", start, err)
	return resp, err
}

func (g *Guard) CompleteStream(ctx context.Context, req *provider.Request) (<-chan *provider.Chunk, error) {
	start := time.Now()
	ch, err := retry(ctx, g, req.RequestID, func() (<-chan *provider.Chunk, error) {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return g.provider.CompleteStream(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return result.(<-chan *provider.Chunk), nil
	})
	g.observe("stream", start, err)
	if err != nil {
		return nil, err
	}

	// Mid-stream failures still count against the breaker.
	wrapped := make(chan *provider.Chunk)
	go func() {
		defer close(wrapped)
		for chunk := range ch {
			if chunk.Err != nil {
				_, _ = g.breaker.Execute(func() (interface{}, error) {
					return nil, chunk.Err
				})
			}
			select {
			case wrapped <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return wrapped, nil
}

func retry[T any](ctx context.Context, g *Guard, requestID string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialInterval
	b.MaxInterval = g.cfg.MaxInterval

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return v, backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}
		if !errors.Is(err, provider.ErrTransient) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			telemetry.UpstreamRetries.WithLabelValues(g.Name()).Inc()
			logrus.WithFields(logrus.Fields{
				"provider":   g.Name(),
				"request_id": requestID,
				"backoff":    wait,
				"error":      err,
			}).Info("retrying upstream call after transient failure")
		}),
	)
	return v, err
}

func (g *Guard) observe(mode string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnavailable):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	telemetry.UpstreamLatency.WithLabelValues(g.Name(), mode, outcome).Observe(time.Since(start).Seconds())
}
