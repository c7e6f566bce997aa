package audit

import (
	"context"
	"time"
)

const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// Record is one served completion. Prompt and response text are not stored.
type Record struct {
	ID            string    `json:"id"`
	KeyID         string    `json:"key_id"`
	RequestID     string    `json:"request_id"`
	Model         string    `json:"model"`
	Stream        bool      `json:"stream"`
	Status        string    `json:"status"`
	ResponseChars int       `json:"response_chars"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

type Store interface {
	Log(ctx context.Context, rec *Record) error
	ListByKey(ctx context.Context, keyID string, from, to time.Time) ([]*Record, error)
}

// NopStore discards records. Used when no database is configured.
type NopStore struct{}

func (NopStore) Log(ctx context.Context, rec *Record) error { return nil }

func (NopStore) ListByKey(ctx context.Context, keyID string, from, to time.Time) ([]*Record, error) {
	return []*Record{}, nil
}
