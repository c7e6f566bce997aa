package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Log(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO request_logs (key_id, request_id, model, stream, status, response_chars, input_tokens, output_tokens, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.KeyID, rec.RequestID, rec.Model, rec.Stream, rec.Status,
		rec.ResponseChars, rec.InputTokens, rec.OutputTokens, rec.LatencyMs,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log request: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByKey(ctx context.Context, keyID string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, key_id, request_id, model, stream, status, response_chars, input_tokens, output_tokens, latency_ms, created_at
		FROM request_logs
		WHERE key_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, keyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query request logs: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.KeyID, &r.RequestID, &r.Model, &r.Stream, &r.Status,
			&r.ResponseChars, &r.InputTokens, &r.OutputTokens, &r.LatencyMs, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request log: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request logs: %w", err)
	}

	return records, nil
}
