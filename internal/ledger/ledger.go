// Package ledger persists one row per provider attempt so operators can
// audit routing decisions and spend after the fact.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/personagen/internal/store"
	"github.com/google/uuid"
)

// Attempt is one provider call made while serving a request.
type Attempt struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model,omitempty"`
	Success      bool      `json:"success"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LatencyMs    float64   `json:"latency_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProviderStats aggregates attempts for one provider.
type ProviderStats struct {
	Provider     string  `json:"provider"`
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// Ledger reads and writes provider attempts.
type Ledger struct {
	db *sql.DB
}

// Open runs the ledger migrations on s and returns a ledger backed by it.
func Open(ctx context.Context, s *store.SQLiteStore) (*Ledger, error) {
	if err := s.Migrate(ctx, component, migrations()); err != nil {
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: s.DB()}, nil
}

// Record inserts a. Missing ID and CreatedAt are filled in.
func (l *Ledger) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	success := 0
	if a.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO provider_attempts (
			id, request_id, provider, model, success, error_kind, error_message,
			latency_ms, input_tokens, output_tokens, cost, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.Provider, a.Model, success, a.ErrorKind, a.ErrorMessage,
		a.LatencyMs, a.InputTokens, a.OutputTokens, a.Cost, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, request_id, provider, model, success, error_kind, error_message,
		       latency_ms, input_tokens, output_tokens, cost, created_at
		FROM provider_attempts
		ORDER BY seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var success int
		if err := rows.Scan(
			&a.ID, &a.RequestID, &a.Provider, &a.Model, &success, &a.ErrorKind, &a.ErrorMessage,
			&a.LatencyMs, &a.InputTokens, &a.OutputTokens, &a.Cost, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Success = success != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// ForRequest returns the attempts made for one request, in attempt order.
func (l *Ledger) ForRequest(ctx context.Context, requestID string) ([]Attempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, request_id, provider, model, success, error_kind, error_message,
		       latency_ms, input_tokens, output_tokens, cost, created_at
		FROM provider_attempts
		WHERE request_id = ?
		ORDER BY seq ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var success int
		if err := rows.Scan(
			&a.ID, &a.RequestID, &a.Provider, &a.Model, &success, &a.ErrorKind, &a.ErrorMessage,
			&a.LatencyMs, &a.InputTokens, &a.OutputTokens, &a.Cost, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Success = success != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// ProviderSummary aggregates all recorded attempts per provider, sorted by name.
func (l *Ledger) ProviderSummary(ctx context.Context) ([]ProviderStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT provider,
		       COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(input_tokens + output_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM provider_attempts
		GROUP BY provider
		ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query provider summary: %w", err)
	}
	defer rows.Close()

	var out []ProviderStats
	for rows.Next() {
		var s ProviderStats
		if err := rows.Scan(&s.Provider, &s.Attempts, &s.Successes, &s.AvgLatencyMs, &s.TotalTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan provider summary: %w", err)
		}
		s.Failures = s.Attempts - s.Successes
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes attempts older than cutoff and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM provider_attempts WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return res.RowsAffected()
}
