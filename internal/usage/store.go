package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one model call's journal entry.
type Record struct {
	ID               string
	Timestamp        time.Time
	Model            string
	Task             string // task label, empty for ad-hoc runs
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Store is an append-only SQLite journal of usage records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database, running migrations on first use.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Open opens (or creates) the journal at the given path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id                TEXT PRIMARY KEY,
		timestamp         TEXT NOT NULL,
		model             TEXT NOT NULL,
		task              TEXT,
		prompt_tokens     INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists one entry. An empty ID gets a UUIDv7; a zero
// timestamp gets now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, model, task, prompt_tokens, completion_tokens, total_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Model,
		rec.Task,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns per-model totals for records at or after since.
func (s *Store) Summary(ctx context.Context, since time.Time) (map[string]Totals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model,
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		 FROM usage_records
		 WHERE timestamp >= ?
		 GROUP BY model
		 ORDER BY SUM(total_tokens) DESC`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Totals)
	for rows.Next() {
		var model string
		var t Totals
		if err := rows.Scan(&model, &t.Prompt, &t.Completion, &t.Total); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		result[model] = t
	}
	return result, rows.Err()
}
