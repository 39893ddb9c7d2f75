// Package archive persists completed exchanges to SQLite. The in-memory
// conversation store is ephemeral; the archive is the durable
// record for review and follow-up.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Exchange is one archived inbound/reply pair with its run accounting.
type Exchange struct {
	ID            string    `json:"id"`
	IdentityID    string    `json:"identity_id"`
	Specialist    string    `json:"specialist"`
	Inbound       string    `json:"inbound"`
	Reply         string    `json:"reply"`
	Iterations    int       `json:"iterations"`
	ToolsCalled   int       `json:"tools_called"`
	Exhausted     bool      `json:"exhausted"`
	ExhaustReason string    `json:"exhaust_reason,omitempty"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the append-only exchange archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	return New(db)
}

// New creates a store over an existing database connection and runs
// migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS exchanges (
			id             TEXT PRIMARY KEY,
			identity_id    TEXT NOT NULL,
			specialist     TEXT NOT NULL,
			inbound        TEXT NOT NULL,
			reply          TEXT NOT NULL,
			iterations     INTEGER NOT NULL,
			tools_called   INTEGER NOT NULL,
			exhausted      BOOLEAN NOT NULL DEFAULT 0,
			exhaust_reason TEXT,
			input_tokens   INTEGER NOT NULL,
			output_tokens  INTEGER NOT NULL,
			duration_ms    INTEGER NOT NULL,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_exchanges_identity
			ON exchanges(identity_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_exchanges_created
			ON exchanges(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_exchanges_specialist
			ON exchanges(specialist);
	`)
	return err
}

// Record appends one exchange.
func (s *Store) Record(e *Exchange) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO exchanges (
			id, identity_id, specialist, inbound, reply,
			iterations, tools_called, exhausted, exhaust_reason,
			input_tokens, output_tokens, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IdentityID, e.Specialist, e.Inbound, e.Reply,
		e.Iterations, e.ToolsCalled, e.Exhausted, e.ExhaustReason,
		e.InputTokens, e.OutputTokens, e.DurationMs,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// ForIdentity returns an identity's exchanges, newest first. If limit
// is 0, all records are returned.
func (s *Store) ForIdentity(identityID string, limit int) ([]*Exchange, error) {
	query := `
		SELECT id, identity_id, specialist, inbound, reply,
			iterations, tools_called, exhausted, exhaust_reason,
			input_tokens, output_tokens, duration_ms, created_at
		FROM exchanges WHERE identity_id = ? ORDER BY created_at DESC`
	args := []any{identityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of archived exchanges.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exchanges`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanExchange(rows *sql.Rows) (*Exchange, error) {
	var e Exchange
	var exhaustReason sql.NullString
	var createdAt string

	err := rows.Scan(
		&e.ID, &e.IdentityID, &e.Specialist, &e.Inbound, &e.Reply,
		&e.Iterations, &e.ToolsCalled, &e.Exhausted, &exhaustReason,
		&e.InputTokens, &e.OutputTokens, &e.DurationMs, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	e.ExhaustReason = exhaustReason.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}
