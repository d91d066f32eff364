package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/caseledger/pkg/event"
)

// Dialect holds the statements that differ between SQL engines.
type Dialect struct {
	Name        string
	schema      []string
	placeholder func(n int) string
}

// DialectSQLite targets modernc.org/sqlite.
var DialectSQLite = Dialect{
	Name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS case_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			case_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			appended_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS case_events_case_id ON case_events (case_id, seq)`,
	},
	placeholder: func(int) string { return "?" },
}

// DialectPostgres targets github.com/lib/pq.
var DialectPostgres = Dialect{
	Name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS case_events (
			seq BIGSERIAL PRIMARY KEY,
			case_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			appended_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS case_events_case_id ON case_events (case_id, seq)`,
	},
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
}

// SQLStore keeps the ledger in a case_events table, one row per record,
// ordered by an auto-incrementing sequence. The payload column holds the
// record exactly as the file backend would write it.
//
// The (case_id, seq) index lets ReadCase avoid a full scan; it returns the
// same records in the same order as filtering ReadAll.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	clock   func() time.Time
}

// NewSQLStore wraps an open database. Call Init before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  defaultLogger().With("backend", dialect.Name),
		clock:   time.Now,
	}
}

// WithLogger overrides the logger used for skipped-row diagnostics.
func (s *SQLStore) WithLogger(l *slog.Logger) *SQLStore {
	s.logger = l
	return s
}

// WithClock overrides the clock stamping appended_at, for testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

// Init creates the table and index if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate %s ledger: %v", ErrUnavailable, s.dialect.Name, err)
		}
	}
	return nil
}

// Append inserts rec as a single row.
func (s *SQLStore) Append(ctx context.Context, rec event.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`INSERT INTO case_events (case_id, payload, appended_at) VALUES (%s, %s, %s)`,
		s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3),
	)
	payload := strings.TrimSuffix(string(line), "\n")
	appendedAt := s.clock().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, query, rec.CaseID(), payload, appendedAt); err != nil {
		return fmt.Errorf("%w: insert ledger row: %v", ErrUnavailable, err)
	}
	return nil
}

// ReadAll returns every row in sequence order.
func (s *SQLStore) ReadAll(ctx context.Context) (*Scan, error) {
	return s.query(ctx, `SELECT seq, payload FROM case_events ORDER BY seq`)
}

// ReadCase returns the rows of one case in sequence order.
func (s *SQLStore) ReadCase(ctx context.Context, caseID string) (*Scan, error) {
	query := fmt.Sprintf(
		`SELECT seq, payload FROM case_events WHERE case_id = %s ORDER BY seq`,
		s.dialect.placeholder(1),
	)
	return s.query(ctx, query, caseID)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*Scan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query ledger: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	scan := &Scan{Exists: true}
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan ledger row: %v", ErrUnavailable, err)
		}
		if strings.TrimSpace(payload) == "" {
			continue
		}
		scan.add(seq, []byte(payload), s.logger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate ledger rows: %v", ErrUnavailable, err)
	}
	return scan, nil
}
