package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/healer/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	// Open database connection
	db, err := sqlx.Open("sqlite3", dsn+sep+"_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	// One connection: SQLite has a single writer, and :memory: databases
	// exist per connection.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Attempt Operations
// =============================================================================

// attemptRow represents an attempt row in the database. The full attempt is
// kept as JSON in payload; the other columns exist for filtering.
type attemptRow struct {
	ID             string  `db:"id"`
	Trigger        string  `db:"trigger_source"`
	FaultType      string  `db:"fault_type"`
	Service        string  `db:"service"`
	Severity       string  `db:"severity"`
	FaultSignature string  `db:"fault_signature"`
	Status         string  `db:"status"`
	RootCause      string  `db:"root_cause"`
	Confidence     float64 `db:"confidence"`
	ActionCount    int     `db:"action_count"`
	Verified       *bool   `db:"verified"`
	ErrorMessage   string  `db:"error_message"`
	Payload        string  `db:"payload"`
	StartedAt      string  `db:"started_at"`
	FinishedAt     *string `db:"finished_at"`
}

func attemptToRow(a domain.HealingAttempt) (attemptRow, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return attemptRow{}, err
	}
	row := attemptRow{
		ID:             a.ID,
		Trigger:        string(a.Trigger),
		FaultType:      string(a.Fault.Type),
		Service:        a.Fault.Service,
		Severity:       string(a.Fault.Severity),
		FaultSignature: a.FaultSignature,
		Status:         string(a.Status),
		ActionCount:    len(a.ActionsTaken),
		ErrorMessage:   a.ErrorMessage,
		Payload:        string(payload),
		StartedAt:      a.StartedAt.UTC().Format(timeLayout),
	}
	if a.Analysis != nil {
		row.RootCause = a.Analysis.RootCause
		row.Confidence = a.Analysis.Confidence
	}
	if a.Verification != nil {
		v := a.Verification.Success
		row.Verified = &v
	}
	if a.FinishedAt != nil {
		s := a.FinishedAt.UTC().Format(timeLayout)
		row.FinishedAt = &s
	}
	return row, nil
}

func rowToAttempt(row attemptRow) (*domain.HealingAttempt, error) {
	var a domain.HealingAttempt
	if err := json.Unmarshal([]byte(row.Payload), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAttempt archives an attempt.
func (s *SQLiteStore) SaveAttempt(ctx context.Context, attempt domain.HealingAttempt) error {
	row, err := attemptToRow(attempt)
	if err != nil {
		return NewStoreError("SaveAttempt", "attempt", attempt.ID, "failed to serialize attempt", ErrInvalidData)
	}

	query := `
		INSERT INTO healing_attempts (
			id, trigger_source, fault_type, service, severity, fault_signature, status,
			root_cause, confidence, action_count, verified, error_message, payload,
			started_at, finished_at
		) VALUES (
			:id, :trigger_source, :fault_type, :service, :severity, :fault_signature, :status,
			:root_cause, :confidence, :action_count, :verified, :error_message, :payload,
			:started_at, :finished_at
		)`

	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: healing_attempts.id") {
			return NewStoreError("SaveAttempt", "attempt", attempt.ID, "attempt with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SaveAttempt", "attempt", attempt.ID, err.Error(), err)
	}
	return nil
}

// GetAttempt returns one archived attempt.
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*domain.HealingAttempt, error) {
	var row attemptRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM healing_attempts WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetAttempt", "attempt", id, "attempt not found", ErrNotFound)
		}
		return nil, NewStoreError("GetAttempt", "attempt", id, err.Error(), err)
	}

	a, err := rowToAttempt(row)
	if err != nil {
		return nil, NewStoreError("GetAttempt", "attempt", id, "failed to parse attempt", ErrInvalidData)
	}
	return a, nil
}

// ListAttempts returns archived attempts, newest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, opts ListOptions) ([]domain.HealingAttempt, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Signature != "" {
		where = append(where, "fault_signature = ?")
		args = append(args, opts.Signature)
	}

	query := `SELECT * FROM healing_attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []attemptRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListAttempts", "attempt", "", err.Error(), err)
	}

	attempts := make([]domain.HealingAttempt, 0, len(rows))
	for _, row := range rows {
		a, err := rowToAttempt(row)
		if err != nil {
			return nil, NewStoreError("ListAttempts", "attempt", row.ID, "failed to parse attempt", ErrInvalidData)
		}
		attempts = append(attempts, *a)
	}
	return attempts, nil
}

// CountByStatus counts archived attempts per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM healing_attempts GROUP BY status`)
	if err != nil {
		return nil, NewStoreError("CountByStatus", "attempt", "", err.Error(), err)
	}

	counts := make(map[domain.AttemptStatus]int, len(rows))
	for _, r := range rows {
		counts[domain.AttemptStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// DeleteBefore removes attempts started before t.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM healing_attempts WHERE started_at < ?`, t.UTC().Format(timeLayout))
	if err != nil {
		return 0, NewStoreError("DeleteBefore", "attempt", "", err.Error(), err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
