// Package store provides storage backends for the speaker.
//
// This file implements a PostgreSQL-backed store for fleet deployments that
// centralise device state.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 5
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveDialogState stores or updates the live dialog snapshot of a stream.
func (s *PostgresStore) SaveDialogState(state models.DialogState) error {
	query := `
		INSERT INTO dialog_states (` + dialogStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stream)
		DO UPDATE SET
			dialog_id = EXCLUDED.dialog_id,
			kind = EXCLUDED.kind,
			state = EXCLUDED.state,
			data = EXCLUDED.data,
			deadline = EXCLUDED.deadline,
			updated_at = EXCLUDED.updated_at`

	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = now
	}

	_, err := s.db.Exec(query, state.Stream, state.DialogID, state.Kind, state.State,
		nilIfEmpty(state.Data), nilIfZero(state.Deadline), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveDialogState failed", "error", err, "stream", state.Stream, "dialogID", state.DialogID)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.Stream, err)
	}
	slog.Debug("PostgresStore SaveDialogState succeeded", "stream", state.Stream, "dialogID", state.DialogID, "state", state.State)
	return nil
}

// GetDialogState returns the snapshot of a stream, or nil when there is none.
func (s *PostgresStore) GetDialogState(stream string) (*models.DialogState, error) {
	row := s.db.QueryRow(`SELECT `+dialogStateColumns+` FROM dialog_states WHERE stream = $1`, stream)
	state, err := scanDialogState(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetDialogState not found", "stream", stream)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDialogState failed", "error", err, "stream", stream)
		return nil, fmt.Errorf("failed to get dialog state for %s: %w", stream, err)
	}
	return &state, nil
}

// DeleteDialogState removes the snapshot of a stream.
func (s *PostgresStore) DeleteDialogState(stream string) error {
	if _, err := s.db.Exec(`DELETE FROM dialog_states WHERE stream = $1`, stream); err != nil {
		slog.Error("PostgresStore DeleteDialogState failed", "error", err, "stream", stream)
		return fmt.Errorf("failed to delete dialog state for %s: %w", stream, err)
	}
	slog.Debug("PostgresStore DeleteDialogState succeeded", "stream", stream)
	return nil
}

// ListDialogStates returns all persisted snapshots ordered by stream.
func (s *PostgresStore) ListDialogStates() ([]models.DialogState, error) {
	rows, err := s.db.Query(`SELECT ` + dialogStateColumns + ` FROM dialog_states ORDER BY stream`)
	if err != nil {
		slog.Error("PostgresStore ListDialogStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query dialog states: %w", err)
	}
	defer rows.Close()

	var states []models.DialogState
	for rows.Next() {
		st, err := scanDialogState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dialog state row: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dialog state rows: %w", err)
	}
	slog.Debug("PostgresStore ListDialogStates succeeded", "count", len(states))
	return states, nil
}

// AddSubmission records a value submission attempt.
func (s *PostgresStore) AddSubmission(sub models.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO submissions (dialog_id, category_name, value, status, error, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.DialogID, sub.CategoryName, sub.Value, string(sub.Status), nilIfEmpty(sub.Error), sub.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddSubmission failed", "error", err, "category", sub.CategoryName)
		return fmt.Errorf("failed to insert submission for %s: %w", sub.CategoryName, err)
	}
	slog.Debug("PostgresStore AddSubmission succeeded", "category", sub.CategoryName, "status", sub.Status)
	return nil
}

// GetSubmissions returns all submission records, oldest first.
func (s *PostgresStore) GetSubmissions() ([]models.Submission, error) {
	rows, err := s.db.Query(`SELECT ` + submissionColumns + ` FROM submissions ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetSubmissions query failed", "error", err)
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submission rows: %w", err)
	}
	return subs, nil
}

// GetSpeech returns rendered audio for a phrase.
func (s *PostgresStore) GetSpeech(text string) ([]byte, bool, error) {
	var audio []byte
	err := s.db.QueryRow(`SELECT audio FROM speech_cache WHERE text = $1`, text).Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSpeech failed", "error", err)
		return nil, false, fmt.Errorf("failed to read speech cache: %w", err)
	}
	return audio, true, nil
}

// PutSpeech stores rendered audio for a phrase.
func (s *PostgresStore) PutSpeech(text string, audio []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO speech_cache (text, audio, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (text) DO UPDATE SET audio = EXCLUDED.audio, created_at = EXCLUDED.created_at`,
		text, audio, time.Now())
	if err != nil {
		slog.Error("PostgresStore PutSpeech failed", "error", err)
		return fmt.Errorf("failed to write speech cache: %w", err)
	}
	return nil
}

// ClearSpeech drops every cached phrase.
func (s *PostgresStore) ClearSpeech() error {
	if _, err := s.db.Exec("DELETE FROM speech_cache"); err != nil {
		slog.Error("PostgresStore ClearSpeech failed", "error", err)
		return err
	}
	slog.Debug("PostgresStore ClearSpeech succeeded")
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
