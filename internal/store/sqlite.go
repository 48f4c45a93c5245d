// Package store provides storage backends for the speaker.
//
// This file implements an SQLite-backed store, the default on the device.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// one writer; the engines of all streams share this handle
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

// SaveDialogState stores or replaces the live dialog snapshot of a stream.
func (s *SQLiteStore) SaveDialogState(state models.DialogState) error {
	query := `
		INSERT INTO dialog_states (` + dialogStateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			dialog_id = excluded.dialog_id,
			kind = excluded.kind,
			state = excluded.state,
			data = excluded.data,
			deadline = excluded.deadline,
			updated_at = excluded.updated_at`

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
		slog.Error("SQLiteStore SaveDialogState failed", "error", err, "stream", state.Stream, "dialogID", state.DialogID)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.Stream, err)
	}
	slog.Debug("SQLiteStore SaveDialogState succeeded", "stream", state.Stream, "dialogID", state.DialogID, "state", state.State)
	return nil
}

// GetDialogState returns the snapshot of a stream, or nil when there is none.
func (s *SQLiteStore) GetDialogState(stream string) (*models.DialogState, error) {
	row := s.db.QueryRow(`SELECT `+dialogStateColumns+` FROM dialog_states WHERE stream = ?`, stream)
	state, err := scanDialogState(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetDialogState not found", "stream", stream)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDialogState failed", "error", err, "stream", stream)
		return nil, fmt.Errorf("failed to get dialog state for %s: %w", stream, err)
	}
	slog.Debug("SQLiteStore GetDialogState found", "stream", stream, "state", state.State)
	return &state, nil
}

// DeleteDialogState removes the snapshot of a stream.
func (s *SQLiteStore) DeleteDialogState(stream string) error {
	if _, err := s.db.Exec(`DELETE FROM dialog_states WHERE stream = ?`, stream); err != nil {
		slog.Error("SQLiteStore DeleteDialogState failed", "error", err, "stream", stream)
		return fmt.Errorf("failed to delete dialog state for %s: %w", stream, err)
	}
	slog.Debug("SQLiteStore DeleteDialogState succeeded", "stream", stream)
	return nil
}

// ListDialogStates returns all persisted snapshots ordered by stream.
func (s *SQLiteStore) ListDialogStates() ([]models.DialogState, error) {
	rows, err := s.db.Query(`SELECT ` + dialogStateColumns + ` FROM dialog_states ORDER BY stream`)
	if err != nil {
		slog.Error("SQLiteStore ListDialogStates query failed", "error", err)
		return nil, fmt.Errorf("failed to query dialog states: %w", err)
	}
	defer rows.Close()

	var states []models.DialogState
	for rows.Next() {
		st, err := scanDialogState(rows)
		if err != nil {
			slog.Error("SQLiteStore ListDialogStates scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan dialog state row: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dialog state rows: %w", err)
	}
	slog.Debug("SQLiteStore ListDialogStates succeeded", "count", len(states))
	return states, nil
}

// AddSubmission records a value submission attempt.
func (s *SQLiteStore) AddSubmission(sub models.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO submissions (dialog_id, category_name, value, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.DialogID, sub.CategoryName, sub.Value, string(sub.Status), nilIfEmpty(sub.Error), sub.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddSubmission failed", "error", err, "category", sub.CategoryName)
		return fmt.Errorf("failed to insert submission for %s: %w", sub.CategoryName, err)
	}
	slog.Debug("SQLiteStore AddSubmission succeeded", "category", sub.CategoryName, "status", sub.Status)
	return nil
}

// GetSubmissions returns all submission records, oldest first.
func (s *SQLiteStore) GetSubmissions() ([]models.Submission, error) {
	rows, err := s.db.Query(`SELECT ` + submissionColumns + ` FROM submissions ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetSubmissions query failed", "error", err)
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
	slog.Debug("SQLiteStore GetSubmissions succeeded", "count", len(subs))
	return subs, nil
}

// GetSpeech returns rendered audio for a phrase.
func (s *SQLiteStore) GetSpeech(text string) ([]byte, bool, error) {
	var audio []byte
	err := s.db.QueryRow(`SELECT audio FROM speech_cache WHERE text = ?`, text).Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSpeech failed", "error", err)
		return nil, false, fmt.Errorf("failed to read speech cache: %w", err)
	}
	return audio, true, nil
}

// PutSpeech stores rendered audio for a phrase.
func (s *SQLiteStore) PutSpeech(text string, audio []byte) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO speech_cache (text, audio, created_at) VALUES (?, ?, ?)`, text, audio, time.Now())
	if err != nil {
		slog.Error("SQLiteStore PutSpeech failed", "error", err)
		return fmt.Errorf("failed to write speech cache: %w", err)
	}
	slog.Debug("SQLiteStore PutSpeech succeeded", "bytes", len(audio))
	return nil
}

// ClearSpeech drops every cached phrase.
func (s *SQLiteStore) ClearSpeech() error {
	if _, err := s.db.Exec("DELETE FROM speech_cache"); err != nil {
		slog.Error("SQLiteStore ClearSpeech failed", "error", err)
		return err
	}
	slog.Debug("SQLiteStore ClearSpeech succeeded")
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
