// Package store provides storage backends for the speaker.
//
// It persists live dialog snapshots, value submission records and rendered speech,
// with in-memory, SQLite and PostgreSQL implementations.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// Store is the persistence contract shared by all backends.
type Store interface {
	SaveDialogState(state models.DialogState) error
	GetDialogState(stream string) (*models.DialogState, error)
	DeleteDialogState(stream string) error
	ListDialogStates() ([]models.DialogState, error)

	AddSubmission(s models.Submission) error
	GetSubmissions() ([]models.Submission, error)

	GetSpeech(text string) ([]byte, bool, error)
	PutSpeech(text string, audio []byte) error
	ClearSpeech() error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a function that configures store Opts.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the backend matching the configured DSN, or an in-memory store without one.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Debug("store.Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		st, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		st, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	states      map[string]models.DialogState
	submissions []models.Submission
	speech      map[string][]byte
	nextID      int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[string]models.DialogState),
		speech: make(map[string][]byte),
	}
}

func (s *InMemoryStore) SaveDialogState(state models.DialogState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.states[state.Stream]; ok && state.CreatedAt.IsZero() {
		state.CreatedAt = existing.CreatedAt
	}
	s.states[state.Stream] = state
	return nil
}

func (s *InMemoryStore) GetDialogState(stream string) (*models.DialogState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stream]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) DeleteDialogState(stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stream)
	return nil
}

func (s *InMemoryStore) ListDialogStates() ([]models.DialogState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]models.DialogState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Stream < states[j].Stream })
	return states, nil
}

func (s *InMemoryStore) AddSubmission(sub models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub.ID = s.nextID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *InMemoryStore) GetSubmissions() ([]models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Submission, len(s.submissions))
	copy(out, s.submissions)
	return out, nil
}

func (s *InMemoryStore) GetSpeech(text string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audio, ok := s.speech[text]
	return audio, ok, nil
}

func (s *InMemoryStore) PutSpeech(text string, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech[text] = append([]byte(nil), audio...)
	return nil
}

func (s *InMemoryStore) ClearSpeech() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speech = make(map[string][]byte)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
