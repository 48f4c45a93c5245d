package store

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// exerciseStore runs the same contract checks against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	deadline := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	state := models.DialogState{
		Stream:   models.StreamMeasurements,
		DialogID: "d-1",
		Kind:     "measurement_notification",
		State:    "ready_gate",
		Data:     `{"reminders":1}`,
		Deadline: deadline,
	}
	if err := s.SaveDialogState(state); err != nil {
		t.Fatalf("SaveDialogState failed: %v", err)
	}

	got, err := s.GetDialogState(models.StreamMeasurements)
	if err != nil {
		t.Fatalf("GetDialogState failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected dialog state, got nil")
	}
	if got.DialogID != "d-1" || got.State != "ready_gate" || got.Data != `{"reminders":1}` {
		t.Errorf("unexpected state: %+v", got)
	}
	if !got.Deadline.Equal(deadline) {
		t.Errorf("deadline mismatch: expected %v, got %v", deadline, got.Deadline)
	}

	state.State = "value"
	state.Deadline = time.Time{}
	if err := s.SaveDialogState(state); err != nil {
		t.Fatalf("SaveDialogState update failed: %v", err)
	}
	got, err = s.GetDialogState(models.StreamMeasurements)
	if err != nil {
		t.Fatalf("GetDialogState failed: %v", err)
	}
	if got.State != "value" || got.HasDeadline() {
		t.Errorf("update not applied: %+v", got)
	}

	states, err := s.ListDialogStates()
	if err != nil {
		t.Fatalf("ListDialogStates failed: %v", err)
	}
	if len(states) != 1 {
		t.Errorf("expected 1 state, got %d", len(states))
	}

	if err := s.DeleteDialogState(models.StreamMeasurements); err != nil {
		t.Fatalf("DeleteDialogState failed: %v", err)
	}
	got, err = s.GetDialogState(models.StreamMeasurements)
	if err != nil {
		t.Fatalf("GetDialogState failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}

	if err := s.AddSubmission(models.Submission{DialogID: "d-1", CategoryName: "pulse", Value: "72", Status: models.SubmissionStatusOK}); err != nil {
		t.Fatalf("AddSubmission failed: %v", err)
	}
	if err := s.AddSubmission(models.Submission{DialogID: "d-1", CategoryName: "weight", Value: "5.5", Status: models.SubmissionStatusFailed, Error: "status 500"}); err != nil {
		t.Fatalf("AddSubmission failed: %v", err)
	}
	subs, err := s.GetSubmissions()
	if err != nil {
		t.Fatalf("GetSubmissions failed: %v", err)
	}
	if len(subs) != 2 || subs[0].CategoryName != "pulse" || subs[1].Error != "status 500" {
		t.Errorf("unexpected submissions: %+v", subs)
	}

	if _, ok, err := s.GetSpeech("привет"); err != nil || ok {
		t.Fatalf("expected cache miss, ok=%v err=%v", ok, err)
	}
	if err := s.PutSpeech("привет", []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutSpeech failed: %v", err)
	}
	audio, ok, err := s.GetSpeech("привет")
	if err != nil || !ok || len(audio) != 3 {
		t.Fatalf("expected cache hit, ok=%v err=%v len=%d", ok, err, len(audio))
	}
	if err := s.ClearSpeech(); err != nil {
		t.Fatalf("ClearSpeech failed: %v", err)
	}
	if _, ok, _ := s.GetSpeech("привет"); ok {
		t.Error("expected cache to be empty after clear")
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "speaker.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "speaker.db")
	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	if err := s1.SaveDialogState(models.DialogState{Stream: "measurements", DialogID: "d-2", Kind: "add_value", State: "category"}); err != nil {
		t.Fatalf("SaveDialogState failed: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to reopen sqlite store: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetDialogState("measurements")
	if err != nil || got == nil || got.DialogID != "d-2" {
		t.Fatalf("state did not survive reopen: %+v err=%v", got, err)
	}
}

func TestPostgresStore(t *testing.T) {
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM dialog_states")
	pgStore.db.Exec("DELETE FROM submissions")
	pgStore.db.Exec("DELETE FROM speech_cache")
	exerciseStore(t, pgStore)
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":  "postgres",
		"postgresql://localhost/db":    "postgres",
		"host=localhost dbname=x":      "postgres",
		"/var/lib/speaker/speaker.db":  "sqlite3",
		"file:speaker.db?cache=shared": "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenWithoutDSNIsInMemory(t *testing.T) {
	s, err := Open()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("expected *InMemoryStore, got %T", s)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
