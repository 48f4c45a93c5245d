package recovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/store"
)

type mockRestorer struct {
	stream   string
	found    bool
	err      error
	restored int
}

func (m *mockRestorer) Stream() string { return m.stream }

func (m *mockRestorer) Restore(ctx context.Context) (bool, error) {
	m.restored++
	return m.found, m.err
}

func TestDialogRecoverable_RestoresPersistedDialog(t *testing.T) {
	st := store.NewInMemoryStore()
	saveState(t, st, models.StreamMeasurements)

	restorer := &mockRestorer{stream: models.StreamMeasurements, found: true}
	manager := NewRecoveryManager(st)
	manager.RegisterRecoverable(NewDialogRecoverable(restorer))

	if err := manager.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if restorer.restored != 1 {
		t.Errorf("expected one restore, got %d", restorer.restored)
	}
	if got, _ := st.GetDialogState(models.StreamMeasurements); got == nil {
		t.Error("claimed dialog must be kept")
	}
}

func TestDialogRecoverable_SkipsStreamsWithoutDialog(t *testing.T) {
	restorer := &mockRestorer{stream: models.StreamMeasurements}
	rec := NewDialogRecoverable(restorer)

	if err := rec.RecoverState(context.Background(), NewRecoveryRegistry(store.NewInMemoryStore())); err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if restorer.restored != 0 {
		t.Error("restore must not be attempted without a persisted dialog")
	}
}

func TestDialogRecoverable_Error(t *testing.T) {
	st := store.NewInMemoryStore()
	saveState(t, st, models.StreamMeasurements)

	restorer := &mockRestorer{stream: models.StreamMeasurements, err: fmt.Errorf("corrupt snapshot")}
	manager := NewRecoveryManager(st)
	manager.RegisterRecoverable(NewDialogRecoverable(restorer))

	if err := manager.RecoverAll(context.Background()); err == nil {
		t.Error("expected recovery error")
	}
	if got, _ := st.GetDialogState(models.StreamMeasurements); got != nil {
		t.Error("unrestorable dialog should be discarded")
	}
}
