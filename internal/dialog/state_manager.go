package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/store"
)

// StateManager persists the live dialog of each stream across restarts.
type StateManager interface {
	Save(ctx context.Context, d *Dialog, deadline time.Time) error
	Load(ctx context.Context, stream string, deps Deps) (*Dialog, time.Time, error)
	Reset(ctx context.Context, stream string) error
	List(ctx context.Context) ([]models.DialogState, error)
}

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// Save writes the snapshot of a live dialog, replacing any older one of its stream.
func (sm *StoreBasedStateManager) Save(ctx context.Context, d *Dialog, deadline time.Time) error {
	state, err := d.Snapshot(deadline)
	if err != nil {
		return err
	}
	existing, err := sm.store.GetDialogState(d.Stream)
	if err != nil {
		slog.Error("StateManager Save get error", "error", err, "stream", d.Stream)
		return err
	}
	if existing != nil && existing.DialogID == d.ID {
		state.CreatedAt = existing.CreatedAt
	}
	if err := sm.store.SaveDialogState(state); err != nil {
		slog.Error("StateManager Save error", "error", err, "stream", d.Stream, "dialogID", d.ID)
		return err
	}
	slog.Debug("StateManager Save succeeded", "stream", d.Stream, "dialogID", d.ID, "state", d.State, "deadline", deadline)
	return nil
}

// Load restores the dialog of a stream. It returns a nil dialog when none is stored.
func (sm *StoreBasedStateManager) Load(ctx context.Context, stream string, deps Deps) (*Dialog, time.Time, error) {
	state, err := sm.store.GetDialogState(stream)
	if err != nil {
		slog.Error("StateManager Load error", "error", err, "stream", stream)
		return nil, time.Time{}, err
	}
	if state == nil {
		slog.Debug("StateManager Load not found", "stream", stream)
		return nil, time.Time{}, nil
	}
	d, err := Restore(*state, deps)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load dialog for %s: %w", stream, err)
	}
	slog.Debug("StateManager Load found", "stream", stream, "dialogID", d.ID, "state", d.State)
	return d, state.Deadline, nil
}

// Reset removes the stored dialog of a stream.
func (sm *StoreBasedStateManager) Reset(ctx context.Context, stream string) error {
	if err := sm.store.DeleteDialogState(stream); err != nil {
		slog.Error("StateManager Reset error", "error", err, "stream", stream)
		return err
	}
	slog.Debug("StateManager Reset succeeded", "stream", stream)
	return nil
}

// List returns every stored dialog snapshot.
func (sm *StoreBasedStateManager) List(ctx context.Context) ([]models.DialogState, error) {
	return sm.store.ListDialogStates()
}
