// Package recovery restores live dialogs after the speaker restarts.
// Components register as Recoverable and claim the persisted dialog of the
// stream they serve; snapshots nobody claims are discarded.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *RecoveryRegistry) error
}

// RecoveryRegistry provides services that components can use during recovery
type RecoveryRegistry struct {
	store store.Store

	mu      sync.Mutex
	loaded  bool
	pending map[string]models.DialogState
	claimed map[string]bool
}

// NewRecoveryRegistry creates a new recovery registry
func NewRecoveryRegistry(store store.Store) *RecoveryRegistry {
	return &RecoveryRegistry{
		store:   store,
		pending: make(map[string]models.DialogState),
		claimed: make(map[string]bool),
	}
}

func (r *RecoveryRegistry) load() error {
	if r.loaded {
		return nil
	}
	states, err := r.store.ListDialogStates()
	if err != nil {
		return fmt.Errorf("failed to list persisted dialogs: %w", err)
	}
	for _, st := range states {
		r.pending[st.Stream] = st
	}
	r.loaded = true
	slog.Debug("RecoveryRegistry loaded persisted dialogs", "count", len(states))
	return nil
}

// PendingDialog returns the persisted dialog of a stream, if any.
func (r *RecoveryRegistry) PendingDialog(stream string) (models.DialogState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return models.DialogState{}, false, err
	}
	st, ok := r.pending[stream]
	return st, ok, nil
}

// Claim marks the persisted dialog of a stream as taken over.
func (r *RecoveryRegistry) Claim(stream string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed[stream] = true
}

// unclaimed lists streams whose persisted dialog nobody took over.
func (r *RecoveryRegistry) unclaimed() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	var streams []string
	for stream := range r.pending {
		if !r.claimed[stream] {
			streams = append(streams, stream)
		}
	}
	return streams, nil
}

// GetStore provides access to the store for recovery operations
func (r *RecoveryRegistry) GetStore() store.Store {
	return r.store
}

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	registry     *RecoveryRegistry
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(store store.Store) *RecoveryManager {
	return &RecoveryManager{
		registry:     NewRecoveryRegistry(store),
		recoverables: make([]Recoverable, 0),
	}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RecoverAll performs recovery of all registered components, then discards
// persisted dialogs of streams no component serves any more.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, recoverable := range rm.recoverables {
		if err := recoverable.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	stale, err := rm.registry.unclaimed()
	if err != nil {
		return err
	}
	for _, stream := range stale {
		if err := rm.registry.store.DeleteDialogState(stream); err != nil {
			slog.Warn("Failed to discard stale dialog", "stream", stream, "error", err)
			continue
		}
		slog.Info("Discarded stale dialog", "stream", stream)
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount, "discarded", len(stale))

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}

	return nil
}

// GetRegistry provides access to the recovery registry for infrastructure setup
func (rm *RecoveryManager) GetRegistry() *RecoveryRegistry {
	return rm.registry
}
