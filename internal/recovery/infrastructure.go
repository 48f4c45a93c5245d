package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Restorer is a component that resumes the persisted dialog of its stream.
// engine.Engine satisfies it.
type Restorer interface {
	Stream() string
	Restore(ctx context.Context) (bool, error)
}

// DialogRecoverable adapts a Restorer to the recovery manager.
type DialogRecoverable struct {
	restorer Restorer
}

// NewDialogRecoverable wraps a Restorer.
func NewDialogRecoverable(r Restorer) *DialogRecoverable {
	return &DialogRecoverable{restorer: r}
}

// RecoverState restores the dialog of the wrapped stream if one was persisted.
// A snapshot that cannot be restored is left unclaimed and gets discarded.
func (d *DialogRecoverable) RecoverState(ctx context.Context, registry *RecoveryRegistry) error {
	stream := d.restorer.Stream()
	st, ok, err := registry.PendingDialog(stream)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("No dialog to recover", "stream", stream)
		return nil
	}

	slog.Info("Recovering dialog", "stream", stream, "dialogID", st.DialogID, "kind", st.Kind, "state", st.State)
	found, err := d.restorer.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover dialog of %s: %w", stream, err)
	}
	if found {
		registry.Claim(stream)
	}
	return nil
}
