package dialog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

type snapshot struct {
	Event                 models.Event        `json:"event"`
	Fields                []models.Field      `json:"fields,omitempty"`
	Pending               models.PendingValue `json:"pending"`
	NeedPermanentAnswer   bool                `json:"need_permanent_answer"`
	CallLaterDelay        time.Duration       `json:"call_later_delay"`
	CallLaterOnEnd        bool                `json:"call_later_on_end"`
	CallLaterFallbackText string              `json:"call_later_fallback_text,omitempty"`
	Reminders             int                 `json:"reminders"`
	Deferred              bool                `json:"deferred,omitempty"`
}

// Snapshot captures the dialog for persistence. deadline is when the pending
// call-later timer fires, or zero.
func (d *Dialog) Snapshot(deadline time.Time) (models.DialogState, error) {
	data, err := json.Marshal(snapshot{
		Event:                 d.Event,
		Fields:                d.Fields,
		Pending:               d.Pending,
		NeedPermanentAnswer:   d.NeedPermanentAnswer,
		CallLaterDelay:        d.CallLaterDelay,
		CallLaterOnEnd:        d.CallLaterOnEnd,
		CallLaterFallbackText: d.CallLaterFallbackText,
		Reminders:             d.Reminders,
		Deferred:              d.Deferred,
	})
	if err != nil {
		return models.DialogState{}, fmt.Errorf("failed to encode dialog %s: %w", d.ID, err)
	}
	return models.DialogState{
		Stream:    d.Stream,
		DialogID:  d.ID,
		Kind:      string(d.Kind),
		State:     string(d.State),
		Data:      string(data),
		Deadline:  deadline,
		UpdatedAt: time.Now(),
	}, nil
}

// Restore rebuilds a dialog from a persisted snapshot.
func Restore(state models.DialogState, deps Deps) (*Dialog, error) {
	var snap snapshot
	if state.Data != "" {
		if err := json.Unmarshal([]byte(state.Data), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode dialog %s: %w", state.DialogID, err)
		}
	}

	d := &Dialog{
		ID:                    state.DialogID,
		Kind:                  Kind(state.Kind),
		Stream:                state.Stream,
		State:                 State(state.State),
		Event:                 snap.Event,
		Fields:                snap.Fields,
		Pending:               snap.Pending,
		NeedPermanentAnswer:   snap.NeedPermanentAnswer,
		CallLaterDelay:        snap.CallLaterDelay,
		CallLaterOnEnd:        snap.CallLaterOnEnd,
		CallLaterFallbackText: snap.CallLaterFallbackText,
		Reminders:             snap.Reminders,
		Deferred:              snap.Deferred,
		deps:                  deps.withDefaults(),
	}

	switch d.Kind {
	case KindMeasurementNotification:
		req, err := models.ParseMeasurementRequest(d.Event.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to restore dialog %s: %w", state.DialogID, err)
		}
		d.Request = req
	case KindAddValue:
	default:
		return nil, fmt.Errorf("failed to restore dialog %s: unknown kind %q", state.DialogID, state.Kind)
	}

	switch d.State {
	case StateAnnounce, StateReadyGate, StateDeferConfirm, StateAskCategory, StateCategory, StateValue:
	default:
		return nil, fmt.Errorf("failed to restore dialog %s: %w: %s", state.DialogID, ErrUnknownState, state.State)
	}
	return d, nil
}
