// Package models defines state persistence structures for live dialogs.
package models

import "time"

// DialogState is the persisted snapshot of the live dialog of one stream.
// Data holds the dialog's own serialized context.
type DialogState struct {
	Stream    string    `json:"stream"`
	DialogID  string    `json:"dialog_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Data      string    `json:"data,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDeadline reports whether a call-later timer was pending at snapshot time.
func (s DialogState) HasDeadline() bool {
	return !s.Deadline.IsZero()
}
