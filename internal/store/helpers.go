package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil for the zero time.
func nilIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanDialogState scans a DialogState in dialog_states column order.
func scanDialogState(row rowScanner) (models.DialogState, error) {
	var st models.DialogState
	var data sql.NullString
	var deadline sql.NullTime
	err := row.Scan(&st.Stream, &st.DialogID, &st.Kind, &st.State, &data, &deadline, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return st, err
	}
	st.Data = data.String
	if deadline.Valid {
		st.Deadline = deadline.Time
	}
	return st, nil
}

// scanSubmission scans a Submission in submissions column order.
func scanSubmission(row rowScanner) (models.Submission, error) {
	var sub models.Submission
	var status string
	var errText sql.NullString
	err := row.Scan(&sub.ID, &sub.DialogID, &sub.CategoryName, &sub.Value, &status, &errText, &sub.CreatedAt)
	if err != nil {
		return sub, fmt.Errorf("scan submission failed: %w", err)
	}
	sub.Status = models.SubmissionStatus(status)
	sub.Error = errText.String
	return sub, nil
}

const dialogStateColumns = `stream, dialog_id, kind, state, data, deadline, created_at, updated_at`

const submissionColumns = `id, dialog_id, category_name, value, status, error, created_at`
