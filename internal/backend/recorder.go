package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/metrics"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// Submitter pushes a measurement value. Client satisfies it.
type Submitter interface {
	SubmitValue(ctx context.Context, token, categoryName string, value any) error
}

// SubmissionRecorder is the part of the store the Recorder writes to.
type SubmissionRecorder interface {
	AddSubmission(s models.Submission) error
}

// Recorder logs every submission attempt locally before returning its result.
type Recorder struct {
	next    Submitter
	store   SubmissionRecorder
	metrics *metrics.Metrics
}

// NewRecorder wraps a Submitter. A nil metrics uses DefaultMetrics.
func NewRecorder(next Submitter, st SubmissionRecorder, m *metrics.Metrics) *Recorder {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Recorder{next: next, store: st, metrics: m}
}

func (r *Recorder) SubmitValue(ctx context.Context, token, categoryName string, value any) error {
	err := r.next.SubmitValue(ctx, token, categoryName, value)

	dialogID := models.DialogIDFromContext(ctx)
	sub := models.Submission{
		DialogID:     dialogID,
		CategoryName: categoryName,
		Value:        fmt.Sprint(value),
		Status:       models.SubmissionStatusOK,
		CreatedAt:    time.Now(),
	}
	if err != nil {
		sub.Status = models.SubmissionStatusFailed
		sub.Error = err.Error()
	}
	r.metrics.RecordSubmission(string(sub.Status))

	if serr := r.store.AddSubmission(sub); serr != nil {
		slog.Warn("Recorder: failed to record submission", "error", serr, "dialogID", dialogID)
	}
	return err
}
