// Package engine drives dialogs for one event stream.
//
// An Engine owns at most one live dialog. It speaks prompts, acquires input from
// the listener or from the call-later timer, sends outbound messages on the
// stream's channel and queues events that arrive while a dialog is live.
package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TikhonP/heytelepat-speaker/internal/dialog"
	"github.com/TikhonP/heytelepat-speaker/internal/metrics"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/speech"
)

const scopeName = "github.com/TikhonP/heytelepat-speaker/internal/engine"

var tracer = otel.Tracer(scopeName)

// Dialog outcomes reported to metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
)

// errAbandoned ends a parked dialog in favour of a newer unrelated event.
var errAbandoned = errors.New("dialog abandoned")

// Sender delivers outbound messages on the stream's channel.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

// Factory builds the dialog for a server event.
type Factory func(ev models.Event, deps dialog.Deps) (*dialog.Dialog, error)

// Opts holds Engine configuration.
type Opts struct {
	Sender       Sender
	StateManager dialog.StateManager
	Factory      Factory
	Metrics      *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Opts)

// WithSender sets the channel outbound messages are sent on.
func WithSender(s Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithStateManager persists the live dialog after every step.
func WithStateManager(sm dialog.StateManager) Option {
	return func(o *Opts) { o.StateManager = sm }
}

// WithFactory overrides how events become dialogs.
func WithFactory(f Factory) Option {
	return func(o *Opts) { o.Factory = f }
}

// WithMetrics sets the metrics sink. DefaultMetrics is used otherwise.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Status describes the live dialog of an engine.
type Status struct {
	Stream   string       `json:"stream"`
	DialogID string       `json:"dialog_id,omitempty"`
	Kind     dialog.Kind  `json:"kind,omitempty"`
	State    dialog.State `json:"state,omitempty"`
	Deadline *time.Time   `json:"deadline,omitempty"`
	Queued   int          `json:"queued"`
}

// Engine runs the dialogs of one stream.
type Engine struct {
	stream   string
	deps     dialog.Deps
	floor    *speech.Floor
	speaker  speech.Speaker
	listener speech.Listener
	opts     Opts

	// runMu serialises dialogs started by Run and RunLocal.
	runMu sync.Mutex

	mu       sync.Mutex
	inbox    []models.Event
	status   Status
	restored *restoredDialog
	notify   chan struct{}

	// queue is owned by the Run goroutine.
	queue []models.Event
}

type restoredDialog struct {
	d        *dialog.Dialog
	deadline time.Time
}

// New creates an Engine for a stream.
func New(stream string, deps dialog.Deps, floor *speech.Floor, speaker speech.Speaker, listener speech.Listener, opts ...Option) *Engine {
	o := Opts{Factory: dialog.NewMeasurementNotification}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.DefaultMetrics
	}
	slog.Debug("Creating Engine", "stream", stream)
	return &Engine{
		stream:   stream,
		deps:     deps,
		floor:    floor,
		speaker:  speaker,
		listener: listener,
		opts:     o,
		status:   Status{Stream: stream},
		notify:   make(chan struct{}, 1),
	}
}

// Stream returns the stream the engine serves.
func (e *Engine) Stream() string { return e.stream }

// Deliver hands an event to the engine. It never blocks on the live dialog.
func (e *Engine) Deliver(ev models.Event) {
	e.mu.Lock()
	e.inbox = append(e.inbox, ev)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
	slog.Debug("Engine.Deliver", "stream", e.stream, "type", ev.Type)
}

func (e *Engine) takeInbox() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	evs := e.inbox
	e.inbox = nil
	return evs
}

// Status reports the live dialog, if any.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(d *dialog.Dialog, deadline time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = Status{Stream: e.stream, Queued: e.status.Queued}
	if d == nil {
		return
	}
	e.status.DialogID = d.ID
	e.status.Kind = d.Kind
	e.status.State = d.State
	if !deadline.IsZero() {
		dl := deadline
		e.status.Deadline = &dl
	}
}

func (e *Engine) setQueued() {
	e.mu.Lock()
	e.status.Queued = len(e.queue)
	e.mu.Unlock()
	e.opts.Metrics.SetQueued(e.stream, len(e.queue))
}

// Restore loads the persisted dialog of the stream so Run resumes it first.
// It reports whether a dialog was found.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.opts.StateManager == nil {
		return false, nil
	}
	d, deadline, err := e.opts.StateManager.Load(ctx, e.stream, e.deps)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	e.mu.Lock()
	e.restored = &restoredDialog{d: d, deadline: deadline}
	e.mu.Unlock()
	slog.Info("Engine.Restore: dialog restored", "stream", e.stream, "dialogID", d.ID, "state", d.State, "deadline", deadline)
	return true, nil
}

// Run processes events until ctx is cancelled. Events are handled strictly in
// arrival order, one dialog at a time.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("Engine running", "stream", e.stream)

	e.mu.Lock()
	restored := e.restored
	e.restored = nil
	e.mu.Unlock()
	if restored != nil {
		if err := e.runDialog(ctx, restored.d, restored.deadline, true); err != nil {
			return err
		}
	}

	for {
		ev, err := e.next(ctx)
		if err != nil {
			return err
		}
		d, err := e.opts.Factory(ev, e.deps)
		if err != nil {
			slog.Warn("Engine: dropping event", "stream", e.stream, "error", err)
			continue
		}
		if err := e.runDialog(ctx, d, time.Time{}, false); err != nil {
			return err
		}
	}
}

// next returns the oldest pending event, waiting for one if necessary.
func (e *Engine) next(ctx context.Context) (models.Event, error) {
	for {
		e.queue = append(e.queue, e.takeInbox()...)
		if len(e.queue) > 0 {
			ev := e.queue[0]
			e.queue = e.queue[1:]
			e.setQueued()
			return ev, nil
		}
		select {
		case <-e.notify:
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		}
	}
}

// RunLocal runs a locally started dialog to completion. It is meant for an
// engine whose Run loop is not active.
func (e *Engine) RunLocal(ctx context.Context, kind dialog.Kind) error {
	d, err := dialog.NewLocal(kind, e.stream, e.deps)
	if err != nil {
		return err
	}
	return e.runDialog(ctx, d, time.Time{}, false)
}

// runDialog drives one dialog until it is done. Only cancellation of ctx and an
// exhausted listener are returned as errors; a failing dialog is discarded.
func (e *Engine) runDialog(ctx context.Context, d *dialog.Dialog, deadline time.Time, resumed bool) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	defer e.setStatus(nil, time.Time{})

	kind := string(d.Kind)
	if !resumed {
		e.opts.Metrics.RecordDialogStart(kind)
	}
	slog.Info("Engine: dialog started", "stream", e.stream, "dialogID", d.ID, "kind", d.Kind, "resumed", resumed)

	in := dialog.Input{}
	skipStep := resumed && d.State != dialog.StateAnnounce
	for {
		if !skipStep {
			if err := e.step(ctx, d, in); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("Engine: dialog failed", "stream", e.stream, "dialogID", d.ID, "error", err)
				e.discard(ctx, d, OutcomeFailed)
				return nil
			}
			deadline = time.Time{}
			if d.CallLaterDelay > 0 && !d.NeedPermanentAnswer {
				deadline = time.Now().Add(d.CallLaterDelay)
			}
		}
		skipStep = false

		if d.Done() {
			e.discard(ctx, d, OutcomeCompleted)
			return nil
		}
		e.setStatus(d, deadline)
		e.persist(ctx, d, deadline)

		next, err := e.await(ctx, d, deadline)
		switch {
		case errors.Is(err, errAbandoned):
			e.discard(ctx, d, OutcomeAbandoned)
			return nil
		case err != nil:
			return err
		}
		in = next
	}
}

func (e *Engine) discard(ctx context.Context, d *dialog.Dialog, outcome string) {
	slog.Info("Engine: dialog finished", "stream", e.stream, "dialogID", d.ID, "outcome", outcome)
	e.opts.Metrics.RecordDialogEnd(string(d.Kind), outcome)
	if e.opts.StateManager == nil {
		return
	}
	if err := e.opts.StateManager.Reset(context.WithoutCancel(ctx), e.stream); err != nil {
		slog.Warn("Engine: failed to reset dialog state", "stream", e.stream, "error", err)
	}
}

func (e *Engine) persist(ctx context.Context, d *dialog.Dialog, deadline time.Time) {
	if e.opts.StateManager == nil {
		return
	}
	if err := e.opts.StateManager.Save(ctx, d, deadline); err != nil {
		slog.Warn("Engine: failed to persist dialog", "stream", e.stream, "dialogID", d.ID, "error", err)
	}
}

// step runs one transition with the floor held, then speaks its prompt and
// sends its outbound message.
func (e *Engine) step(ctx context.Context, d *dialog.Dialog, in dialog.Input) error {
	ctx, span := tracer.Start(ctx, "Engine.step", trace.WithAttributes(
		attribute.String("stream", e.stream),
		attribute.String("dialog.id", d.ID),
		attribute.String("dialog.kind", string(d.Kind)),
		attribute.String("dialog.state", string(d.State)),
		attribute.Bool("input.timed_out", in.TimedOut),
	))
	defer span.End()
	start := time.Now()

	release, err := e.floor.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := d.Step(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("dialog.next_state", string(d.State)))

	if res.Outbound != nil {
		if e.opts.Sender == nil {
			slog.Warn("Engine: no channel for outbound message", "stream", e.stream, "requestType", res.Outbound.RequestType)
		} else if err := e.opts.Sender.Send(ctx, *res.Outbound); err != nil {
			// the server re-sends reminders it never saw acknowledged
			slog.Warn("Engine: outbound message not sent", "stream", e.stream, "error", err)
		}
	}
	if res.Prompt != nil {
		if err := e.speaker.Play(ctx, res.Prompt.Text, res.Prompt.Cacheable); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Engine: failed to speak prompt", "stream", e.stream, "dialogID", d.ID, "error", err)
		}
	}
	e.opts.Metrics.RecordStep(string(d.Kind), time.Since(start).Seconds())
	return nil
}

type heard struct {
	text string
	err  error
}

// await acquires the next input for the dialog. Real input preempts the timer;
// silence while the timer is armed is not an answer, so listening starts over.
// Events arriving meanwhile are merged, queued or abandon a parked dialog.
func (e *Engine) await(ctx context.Context, d *dialog.Dialog, deadline time.Time) (dialog.Input, error) {
	var timer <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timer = t.C
	}

	listenCtx, cancelListen := context.WithCancel(ctx)
	defer func() { cancelListen() }()
	results := make(chan heard, 1)
	listening := true
	go e.listen(listenCtx, results, 0)

	stopListening := func() {
		if listening {
			cancelListen()
			<-results
			listening = false
		}
	}
	defer stopListening()

	for {
		select {
		case r := <-results:
			listening = false
			var retryDelay time.Duration
			if r.err != nil {
				if ctx.Err() != nil {
					return dialog.Input{}, ctx.Err()
				}
				if errors.Is(r.err, io.EOF) {
					return dialog.Input{}, r.err
				}
				slog.Warn("Engine: listen failed, treating as unrecognized", "stream", e.stream, "error", r.err)
				r.text = ""
				retryDelay = busyRetryDelay
			}
			if timer != nil && strings.TrimSpace(r.text) == "" {
				slog.Debug("Engine: nothing heard, listening until the deadline", "stream", e.stream, "dialogID", d.ID)
				cancelListen()
				listenCtx, cancelListen = context.WithCancel(ctx)
				listening = true
				go e.listen(listenCtx, results, retryDelay)
				continue
			}
			slog.Debug("Engine: input heard", "stream", e.stream, "dialogID", d.ID, "text", r.text)
			return dialog.Input{Text: r.text}, nil

		case <-timer:
			stopListening()
			slog.Debug("Engine: call-later timer fired", "stream", e.stream, "dialogID", d.ID, "state", d.State)
			e.opts.Metrics.RecordTimeout(string(d.Kind))
			if d.CallLaterFallbackText != "" {
				if err := e.speakFallback(ctx, d.CallLaterFallbackText); err != nil {
					return dialog.Input{}, err
				}
			}
			return dialog.Input{TimedOut: true}, nil

		case <-e.notify:
			interrupt, err := e.absorb(d)
			if err != nil {
				stopListening()
				return dialog.Input{}, err
			}
			if interrupt {
				stopListening()
				return dialog.Input{}, nil
			}

		case <-ctx.Done():
			return dialog.Input{}, ctx.Err()
		}
	}
}

// listen waits delay, then listens once with the floor held.
func (e *Engine) listen(ctx context.Context, results chan<- heard, delay time.Duration) {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			results <- heard{err: ctx.Err()}
			return
		}
	}
	release, err := e.floor.Acquire(ctx)
	if err != nil {
		results <- heard{err: err}
		return
	}
	defer release()
	text, err := e.listener.Listen(ctx)
	results <- heard{text: text, err: err}
}

func (e *Engine) speakFallback(ctx context.Context, text string) error {
	release, err := e.floor.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := e.speaker.Play(ctx, text, true); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("Engine: failed to speak fallback", "stream", e.stream, "error", err)
	}
	return nil
}

// absorb applies events that arrived while d is live. It reports whether the
// dialog must be stepped right away, and returns errAbandoned when a newer
// unrelated event replaces a parked dialog.
func (e *Engine) absorb(d *dialog.Dialog) (bool, error) {
	interrupt := false
	evs := e.takeInbox()
	for i, ev := range evs {
		liveID, isMeasurement := d.MeasurementID()
		evID, hasID := ev.MeasurementID()

		switch {
		case isMeasurement && hasID && evID == liveID:
			if err := d.Merge(ev); err != nil {
				slog.Warn("Engine: cannot merge event", "stream", e.stream, "dialogID", d.ID, "error", err)
				continue
			}
			if d.State == dialog.StateAnnounce {
				interrupt = true
			}
		case d.Parked() && !interrupt:
			// only a dialog idling on an accepted deferral gives way
			slog.Info("Engine: parked dialog replaced by new event", "stream", e.stream, "dialogID", d.ID)
			e.queue = append(e.queue, evs[i:]...)
			e.setQueued()
			return false, errAbandoned
		default:
			e.queue = append(e.queue, ev)
			e.setQueued()
		}
	}
	return interrupt, nil
}
