// Package dialog implements the spoken conversation state machines of the speaker.
//
// A Dialog consumes one text input per Step and produces at most one prompt plus an
// optional outbound channel message. States form a closed enumeration; each state has
// one transition function.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// Kind identifies a dialog flavour.
type Kind string

const (
	// KindMeasurementNotification is started by a server measurement reminder.
	KindMeasurementNotification Kind = "measurement_notification"
	// KindAddValue is started locally by a spoken command.
	KindAddValue Kind = "add_value"
)

// State is the current handler of a dialog.
type State string

const (
	StateAnnounce     State = "announce"
	StateReadyGate    State = "ready_gate"
	StateDeferConfirm State = "defer_confirm"
	StateAskCategory  State = "ask_category"
	StateCategory     State = "category"
	StateValue        State = "value"
	StateDone         State = "done"
)

// Default timing used when Deps leaves them unset.
const (
	DefaultReminderDelay = 15 * time.Minute
	DefaultMaxReminders  = 3
)

var (
	ErrDialogDone   = errors.New("dialog already finished")
	ErrUnknownState = errors.New("unknown dialog state")
)

// Submitter pushes a measurement value to the server.
type Submitter interface {
	SubmitValue(ctx context.Context, token, categoryName string, value any) error
}

// Deps carries the collaborators and settings a dialog needs. It is built once at
// process start and shared read-only by all dialogs.
type Deps struct {
	Token         string
	Submitter     Submitter
	Catalog       models.Catalog
	ReminderDelay time.Duration
	// MaxReminders bounds unanswered re-announcements; zero means unlimited.
	MaxReminders int
}

func (d Deps) withDefaults() Deps {
	if d.ReminderDelay <= 0 {
		d.ReminderDelay = DefaultReminderDelay
	}
	if d.Catalog.Keyword == nil && d.Catalog.Described == nil {
		d.Catalog = models.DefaultCatalog
	}
	return d
}

// Input is one piece of text given to a step. TimedOut marks the call-later sentinel.
type Input struct {
	Text     string
	TimedOut bool
}

// Prompt is a phrase to speak.
type Prompt struct {
	Text      string
	Cacheable bool
}

// Result is the output of one step.
type Result struct {
	Prompt   *Prompt
	Outbound *models.OutboundMessage
}

// Dialog is one multi-turn spoken interaction.
type Dialog struct {
	ID     string
	Kind   Kind
	Stream string
	State  State

	Event   models.Event
	Request models.MeasurementRequest
	// Fields still to be asked, in order.
	Fields  []models.Field
	Pending models.PendingValue

	NeedPermanentAnswer   bool
	CallLaterDelay        time.Duration
	CallLaterOnEnd        bool
	CallLaterFallbackText string
	Reminders             int
	// Deferred is set while the dialog sits out a deferral the user accepted.
	Deferred bool

	deps Deps
}

// NewMeasurementNotification creates the dialog for a server measurement event.
func NewMeasurementNotification(ev models.Event, deps Deps) (*Dialog, error) {
	req, err := models.ParseMeasurementRequest(ev.Data)
	if err != nil {
		return nil, err
	}
	if len(req.Fields) == 0 {
		return nil, models.ErrNoFields
	}
	fields := make([]models.Field, len(req.Fields))
	copy(fields, req.Fields)

	return &Dialog{
		ID:      uuid.NewString(),
		Kind:    KindMeasurementNotification,
		Stream:  ev.Type,
		State:   StateAnnounce,
		Event:   ev,
		Request: req,
		Fields:  fields,
		deps:    deps.withDefaults(),
	}, nil
}

// NewAddValue creates the locally started value submission dialog.
func NewAddValue(stream string, deps Deps) *Dialog {
	return &Dialog{
		ID:     uuid.NewString(),
		Kind:   KindAddValue,
		Stream: stream,
		State:  StateAskCategory,
		deps:   deps.withDefaults(),
	}
}

// Done reports whether the dialog reached its terminal state.
func (d *Dialog) Done() bool {
	return d.State == StateDone
}

// Parked reports whether the dialog is idle on an accepted deferral, waiting
// only to re-announce itself. A dialog that has just asked its question is not.
func (d *Dialog) Parked() bool {
	return d.Deferred && d.awaitingReminder()
}

func (d *Dialog) awaitingReminder() bool {
	return d.State == StateReadyGate && d.CallLaterOnEnd && !d.NeedPermanentAnswer
}

// MeasurementID returns the id of the measurement event behind the dialog.
func (d *Dialog) MeasurementID() (int, bool) {
	if d.Kind != KindMeasurementNotification {
		return 0, false
	}
	return d.Request.ID, true
}

// Merge folds a newer payload for the same measurement into the dialog.
// Fields already answered are not asked again. A dialog parked on a reminder
// goes back to announcing.
func (d *Dialog) Merge(ev models.Event) error {
	merged := d.Event.Merge(ev)
	req, err := models.ParseMeasurementRequest(merged.Data)
	if err != nil {
		return err
	}
	if len(req.Fields) == 0 {
		return models.ErrNoFields
	}
	popped := len(d.Request.Fields) - len(d.Fields)
	d.Event = merged
	d.Request = req
	if popped <= len(req.Fields) {
		d.Fields = append([]models.Field(nil), req.Fields[popped:]...)
	} else {
		d.Fields = nil
	}
	if d.awaitingReminder() {
		d.State = StateAnnounce
	}
	slog.Debug("Dialog.Merge: merged event", "dialogID", d.ID, "measurementID", req.ID, "remainingFields", len(d.Fields))
	return nil
}

// Step advances the dialog with one input.
func (d *Dialog) Step(ctx context.Context, in Input) (Result, error) {
	slog.Debug("Dialog.Step", "dialogID", d.ID, "kind", d.Kind, "state", d.State, "timedOut", in.TimedOut, "text", in.Text)

	var (
		res Result
		err error
	)
	switch d.State {
	case StateAnnounce:
		res = d.announce()
	case StateReadyGate:
		res = d.readyGate(in)
	case StateDeferConfirm:
		res = d.deferConfirm(in)
	case StateAskCategory:
		res = d.askCategory()
	case StateCategory:
		res = d.category(in)
	case StateValue:
		res, err = d.value(ctx, in)
	case StateDone:
		return Result{}, ErrDialogDone
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownState, d.State)
	}
	if err != nil {
		return res, err
	}

	if d.CallLaterDelay > 0 && !d.CallLaterOnEnd && !d.NeedPermanentAnswer && d.CallLaterFallbackText == "" && !d.Done() {
		panic(fmt.Sprintf("dialog %s: deferral in state %s has no fallback text", d.ID, d.State))
	}
	slog.Debug("Dialog.Step succeeded", "dialogID", d.ID, "state", d.State, "permanent", d.NeedPermanentAnswer,
		"delay", d.CallLaterDelay, "onEnd", d.CallLaterOnEnd)
	return res, nil
}

func say(text string) *Prompt       { return &Prompt{Text: text} }
func sayCached(text string) *Prompt { return &Prompt{Text: text, Cacheable: true} }

func (d *Dialog) finish() {
	d.State = StateDone
	d.NeedPermanentAnswer = false
	d.CallLaterDelay = 0
	d.CallLaterOnEnd = false
	d.CallLaterFallbackText = ""
	d.Deferred = false
}

// parkForReminder waits for an answer but re-announces after the reminder delay.
func (d *Dialog) parkForReminder() {
	d.State = StateReadyGate
	d.NeedPermanentAnswer = false
	d.CallLaterDelay = d.deps.ReminderDelay
	d.CallLaterOnEnd = true
	d.CallLaterFallbackText = ""
	d.Deferred = false
}

func (d *Dialog) announce() Result {
	out := models.IsSentMessage(d.deps.Token, d.Request.ID)
	d.parkForReminder()
	return Result{
		Prompt:   say(d.Request.Description() + phraseReadyQuestion),
		Outbound: &out,
	}
}

func (d *Dialog) readyGate(in Input) Result {
	d.Deferred = false
	if in.TimedOut {
		if !d.CallLaterOnEnd {
			d.finish()
			return Result{}
		}
		d.Reminders++
		if d.deps.MaxReminders > 0 && d.Reminders >= d.deps.MaxReminders {
			slog.Info("Dialog.readyGate: reminders exhausted", "dialogID", d.ID, "reminders", d.Reminders)
			d.finish()
			return Result{Prompt: sayCached(phraseEnterLater)}
		}
		return Result{Prompt: say(d.Request.Description() + phraseReadyQuestion)}
	}

	switch {
	case IsNegative(in.Text):
		d.State = StateDeferConfirm
		d.NeedPermanentAnswer = false
		d.CallLaterDelay = d.deps.ReminderDelay
		d.CallLaterOnEnd = false
		d.CallLaterFallbackText = phraseEnterLater
		return Result{Prompt: sayCached(deferQuestion(d.deps.ReminderDelay))}
	case IsPositive(in.Text):
		d.CallLaterOnEnd = false
		d.CallLaterDelay = 0
		if len(d.Fields) == 0 {
			d.finish()
			return Result{}
		}
		return Result{Prompt: say(d.askNextField(""))}
	default:
		d.NeedPermanentAnswer = true
		return Result{Prompt: say(phraseNotUnderstood + d.Request.Description() + phraseReadyRetry)}
	}
}

func (d *Dialog) deferConfirm(in Input) Result {
	if in.TimedOut {
		d.finish()
		return Result{}
	}
	switch {
	case IsNegative(in.Text):
		d.finish()
		return Result{Prompt: sayCached(phraseEnterLater)}
	case IsPositive(in.Text):
		d.parkForReminder()
		d.Deferred = true
		return Result{Prompt: sayCached(deferAccepted(d.deps.ReminderDelay))}
	default:
		return Result{Prompt: say(phraseNotUnderstood + deferQuestion(d.deps.ReminderDelay))}
	}
}

// askNextField pops the next requested field and returns the prompt asking for it.
func (d *Dialog) askNextField(prefix string) string {
	field := d.Fields[0]
	d.Fields = d.Fields[1:]
	d.Pending = models.PendingValue{CategoryName: field.Name, Type: field.Type}
	if cat, ok := d.deps.Catalog.ByName(field.Name); ok {
		d.Pending.CategoryID = cat.ID
	}
	d.State = StateValue
	d.NeedPermanentAnswer = true
	return prefix + phraseSayValueOf + field.Text
}

func (d *Dialog) askCategory() Result {
	d.State = StateCategory
	d.NeedPermanentAnswer = true
	return Result{Prompt: sayCached(phraseAskCategory)}
}

func (d *Dialog) category(in Input) Result {
	cat, ok := d.deps.Catalog.Resolve(in.Text)
	if !ok {
		return Result{Prompt: sayCached(phraseUnknownCategory)}
	}
	slog.Debug("Dialog.category: resolved", "dialogID", d.ID, "category", cat.Name)
	d.Pending = models.PendingValue{CategoryID: cat.ID, CategoryName: cat.Name, Type: cat.Type}
	d.State = StateValue
	d.NeedPermanentAnswer = true
	return Result{Prompt: sayCached(phraseSayValue)}
}

func (d *Dialog) value(ctx context.Context, in Input) (Result, error) {
	if in.TimedOut {
		return Result{}, nil
	}
	v, ok, err := ParseValue(d.Pending.Type, in.Text)
	if err != nil {
		slog.Error("Dialog.value: cannot parse value", "error", err, "dialogID", d.ID, "category", d.Pending.CategoryName)
		d.finish()
		return Result{}, err
	}
	if !ok {
		return Result{Prompt: sayCached(phraseBadValue)}, nil
	}
	d.Pending.Value = v

	ctx = models.ContextWithDialogID(ctx, d.ID)
	if err := d.deps.Submitter.SubmitValue(ctx, d.deps.Token, d.Pending.CategoryName, v); err != nil {
		slog.Error("Dialog.value: submission failed", "error", err, "dialogID", d.ID, "category", d.Pending.CategoryName)
		d.finish()
		return Result{Prompt: sayCached(phraseSubmitFailed)}, nil
	}
	slog.Info("Dialog.value: value submitted", "dialogID", d.ID, "category", d.Pending.CategoryName, "value", v)

	if len(d.Fields) > 0 {
		return Result{Prompt: say(d.askNextField(phraseSubmitted + " "))}, nil
	}
	d.finish()
	return Result{Prompt: sayCached(phraseSubmitted)}, nil
}
