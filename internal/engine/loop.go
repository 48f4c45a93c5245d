package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/dialog"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/speech"
)

// Source is an event stream. transport.Channel satisfies it.
type Source interface {
	Stream() string
	Messages(ctx context.Context) iter.Seq[json.RawMessage]
}

// Loop feeds every inbound message of src to e until ctx is cancelled.
// Reconnection is the source's concern.
func Loop(ctx context.Context, src Source, e *Engine) error {
	slog.Info("Event loop started", "stream", src.Stream())
	for raw := range src.Messages(ctx) {
		ev, err := models.NewEvent(src.Stream(), raw)
		if err != nil {
			slog.Warn("Event loop: bad message", "stream", src.Stream(), "error", err)
			continue
		}
		e.Deliver(ev)
	}
	slog.Info("Event loop stopped", "stream", src.Stream())
	return ctx.Err()
}

const busyRetryDelay = 200 * time.Millisecond

// ListenCommands waits for spoken commands while no dialog needs the floor and
// runs the matching local dialog on e. Dialogs of other engines preempt it.
func ListenCommands(ctx context.Context, floor *speech.Floor, listener speech.Listener, e *Engine) error {
	slog.Info("Command listener started")
	for {
		idleCtx, release, err := floor.AcquireIdle(ctx)
		if errors.Is(err, speech.ErrFloorBusy) {
			select {
			case <-time.After(busyRetryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}

		text, err := listener.Listen(idleCtx)
		preempted := idleCtx.Err() != nil
		release()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case preempted:
			slog.Debug("Command listener preempted by a dialog")
			continue
		case errors.Is(err, io.EOF):
			return err
		case err != nil:
			slog.Warn("Command listener: listen failed", "error", err)
			time.Sleep(busyRetryDelay)
			continue
		}

		cmd, ok := dialog.MatchCommand(text)
		if !ok {
			if text != "" {
				slog.Debug("Command listener: no command matched", "text", text)
			}
			continue
		}
		slog.Info("Command listener: command matched", "command", cmd.Name, "kind", cmd.Kind)
		if err := e.RunLocal(ctx, cmd.Kind); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("Command listener: local dialog failed", "kind", cmd.Kind, "error", err)
		}
	}
}
