// Package speech provides the audio side of the speaker: speaking prompts,
// listening for answers and the floor that keeps them from overlapping.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Speaker says a phrase. Cacheable phrases may be replayed from pre-rendered audio.
type Speaker interface {
	Play(ctx context.Context, text string, cacheable bool) error
}

// Listener returns the next transcribed utterance. Unintelligible audio yields "".
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

// ErrFloorBusy is returned by AcquireIdle while a dialog waits for the floor.
var ErrFloorBusy = errors.New("audio floor requested by a dialog")

// Floor serialises use of the microphone and loudspeaker across the process.
//
// Dialog steps take it with Acquire. Background command listening takes it with
// AcquireIdle and is cancelled as soon as a dialog asks for the floor.
type Floor struct {
	sem chan struct{}

	mu         sync.Mutex
	pending    int
	idleCancel context.CancelFunc
}

func NewFloor() *Floor {
	return &Floor{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the floor is free, preempting an idle holder.
func (f *Floor) Acquire(ctx context.Context) (release func(), err error) {
	f.mu.Lock()
	f.pending++
	if f.idleCancel != nil {
		slog.Debug("Floor.Acquire: preempting idle holder")
		f.idleCancel()
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.pending--
		f.mu.Unlock()
	}()

	select {
	case f.sem <- struct{}{}:
		return f.releaser(nil), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquireIdle takes the floor for low-priority use. The returned context is
// cancelled when a dialog calls Acquire.
func (f *Floor) AcquireIdle(ctx context.Context) (context.Context, func(), error) {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		<-f.sem
		return nil, nil, ErrFloorBusy
	}
	idleCtx, cancel := context.WithCancel(ctx)
	f.idleCancel = cancel
	return idleCtx, f.releaser(cancel), nil
}

func (f *Floor) releaser(cancel context.CancelFunc) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if cancel != nil {
				f.mu.Lock()
				f.idleCancel = nil
				f.mu.Unlock()
				cancel()
			}
			<-f.sem
		})
	}
}
