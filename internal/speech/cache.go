package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Synthesizer renders text to playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// AudioSink plays rendered audio.
type AudioSink interface {
	PlayAudio(ctx context.Context, audio []byte) error
}

// AudioSource records one utterance.
type AudioSource interface {
	Record(ctx context.Context) ([]byte, error)
}

// SpeechCache stores rendered phrases. store.Store satisfies it.
type SpeechCache interface {
	GetSpeech(text string) ([]byte, bool, error)
	PutSpeech(text string, audio []byte) error
}

// CachedSpeaker synthesises phrases and keeps the cacheable ones.
type CachedSpeaker struct {
	synth Synthesizer
	sink  AudioSink
	cache SpeechCache
}

func NewCachedSpeaker(synth Synthesizer, sink AudioSink, cache SpeechCache) *CachedSpeaker {
	return &CachedSpeaker{synth: synth, sink: sink, cache: cache}
}

// Play speaks text, replaying cached audio for cacheable phrases when available.
func (s *CachedSpeaker) Play(ctx context.Context, text string, cacheable bool) error {
	audio, err := s.render(ctx, text, cacheable)
	if err != nil {
		return err
	}
	if err := s.sink.PlayAudio(ctx, audio); err != nil {
		return fmt.Errorf("failed to play audio: %w", err)
	}
	return nil
}

// Precache renders phrases ahead of time so later playback needs no network.
func (s *CachedSpeaker) Precache(ctx context.Context, phrases ...string) error {
	for _, p := range phrases {
		if _, err := s.render(ctx, p, true); err != nil {
			return err
		}
	}
	slog.Debug("CachedSpeaker.Precache succeeded", "count", len(phrases))
	return nil
}

func (s *CachedSpeaker) render(ctx context.Context, text string, cacheable bool) ([]byte, error) {
	if cacheable && s.cache != nil {
		audio, ok, err := s.cache.GetSpeech(text)
		if err != nil {
			slog.Warn("CachedSpeaker: cache lookup failed", "error", err)
		} else if ok {
			slog.Debug("CachedSpeaker: cache hit", "text", text)
			return audio, nil
		}
	}

	audio, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	if cacheable && s.cache != nil {
		if err := s.cache.PutSpeech(text, audio); err != nil {
			slog.Warn("CachedSpeaker: cache store failed", "error", err)
		}
	}
	return audio, nil
}

// TranscribingListener records an utterance and transcribes it.
type TranscribingListener struct {
	source      AudioSource
	transcriber Transcriber
	silenceRMS  float64
}

// ListenerOption configures a TranscribingListener.
type ListenerOption func(*TranscribingListener)

// WithSilenceThreshold sets the RMS below which recordings are not transcribed.
// Zero transcribes everything.
func WithSilenceThreshold(rms float64) ListenerOption {
	return func(l *TranscribingListener) { l.silenceRMS = rms }
}

func NewTranscribingListener(source AudioSource, transcriber Transcriber, opts ...ListenerOption) *TranscribingListener {
	l := &TranscribingListener{source: source, transcriber: transcriber, silenceRMS: DefaultSilenceRMS}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Listen returns "" for anything that could not be understood. Only recording
// errors and cancellation are reported as errors.
func (l *TranscribingListener) Listen(ctx context.Context) (string, error) {
	audio, err := l.source.Record(ctx)
	if err != nil {
		return "", err
	}
	if len(audio) == 0 {
		return "", nil
	}
	if isSilent(audio, l.silenceRMS) {
		slog.Debug("TranscribingListener: silence, skipping transcription", "bytes", len(audio))
		return "", nil
	}
	text, err := l.transcriber.Transcribe(ctx, audio)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("TranscribingListener: transcription failed, treating as unrecognized", "error", err)
		return "", nil
	}
	return strings.TrimSpace(text), nil
}
