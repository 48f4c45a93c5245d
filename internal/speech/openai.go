package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// speechService defines the minimal TTS interface used here.
type speechService interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// transcriptionService defines the minimal speech-to-text interface used here.
type transcriptionService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// Opts holds configuration for the OpenAI speech adapters.
type Opts struct {
	APIKey   string
	Voice    string
	Language string
}

// Option configures Opts.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVoice selects the TTS voice.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Opts) { o.Language = lang }
}

// OpenAIClient renders and transcribes speech through the OpenAI audio API.
// It satisfies both Synthesizer and Transcriber.
type OpenAIClient struct {
	speech         speechService
	transcriptions transcriptionService
	voice          string
	language       string
}

// NewOpenAIClient creates the adapters from options.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := Opts{Voice: string(openai.AudioSpeechNewParamsVoiceAlloy), Language: "ru"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAIClient{
		speech:         &cli.Audio.Speech,
		transcriptions: &cli.Audio.Transcriptions,
		voice:          cfg.Voice,
		language:       cfg.Language,
	}, nil
}

// Synthesize renders text as WAV audio.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice(c.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech audio: %w", err)
	}
	return audio, nil
}

// Transcribe converts WAV audio to text.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	res, err := c.transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(audio), "speech.wav", "audio/wav"),
		Model:    openai.AudioModelWhisper1,
		Language: openai.String(c.language),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	return res.Text, nil
}
