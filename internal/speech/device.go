package speech

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// CommandSink plays audio by piping it into an external player such as aplay.
type CommandSink struct {
	Name string
	Args []string
}

func (s CommandSink) PlayAudio(ctx context.Context, audio []byte) error {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", s.Name, err, stderr.String())
	}
	slog.Debug("CommandSink.PlayAudio succeeded", "bytes", len(audio))
	return nil
}

// CommandSource records one utterance by reading an external recorder's stdout.
type CommandSource struct {
	Name string
	Args []string
}

func (s CommandSource) Record(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.Name, s.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w: %s", s.Name, err, stderr.String())
	}
	slog.Debug("CommandSource.Record succeeded", "bytes", stdout.Len())
	return stdout.Bytes(), nil
}

// DefaultSink plays WAV through ALSA.
func DefaultSink() CommandSink {
	return CommandSink{Name: "aplay", Args: []string{"-q", "-"}}
}

// DefaultSource records five seconds of 16 kHz mono WAV through ALSA.
func DefaultSource() CommandSource {
	return CommandSource{Name: "arecord", Args: []string{"-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-d", "5", "-t", "wav", "-"}}
}
