package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ConsoleIO speaks by printing and listens by reading lines. It stands in for the
// audio pipeline during development.
type ConsoleIO struct {
	out io.Writer

	mu    sync.Mutex
	lines chan string
	in    io.Reader
	once  sync.Once
}

func NewConsoleIO(in io.Reader, out io.Writer) *ConsoleIO {
	return &ConsoleIO{in: in, out: out, lines: make(chan string)}
}

func (c *ConsoleIO) Play(ctx context.Context, text string, cacheable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "speaker> %s\n", text)
	return err
}

// Listen waits for the next input line. EOF is reported as io.EOF.
func (c *ConsoleIO) Listen(ctx context.Context) (string, error) {
	c.once.Do(func() { go c.readLines() })
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *ConsoleIO) readLines() {
	defer close(c.lines)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		slog.Error("ConsoleIO: read failed", "error", err)
	}
}
