// Package transport provides the reconnecting websocket channel events arrive on.
//
// One Channel serves one event stream. Messages yields inbound JSON objects for
// as long as the caller keeps iterating, reconnecting after every drop and
// re-sending the init message on each new connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/TikhonP/heytelepat-speaker/internal/metrics"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
)

// State is the connection state of a Channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Reconnect timing defaults.
const (
	DefaultInitialReconnectInterval = 500 * time.Millisecond
	DefaultMaxReconnectInterval     = 30 * time.Second
	defaultWriteTimeout             = 10 * time.Second
)

// ErrNotConnected is returned by Send while the channel has no live connection.
var ErrNotConnected = errors.New("event channel not connected")

// Opts holds Channel configuration.
type Opts struct {
	Dialer                   *websocket.Dialer
	Header                   http.Header
	InitialReconnectInterval time.Duration
	MaxReconnectInterval     time.Duration
	Metrics                  *metrics.Metrics
}

// Option configures a Channel.
type Option func(*Opts)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *Opts) { o.Dialer = d }
}

// WithHeader adds request headers to every dial.
func WithHeader(h http.Header) Option {
	return func(o *Opts) { o.Header = h }
}

// WithReconnectIntervals bounds the backoff between failed dials.
func WithReconnectIntervals(initial, max time.Duration) Option {
	return func(o *Opts) {
		o.InitialReconnectInterval = initial
		o.MaxReconnectInterval = max
	}
}

// WithMetrics sets the metrics sink. DefaultMetrics is used otherwise.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Channel is a reconnecting duplex message channel for one event stream.
type Channel struct {
	stream string
	url    string
	token  string
	opts   Opts

	state atomic.Int32

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex
}

// URL builds the endpoint of an event stream on the speaker API host.
func URL(host string, secure bool, stream string) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: "/ws/speakerapi/" + stream + "/"}
	return u.String()
}

// New creates a Channel. Nothing is dialled until Messages is iterated.
func New(stream, endpoint, token string, opts ...Option) *Channel {
	o := Opts{
		Dialer:                   websocket.DefaultDialer,
		InitialReconnectInterval: DefaultInitialReconnectInterval,
		MaxReconnectInterval:     DefaultMaxReconnectInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.DefaultMetrics
	}
	slog.Debug("Creating transport Channel", "stream", stream, "url", endpoint)
	return &Channel{stream: stream, url: endpoint, token: token, opts: o}
}

// Stream returns the stream name the channel serves.
func (c *Channel) Stream() string { return c.stream }

// State returns the current connection state.
func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		slog.Debug("Channel state changed", "stream", c.stream, "from", prev, "to", s)
		c.opts.Metrics.RecordConnected(c.stream, s == StateConnected)
	}
}

func (c *Channel) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialReconnectInterval
	bo.MaxInterval = c.opts.MaxReconnectInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Messages returns the lazy sequence of inbound messages. Iteration ends only when
// ctx is cancelled or the consumer stops; transport failures are recovered by
// reconnecting. Each call starts a fresh sequence.
func (c *Channel) Messages(ctx context.Context) iter.Seq[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		bo := c.newBackOff()
		first := true
		for ctx.Err() == nil {
			if !first {
				c.opts.Metrics.RecordReconnect(c.stream)
			}
			first = false

			conn, err := c.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := bo.NextBackOff()
				slog.Warn("Channel connect failed, retrying", "stream", c.stream, "error", err, "retryIn", wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
				continue
			}
			bo.Reset()

			more := c.pump(ctx, conn, yield)
			c.disconnect(conn)
			if !more {
				return
			}
		}
	}
}

func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StateConnecting)
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("failed to dial %s: %w", c.url, err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	err = conn.WriteJSON(models.InitMessage(c.token))
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("failed to send init message: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setState(StateConnected)
	slog.Info("Channel connected", "stream", c.stream)
	return conn, nil
}

func (c *Channel) disconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()
	c.setState(StateDisconnected)
}

// pump yields messages from one connection. It returns false when the consumer
// stopped iterating and true when the connection should be replaced.
func (c *Channel) pump(ctx context.Context, conn *websocket.Conn, yield func(json.RawMessage) bool) bool {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			slog.Warn("Channel read failed, reconnecting", "stream", c.stream, "error", err)
			return true
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(msg, &obj); err != nil {
			slog.Warn("Channel received undecodable message, reconnecting", "stream", c.stream, "error", err)
			c.opts.Metrics.RecordDecodeError(c.stream)
			return true
		}
		slog.Debug("Channel message received", "stream", c.stream, "bytes", len(msg))
		c.opts.Metrics.RecordEvent(c.stream)
		if !yield(json.RawMessage(msg)) {
			return false
		}
	}
}

// Send writes one JSON message on the live connection.
func (c *Channel) Send(ctx context.Context, msg any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		slog.Error("Channel Send error", "stream", c.stream, "error", err)
		return fmt.Errorf("failed to send on %s channel: %w", c.stream, err)
	}
	slog.Debug("Channel Send succeeded", "stream", c.stream)
	return nil
}
