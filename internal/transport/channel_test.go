package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TikhonP/heytelepat-speaker/internal/metrics"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/testutil"
)

var testMetrics = metrics.DefaultMetrics

type initRecorder struct {
	mu    sync.Mutex
	inits []models.OutboundMessage
}

func (r *initRecorder) add(m models.OutboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits = append(r.inits, m)
}

func (r *initRecorder) all() []models.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OutboundMessage(nil), r.inits...)
}

func TestChannelReconnectsAndResendsInit(t *testing.T) {
	rec := &initRecorder{}
	var (
		mu    sync.Mutex
		conns int
	)

	url := testutil.NewWSServer(t, func(conn *websocket.Conn) {
		var init models.OutboundMessage
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		rec.add(init)

		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		conn.WriteJSON(map[string]any{"id": n, "title": "pulse"})
		if n == 1 {
			// drop the first connection mid-stream
			return
		}
		conn.ReadMessage()
	})

	ch := New("measurements", url, "tok", WithReconnectIntervals(10*time.Millisecond, 50*time.Millisecond), WithMetrics(testMetrics))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []float64
	for msg := range ch.Messages(ctx) {
		var body map[string]any
		if err := json.Unmarshal(msg, &body); err != nil {
			t.Fatalf("bad message: %v", err)
		}
		ids = append(ids, body["id"].(float64))
		if len(ids) == 2 {
			break
		}
	}

	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected messages from both connections, got %v", ids)
	}
	inits := rec.all()
	if len(inits) != 2 {
		t.Fatalf("expected init on each connection, got %d", len(inits))
	}
	for _, m := range inits {
		if m.Token != "tok" || m.RequestType != models.RequestTypeInit {
			t.Errorf("unexpected init message %+v", m)
		}
	}
	if ch.State() != StateDisconnected {
		t.Errorf("expected disconnected after iteration stops, got %v", ch.State())
	}
}

func TestChannelSend(t *testing.T) {
	got := make(chan models.OutboundMessage, 1)

	url := testutil.NewWSServer(t, func(conn *websocket.Conn) {
		var init models.OutboundMessage
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"id": 7})
		var m models.OutboundMessage
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		got <- m
		conn.ReadMessage()
	})

	ch := New("measurements", url, "tok", WithMetrics(testMetrics))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.Send(ctx, models.IsSentMessage("tok", 7)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before connecting, got %v", err)
	}

	for range ch.Messages(ctx) {
		if ch.State() != StateConnected {
			t.Errorf("expected connected while delivering, got %v", ch.State())
		}
		if err := ch.Send(ctx, models.IsSentMessage("tok", 7)); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		break
	}

	select {
	case m := <-got:
		if m.RequestType != models.RequestTypeIsSent || m.MeasurementID == nil || *m.MeasurementID != 7 {
			t.Errorf("unexpected outbound message %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("server never received the outbound message")
	}
}

func TestChannelReconnectsAfterUndecodableMessage(t *testing.T) {
	rec := &initRecorder{}
	var (
		mu    sync.Mutex
		conns int
	)

	url := testutil.NewWSServer(t, func(conn *websocket.Conn) {
		var init models.OutboundMessage
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		rec.add(init)
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()
		if n == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		} else {
			conn.WriteJSON(map[string]any{"id": 3})
		}
		conn.ReadMessage()
	})

	ch := New("measurements", url, "tok", WithReconnectIntervals(10*time.Millisecond, 50*time.Millisecond), WithMetrics(testMetrics))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msgs int
	for range ch.Messages(ctx) {
		msgs++
		break
	}
	if msgs != 1 {
		t.Fatalf("expected one valid message, got %d", msgs)
	}
	if n := len(rec.all()); n != 2 {
		t.Errorf("expected reconnect after decode error, got %d connections", n)
	}
}

func TestChannelStopsOnCancelWhileServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ch := New("measurements", url, "tok", WithReconnectIntervals(5*time.Millisecond, 20*time.Millisecond), WithMetrics(testMetrics))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch.Messages(ctx) {
			t.Error("no message expected from a dead server")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("iteration did not stop after cancellation")
	}
}

func TestURL(t *testing.T) {
	if got := URL("speaker.example.com", true, "measurements"); got != "wss://speaker.example.com/ws/speakerapi/measurements/" {
		t.Errorf("unexpected secure url %q", got)
	}
	if got := URL("localhost:8000", false, "measurements"); got != "ws://localhost:8000/ws/speakerapi/measurements/" {
		t.Errorf("unexpected url %q", got)
	}
}
