package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/TikhonP/heytelepat-speaker/internal/engine"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/store"
	"github.com/TikhonP/heytelepat-speaker/internal/testutil"
	"github.com/TikhonP/heytelepat-speaker/internal/transport"
)

type stubDialogs struct{ status engine.Status }

func (s stubDialogs) Status() engine.Status { return s.status }

type stubChannel struct {
	stream string
	state  transport.State
}

func (s stubChannel) Stream() string          { return s.stream }
func (s stubChannel) State() transport.State { return s.state }

type failingSubmissions struct{}

func (failingSubmissions) GetSubmissions() ([]models.Submission, error) {
	return nil, errors.New("db down")
}

func newTestServer(state transport.State, subs SubmissionSource) *Server {
	return NewServer("test", subs,
		[]DialogSource{stubDialogs{status: engine.Status{Stream: models.StreamMeasurements, DialogID: "dlg-1", State: "ready_gate"}}},
		[]ChannelSource{stubChannel{stream: models.StreamMeasurements, state: state}})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	rr := get(t, newTestServer(transport.StateConnected, store.NewInMemoryStore()).Handler(), "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}

	rr = get(t, newTestServer(transport.StateConnecting, store.NewInMemoryStore()).Handler(), "/healthz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while disconnected, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"measurements":"connecting"`) {
		t.Errorf("expected channel state in body, got %s", rr.Body.String())
	}
}

func TestDialogsHandler(t *testing.T) {
	rr := get(t, newTestServer(transport.StateConnected, store.NewInMemoryStore()).Handler(), "/dialogs")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "dialogs")
	var resp struct {
		Status string          `json:"status"`
		Result []engine.Status `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || len(resp.Result) != 1 || resp.Result[0].DialogID != "dlg-1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSubmissionsHandler(t *testing.T) {
	st := store.NewInMemoryStore()
	st.AddSubmission(models.Submission{DialogID: "dlg-1", CategoryName: "pulse", Value: "72", Status: models.SubmissionStatusOK})

	rr := get(t, newTestServer(transport.StateConnected, st).Handler(), "/submissions")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"category_name":"pulse"`) {
		t.Errorf("expected submission in body, got %s", rr.Body.String())
	}

	rr = get(t, newTestServer(transport.StateConnected, failingSubmissions{}).Handler(), "/submissions")
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "submissions with failing store")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(transport.StateConnected, store.NewInMemoryStore()).Handler()
	for _, path := range []string{"/healthz", "/dialogs", "/submissions"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", path, rr.Code)
		}
		if rr.Header().Get("Allow") != http.MethodGet {
			t.Errorf("%s: expected Allow header", path)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rr := get(t, newTestServer(transport.StateConnected, store.NewInMemoryStore()).Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRespondFallsBackOnUnencodableBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dialogs", nil)
	rr := httptest.NewRecorder()
	respond(rr, req, http.StatusOK, map[string]any{"bad": make(chan int)})

	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unencodable body")
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("fallback body is not JSON: %v", err)
	}
	if resp.Status != string(models.APIStatusError) || resp.Message != "status unavailable: /dialogs" {
		t.Errorf("expected fallback naming the endpoint, got %+v", resp)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
}
