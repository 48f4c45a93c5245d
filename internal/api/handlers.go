package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/TikhonP/heytelepat-speaker/internal/engine"
	"github.com/TikhonP/heytelepat-speaker/internal/models"
	"github.com/TikhonP/heytelepat-speaker/internal/transport"
)

// respond encodes body as JSON. A body that cannot be encoded turns into a
// 500 naming the endpoint, so a status poller still gets a parseable reply.
func respond(w http.ResponseWriter, r *http.Request, statusCode int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.respond: failed to encode status body", "path", r.URL.Path, "error", err)
		statusCode = http.StatusInternalServerError
		data, _ = json.Marshal(models.Error("status unavailable: " + r.URL.Path))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Warn("Server.respond: client went away", "path", r.URL.Path, "status", statusCode, "error", err)
		return
	}
	slog.Debug("Server.respond: sent", "path", r.URL.Path, "status", statusCode, "bytes", len(data))
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// healthHandler reports whether every event channel is connected.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	channels := make(map[string]string, len(s.channels))
	status := "healthy"
	for _, c := range s.channels {
		state := c.State()
		channels[c.Stream()] = state.String()
		if state != transport.StateConnected {
			status = "degraded"
		}
	}

	healthData := map[string]any{
		"status":    status,
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"channels":  channels,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	respond(w, r, statusCode, healthData)
}

// dialogsHandler lists the live dialog of every stream.
func (s *Server) dialogsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.dialogsHandler: processing request", "method", r.Method)
	if !allowGet(w, r) {
		return
	}
	statuses := make([]engine.Status, 0, len(s.dialogs))
	for _, d := range s.dialogs {
		statuses = append(statuses, d.Status())
	}
	respond(w, r, http.StatusOK, models.Success(statuses))
}

// submissionsHandler returns the local submission log.
func (s *Server) submissionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.submissionsHandler: processing request", "method", r.Method)
	if !allowGet(w, r) {
		return
	}
	subs, err := s.submissions.GetSubmissions()
	if err != nil {
		slog.Error("Error fetching submissions", "error", err)
		respond(w, r, http.StatusInternalServerError, models.Error("Failed to fetch submissions"))
		return
	}
	slog.Debug("submissions fetched", "count", len(subs))
	respond(w, r, http.StatusOK, models.Success(subs))
}
