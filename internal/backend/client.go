// Package backend talks to the speaker HTTP API of the medical server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	pushValuePath  = "/speakerapi/pushvalue/"
	maxBodyInError = 100
	defaultTimeout = 15 * time.Second
)

// StatusError is returned when the server answers a submission with anything but 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// Opts holds Client configuration.
type Opts struct {
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option configures a Client.
type Option func(*Opts)

// WithHTTPClient overrides the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client submits measurement values.
type Client struct {
	baseURL string
	http    *http.Client
}

// BaseURL builds the API root for a host.
func BaseURL(host string, secure bool) string {
	if secure {
		return "https://" + host
	}
	return "http://" + host
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := Opts{Timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: o.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, r *http.Request) string {
					return "speakerapi " + r.Method + " " + r.URL.Path
				})),
		}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc}
}

type pushValueItem struct {
	CategoryName string `json:"category_name"`
	Value        any    `json:"value"`
}

type pushValueRequest struct {
	Token string          `json:"token"`
	Data  []pushValueItem `json:"data"`
}

// SubmitValue pushes one measurement value. It is not retried.
func (c *Client) SubmitValue(ctx context.Context, token, categoryName string, value any) error {
	body, err := json.Marshal(pushValueRequest{
		Token: token,
		Data:  []pushValueItem{{CategoryName: categoryName, Value: value}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pushValuePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Client.SubmitValue request failed", "error", err, "category", categoryName)
		return fmt.Errorf("failed to push value: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxBodyInError))
		text := []rune(string(raw))
		if len(text) > maxBodyInError {
			text = text[:maxBodyInError]
		}
		serr := &StatusError{Code: resp.StatusCode, Body: string(text)}
		slog.Error("Client.SubmitValue rejected", "status", serr.Code, "body", serr.Body, "category", categoryName)
		return serr
	}
	slog.Debug("Client.SubmitValue succeeded", "category", categoryName, "value", value)
	return nil
}
