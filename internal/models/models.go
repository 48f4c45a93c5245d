// Package models defines the core data structures for the speaker.
//
// It includes server events, measurement requests, outbound channel messages and
// the value submission records shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ValueType describes how a spoken measurement value must be parsed.
type ValueType string

const (
	// ValueTypeInteger accepts digit-only input.
	ValueTypeInteger ValueType = "integer"
	// ValueTypeFloat accepts digit-only input or a "<digits> и <digits>" phrase.
	ValueTypeFloat ValueType = "float"
	// ValueTypeString accepts the transcript verbatim.
	ValueTypeString ValueType = "string"
)

// IsValid reports whether the value type is one the dialogs know how to parse.
func (t ValueType) IsValid() bool {
	switch t {
	case ValueTypeInteger, ValueTypeFloat, ValueTypeString:
		return true
	default:
		return false
	}
}

// RequestType identifies an outbound channel message.
type RequestType string

const (
	// RequestTypeInit is sent once per connection to identify the device.
	RequestTypeInit RequestType = "init"
	// RequestTypeIsSent acknowledges that a measurement reminder was announced.
	RequestTypeIsSent RequestType = "is_sent"
)

// Stream names the server endpoints events arrive on.
const (
	StreamMeasurements = "measurements"
	// StreamLocal carries dialogs started by a spoken command rather than the server.
	StreamLocal        = "local"
)

// Error variables for better error handling and testability
var (
	ErrMissingMeasurementID = errors.New("measurement event has no id")
	ErrNoFields             = errors.New("measurement event has no fields")
)

// Event is a server-originated notification requiring conversational handling.
// Type is the stream the event arrived on.
type Event struct {
	Type       string         `json:"type"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
}

// NewEvent decodes a raw channel message into an Event for the given stream.
func NewEvent(stream string, raw []byte) (Event, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return Event{}, fmt.Errorf("failed to decode %s event: %w", stream, err)
	}
	return Event{Type: stream, Data: data, ReceivedAt: time.Now()}, nil
}

// MeasurementID returns the numeric "id" of the event payload, if present.
func (e Event) MeasurementID() (int, bool) {
	switch v := e.Data["id"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// Merge returns a copy of the event whose data is overlaid with newer data.
func (e Event) Merge(newer Event) Event {
	merged := make(map[string]any, len(e.Data)+len(newer.Data))
	for k, v := range e.Data {
		merged[k] = v
	}
	for k, v := range newer.Data {
		merged[k] = v
	}
	return Event{Type: e.Type, Data: merged, ReceivedAt: newer.ReceivedAt}
}

// Field is one value requested by a measurement event.
type Field struct {
	Name string    `json:"name"`
	Text string    `json:"text"`
	Type ValueType `json:"type"`
}

// MeasurementRequest is the typed view of a measurement event payload.
type MeasurementRequest struct {
	ID                 int     `json:"id"`
	Title              string  `json:"title"`
	CustomText         string  `json:"custom_text,omitempty"`
	PatientDescription string  `json:"patient_description,omitempty"`
	Fields             []Field `json:"fields"`
}

// ParseMeasurementRequest converts event data into a MeasurementRequest.
func ParseMeasurementRequest(data map[string]any) (MeasurementRequest, error) {
	var req MeasurementRequest
	raw, err := json.Marshal(data)
	if err != nil {
		return req, fmt.Errorf("failed to encode measurement data: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("failed to decode measurement data: %w", err)
	}
	if _, ok := data["id"]; !ok {
		return req, ErrMissingMeasurementID
	}
	return req, nil
}

// Description is the phrase used to announce the measurement.
func (r MeasurementRequest) Description() string {
	if r.CustomText != "" {
		return r.CustomText
	}
	if r.PatientDescription != "" {
		return r.PatientDescription
	}
	return "Пожалуйста, произведите измерение " + r.Title
}

// OutboundMessage is a message the device sends on an event channel.
type OutboundMessage struct {
	Token         string      `json:"token"`
	RequestType   RequestType `json:"request_type"`
	MeasurementID *int        `json:"measurement_id,omitempty"`
}

// InitMessage builds the identification message sent on every connect.
func InitMessage(token string) OutboundMessage {
	return OutboundMessage{Token: token, RequestType: RequestTypeInit}
}

// IsSentMessage acknowledges that the measurement with the given id was announced.
func IsSentMessage(token string, measurementID int) OutboundMessage {
	id := measurementID
	return OutboundMessage{Token: token, RequestType: RequestTypeIsSent, MeasurementID: &id}
}

// PendingValue is a measurement value assembled across dialog steps.
// It is submitted only once Value is set.
type PendingValue struct {
	CategoryID   int       `json:"category_id"`
	CategoryName string    `json:"category_name"`
	Type         ValueType `json:"type"`
	Value        any       `json:"value,omitempty"`
}

// Ready reports whether the value has been parsed and can be submitted.
func (p PendingValue) Ready() bool {
	return p.CategoryName != "" && p.Value != nil
}

// SubmissionStatus is the outcome of a value submission.
type SubmissionStatus string

const (
	SubmissionStatusOK     SubmissionStatus = "ok"
	SubmissionStatusFailed SubmissionStatus = "failed"
)

// Submission records one attempt to push a measurement value to the server.
type Submission struct {
	ID           int64            `json:"id"`
	DialogID     string           `json:"dialog_id"`
	CategoryName string           `json:"category_name"`
	Value        string           `json:"value"`
	Status       SubmissionStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
