package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewEventDecodesMeasurement(t *testing.T) {
	raw := []byte(`{"id": 42, "title": "Пульс", "fields": [{"name": "pulse", "text": "пульса", "type": "integer"}]}`)
	ev, err := NewEvent(StreamMeasurements, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != StreamMeasurements {
		t.Errorf("expected type %q, got %q", StreamMeasurements, ev.Type)
	}
	id, ok := ev.MeasurementID()
	if !ok || id != 42 {
		t.Errorf("expected measurement id 42, got %d (ok=%v)", id, ok)
	}

	req, err := ParseMeasurementRequest(ev.Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Fields) != 1 || req.Fields[0].Type != ValueTypeInteger {
		t.Errorf("fields not decoded correctly: %+v", req.Fields)
	}
}

func TestNewEventRejectsGarbage(t *testing.T) {
	if _, err := NewEvent(StreamMeasurements, []byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestParseMeasurementRequestRequiresID(t *testing.T) {
	_, err := ParseMeasurementRequest(map[string]any{"title": "Вес"})
	if !errors.Is(err, ErrMissingMeasurementID) {
		t.Errorf("expected ErrMissingMeasurementID, got %v", err)
	}
}

func TestMeasurementDescriptionPrecedence(t *testing.T) {
	tests := []struct {
		name string
		req  MeasurementRequest
		want string
	}{
		{"custom text", MeasurementRequest{Title: "Вес", CustomText: "Взвесьтесь", PatientDescription: "Описание"}, "Взвесьтесь"},
		{"patient description", MeasurementRequest{Title: "Вес", PatientDescription: "Описание"}, "Описание"},
		{"title", MeasurementRequest{Title: "Вес"}, "Пожалуйста, произведите измерение Вес"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.Description(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEventMergeOverlaysNewerData(t *testing.T) {
	old := Event{Type: StreamMeasurements, Data: map[string]any{"id": float64(1), "title": "a"}}
	newer := Event{Type: StreamMeasurements, Data: map[string]any{"title": "b"}}
	merged := old.Merge(newer)
	if merged.Data["title"] != "b" || merged.Data["id"] != float64(1) {
		t.Errorf("unexpected merge result: %+v", merged.Data)
	}
	if old.Data["title"] != "a" {
		t.Error("merge must not mutate the original event")
	}
}

func TestOutboundMessageJSON(t *testing.T) {
	b, err := json.Marshal(InitMessage("tok"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"token":"tok","request_type":"init"}` {
		t.Errorf("unexpected init message: %s", b)
	}

	b, err = json.Marshal(IsSentMessage("tok", 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"token":"tok","request_type":"is_sent","measurement_id":7}` {
		t.Errorf("unexpected is_sent message: %s", b)
	}
}

func TestCatalogResolveKeywordFirst(t *testing.T) {
	cat, ok := DefaultCatalog.Resolve("Пульс")
	if !ok || cat.Name != "pulse" || cat.ID != 1 || cat.Type != ValueTypeInteger {
		t.Errorf("expected pulse, got %+v (ok=%v)", cat, ok)
	}
}

func TestCatalogResolveDescriptionFallback(t *testing.T) {
	cat, ok := DefaultCatalog.Resolve("вес")
	if !ok || cat.Name != "weight" {
		t.Errorf("expected weight, got %+v (ok=%v)", cat, ok)
	}
}

func TestCatalogResolvePrecedence(t *testing.T) {
	// both pulse and systolic keywords occur, pulse is declared first
	cat, ok := DefaultCatalog.Resolve("пульс и верхнее давление")
	if !ok || cat.Name != "pulse" {
		t.Errorf("expected pulse, got %+v", cat)
	}

	cat, ok = DefaultCatalog.Resolve("систолическое")
	if !ok || cat.Name != "systolic_pressure" {
		t.Errorf("expected systolic_pressure, got %+v", cat)
	}
}

func TestCatalogResolveIgnoresShortWords(t *testing.T) {
	if cat, ok := DefaultCatalog.Resolve("в"); ok {
		t.Errorf("expected no match, got %+v", cat)
	}
	if _, ok := DefaultCatalog.Resolve("   "); ok {
		t.Error("expected no match for blank input")
	}
}

func TestCatalogByName(t *testing.T) {
	cat, ok := DefaultCatalog.ByName("peak_flow")
	if !ok || cat.ID != 38 {
		t.Errorf("expected peak_flow, got %+v", cat)
	}
	if _, ok := DefaultCatalog.ByName("nope"); ok {
		t.Error("expected unknown name to miss")
	}
}
