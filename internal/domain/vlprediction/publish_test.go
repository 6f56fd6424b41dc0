package vlprediction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/vlpredict/internal/platform/websocket"
)

type capturePublisher struct {
	events []websocket.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, e websocket.Event) error {
	c.events = append(c.events, e)
	return c.err
}

func TestTopic(t *testing.T) {
	if got := Topic("abc"); got != "Patient/abc/vl-suppression" {
		t.Errorf("unexpected topic %s", got)
	}

	tests := []struct {
		topic string
		want  bool
	}{
		{"Patient/abc/vl-suppression", true},
		{"Patient//vl-suppression", false},
		{"Patient/a/b/vl-suppression", false},
		{"Observation/abc/vl-suppression", false},
		{"Patient/abc", false},
	}
	for _, tt := range tests {
		if got := IsTopic(tt.topic); got != tt.want {
			t.Errorf("IsTopic(%q) = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestHubPublisher_PublishState(t *testing.T) {
	events := &capturePublisher{}
	pub := NewHubPublisher(events, zerolog.Nop())

	s, _ := Start("p-1")
	pub.PublishState(context.Background(), s)

	if len(events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events.events))
	}
	e := events.events[0]
	if e.Type != EventStateChanged || e.Topic != "Patient/p-1/vl-suppression" || e.Patient != "p-1" {
		t.Errorf("unexpected event %+v", e)
	}

	var body struct {
		Patient string                       `json:"patient"`
		Phase   string                       `json:"phase"`
		Fields  map[string]map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(e.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Phase != "gathering" || body.Fields["gender"]["status"] != "loading" {
		t.Errorf("unexpected payload %s", e.Data)
	}
}

func TestHubPublisher_PublishErrorIsSwallowed(t *testing.T) {
	events := &capturePublisher{err: errors.New("closed")}
	pub := NewHubPublisher(events, zerolog.Nop())

	s, _ := Start("p-1")
	pub.PublishState(context.Background(), s)
	if len(events.events) != 1 {
		t.Error("expected publish attempt")
	}
}

func TestState_MarshalJSON(t *testing.T) {
	s, _ := Start("p-1")
	s, _ = resolveAll(t, s, completeInput(), InputKey(testEndpoint))
	s, _ = Reduce(s, PredictionSucceeded{Key: s.Key, Result: PredictionResult{Classification: "Suppressed"}}, InputKey(testEndpoint))

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body map[string]any
	json.Unmarshal(data, &body)

	if body["phase"] != "ready" || body["prediction"] != "Suppressed" {
		t.Errorf("unexpected body %s", data)
	}
	in, ok := body["input"].(map[string]any)
	if !ok || in["last_indication_for_VL_Testing"] != "Routine" {
		t.Errorf("expected input in body, got %s", data)
	}
}
