package vlprediction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/vlpredict/internal/platform/websocket"
)

// EventStateChanged is the websocket event type carrying a State.
const EventStateChanged = "vl-suppression.state"

const (
	topicPrefix = "Patient/"
	topicSuffix = "/vl-suppression"
)

// StatePublisher receives every state a session passes through.
type StatePublisher interface {
	PublishState(ctx context.Context, s State)
}

// Topic is the websocket topic for a patient's prediction states.
func Topic(patientUUID string) string {
	return topicPrefix + patientUUID + topicSuffix
}

// IsTopic reports whether t is a prediction topic.
func IsTopic(t string) bool {
	if !strings.HasPrefix(t, topicPrefix) || !strings.HasSuffix(t, topicSuffix) {
		return false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(t, topicPrefix), topicSuffix)
	return id != "" && !strings.Contains(id, "/")
}

// HubPublisher forwards states to websocket subscribers of the patient's
// topic.
type HubPublisher struct {
	events websocket.EventPublisher
	logger zerolog.Logger
}

func NewHubPublisher(events websocket.EventPublisher, logger zerolog.Logger) *HubPublisher {
	return &HubPublisher{events: events, logger: logger}
}

func (p *HubPublisher) PublishState(ctx context.Context, s State) {
	data, err := json.Marshal(s)
	if err != nil {
		p.logger.Error().Err(err).Str("patient", s.Patient).Msg("marshal state")
		return
	}
	err = p.events.Publish(ctx, websocket.Event{
		Type:    EventStateChanged,
		Topic:   Topic(s.Patient),
		Patient: s.Patient,
		Data:    data,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("patient", s.Patient).Msg("publish state")
	}
}

type discardPublisher struct{}

func (discardPublisher) PublishState(context.Context, State) {}
