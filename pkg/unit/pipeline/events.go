package pipeline

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeActionRequested   = "pipeline.action_requested"
	EventTypeActionSucceeded   = "pipeline.action_succeeded"
	EventTypeActionFailed      = "pipeline.action_failed"
	EventTypeStatusChanged     = "pipeline.status_changed"
	EventTypeDescriptorUpdated = "pipeline.descriptor_updated"
)

// Event is a pipeline history record published on the event bus.
type Event struct {
	eventType     string
	pipelineID    string
	payload       map[string]any
	timestamp     time.Time
	correlationID string
}

func newEvent(eventType, pipelineID, correlationID string, payload map[string]any) *Event {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return &Event{
		eventType:     eventType,
		pipelineID:    pipelineID,
		payload:       payload,
		timestamp:     time.Now(),
		correlationID: correlationID,
	}
}

func NewActionRequestedEvent(id string, action ActionKind, from ClientStatus, correlationID string) *Event {
	return newEvent(EventTypeActionRequested, id, correlationID, map[string]any{
		"action": string(action),
		"from":   from.String(),
	})
}

func NewActionSucceededEvent(id string, action ActionKind, correlationID string) *Event {
	return newEvent(EventTypeActionSucceeded, id, correlationID, map[string]any{
		"action": string(action),
	})
}

func NewActionFailedEvent(id string, action ActionKind, revertedTo ClientStatus, message, correlationID string) *Event {
	return newEvent(EventTypeActionFailed, id, correlationID, map[string]any{
		"action":      string(action),
		"error":       message,
		"reverted_to": revertedTo.String(),
	})
}

func NewStatusChangedEvent(id string, from, to ClientStatus, server ServerStatus) *Event {
	return newEvent(EventTypeStatusChanged, id, "", map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"server": server.String(),
	})
}

func NewDescriptorUpdatedEvent(id, name string, version int64) *Event {
	return newEvent(EventTypeDescriptorUpdated, id, "", map[string]any{
		"name":    name,
		"version": version,
	})
}

func (e *Event) Type() string          { return e.eventType }
func (e *Event) Domain() string        { return domain }
func (e *Event) Payload() any          { return e.payload }
func (e *Event) Timestamp() time.Time  { return e.timestamp }
func (e *Event) CorrelationID() string { return e.correlationID }
func (e *Event) PipelineID() string    { return e.pipelineID }
