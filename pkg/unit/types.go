package unit

import "time"

// Event is anything published on the event bus.
type Event interface {
	Type() string
	Domain() string
	Payload() any
	Timestamp() time.Time
	CorrelationID() string
}

// PipelineScoped is implemented by events that concern a single pipeline.
// Event stores index on it.
type PipelineScoped interface {
	PipelineID() string
}

// EventPublisher publishes events. Implemented by the event buses.
type EventPublisher interface {
	Publish(event Event) error
}
