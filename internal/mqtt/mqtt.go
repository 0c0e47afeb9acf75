// Package mqtt provides MQTT step-event publishing and sample ingestion,
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/murtazakamran18/count-steps/internal/steps"
)

// TopicSteps is the MQTT topic for accepted step events.
const TopicSteps = "pedometer/steps/events"

// TopicSystem is the MQTT topic for service lifecycle events.
const TopicSystem = "pedometer/steps/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishStep sends an accepted step to the broker.
	// Returns error if publishing fails (must not stall the sample stream).
	PublishStep(event steps.Event) error

	// PublishSystem sends a service lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a service lifecycle event (e.g., startup, shutdown,
// heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure for a step event.
type Payload struct {
	Step StepPayload `json:"step"`
}

// StepPayload contains the step event details. The millisecond timestamp is
// carried alongside the RFC3339 form because step intervals matter at
// sub-second resolution downstream.
type StepPayload struct {
	Timestamp   string  `json:"timestamp"`
	TimestampMS int64   `json:"timestamp_ms"`
	Confidence  float64 `json:"confidence"`
}

// FormatStepPayload creates the JSON payload for an accepted step.
func FormatStepPayload(event steps.Event) ([]byte, error) {
	payload := Payload{
		Step: StepPayload{
			Timestamp:   time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339),
			TimestampMS: event.Timestamp,
			Confidence:  event.Confidence,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (STARTUP, SHUTDOWN) that don't carry a full status
// snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status
// snapshots, e.g. a heartbeat carrying pipeline counters).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
