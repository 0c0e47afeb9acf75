// Package ingest hosts the step classifier behind a single-consumer
// pipeline. All transports (serial, UDP, MQTT, replay tools) funnel raw
// payload strings into one Pipeline, which owns parsing, classification,
// persistence, and event publication.
package ingest

import (
	"fmt"
	"math"
	"sync"

	"github.com/murtazakamran18/count-steps/internal/db"
	"github.com/murtazakamran18/count-steps/internal/imu"
	"github.com/murtazakamran18/count-steps/internal/monitoring"
	"github.com/murtazakamran18/count-steps/internal/steps"
)

// Publisher receives accepted step events. Implementations must be safe for
// calls from the pipeline goroutine; publish failures are logged, never
// propagated back into the sample stream.
type Publisher interface {
	PublishStep(event steps.Event) error
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	SamplesTotal    int64  `json:"samples_total"`
	StepsTotal      int64  `json:"steps_total"`
	ParseErrors     int64  `json:"parse_errors"`
	IgnoredPayloads int64  `json:"ignored_payloads"`
	LastSampleMS    int64  `json:"last_sample_ms"`
	LastStepMS      int64  `json:"last_step_ms"`
	Source          string `json:"source"`
}

// Pipeline feeds accelerometer samples through the classifier and fans the
// results out to storage and the publisher. The classifier is not
// concurrency-safe, so Process and Reconfigure both run under p.mu; that
// single lock is what lets many transports share one Pipeline.
type Pipeline struct {
	mu         sync.Mutex
	classifier *steps.Classifier
	db         *db.DB
	publisher  Publisher
	source     string

	stats Stats
}

// NewPipeline wires a classifier to its sinks. db may be nil (replay tools
// classify without persisting); publisher may be nil when no broker is
// configured. source tags recorded step events, e.g. "serial" or "udp".
func NewPipeline(classifier *steps.Classifier, database *db.DB, publisher Publisher, source string) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		db:         database,
		publisher:  publisher,
		source:     source,
		stats:      Stats{Source: source},
	}
}

// HandlePayload routes one raw payload line. Sample payloads are parsed and
// classified; status payloads are logged at debug level; anything else is
// counted and dropped. Errors are returned for the caller's logging but the
// pipeline itself stays healthy regardless of input.
func (p *Pipeline) HandlePayload(payload string) error {
	switch imu.ClassifyPayload(payload) {
	case imu.PayloadTypeSampleCSV, imu.PayloadTypeSampleJSON:
		sample, err := imu.ParseSample(payload)
		if err != nil {
			p.mu.Lock()
			p.stats.ParseErrors++
			p.mu.Unlock()
			return fmt.Errorf("parse sample: %w", err)
		}
		p.HandleSample(sample)
		return nil
	case imu.PayloadTypeStatus:
		monitoring.Debugf("device status: %s", payload)
		p.mu.Lock()
		p.stats.IgnoredPayloads++
		p.mu.Unlock()
		return nil
	default:
		p.mu.Lock()
		p.stats.IgnoredPayloads++
		p.mu.Unlock()
		return fmt.Errorf("unrecognised payload: %q", truncate(payload, 60))
	}
}

// HandleSample classifies one sample and persists the outcome. Storage and
// publish failures are logged rather than returned: a flaky disk or broker
// must not stall the sample stream. Returns the accepted event, if any.
func (p *Pipeline) HandleSample(s steps.Sample) (steps.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	event, accepted := p.classifier.Process(s)

	magnitude := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
	confidence := 0.0
	if sig, ok := p.classifier.LastSignature(); ok {
		magnitude = sig.Magnitude
		confidence = sig.Confidence
	}

	p.stats.SamplesTotal++
	p.stats.LastSampleMS = s.Timestamp

	if p.db != nil {
		err := p.db.RecordSample(db.SampleRow{
			TimestampMS: s.Timestamp,
			X:           s.X,
			Y:           s.Y,
			Z:           s.Z,
			Magnitude:   magnitude,
			Confidence:  confidence,
		})
		if err != nil {
			monitoring.Logf("failed to record sample: %v", err)
		}
	}

	if !accepted {
		return steps.Event{}, false
	}

	p.stats.StepsTotal++
	p.stats.LastStepMS = event.Timestamp
	monitoring.Debugf("step detected: ts=%d confidence=%.2f", event.Timestamp, event.Confidence)

	if p.db != nil {
		err := p.db.RecordStepEvent(db.StepEventRow{
			TimestampMS: event.Timestamp,
			Confidence:  event.Confidence,
			Magnitude:   magnitude,
			Source:      p.source,
		})
		if err != nil {
			monitoring.Logf("failed to record step event: %v", err)
		}
	}

	if p.publisher != nil {
		if err := p.publisher.PublishStep(event); err != nil {
			monitoring.Logf("failed to publish step event: %v", err)
		}
	}

	return event, true
}

// Snapshot returns a copy of the pipeline counters.
func (p *Pipeline) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Config returns the classifier's current configuration.
func (p *Pipeline) Config() steps.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classifier.Config()
}

// SetConfig swaps the classifier tuning at runtime. Validation failures
// leave the old configuration in place.
func (p *Pipeline) SetConfig(cfg steps.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.classifier.Reconfigure(cfg); err != nil {
		return err
	}
	monitoring.Logf("classifier reconfigured: threshold=%.2f cooldown=%dms",
		cfg.ConfidenceThreshold, cfg.CooldownMillis)
	return nil
}

// History returns the classifier's recent per-sample signatures, newest
// last.
func (p *Pipeline) History() []steps.Signature {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classifier.History()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
