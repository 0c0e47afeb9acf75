// Package steps contains the step-detection classifier: the stateful
// algorithm that turns raw tri-axial acceleration samples into step/no-step
// decisions. The package is pure logic with no I/O and no clock of its own;
// timestamps arrive on each sample, so identical input streams always
// reproduce identical output (replayable in tests and by cmd/tools/replay).
//
// Callers feed samples one at a time through Process. The classifier keeps a
// bounded amount of state: the timestamp of the last accepted step and a
// fixed-capacity history of recent sample signatures for diagnostics. It does
// no locking; a single producer must serialize calls (internal/ingest does).
package steps

import (
	"errors"
	"fmt"
	"math"
)

// HistoryCap is the fixed capacity of the signature history ring buffer.
const HistoryCap = 10

// ErrInvalidConfig is returned by NewClassifier and Reconfigure when a
// configuration value is out of range. Use errors.Is to match.
var ErrInvalidConfig = errors.New("steps: invalid config")

// Sample is one accelerometer reading. Components are in m/s² and may
// include gravity. Timestamp is caller-supplied monotonic milliseconds; the
// classifier never consults a wall clock.
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp_ms"`
}

// Signature is the retained per-sample summary kept in the diagnostic
// history buffer. One is recorded for every processed sample, accepted or
// not.
type Signature struct {
	Magnitude        float64 `json:"magnitude"`
	VerticalMovement float64 `json:"vertical_movement"`
	Confidence       float64 `json:"confidence"`
	Timestamp        int64   `json:"timestamp_ms"`
}

// Event is an accepted step. Ownership passes to the caller; the classifier
// retains nothing beyond its signature history.
type Event struct {
	Timestamp  int64   `json:"timestamp_ms"`
	Confidence float64 `json:"confidence"`
	Accepted   bool    `json:"accepted"`
}

// Config holds the classifier thresholds and indicator weights. The zero
// value is a legal (if useless) configuration; start from DefaultConfig and
// override fields instead.
type Config struct {
	// CooldownMillis is the minimum gap after an accepted step before
	// another may be accepted. A sample inside the window always fails the
	// interval test.
	CooldownMillis int64 `json:"cooldown_millis"`

	// ConfidenceThreshold is the score a sample must strictly exceed to be
	// accepted. Must lie in [0,1].
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// MovementThreshold is the total-magnitude floor (m/s²) for the
	// significant-movement indicator. 9.8 means "more than gravity alone".
	MovementThreshold float64 `json:"movement_threshold"`

	// VerticalThreshold is the |y| floor (m/s²) for the vertical-step
	// indicator.
	VerticalThreshold float64 `json:"vertical_threshold"`

	// Indicator weights. Each true indicator contributes its weight to the
	// confidence score; weights need not sum to 1 and the score is not
	// clamped, so misconfigured weights can yield confidence above 1.
	MovementWeight float64 `json:"movement_weight"`
	IntervalWeight float64 `json:"interval_weight"`
	VerticalWeight float64 `json:"vertical_weight"`
}

// DefaultConfig returns the stock tuning: 250ms cooldown, accept above 0.7
// confidence, movement beyond one gravity, 6 m/s² vertical, weights
// 0.4/0.3/0.3.
func DefaultConfig() Config {
	return Config{
		CooldownMillis:      250,
		ConfidenceThreshold: 0.7,
		MovementThreshold:   9.8,
		VerticalThreshold:   6.0,
		MovementWeight:      0.4,
		IntervalWeight:      0.3,
		VerticalWeight:      0.3,
	}
}

// Validate reports whether the configuration is usable. Thresholds and
// weights must be finite, the confidence threshold must lie in [0,1], and
// the cooldown must not be negative.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"confidence_threshold", c.ConfidenceThreshold},
		{"movement_threshold", c.MovementThreshold},
		{"vertical_threshold", c.VerticalThreshold},
		{"movement_weight", c.MovementWeight},
		{"interval_weight", c.IntervalWeight},
		{"vertical_weight", c.VerticalWeight},
	} {
		if !finite(f.val) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidConfig, f.name)
		}
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold %v outside [0,1]", ErrInvalidConfig, c.ConfidenceThreshold)
	}
	if c.CooldownMillis < 0 {
		return fmt.Errorf("%w: cooldown_millis %d is negative", ErrInvalidConfig, c.CooldownMillis)
	}
	return nil
}

// Classifier is the stateful step detector. Not safe for concurrent use.
type Classifier struct {
	cfg Config

	// lastPeak is the timestamp of the last accepted step. hasPeak
	// distinguishes "no step yet" from a step at t=0: before the first
	// acceptance the interval test passes unconditionally.
	lastPeak int64
	hasPeak  bool

	// history is a FIFO ring of the most recent signatures. start indexes
	// the oldest entry; count never exceeds HistoryCap.
	history [HistoryCap]Signature
	start   int
	count   int
}

// NewClassifier validates cfg and returns a classifier in the armed state
// (no prior step, empty history).
func NewClassifier(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{cfg: cfg}, nil
}

// Config returns the active configuration.
func (c *Classifier) Config() Config { return c.cfg }

// Reconfigure swaps in a new configuration, keeping the last-peak state and
// signature history. Returns ErrInvalidConfig (wrapped) without changing
// anything if cfg fails validation.
func (c *Classifier) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// Process classifies one sample. It returns the step event and true when the
// sample is accepted as a step, and the zero Event and false otherwise. The
// signature history is updated on every call regardless of the decision.
//
// Non-finite components degrade deterministically: they can never satisfy
// the movement or vertical indicators, so the worst a glitched sample can do
// is contribute the interval weight. A sample whose timestamp does not
// advance past the cooldown window (including out-of-order timestamps, whose
// negative interval never exceeds the cooldown) fails the interval test.
func (c *Classifier) Process(s Sample) (Event, bool) {
	magnitude := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
	vertical := math.Abs(s.Y)

	validInterval := true
	if c.hasPeak {
		validInterval = s.Timestamp-c.lastPeak > c.cfg.CooldownMillis
	}

	// finite() guards keep +Inf from sailing over the thresholds; NaN
	// comparisons are already false.
	significantMovement := finite(magnitude) && magnitude > c.cfg.MovementThreshold
	verticalStep := finite(vertical) && vertical > c.cfg.VerticalThreshold

	confidence := 0.0
	if significantMovement {
		confidence += c.cfg.MovementWeight
	}
	if validInterval {
		confidence += c.cfg.IntervalWeight
	}
	if verticalStep {
		confidence += c.cfg.VerticalWeight
	}

	c.record(Signature{
		Magnitude:        magnitude,
		VerticalMovement: vertical,
		Confidence:       confidence,
		Timestamp:        s.Timestamp,
	})

	// The interval gates acceptance on top of its confidence contribution.
	// The double-counting is inherited behavior, kept so tuned deployments
	// classify identically.
	if confidence > c.cfg.ConfidenceThreshold && validInterval {
		c.lastPeak = s.Timestamp
		c.hasPeak = true
		return Event{Timestamp: s.Timestamp, Confidence: confidence, Accepted: true}, true
	}
	return Event{}, false
}

// record appends sig, evicting the oldest entry once the ring is full.
func (c *Classifier) record(sig Signature) {
	if c.count < HistoryCap {
		c.history[(c.start+c.count)%HistoryCap] = sig
		c.count++
		return
	}
	c.history[c.start] = sig
	c.start = (c.start + 1) % HistoryCap
}

// History returns copies of the retained signatures, oldest first.
func (c *Classifier) History() []Signature {
	out := make([]Signature, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.history[(c.start+i)%HistoryCap]
	}
	return out
}

// LastSignature returns the signature recorded for the most recently
// processed sample, and false if nothing has been processed yet. Callers
// persisting per-sample scores read this after Process instead of
// recomputing the magnitude.
func (c *Classifier) LastSignature() (Signature, bool) {
	if c.count == 0 {
		return Signature{}, false
	}
	return c.history[(c.start+c.count-1)%HistoryCap], true
}

// LastPeak returns the timestamp of the most recently accepted step and
// whether any step has been accepted yet.
func (c *Classifier) LastPeak() (int64, bool) { return c.lastPeak, c.hasPeak }

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
