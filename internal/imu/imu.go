// Package imu parses the payload formats the sensor collaborators emit.
// Samples arrive one per line (serial), datagram (UDP) or message (MQTT) in
// either a compact CSV form or a JSON form; devices also echo status JSON in
// response to configuration commands.
package imu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/murtazakamran18/count-steps/internal/steps"
)

const (
	PayloadTypeSampleCSV  = "sample_csv"
	PayloadTypeSampleJSON = "sample_json"
	PayloadTypeStatus     = "status"
	PayloadTypeUnknown    = "unknown"
)

// ErrNotSample is wrapped by ParseSample when the payload is structurally
// recognizable but carries no acceleration reading.
var ErrNotSample = errors.New("payload is not a sample")

// ClassifyPayload inspects a payload string and returns a simple payload type
// token. The classification is intentionally conservative: it sniffs markers
// rather than fully parsing, so the pipeline can cheaply route or drop lines.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	if strings.HasPrefix(p, "{") {
		if strings.Contains(p, "\"x\"") || strings.Contains(p, "accel_") || strings.Contains(p, "timestamp") {
			return PayloadTypeSampleJSON
		}
		// Devices echo command acknowledgements and config dumps as JSON
		// without acceleration fields.
		return PayloadTypeStatus
	}
	if strings.Count(p, ",") == 3 {
		return PayloadTypeSampleCSV
	}
	return PayloadTypeUnknown
}

// sampleJSON covers both JSON dialects seen in the field: the bridge format
// (x/y/z with a millisecond timestamp) and phone logger exports
// (accel_x/accel_y/accel_z with a nanosecond timestamp). Pointer fields
// distinguish absent from zero.
type sampleJSON struct {
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Z           *float64 `json:"z"`
	TimestampMS *int64   `json:"timestamp_ms"`

	AccelX      *float64 `json:"accel_x"`
	AccelY      *float64 `json:"accel_y"`
	AccelZ      *float64 `json:"accel_z"`
	TimestampNS *int64   `json:"timestamp_ns"`
}

// ParseSample decodes one payload into a sample. It accepts the CSV line
// format `ts_ms,x,y,z` and both JSON dialects; nanosecond timestamps are
// scaled to milliseconds. Status echoes and unrecognizable payloads return an
// error (wrapping ErrNotSample where the structure was valid JSON without a
// reading) so the caller can log and drop them without stalling the stream.
func ParseSample(payload string) (steps.Sample, error) {
	p := strings.TrimSpace(payload)
	if p == "" {
		return steps.Sample{}, fmt.Errorf("empty payload")
	}
	if strings.HasPrefix(p, "{") {
		return parseJSON(p)
	}
	return parseCSV(p)
}

func parseJSON(p string) (steps.Sample, error) {
	var raw sampleJSON
	if err := json.Unmarshal([]byte(p), &raw); err != nil {
		return steps.Sample{}, fmt.Errorf("decode sample json: %w", err)
	}

	var s steps.Sample
	switch {
	case raw.X != nil || raw.Y != nil || raw.Z != nil:
		if raw.X == nil || raw.Y == nil || raw.Z == nil {
			return steps.Sample{}, fmt.Errorf("sample json missing x/y/z component")
		}
		s.X, s.Y, s.Z = *raw.X, *raw.Y, *raw.Z
	case raw.AccelX != nil || raw.AccelY != nil || raw.AccelZ != nil:
		if raw.AccelX == nil || raw.AccelY == nil || raw.AccelZ == nil {
			return steps.Sample{}, fmt.Errorf("sample json missing accel component")
		}
		s.X, s.Y, s.Z = *raw.AccelX, *raw.AccelY, *raw.AccelZ
	default:
		return steps.Sample{}, fmt.Errorf("%w: no acceleration fields", ErrNotSample)
	}

	switch {
	case raw.TimestampMS != nil:
		s.Timestamp = *raw.TimestampMS
	case raw.TimestampNS != nil:
		s.Timestamp = *raw.TimestampNS / 1e6
	default:
		return steps.Sample{}, fmt.Errorf("sample json missing timestamp")
	}
	return s, nil
}

func parseCSV(p string) (steps.Sample, error) {
	fields := strings.Split(p, ",")
	if len(fields) != 4 {
		return steps.Sample{}, fmt.Errorf("sample csv has %d fields, want 4", len(fields))
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return steps.Sample{}, fmt.Errorf("parse sample timestamp %q: %w", fields[0], err)
	}
	var xyz [3]float64
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return steps.Sample{}, fmt.Errorf("parse sample component %q: %w", f, err)
		}
		xyz[i] = v
	}
	return steps.Sample{Timestamp: ts, X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
