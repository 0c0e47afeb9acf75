// Command gen-walk generates synthetic accelerometer walking fixtures for
// testing replay and feeding the dev-mode mock serial port. The trace
// alternates walking and idle segments; walking segments carry a step-shaped
// spike at the configured cadence over a noisy gravity baseline. Output is
// deterministic for a given seed.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/murtazakamran18/count-steps/internal/steps"
)

type genConfig struct {
	DurationSecs int
	WalkSecs     int
	IdleSecs     int
	RateHz       int
	CadenceSPM   float64
}

func main() {
	output := flag.String("o", "walk.ndjson", "output path")
	format := flag.String("format", "ndjson", "line format: ndjson or csv (fixtures.txt style)")
	duration := flag.Int("duration", 120, "total trace length in seconds")
	walkSecs := flag.Int("walk-secs", 30, "length of each walking segment in seconds")
	idleSecs := flag.Int("idle-secs", 15, "length of each idle segment in seconds")
	rate := flag.Int("rate", 50, "sample rate in Hz")
	cadence := flag.Float64("cadence", 110, "steps per minute during walking segments")
	seed := flag.Int64("seed", 1, "random seed for noise and cadence jitter")
	flag.Parse()

	if *rate <= 0 || *rate > 1000 {
		log.Fatalf("rate %d out of range", *rate)
	}
	if *cadence <= 0 || *walkSecs <= 0 || *duration <= 0 {
		log.Fatal("duration, walk-secs and cadence must be positive")
	}
	if *format != "ndjson" && *format != "csv" {
		log.Fatalf("unknown format %q", *format)
	}

	cfg := genConfig{
		DurationSecs: *duration,
		WalkSecs:     *walkSecs,
		IdleSecs:     *idleSecs,
		RateHz:       *rate,
		CadenceSPM:   *cadence,
	}
	rng := rand.New(rand.NewSource(*seed))
	samples, spikes := generate(cfg, rng)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, s := range samples {
		if err := writeLine(w, *format, s); err != nil {
			log.Fatalf("write %s: %v", *output, err)
		}
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("flush %s: %v", *output, err)
	}

	log.Printf("✓ Created: %s (%d samples, %d step spikes)", *output, len(samples), spikes)
}

// generate synthesizes the full trace. Timestamps start at 1000ms so
// fixtures sort cleanly and replay identically regardless of wall clock.
func generate(cfg genConfig, rng *rand.Rand) ([]steps.Sample, int) {
	periodMS := int64(1000 / cfg.RateHz)
	cycleMS := int64(cfg.WalkSecs+cfg.IdleSecs) * 1000
	totalMS := int64(cfg.DurationSecs) * 1000
	stepEveryMS := int64(60000 / cfg.CadenceSPM)

	var samples []steps.Sample
	spikes := 0
	nextStepMS := int64(0) // 0 arms a spike at the next walking sample

	for ts := int64(1000); ts < 1000+totalMS; ts += periodMS {
		walking := cfg.IdleSecs == 0 || (ts-1000)%cycleMS < int64(cfg.WalkSecs)*1000
		if !walking {
			nextStepMS = 0
			samples = append(samples, baselineSample(ts, rng))
			continue
		}
		if nextStepMS == 0 {
			nextStepMS = ts
		}
		if ts >= nextStepMS {
			samples = append(samples, spikeSample(ts, rng))
			spikes++
			// ±10% interval jitter keeps the cadence centred without
			// turning the trace into a metronome.
			jitter := int64(float64(stepEveryMS) * 0.1 * (rng.Float64()*2 - 1))
			nextStepMS = ts + stepEveryMS + jitter
			continue
		}
		samples = append(samples, baselineSample(ts, rng))
	}

	return samples, spikes
}

// baselineSample is a device at rest: gravity on Z, a little tilt on Y,
// sensor noise on all axes. Magnitude stays near 9.8 and vertical movement
// stays small, so the classifier never scores it as a step.
func baselineSample(ts int64, rng *rand.Rand) steps.Sample {
	return steps.Sample{
		Timestamp: ts,
		X:         round3(rng.NormFloat64() * 0.08),
		Y:         round3(0.85 + rng.NormFloat64()*0.12),
		Z:         round3(9.7 + rng.NormFloat64()*0.1),
	}
}

// spikeSample is the heel-strike shape: strong vertical component and a
// magnitude well above gravity.
func spikeSample(ts int64, rng *rand.Rand) steps.Sample {
	return steps.Sample{
		Timestamp: ts,
		X:         round3(3.0 + rng.NormFloat64()*0.3),
		Y:         round3(12.0 + rng.NormFloat64()*0.6),
		Z:         round3(5.0 + rng.NormFloat64()*0.3),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func writeLine(w *bufio.Writer, format string, s steps.Sample) error {
	if format == "csv" {
		_, err := fmt.Fprintf(w, "%d,%.3f,%.3f,%.3f\n", s.Timestamp, s.X, s.Y, s.Z)
		return err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
