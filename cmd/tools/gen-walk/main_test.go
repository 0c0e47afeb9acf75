package main

import (
	"bufio"
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/murtazakamran18/count-steps/internal/imu"
	"github.com/murtazakamran18/count-steps/internal/steps"
)

var testCfg = genConfig{
	DurationSecs: 60,
	WalkSecs:     20,
	IdleSecs:     10,
	RateHz:       50,
	CadenceSPM:   110,
}

func TestGenerateDeterministic(t *testing.T) {
	first, firstSpikes := generate(testCfg, rand.New(rand.NewSource(7)))
	second, secondSpikes := generate(testCfg, rand.New(rand.NewSource(7)))

	if firstSpikes != secondSpikes {
		t.Errorf("spike counts diverged: %d vs %d", firstSpikes, secondSpikes)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same seed produced different traces (-first +second):\n%s", diff)
	}
}

func TestGenerateShape(t *testing.T) {
	samples, spikes := generate(testCfg, rand.New(rand.NewSource(1)))

	if want := testCfg.DurationSecs * testCfg.RateHz; len(samples) != want {
		t.Errorf("samples = %d, want %d", len(samples), want)
	}

	// 60s trace = two 20s walking segments at ~110 spm, so roughly 73
	// spikes. Jitter moves the count a little, never by half.
	if spikes < 60 || spikes > 90 {
		t.Errorf("spikes = %d, want roughly 73", spikes)
	}

	last := int64(0)
	for _, s := range samples {
		if s.Timestamp <= last {
			t.Fatalf("timestamps not strictly increasing at %d", s.Timestamp)
		}
		last = s.Timestamp
	}
}

// Every spike must clear the classifier thresholds and every baseline sample
// must stay under them, otherwise fixtures drift away from the detector they
// exist to exercise.
func TestGeneratedTraceClassifies(t *testing.T) {
	samples, spikes := generate(testCfg, rand.New(rand.NewSource(42)))

	classifier, err := steps.NewClassifier(steps.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	detected := 0
	for _, s := range samples {
		if _, accepted := classifier.Process(s); accepted {
			detected++
		}
	}

	// Cooldown can eat a jittered spike, so allow slack below but none
	// above: baselines must never be promoted to steps.
	if detected > spikes {
		t.Errorf("detected %d steps from %d spikes; baseline samples are tripping the classifier", detected, spikes)
	}
	if detected < spikes*8/10 {
		t.Errorf("detected %d of %d spikes; spikes are too weak", detected, spikes)
	}
}

func TestWriteLineRoundTrips(t *testing.T) {
	sample := steps.Sample{Timestamp: 1000, X: 3.001, Y: 12.25, Z: 5.125}

	for _, format := range []string{"ndjson", "csv"} {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		if err := writeLine(w, format, sample); err != nil {
			t.Fatalf("%s: writeLine: %v", format, err)
		}
		w.Flush()

		line := buf.String()
		if line[len(line)-1] != '\n' {
			t.Fatalf("%s: line not newline terminated: %q", format, line)
		}
		got, err := imu.ParseSample(line)
		if err != nil {
			t.Fatalf("%s: ParseSample(%q): %v", format, line, err)
		}
		if diff := cmp.Diff(sample, got); diff != "" {
			t.Errorf("%s: round trip mismatch (-want +got):\n%s", format, diff)
		}
	}
}
