// Package main provides a replay tool for recorded accelerometer sample logs.
// It runs one log through one or more classifier configurations and compares
// their step decisions. Because the classifier is deterministic for a given
// configuration and sample order, replaying the same log always reproduces
// the same events, which makes this the tuning loop for threshold changes.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/murtazakamran18/count-steps/internal/config"
	"github.com/murtazakamran18/count-steps/internal/imu"
	"github.com/murtazakamran18/count-steps/internal/steps"
)

// Config holds configuration for a replay run.
type Config struct {
	LogFile     string
	TuningFiles string
	OutputDir   string
	OutputJSON  string
	PlotFile    string
	Verbose     bool
}

// ReplayResult holds the results of replaying a log through every configuration.
type ReplayResult struct {
	RunID            string                 `json:"run_id"`
	LogFile          string                 `json:"log_file"`
	Lines            int                    `json:"lines"`
	Samples          int                    `json:"samples"`
	Skipped          int                    `json:"skipped"`
	ParseErrors      int                    `json:"parse_errors"`
	LogSpanSecs      float64                `json:"log_span_secs"`
	MeanMagnitude    float64                `json:"mean_magnitude"`
	MaxMagnitude     float64                `json:"max_magnitude"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	PerConfig        map[string]ConfigStats `json:"per_config"`
}

// ConfigStats holds per-configuration step statistics.
type ConfigStats struct {
	Name           string  `json:"name"`
	Steps          int     `json:"steps"`
	AcceptRate     float64 `json:"accept_rate"`
	MeanConfidence float64 `json:"mean_confidence"`
	CadenceP50     float64 `json:"cadence_p50_spm,omitempty"`
	CadenceP90     float64 `json:"cadence_p90_spm,omitempty"`
	FirstStepMS    int64   `json:"first_step_ms,omitempty"`
	LastStepMS     int64   `json:"last_step_ms,omitempty"`
}

// cadencePauseMillis is the largest inter-step gap that still counts as
// continuous walking. Gaps beyond it are pauses and contribute no cadence.
const cadencePauseMillis = 5000

// namedConfig pairs a classifier configuration with the label used in
// output. Replays run in slice order so results print defaults first.
type namedConfig struct {
	Name string
	Cfg  steps.Config
}

func main() {
	cfg := parseFlags()

	if cfg.LogFile == "" {
		log.Fatal("sample log file is required")
	}

	if _, err := os.Stat(cfg.LogFile); os.IsNotExist(err) {
		log.Fatalf("sample log not found: %s", cfg.LogFile)
	}

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	configs, err := loadConfigs(cfg.TuningFiles)
	if err != nil {
		log.Fatalf("Failed to load tuning configs: %v", err)
	}

	result, runs, samples, err := runReplay(cfg, configs)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}

	printResults(result, configs)

	if cfg.OutputJSON != "" {
		outputPath := cfg.OutputJSON
		if cfg.OutputDir != "" {
			outputPath = filepath.Join(cfg.OutputDir, cfg.OutputJSON)
		}
		if err := exportJSON(result, outputPath); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		} else {
			log.Printf("Results exported to: %s", outputPath)
		}
	}

	if cfg.PlotFile != "" {
		plotPath := cfg.PlotFile
		if cfg.OutputDir != "" {
			plotPath = filepath.Join(cfg.OutputDir, cfg.PlotFile)
		}
		if err := writeTracePlot(plotPath, samples, configs, runs); err != nil {
			log.Printf("Warning: failed to write trace plot: %v", err)
		} else {
			log.Printf("Trace plot written to: %s", plotPath)
		}
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.LogFile, "log", "", "Path to recorded sample log (CSV or NDJSON lines)")
	flag.StringVar(&cfg.TuningFiles, "tuning", "", "Comma-separated tuning config files to replay against")
	flag.StringVar(&cfg.OutputDir, "output", "", "Output directory for results")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g., results.json)")
	flag.StringVar(&cfg.PlotFile, "plot", "", "Output PNG filename for the magnitude/step trace")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Log every accepted step during replay")

	flag.Parse()

	return cfg
}

// loadConfigs builds the replay set: the built-in defaults first, then one
// entry per tuning file so changed thresholds always print next to the
// baseline they deviate from.
func loadConfigs(tuningFiles string) ([]namedConfig, error) {
	configs := []namedConfig{{Name: "defaults", Cfg: steps.DefaultConfig()}}

	if tuningFiles == "" {
		return configs, nil
	}

	for _, path := range strings.Split(tuningFiles, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		tuning, err := config.LoadTuningConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		configs = append(configs, namedConfig{Name: name, Cfg: tuning.ClassifierConfig()})
	}

	return configs, nil
}

// loadSamples reads the log and returns the parseable samples in file order.
// Lines that classify as device status or unknown payloads are skipped;
// sample-shaped lines that fail to parse are counted as errors.
func loadSamples(path string) (samples []steps.Sample, lines, skipped, parseErrors int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++

		switch imu.ClassifyPayload(line) {
		case imu.PayloadTypeSampleCSV, imu.PayloadTypeSampleJSON:
			s, perr := imu.ParseSample(line)
			if perr != nil {
				parseErrors++
				continue
			}
			samples = append(samples, s)
		default:
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, 0, 0, err
	}

	return samples, lines, skipped, parseErrors, nil
}

// replayConfig runs every sample through a fresh classifier and returns the
// accepted events in order. Same samples, same config, same events.
func replayConfig(cfg steps.Config, samples []steps.Sample) ([]steps.Event, error) {
	classifier, err := steps.NewClassifier(cfg)
	if err != nil {
		return nil, err
	}

	var events []steps.Event
	for _, s := range samples {
		if event, accepted := classifier.Process(s); accepted {
			events = append(events, event)
		}
	}
	return events, nil
}

func runReplay(cfg Config, configs []namedConfig) (*ReplayResult, map[string][]steps.Event, []steps.Sample, error) {
	start := time.Now()

	samples, lines, skipped, parseErrors, err := loadSamples(cfg.LogFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil, nil, fmt.Errorf("no samples in %s", cfg.LogFile)
	}

	magnitudes := make([]float64, len(samples))
	maxMagnitude := 0.0
	for i, s := range samples {
		magnitudes[i] = math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
		if magnitudes[i] > maxMagnitude {
			maxMagnitude = magnitudes[i]
		}
	}

	runs := make(map[string][]steps.Event, len(configs))
	perConfig := make(map[string]ConfigStats, len(configs))
	for _, nc := range configs {
		events, err := replayConfig(nc.Cfg, samples)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("replay %s: %w", nc.Name, err)
		}
		if cfg.Verbose {
			for _, e := range events {
				log.Printf("[%s] step ts=%d confidence=%.2f", nc.Name, e.Timestamp, e.Confidence)
			}
		}
		runs[nc.Name] = events
		perConfig[nc.Name] = summarise(nc.Name, events, len(samples))
	}

	result := &ReplayResult{
		RunID:            uuid.NewString(),
		LogFile:          cfg.LogFile,
		Lines:            lines,
		Samples:          len(samples),
		Skipped:          skipped,
		ParseErrors:      parseErrors,
		LogSpanSecs:      float64(samples[len(samples)-1].Timestamp-samples[0].Timestamp) / 1000.0,
		MeanMagnitude:    stat.Mean(magnitudes, nil),
		MaxMagnitude:     maxMagnitude,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		PerConfig:        perConfig,
	}

	return result, runs, samples, nil
}

// summarise reduces one configuration's event stream to its statistics.
// Cadence quantiles come from inter-step intervals, with gaps longer than
// cadencePauseMillis treated as pauses between bursts rather than slow steps.
func summarise(name string, events []steps.Event, sampleCount int) ConfigStats {
	stats := ConfigStats{
		Name:       name,
		Steps:      len(events),
		AcceptRate: float64(len(events)) / float64(sampleCount),
	}
	if len(events) == 0 {
		return stats
	}

	stats.FirstStepMS = events[0].Timestamp
	stats.LastStepMS = events[len(events)-1].Timestamp

	confidences := make([]float64, len(events))
	for i, e := range events {
		confidences[i] = e.Confidence
	}
	stats.MeanConfidence = stat.Mean(confidences, nil)

	var cadences []float64
	for i := 1; i < len(events); i++ {
		interval := events[i].Timestamp - events[i-1].Timestamp
		if interval <= 0 || interval > cadencePauseMillis {
			continue
		}
		cadences = append(cadences, 60000.0/float64(interval))
	}
	if len(cadences) > 0 {
		sort.Float64s(cadences)
		stats.CadenceP50 = stat.Quantile(0.5, stat.Empirical, cadences, nil)
		stats.CadenceP90 = stat.Quantile(0.9, stat.Empirical, cadences, nil)
	}

	return stats
}

func printResults(result *ReplayResult, configs []namedConfig) {
	fmt.Println("\n=== Replay Results ===")
	fmt.Printf("Run ID: %s\n", result.RunID)
	fmt.Printf("Log File: %s\n", result.LogFile)
	fmt.Printf("Lines: %d (samples %d, skipped %d, parse errors %d)\n",
		result.Lines, result.Samples, result.Skipped, result.ParseErrors)
	fmt.Printf("Log Span: %.1fs\n", result.LogSpanSecs)
	fmt.Printf("Magnitude: mean %.2f, max %.2f m/s²\n", result.MeanMagnitude, result.MaxMagnitude)
	fmt.Printf("Processing Time: %dms\n", result.ProcessingTimeMs)

	fmt.Println("\n--- Per-Configuration Statistics ---")
	for _, nc := range configs {
		stats := result.PerConfig[nc.Name]
		fmt.Printf("\n%s:\n", stats.Name)
		fmt.Printf("  Steps: %d (%.2f%% of samples)\n", stats.Steps, stats.AcceptRate*100)
		if stats.Steps == 0 {
			continue
		}
		fmt.Printf("  Mean Confidence: %.2f\n", stats.MeanConfidence)
		if stats.CadenceP50 > 0 {
			fmt.Printf("  Cadence p50/p90: %.1f / %.1f spm\n", stats.CadenceP50, stats.CadenceP90)
		}
		fmt.Printf("  First/Last Step: %s -> %s\n",
			time.UnixMilli(stats.FirstStepMS).UTC().Format(time.RFC3339),
			time.UnixMilli(stats.LastStepMS).UTC().Format(time.RFC3339))
	}
}

func exportJSON(result *ReplayResult, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// tracePalette colors the per-configuration step markers. More configs than
// colors wraps around.
var tracePalette = []color.Color{
	color.RGBA{R: 220, G: 60, B: 60, A: 255},
	color.RGBA{R: 60, G: 160, B: 220, A: 255},
	color.RGBA{R: 240, G: 180, B: 40, A: 255},
	color.RGBA{R: 140, G: 80, B: 200, A: 255},
}

// writeTracePlot renders the magnitude trace with each configuration's
// accepted steps marked at the magnitude of the triggering sample. Time is
// plotted relative to the first sample so the axis stays readable.
func writeTracePlot(path string, samples []steps.Sample, configs []namedConfig, runs map[string][]steps.Event) error {
	p := plot.New()
	p.Title.Text = "Sample Magnitude and Accepted Steps"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Magnitude (m/s²)"

	t0 := samples[0].Timestamp
	magnitudeAt := make(map[int64]float64, len(samples))

	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		magnitude := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
		pts[i] = plotter.XY{X: float64(s.Timestamp-t0) / 1000.0, Y: magnitude}
		magnitudeAt[s.Timestamp] = magnitude
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("magnitude line: %w", err)
	}
	line.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("magnitude", line)

	for i, nc := range configs {
		events := runs[nc.Name]
		if len(events) == 0 {
			continue
		}
		stepPts := make(plotter.XYs, len(events))
		for j, e := range events {
			stepPts[j] = plotter.XY{X: float64(e.Timestamp-t0) / 1000.0, Y: magnitudeAt[e.Timestamp]}
		}
		scatter, err := plotter.NewScatter(stepPts)
		if err != nil {
			return fmt.Errorf("step scatter %s: %w", nc.Name, err)
		}
		scatter.GlyphStyle.Color = tracePalette[i%len(tracePalette)]
		scatter.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(scatter)
		p.Legend.Add(nc.Name, scatter)
	}
	p.Legend.Top = true

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}
