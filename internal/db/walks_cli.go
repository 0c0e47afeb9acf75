package db

import (
	"context"
	"fmt"
	"io"
)

// WalksCLI provides CLI operations for walk data management.
// It wraps WalkWorker and DB methods to provide a testable interface
// for the `count-steps walks` subcommand.
type WalksCLI struct {
	DB           *DB
	ModelVersion string
	GapSeconds   float64
	MinSteps     int
	Output       io.Writer // where to write output (os.Stdout by default)
}

// NewWalksCLI creates a new WalksCLI instance.
func NewWalksCLI(db *DB, modelVersion string, gapSeconds float64, minSteps int, output io.Writer) *WalksCLI {
	return &WalksCLI{
		DB:           db,
		ModelVersion: modelVersion,
		GapSeconds:   gapSeconds,
		MinSteps:     minSteps,
		Output:       output,
	}
}

func (c *WalksCLI) newWorker(modelVersion string) *WalkWorker {
	return NewWalkWorker(c.DB, c.GapSeconds, c.MinSteps, modelVersion)
}

// Analyze shows walk statistics and checks for overlaps.
// Returns the statistics for programmatic use.
func (c *WalksCLI) Analyze(ctx context.Context) (*WalkOverlapStats, error) {
	stats, err := c.DB.AnalyzeWalkOverlaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze walks: %w", err)
	}

	fmt.Fprintf(c.Output, "Walk Statistics\n")
	fmt.Fprintf(c.Output, "===============\n")
	fmt.Fprintf(c.Output, "Total walks: %d\n\n", stats.TotalWalks)

	fmt.Fprintf(c.Output, "By model version:\n")
	for mv, count := range stats.ModelVersionCounts {
		fmt.Fprintf(c.Output, "  %-20s %d\n", mv, count)
	}

	if len(stats.Overlaps) > 0 {
		fmt.Fprintf(c.Output, "\n⚠️  Overlapping walks detected:\n")
		for _, o := range stats.Overlaps {
			fmt.Fprintf(c.Output, "  %s ↔ %s: %d overlaps\n", o.ModelVersion1, o.ModelVersion2, o.OverlapCount)
		}
		fmt.Fprintf(c.Output, "\nTo fix overlaps, delete one model version:\n")
		fmt.Fprintf(c.Output, "  count-steps walks delete <model-version>\n")
	} else {
		fmt.Fprintf(c.Output, "\n✅ No overlapping walks found\n")
	}

	return stats, nil
}

// Delete removes all walks for a given model version.
// Returns the number of deleted walks.
func (c *WalksCLI) Delete(ctx context.Context, modelVersion string) (int64, error) {
	worker := c.newWorker(c.ModelVersion)
	deleted, err := worker.DeleteAllWalks(ctx, modelVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to delete walks: %w", err)
	}

	fmt.Fprintf(c.Output, "Deleted %d walks with model_version = %q\n", deleted, modelVersion)
	return deleted, nil
}

// Migrate deletes walks with fromVersion and rebuilds with toVersion.
func (c *WalksCLI) Migrate(ctx context.Context, fromVersion, toVersion string) error {
	fmt.Fprintf(c.Output, "Migrating walks from %q to %q\n", fromVersion, toVersion)

	worker := c.newWorker(toVersion)
	if err := worker.MigrateModelVersion(ctx, fromVersion); err != nil {
		return fmt.Errorf("failed to migrate walks: %w", err)
	}

	fmt.Fprintf(c.Output, "Migration complete\n")
	return nil
}

// Rebuild deletes all walks for the current model version and rebuilds from full history.
func (c *WalksCLI) Rebuild(ctx context.Context) error {
	fmt.Fprintf(c.Output, "Rebuilding walks with model_version = %q\n", c.ModelVersion)

	worker := c.newWorker(c.ModelVersion)

	// Delete existing walks for this model version
	deleted, err := worker.DeleteAllWalks(ctx, c.ModelVersion)
	if err != nil {
		return fmt.Errorf("failed to delete existing walks: %w", err)
	}
	fmt.Fprintf(c.Output, "Deleted %d existing walks\n", deleted)

	// Run full history rebuild
	if err := worker.RunFullHistory(ctx); err != nil {
		return fmt.Errorf("failed to rebuild walks: %w", err)
	}

	fmt.Fprintf(c.Output, "Rebuild complete\n")
	return nil
}

// Gaps lists hourly periods that have step events but no computed walks.
func (c *WalksCLI) Gaps(ctx context.Context) ([]WalkGap, error) {
	gaps, err := c.DB.FindWalkGaps()
	if err != nil {
		return nil, fmt.Errorf("failed to find walk gaps: %w", err)
	}

	if len(gaps) == 0 {
		fmt.Fprintf(c.Output, "No gaps found: every hour with step events has walks\n")
		return gaps, nil
	}

	fmt.Fprintf(c.Output, "Hours with step events but no walks:\n")
	for _, g := range gaps {
		fmt.Fprintf(c.Output, "  %s - %s: %d steps\n",
			g.Start.Format("2006-01-02 15:04"),
			g.End.Format("15:04"),
			g.StepCount)
	}
	fmt.Fprintf(c.Output, "\n%d gap hours total. Backfill with:\n", len(gaps))
	fmt.Fprintf(c.Output, "  count-steps walks rebuild\n")
	return gaps, nil
}

// PrintUsage prints the walks subcommand usage.
func (c *WalksCLI) PrintUsage() {
	fmt.Fprintln(c.Output, "Usage: count-steps walks <command> [options]")
	fmt.Fprintln(c.Output, "")
	fmt.Fprintln(c.Output, "Commands:")
	fmt.Fprintln(c.Output, "  analyze                      Show walk statistics and check for overlaps")
	fmt.Fprintln(c.Output, "  delete <model-version>       Delete all walks for a model version")
	fmt.Fprintln(c.Output, "  migrate <from> <to>          Migrate walks from one model version to another")
	fmt.Fprintln(c.Output, "  rebuild                      Delete current model version and rebuild from full history")
	fmt.Fprintln(c.Output, "  gaps                         List hours with step events but no computed walks")
	fmt.Fprintln(c.Output, "")
}
