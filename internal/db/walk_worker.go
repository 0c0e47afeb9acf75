package db

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// WalkWorker periodically scans recent step_events and upserts sessionized
// walking bouts into walks and walk_links. Designed to run every minute and
// process a lookback window somewhat larger than the interval, so a walk in
// progress keeps getting extended on each run.
type WalkWorker struct {
	DB *DB
	// GapSeconds splits sessions: two steps further apart than this belong
	// to different walks.
	GapSeconds float64
	// MinSteps drops bouts too short to call a walk (pacing around the
	// kitchen, picking the phone up off a table).
	MinSteps     int
	ModelVersion string
	Interval     time.Duration // how often to run (e.g., 1m)
	Window       time.Duration // lookback window (e.g., 30m)
	StopChan     chan struct{}
}

func NewWalkWorker(db *DB, gapSeconds float64, minSteps int, modelVersion string) *WalkWorker {
	return &WalkWorker{
		DB:           db,
		GapSeconds:   gapSeconds,
		MinSteps:     minSteps,
		ModelVersion: modelVersion,
		Interval:     time.Minute,
		Window:       30 * time.Minute,
		StopChan:     make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *WalkWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(context.Background()); err != nil {
					log.Printf("walk worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *WalkWorker) Stop() {
	close(w.StopChan)
}

// RunOnce scans the last w.Window and upserts walks.
func (w *WalkWorker) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	end := now.UnixMilli()
	start := now.Add(-w.Window).UnixMilli()

	return w.RunRange(ctx, start, end)
}

// RunFullHistory scans the full available step_events range and upserts walks.
func (w *WalkWorker) RunFullHistory(ctx context.Context) error {
	var start, end sql.NullInt64
	if err := w.DB.QueryRowContext(ctx, `SELECT MIN(ts_ms), MAX(ts_ms) FROM step_events`).Scan(&start, &end); err != nil {
		return err
	}
	if !start.Valid || !end.Valid {
		log.Printf("Walk worker full-history run skipped (no step events)")
		return nil
	}
	return w.RunRange(ctx, start.Int64, end.Int64)
}

// gapMS returns the session split threshold in milliseconds.
func (w *WalkWorker) gapMS() int64 {
	return int64(w.GapSeconds * 1000)
}

// stepPoint is one step event row as the sessionizer sees it.
type stepPoint struct {
	Rowid      int64
	TsMS       int64
	Confidence float64
	Magnitude  sql.NullFloat64
}

// RunRange scans step events in [startMS, endMS] and upserts walks.
func (w *WalkWorker) RunRange(ctx context.Context, startMS, endMS int64) error {
	tx, err := w.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	// Delete overlapping walks with the same model_version before inserting.
	// This handles periodic re-runs and window overlaps, preventing
	// duplicates. We delete walks that:
	// 1. Start within the processing range, OR
	// 2. End within the processing range, OR
	// 3. Span the entire processing range
	deleteQuery := `
		DELETE FROM walks
		WHERE model_version = ?
		  AND (
			  (walk_start_ms BETWEEN ? AND ?)
			  OR (walk_end_ms BETWEEN ? AND ?)
			  OR (walk_start_ms <= ? AND walk_end_ms >= ?)
		  )
	`
	result, err := tx.ExecContext(ctx, deleteQuery,
		w.ModelVersion,
		startMS, endMS, // walk starts in range
		startMS, endMS, // walk ends in range
		startMS, endMS, // walk spans entire range
	)
	if err != nil {
		return fmt.Errorf("failed to delete overlapping walks: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		log.Printf("Walk worker: deleted %d overlapping %s walks in range [%d, %d]",
			deleted, w.ModelVersion, startMS, endMS)
	}

	// The deleted walks leave orphaned rows behind in walk_links. Other
	// model versions' links survive because their walks still exist.
	deleteLinks := `
		DELETE FROM walk_links
		WHERE walk_id NOT IN (SELECT walk_id FROM walks)
	`
	if _, err := tx.ExecContext(ctx, deleteLinks); err != nil {
		return fmt.Errorf("failed to delete orphaned walk links: %w", err)
	}

	q := `
		SELECT
			rowid,
			ts_ms,
			confidence,
			magnitude
		FROM
			step_events
		WHERE
			ts_ms BETWEEN ? AND ?
		ORDER BY
			ts_ms
	`

	rows, err := tx.QueryContext(ctx, q, startMS, endMS)
	if err != nil {
		return err
	}
	defer rows.Close()

	var points []stepPoint
	for rows.Next() {
		var p stepPoint
		if err := rows.Scan(&p.Rowid, &p.TsMS, &p.Confidence, &p.Magnitude); err != nil {
			return err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Sessionize. Steps form a single stream, so unlike multi-object
	// clustering a plain gap split is enough: a silence longer than the
	// threshold closes the current walk.
	var sessions [][]stepPoint
	gap := w.gapMS()
	for _, p := range points {
		if len(sessions) == 0 {
			sessions = append(sessions, []stepPoint{p})
			continue
		}
		last := sessions[len(sessions)-1]
		prev := last[len(last)-1]
		if p.TsMS-prev.TsMS > gap {
			sessions = append(sessions, []stepPoint{p})
			continue
		}
		sessions[len(sessions)-1] = append(last, p)
	}

	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO walks (
			walk_key,
			gap_threshold_ms,
			walk_start_ms,
			walk_end_ms,
			step_count,
			cadence_spm,
			cadence_p50,
			cadence_p85,
			mean_magnitude,
			max_magnitude,
			mean_confidence,
			model_version,
			created_at,
			updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec')
		)
		ON CONFLICT(walk_key) DO UPDATE SET
			walk_end_ms = excluded.walk_end_ms,
			step_count = excluded.step_count,
			cadence_spm = excluded.cadence_spm,
			cadence_p50 = excluded.cadence_p50,
			cadence_p85 = excluded.cadence_p85,
			mean_magnitude = excluded.mean_magnitude,
			max_magnitude = excluded.max_magnitude,
			mean_confidence = excluded.mean_confidence,
			model_version = excluded.model_version,
			updated_at = UNIXEPOCH('subsec')
	`)
	if err != nil {
		return err
	}
	defer upsertStmt.Close()

	linkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO walk_links (
			walk_id,
			event_rowid,
			link_score,
			created_at
		) VALUES (
			?, ?, ?, UNIXEPOCH('subsec')
		)
		ON CONFLICT(walk_id, event_rowid) DO UPDATE SET
			link_score = excluded.link_score,
			created_at = excluded.created_at
	`)
	if err != nil {
		return err
	}
	defer linkStmt.Close()

	for _, s := range sessions {
		if len(s) < w.MinSteps {
			continue
		}

		stats := summarizeWalk(s)

		// Stable key from the integer start second, threshold, and model
		// version. End time is intentionally omitted so the key doesn't
		// change as new steps extend the walk on later runs.
		keyRaw := fmt.Sprintf("%d|%d|%s", s[0].TsMS/1000, gap, w.ModelVersion)
		sum := sha1.Sum([]byte(keyRaw))
		walkKey := fmt.Sprintf("%x", sum)

		if _, err := upsertStmt.ExecContext(ctx,
			walkKey, gap,
			stats.startMS, stats.endMS, stats.stepCount,
			stats.cadenceSPM, stats.cadenceP50, stats.cadenceP85,
			stats.meanMagnitude, stats.maxMagnitude, stats.meanConfidence,
			w.ModelVersion,
		); err != nil {
			return err
		}

		// fetch walk_id for this key (either new or existing)
		var walkID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT walk_id FROM walks WHERE walk_key = ?`, walkKey,
		).Scan(&walkID); err != nil {
			return err
		}

		// Membership is unambiguous for a single step stream, so the
		// classifier confidence doubles as the link score.
		for _, p := range s {
			if _, err := linkStmt.ExecContext(ctx, walkID, p.Rowid, p.Confidence); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// walkStats holds the aggregates computed for one walk session.
type walkStats struct {
	startMS        int64
	endMS          int64
	stepCount      int64
	cadenceSPM     float64
	cadenceP50     float64
	cadenceP85     float64
	meanMagnitude  float64
	maxMagnitude   float64
	meanConfidence float64
}

// summarizeWalk computes the cadence and magnitude aggregates for a session.
// Cadence quantiles come from the per-interval instantaneous cadences, which
// are robust to the occasional missed step in a way the overall average is
// not.
func summarizeWalk(points []stepPoint) walkStats {
	s := walkStats{
		startMS:   points[0].TsMS,
		endMS:     points[len(points)-1].TsMS,
		stepCount: int64(len(points)),
	}

	var confSum float64
	var magSum float64
	var magCount int
	var cadences []float64

	var prevTS int64
	for i, p := range points {
		confSum += p.Confidence
		if p.Magnitude.Valid {
			magSum += p.Magnitude.Float64
			magCount++
			if p.Magnitude.Float64 > s.maxMagnitude {
				s.maxMagnitude = p.Magnitude.Float64
			}
		}
		if i > 0 {
			interval := p.TsMS - prevTS
			if interval > 0 {
				cadences = append(cadences, 60000.0/float64(interval))
			}
		}
		prevTS = p.TsMS
	}

	s.meanConfidence = confSum / float64(len(points))
	if magCount > 0 {
		s.meanMagnitude = magSum / float64(magCount)
	}

	duration := s.endMS - s.startMS
	if duration > 0 && len(points) > 1 {
		s.cadenceSPM = float64(len(points)-1) / float64(duration) * 60000.0
	}

	if len(cadences) > 0 {
		sort.Float64s(cadences)
		s.cadenceP50 = stat.Quantile(0.5, stat.Empirical, cadences, nil)
		s.cadenceP85 = stat.Quantile(0.85, stat.Empirical, cadences, nil)
	}

	return s
}

// MigrateModelVersion replaces all walks from oldVersion with the worker's
// current ModelVersion by deleting old walks and re-running over full history.
func (w *WalkWorker) MigrateModelVersion(ctx context.Context, oldVersion string) error {
	if oldVersion == w.ModelVersion {
		return fmt.Errorf("old and new model versions must differ (both are %q)", oldVersion)
	}

	log.Printf("Walk worker: migrating from %s to %s", oldVersion, w.ModelVersion)

	// Delete all old version walks
	result, err := w.DB.ExecContext(ctx,
		`DELETE FROM walks WHERE model_version = ?`,
		oldVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old version walks: %w", err)
	}

	deleted, _ := result.RowsAffected()
	log.Printf("Walk worker: deleted %d %s walks", deleted, oldVersion)

	// Orphaned links from the deleted walks
	if _, err := w.DB.ExecContext(ctx,
		`DELETE FROM walk_links WHERE walk_id NOT IN (SELECT walk_id FROM walks)`,
	); err != nil {
		return fmt.Errorf("failed to delete orphaned walk links: %w", err)
	}

	// Re-run over full history with new version
	return w.RunFullHistory(ctx)
}

// DeleteAllWalks removes all walks for a given model version. Returns the
// number of walks deleted.
func (w *WalkWorker) DeleteAllWalks(ctx context.Context, modelVersion string) (int64, error) {
	result, err := w.DB.ExecContext(ctx,
		`DELETE FROM walks WHERE model_version = ?`,
		modelVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete walks: %w", err)
	}
	if _, err := w.DB.ExecContext(ctx,
		`DELETE FROM walk_links WHERE walk_id NOT IN (SELECT walk_id FROM walks)`,
	); err != nil {
		return 0, fmt.Errorf("failed to delete orphaned walk links: %w", err)
	}
	return result.RowsAffected()
}

// WalkOverlapStats contains statistics about overlapping walks.
type WalkOverlapStats struct {
	TotalWalks         int64
	ModelVersionCounts map[string]int64
	Overlaps           []WalkOverlap
}

// WalkOverlap represents a pair of overlapping walks with different model versions.
type WalkOverlap struct {
	ModelVersion1 string
	ModelVersion2 string
	OverlapCount  int64
}

// AnalyzeWalkOverlaps returns statistics about overlapping walks across model versions.
func (db *DB) AnalyzeWalkOverlaps(ctx context.Context) (*WalkOverlapStats, error) {
	stats := &WalkOverlapStats{
		ModelVersionCounts: make(map[string]int64),
	}

	// Get total count
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM walks`).Scan(&stats.TotalWalks); err != nil {
		return nil, fmt.Errorf("failed to count walks: %w", err)
	}

	// Get counts per model version
	rows, err := db.QueryContext(ctx, `SELECT model_version, COUNT(*) FROM walks GROUP BY model_version`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by model version: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mv sql.NullString
		var count int64
		if err := rows.Scan(&mv, &count); err != nil {
			return nil, err
		}
		key := "(null)"
		if mv.Valid {
			key = mv.String
		}
		stats.ModelVersionCounts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Find overlapping walks between different model versions
	overlapQuery := `
		WITH overlaps AS (
			SELECT
				w1.model_version as mv1,
				w2.model_version as mv2
			FROM walks w1
			JOIN walks w2
				ON w1.walk_id < w2.walk_id
				AND COALESCE(w1.model_version, '') != COALESCE(w2.model_version, '')
				AND (
					(w1.walk_start_ms BETWEEN w2.walk_start_ms AND w2.walk_end_ms)
					OR (w1.walk_end_ms BETWEEN w2.walk_start_ms AND w2.walk_end_ms)
					OR (w1.walk_start_ms <= w2.walk_start_ms
						AND w1.walk_end_ms >= w2.walk_end_ms)
				)
		)
		SELECT COALESCE(mv1, '(null)'), COALESCE(mv2, '(null)'), COUNT(*)
		FROM overlaps
		GROUP BY mv1, mv2
	`

	overlapRows, err := db.QueryContext(ctx, overlapQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlaps: %w", err)
	}
	defer overlapRows.Close()

	for overlapRows.Next() {
		var o WalkOverlap
		if err := overlapRows.Scan(&o.ModelVersion1, &o.ModelVersion2, &o.OverlapCount); err != nil {
			return nil, err
		}
		stats.Overlaps = append(stats.Overlaps, o)
	}

	return stats, overlapRows.Err()
}

// LinkCount returns the number of walk_links rows for a walk.
func (db *DB) LinkCount(ctx context.Context, walkID int64) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM walk_links WHERE walk_id = ?`, walkID).Scan(&n)
	return n, err
}
