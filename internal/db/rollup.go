package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StepDayRollup is one day's aggregate step activity. Day is a local-time
// calendar date (YYYY-MM-DD); daily step totals are what people reason
// about, and "a day" means the wearer's day, not UTC's.
type StepDayRollup struct {
	Day         string  `json:"day"`
	Steps       int64   `json:"steps"`
	Walks       int64   `json:"walks"`
	WalkMinutes float64 `json:"walk_minutes"`
	CadenceP50  float64 `json:"cadence_p50"`
}

// StepRollup aggregates step_events and walks per local calendar day for the
// last `days` days. Days with zero steps are omitted rather than
// zero-filled.
func (db *DB) StepRollup(ctx context.Context, days int) ([]StepDayRollup, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	stepQuery := `
		SELECT
			date(ts_ms / 1000, 'unixepoch', 'localtime') as day,
			COUNT(*) as steps
		FROM step_events
		WHERE ts_ms >= ?
		GROUP BY day
		ORDER BY day
	`

	rows, err := db.QueryContext(ctx, stepQuery, cutoff)
	if err != nil {
		return nil, fmt.Errorf("step rollup query failed: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]*StepDayRollup)
	var order []string
	for rows.Next() {
		var r StepDayRollup
		if err := rows.Scan(&r.Day, &r.Steps); err != nil {
			return nil, fmt.Errorf("step rollup scan failed: %w", err)
		}
		byDay[r.Day] = &r
		order = append(order, r.Day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("step rollup iteration failed: %w", err)
	}

	// Walk aggregates need the per-walk cadence medians to compute a daily
	// quantile, which SQLite can't do, so pull the rows and fold in Go.
	walkQuery := `
		SELECT
			date(walk_start_ms / 1000, 'unixepoch', 'localtime') as day,
			walk_end_ms - walk_start_ms,
			cadence_p50
		FROM walks
		WHERE walk_start_ms >= ?
		ORDER BY walk_start_ms
	`

	walkRows, err := db.QueryContext(ctx, walkQuery, cutoff)
	if err != nil {
		return nil, fmt.Errorf("walk rollup query failed: %w", err)
	}
	defer walkRows.Close()

	cadences := make(map[string][]float64)
	for walkRows.Next() {
		var day string
		var durationMS int64
		var cadenceP50 float64
		if err := walkRows.Scan(&day, &durationMS, &cadenceP50); err != nil {
			return nil, fmt.Errorf("walk rollup scan failed: %w", err)
		}
		r, ok := byDay[day]
		if !ok {
			// A walk whose steps predate the cutoff can land on a day
			// with no counted steps. Count the walk anyway.
			r = &StepDayRollup{Day: day}
			byDay[day] = r
			order = append(order, day)
		}
		r.Walks++
		r.WalkMinutes += float64(durationMS) / 60000.0
		if cadenceP50 > 0 {
			cadences[day] = append(cadences[day], cadenceP50)
		}
	}
	if err := walkRows.Err(); err != nil {
		return nil, fmt.Errorf("walk rollup iteration failed: %w", err)
	}

	sort.Strings(order)
	result := make([]StepDayRollup, 0, len(order))
	for _, day := range order {
		r := byDay[day]
		if cs := cadences[day]; len(cs) > 0 {
			sort.Float64s(cs)
			r.CadenceP50 = stat.Quantile(0.5, stat.Empirical, cs, nil)
		}
		result = append(result, *r)
	}
	return result, nil
}

// StepBucket is a fixed-width time bucket of step counts, for charting.
type StepBucket struct {
	BucketStart int64 `json:"bucket_start"` // unix seconds
	Steps       int64 `json:"steps"`
}

// StepCountsRange returns step counts bucketed by bucketSeconds over
// [startMS, endMS]. Empty buckets are omitted.
func (db *DB) StepCountsRange(ctx context.Context, startMS, endMS int64, bucketSeconds int) ([]StepBucket, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = 300
	}

	query := `
		SELECT
			CAST(ts_ms / 1000 / ? AS INTEGER) * ? as bucket_start,
			COUNT(*) as steps
		FROM step_events
		WHERE ts_ms BETWEEN ? AND ?
		GROUP BY bucket_start
		ORDER BY bucket_start
	`

	rows, err := db.QueryContext(ctx, query, bucketSeconds, bucketSeconds, startMS, endMS)
	if err != nil {
		return nil, fmt.Errorf("step counts query failed: %w", err)
	}
	defer rows.Close()

	var buckets []StepBucket
	for rows.Next() {
		var b StepBucket
		if err := rows.Scan(&b.BucketStart, &b.Steps); err != nil {
			return nil, fmt.Errorf("step counts scan failed: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
