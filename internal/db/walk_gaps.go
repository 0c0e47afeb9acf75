package db

import (
	"fmt"
	"time"
)

// WalkGap represents an hourly period with step events but no computed walks.
type WalkGap struct {
	Start     time.Time
	End       time.Time
	StepCount int
}

// FindWalkGaps finds hourly periods where step_events exist but no walks have
// been computed. Useful after a crash or when bringing up the walk worker on
// an existing database, to see what a backfill run needs to cover.
func (db *DB) FindWalkGaps() ([]WalkGap, error) {
	// For each hour bucket, check whether there are step events but no
	// walk starting in that hour. An hour may legitimately have steps but
	// no walks (all bouts below the minimum), so this is a hint list, not
	// a list of failures.
	query := `
	WITH hourly_steps AS (
		SELECT
			CAST(ts_ms / 3600000 AS INTEGER) * 3600 as hour_start,
			COUNT(*) as step_count
		FROM step_events
		GROUP BY hour_start
	),
	hourly_walks AS (
		SELECT
			CAST(walk_start_ms / 3600000 AS INTEGER) * 3600 as hour_start,
			COUNT(*) as walk_count
		FROM walks
		GROUP BY hour_start
	)
	SELECT
		hs.hour_start,
		hs.step_count
	FROM hourly_steps hs
	WHERE NOT EXISTS (
		SELECT 1 FROM hourly_walks hw
		WHERE hw.hour_start = hs.hour_start
	)
	ORDER BY hs.hour_start
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var gaps []WalkGap
	for rows.Next() {
		var hourStartUnix int64
		var stepCount int64
		if err := rows.Scan(&hourStartUnix, &stepCount); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		start := time.Unix(hourStartUnix, 0).UTC()
		end := start.Add(1 * time.Hour)

		gaps = append(gaps, WalkGap{
			Start:     start,
			End:       end,
			StepCount: int(stepCount),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return gaps, nil
}
