package db

import (
	"context"
	"math"
	"testing"
	"time"
)

func countWalks(t *testing.T, db *DB, modelVersion string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM walks WHERE model_version = ?`, modelVersion,
	).Scan(&n); err != nil {
		t.Fatalf("walk count failed: %v", err)
	}
	return n
}

func TestWalkWorker_Sessionization(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	// Two bursts of walking separated by 10s of silence, against a 3s gap
	// threshold.
	seedSteps(t, db, base, 20, 600, 0.9)
	seedSteps(t, db, base+30000, 12, 500, 0.8)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("RunRange failed: %v", err)
	}

	walks, err := db.WalksSince(ctx, 0)
	if err != nil {
		t.Fatalf("WalksSince failed: %v", err)
	}
	if len(walks) != 2 {
		t.Fatalf("expected 2 walks, got %d", len(walks))
	}

	// Most recent first
	second, first := walks[0], walks[1]
	if first.StepCount != 20 {
		t.Errorf("expected first walk to have 20 steps, got %d", first.StepCount)
	}
	if second.StepCount != 12 {
		t.Errorf("expected second walk to have 12 steps, got %d", second.StepCount)
	}
	if first.StartMS != base || first.EndMS != base+19*600 {
		t.Errorf("first walk bounds wrong: [%d, %d]", first.StartMS, first.EndMS)
	}
	if second.StartMS != base+30000 {
		t.Errorf("second walk start wrong: %d", second.StartMS)
	}
	if first.GapThresholdMS != 3000 {
		t.Errorf("expected gap threshold 3000, got %d", first.GapThresholdMS)
	}
}

func TestWalkWorker_MinStepsFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	// 4 steps is below the minimum of 5
	seedSteps(t, db, base, 4, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("RunRange failed: %v", err)
	}

	if n := countWalks(t, db, "v1"); n != 0 {
		t.Errorf("expected short bout to be dropped, got %d walks", n)
	}
}

func TestWalkWorker_RerunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	seedSteps(t, db, base, 20, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	for i := 0; i < 3; i++ {
		if err := worker.RunRange(ctx, base, base+60000); err != nil {
			t.Fatalf("RunRange pass %d failed: %v", i, err)
		}
	}

	if n := countWalks(t, db, "v1"); n != 1 {
		t.Errorf("expected 1 walk after reruns, got %d", n)
	}
}

func TestWalkWorker_ExtendsWalkOnRerun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	seedSteps(t, db, base, 10, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("initial RunRange failed: %v", err)
	}

	var key1 string
	if err := db.QueryRow(`SELECT walk_key FROM walks`).Scan(&key1); err != nil {
		t.Fatalf("key query failed: %v", err)
	}

	// The walk continues: more steps arrive within the gap threshold of the
	// last one.
	seedSteps(t, db, base+10*600, 10, 600, 0.9)
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("second RunRange failed: %v", err)
	}

	walks, err := db.WalksSince(ctx, 0)
	if err != nil {
		t.Fatalf("WalksSince failed: %v", err)
	}
	if len(walks) != 1 {
		t.Fatalf("expected the walk to be extended, not duplicated; got %d walks", len(walks))
	}
	if walks[0].StepCount != 20 {
		t.Errorf("expected 20 steps after extension, got %d", walks[0].StepCount)
	}
	// The key derives from the walk start, which didn't move.
	if walks[0].Key != key1 {
		t.Errorf("walk key changed on extension: %q -> %q", key1, walks[0].Key)
	}
}

func TestWalkWorker_ModelVersionScoping(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	seedSteps(t, db, base, 20, 600, 0.9)

	v1 := NewWalkWorker(db, 3.0, 5, "v1")
	v2 := NewWalkWorker(db, 3.0, 5, "v2")

	if err := v1.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("v1 RunRange failed: %v", err)
	}
	if err := v2.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("v2 RunRange failed: %v", err)
	}

	if n := countWalks(t, db, "v1"); n != 1 {
		t.Errorf("expected v1 walk to survive v2 run, got %d", n)
	}
	if n := countWalks(t, db, "v2"); n != 1 {
		t.Errorf("expected 1 v2 walk, got %d", n)
	}

	// v1's links must survive the v2 rerun
	var v1Links int64
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM walk_links wl
		JOIN walks w ON w.walk_id = wl.walk_id
		WHERE w.model_version = 'v1'
	`).Scan(&v1Links); err != nil {
		t.Fatalf("link count failed: %v", err)
	}
	if v1Links != 20 {
		t.Errorf("expected 20 v1 links after v2 run, got %d", v1Links)
	}
}

func TestWalkWorker_Links(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	seedSteps(t, db, base, 8, 600, 0.75)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("RunRange failed: %v", err)
	}

	var walkID int64
	if err := db.QueryRow(`SELECT walk_id FROM walks`).Scan(&walkID); err != nil {
		t.Fatalf("walk_id query failed: %v", err)
	}

	n, err := db.LinkCount(ctx, walkID)
	if err != nil {
		t.Fatalf("LinkCount failed: %v", err)
	}
	if n != 8 {
		t.Errorf("expected 8 links, got %d", n)
	}

	var score float64
	if err := db.QueryRow(
		`SELECT link_score FROM walk_links WHERE walk_id = ? LIMIT 1`, walkID,
	).Scan(&score); err != nil {
		t.Fatalf("link_score query failed: %v", err)
	}
	if score != 0.75 {
		t.Errorf("expected link_score to carry step confidence 0.75, got %f", score)
	}
}

func TestWalkWorker_CadenceStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	// 20 steps at exactly 600ms: 100 steps/min overall and instantaneously.
	seedSteps(t, db, base, 20, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("RunRange failed: %v", err)
	}

	walks, err := db.WalksSince(ctx, 0)
	if err != nil {
		t.Fatalf("WalksSince failed: %v", err)
	}
	if len(walks) != 1 {
		t.Fatalf("expected 1 walk, got %d", len(walks))
	}

	w := walks[0]
	if math.Abs(w.CadenceSPM-100.0) > 1e-9 {
		t.Errorf("expected cadence 100 spm, got %f", w.CadenceSPM)
	}
	if math.Abs(w.CadenceP50-100.0) > 1e-9 {
		t.Errorf("expected cadence p50 100, got %f", w.CadenceP50)
	}
	if math.Abs(w.CadenceP85-100.0) > 1e-9 {
		t.Errorf("expected cadence p85 100, got %f", w.CadenceP85)
	}
	if math.Abs(w.MeanConfidence-0.9) > 1e-9 {
		t.Errorf("expected mean confidence 0.9, got %f", w.MeanConfidence)
	}
	if math.Abs(w.MeanMagnitude-11.5) > 1e-9 {
		t.Errorf("expected mean magnitude 11.5, got %f", w.MeanMagnitude)
	}
	if math.Abs(w.MaxMagnitude-11.5) > 1e-9 {
		t.Errorf("expected max magnitude 11.5, got %f", w.MaxMagnitude)
	}
}

func TestWalkWorker_EmptyRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, 0, 1000000); err != nil {
		t.Fatalf("RunRange on empty range failed: %v", err)
	}
	if n := countWalks(t, db, "v1"); n != 0 {
		t.Errorf("expected no walks, got %d", n)
	}
}

func TestWalkWorker_RunFullHistory(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	worker := NewWalkWorker(db, 3.0, 5, "v1")

	// Empty db is not an error
	if err := worker.RunFullHistory(ctx); err != nil {
		t.Fatalf("RunFullHistory on empty db failed: %v", err)
	}

	base := int64(1700000000000)
	seedSteps(t, db, base, 20, 600, 0.9)

	if err := worker.RunFullHistory(ctx); err != nil {
		t.Fatalf("RunFullHistory failed: %v", err)
	}
	if n := countWalks(t, db, "v1"); n != 1 {
		t.Errorf("expected 1 walk from full history, got %d", n)
	}
}

func TestWalkWorker_RunOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Steps in the last few minutes, inside the default 30m window.
	base := time.Now().Add(-5 * time.Minute).UnixMilli()
	seedSteps(t, db, base, 20, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n := countWalks(t, db, "v1"); n != 1 {
		t.Errorf("expected 1 walk from RunOnce, got %d", n)
	}
}

func TestWalkWorker_MigrateModelVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	seedSteps(t, db, base, 20, 600, 0.9)

	v1 := NewWalkWorker(db, 3.0, 5, "v1")
	if err := v1.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("v1 RunRange failed: %v", err)
	}

	v2 := NewWalkWorker(db, 3.0, 5, "v2")
	if err := v2.MigrateModelVersion(ctx, "v1"); err != nil {
		t.Fatalf("MigrateModelVersion failed: %v", err)
	}

	if n := countWalks(t, db, "v1"); n != 0 {
		t.Errorf("expected v1 walks gone after migration, got %d", n)
	}
	if n := countWalks(t, db, "v2"); n != 1 {
		t.Errorf("expected 1 v2 walk after migration, got %d", n)
	}
}

func TestWalkWorker_MigrateModelVersion_SameVersion(t *testing.T) {
	db := setupTestDB(t)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.MigrateModelVersion(context.Background(), "v1"); err == nil {
		t.Error("expected error migrating a version to itself")
	}
}

func TestWalkWorker_DeleteAllWalks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1700000000000)
	seedSteps(t, db, base, 20, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("RunRange failed: %v", err)
	}

	deleted, err := worker.DeleteAllWalks(ctx, "v1")
	if err != nil {
		t.Fatalf("DeleteAllWalks failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted walk, got %d", deleted)
	}

	var links int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM walk_links`).Scan(&links); err != nil {
		t.Fatalf("link count failed: %v", err)
	}
	if links != 0 {
		t.Errorf("expected orphaned links to be removed, got %d", links)
	}
}

func TestAnalyzeWalkOverlaps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	stats, err := db.AnalyzeWalkOverlaps(ctx)
	if err != nil {
		t.Fatalf("AnalyzeWalkOverlaps failed: %v", err)
	}
	if stats.TotalWalks != 0 {
		t.Errorf("expected 0 walks in fresh db, got %d", stats.TotalWalks)
	}

	base := int64(1700000000000)
	seedSteps(t, db, base, 20, 600, 0.9)

	// The same step data processed under two versions produces overlapping
	// walks by construction.
	for _, mv := range []string{"v1", "v2"} {
		worker := NewWalkWorker(db, 3.0, 5, mv)
		if err := worker.RunRange(ctx, base, base+60000); err != nil {
			t.Fatalf("%s RunRange failed: %v", mv, err)
		}
	}

	stats, err = db.AnalyzeWalkOverlaps(ctx)
	if err != nil {
		t.Fatalf("AnalyzeWalkOverlaps failed: %v", err)
	}
	if stats.TotalWalks != 2 {
		t.Errorf("expected 2 walks, got %d", stats.TotalWalks)
	}
	if stats.ModelVersionCounts["v1"] != 1 || stats.ModelVersionCounts["v2"] != 1 {
		t.Errorf("unexpected version counts: %v", stats.ModelVersionCounts)
	}
	if len(stats.Overlaps) != 1 {
		t.Fatalf("expected 1 overlap pair, got %d", len(stats.Overlaps))
	}
	if stats.Overlaps[0].OverlapCount != 1 {
		t.Errorf("expected 1 overlap, got %d", stats.Overlaps[0].OverlapCount)
	}
}

func TestWalkWorker_StartStop(t *testing.T) {
	db := setupTestDB(t)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	worker.Interval = 10 * time.Millisecond
	worker.Start()
	time.Sleep(50 * time.Millisecond)
	worker.Stop()
	// Drain any in-flight run; Stop only signals the loop.
	time.Sleep(20 * time.Millisecond)
}
