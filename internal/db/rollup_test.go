package db

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestStepRollup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// A 20-step walk two hours ago. The walk spans ~11s, so it lands on a
	// single local day.
	base := time.Now().Add(-2 * time.Hour).UnixMilli()
	seedSteps(t, db, base, 20, 600, 0.9)

	worker := NewWalkWorker(db, 3.0, 5, "v1")
	if err := worker.RunRange(ctx, base, base+60000); err != nil {
		t.Fatalf("RunRange failed: %v", err)
	}

	rollup, err := db.StepRollup(ctx, 7)
	if err != nil {
		t.Fatalf("StepRollup failed: %v", err)
	}
	if len(rollup) != 1 {
		t.Fatalf("expected 1 day in rollup, got %d", len(rollup))
	}

	day := rollup[0]
	if day.Steps != 20 {
		t.Errorf("expected 20 steps, got %d", day.Steps)
	}
	if day.Walks != 1 {
		t.Errorf("expected 1 walk, got %d", day.Walks)
	}
	wantMinutes := float64(19*600) / 60000.0
	if math.Abs(day.WalkMinutes-wantMinutes) > 1e-9 {
		t.Errorf("expected %.3f walk minutes, got %.3f", wantMinutes, day.WalkMinutes)
	}
	if math.Abs(day.CadenceP50-100.0) > 1e-9 {
		t.Errorf("expected daily cadence p50 of 100, got %f", day.CadenceP50)
	}
	if day.Day == "" {
		t.Error("expected a day label")
	}
}

func TestStepRollup_Empty(t *testing.T) {
	db := setupTestDB(t)

	rollup, err := db.StepRollup(context.Background(), 7)
	if err != nil {
		t.Fatalf("StepRollup failed: %v", err)
	}
	if len(rollup) != 0 {
		t.Errorf("expected empty rollup, got %d days", len(rollup))
	}
}

func TestStepRollup_ExcludesOldData(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Steps from 30 days ago fall outside a 7-day rollup.
	old := time.Now().AddDate(0, 0, -30).UnixMilli()
	seedSteps(t, db, old, 10, 600, 0.9)

	recent := time.Now().Add(-1 * time.Hour).UnixMilli()
	seedSteps(t, db, recent, 5, 600, 0.9)

	rollup, err := db.StepRollup(ctx, 7)
	if err != nil {
		t.Fatalf("StepRollup failed: %v", err)
	}
	if len(rollup) != 1 {
		t.Fatalf("expected 1 day in rollup, got %d", len(rollup))
	}
	if rollup[0].Steps != 5 {
		t.Errorf("expected only the 5 recent steps, got %d", rollup[0].Steps)
	}
}

func TestStepCountsRange(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := int64(1699999980000) // on a minute boundary
	// 10 steps in the first minute, then 5 in the third.
	seedSteps(t, db, base, 10, 1000, 0.9)
	seedSteps(t, db, base+120000, 5, 1000, 0.9)

	buckets, err := db.StepCountsRange(ctx, base, base+180000, 60)
	if err != nil {
		t.Fatalf("StepCountsRange failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 non-empty buckets, got %d", len(buckets))
	}

	if buckets[0].BucketStart != base/1000 {
		t.Errorf("expected first bucket at %d, got %d", base/1000, buckets[0].BucketStart)
	}
	if buckets[0].Steps != 10 {
		t.Errorf("expected 10 steps in first bucket, got %d", buckets[0].Steps)
	}
	if buckets[1].BucketStart != base/1000+120 {
		t.Errorf("expected second bucket at %d, got %d", base/1000+120, buckets[1].BucketStart)
	}
	if buckets[1].Steps != 5 {
		t.Errorf("expected 5 steps in second bucket, got %d", buckets[1].Steps)
	}
}

func TestStepCountsRange_DefaultBucket(t *testing.T) {
	db := setupTestDB(t)

	base := int64(1700000000000)
	seedSteps(t, db, base, 3, 1000, 0.9)

	// Non-positive bucket size falls back to 5 minutes.
	buckets, err := db.StepCountsRange(context.Background(), base, base+10000, 0)
	if err != nil {
		t.Fatalf("StepCountsRange failed: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	if buckets[0].Steps != 3 {
		t.Errorf("expected 3 steps, got %d", buckets[0].Steps)
	}
}
