package db

import (
	"path/filepath"
	"testing"
)

// setupTestDB creates a migrated database in a per-test temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupEmptyTestDB opens a database without running migrations, for tests
// that exercise migration and schema-detection paths themselves.
func setupEmptyTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedSteps inserts count step events starting at startMS, spaced intervalMS
// apart, all with the given confidence and a fixed magnitude.
func seedSteps(t *testing.T, db *DB, startMS int64, count int, intervalMS int64, confidence float64) {
	t.Helper()

	for i := 0; i < count; i++ {
		e := StepEventRow{
			TimestampMS: startMS + int64(i)*intervalMS,
			Confidence:  confidence,
			Magnitude:   11.5,
			Source:      "test",
		}
		if err := db.RecordStepEvent(e); err != nil {
			t.Fatalf("RecordStepEvent failed at step %d: %v", i, err)
		}
	}
}

// seedSamples inserts count accelerometer samples starting at startMS,
// spaced intervalMS apart, near 1g with no motion.
func seedSamples(t *testing.T, db *DB, startMS int64, count int, intervalMS int64) {
	t.Helper()

	for i := 0; i < count; i++ {
		s := SampleRow{
			TimestampMS: startMS + int64(i)*intervalMS,
			X:           0.1,
			Y:           9.8,
			Z:           0.2,
			Magnitude:   9.803,
			Confidence:  0,
		}
		if err := db.RecordSample(s); err != nil {
			t.Fatalf("RecordSample failed at sample %d: %v", i, err)
		}
	}
}
