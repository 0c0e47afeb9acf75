// Package db provides sqlite-backed storage for accelerometer samples, step
// events, and the walking bouts sessionized from them.
package db

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// pragmaDSN appends the connection pragmas to the sqlite DSN. busy_timeout,
// synchronous, and temp_store are per-connection state, so they have to ride
// the DSN to reach every connection the pool opens.
func pragmaDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "temp_store(MEMORY)")
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens the database without touching the schema. Callers that need
// the schema present should use NewDB or run migrations themselves; the
// migrate CLI uses OpenDB directly so a half-migrated database can still be
// inspected.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", pragmaDSN(path))
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and brings the schema up to date from the
// embedded migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(fsys); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewDBWithMigrationCheck opens the database and verifies its schema version
// instead of silently migrating. Databases that predate migrations entirely
// are run through schema detection; with autoBaseline set, a perfect match at
// the latest version is baselined in place so old installs keep working.
func NewDBWithMigrationCheck(path string, autoBaseline bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	fsys, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}

	var hasMigrations bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&hasMigrations)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	if hasMigrations {
		if _, err := db.CheckAndPromptMigrations(fsys); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	// Check for an empty database: no user tables at all means this is a
	// fresh file and migrations can simply run.
	var tableCount int
	if err := db.QueryRow(`
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&tableCount); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if tableCount == 0 {
		if err := db.MigrateUp(fsys); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	// Legacy database: has tables but no schema_migrations.
	detectedVersion, matchScore, diffs, err := db.DetectSchemaVersion(fsys)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("schema detection failed: %w", err)
	}

	latestVersion, err := GetLatestMigrationVersion(fsys)
	if err != nil {
		db.Close()
		return nil, err
	}

	if autoBaseline && matchScore == 100 && detectedVersion == latestVersion {
		log.Printf("Legacy database matches migration version %d; baselining", detectedVersion)
		if err := db.BaselineAtVersion(detectedVersion); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	db.Close()
	return nil, fmt.Errorf(
		"database has no schema_migrations table (best match: version %d at %d%%, %d differences). Run 'count-steps migrate detect' to diagnose, then 'count-steps migrate baseline <N>' and 'count-steps migrate up'",
		detectedVersion, matchScore, len(diffs),
	)
}

// SampleRow is one processed accelerometer sample as stored in accel_data.
// Confidence is the classifier confidence computed for the sample, recorded
// for replay and tuning work.
type SampleRow struct {
	TimestampMS int64   `json:"timestamp_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Magnitude   float64 `json:"magnitude"`
	Confidence  float64 `json:"confidence"`
}

func (db *DB) RecordSample(s SampleRow) error {
	_, err := db.Exec(
		`INSERT INTO accel_data (ts_ms, x, y, z, magnitude, confidence) VALUES (?, ?, ?, ?, ?, ?)`,
		s.TimestampMS, s.X, s.Y, s.Z, s.Magnitude, s.Confidence,
	)
	return err
}

// RecentSamples returns up to limit samples, most recent first.
func (db *DB) RecentSamples(limit int) ([]SampleRow, error) {
	rows, err := db.Query(
		`SELECT ts_ms, x, y, z, magnitude, confidence FROM accel_data ORDER BY ts_ms DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []SampleRow
	for rows.Next() {
		var s SampleRow
		var x, y, z, mag, conf sql.NullFloat64
		if err := rows.Scan(&s.TimestampMS, &x, &y, &z, &mag, &conf); err != nil {
			return nil, err
		}
		s.X, s.Y, s.Z = x.Float64, y.Float64, z.Float64
		s.Magnitude = mag.Float64
		s.Confidence = conf.Float64
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// StepEventRow is one accepted step as stored in step_events.
type StepEventRow struct {
	RowID       int64   `json:"-"`
	TimestampMS int64   `json:"timestamp_ms"`
	Confidence  float64 `json:"confidence"`
	Magnitude   float64 `json:"magnitude"`
	Source      string  `json:"source"`
}

func (db *DB) RecordStepEvent(e StepEventRow) error {
	_, err := db.Exec(
		`INSERT INTO step_events (ts_ms, confidence, magnitude, source) VALUES (?, ?, ?, ?)`,
		e.TimestampMS, e.Confidence, e.Magnitude, e.Source,
	)
	return err
}

// RecentStepEvents returns up to limit step events, most recent first.
func (db *DB) RecentStepEvents(limit int) ([]StepEventRow, error) {
	rows, err := db.Query(
		`SELECT rowid, ts_ms, confidence, magnitude, COALESCE(source, '') FROM step_events ORDER BY ts_ms DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStepEvents(rows)
}

// StepEventsRange returns step events with ts_ms in [startMS, endMS],
// oldest first.
func (db *DB) StepEventsRange(startMS, endMS int64) ([]StepEventRow, error) {
	rows, err := db.Query(
		`SELECT rowid, ts_ms, confidence, magnitude, COALESCE(source, '') FROM step_events WHERE ts_ms BETWEEN ? AND ? ORDER BY ts_ms`,
		startMS, endMS,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStepEvents(rows)
}

func scanStepEvents(rows *sql.Rows) ([]StepEventRow, error) {
	var events []StepEventRow
	for rows.Next() {
		var e StepEventRow
		var mag sql.NullFloat64
		if err := rows.Scan(&e.RowID, &e.TimestampMS, &e.Confidence, &mag, &e.Source); err != nil {
			return nil, err
		}
		e.Magnitude = mag.Float64
		events = append(events, e)
	}
	return events, rows.Err()
}

// TotalSteps returns the all-time accepted step count. The classifier keeps
// no cumulative counter; this table is the counter.
func (db *DB) TotalSteps() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM step_events`).Scan(&n)
	return n, err
}

// StepsSince counts accepted steps with ts_ms >= sinceMS.
func (db *DB) StepsSince(sinceMS int64) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM step_events WHERE ts_ms >= ?`, sinceMS).Scan(&n)
	return n, err
}

// PruneSamples deletes accel_data rows written more than retentionDays ago.
// Step events and walks are kept; raw samples are the bulk of the database
// and only matter for replay and tuning.
func (db *DB) PruneSamples(retentionDays int) (int64, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must be >= 0, got %d", retentionDays)
	}
	cutoff := float64(time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix())
	result, err := db.Exec(`DELETE FROM accel_data WHERE write_timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://steps.db", db.DB, &tailsql.DBOptions{
		Label: "Pedometer DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))

	debug.Handle("prune", "Delete raw samples older than the retention window", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		days := 14
		if v := r.FormValue("days"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				http.Error(w, "Invalid days parameter", http.StatusBadRequest)
				return
			}
			days = parsed
		}
		deleted, err := db.PruneSamples(days)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to prune samples: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Pruned %d samples older than %d days\n", deleted, days)
	}))
}

// Walk is one sessionized walking bout.
type Walk struct {
	ID             int64   `json:"id"`
	Key            string  `json:"key"`
	StartMS        int64   `json:"start_ms"`
	EndMS          int64   `json:"end_ms"`
	StepCount      int64   `json:"step_count"`
	CadenceSPM     float64 `json:"cadence_spm"`
	CadenceP50     float64 `json:"cadence_p50"`
	CadenceP85     float64 `json:"cadence_p85"`
	MeanMagnitude  float64 `json:"mean_magnitude"`
	MaxMagnitude   float64 `json:"max_magnitude"`
	MeanConfidence float64 `json:"mean_confidence"`
	GapThresholdMS int64   `json:"gap_threshold_ms"`
	ModelVersion   string  `json:"model_version"`
}

// WalksSince returns walks starting at or after sinceMS, most recent first.
func (db *DB) WalksSince(ctx context.Context, sinceMS int64) ([]Walk, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			walk_id, walk_key, walk_start_ms, walk_end_ms, step_count,
			cadence_spm, cadence_p50, cadence_p85,
			mean_magnitude, max_magnitude, mean_confidence,
			gap_threshold_ms, COALESCE(model_version, '')
		FROM walks
		WHERE walk_start_ms >= ?
		ORDER BY walk_start_ms DESC
	`, sinceMS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var walks []Walk
	for rows.Next() {
		var w Walk
		var spm, p50, p85, meanMag, maxMag, meanConf sql.NullFloat64
		if err := rows.Scan(
			&w.ID, &w.Key, &w.StartMS, &w.EndMS, &w.StepCount,
			&spm, &p50, &p85,
			&meanMag, &maxMag, &meanConf,
			&w.GapThresholdMS, &w.ModelVersion,
		); err != nil {
			return nil, err
		}
		w.CadenceSPM = spm.Float64
		w.CadenceP50 = p50.Float64
		w.CadenceP85 = p85.Float64
		w.MeanMagnitude = meanMag.Float64
		w.MaxMagnitude = maxMag.Float64
		w.MeanConfidence = meanConf.Float64
		walks = append(walks, w)
	}
	return walks, rows.Err()
}
