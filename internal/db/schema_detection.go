package db

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// GetDatabaseSchema extracts the schema of all user tables and indexes as a
// map of object name to normalized CREATE statement. Internal sqlite objects
// and the migration bookkeeping table are excluded so a legacy database can
// be compared against a freshly migrated one.
func (db *DB) GetDatabaseSchema() (map[string]string, error) {
	rows, err := db.Query(`
		SELECT name, sql
		FROM sqlite_master
		WHERE sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND name != 'version_unique'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read sqlite_master: %w", err)
	}
	defer rows.Close()

	schema := make(map[string]string)
	for rows.Next() {
		var name, createSQL string
		if err := rows.Scan(&name, &createSQL); err != nil {
			return nil, err
		}
		schema[name] = normalizeSchemaSQL(createSQL)
	}
	return schema, rows.Err()
}

// normalizeSchemaSQL collapses whitespace so schemas written by hand compare
// equal to the ones the migrations produce.
func normalizeSchemaSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// CompareSchemas compares two schemas and returns a similarity score from 0
// to 100 plus a list of human-readable differences. The score is the number
// of identical objects over the number of distinct object names across both
// schemas.
func CompareSchemas(current, candidate map[string]string) (int, []string) {
	names := make(map[string]bool)
	for name := range current {
		names[name] = true
	}
	for name := range candidate {
		names[name] = true
	}

	if len(names) == 0 {
		return 100, nil
	}

	var diffs []string
	matches := 0
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		cur, inCurrent := current[name]
		cand, inCandidate := candidate[name]
		switch {
		case inCurrent && !inCandidate:
			diffs = append(diffs, fmt.Sprintf("extra object %q not present at this version", name))
		case !inCurrent && inCandidate:
			diffs = append(diffs, fmt.Sprintf("missing object %q expected at this version", name))
		case cur != cand:
			diffs = append(diffs, fmt.Sprintf("object %q differs: have %q, want %q", name, cur, cand))
		default:
			matches++
		}
	}

	return matches * 100 / len(names), diffs
}

// GetSchemaAtMigration returns the schema a fresh database would have after
// migrating to the given version. It works by actually running the
// migrations against a scratch database file, so the result reflects exactly
// what the migration SQL produces.
func (db *DB) GetSchemaAtMigration(migrations fs.FS, version uint) (map[string]string, error) {
	f, err := os.CreateTemp("", "schema_probe_*.db")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch database: %w", err)
	}
	scratchPath := f.Name()
	f.Close()
	defer func() {
		os.Remove(scratchPath)
		os.Remove(scratchPath + "-wal")
		os.Remove(scratchPath + "-shm")
	}()

	scratch, err := OpenDB(scratchPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open scratch database: %w", err)
	}
	defer scratch.Close()

	if err := scratch.MigrateTo(migrations, version); err != nil {
		return nil, fmt.Errorf("failed to migrate scratch database to version %d: %w", version, err)
	}

	return scratch.GetDatabaseSchema()
}

// DetectSchemaVersion compares the database schema against every known
// migration point and returns the best-matching version, its similarity
// score, and the differences at that version. Used for databases that
// predate the schema_migrations table.
func (db *DB) DetectSchemaVersion(migrations fs.FS) (uint, int, []string, error) {
	current, err := db.GetDatabaseSchema()
	if err != nil {
		return 0, 0, nil, err
	}

	latest, err := GetLatestMigrationVersion(migrations)
	if err != nil {
		return 0, 0, nil, err
	}

	bestVersion := uint(0)
	bestScore := -1
	var bestDiffs []string

	for version := uint(1); version <= latest; version++ {
		candidate, err := db.GetSchemaAtMigration(migrations, version)
		if err != nil {
			return 0, 0, nil, err
		}

		score, diffs := CompareSchemas(current, candidate)
		// Prefer the highest version on ties so a perfect match at the
		// latest version wins over earlier identical scores.
		if score >= bestScore {
			bestVersion = version
			bestScore = score
			bestDiffs = diffs
		}
	}

	if bestScore < 0 {
		return 0, 0, nil, fmt.Errorf("no migration versions available to compare against")
	}

	return bestVersion, bestScore, bestDiffs, nil
}
