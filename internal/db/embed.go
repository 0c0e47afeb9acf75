package db

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode selects the on-disk migrations directory instead of the embedded
// copy, so migration files can be edited without rebuilding.
var DevMode = false

// getMigrationsFS returns the filesystem the migrate driver reads from. In
// production this is the embedded copy rooted at the migration files
// themselves.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}
