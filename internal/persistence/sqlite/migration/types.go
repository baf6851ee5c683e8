package migration

import "time"

// Migration is one schema file with its metadata.
type Migration struct {
	Version     int    // numeric prefix of the file name
	Description string // remainder of the file name without extension
	SQL         string
	Name        string // file name within the source fs.FS
	Checksum    string // hex sha256 of SQL
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       int
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status describes the migration state of a database.
type Status struct {
	CurrentVersion int // zero when nothing has been applied
	Applied        []AppliedMigration
	Pending        []Migration
}
