// Package migrations holds the snapshot schema. The statements are portable
// between SQLite and PostgreSQL.
package migrations

import "embed"

// FS contains the versioned schema files.
//
//go:embed *.sql
var FS embed.FS
