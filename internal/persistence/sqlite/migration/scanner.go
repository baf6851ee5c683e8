package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Scan reads every *.sql file at the root of fsys and returns the migrations
// ordered by version. Files that do not follow the naming convention and
// duplicate versions are errors.
func Scan(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		if other, ok := seen[m.Version]; ok {
			return nil, newMigrationError(m, "scan",
				fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, other, m.Name))
		}
		seen[m.Version] = m.Name

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, newMigrationError(m, "read", err)
		}
		if len(SplitStatements(string(content))) == 0 {
			return nil, newMigrationError(m, "parse", fmt.Errorf("%w: no SQL statements", ErrInvalidMigrationFile))
		}
		m.SQL = string(content)
		sum := sha256.Sum256(content)
		m.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func parseName(name string) (Migration, error) {
	matches := migrationFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return Migration{}, &MigrationError{Name: name, Operation: "scan",
			Err: fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, name)}
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil || version <= 0 {
		return Migration{}, &MigrationError{Name: name, Operation: "scan",
			Err: fmt.Errorf("%w: version %q", ErrInvalidMigrationFile, matches[1])}
	}
	return Migration{Version: version, Description: matches[2], Name: name}, nil
}

// SplitStatements splits a migration into statements on semicolons and
// drops comment-only lines.
func SplitStatements(sql string) []string {
	var statements []string
	for _, stmt := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}
