// Package migration applies versioned schema files to a database.
//
// Migration files are read from an fs.FS and follow the naming convention
// {version}_{description}.sql (e.g. "001_snapshots.sql"). Applied versions
// are tracked in a schema_migrations table so that each file runs once.
// Every migration runs in its own transaction together with its bookkeeping
// row.
//
// Example usage:
//
//	manager := migration.NewManager(migrations, migration.NewExecutor(db, migration.DialectSQLite), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
