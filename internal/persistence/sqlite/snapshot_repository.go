package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/persistence"
)

// SnapshotRepository implements persistence.SnapshotRepository on the
// snapshots, snapshot_records and snapshot_passwords tables.
type SnapshotRepository struct {
	pool  *ConnectionPool
	retry *RetryHelper
}

// NewSnapshotRepository creates a repository on pool. The schema must be
// migrated.
func NewSnapshotRepository(pool *ConnectionPool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, retry: NewRetryHelper(DefaultRetryConfig())}
}

func (r *SnapshotRepository) q(query string) string {
	return r.pool.dialect.Rebind(query)
}

// SaveSnapshot stores s with its records and passwords in one transaction.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, s persistence.Snapshot) error {
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, r.q(`
				INSERT INTO snapshots (version, saved_at, entity_count)
				VALUES (?, ?, ?)`),
				s.RepositoryVersion, s.SavedAt.UTC().Format(time.RFC3339Nano), len(s.Entities))
			if err != nil {
				return r.pool.mapError(err)
			}

			insertRecord := r.q(`
				INSERT INTO snapshot_records (snapshot_version, position, entity_id, entity_type, entity_version, payload)
				VALUES (?, ?, ?, ?, ?, ?)`)
			for i, rec := range s.Entities {
				if _, err := tx.ExecContext(ctx, insertRecord,
					s.RepositoryVersion, i, rec.ID.String(), rec.Type, rec.Version, string(rec.Payload)); err != nil {
					return fmt.Errorf("insert record %s: %w", rec.ID, r.pool.mapError(err))
				}
			}

			insertPassword := r.q(`
				INSERT INTO snapshot_passwords (snapshot_version, user_id, password_hash)
				VALUES (?, ?, ?)`)
			for user, hash := range s.Passwords {
				if _, err := tx.ExecContext(ctx, insertPassword, s.RepositoryVersion, user.String(), hash); err != nil {
					return fmt.Errorf("insert password of %s: %w", user, r.pool.mapError(err))
				}
			}
			return nil
		})
	})
}

// LatestSnapshot returns the snapshot with the highest version.
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context) (persistence.Snapshot, error) {
	var s persistence.Snapshot
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var (
			savedAt string
			count   int
		)
		err := tx.QueryRowContext(ctx, `
			SELECT version, saved_at, entity_count
			FROM snapshots
			ORDER BY version DESC
			LIMIT 1`).Scan(&s.RepositoryVersion, &savedAt, &count)
		if err != nil {
			return r.pool.mapError(err)
		}
		if s.SavedAt, err = parseTime(savedAt); err != nil {
			return err
		}
		if s.Entities, err = r.records(ctx, tx, s.RepositoryVersion, count); err != nil {
			return err
		}
		s.Passwords, err = r.passwords(ctx, tx, s.RepositoryVersion)
		return err
	})
	if err != nil {
		return persistence.Snapshot{}, err
	}
	return s, nil
}

func (r *SnapshotRepository) records(ctx context.Context, tx *sql.Tx, version int64, count int) ([]persistence.Record, error) {
	rows, err := tx.QueryContext(ctx, r.q(`
		SELECT entity_id, entity_type, entity_version, payload
		FROM snapshot_records
		WHERE snapshot_version = ?
		ORDER BY position ASC`), version)
	if err != nil {
		return nil, r.pool.mapError(err)
	}
	defer rows.Close()

	records := make([]persistence.Record, 0, count)
	for rows.Next() {
		var (
			rec     persistence.Record
			id      string
			payload string
		)
		if err := rows.Scan(&id, &rec.Type, &rec.Version, &payload); err != nil {
			return nil, r.pool.mapError(err)
		}
		if rec.ID, err = entity.ParseID(id); err != nil {
			return nil, fmt.Errorf("%w: snapshot %d: %v", persistence.ErrCorrupt, version, err)
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.pool.mapError(err)
	}
	if len(records) != count {
		return nil, fmt.Errorf("%w: snapshot %d has %d records, expected %d", persistence.ErrCorrupt, version, len(records), count)
	}
	return records, nil
}

func (r *SnapshotRepository) passwords(ctx context.Context, tx *sql.Tx, version int64) (map[entity.ID]string, error) {
	rows, err := tx.QueryContext(ctx, r.q(`
		SELECT user_id, password_hash
		FROM snapshot_passwords
		WHERE snapshot_version = ?`), version)
	if err != nil {
		return nil, r.pool.mapError(err)
	}
	defer rows.Close()

	passwords := make(map[entity.ID]string)
	for rows.Next() {
		var user, hash string
		if err := rows.Scan(&user, &hash); err != nil {
			return nil, r.pool.mapError(err)
		}
		id, err := entity.ParseIDOfType(entity.TypeUser, user)
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot %d: %v", persistence.ErrCorrupt, version, err)
		}
		passwords[id] = hash
	}
	return passwords, r.pool.mapError(rows.Err())
}

// ListSnapshots returns the stored versions, newest first.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context) ([]persistence.SnapshotInfo, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT version, saved_at, entity_count
		FROM snapshots
		ORDER BY version DESC`)
	if err != nil {
		return nil, r.pool.mapError(err)
	}
	defer rows.Close()

	var infos []persistence.SnapshotInfo
	for rows.Next() {
		var (
			info    persistence.SnapshotInfo
			savedAt string
		)
		if err := rows.Scan(&info.RepositoryVersion, &savedAt, &info.Entities); err != nil {
			return nil, r.pool.mapError(err)
		}
		if info.SavedAt, err = parseTime(savedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, r.pool.mapError(rows.Err())
}

// PruneSnapshots keeps the newest keep snapshots. Dependent rows are deleted
// explicitly so pruning does not depend on foreign key enforcement.
func (r *SnapshotRepository) PruneSnapshots(ctx context.Context, keep int) error {
	keep = max(keep, 0)
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			var cutoff int64
			err := tx.QueryRowContext(ctx, r.q(`
				SELECT version FROM snapshots
				ORDER BY version DESC
				LIMIT 1 OFFSET ?`), keep).Scan(&cutoff)
			if err == sql.ErrNoRows {
				return nil
			}
			if err != nil {
				return r.pool.mapError(err)
			}
			for _, table := range []string{"snapshot_passwords", "snapshot_records"} {
				if _, err := tx.ExecContext(ctx, r.q("DELETE FROM "+table+" WHERE snapshot_version <= ?"), cutoff); err != nil {
					return r.pool.mapError(err)
				}
			}
			if _, err := tx.ExecContext(ctx, r.q("DELETE FROM snapshots WHERE version <= ?"), cutoff); err != nil {
				return r.pool.mapError(err)
			}
			return nil
		})
	})
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: saved_at %q: %v", persistence.ErrCorrupt, value, err)
	}
	return t, nil
}

var _ persistence.SnapshotRepository = (*SnapshotRepository)(nil)
