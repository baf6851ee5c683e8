package persistence

import "context"

// SnapshotRepository stores cache snapshots keyed by repository version.
type SnapshotRepository interface {
	// SaveSnapshot stores s. Saving a version that already exists fails with
	// ErrDuplicate.
	SaveSnapshot(ctx context.Context, s Snapshot) error
	// LatestSnapshot returns the snapshot with the highest version, or
	// ErrNotFound.
	LatestSnapshot(ctx context.Context) (Snapshot, error)
	// ListSnapshots returns the stored versions, newest first.
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
	// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
	PruneSnapshots(ctx context.Context, keep int) error
}

// SnapshotArchive receives copies of saved snapshots for off-site storage.
type SnapshotArchive interface {
	ArchiveSnapshot(ctx context.Context, s Snapshot) error
}
