package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps snapshots in process memory. It backs tests and
// deployments without a database.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[int64]Snapshot
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snapshots: make(map[int64]Snapshot)}
}

// SaveSnapshot stores a copy of s.
func (m *MemoryRepository) SaveSnapshot(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[s.RepositoryVersion]; ok {
		return ErrDuplicate
	}
	m.snapshots[s.RepositoryVersion] = cloneSnapshot(s)
	return nil
}

// LatestSnapshot returns the snapshot with the highest version.
func (m *MemoryRepository) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versionsLocked()
	if len(versions) == 0 {
		return Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(m.snapshots[versions[0]]), nil
}

// ListSnapshots returns the stored versions, newest first.
func (m *MemoryRepository) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versionsLocked()
	infos := make([]SnapshotInfo, 0, len(versions))
	for _, v := range versions {
		infos = append(infos, m.snapshots[v].Info())
	}
	return infos, nil
}

// PruneSnapshots keeps the newest keep snapshots.
func (m *MemoryRepository) PruneSnapshots(ctx context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.versionsLocked()
	if keep < 0 {
		keep = 0
	}
	for _, v := range versions[min(keep, len(versions)):] {
		delete(m.snapshots, v)
	}
	return nil
}

func (m *MemoryRepository) versionsLocked() []int64 {
	versions := make([]int64, 0, len(m.snapshots))
	for v := range m.snapshots {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	return versions
}

var _ SnapshotRepository = (*MemoryRepository)(nil)
