package persistence

import (
	"encoding/json"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
)

// Snapshot is the persisted state of a cache at one repository version.
type Snapshot struct {
	RepositoryVersion int64
	SavedAt           time.Time
	Entities          []Record
	// Passwords maps users to password hashes.
	Passwords map[entity.ID]string
}

// Record is one top-level entity. Owned entities are nested in the payload
// of their owner.
type Record struct {
	ID      entity.ID
	Type    string
	Version int64
	Payload json.RawMessage
}

// SnapshotInfo describes a stored snapshot without its records.
type SnapshotInfo struct {
	RepositoryVersion int64
	SavedAt           time.Time
	Entities          int
}

// Info summarises s.
func (s Snapshot) Info() SnapshotInfo {
	return SnapshotInfo{RepositoryVersion: s.RepositoryVersion, SavedAt: s.SavedAt, Entities: len(s.Entities)}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Entities = make([]Record, len(s.Entities))
	for i, r := range s.Entities {
		r.Payload = append(json.RawMessage(nil), r.Payload...)
		out.Entities[i] = r
	}
	out.Passwords = make(map[entity.ID]string, len(s.Passwords))
	for k, v := range s.Passwords {
		out.Passwords[k] = v
	}
	return out
}
