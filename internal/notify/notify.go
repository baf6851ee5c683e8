// Package notify announces committed transactions to other processes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/resource-scheduler/internal/entity"
)

// Event describes one committed transaction.
type Event struct {
	ID                uuid.UUID   `json:"id"`
	Transaction       uuid.UUID   `json:"transaction"`
	RepositoryVersion int64       `json:"repository_version"`
	User              entity.ID   `json:"user,omitzero"`
	Stored            []entity.ID `json:"stored,omitempty"`
	Removed           []entity.ID `json:"removed,omitempty"`
	CommittedAt       time.Time   `json:"committed_at"`
}

// NewEvent stamps a fresh event id.
func NewEvent(transaction uuid.UUID, version int64, user entity.ID, stored, removed []entity.ID, at time.Time) Event {
	return Event{
		ID:                uuid.New(),
		Transaction:       transaction,
		RepositoryVersion: version,
		User:              user,
		Stored:            stored,
		Removed:           removed,
		CommittedAt:       at.UTC(),
	}
}

// Marshal encodes e as the JSON body sent by every publisher.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a body produced by Marshal.
func Unmarshal(body []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(body, &e)
	return e, err
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to several publishers. Every publisher is tried;
// the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns the events published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
