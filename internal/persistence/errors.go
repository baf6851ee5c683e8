package persistence

import (
	"errors"
	"fmt"

	"github.com/example/resource-scheduler/internal/entity"
)

var (
	// ErrNotFound is returned when no snapshot has been stored yet.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a snapshot version is stored twice.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("persistence: corrupt record")
)

// DecodeError identifies the record that failed to decode.
type DecodeError struct {
	ID  entity.ID
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("persistence: decode %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrCorrupt }
