package testfixtures

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// UUIDGenerator produces deterministic transaction and event identifiers
// for tests.
type UUIDGenerator struct {
	mu      sync.Mutex
	prefix  uint32
	counter uint64
}

// NewUUIDGenerator constructs a generator whose UUIDs share prefix in their
// first four bytes.
func NewUUIDGenerator(prefix uint32) *UUIDGenerator {
	return &UUIDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *UUIDGenerator) Next() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	var id uuid.UUID
	binary.BigEndian.PutUint32(id[0:4], g.prefix)
	binary.BigEndian.PutUint64(id[8:16], g.counter)
	// RFC 4122 variant, version 4 layout.
	id[6] = 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *UUIDGenerator) NextFunc() func() uuid.UUID {
	if g == nil {
		return uuid.New
	}
	return g.Next
}

// SetCounter overrides the internal counter, enabling deterministic resets.
func (g *UUIDGenerator) SetCounter(counter uint64) {
	g.mu.Lock()
	g.counter = counter
	g.mu.Unlock()
}
