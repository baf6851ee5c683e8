// Package entity defines the scheduling domain: identifiers, the reference
// table shared by all entities, and the closed set of entity kinds
// (reservations with their appointments, allocatables, users, categories,
// dynamic types and preferences).
//
// Stored entities are read-only. Edits happen on writable copies obtained
// through Snapshot or DeepSnapshot and are published by replacing the stored
// instance.
package entity

import (
	"errors"
	"fmt"
	"time"
)

// ErrReadOnly indicates a mutation of a read-only entity.
var ErrReadOnly = errors.New("entity: read-only")

// ReadOnlyError reports which entity rejected a mutation.
type ReadOnlyError struct {
	ID ID
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("entity: %s is read-only", e.ID)
}

func (e *ReadOnlyError) Is(target error) bool {
	return target == ErrReadOnly
}

// ErrNotFound indicates a reference that cannot be resolved.
var ErrNotFound = errors.New("entity: not found")

// NotFoundError carries the id or email that could not be resolved.
type NotFoundError struct {
	ID    ID
	Email string
}

func (e *NotFoundError) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("entity: no entity with email %q", e.Email)
	}
	return fmt.Sprintf("entity: %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Resolver looks up entities by id.
type Resolver interface {
	Resolve(id ID) (Entity, error)
}

// EmailResolver looks up the allocatable carrying an email attribute.
type EmailResolver interface {
	ResolveEmail(email string) (Entity, error)
}

// Entity is implemented by exactly the kinds declared in this package.
type Entity interface {
	ID() ID
	Version() int64
	IsReadOnly() bool
	// SetReadOnly marks the entity and everything it owns.
	SetReadOnly(readOnly bool)
	References() *References
	// SubEntities returns the entities whose lifetime is bound to this one.
	SubEntities() []Entity
	base() *Base
}

// Base holds the state shared by every entity kind.
type Base struct {
	id          ID
	version     int64
	readOnly    bool
	refs        *References
	createDate  time.Time
	lastChanged time.Time
}

func newBase(id ID) Base {
	return Base{id: id, refs: NewReferences()}
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() ID { return b.id }

func (b *Base) Version() int64 { return b.version }

func (b *Base) IsReadOnly() bool { return b.readOnly }

func (b *Base) References() *References { return b.refs }

func (b *Base) checkWritable() error {
	if b.readOnly {
		return &ReadOnlyError{ID: b.id}
	}
	return nil
}

// SetVersion records the version the entity was stored with.
func (b *Base) SetVersion(version int64) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	b.version = version
	return nil
}

// Owner returns the owning user, or the zero ID.
func (b *Base) Owner() ID {
	id, _ := b.refs.Get(RefOwner)
	return id
}

// SetOwner replaces the owning user.
func (b *Base) SetOwner(user ID) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	b.refs.Set(RefOwner, user)
	return nil
}

// LastChangedBy returns the user that stored the current version.
func (b *Base) LastChangedBy() ID {
	id, _ := b.refs.Get(RefLastChangedBy)
	return id
}

// SetLastChangedBy records the user that stored the current version.
func (b *Base) SetLastChangedBy(user ID) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	b.refs.Set(RefLastChangedBy, user)
	return nil
}

func (b *Base) CreateDate() time.Time { return b.createDate }

func (b *Base) LastChanged() time.Time { return b.lastChanged }

// Touch sets the create date if unset and the last-changed time to now.
func (b *Base) Touch(now time.Time) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	if b.createDate.IsZero() {
		b.createDate = now
	}
	b.lastChanged = now
	return nil
}

// SetTimestamps restores stored timestamps.
func (b *Base) SetTimestamps(created, lastChanged time.Time) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	b.createDate = created
	b.lastChanged = lastChanged
	return nil
}

// copyBase copies src into a writable base with an independent reference table.
func copyBase(src *Base) Base {
	return Base{
		id:          src.id,
		version:     src.version,
		refs:        src.refs.Clone(),
		createDate:  src.createDate,
		lastChanged: src.lastChanged,
	}
}

func (b *Base) applyBase(src *Base) {
	b.version = src.version
	b.refs = src.refs.Clone()
	b.createDate = src.createDate
	b.lastChanged = src.lastChanged
}

// Snapshot returns a writable shallow copy of e. Referenced ids are shared;
// owned sub-entities are shared as they are.
func Snapshot(e Entity) Entity {
	switch v := e.(type) {
	case *Reservation:
		return v.Snapshot()
	case *Appointment:
		return v.Snapshot()
	case *Allocatable:
		return v.Snapshot()
	case *User:
		return v.Snapshot()
	case *Category:
		return v.Snapshot()
	case *DynamicType:
		return v.Snapshot()
	case *Preferences:
		return v.Snapshot()
	default:
		panic(fmt.Sprintf("entity: unknown kind %T", e))
	}
}

// DeepSnapshot returns a writable copy of e that also copies every owned
// sub-entity.
func DeepSnapshot(e Entity) Entity {
	switch v := e.(type) {
	case *Reservation:
		return v.DeepSnapshot()
	case *Appointment:
		return v.Snapshot()
	case *Allocatable:
		return v.Snapshot()
	case *User:
		return v.Snapshot()
	case *Category:
		return v.DeepSnapshot()
	case *DynamicType:
		return v.Snapshot()
	case *Preferences:
		return v.Snapshot()
	default:
		panic(fmt.Sprintf("entity: unknown kind %T", e))
	}
}

// ErrKindMismatch indicates ApplyFrom between different entities.
var ErrKindMismatch = errors.New("entity: kind or id mismatch")

// ApplyFrom copies the fields of src onto dst. Both must share id and kind,
// and dst must be writable.
func ApplyFrom(dst, src Entity) error {
	if dst.ID() != src.ID() {
		return fmt.Errorf("%w: %s <- %s", ErrKindMismatch, dst.ID(), src.ID())
	}
	if err := dst.base().checkWritable(); err != nil {
		return err
	}
	switch d := dst.(type) {
	case *Reservation:
		return d.applyFrom(src.(*Reservation))
	case *Appointment:
		return d.applyFrom(src.(*Appointment))
	case *Allocatable:
		return d.applyFrom(src.(*Allocatable))
	case *User:
		return d.applyFrom(src.(*User))
	case *Category:
		return d.applyFrom(src.(*Category))
	case *DynamicType:
		return d.applyFrom(src.(*DynamicType))
	case *Preferences:
		return d.applyFrom(src.(*Preferences))
	default:
		panic(fmt.Sprintf("entity: unknown kind %T", dst))
	}
}

// Walk calls fn for e and, depth first, every entity it owns.
func Walk(e Entity, fn func(Entity)) {
	fn(e)
	for _, sub := range e.SubEntities() {
		Walk(sub, fn)
	}
}

// StoredReferences returns a copy of the references e stores itself,
// without the ones derived from its classification or attributes.
func StoredReferences(e Entity) *References {
	return e.base().refs.Clone()
}

// RestoreReferences replaces the stored references of e.
func RestoreReferences(e Entity, refs *References) error {
	b := e.base()
	if err := b.checkWritable(); err != nil {
		return err
	}
	b.refs = refs.Clone()
	return nil
}

// Name returns a human readable name for e.
func Name(e Entity) string {
	switch v := e.(type) {
	case *Reservation:
		return v.Name()
	case *Allocatable:
		return v.Name()
	case *User:
		return v.Name()
	case *Category:
		return v.Name()
	case *DynamicType:
		return v.Name()
	default:
		return e.ID().String()
	}
}

var (
	_ Entity = (*Reservation)(nil)
	_ Entity = (*Appointment)(nil)
	_ Entity = (*Allocatable)(nil)
	_ Entity = (*User)(nil)
	_ Entity = (*Category)(nil)
	_ Entity = (*DynamicType)(nil)
	_ Entity = (*Preferences)(nil)
)
