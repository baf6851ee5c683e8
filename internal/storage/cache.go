// Package storage holds the in-memory entity graph of a scheduling session:
// the authoritative LocalCache and the EntityStore overlay used to stage a
// transaction against it.
//
// Neither type locks. Callers serialise writers and must not read while a
// Put, Remove or ClearAll is running.
package storage

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
)

// LocalCache is the typed, indexed store of one session. Every entity type
// has exactly one collection; the set of collections never changes after
// construction. The super category is always present.
type LocalCache struct {
	collections map[entity.Type]map[entity.ID]entity.Entity
	// byStart orders stored appointments with Appointment.Compare.
	byStart   []*entity.Appointment
	passwords map[entity.ID]string
}

// NewLocalCache returns a cache that only holds the super category.
func NewLocalCache() *LocalCache {
	c := &LocalCache{
		collections: make(map[entity.Type]map[entity.ID]entity.Entity, len(entity.Types())),
		passwords:   make(map[entity.ID]string),
	}
	for _, t := range entity.Types() {
		c.collections[t] = make(map[entity.ID]entity.Entity)
	}
	c.initSuperCategory()
	return c
}

func (c *LocalCache) initSuperCategory() {
	c.put(entity.NewSuperCategory())
}

// ClearAll drops every entity and password and re-inserts an empty super
// category.
func (c *LocalCache) ClearAll() {
	for _, coll := range c.collections {
		clear(coll)
	}
	clear(c.passwords)
	c.byStart = nil
	c.initSuperCategory()
}

func (c *LocalCache) collection(t entity.Type) map[entity.ID]entity.Entity {
	coll, ok := c.collections[t]
	if !ok {
		panic(fmt.Sprintf("storage: no collection for type %s", t))
	}
	return coll
}

// SuperCategory returns the root of the category tree.
func (c *LocalCache) SuperCategory() *entity.Category {
	return c.collection(entity.TypeCategory)[entity.SuperCategoryID].(*entity.Category)
}

// Put stores e and every entity it owns, replacing instances with the same
// ids. Owned entities of the replaced instance that e no longer owns are
// dropped. Put panics when e has a zero id.
func (c *LocalCache) Put(e entity.Entity) {
	id := e.ID()
	if id.IsZero() {
		panic("storage: put of an entity without id")
	}
	if old, ok := c.collection(id.Type)[id]; ok && old != e {
		kept := make(map[entity.ID]struct{})
		entity.Walk(e, func(sub entity.Entity) { kept[sub.ID()] = struct{}{} })
		for _, sub := range old.SubEntities() {
			entity.Walk(sub, func(stale entity.Entity) {
				if _, ok := kept[stale.ID()]; !ok {
					c.removeOne(stale.ID())
				}
			})
		}
	}
	entity.Walk(e, c.put)
}

// PutAll stores every entity in order.
func (c *LocalCache) PutAll(entities []entity.Entity) {
	for _, e := range entities {
		c.Put(e)
	}
}

func (c *LocalCache) put(e entity.Entity) {
	id := e.ID()
	coll := c.collection(id.Type)
	if a, ok := e.(*entity.Appointment); ok {
		c.unindex(id)
		c.index(a)
	}
	coll[id] = e
}

// Remove drops e and everything it owns. It reports whether e was stored.
func (c *LocalCache) Remove(e entity.Entity) bool {
	id := e.ID()
	if id.IsZero() {
		return false
	}
	stored, ok := c.collection(id.Type)[id]
	if !ok {
		return false
	}
	entity.Walk(stored, func(sub entity.Entity) { c.removeOne(sub.ID()) })
	if id == entity.SuperCategoryID {
		c.initSuperCategory()
	}
	return true
}

func (c *LocalCache) removeOne(id entity.ID) {
	if id.Type == entity.TypeAppointment {
		c.unindex(id)
	}
	if id.Type == entity.TypeUser {
		delete(c.passwords, id)
	}
	delete(c.collection(id.Type), id)
}

func (c *LocalCache) index(a *entity.Appointment) {
	i, _ := slices.BinarySearchFunc(c.byStart, a, (*entity.Appointment).Compare)
	c.byStart = slices.Insert(c.byStart, i, a)
}

// unindex removes the stored instance of the appointment. The binary search
// uses the stored instance's start; a linear scan covers instances that were
// indexed under another key.
func (c *LocalCache) unindex(id entity.ID) {
	stored, ok := c.collection(entity.TypeAppointment)[id].(*entity.Appointment)
	if ok {
		if i, found := slices.BinarySearchFunc(c.byStart, stored, (*entity.Appointment).Compare); found && c.byStart[i] == stored {
			c.byStart = slices.Delete(c.byStart, i, i+1)
			return
		}
	}
	if i := slices.IndexFunc(c.byStart, func(a *entity.Appointment) bool { return a.ID() == id }); i >= 0 {
		c.byStart = slices.Delete(c.byStart, i, i+1)
	}
}

// Get returns the stored entity. It panics on a zero id.
func (c *LocalCache) Get(id entity.ID) (entity.Entity, bool) {
	if id.IsZero() {
		panic("storage: get with zero id")
	}
	coll, ok := c.collections[id.Type]
	if !ok {
		return nil, false
	}
	e, ok := coll[id]
	return e, ok
}

// Resolve implements entity.Resolver.
func (c *LocalCache) Resolve(id entity.ID) (entity.Entity, error) {
	if id.IsZero() {
		return nil, &entity.NotFoundError{ID: id}
	}
	e, ok := c.Get(id)
	if !ok {
		return nil, &entity.NotFoundError{ID: id}
	}
	return e, nil
}

// ResolveEmail returns the first allocatable, in id order, whose email
// attribute equals email. Allocatables without an email never match.
func (c *LocalCache) ResolveEmail(email string) (entity.Entity, error) {
	if email == "" {
		return nil, &entity.NotFoundError{Email: email}
	}
	for _, e := range c.Collection(entity.TypeAllocatable) {
		if e.(*entity.Allocatable).Email() == email {
			return e, nil
		}
	}
	return nil, &entity.NotFoundError{Email: email}
}

// Appointments returns the appointments overlapping [start, end) ordered by
// start. A zero start or end leaves that side open. Appointments without a
// stored reservation are skipped. A non-zero user keeps only appointments of
// reservations the user owns.
func (c *LocalCache) Appointments(user entity.ID, start, end time.Time) []*entity.Appointment {
	// Stored appointments are read-only, so their starts keep byStart sorted.
	candidates := c.byStart
	if !end.IsZero() {
		n := sort.Search(len(candidates), func(i int) bool { return !candidates[i].Start().Before(end) })
		candidates = candidates[:n]
	}
	var out []*entity.Appointment
	for _, a := range candidates {
		res, ok := c.reservation(a.Reservation())
		if !ok {
			continue
		}
		if !a.Overlaps(start, end) {
			continue
		}
		if !user.IsZero() && res.Owner() != user {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (c *LocalCache) reservation(id entity.ID) (*entity.Reservation, bool) {
	if id.IsZero() {
		return nil, false
	}
	r, ok := c.collection(entity.TypeReservation)[id].(*entity.Reservation)
	return r, ok
}

// Reservations returns the distinct reservations of the appointments
// matching Appointments, in the order their first appointment appears.
func (c *LocalCache) Reservations(user entity.ID, start, end time.Time) []*entity.Reservation {
	seen := make(map[entity.ID]struct{})
	var out []*entity.Reservation
	for _, a := range c.Appointments(user, start, end) {
		if _, ok := seen[a.Reservation()]; ok {
			continue
		}
		seen[a.Reservation()] = struct{}{}
		r, _ := c.reservation(a.Reservation())
		out = append(out, r)
	}
	return out
}

// User looks a user up by username. An exact match wins over a case
// insensitive one.
func (c *LocalCache) User(username string) (*entity.User, bool) {
	users := c.Collection(entity.TypeUser)
	for _, e := range users {
		if u := e.(*entity.User); u.Username() == username {
			return u, true
		}
	}
	for _, e := range users {
		if u := e.(*entity.User); strings.EqualFold(u.Username(), username) {
			return u, true
		}
	}
	return nil, false
}

// Preferences returns the preferences owned by user, or the system defaults
// when user is the zero ID.
func (c *LocalCache) Preferences(user entity.ID) (*entity.Preferences, bool) {
	for _, e := range c.Collection(entity.TypePreferences) {
		if p := e.(*entity.Preferences); p.Owner() == user {
			return p, true
		}
	}
	return nil, false
}

// ParseID decodes "<type>_<key>", or a bare key when t is known.
func (c *LocalCache) ParseID(t entity.Type, s string) (entity.ID, error) {
	if t == entity.TypeUnknown {
		return entity.ParseID(s)
	}
	return entity.ParseIDOfType(t, s)
}

// Collection returns the entities of one type ordered by id.
func (c *LocalCache) Collection(t entity.Type) []entity.Entity {
	coll := c.collection(t)
	out := make([]entity.Entity, 0, len(coll))
	for _, e := range coll {
		out = append(out, e)
	}
	sortByID(out)
	return out
}

// Count returns the number of stored entities of one type.
func (c *LocalCache) Count(t entity.Type) int { return len(c.collection(t)) }

// MaxKey returns the highest key in use for t, or 0.
func (c *LocalCache) MaxKey(t entity.Type) int64 {
	var highest int64
	for id := range c.collection(t) {
		highest = max(highest, id.Key)
	}
	return highest
}

// All returns every stored entity grouped by type.
func (c *LocalCache) All() []entity.Entity {
	var out []entity.Entity
	for _, t := range entity.Types() {
		out = append(out, c.Collection(t)...)
	}
	return out
}

// VisibleEntities returns everything except reservations and appointments,
// which clients load by time window.
func (c *LocalCache) VisibleEntities() []entity.Entity {
	var out []entity.Entity
	for _, t := range entity.Types() {
		if t == entity.TypeReservation || t == entity.TypeAppointment {
			continue
		}
		out = append(out, c.Collection(t)...)
	}
	return out
}

// DynamicType returns the dynamic type with the given element key.
func (c *LocalCache) DynamicType(elementKey string) (*entity.DynamicType, bool) {
	for _, e := range c.Collection(entity.TypeDynamicType) {
		if dt := e.(*entity.DynamicType); dt.ElementKey() == elementKey {
			return dt, true
		}
	}
	return nil, false
}

// Referers returns the stored entities of type t, other than id itself, that
// reference id. TypeUnknown searches every type.
func (c *LocalCache) Referers(t entity.Type, id entity.ID) []entity.Entity {
	types := []entity.Type{t}
	if t == entity.TypeUnknown {
		types = entity.Types()
	}
	var out []entity.Entity
	for _, typ := range types {
		for _, e := range c.Collection(typ) {
			if e.ID() != id && e.References().IsReferring(id) {
				out = append(out, e)
			}
		}
	}
	return out
}

// Password returns the stored password hash of a user.
func (c *LocalCache) Password(user entity.ID) (string, bool) {
	p, ok := c.passwords[user]
	return p, ok
}

// PutPassword stores a password hash. An empty hash removes it.
func (c *LocalCache) PutPassword(user entity.ID, hash string) {
	if hash == "" {
		delete(c.passwords, user)
		return
	}
	c.passwords[user] = hash
}

func sortByID(entities []entity.Entity) {
	slices.SortFunc(entities, func(a, b entity.Entity) int { return a.ID().Compare(b.ID()) })
}

var (
	_ entity.Resolver      = (*LocalCache)(nil)
	_ entity.EmailResolver = (*LocalCache)(nil)
)

// Passwords returns a copy of the password side-table.
func (c *LocalCache) Passwords() map[entity.ID]string {
	out := make(map[entity.ID]string, len(c.passwords))
	for k, v := range c.passwords {
		out[k] = v
	}
	return out
}
