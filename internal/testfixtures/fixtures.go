package testfixtures

import (
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/storage"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Fixed keys of the seeded world. Tests allocate new entities above them.
const (
	keyRoomType   = 1
	keyPersonType = 2
	keyEventType  = 3
	keyStaff      = 1
	keyAdmin      = 1
	keyAlice      = 2
	keyBob        = 3
	keyRoomA      = 1
	keyRoomB      = 2
	keyCarol      = 3
)

// World is a populated cache with the entities most tests need: an
// administrator and two regular users, a staff group, dynamic types for
// rooms, persons and events, and three allocatables.
type World struct {
	Cache *storage.LocalCache

	Staff *entity.Category

	RoomType   *entity.DynamicType
	PersonType *entity.DynamicType
	EventType  *entity.DynamicType

	Admin *entity.User
	Alice *entity.User
	Bob   *entity.User

	RoomA *entity.Allocatable
	RoomB *entity.Allocatable
	Carol *entity.Allocatable
}

// NewWorld seeds a cache. Stored entities are read-only like committed ones.
func NewWorld(tb testing.TB) *World {
	tb.Helper()

	w := &World{Cache: storage.NewLocalCache()}
	must := func(err error) {
		tb.Helper()
		if err != nil {
			tb.Fatalf("seed world: %v", err)
		}
	}

	super := w.Cache.SuperCategory()
	w.Staff = entity.NewCategory(entity.NewID(entity.TypeCategory, keyStaff), "staff")
	must(w.Staff.SetName("Staff"))
	must(super.AddCategory(w.Staff))
	w.Cache.Put(super)

	w.RoomType = entity.NewDynamicType(entity.NewID(entity.TypeDynamicType, keyRoomType), "room", entity.ClassificationResource)
	must(w.RoomType.AddAttribute(entity.Attribute{Key: "name", Name: "Name", Type: entity.AttributeString}))
	must(w.RoomType.AddAttribute(entity.Attribute{Key: "capacity", Name: "Capacity", Type: entity.AttributeInt, Optional: true}))

	w.PersonType = entity.NewDynamicType(entity.NewID(entity.TypeDynamicType, keyPersonType), "person", entity.ClassificationPerson)
	must(w.PersonType.AddAttribute(entity.Attribute{Key: "name", Name: "Name", Type: entity.AttributeString}))
	must(w.PersonType.AddAttribute(entity.Attribute{Key: entity.AttributeEmail, Name: "Email", Type: entity.AttributeString, Optional: true}))

	w.EventType = entity.NewDynamicType(entity.NewID(entity.TypeDynamicType, keyEventType), "event", entity.ClassificationReservation)
	must(w.EventType.AddAttribute(entity.Attribute{Key: "name", Name: "Title", Type: entity.AttributeString}))

	w.Admin = newUser(tb, keyAdmin, "admin", "Administrator", true)
	w.Alice = newUser(tb, keyAlice, "alice", "Alice Example", false)
	must(w.Alice.AddGroup(w.Staff.ID()))
	w.Bob = newUser(tb, keyBob, "bob", "Bob Example", false)

	w.RoomA = newAllocatable(tb, w.RoomType, keyRoomA, map[string]any{"name": "Room A", "capacity": 12})
	w.RoomB = newAllocatable(tb, w.RoomType, keyRoomB, map[string]any{"name": "Room B"})
	w.Carol = newAllocatable(tb, w.PersonType, keyCarol, map[string]any{"name": "Carol", entity.AttributeEmail: "carol@example.com"})

	for _, e := range []entity.Entity{
		w.RoomType, w.PersonType, w.EventType,
		w.Admin, w.Alice, w.Bob,
		w.RoomA, w.RoomB, w.Carol,
	} {
		w.Cache.Put(e)
	}
	for _, e := range w.Cache.All() {
		e.SetReadOnly(true)
	}
	return w
}

func newUser(tb testing.TB, key int64, username, name string, admin bool) *entity.User {
	tb.Helper()
	u := entity.NewUser(entity.NewID(entity.TypeUser, key), username)
	if err := u.SetName(name); err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	if err := u.SetEmail(username + "@example.com"); err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	if err := u.SetAdmin(admin); err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func newAllocatable(tb testing.TB, dt *entity.DynamicType, key int64, values map[string]any) *entity.Allocatable {
	tb.Helper()
	c := dt.NewClassification()
	for k, v := range values {
		if err := c.SetValue(k, v); err != nil {
			tb.Fatalf("seed allocatable: %v", err)
		}
	}
	return entity.NewAllocatable(entity.NewID(entity.TypeAllocatable, key), c)
}

// NewReservation builds a writable reservation of the event type owned by
// owner with one single appointment per period. It is not stored.
func (w *World) NewReservation(tb testing.TB, key int64, owner entity.ID, title string, periods ...[2]time.Time) *entity.Reservation {
	tb.Helper()
	c := w.EventType.NewClassification()
	if err := c.SetValue("name", title); err != nil {
		tb.Fatalf("reservation classification: %v", err)
	}
	r := entity.NewReservation(entity.NewID(entity.TypeReservation, key), c)
	if err := r.SetOwner(owner); err != nil {
		tb.Fatalf("reservation owner: %v", err)
	}
	for i, p := range periods {
		app := entity.NewAppointment(entity.NewID(entity.TypeAppointment, key*100+int64(i)), p[0], p[1])
		if err := r.AddAppointment(app); err != nil {
			tb.Fatalf("reservation appointment: %v", err)
		}
	}
	return r
}

// Store puts entities into the world cache read-only.
func (w *World) Store(entities ...entity.Entity) {
	for _, e := range entities {
		w.Cache.Put(e)
		entity.Walk(e, func(sub entity.Entity) { sub.SetReadOnly(true) })
	}
}

func (w *World) users() []entity.ID {
	return []entity.ID{w.Admin.ID(), w.Alice.ID(), w.Bob.ID()}
}
