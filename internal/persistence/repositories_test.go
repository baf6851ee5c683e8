package persistence_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/storage"
)

var berlin = mustLocation("Europe/Berlin")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type populated struct {
	cache       *storage.LocalCache
	eventType   *entity.DynamicType
	roomType    *entity.DynamicType
	room        *entity.Allocatable
	user        *entity.User
	rooms       *entity.Category
	large       *entity.Category
	reservation *entity.Reservation
	weekly      *entity.Appointment
	single      *entity.Appointment
	prefs       *entity.Preferences
}

func populate(t *testing.T) populated {
	t.Helper()
	var p populated
	p.cache = storage.NewLocalCache()

	super := entity.DeepSnapshot(p.cache.SuperCategory()).(*entity.Category)
	p.rooms = entity.NewCategory(entity.NewID(entity.TypeCategory, 20), "rooms")
	p.large = entity.NewCategory(entity.NewID(entity.TypeCategory, 21), "large")
	if err := p.large.SetName("Large rooms"); err != nil {
		t.Fatalf("SetName failed: %v", err)
	}
	if err := p.rooms.AddCategory(p.large); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}
	if err := super.AddCategory(p.rooms); err != nil {
		t.Fatalf("AddCategory failed: %v", err)
	}

	p.eventType = entity.NewDynamicType(entity.NewID(entity.TypeDynamicType, 1), "event", entity.ClassificationReservation)
	if err := p.eventType.AddAttribute(entity.Attribute{Key: "name", Type: entity.AttributeString}); err != nil {
		t.Fatalf("AddAttribute failed: %v", err)
	}
	p.roomType = entity.NewDynamicType(entity.NewID(entity.TypeDynamicType, 2), "room", entity.ClassificationResource)
	for _, attr := range []entity.Attribute{
		{Key: "name", Type: entity.AttributeString},
		{Key: "seats", Type: entity.AttributeInt, Optional: true},
		{Key: "size", Type: entity.AttributeCategory, RootCategory: p.rooms.ID(), Optional: true},
	} {
		if err := p.roomType.AddAttribute(attr); err != nil {
			t.Fatalf("AddAttribute failed: %v", err)
		}
	}

	roomClass := p.roomType.NewClassification()
	if err := errors.Join(
		roomClass.SetValue("name", "Conference A"),
		roomClass.SetValue("seats", 12),
		roomClass.SetValue("size", p.large.ID()),
	); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	p.room = entity.NewAllocatable(entity.NewID(entity.TypeAllocatable, 3), roomClass)
	if err := p.room.SetHoldBackConflicts(true); err != nil {
		t.Fatalf("SetHoldBackConflicts failed: %v", err)
	}

	p.user = entity.NewUser(entity.NewID(entity.TypeUser, 4), "alice")
	if err := errors.Join(p.user.SetName("Alice"), p.user.SetEmail("alice@example.com"), p.user.SetAdmin(true), p.user.AddGroup(p.rooms.ID())); err != nil {
		t.Fatalf("user setup failed: %v", err)
	}

	p.prefs = entity.NewPreferences(entity.NewID(entity.TypePreferences, 5), p.user.ID())
	if err := p.prefs.SetEntry("calendar.view", "week"); err != nil {
		t.Fatalf("SetEntry failed: %v", err)
	}

	eventClass := p.eventType.NewClassification()
	if err := eventClass.SetValue("name", "Standup"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	p.reservation = entity.NewReservation(entity.NewID(entity.TypeReservation, 6), eventClass)
	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, berlin)
	p.weekly = entity.NewAppointment(entity.NewID(entity.TypeAppointment, 7), start, start.Add(30*time.Minute))
	rep, err := p.weekly.SetRepeatingType(recurrence.TypeWeekly)
	if err != nil {
		t.Fatalf("SetRepeatingType failed: %v", err)
	}
	if err := errors.Join(rep.SetNumber(6), rep.AddException(start.AddDate(0, 0, 14))); err != nil {
		t.Fatalf("repeating setup failed: %v", err)
	}
	p.single = entity.NewAppointment(entity.NewID(entity.TypeAppointment, 8), start.AddDate(0, 1, 0), start.AddDate(0, 1, 0).Add(time.Hour))
	if err := errors.Join(
		p.reservation.AddAppointment(p.weekly),
		p.reservation.AddAppointment(p.single),
		p.reservation.AddAllocatable(p.room.ID()),
		p.reservation.SetRestriction(p.room.ID(), []entity.ID{p.weekly.ID()}),
		p.reservation.SetOwner(p.user.ID()),
		p.reservation.SetTimestamps(start.AddDate(0, 0, -7), start.AddDate(0, 0, -1)),
		p.reservation.SetVersion(3),
	); err != nil {
		t.Fatalf("reservation setup failed: %v", err)
	}

	p.cache.PutAll([]entity.Entity{super, p.eventType, p.roomType, p.room, p.user, p.prefs, p.reservation})
	p.cache.PutPassword(p.user.ID(), "$argon2id$hash")
	return p
}

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	src := populate(t)
	codec := persistence.NewCodec(berlin)
	savedAt := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	snapshot, err := codec.Encode(src.cache, 42, savedAt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if snapshot.RepositoryVersion != 42 || !snapshot.SavedAt.Equal(savedAt) {
		t.Fatalf("unexpected snapshot header %+v", snapshot.Info())
	}
	for _, r := range snapshot.Entities {
		if r.ID.Type == entity.TypeAppointment {
			t.Fatalf("owned appointment %s stored as its own record", r.ID)
		}
		if r.ID == src.large.ID() || r.ID == src.rooms.ID() {
			t.Fatalf("child category %s stored as its own record", r.ID)
		}
	}

	dst := storage.NewLocalCache()
	report, err := codec.Load(snapshot, dst)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(report.Dropped) != 0 {
		t.Fatalf("expected no dropped values, got %v", report.Dropped)
	}
	if len(report.Dangling) != 0 {
		t.Fatalf("expected no dangling references, got %v", report.Dangling)
	}
	if report.Entities != len(src.cache.All()) {
		t.Fatalf("expected %d entities, got %d", len(src.cache.All()), report.Entities)
	}

	t.Run("reservation", func(t *testing.T) {
		got, err := dst.Resolve(src.reservation.ID())
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		res := got.(*entity.Reservation)
		if res.Name() != "Standup" || res.Owner() != src.user.ID() || res.Version() != 3 {
			t.Fatalf("unexpected reservation name=%q owner=%s version=%d", res.Name(), res.Owner(), res.Version())
		}
		if !res.CreateDate().Equal(src.reservation.CreateDate()) || res.CreateDate().Location() != berlin {
			t.Fatalf("create date %v not restored in Berlin", res.CreateDate())
		}
		if len(res.Appointments()) != 2 {
			t.Fatalf("expected 2 appointments, got %d", len(res.Appointments()))
		}
		if !res.HasAllocatedOn(src.room.ID(), src.weekly.ID()) || res.HasAllocatedOn(src.room.ID(), src.single.ID()) {
			t.Fatalf("restriction lost: %v", res.Restrictions())
		}
	})

	t.Run("repeating appointment", func(t *testing.T) {
		got, err := dst.Resolve(src.weekly.ID())
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		app := got.(*entity.Appointment)
		if app.Reservation() != src.reservation.ID() {
			t.Fatalf("appointment detached from reservation: %s", app.Reservation())
		}
		rep := app.Repeating()
		if rep == nil || rep.Type() != recurrence.TypeWeekly || rep.Number() != 6 {
			t.Fatalf("unexpected repeating %+v", rep)
		}
		if len(rep.Exceptions()) != 1 {
			t.Fatalf("expected one exception, got %v", rep.Exceptions())
		}
		wantEnd := src.weekly.MaxEnd()
		if gotEnd := app.MaxEnd(); gotEnd == nil || !gotEnd.Equal(*wantEnd) {
			t.Fatalf("max end %v, want %v", gotEnd, wantEnd)
		}
		if len(app.Blocks(app.Start(), *app.MaxEnd())) != len(src.weekly.Blocks(src.weekly.Start(), *wantEnd)) {
			t.Fatalf("block count changed after load")
		}
	})

	t.Run("allocatable classification", func(t *testing.T) {
		got, err := dst.Resolve(src.room.ID())
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		room := got.(*entity.Allocatable)
		if room.Name() != "Conference A" || !room.HoldBackConflicts() {
			t.Fatalf("unexpected allocatable %q hold=%v", room.Name(), room.HoldBackConflicts())
		}
		if seats := room.Classification().Value("seats"); seats != int64(12) {
			t.Fatalf("seats = %#v, want int64 12", seats)
		}
		if size := room.Classification().Value("size"); size != src.large.ID() {
			t.Fatalf("size = %#v", size)
		}
	})

	t.Run("category tree and user", func(t *testing.T) {
		path, ok := dst.SuperCategory().PathFor(src.large.ID())
		if !ok || path != "rooms/large" {
			t.Fatalf("unexpected path %q (%v)", path, ok)
		}
		large, err := dst.Resolve(src.large.ID())
		if err != nil || large.(*entity.Category).Name() != "Large rooms" {
			t.Fatalf("child category not indexed: %v", err)
		}
		user, ok := dst.User("alice")
		if !ok || !user.IsAdmin() || !user.BelongsTo(src.rooms.ID()) {
			t.Fatalf("user not restored")
		}
		if hash, _ := dst.Password(user.ID()); hash != "$argon2id$hash" {
			t.Fatalf("password hash not restored: %q", hash)
		}
		prefs, ok := dst.Preferences(user.ID())
		if !ok {
			t.Fatalf("preferences not restored")
		}
		if v, _ := prefs.Entry("calendar.view"); v != "week" {
			t.Fatalf("preference entry = %q", v)
		}
	})

	t.Run("loaded entities are read-only", func(t *testing.T) {
		for _, e := range dst.All() {
			if !e.IsReadOnly() {
				t.Fatalf("%s is writable after load", e.ID())
			}
		}
	})
}

func TestLoadReportsDroppedValues(t *testing.T) {
	t.Parallel()

	src := populate(t)
	codec := persistence.NewCodec(time.UTC)
	snapshot, err := codec.Encode(src.cache, 1, time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Remove the seats attribute from the stored room type.
	changed := src.roomType.Snapshot()
	if err := changed.RemoveAttribute("seats"); err != nil {
		t.Fatalf("RemoveAttribute failed: %v", err)
	}
	record, err := codec.EncodeEntity(changed)
	if err != nil {
		t.Fatalf("EncodeEntity failed: %v", err)
	}
	for i, r := range snapshot.Entities {
		if r.ID == changed.ID() {
			snapshot.Entities[i] = record
		}
	}

	report, err := codec.Load(snapshot, storage.NewLocalCache())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := report.Dangling[src.room.ID()]; ok {
		t.Fatalf("room references reported dangling: %v", report.Dangling)
	}
	dropped := report.Dropped[src.room.ID()]
	if len(dropped) != 1 || dropped[0] != "seats" {
		t.Fatalf("unexpected dropped values %v", report.Dropped)
	}
}

func TestLoadReportsDanglingReferences(t *testing.T) {
	t.Parallel()

	src := populate(t)
	codec := persistence.NewCodec(time.UTC)
	snapshot, err := codec.Encode(src.cache, 1, time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	kept := snapshot.Entities[:0]
	for _, r := range snapshot.Entities {
		if r.ID != src.user.ID() {
			kept = append(kept, r)
		}
	}
	snapshot.Entities = kept

	report, err := codec.Load(snapshot, storage.NewLocalCache())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, owner := range []entity.ID{src.reservation.ID(), src.prefs.ID()} {
		missing := report.Dangling[owner]
		if len(missing) != 1 || missing[0] != src.user.ID() {
			t.Fatalf("expected %s to reference missing user, got %v", owner, report.Dangling)
		}
	}
}

func TestLoadRejectsMissingDynamicType(t *testing.T) {
	t.Parallel()

	src := populate(t)
	codec := persistence.NewCodec(time.UTC)
	snapshot, err := codec.Encode(src.cache, 1, time.Now())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	kept := snapshot.Entities[:0]
	for _, r := range snapshot.Entities {
		if r.ID != src.eventType.ID() {
			kept = append(kept, r)
		}
	}
	snapshot.Entities = kept

	target := storage.NewLocalCache()
	marker := entity.NewUser(entity.NewID(entity.TypeUser, 99), "untouched")
	target.Put(marker)

	_, err = codec.Load(snapshot, target)
	var decodeErr *persistence.DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.ID != src.reservation.ID() {
		t.Fatalf("expected DecodeError for %s, got %v", src.reservation.ID(), err)
	}
	if !errors.Is(err, entity.ErrNotFound) || !errors.Is(err, persistence.ErrCorrupt) {
		t.Fatalf("expected not-found and corrupt, got %v", err)
	}
	if _, ok := target.User("untouched"); !ok {
		t.Fatalf("cache modified by failed load")
	}
}

func TestDecodeEntityRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	codec := persistence.NewCodec(time.UTC)
	id := entity.NewID(entity.TypeAppointment, 1)
	payload, err := json.Marshal(map[string]any{
		"start": time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		"end":   time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	_, err = codec.DecodeEntity(persistence.Record{ID: id, Type: "appointment", Payload: payload})
	if !errors.Is(err, entity.ErrInvalidPeriod) || !errors.Is(err, persistence.ErrCorrupt) {
		t.Fatalf("expected invalid period, got %v", err)
	}

	_, err = codec.DecodeEntity(persistence.Record{ID: entity.NewID(entity.TypeUser, 2), Type: "user", Payload: []byte("{")})
	if !errors.Is(err, persistence.ErrCorrupt) {
		t.Fatalf("expected corrupt payload error, got %v", err)
	}
}

func TestMemoryRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty repository", func(t *testing.T) {
		t.Parallel()
		repo := persistence.NewMemoryRepository()
		if _, err := repo.LatestSnapshot(ctx); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("save list prune", func(t *testing.T) {
		t.Parallel()
		repo := persistence.NewMemoryRepository()
		base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		for v := int64(1); v <= 4; v++ {
			s := persistence.Snapshot{
				RepositoryVersion: v,
				SavedAt:           base.Add(time.Duration(v) * time.Hour),
				Entities:          []persistence.Record{{ID: entity.NewID(entity.TypeUser, v), Type: "user", Payload: []byte(`{}`)}},
				Passwords:         map[entity.ID]string{entity.NewID(entity.TypeUser, v): "hash"},
			}
			if err := repo.SaveSnapshot(ctx, s); err != nil {
				t.Fatalf("SaveSnapshot(%d) failed: %v", v, err)
			}
		}
		if err := repo.SaveSnapshot(ctx, persistence.Snapshot{RepositoryVersion: 2}); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		latest, err := repo.LatestSnapshot(ctx)
		if err != nil {
			t.Fatalf("LatestSnapshot failed: %v", err)
		}
		if latest.RepositoryVersion != 4 || len(latest.Entities) != 1 || len(latest.Passwords) != 1 {
			t.Fatalf("unexpected latest snapshot %+v", latest.Info())
		}
		latest.Entities[0].Payload[0] = 'x'
		again, _ := repo.LatestSnapshot(ctx)
		if string(again.Entities[0].Payload) != "{}" {
			t.Fatalf("stored payload shared with caller")
		}

		if err := repo.PruneSnapshots(ctx, 2); err != nil {
			t.Fatalf("PruneSnapshots failed: %v", err)
		}
		infos, err := repo.ListSnapshots(ctx)
		if err != nil {
			t.Fatalf("ListSnapshots failed: %v", err)
		}
		if len(infos) != 2 || infos[0].RepositoryVersion != 4 || infos[1].RepositoryVersion != 3 {
			t.Fatalf("unexpected snapshots after prune %+v", infos)
		}
	})
}
