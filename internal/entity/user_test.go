package entity

import (
	"slices"
	"testing"
)

func newPerson(t *testing.T, key int64, name, email string) *Allocatable {
	t.Helper()
	typ := NewDynamicType(NewID(TypeDynamicType, 1), "person", ClassificationPerson)
	for _, attr := range []string{"name", AttributeEmail} {
		if err := typ.AddAttribute(Attribute{Key: attr, Type: AttributeString}); err != nil {
			t.Fatalf("AddAttribute: %v", err)
		}
	}
	c := typ.NewClassification()
	if err := c.SetValue("name", name); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := c.SetValue(AttributeEmail, email); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	return NewAllocatable(NewID(TypeAllocatable, key), c)
}

func TestUserDisplayPrefersPerson(t *testing.T) {
	t.Parallel()

	person := newPerson(t, 5, "Grace Hopper", "grace@example.com")
	resolver := mapResolver{person.ID(): person}

	u := NewUser(NewID(TypeUser, 1), "ghopper")
	if err := u.SetEmail("g.hopper@example.com"); err != nil {
		t.Fatalf("SetEmail: %v", err)
	}
	if u.DisplayEmail(resolver) != "g.hopper@example.com" || u.DisplayName(resolver) != "ghopper" {
		t.Fatalf("unlinked user should use its own fields")
	}

	if err := u.SetPerson(person.ID()); err != nil {
		t.Fatalf("SetPerson: %v", err)
	}
	if got := u.DisplayEmail(resolver); got != "grace@example.com" {
		t.Fatalf("DisplayEmail() = %q", got)
	}
	if got := u.DisplayName(resolver); got != "Grace Hopper" {
		t.Fatalf("DisplayName() = %q", got)
	}
	if got := u.DisplayEmail(mapResolver{}); got != "g.hopper@example.com" {
		t.Fatalf("dangling person should fall back, got %q", got)
	}
}

func TestUserLinkPersonByEmail(t *testing.T) {
	t.Parallel()

	person := newPerson(t, 5, "Grace Hopper", "grace@example.com")
	resolver := mapResolver{person.ID(): person}

	u := NewUser(NewID(TypeUser, 1), "ghopper")
	_ = u.SetEmail("nobody@example.com")
	if err := u.LinkPersonByEmail(resolver); err != nil || !u.Person().IsZero() {
		t.Fatalf("unknown email should leave the user unlinked: %v", err)
	}

	_ = u.SetEmail("grace@example.com")
	if err := u.LinkPersonByEmail(resolver); err != nil {
		t.Fatalf("LinkPersonByEmail: %v", err)
	}
	if u.Person() != person.ID() {
		t.Fatalf("Person() = %v", u.Person())
	}
}

func TestUserGroups(t *testing.T) {
	t.Parallel()

	u := NewUser(NewID(TypeUser, 1), "admin")
	staff := NewID(TypeCategory, 3)
	board := NewID(TypeCategory, 4)
	_ = u.AddGroup(staff)
	_ = u.AddGroup(board)
	_ = u.AddGroup(staff)
	if got := u.Groups(); !slices.Equal(got, []ID{staff, board}) {
		t.Fatalf("Groups() = %v", got)
	}
	_ = u.RemoveGroup(staff)
	if u.BelongsTo(staff) || !u.BelongsTo(board) {
		t.Fatalf("unexpected membership")
	}
}

func TestCategoryPaths(t *testing.T) {
	t.Parallel()

	root := NewSuperCategory()
	rooms := NewCategory(NewID(TypeCategory, 1), "rooms")
	large := NewCategory(NewID(TypeCategory, 2), "large")
	_ = rooms.AddCategory(large)
	_ = root.AddCategory(rooms)

	if err := root.AddCategory(NewCategory(NewID(TypeCategory, 3), "rooms")); err == nil {
		t.Fatalf("expected duplicate key to fail")
	}
	path, ok := root.PathFor(large.ID())
	if !ok || path != "rooms/large" {
		t.Fatalf("PathFor() = %q, %v", path, ok)
	}
	if found, ok := root.ByPath(path); !ok || found != large {
		t.Fatalf("ByPath(%q) = %v", path, found)
	}
	if large.Parent() != rooms.ID() || rooms.Parent() != SuperCategoryID {
		t.Fatalf("parent references not set")
	}
	if !root.IsAncestorOf(large.ID()) || large.IsAncestorOf(root.ID()) {
		t.Fatalf("unexpected ancestry")
	}

	deep := root.DeepSnapshot()
	copied, _ := deep.Find(large.ID())
	if copied == large {
		t.Fatalf("deep snapshot shares children")
	}
	if err := copied.SetName("Large rooms"); err != nil || large.Name() != "large" {
		t.Fatalf("deep snapshot edit leaked: %v", err)
	}
}

func TestPreferencesEntries(t *testing.T) {
	t.Parallel()

	p := NewPreferences(NewID(TypePreferences, 1), NewID(TypeUser, 2))
	_ = p.SetEntry("week.start", "monday")
	_ = p.SetEntry("calendar.view", "week")
	if got := p.Keys(); !slices.Equal(got, []string{"calendar.view", "week.start"}) {
		t.Fatalf("Keys() = %v", got)
	}
	if v, ok := p.Entry("week.start"); !ok || v != "monday" {
		t.Fatalf("Entry() = %q, %v", v, ok)
	}
	p.SetReadOnly(true)
	if err := p.RemoveEntry("week.start"); err == nil {
		t.Fatalf("expected read-only error")
	}
}
