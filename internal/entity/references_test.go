package entity

import (
	"slices"
	"testing"
)

func TestReferences(t *testing.T) {
	t.Parallel()

	owner := NewID(TypeUser, 1)
	roomA := NewID(TypeAllocatable, 10)
	roomB := NewID(TypeAllocatable, 11)

	refs := NewReferences()
	refs.Set(RefOwner, owner)
	refs.Add(RefResources, roomA)
	refs.Add(RefResources, roomB)
	refs.Add(RefResources, roomA)

	if got, ok := refs.Get(RefOwner); !ok || got != owner {
		t.Fatalf("Get(owner) = %v, %v", got, ok)
	}
	if got := refs.List(RefResources); !slices.Equal(got, []ID{roomA, roomB}) {
		t.Fatalf("List(resources) = %v", got)
	}
	if got := refs.Names(); !slices.Equal(got, []string{RefOwner, RefResources}) {
		t.Fatalf("Names() = %v", got)
	}
	if !refs.IsReferring(roomB) || refs.IsReferring(NewID(TypeAllocatable, 12)) {
		t.Fatalf("unexpected IsReferring result")
	}

	clone := refs.Clone()
	clone.RemoveID(RefResources, roomA)
	if !refs.Contains(RefResources, roomA) {
		t.Fatalf("clone shares state with original")
	}

	refs.RemoveID(RefResources, roomA)
	refs.RemoveID(RefResources, roomB)
	if got := refs.Names(); !slices.Equal(got, []string{RefOwner}) {
		t.Fatalf("expected empty relation to be dropped, got %v", got)
	}

	refs.Set(RefOwner, ID{})
	if _, ok := refs.Get(RefOwner); ok {
		t.Fatalf("expected zero id to remove the relation")
	}
}

func TestReferencesFromMap(t *testing.T) {
	t.Parallel()

	m := map[string][]ID{
		"b":       {NewID(TypeUser, 2)},
		"a":       {NewID(TypeUser, 1)},
		RefOwner:  {NewID(TypeUser, 3)},
		RefGroups: {NewID(TypeCategory, 4), NewID(TypeCategory, 5)},
	}
	refs := ReferencesFromMap(m, []string{RefOwner, RefGroups})
	if got := refs.Names(); !slices.Equal(got, []string{RefOwner, RefGroups, "a", "b"}) {
		t.Fatalf("Names() = %v", got)
	}
	if got := refs.List(RefGroups); len(got) != 2 {
		t.Fatalf("List(groups) = %v", got)
	}
}
