package entity

import "slices"

// Well-known relation names.
const (
	RefOwner         = "owner"
	RefLastChangedBy = "last_changed_by"
	RefPerson        = "person"
	RefParent        = "parent"
	RefGroups        = "groups"
	RefResources     = "resources"
)

// References is an ordered table of named relations to other entities. A
// relation holds one id (Set/Get) or an ordered list without duplicates
// (Add/List). Copies share nothing.
type References struct {
	names []string
	rel   map[string][]ID
}

// NewReferences returns an empty table.
func NewReferences() *References {
	return &References{rel: make(map[string][]ID)}
}

func (r *References) ensure(name string) {
	if r.rel == nil {
		r.rel = make(map[string][]ID)
	}
	if _, ok := r.rel[name]; !ok {
		r.names = append(r.names, name)
		r.rel[name] = nil
	}
}

// Set replaces the relation with a single id. A zero id removes it.
func (r *References) Set(name string, id ID) {
	if id.IsZero() {
		r.Remove(name)
		return
	}
	r.ensure(name)
	r.rel[name] = []ID{id}
}

// Get returns the first id of the relation.
func (r *References) Get(name string) (ID, bool) {
	if r == nil {
		return ID{}, false
	}
	ids := r.rel[name]
	if len(ids) == 0 {
		return ID{}, false
	}
	return ids[0], true
}

// Add appends id to the relation unless it is already present.
func (r *References) Add(name string, id ID) {
	if id.IsZero() {
		return
	}
	r.ensure(name)
	if slices.Contains(r.rel[name], id) {
		return
	}
	r.rel[name] = append(r.rel[name], id)
}

// List returns a copy of the ids in the relation.
func (r *References) List(name string) []ID {
	if r == nil {
		return nil
	}
	return slices.Clone(r.rel[name])
}

// Contains reports whether the relation includes id.
func (r *References) Contains(name string, id ID) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.rel[name], id)
}

// Remove drops the whole relation.
func (r *References) Remove(name string) {
	if r == nil {
		return
	}
	if _, ok := r.rel[name]; !ok {
		return
	}
	delete(r.rel, name)
	r.names = slices.DeleteFunc(r.names, func(n string) bool { return n == name })
}

// RemoveID drops id from the relation and reports whether it was present.
func (r *References) RemoveID(name string, id ID) bool {
	if r == nil {
		return false
	}
	ids := r.rel[name]
	i := slices.Index(ids, id)
	if i < 0 {
		return false
	}
	ids = slices.Delete(ids, i, i+1)
	if len(ids) == 0 {
		r.Remove(name)
		return true
	}
	r.rel[name] = ids
	return true
}

// Names returns the relation names in insertion order.
func (r *References) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.names)
}

// IDs returns every referenced id across all relations.
func (r *References) IDs() []ID {
	if r == nil {
		return nil
	}
	var out []ID
	for _, name := range r.names {
		out = append(out, r.rel[name]...)
	}
	return out
}

// IsReferring reports whether any relation points at id.
func (r *References) IsReferring(id ID) bool {
	if r == nil {
		return false
	}
	for _, ids := range r.rel {
		if slices.Contains(ids, id) {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the relation table. Referenced ids are
// preserved, the entities behind them are not copied.
func (r *References) Clone() *References {
	out := NewReferences()
	if r == nil {
		return out
	}
	out.names = slices.Clone(r.names)
	for name, ids := range r.rel {
		out.rel[name] = slices.Clone(ids)
	}
	return out
}

// Map exposes the relation table for encoding.
func (r *References) Map() map[string][]ID {
	if r == nil {
		return map[string][]ID{}
	}
	out := make(map[string][]ID, len(r.names))
	for _, name := range r.names {
		out[name] = slices.Clone(r.rel[name])
	}
	return out
}

// ReferencesFromMap rebuilds a table from Map output. Relation order follows
// order, then any remaining names sorted.
func ReferencesFromMap(m map[string][]ID, order []string) *References {
	out := NewReferences()
	for _, name := range order {
		for _, id := range m[name] {
			out.Add(name, id)
		}
	}
	rest := make([]string, 0, len(m))
	for name := range m {
		if !slices.Contains(order, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	for _, name := range rest {
		for _, id := range m[name] {
			out.Add(name, id)
		}
	}
	return out
}
