package storage

import (
	"slices"

	"github.com/example/resource-scheduler/internal/entity"
)

// EntityStore stages puts and removals over a parent cache. The parent is
// never modified; committing is a replay of Staged and Removed onto it.
type EntityStore struct {
	parent        *LocalCache
	superCategory *entity.Category
	staged        map[entity.ID]entity.Entity
	order         []entity.ID
	removed       map[entity.ID]struct{}
	dynamicTypes  map[string]*entity.DynamicType
	allocatables  []*entity.Allocatable
	passwords     map[entity.ID]string
	version       int64
}

// NewEntityStore creates an overlay over parent. A nil superCategory uses
// the parent's.
func NewEntityStore(parent *LocalCache, superCategory *entity.Category) *EntityStore {
	if superCategory == nil && parent != nil {
		superCategory = parent.SuperCategory()
	}
	return &EntityStore{
		parent:        parent,
		superCategory: superCategory,
		staged:        make(map[entity.ID]entity.Entity),
		removed:       make(map[entity.ID]struct{}),
		dynamicTypes:  make(map[string]*entity.DynamicType),
		passwords:     make(map[entity.ID]string),
	}
}

// Put stages e. A later Put of the same id replaces it.
func (s *EntityStore) Put(e entity.Entity) {
	id := e.ID()
	if id.IsZero() {
		panic("storage: staging an entity without id")
	}
	if _, ok := s.staged[id]; !ok {
		s.order = append(s.order, id)
	}
	s.staged[id] = e
	switch v := e.(type) {
	case *entity.DynamicType:
		s.dynamicTypes[v.ElementKey()] = v
	case *entity.Allocatable:
		s.allocatables = slices.DeleteFunc(s.allocatables, func(a *entity.Allocatable) bool { return a.ID() == id })
		s.allocatables = append(s.allocatables, v)
	case *entity.Category:
		if id == entity.SuperCategoryID {
			s.superCategory = v
		}
	}
}

// AddRemoveID stages the removal of id.
func (s *EntityStore) AddRemoveID(id entity.ID) {
	s.removed[id] = struct{}{}
}

// SuperCategory returns the super category seen by this store.
func (s *EntityStore) SuperCategory() *entity.Category { return s.superCategory }

// Get looks id up in the super category slot, then the staged entities, then
// the parent.
func (s *EntityStore) Get(id entity.ID) (entity.Entity, bool) {
	if id == entity.SuperCategoryID && s.superCategory != nil {
		return s.superCategory, true
	}
	if e, ok := s.staged[id]; ok {
		return e, true
	}
	if s.parent == nil || id.IsZero() {
		return nil, false
	}
	return s.parent.Get(id)
}

// Resolve implements entity.Resolver over staged and parent state.
func (s *EntityStore) Resolve(id entity.ID) (entity.Entity, error) {
	e, ok := s.Get(id)
	if !ok {
		return nil, &entity.NotFoundError{ID: id}
	}
	return e, nil
}

// ResolveEmail only searches staged allocatables. An empty email never
// matches.
func (s *EntityStore) ResolveEmail(email string) (entity.Entity, error) {
	if email == "" {
		return nil, &entity.NotFoundError{Email: email}
	}
	for _, a := range s.allocatables {
		if a.Email() == email {
			return a, nil
		}
	}
	return nil, &entity.NotFoundError{Email: email}
}

// DynamicType returns the staged dynamic type with the element key, falling
// back to the parent.
func (s *EntityStore) DynamicType(elementKey string) (*entity.DynamicType, bool) {
	if dt, ok := s.dynamicTypes[elementKey]; ok {
		return dt, true
	}
	if s.parent == nil {
		return nil, false
	}
	return s.parent.DynamicType(elementKey)
}

// Staged returns the staged entities in the order they were first put.
func (s *EntityStore) Staged() []entity.Entity {
	out := make([]entity.Entity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.staged[id])
	}
	return out
}

// StagedOf returns the staged entities of one type.
func (s *EntityStore) StagedOf(t entity.Type) []entity.Entity {
	var out []entity.Entity
	for _, e := range s.Staged() {
		if e.ID().Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Removed returns the ids staged for removal ordered by id.
func (s *EntityStore) Removed() []entity.ID {
	ids := make([]entity.ID, 0, len(s.removed))
	for id := range s.removed {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, entity.ID.Compare)
	return ids
}

// IsRemoved reports whether id is staged for removal.
func (s *EntityStore) IsRemoved(id entity.ID) bool {
	_, ok := s.removed[id]
	return ok
}

// PutPassword stages a password hash.
func (s *EntityStore) PutPassword(user entity.ID, hash string) { s.passwords[user] = hash }

// Password returns the staged password hash of a user.
func (s *EntityStore) Password(user entity.ID) (string, bool) {
	p, ok := s.passwords[user]
	return p, ok
}

// Passwords returns a copy of the staged password hashes.
func (s *EntityStore) Passwords() map[entity.ID]string {
	out := make(map[entity.ID]string, len(s.passwords))
	for k, v := range s.passwords {
		out[k] = v
	}
	return out
}

// RepositoryVersion returns the parent version the store was staged against.
func (s *EntityStore) RepositoryVersion() int64 { return s.version }

func (s *EntityStore) SetRepositoryVersion(version int64) { s.version = version }

// Parent returns the cache the store overlays.
func (s *EntityStore) Parent() *LocalCache { return s.parent }

var (
	_ entity.Resolver      = (*EntityStore)(nil)
	_ entity.EmailResolver = (*EntityStore)(nil)
)
