package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/resource-scheduler/internal/entity"
	"github.com/example/resource-scheduler/internal/metrics"
	"github.com/example/resource-scheduler/internal/notify"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/storage"
)

// Options wires the optional collaborators of a Service.
type Options struct {
	// Repository receives a snapshot after every commit.
	Repository persistence.SnapshotRepository
	// Archive receives a copy of every saved snapshot.
	Archive   persistence.SnapshotArchive
	Publisher notify.Publisher
	Metrics   *metrics.Recorder
	Codec     *persistence.Codec
	Logger    *slog.Logger
	Now       func() time.Time
	NewUUID   func() uuid.UUID
}

// Service serialises writes to a LocalCache. Readers share the cache through
// View; a commit holds the write lock while it validates and replays a
// transaction.
type Service struct {
	mu      sync.RWMutex
	cache   *storage.LocalCache
	version int64
	saved   int64

	keysMu sync.Mutex
	keys   map[entity.Type]int64

	repository persistence.SnapshotRepository
	archive    persistence.SnapshotArchive
	publisher  notify.Publisher
	metrics    *metrics.Recorder
	codec      *persistence.Codec
	logger     *slog.Logger
	now        func() time.Time
	newUUID    func() uuid.UUID
}

// NewService wraps cache. A nil cache starts empty.
func NewService(cache *storage.LocalCache, opts Options) *Service {
	if cache == nil {
		cache = storage.NewLocalCache()
	}
	if opts.Codec == nil {
		opts.Codec = persistence.NewCodec(time.Local)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewUUID == nil {
		opts.NewUUID = uuid.New
	}
	return &Service{
		cache:      cache,
		keys:       make(map[entity.Type]int64),
		repository: opts.Repository,
		archive:    opts.Archive,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		codec:      opts.Codec,
		logger:     defaultLogger(opts.Logger),
		now:        opts.Now,
		newUUID:    opts.NewUUID,
	}
}

func (s *Service) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "Service", operation, attrs...)
}

// View runs fn with shared access to the cache. fn must not modify it.
func (s *Service) View(fn func(c *storage.LocalCache) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.cache)
}

// RepositoryVersion returns the version of the last commit.
func (s *Service) RepositoryVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Transaction stages changes against the cache state it was begun on.
type Transaction struct {
	ID   uuid.UUID
	User entity.ID

	store *storage.EntityStore
	// removed holds the version each removed entity had when it was staged.
	removed map[entity.ID]int64
	closed  bool
}

// Put stages a new entity or a copy obtained from Edit.
func (tx *Transaction) Put(e entity.Entity) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if e == nil || e.ID().IsZero() {
		return fmt.Errorf("application: staging an entity without id")
	}
	tx.store.Put(e)
	return nil
}

// SetPassword stages a password hash for user.
func (tx *Transaction) SetPassword(user entity.ID, hash string) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.store.PutPassword(user, hash)
	return nil
}

// Staged returns the staged entities in staging order.
func (tx *Transaction) Staged() []entity.Entity { return tx.store.Staged() }

// Begin starts a transaction on behalf of user.
func (s *Service) Begin(user entity.ID) *Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	store := storage.NewEntityStore(s.cache, nil)
	store.SetRepositoryVersion(s.version)
	return &Transaction{
		ID:      s.newUUID(),
		User:    user,
		store:   store,
		removed: make(map[entity.ID]int64),
	}
}

// Create allocates an id of type t that no other transaction will receive.
func (s *Service) Create(tx *Transaction, t entity.Type) (entity.ID, error) {
	if tx.closed {
		return entity.ID{}, ErrTransactionClosed
	}
	if !t.Valid() {
		return entity.ID{}, fmt.Errorf("application: cannot create entity of type %s", t)
	}
	s.mu.RLock()
	highest := s.cache.MaxKey(t)
	s.mu.RUnlock()

	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	next := max(s.keys[t], highest) + 1
	s.keys[t] = next
	return entity.NewID(t, next), nil
}

// Edit stages a writable copy of the entity and returns it. Sub-entities are
// edited through their owner: the owner is staged and the copy inside it is
// returned. Editing the same id twice returns the staged copy.
func (s *Service) Edit(tx *Transaction, id entity.ID) (entity.Entity, error) {
	if tx.closed {
		return nil, ErrTransactionClosed
	}
	if id.IsZero() {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	if tx.store.IsRemoved(id) {
		return nil, fmt.Errorf("%w: %s is staged for removal", ErrNotFound, id)
	}
	if e, ok := stagedCopy(tx.store, id); ok {
		return e, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	owner := ownerOf(s.cache, stored)
	if e, ok := stagedCopy(tx.store, owner.ID()); ok {
		return findOwned(e, id)
	}
	cp := entity.DeepSnapshot(owner)
	tx.store.Put(cp)
	return findOwned(cp, id)
}

// Remove stages the removal of a top-level entity and everything it owns.
func (s *Service) Remove(tx *Transaction, id entity.ID) error {
	if tx.closed {
		return ErrTransactionClosed
	}
	if id.IsZero() {
		return fmt.Errorf("%w: empty id", ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.cache.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !persistence.IsTopLevel(stored) || id == entity.SuperCategoryID {
		return &ValidationError{FieldErrors: map[string]string{"id": fmt.Sprintf("%s is removed through its owner", id)}}
	}
	tx.store.AddRemoveID(id)
	tx.removed[id] = stored.Version()
	return nil
}

// Abort discards the transaction.
func (s *Service) Abort(tx *Transaction) {
	tx.closed = true
}

// Transaction runs fn in a new transaction and commits it when fn succeeds.
func (s *Service) Transaction(ctx context.Context, user entity.ID, fn func(tx *Transaction) error) (int64, error) {
	tx := s.Begin(user)
	if err := fn(tx); err != nil {
		s.Abort(tx)
		return 0, err
	}
	return s.Commit(ctx, tx)
}

// Commit publishes the staged changes and returns the new repository
// version. The transaction is closed whatever the outcome.
func (s *Service) Commit(ctx context.Context, tx *Transaction) (version int64, err error) {
	if tx.closed {
		return 0, ErrTransactionClosed
	}
	tx.closed = true
	started := time.Now()

	logger := s.loggerWith(ctx, "Commit",
		"transaction", tx.ID.String(),
		"staged", len(tx.store.Staged()),
		"removed", len(tx.removed),
	)
	defer func() {
		s.metrics.ObserveCommit(ErrorKind(err), time.Since(started))
		if err != nil {
			logger.WarnContext(ctx, "commit rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "commit applied", "repository_version", version)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := tx.store.Staged()
	if err := s.checkVersions(tx, staged); err != nil {
		return 0, err
	}
	removed, err := s.expandRemovals(tx, staged)
	if err != nil {
		return 0, err
	}
	if err := s.checkReferences(tx, staged, removed); err != nil {
		return 0, err
	}
	for user := range tx.store.Passwords() {
		if _, ok := tx.store.Get(user); !ok || user.Type != entity.TypeUser || removed[user] {
			return 0, &ReferenceNotFoundError{To: user}
		}
	}

	version = s.version + 1
	now := s.now()
	for _, e := range staged {
		if err := stamp(e, version, tx.User, now); err != nil {
			return 0, err
		}
	}

	// Nothing below fails.
	for _, id := range slices.SortedFunc(maps.Keys(removed), entity.ID.Compare) {
		if e, ok := s.cache.Get(id); ok && persistence.IsTopLevel(e) {
			s.cache.Remove(e)
		}
	}
	for _, e := range staged {
		e.SetReadOnly(true)
		s.cache.Put(e)
	}
	for user, hash := range tx.store.Passwords() {
		s.cache.PutPassword(user, hash)
	}
	s.version = version
	s.metrics.SetCacheState(version, s.countsLocked())

	s.persistLocked(ctx)

	if s.publisher != nil {
		stored := make([]entity.ID, 0, len(staged))
		for _, e := range staged {
			stored = append(stored, e.ID())
		}
		event := notify.NewEvent(tx.ID, version, tx.User, stored, slices.SortedFunc(maps.Keys(removed), entity.ID.Compare), now)
		if perr := s.publisher.Publish(ctx, event); perr != nil {
			logger.ErrorContext(ctx, "publish commit event failed", "error", perr)
		}
	}
	return version, nil
}

// checkVersions compares what the transaction read with what is stored now.
// A staged entity carries the version it was copied at; new entities carry 0.
// When nothing was committed since Begin only the staged versions can be
// off, which happens when a caller stages a fresh instance over a stored id.
func (s *Service) checkVersions(tx *Transaction, staged []entity.Entity) error {
	for _, e := range staged {
		var actual int64
		if stored, ok := s.cache.Get(e.ID()); ok {
			actual = stored.Version()
		}
		if actual != e.Version() {
			return &ConflictError{ID: e.ID(), Expected: e.Version(), Actual: actual}
		}
	}
	if tx.store.RepositoryVersion() == s.version {
		return nil
	}
	for _, id := range slices.SortedFunc(maps.Keys(tx.removed), entity.ID.Compare) {
		stored, ok := s.cache.Get(id)
		if !ok {
			return &ConflictError{ID: id, Expected: tx.removed[id]}
		}
		if stored.Version() != tx.removed[id] {
			return &ConflictError{ID: id, Expected: tx.removed[id], Actual: stored.Version()}
		}
	}
	return nil
}

// expandRemovals returns every id that disappears with the commit: removed
// entities with what they own, preferences of removed users, and sub-entities
// that staged owners no longer hold.
func (s *Service) expandRemovals(tx *Transaction, staged []entity.Entity) (map[entity.ID]bool, error) {
	removed := make(map[entity.ID]bool)
	for id := range tx.removed {
		if _, ok := stagedCopy(tx.store, id); ok {
			return nil, &ValidationError{FieldErrors: map[string]string{"id": fmt.Sprintf("%s is both stored and removed", id)}}
		}
		stored, ok := s.cache.Get(id)
		if !ok {
			continue
		}
		entity.Walk(stored, func(sub entity.Entity) { removed[sub.ID()] = true })
		if id.Type == entity.TypeUser {
			for _, p := range s.cache.Collection(entity.TypePreferences) {
				if p.(*entity.Preferences).Owner() == id {
					removed[p.ID()] = true
				}
			}
		}
	}
	present := make(map[entity.ID]bool)
	for _, e := range staged {
		entity.Walk(e, func(sub entity.Entity) { present[sub.ID()] = true })
	}
	for _, e := range staged {
		stored, ok := s.cache.Get(e.ID())
		if !ok {
			continue
		}
		entity.Walk(stored, func(sub entity.Entity) {
			if !present[sub.ID()] {
				removed[sub.ID()] = true
			}
		})
	}
	return removed, nil
}

// checkReferences rejects staged entities that point at unknown or removed
// entities, and removals that stored entities still depend on. Last-changed
// references are informational and not checked.
func (s *Service) checkReferences(tx *Transaction, staged []entity.Entity, removed map[entity.ID]bool) error {
	present := make(map[entity.ID]bool)
	for _, e := range staged {
		entity.Walk(e, func(sub entity.Entity) { present[sub.ID()] = true })
	}
	resolves := func(id entity.ID) bool {
		if present[id] {
			return true
		}
		if removed[id] {
			return false
		}
		_, ok := tx.store.Get(id)
		return ok
	}

	for _, e := range staged {
		var missing error
		entity.Walk(e, func(sub entity.Entity) {
			if missing != nil {
				return
			}
			for _, to := range dependencies(sub) {
				if !resolves(to) {
					missing = &ReferenceNotFoundError{From: sub.ID(), To: to}
					return
				}
			}
		})
		if missing != nil {
			return missing
		}
	}

	if len(removed) == 0 {
		return nil
	}
	for _, e := range s.cache.All() {
		if removed[e.ID()] || present[e.ID()] {
			continue
		}
		if owner := ownerOf(s.cache, e); removed[owner.ID()] || present[owner.ID()] {
			continue
		}
		for _, to := range dependencies(e) {
			if removed[to] {
				return &ReferenceNotFoundError{From: e.ID(), To: to}
			}
		}
	}
	return nil
}

func dependencies(e entity.Entity) []entity.ID {
	refs := e.References()
	var out []entity.ID
	for _, name := range refs.Names() {
		if name == entity.RefLastChangedBy {
			continue
		}
		for _, id := range refs.List(name) {
			if !id.IsZero() && id != e.ID() {
				out = append(out, id)
			}
		}
	}
	return out
}

type stampable interface {
	SetVersion(version int64) error
	Touch(now time.Time) error
	SetLastChangedBy(user entity.ID) error
}

// stamp sets the commit version on e and what it owns. The top-level entity
// also records the time and the committing user.
func stamp(e entity.Entity, version int64, user entity.ID, now time.Time) error {
	var err error
	entity.Walk(e, func(sub entity.Entity) {
		if err == nil {
			err = sub.(stampable).SetVersion(version)
		}
	})
	if err != nil {
		return err
	}
	top := e.(stampable)
	if err := top.Touch(now); err != nil {
		return err
	}
	if !user.IsZero() {
		return top.SetLastChangedBy(user)
	}
	return nil
}

// stagedCopy finds id among the staged entities and what they own.
func stagedCopy(store *storage.EntityStore, id entity.ID) (entity.Entity, bool) {
	for _, e := range store.Staged() {
		if found, err := findOwned(e, id); err == nil {
			return found, true
		}
	}
	return nil, false
}

// ownerOf returns the top-level entity that owns e, e itself for top-level
// entities.
func ownerOf(c *storage.LocalCache, e entity.Entity) entity.Entity {
	for range 1024 {
		var parent entity.ID
		switch v := e.(type) {
		case *entity.Appointment:
			parent = v.Reservation()
		case *entity.Category:
			parent = v.Parent()
		}
		if parent.IsZero() {
			return e
		}
		next, ok := c.Get(parent)
		if !ok {
			return e
		}
		e = next
	}
	return e
}

func findOwned(owner entity.Entity, id entity.ID) (entity.Entity, error) {
	var found entity.Entity
	entity.Walk(owner, func(sub entity.Entity) {
		if found == nil && sub.ID() == id {
			found = sub
		}
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

func (s *Service) countsLocked() map[string]int {
	counts := make(map[string]int, len(entity.Types()))
	for _, t := range entity.Types() {
		counts[t.String()] = s.cache.Count(t)
	}
	return counts
}

// persistLocked saves the cache when it changed since the last save. A
// failure is logged and retried by the next commit or Checkpoint.
func (s *Service) persistLocked(ctx context.Context) {
	if s.repository == nil || s.saved == s.version {
		return
	}
	logger := s.loggerWith(ctx, "persist", "repository_version", s.version)

	snapshot, err := s.codec.Encode(s.cache, s.version, s.now())
	if err == nil {
		err = s.repository.SaveSnapshot(ctx, snapshot)
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		err = nil
	}
	s.metrics.ObserveSnapshot(err)
	if err != nil {
		logger.ErrorContext(ctx, "snapshot save failed", "error", err)
		return
	}
	s.saved = s.version

	if s.archive != nil {
		if err := s.archive.ArchiveSnapshot(ctx, snapshot); err != nil {
			logger.ErrorContext(ctx, "snapshot archive failed", "error", err)
		}
	}
}

// Checkpoint saves the cache if a previous save failed and keeps the newest
// keep snapshots. keep <= 0 disables pruning.
func (s *Service) Checkpoint(ctx context.Context, keep int) error {
	if s.repository == nil {
		return nil
	}
	s.mu.Lock()
	s.persistLocked(ctx)
	dirty := s.saved != s.version
	s.mu.Unlock()

	if dirty {
		return fmt.Errorf("application: snapshot of version %d not saved", s.RepositoryVersion())
	}
	if keep <= 0 {
		return nil
	}
	return s.repository.PruneSnapshots(ctx, keep)
}

// LoadSnapshot replaces the cache with the newest stored snapshot. An empty
// repository leaves the cache untouched.
func (s *Service) LoadSnapshot(ctx context.Context) (persistence.LoadReport, error) {
	if s.repository == nil {
		return persistence.LoadReport{}, nil
	}
	logger := s.loggerWith(ctx, "LoadSnapshot")

	snapshot, err := s.repository.LatestSnapshot(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		logger.InfoContext(ctx, "no snapshot stored, starting empty")
		return persistence.LoadReport{}, nil
	}
	if err != nil {
		return persistence.LoadReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report, err := s.codec.Load(snapshot, s.cache)
	if err != nil {
		return persistence.LoadReport{}, err
	}
	s.version = snapshot.RepositoryVersion
	s.saved = snapshot.RepositoryVersion
	s.metrics.SetCacheState(s.version, s.countsLocked())

	logger.InfoContext(ctx, "snapshot loaded",
		"repository_version", s.version,
		"entities", report.Entities,
		"dropped_values", len(report.Dropped),
		"dangling_references", len(report.Dangling),
	)
	return report, nil
}
