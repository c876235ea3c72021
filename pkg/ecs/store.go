package ecs

import (
	"math"
	"sort"

	"github.com/stormstack/lightning/pkg/errdefs"
	"github.com/stormstack/lightning/pkg/types"
)

// Absent is the sentinel returned for missing component values.
var Absent = float32(math.NaN())

// IsAbsent reports whether v is the missing-value sentinel.
func IsAbsent(v float32) bool {
	return math.IsNaN(float64(v))
}

// DefaultMaxEntities bounds the number of live entity slots per store.
const DefaultMaxEntities = 1 << 20

// Store is the columnar entity/component store of one container.
//
// Implementations are not required to be safe for concurrent use; Locked
// wraps any Store with reader-writer semantics for shared access.
type Store interface {
	// CreateEntityForMatch allocates an entity slot, attaches the built-in
	// MATCH_ID and ENTITY_ID columns, and returns the new id. Fails with
	// CapacityExhausted when slots are full.
	CreateEntityForMatch(p types.Principal, matchID types.MatchID) (types.EntityID, error)

	// Attach sets one component value, creating the entity slot if missing.
	Attach(p types.Principal, e types.EntityID, c types.ComponentID, v float32) error

	// AttachBatch sets several component values atomically. Permission
	// failures leave the store unchanged.
	AttachBatch(p types.Principal, e types.EntityID, values map[types.ComponentID]float32) error

	// Remove detaches one component from an entity.
	Remove(p types.Principal, e types.EntityID, c types.ComponentID) error

	// DeleteEntity removes the entity slot and all its component values.
	DeleteEntity(p types.Principal, e types.EntityID) error

	// Get returns the component value, or the Absent sentinel.
	Get(e types.EntityID, c types.ComponentID) float32

	// GetBatch returns values for several components in input order.
	GetBatch(e types.EntityID, cs []types.ComponentID) []float32

	// Has reports whether the entity carries the component.
	Has(e types.EntityID, c types.ComponentID) bool

	// EntitiesWith returns every entity carrying ALL listed components, in
	// ascending id order. This is the tick hot path and is cached.
	EntitiesWith(cs ...types.ComponentID) []types.EntityID

	// EntityCount returns the number of live entity slots.
	EntityCount() int

	// ComponentCount returns the number of distinct columns in use.
	ComponentCount() int

	// Registry returns the component registry backing this store.
	Registry() *Registry
}

// MapStore implements Store with per-column hash maps. Columns are sparse;
// iteration order is restored by sorting, which EntitiesWith amortizes
// through the query cache.
type MapStore struct {
	registry    *Registry
	columns     map[types.ComponentID]map[types.EntityID]float32
	entities    map[types.EntityID]struct{}
	nextEntity  types.EntityID
	maxEntities int
	cache       *queryCache
}

// NewMapStore creates an empty store bound to a registry.
func NewMapStore(registry *Registry, maxEntities int) *MapStore {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	return &MapStore{
		registry:    registry,
		columns:     make(map[types.ComponentID]map[types.EntityID]float32),
		entities:    make(map[types.EntityID]struct{}),
		nextEntity:  1,
		maxEntities: maxEntities,
		cache:       newQueryCache(DefaultQueryCacheSize),
	}
}

// Registry returns the component registry backing this store.
func (s *MapStore) Registry() *Registry { return s.registry }

func (s *MapStore) CreateEntityForMatch(p types.Principal, matchID types.MatchID) (types.EntityID, error) {
	if len(s.entities) >= s.maxEntities {
		return 0, errdefs.CapacityExhausted("entity slots exhausted (%d in use)", len(s.entities))
	}

	id := s.nextEntity
	s.nextEntity++
	s.entities[id] = struct{}{}

	s.set(s.registry.MatchID(), id, float32(matchID))
	s.set(s.registry.EntityID(), id, float32(id))
	return id, nil
}

// checkAttach enforces I2: PRIVATE columns are writable only by a superuser.
func (s *MapStore) checkAttach(p types.Principal, c types.ComponentID) error {
	if s.registry.permissionFor(c) == types.PermissionPrivate && !p.Superuser {
		name := ""
		if comp, ok := s.registry.Lookup(c); ok {
			name = comp.Name
		}
		return errdefs.PermissionDenied("component %q is private", name)
	}
	return nil
}

func (s *MapStore) Attach(p types.Principal, e types.EntityID, c types.ComponentID, v float32) error {
	if err := s.checkAttach(p, c); err != nil {
		return err
	}
	if _, ok := s.entities[e]; !ok {
		s.entities[e] = struct{}{}
		if e >= s.nextEntity {
			s.nextEntity = e + 1
		}
	}
	s.set(c, e, v)
	return nil
}

func (s *MapStore) AttachBatch(p types.Principal, e types.EntityID, values map[types.ComponentID]float32) error {
	// Validate the whole batch before touching any column.
	for c := range values {
		if err := s.checkAttach(p, c); err != nil {
			return err
		}
	}
	for c, v := range values {
		if err := s.Attach(p, e, c, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MapStore) Remove(p types.Principal, e types.EntityID, c types.ComponentID) error {
	if err := s.checkAttach(p, c); err != nil {
		return err
	}
	col, ok := s.columns[c]
	if !ok {
		return nil
	}
	if _, ok := col[e]; ok {
		delete(col, e)
		s.cache.invalidate(c)
	}
	return nil
}

func (s *MapStore) DeleteEntity(p types.Principal, e types.EntityID) error {
	if _, ok := s.entities[e]; !ok {
		return nil
	}
	for c, col := range s.columns {
		if _, ok := col[e]; ok {
			delete(col, e)
			s.cache.invalidate(c)
		}
	}
	delete(s.entities, e)
	return nil
}

func (s *MapStore) Get(e types.EntityID, c types.ComponentID) float32 {
	if col, ok := s.columns[c]; ok {
		if v, ok := col[e]; ok {
			return v
		}
	}
	return Absent
}

func (s *MapStore) GetBatch(e types.EntityID, cs []types.ComponentID) []float32 {
	out := make([]float32, len(cs))
	for i, c := range cs {
		out[i] = s.Get(e, c)
	}
	return out
}

func (s *MapStore) Has(e types.EntityID, c types.ComponentID) bool {
	col, ok := s.columns[c]
	if !ok {
		return false
	}
	_, ok = col[e]
	return ok
}

func (s *MapStore) EntitiesWith(cs ...types.ComponentID) []types.EntityID {
	if len(cs) == 0 {
		return nil
	}
	if hit, ok := s.cache.get(cs); ok {
		return hit
	}

	// Intersect starting from the smallest column.
	smallest := cs[0]
	for _, c := range cs[1:] {
		if len(s.columns[c]) < len(s.columns[smallest]) {
			smallest = c
		}
	}

	var out []types.EntityID
	for e := range s.columns[smallest] {
		all := true
		for _, c := range cs {
			if c == smallest {
				continue
			}
			if _, ok := s.columns[c][e]; !ok {
				all = false
				break
			}
		}
		if all {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	s.cache.put(cs, out)
	return out
}

func (s *MapStore) EntityCount() int { return len(s.entities) }

func (s *MapStore) ComponentCount() int { return len(s.columns) }

func (s *MapStore) set(c types.ComponentID, e types.EntityID, v float32) {
	col, ok := s.columns[c]
	if !ok {
		col = make(map[types.EntityID]float32)
		s.columns[c] = col
	}
	if _, existed := col[e]; !existed {
		// Membership changed, cached intersections over this column are stale.
		s.cache.invalidate(c)
	}
	col[e] = v
}
