package ecs

import (
	"sync"

	"github.com/stormstack/lightning/pkg/types"
)

// Locked decorates a Store with reader-writer semantics: many concurrent
// readers or one exclusive writer. Mutations and their cache invalidation
// become visible atomically because both happen under the write lock.
//
// sync.RWMutex blocks new readers once a writer is waiting, which keeps
// dense scan traffic from starving writers.
type Locked struct {
	mu    sync.RWMutex
	inner Store
}

// NewLocked wraps a store for shared use.
func NewLocked(inner Store) *Locked {
	return &Locked{inner: inner}
}

func (l *Locked) CreateEntityForMatch(p types.Principal, matchID types.MatchID) (types.EntityID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.CreateEntityForMatch(p, matchID)
}

func (l *Locked) Attach(p types.Principal, e types.EntityID, c types.ComponentID, v float32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Attach(p, e, c, v)
}

func (l *Locked) AttachBatch(p types.Principal, e types.EntityID, values map[types.ComponentID]float32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.AttachBatch(p, e, values)
}

func (l *Locked) Remove(p types.Principal, e types.EntityID, c types.ComponentID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Remove(p, e, c)
}

func (l *Locked) DeleteEntity(p types.Principal, e types.EntityID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.DeleteEntity(p, e)
}

func (l *Locked) Get(e types.EntityID, c types.ComponentID) float32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Get(e, c)
}

func (l *Locked) GetBatch(e types.EntityID, cs []types.ComponentID) []float32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.GetBatch(e, cs)
}

func (l *Locked) Has(e types.EntityID, c types.ComponentID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.Has(e, c)
}

func (l *Locked) EntitiesWith(cs ...types.ComponentID) []types.EntityID {
	// The cache mutates on miss, so queries take the write lock.
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.EntitiesWith(cs...)
}

func (l *Locked) EntityCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.EntityCount()
}

func (l *Locked) ComponentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner.ComponentCount()
}

func (l *Locked) Registry() *Registry {
	return l.inner.Registry()
}
