package ecs

import (
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stormstack/lightning/pkg/types"
)

// DefaultQueryCacheSize bounds the EntitiesWith result cache.
const DefaultQueryCacheSize = 1024

// queryCache memoizes EntitiesWith results keyed structurally on the sorted
// component id list. A reverse index from column id to cache keys lets a
// single attach or remove drop exactly the stale entries.
type queryCache struct {
	results *lru.Cache[string, []types.EntityID]
	byCol   map[types.ComponentID]map[string]struct{}
}

func newQueryCache(size int) *queryCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	c := &queryCache{byCol: make(map[types.ComponentID]map[string]struct{})}
	// Eviction callback keeps the reverse index in step with the LRU bound.
	c.results, _ = lru.NewWithEvict[string, []types.EntityID](size, func(key string, _ []types.EntityID) {
		for _, col := range c.byCol {
			delete(col, key)
		}
	})
	return c
}

func cacheKey(cs []types.ComponentID) (string, []types.ComponentID) {
	sorted := make([]types.ComponentID, len(cs))
	copy(sorted, cs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	for i, c := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(c), 10))
	}
	return b.String(), sorted
}

func (c *queryCache) get(cs []types.ComponentID) ([]types.EntityID, bool) {
	key, _ := cacheKey(cs)
	return c.results.Get(key)
}

func (c *queryCache) put(cs []types.ComponentID, entities []types.EntityID) {
	key, sorted := cacheKey(cs)
	c.results.Add(key, entities)
	for _, col := range sorted {
		keys, ok := c.byCol[col]
		if !ok {
			keys = make(map[string]struct{})
			c.byCol[col] = keys
		}
		keys[key] = struct{}{}
	}
}

// invalidate drops every cached result that intersected the given column.
func (c *queryCache) invalidate(col types.ComponentID) {
	keys, ok := c.byCol[col]
	if !ok {
		return
	}
	for key := range keys {
		c.results.Remove(key)
	}
	delete(c.byCol, col)
}
