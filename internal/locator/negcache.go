package locator

import (
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	negCacheCapacity = 1000
	negCacheTTL      = 5 * time.Second
)

// negativeCache records identifiers known to have no cell, so lookup can
// suppress pathological miss bursts without consulting the route table.
type negativeCache struct {
	cache *lru.LRU[uint64, struct{}]
}

func newNegativeCache() *negativeCache {
	return &negativeCache{cache: lru.NewLRU[uint64, struct{}](negCacheCapacity, nil, negCacheTTL)}
}

func negKey(id, locality string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(id)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(locality)
	return h.Sum64()
}

func (n *negativeCache) Contains(id, locality string) bool {
	_, ok := n.cache.Get(negKey(id, locality))
	return ok
}

func (n *negativeCache) Add(id, locality string) {
	n.cache.Add(negKey(id, locality), struct{}{})
}
