package cache

import (
	"container/list"
	"sync"
	"time"

	"inferd/pkg/types"
)

// Defaults applied when corresponding Memory options are unset.
const (
	defaultMaxSize = 1000
	defaultTTL     = 300 * time.Second
)

type memoryEntry struct {
	key       string
	result    types.GenerateResult
	createdAt time.Time
}

// Memory is a thread-safe in-memory LRU cache with TTL expiration.
// Entries are immutable once inserted; Put replaces rather than mutates.
type Memory struct {
	mu        sync.Mutex
	maxSize   int
	ttl       time.Duration
	items     map[string]*list.Element
	evictList *list.List
	hits      uint64
	misses    uint64
	evictions uint64

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewMemory creates an in-memory response cache. Non-positive maxSize or ttl
// select the package defaults.
func NewMemory(maxSize int, ttl time.Duration) *Memory {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{
		maxSize:   maxSize,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		now:       time.Now,
	}
}

func (m *Memory) Get(key string) (types.GenerateResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		m.misses++
		cacheMisses.Inc()
		return types.GenerateResult{}, false
	}
	entry := elem.Value.(*memoryEntry)
	if m.now().Sub(entry.createdAt) > m.ttl {
		m.removeElement(elem)
		m.misses++
		cacheMisses.Inc()
		return types.GenerateResult{}, false
	}
	m.evictList.MoveToFront(elem)
	m.hits++
	cacheHits.Inc()
	return entry.result, true
}

func (m *Memory) Put(key string, res types.GenerateResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		// Replace, never mutate in place.
		m.evictList.MoveToFront(elem)
		elem.Value = &memoryEntry{key: key, result: res, createdAt: m.now()}
		return
	}
	if m.evictList.Len() >= m.maxSize {
		m.removeOldest()
		m.evictions++
		cacheEvictions.Inc()
	}
	elem := m.evictList.PushFront(&memoryEntry{key: key, result: res, createdAt: m.now()})
	m.items[key] = elem
}

func (m *Memory) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.evictList.Init()
	m.hits, m.misses, m.evictions = 0, 0, 0
}

// SweepExpired removes all expired entries without disturbing the recency
// order of survivors.
func (m *Memory) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := m.now()
	for elem := m.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if now.Sub(elem.Value.(*memoryEntry).createdAt) > m.ttl {
			m.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (m *Memory) Stats() types.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.CacheStats{
		Size:       m.evictList.Len(),
		MaxSize:    m.maxSize,
		Hits:       m.hits,
		Misses:     m.misses,
		Evictions:  m.evictions,
		HitRate:    hitRate(m.hits, m.misses),
		TTLSeconds: int(m.ttl / time.Second),
	}
}

func (m *Memory) removeOldest() {
	if elem := m.evictList.Back(); elem != nil {
		m.removeElement(elem)
	}
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	delete(m.items, elem.Value.(*memoryEntry).key)
}
