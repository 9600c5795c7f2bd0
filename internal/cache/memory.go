package cache

import (
	"context"
	"sync"
	"time"
)

// Hot is the first cache tier. Implementations must be safe for concurrent
// use by many pipelines.
type Hot interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Stats() TierStats
	Close()
}

type memoryEntry struct {
	value      []byte
	expiresAt  time.Time
	lastAccess time.Time
}

// Memory is the in-process hot tier: a TTL map with a cleanup goroutine and
// oldest-access eviction once maxEntries is reached.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int

	hits      uint64
	misses    uint64
	evictions uint64

	stop     chan struct{}
	stopOnce sync.Once

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemory creates an in-memory hot tier holding at most maxEntries values.
// A background janitor sweeps expired entries every cleanupInterval; pass 0
// to disable sweeping (expired entries still miss on read).
func NewMemory(maxEntries int, cleanupInterval time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	m := &Memory{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
		nowFunc:    time.Now,
	}
	if cleanupInterval > 0 {
		go m.janitor(cleanupInterval)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.nowFunc().After(e.expiresAt) {
		if ok {
			delete(m.entries, key)
		}
		m.misses++
		return nil, false
	}

	e.lastAccess = m.nowFunc()
	m.entries[key] = e
	m.hits++
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxEntries {
		if _, exists := m.entries[key]; !exists {
			m.evictOldestLocked()
		}
	}

	now := m.nowFunc()
	m.entries[key] = memoryEntry{
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) Stats() TierStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TierStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.entries),
	}
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) evictOldestLocked() {
	var oldestKey string
	var oldestAccess time.Time
	first := true
	for k, e := range m.entries {
		if first || e.lastAccess.Before(oldestAccess) {
			oldestKey = k
			oldestAccess = e.lastAccess
			first = false
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
		m.evictions++
	}
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}
