package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// Memory is a process-local TTL cache keyed by K. When full, the entry
// written first is dropped to make room.
type Memory[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]item[V]
	ttl     time.Duration
	maxSize int
	seq     uint64
	now     func() time.Time
}

type item[V any] struct {
	value   V
	expires time.Time
	seq     uint64
}

// NewMemory creates a cache with a default ttl. maxSize 0 is unbounded.
func NewMemory[K comparable, V any](ttl time.Duration, maxSize int) *Memory[K, V] {
	return &Memory[K, V]{
		items:   make(map[K]item[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Put stores value under key; ttl 0 means the default ttl
func (m *Memory[K, V]) Put(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.ttl
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[key]; !ok && m.maxSize > 0 && len(m.items) >= m.maxSize {
		m.dropFirstWritten()
	}
	m.seq++
	m.items[key] = item[V]{value: value, expires: m.now().Add(ttl), seq: m.seq}
}

// Lookup returns the live value for key. Stale entries are removed on sight.
func (m *Memory[K, V]) Lookup(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	it, ok := m.items[key]
	if !ok {
		return zero, false
	}
	if !m.now().Before(it.expires) {
		delete(m.items, key)
		return zero, false
	}
	return it.value, true
}

// Forget removes key
func (m *Memory[K, V]) Forget(key K) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Reset drops every entry
func (m *Memory[K, V]) Reset() {
	m.mu.Lock()
	clear(m.items)
	m.mu.Unlock()
}

// Len counts entries, stale ones included until they are swept
func (m *Memory[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory[K, V]) dropFirstWritten() {
	var (
		victim K
		oldest uint64
		found  bool
	)
	for k, it := range m.items {
		if !found || it.seq < oldest {
			victim, oldest, found = k, it.seq, true
		}
	}
	if found {
		delete(m.items, victim)
		logger.Debug("Cache full, dropped entry", zap.Any("key", victim))
	}
}

// sweep removes stale entries and reports how many went
func (m *Memory[K, V]) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, it := range m.items {
		if !now.Before(it.expires) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// SweepEvery sweeps stale entries on interval until the returned stop
// function is called. stop is safe to call more than once.
func (m *Memory[K, V]) SweepEvery(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.sweep(); n > 0 {
					logger.Debug("Cache swept", zap.Int("removed", n))
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
