// Package idempotency caches responses to retried mutation requests so a
// client resubmitting a checkout or evaluation doesn't create duplicates.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached HTTP response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// Store manages idempotency keys and cached responses.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-memory Store with LRU eviction and TTL expiry.
type MemoryStore struct {
	mu      sync.Mutex
	cache   map[string]*cacheEntry
	lru     *list.List
	maxSize int

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type cacheEntry struct {
	key      string
	response *Response
	expires  time.Time
	element  *list.Element
}

// NewMemoryStore creates a store capped at 10,000 entries.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(10000)
}

// NewMemoryStoreWithSize creates a store with a custom entry cap.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	s := &MemoryStore{
		cache:       make(map[string]*cacheEntry),
		lru:         list.New(),
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.cache[key]
	if !found || now.After(entry.expires) {
		return nil, false
	}
	s.lru.MoveToFront(entry.element)
	return entry.response, true
}

func (s *MemoryStore) Set(ctx context.Context, key string, response *Response, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.cache[key]; exists {
		entry.response = response
		entry.expires = now.Add(ttl)
		s.lru.MoveToFront(entry.element)
		return nil
	}

	// Evict before inserting so the cap is never exceeded.
	if len(s.cache) >= s.maxSize {
		s.evictOldest()
	}

	entry := &cacheEntry{
		key:      key,
		response: response,
		expires:  now.Add(ttl),
	}
	entry.element = s.lru.PushFront(entry)
	s.cache[key] = entry
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(key)
	return nil
}

func (s *MemoryStore) evictOldest() {
	element := s.lru.Back()
	if element == nil {
		return
	}
	s.remove(element.Value.(*cacheEntry).key)
}

func (s *MemoryStore) remove(key string) {
	if entry, exists := s.cache[key]; exists {
		s.lru.Remove(entry.element)
		delete(s.cache, key)
	}
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			var expired []string
			for key, entry := range s.cache {
				if now.After(entry.expires) {
					expired = append(expired, key)
				}
			}
			for _, key := range expired {
				s.remove(key)
			}
			s.mu.Unlock()
		}
	}
}

// Stop shuts down the background cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}
