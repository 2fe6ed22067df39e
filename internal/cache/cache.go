// Package cache provides the short-lived raw-capture cache keyed by URL.
// It is one of the only two pieces of state shared across concurrent
// pipeline instances, so all access is atomic get-or-set.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/atelierdata/specpipe/internal/model"
)

// Cache stores raw captures with a TTL. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the cached capture for a URL, or nil when absent/expired.
	Get(ctx context.Context, url string) (*model.RawCapture, error)
	// Set stores a capture for a URL with the given TTL.
	Set(ctx context.Context, url string, capture model.RawCapture, ttl time.Duration) error
}

type memoryEntry struct {
	capture   model.RawCapture
	expiresAt time.Time
}

// Memory is an in-process Cache for single-run and test use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		nowFunc: time.Now,
	}
}

// Get returns the cached capture for a URL if it has not expired.
func (m *Memory) Get(_ context.Context, url string) (*model.RawCapture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[url]
	if !ok {
		return nil, nil
	}
	if m.nowFunc().After(entry.expiresAt) {
		delete(m.entries, url)
		return nil, nil
	}
	capture := entry.capture
	return &capture, nil
}

// Set stores a capture with a TTL.
func (m *Memory) Set(_ context.Context, url string, capture model.RawCapture, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[url] = memoryEntry{
		capture:   capture,
		expiresAt: m.nowFunc().Add(ttl),
	}
	return nil
}

// Len reports the number of live entries, for stats reporting.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Backing is the durable-store surface a store-backed cache requires.
// *store.SQLiteStore and *store.PostgresStore satisfy it.
type Backing interface {
	GetCachedCapture(ctx context.Context, url string) (*model.RawCapture, error)
	SetCachedCapture(ctx context.Context, url string, capture model.RawCapture, ttl time.Duration) error
}

// StoreBacked persists captures through the durable store so cache hits
// survive process restarts.
type StoreBacked struct {
	backing Backing
}

// NewStoreBacked wraps a durable store as a Cache.
func NewStoreBacked(backing Backing) *StoreBacked {
	return &StoreBacked{backing: backing}
}

func (s *StoreBacked) Get(ctx context.Context, url string) (*model.RawCapture, error) {
	return s.backing.GetCachedCapture(ctx, url)
}

func (s *StoreBacked) Set(ctx context.Context, url string, capture model.RawCapture, ttl time.Duration) error {
	return s.backing.SetCachedCapture(ctx, url, capture, ttl)
}
