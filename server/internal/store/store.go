package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Entry is the latest value of one tag.
type Entry struct {
	Tag   string `json:"tag"`
	Value any    `json:"value"`

	// Timestamp is the source timestamp carried by the update.
	Timestamp time.Time `json:"timestamp"`

	// UpdatedAt is when the store received the update; TTL is measured from it.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a thread-safe last-value cache keyed by tag name.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL. A zero TTL disables expiry.
type Store struct {
	mu   sync.RWMutex
	data map[string]Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the value for tag. A zero ts is replaced by the
// receive time.
func (s *Store) Put(tag string, value any, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if ts.IsZero() {
		ts = now
	}
	s.data[tag] = Entry{
		Tag:       tag,
		Value:     value,
		Timestamp: ts,
		UpdatedAt: now,
	}
}

// Get returns the entry for tag if it exists and has not expired.
func (s *Store) Get(tag string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[tag]
	if !ok || !s.live(e, s.now()) {
		return Entry{}, false
	}
	return e, true
}

// List returns all live entries sorted by tag name.
func (s *Store) List() []Entry {
	s.mu.RLock()
	now := s.now()
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.live(e, now) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) live(e Entry, now time.Time) bool {
	return s.ttl <= 0 || e.UpdatedAt.After(now.Add(-s.ttl))
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for tag, e := range s.data {
		if !s.live(e, now) {
			delete(s.data, tag)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled. With a zero TTL it
// returns immediately.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale tags", "count", n)
			}
		}
	}
}
