package cache

import (
	"sync"
	"time"
)

// TagSet tracks when logical cache tags were last invalidated. A dependent
// consumer compares its own build time against the newest invalidation of
// the tags it depends on, independent of any time-based expiry.
type TagSet struct {
	mu            sync.RWMutex
	invalidatedAt map[string]time.Time
	now           func() time.Time
}

func NewTagSet() *TagSet {
	return &TagSet{
		invalidatedAt: make(map[string]time.Time),
		now:           time.Now,
	}
}

func NewTagSetWithClock(now func() time.Time) *TagSet {
	ts := NewTagSet()
	ts.now = now
	return ts
}

func (ts *TagSet) Invalidate(tags ...string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	for _, tag := range tags {
		ts.invalidatedAt[tag] = now
	}
}

// Since reports the last invalidation time of a tag, nil if never.
func (ts *TagSet) Since(tag string) *time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	at, ok := ts.invalidatedAt[tag]
	if !ok {
		return nil
	}
	return &at
}

// Snapshot returns the last invalidation time of every known tag.
func (ts *TagSet) Snapshot() map[string]time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	out := make(map[string]time.Time, len(ts.invalidatedAt))
	for tag, at := range ts.invalidatedAt {
		out[tag] = at
	}
	return out
}

// InvalidatedAfter reports whether any of the given tags was invalidated
// after the reference time.
func (ts *TagSet) InvalidatedAfter(tags []string, reference time.Time) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	for _, tag := range tags {
		if at, ok := ts.invalidatedAt[tag]; ok && at.After(reference) {
			return true
		}
	}
	return false
}
