package cache

import (
	"sync"
	"time"

	"github.com/m10z/feed-hub/app/feed"
)

type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StateReady      State = "ready"
	StateStale      State = "stale"
	StateError      State = "error"
)

// Entry is a read-only snapshot of one feed's cache state.
type Entry struct {
	State        State      `json:"state"`
	HasRendered  bool       `json:"has_rendered"`
	Etag         string     `json:"etag,omitempty"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	RenderedAt   *time.Time `json:"rendered_at,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

type cacheEntry struct {
	state     State
	rendered  *feed.Rendered
	lastRunAt *time.Time
	lastError string
	inflight  bool
	// pending records an invalidation that landed while a refresh was in
	// flight, so it cannot be absorbed by that refresh's result.
	pending bool
}

// FeedCache holds the most recently rendered document per feed. Rendered
// values are replaced whole, never mutated, so a concurrent reader either
// sees the previous complete document or the new one.
type FeedCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func NewFeedCache() *FeedCache {
	return &FeedCache{entries: make(map[string]*cacheEntry)}
}

// Get returns the current rendered document for a feed, nil if none.
func (fc *FeedCache) Get(name string) *feed.Rendered {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	entry, ok := fc.entries[name]
	if !ok {
		return nil
	}
	return entry.rendered
}

// Prewarm seeds a feed with a previously persisted document. It is a no-op
// once the feed holds any rendered value.
func (fc *FeedCache) Prewarm(name string, rendered *feed.Rendered) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	entry := fc.entry(name)
	if entry.rendered != nil {
		return
	}
	entry.rendered = rendered
	entry.state = StateReady
}

// BeginRefresh claims the refresh slot for a feed. It returns false when a
// refresh is already in flight; at most one runs per feed at any time.
func (fc *FeedCache) BeginRefresh(name string) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	entry := fc.entry(name)
	if entry.inflight {
		return false
	}
	entry.inflight = true
	entry.pending = false
	entry.state = StateRefreshing
	return true
}

// Commit stores a successful refresh result. The returned flag reports
// whether an invalidation arrived mid-refresh and another refresh is due.
func (fc *FeedCache) Commit(name string, rendered *feed.Rendered) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	now := time.Now().UTC()

	entry := fc.entry(name)
	entry.rendered = rendered
	entry.lastRunAt = &now
	entry.lastError = ""
	entry.inflight = false

	if entry.pending {
		entry.pending = false
		entry.state = StateStale
		return true
	}

	entry.state = StateReady
	return false
}

// Fail records a refresh failure. The previous rendered value, if any, is
// retained: availability wins over freshness. The returned flag mirrors
// Commit's re-refresh semantics.
func (fc *FeedCache) Fail(name string, err error) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	now := time.Now().UTC()

	entry := fc.entry(name)
	entry.lastRunAt = &now
	entry.lastError = err.Error()
	entry.inflight = false

	if entry.pending {
		entry.pending = false
		entry.state = StateStale
		return true
	}

	entry.state = StateError
	return false
}

// MarkStale flags a feed for rebuild. When a refresh is in flight the flag
// is parked so the invalidation survives that refresh.
func (fc *FeedCache) MarkStale(name string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	entry := fc.entry(name)
	if entry.inflight {
		entry.pending = true
		return
	}
	entry.state = StateStale
}

// IsDue reports whether a feed needs a refresh: never refreshed, marked
// stale, or its refresh interval has elapsed.
func (fc *FeedCache) IsDue(name string, refreshInterval time.Duration) bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	entry, ok := fc.entries[name]
	if !ok {
		return true
	}
	if entry.inflight {
		return false
	}
	if entry.state == StateStale || entry.lastRunAt == nil {
		return true
	}
	return time.Since(*entry.lastRunAt) >= refreshInterval
}

// StaleByTags reports whether a feed's current document predates the most
// recent invalidation of any tag it depends on. The scheduler consults it
// on every tick, so a tag invalidation makes dependents due even when no
// explicit stale mark or refresh was enqueued for them.
func (fc *FeedCache) StaleByTags(name string, tags *TagSet, feedTags []string) bool {
	if tags == nil {
		return false
	}

	fc.mu.RLock()
	defer fc.mu.RUnlock()

	entry, ok := fc.entries[name]
	if !ok || entry.rendered == nil || entry.inflight {
		return false
	}
	return tags.InvalidatedAfter(feedTags, entry.rendered.RenderedAt)
}

// Snapshot returns the externally visible state of one feed.
func (fc *FeedCache) Snapshot(name string) Entry {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	entry, ok := fc.entries[name]
	if !ok {
		return Entry{State: StateIdle}
	}

	out := Entry{
		State:       entry.state,
		HasRendered: entry.rendered != nil,
		LastRunAt:   entry.lastRunAt,
		LastError:   entry.lastError,
	}
	if entry.rendered != nil {
		out.Etag = entry.rendered.Etag
		renderedAt := entry.rendered.RenderedAt
		out.RenderedAt = &renderedAt
		out.LastModified = entry.rendered.LastModified
	}
	return out
}

// Snapshots returns the state of every known feed.
func (fc *FeedCache) Snapshots() map[string]Entry {
	fc.mu.RLock()
	names := make([]string, 0, len(fc.entries))
	for name := range fc.entries {
		names = append(names, name)
	}
	fc.mu.RUnlock()

	out := make(map[string]Entry, len(names))
	for _, name := range names {
		out[name] = fc.Snapshot(name)
	}
	return out
}

// entry returns the mutable slot for a feed, creating it when missing.
// Callers must hold fc.mu.
func (fc *FeedCache) entry(name string) *cacheEntry {
	e, ok := fc.entries[name]
	if !ok {
		e = &cacheEntry{state: StateIdle}
		fc.entries[name] = e
	}
	return e
}
