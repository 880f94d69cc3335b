package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m10z/feed-hub/app/cache"
	"github.com/m10z/feed-hub/app/cfg"
	"github.com/m10z/feed-hub/app/cms"
	"github.com/m10z/feed-hub/app/diag"
	"github.com/m10z/feed-hub/app/feed"
)

func setupTestConfig() {
	// Clear os.Args to prevent config parsing from failing
	oldArgs := os.Args
	os.Args = []string{"test"}
	defer func() { os.Args = oldArgs }()

	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}

	cfg.Load()
}

// fakeSource is a scriptable ContentSource for refresh tests.
type fakeSource struct {
	mu         sync.Mutex
	items      []cms.ContentItem
	err        error
	fetchCalls int32
	// block, when set, holds FetchPublishedItems until released
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSource) FetchPublishedItems(ctx context.Context, collection string, populate []string) ([]cms.ContentItem, error) {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeSource) FetchChannel(ctx context.Context, single string) (cms.Channel, error) {
	return cms.Channel{Title: "Test Channel"}, nil
}

func (f *fakeSource) setItems(items []cms.ContentItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = nil
}

func taskTestConfig() *feed.Config {
	return &feed.Config{
		Name:          "articles",
		Collection:    "articles",
		ChannelSingle: "article-feed-setting",
		PathPrefix:    "/artikel",
		FeedPath:      "/feed.xml",
		Channel:       feed.ConfigChannel{Title: "M10Z"},
		Settings:      feed.ConfigSettings{Enabled: true, RefreshInterval: 900, MaxItems: 50, Timeout: 30},
		Tags:          []string{"strapi:article"},
	}
}

func testItem(slug string, published time.Time) cms.ContentItem {
	return cms.ContentItem{
		Slug:        slug,
		Title:       strings.ToUpper(slug),
		Description: "Beschreibung",
		PublishedAt: &published,
	}
}

func TestRefreshFeedTaskSuccess(t *testing.T) {
	setupTestConfig()

	source := &fakeSource{items: []cms.ContentItem{
		testItem("eins", time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)),
	}}
	feedCache := cache.NewFeedCache()
	ring := diag.NewRing(10)

	task := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, ring)
	task.Start()

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rendered := feedCache.Get("articles")
	if rendered == nil {
		t.Fatal("Expected a rendered feed in the cache")
	}
	if !strings.Contains(rendered.XML, "<title>EINS</title>") {
		t.Error("Rendered feed should contain the fetched item")
	}
	if feedCache.Snapshot("articles").State != cache.StateReady {
		t.Errorf("Expected Ready state, got %s", feedCache.Snapshot("articles").State)
	}

	events := ring.Recent(1)
	if len(events) != 1 || !events[0].OK {
		t.Error("Expected a successful diagnostic event")
	}
}

func TestRefreshFeedTaskFailureKeepsLastGood(t *testing.T) {
	setupTestConfig()

	source := &fakeSource{items: []cms.ContentItem{
		testItem("eins", time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)),
	}}
	feedCache := cache.NewFeedCache()

	task := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, nil)
	task.Start()
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	previousEtag := feedCache.Get("articles").Etag

	source.mu.Lock()
	source.err = &cms.UpstreamError{Status: 502, URL: "http://upstream/api/articles"}
	source.mu.Unlock()

	retry := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, nil)
	retry.Start()
	if err := retry.Execute(context.Background()); err == nil {
		t.Fatal("Expected the failing refresh to return an error")
	}

	if feedCache.Snapshot("articles").State != cache.StateError {
		t.Errorf("Expected Error state, got %s", feedCache.Snapshot("articles").State)
	}
	if feedCache.Get("articles") == nil || feedCache.Get("articles").Etag != previousEtag {
		t.Error("Failed refresh must keep serving the previous document")
	}
}

func TestRefreshFeedTaskSkipsDisabledFeed(t *testing.T) {
	setupTestConfig()

	source := &fakeSource{}
	feedConfig := taskTestConfig()
	feedConfig.Settings.Enabled = false

	task := NewRefreshFeedTask("articles", feedConfig, source, feed.NewRenderer(), cache.NewFeedCache(), nil, nil)
	task.Start()

	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if atomic.LoadInt32(&source.fetchCalls) != 0 {
		t.Error("Disabled feed must not hit the upstream")
	}
}

func TestConcurrentRefreshesRunOneFetch(t *testing.T) {
	setupTestConfig()

	source := &fakeSource{
		items:   []cms.ContentItem{testItem("eins", time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC))},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	feedCache := cache.NewFeedCache()

	first := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, nil)
	second := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, nil)

	done := make(chan error, 1)
	go func() {
		first.Start()
		done <- first.Execute(context.Background())
	}()

	// Wait until the first refresh reached the upstream fetch
	<-source.started

	second.Start()
	if err := second.Execute(context.Background()); err != nil {
		t.Fatalf("Overlapping refresh should be skipped, got: %v", err)
	}

	close(source.block)
	if err := <-done; err != nil {
		t.Fatalf("First refresh should succeed, got: %v", err)
	}

	if calls := atomic.LoadInt32(&source.fetchCalls); calls != 1 {
		t.Errorf("Expected exactly one upstream fetch sequence, got %d", calls)
	}
}

func TestInvalidationDuringRefreshTriggersRebuild(t *testing.T) {
	setupTestConfig()

	source := &fakeSource{
		items:   []cms.ContentItem{testItem("eins", time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC))},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	feedCache := cache.NewFeedCache()

	task := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, nil)

	done := make(chan error, 1)
	go func() {
		task.Start()
		done <- task.Execute(context.Background())
	}()

	<-source.started

	// Invalidation lands while the refresh is in flight
	feedCache.MarkStale("articles")

	close(source.block)
	if err := <-done; err != nil {
		t.Fatalf("Refresh should succeed, got: %v", err)
	}

	// The refresh result is committed but the feed stays due for rebuild
	if feedCache.Get("articles") == nil {
		t.Error("Committed document should be available")
	}
	if !feedCache.IsDue("articles", time.Hour) {
		t.Error("Feed must remain due after a mid-refresh invalidation")
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	setupTestConfig()

	configCache := feed.NewConfigCache(t.TempDir())
	scheduler := NewScheduler(configCache, cache.NewFeedCache(), cache.NewTagSet(), &fakeSource{}, feed.NewRenderer(), nil, nil)

	scheduler.Start()
	scheduler.Start() // second start must not spawn another worker pool

	stats := scheduler.Stats()
	if !stats.Started {
		t.Error("Scheduler should report started")
	}

	scheduler.Stop()
	scheduler.Stop() // second stop must be a no-op

	if scheduler.Stats().Started {
		t.Error("Scheduler should report stopped")
	}
}

func TestSchedulerExecutesEnqueuedTask(t *testing.T) {
	setupTestConfig()

	source := &fakeSource{items: []cms.ContentItem{
		testItem("eins", time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)),
	}}
	feedCache := cache.NewFeedCache()
	configCache := feed.NewConfigCache(t.TempDir())

	scheduler := NewScheduler(configCache, feedCache, cache.NewTagSet(), source, feed.NewRenderer(), nil, nil)
	scheduler.Start()
	defer scheduler.Stop()

	task := NewRefreshFeedTask("articles", taskTestConfig(), source, feed.NewRenderer(), feedCache, nil, nil)
	if err := scheduler.EnqueueTask(task); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for feedCache.Get("articles") == nil {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the worker to refresh the feed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSchedulerTagInvalidationMakesFeedDue(t *testing.T) {
	setupTestConfig()

	feedsDir := t.TempDir()
	definition := "collection: podcasts\n" +
		"path_prefix: /podcasts\n" +
		"feed_path: /podcast-feed.xml\n" +
		"channel:\n  title: M10Z Podcasts\n" +
		"settings:\n  enabled: true\n  refresh_interval: 3600\n" +
		"tags:\n  - strapi:podcast\n"
	if err := os.WriteFile(filepath.Join(feedsDir, "audio.yml"), []byte(definition), 0644); err != nil {
		t.Fatal(err)
	}

	configCache := feed.NewConfigCache(feedsDir)
	if err := configCache.Run(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	feedCache := cache.NewFeedCache()
	tags := cache.NewTagSet()

	// Scheduler is deliberately not started: enqueued tasks stay queued
	scheduler := NewScheduler(configCache, feedCache, tags, &fakeSource{}, feed.NewRenderer(), nil, nil)

	// Simulate a fresh refresh, well within the 3600s interval
	if !feedCache.BeginRefresh("audio") {
		t.Fatal("Expected to claim the refresh slot")
	}
	feedCache.Commit("audio", &feed.Rendered{
		XML:        "<rss/>",
		Etag:       `"etag-1"`,
		RenderedAt: time.Now().UTC().Add(-time.Second),
	})

	scheduler.enqueueDueTasks()
	if queued := scheduler.Stats().QueueLength; queued != 0 {
		t.Fatalf("Fresh feed should not be enqueued, got %d queued tasks", queued)
	}

	// A tag invalidation alone, without MarkStale or an explicit refresh,
	// must make the feed due on the next tick
	tags.Invalidate("strapi:podcast")

	scheduler.enqueueDueTasks()
	if queued := scheduler.Stats().QueueLength; queued != 1 {
		t.Errorf("Expected 1 queued task after tag invalidation, got %d", queued)
	}
}

func TestSchedulerEnqueueRefreshUnknownFeed(t *testing.T) {
	setupTestConfig()

	configCache := feed.NewConfigCache(t.TempDir())
	scheduler := NewScheduler(configCache, cache.NewFeedCache(), cache.NewTagSet(), &fakeSource{}, feed.NewRenderer(), nil, nil)

	if err := scheduler.EnqueueRefresh("missing"); err == nil {
		t.Error("Expected an error for an unknown feed")
	}
}

func TestSchedulerEnqueueAfterStop(t *testing.T) {
	setupTestConfig()

	configCache := feed.NewConfigCache(t.TempDir())
	scheduler := NewScheduler(configCache, cache.NewFeedCache(), cache.NewTagSet(), &fakeSource{}, feed.NewRenderer(), nil, nil)

	scheduler.Start()
	scheduler.Stop()

	task := NewRefreshFeedTask("articles", taskTestConfig(), &fakeSource{}, feed.NewRenderer(), cache.NewFeedCache(), nil, nil)
	if err := scheduler.EnqueueTask(task); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled after stop, got: %v", err)
	}
}
