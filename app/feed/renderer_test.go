package feed

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/m10z/feed-hub/app/cfg"
	"github.com/m10z/feed-hub/app/cms"
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

func testFeedConfig() *Config {
	return &Config{
		Name:          "articles",
		Collection:    "articles",
		ChannelSingle: "article-feed-setting",
		PathPrefix:    "/artikel",
		FeedPath:      "/feed.xml",
		Channel: ConfigChannel{
			Title:       "M10Z",
			Description: "Artikel von M10Z",
			Email:       "redaktion@m10z.de",
		},
		Settings: ConfigSettings{Enabled: true, RefreshInterval: 900, MaxItems: 50, Timeout: 30},
		Tags:     []string{"strapi:article"},
	}
}

func publishedAt(t time.Time) *time.Time {
	return &t
}

func TestRendererBasicDocument(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	items := []cms.ContentItem{
		{
			ID:          1,
			Slug:        "erster-artikel",
			Title:       "Erster Artikel",
			Description: "Eine **kurze** Beschreibung",
			PublishedAt: publishedAt(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)),
			Categories:  []cms.Category{{Name: "Games", Slug: "games"}},
		},
		{
			ID:          2,
			Slug:        "zweiter-artikel",
			Title:       "Zweiter Artikel",
			Description: "Noch eine Beschreibung",
			PublishedAt: publishedAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
			Cover: &cms.Media{
				URL:  "https://cdn.m10z.de/cover.jpg",
				Mime: "image/jpeg",
				Size: 102400,
			},
		},
	}

	rendered, err := renderer.Run(testFeedConfig(), cms.Channel{Title: "M10Z Artikel"}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rss := rendered.XML

	if !strings.Contains(rss, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Error("Feed should contain XML declaration")
	}
	if !strings.Contains(rss, `<rss version="2.0"`) {
		t.Error("Feed should contain RSS 2.0 declaration")
	}
	if !strings.Contains(rss, "<title>M10Z Artikel</title>") {
		t.Error("Channel title from upstream should win over the fallback")
	}
	if !strings.Contains(rss, "<managingEditor>redaktion@m10z.de</managingEditor>") {
		t.Error("Feed should contain the contact email")
	}
	if !strings.Contains(rss, `<atom:link href="http://localhost:8080/feed.xml" rel="self" type="application/rss+xml" />`) {
		t.Error("Feed should contain atom:link self reference")
	}
	if !strings.Contains(rss, "<link>http://localhost:8080/artikel/erster-artikel</link>") {
		t.Error("Item link should combine site URL, path prefix and slug")
	}
	if !strings.Contains(rss, "<pubDate>Fri, 03 May 2024 10:00:00 +0000</pubDate>") {
		t.Error("Item pubDate should be formatted RFC 1123Z in UTC")
	}
	if !strings.Contains(rss, "<category>Games</category>") {
		t.Error("Feed should contain item categories")
	}
	if !strings.Contains(rss, `<enclosure url="https://cdn.m10z.de/cover.jpg" length="102400" type="image/jpeg" />`) {
		t.Error("Feed should contain the cover enclosure")
	}
	if !strings.Contains(rss, "<strong>kurze</strong>") {
		t.Error("Markdown description should be converted to HTML")
	}
	if strings.Contains(rss, "**kurze**") {
		t.Error("Raw markdown should not leak into the feed")
	}

	if rendered.LastModified == nil || !rendered.LastModified.Equal(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("LastModified should be the newest publish date, got %v", rendered.LastModified)
	}
}

func TestRendererParsableByFeedReaders(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	items := []cms.ContentItem{
		{
			Slug:        "sonderzeichen",
			Title:       `Titel mit <, & und "Anführungszeichen"`,
			Description: "Beschreibung mit ]]> mittendrin",
			PublishedAt: publishedAt(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)),
		},
	}

	rendered, err := renderer.Run(testFeedConfig(), cms.Channel{}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	parsed, err := gofeed.NewParser().ParseString(rendered.XML)
	if err != nil {
		t.Fatalf("Generated feed must be parseable: %v", err)
	}

	if len(parsed.Items) != 1 {
		t.Fatalf("Expected 1 parsed item, got %d", len(parsed.Items))
	}
	if parsed.Items[0].Title != `Titel mit <, & und "Anführungszeichen"` {
		t.Errorf("Escaped title should round-trip, got %q", parsed.Items[0].Title)
	}
	if !strings.Contains(parsed.Items[0].Description, "]]>") {
		t.Errorf("CDATA-split description should round-trip, got %q", parsed.Items[0].Description)
	}
}

func TestRendererExcludesUnpublishedItems(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	items := []cms.ContentItem{
		{Slug: "entwurf", Title: "Entwurf", PublishedAt: nil},
		{Slug: "live", Title: "Live", PublishedAt: publishedAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))},
	}

	rendered, err := renderer.Run(testFeedConfig(), cms.Channel{}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if strings.Contains(rendered.XML, "Entwurf") {
		t.Error("Unpublished item must never appear in the feed")
	}
	if !strings.Contains(rendered.XML, "<title>Live</title>") {
		t.Error("Published item should appear in the feed")
	}
}

func TestRendererOrdersByPublishDateDescending(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	shared := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	items := []cms.ContentItem{
		{Slug: "alt", Title: "Alt", PublishedAt: publishedAt(time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC))},
		{Slug: "gleich-a", Title: "Gleich A", PublishedAt: publishedAt(shared)},
		{Slug: "gleich-b", Title: "Gleich B", PublishedAt: publishedAt(shared)},
		{Slug: "neu", Title: "Neu", PublishedAt: publishedAt(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC))},
	}

	rendered, err := renderer.Run(testFeedConfig(), cms.Channel{}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	order := []string{"Neu", "Gleich A", "Gleich B", "Alt"}
	lastIndex := -1
	for _, title := range order {
		index := strings.Index(rendered.XML, "<title>"+title+"</title>")
		if index == -1 {
			t.Fatalf("Item %q missing from output", title)
		}
		if index < lastIndex {
			t.Errorf("Item %q out of order", title)
		}
		lastIndex = index
	}
}

func TestRendererIdempotentEtagSeed(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	items := []cms.ContentItem{
		{Slug: "a", Title: "A", PublishedAt: publishedAt(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC))},
		{Slug: "b", Title: "B", PublishedAt: publishedAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))},
	}

	first, err := renderer.Run(testFeedConfig(), cms.Channel{}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := renderer.Run(testFeedConfig(), cms.Channel{}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if first.EtagSeed != second.EtagSeed {
		t.Errorf("Etag seed must be stable for unchanged input: %q vs %q", first.EtagSeed, second.EtagSeed)
	}
	if first.Etag != second.Etag {
		t.Errorf("Etag must be stable for unchanged input: %q vs %q", first.Etag, second.Etag)
	}

	// A new item changes the seed
	extra := append(items, cms.ContentItem{
		Slug: "c", Title: "C", PublishedAt: publishedAt(time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC)),
	})
	third, err := renderer.Run(testFeedConfig(), cms.Channel{}, extra)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if third.Etag == first.Etag {
		t.Error("Etag must change when items change")
	}
}

func TestRendererEmptyFeed(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	rendered, err := renderer.Run(testFeedConfig(), cms.Channel{}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if rendered.EtagSeed != "0:empty" {
		t.Errorf("Empty feed should use the sentinel seed, got %q", rendered.EtagSeed)
	}
	if rendered.LastModified != nil {
		t.Error("Empty feed has no last modified timestamp")
	}
	if !strings.Contains(rendered.XML, "</channel>") {
		t.Error("Empty feed should still be a complete document")
	}
}

func TestRendererStableGUIDs(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	items := []cms.ContentItem{
		{Slug: "stabil", Title: "Stabil", PublishedAt: publishedAt(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC))},
	}

	first, _ := renderer.Run(testFeedConfig(), cms.Channel{}, items)
	second, _ := renderer.Run(testFeedConfig(), cms.Channel{}, items)

	extract := func(rss string) string {
		start := strings.Index(rss, `<guid isPermaLink="false">`)
		if start == -1 {
			t.Fatal("Feed should contain a non-permalink guid")
		}
		rest := rss[start:]
		end := strings.Index(rest, "</guid>")
		return rest[:end]
	}

	if extract(first.XML) != extract(second.XML) {
		t.Error("GUIDs must be deterministic across re-renders")
	}
}

func TestRendererMaxItems(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	feedConfig := testFeedConfig()
	feedConfig.Settings.MaxItems = 1

	items := []cms.ContentItem{
		{Slug: "neu", Title: "Neu", PublishedAt: publishedAt(time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC))},
		{Slug: "alt", Title: "Alt", PublishedAt: publishedAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))},
	}

	rendered, err := renderer.Run(feedConfig, cms.Channel{}, items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if strings.Contains(rendered.XML, "<title>Alt</title>") {
		t.Error("Items beyond max_items should be dropped")
	}
	if !strings.Contains(rendered.XML, "<title>Neu</title>") {
		t.Error("Newest item should be kept")
	}
}

func TestRendererFallbackDocument(t *testing.T) {
	setupTestConfig()
	renderer := NewRenderer()

	fallback := renderer.Fallback(testFeedConfig())

	parsed, err := gofeed.NewParser().ParseString(fallback)
	if err != nil {
		t.Fatalf("Fallback document must be valid XML: %v", err)
	}
	if len(parsed.Items) != 0 {
		t.Error("Fallback document should have no items")
	}
	if parsed.Title != "M10Z" {
		t.Errorf("Fallback should carry the configured channel title, got %q", parsed.Title)
	}
}
