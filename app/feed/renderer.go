package feed

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/m10z/feed-hub/app/cfg"
	"github.com/m10z/feed-hub/app/cms"
)

type Renderer struct {
	markdown *Markdown
}

func NewRenderer() *Renderer {
	return &Renderer{markdown: NewMarkdown()}
}

// Run builds the RSS 2.0 document for a feed. Items without a publish
// timestamp never appear, whatever the upstream client delivered. Output is
// deterministic for identical input apart from lastBuildDate, so re-renders
// of unchanged content produce the same etag seed and item sequence.
func (r *Renderer) Run(feedConfig *Config, channel cms.Channel, items []cms.ContentItem) (*Rendered, error) {
	title := cmp.Or(channel.Title, feedConfig.Channel.Title)
	description := cmp.Or(channel.Description, feedConfig.Channel.Description)
	email := cmp.Or(channel.Email, feedConfig.Channel.Email)

	published := make([]cms.ContentItem, 0, len(items))
	for _, item := range items {
		if item.PublishedAt == nil {
			continue
		}
		published = append(published, item)
	}

	// Input order is the tie-break for identical timestamps, hence stable
	sort.SliceStable(published, func(i, j int) bool {
		return published[i].PublishedAt.After(*published[j].PublishedAt)
	})

	if feedConfig.Settings.MaxItems > 0 && len(published) > feedConfig.Settings.MaxItems {
		published = published[:feedConfig.Settings.MaxItems]
	}

	// Convert every description up front so a conversion failure cannot
	// leave a half-built document behind.
	descriptions := make([]string, len(published))
	for i, item := range published {
		htmlDescription, err := r.markdown.Run(cmp.Or(item.Description, item.Body))
		if err != nil {
			return nil, fmt.Errorf("failed to render item %q: %w", item.Slug, err)
		}
		descriptions[i] = htmlDescription
	}

	renderedAt := time.Now().UTC()

	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	r.writeElement(&buf, "title", title, 4)
	r.writeElement(&buf, "link", r.siteURL(), 4)
	r.writeElement(&buf, "description", description, 4)

	selfLink := r.siteURL() + feedConfig.FeedPath
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(selfLink)))

	if email != "" {
		r.writeElement(&buf, "managingEditor", email, 4)
	}

	r.writeElement(&buf, "lastBuildDate", renderedAt.Format(time.RFC1123Z), 4)
	r.writeElement(&buf, "generator", fmt.Sprintf("M10Z Feed Hub/%s", cfg.Get().Version), 4)

	for i, item := range published {
		r.writeItem(&buf, feedConfig, item, descriptions[i])
	}

	buf.WriteString("  </channel>\n</rss>")

	var lastModified *time.Time
	if len(published) > 0 {
		latest := published[0].PublishedAt.UTC()
		lastModified = &latest
	}

	seed := etagSeed(published)

	return &Rendered{
		XML:          buf.String(),
		Etag:         etagFromSeed(seed),
		EtagSeed:     seed,
		LastModified: lastModified,
		RenderedAt:   renderedAt,
	}, nil
}

// Fallback returns a minimal, statically valid document served when no
// rendered feed and no snapshot exist. Feed readers tolerate an empty
// channel far better than malformed XML.
func (r *Renderer) Fallback(feedConfig *Config) string {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0">`)
	buf.WriteString("\n  <channel>\n")
	r.writeElement(&buf, "title", feedConfig.Channel.Title, 4)
	r.writeElement(&buf, "link", r.siteURL(), 4)
	r.writeElement(&buf, "description", cmp.Or(feedConfig.Channel.Description, "Feed temporarily unavailable"), 4)
	buf.WriteString("  </channel>\n</rss>")

	return buf.String()
}

func (r *Renderer) writeItem(buf *bytes.Buffer, feedConfig *Config, item cms.ContentItem, description string) {
	link := r.itemLink(feedConfig, item)
	guid := sha256.Sum256([]byte(link))

	buf.WriteString("    <item>\n")

	buf.WriteString(`      <guid isPermaLink="false">`)
	buf.WriteString(hex.EncodeToString(guid[:]))
	buf.WriteString("</guid>\n")

	r.writeElement(buf, "title", item.Title, 6)
	r.writeElement(buf, "link", link, 6)

	buf.WriteString("      <description><![CDATA[")
	buf.WriteString(escapeCDATA(description))
	buf.WriteString("]]></description>\n")

	r.writeElement(buf, "pubDate", item.PublishedAt.UTC().Format(time.RFC1123Z), 6)

	for _, category := range item.Categories {
		if category.Name != "" {
			r.writeElement(buf, "category", category.Name, 6)
		}
	}

	// RSS 2.0 spec: url, length, type are required on enclosures
	if item.Cover != nil && item.Cover.URL != "" && item.Cover.Mime != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"%d\" type=\"%s\" />\n",
			html.EscapeString(item.Cover.URL),
			item.Cover.Size,
			html.EscapeString(item.Cover.Mime)))
	}

	buf.WriteString("    </item>\n")
}

func (r *Renderer) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (r *Renderer) itemLink(feedConfig *Config, item cms.ContentItem) string {
	return r.siteURL() + feedConfig.PathPrefix + "/" + url.PathEscape(item.Slug)
}

func (r *Renderer) siteURL() string {
	if cfg.Get().BaseUrl != "" {
		return cfg.Get().BaseUrl
	}
	return fmt.Sprintf("http://localhost:%s", cfg.Get().Port)
}

// escapeCDATA splits literal "]]>" sequences so embedded content cannot
// terminate the enclosing CDATA section early.
func escapeCDATA(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

func etagSeed(items []cms.ContentItem) string {
	if len(items) == 0 {
		return "0:empty"
	}
	return fmt.Sprintf("%d:%s", len(items), items[0].PublishedAt.UTC().Format(time.RFC3339Nano))
}

func etagFromSeed(seed string) string {
	hash := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("\"%s\"", hex.EncodeToString(hash[:]))
}
