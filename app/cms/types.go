package cms

import (
	"fmt"
	"time"
)

// ContentItem is a normalized, published content entry (article or podcast
// episode) as consumed by the feed renderer. Instances are immutable per
// fetch.
type ContentItem struct {
	ID          int
	Slug        string
	Title       string
	Description string
	Body        string // markdown
	PublishedAt *time.Time
	Categories  []Category
	Cover       *Media
}

type Category struct {
	Name string
	Slug string
}

type Media struct {
	URL    string
	Mime   string
	Width  int
	Height int
	Size   int64 // bytes, 0 when unknown
}

// Channel holds the feed-level metadata fetched from the CMS single type.
type Channel struct {
	Title       string
	Description string
	Email       string
}

// UpstreamError reports a non-success response from the content API.
type UpstreamError struct {
	Status int
	URL    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed: %d (%s)", e.Status, e.URL)
}

// Wire types mirroring the upstream envelope. Decoding goes through these
// so shape mismatches fail here instead of leaking untyped data deeper in.

type listEnvelope struct {
	Data []entry  `json:"data"`
	Meta listMeta `json:"meta"`
}

type singleEnvelope struct {
	Data *entry `json:"data"`
}

type entry struct {
	ID         int             `json:"id"`
	Attributes entryAttributes `json:"attributes"`
}

type entryAttributes struct {
	Slug        string         `json:"slug"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Content     string         `json:"content"`
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	PublishedAt *time.Time     `json:"publishedAt"`
	Categories  *relationList  `json:"categories"`
	Cover       *mediaRelation `json:"cover"`
}

type relationList struct {
	Data []entry `json:"data"`
}

type mediaRelation struct {
	Data *mediaEntry `json:"data"`
}

type mediaEntry struct {
	Attributes mediaAttributes `json:"attributes"`
}

type mediaAttributes struct {
	URL    string  `json:"url"`
	Mime   string  `json:"mime"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Size   float64 `json:"size"` // kilobytes, upstream convention
}

type listMeta struct {
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
}
