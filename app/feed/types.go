package feed

import (
	"time"
)

// Rendering output types

// Rendered is one successfully built feed document. It is never mutated:
// the cache replaces the whole value on refresh.
type Rendered struct {
	XML          string
	Etag         string // quoted, ready for the ETag header
	EtagSeed     string
	LastModified *time.Time
	RenderedAt   time.Time
}

// Configuration types

type Config struct {
	// Name is derived from the definition filename (without .yml extension)
	Name          string
	Collection    string         `yaml:"collection"`     // upstream collection to page through
	ChannelSingle string         `yaml:"channel_single"` // upstream single type with channel metadata
	PathPrefix    string         `yaml:"path_prefix"`    // site path prefix for item links
	FeedPath      string         `yaml:"feed_path"`      // public path of the XML document
	Populate      []string       `yaml:"populate"`       // relations resolved per item
	Channel       ConfigChannel  `yaml:"channel"`
	Settings      ConfigSettings `yaml:"settings"`
	Tags          []string       `yaml:"tags"` // cache tags this feed depends on
}

type ConfigChannel struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Email       string `yaml:"email"`
}

type ConfigSettings struct {
	Enabled         bool `yaml:"enabled"`
	RefreshInterval int  `yaml:"refresh_interval"` // seconds
	MaxItems        int  `yaml:"max_items"`
	Timeout         int  `yaml:"timeout"` // seconds
}
