package database

import (
	"time"
)

// Snapshot is the last successfully rendered document of a feed, persisted
// so a restart can serve last-known-good output before the first refresh.
type Snapshot struct {
	Name         string
	XML          string
	Etag         string
	LastModified *time.Time
	RenderedAt   time.Time
}

// InvalidationEvent is one accepted invalidation webhook call.
type InvalidationEvent struct {
	ID          int64
	ContentType string
	Targets     []string
	ClientKey   string
	CreatedAt   time.Time
}
