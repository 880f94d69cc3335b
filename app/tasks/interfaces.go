package tasks

import (
	"context"
	"time"

	"github.com/m10z/feed-hub/app/cms"
)

// ContentSource is the slice of the upstream client a refresh needs.
type ContentSource interface {
	FetchPublishedItems(ctx context.Context, collection string, populate []string) ([]cms.ContentItem, error)
	FetchChannel(ctx context.Context, single string) (cms.Channel, error)
}

var _ ContentSource = (*cms.Client)(nil)

// SchedulerStats is the scheduler state exposed to diagnostics.
type SchedulerStats struct {
	Started     bool       `json:"started"`
	Interval    string     `json:"interval"`
	Workers     int        `json:"workers"`
	QueueLength int        `json:"queue_length"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
}

// TaskSchedulerInterface defines the interface for task scheduling
// operations. Used by the main application and the HTTP handlers to manage
// background feed refreshing.
// Example usage:
//
//	scheduler := NewScheduler(configCache, feedCache, tags, source, renderer, snapshotRepo, ring)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewRefreshFeedTask(...))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueRefresh(feedName string) error
	Stats() SchedulerStats
}
