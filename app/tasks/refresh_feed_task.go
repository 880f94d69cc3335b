package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m10z/feed-hub/app/cache"
	"github.com/m10z/feed-hub/app/cms"
	"github.com/m10z/feed-hub/app/database"
	"github.com/m10z/feed-hub/app/diag"
	"github.com/m10z/feed-hub/app/feed"
)

type RefreshFeedTask struct {
	Task
	FeedConfig   *feed.Config
	source       ContentSource
	renderer     *feed.Renderer
	feedCache    *cache.FeedCache
	snapshotRepo database.SnapshotRepository
	ring         *diag.Ring
}

func NewRefreshFeedTask(feedName string, feedConfig *feed.Config, source ContentSource, renderer *feed.Renderer,
	feedCache *cache.FeedCache, snapshotRepo database.SnapshotRepository, ring *diag.Ring) *RefreshFeedTask {
	return &RefreshFeedTask{
		Task:         NewTask(TaskTypeRefreshFeed, feedName),
		FeedConfig:   feedConfig,
		source:       source,
		renderer:     renderer,
		feedCache:    feedCache,
		snapshotRepo: snapshotRepo,
		ring:         ring,
	}
}

func (t *RefreshFeedTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.Enabled {
		slog.Debug("Feed disabled, skipping", "feed", t.FeedName)
		return nil
	}

	if !t.feedCache.BeginRefresh(t.FeedName) {
		// Another refresh owns the slot; the cache parks any invalidation
		// so the next tick enqueues a fresh task when needed.
		slog.Debug("Refresh already in flight, skipping", "feed", t.FeedName)
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(t.FeedConfig.Settings.Timeout)*time.Second)
	defer cancel()

	rendered, err := t.buildFeed(timeoutCtx)
	if err != nil {
		rerun := t.feedCache.Fail(t.FeedName, err)
		t.record(false, err.Error())
		if rerun {
			slog.Debug("Invalidation landed during failed refresh", "feed", t.FeedName)
		}
		return err
	}

	rerun := t.feedCache.Commit(t.FeedName, rendered)
	if rerun {
		// The commit absorbed stale state; the next scheduler tick picks
		// the feed up again because it stays marked stale.
		slog.Debug("Invalidation landed during refresh, rebuild pending", "feed", t.FeedName)
	}

	t.storeSnapshot(rendered)
	t.record(true, "")

	slog.Info("Task completed",
		"type", "RefreshFeed",
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"etag", rendered.Etag,
	)

	return nil
}

func (t *RefreshFeedTask) buildFeed(ctx context.Context) (*feed.Rendered, error) {
	var channel cms.Channel
	if t.FeedConfig.ChannelSingle != "" {
		fetched, err := t.source.FetchChannel(ctx, t.FeedConfig.ChannelSingle)
		if err != nil {
			// Channel metadata is cosmetic; the configured fallback covers it
			slog.Warn("Failed to fetch channel metadata, using fallback", "feed", t.FeedName, "error", err)
		} else {
			channel = fetched
		}
	}

	items, err := t.source.FetchPublishedItems(ctx, t.FeedConfig.Collection, t.FeedConfig.Populate)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch items: %w", err)
	}

	rendered, err := t.renderer.Run(t.FeedConfig, channel, items)
	if err != nil {
		return nil, fmt.Errorf("failed to render feed: %w", err)
	}

	return rendered, nil
}

func (t *RefreshFeedTask) storeSnapshot(rendered *feed.Rendered) {
	if t.snapshotRepo == nil {
		return
	}

	err := t.snapshotRepo.UpsertSnapshot(database.Snapshot{
		Name:         t.FeedName,
		XML:          rendered.XML,
		Etag:         rendered.Etag,
		LastModified: rendered.LastModified,
		RenderedAt:   rendered.RenderedAt,
	})
	if err != nil {
		slog.Warn("Failed to persist feed snapshot", "feed", t.FeedName, "error", err)
	}
}

func (t *RefreshFeedTask) record(ok bool, detail string) {
	if t.ring == nil {
		return
	}
	t.ring.Record(diag.Event{
		Kind:       "refresh",
		Name:       t.FeedName,
		OK:         ok,
		DurationMs: t.GetDuration().Milliseconds(),
		Detail:     detail,
	})
}
