package api

import (
	"github.com/m10z/feed-hub/app/cache"
	"github.com/m10z/feed-hub/app/database"
	"github.com/m10z/feed-hub/app/diag"
	"github.com/m10z/feed-hub/app/feed"
	"github.com/m10z/feed-hub/app/ratelimit"
	"github.com/m10z/feed-hub/app/tasks"
)

type RendererInterface interface {
	Fallback(feedConfig *feed.Config) string
}

var _ RendererInterface = (*feed.Renderer)(nil)

type Handler struct {
	configCache  *feed.ConfigCache
	feedCache    *cache.FeedCache
	tags         *cache.TagSet
	renderer     RendererInterface
	snapshotRepo database.SnapshotRepository
	auditRepo    database.AuditRepository
	scheduler    tasks.TaskSchedulerInterface
	limiter      *ratelimit.Limiter
	ring         *diag.Ring
}
