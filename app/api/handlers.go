package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/m10z/feed-hub/app/auth"
	"github.com/m10z/feed-hub/app/cache"
	"github.com/m10z/feed-hub/app/cfg"
	"github.com/m10z/feed-hub/app/database"
	"github.com/m10z/feed-hub/app/diag"
	"github.com/m10z/feed-hub/app/feed"
	"github.com/m10z/feed-hub/app/ratelimit"
	"github.com/m10z/feed-hub/app/tasks"
)

func NewHandler(configCache *feed.ConfigCache, feedCache *cache.FeedCache, tags *cache.TagSet,
	snapshotRepo database.SnapshotRepository, auditRepo database.AuditRepository,
	scheduler tasks.TaskSchedulerInterface, limiter *ratelimit.Limiter, ring *diag.Ring) *Handler {
	return &Handler{
		configCache:  configCache,
		feedCache:    feedCache,
		tags:         tags,
		renderer:     feed.NewRenderer(),
		snapshotRepo: snapshotRepo,
		auditRepo:    auditRepo,
		scheduler:    scheduler,
		limiter:      limiter,
		ring:         ring,
	}
}

// requireSecret authenticates a request with a shared secret, then applies
// the per-client rate limit. Authentication failures return 401 with an
// empty body so the response leaks nothing about the expected secret.
func (h *Handler) requireSecret(scope, expected string, credential func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Verify(credential(c), expected) {
			h.record("auth", scope, false, "rejected")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		key := ratelimit.ClientKey(scope, c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-Ip"))
		if result := h.limiter.Check(key); !result.OK {
			h.record("ratelimit", scope, false, key)
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		c.Next()
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		slog.Error("Feed configuration not found", "feed", name, "error", err)
		c.Status(http.StatusNotFound)
		return
	}

	rendered := h.feedCache.Get(name)
	if rendered == nil {
		rendered = h.restoreSnapshot(name)
	}

	if rendered == nil {
		// Nothing rendered yet and no snapshot to fall back on: serve a
		// valid but empty document so consumers keep polling.
		slog.Warn("No document available, serving fallback", "feed", name)
		c.Header("Content-Type", "application/rss+xml; charset=utf-8")
		c.Header("Retry-After", "60")
		c.String(http.StatusServiceUnavailable, h.renderer.Fallback(feedConfig))
		return
	}

	c.Header("ETag", rendered.Etag)
	c.Header("Cache-Control", "public, max-age=3600, stale-while-revalidate=86400")
	if rendered.LastModified != nil {
		c.Header("Last-Modified", rendered.LastModified.UTC().Format(http.TimeFormat))
	}

	if notModified(c.Request, rendered) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.String(http.StatusOK, rendered.XML)
}

// restoreSnapshot serves the last persisted document after a restart, until
// the first refresh replaces it.
func (h *Handler) restoreSnapshot(name string) *feed.Rendered {
	if h.snapshotRepo == nil {
		return nil
	}

	snapshot, err := h.snapshotRepo.GetSnapshot(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_snapshot", "feed", name, "error", err)
		return nil
	}
	if snapshot == nil {
		return nil
	}

	rendered := &feed.Rendered{
		XML:          snapshot.XML,
		Etag:         snapshot.Etag,
		LastModified: snapshot.LastModified,
		RenderedAt:   snapshot.RenderedAt,
	}
	h.feedCache.Prewarm(name, rendered)
	return rendered
}

// notModified implements conditional GET. If-None-Match wins over
// If-Modified-Since when both are present.
func notModified(r *http.Request, rendered *feed.Rendered) bool {
	if match := r.Header.Get("If-None-Match"); match != "" {
		for _, candidate := range strings.Split(match, ",") {
			candidate = strings.TrimSpace(candidate)
			candidate = strings.TrimPrefix(candidate, "W/")
			if candidate == "*" || candidate == rendered.Etag {
				return true
			}
		}
		return false
	}

	if rendered.LastModified == nil {
		return false
	}
	since, err := http.ParseTime(r.Header.Get("If-Modified-Since"))
	if err != nil {
		return false
	}
	return !rendered.LastModified.Truncate(time.Second).After(since)
}

func (h *Handler) Invalidate(c *gin.Context) {
	contentType := c.Param("type")

	targets, ok := cache.FanOut(contentType)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown content type"})
		return
	}

	h.tags.Invalidate(targets...)

	dependents := cache.DependentFeeds(h.configCache.GetConfigs(), targets)
	for _, feedName := range dependents {
		h.feedCache.MarkStale(feedName)
		if err := h.scheduler.EnqueueRefresh(feedName); err != nil {
			slog.Error("Error enqueueing refresh task", "feed", feedName, "error", err)
		}
	}

	h.audit(contentType, targets, c.ClientIP())
	h.record("invalidate", contentType, true, strings.Join(dependents, ","))

	slog.Info("Invalidation accepted",
		"type", contentType,
		"targets", len(targets),
		"feeds", dependents,
	)

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"revalidated": targets,
	})
}

func (h *Handler) audit(contentType string, targets []string, clientKey string) {
	if h.auditRepo == nil {
		return
	}

	err := h.auditRepo.InsertEvent(database.InvalidationEvent{
		ContentType: contentType,
		Targets:     targets,
		ClientKey:   clientKey,
	})
	if err != nil {
		slog.Warn("Failed to record invalidation event", "type", contentType, "error", err)
	}
}

func (h *Handler) record(kind, name string, ok bool, detail string) {
	if h.ring == nil {
		return
	}
	h.ring.Record(diag.Event{Kind: kind, Name: name, OK: ok, Detail: detail})
}

func (h *Handler) GetDiagnostics(c *gin.Context) {
	report := diag.BuildReport(h.ring, cfg.Get().Version, h.scheduler.Stats(), h.feedCache.Snapshots())

	response := struct {
		diag.Report
		Tags          map[string]time.Time         `json:"tags"`
		Invalidations []database.InvalidationEvent `json:"invalidations,omitempty"`
	}{Report: report, Tags: h.tags.Snapshot()}

	if h.auditRepo != nil {
		if events, err := h.auditRepo.GetRecentEvents(20); err == nil {
			response.Invalidations = events
		}
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   cfg.Get().Version,
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()
	health["feeds"] = len(h.feedCache.Snapshots())

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetRoot(c *gin.Context) {
	endpoints := map[string]string{
		"feed":   "/feeds/<name>",
		"health": "/health",
	}

	if cfg.Get().InvalidationSecret != "" {
		endpoints["invalidate"] = "/invalidate/<type> (POST, requires x-m10z-invalidation-secret header)"
	}
	if cfg.Get().DiagnosticsToken != "" {
		endpoints["diagnostics"] = "/diagnostics (requires ?token= or x-m10z-diagnostics-token header)"
	}

	c.JSON(http.StatusOK, gin.H{
		"service":     "M10Z Feed Hub",
		"version":     cfg.Get().Version,
		"description": "RSS feed generation and cache invalidation for the M10Z content site",
		"endpoints":   endpoints,
		"content_types": cache.ContentTypes(),
	})
}
