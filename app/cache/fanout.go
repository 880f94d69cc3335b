package cache

import (
	"github.com/samber/lo"

	"github.com/m10z/feed-hub/app/feed"
)

// fanOutTable maps a webhook content type to the full closure of cache
// tags and site paths that must be treated as stale when it changes.
// External callers depend on these exact sets, so they only grow
// deliberately and are asserted verbatim in tests.
var fanOutTable = map[string][]string{
	"article": {
		"strapi:article",
		"page:home",
		"/",
		"/artikel",
		"/artikel/[slug]",
	},
	"article-feed": {
		"strapi:article",
		"strapi:category",
		"page:home",
		"/feed.xml",
		"/",
		"/artikel",
		"/kategorien",
	},
	"podcast": {
		"strapi:podcast",
		"page:home",
		"/podcasts",
		"/podcasts/[slug]",
	},
	"audio-feed": {
		"strapi:podcast",
		"strapi:category",
		"page:home",
		"/podcast-feed.xml",
		"/podcasts",
	},
	"author": {
		"strapi:author",
		"strapi:article",
		"strapi:podcast",
		"/autoren",
		"/autoren/[slug]",
		"/",
	},
	"category": {
		"strapi:category",
		"strapi:article",
		"strapi:podcast",
		"/kategorien",
		"/kategorien/[slug]",
	},
	"page": {
		"strapi:page",
		"page:home",
		"/",
		"/[slug]",
	},
	"sitemap": {
		"strapi:sitemap",
		"/sitemap.xml",
		"/sitemap",
	},
}

// FanOut returns the invalidation targets for a content type.
func FanOut(contentType string) ([]string, bool) {
	targets, ok := fanOutTable[contentType]
	if !ok {
		return nil, false
	}
	return append([]string(nil), targets...), true
}

// ContentTypes lists the content types with a fan-out entry.
func ContentTypes() []string {
	return lo.Keys(fanOutTable)
}

// DependentFeeds returns the names of feeds whose configured tags overlap
// the invalidated targets.
func DependentFeeds(configs map[string]*feed.Config, targets []string) []string {
	names := make([]string, 0, len(configs))
	for name, feedConfig := range configs {
		if len(lo.Intersect(feedConfig.Tags, targets)) > 0 {
			names = append(names, name)
		}
	}
	return names
}
