// Package invalidation translates entity mutation events into cache
// invalidation calls. List caches are not addressable by entity id, so
// list invalidation is always pattern-broad: never serving stale data
// is worth the lost hit-rate.
package invalidation

import (
	"context"

	"lettercast/internal/cache"
	"lettercast/internal/common/logging"
)

// Key layout used by the content layer:
//
//	newsletter:<id>            single newsletter by id
//	newsletter:slug:<slug>     alternate lookup by slug
//	newsletters:list:*         every list/aggregate view
//	subscriber:<id>            single subscriber by id
//	subscriber:email:<email>   alternate lookup by email
//	subscribers:list:*         every subscriber list view

// Policy invalidates cached entities and the list views that could
// contain them.
type Policy struct {
	cache  *cache.Manager
	logger logging.Logger
}

// NewPolicy creates an invalidation policy over the given cache.
func NewPolicy(c *cache.Manager, logger logging.Logger) *Policy {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Policy{cache: c, logger: logger}
}

// InvalidateNewsletter handles a newsletter update, delete or publish:
// drop the direct key, the slug alternate, and every list view.
func (p *Policy) InvalidateNewsletter(ctx context.Context, id, slug string) {
	p.cache.Delete(ctx, "newsletter:"+id)
	if slug != "" {
		p.cache.Delete(ctx, "newsletter:slug:"+slug)
	}
	p.cache.DeletePattern(ctx, "newsletters:list:*")

	p.logger.Debug("Invalidated newsletter cache",
		logging.Field{Key: "id", Value: id},
		logging.Field{Key: "slug", Value: slug},
	)
}

// InvalidateNewsletterLists handles a create or any other list-affecting
// mutation where no direct key existed yet.
func (p *Policy) InvalidateNewsletterLists(ctx context.Context) {
	p.cache.DeletePattern(ctx, "newsletters:list:*")
}

// InvalidateSubscriber handles a subscriber update or delete. Either
// identifier may be empty when the caller only knows the other.
func (p *Policy) InvalidateSubscriber(ctx context.Context, id, email string) {
	if id != "" {
		p.cache.Delete(ctx, "subscriber:"+id)
	}
	if email != "" {
		p.cache.Delete(ctx, "subscriber:email:"+email)
	}
	p.cache.DeletePattern(ctx, "subscribers:list:*")

	p.logger.Debug("Invalidated subscriber cache",
		logging.Field{Key: "id", Value: id},
	)
}

// InvalidateSubscriberLists handles subscriber creation.
func (p *Policy) InvalidateSubscriberLists(ctx context.Context) {
	p.cache.DeletePattern(ctx, "subscribers:list:*")
}
