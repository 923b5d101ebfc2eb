package syncengine

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/domain/config"
	"communitysync/domain/core/aggregates"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
	"communitysync/pkg/errors"
)

// SearchFilter is the query parameter carrying free-text search
const SearchFilter = "search"

// FeedPage describes the outcome of a LoadFeed call
type FeedPage struct {
	Feed       string                  `json:"feed"`
	Offset     int                     `json:"offset"`
	Added      []valueobjects.EntityID `json:"added"`
	Cursor     aggregates.Cursor       `json:"cursor"`
	Generation uint64                  `json:"generation"`
	// Coalesced is true when the caller joined a request already in flight.
	Coalesced bool `json:"coalesced"`
	// Duplicate is true when the page's offset had already been applied.
	Duplicate bool `json:"duplicate"`
}

// LoadFeed fetches the next page of a feed. Concurrent loads of the same
// feed generation share one request. Filters that differ from the feed's
// current ones reset it first; nil filters keep the current ones. A page
// that arrives after a reset is discarded with a StaleFeed error.
func (c *Coordinator) LoadFeed(ctx context.Context, name string, filters aggregates.Filters) (*FeedPage, error) {
	spec, ok := c.specs[name]
	if !ok {
		return nil, errors.UnknownFeed(name)
	}

	c.mu.Lock()
	feed := c.feeds[name]
	var resetEvent events.DomainEvent
	if filters != nil && !filters.Equal(feed.Filters()) {
		resetEvent = c.resetFeedLocked(feed, filters)
	}
	gen := feed.Generation()
	cursor := feed.Cursor()
	active := feed.Filters()
	c.mu.Unlock()

	if resetEvent != nil {
		c.publish(ctx, resetEvent)
	}
	if cursor.Exhausted {
		return &FeedPage{Feed: name, Offset: cursor.Offset, Cursor: cursor, Generation: gen}, nil
	}

	start := c.now()
	key := name + "#" + strconv.FormatUint(gen, 10) + "#" + strconv.Itoa(cursor.Offset)
	ch := c.loads.DoChan(key, func() (interface{}, error) {
		// The shared request outlives any single caller's cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		defer cancel()
		return c.fetchPage(fetchCtx, spec, gen, cursor.Offset, active)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		c.metrics.RecordFeedLoad(ctx, name, res.Shared, c.now().Sub(start))
		if res.Err != nil {
			return nil, res.Err
		}
		page := *res.Val.(*FeedPage)
		page.Coalesced = res.Shared
		return &page, nil
	}
}

// SearchFeed reloads a feed with a free-text query. An empty query clears
// the search.
func (c *Coordinator) SearchFeed(ctx context.Context, name, query string) (*FeedPage, error) {
	c.mu.Lock()
	feed, ok := c.feeds[name]
	if !ok {
		c.mu.Unlock()
		return nil, errors.UnknownFeed(name)
	}
	filters := feed.Filters()
	c.mu.Unlock()

	if query == "" {
		delete(filters, SearchFilter)
	} else {
		filters[SearchFilter] = query
	}
	return c.LoadFeed(ctx, name, filters)
}

// ResetFeed clears a feed and invalidates loads in flight
func (c *Coordinator) ResetFeed(ctx context.Context, name string) error {
	c.mu.Lock()
	feed, ok := c.feeds[name]
	if !ok {
		c.mu.Unlock()
		return errors.UnknownFeed(name)
	}
	evt := c.resetFeedLocked(feed, feed.Filters())
	c.mu.Unlock()

	c.publish(ctx, evt)
	return nil
}

func (c *Coordinator) resetFeedLocked(feed *aggregates.Feed, filters aggregates.Filters) events.DomainEvent {
	feed.Reset(filters)
	c.logger.Debug("Feed reset",
		zap.String("feed", feed.Name()),
		zap.Uint64("generation", feed.Generation()),
	)
	return events.NewFeedReset(c.sessionID, feed.Name(), feed.Generation(), c.now())
}

func (c *Coordinator) fetchPage(ctx context.Context, spec config.FeedSpec, gen uint64, offset int, filters aggregates.Filters) (*FeedPage, error) {
	result, err := c.api.List(ctx, spec.Resource, ports.ListQuery{
		Limit:   spec.PageSize,
		Offset:  offset,
		Filters: filters,
	})
	if err != nil {
		return nil, fmt.Errorf("load feed %s at offset %d: %w", spec.Name, offset, err)
	}

	c.mu.Lock()
	feed := c.feeds[spec.Name]
	if current := feed.Generation(); current != gen {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale feed page",
			zap.String("feed", spec.Name),
			zap.Uint64("requested_generation", gen),
			zap.Uint64("current_generation", current),
		)
		return nil, errors.StaleFeed(spec.Name, gen, current)
	}
	ids := c.ingestLocked(spec.Resource, result.Items)
	applied := feed.AppendPage(offset, ids, spec.PageSize)
	if result.Total >= 0 {
		feed.SetTotal(result.Total)
	}
	page := &FeedPage{
		Feed:       spec.Name,
		Offset:     offset,
		Added:      applied.Added,
		Cursor:     feed.Cursor(),
		Generation: gen,
		Duplicate:  applied.Duplicate,
	}
	c.mu.Unlock()

	c.publish(ctx, events.NewFeedPageApplied(c.sessionID, spec.Name, offset, len(applied.Added), page.Cursor.Exhausted, gen, c.now()))

	if spec.HasReactions() && c.cfg.RefreshReactionsOnLoad && len(ids) > 0 {
		targets := make([]valueobjects.ReactionTarget, len(ids))
		for i, id := range ids {
			targets[i] = valueobjects.NewReactionTarget(spec.ReactionTarget, id)
		}
		if err := c.RefreshReactions(ctx, targets); err != nil {
			c.logger.Warn("Reaction refresh after page load failed",
				zap.String("feed", spec.Name),
				zap.Error(err),
			)
		}
	}
	return page, nil
}

// ingestLocked merges decoded records into the store and, for library
// items, the tree. Entities with a mutation in flight keep their optimistic
// value; the mutation's settle reconciles them.
func (c *Coordinator) ingestLocked(resource valueobjects.EntityType, records []entities.Record) []valueobjects.EntityID {
	ids := make([]valueobjects.EntityID, 0, len(records))
	for _, rec := range records {
		if rec.Entity == nil {
			continue
		}
		ids = append(ids, rec.Entity.ID)
		if c.pendingLocked(rec.Entity.Key()) {
			continue
		}
		c.store.Upsert(rec.Entity)
		if resource == valueobjects.EntityLibrary {
			c.ingestHierarchyLocked(rec)
		}
	}
	return ids
}

func (c *Coordinator) ingestHierarchyLocked(rec entities.Record) {
	id := rec.Entity.ID
	switch {
	case rec.ParentKnown:
		c.tree.Attach(id, rec.ParentID)
	default:
		if _, attached := c.tree.ParentOf(id); !attached {
			c.tree.Attach(id, nil)
		}
	}

	if rec.Children == nil {
		return
	}
	listed := make(map[valueobjects.EntityID]struct{}, len(rec.Children))
	for _, child := range rec.Children {
		listed[child.ID] = struct{}{}
		if c.pendingLocked(child.Key()) {
			continue
		}
		c.store.Upsert(child)
		parent := id
		c.tree.Attach(child.ID, &parent)
	}
	// The embedded list is authoritative for confirmed children.
	for _, existing := range c.tree.ChildrenOf(id) {
		if _, ok := listed[existing]; ok || existing.IsTemporary() {
			continue
		}
		if c.pendingLocked(valueobjects.NewEntityKey(valueobjects.EntityLibrary, existing)) {
			continue
		}
		c.tree.Detach(existing)
	}
}

func (c *Coordinator) pendingLocked(key valueobjects.EntityKey) bool {
	return c.states[key] == StateOptimisticPending
}
