package syncengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"communitysync/application/ports"
	"communitysync/domain/config"
	"communitysync/domain/core/aggregates"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/validators"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
	"communitysync/pkg/errors"
)

// MutationState is the lifecycle position of an entity's latest mutation.
type MutationState string

const (
	StateClean             MutationState = "CLEAN"
	StateOptimisticPending MutationState = "OPTIMISTIC_PENDING"
	StateRolledBack        MutationState = "ROLLED_BACK"
)

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSession binds the coordinator to a session and its viewer. An empty
// viewerID means anonymous: reads work, every mutation is refused.
func WithSession(sessionID, viewerID string) Option {
	return func(c *Coordinator) {
		c.sessionID = sessionID
		c.viewerID = viewerID
	}
}

// WithEventPublisher publishes sync lifecycle events
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithSnapshotStore persists confirmed reaction baselines
func WithSnapshotStore(s ports.SnapshotStore) Option {
	return func(c *Coordinator) { c.snapshots = s }
}

// WithMetrics records sync outcomes
func WithMetrics(m ports.MetricsRecorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator owns one session's view of the remote entity graph: entity
// cache, library tree, reaction ledger and feeds. All state is guarded by
// mu and the lock is never held across a remote call. Mutations on the same
// entity run one at a time in arrival order.
type Coordinator struct {
	sessionID string
	viewerID  string

	cfg       *config.DomainConfig
	api       ports.RemoteAPI
	publisher ports.EventPublisher
	snapshots ports.SnapshotStore
	metrics   ports.MetricsRecorder
	validator *validators.LibraryDraftValidator
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	store  *aggregates.EntityStore
	tree   *aggregates.TreeIndex
	ledger *aggregates.ReactionLedger
	feeds  map[string]*aggregates.Feed
	specs  map[string]config.FeedSpec
	states map[valueobjects.EntityKey]MutationState
	nav    navigation

	// reactionEpochs counts local writes per target so a refresh fetched
	// before a toggle cannot overwrite it.
	reactionEpochs map[valueobjects.ReactionTarget]uint64

	loads singleflight.Group
	lanes *laneSet
}

// NewCoordinator creates a coordinator with one feed per configured spec
func NewCoordinator(cfg *config.DomainConfig, api ports.RemoteAPI, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:       cfg,
		api:       api,
		validator: validators.NewLibraryDraftValidator(cfg),
		now:       time.Now,
		feeds:     make(map[string]*aggregates.Feed, len(cfg.Feeds)),
		specs:     make(map[string]config.FeedSpec, len(cfg.Feeds)),
		states:    make(map[valueobjects.EntityKey]MutationState),
		ledger:    aggregates.NewReactionLedger(),
		lanes:     newLaneSet(cfg.MaxQueuedMutationsPerEntity),

		reactionEpochs: make(map[valueobjects.ReactionTarget]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	c.logger = logger.With(zap.String("sessionID", c.sessionID))

	c.store = aggregates.NewEntityStore()
	c.tree = aggregates.NewTreeIndex(c.store, cfg.MaxTreeDepth, c.logger)
	c.store.RegisterReferenceHolder(c.tree)
	for _, spec := range cfg.Feeds {
		feed := aggregates.NewFeed(spec.Name, spec.Resource, spec.PageSize)
		c.feeds[spec.Name] = feed
		c.specs[spec.Name] = spec
		c.store.RegisterReferenceHolder(feed)
	}
	return c
}

// SessionID returns the session the coordinator serves
func (c *Coordinator) SessionID() string { return c.sessionID }

// ViewerID returns the authenticated viewer, "" when anonymous
func (c *Coordinator) ViewerID() string { return c.viewerID }

func (c *Coordinator) authenticated() bool { return c.viewerID != "" }

// FeedView is a read-only snapshot of a feed
type FeedView struct {
	Name       string             `json:"name"`
	Items      []*entities.Entity `json:"-"`
	Cursor     aggregates.Cursor  `json:"cursor"`
	Generation uint64             `json:"generation"`
	Total      int                `json:"total"`
	Filters    aggregates.Filters `json:"filters"`
}

// GetFeed resolves a feed's ids through the store, in feed order.
func (c *Coordinator) GetFeed(name string) (*FeedView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	feed, ok := c.feeds[name]
	if !ok {
		return nil, errors.UnknownFeed(name)
	}
	view := &FeedView{
		Name:       name,
		Cursor:     feed.Cursor(),
		Generation: feed.Generation(),
		Total:      feed.Total(),
		Filters:    feed.Filters(),
	}
	for _, id := range feed.IDs() {
		e, found := c.store.Get(feed.EntityType(), id)
		if !found {
			c.logger.Warn("Feed references an entity missing from the store",
				zap.String("feed", name),
				zap.Int64("id", id.Int64()),
			)
			c.metrics.RecordConsistencyWarning(context.Background(), "feed_dangling_id")
			continue
		}
		view.Items = append(view.Items, e)
	}
	return view, nil
}

// GetNode returns a library node with its hierarchy resolved
func (c *Coordinator) GetNode(id valueobjects.EntityID) (*entities.LibraryNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeViewLocked(id)
}

func (c *Coordinator) nodeViewLocked(id valueobjects.EntityID) (*entities.LibraryNode, bool) {
	e, ok := c.store.Get(valueobjects.EntityLibrary, id)
	if !ok {
		return nil, false
	}
	parent, _ := c.tree.ParentOf(id)
	return &entities.LibraryNode{
		Entity:   *e,
		ParentID: parent,
		ChildIDs: c.tree.ChildrenOf(id),
	}, true
}

// GetReaction returns the current aggregate of a target
func (c *Coordinator) GetReaction(target valueobjects.ReactionTarget) entities.ReactionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Get(target)
}

// ReactionNeedsReconcile reports whether the target's counters await a
// forced refresh
func (c *Coordinator) ReactionNeedsReconcile(target valueobjects.ReactionTarget) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.NeedsReconcile(target)
}

// MutationStateOf returns the mutation state of an entity, Clean when it
// was never mutated
func (c *Coordinator) MutationStateOf(key valueobjects.EntityKey) MutationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[key]; ok {
		return s
	}
	return StateClean
}

// Feeds lists the registered feed specs
func (c *Coordinator) Feeds() []config.FeedSpec {
	return append([]config.FeedSpec(nil), c.cfg.Feeds...)
}

func (c *Coordinator) publish(ctx context.Context, evts ...events.DomainEvent) {
	if c.publisher == nil || len(evts) == 0 {
		return
	}
	var err error
	if len(evts) == 1 {
		err = c.publisher.Publish(ctx, evts[0])
	} else {
		err = c.publisher.PublishBatch(ctx, evts)
	}
	if err != nil {
		c.logger.Warn("Failed to publish sync events", zap.Error(err), zap.Int("count", len(evts)))
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordMutation(context.Context, string, string, time.Duration) {}
func (nopMetrics) RecordFeedLoad(context.Context, string, bool, time.Duration)   {}
func (nopMetrics) RecordConsistencyWarning(context.Context, string)              {}
