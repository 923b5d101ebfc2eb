package ports

import (
	"context"
	"time"

	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
)

// ListQuery selects one page of a resource
type ListQuery struct {
	Limit   int
	Offset  int
	Filters map[string]string
}

// ListResult is one page as returned by the remote API
type ListResult struct {
	Items []entities.Record
	// Total is the server-reported count, -1 when the response had none.
	Total int
}

// ResourceClient reads and writes remote entities.
// This is a port in hexagonal architecture - the sync engine doesn't know about the transport
type ResourceClient interface {
	// List fetches a page of a resource
	List(ctx context.Context, resource valueobjects.EntityType, query ListQuery) (*ListResult, error)

	// Get fetches one entity, with embedded children for library notes
	Get(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID) (*entities.Record, error)

	// Create posts a new entity and returns the confirmed record
	Create(ctx context.Context, resource valueobjects.EntityType, payload map[string]interface{}) (*entities.Record, error)

	// Update patches an entity and returns the confirmed record
	Update(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID, payload map[string]interface{}) (*entities.Record, error)

	// Delete removes an entity
	Delete(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID) error
}

// ReactionCount is the aggregate returned by the count endpoint
type ReactionCount struct {
	Likes    int `json:"likes" validate:"gte=0"`
	Dislikes int `json:"dislikes" validate:"gte=0"`
}

// ReactionClient reads and writes likes and dislikes
type ReactionClient interface {
	// Count fetches the aggregate counters of a target
	Count(ctx context.Context, target valueobjects.ReactionTarget) (ReactionCount, error)

	// ViewerReaction fetches the viewer's own record, nil when none
	ViewerReaction(ctx context.Context, target valueobjects.ReactionTarget) (*entities.ViewerReaction, error)

	// React records a like or dislike, replacing any previous one server-side
	React(ctx context.Context, target valueobjects.ReactionTarget, isLike bool) (*entities.ViewerReaction, error)

	// RemoveReaction deletes the viewer's record by its id
	RemoveReaction(ctx context.Context, reactionID valueobjects.EntityID) error
}

// RemoteAPI is the full remote collaborator of a session
type RemoteAPI interface {
	ResourceClient
	ReactionClient
}

// TokenSource supplies the bearer token attached to remote calls
type TokenSource interface {
	// Token returns the current token, "" for anonymous access
	Token(ctx context.Context) (string, error)

	// Refresh obtains a new token after the server rejected the current one
	Refresh(ctx context.Context) (string, error)
}

// SnapshotStore persists the last server-confirmed reaction aggregates of a
// viewer so a new session starts from a known-good baseline
type SnapshotStore interface {
	// LoadBaselines returns every stored baseline of the viewer
	LoadBaselines(ctx context.Context, viewerID string) (map[valueobjects.ReactionTarget]entities.ReactionState, error)

	// SaveBaseline upserts one baseline
	SaveBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget, state entities.ReactionState) error

	// DeleteBaseline drops the baseline of a deleted target
	DeleteBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// EventBus defines the interface for publishing domain events
type EventBus interface {
	EventPublisher

	// Subscribe registers a handler for an event type
	Subscribe(eventType string, handler EventHandler) error

	// Unsubscribe removes a handler
	Unsubscribe(eventType string, handler EventHandler) error
}

// EventHandler defines the interface for handling domain events
type EventHandler interface {
	// Handle processes an event
	Handle(ctx context.Context, event events.DomainEvent) error

	// CanHandle checks if this handler can process the event
	CanHandle(eventType string) bool
}

// MetricsRecorder receives sync outcome measurements
type MetricsRecorder interface {
	RecordMutation(ctx context.Context, kind string, outcome string, duration time.Duration)
	RecordFeedLoad(ctx context.Context, feed string, coalesced bool, duration time.Duration)
	RecordConsistencyWarning(ctx context.Context, kind string)
}

// Cache defines the interface for caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL in seconds
	Set(ctx context.Context, key string, value interface{}, ttl int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from cache
	Clear(ctx context.Context) error
}
