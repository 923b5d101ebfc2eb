package events

import (
	"time"

	"communitysync/domain/core/valueobjects"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	SessionID   string    `json:"session_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Event type names
const (
	TypeFeedPageApplied    = "feed.page_applied"
	TypeFeedReset          = "feed.reset"
	TypeMutationApplied    = "mutation.applied"
	TypeMutationConfirmed  = "mutation.confirmed"
	TypeMutationRolledBack = "mutation.rolled_back"
	TypeReactionReconciled = "reaction.reconciled"
)

// MutationKind names an optimistic write
type MutationKind string

const (
	MutationCreate   MutationKind = "create"
	MutationUpdate   MutationKind = "update"
	MutationDelete   MutationKind = "delete"
	MutationReaction MutationKind = "reaction"
)

// Feed Events

// FeedPageApplied is raised when a server page is merged into a feed
type FeedPageApplied struct {
	BaseEvent
	Feed       string `json:"feed"`
	Offset     int    `json:"offset"`
	Added      int    `json:"added"`
	Exhausted  bool   `json:"exhausted"`
	Generation uint64 `json:"generation"`
}

// NewFeedPageApplied creates a FeedPageApplied event
func NewFeedPageApplied(sessionID, feed string, offset, added int, exhausted bool, generation uint64, timestamp time.Time) FeedPageApplied {
	return FeedPageApplied{
		BaseEvent: BaseEvent{
			AggregateID: "feed:" + feed,
			EventType:   TypeFeedPageApplied,
			SessionID:   sessionID,
			Timestamp:   timestamp,
			Version:     1,
		},
		Feed:       feed,
		Offset:     offset,
		Added:      added,
		Exhausted:  exhausted,
		Generation: generation,
	}
}

// FeedReset is raised when a feed is cleared, usually after a filter change
type FeedReset struct {
	BaseEvent
	Feed       string `json:"feed"`
	Generation uint64 `json:"generation"`
}

// NewFeedReset creates a FeedReset event
func NewFeedReset(sessionID, feed string, generation uint64, timestamp time.Time) FeedReset {
	return FeedReset{
		BaseEvent: BaseEvent{
			AggregateID: "feed:" + feed,
			EventType:   TypeFeedReset,
			SessionID:   sessionID,
			Timestamp:   timestamp,
			Version:     1,
		},
		Feed:       feed,
		Generation: generation,
	}
}

// Mutation Events

// MutationEvent records one step of an optimistic mutation's lifecycle:
// applied locally, confirmed by the server, or rolled back.
type MutationEvent struct {
	BaseEvent
	Kind        MutationKind `json:"kind"`
	EntityType  string       `json:"entity_type"`
	EntityID    int64        `json:"entity_id"`
	ConfirmedID int64        `json:"confirmed_id,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

func newMutationEvent(eventType, sessionID string, kind MutationKind, key valueobjects.EntityKey, timestamp time.Time) MutationEvent {
	return MutationEvent{
		BaseEvent: BaseEvent{
			AggregateID: key.String(),
			EventType:   eventType,
			SessionID:   sessionID,
			Timestamp:   timestamp,
			Version:     1,
		},
		Kind:       kind,
		EntityType: string(key.Type),
		EntityID:   key.ID.Int64(),
	}
}

// NewMutationApplied creates the event for an optimistic local write
func NewMutationApplied(sessionID string, kind MutationKind, key valueobjects.EntityKey, timestamp time.Time) MutationEvent {
	return newMutationEvent(TypeMutationApplied, sessionID, kind, key, timestamp)
}

// NewMutationConfirmed creates the event for a server-acknowledged write.
// confirmedID differs from the key's id when a temporary id was replaced.
func NewMutationConfirmed(sessionID string, kind MutationKind, key valueobjects.EntityKey, confirmedID valueobjects.EntityID, timestamp time.Time) MutationEvent {
	e := newMutationEvent(TypeMutationConfirmed, sessionID, kind, key, timestamp)
	e.ConfirmedID = confirmedID.Int64()
	return e
}

// NewMutationRolledBack creates the event for a reverted write
func NewMutationRolledBack(sessionID string, kind MutationKind, key valueobjects.EntityKey, reason string, timestamp time.Time) MutationEvent {
	e := newMutationEvent(TypeMutationRolledBack, sessionID, kind, key, timestamp)
	e.Reason = reason
	return e
}

// Reaction Events

// ReactionReconciled is raised when a reaction aggregate is overwritten
// with server data
type ReactionReconciled struct {
	BaseEvent
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
	Likes      int    `json:"likes"`
	Dislikes   int    `json:"dislikes"`
	Viewer     string `json:"viewer"`
}

// NewReactionReconciled creates a ReactionReconciled event
func NewReactionReconciled(sessionID string, target valueobjects.ReactionTarget, likes, dislikes int, viewer valueobjects.ReactionKind, timestamp time.Time) ReactionReconciled {
	return ReactionReconciled{
		BaseEvent: BaseEvent{
			AggregateID: target.String(),
			EventType:   TypeReactionReconciled,
			SessionID:   sessionID,
			Timestamp:   timestamp,
			Version:     1,
		},
		TargetType: string(target.Type),
		TargetID:   target.ID.Int64(),
		Likes:      likes,
		Dislikes:   dislikes,
		Viewer:     string(viewer),
	}
}
