package memory

import (
	"context"
	"sync"

	"communitysync/application/ports"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
)

// SnapshotStore keeps baselines in process memory. Used when no snapshot
// table is configured; baselines then live as long as the gateway process.
type SnapshotStore struct {
	mu        sync.RWMutex
	baselines map[string]map[valueobjects.ReactionTarget]entities.ReactionState
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{baselines: make(map[string]map[valueobjects.ReactionTarget]entities.ReactionState)}
}

// LoadBaselines returns a copy of the viewer's baselines
func (s *SnapshotStore) LoadBaselines(ctx context.Context, viewerID string) (map[valueobjects.ReactionTarget]entities.ReactionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[valueobjects.ReactionTarget]entities.ReactionState, len(s.baselines[viewerID]))
	for target, state := range s.baselines[viewerID] {
		out[target] = state
	}
	return out, nil
}

// SaveBaseline upserts one baseline
func (s *SnapshotStore) SaveBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget, state entities.ReactionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselines[viewerID] == nil {
		s.baselines[viewerID] = make(map[valueobjects.ReactionTarget]entities.ReactionState)
	}
	if state.ViewerReactionID != nil {
		id := *state.ViewerReactionID
		state.ViewerReactionID = &id
	}
	s.baselines[viewerID][target] = state
	return nil
}

// DeleteBaseline drops one baseline
func (s *SnapshotStore) DeleteBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.baselines[viewerID], target)
	return nil
}
