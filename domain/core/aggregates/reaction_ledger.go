package aggregates

import (
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
)

// ToggleResult describes an optimistic reaction transition.
type ToggleResult struct {
	Target   valueobjects.ReactionTarget
	Desired  valueobjects.ReactionKind
	Previous entities.ReactionState
	Current  entities.ReactionState
	// Removal is true when the viewer pressed the reaction they already had.
	Removal bool
	// Clamped is true when a counter would have gone negative; the target
	// is then flagged for forced reconciliation.
	Clamped bool
}

// ReactionLedger holds reaction aggregates and the last server-confirmed
// value of each target. Not safe for concurrent use.
type ReactionLedger struct {
	states         map[valueobjects.ReactionTarget]entities.ReactionState
	baselines      map[valueobjects.ReactionTarget]entities.ReactionState
	needsReconcile map[valueobjects.ReactionTarget]bool
}

// NewReactionLedger creates an empty ledger
func NewReactionLedger() *ReactionLedger {
	return &ReactionLedger{
		states:         make(map[valueobjects.ReactionTarget]entities.ReactionState),
		baselines:      make(map[valueobjects.ReactionTarget]entities.ReactionState),
		needsReconcile: make(map[valueobjects.ReactionTarget]bool),
	}
}

// Get returns the current aggregate, empty when the target is unknown.
func (l *ReactionLedger) Get(target valueobjects.ReactionTarget) entities.ReactionState {
	if s, ok := l.states[target]; ok {
		return s
	}
	return entities.NewReactionState()
}

// Known reports whether the target has an aggregate
func (l *ReactionLedger) Known(target valueobjects.ReactionTarget) bool {
	_, ok := l.states[target]
	return ok
}

// Toggle applies the viewer pressing desired (LIKE or DISLIKE):
//
//	NONE    -> desired: desired count +1
//	desired -> desired: desired count -1, viewer NONE
//	other   -> desired: other count -1, desired count +1
//
// Counters never go below zero; a clamp flags the target.
func (l *ReactionLedger) Toggle(target valueobjects.ReactionTarget, desired valueobjects.ReactionKind) ToggleResult {
	prev := l.Get(target)
	next := prev
	res := ToggleResult{Target: target, Desired: desired, Previous: prev}

	switch prev.Viewer {
	case desired:
		res.Clamped = decrement(&next, desired)
		next.Viewer = valueobjects.ReactionNone
		res.Removal = true
	case valueobjects.ReactionNone:
		increment(&next, desired)
		next.Viewer = desired
	default:
		res.Clamped = decrement(&next, prev.Viewer)
		increment(&next, desired)
		next.Viewer = desired
	}
	// The server assigns a new record id on every POST.
	next.ViewerReactionID = nil

	if res.Clamped {
		l.needsReconcile[target] = true
	}
	l.states[target] = next
	res.Current = next
	return res
}

// Reconcile overwrites the aggregate with an authoritative value, clears
// the forced-reconcile flag and records the value as the target's baseline.
func (l *ReactionLedger) Reconcile(target valueobjects.ReactionTarget, authoritative entities.ReactionState) {
	if authoritative.Viewer == "" {
		authoritative.Viewer = valueobjects.ReactionNone
	}
	l.states[target] = authoritative
	l.baselines[target] = authoritative
	delete(l.needsReconcile, target)
}

// RevertToBaseline restores the last confirmed value. Targets without a
// baseline fall back to the pre-toggle state.
func (l *ReactionLedger) RevertToBaseline(target valueobjects.ReactionTarget, fallback entities.ReactionState) entities.ReactionState {
	state, ok := l.baselines[target]
	if !ok {
		state = fallback
	}
	l.states[target] = state
	delete(l.needsReconcile, target)
	return state
}

// NeedsReconcile reports whether a clamp or an unconfirmed write left the
// target's counters untrustworthy.
func (l *ReactionLedger) NeedsReconcile(target valueobjects.ReactionTarget) bool {
	return l.needsReconcile[target]
}

// MarkNeedsReconcile flags a target whose write succeeded but whose
// aggregate could not be refetched.
func (l *ReactionLedger) MarkNeedsReconcile(target valueobjects.ReactionTarget) {
	l.needsReconcile[target] = true
}

// PendingReconcile lists the flagged targets
func (l *ReactionLedger) PendingReconcile() []valueobjects.ReactionTarget {
	out := make([]valueobjects.ReactionTarget, 0, len(l.needsReconcile))
	for t := range l.needsReconcile {
		out = append(out, t)
	}
	return out
}

// Baseline returns the last confirmed value of a target
func (l *ReactionLedger) Baseline(target valueobjects.ReactionTarget) (entities.ReactionState, bool) {
	s, ok := l.baselines[target]
	return s, ok
}

// SeedBaseline installs a persisted baseline. The live aggregate is only
// initialized when the target has none yet.
func (l *ReactionLedger) SeedBaseline(target valueobjects.ReactionTarget, state entities.ReactionState) {
	l.baselines[target] = state
	if _, ok := l.states[target]; !ok {
		l.states[target] = state
	}
}

// Baselines returns a copy of all confirmed values
func (l *ReactionLedger) Baselines() map[valueobjects.ReactionTarget]entities.ReactionState {
	out := make(map[valueobjects.ReactionTarget]entities.ReactionState, len(l.baselines))
	for k, v := range l.baselines {
		out[k] = v
	}
	return out
}

// Forget drops every record of a target, used when its entity is deleted.
func (l *ReactionLedger) Forget(target valueobjects.ReactionTarget) {
	delete(l.states, target)
	delete(l.baselines, target)
	delete(l.needsReconcile, target)
}

func increment(s *entities.ReactionState, kind valueobjects.ReactionKind) {
	if kind == valueobjects.ReactionLike {
		s.Likes++
	} else {
		s.Dislikes++
	}
}

func decrement(s *entities.ReactionState, kind valueobjects.ReactionKind) (clamped bool) {
	counter := &s.Dislikes
	if kind == valueobjects.ReactionLike {
		counter = &s.Likes
	}
	if *counter <= 0 {
		*counter = 0
		return true
	}
	*counter--
	return false
}
