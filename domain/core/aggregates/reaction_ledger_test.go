package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
)

var target = valueobjects.NewReactionTarget(valueobjects.TargetPublication, 10)

func TestReactionLedger_ToggleTransitions(t *testing.T) {
	like, dislike, none := valueobjects.ReactionLike, valueobjects.ReactionDislike, valueobjects.ReactionNone

	tests := []struct {
		name        string
		start       entities.ReactionState
		desired     valueobjects.ReactionKind
		want        entities.ReactionState
		wantRemoval bool
	}{
		{
			name:    "none to like",
			start:   entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: none},
			desired: like,
			want:    entities.ReactionState{Likes: 4, Dislikes: 1, Viewer: like},
		},
		{
			name:        "like to like removes",
			start:       entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: like},
			desired:     like,
			want:        entities.ReactionState{Likes: 2, Dislikes: 1, Viewer: none},
			wantRemoval: true,
		},
		{
			name:    "like to dislike",
			start:   entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: like},
			desired: dislike,
			want:    entities.ReactionState{Likes: 2, Dislikes: 2, Viewer: dislike},
		},
		{
			name:    "none to dislike",
			start:   entities.ReactionState{Likes: 0, Dislikes: 0, Viewer: none},
			desired: dislike,
			want:    entities.ReactionState{Likes: 0, Dislikes: 1, Viewer: dislike},
		},
		{
			name:        "dislike to dislike removes",
			start:       entities.ReactionState{Likes: 0, Dislikes: 1, Viewer: dislike},
			desired:     dislike,
			want:        entities.ReactionState{Likes: 0, Dislikes: 0, Viewer: none},
			wantRemoval: true,
		},
		{
			name:    "dislike to like",
			start:   entities.ReactionState{Likes: 5, Dislikes: 2, Viewer: dislike},
			desired: like,
			want:    entities.ReactionState{Likes: 6, Dislikes: 1, Viewer: like},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewReactionLedger()
			ledger.Reconcile(target, tt.start)

			res := ledger.Toggle(target, tt.desired)

			assert.Equal(t, tt.want, res.Current)
			assert.Equal(t, tt.want, ledger.Get(target))
			assert.Equal(t, tt.start, res.Previous)
			assert.Equal(t, tt.wantRemoval, res.Removal)
			assert.False(t, res.Clamped)
			assert.False(t, ledger.NeedsReconcile(target))
		})
	}
}

func TestReactionLedger_ClampsAtZeroAndFlags(t *testing.T) {
	// Arrange: server says zero likes but the viewer is marked as liking
	ledger := NewReactionLedger()
	ledger.Reconcile(target, entities.ReactionState{Likes: 0, Dislikes: 0, Viewer: valueobjects.ReactionLike})

	// Act
	res := ledger.Toggle(target, valueobjects.ReactionLike)

	// Assert
	assert.True(t, res.Clamped)
	assert.Equal(t, 0, res.Current.Likes)
	assert.Equal(t, valueobjects.ReactionNone, res.Current.Viewer)
	assert.True(t, ledger.NeedsReconcile(target))
	assert.Equal(t, []valueobjects.ReactionTarget{target}, ledger.PendingReconcile())
}

func TestReactionLedger_ReconcileOverwritesAndClearsFlag(t *testing.T) {
	ledger := NewReactionLedger()
	ledger.Reconcile(target, entities.ReactionState{Viewer: valueobjects.ReactionLike})
	ledger.Toggle(target, valueobjects.ReactionLike)

	authoritative := entities.ReactionState{Likes: 9, Dislikes: 4, Viewer: valueobjects.ReactionNone}
	ledger.Reconcile(target, authoritative)

	assert.Equal(t, authoritative, ledger.Get(target))
	assert.False(t, ledger.NeedsReconcile(target))
	baseline, ok := ledger.Baseline(target)
	assert.True(t, ok)
	assert.Equal(t, authoritative, baseline)
}

func TestReactionLedger_RevertToBaseline(t *testing.T) {
	ledger := NewReactionLedger()
	confirmed := entities.ReactionState{Likes: 2, Viewer: valueobjects.ReactionNone}
	ledger.Reconcile(target, confirmed)
	res := ledger.Toggle(target, valueobjects.ReactionLike)

	got := ledger.RevertToBaseline(target, res.Previous)

	assert.Equal(t, confirmed, got)
	assert.Equal(t, confirmed, ledger.Get(target))
}

func TestReactionLedger_SeedBaselineKeepsLiveState(t *testing.T) {
	ledger := NewReactionLedger()
	live := entities.ReactionState{Likes: 1, Viewer: valueobjects.ReactionLike}
	ledger.Reconcile(target, live)

	ledger.SeedBaseline(target, entities.ReactionState{Likes: 0, Viewer: valueobjects.ReactionNone})

	assert.Equal(t, live, ledger.Get(target))
	other := valueobjects.NewReactionTarget(valueobjects.TargetLibrary, 3)
	seeded := entities.ReactionState{Likes: 5, Viewer: valueobjects.ReactionNone}
	ledger.SeedBaseline(other, seeded)
	assert.Equal(t, seeded, ledger.Get(other))
}

func TestReactionLedger_UnknownTargetIsEmpty(t *testing.T) {
	ledger := NewReactionLedger()

	state := ledger.Get(target)

	assert.Equal(t, entities.NewReactionState(), state)
	assert.False(t, ledger.Known(target))
}

func TestReactionLedger_DoubleToggleRestoresCounts(t *testing.T) {
	tests := []struct {
		name    string
		start   entities.ReactionState
		desired valueobjects.ReactionKind
	}{
		{name: "like from none", start: entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: valueobjects.ReactionNone}, desired: valueobjects.ReactionLike},
		{name: "dislike from none", start: entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: valueobjects.ReactionNone}, desired: valueobjects.ReactionDislike},
		{name: "like from like", start: entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: valueobjects.ReactionLike}, desired: valueobjects.ReactionLike},
		{name: "like from dislike", start: entities.ReactionState{Likes: 3, Dislikes: 1, Viewer: valueobjects.ReactionDislike}, desired: valueobjects.ReactionLike},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			ledger := NewReactionLedger()
			ledger.Reconcile(target, tt.start)

			// Act
			first := ledger.Toggle(target, tt.desired)
			second := ledger.Toggle(target, tt.desired)

			// Assert: the second press undoes the first on both counters
			assert.NotEqual(t, first.Removal, second.Removal)
			got := ledger.Get(target)
			if tt.start.Viewer == valueobjects.ReactionNone || tt.start.Viewer == tt.desired {
				assert.Equal(t, tt.start, got)
			} else {
				// A crossed vote is withdrawn, not restored
				assert.Equal(t, entities.ReactionState{Likes: 3, Dislikes: 0, Viewer: valueobjects.ReactionNone}, got)
			}
			assert.False(t, ledger.NeedsReconcile(target))
		})
	}
}
