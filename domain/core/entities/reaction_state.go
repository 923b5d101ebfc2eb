package entities

import "communitysync/domain/core/valueobjects"

// ReactionState is the aggregate of one reaction target as the viewer sees it.
type ReactionState struct {
	Likes    int                       `json:"likes"`
	Dislikes int                       `json:"dislikes"`
	Viewer   valueobjects.ReactionKind `json:"viewer"`
	// ViewerReactionID is the server id of the viewer's reaction record,
	// needed to remove it. Nil when unknown or when Viewer is NONE.
	ViewerReactionID *valueobjects.EntityID `json:"viewerReactionId,omitempty"`
}

// NewReactionState returns an empty aggregate
func NewReactionState() ReactionState {
	return ReactionState{Viewer: valueobjects.ReactionNone}
}

// ViewerReaction is the viewer's own reaction record on the server.
type ViewerReaction struct {
	ID     valueobjects.EntityID
	IsLike bool
}

// ReactionFromServer combines the count endpoint with the viewer's record.
func ReactionFromServer(likes, dislikes int, viewer *ViewerReaction) ReactionState {
	state := ReactionState{Likes: likes, Dislikes: dislikes, Viewer: valueobjects.ReactionNone}
	if viewer != nil {
		id := viewer.ID
		state.Viewer = valueobjects.ReactionFromBool(viewer.IsLike)
		state.ViewerReactionID = &id
	}
	return state
}
