package valueobjects

import (
	"errors"
	"strings"
)

// ReactionKind is the viewer's current reaction on a target.
type ReactionKind string

const (
	ReactionNone    ReactionKind = "NONE"
	ReactionLike    ReactionKind = "LIKE"
	ReactionDislike ReactionKind = "DISLIKE"
)

// ReactionFromBool maps the wire flag isLike onto a kind
func ReactionFromBool(isLike bool) ReactionKind {
	if isLike {
		return ReactionLike
	}
	return ReactionDislike
}

// IsLike reports the wire flag for a non-NONE kind.
func (k ReactionKind) IsLike() bool {
	return k == ReactionLike
}

// TargetType is the kind of entity a reaction points at.
type TargetType string

const (
	TargetPublication TargetType = "PUBLICATION"
	TargetLibrary     TargetType = "LIBRARY"
)

// ParseTargetType accepts either the body form ("LIBRARY") or the path
// form ("library").
func ParseTargetType(s string) (TargetType, error) {
	switch TargetType(strings.ToUpper(s)) {
	case TargetPublication:
		return TargetPublication, nil
	case TargetLibrary:
		return TargetLibrary, nil
	}
	return "", errors.New("unknown reaction target type: " + s)
}

// PathSegment is the lowercase form used in /likes/{type}/{id} URLs.
func (t TargetType) PathSegment() string {
	return strings.ToLower(string(t))
}

// EntityType returns the resource the target type reacts on
func (t TargetType) EntityType() EntityType {
	if t == TargetLibrary {
		return EntityLibrary
	}
	return EntityPublication
}

// ReactionTarget addresses the aggregate of one reactable entity.
type ReactionTarget struct {
	Type TargetType
	ID   EntityID
}

// NewReactionTarget builds a target
func NewReactionTarget(t TargetType, id EntityID) ReactionTarget {
	return ReactionTarget{Type: t, ID: id}
}

func (r ReactionTarget) String() string {
	return "reaction:" + string(r.Type) + ":" + r.ID.String()
}
