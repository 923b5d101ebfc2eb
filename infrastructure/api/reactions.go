package api

import (
	"context"
	"fmt"
	"net/http"

	"communitysync/application/ports"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/pkg/errors"
)

type reactBody struct {
	TargetType valueobjects.TargetType `json:"targetType"`
	TargetID   int64                   `json:"targetId"`
	IsLike     bool                    `json:"isLike"`
}

// Count fetches the like and dislike totals of a target
func (c *Client) Count(ctx context.Context, target valueobjects.ReactionTarget) (ports.ReactionCount, error) {
	body, err := c.do(ctx, request{
		op:       "reaction_count",
		method:   http.MethodGet,
		path:     likesPath(target) + "/count",
		notFound: errors.EntityNotFound(target.Type.EntityType().String(), target.ID.Int64()),
	})
	if err != nil {
		return ports.ReactionCount{}, err
	}
	count, err := c.decoder.decodeReactionCount(body)
	if err != nil {
		return ports.ReactionCount{}, errors.NewExternalError(serviceName, err).WithCode("MALFORMED_PAYLOAD")
	}
	return count, nil
}

// ViewerReaction fetches the viewer's record on target; nil when the
// viewer has not reacted.
func (c *Client) ViewerReaction(ctx context.Context, target valueobjects.ReactionTarget) (*entities.ViewerReaction, error) {
	body, err := c.do(ctx, request{
		op:        "viewer_reaction",
		method:    http.MethodGet,
		path:      likesPath(target) + "/user-like",
		missingOK: true,
	})
	if err != nil {
		return nil, err
	}
	reaction, err := c.decoder.decodeViewerReaction(body)
	if err != nil {
		return nil, errors.NewExternalError(serviceName, err).WithCode("MALFORMED_PAYLOAD")
	}
	return reaction, nil
}

// React records a like or dislike. The server replaces any previous
// reaction of the viewer on the same target.
func (c *Client) React(ctx context.Context, target valueobjects.ReactionTarget, isLike bool) (*entities.ViewerReaction, error) {
	body, err := c.do(ctx, request{
		op:     "react",
		method: http.MethodPost,
		path:   "/likes",
		body: reactBody{
			TargetType: target.Type,
			TargetID:   target.ID.Int64(),
			IsLike:     isLike,
		},
		notFound: errors.EntityNotFound(target.Type.EntityType().String(), target.ID.Int64()),
	})
	if err != nil {
		return nil, err
	}
	reaction, err := c.decoder.decodeViewerReaction(body)
	if err != nil {
		return nil, errors.NewExternalError(serviceName, err).WithCode("MALFORMED_PAYLOAD")
	}
	return reaction, nil
}

// RemoveReaction deletes a reaction record. A record already gone counts
// as removed.
func (c *Client) RemoveReaction(ctx context.Context, reactionID valueobjects.EntityID) error {
	_, err := c.do(ctx, request{
		op:        "remove_reaction",
		method:    http.MethodDelete,
		path:      fmt.Sprintf("/likes/%d", reactionID.Int64()),
		missingOK: true,
	})
	return err
}

func likesPath(target valueobjects.ReactionTarget) string {
	return "/likes/" + target.Type.PathSegment() + "/" + target.ID.String()
}
