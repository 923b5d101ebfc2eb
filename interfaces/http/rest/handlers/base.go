package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/application/syncengine"
	"communitysync/domain/config"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/pkg/auth"
	"communitysync/pkg/errors"
)

// SessionHeader selects the session a request acts on
const SessionHeader = "X-Session-ID"

// base carries what every handler needs to resolve a session and report
// failures.
type base struct {
	sessions   *session.Manager
	errHandler *errors.ErrorHandler
	logger     *zap.Logger
}

// session resolves the request's session and forwards the caller's token
// to it. A session opened for a viewer only serves that viewer.
func (b *base) session(r *http.Request) (*session.Session, error) {
	sess, err := b.sessions.Get(r.Context(), r.Header.Get(SessionHeader))
	if err != nil {
		return nil, err
	}
	viewer := auth.ViewerFromContext(r.Context())
	if sess.Anonymous() {
		return sess, nil
	}
	if viewer == nil || viewer.UserID != sess.ViewerID {
		return nil, errors.NewForbiddenError("session belongs to another viewer")
	}
	sess.SetToken(viewer.Token)
	return sess, nil
}

func (b *base) fail(w http.ResponseWriter, r *http.Request, err error) {
	b.errHandler.Handle(w, r, err)
}

func idParam(r *http.Request, name string) (valueobjects.EntityID, error) {
	id, err := valueobjects.ParseEntityID(chi.URLParam(r, name))
	if err != nil {
		return 0, errors.NewValidationError("Invalid " + name + ": " + err.Error())
	}
	return id, nil
}

func targetParam(r *http.Request) (valueobjects.ReactionTarget, error) {
	targetType, err := valueobjects.ParseTargetType(chi.URLParam(r, "type"))
	if err != nil {
		return valueobjects.ReactionTarget{}, errors.NewValidationError(err.Error())
	}
	id, err := idParam(r, "id")
	if err != nil {
		return valueobjects.ReactionTarget{}, err
	}
	return valueobjects.NewReactionTarget(targetType, id), nil
}

func feedSpec(c *syncengine.Coordinator, name string) (config.FeedSpec, error) {
	for _, spec := range c.Feeds() {
		if spec.Name == name {
			return spec, nil
		}
	}
	return config.FeedSpec{}, errors.UnknownFeed(name)
}

// entityJSON flattens an entity for the gateway, adding its sync state and,
// when the type carries reactions, its current counters.
func entityJSON(c *syncengine.Coordinator, e *entities.Entity, reactions valueobjects.TargetType) map[string]interface{} {
	out := e.ToMap()
	out["syncState"] = c.MutationStateOf(valueobjects.NewEntityKey(e.Type, e.ID))
	if reactions != "" {
		out["reaction"] = c.GetReaction(valueobjects.NewReactionTarget(reactions, e.ID))
	}
	return out
}

func nodeJSON(c *syncengine.Coordinator, node *entities.LibraryNode) map[string]interface{} {
	out := entityJSON(c, &node.Entity, valueobjects.TargetLibrary)
	out[entities.FieldParentNoteID] = node.ParentID
	childIDs := node.ChildIDs
	if childIDs == nil {
		childIDs = []valueobjects.EntityID{}
	}
	out["childIds"] = childIDs
	return out
}
