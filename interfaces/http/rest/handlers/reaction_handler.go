package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/pkg/common"
	"communitysync/pkg/errors"
	"communitysync/pkg/utils"
)

// ReactionHandler serves like and dislike counters
type ReactionHandler struct {
	base
}

// NewReactionHandler creates a new reaction handler
func NewReactionHandler(sessions *session.Manager, errHandler *errors.ErrorHandler, logger *zap.Logger) *ReactionHandler {
	return &ReactionHandler{base{sessions: sessions, errHandler: errHandler, logger: logger}}
}

// ToggleReactionRequest is the body of POST /reactions/{type}/{id}
type ToggleReactionRequest struct {
	IsLike *bool `json:"isLike" validate:"required"`
}

// RefreshReactionsRequest is the body of POST /reactions/refresh
type RefreshReactionsRequest struct {
	Targets []TargetRequest `json:"targets" validate:"required,min=1,max=100,dive"`
}

// TargetRequest names one reaction target
type TargetRequest struct {
	TargetType string `json:"targetType" validate:"required,oneof=PUBLICATION LIBRARY"`
	TargetID   int64  `json:"targetId" validate:"gt=0"`
}

// ReactionResponse is the state of one target
type ReactionResponse struct {
	TargetType     valueobjects.TargetType `json:"targetType"`
	TargetID       valueobjects.EntityID   `json:"targetId"`
	State          entities.ReactionState  `json:"state"`
	NeedsReconcile bool                    `json:"needsReconcile"`
}

func (h *ReactionHandler) response(sess *session.Session, target valueobjects.ReactionTarget) ReactionResponse {
	return ReactionResponse{
		TargetType:     target.Type,
		TargetID:       target.ID,
		State:          sess.Coordinator.GetReaction(target),
		NeedsReconcile: sess.Coordinator.ReactionNeedsReconcile(target),
	}
}

// GetReaction handles GET /reactions/{type}/{id}
func (h *ReactionHandler) GetReaction(w http.ResponseWriter, r *http.Request) {
	target, err := targetParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, h.response(sess, target))
}

// ToggleReaction handles POST /reactions/{type}/{id}
func (h *ReactionHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	target, err := targetParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req ToggleReactionRequest
	if err := common.ParseJSONBody(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if _, err := sess.Coordinator.ToggleReaction(r.Context(), target.Type, target.ID, *req.IsLike); err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, h.response(sess, target))
}

// RefreshReactions handles POST /reactions/refresh
func (h *ReactionHandler) RefreshReactions(w http.ResponseWriter, r *http.Request) {
	var req RefreshReactionsRequest
	if err := common.ParseJSONBody(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	targets := make([]valueobjects.ReactionTarget, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, valueobjects.NewReactionTarget(valueobjects.TargetType(t.TargetType), valueobjects.EntityID(t.TargetID)))
	}
	if err := sess.Coordinator.RefreshReactions(r.Context(), targets); err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]ReactionResponse, 0, len(targets))
	for _, target := range targets {
		out = append(out, h.response(sess, target))
	}
	common.RespondJSON(w, r, http.StatusOK, out)
}

// ReconcilePending handles POST /reactions/reconcile
func (h *ReactionHandler) ReconcilePending(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := sess.Coordinator.ReconcilePending(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
