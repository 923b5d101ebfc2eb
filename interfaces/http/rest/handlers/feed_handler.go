package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/domain/core/aggregates"
	"communitysync/pkg/common"
	"communitysync/pkg/errors"
	"communitysync/pkg/utils"
)

// FeedHandler serves the paginated feeds of a session
type FeedHandler struct {
	base
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(sessions *session.Manager, errHandler *errors.ErrorHandler, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{base{sessions: sessions, errHandler: errHandler, logger: logger}}
}

// LoadFeedRequest is the optional body of POST /feeds/{feed}/load. Omitted
// filters keep the feed's current ones.
type LoadFeedRequest struct {
	Filters map[string]string `json:"filters,omitempty" validate:"omitempty,max=10"`
}

// SearchFeedRequest is the body of POST /feeds/{feed}/search
type SearchFeedRequest struct {
	Query string `json:"query" validate:"max=200"`
}

// FeedResponse is a feed snapshot with its items resolved
type FeedResponse struct {
	Name       string                   `json:"name"`
	Cursor     aggregates.Cursor        `json:"cursor"`
	Generation uint64                   `json:"generation"`
	Total      int                      `json:"total"`
	Filters    aggregates.Filters       `json:"filters,omitempty"`
	Items      []map[string]interface{} `json:"items"`
}

// GetFeed handles GET /feeds/{feed}
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c := sess.Coordinator
	name := chi.URLParam(r, "feed")
	spec, err := feedSpec(c, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := c.GetFeed(name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	items := make([]map[string]interface{}, 0, len(view.Items))
	for _, e := range view.Items {
		items = append(items, entityJSON(c, e, spec.ReactionTarget))
	}
	common.RespondJSON(w, r, http.StatusOK, FeedResponse{
		Name:       view.Name,
		Cursor:     view.Cursor,
		Generation: view.Generation,
		Total:      view.Total,
		Filters:    view.Filters,
		Items:      items,
	})
}

// LoadFeed handles POST /feeds/{feed}/load
func (h *FeedHandler) LoadFeed(w http.ResponseWriter, r *http.Request) {
	var req LoadFeedRequest
	if err := common.ParseJSONBody(w, r, &req, true); err != nil {
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

	var filters aggregates.Filters
	if req.Filters != nil {
		filters = aggregates.Filters(req.Filters)
	}
	page, err := sess.Coordinator.LoadFeed(r.Context(), chi.URLParam(r, "feed"), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, page)
}

// SearchFeed handles POST /feeds/{feed}/search
func (h *FeedHandler) SearchFeed(w http.ResponseWriter, r *http.Request) {
	var req SearchFeedRequest
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

	page, err := sess.Coordinator.SearchFeed(r.Context(), chi.URLParam(r, "feed"), req.Query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, page)
}

// ResetFeed handles POST /feeds/{feed}/reset
func (h *FeedHandler) ResetFeed(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := sess.Coordinator.ResetFeed(r.Context(), chi.URLParam(r, "feed")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
