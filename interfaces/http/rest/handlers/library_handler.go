package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/pkg/common"
	"communitysync/pkg/errors"
	"communitysync/pkg/utils"
)

// LibraryHandler serves the library tree: drill-down, navigation and
// note mutations
type LibraryHandler struct {
	base
}

// NewLibraryHandler creates a new library handler
func NewLibraryHandler(sessions *session.Manager, errHandler *errors.ErrorHandler, logger *zap.Logger) *LibraryHandler {
	return &LibraryHandler{base{sessions: sessions, errHandler: errHandler, logger: logger}}
}

// LibraryNoteRequest is the body of POST /library and PATCH /library/{id}.
// parentNoteId distinguishes absent (keep the parent) from null (move to
// root).
type LibraryNoteRequest struct {
	Title        string                 `json:"title,omitempty" validate:"max=1000"`
	Description  string                 `json:"description,omitempty"`
	Visibility   string                 `json:"visibility,omitempty" validate:"omitempty,oneof=GENERAL USERS ADMIN"`
	ParentNoteID json.RawMessage        `json:"parentNoteId,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

func (req LibraryNoteRequest) draft() (entities.LibraryDraft, error) {
	d := entities.LibraryDraft{
		Title:       req.Title,
		Description: req.Description,
		Visibility:  entities.LibraryVisibility(req.Visibility),
		Extra:       req.Extra,
	}
	raw := bytes.TrimSpace(req.ParentNoteID)
	if len(raw) == 0 {
		return d, nil
	}
	d.ParentSet = true
	if bytes.Equal(raw, []byte("null")) {
		return d, nil
	}
	var parent int64
	if err := json.Unmarshal(raw, &parent); err != nil {
		return d, errors.NewValidationError("parentNoteId must be an integer or null")
	}
	id := valueobjects.EntityID(parent)
	d.ParentID = &id
	return d, nil
}

// NavigationResponse is where the library view stands
type NavigationResponse struct {
	Current map[string]interface{}  `json:"current"`
	Stack   []valueobjects.EntityID `json:"stack"`
}

// AvailableParentsResponse lists the notes a note may be moved under
type AvailableParentsResponse struct {
	Parents []entities.LibraryReference `json:"parents"`
}

// GetNode handles GET /library/{id}. With ?refresh=true the note is fetched
// with its children and becomes the current view.
func (h *LibraryHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c := sess.Coordinator

	var node *entities.LibraryNode
	if r.URL.Query().Get("refresh") == "true" {
		node, err = c.OpenNode(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		var ok bool
		node, ok = c.GetNode(id)
		if !ok {
			h.fail(w, r, errors.EntityNotFound(string(valueobjects.EntityLibrary), id.Int64()))
			return
		}
	}
	common.RespondJSON(w, r, http.StatusOK, nodeJSON(c, node))
}

// GetNavigation handles GET /library/navigation
func (h *LibraryHandler) GetNavigation(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondNavigation(w, r, sess)
}

// GoBack handles POST /library/back
func (h *LibraryHandler) GoBack(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := sess.Coordinator.GoBack(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondNavigation(w, r, sess)
}

func (h *LibraryHandler) respondNavigation(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	c := sess.Coordinator
	resp := NavigationResponse{Stack: c.NavigationStack()}
	if resp.Stack == nil {
		resp.Stack = []valueobjects.EntityID{}
	}
	if node, ok := c.CurrentNode(); ok {
		resp.Current = nodeJSON(c, node)
	}
	common.RespondJSON(w, r, http.StatusOK, resp)
}

// AvailableParents handles GET /library/available-parents and
// GET /library/{id}/available-parents
func (h *LibraryHandler) AvailableParents(w http.ResponseWriter, r *http.Request) {
	var editingID *valueobjects.EntityID
	if chi.URLParam(r, "id") != "" {
		id, err := idParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		editingID = &id
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	parents := sess.Coordinator.AvailableParents(editingID)
	if parents == nil {
		parents = []entities.LibraryReference{}
	}
	common.RespondJSON(w, r, http.StatusOK, AvailableParentsResponse{Parents: parents})
}

// CreateNode handles POST /library
func (h *LibraryHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	h.saveNode(w, r, nil)
}

// UpdateNode handles PATCH /library/{id}
func (h *LibraryHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.saveNode(w, r, &id)
}

func (h *LibraryHandler) saveNode(w http.ResponseWriter, r *http.Request, editingID *valueobjects.EntityID) {
	var req LibraryNoteRequest
	if err := common.ParseJSONBody(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	draft, err := req.draft()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	node, err := sess.Coordinator.CreateOrUpdateLibraryNode(r.Context(), draft, editingID)
	if err != nil {
		h.logger.Warn("Library mutation failed",
			zap.String("sessionID", sess.ID),
			zap.Bool("create", editingID == nil),
			zap.Error(err),
		)
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if editingID == nil {
		status = http.StatusCreated
	}
	common.RespondJSON(w, r, status, nodeJSON(sess.Coordinator, node))
}

// DeleteNode handles DELETE /library/{id}
func (h *LibraryHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	outcome, err := sess.Coordinator.DeleteLibraryNode(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, outcome)
}
