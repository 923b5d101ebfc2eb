package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"communitysync/application/session"
	"communitysync/pkg/auth"
	"communitysync/pkg/common"
	"communitysync/pkg/errors"
)

// SessionHandler opens and closes sync sessions
type SessionHandler struct {
	base
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager, errHandler *errors.ErrorHandler, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{base{sessions: sessions, errHandler: errHandler, logger: logger}}
}

// SessionResponse describes an opened session
type SessionResponse struct {
	ID        string    `json:"id"`
	ViewerID  string    `json:"viewerId,omitempty"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"createdAt"`
	Feeds     []string  `json:"feeds"`
}

// OpenSession handles POST /sessions. The viewer comes from the bearer
// token; without one the session is anonymous.
func (h *SessionHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var viewerID, token string
	if viewer := auth.ViewerFromContext(r.Context()); viewer != nil {
		viewerID, token = viewer.UserID, viewer.Token
	}

	sess, err := h.sessions.Open(r.Context(), viewerID, token)
	if err != nil {
		h.logger.Error("Failed to open session", zap.String("viewerID", viewerID), zap.Error(err))
		h.fail(w, r, err)
		return
	}

	feeds := make([]string, 0)
	for _, spec := range sess.Coordinator.Feeds() {
		feeds = append(feeds, spec.Name)
	}
	w.Header().Set(SessionHeader, sess.ID)
	common.RespondJSON(w, r, http.StatusCreated, SessionResponse{
		ID:        sess.ID,
		ViewerID:  sess.ViewerID,
		Anonymous: sess.Anonymous(),
		CreatedAt: sess.CreatedAt,
		Feeds:     feeds,
	})
}

// CloseSession handles DELETE /sessions
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sessions.Close(r.Context(), sess.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
