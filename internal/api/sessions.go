package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 200
)

type sessionHandler struct {
	controller Controller
	logger     log.Logger
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultSessionLimit)
	if limit < 1 || limit > maxSessionLimit {
		limit = defaultSessionLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	sessions, err := h.controller.ListSessions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New Chat"
	}

	sess, err := h.controller.CreateSession(r.Context(), title)
	if err != nil {
		h.logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	messages, err := h.controller.Messages(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Session not found")
			return
		}
		h.logger.Error("list messages failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []*session.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.controller.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Session not found")
			return
		}
		h.logger.Error("delete session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment. On failure it writes the error
// response and returns false.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid session ID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
