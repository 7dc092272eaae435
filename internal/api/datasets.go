package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
	"github.com/datachat-io/datachat/internal/tabular"
)

// maxDatasetBytes caps attachment size. Content beyond this is rejected
// before parsing.
const maxDatasetBytes = 10 << 20

type datasetHandler struct {
	controller Controller
	logger     log.Logger
}

type datasetRequest struct {
	// SessionID is empty or "new" for a fresh session.
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"` // "csv" or "json"
	Content   string `json:"content"`
}

type datasetResponse struct {
	SessionID string `json:"sessionId"`
	Rows      int    `json:"rows"`
	Columns   int    `json:"columns"`
	Summary   string `json:"summary"`
}

// attach parses an attachment and binds it to a session, replacing any
// previous dataset.
func (h *datasetHandler) attach(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDatasetBytes)

	var req datasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Dataset exceeds the 10MB limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	var kind tabular.Kind
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "csv":
		kind = tabular.KindCSV
	case "json":
		kind = tabular.KindJSON
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", `Kind must be "csv" or "json"`)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Content is required")
		return
	}

	sessionID := uuid.Nil
	if id := strings.TrimSpace(req.SessionID); id != "" && id != "new" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid session ID")
			return
		}
		sessionID = parsed
	}

	id, dataset, err := h.controller.AttachDataset(r.Context(), sessionID, req.Content, kind)
	if err != nil {
		switch {
		case errors.Is(err, tabular.ErrNotTabular):
			writeError(w, http.StatusUnprocessableEntity, "not_tabular", "Content could not be parsed as tabular data")
		case errors.Is(err, session.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "not_found", "Session not found")
		default:
			h.logger.Error("attach dataset failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to attach dataset")
		}
		return
	}

	writeJSON(w, http.StatusOK, datasetResponse{
		SessionID: id.String(),
		Rows:      dataset.Table.RowCount(),
		Columns:   len(dataset.Table.Headers),
		Summary:   dataset.Summary,
	})
}
