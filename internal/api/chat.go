package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat/internal/chat"
	"github.com/datachat-io/datachat/internal/gateway"
	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
)

type chatHandler struct {
	controller Controller
	logger     log.Logger
}

type chatRequest struct {
	// SessionID is empty or "new" for a fresh session.
	SessionID        string            `json:"sessionId"`
	Message          string            `json:"message"`
	Images           []imageAttachment `json:"images,omitempty"`
	UseCodeExecution bool              `json:"useCodeExecution,omitempty"`
}

type imageAttachment struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type chatResponse struct {
	SessionID string           `json:"sessionId"`
	Created   bool             `json:"created"`
	Session   *session.Session `json:"session,omitempty"`
	Message   *session.Message `json:"message"`
}

// send handles a non-streaming chat turn.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	result, err := h.controller.Send(r.Context(), req)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse(result))
}

// stream handles a chat turn over SSE. Events, in order: zero or more
// "chunk", optionally "parts" and "grounding", optionally "error", and
// always a final "done".
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTurn(w, r)
	if !ok {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming is not supported")
		return
	}

	// Client disconnect cancels the in-flight turn; whatever streamed
	// so far still persists.
	cancel := &chat.CancelFlag{}
	req.Cancel = cancel
	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancel.Stop()
		case <-done:
		}
	}()

	result, err := h.controller.SendStream(ctx, req, func(ev gateway.Event) error {
		switch ev := ev.(type) {
		case gateway.TextEvent:
			return sse.writeEvent("chunk", map[string]string{"text": ev.Text})
		case gateway.FullResponseEvent:
			return sse.writeEvent("parts", map[string]any{"parts": ev.Parts})
		case gateway.GroundingEvent:
			return sse.writeEvent("grounding", map[string]any{"sources": ev.Sources})
		}
		return nil
	})
	if err != nil {
		// Turn failed before anything streamed; report over SSE since
		// headers are already out.
		sse.writeEvent("error", map[string]string{"message": turnErrorMessage(err)})
		sse.writeEvent("done", map[string]any{})
		return
	}

	if result.StreamErr != nil {
		sse.writeEvent("error", map[string]string{"message": result.StreamErr.Error()})
	}
	sse.writeEvent("done", turnResponse(result))
}

func (h *chatHandler) decodeTurn(w http.ResponseWriter, r *http.Request) (chat.TurnRequest, bool) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return chat.TurnRequest{}, false
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Message is required")
		return chat.TurnRequest{}, false
	}

	req := chat.TurnRequest{
		Input:            body.Message,
		UseCodeExecution: body.UseCodeExecution,
	}

	if id := strings.TrimSpace(body.SessionID); id != "" && id != "new" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid session ID")
			return chat.TurnRequest{}, false
		}
		req.SessionID = parsed
	}

	for _, img := range body.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid image encoding")
			return chat.TurnRequest{}, false
		}
		req.Images = append(req.Images, gateway.Attachment{
			MIMEType: img.MIMEType,
			Data:     data,
		})
	}

	return req, true
}

func (h *chatHandler) writeTurnError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Session not found")
		return
	}
	h.logger.Error("chat turn failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process message")
}

func turnErrorMessage(err error) string {
	if errors.Is(err, session.ErrSessionNotFound) {
		return "Session not found"
	}
	return "Failed to process message"
}

func turnResponse(result *chat.TurnResult) chatResponse {
	return chatResponse{
		SessionID: result.SessionID.String(),
		Created:   result.Created,
		Session:   result.Session,
		Message:   result.Assistant,
	}
}
