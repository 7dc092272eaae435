package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Session is one conversation thread.
type Session struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	ModelName    string    `json:"modelName,omitempty"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Image is an image attachment on a message, inline base64 or by URL.
type Image struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	Result map[string]any `json:"result"`
}

// Message is one persisted chat message. For model messages the
// structured Parts, when present, are the authoritative rendering
// source; Content always carries the plain-text rendition.
type Message struct {
	ID             uuid.UUID        `json:"id"`
	SessionID      uuid.UUID        `json:"sessionId"`
	Role           string           `json:"role"`
	Content        string           `json:"content"`
	Images         []Image          `json:"images,omitempty"`
	Charts         []map[string]any `json:"charts,omitempty"`
	ToolCalls      []ToolCall       `json:"toolCalls,omitempty"`
	Parts          json.RawMessage  `json:"parts,omitempty"`
	Grounding      json.RawMessage  `json:"grounding,omitempty"`
	SequenceNumber int              `json:"sequenceNumber"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// ValidRole reports whether role is one of the two message roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleModel
}
