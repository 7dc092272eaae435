package gateway

// PartKind identifies one segment of a structured model response.
type PartKind string

const (
	PartText       PartKind = "text"
	PartCode       PartKind = "code"
	PartCodeResult PartKind = "codeResult"
	PartImage      PartKind = "image"
)

// Part is one ordered segment of a structured response: plain text,
// executable code, a code execution result, or an inline image.
type Part struct {
	Kind     PartKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	Language string   `json:"language,omitempty"`
	Code     string   `json:"code,omitempty"`
	Outcome  string   `json:"outcome,omitempty"`
	Output   string   `json:"output,omitempty"`
	MIMEType string   `json:"mimeType,omitempty"`
	Data     string   `json:"data,omitempty"` // base64
}

// Source is one web citation attached to a grounded response.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Event is the closed set of streaming events. Exactly three concrete
// types implement it: TextEvent, FullResponseEvent, GroundingEvent.
type Event interface {
	isEvent()
}

// TextEvent carries one incremental text chunk.
type TextEvent struct {
	Text string
}

// FullResponseEvent carries the ordered structured parts of the full
// assembled response. It is emitted at most once per stream, after all
// text events, and supersedes the streamed text for display.
type FullResponseEvent struct {
	Parts []Part
}

// GroundingEvent carries web-search citations for the response.
type GroundingEvent struct {
	Sources []Source
}

func (TextEvent) isEvent()         {}
func (FullResponseEvent) isEvent() {}
func (GroundingEvent) isEvent()    {}
