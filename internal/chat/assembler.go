package chat

import (
	"strings"

	"github.com/datachat-io/datachat/internal/gateway"
)

// assembler folds the three streaming event kinds into one evolving
// assistant message: text deltas append, a full-response event replaces
// the display content with structured parts, grounding attaches
// citations without touching the text.
type assembler struct {
	text      strings.Builder
	parts     []gateway.Part
	grounding []gateway.Source
}

func (a *assembler) apply(ev gateway.Event) {
	switch e := ev.(type) {
	case gateway.TextEvent:
		a.text.WriteString(e.Text)
	case gateway.FullResponseEvent:
		a.parts = e.Parts
	case gateway.GroundingEvent:
		a.grounding = e.Sources
	}
}

// content returns the text to persist: the concatenation of the
// structured parts' text when parts are present, else the streamed
// text.
func (a *assembler) content() string {
	if a.parts == nil {
		return a.text.String()
	}
	var b strings.Builder
	for _, p := range a.parts {
		if p.Kind == gateway.PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
