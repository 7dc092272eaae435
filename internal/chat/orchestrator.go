// Package chat implements the tool-calling orchestration loop and the
// session controller that merges streaming events into persisted
// messages.
package chat

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/datachat-io/datachat/internal/gateway"
	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
	"github.com/datachat-io/datachat/internal/tools"
)

// MaxToolRounds bounds the orchestration loop. The round counter
// reaching it forces termination even mid-loop.
const MaxToolRounds = 5

// loopState is the orchestration state machine.
type loopState int

const (
	stateAwaitingModel loopState = iota
	stateExecutingTool
	stateDone
)

// ToolGateway is the model surface the orchestrator needs.
type ToolGateway interface {
	Contents(turns []gateway.Turn, input string, images []gateway.Attachment) []*genai.Content
	GenerateWithTools(ctx context.Context, contents []*genai.Content, decls []*genai.FunctionDeclaration) (*genai.GenerateContentResponse, error)
}

// Outcome is everything one orchestrated turn produced: the
// accumulated model text, the append-only tool-call log, and the chart
// payloads collected for rendering.
type Outcome struct {
	Text      string
	ToolCalls []session.ToolCall
	Charts    []map[string]any
}

// Orchestrator runs the bounded tool-calling loop against the model.
type Orchestrator struct {
	gw        ToolGateway
	registry  *tools.Registry
	maxRounds int
	logger    log.Logger
}

// NewOrchestrator creates an orchestrator. maxRounds <= 0 selects the
// default bound.
func NewOrchestrator(gw ToolGateway, registry *tools.Registry, maxRounds int, logger log.Logger) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = MaxToolRounds
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{gw: gw, registry: registry, maxRounds: maxRounds, logger: logger}
}

// Run executes one turn: it sends the conversation with the tool
// declarations, executes requested tools, relays sanitized results
// back, and repeats until the model answers with plain text, a tool
// fails, or the round bound is hit. The model never sees inline binary
// inside a function response.
func (o *Orchestrator) Run(ctx context.Context, turns []gateway.Turn, input string, images []gateway.Attachment, exec tools.Exec) (*Outcome, error) {
	contents := o.gw.Contents(turns, input, images)
	decls := o.registry.Declarations()

	outcome := &Outcome{}
	var text strings.Builder
	state := stateAwaitingModel

	for round := 0; round < o.maxRounds && state != stateDone; round++ {
		resp, err := o.gw.GenerateWithTools(ctx, contents, decls)
		if err != nil {
			return nil, err
		}
		if t := resp.Text(); t != "" {
			text.WriteString(t)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			state = stateDone
			break
		}

		state = stateExecutingTool
		if mc := gateway.ModelContent(resp); mc != nil {
			contents = append(contents, mc)
		}

		failed := false
		for _, call := range calls {
			result := o.registry.Execute(ctx, call.Name, call.Args, exec)
			sanitized := tools.Sanitize(result)

			outcome.ToolCalls = append(outcome.ToolCalls, session.ToolCall{
				Name:   call.Name,
				Args:   call.Args,
				Result: sanitized,
			})
			if result.IsRenderable() {
				// Charts keep the unsanitized payload; inline image
				// data is needed for rendering, just never for the
				// model.
				outcome.Charts = append(outcome.Charts, result)
			}

			contents = append(contents, gateway.FunctionResponseContent(call.Name, sanitized))

			if result.IsError() {
				o.logger.Debug("tool failed, ending turn",
					"tool", call.Name, "error", result.ErrorMessage())
				failed = true
				break
			}
		}
		if failed {
			state = stateDone
			break
		}
		state = stateAwaitingModel
	}

	outcome.Text = text.String()
	if outcome.Text == "" {
		if n := len(outcome.ToolCalls); n > 0 {
			if msg := toolErrorText(outcome.ToolCalls[n-1]); msg != "" {
				outcome.Text = msg
			}
		}
	}
	return outcome, nil
}

// toolErrorText surfaces a failed tool result as user-visible text when
// the model produced none.
func toolErrorText(tc session.ToolCall) string {
	if msg, ok := tc.Result["error"].(string); ok {
		return "Error: " + msg
	}
	return ""
}
