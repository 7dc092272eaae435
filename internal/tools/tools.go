// Package tools implements the client-side tool set the model can invoke
// against a loaded tabular dataset: column statistics, value counts, top-N
// queries, time-series plotting, video lookup and image generation.
//
// Execution failures are values, not Go errors: every failure is returned
// as a Result carrying an "error" field so it can be rendered inline and
// relayed to the model as a function response.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/datachat-io/datachat/internal/tabular"
)

// Result is a tool execution result as relayed to the model and the UI.
type Result map[string]any

// Errorf builds an error Result.
func Errorf(format string, args ...any) Result {
	return Result{"error": fmt.Sprintf(format, args...)}
}

// IsError reports whether the result carries an error field.
func (r Result) IsError() bool {
	_, ok := r["error"]
	return ok
}

// ErrorMessage returns the error text, or "" for non-error results.
func (r Result) ErrorMessage() string {
	if msg, ok := r["error"].(string); ok {
		return msg
	}
	return ""
}

// Chart payload tags. Results carrying one of these render client-side.
const (
	// ChartTypeKey tags a result as a renderable chart variant.
	ChartTypeKey = "_chartType"

	ChartTimeSeries     = "timeSeries"
	ChartGeneratedImage = "generatedImage"
	ChartEngagement     = "engagement"

	// PlayVideoKey tags a video playback directive.
	PlayVideoKey = "_playVideo"
)

// IsRenderable reports whether the result should be accumulated as a chart
// or video payload for the client.
func (r Result) IsRenderable() bool {
	if _, ok := r[ChartTypeKey]; ok {
		return true
	}
	_, ok := r[PlayVideoKey]
	return ok
}

// binaryFields are result keys that may carry inline binary payloads.
// Sanitize strips them so raw bytes are never echoed back to the model.
var binaryFields = []string{"data", "inlineData", "anchorImage"}

// Sanitize returns a copy of the result safe to relay to the model:
// inline binary fields are removed, everything else is preserved.
func Sanitize(r Result) Result {
	clean := make(Result, len(r))
	for k, v := range r {
		clean[k] = v
	}
	for _, k := range binaryFields {
		delete(clean, k)
	}
	return clean
}

// ImageRef is a base64-encoded image carried through a turn.
type ImageRef struct {
	Data     string `json:"data"` // base64
	MIMEType string `json:"mimeType"`
	Name     string `json:"name,omitempty"`
}

// GeneratedImage is the image-generation collaborator's response.
type GeneratedImage struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// ImageGenerator is the external image-generation collaborator.
// Implemented by imagegen.Client; nil disables the generate_image tool.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string, anchor *ImageRef) (*GeneratedImage, error)
}

// Exec carries the per-invocation context a handler may need.
type Exec struct {
	Table  *tabular.Table // nil when no dataset is loaded
	Anchor *ImageRef      // optional anchor image for generation
}

// Handler executes one tool invocation.
type Handler func(ctx context.Context, args map[string]any, exec Exec) Result

// Tool couples a function declaration with its argument schema and handler.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema

	resolved *jsonschema.Resolved
	handler  Handler
}

// Registry maps tool names to handlers. It is immutable after construction
// and safe for concurrent use.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	images ImageGenerator
	logger *slog.Logger
}

// NewRegistry builds the fixed tool set. images may be nil, in which case
// generate_image reports an error result when invoked.
func NewRegistry(images ImageGenerator, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		tools:  make(map[string]*Tool),
		images: images,
		logger: logger,
	}

	for _, t := range r.toolSet() {
		resolved, err := t.Schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolving schema for %s: %w", t.Name, err)
		}
		t.resolved = resolved
		if _, exists := r.tools[t.Name]; exists {
			return nil, fmt.Errorf("duplicate tool %s", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}

	return r, nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute runs a tool by name. Unknown tools, invalid arguments and handler
// failures all come back as error Results — never as Go errors — so the
// model can react to them in natural language.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, exec Exec) Result {
	tool, ok := r.tools[name]
	if !ok {
		return Errorf("Unknown tool: %s", name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := tool.resolved.Validate(args); err != nil {
		return Errorf("Invalid arguments for %s: %v", name, err)
	}

	res := tool.handler(ctx, args, exec)
	if res.IsError() {
		r.logger.Debug("tool returned error", "tool", name, "error", res.ErrorMessage())
	}
	return res
}
