// Package gateway wraps the Gemini API behind two call shapes: a
// streaming call with a built-in search or code-execution tool, and a
// single-shot call with function declarations for the tool loop.
package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/datachat-io/datachat/internal/log"
)

var (
	// ErrAPIKeyRequired is returned when the client is created without
	// an API key.
	ErrAPIKeyRequired = errors.New("gateway: API key is required")
	// ErrNoResponse is returned when the model returns no candidates.
	ErrNoResponse = errors.New("gateway: model returned no response")
)

// Role tags one side of the conversation.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior conversation turn. History carries text only;
// attachments exist only on the new turn.
type Turn struct {
	Role Role
	Text string
}

// Attachment is an inline image sent with the new user turn.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Client issues Gemini calls for a fixed model.
type Client struct {
	genai      *genai.Client
	model      string
	maxHistory int
	prompts    *PromptCache
	logger     log.Logger
}

// Options configures a gateway client.
type Options struct {
	APIKey     string
	Model      string
	MaxHistory int
	Prompts    *PromptCache
	Logger     log.Logger
}

// New creates a gateway client against the Gemini API backend.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.Prompts == nil {
		opts.Prompts = NewPromptCache("", opts.Logger)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		genai:      gc,
		model:      opts.Model,
		maxHistory: opts.MaxHistory,
		prompts:    opts.Prompts,
		logger:     opts.Logger,
	}, nil
}

// Contents builds the request contents: trimmed text-only history plus
// the new user turn with optional inline image parts.
func (c *Client) Contents(turns []Turn, input string, images []Attachment) []*genai.Content {
	turns = trimHistory(turns, c.maxHistory)

	contents := make([]*genai.Content, 0, len(turns)+1)
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(t.Text, genai.Role(t.Role)))
	}

	parts := []*genai.Part{genai.NewPartFromText(input)}
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	contents = append(contents, &genai.Content{
		Role:  string(RoleUser),
		Parts: parts,
	})
	return contents
}

func trimHistory(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

// Stream issues a streaming call and yields events in order: one
// TextEvent per chunk, then at most one FullResponseEvent when the
// assembled response carries code, a code result, or inline image data,
// then at most one GroundingEvent when grounding metadata is present.
// The sequence is lazy, finite, and must not be iterated twice.
//
// The built-in tool is web search, or code execution when
// useCodeExecution is set. The API forbids combining them.
func (c *Client) Stream(ctx context.Context, turns []Turn, input string, images []Attachment, useCodeExecution bool) iter.Seq2[Event, error] {
	contents := c.Contents(turns, input, images)
	config := c.baseConfig(ctx)
	if useCodeExecution {
		config.Tools = []*genai.Tool{{CodeExecution: &genai.ToolCodeExecution{}}}
	} else {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	return func(yield func(Event, error) bool) {
		var allParts []*genai.Part
		var groundingMD *genai.GroundingMetadata

		for resp, err := range c.genai.Models.GenerateContentStream(ctx, c.model, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("generate content stream: %w", err))
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			cand := resp.Candidates[0]
			if cand.GroundingMetadata != nil {
				groundingMD = cand.GroundingMetadata
			}
			for _, part := range cand.Content.Parts {
				if part == nil || part.Thought {
					continue
				}
				allParts = append(allParts, part)
				if part.Text != "" {
					if !yield(TextEvent{Text: part.Text}, nil) {
						return
					}
				}
			}
		}

		if parts, structured := assembleParts(allParts); structured {
			if !yield(FullResponseEvent{Parts: parts}, nil) {
				return
			}
		}
		if sources := groundingSources(groundingMD); len(sources) > 0 {
			if !yield(GroundingEvent{Sources: sources}, nil) {
				return
			}
		}
	}
}

// GenerateWithTools issues one non-streaming call with the given
// function declarations and returns the raw response. The caller owns
// the tool loop and the function-response round trips.
func (c *Client) GenerateWithTools(ctx context.Context, contents []*genai.Content, decls []*genai.FunctionDeclaration) (*genai.GenerateContentResponse, error) {
	config := c.baseConfig(ctx)
	if len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoResponse
	}
	return resp, nil
}

func (c *Client) baseConfig(ctx context.Context) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if si := c.prompts.Get(ctx); si != "" {
		config.SystemInstruction = genai.NewContentFromText(si, genai.RoleUser)
	}
	return config
}

// ModelContent extracts the model turn from a response so the tool loop
// can append it to the conversation. Returns nil when absent.
func ModelContent(resp *genai.GenerateContentResponse) *genai.Content {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0].Content
}

// FunctionResponseContent builds the user turn carrying one tool result
// back to the model.
func FunctionResponseContent(name string, response map[string]any) *genai.Content {
	return &genai.Content{
		Role:  string(RoleUser),
		Parts: []*genai.Part{genai.NewPartFromFunctionResponse(name, response)},
	}
}

// assembleParts reconstructs the ordered text/code/result/image
// segments of a response. The second return reports whether any
// structured segment (code, code result, inline image) is present;
// text-only responses do not warrant a full-response event.
func assembleParts(parts []*genai.Part) ([]Part, bool) {
	var out []Part
	structured := false
	for _, p := range parts {
		switch {
		case p.ExecutableCode != nil:
			structured = true
			out = append(out, Part{
				Kind:     PartCode,
				Language: string(p.ExecutableCode.Language),
				Code:     p.ExecutableCode.Code,
			})
		case p.CodeExecutionResult != nil:
			structured = true
			out = append(out, Part{
				Kind:    PartCodeResult,
				Outcome: string(p.CodeExecutionResult.Outcome),
				Output:  p.CodeExecutionResult.Output,
			})
		case p.InlineData != nil:
			structured = true
			out = append(out, Part{
				Kind:     PartImage,
				MIMEType: p.InlineData.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			})
		case p.Text != "":
			out = append(out, Part{Kind: PartText, Text: p.Text})
		}
	}
	if !structured {
		return nil, false
	}
	return out, true
}

// groundingSources flattens grounding metadata into web citations.
func groundingSources(md *genai.GroundingMetadata) []Source {
	if md == nil {
		return nil
	}
	var sources []Source
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		sources = append(sources, Source{
			Title: chunk.Web.Title,
			URI:   chunk.Web.URI,
		})
	}
	return sources
}
