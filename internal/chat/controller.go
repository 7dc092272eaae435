package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat/internal/gateway"
	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
	"github.com/datachat-io/datachat/internal/tabular"
	"github.com/datachat-io/datachat/internal/tools"
)

// SessionState tracks lazy session materialization for one turn. A
// turn against the "new" sentinel creates the real session mid-flight;
// the Creating state suppresses the history reload that would
// otherwise wipe in-flight content.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionCreating
	SessionActive
)

// Store is the persistence surface the controller needs.
type Store interface {
	CreateSession(ctx context.Context, title, modelName string) (*session.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*session.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	AddMessages(ctx context.Context, sessionID uuid.UUID, messages []*session.Message) error
	GetMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*session.Message, error)
}

// Gateway is the full model surface: tool calls plus streaming.
type Gateway interface {
	ToolGateway
	Stream(ctx context.Context, turns []gateway.Turn, input string, images []gateway.Attachment, useCodeExecution bool) iter.Seq2[gateway.Event, error]
}

// TurnRequest is one user turn.
type TurnRequest struct {
	SessionID        uuid.UUID // uuid.Nil targets a new session
	Input            string
	Images           []gateway.Attachment
	UseCodeExecution bool
	Cancel           *CancelFlag
}

// TurnResult reports what one turn produced and persisted.
type TurnResult struct {
	SessionID uuid.UUID
	Session   *session.Session // set when the session was created this turn
	Created   bool
	User      *session.Message
	Assistant *session.Message
	// StreamErr is the gateway failure, if any. The turn still
	// persisted; the assistant content carries the error text.
	StreamErr error
}

const historyLimit = 1000

// Controller owns session lifecycle, turn routing, event merging, and
// exactly-once persistence per turn.
type Controller struct {
	store     Store
	gw        Gateway
	registry  *tools.Registry
	orch      *Orchestrator
	modelName string
	logger    log.Logger

	mu       sync.Mutex
	datasets map[uuid.UUID]*tabular.Context
}

// NewController wires the controller. maxRounds bounds the tool loop.
func NewController(store Store, gw Gateway, registry *tools.Registry, modelName string, maxRounds int, logger log.Logger) *Controller {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Controller{
		store:     store,
		gw:        gw,
		registry:  registry,
		orch:      NewOrchestrator(gw, registry, maxRounds, logger),
		modelName: modelName,
		logger:    logger,
		datasets:  make(map[uuid.UUID]*tabular.Context),
	}
}

// ListSessions lists sessions, newest activity first.
func (c *Controller) ListSessions(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	return c.store.ListSessions(ctx, limit, offset)
}

// CreateSession creates an empty session.
func (c *Controller) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	return c.store.CreateSession(ctx, title, c.modelName)
}

// DeleteSession deletes a session and drops its dataset context.
func (c *Controller) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := c.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.datasets, id)
	c.mu.Unlock()
	return nil
}

// Messages returns a session's messages in insertion order.
func (c *Controller) Messages(ctx context.Context, id uuid.UUID) ([]*session.Message, error) {
	if _, err := c.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return c.store.GetMessages(ctx, id, historyLimit, 0)
}

// AttachDataset parses the text as tabular data and installs it as the
// session's dataset context, replacing any previous one wholesale. A
// nil session ID creates the session first.
func (c *Controller) AttachDataset(ctx context.Context, sessionID uuid.UUID, text string, kind tabular.Kind) (uuid.UUID, *tabular.Context, error) {
	dc, err := tabular.NewContext(text, kind)
	if err != nil {
		return uuid.Nil, nil, err
	}

	if sessionID == uuid.Nil {
		sess, err := c.store.CreateSession(ctx, "", c.modelName)
		if err != nil {
			return uuid.Nil, nil, err
		}
		sessionID = sess.ID
	} else if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return uuid.Nil, nil, err
	}

	c.mu.Lock()
	c.datasets[sessionID] = dc
	c.mu.Unlock()

	c.logger.Debug("dataset attached",
		"session_id", sessionID,
		"rows", dc.Table.RowCount(),
		"columns", len(dc.Table.Headers))
	return sessionID, dc, nil
}

// Dataset returns the session's dataset context, or nil.
func (c *Controller) Dataset(sessionID uuid.UUID) *tabular.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.datasets[sessionID]
}

// Send runs one turn to completion without emitting intermediate
// events.
func (c *Controller) Send(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return c.send(ctx, req, nil)
}

// SendStream runs one turn, forwarding each streaming event through
// emit as it is applied to the message.
func (c *Controller) SendStream(ctx context.Context, req TurnRequest, emit func(gateway.Event) error) (*TurnResult, error) {
	return c.send(ctx, req, emit)
}

func (c *Controller) send(ctx context.Context, req TurnRequest, emit func(gateway.Event) error) (*TurnResult, error) {
	result := &TurnResult{SessionID: req.SessionID}

	state := SessionActive
	if req.SessionID == uuid.Nil {
		state = SessionNew
	}

	var turns []gateway.Turn
	switch state {
	case SessionNew:
		state = SessionCreating
		sess, err := c.store.CreateSession(ctx, titleFromMessage(req.Input), c.modelName)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		result.SessionID = sess.ID
		result.Session = sess
		result.Created = true
		// Creating: the session is known empty, skip the history load
		// so nothing can clobber the in-flight turn.
	case SessionActive:
		if _, err := c.store.GetSession(ctx, req.SessionID); err != nil {
			return nil, err
		}
		history, err := c.store.GetMessages(ctx, req.SessionID, historyLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		turns = historyTurns(history)
	}

	userMsg := &session.Message{
		Role:    session.RoleUser,
		Content: req.Input,
		Images:  attachmentImages(req.Images),
	}
	if err := c.store.AddMessages(ctx, result.SessionID, []*session.Message{userMsg}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	result.User = userMsg

	dataset := c.Dataset(result.SessionID)

	var assistant *session.Message
	if dataset != nil || wantsImage(req.Input) {
		assistant = c.toolTurn(ctx, req, dataset, turns)
	} else {
		assistant = c.streamTurn(ctx, req, turns, emit, result)
	}

	if err := c.store.AddMessages(ctx, result.SessionID, []*session.Message{assistant}); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	result.Assistant = assistant
	return result, nil
}

// toolTurn routes the turn through the orchestrator.
func (c *Controller) toolTurn(ctx context.Context, req TurnRequest, dataset *tabular.Context, turns []gateway.Turn) *session.Message {
	input := req.Input
	exec := tools.Exec{Anchor: anchorFrom(req.Images)}
	if dataset != nil {
		exec.Table = dataset.Table
		input = datasetPrompt(dataset, req.Input)
	}

	outcome, err := c.orch.Run(ctx, turns, input, req.Images, exec)
	if err != nil {
		c.logger.Error("tool turn failed", "error", err)
		return &session.Message{
			Role:    session.RoleModel,
			Content: "Error: " + err.Error(),
		}
	}

	return &session.Message{
		Role:      session.RoleModel,
		Content:   outcome.Text,
		Charts:    outcome.Charts,
		ToolCalls: outcome.ToolCalls,
		Images:    chartImages(outcome.Charts),
	}
}

// streamTurn routes the turn through the streaming path, merging events
// into the assistant message and forwarding them through emit.
func (c *Controller) streamTurn(ctx context.Context, req TurnRequest, turns []gateway.Turn, emit func(gateway.Event) error, result *TurnResult) *session.Message {
	asm := &assembler{}
	emitting := emit != nil

	for ev, err := range c.gw.Stream(ctx, turns, req.Input, req.Images, req.UseCodeExecution) {
		if err != nil {
			result.StreamErr = err
			c.logger.Error("stream failed", "error", err)
			break
		}
		// Cooperative cancellation: checked per chunk, buffered text
		// stays.
		if req.Cancel.Stopped() {
			c.logger.Debug("stream cancelled", "session_id", result.SessionID)
			break
		}
		asm.apply(ev)
		if emitting {
			if emitErr := emit(ev); emitErr != nil {
				c.logger.Debug("client gone, draining stream stopped", "error", emitErr)
				emitting = false
				break
			}
		}
	}

	content := asm.content()
	if result.StreamErr != nil {
		errText := "Error: " + result.StreamErr.Error()
		if content == "" {
			content = errText
		} else {
			content = content + "\n\n" + errText
		}
	}

	msg := &session.Message{
		Role:    session.RoleModel,
		Content: content,
	}
	if asm.parts != nil {
		if parts, err := json.Marshal(asm.parts); err == nil {
			msg.Parts = parts
		}
	}
	if len(asm.grounding) > 0 {
		if grounding, err := json.Marshal(asm.grounding); err == nil {
			msg.Grounding = grounding
		}
	}
	return msg
}

// imagePhrases trigger the image-generation tool path even without a
// dataset loaded.
var imagePhrases = []string{
	"generate an image",
	"generate image",
	"generate a picture",
	"create an image",
	"create a picture",
	"make an image",
	"make a picture",
	"draw me",
	"draw a",
	"draw an",
	"image of",
	"picture of",
}

func wantsImage(input string) bool {
	lower := strings.ToLower(input)
	for _, phrase := range imagePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// datasetPrompt frames the user question with the dataset context.
func datasetPrompt(dc *tabular.Context, input string) string {
	var b strings.Builder
	b.WriteString("The user has loaded a dataset.\n\n")
	b.WriteString(dc.Summary)
	b.WriteString("\n\nData (possibly truncated):\n")
	b.WriteString(dc.SlimCSV)
	b.WriteString("\n\nUser question: ")
	b.WriteString(input)
	return b.String()
}

// historyTurns projects persisted messages to text-only prior turns.
func historyTurns(messages []*session.Message) []gateway.Turn {
	turns := make([]gateway.Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		turns = append(turns, gateway.Turn{
			Role: gateway.Role(msg.Role),
			Text: msg.Content,
		})
	}
	return turns
}

func attachmentImages(images []gateway.Attachment) []session.Image {
	var out []session.Image
	for _, img := range images {
		out = append(out, session.Image{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		})
	}
	return out
}

// anchorFrom picks the first attachment as the image-generation anchor.
func anchorFrom(images []gateway.Attachment) *tools.ImageRef {
	if len(images) == 0 {
		return nil
	}
	return &tools.ImageRef{
		Data:     base64.StdEncoding.EncodeToString(images[0].Data),
		MIMEType: images[0].MIMEType,
	}
}

// chartImages extracts generated-image payloads for the message's image
// list.
func chartImages(charts []map[string]any) []session.Image {
	var out []session.Image
	for _, chart := range charts {
		if chart[tools.ChartTypeKey] != tools.ChartGeneratedImage {
			continue
		}
		img := session.Image{}
		img.MIMEType, _ = chart["mimeType"].(string)
		img.Data, _ = chart["data"].(string)
		img.URL, _ = chart["url"].(string)
		img.FileName, _ = chart["fileName"].(string)
		out = append(out, img)
	}
	return out
}
