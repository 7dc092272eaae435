package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat/internal/chat"
	"github.com/datachat-io/datachat/internal/gateway"
	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/session"
	"github.com/datachat-io/datachat/internal/tabular"
)

// fakeController scripts the chat surface for handler tests and records
// what it was called with.
type fakeController struct {
	sessions     []*session.Session
	messages     map[uuid.UUID][]*session.Message
	created      *session.Session
	turnResult   *chat.TurnResult
	turnErr      error
	streamEvents []gateway.Event
	datasetCtx   *tabular.Context
	datasetErr   error

	listCalls   int
	deleteCalls int
	lastTurn    chat.TurnRequest
	lastAttach  struct {
		sessionID uuid.UUID
		text      string
		kind      tabular.Kind
	}
}

func (f *fakeController) ListSessions(ctx context.Context, limit, offset int) ([]*session.Session, error) {
	f.listCalls++
	return f.sessions, nil
}

func (f *fakeController) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	if f.created == nil {
		f.created = &session.Session{ID: uuid.New(), Title: title}
	}
	return f.created, nil
}

func (f *fakeController) DeleteSession(ctx context.Context, id uuid.UUID) error {
	f.deleteCalls++
	if f.messages != nil {
		if _, ok := f.messages[id]; !ok {
			return session.ErrSessionNotFound
		}
		delete(f.messages, id)
	}
	return nil
}

func (f *fakeController) Messages(ctx context.Context, id uuid.UUID) ([]*session.Message, error) {
	msgs, ok := f.messages[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return msgs, nil
}

func (f *fakeController) AttachDataset(ctx context.Context, id uuid.UUID, text string, kind tabular.Kind) (uuid.UUID, *tabular.Context, error) {
	f.lastAttach.sessionID = id
	f.lastAttach.text = text
	f.lastAttach.kind = kind
	if f.datasetErr != nil {
		return uuid.Nil, nil, f.datasetErr
	}
	out := id
	if out == uuid.Nil {
		out = uuid.New()
	}
	return out, f.datasetCtx, nil
}

func (f *fakeController) Send(ctx context.Context, req chat.TurnRequest) (*chat.TurnResult, error) {
	f.lastTurn = req
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	return f.turnResult, nil
}

func (f *fakeController) SendStream(ctx context.Context, req chat.TurnRequest, emit func(gateway.Event) error) (*chat.TurnResult, error) {
	f.lastTurn = req
	if f.turnErr != nil {
		return nil, f.turnErr
	}
	for _, ev := range f.streamEvents {
		if err := emit(ev); err != nil {
			break
		}
	}
	return f.turnResult, nil
}

func newTestServer(t *testing.T, fc *fakeController) *Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Controller: fc,
		Logger:     log.NewNop(),
		RateBurst:  1000,
	})
	require.NoError(t, err)
	return srv
}

func TestNewServerRequiresController(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReadyWithoutPool(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDHeaderSet(t *testing.T) {
	srv := newTestServer(t, &fakeController{})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	srv.Handler().ServeHTTP(w, r)

	id := w.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestRecoveryMiddlewareCatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(log.NewNop())(panicking)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestCORSPreflight(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Controller:  &fakeController{},
		Logger:      log.NewNop(),
		CORSOrigins: []string{"http://localhost:3000"},
		RateBurst:   1000,
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	srv.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := newRateLimiter(1.0, 2)

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))

	// Separate IPs get separate buckets.
	assert.True(t, rl.allow("10.0.0.2"))
}

func TestClientIPTrustProxy(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.168.1.1", clientIP(r, false))
	assert.Equal(t, "203.0.113.7", clientIP(r, true))

	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(r, true))
}

func TestSSEWriterFraming(t *testing.T) {
	w := httptest.NewRecorder()
	sse, err := newSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, sse.writeEvent("chunk", map[string]string{"text": "hello"}))

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: chunk\n")
	assert.Contains(t, body, `data: {"text":"hello"}`)
	assert.True(t, strings.HasSuffix(body, "\n\n"), "event must end with a blank line")
}
