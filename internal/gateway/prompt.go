package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/datachat-io/datachat/internal/log"
)

const promptFetchTimeout = 10 * time.Second

// PromptCache holds the system instruction, fetched once per process
// from a remote URL. A failed fetch resolves to the empty string and is
// not retried; Invalidate forces a refetch on the next Get.
type PromptCache struct {
	url        string
	httpClient *http.Client
	logger     log.Logger

	mu     sync.Mutex
	loaded bool
	text   string
}

// NewPromptCache creates a cache for the given prompt URL. An empty URL
// yields a cache that always resolves to the empty string.
func NewPromptCache(url string, logger log.Logger) *PromptCache {
	if logger == nil {
		logger = log.NewNop()
	}
	return &PromptCache{
		url:        url,
		httpClient: &http.Client{Timeout: promptFetchTimeout},
		logger:     logger,
	}
}

// Get returns the cached system instruction, fetching it on first use.
// Fetch failures are logged and cached as the empty string so a flaky
// prompt host cannot fail chat turns.
func (p *PromptCache) Get(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return p.text
	}
	p.text = p.fetch(ctx)
	p.loaded = true
	return p.text
}

// Invalidate drops the cached value so the next Get refetches.
func (p *PromptCache) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	p.text = ""
}

func (p *PromptCache) fetch(ctx context.Context) string {
	if p.url == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("system prompt request failed", "error", err)
		return ""
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("system prompt fetch failed", "url", p.url, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("system prompt fetch failed",
			"url", p.url, "status", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Warn("system prompt read failed", "error", err)
		return ""
	}

	text := strings.TrimSpace(string(body))
	p.logger.Debug("system prompt loaded", "bytes", len(text))
	return text
}
