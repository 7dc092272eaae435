// Package imagegen talks to the external image generation service.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/datachat-io/datachat/internal/log"
	"github.com/datachat-io/datachat/internal/tools"
)

// ErrBaseURLRequired is returned when the client is created without a
// service URL.
var ErrBaseURLRequired = errors.New("imagegen: base URL is required")

const defaultTimeout = 120 * time.Second

// Client calls the image generation HTTP service. It implements
// tools.ImageGenerator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// New creates an image generation client for the given base URL.
func New(baseURL string, logger log.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}, nil
}

// request is the wire format of POST /api/generate-image.
type request struct {
	Prompt string `json:"prompt"`
	// Anchor image, when the user attached one to steer generation.
	ImageData string `json:"imageData,omitempty"`
	MIMEType  string `json:"mimeType,omitempty"`
}

type response struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

// Generate submits a prompt to the service and returns the generated
// image. The anchor, when non-nil, rides along as inline base64 data.
func (c *Client) Generate(ctx context.Context, prompt string, anchor *tools.ImageRef) (*tools.GeneratedImage, error) {
	req := request{Prompt: prompt}
	if anchor != nil {
		req.ImageData = anchor.Data
		req.MIMEType = anchor.MIMEType
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/api/generate-image"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image service request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image service response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("image service error (status %d): %s",
			httpResp.StatusCode, truncate(string(respBody), 200))
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal image service response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("image service: %s", resp.Error)
	}
	if resp.Data == "" && resp.URL == "" {
		return nil, errors.New("image service returned no image")
	}

	c.logger.Debug("image generated",
		"prompt_len", len(prompt),
		"has_anchor", anchor != nil,
		"duration", time.Since(start))

	return &tools.GeneratedImage{
		MIMEType: resp.MIMEType,
		Data:     resp.Data,
		URL:      resp.URL,
		FileName: resp.FileName,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
