// Package imagegen implements image-generation backends.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNoOutput is returned when a prediction finishes without any image.
	ErrNoOutput = errors.New("image generation produced no output")
	// ErrDisabled is returned by the Disabled client.
	ErrDisabled = errors.New("image generation is not configured")
)

// Client generates images from a text prompt and returns their URLs.
type Client interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}

// Disabled is a Client used when no image backend is configured.
type Disabled struct{}

// Generate always fails with ErrDisabled.
func (Disabled) Generate(context.Context, string) ([]string, error) {
	return nil, ErrDisabled
}

// DefaultModel is the Replicate model used when none is configured.
const DefaultModel = "black-forest-labs/flux-schnell"

// ReplicateConfig configures the Replicate predictions client.
type ReplicateConfig struct {
	BaseURL  string
	APIToken string
	// Model is either "owner/name" (latest version) or "owner/name:version".
	Model        string
	PollInterval time.Duration
	// Timeout bounds a whole generation, including polling.
	Timeout time.Duration
}

// ReplicateClient creates a prediction and polls it until it settles.
type ReplicateClient struct {
	baseURL  string
	token    string
	model    string
	version  string
	interval time.Duration
	timeout  time.Duration
	http     *http.Client
}

// NewReplicateClient creates a client.
func NewReplicateClient(cfg ReplicateConfig) *ReplicateClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	model, version, _ := strings.Cut(model, ":")

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &ReplicateClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    cfg.APIToken,
		model:    model,
		version:  version,
		interval: interval,
		timeout:  cfg.Timeout,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (p *prediction) done() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	default:
		return false
	}
}

// outputs decodes the prediction output, which is a list of URLs for most
// models and a single URL for some.
func (p *prediction) outputs() []string {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return nil
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(p.Output, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// Generate runs one prediction for prompt.
func (c *ReplicateClient) Generate(ctx context.Context, prompt string) ([]string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	p, err := c.create(ctx, prompt)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for !p.done() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("prediction %s: %w", p.ID, ctx.Err())
		case <-ticker.C:
		}
		if p, err = c.get(ctx, p); err != nil {
			return nil, err
		}
	}

	if p.Status != "succeeded" {
		return nil, fmt.Errorf("prediction %s %s: %v", p.ID, p.Status, p.Error)
	}
	urls := p.outputs()
	if len(urls) == 0 {
		return nil, fmt.Errorf("prediction %s: %w", p.ID, ErrNoOutput)
	}
	return urls, nil
}

func (c *ReplicateClient) create(ctx context.Context, prompt string) (*prediction, error) {
	body := map[string]any{"input": map[string]any{"prompt": prompt}}
	endpoint := c.baseURL + "/v1/models/" + c.model + "/predictions"
	if c.version != "" {
		body["version"] = c.version
		endpoint = c.baseURL + "/v1/predictions"
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *ReplicateClient) get(ctx context.Context, p *prediction) (*prediction, error) {
	endpoint := p.URLs.Get
	if endpoint == "" {
		endpoint = c.baseURL + "/v1/predictions/" + p.ID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build prediction poll: %w", err)
	}
	return c.do(req)
}

func (c *ReplicateClient) do(req *http.Request) (*prediction, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read replicate response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("replicate http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var p prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}
