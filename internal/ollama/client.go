// Package ollama is the HTTP client for the inference backend's own API.
package ollama

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

// ErrNotFound is returned for backend 404 responses.
var ErrNotFound = errors.New("model not found")

// StatusError carries a non-2xx backend response through to callers that
// relay it (the HTTP layer maps it onto its own response).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Model is one entry of the backend's self-reported inventory.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  client,
		timeout: timeout,
	}, nil
}

// Pull triggers a model download on the backend. The backend's pull endpoint
// is itself asynchronous and idempotent; re-posting for a model that is
// already downloading or already present is safe.
func (c *Client) Pull(ctx context.Context, name string) error {
	body, resp, err := c.do(ctx, http.MethodPost, "/api/pull", map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("pull %s: %w", name, err)
	}
	if resp.StatusCode/100 != 2 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// ListModels returns the backend's current inventory.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	body, resp, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var parsed struct {
		Models []Model `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	return parsed.Models, nil
}

// HasModel reports whether name appears in the inventory, returning the
// matching entry when it does.
func (c *Client) HasModel(ctx context.Context, name string) (bool, *Model, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, nil, err
	}
	for i := range models {
		if models[i].Name == name {
			return true, &models[i], nil
		}
	}
	return false, nil, nil
}

// Delete removes a local model from the backend.
func (c *Client) Delete(ctx context.Context, name string) error {
	body, resp, err := c.do(ctx, http.MethodDelete, "/api/delete", map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStream opens a streaming chat completion and returns the raw response
// body (newline-delimited JSON chunks). The caller owns closing it. No
// per-request timeout is applied; generation is open-ended.
func (c *Client) ChatStream(ctx context.Context, model string, messages []ChatMessage) (io.ReadCloser, error) {
	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, *http.Response, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return body, resp, nil
}
