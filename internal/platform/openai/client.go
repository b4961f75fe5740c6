// Package openai talks to the OpenAI Responses and Embeddings endpoints over
// plain HTTP. The Client satisfies llm.Generator and llm.Embedder.
package openai

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

	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/envutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/httpx"
	"github.com/yungbote/neurobridge-chat/internal/platform/llm"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

const (
	defaultBaseURL    = "https://api.openai.com"
	defaultModel      = "gpt-4.1-mini"
	defaultEmbedModel = "text-embedding-3-small"
	maxErrorBody      = 4 << 10
)

type Client struct {
	log            *logger.Logger
	baseURL        string
	apiKey         string
	model          string
	reasoningModel string
	embedModel     string
	// httpClient carries a whole-request timeout; streamClient has none and
	// is bounded by the caller's context.
	httpClient   *http.Client
	streamClient *http.Client
	retry        httpx.Policy
}

var (
	_ llm.Generator = (*Client)(nil)
	_ llm.Embedder  = (*Client)(nil)
)

// NewClient reads OPENAI_* settings from the environment. Only
// OPENAI_API_KEY is required.
func NewClient(log *logger.Logger) (*Client, error) {
	apiKey := envutil.String(nil, "OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	log = log.With("client", "OpenAI")

	retry := httpx.DefaultPolicy()
	if n := envutil.Int(log, "OPENAI_MAX_RETRIES", retry.Retries); n >= 0 {
		retry.Retries = n
	}
	timeout := envutil.Duration(log, "OPENAI_TIMEOUT", 60*time.Second)

	c := &Client{
		log:            log,
		baseURL:        strings.TrimRight(envutil.String(log, "OPENAI_BASE_URL", defaultBaseURL), "/"),
		apiKey:         apiKey,
		model:          envutil.String(log, "OPENAI_MODEL", defaultModel),
		reasoningModel: envutil.String(log, "OPENAI_REASONING_MODEL", ""),
		embedModel:     envutil.String(log, "OPENAI_EMBED_MODEL", defaultEmbedModel),
		httpClient:     &http.Client{Timeout: timeout},
		streamClient:   &http.Client{},
		retry:          retry,
	}
	c.retry.OnRetry = c.logRetry
	return c, nil
}

// Model is the default model name, used to label usage and metrics.
func (c *Client) Model() string { return c.model }

func (c *Client) logRetry(attempt int, wait time.Duration, err error) {
	c.log.Warn("openai request retrying",
		"attempt", attempt,
		"max_retries", c.retry.Retries,
		"wait", wait.String(),
		"error", err,
	)
}

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai: http %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// IsHTTPStatus reports whether err is an upstream error with the given status.
func IsHTTPStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == status
}

// statusError drains and closes a failed response body.
func statusError(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

func (c *Client) newRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// postJSON sends body and decodes a 2xx reply into out, retrying per policy.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := c.newRequest(ctx, path, body)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			return resp, statusError(resp)
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("openai: decode %s: %w", path, err)
		}
		return resp, nil
	})
}

// openStream posts body and returns the open event-stream response. Retries
// only happen here, before any output has been relayed.
func (c *Client) openStream(ctx context.Context, path string, body any) (*http.Response, error) {
	var open *http.Response
	err := c.retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := c.newRequest(ctx, path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := c.streamClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode/100 != 2 {
			return resp, statusError(resp)
		}
		open = resp
		return resp, nil
	})
	return open, err
}
