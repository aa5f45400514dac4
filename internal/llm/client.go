package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/tidwall/gjson"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// ClientConfig locates the inference API.
type ClientConfig struct {
	BaseURL      string
	GeneratePath string // e.g. "api/generate"
	TagsPath     string // e.g. "api/tags"
	Timeout      time.Duration
}

// Client talks to the generate and list-models endpoints. It makes exactly
// one attempt per call.
type Client struct {
	generateURL string
	tagsURL     string
	httpClient  *http.Client
}

// Generation is a successful generate response. EvalCount and EvalDuration
// are nil when the backend did not report them.
type Generation struct {
	Model        string
	Response     string
	EvalCount    *int64
	EvalDuration *int64 // nanoseconds
}

// NewClient resolves the endpoint URLs against the base URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	generateURL, err := resolve(base, cfg.GeneratePath)
	if err != nil {
		return nil, fmt.Errorf("parse generate path: %w", err)
	}
	tagsURL, err := resolve(base, cfg.TagsPath)
	if err != nil {
		return nil, fmt.Errorf("parse tags path: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		generateURL: generateURL,
		tagsURL:     tagsURL,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

func resolve(base *url.URL, path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Generate posts req to the generate endpoint. Failures are *HTTPError for a
// non-2xx status and *TransportError for everything that happened before a
// status was available or while reading the body.
func (c *Client) Generate(ctx context.Context, req *Request) (*Generation, error) {
	body, err := json.Marshal(req.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	respBody, err := c.do(ctx, http.MethodPost, c.generateURL, body)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(respBody) {
		return nil, &TransportError{Op: "generate", Err: ErrInvalidBody}
	}
	response := gjson.GetBytes(respBody, "response")
	if response.Type != gjson.String {
		return nil, &TransportError{Op: "generate", Err: ErrInvalidBody}
	}

	gen := &Generation{
		Model:        req.Model,
		Response:     response.String(),
		EvalCount:    optionalInt(respBody, "eval_count"),
		EvalDuration: optionalInt(respBody, "eval_duration"),
	}
	slog.Info("generate completed",
		"model", req.Model,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"len", len(gen.Response),
	)
	return gen, nil
}

// ListModels returns the names of the models the backend serves.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	respBody, err := c.do(ctx, http.MethodGet, c.tagsURL, nil)
	if err != nil {
		return nil, err
	}

	var list api.ListResponse
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, &TransportError{Op: "list models", Err: fmt.Errorf("%w: %v", ErrInvalidBody, err)}
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: method + " " + target, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func optionalInt(body []byte, path string) *int64 {
	r := gjson.GetBytes(body, path)
	if !r.Exists() || r.Type != gjson.Number {
		return nil
	}
	v := r.Int()
	return &v
}
