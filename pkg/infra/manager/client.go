// Package manager is the HTTP client of the pipeline manager API.
package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jguan/pipeline-console/pkg/unit"
)

const defaultBaseURL = "http://localhost:8080"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Message != "" {
		return e.Body.Message
	}
	return fmt.Sprintf("pipeline manager returned status %d", e.StatusCode)
}

// Unwrap exposes an error code so callers can use the unit predicates.
func (e *APIError) Unwrap() error {
	return unit.NewError(unit.CodeFromHTTPStatus(e.StatusCode), e.Body.ErrorCode)
}

func pipelinePath(id string, rest ...string) string {
	p := "/v0/pipelines/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) ListPipelines(ctx context.Context) ([]Pipeline, error) {
	var out []Pipeline
	if err := c.doRequest(ctx, http.MethodGet, "/v0/pipelines", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	var out Pipeline
	if err := c.doRequest(ctx, http.MethodGet, pipelinePath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPipelineConfig returns the rendered runtime configuration (YAML text).
func (c *Client) GetPipelineConfig(ctx context.Context, id string) (string, error) {
	var out string
	if err := c.doRequest(ctx, http.MethodGet, pipelinePath(id, "config"), nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

// PipelineDeployed returns the last deployed revision, or nil when the
// pipeline was never deployed.
func (c *Client) PipelineDeployed(ctx context.Context, id string) (*PipelineRevision, error) {
	var out *PipelineRevision
	if err := c.doRequest(ctx, http.MethodGet, pipelinePath(id, "deployed"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PipelineValidate returns the validation message of a pipeline.
func (c *Client) PipelineValidate(ctx context.Context, id string) (string, error) {
	var out string
	if err := c.doRequest(ctx, http.MethodGet, pipelinePath(id, "validate"), nil, &out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) PipelineStats(ctx context.Context, id string) (*PipelineStats, error) {
	var out PipelineStats
	if err := c.doRequest(ctx, http.MethodGet, pipelinePath(id, "stats"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PipelineAction issues a lifecycle command. The manager acknowledges the
// command and converges asynchronously.
func (c *Client) PipelineAction(ctx context.Context, id string, action PipelineAction) error {
	switch action {
	case ActionStart, ActionPause, ActionShutdown:
	default:
		return unit.NewError(unit.ErrCodeInvalidInput, fmt.Sprintf("unknown pipeline action %q", action))
	}
	return c.doRequest(ctx, http.MethodPost, pipelinePath(id, string(action)), nil, nil)
}

func (c *Client) DeletePipeline(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, pipelinePath(id), nil, nil)
}

func (c *Client) UpdatePipeline(ctx context.Context, id string, req UpdatePipelineRequest) (*UpdatePipelineResponse, error) {
	var out UpdatePipelineResponse
	if err := c.doRequest(ctx, http.MethodPatch, pipelinePath(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProgram(ctx context.Context, id string, withCode bool) (*ProgramDescr, error) {
	path := "/v0/programs/" + url.PathEscape(id)
	if withCode {
		path += "?with_code=true"
	}
	var out ProgramDescr
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	respData, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode}
		if json.Unmarshal(respData, &apiErr.Body) != nil || apiErr.Body.Message == "" {
			apiErr.Body.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody != nil && len(bytes.TrimSpace(respData)) > 0 {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
