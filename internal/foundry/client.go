// ABOUTME: REST client for the Foundry Agents threads API
// ABOUTME: Creates threads and messages, runs the agent with polling, lists messages

package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/2389/foundry-relay/internal/credential"
)

const (
	defaultAPIVersion   = "v1"
	defaultPollInterval = time.Second
	defaultHTTPTimeout  = 120 * time.Second
	pageSize            = 100
	maxErrorBody        = 64 << 10
)

// Config configures a Client.
type Config struct {
	// Endpoint is the project endpoint, e.g. https://<resource>.services.ai.azure.com/api/projects/<project>.
	Endpoint     string
	APIVersion   string
	PollInterval time.Duration
	Authorizer   credential.Authorizer
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client calls the Foundry Agents REST API.
type Client struct {
	endpoint     string
	apiVersion   string
	pollInterval time.Duration
	auth         credential.Authorizer
	http         *http.Client
	logger       *slog.Logger
}

// NewClient creates a Client. Endpoint and Authorizer are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		endpoint:     strings.TrimSuffix(cfg.Endpoint, "/"),
		apiVersion:   cfg.APIVersion,
		pollInterval: cfg.PollInterval,
		auth:         cfg.Authorizer,
		http:         cfg.HTTPClient,
		logger:       cfg.Logger.With("component", "foundry"),
	}, nil
}

// CreateThread starts an empty thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", nil, struct{}{}, &thread); err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	c.logger.Debug("thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

// CreateMessage appends a text message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error) {
	body := map[string]string{"role": role, "content": content}

	var msg Message
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", nil, body, &msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	return &msg, nil
}

// CreateAndProcessRun starts a run of agentID over the thread and polls it
// until it reaches a terminal status. The terminal run is returned whatever
// its status; callers decide what counts as failure.
func (c *Client) CreateAndProcessRun(ctx context.Context, threadID, agentID string) (*Run, error) {
	runsPath := "/threads/" + url.PathEscape(threadID) + "/runs"

	var run Run
	if err := c.do(ctx, http.MethodPost, runsPath, nil, map[string]string{"assistant_id": agentID}, &run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	c.logger.Debug("run created", "thread_id", threadID, "run_id", run.ID, "status", run.Status)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for !run.Terminal() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for run %s: %w", run.ID, ctx.Err())
		case <-ticker.C:
		}

		if err := c.do(ctx, http.MethodGet, runsPath+"/"+url.PathEscape(run.ID), nil, nil, &run); err != nil {
			return nil, fmt.Errorf("polling run: %w", err)
		}
	}

	c.logger.Debug("run finished", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
	return &run, nil
}

// ListMessages returns every message in the thread in the given order.
func (c *Client) ListMessages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	if order == "" {
		order = Ascending
	}

	var (
		all   []Message
		after string
	)
	for {
		q := url.Values{}
		q.Set("order", string(order))
		q.Set("limit", strconv.Itoa(pageSize))
		if after != "" {
			q.Set("after", after)
		}

		var page messageList
		if err := c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/messages", q, nil, &page); err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		all = append(all, page.Data...)

		if !page.HasMore || page.LastID == "" || page.LastID == after {
			return all, nil
		}
		after = page.LastID
	}
}

// do sends one request. A nil body sends no payload; out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	endpoint := c.endpoint + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.auth.Authorize(ctx, req); err != nil {
		return fmt.Errorf("authorizing request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
