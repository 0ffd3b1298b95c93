// Package client is the client half of the metering pipeline: an HTTP API
// client, the optimistic usage tracker, the conversation manager and the
// transcript assembler, tied together by Session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sadhana-metering/pkg/api"
	"sadhana-metering/pkg/metering"
)

// ErrUnauthenticated is returned for 401 responses.
var ErrUnauthenticated = errors.New("not authenticated")

// QuotaExceededError is returned when the server (or the local pre-check)
// refuses a metered operation. PlanRequired is set when the feature is not
// part of the caller's plan at all.
type QuotaExceededError struct {
	Feature      metering.Feature
	PlanRequired bool
	Message      string
}

func (e *QuotaExceededError) Error() string {
	if e.PlanRequired {
		return fmt.Sprintf("%s requires a paid plan: %s", e.Feature, e.Message)
	}
	return fmt.Sprintf("daily %s limit reached: %s", e.Feature, e.Message)
}

// UpstreamError is a network failure or a non-2xx status other than the
// ones mapped above.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed: %v", e.Err)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the metering server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// no timeout: a chat stream lasts as long as the model writes
	streamClient *http.Client
}

// New creates a client. Timeout applies to every call except ChatStream.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Token() string {
	return c.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp api.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", api.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

// Usage fetches today's counters and the effective plan.
func (c *Client) Usage(ctx context.Context) (*api.UsageResponse, error) {
	var resp api.UsageResponse
	if err := c.do(ctx, http.MethodGet, "/api/usage", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetUsage writes today's counter for feature (last writer wins).
func (c *Client) SetUsage(ctx context.Context, feature metering.Feature, count int) error {
	return c.do(ctx, http.MethodPut, "/api/usage/"+url.PathEscape(feature.String()), api.SetUsageRequest{Count: count}, nil)
}

// ChatStream opens a metered chat request. The returned body yields the raw
// concatenated text fragments; the caller must close it.
func (c *Client) ChatStream(ctx context.Context, req api.ChatRequest) (io.ReadCloser, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp, metering.FeatureChat)
	}
	return resp.Body, nil
}

// Identify submits a base64 image for identification.
func (c *Client) Identify(ctx context.Context, req api.IdentifyRequest) (*api.IdentifyResult, error) {
	var resp api.IdentifyResult
	if err := c.doFeature(ctx, http.MethodPost, "/api/identify", req, &resp, metering.FeatureIdentify); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]api.ConversationInfo, error) {
	var resp api.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) CreateConversation(ctx context.Context, firstMessage string) (*api.ConversationInfo, error) {
	var resp api.ConversationInfo
	if err := c.do(ctx, http.MethodPost, "/api/conversations", api.CreateConversationRequest{FirstMessage: firstMessage}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestConversation returns the most recently updated conversation, or
// nil when the user has none.
func (c *Client) LatestConversation(ctx context.Context) (*api.ConversationWithMessages, error) {
	var resp api.ConversationWithMessages
	err := c.do(ctx, http.MethodGet, "/api/conversations/latest", nil, &resp)
	var notFound *notFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Messages(ctx context.Context, conversationID string) ([]api.MessageData, error) {
	var resp api.MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) AddMessage(ctx context.Context, conversationID string, req api.AddMessageRequest) (*api.MessageData, error) {
	var resp api.MessageData
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TouchConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/touch", nil, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(conversationID), nil, nil)
}

type notFoundError struct {
	message string
}

func (e *notFoundError) Error() string {
	return "not found: " + e.message
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doFeature(ctx, method, path, body, out, "")
}

func (c *Client) doFeature(ctx context.Context, method, path string, body, out any, feature metering.Feature) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, feature)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// transportError keeps cancellation recognisable via errors.Is.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &UpstreamError{Err: err}
}

func statusError(resp *http.Response, feature metering.Feature) error {
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, body.Message)
	case http.StatusPaymentRequired:
		return &QuotaExceededError{Feature: feature, PlanRequired: true, Message: body.Message}
	case http.StatusTooManyRequests:
		if body.Kind == "rate_limited" {
			return &UpstreamError{StatusCode: resp.StatusCode, Message: body.Message}
		}
		return &QuotaExceededError{Feature: feature, Message: body.Message}
	case http.StatusNotFound:
		return &notFoundError{message: body.Message}
	default:
		return &UpstreamError{StatusCode: resp.StatusCode, Message: body.Message}
	}
}
