package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/config"
	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/api"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider streams from the Anthropic Messages API.
type AnthropicProvider struct {
	config *config.LLMConfig
	client *http.Client
}

func NewAnthropicProvider(llmConfig *config.LLMConfig, client *http.Client) *AnthropicProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicProvider{config: llmConfig, client: client}
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

func (p *AnthropicProvider) Name() string {
	return config.ProviderAnthropic
}

// ChatStream sends the conversation to /messages. The API requires the
// first message to come from the user, so leading assistant turns left by
// history truncation are dropped.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	if p.config.AnthropicAPIKey == "" {
		return nil, apperr.Upstream("ANTHROPIC_API_KEY not configured", nil)
	}

	turns := req.Turns
	for len(turns) > 0 && turns[0].Role != api.RoleUser {
		turns = turns[1:]
	}

	system := p.config.DefaultSystemPrompt
	if req.System != "" {
		system = system + "\n\n" + req.System
	}

	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	logger.Log.WithFields(logrus.Fields{
		"model":         p.config.Model,
		"message_count": len(turns),
	}).Info("Calling Anthropic API (streaming)")

	jsonData, err := json.Marshal(anthropicRequest{
		Model:     p.config.Model,
		System:    system,
		Messages:  toMessages(turns),
		MaxTokens: maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	url := strings.TrimRight(p.config.AnthropicBaseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", p.config.AnthropicAPIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Upstream("error sending request", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return pump(ctx, p.Name(), resp.Body, extractAnthropic), nil
}

// extractAnthropic emits text from content_block_delta/text_delta events,
// ends on message_stop and fails on error events. Other events carry no text.
func extractAnthropic(f Frame) (string, bool, error) {
	if !gjson.Valid(f.Data) {
		return "", false, fmt.Errorf("%w: %.64q", errMalformedFrame, f.Data)
	}

	eventType := gjson.Get(f.Data, "type").String()
	if eventType == "" {
		eventType = f.Event
	}

	switch eventType {
	case "content_block_delta":
		if gjson.Get(f.Data, "delta.type").String() != "text_delta" {
			return "", false, nil
		}
		return gjson.Get(f.Data, "delta.text").String(), false, nil
	case "message_stop":
		return "", true, nil
	case "error":
		msg := gjson.Get(f.Data, "error.message").String()
		if msg == "" {
			msg = "unknown upstream error"
		}
		return "", false, errors.New(msg)
	default:
		return "", false, nil
	}
}
