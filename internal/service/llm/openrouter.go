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

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// OpenRouterProvider streams from an OpenAI-compatible chat completions API.
type OpenRouterProvider struct {
	config *config.LLMConfig
	client *http.Client
}

func NewOpenRouterProvider(llmConfig *config.LLMConfig, client *http.Client) *OpenRouterProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenRouterProvider{config: llmConfig, client: client}
}

type openRouterRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

func (p *OpenRouterProvider) Name() string {
	return config.ProviderOpenRouter
}

func (p *OpenRouterProvider) buildMessages(req StreamRequest) []Message {
	systemPrompt := p.config.DefaultSystemPrompt
	if req.System != "" {
		systemPrompt = systemPrompt + "\n\n" + req.System
	}
	return append([]Message{{Role: "system", Content: systemPrompt}}, toMessages(req.Turns)...)
}

// ChatStream sends the conversation with stream enabled and translates the
// SSE response into text chunks.
func (p *OpenRouterProvider) ChatStream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	if p.config.OpenRouterAPIKey == "" {
		return nil, apperr.Upstream("OPENROUTER_API_KEY not configured", nil)
	}

	logger.Log.WithFields(logrus.Fields{
		"model":         p.config.Model,
		"message_count": len(req.Turns),
	}).Info("Calling OpenRouter API (streaming)")

	jsonData, err := json.Marshal(openRouterRequest{
		Model:     p.config.Model,
		Messages:  p.buildMessages(req),
		Stream:    true,
		MaxTokens: p.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	url := strings.TrimRight(p.config.OpenRouterBaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.OpenRouterAPIKey)
	httpReq.Header.Set("X-Title", "Sadhana")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Upstream("error sending request", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return pump(ctx, p.Name(), resp.Body, extractOpenRouter), nil
}

// extractOpenRouter reads choices[0].delta.content; "[DONE]" ends the stream
// and an "error" object fails it.
func extractOpenRouter(f Frame) (string, bool, error) {
	if f.Data == "[DONE]" {
		return "", true, nil
	}
	if !gjson.Valid(f.Data) {
		return "", false, fmt.Errorf("%w: %.64q", errMalformedFrame, f.Data)
	}
	if e := gjson.Get(f.Data, "error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return "", false, errors.New(msg)
	}
	return gjson.Get(f.Data, "choices.0.delta.content").String(), false, nil
}
