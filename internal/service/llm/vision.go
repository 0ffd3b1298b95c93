package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/config"
	"sadhana-metering/internal/logger"
	"sadhana-metering/pkg/api"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

const identifyPrompt = `You identify Hindu deities, temples, sacred symbols and ritual objects in photographs.
Respond with a single JSON object and nothing else, using exactly these keys:
name (string), type (one of "deity", "temple", "symbol", "object", "unknown"), confidence (number 0..1),
description (string), significance (string), attributes (array of strings), associated_with (array of strings),
mantras (array of strings), best_time_to_worship (string), interesting_fact (string), location (string).
Use empty strings or empty arrays when a field does not apply. If nothing sacred is visible, set type to "unknown" and confidence to 0.`

// OpenAIVisionProvider calls an OpenAI-compatible vision model.
type OpenAIVisionProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIVisionProvider(cfg config.VisionConfig, httpClient *http.Client) *OpenAIVisionProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}
	return &OpenAIVisionProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// Identify sends the image inline as a data URL and decodes the model's
// JSON answer into the fixed result schema.
func (p *OpenAIVisionProvider) Identify(ctx context.Context, image []byte, mimeType string) (*api.IdentifyResult, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	logger.Log.WithFields(logrus.Fields{
		"model":     p.model,
		"mime_type": mimeType,
		"bytes":     len(image),
	}).Info("Calling vision model")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: identifyPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Identify what is shown in this photo."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, apperr.Upstream(fmt.Sprintf("vision API returned status %d", apiErr.HTTPStatusCode), err)
		}
		return nil, apperr.Upstream("vision request failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.Upstream("vision model returned no choices", nil)
	}

	return ParseIdentifyResult(resp.Choices[0].Message.Content)
}

// ParseIdentifyResult decodes a model answer, tolerating a surrounding
// markdown code fence. Missing arrays decode as empty.
func ParseIdentifyResult(content string) (*api.IdentifyResult, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var result api.IdentifyResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, apperr.Upstream("vision model returned malformed JSON", err)
	}

	for _, s := range []*[]string{&result.Attributes, &result.AssociatedWith, &result.Mantras} {
		if *s == nil {
			*s = []string{}
		}
	}
	result.Confidence = min(max(result.Confidence, 0), 1)
	return &result, nil
}
