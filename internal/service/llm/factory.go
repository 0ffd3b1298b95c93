package llm

import (
	"fmt"
	"net/http"

	"sadhana-metering/internal/config"
	"sadhana-metering/internal/logger"
)

// NewStreamProvider creates the chat provider named by cfg.Provider.
func NewStreamProvider(cfg *config.LLMConfig, client *http.Client) (StreamProvider, error) {
	switch cfg.Provider {
	case config.ProviderOpenRouter, "":
		logger.Log.WithField("model", cfg.Model).Info("Using OpenRouter stream provider")
		return NewOpenRouterProvider(cfg, client), nil
	case config.ProviderAnthropic:
		logger.Log.WithField("model", cfg.Model).Info("Using Anthropic stream provider")
		return NewAnthropicProvider(cfg, client), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
