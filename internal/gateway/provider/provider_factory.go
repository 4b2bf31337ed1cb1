package provider

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"imagereader/internal/logger"
	"imagereader/internal/pkg/circuit"
)

type ModelCfg struct {
	Provider, APIURL, APIKey, Model string
	Headers                         map[string]string
	Temperature                     *float64
	Timeout                         time.Duration
	BreakerThreshold                int
	BreakerCooldown                 time.Duration
	HTTPClient                      *http.Client
}

// BuildFromConfig returns the configured dialect wrapped in a Guarded
// provider carrying the per-call timeout and the circuit breaker.
func BuildFromConfig(cfg ModelCfg) (*Guarded, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if kind == "" {
		kind = "ollama"
	}
	id := fmt.Sprintf("%s:%s", kind, strings.TrimSpace(cfg.Model))
	var inner ModelProvider
	switch kind {
	case "ollama":
		inner = NewOllamaChatClient(OllamaOptions{
			ID:          id,
			BaseURL:     cfg.APIURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			HTTPClient:  cfg.HTTPClient,
		})
	case "openai":
		inner = NewOpenAIChatClient(OpenAIOptions{
			ID:           id,
			BaseURL:      cfg.APIURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Temperature:  cfg.Temperature,
			ExtraHeaders: cfg.Headers,
			HTTPClient:   cfg.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	var breaker *circuit.CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		breaker = circuit.NewCircuitBreaker(id, cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	logger.Infof("model provider %s at %s (timeout=%s, breaker=%d)", id, cfg.APIURL, cfg.Timeout, cfg.BreakerThreshold)
	return NewGuarded(inner, cfg.Timeout, breaker), nil
}
