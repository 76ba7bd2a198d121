package inference

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-rehearse/internal/config"
)

// New builds the provider selected by cfg. It returns nil, nil for
// config.ProviderNone, and for a provider whose API key is missing so
// callers fall back to canned text.
func New(cfg config.InferenceConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	groq := func() (Provider, error) {
		if cfg.APIKey == "" {
			return nil, nil
		}
		c, err := NewClient(
			WithBaseURL(cfg.BaseURL),
			WithAPIKey(cfg.APIKey),
			WithModel(cfg.Model),
			WithTimeout(cfg.Timeout),
			WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	gemini := func() (Provider, error) {
		if cfg.GeminiKey == "" {
			return nil, nil
		}
		g, err := NewGemini(
			WithAPIKey(cfg.GeminiKey),
			WithModel(cfg.GeminiModel),
			WithTimeout(cfg.Timeout),
			WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	switch cfg.Provider {
	case "", config.ProviderNone:
		return nil, nil
	case config.ProviderGroq:
		return groq()
	case config.ProviderGemini:
		return gemini()
	case config.ProviderChain:
		var providers []Provider
		for _, build := range []func() (Provider, error){groq, gemini} {
			p, err := build()
			if err != nil {
				return nil, err
			}
			if p != nil {
				providers = append(providers, p)
			}
		}
		if len(providers) == 0 {
			return nil, nil
		}
		chain, err := NewChainWithLogger(logger, providers...)
		if err != nil {
			return nil, err
		}
		return chain, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}
