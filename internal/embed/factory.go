package embed

import (
	"github.com/Aman-CERP/codescout/internal/config"
	"github.com/Aman-CERP/codescout/internal/errors"
)

// New builds the configured embedder, wrapped in the content cache.
// Returns nil when semantic search is disabled.
func New(cfg config.SemanticConfig) (Embedder, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Provider {
	case "", "ollama":
		return NewCached(NewOllama(OllamaOptions{
			Host:       cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimension,
		}), 0), nil
	case "static":
		return NewCached(NewStatic(), 0), nil
	default:
		return nil, errors.New(errors.CodeConfigInvalid, "unknown embedding provider: "+cfg.Provider, nil)
	}
}
