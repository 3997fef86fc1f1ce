// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a vector store backend.
type Config struct {
	// Provider selects the backend: "chromem" (default) or "qdrant".
	Provider string

	// Chromem configures the embedded chromem backend.
	Chromem ChromemConfig

	// Qdrant configures the external Qdrant backend.
	Qdrant QdrantConfig
}

// NewStore creates a Store based on the configured provider.
//
//   - "chromem" (default): embedded ChromemStore, no external services
//   - "qdrant": QdrantStore, requires a running Qdrant server
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
