// Package config provides configuration loading for corpusd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults filling the gaps.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/telemetry"
)

// Config holds the complete corpusd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Metadata    MetadataConfig    `koanf:"metadata"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Alignment   AlignmentConfig   `koanf:"alignment"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetadataConfig holds the SQLite metadata store configuration.
type MetadataConfig struct {
	Path string `koanf:"path"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider string             `koanf:"provider"`
	Qdrant   QdrantStoreConfig  `koanf:"qdrant"`
	Chromem  ChromemStoreConfig `koanf:"chromem"`
}

// QdrantStoreConfig holds Qdrant connection settings.
type QdrantStoreConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
}

// ChromemStoreConfig holds embedded chromem store settings.
type ChromemStoreConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
}

// EmbeddingsConfig holds embedding backend settings.
type EmbeddingsConfig struct {
	BaseURL      string        `koanf:"base_url"`
	Model        string        `koanf:"model"`
	VectorSize   int           `koanf:"vector_size"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	Model     string        `koanf:"model"`
	CodeModel string        `koanf:"code_model"`
	Timeout   time.Duration `koanf:"timeout"`
}

// ChunkerConfig holds document chunking settings.
type ChunkerConfig struct {
	ChunkSize int `koanf:"chunk_size"`
	Overlap   int `koanf:"overlap"`
}

// RetrievalConfig holds retrieval settings.
type RetrievalConfig struct {
	TopK           int    `koanf:"top_k"`
	CandidateK     int    `koanf:"candidate_k"`
	Method         string `koanf:"method"`
	LexicalEnabled bool   `koanf:"lexical_enabled"`
}

// EffectiveMethod resolves the retrieval method to run with. Hybrid
// retrieval needs the lexical index, so it downgrades to vector-only
// when lexical search is disabled.
func (c RetrievalConfig) EffectiveMethod() string {
	if c.Method == "hybrid" && !c.LexicalEnabled {
		return "vector"
	}
	return c.Method
}

// PipelineConfig holds query pipeline settings.
type PipelineConfig struct {
	SensitiveTerms []string      `koanf:"sensitive_terms"`
	Intents        IntentsConfig `koanf:"intents"`
}

// IntentsConfig holds per-intent classifier keyword overrides. Empty lists
// use the built-in defaults.
type IntentsConfig struct {
	SQL        []string `koanf:"sql"`
	Similarity []string `koanf:"similarity"`
	Analytical []string `koanf:"analytical"`
}

// AlignmentConfig holds background alignment scanner settings.
type AlignmentConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - Vector store provider is unknown
//   - Chunker overlap is negative or >= chunk size
//   - Retrieval method is unknown
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vector store provider: %q (expected chromem or qdrant)", c.VectorStore.Provider)
	}

	if c.Embeddings.VectorSize < 1 {
		return fmt.Errorf("invalid embedding vector size: %d", c.Embeddings.VectorSize)
	}

	if c.Chunker.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("invalid chunk overlap: %d (must be in [0, chunk_size))", c.Chunker.Overlap)
	}

	switch c.Retrieval.Method {
	case "vector", "hybrid":
	default:
		return fmt.Errorf("unknown retrieval method: %q (expected vector or hybrid)", c.Retrieval.Method)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("invalid retrieval top_k: %d", c.Retrieval.TopK)
	}
	if c.Retrieval.CandidateK < c.Retrieval.TopK {
		return fmt.Errorf("retrieval candidate_k (%d) must be >= top_k (%d)",
			c.Retrieval.CandidateK, c.Retrieval.TopK)
	}

	if c.Alignment.Enabled && c.Alignment.Interval <= 0 {
		return errors.New("alignment interval must be positive when the scanner is enabled")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return err
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Metadata.Path == "" {
		cfg.Metadata.Path = "~/.config/corpusd/metadata.db"
	}

	// VectorStore defaults (chromem is default - embedded, no external deps)
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/corpusd/vectorstore"
	}
	if cfg.VectorStore.Chromem.Collection == "" {
		cfg.VectorStore.Chromem.Collection = "corpusd_chunks"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "corpusd_chunks"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-large-en-v1.5"
	}
	if cfg.Embeddings.VectorSize == 0 {
		cfg.Embeddings.VectorSize = 1024 // bge-large-en-v1.5 dimensions
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}
	if cfg.Embeddings.MaxRetries == 0 {
		cfg.Embeddings.MaxRetries = 3
	}
	if cfg.Embeddings.RetryBackoff == 0 {
		cfg.Embeddings.RetryBackoff = time.Second
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:11434"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama3"
	}
	if cfg.Generation.CodeModel == "" {
		cfg.Generation.CodeModel = cfg.Generation.Model
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 200
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.CandidateK == 0 {
		cfg.Retrieval.CandidateK = cfg.Retrieval.TopK * 2
	}
	if cfg.Retrieval.Method == "" {
		cfg.Retrieval.Method = "hybrid"
	}

	if cfg.Alignment.Interval == 0 {
		cfg.Alignment.Interval = 5 * time.Minute
	}

	tdef := telemetry.NewDefaultConfig()
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = tdef.Endpoint
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = tdef.Protocol
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = tdef.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = tdef.ServiceVersion
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = tdef.SampleRate
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = tdef.ShutdownTimeout
	}
}
