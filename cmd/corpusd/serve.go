package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/alignment"
	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/generation"
	"github.com/fyrsmithlabs/corpusd/internal/httpapi"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
	"github.com/fyrsmithlabs/corpusd/internal/reranker"
	"github.com/fyrsmithlabs/corpusd/internal/retriever"
	"github.com/fyrsmithlabs/corpusd/internal/telemetry"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the corpusd daemon",
	Long: `Start the corpusd HTTP API.

Initializes both stores, the embedding service, the ingestion coordinator,
the query pipeline, and (when enabled) the background alignment scanner,
then serves until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// engine holds every initialized service the daemon runs on.
type engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	meta     *metadata.Store
	vectors  vectorstore.Store
	embedder *embeddings.Service
	ingestor *ingest.Coordinator
	auditor  *alignment.Auditor
	pipeline *pipeline.Pipeline
}

// Close releases both stores. The logger is synced best-effort.
func (e *engine) Close() {
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil {
			e.logger.Warn("closing vector store", zap.Error(err))
		}
	}
	if e.meta != nil {
		if err := e.meta.Close(); err != nil {
			e.logger.Warn("closing metadata store", zap.Error(err))
		}
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// initEngine loads configuration and wires every service. When withGeneration
// is false the pipeline runs retrieval-only and all answers are degraded.
func initEngine(withGeneration bool) (*engine, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	e := &engine{cfg: cfg, logger: logger}

	e.meta, err = metadata.NewStore(cfg.Metadata.Path, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	e.vectors, err = vectorstore.NewStore(vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Collection: cfg.VectorStore.Chromem.Collection,
			VectorSize: cfg.Embeddings.VectorSize,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			Collection: cfg.VectorStore.Qdrant.Collection,
			VectorSize: uint64(cfg.Embeddings.VectorSize),
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
		},
	}, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	e.embedder, err = embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embeddings.BaseURL,
		Model:        cfg.Embeddings.Model,
		VectorSize:   cfg.Embeddings.VectorSize,
		Timeout:      cfg.Embeddings.Timeout,
		MaxRetries:   cfg.Embeddings.MaxRetries,
		RetryBackoff: cfg.Embeddings.RetryBackoff,
	}, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	ch, err := chunker.New(chunker.Config{
		ChunkSize: cfg.Chunker.ChunkSize,
		Overlap:   cfg.Chunker.Overlap,
	})
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	e.ingestor, err = ingest.NewCoordinator(ch, e.embedder, e.meta, e.vectors, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating ingestion coordinator: %w", err)
	}

	e.auditor, err = alignment.NewAuditor(e.meta, e.vectors, e.embedder, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating alignment auditor: %w", err)
	}

	ret, err := retriever.New(e.embedder, e.meta, e.vectors, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	var gen generation.Generator
	if withGeneration && cfg.Generation.Enabled {
		gen, err = generation.NewOllamaGenerator(generation.OllamaConfig{
			ServerURL:    cfg.Generation.BaseURL,
			DefaultModel: cfg.Generation.Model,
			CodeModel:    cfg.Generation.CodeModel,
			Timeout:      cfg.Generation.Timeout,
		}, logger)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("creating generator: %w", err)
		}
	}

	classifier := pipeline.NewKeywordClassifier(
		cfg.Pipeline.Intents.SQL,
		cfg.Pipeline.Intents.Similarity,
		cfg.Pipeline.Intents.Analytical,
	)

	e.pipeline, err = pipeline.New(pipeline.Config{
		Method:         cfg.Retrieval.EffectiveMethod(),
		TopK:           cfg.Retrieval.TopK,
		CandidateK:     cfg.Retrieval.CandidateK,
		SensitiveTerms: cfg.Pipeline.SensitiveTerms,
	}, classifier, ret, reranker.NewTermOverlapReranker(), gen, e.meta, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("creating query pipeline: %w", err)
	}

	return e, nil
}

// runServe starts the daemon and blocks until the context is cancelled.
func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := initEngine(true)
	if err != nil {
		return err
	}
	defer e.Close()

	logger := e.logger
	cfg := e.cfg

	logger.Info("starting corpusd",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("retrieval_method", cfg.Retrieval.EffectiveMethod()),
		zap.Bool("generation", cfg.Generation.Enabled),
	)

	tel, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	if err := e.vectors.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring vector collection: %w", err)
	}

	var scanner *alignment.Scanner
	if cfg.Alignment.Enabled {
		scanner = alignment.NewScanner(e.auditor, alignment.ScannerConfig{
			Interval: cfg.Alignment.Interval,
		}, logger)
		scanner.Start(ctx)
		defer scanner.Stop()

		logger.Info("alignment scanner started", zap.Duration("interval", cfg.Alignment.Interval))
	}

	srv, err := httpapi.NewServer(e.ingestor, e.pipeline, e.auditor, e.meta, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
