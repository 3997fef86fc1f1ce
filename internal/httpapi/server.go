// Package httpapi provides the HTTP API for corpusd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/alignment"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
)

// Ingestor runs document ingestion and deletion.
type Ingestor interface {
	AddDocument(ctx context.Context, req ingest.Request) (ingest.Result, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// QueryProcessor runs the query pipeline.
type QueryProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// Auditor checks and repairs store alignment.
type Auditor interface {
	Check(ctx context.Context) (*alignment.Report, error)
	Repair(ctx context.Context) (*alignment.RepairResult, error)
}

// Catalog reads document and query log rows.
type Catalog interface {
	ListDocuments(ctx context.Context) ([]metadata.Document, error)
	GetDocument(ctx context.Context, documentID string) (metadata.Document, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	RecentQueryLogs(ctx context.Context, limit int) ([]metadata.QueryLog, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for corpusd.
type Server struct {
	echo     *echo.Echo
	ingestor Ingestor
	queries  QueryProcessor
	auditor  Auditor
	catalog  Catalog
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(ingestor Ingestor, queries QueryProcessor, auditor Auditor, catalog Catalog, logger *zap.Logger, cfg *Config) (*Server, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor cannot be nil")
	}
	if queries == nil {
		return nil, fmt.Errorf("query processor cannot be nil")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor cannot be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		ingestor: ingestor,
		queries:  queries,
		auditor:  auditor,
		catalog:  catalog,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleIngest)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.POST("/query", s.handleQuery)
	v1.GET("/alignment", s.handleAlignmentCheck)
	v1.POST("/alignment/repair", s.handleAlignmentRepair)
	v1.GET("/query-logs", s.handleQueryLogs)
}

// IngestRequest is the request body for POST /api/v1/documents.
type IngestRequest struct {
	DocumentID  string            `json:"document_id,omitempty"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Replace     bool              `json:"replace,omitempty"`
}

// DocumentResponse is the response body for GET /api/v1/documents/:id.
type DocumentResponse struct {
	ID          string    `json:"document_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
	ChunkCount  int       `json:"chunk_count"`
}

// QueryLogEntry is one row in the GET /api/v1/query-logs response.
type QueryLogEntry struct {
	ID            int64     `json:"id"`
	QueryText     string    `json:"query_text"`
	Timestamp     time.Time `json:"timestamp"`
	ExecutionTime float64   `json:"execution_time"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleIngest ingests a document into both stores.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.ingestor.AddDocument(c.Request().Context(), ingest.Request{
		DocumentID:  req.DocumentID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Content:     req.Content,
		Metadata:    req.Metadata,
		Replace:     req.Replace,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyDocument) {
			return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
		}
		if errors.Is(err, ingest.ErrAlreadyExists) {
			return c.JSON(http.StatusConflict, result)
		}
		s.logger.Error("ingestion failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "ingestion failed")
	}

	return c.JSON(http.StatusCreated, result)
}

// handleListDocuments lists all documents, newest first.
func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.catalog.ListDocuments(c.Request().Context())
	if err != nil {
		s.logger.Error("listing documents failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing documents failed")
	}

	out := make([]DocumentResponse, len(docs))
	for i, doc := range docs {
		out[i] = DocumentResponse{
			ID:          doc.ID,
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			CreatedAt:   doc.CreatedAt,
			Status:      doc.Status,
		}
	}
	return c.JSON(http.StatusOK, out)
}

// handleGetDocument returns one document with its chunk count.
func (s *Server) handleGetDocument(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	doc, err := s.catalog.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		s.logger.Error("reading document failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reading document failed")
	}

	count, err := s.catalog.CountChunks(ctx, id)
	if err != nil {
		s.logger.Error("counting chunks failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reading document failed")
	}

	return c.JSON(http.StatusOK, DocumentResponse{
		ID:          doc.ID,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		CreatedAt:   doc.CreatedAt,
		Status:      doc.Status,
		ChunkCount:  count,
	})
}

// handleDeleteDocument removes a document from both stores.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	id := c.Param("id")

	if err := s.ingestor.DeleteDocument(c.Request().Context(), id); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		s.logger.Error("deleting document failed", zap.String("document_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "deleting document failed")
	}

	return c.NoContent(http.StatusNoContent)
}

// handleQuery runs one query through the pipeline. Blocked queries return
// 403 with the response body; validation failures return 400.
func (s *Server) handleQuery(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.queries.Process(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	if resp.Blocked {
		return c.JSON(http.StatusForbidden, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleAlignmentCheck runs a read-only alignment check.
func (s *Server) handleAlignmentCheck(c echo.Context) error {
	report, err := s.auditor.Check(c.Request().Context())
	if err != nil {
		s.logger.Error("alignment check failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "alignment check failed")
	}
	return c.JSON(http.StatusOK, report)
}

// handleAlignmentRepair repairs detected drift.
func (s *Server) handleAlignmentRepair(c echo.Context) error {
	result, err := s.auditor.Repair(c.Request().Context())
	if err != nil {
		s.logger.Error("alignment repair failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "alignment repair failed")
	}
	return c.JSON(http.StatusOK, result)
}

// handleQueryLogs returns recent query log rows, newest first.
func (s *Server) handleQueryLogs(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	logs, err := s.catalog.RecentQueryLogs(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("reading query logs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "reading query logs failed")
	}

	out := make([]QueryLogEntry, len(logs))
	for i, l := range logs {
		out[i] = QueryLogEntry{
			ID:            l.ID,
			QueryText:     l.QueryText,
			Timestamp:     l.Timestamp,
			ExecutionTime: l.ExecutionTime,
		}
	}
	return c.JSON(http.StatusOK, out)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
