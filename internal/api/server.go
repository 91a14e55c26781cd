// Package api serves the invoice pipeline over HTTP.
//
// Routes:
//
//	POST /api/v1/invoices/extract  JSON OCR output in, invoice record out
//	POST /api/v1/invoices/upload   multipart "file" (image or PDF), OCR then pipeline
//	GET  /health
//	GET  /metrics
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/metrics"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/pipeline"
)

const requestIDHeader = "X-Request-ID"

// Pinger reports database health
type Pinger interface {
	Ping() error
}

// Options wires the server. Only Processor is required.
type Options struct {
	Processor *pipeline.Processor
	OCR       ocr.TextExtractor   // Nil disables uploads
	Enricher  enrichment.Enricher // Optional structured parser run next to OCR
	Repo      pipeline.Repository // Nil disables saving
	Validator ocr.FileValidator
	Metrics   *metrics.Recorder
	DB        Pinger
	Language  string
}

// Server is the HTTP front of the pipeline
type Server struct {
	opts   Options
	engine *gin.Engine
	log    zerolog.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		opts: opts,
		log:  logger.WithComponent("api"),
	}

	engine := gin.New()
	engine.Use(s.requestID(), s.requestLogger(), s.recovery())
	engine.MaxMultipartMemory = 8 << 20

	engine.GET("/health", s.health)
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	v1 := engine.Group("/api/v1/invoices")
	v1.POST("/extract", s.extract)
	v1.POST("/upload", s.upload)

	s.engine = engine
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		reqLogger := logger.WithRequestID(id)
		c.Request = c.Request.WithContext(logger.IntoContext(c.Request.Context(), reqLogger))
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := s.log.Info()
		switch {
		case status >= 500:
			event = s.log.Error()
		case status >= 400:
			event = s.log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Strs("errors", c.Errors.Errors())
		}
		event.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP Request")
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().
					Str("request_id", c.GetString("request_id")).
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Msg("Panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
		}()
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	if s.opts.DB != nil {
		if err := s.opts.DB.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
