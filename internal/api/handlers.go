package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/ocr"
	"invoiceocr/pkg/models"
)

// ExtractRequest is OCR output produced elsewhere
type ExtractRequest struct {
	Text       string        `json:"text"`
	Words      []models.Word `json:"words"`
	Confidence float64       `json:"confidence"`
	Language   string        `json:"language"`
	Filename   string        `json:"filename"`
	Save       bool          `json:"save"`
}

// InvoiceResponse carries the assembled record
type InvoiceResponse struct {
	Invoice  *models.InvoiceRecord `json:"invoice"`
	Accepted bool                  `json:"accepted"`
	Saved    bool                  `json:"saved"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Text == "" && len(req.Words) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "text or words required"})
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "confidence must be within [0,1]"})
		return
	}

	doc := models.RawDocument{
		Text:       req.Text,
		Words:      req.Words,
		Confidence: req.Confidence,
		Language:   req.Language,
	}
	s.respond(c, doc, nil, req.Filename, req.Save)
}

func (s *Server) upload(c *gin.Context) {
	const op = "upload"

	if s.opts.OCR == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "OCR is not configured"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required"})
		return
	}
	if err := s.opts.Validator.Validate(header.Filename, header.Size); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ocr.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	filename := filepath.Base(header.Filename)

	result, err := s.opts.OCR.ExtractText(ctx, bytes.NewReader(content), s.opts.Language)
	if err != nil {
		log.Error().Err(err).Str("op", op).Str("filename", filename).Msg("OCR failed")
		c.JSON(ocrStatus(err), errorResponse{Error: err.Error()})
		return
	}

	var enriched *enrichment.Result
	if s.opts.Enricher != nil {
		enriched, err = s.opts.Enricher.Enrich(ctx, content, "")
		if err != nil {
			log.Warn().Err(err).Str("filename", filename).Msg("Enrichment failed, using OCR text only")
			enriched = nil
		}
	}

	save := c.DefaultPostForm("save", "true") == "true"
	s.respond(c, result.Document(s.opts.Language), enriched, filename, save)
}

func (s *Server) respond(c *gin.Context, doc models.RawDocument, enriched *enrichment.Result, filename string, save bool) {
	ctx := c.Request.Context()

	if !save || s.opts.Repo == nil {
		rec := s.opts.Processor.ProcessWithEnrichment(ctx, doc, enriched, filename)
		c.JSON(http.StatusOK, InvoiceResponse{Invoice: rec, Accepted: s.opts.Processor.Accept(rec)})
		return
	}

	rec, err := s.opts.Processor.ProcessAndStore(ctx, s.opts.Repo, doc, enriched, filename)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, InvoiceResponse{Invoice: rec, Accepted: s.opts.Processor.Accept(rec), Saved: true})
}

func ocrStatus(err error) int {
	switch {
	case errors.Is(err, ocr.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ocr.ErrInvalidImage), errors.Is(err, ocr.ErrEmptyDocument), errors.Is(err, ocr.ErrTooManyPages):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
