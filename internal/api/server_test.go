package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/internal/enrichment"
	"invoiceocr/internal/metrics"
	"invoiceocr/internal/ocr"
	"invoiceocr/internal/pipeline"
	"invoiceocr/internal/reference"
	"invoiceocr/pkg/models"
)

const headerText = "FACTURE F2025-001\nDate: 19/08/2025\nEntreprise ABC\nSIRET: 12345678901234\nTotal TTC 600.00"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOCR struct {
	result *ocr.OCRResult
	err    error
}

func (f *fakeOCR) ExtractText(_ context.Context, image io.Reader, _ string) (*ocr.OCRResult, error) {
	if _, err := io.ReadAll(image); err != nil {
		return nil, err
	}
	return f.result, f.err
}

type fakeEnricher struct {
	result *enrichment.Result
	err    error
}

func (f *fakeEnricher) Enrich(context.Context, []byte, string) (*enrichment.Result, error) {
	return f.result, f.err
}

type fakeRepository struct {
	saved []*models.InvoiceRecord
	err   error
}

func (r *fakeRepository) Save(_ context.Context, rec *models.InvoiceRecord) (uuid.UUID, error) {
	if r.err != nil {
		return uuid.Nil, r.err
	}
	r.saved = append(r.saved, rec)
	return rec.ID, nil
}

type fakeDB struct{ err error }

func (f fakeDB) Ping() error { return f.err }

func testOptions() Options {
	store := reference.NewMemoryStore(
		[]reference.Company{{Code: "MART01", Name: "Martin SA"}},
		[]reference.Supplier{{ID: "s-1", Name: "Entreprise ABC", Active: true}},
	)
	recorder := metrics.NewRecorder()
	popts := pipeline.DefaultOptions()
	popts.Metrics = recorder
	return Options{
		Processor: pipeline.NewProcessor(store, popts),
		Validator: ocr.FileValidator{MaxBytes: 1024, AllowedExtensions: []string{"png", "jpg", "jpeg", "pdf"}},
		Metrics:   recorder,
		Language:  "fra",
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postFile(t *testing.T, h http.Handler, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeInvoice(t *testing.T, w *httptest.ResponseRecorder) InvoiceResponse {
	t.Helper()
	var resp InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Invoice)
	return resp
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		status int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", fakeDB{}, http.StatusOK},
		{"database down", fakeDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			opts.DB = tt.db
			w := httptest.NewRecorder()

			NewServer(opts).Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.NotEmpty(t, w.Header().Get(requestIDHeader))
		})
	}
}

func TestExtract(t *testing.T) {
	h := NewServer(testOptions()).Handler()

	w := postJSON(t, h, "/api/v1/invoices/extract", ExtractRequest{Text: headerText, Filename: "scan.png"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeInvoice(t, w)
	assert.Equal(t, "F2025-001", resp.Invoice.InvoiceNumber)
	assert.Equal(t, "s-1", resp.Invoice.Supplier.ID)
	assert.False(t, resp.Accepted)
	assert.False(t, resp.Saved)
}

func TestExtract_BadRequests(t *testing.T) {
	h := NewServer(testOptions()).Handler()

	tests := []struct {
		name string
		body any
	}{
		{"empty document", ExtractRequest{}},
		{"confidence out of range", ExtractRequest{Text: "x", Confidence: 1.5}},
		{"not json", "FACTURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h, "/api/v1/invoices/extract", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestExtract_Save(t *testing.T) {
	repo := &fakeRepository{}
	opts := testOptions()
	opts.Repo = repo
	h := NewServer(opts).Handler()

	w := postJSON(t, h, "/api/v1/invoices/extract", ExtractRequest{Text: headerText, Save: true})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, decodeInvoice(t, w).Saved)
	assert.Len(t, repo.saved, 1)
}

func TestExtract_SaveFailure(t *testing.T) {
	opts := testOptions()
	opts.Repo = &fakeRepository{err: errors.New("disk full")}
	h := NewServer(opts).Handler()

	w := postJSON(t, h, "/api/v1/invoices/extract", ExtractRequest{Text: headerText, Save: true})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "persist")
}

func TestUpload(t *testing.T) {
	opts := testOptions()
	opts.OCR = &fakeOCR{result: &ocr.OCRResult{Text: headerText, Confidence: 0.42}}
	h := NewServer(opts).Handler()

	w := postFile(t, h, "scan.png", []byte("png bytes"), map[string]string{"save": "false"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeInvoice(t, w)
	assert.Equal(t, "F2025-001", resp.Invoice.InvoiceNumber)
	assert.True(t, resp.Invoice.LowOCRQuality)
	assert.Equal(t, "scan.png", resp.Invoice.SourceFilename)
}

func TestUpload_WithEnrichment(t *testing.T) {
	opts := testOptions()
	opts.OCR = &fakeOCR{result: &ocr.OCRResult{Text: headerText, Confidence: 0.9}}
	opts.Enricher = &fakeEnricher{result: &enrichment.Result{InvoiceNumber: "DAI-77", Confidence: 0.95}}
	h := NewServer(opts).Handler()

	w := postFile(t, h, "scan.pdf", []byte("%PDF-1.7"), nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeInvoice(t, w)
	assert.Equal(t, "DAI-77", resp.Invoice.InvoiceNumber)
	assert.Equal(t, models.NumberFromEnrichment, resp.Invoice.InvoiceNumberSource)
}

func TestUpload_EnrichmentFailureFallsBack(t *testing.T) {
	opts := testOptions()
	opts.OCR = &fakeOCR{result: &ocr.OCRResult{Text: headerText}}
	opts.Enricher = &fakeEnricher{err: enrichment.ErrQuotaExceeded}
	h := NewServer(opts).Handler()

	w := postFile(t, h, "scan.pdf", []byte("%PDF-1.7"), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "F2025-001", decodeInvoice(t, w).Invoice.InvoiceNumber)
}

func TestUpload_Rejections(t *testing.T) {
	withOCR := testOptions()
	withOCR.OCR = &fakeOCR{result: &ocr.OCRResult{Text: headerText}}

	failingOCR := testOptions()
	failingOCR.OCR = &fakeOCR{err: ocr.NewOCRError("ExtractText", ocr.ErrEmptyDocument, "")}

	tests := []struct {
		name     string
		opts     Options
		filename string
		content  []byte
		status   int
	}{
		{"ocr not configured", testOptions(), "scan.png", []byte("x"), http.StatusServiceUnavailable},
		{"extension not allowed", withOCR, "scan.gif", []byte("x"), http.StatusBadRequest},
		{"file too large", withOCR, "scan.png", bytes.Repeat([]byte("x"), 2048), http.StatusRequestEntityTooLarge},
		{"nothing readable", failingOCR, "scan.png", []byte("x"), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postFile(t, NewServer(tt.opts).Handler(), tt.filename, tt.content, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	opts := testOptions()
	h := NewServer(opts).Handler()
	postJSON(t, h, "/api/v1/invoices/extract", ExtractRequest{Text: headerText})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "invoiceocr_documents_processed_total")
}
