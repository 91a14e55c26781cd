package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"invoiceocr/internal/extraction"
	"invoiceocr/internal/logger"
	"invoiceocr/internal/patterns"
)

const (
	// MaxDocumentSizeBytes is the maximum document size for processing (20MB)
	MaxDocumentSizeBytes = 20 * 1024 * 1024

	defaultTimeout = 60 * time.Second
)

var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// Config holds the Document AI settings
type Config struct {
	ProjectID        string
	Location         string // "us" or "eu"
	ProcessorID      string
	ProcessorVersion string
	CredentialsJSON  string
	CredentialsFile  string
	Timeout          time.Duration
}

// DocumentAIEnricher implements Enricher using a Google Document AI invoice processor.
type DocumentAIEnricher struct {
	client *documentai.DocumentProcessorClient
	config Config
	dates  *patterns.Library
	log    zerolog.Logger
}

var _ Enricher = (*DocumentAIEnricher)(nil)

// NewDocumentAIEnricher creates the Document AI client for the configured location.
func NewDocumentAIEnricher(ctx context.Context, config Config) (*DocumentAIEnricher, error) {
	const op = "NewDocumentAIEnricher"

	if config.ProjectID == "" {
		return nil, WrapEnrichmentError(op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, WrapEnrichmentError(op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		clientOptions = append(clientOptions, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)))
	}
	hasCredentials := true
	switch {
	case config.CredentialsJSON != "":
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	case config.CredentialsFile != "":
		clientOptions = append(clientOptions, option.WithCredentialsFile(config.CredentialsFile))
	default:
		hasCredentials = false
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if !hasCredentials {
			return nil, WrapEnrichmentError(op, ErrMissingCredentials, "no credentials configured and no default credentials found")
		}
		return nil, WrapEnrichmentError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIEnricher{
		client: client,
		config: config,
		dates:  patterns.Default(),
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// Enrich sends the document to the processor and maps the returned entities.
// An empty mimeType is detected from the content.
func (e *DocumentAIEnricher) Enrich(ctx context.Context, content []byte, mimeType string) (*Result, error) {
	const op = "Enrich"

	if len(content) > MaxDocumentSizeBytes {
		return nil, WrapEnrichmentError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}
	mimeType, err := DetectMimeType(content, mimeType)
	if err != nil {
		return nil, WrapEnrichmentError(op, err, "")
	}

	processCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: e.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}

	resp, err := e.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, e.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapEnrichmentError(op, ErrProcessingFailed, "no document in response")
	}

	return e.parseDocument(resp.GetDocument()), nil
}

// Close releases the client connection
func (e *DocumentAIEnricher) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// DetectMimeType checks a declared MIME type, or sniffs one from the content when none is given.
func DetectMimeType(content []byte, declared string) (string, error) {
	mimeType := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(content)
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	if !supportedMimeTypes[mimeType] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	return mimeType, nil
}

func (e *DocumentAIEnricher) processorName() string {
	if e.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			e.config.ProjectID, e.config.Location, e.config.ProcessorID, e.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		e.config.ProjectID, e.config.Location, e.config.ProcessorID)
}

// handleProcessingError converts Document AI errors to enrichment errors.
func (e *DocumentAIEnricher) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED") || strings.Contains(errStr, "PermissionDenied"):
		return WrapEnrichmentError(op, ErrInvalidCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "QUOTA_EXCEEDED") || strings.Contains(errStr, "ResourceExhausted"):
		return WrapEnrichmentError(op, ErrQuotaExceeded, "Document AI API quota exceeded")
	case strings.Contains(errStr, "NOT_FOUND") || strings.Contains(errStr, "NotFound"):
		return WrapEnrichmentError(op, ErrProcessorNotFound, fmt.Sprintf("processor not found: %s", e.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT") || strings.Contains(errStr, "InvalidArgument"):
		return WrapEnrichmentError(op, ErrUnsupportedFormat, "document format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return WrapEnrichmentError(op, context.DeadlineExceeded, "processing timeout")
	case strings.Contains(errStr, "Canceled") || strings.Contains(errStr, "context canceled"):
		return WrapEnrichmentError(op, ErrContextCanceled, "processing was canceled")
	default:
		return WrapEnrichmentError(op, ErrProcessingFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// parseDocument maps the processor entities onto a Result. The first entity of each type wins.
func (e *DocumentAIEnricher) parseDocument(doc *documentaipb.Document) *Result {
	res := &Result{
		Text:            doc.GetText(),
		FieldConfidence: make(map[string]float32),
	}

	var confidenceSum float64
	for _, entity := range doc.GetEntities() {
		entityType := entity.GetType()
		value := strings.TrimSpace(entity.GetMentionText())
		if _, seen := res.FieldConfidence[entityType]; seen {
			continue
		}
		res.FieldConfidence[entityType] = entity.GetConfidence()
		confidenceSum += float64(entity.GetConfidence())

		e.log.Debug().
			Str("entity_type", entityType).
			Str("value", value).
			Float32("confidence", entity.GetConfidence()).
			Msg("Processing Document AI entity")

		switch entityType {
		case "invoice_id", "invoice_number":
			res.InvoiceNumber = value
		case "supplier_name", "vendor_name":
			res.SupplierName = value
		case "supplier_tax_id":
			res.SupplierTaxID = strings.ToUpper(strings.ReplaceAll(value, " ", ""))
		case "receiver_name", "buyer_name", "customer_name":
			res.CustomerName = value
		case "invoice_date":
			res.InvoiceDate = e.extractDate(entity)
		case "due_date":
			res.DueDate = e.extractDate(entity)
		case "net_amount", "subtotal_amount":
			res.Amounts.ExclVAT = e.extractMoneyValue(entity)
		case "total_tax_amount", "vat_amount":
			res.Amounts.VAT = e.extractMoneyValue(entity)
		case "total_amount", "gross_amount":
			res.Amounts.InclVAT = e.extractMoneyValue(entity)
		case "currency":
			res.Currency = normalizeCurrency(value)
		}
	}

	if n := len(res.FieldConfidence); n > 0 {
		res.Confidence = confidenceSum / float64(n)
	}

	e.log.Info().
		Str("invoice_number", res.InvoiceNumber).
		Str("supplier", res.SupplierName).
		Int("amounts", res.Amounts.Present()).
		Float64("confidence", res.Confidence).
		Msg("Document AI extraction completed")

	return res
}

// extractDate reads the normalized date, falling back to the date patterns on the mention text
func (e *DocumentAIEnricher) extractDate(entity *documentaipb.Document_Entity) *time.Time {
	if d := entity.GetNormalizedValue().GetDateValue(); d != nil && d.GetYear() > 0 {
		t := time.Date(int(d.GetYear()), time.Month(d.GetMonth()), int(d.GetDay()), 0, 0, 0, 0, time.UTC)
		return &t
	}

	c, ok := e.dates.First(patterns.FieldDate, entity.GetMentionText())
	if !ok {
		e.log.Warn().Str("raw_value", entity.GetMentionText()).Msg("Failed to extract date from Document AI")
		return nil
	}
	t, ok := extraction.ParseDate(c)
	if !ok {
		return nil
	}
	return &t
}

// extractMoneyValue reads the normalized money value, falling back to parsing the mention text
func (e *DocumentAIEnricher) extractMoneyValue(entity *documentaipb.Document_Entity) decimal.NullDecimal {
	if m := entity.GetNormalizedValue().GetMoneyValue(); m != nil {
		v := decimal.New(m.GetUnits(), 0).Add(decimal.New(int64(m.GetNanos()), -9))
		return decimal.NewNullDecimal(v.Round(2))
	}

	amount, err := extraction.ParseAmount(entity.GetMentionText())
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("entity_type", entity.GetType()).
			Str("raw_value", entity.GetMentionText()).
			Msg("Failed to extract amount from Document AI")
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount)
}

// normalizeCurrency maps symbols and names to ISO codes
func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	switch currency {
	case "€", "EURO", "EUROS":
		return "EUR"
	case "$", "US$", "DOLLAR", "DOLLARS":
		return "USD"
	case "£", "POUND", "POUNDS":
		return "GBP"
	case "CHF", "FR.", "SFR":
		return "CHF"
	}
	if len(currency) == 3 {
		return currency
	}
	return ""
}
