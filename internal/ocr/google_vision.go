package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

const (
	// MaxFileSizeBytes is the maximum file size for synchronous processing (20MB)
	MaxFileSizeBytes = 20 * 1024 * 1024

	// MaxPagesSync is the maximum number of pages for synchronous processing
	MaxPagesSync = 5
)

// Credentials selects how the Vision client authenticates. Application default credentials
// are used when both fields are empty.
type Credentials struct {
	JSON string
	File string
}

// GoogleVisionOCRService implements TextExtractor using Google Cloud Vision API.
type GoogleVisionOCRService struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

var _ TextExtractor = (*GoogleVisionOCRService)(nil)

// NewGoogleVisionOCRService creates a new OCR service. Inline JSON credentials win over a credentials file.
func NewGoogleVisionOCRService(ctx context.Context, creds Credentials) (*GoogleVisionOCRService, error) {
	const op = "NewGoogleVisionOCRService"

	var client *vision.ImageAnnotatorClient
	var err error

	switch {
	case creds.JSON != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(creds.JSON)))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	case creds.File != "":
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(creds.File))
		if err != nil {
			return nil, WrapOCRError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	default:
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return NewGoogleVisionOCRServiceWithClient(client), nil
}

// NewGoogleVisionOCRServiceWithClient creates a new OCR service with an explicit client.
func NewGoogleVisionOCRServiceWithClient(client *vision.ImageAnnotatorClient) *GoogleVisionOCRService {
	return &GoogleVisionOCRService{
		client: client,
		log:    logger.WithComponent("ocr"),
	}
}

// ExtractText runs document text detection on an image or a PDF of up to MaxPagesSync pages.
func (g *GoogleVisionOCRService) ExtractText(ctx context.Context, image io.Reader, language string) (*OCRResult, error) {
	const op = "ExtractText"
	startTime := time.Now()

	content, err := io.ReadAll(image)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to read document data")
	}
	if len(content) == 0 {
		return nil, WrapOCRError(op, ErrEmptyDocument, "no data")
	}
	if len(content) > MaxFileSizeBytes {
		return nil, WrapOCRError(op, ErrFileTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}

	var imageContext *visionpb.ImageContext
	if hint := languageHint(language); hint != "" {
		imageContext = &visionpb.ImageContext{LanguageHints: []string{hint}}
	}
	features := []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}}

	var pages []*visionpb.AnnotateImageResponse
	if isPDF(content) {
		pages, err = g.annotatePDF(ctx, content, features, imageContext)
	} else {
		pages, err = g.annotateImage(ctx, content, features, imageContext)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, WrapOCRError(op, ErrContextCanceled, err.Error())
		}
		return nil, WrapOCRError(op, err, "")
	}

	result, err := processVisionResponses(pages)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to process Vision API response")
	}

	result.ProcessedAt = time.Now()
	result.ProcessingDuration = result.ProcessedAt.Sub(startTime)

	g.log.Info().
		Int("pages", result.PageCount).
		Int("words", len(result.Words)).
		Float64("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Msg("OCR completed")

	return result, nil
}

func (g *GoogleVisionOCRService) annotateImage(ctx context.Context, content []byte, features []*visionpb.Feature, imageContext *visionpb.ImageContext) ([]*visionpb.AnnotateImageResponse, error) {
	resp, err := g.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:        &visionpb.Image{Content: content},
			Features:     features,
			ImageContext: imageContext,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: Vision API call failed: %v", ErrOCRFailed, err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("%w: no response from Vision API", ErrOCRFailed)
	}
	return resp.Responses, nil
}

func (g *GoogleVisionOCRService) annotatePDF(ctx context.Context, content []byte, features []*visionpb.Feature, imageContext *visionpb.ImageContext) ([]*visionpb.AnnotateImageResponse, error) {
	resp, err := g.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{
				Content:  content,
				MimeType: "application/pdf",
			},
			Features:     features,
			ImageContext: imageContext,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: Vision API call failed: %v", ErrOCRFailed, err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("%w: no response from Vision API", ErrOCRFailed)
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return nil, fmt.Errorf("%w: Vision API error: %s", ErrOCRFailed, fileResp.Error.Message)
	}
	if len(fileResp.Responses) > MaxPagesSync {
		return nil, fmt.Errorf("%w: document has %d pages", ErrTooManyPages, len(fileResp.Responses))
	}
	return fileResp.Responses, nil
}

// processVisionResponses joins the pages and collects words, confidence and languages
func processVisionResponses(pages []*visionpb.AnnotateImageResponse) (*OCRResult, error) {
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	var allText strings.Builder
	var words []models.Word
	var confidenceSum float64
	var confidenceCount int
	languageSet := make(map[string]bool)
	var languages []string

	for pageIdx, page := range pages {
		if page.Error != nil {
			return nil, fmt.Errorf("%w: page %d: %s", ErrOCRFailed, pageIdx+1, page.Error.Message)
		}
		annotation := page.FullTextAnnotation
		if annotation == nil {
			continue
		}

		if pageIdx > 0 && allText.Len() > 0 {
			allText.WriteString("\n")
		}
		allText.WriteString(annotation.Text)

		for _, p := range annotation.Pages {
			for _, lang := range p.GetProperty().GetDetectedLanguages() {
				if lang.LanguageCode != "" && !languageSet[lang.LanguageCode] {
					languageSet[lang.LanguageCode] = true
					languages = append(languages, lang.LanguageCode)
				}
			}
			for _, block := range p.Blocks {
				for _, paragraph := range block.Paragraphs {
					for _, w := range paragraph.Words {
						word := convertWord(w)
						if word.Text == "" {
							continue
						}
						words = append(words, word)
						if word.Confidence > 0 {
							confidenceSum += word.Confidence
							confidenceCount++
						}
					}
				}
			}
		}
	}

	text := allText.String()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}

	var avgConfidence float64
	if confidenceCount > 0 {
		avgConfidence = clamp01(confidenceSum / float64(confidenceCount))
	}

	return &OCRResult{
		Text:          text,
		Words:         words,
		Confidence:    avgConfidence,
		PageCount:     len(pages),
		LanguageCodes: languages,
	}, nil
}

func convertWord(w *visionpb.Word) models.Word {
	var text strings.Builder
	for _, s := range w.Symbols {
		text.WriteString(s.Text)
	}
	return models.Word{
		Text:       text.String(),
		Confidence: clamp01(float64(w.Confidence)),
		Box:        boundingBox(w.BoundingBox),
	}
}

// boundingBox returns the axis-aligned box around the polygon vertices
func boundingBox(poly *visionpb.BoundingPoly) models.BoundingBox {
	if poly == nil || len(poly.Vertices) == 0 {
		return models.BoundingBox{}
	}

	minX, minY := poly.Vertices[0].X, poly.Vertices[0].Y
	maxX, maxY := minX, minY
	for _, v := range poly.Vertices[1:] {
		minX, maxX = min(minX, v.X), max(maxX, v.X)
		minY, maxY = min(minY, v.Y), max(maxY, v.Y)
	}
	return models.BoundingBox{
		X:      int(minX),
		Y:      int(minY),
		Width:  int(maxX - minX),
		Height: int(maxY - minY),
	}
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func isPDF(content []byte) bool {
	return bytes.HasPrefix(content, []byte("%PDF"))
}

// Close closes the underlying Vision client.
func (g *GoogleVisionOCRService) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
