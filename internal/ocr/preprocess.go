package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"invoiceocr/internal/logger"
)

// MaxImageDimension bounds the longest side of a preprocessed image
const MaxImageDimension = 3000

// Preprocess enhances a scanned image for text detection and returns it PNG-encoded
func Preprocess(r io.Reader) ([]byte, error) {
	const op = "Preprocess"

	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, WrapOCRError(op, fmt.Errorf("%w: %v", ErrInvalidImage, err), "")
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)

	b := img.Bounds()
	if b.Dx() > MaxImageDimension || b.Dy() > MaxImageDimension {
		img = imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, WrapOCRError(op, err, "failed to encode image")
	}
	return buf.Bytes(), nil
}

// PreprocessingExtractor runs Preprocess on images before delegating. PDFs pass through unchanged.
type PreprocessingExtractor struct {
	next TextExtractor
	log  zerolog.Logger
}

func NewPreprocessingExtractor(next TextExtractor) *PreprocessingExtractor {
	return &PreprocessingExtractor{
		next: next,
		log:  logger.WithComponent("ocr-preprocess"),
	}
}

func (p *PreprocessingExtractor) ExtractText(ctx context.Context, image io.Reader, language string) (*OCRResult, error) {
	const op = "ExtractText"

	content, err := io.ReadAll(image)
	if err != nil {
		return nil, WrapOCRError(op, err, "failed to read document data")
	}
	if isPDF(content) {
		return p.next.ExtractText(ctx, bytes.NewReader(content), language)
	}

	processed, err := Preprocess(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	p.log.Debug().Int("original_bytes", len(content)).Int("processed_bytes", len(processed)).Msg("Image preprocessed")

	return p.next.ExtractText(ctx, bytes.NewReader(processed), language)
}
