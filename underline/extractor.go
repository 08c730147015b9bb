package underline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"quotebook/ocr"
)

var log = logrus.New()

// maxImagePixels bounds the decoded size of a page photo. A 50 megapixel
// camera frame fits comfortably.
const maxImagePixels = 100_000_000

// SetLogLevel sets the logging level for the underline package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Stage names a step of one extraction.
type Stage string

const (
	StageRecognizing         Stage = "recognizing"
	StageFiltering           Stage = "filtering"
	StageDetectingUnderlines Stage = "detecting_underlines"
	StageMatching            Stage = "matching"
	StageAssembling          Stage = "assembling"
	StageDone                Stage = "done"
)

// OCRResult is the text offered to the quote form after one extraction.
type OCRResult struct {
	Text               string `json:"text"`
	UnderlinesDetected bool   `json:"underlines_detected"`
	TotalTextRegions   int    `json:"total_text_regions"`
	UnderlinedRegions  int    `json:"underlined_regions"`
}

// Extractor turns a photographed book page into quote text, preferring the
// passages underlined in pencil and falling back to all body text. It holds
// no per-call state, so one Extractor may serve concurrent calls.
type Extractor struct {
	provider ocr.Provider
	config   Config
}

// NewExtractor creates an extractor backed by the given text recognizer.
func NewExtractor(provider ocr.Provider, config Config) *Extractor {
	return &Extractor{
		provider: provider,
		config:   config.withDefaults(),
	}
}

// Config returns the thresholds the extractor runs with.
func (e *Extractor) Config() Config { return e.config }

// Extract runs one page image through recognition, filtering, underline
// detection, matching and assembly. Cancelling ctx abandons the call at the
// next stage boundary; the returned error then wraps ctx.Err().
func (e *Extractor) Extract(ctx context.Context, imageContent []byte) (*OCRResult, error) {
	img, err := DecodeImage(imageContent)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	logger := log.WithFields(logrus.Fields{
		"width":  bounds.Dx(),
		"height": bounds.Dy(),
	})

	logger.WithField("stage", StageRecognizing).Debug("Recognizing text")
	recognition, err := e.provider.Recognize(ctx, imageContent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extraction cancelled: %w", ctx.Err())
		}
		return nil, &ProcessingError{Stage: StageRecognizing, Reason: "text recognition failed", Err: err}
	}
	if recognition == nil || len(recognition.Regions) == 0 {
		logger.Info("Recognizer returned no text")
		return nil, ErrNoTextDetected
	}

	return e.analyze(ctx, img, recognition.Regions, logger)
}

// ExtractRegions runs the pipeline on regions that were recognized elsewhere
// for img.
func (e *Extractor) ExtractRegions(ctx context.Context, img image.Image, regions []ocr.TextRegion) (*OCRResult, error) {
	if len(regions) == 0 {
		return nil, ErrNoTextDetected
	}
	return e.analyze(ctx, img, regions, log.WithField("regions", len(regions)))
}

func (e *Extractor) analyze(ctx context.Context, img image.Image, regions []ocr.TextRegion, logger *logrus.Entry) (result *OCRResult, err error) {
	stage := StageFiltering
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &ProcessingError{Stage: stage, Reason: fmt.Sprint(r)}
		}
	}()

	logger.WithField("stage", stage).Debug("Filtering regions")
	filtered := FilterRegions(regions, e.config)
	if len(filtered) == 0 {
		logger.WithField("recognized", len(regions)).Info("No regions survived filtering")
		return nil, ErrNoTextDetected
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}
	stage = StageDetectingUnderlines
	logger.WithField("stage", stage).Debug("Detecting underlines")
	lines := DetectLines(img, filtered, e.config)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", err)
	}
	stage = StageMatching
	logger.WithFields(logrus.Fields{"stage": stage, "lines": len(lines)}).Debug("Matching underlines")
	underlined := MatchUnderlined(filtered, lines, e.config)

	stage = StageAssembling
	logger.WithField("stage", stage).Debug("Assembling text")
	if len(underlined) > 0 {
		result = &OCRResult{
			Text:               AssembleText(underlined, e.config),
			UnderlinesDetected: true,
			TotalTextRegions:   len(filtered),
			UnderlinedRegions:  len(underlined),
		}
	} else {
		result = &OCRResult{
			Text:             AssembleText(filtered, e.config),
			TotalTextRegions: len(filtered),
		}
	}

	logger.WithFields(logrus.Fields{
		"stage":               StageDone,
		"underlines_detected": result.UnderlinesDetected,
		"total_text_regions":  result.TotalTextRegions,
		"underlined_regions":  result.UnderlinedRegions,
	}).Info("Extraction completed")
	return result, nil
}

// DecodeImage decodes a page photo. Payloads that are not a decodable image,
// or whose header declares more than maxImagePixels, yield
// ErrImageConversionFailed.
func DecodeImage(imageContent []byte) (image.Image, error) {
	mtype := mimetype.Detect(imageContent)
	if !ocr.IsImageMIMEType(mtype.String()) {
		return nil, fmt.Errorf("%w: unsupported content type %s", ErrImageConversionFailed, mtype.String())
	}
	// Read the header first so a tiny payload cannot demand a huge allocation
	header, _, err := image.DecodeConfig(bytes.NewReader(imageContent))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageConversionFailed, err)
	}
	if int64(header.Width)*int64(header.Height) > maxImagePixels {
		return nil, fmt.Errorf("%w: image of %dx%d pixels is too large", ErrImageConversionFailed, header.Width, header.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(imageContent))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageConversionFailed, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageConversionFailed)
	}
	return img, nil
}
