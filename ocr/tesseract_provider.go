//go:build tesseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gardar/ocrchestra/pkg/hocr"
	"github.com/otiai10/gosseract/v2"
	"github.com/sirupsen/logrus"
)

func init() {
	RegisterProvider("tesseract", func(config Config) (Provider, error) {
		return newTesseractProvider(config), nil
	})
}

// TesseractProvider implements OCR with a local Tesseract installation.
type TesseractProvider struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func newTesseractProvider(config Config) *TesseractProvider {
	log.WithField("languages", config.TesseractLanguages).Info("Using Tesseract provider")
	return &TesseractProvider{
		languages:     config.TesseractLanguages,
		clientFactory: gosseract.NewClient,
	}
}

// Recognize runs Tesseract over the image and reports one region per text line.
func (p *TesseractProvider) Recognize(ctx context.Context, imageContent []byte) (*Recognition, error) {
	logger := log.WithFields(logrus.Fields{
		"provider":  "tesseract",
		"data_size": len(imageContent),
	})

	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageContent))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	c := p.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(imageContent); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(p.languages) > 0 {
		if err := c.SetLanguage(p.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		logger.WithError(err).Error("Tesseract recognition failed")
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	page := newPage("page_1", float64(cfg.Width), float64(cfg.Height))
	for i, box := range boxes {
		bbox := hocr.NewBoundingBox(
			float64(box.Box.Min.X), float64(box.Box.Min.Y),
			float64(box.Box.Max.X), float64(box.Box.Max.Y),
		)
		page.Lines = append(page.Lines, newLine(fmt.Sprintf("line_1_%d", i+1), box.Word, bbox, box.Confidence))
	}

	result := &Recognition{
		Regions: RegionsFromPage(page),
		Page:    page,
		Metadata: map[string]string{
			"provider":  "tesseract",
			"num_lines": fmt.Sprintf("%d", len(boxes)),
		},
	}
	logger.WithField("num_regions", len(result.Regions)).Info("Successfully processed image with Tesseract")
	return result, nil
}
