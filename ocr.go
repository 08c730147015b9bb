package main

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/sirupsen/logrus"
)

// preparePageImage returns the bytes the extractor should see for an upload.
// Images pass through untouched; a PDF scan is rendered to a JPEG of its
// first page. Anything else is returned unchanged so the extractor can reject
// it with its own error.
func preparePageImage(content []byte, uploadLogger *logrus.Entry) ([]byte, error) {
	mtype := mimetype.Detect(content)
	if !mtype.Is("application/pdf") {
		return content, nil
	}

	uploadLogger.Debug("Rendering first page of PDF upload")
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return nil, fmt.Errorf("error opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if doc.NumPage() > 1 {
		uploadLogger.WithField("page_count", doc.NumPage()).Info("Only the first page of the PDF is used")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("error rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpeg.DefaultQuality}); err != nil {
		return nil, fmt.Errorf("error encoding PDF page: %w", err)
	}
	return buf.Bytes(), nil
}
