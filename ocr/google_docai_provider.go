package ocr

import (
	"context"
	"fmt"
	"math"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gardar/ocrchestra/pkg/hocr"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// documentProcessor is the subset of the Document AI client the provider uses.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error)
	Close() error
}

// docAIClient adapts the generated client, whose ProcessDocument is variadic
// over call options.
type docAIClient struct {
	client *documentai.DocumentProcessorClient
}

func (c docAIClient) ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error) {
	return c.client.ProcessDocument(ctx, req)
}

func (c docAIClient) Close() error { return c.client.Close() }

// GoogleDocAIProvider implements OCR using Google Document AI
type GoogleDocAIProvider struct {
	projectID   string
	location    string
	processorID string
	client      documentProcessor
}

func newGoogleDocAIProvider(config Config) (*GoogleDocAIProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"location":     config.GoogleLocation,
		"processor_id": config.GoogleProcessorID,
	})
	logger.Info("Creating new Google Document AI provider")

	ctx := context.Background()
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.GoogleLocation)

	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		logger.WithError(err).Error("Failed to create Document AI client")
		return nil, fmt.Errorf("error creating Document AI client: %w", err)
	}

	provider := &GoogleDocAIProvider{
		projectID:   config.GoogleProjectID,
		location:    config.GoogleLocation,
		processorID: config.GoogleProcessorID,
		client:      docAIClient{client: client},
	}

	logger.Info("Successfully initialized Google Document AI provider")
	return provider, nil
}

// Recognize runs the image through the configured OCR processor and turns the
// lines of the first page into text regions.
func (p *GoogleDocAIProvider) Recognize(ctx context.Context, imageContent []byte) (*Recognition, error) {
	logger := log.WithFields(logrus.Fields{
		"project_id":   p.projectID,
		"location":     p.location,
		"processor_id": p.processorID,
	})
	logger.Debug("Starting Document AI processing")

	// Detect MIME type
	mtype := mimetype.Detect(imageContent)
	logger.WithField("mime_type", mtype.String()).Debug("Detected file type")

	if !IsImageMIMEType(mtype.String()) {
		logger.WithField("mime_type", mtype.String()).Error("Unsupported file type")
		return nil, fmt.Errorf("unsupported file type: %s", mtype.String())
	}

	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", p.projectID, p.location, p.processorID)

	req := &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  imageContent,
				MimeType: mtype.String(),
			},
		},
	}

	logger.Debug("Sending request to Document AI")
	resp, err := p.client.ProcessDocument(ctx, req)
	if err != nil {
		logger.WithError(err).Error("Failed to process document")
		return nil, fmt.Errorf("error processing document: %w", err)
	}

	if resp == nil || resp.Document == nil {
		logger.Error("Received nil response or document from Document AI")
		return nil, fmt.Errorf("received nil response or document from Document AI")
	}

	if resp.Document.Error != nil {
		logger.WithField("error", resp.Document.Error.Message).Error("Document processing error")
		return nil, fmt.Errorf("document processing error: %s", resp.Document.Error.Message)
	}

	metadata := map[string]string{
		"provider":     "google_docai",
		"mime_type":    mtype.String(),
		"page_count":   fmt.Sprintf("%d", len(resp.Document.GetPages())),
		"processor_id": p.processorID,
	}

	pages := resp.Document.GetPages()
	if len(pages) == 0 {
		logger.Warn("Document AI returned no pages")
		return &Recognition{Metadata: metadata}, nil
	}
	if langs := pages[0].GetDetectedLanguages(); len(langs) > 0 {
		metadata["lang_code"] = langs[0].GetLanguageCode()
	}

	page := docAIPageToHOCR(resp.Document.GetText(), pages[0])
	result := &Recognition{
		Regions:  RegionsFromPage(page),
		Page:     page,
		Metadata: metadata,
	}

	logger.WithField("num_regions", len(result.Regions)).Info("Successfully processed document")
	return result, nil
}

// docAIPageToHOCR converts Document AI page lines into an hOCR page. Lines
// carry normalized vertices with a top-left origin; when the page dimension
// is missing the page is expressed in a unit square.
func docAIPageToHOCR(text string, dp *documentaipb.Document_Page) *hocr.Page {
	width := float64(dp.GetDimension().GetWidth())
	height := float64(dp.GetDimension().GetHeight())
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	page := newPage(fmt.Sprintf("page_%d", dp.GetPageNumber()), width, height)

	for i, line := range dp.GetLines() {
		layout := line.GetLayout()
		vertices := layout.GetBoundingPoly().GetNormalizedVertices()
		if len(vertices) == 0 {
			continue
		}
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, v := range vertices {
			minX = math.Min(minX, float64(v.GetX()))
			maxX = math.Max(maxX, float64(v.GetX()))
			minY = math.Min(minY, float64(v.GetY()))
			maxY = math.Max(maxY, float64(v.GetY()))
		}
		bbox := hocr.NewBoundingBox(minX*width, minY*height, maxX*width, maxY*height)
		lineText := anchorText(text, layout.GetTextAnchor())
		id := fmt.Sprintf("line_%d_%d", dp.GetPageNumber(), i+1)
		page.Lines = append(page.Lines, newLine(id, lineText, bbox, float64(layout.GetConfidence())*100))
	}
	return page
}

// anchorText resolves the text segments a layout points at.
func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	var sb strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		sb.WriteString(text[start:end])
	}
	return strings.TrimSpace(sb.String())
}

// Close releases resources used by the provider
func (p *GoogleDocAIProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
