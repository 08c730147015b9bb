package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gardar/ocrchestra/pkg/hocr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	apiVersion      = "2024-11-30"
	defaultModelID  = "prebuilt-read"
	defaultTimeout  = 120
	pollingInterval = 2 * time.Second
)

// AzureProvider implements OCR using Azure Document Intelligence
type AzureProvider struct {
	endpoint   string
	apiKey     string
	modelID    string
	timeout    time.Duration
	httpClient *retryablehttp.Client
}

// Request body for Azure Document Intelligence
type analyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

func newAzureProvider(config Config) (*AzureProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"endpoint": config.AzureEndpoint,
		"model_id": config.AzureModelID,
	})
	logger.Info("Creating new Azure Document Intelligence provider")

	// Validate required configuration
	if config.AzureEndpoint == "" || config.AzureAPIKey == "" {
		logger.Error("Missing required configuration")
		return nil, fmt.Errorf("missing required Azure Document Intelligence configuration")
	}

	// Set defaults and create provider
	modelID := defaultModelID
	if config.AzureModelID != "" {
		modelID = config.AzureModelID
	}

	timeout := defaultTimeout
	if config.AzureTimeout > 0 {
		timeout = config.AzureTimeout
	}

	provider := &AzureProvider{
		endpoint:   strings.TrimRight(config.AzureEndpoint, "/"),
		apiKey:     config.AzureAPIKey,
		modelID:    modelID,
		timeout:    time.Duration(timeout) * time.Second,
		httpClient: newHTTPClient(config.HTTPRetries, 5*time.Second, logger),
	}

	logger.Info("Successfully initialized Azure Document Intelligence provider")
	return provider, nil
}

// Recognize submits the image for analysis and converts the recognized lines
// of the first page into text regions.
func (p *AzureProvider) Recognize(ctx context.Context, imageContent []byte) (*Recognition, error) {
	logger := log.WithFields(logrus.Fields{
		"provider": "azure",
		"model_id": p.modelID,
	})
	logger.Debug("Starting Azure Document Intelligence processing")

	// Detect MIME type
	mtype := mimetype.Detect(imageContent)
	logger.WithField("mime_type", mtype.String()).Debug("Detected file type")

	if !IsImageMIMEType(mtype.String()) {
		logger.WithField("mime_type", mtype.String()).Error("Unsupported file type")
		return nil, fmt.Errorf("unsupported file type: %s", mtype.String())
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Submit document for analysis
	operationLocation, err := p.submitDocument(ctx, imageContent)
	if err != nil {
		return nil, fmt.Errorf("error submitting document: %w", err)
	}

	// Poll for results
	result, err := p.pollForResults(ctx, operationLocation)
	if err != nil {
		return nil, fmt.Errorf("error polling for results: %w", err)
	}

	if len(result.AnalyzeResult.Pages) == 0 {
		logger.Warn("Azure Document Intelligence returned no pages")
		return &Recognition{Metadata: map[string]string{"provider": "azure"}}, nil
	}

	page := azurePageToHOCR(result.AnalyzeResult.Pages[0])
	recognition := &Recognition{
		Regions: RegionsFromPage(page),
		Page:    page,
		Metadata: map[string]string{
			"provider":    "azure",
			"page_count":  fmt.Sprintf("%d", len(result.AnalyzeResult.Pages)),
			"api_version": result.AnalyzeResult.APIVersion,
		},
	}

	logger.WithFields(logrus.Fields{
		"content_length": len(result.AnalyzeResult.Content),
		"num_regions":    len(recognition.Regions),
	}).Info("Successfully processed image")
	return recognition, nil
}

// azurePageToHOCR builds an hOCR page from Azure lines. Azure reports
// confidence per word only, so a line's words are the page words whose span
// falls inside the line span.
func azurePageToHOCR(ap AzurePage) *hocr.Page {
	page := newPage(fmt.Sprintf("page_%d", ap.PageNumber), ap.Width, ap.Height)
	for i, line := range ap.Lines {
		bbox, ok := polygonBounds(line.Polygon)
		if !ok {
			continue
		}
		hl := hocr.Line{ID: fmt.Sprintf("line_%d_%d", ap.PageNumber, i+1), BBox: bbox}
		for _, w := range ap.Words {
			if !lineContainsWord(line, w) {
				continue
			}
			wb, _ := polygonBounds(w.Polygon)
			hl.Words = append(hl.Words, hocr.Word{Text: w.Content, BBox: wb, Confidence: w.Confidence * 100})
		}
		if len(hl.Words) == 0 {
			hl = newLine(hl.ID, line.Content, bbox, 100)
		}
		page.Lines = append(page.Lines, hl)
	}
	return page
}

func lineContainsWord(line AzureLine, w AzureWord) bool {
	for _, span := range line.Spans {
		if span.contains(w.Span) {
			return true
		}
	}
	return false
}

// polygonBounds returns the axis aligned box of a flat x0,y0,x1,y1,... polygon.
func polygonBounds(polygon []float64) (hocr.BoundingBox, bool) {
	if len(polygon) < 4 || len(polygon)%2 != 0 {
		return hocr.BoundingBox{}, false
	}
	minX, minY := polygon[0], polygon[1]
	maxX, maxY := minX, minY
	for i := 2; i < len(polygon); i += 2 {
		minX = math.Min(minX, polygon[i])
		maxX = math.Max(maxX, polygon[i])
		minY = math.Min(minY, polygon[i+1])
		maxY = math.Max(maxY, polygon[i+1])
	}
	return hocr.NewBoundingBox(minX, minY, maxX, maxY), true
}

func (p *AzureProvider) submitDocument(ctx context.Context, imageContent []byte) (string, error) {
	requestURL := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		p.endpoint, p.modelID, apiVersion)

	// Prepare request body
	requestBody := analyzeRequest{
		Base64Source: base64.StdEncoding.EncodeToString(imageContent),
	}
	requestBodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", requestURL, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	operationLocation := resp.Header.Get("Operation-Location")
	if operationLocation == "" {
		return "", fmt.Errorf("no Operation-Location header in response")
	}

	return operationLocation, nil
}

func (p *AzureProvider) pollForResults(ctx context.Context, operationLocation string) (*AzureDocumentResult, error) {
	logger := log.WithField("operation_location", operationLocation)
	logger.Debug("Starting to poll for results")

	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("operation timed out after %v: %w", p.timeout, ctx.Err())
		case <-ticker.C:
			req, err := retryablehttp.NewRequestWithContext(ctx, "GET", operationLocation, nil)
			if err != nil {
				return nil, fmt.Errorf("error creating poll request: %w", err)
			}
			req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

			resp, err := p.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("error polling for results: %w", err)
			}

			var result AzureDocumentResult
			err = json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()
			if err != nil {
				logger.WithError(err).Error("Failed to decode response")
				return nil, fmt.Errorf("error decoding response: %w", err)
			}

			logger.WithFields(logrus.Fields{
				"status_code":    resp.StatusCode,
				"content_length": len(result.AnalyzeResult.Content),
				"page_count":     len(result.AnalyzeResult.Pages),
				"status":         result.Status,
			}).Debug("Poll response received")

			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("unexpected status code %d while polling", resp.StatusCode)
			}

			switch result.Status {
			case "succeeded":
				return &result, nil
			case "failed":
				return nil, fmt.Errorf("document processing failed")
			case "running", "notStarted":
				// Continue polling
			default:
				return nil, fmt.Errorf("unexpected status: %s", result.Status)
			}
		}
	}
}
