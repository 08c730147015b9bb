package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gardar/ocrchestra/pkg/hocr"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// IOSOCRProvider implements OCR using iOS-OCR-Server, a thin HTTP front for
// the Vision text recognizer on an iPhone.
type IOSOCRProvider struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// newIOSOCRProvider creates a new iOS-OCR-Server provider
func newIOSOCRProvider(config Config) (*IOSOCRProvider, error) {
	logger := log.WithFields(logrus.Fields{
		"url": config.IOSOCRServerURL,
	})
	logger.Info("Creating new iOS-OCR-Server provider")

	if config.IOSOCRServerURL == "" {
		logger.Error("Missing required iOS-OCR-Server URL")
		return nil, fmt.Errorf("missing required iOS-OCR-Server URL")
	}

	client := newHTTPClient(config.HTTPRetries, 10*time.Second, logger)
	if config.IOSOCRServerToken != "" {
		withBearerToken(client, config.IOSOCRServerToken)
	}

	provider := &IOSOCRProvider{
		baseURL:    config.IOSOCRServerURL,
		httpClient: client,
	}

	logger.Info("Successfully initialized iOS-OCR-Server provider")
	return provider, nil
}

// Recognize sends the image content to the iOS-OCR-Server and converts the
// returned boxes into text regions.
func (p *IOSOCRProvider) Recognize(ctx context.Context, imageContent []byte) (*Recognition, error) {
	logger := log.WithFields(logrus.Fields{
		"provider":  "ios_ocr",
		"url":       p.baseURL,
		"data_size": len(imageContent),
	})
	logger.Debug("Starting iOS-OCR-Server processing")

	// Prepare multipart request body
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", "page.png")
	if err != nil {
		logger.WithError(err).Error("Failed to create form file")
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err = io.Copy(part, bytes.NewReader(imageContent)); err != nil {
		logger.WithError(err).Error("Failed to copy image content to form")
		return nil, fmt.Errorf("failed to copy image content: %w", err)
	}
	if err = writer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close multipart writer")
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := p.baseURL + "/ocr"
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", endpoint, &requestBody)
	if err != nil {
		logger.WithError(err).Error("Failed to create HTTP request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	logger.Debug("Sending request to iOS-OCR-Server")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.WithError(err).Error("Failed to send request to iOS-OCR-Server")
		return nil, fmt.Errorf("error sending request to iOS-OCR-Server: %w", err)
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.WithError(err).Error("Failed to read iOS-OCR-Server response body")
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"response":    string(respBodyBytes),
		}).Error("iOS-OCR-Server returned non-200 status")
		return nil, fmt.Errorf("iOS-OCR-Server returned status %d: %s", resp.StatusCode, string(respBodyBytes))
	}

	var ocrResponse IOSOCRResponse
	if err = json.Unmarshal(respBodyBytes, &ocrResponse); err != nil {
		logger.WithError(err).WithField("response", string(respBodyBytes)).Error("Failed to parse iOS-OCR-Server response")
		return nil, fmt.Errorf("failed to parse iOS-OCR-Server response: %w", err)
	}

	if !ocrResponse.Success {
		logger.WithField("message", ocrResponse.Message).Error("iOS-OCR-Server processing failed")
		return nil, fmt.Errorf("iOS-OCR-Server processing failed: %s", ocrResponse.Message)
	}

	page := ocrResponse.toPage()
	result := &Recognition{
		Regions: RegionsFromPage(page),
		Page:    page,
		Metadata: map[string]string{
			"provider":     "ios_ocr",
			"image_width":  fmt.Sprintf("%d", ocrResponse.ImageWidth),
			"image_height": fmt.Sprintf("%d", ocrResponse.ImageHeight),
			"num_boxes":    fmt.Sprintf("%d", len(ocrResponse.OCRBoxes)),
		},
	}

	logger.WithFields(logrus.Fields{
		"num_boxes":   len(ocrResponse.OCRBoxes),
		"num_regions": len(result.Regions),
	}).Info("Successfully processed image with iOS-OCR-Server")
	return result, nil
}

// IOSOCRResponse represents the response from iOS-OCR-Server
type IOSOCRResponse struct {
	Message     string      `json:"message"`
	ImageWidth  int         `json:"image_width"`
	OCRResult   string      `json:"ocr_result"`
	OCRBoxes    []IOSOCRBox `json:"ocr_boxes"`
	Success     bool        `json:"success"`
	ImageHeight int         `json:"image_height"`
}

// IOSOCRBox represents a text bounding box from iOS-OCR-Server, in pixels
// with the origin at the top-left of the image.
type IOSOCRBox struct {
	Text       string   `json:"text"`
	W          float64  `json:"w"`
	X          float64  `json:"x"`
	H          float64  `json:"h"`
	Y          float64  `json:"y"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (r IOSOCRResponse) toPage() *hocr.Page {
	page := newPage("page_1", float64(r.ImageWidth), float64(r.ImageHeight))
	for i, box := range r.OCRBoxes {
		// The server omits confidence on older builds; Vision only returns
		// boxes it accepted, so treat those as certain.
		confidence := 100.0
		if box.Confidence != nil {
			confidence = *box.Confidence * 100
		}
		bbox := hocr.NewBoundingBox(box.X, box.Y, box.X+box.W, box.Y+box.H)
		page.Lines = append(page.Lines, newLine(fmt.Sprintf("line_1_%d", i+1), box.Text, bbox, confidence))
	}
	return page
}
