package ocr

import (
	"context"
	"fmt"
	"sync"

	"github.com/gardar/ocrchestra/pkg/hocr"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Recognition holds the output of one text recognition call
type Recognition struct {
	// Normalized text regions, origin bottom-left
	Regions []TextRegion

	// hOCR page the regions were derived from (pixel coordinates)
	Page *hocr.Page

	// Additional provider-specific metadata
	Metadata map[string]string
}

// Provider recognizes text in a single page image
type Provider interface {
	Recognize(ctx context.Context, imageContent []byte) (*Recognition, error)
}

// Config holds the OCR provider configuration
type Config struct {
	// Provider type ("ios_ocr", "azure", "google_docai", "tesseract")
	Provider string

	// iOS-OCR-Server settings
	IOSOCRServerURL   string
	IOSOCRServerToken string // Optional bearer token

	// Azure Document Intelligence settings
	AzureEndpoint string
	AzureAPIKey   string
	AzureModelID  string // Optional, defaults to "prebuilt-read"
	AzureTimeout  int    // Optional, defaults to 120 seconds

	// Google Document AI settings
	GoogleProjectID   string
	GoogleLocation    string
	GoogleProcessorID string

	// Tesseract settings
	TesseractLanguages []string

	// HTTPRetries is the number of transport level retries for HTTP backed
	// providers. Zero disables retries.
	HTTPRetries int

	// RequestsPerMinute caps recognition calls. Zero disables limiting.
	RequestsPerMinute float64
}

// Factory constructs a provider from configuration.
type Factory func(config Config) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterProvider makes a provider available to NewProvider under name.
// Providers that depend on optional native libraries register themselves
// from an init function behind a build tag.
func RegisterProvider(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewProvider creates a new OCR provider based on configuration
func NewProvider(config Config) (Provider, error) {
	log.Info("Initializing OCR provider: ", config.Provider)

	var (
		provider Provider
		err      error
	)

	switch config.Provider {
	case "ios_ocr":
		if config.IOSOCRServerURL == "" {
			return nil, fmt.Errorf("missing required iOS-OCR-Server configuration (IOS_OCR_SERVER_URL)")
		}
		log.WithField("url", config.IOSOCRServerURL).Info("Using iOS-OCR-Server provider")
		provider, err = newIOSOCRProvider(config)

	case "azure":
		if config.AzureEndpoint == "" || config.AzureAPIKey == "" {
			return nil, fmt.Errorf("missing required Azure Document Intelligence configuration")
		}
		provider, err = newAzureProvider(config)

	case "google_docai":
		if config.GoogleProjectID == "" || config.GoogleLocation == "" || config.GoogleProcessorID == "" {
			return nil, fmt.Errorf("missing required Google Document AI configuration")
		}
		log.WithFields(logrus.Fields{
			"location":     config.GoogleLocation,
			"processor_id": config.GoogleProcessorID,
		}).Info("Using Google Document AI provider")
		provider, err = newGoogleDocAIProvider(config)

	default:
		factoriesMu.RLock()
		factory, ok := factories[config.Provider]
		factoriesMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unsupported OCR provider: %s", config.Provider)
		}
		provider, err = factory(config)
	}
	if err != nil {
		return nil, err
	}

	if config.RequestsPerMinute > 0 {
		log.WithField("requests_per_minute", config.RequestsPerMinute).Info("Rate limiting OCR provider")
		provider = NewRateLimitedProvider(provider, config.RequestsPerMinute)
	}
	return provider, nil
}

// SetLogLevel sets the logging level for the OCR package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
