package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"quotebook/ocr"
	"quotebook/underline"
)

// Global Variables and Constants
var (

	// Logger
	log = logrus.New()

	// Environment Variables
	ocrProvider          string
	iosOCRServerURL      string
	iosOCRServerToken    string
	azureDocAIEndpoint   string
	azureDocAIKey        string
	azureDocAIModelID    string
	azureDocAITimeout    string
	googleProjectID      string
	googleLocation       string
	googleProcessorID    string
	tesseractLanguages   string
	ocrRequestsPerMinute string
	ocrHTTPRetries       string
	logLevel             string
	listenAddr           string
	dbPath               string
	extractWorkers       string
	batchConcurrency     string
)

// App struct to hold dependencies
type App struct {
	Database         *gorm.DB
	Provider         ocr.Provider
	BatchConcurrency int
}

var rootCmd = &cobra.Command{
	Use:   "quotebook",
	Short: "Collect quotes from photographed book pages",
	Long: `Quotebook extracts the passages underlined in pencil on a photographed
book page and keeps them in a small quote library.

When no underline is found on the page, all body text is returned so the
quote can be trimmed by hand.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := ocr.NewProvider(ocrConfig())
		if err != nil {
			return fmt.Errorf("failed to create OCR provider: %w", err)
		}

		loadSettings()
		loadExportTemplate()

		app := &App{
			Database:         InitializeDB(dbPath),
			Provider:         provider,
			BatchConcurrency: envInt(batchConcurrency, 4),
		}

		router := gin.Default()
		app.registerRoutes(router)

		// Start extraction worker pool
		startWorkerPool(app, envInt(extractWorkers, 1))

		log.Infof("Server started on %s", listenAddr)
		return router.Run(listenAddr)
	},
}

var regionsFile string

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Extract quote text from a single page photo and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("error reading %s: %w", args[0], err)
		}
		loadSettings()
		fileLogger := log.WithField("file", args[0])

		var result *underline.OCRResult
		if regionsFile != "" {
			result, err = extractWithRegions(cmd.Context(), content, regionsFile, fileLogger)
		} else {
			provider, perr := ocr.NewProvider(ocrConfig())
			if perr != nil {
				return fmt.Errorf("failed to create OCR provider: %w", perr)
			}
			app := &App{Provider: provider}
			result, err = app.extractPage(cmd.Context(), content, fileLogger)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", underline.UserMessage(err), err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	extractCmd.Flags().StringVar(
		&regionsFile, "regions", "", "JSON file with recognized text regions; skips the OCR provider",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loadEnv()
		initLogger()
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadEnv reads the optional .env file and the environment variables
func loadEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to load .env file: %v", err)
	}

	ocrProvider = os.Getenv("OCR_PROVIDER")
	iosOCRServerURL = os.Getenv("IOS_OCR_SERVER_URL")
	iosOCRServerToken = os.Getenv("IOS_OCR_SERVER_TOKEN")
	azureDocAIEndpoint = os.Getenv("AZURE_DOCAI_ENDPOINT")
	azureDocAIKey = os.Getenv("AZURE_DOCAI_KEY")
	azureDocAIModelID = os.Getenv("AZURE_DOCAI_MODEL_ID")
	azureDocAITimeout = os.Getenv("AZURE_DOCAI_TIMEOUT_SECONDS")
	googleProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	googleLocation = os.Getenv("GOOGLE_LOCATION")
	googleProcessorID = os.Getenv("GOOGLE_PROCESSOR_ID")
	tesseractLanguages = os.Getenv("TESSERACT_LANGUAGES")
	ocrRequestsPerMinute = os.Getenv("OCR_REQUESTS_PER_MINUTE")
	ocrHTTPRetries = os.Getenv("OCR_HTTP_RETRIES")
	logLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	extractWorkers = os.Getenv("EXTRACT_WORKERS")
	batchConcurrency = os.Getenv("BATCH_CONCURRENCY")

	listenAddr = os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	dbPath = os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "db/quotebook.db"
	}
}

func initLogger() {
	var level logrus.Level
	switch logLevel {
	case "debug":
		level = logrus.DebugLevel
	case "info":
		level = logrus.InfoLevel
	case "warn":
		level = logrus.WarnLevel
	case "error":
		level = logrus.ErrorLevel
	default:
		level = logrus.InfoLevel
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetLevel(level)
	logger.SetLevel(level)
	ocr.SetLogLevel(level)
	underline.SetLogLevel(level)

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// ocrConfig assembles the OCR provider configuration from the environment
func ocrConfig() ocr.Config {
	rpm, err := strconv.ParseFloat(ocrRequestsPerMinute, 64)
	if err != nil && ocrRequestsPerMinute != "" {
		log.Warnf("Invalid OCR_REQUESTS_PER_MINUTE value '%s', rate limiting disabled", ocrRequestsPerMinute)
	}

	var languages []string
	for _, lang := range strings.Split(tesseractLanguages, "+") {
		if lang = strings.TrimSpace(lang); lang != "" {
			languages = append(languages, lang)
		}
	}

	return ocr.Config{
		Provider:           ocrProvider,
		IOSOCRServerURL:    iosOCRServerURL,
		IOSOCRServerToken:  iosOCRServerToken,
		AzureEndpoint:      azureDocAIEndpoint,
		AzureAPIKey:        azureDocAIKey,
		AzureModelID:       azureDocAIModelID,
		AzureTimeout:       envInt(azureDocAITimeout, 0),
		GoogleProjectID:    googleProjectID,
		GoogleLocation:     googleLocation,
		GoogleProcessorID:  googleProcessorID,
		TesseractLanguages: languages,
		HTTPRetries:        envInt(ocrHTTPRetries, 0),
		RequestsPerMinute:  rpm,
	}
}

// envInt parses a non-negative integer setting, falling back to def
func envInt(value string, def int) int {
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		log.Warnf("Invalid integer setting '%s', using %d", value, def)
		return def
	}
	return n
}

// extractPage runs one uploaded page through the extraction pipeline with
// the current detection settings
func (app *App) extractPage(ctx context.Context, content []byte, pageLogger *logrus.Entry) (*underline.OCRResult, error) {
	content, err := preparePageImage(content, pageLogger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", underline.ErrImageConversionFailed, err)
	}

	extractor := underline.NewExtractor(app.Provider, currentSettings())
	result, err := extractor.Extract(ctx, content)
	if err != nil {
		return nil, err
	}
	pageLogger.WithFields(logrus.Fields{
		"underlines_detected": result.UnderlinesDetected,
		"underlined_regions":  result.UnderlinedRegions,
	}).Debug("Page extracted")
	return result, nil
}

// extractWithRegions runs the pipeline on regions recognized elsewhere
func extractWithRegions(ctx context.Context, content []byte, path string, fileLogger *logrus.Entry) (*underline.OCRResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading regions file: %w", err)
	}
	var regions []ocr.TextRegion
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("error parsing regions file: %w", err)
	}
	regions = ocr.DropLowConfidence(regions)

	content, err = preparePageImage(content, fileLogger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", underline.ErrImageConversionFailed, err)
	}
	img, err := underline.DecodeImage(content)
	if err != nil {
		return nil, err
	}
	return underline.NewExtractor(nil, currentSettings()).ExtractRegions(ctx, img, regions)
}

func (app *App) registerRoutes(router *gin.Engine) {
	// API routes
	api := router.Group("/api")
	{
		api.POST("/extract", app.extractHandler)
		api.POST("/extract/batch", app.extractBatchHandler)

		// Async extraction jobs
		api.POST("/extract/jobs", app.submitExtractJobHandler)
		api.GET("/extract/jobs", app.getAllJobsHandler)
		api.GET("/extract/jobs/:job_id", app.getJobStatusHandler)
		api.DELETE("/extract/jobs/:job_id", app.cancelJobHandler)

		// Quote library
		api.GET("/books", app.getBooksHandler)
		api.POST("/books", app.createBookHandler)
		api.GET("/books/:id", app.getBookHandler)
		api.DELETE("/books/:id", app.deleteBookHandler)
		api.POST("/books/:id/quotes", app.createQuoteHandler)
		api.GET("/books/:id/export", app.exportBookHandler)
		api.PATCH("/quotes/:id", app.updateQuoteHandler)
		api.DELETE("/quotes/:id", app.deleteQuoteHandler)

		api.GET("/settings", getSettingsHandler)
		api.POST("/settings", updateSettingsHandler)

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
}
