package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"quotebook/internal/constants"
	"quotebook/underline"
)

// maxUploadSize caps a single page upload
const maxUploadSize = 32 << 20

// extractionStatus maps an extraction error to its HTTP status code
func extractionStatus(err error) int {
	switch {
	case errors.Is(err, underline.ErrImageConversionFailed), errors.Is(err, underline.ErrNoTextDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fh.Filename, maxUploadSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxUploadSize))
}

// extractHandler handles the POST /api/extract endpoint
func (app *App) extractHandler(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing image upload"})
		return
	}
	content, err := readUpload(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Error reading upload: %v", err)})
		return
	}

	uploadLogger := log.WithField("filename", fh.Filename)
	result, err := app.extractPage(c.Request.Context(), content, uploadLogger)
	if err != nil {
		uploadLogger.WithError(err).Warn("Extraction failed")
		c.JSON(extractionStatus(err), gin.H{"error": underline.UserMessage(err)})
		return
	}

	c.JSON(http.StatusOK, result)
}

// batchItem is the outcome for one file of a batch extraction
type batchItem struct {
	Filename string               `json:"filename"`
	Result   *underline.OCRResult `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// extractBatchHandler handles the POST /api/extract/batch endpoint
func (app *App) extractBatchHandler(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["images"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing images upload"})
		return
	}
	files := form.File["images"]
	items := make([]batchItem, len(files))

	limit := app.BatchConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(limit)

	for i, fh := range files {
		g.Go(func() error {
			items[i].Filename = fh.Filename
			content, err := readUpload(fh)
			if err != nil {
				items[i].Error = fmt.Sprintf("Error reading upload: %v", err)
				return nil
			}
			result, err := app.extractPage(ctx, content, log.WithField("filename", fh.Filename))
			if err != nil {
				// Only cancellation aborts the batch; per-file failures are reported
				if errors.Is(err, context.Canceled) {
					return err
				}
				items[i].Error = underline.UserMessage(err)
				return nil
			}
			items[i].Result = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("Batch extraction aborted")
		c.JSON(extractionStatus(err), gin.H{"error": "Extraction cancelled"})
		return
	}

	c.JSON(http.StatusOK, items)
}

// submitExtractJobHandler handles the POST /api/extract/jobs endpoint
func (app *App) submitExtractJobHandler(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing image upload"})
		return
	}
	content, err := readUpload(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Error reading upload: %v", err)})
		return
	}

	job := &Job{
		ID:        generateJobID(),
		Filename:  fh.Filename,
		Status:    constants.JobPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		content:   content,
	}

	jobStore.addJob(job)
	select {
	case jobQueue <- job:
	default:
		jobStore.removeJob(job.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too many pending jobs"})
		return
	}

	// Return the job ID to the client
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

func jobResponse(job Job) gin.H {
	response := gin.H{
		"job_id":     job.ID,
		"filename":   job.Filename,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}

	switch job.Status {
	case constants.JobCompleted:
		response["result"] = job.Result
	case constants.JobFailed, constants.JobCancelled:
		response["error"] = job.Error
	}
	return response
}

func (app *App) getJobStatusHandler(c *gin.Context) {
	job, exists := jobStore.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

func (app *App) getAllJobsHandler(c *gin.Context) {
	jobs := jobStore.GetAllJobs()

	jobList := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		jobList = append(jobList, jobResponse(job))
	}

	c.JSON(http.StatusOK, jobList)
}

func (app *App) cancelJobHandler(c *gin.Context) {
	jobID := c.Param("job_id")
	exists, err := jobStore.cancelJob(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Job has already finished"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// Section for quote library actions

func parseID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s ID", what)})
		return 0, false
	}
	return uint(id), true
}

func respondDBError(c *gin.Context, err error, what string) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s not found", what)})
		return
	}
	log.WithFields(logrus.Fields{"entity": what}).WithError(err).Error("Database error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to access %s", strings.ToLower(what))})
}

func (app *App) getBooksHandler(c *gin.Context) {
	books, err := GetAllBooks(app.Database)
	if err != nil {
		respondDBError(c, err, "Books")
		return
	}
	c.JSON(http.StatusOK, books)
}

func (app *App) createBookHandler(c *gin.Context) {
	var req struct {
		Title  string `json:"title" binding:"required"`
		Author string `json:"author"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	book := &Book{Title: strings.TrimSpace(req.Title), Author: strings.TrimSpace(req.Author)}
	if err := CreateBook(app.Database, book); err != nil {
		respondDBError(c, err, "Book")
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (app *App) getBookHandler(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	book, err := GetBook(app.Database, id)
	if err != nil {
		respondDBError(c, err, "Book")
		return
	}
	c.JSON(http.StatusOK, book)
}

func (app *App) deleteBookHandler(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	if err := DeleteBook(app.Database, id); err != nil {
		respondDBError(c, err, "Book")
		return
	}
	c.Status(http.StatusNoContent)
}

func (app *App) createQuoteHandler(c *gin.Context) {
	bookID, ok := parseID(c, "book")
	if !ok {
		return
	}
	var req struct {
		Text       string `json:"text"`
		Page       int    `json:"page"`
		Note       string `json:"note"`
		Source     string `json:"source"`
		Underlined bool   `json:"underlined"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Quote text is required"})
		return
	}
	if req.Source == "" {
		req.Source = constants.SourceManual
	}
	if !constants.IsQuoteSource(req.Source) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid quote source: %s", req.Source)})
		return
	}

	quote := &Quote{
		BookID:     bookID,
		Text:       strings.TrimSpace(req.Text),
		Page:       req.Page,
		Note:       req.Note,
		Source:     req.Source,
		Underlined: req.Source == constants.SourcePhoto && req.Underlined,
	}
	if err := InsertQuote(app.Database, quote); err != nil {
		respondDBError(c, err, "Book")
		return
	}
	c.JSON(http.StatusCreated, quote)
}

func (app *App) updateQuoteHandler(c *gin.Context) {
	id, ok := parseID(c, "quote")
	if !ok {
		return
	}
	var update QuoteUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if update.Text != nil && strings.TrimSpace(*update.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Quote text is required"})
		return
	}

	quote, err := UpdateQuote(app.Database, id, update)
	if err != nil {
		respondDBError(c, err, "Quote")
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (app *App) deleteQuoteHandler(c *gin.Context) {
	id, ok := parseID(c, "quote")
	if !ok {
		return
	}
	if err := DeleteQuote(app.Database, id); err != nil {
		respondDBError(c, err, "Quote")
		return
	}
	c.Status(http.StatusNoContent)
}

// exportBookHandler handles the GET /api/books/:id/export endpoint
func (app *App) exportBookHandler(c *gin.Context) {
	id, ok := parseID(c, "book")
	if !ok {
		return
	}
	book, err := GetBook(app.Database, id)
	if err != nil {
		respondDBError(c, err, "Book")
		return
	}

	markdown, err := renderExport(book, time.Now())
	if err != nil {
		log.Errorf("Error rendering export for book %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render export"})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(markdown))
}

// getSettingsHandler handles the GET /api/settings endpoint
func getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, currentSettings())
}

// updateSettingsHandler handles the POST /api/settings endpoint
func updateSettingsHandler(c *gin.Context) {
	// Fields missing from the payload keep their current value
	cfg := currentSettings()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid settings: %v", err)})
		return
	}

	// Store what the pipeline runs with, not the zeros that were posted
	if err := updateSettings(cfg.Normalized()); err != nil {
		log.Errorf("Failed to save settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, currentSettings())
}
