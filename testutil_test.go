package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"quotebook/ocr"
	"quotebook/underline"
)

// stubProvider returns fixed regions regardless of the image
type stubProvider struct {
	regions []ocr.TextRegion
	err     error
}

func (s *stubProvider) Recognize(ctx context.Context, imageContent []byte) (*ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &ocr.Recognition{Regions: s.regions}, nil
}

func pageRegions() []ocr.TextRegion {
	return []ocr.TextRegion{
		{
			Text:        "It is a truth universally acknowledged",
			BoundingBox: ocr.BoundingBox{Left: 0.1, Right: 0.8, Top: 0.8, Bottom: 0.78},
			Confidence:  0.95,
		},
		{
			Text:        "that a single man in possession",
			BoundingBox: ocr.BoundingBox{Left: 0.1, Right: 0.8, Top: 0.7, Bottom: 0.68},
			Confidence:  0.95,
		},
	}
}

// pagePNG draws the two lines of pageRegions as ink blocks on light paper,
// optionally with a pencil stroke under the first one.
func pagePNG(t *testing.T, underlined bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 1000, 1000))
	fill := func(r image.Rectangle, v uint8) {
		draw.Draw(img, r, &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
	}
	fill(img.Bounds(), 240)
	fill(image.Rect(100, 200, 800, 219), 20)
	fill(image.Rect(100, 300, 800, 319), 20)
	if underlined {
		fill(image.Rect(110, 225, 790, 227), 150)
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// setupTestApp isolates the test in a temp working directory with a fresh
// database, job store and settings.
func setupTestApp(t *testing.T, provider ocr.Provider) (*App, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmp := t.TempDir()
	cwd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	settings = underline.DefaultConfig()
	jobStore = newJobStore()
	exportTemplate = nil

	app := &App{
		Database:         testDB(t),
		Provider:         provider,
		BatchConcurrency: 2,
	}
	router := gin.New()
	app.registerRoutes(router)
	return app, router
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := openDB(filepath.Join(t.TempDir(), "quotebook.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type upload struct {
	field    string
	filename string
	content  []byte
}

func multipartRequest(t *testing.T, method, url string, uploads ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, u := range uploads {
		part, err := w.CreateFormFile(u.field, u.filename)
		require.NoError(t, err)
		_, err = part.Write(u.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
