package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotebook/internal/constants"
	"quotebook/underline"
)

func jsonRequest(t *testing.T, method, url string, payload interface{}) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestExtractHandler(t *testing.T) {
	tests := []struct {
		name       string
		provider   *stubProvider
		content    []byte
		wantStatus int
		wantText   string
		wantError  string
	}{
		{
			name:       "underlined passage",
			provider:   &stubProvider{regions: pageRegions()},
			content:    pagePNG(t, true),
			wantStatus: http.StatusOK,
			wantText:   "It is a truth universally acknowledged",
		},
		{
			name:       "no underline falls back to body text",
			provider:   &stubProvider{regions: pageRegions()},
			content:    pagePNG(t, false),
			wantStatus: http.StatusOK,
			wantText:   "It is a truth universally acknowledged\nthat a single man in possession",
		},
		{
			name:       "not an image",
			provider:   &stubProvider{regions: pageRegions()},
			content:    []byte("definitely not a photo"),
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "Could not read the image. Please try a different photo.",
		},
		{
			name:       "no text",
			provider:   &stubProvider{},
			content:    pagePNG(t, false),
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "No text detected. Please ensure the text is clear and well-lit.",
		},
		{
			name:       "recognizer failure",
			provider:   &stubProvider{err: errors.New("connection refused")},
			content:    pagePNG(t, false),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Text extraction failed: text recognition failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := setupTestApp(t, tt.provider)
			w := serve(router, multipartRequest(t, "POST", "/api/extract", upload{"image", "page.png", tt.content}))
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantError != "" {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantError, resp["error"])
				return
			}
			var result underline.OCRResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
			assert.Equal(t, tt.wantText, result.Text)
			assert.Equal(t, 2, result.TotalTextRegions)
		})
	}
}

func TestExtractHandler_MissingUpload(t *testing.T) {
	_, router := setupTestApp(t, &stubProvider{})
	w := serve(router, multipartRequest(t, "POST", "/api/extract"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractBatchHandler(t *testing.T) {
	_, router := setupTestApp(t, &stubProvider{regions: pageRegions()})
	req := multipartRequest(t, "POST", "/api/extract/batch",
		upload{"images", "p1.png", pagePNG(t, true)},
		upload{"images", "notes.txt", []byte("just some text")},
		upload{"images", "p2.png", pagePNG(t, false)},
	)
	w := serve(router, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var items []batchItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 3)

	assert.Equal(t, "p1.png", items[0].Filename)
	require.NotNil(t, items[0].Result)
	assert.True(t, items[0].Result.UnderlinesDetected)

	assert.Equal(t, "notes.txt", items[1].Filename)
	assert.Nil(t, items[1].Result)
	assert.Equal(t, "Could not read the image. Please try a different photo.", items[1].Error)

	require.NotNil(t, items[2].Result)
	assert.False(t, items[2].Result.UnderlinesDetected)
}

func TestExtractJobHandlers(t *testing.T) {
	app, router := setupTestApp(t, &stubProvider{regions: pageRegions()})

	submit := func() string {
		w := serve(router, multipartRequest(t, "POST", "/api/extract/jobs", upload{"image", "page.png", pagePNG(t, true)}))
		require.Equal(t, http.StatusAccepted, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp["job_id"])
		return resp["job_id"]
	}
	status := func(jobID string) map[string]interface{} {
		w := serve(router, jsonRequest(t, "GET", "/api/extract/jobs/"+jobID, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	t.Run("completes", func(t *testing.T) {
		jobID := submit()
		assert.Equal(t, constants.JobPending, status(jobID)["status"])

		processJob(app, <-jobQueue)

		resp := status(jobID)
		assert.Equal(t, constants.JobCompleted, resp["status"])
		result := resp["result"].(map[string]interface{})
		assert.Equal(t, "It is a truth universally acknowledged", result["text"])
		assert.Equal(t, true, result["underlines_detected"])

		w := serve(router, jsonRequest(t, "DELETE", "/api/extract/jobs/"+jobID, nil))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("cancelled while pending", func(t *testing.T) {
		jobID := submit()
		w := serve(router, jsonRequest(t, "DELETE", "/api/extract/jobs/"+jobID, nil))
		require.Equal(t, http.StatusAccepted, w.Code)

		processJob(app, <-jobQueue)

		resp := status(jobID)
		assert.Equal(t, constants.JobCancelled, resp["status"])
		assert.Equal(t, "Job cancelled by user", resp["error"])
	})

	t.Run("lists jobs", func(t *testing.T) {
		w := serve(router, jsonRequest(t, "GET", "/api/extract/jobs", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var jobs []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jobs))
		assert.Len(t, jobs, 2)
	})

	t.Run("unknown job", func(t *testing.T) {
		w := serve(router, jsonRequest(t, "GET", "/api/extract/jobs/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = serve(router, jsonRequest(t, "DELETE", "/api/extract/jobs/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLibraryHandlers(t *testing.T) {
	_, router := setupTestApp(t, &stubProvider{})

	w := serve(router, jsonRequest(t, "POST", "/api/books", map[string]string{"title": "Pride and Prejudice", "author": "Jane Austen"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var book Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	require.NotZero(t, book.ID)
	bookURL := "/api/books/" + itoa(book.ID)

	w = serve(router, jsonRequest(t, "POST", "/api/books", map[string]string{"author": "Nobody"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router, jsonRequest(t, "POST", bookURL+"/quotes", map[string]interface{}{
		"text":       "It is a truth universally acknowledged",
		"page":       1,
		"source":     constants.SourcePhoto,
		"underlined": true,
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var quote Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
	assert.True(t, quote.Underlined)
	assert.Equal(t, book.ID, quote.BookID)

	t.Run("quote validation", func(t *testing.T) {
		w := serve(router, jsonRequest(t, "POST", bookURL+"/quotes", map[string]interface{}{"text": "  "}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = serve(router, jsonRequest(t, "POST", bookURL+"/quotes", map[string]interface{}{"text": "x", "source": "fax"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w = serve(router, jsonRequest(t, "POST", "/api/books/9999/quotes", map[string]interface{}{"text": "orphan"}))
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = serve(router, jsonRequest(t, "POST", "/api/books/abc/quotes", map[string]interface{}{"text": "orphan"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("update quote", func(t *testing.T) {
		note := "Opening line"
		w := serve(router, jsonRequest(t, "PATCH", "/api/quotes/"+itoa(quote.ID), map[string]interface{}{"note": note}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var updated Quote
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, note, updated.Note)
		assert.Equal(t, quote.Text, updated.Text)
	})

	t.Run("get and list", func(t *testing.T) {
		w := serve(router, jsonRequest(t, "GET", bookURL, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var got Book
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got.Quotes, 1)

		w = serve(router, jsonRequest(t, "GET", "/api/books", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var books []Book
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &books))
		assert.Len(t, books, 1)
	})

	t.Run("export", func(t *testing.T) {
		w := serve(router, jsonRequest(t, "GET", bookURL+"/export", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
		assert.Contains(t, w.Body.String(), "# Pride and Prejudice")
		assert.Contains(t, w.Body.String(), "> It is a truth universally acknowledged")
		assert.Contains(t, w.Body.String(), "Opening line")
	})

	t.Run("delete", func(t *testing.T) {
		w := serve(router, jsonRequest(t, "DELETE", "/api/quotes/"+itoa(quote.ID), nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = serve(router, jsonRequest(t, "DELETE", "/api/quotes/"+itoa(quote.ID), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = serve(router, jsonRequest(t, "DELETE", bookURL, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		w = serve(router, jsonRequest(t, "GET", bookURL, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSettingsHandlers(t *testing.T) {
	_, router := setupTestApp(t, &stubProvider{})

	w := serve(router, jsonRequest(t, "GET", "/api/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got underline.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, underline.DefaultConfig(), got)

	w = serve(router, jsonRequest(t, "POST", "/api/settings", map[string]interface{}{"max_gap": 0.03}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 0.03, got.MaxGap)
	assert.Equal(t, underline.DefaultConfig().MinTextLength, got.MinTextLength)

	data, err := os.ReadFile(filepath.Join(configDir, settingsFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_gap": 0.03`)

	w = serve(router, jsonRequest(t, "POST", "/api/settings", map[string]interface{}{"min_dark_threshold": 220}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0.03, currentSettings().MaxGap)

	// A zero is reported and stored as the default it falls back to
	w = serve(router, jsonRequest(t, "POST", "/api/settings", map[string]interface{}{"noise_floor": 0}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, underline.DefaultConfig().NoiseFloor, got.NoiseFloor)
	assert.Equal(t, underline.DefaultConfig().NoiseFloor, currentSettings().NoiseFloor)
	data, err = os.ReadFile(filepath.Join(configDir, settingsFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"noise_floor": 30`)
}
