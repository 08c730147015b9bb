package ocr

import "time"

// AzureDocumentResult represents the root response from Azure Document Intelligence
type AzureDocumentResult struct {
	Status              string             `json:"status"`
	CreatedDateTime     time.Time          `json:"createdDateTime"`
	LastUpdatedDateTime time.Time          `json:"lastUpdatedDateTime"`
	AnalyzeResult       AzureAnalyzeResult `json:"analyzeResult"`
}

// AzureAnalyzeResult represents the analyze result part of the Azure Document Intelligence response
type AzureAnalyzeResult struct {
	APIVersion      string           `json:"apiVersion"`
	ModelID         string           `json:"modelId"`
	StringIndexType string           `json:"stringIndexType"`
	Content         string           `json:"content"`
	Pages           []AzurePage      `json:"pages"`
	Paragraphs      []AzureParagraph `json:"paragraphs"`
}

// AzurePage represents a single page in the document. For image input the
// unit is "pixel" and polygons use a top-left origin.
type AzurePage struct {
	PageNumber int         `json:"pageNumber"`
	Angle      float64     `json:"angle"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	Unit       string      `json:"unit"`
	Words      []AzureWord `json:"words"`
	Lines      []AzureLine `json:"lines"`
	Spans      []AzureSpan `json:"spans"`
}

// AzureWord represents a single word with its properties
type AzureWord struct {
	Content    string    `json:"content"`
	Polygon    []float64 `json:"polygon"`
	Confidence float64   `json:"confidence"`
	Span       AzureSpan `json:"span"`
}

// AzureLine represents a line of text
type AzureLine struct {
	Content string      `json:"content"`
	Polygon []float64   `json:"polygon"`
	Spans   []AzureSpan `json:"spans"`
}

// AzureSpan represents a span of text with offset and length
type AzureSpan struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

func (s AzureSpan) contains(o AzureSpan) bool {
	return o.Offset >= s.Offset && o.Offset+o.Length <= s.Offset+s.Length
}

// AzureParagraph represents a paragraph of text
type AzureParagraph struct {
	Content         string             `json:"content"`
	Spans           []AzureSpan        `json:"spans"`
	BoundingRegions []AzureBoundingBox `json:"boundingRegions"`
}

// AzureBoundingBox represents the location of content on a page
type AzureBoundingBox struct {
	PageNumber int       `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}
