package ocr

import (
	"strings"

	"github.com/gardar/ocrchestra/pkg/hocr"
)

// MinRecognitionConfidence is the floor below which recognized lines never
// reach the extraction pipeline.
const MinRecognitionConfidence = 0.3

// BoundingBox is a rectangle in normalized image coordinates (0..1). The
// vertical axis increases upward, so Top > Bottom for a non-empty box.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Top - b.Bottom }

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() float64 { return (b.Left + b.Right) / 2 }

// TextRegion is one recognized span of text.
type TextRegion struct {
	Text        string      `json:"text"`
	BoundingBox BoundingBox `json:"bounding_box"`
	Confidence  float64     `json:"confidence"`
}

func (r TextRegion) Width() float64   { return r.BoundingBox.Width() }
func (r TextRegion) Height() float64  { return r.BoundingBox.Height() }
func (r TextRegion) CenterX() float64 { return r.BoundingBox.CenterX() }

// RegionsFromPage converts the lines of an hOCR page (pixel coordinates, origin
// top-left, word confidence 0..100) into normalized text regions with the
// origin at the bottom-left. Lines below MinRecognitionConfidence are dropped.
func RegionsFromPage(page *hocr.Page) []TextRegion {
	if page == nil {
		return nil
	}
	width := page.BBox.X2 - page.BBox.X1
	height := page.BBox.Y2 - page.BBox.Y1
	if width <= 0 || height <= 0 {
		return nil
	}

	var regions []TextRegion
	for _, line := range pageLines(page) {
		text := lineText(line)
		if text == "" {
			continue
		}
		box := line.BBox
		if box.X2 <= box.X1 || box.Y2 <= box.Y1 {
			continue
		}
		confidence := lineConfidence(line)
		if confidence < MinRecognitionConfidence {
			log.WithField("text", text).Debugf("Dropping low confidence line (%.2f)", confidence)
			continue
		}
		regions = append(regions, TextRegion{
			Text: text,
			BoundingBox: BoundingBox{
				Left:   clamp01((box.X1 - page.BBox.X1) / width),
				Right:  clamp01((box.X2 - page.BBox.X1) / width),
				Top:    clamp01(1 - (box.Y1-page.BBox.Y1)/height),
				Bottom: clamp01(1 - (box.Y2-page.BBox.Y1)/height),
			},
			Confidence: confidence,
		})
	}
	return regions
}

// DropLowConfidence returns the regions at or above MinRecognitionConfidence,
// for regions that did not come through RegionsFromPage.
func DropLowConfidence(regions []TextRegion) []TextRegion {
	kept := make([]TextRegion, 0, len(regions))
	for _, r := range regions {
		if r.Confidence < MinRecognitionConfidence {
			log.WithField("text", r.Text).Debugf("Dropping low confidence region (%.2f)", r.Confidence)
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// pageLines flattens every line reachable from the page regardless of
// whether the provider grouped it into areas or paragraphs.
func pageLines(page *hocr.Page) []hocr.Line {
	lines := append([]hocr.Line(nil), page.Lines...)
	for _, par := range page.Paragraphs {
		lines = append(lines, par.Lines...)
	}
	for _, area := range page.Areas {
		lines = append(lines, area.Lines...)
		for _, par := range area.Paragraphs {
			lines = append(lines, par.Lines...)
		}
	}
	return lines
}

func lineText(line hocr.Line) string {
	words := make([]string, 0, len(line.Words))
	for _, w := range line.Words {
		if t := strings.TrimSpace(w.Text); t != "" {
			words = append(words, t)
		}
	}
	return strings.Join(words, " ")
}

// lineConfidence is the mean word confidence scaled to 0..1.
func lineConfidence(line hocr.Line) float64 {
	if len(line.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range line.Words {
		sum += w.Confidence
	}
	return clamp01(sum / float64(len(line.Words)) / 100)
}

// newLine builds an hOCR line from a single text string.
func newLine(id, text string, box hocr.BoundingBox, confidence float64) hocr.Line {
	var words []hocr.Word
	for _, w := range strings.Fields(text) {
		words = append(words, hocr.Word{Text: w, BBox: box, Confidence: confidence})
	}
	return hocr.Line{ID: id, BBox: box, Words: words}
}

func newPage(id string, width, height float64) *hocr.Page {
	return &hocr.Page{
		ID:         id,
		PageNumber: 1,
		BBox:       hocr.NewBoundingBox(0, 0, width, height),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
