package underline

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"quotebook/ocr"
)

// DetectedLine is a candidate pencil mark, in the same normalized
// bottom-left-origin coordinates as the text regions.
type DetectedLine struct {
	Y             float64 `json:"y"`
	XStart        float64 `json:"x_start"`
	XEnd          float64 `json:"x_end"`
	AvgBrightness float64 `json:"avg_brightness"` // 0..1, lower is darker
}

// Width returns the horizontal extent of the line.
func (l DetectedLine) Width() float64 { return l.XEnd - l.XStart }

// CenterX returns the horizontal center of the line.
func (l DetectedLine) CenterX() float64 { return (l.XStart + l.XEnd) / 2 }

// grayPixels is a single channel intensity buffer, row major, origin top-left.
type grayPixels struct {
	width  int
	height int
	pix    []uint8
}

func newGrayPixels(img image.Image) *grayPixels {
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	g := &grayPixels{
		width:  b.Dx(),
		height: b.Dy(),
		pix:    make([]uint8, b.Dx()*b.Dy()),
	}
	for y := 0; y < g.height; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < g.width; x++ {
			// R, G and B are equal after Grayscale
			g.pix[y*g.width+x] = row[x*4]
		}
	}
	return g
}

func (g *grayPixels) at(x, y int) uint8 { return g.pix[y*g.width+x] }

// averageBrightness estimates the page background by sampling a coarse grid.
func (g *grayPixels) averageBrightness(step int) float64 {
	var sum, n float64
	for y := 0; y < g.height; y += step {
		for x := 0; x < g.width; x += step {
			sum += float64(g.at(x, y))
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// darkThreshold tracks page brightness: pencil is moderately darker than the
// paper but lighter than printed ink.
func darkThreshold(pageAverage float64, cfg Config) float64 {
	return math.Max(cfg.MinDarkThreshold, math.Min(cfg.MaxDarkThreshold, pageAverage-cfg.ThresholdOffset))
}

// run is a horizontal streak of mark-coloured pixels in one row. end is
// exclusive.
type run struct {
	row, start, end int
	sum             float64
}

func (r run) length() int { return r.end - r.start }

// searchWindow is the pixel rectangle scanned beneath one region. Bounds are
// half open.
type searchWindow struct {
	left, right, top, bottom int
}

func (w searchWindow) width() int  { return w.right - w.left }
func (w searchWindow) height() int { return w.bottom - w.top }

// windowBelow maps a region to the strip directly beneath its text, in pixel
// coordinates with the vertical axis flipped.
func windowBelow(r ocr.TextRegion, width, height int, cfg Config) searchWindow {
	w, h := float64(width), float64(height)
	left := r.BoundingBox.Left * w
	right := r.BoundingBox.Right * w
	textTop := (1 - r.BoundingBox.Top) * h
	textBottom := (1 - r.BoundingBox.Bottom) * h
	depth := math.Max((textBottom-textTop)/2, float64(cfg.MinSearchDepthPx))

	return searchWindow{
		left:   max(0, int(left)-cfg.HorizontalPaddingPx),
		right:  min(width, int(right)+cfg.HorizontalPaddingPx),
		top:    max(0, int(textBottom)-cfg.BottomTolerancePx),
		bottom: min(height, int(textBottom+depth)),
	}
}

// longestRun scans the window row by row for the longest streak of pixels
// strictly between the noise floor and the dark threshold that spans at least
// MinRunRatio of the window. The first of equally long runs wins.
func (g *grayPixels) longestRun(win searchWindow, threshold float64, cfg Config) (run, bool) {
	minLength := float64(win.width()) * cfg.MinRunRatio
	var best run
	found := false

	consider := func(c run) {
		if float64(c.length()) >= minLength && (!found || c.length() > best.length()) {
			best = c
			found = true
		}
	}

	for y := win.top; y < win.bottom; y++ {
		current := run{row: y, start: -1}
		for x := win.left; x < win.right; x++ {
			v := float64(g.at(x, y))
			if v > cfg.NoiseFloor && v < threshold {
				if current.start < 0 {
					current.start = x
					current.sum = 0
				}
				current.sum += v
				current.end = x + 1
				continue
			}
			if current.start >= 0 {
				consider(current)
				current.start = -1
			}
		}
		if current.start >= 0 {
			consider(current)
		}
	}
	return best, found
}

// DetectLines looks beneath every region for a pencil underline and returns
// at most one candidate per region, with marks found from overlapping regions
// merged. A region without a qualifying streak contributes nothing.
func DetectLines(img image.Image, regions []ocr.TextRegion, cfg Config) []DetectedLine {
	cfg = cfg.withDefaults()
	g := newGrayPixels(img)
	if g.width == 0 || g.height == 0 {
		return nil
	}

	pageAverage := g.averageBrightness(cfg.SampleStep)
	threshold := darkThreshold(pageAverage, cfg)
	log.WithFields(logrus.Fields{
		"width":          g.width,
		"height":         g.height,
		"page_average":   pageAverage,
		"dark_threshold": threshold,
	}).Debug("Scanning for underlines")

	var lines []DetectedLine
	for _, r := range regions {
		win := windowBelow(r, g.width, g.height, cfg)
		if win.width() < cfg.MinWindowWidthPx || win.height() <= 0 {
			continue
		}
		best, ok := g.longestRun(win, threshold, cfg)
		if !ok {
			continue
		}
		lines = append(lines, DetectedLine{
			Y:             1 - float64(best.row)/float64(g.height),
			XStart:        float64(best.start) / float64(g.width),
			XEnd:          float64(best.end) / float64(g.width),
			AvgBrightness: best.sum / float64(best.length()) / 255,
		})
	}

	return dedupeLines(lines, cfg)
}

// dedupeLines keeps the first of any group of lines that sit within the
// vertical and horizontal-center tolerances of an already kept line.
func dedupeLines(lines []DetectedLine, cfg Config) []DetectedLine {
	var kept []DetectedLine
	for _, l := range lines {
		duplicate := false
		for _, k := range kept {
			if math.Abs(l.Y-k.Y) < cfg.DedupVertical && math.Abs(l.CenterX()-k.CenterX()) < cfg.DedupHorizontal {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, l)
		}
	}
	return kept
}
