package underline

import (
	"math"

	"quotebook/ocr"
)

// MatchUnderlined returns the regions that have a detected line sitting just
// below their bottom edge and covering enough of their width. Order follows
// the input regions.
func MatchUnderlined(regions []ocr.TextRegion, lines []DetectedLine, cfg Config) []ocr.TextRegion {
	cfg = cfg.withDefaults()
	var matched []ocr.TextRegion
	for _, r := range regions {
		for _, l := range lines {
			if underlines(r, l, cfg) {
				matched = append(matched, r)
				break
			}
		}
	}
	return matched
}

func underlines(r ocr.TextRegion, l DetectedLine, cfg Config) bool {
	gap := r.BoundingBox.Bottom - l.Y
	if gap <= 0 || gap >= cfg.MaxGap {
		return false
	}
	overlap := math.Min(r.BoundingBox.Right, l.XEnd) - math.Max(r.BoundingBox.Left, l.XStart)
	return overlap > cfg.MinOverlapRatio*r.Width()
}
