package underline

import (
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"quotebook/ocr"
)

// columnStats describes the main text column of a page.
type columnStats struct {
	meanLeft  float64
	meanRight float64
	meanWidth float64
}

func measureColumn(regions []ocr.TextRegion) columnStats {
	var s columnStats
	if len(regions) == 0 {
		return s
	}
	for _, r := range regions {
		s.meanLeft += r.BoundingBox.Left
		s.meanRight += r.BoundingBox.Right
		s.meanWidth += r.Width()
	}
	n := float64(len(regions))
	s.meanLeft /= n
	s.meanRight /= n
	s.meanWidth /= n
	return s
}

// FilterRegions keeps the regions that look like main body text, dropping
// page numbers, running headers, margin notes and low confidence noise. The
// thresholds are relative to the page's own column statistics. The result is
// empty when nothing qualifies.
func FilterRegions(regions []ocr.TextRegion, cfg Config) []ocr.TextRegion {
	if len(regions) == 0 {
		return nil
	}
	cfg = cfg.withDefaults()
	stats := measureColumn(regions)

	var kept []ocr.TextRegion
	for _, r := range regions {
		if utf8.RuneCountInString(r.Text) < cfg.MinTextLength {
			continue
		}
		if r.Width() < cfg.MinWidthRatio*stats.meanWidth {
			continue
		}
		if r.BoundingBox.Left < stats.meanLeft-cfg.LeftMarginTolerance {
			continue
		}
		if r.BoundingBox.Left > cfg.MaxLeftEdge {
			continue
		}
		if r.Confidence < cfg.MinConfidence {
			continue
		}
		kept = append(kept, r)
	}

	log.WithFields(logrus.Fields{
		"mean_left":  stats.meanLeft,
		"mean_right": stats.meanRight,
		"mean_width": stats.meanWidth,
	}).Debugf("Kept %d of %d regions", len(kept), len(regions))
	return kept
}
