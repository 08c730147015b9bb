package underline

import (
	"sort"
	"strings"

	"quotebook/ocr"
)

// AssembleText orders regions top of page first, groups those whose top edges
// are within the line tolerance of their predecessor into one visual line,
// and joins each line left to right with spaces and lines with newlines.
func AssembleText(regions []ocr.TextRegion, cfg Config) string {
	if len(regions) == 0 {
		return ""
	}
	cfg = cfg.withDefaults()

	sorted := append([]ocr.TextRegion(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BoundingBox.Top > sorted[j].BoundingBox.Top
	})

	var groups [][]ocr.TextRegion
	current := []ocr.TextRegion{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].BoundingBox.Top-sorted[i].BoundingBox.Top < cfg.LineTolerance {
			current = append(current, sorted[i])
			continue
		}
		groups = append(groups, current)
		current = []ocr.TextRegion{sorted[i]}
	}
	groups = append(groups, current)

	lines := make([]string, 0, len(groups))
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].BoundingBox.Left < group[j].BoundingBox.Left
		})
		parts := make([]string, 0, len(group))
		for _, r := range group {
			parts = append(parts, r.Text)
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return strings.Join(lines, "\n")
}
