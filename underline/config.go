package underline

import "fmt"

// Config holds the tunable thresholds of the extraction pipeline. The
// defaults were chosen empirically on handheld photos of book pages.
type Config struct {
	// Region filter
	MinTextLength       int     `json:"min_text_length"`
	MinWidthRatio       float64 `json:"min_width_ratio"`
	LeftMarginTolerance float64 `json:"left_margin_tolerance"`
	MaxLeftEdge         float64 `json:"max_left_edge"`
	MinConfidence       float64 `json:"min_confidence"`

	// Underline detector
	SampleStep          int     `json:"sample_step"`
	ThresholdOffset     float64 `json:"threshold_offset"`
	MinDarkThreshold    float64 `json:"min_dark_threshold"`
	MaxDarkThreshold    float64 `json:"max_dark_threshold"`
	NoiseFloor          float64 `json:"noise_floor"`
	BottomTolerancePx   int     `json:"bottom_tolerance_px"`
	MinSearchDepthPx    int     `json:"min_search_depth_px"`
	HorizontalPaddingPx int     `json:"horizontal_padding_px"`
	MinWindowWidthPx    int     `json:"min_window_width_px"`
	MinRunRatio         float64 `json:"min_run_ratio"`
	DedupVertical       float64 `json:"dedup_vertical"`
	DedupHorizontal     float64 `json:"dedup_horizontal"`

	// Underline matcher
	MaxGap          float64 `json:"max_gap"`
	MinOverlapRatio float64 `json:"min_overlap_ratio"`

	// Text assembler
	LineTolerance float64 `json:"line_tolerance"`
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MinTextLength:       10,
		MinWidthRatio:       0.4,
		LeftMarginTolerance: 0.15,
		MaxLeftEdge:         0.5,
		MinConfidence:       0.5,

		SampleStep:          10,
		ThresholdOffset:     25,
		MinDarkThreshold:    50,
		MaxDarkThreshold:    200,
		NoiseFloor:          30,
		BottomTolerancePx:   2,
		MinSearchDepthPx:    20,
		HorizontalPaddingPx: 10,
		MinWindowWidthPx:    20,
		MinRunRatio:         1.0 / 3.0,
		DedupVertical:       0.008,
		DedupHorizontal:     0.1,

		MaxGap:          0.025,
		MinOverlapRatio: 0.4,

		LineTolerance: 0.015,
	}
}

// withDefaults replaces unset (zero) fields by their defaults so a partially
// filled Config read from disk stays usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinTextLength <= 0 {
		c.MinTextLength = d.MinTextLength
	}
	if c.MinWidthRatio <= 0 {
		c.MinWidthRatio = d.MinWidthRatio
	}
	if c.LeftMarginTolerance <= 0 {
		c.LeftMarginTolerance = d.LeftMarginTolerance
	}
	if c.MaxLeftEdge <= 0 {
		c.MaxLeftEdge = d.MaxLeftEdge
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.SampleStep <= 0 {
		c.SampleStep = d.SampleStep
	}
	if c.ThresholdOffset <= 0 {
		c.ThresholdOffset = d.ThresholdOffset
	}
	if c.MinDarkThreshold <= 0 {
		c.MinDarkThreshold = d.MinDarkThreshold
	}
	if c.MaxDarkThreshold <= 0 {
		c.MaxDarkThreshold = d.MaxDarkThreshold
	}
	if c.NoiseFloor <= 0 {
		c.NoiseFloor = d.NoiseFloor
	}
	if c.BottomTolerancePx <= 0 {
		c.BottomTolerancePx = d.BottomTolerancePx
	}
	if c.MinSearchDepthPx <= 0 {
		c.MinSearchDepthPx = d.MinSearchDepthPx
	}
	if c.HorizontalPaddingPx <= 0 {
		c.HorizontalPaddingPx = d.HorizontalPaddingPx
	}
	if c.MinWindowWidthPx <= 0 {
		c.MinWindowWidthPx = d.MinWindowWidthPx
	}
	if c.MinRunRatio <= 0 {
		c.MinRunRatio = d.MinRunRatio
	}
	if c.DedupVertical <= 0 {
		c.DedupVertical = d.DedupVertical
	}
	if c.DedupHorizontal <= 0 {
		c.DedupHorizontal = d.DedupHorizontal
	}
	if c.MaxGap <= 0 {
		c.MaxGap = d.MaxGap
	}
	if c.MinOverlapRatio <= 0 {
		c.MinOverlapRatio = d.MinOverlapRatio
	}
	if c.LineTolerance <= 0 {
		c.LineTolerance = d.LineTolerance
	}
	return c
}

// Normalized returns c with every unset field replaced by its default, which
// is the Config the pipeline actually runs with.
func (c Config) Normalized() Config {
	return c.withDefaults()
}

// Validate reports settings that would make the pipeline meaningless.
// Zero values are allowed and fall back to the defaults.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.MinDarkThreshold > c.MaxDarkThreshold:
		return fmt.Errorf("min_dark_threshold %.0f exceeds max_dark_threshold %.0f", c.MinDarkThreshold, c.MaxDarkThreshold)
	case c.MaxDarkThreshold > 255:
		return fmt.Errorf("max_dark_threshold %.0f exceeds the 8-bit range", c.MaxDarkThreshold)
	case c.NoiseFloor >= c.MinDarkThreshold:
		return fmt.Errorf("noise_floor %.0f must be below min_dark_threshold %.0f", c.NoiseFloor, c.MinDarkThreshold)
	case c.MinRunRatio > 1, c.MinWidthRatio > 1, c.MinOverlapRatio > 1:
		return fmt.Errorf("ratios must not exceed 1")
	case c.MinConfidence > 1:
		return fmt.Errorf("min_confidence %.2f must not exceed 1", c.MinConfidence)
	case c.MaxGap >= 1, c.LineTolerance >= 1, c.MaxLeftEdge > 1:
		return fmt.Errorf("normalized distances must be below 1")
	}
	return nil
}
