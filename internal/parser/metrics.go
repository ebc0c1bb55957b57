package parser

// Metrics is the parsed summary of an embroidery file. The density fields are
// only present when the parser service ran hotspot analysis.
type Metrics struct {
	WidthMM           float64 `json:"width_mm"`
	HeightMM          float64 `json:"height_mm"`
	StitchCount       int     `json:"stitch_count"`
	ColorChanges      int     `json:"color_changes"`
	JumpCount         int     `json:"jump_count"`
	LongestJumpMM     float64 `json:"longest_jump_mm"`
	MinStitchLengthMM float64 `json:"min_stitch_length_mm"`
	MaxStitchLengthMM float64 `json:"max_stitch_length_mm"`
	AvgStitchLengthMM float64 `json:"avg_stitch_length_mm"`

	DensityMaxRatio     *float64 `json:"density_max_ratio,omitempty"`
	DensityHotspotTiles *int     `json:"density_hotspot_tiles,omitempty"`
}
