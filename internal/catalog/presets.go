package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"stitchsentry/internal/services"
)

//go:embed presets.toml
var defaultPresetsTOML []byte

// HoopLimits bounds the physical design area a preset allows, in millimeters.
type HoopLimits struct {
	WidthMM  float64 `toml:"width_mm"`
	HeightMM float64 `toml:"height_mm"`
}

// RuleThresholds carries the warn/fail thresholds the rule engine evaluates
// parsed design metrics against.
type RuleThresholds struct {
	MaxJumpCountWarn int `toml:"max_jump_count_warn"`
	MaxJumpCountFail int `toml:"max_jump_count_fail"`

	MaxLongestJumpMMWarn float64 `toml:"max_longest_jump_mm_warn"`
	MaxLongestJumpMMFail float64 `toml:"max_longest_jump_mm_fail"`

	MaxColorChangesWarn int `toml:"max_color_changes_warn"`
	MaxColorChangesFail int `toml:"max_color_changes_fail"`

	MinStitchLengthMMWarn float64 `toml:"min_stitch_length_mm_warn"`
	MinStitchLengthMMFail float64 `toml:"min_stitch_length_mm_fail"`

	DensityTileSizeMM           float64 `toml:"density_tile_size_mm"`
	DensityHotspotThresholdWarn float64 `toml:"density_hotspot_threshold_warn"`
	DensityHotspotThresholdFail float64 `toml:"density_hotspot_threshold_fail"`
	DensityHotspotTilesWarn     int     `toml:"density_hotspot_tiles_warn"`
	DensityHotspotTilesFail     int     `toml:"density_hotspot_tiles_fail"`

	TinyTextMinDesignHeightMM    float64 `toml:"tiny_text_min_design_height_mm"`
	TinyTextRiskDensityThreshold float64 `toml:"tiny_text_risk_density_threshold"`
}

// Preset names a garment placement profile with its hoop limits and rule
// thresholds.
type Preset struct {
	Slug       string
	Label      string         `toml:"label"`
	HoopLimits HoopLimits     `toml:"hoop_limits_mm"`
	Rules      RuleThresholds `toml:"rules"`
}

// SeverityWeights maps finding severities to score penalties.
type SeverityWeights struct {
	Pass int `toml:"pass"`
	Warn int `toml:"warn"`
	Fail int `toml:"fail"`
}

// Scoring bounds the computed quality score.
type Scoring struct {
	BaseScore int `toml:"base_score"`
	MinScore  int `toml:"min_score"`
	MaxScore  int `toml:"max_score"`
}

// PresetCatalog is the immutable set of QA presets plus scoring policy.
type PresetCatalog struct {
	presets map[string]Preset
	weights SeverityWeights
	scoring Scoring
	slugs   []string
}

type presetsFile struct {
	Presets         map[string]Preset `toml:"presets"`
	SeverityWeights SeverityWeights   `toml:"severity_weights"`
	Scoring         Scoring           `toml:"scoring"`
}

// LoadPresets decodes a preset catalog from path, or the embedded defaults
// when path is empty.
func LoadPresets(path string) (*PresetCatalog, error) {
	data := defaultPresetsTOML
	if strings.TrimSpace(path) != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read preset catalog: %w", err)
		}
		data = fileData
	}

	var file presetsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse preset catalog: %w", err)
	}
	if len(file.Presets) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "presets", "no presets defined", nil)
	}

	presets := make(map[string]Preset, len(file.Presets))
	slugs := make([]string, 0, len(file.Presets))
	for slug, preset := range file.Presets {
		preset.Slug = slug
		if err := validatePreset(preset); err != nil {
			return nil, err
		}
		presets[slug] = preset
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	if file.Scoring.BaseScore <= 0 {
		file.Scoring = Scoring{BaseScore: 100, MinScore: 0, MaxScore: 100}
	}
	if file.SeverityWeights == (SeverityWeights{}) {
		file.SeverityWeights = SeverityWeights{Pass: 0, Warn: 8, Fail: 20}
	}

	return &PresetCatalog{
		presets: presets,
		weights: file.SeverityWeights,
		scoring: file.Scoring,
		slugs:   slugs,
	}, nil
}

func validatePreset(p Preset) error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrConfiguration, "catalog", "presets",
			fmt.Sprintf("preset %q: %s", p.Slug, msg), nil)
	}
	if p.HoopLimits.WidthMM <= 0 || p.HoopLimits.HeightMM <= 0 {
		return fail("hoop limits must be positive")
	}
	if p.Rules.MaxJumpCountWarn <= 0 || p.Rules.MaxJumpCountFail < p.Rules.MaxJumpCountWarn {
		return fail("jump count thresholds must be positive and ordered")
	}
	if p.Rules.MaxLongestJumpMMWarn <= 0 || p.Rules.MaxLongestJumpMMFail < p.Rules.MaxLongestJumpMMWarn {
		return fail("longest jump thresholds must be positive and ordered")
	}
	if p.Rules.MaxColorChangesWarn <= 0 || p.Rules.MaxColorChangesFail < p.Rules.MaxColorChangesWarn {
		return fail("color change thresholds must be positive and ordered")
	}
	if p.Rules.MinStitchLengthMMFail <= 0 || p.Rules.MinStitchLengthMMWarn < p.Rules.MinStitchLengthMMFail {
		return fail("min stitch thresholds must be positive and ordered")
	}
	return nil
}

// Get returns the preset for a slug.
func (c *PresetCatalog) Get(slug string) (Preset, bool) {
	preset, ok := c.presets[slug]
	return preset, ok
}

// Known reports whether the slug names a catalog preset.
func (c *PresetCatalog) Known(slug string) bool {
	_, ok := c.presets[slug]
	return ok
}

// Slugs returns the sorted list of known preset slugs.
func (c *PresetCatalog) Slugs() []string {
	cp := make([]string, len(c.slugs))
	copy(cp, c.slugs)
	return cp
}

// Weights returns the severity score penalties.
func (c *PresetCatalog) Weights() SeverityWeights {
	return c.weights
}

// Scoring returns the score bounds.
func (c *PresetCatalog) Scoring() Scoring {
	return c.scoring
}
