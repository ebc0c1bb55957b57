package testsupport

import (
	"path/filepath"
	"testing"

	"stitchsentry/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Parser.Secret = "test-secret-key"
	cfg.Parser.MockEnabled = true

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithMockParser toggles the deterministic parser gateway on the test config.
func WithMockParser(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Parser.MockEnabled = enabled
	}
}

// WithTimezone sets the quota reference timezone on the test config.
func WithTimezone(tz string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Billing.Timezone = tz
	}
}
