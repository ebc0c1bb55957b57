package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"stitchsentry/internal/catalog"
	"stitchsentry/internal/config"
	"stitchsentry/internal/store"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the database for the duration of one command invocation.
func (c *commandContext) withStore(ctx context.Context, fn func(context.Context, *config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func (c *commandContext) loadCatalogs() (*catalog.PlanCatalog, *catalog.PresetCatalog, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	plans, err := catalog.LoadPlans(cfg.Catalog.PlansPath)
	if err != nil {
		return nil, nil, err
	}
	presets, err := catalog.LoadPresets(cfg.Catalog.PresetsPath)
	if err != nil {
		return nil, nil, err
	}
	return plans, presets, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
