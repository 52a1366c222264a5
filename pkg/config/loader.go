package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads paperflow.yaml from configDir (if present), expands environment
// variables, merges it onto the built-in defaults, validates the result, and
// returns a ready-to-use Config. Absence of the file is not an error — the
// defaults alone are a complete, valid configuration.
//
// Steps performed (mirrors the teacher's config.Initialize):
//  1. Build the default Config.
//  2. Read paperflow.yaml from configDir, if present.
//  3. Expand environment variables ($VAR / ${VAR}) before parsing.
//  4. Parse YAML into an overlay struct.
//  5. Merge overlay onto defaults (user values win).
//  6. Validate the merged result.
func Load(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Loading configuration")

	cfg := newDefaultConfig(configDir)

	path := filepath.Join(configDir, "paperflow.yaml")
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw = ExpandEnv(raw)
		var overlay yamlOverlay
		if err := yaml.Unmarshal(raw, &overlay); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if err := mergeOverlay(cfg, &overlay); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		log.Info("No paperflow.yaml found, using built-in defaults", "path", path)
	default:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	log.Info("Configuration loaded",
		"agents", len(cfg.Reliability),
		"rate_limits", len(cfg.RateLimits),
		"disabled_stages", len(cfg.DisabledStages))

	return cfg, nil
}
