// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the lineage CLI configuration.
//
// The file is YAML. Every field has a default, so a missing file or an
// empty one yields DefaultConfig(); fields present in the file override
// the defaults. The result is validated with struct tags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/services/lineage/telemetry"
)

// DefaultFileName is the config file looked up in the working directory
// when no path is given.
const DefaultFileName = "lineage.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Sources   SourcesConfig    `yaml:"sources"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Impact    ImpactConfig     `yaml:"impact"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
	Watch     WatchConfig      `yaml:"watch"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// SourcesConfig selects the files to analyze.
type SourcesConfig struct {
	// Include and Exclude are doublestar globs relative to each analyzed
	// directory. No Include means every recognized source extension.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// CopybookDirs are searched for copybooks the analyzed files do not
	// contain, in order.
	CopybookDirs []string `yaml:"copybook_dirs"`
}

// PipelineConfig bounds the analysis pipeline.
type PipelineConfig struct {
	// Workers is the number of files processed concurrently. 0 means
	// GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`

	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes" validate:"gte=0"`
	MaxCopyDepth     int   `yaml:"max_copy_depth" validate:"gte=0,lte=64"`
	MaxNodes         int   `yaml:"max_nodes" validate:"gte=0"`
	MaxEdges         int   `yaml:"max_edges" validate:"gte=0"`
	MaxRuleActions   int   `yaml:"max_rule_actions" validate:"gte=0"`
}

// ImpactConfig holds impact query defaults.
type ImpactConfig struct {
	MaxDepth        int           `yaml:"max_depth" validate:"gte=0,lte=100"`
	MaxCascadeDepth int           `yaml:"max_cascade_depth" validate:"gte=0,lte=20"`
	MaxItems        int           `yaml:"max_items" validate:"gte=0"`
	Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`

	// Threshold is the risk level above which `lineage impact` exits 1.
	Threshold string `yaml:"threshold" validate:"oneof=LOW MEDIUM HIGH CRITICAL low medium high critical"`

	CriticalThreshold int `yaml:"critical_threshold" validate:"gtefield=HighThreshold"`
	HighThreshold     int `yaml:"high_threshold" validate:"gtefield=MediumThreshold"`
	MediumThreshold   int `yaml:"medium_threshold" validate:"gte=1"`
}

// CacheConfig configures the parse-result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path" validate:"required_if=Enabled true"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`

	// Recent is how many entries `lineage watch` keeps for GET /logs.
	// Zero disables the endpoint.
	Recent int `yaml:"recent" validate:"gte=0"`
}

// WatchConfig configures `lineage watch`.
type WatchConfig struct {
	Addr        string        `yaml:"addr" validate:"required"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
	RebuildRate float64       `yaml:"rebuild_rate" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxFileSizeBytes: 10 * 1024 * 1024,
			MaxCopyDepth:     10,
			MaxNodes:         1_000_000,
			MaxEdges:         10_000_000,
			MaxRuleActions:   10,
		},
		Impact: ImpactConfig{
			MaxDepth:          5,
			MaxCascadeDepth:   2,
			MaxItems:          10_000,
			Timeout:           30 * time.Second,
			Threshold:         "high",
			CriticalThreshold: 20,
			HighThreshold:     10,
			MediumThreshold:   4,
		},
		Cache: CacheConfig{
			Path: filepath.Join(".lineage", "cache"),
			TTL:  7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Recent: logging.DefaultBufferCapacity,
		},
		Watch: WatchConfig{
			Addr:        "127.0.0.1:8089",
			Debounce:    250 * time.Millisecond,
			RebuildRate: 1,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the configuration at path.
//
// Description:
//
//	An empty path means DefaultFileName in the working directory. A
//	missing file is not an error when path is empty: the defaults are
//	returned. A missing file named explicitly is an error.
//
// Outputs:
//
//	Config - Defaults overridden by the file.
//	error - A read or YAML error, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return cfg, cfg.Validate()
	case err != nil:
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
