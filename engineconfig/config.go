// Package engineconfig holds initialization parameters for an Engine,
// loadable from JSON and mergeable over defaults, in the style this
// corpus uses for every subsystem's config-driven constructor.
package engineconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

const defaultGlobalConcurrencyLimit = 0 // 0 means unbounded

// Config holds initialization parameters for an engine.Engine.
type Config struct {
	// TotalResources seeds the engine-wide resource caps; a name absent
	// here is unbounded.
	TotalResources map[string]float64 `json:"total_resources,omitempty"`
	// GlobalConcurrencyLimit is the default passed as
	// engine.ExecuteOptions.GlobalConcurrencyLimit when a caller does not
	// set one explicitly. 0 means unbounded.
	GlobalConcurrencyLimit int `json:"global_concurrency_limit,omitempty"`
	// FailFastNil holds the configured fail-fast default; FailFast reads
	// it as true when unset. Nothing in this module applies it to a
	// workflow.Definition.
	FailFastNil *bool `json:"fail_fast,omitempty"`
}

// FailFast returns the configured default, or true if unset.
func (c *Config) FailFast() bool {
	if c.FailFastNil == nil {
		return true
	}
	return *c.FailFastNil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrencyLimit: defaultGlobalConcurrencyLimit,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if len(source.TotalResources) > 0 {
		c.TotalResources = source.TotalResources
	}
	if source.GlobalConcurrencyLimit > 0 {
		c.GlobalConcurrencyLimit = source.GlobalConcurrencyLimit
	}
	if source.FailFastNil != nil {
		c.FailFastNil = source.FailFastNil
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and
// returns the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
