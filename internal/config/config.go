// Package config holds the resolved profile configuration the engine
// consumes. The core never parses tool output formats here; profiles only
// enumerate timeouts, concurrency, chaining policy, and tool lists.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one named investigation configuration.
type Profile struct {
	// TimeoutSeconds bounds each task's external process.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// GlobalTimeoutSeconds bounds the whole investigation. Zero disables it.
	GlobalTimeoutSeconds int `yaml:"global_timeout_seconds"`

	// ParallelWorkers is the scheduler's concurrency bound.
	ParallelWorkers int `yaml:"parallel_workers"`

	// ScanDepth caps chaining hops from the seed tasks.
	ScanDepth int `yaml:"scan_depth"`

	// Aggressiveness is low, medium, or high; it caps chained tasks per
	// artifact type.
	Aggressiveness string `yaml:"aggressiveness"`

	// EnableChaining toggles follow-up task generation.
	EnableChaining bool `yaml:"enable_chaining"`

	// MaxAttempts caps controller re-submissions of a failed task.
	MaxAttempts int `yaml:"max_attempts"`

	// Tools maps an investigation category to the plugin IDs seeded for it.
	Tools map[string][]string `yaml:"tools"`
}

// Config is the full resolved configuration.
type Config struct {
	// StateDatabase is the SQLite file holding investigation snapshots.
	StateDatabase string `yaml:"state_database"`

	// Profiles are the named profiles available to investigations.
	Profiles map[string]Profile `yaml:"profiles"`
}

func defaultTools() map[string][]string {
	return map[string][]string{
		"website":      {"whois", "theharvester", "nmap"},
		"organisation": {"theharvester", "whois", "nmap"},
		"people":       {"theharvester"},
		"ip_server":    {"whois", "nmap"},
	}
}

// Default returns the built-in configuration with the quick, standard,
// and deep profiles.
func Default() *Config {
	return &Config{
		StateDatabase: "state/gumshoe.db",
		Profiles: map[string]Profile{
			"quick": {
				TimeoutSeconds:       60,
				GlobalTimeoutSeconds: 600,
				ParallelWorkers:      2,
				ScanDepth:            0,
				Aggressiveness:       "low",
				EnableChaining:       false,
				MaxAttempts:          1,
				Tools:                defaultTools(),
			},
			"standard": {
				TimeoutSeconds:       120,
				GlobalTimeoutSeconds: 1800,
				ParallelWorkers:      4,
				ScanDepth:            2,
				Aggressiveness:       "medium",
				EnableChaining:       true,
				MaxAttempts:          2,
				Tools:                defaultTools(),
			},
			"deep": {
				TimeoutSeconds:       300,
				GlobalTimeoutSeconds: 7200,
				ParallelWorkers:      8,
				ScanDepth:            3,
				Aggressiveness:       "high",
				EnableChaining:       true,
				MaxAttempts:          3,
				Tools:                defaultTools(),
			},
		},
	}
}

// Load reads a yaml configuration file. Profiles in the file are merged
// over the defaults so a file only has to override what differs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if file.StateDatabase != "" {
		cfg.StateDatabase = file.StateDatabase
	}
	for name, p := range file.Profiles {
		if p.Tools == nil {
			p.Tools = defaultTools()
		}
		cfg.Profiles[name] = p
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides lets the environment override file values.
// Environment beats file, flags beat both.
func (c *Config) ApplyEnvOverrides() {
	if path := os.Getenv("GUMSHOE_DB"); path != "" {
		c.StateDatabase = path
	}
}

// Profile resolves a named profile, validating its fields.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("config: unknown profile %q", name)
	}
	if p.ParallelWorkers <= 0 {
		p.ParallelWorkers = 4
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = 120
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	switch p.Aggressiveness {
	case "low", "medium", "high":
	case "":
		p.Aggressiveness = "medium"
	default:
		return Profile{}, fmt.Errorf("config: profile %q: invalid aggressiveness %q", name, p.Aggressiveness)
	}
	return p, nil
}
