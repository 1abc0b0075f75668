// Package scenario loads the JSON scripts heapstorm replays against a
// heap: a region size, the seed pattern, storm parameters, and a
// sequence of allocate/free/read/write/resize steps.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// Step is one scripted operation. Op selects which fields apply:
//
//	allocate: Handle, Size
//	free:     Handle
//	read:     Handle, Offset, Size
//	write:    Handle, Offset, Data
//	resize:   Handle, NewSize
//	storm:    (none — triggers one adversary pass over the whole region)
type Step struct {
	Op      string `json:"op"`
	Handle  string `json:"handle,omitempty"`
	Size    int    `json:"size,omitempty"`
	NewSize int    `json:"newSize,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Data    string `json:"data,omitempty"`
}

// Config is a complete scripted scenario.
type Config struct {
	MinToolVersion string  `json:"minToolVersion"`
	RegionSize     int     `json:"regionSize"`
	Pattern        string  `json:"pattern"`
	Seed           int64   `json:"seed"`
	StormRate      float64 `json:"stormRate"`
	Steps          []Step  `json:"steps"`
}

// Load reads and parses the scenario at path, and checks that toolVersion
// satisfies the scenario's MinToolVersion constraint before returning it.
// An empty MinToolVersion skips the compatibility check.
func Load(path, toolVersion string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: reading %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("scenario: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", path, err)
	}

	if cfg.MinToolVersion != "" {
		if err := checkCompatible(cfg.MinToolVersion, toolVersion); err != nil {
			return nil, fmt.Errorf("scenario: %s: %w", path, err)
		}
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RegionSize <= 0 {
		return fmt.Errorf("regionSize must be positive, got %d", c.RegionSize)
	}

	if len(c.Pattern) != 5 {
		return fmt.Errorf("pattern must be exactly 5 bytes, got %q", c.Pattern)
	}

	for i, s := range c.Steps {
		switch s.Op {
		case "allocate", "free", "read", "write", "resize", "storm":
		default:
			return fmt.Errorf("step %d: unknown op %q", i, s.Op)
		}
	}

	return nil
}

// checkCompatible reports an error if toolVersion does not satisfy
// ">= minVersion", the same constraint-string pattern the teacher uses
// to gate dependency compatibility.
func checkCompatible(minVersion, toolVersion string) error {
	constraint, err := semver.NewConstraint(">=" + minVersion)
	if err != nil {
		return fmt.Errorf("invalid minToolVersion %q: %w", minVersion, err)
	}

	v, err := semver.NewVersion(toolVersion)
	if err != nil {
		return fmt.Errorf("invalid tool version %q: %w", toolVersion, err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("scenario requires tool version %s, have %s", minVersion, toolVersion)
	}

	return nil
}
