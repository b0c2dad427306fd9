package strata

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds database-level settings. The zero value is a usable in-memory
// configuration.
type Config struct {
	// JournalPath names the durable commit journal file. Empty means the
	// database is in-memory only.
	JournalPath string `yaml:"journal_path,omitempty"`

	// Parallelism caps the number of independent pattern components evaluated
	// concurrently per query. Zero or negative means unlimited.
	Parallelism int `yaml:"parallelism,omitempty"`

	// SlowQuery is the duration above which a query is logged at warning
	// level. Format: Go duration string (e.g., "250ms"). Empty disables
	// slow-query logging.
	SlowQuery string `yaml:"slow_query,omitempty"`
}

// GetSlowQuery parses the slow-query threshold and returns a duration.
// Returns zero, disabling the log, if not set or invalid.
func (c *Config) GetSlowQuery() time.Duration {
	if c == nil || c.SlowQuery == "" {
		return 0
	}
	d, err := time.ParseDuration(c.SlowQuery)
	if err != nil {
		return 0
	}
	return d
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("strata: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("strata: parse config: %w", err)
	}
	return cfg, nil
}
