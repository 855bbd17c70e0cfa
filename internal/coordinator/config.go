package coordinator

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/tablepilot/tablepilot/internal/pattern"
	"github.com/tablepilot/tablepilot/internal/scheduler"
)

// Config represents the complete orchestrator configuration.
type Config struct {
	Server    ServerSettings   `hcl:"server,block"`
	Intervals IntervalSettings `hcl:"intervals,block"`
	Storage   StorageSettings  `hcl:"storage,block"`
	Recovery  RecoverySettings `hcl:"recovery,block"`
	Tables    []TableSettings  `hcl:"table,block"`
}

// ServerSettings contains process-level configuration.
type ServerSettings struct {
	StatusAddr  string `hcl:"status_addr,optional"`
	LogLevel    string `hcl:"log_level,optional"`
	ArtifactDir string `hcl:"artifact_dir,optional"`
}

// IntervalSettings tunes the polling scheduler.
type IntervalSettings struct {
	FastMS   int    `hcl:"fast_ms,optional"`
	NormalMS int    `hcl:"normal_ms,optional"`
	SlowMS   int    `hcl:"slow_ms,optional"`
	Strategy string `hcl:"strategy,optional"`
	Throttle string `hcl:"throttle,optional"` // "none" or "load"
}

// StorageSettings configures round persistence.
type StorageSettings struct {
	Path string `hcl:"path,optional"` // empty disables persistence
}

// RecoverySettings tunes failure handling.
type RecoverySettings struct {
	StuckThreshold int   `hcl:"stuck_threshold,optional"`
	RetryDelaysMS  []int `hcl:"retry_delays_ms,optional"`
}

// TableSettings defines one monitored table. The block label is the
// numeric table identifier.
type TableSettings struct {
	ID       string          `hcl:"id,label"`
	Patterns string          `hcl:"patterns,optional"`
	Region   *RegionSettings `hcl:"region,block"`
}

// RegionSettings is the screen rectangle the table occupies.
type RegionSettings struct {
	X      int `hcl:"x"`
	Y      int `hcl:"y"`
	Width  int `hcl:"width"`
	Height int `hcl:"height"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			StatusAddr:  "localhost:8090",
			LogLevel:    "info",
			ArtifactDir: "artifacts",
		},
		Intervals: IntervalSettings{
			FastMS:   100,
			NormalMS: 200,
			SlowMS:   1000,
			Strategy: "fastest",
			Throttle: "load",
		},
		Recovery: RecoverySettings{
			StuckThreshold: 3,
			RetryDelaysMS:  []int{1000, 2000, 4000},
		},
	}
}

// LoadConfig loads configuration from an HCL file. A missing file
// yields the defaults.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	defaults := DefaultConfig()
	if config.Server.StatusAddr == "" {
		config.Server.StatusAddr = defaults.Server.StatusAddr
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = defaults.Server.LogLevel
	}
	if config.Server.ArtifactDir == "" {
		config.Server.ArtifactDir = defaults.Server.ArtifactDir
	}
	if config.Intervals.FastMS == 0 {
		config.Intervals.FastMS = defaults.Intervals.FastMS
	}
	if config.Intervals.NormalMS == 0 {
		config.Intervals.NormalMS = defaults.Intervals.NormalMS
	}
	if config.Intervals.SlowMS == 0 {
		config.Intervals.SlowMS = defaults.Intervals.SlowMS
	}
	if config.Intervals.Throttle == "" {
		config.Intervals.Throttle = defaults.Intervals.Throttle
	}
	if config.Recovery.StuckThreshold == 0 {
		config.Recovery.StuckThreshold = defaults.Recovery.StuckThreshold
	}
	if len(config.Recovery.RetryDelaysMS) == 0 {
		config.Recovery.RetryDelaysMS = defaults.Recovery.RetryDelaysMS
	}

	return &config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := scheduler.ParseStrategy(c.Intervals.Strategy); err != nil {
		return err
	}
	if c.Intervals.FastMS <= 0 || c.Intervals.NormalMS <= 0 || c.Intervals.SlowMS <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	switch c.Intervals.Throttle {
	case "none", "load":
	default:
		return fmt.Errorf("invalid throttle source %q", c.Intervals.Throttle)
	}
	if c.Recovery.StuckThreshold < 1 {
		return fmt.Errorf("stuck_threshold must be at least 1")
	}
	for _, d := range c.Recovery.RetryDelaysMS {
		if d < 0 {
			return fmt.Errorf("retry delays must not be negative")
		}
	}

	if len(c.Tables) > MaxTables {
		return fmt.Errorf("at most %d tables may be configured, got %d", MaxTables, len(c.Tables))
	}
	seen := make(map[int]bool)
	for _, table := range c.Tables {
		id, err := table.TableID()
		if err != nil {
			return err
		}
		if seen[id] {
			return fmt.Errorf("table %d: duplicate table id", id)
		}
		seen[id] = true
		if table.Patterns != "" {
			if _, err := pattern.Parse(table.Patterns); err != nil {
				return fmt.Errorf("table %d: %w", id, err)
			}
		}
		if table.Region != nil {
			if table.Region.Width <= 0 || table.Region.Height <= 0 {
				return fmt.Errorf("table %d: region dimensions must be positive", id)
			}
		}
	}
	return nil
}

// TableID parses the block label into the numeric table identifier.
func (t *TableSettings) TableID() (int, error) {
	id, err := strconv.Atoi(t.ID)
	if err != nil || id < 1 || id > MaxTables {
		return 0, fmt.Errorf("table %q: id must be an integer between 1 and %d", t.ID, MaxTables)
	}
	return id, nil
}

// SchedulerConfig converts the interval settings into the scheduler's
// configuration. Validate must have been called first.
func (c *Config) SchedulerConfig() scheduler.Config {
	strategy, _ := scheduler.ParseStrategy(c.Intervals.Strategy)
	return scheduler.Config{
		Fast:     time.Duration(c.Intervals.FastMS) * time.Millisecond,
		Normal:   time.Duration(c.Intervals.NormalMS) * time.Millisecond,
		Slow:     time.Duration(c.Intervals.SlowMS) * time.Millisecond,
		Strategy: strategy,
	}
}

// RetryDelays converts the recovery schedule into durations.
func (c *Config) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.Recovery.RetryDelaysMS))
	for i, ms := range c.Recovery.RetryDelaysMS {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
