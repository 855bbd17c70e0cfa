package coordinator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepilot/tablepilot/internal/scheduler"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tablepilot.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Intervals.FastMS)
	assert.Equal(t, 3, cfg.Recovery.StuckThreshold)
	assert.Equal(t, "load", cfg.Intervals.Throttle)
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
server {
  status_addr = "0.0.0.0:9000"
  log_level   = "debug"
}

intervals {
  fast_ms   = 50
  normal_ms = 150
  slow_ms   = 2000
  strategy  = "majority"
  throttle  = "none"
}

storage {
  path = "rounds.db"
}

recovery {
  stuck_threshold = 5
  retry_delays_ms = [100, 200]
}

table "1" {
  patterns = "AAB-B;BBA-A"
  region {
    x      = 0
    y      = 0
    width  = 800
    height = 600
  }
}

table "2" {}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.StatusAddr)
	assert.Equal(t, "rounds.db", cfg.Storage.Path)
	assert.Equal(t, 5, cfg.Recovery.StuckThreshold)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, cfg.RetryDelays())

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 50*time.Millisecond, sc.Fast)
	assert.Equal(t, scheduler.StrategyMajority, sc.Strategy)

	require.Len(t, cfg.Tables, 2)
	id, err := cfg.Tables[0].TableID()
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	require.NotNil(t, cfg.Tables[0].Region)
	assert.Equal(t, 800, cfg.Tables[0].Region.Width)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad strategy", func(c *Config) { c.Intervals.Strategy = "psychic" }},
		{"zero interval", func(c *Config) { c.Intervals.FastMS = -1 }},
		{"bad throttle", func(c *Config) { c.Intervals.Throttle = "vibes" }},
		{"zero threshold", func(c *Config) { c.Recovery.StuckThreshold = 0 }},
		{"too many tables", func(c *Config) {
			for i := 1; i <= MaxTables+1; i++ {
				c.Tables = append(c.Tables, TableSettings{ID: "10"})
			}
		}},
		{"duplicate table", func(c *Config) {
			c.Tables = []TableSettings{{ID: "1"}, {ID: "1"}}
		}},
		{"non-numeric table id", func(c *Config) {
			c.Tables = []TableSettings{{ID: "main"}}
		}},
		{"table id out of range", func(c *Config) {
			c.Tables = []TableSettings{{ID: "7"}}
		}},
		{"bad table patterns", func(c *Config) {
			c.Tables = []TableSettings{{ID: "1", Patterns: "AAB-X"}}
		}},
		{"bad region", func(c *Config) {
			c.Tables = []TableSettings{{ID: "1", Region: &RegionSettings{Width: 0, Height: 10}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
