package main

import (
	"fmt"

	"github.com/tablepilot/tablepilot/internal/coordinator"
)

// ValidateCmd parses and validates a configuration file without
// starting anything.
type ValidateCmd struct {
	Config string `kong:"arg,default='tablepilot.hcl',help='Path to HCL configuration file'"`
}

func (c *ValidateCmd) Run() error {
	cfg, err := coordinator.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("%s: ok (%d tables, strategy %s, storage %s)\n",
		c.Config, len(cfg.Tables), cfg.Intervals.Strategy, storageDesc(cfg))
	return nil
}

func storageDesc(cfg *coordinator.Config) string {
	if cfg.Storage.Path == "" {
		return "disabled"
	}
	return cfg.Storage.Path
}
