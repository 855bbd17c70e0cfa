package main

import (
	"context"
	"fmt"

	"github.com/coder/quartz"

	"github.com/tablepilot/tablepilot/cmd/tablepilot/shared"
	"github.com/tablepilot/tablepilot/internal/coordinator"
	"github.com/tablepilot/tablepilot/internal/fault"
	"github.com/tablepilot/tablepilot/internal/scheduler"
	"github.com/tablepilot/tablepilot/internal/sim"
)

// SimulateCmd runs a fixed number of ticks against simulated tables
// and prints the resulting statistics. Useful for validating pattern
// sets and for regression comparisons between builds.
type SimulateCmd struct {
	Tables       int     `kong:"default='3',help='Number of simulated tables (1-6)'"`
	Ticks        int     `kong:"default='2000',help='Poll cycles to run'"`
	Seed         int64   `kong:"default='12345',help='Deterministic RNG seed'"`
	Patterns     string  `kong:"default='AAA-A;BBB-B;AAB-B;BBA-A',help='Rule set applied to every table'"`
	FailureRate  float64 `kong:"default='0',help='Injected capture failure probability (0-1)'"`
	Debug        bool    `kong:"help='Enable debug logging'"`
	Monitor      string  `kong:"default='dots',enum='pretty,dots,none',help='Console output style'"`
}

func (c *SimulateCmd) Run() error {
	if c.Tables < 1 || c.Tables > coordinator.MaxTables {
		return fmt.Errorf("tables must be between 1 and %d", coordinator.MaxTables)
	}

	logger := shared.SetupLogger(c.Debug)
	clock := quartz.NewReal()

	driver := sim.New(sim.Config{
		Seed:               c.Seed,
		CaptureFailureRate: c.FailureRate,
	}, logger)

	coord := coordinator.New(logger, clock, coordinator.Collaborators{
		Capture: driver,
		Extract: driver,
		Click:   driver,
	},
		scheduler.New(logger, scheduler.DefaultConfig()),
		fault.NewTracker(logger, clock),
	)

	for id := 1; id <= c.Tables; id++ {
		if err := coord.AddTable(id, c.Patterns); err != nil {
			return err
		}
	}

	mon := buildMonitor(c.Monitor)
	mon.OnStart(c.Tables)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range coord.Events() {
			mon.OnEvent(e)
		}
	}()

	ctx := context.Background()
	for i := 0; i < c.Ticks; i++ {
		coord.Tick(ctx)
	}
	coord.Stop()
	coord.CloseEvents()
	<-done

	mon.OnStop(coord.ExportSummary())

	clicks := driver.Clicks()
	fmt.Printf("\n%d ticks, %d clicks across %d tables (seed %d)\n",
		c.Ticks, len(clicks), c.Tables, c.Seed)
	return nil
}
