package main

import (
	"context"
	"errors"

	"github.com/coder/quartz"

	"github.com/tablepilot/tablepilot/cmd/tablepilot/shared"
	"github.com/tablepilot/tablepilot/internal/coordinator"
	"github.com/tablepilot/tablepilot/internal/fault"
	"github.com/tablepilot/tablepilot/internal/monitor"
	"github.com/tablepilot/tablepilot/internal/resource"
	"github.com/tablepilot/tablepilot/internal/scheduler"
	"github.com/tablepilot/tablepilot/internal/sim"
	"github.com/tablepilot/tablepilot/internal/statusfeed"
	"github.com/tablepilot/tablepilot/internal/store"
)

// RunCmd runs the orchestrator as a long-lived process.
type RunCmd struct {
	Config  string `kong:"default='tablepilot.hcl',help='Path to HCL configuration file'"`
	Debug   bool   `kong:"help='Enable debug logging'"`
	Monitor string `kong:"default='pretty',enum='pretty,dots,none',help='Console output style'"`
	Seed    int64  `kong:"default='0',help='Seed for the simulated table driver'"`
}

func (c *RunCmd) Run() error {
	logger := shared.SetupLogger(c.Debug)

	cfg, err := coordinator.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	shared.ParseLevel(logger, cfg.Server.LogLevel, c.Debug)

	clock := quartz.NewReal()

	var schedOpts []scheduler.Option
	if cfg.Intervals.Throttle == "load" {
		schedOpts = append(schedOpts, scheduler.WithThrottle(resource.NewLoadAverage()))
	}
	sched := scheduler.New(logger, cfg.SchedulerConfig(), schedOpts...)

	faults := fault.NewTracker(logger, clock,
		fault.WithStuckThreshold(cfg.Recovery.StuckThreshold),
		fault.WithRetryDelays(cfg.RetryDelays()),
	)

	var persist coordinator.Persister
	var db *store.Store
	if cfg.Storage.Path != "" {
		db, err = store.Open(cfg.Storage.Path, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		persist = db
	}

	// Table input and output go through the collaborator interfaces;
	// the simulated driver stands in until a platform capture driver
	// is attached.
	driver := sim.New(sim.Config{Seed: c.Seed}, logger)

	coord := coordinator.New(logger, clock, coordinator.Collaborators{
		Capture: driver,
		Extract: driver,
		Click:   driver,
		Persist: persist,
	}, sched, faults)

	for _, table := range cfg.Tables {
		id, err := table.TableID()
		if err != nil {
			return err
		}
		rules := table.Patterns
		if rules == "" && db != nil {
			// Restore the last persisted rule set for the table.
			if stored, err := db.Patterns(context.Background(), id); err == nil {
				rules = stored
			}
		}
		if err := coord.AddTable(id, rules); err != nil {
			return err
		}
	}

	feed := statusfeed.NewServer(cfg.Server.StatusAddr, logger)
	if err := feed.Start(); err != nil {
		return err
	}
	defer feed.Stop()

	mon := buildMonitor(c.Monitor)
	mon.OnStart(len(cfg.Tables))

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for e := range coord.Events() {
			feed.Broadcast(e)
			mon.OnEvent(e)
		}
	}()

	ctx := shared.SetupSignalHandler(logger)
	err = coord.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	coord.StopAll()
	<-pumpDone
	mon.OnStop(coord.ExportSummary())
	return err
}

func buildMonitor(kind string) monitor.EventMonitor {
	switch kind {
	case "pretty":
		return monitor.NewPrettyMonitor(nil)
	case "dots":
		return monitor.NewDotsMonitor(nil)
	default:
		return monitor.NullEventMonitor{}
	}
}
