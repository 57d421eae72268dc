package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/your-org/scanforge/internal/logging"
	"github.com/your-org/scanforge/internal/resmon"
	"github.com/your-org/scanforge/internal/sched"
	"github.com/your-org/scanforge/internal/state"
	"github.com/your-org/scanforge/internal/supervise"
	"github.com/your-org/scanforge/internal/workspace"
	"golang.org/x/sync/errgroup"
)

var (
	flagOutputDir     string
	flagWordlist      string
	flagTaskTimeout   int
	flagTargetTimeout int
	flagGlobalTimeout int
)

func init() {
	runCmd.Flags().StringVarP(&flagOutputDir, "output", "o", "", "output root directory (default: config output.dir)")
	runCmd.Flags().StringVarP(&flagWordlist, "wordlist", "w", "", "wordlist path exposed to templates")
	runCmd.Flags().IntVar(&flagTaskTimeout, "task-timeout", 0, "tighten every task timeout to this many seconds")
	runCmd.Flags().IntVar(&flagTargetTimeout, "target-timeout", 0, "tighten the per-target timeout to this many seconds")
	runCmd.Flags().IntVar(&flagGlobalTimeout, "global-timeout", 0, "tighten the whole-run timeout to this many seconds")
}

var runCmd = &cobra.Command{
	Use:   "run TARGET...",
	Short: "Execute the plan against one or more targets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, targets []string) error {
		p, err := loadPlan()
		if err != nil {
			return err
		}

		outputRoot := cfg.Output.Dir
		if flagOutputDir != "" {
			outputRoot = flagOutputDir
		}
		wsSet, err := workspace.NewSet(outputRoot, targets)
		if err != nil {
			return err
		}

		// The first target's workspace hosts the engine log; per-target raw
		// output goes under each target's own tree.
		logDir := ""
		if ws, ok := wsSet.For(targets[0]); ok {
			logDir = ws.LogsDir()
		}
		logger, err := logging.New(logging.Options{
			Level:   cfg.Log.Level,
			Verbose: cfg.Log.Verbose,
			Dir:     logDir,
		})
		if err != nil {
			return err
		}

		// Overrides tighten, never loosen.
		tightenTimeouts()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d := cfg.Timeouts.Global(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		outputDirs := make(map[string]string, len(targets))
		for _, target := range targets {
			if ws, ok := wsSet.For(target); ok {
				outputDirs[target] = ws.ScansDir()
			}
		}

		agg := state.NewAggregator(logger.With("component", "state"))
		scheduler := sched.New(sched.Options{
			Config:      cfg,
			Plan:        p,
			Aggregator:  agg,
			Runner:      supervise.New(logger.With("component", "supervise")),
			Monitor:     resmon.New(cfg.Limits.MaxCPUPercent, cfg.Limits.MaxMemoryPercent, logger.With("component", "resmon")),
			Raw:         wsSet,
			Logger:      logger,
			Elevated:    os.Geteuid() == 0,
			OutputDirs:  outputDirs,
			Wordlist:    flagWordlist,
			TaskTimeout: time.Duration(flagTaskTimeout) * time.Second,
		})

		runErr := scheduler.Run(ctx, targets)

		// The run is sealed: the snapshot is stable and safe to serialize.
		snap := agg.Snapshot()
		logger.Info("run finished",
			"services", len(snap.Services), "findings", len(snap.Findings),
			"completed", snap.Counters.Completed, "failed", snap.Counters.Failed,
			"timed_out", snap.Counters.TimedOut, "skipped", snap.Counters.Skipped)

		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		var reports errgroup.Group
		for _, target := range targets {
			ws, ok := wsSet.For(target)
			if !ok {
				continue
			}
			reports.Go(func() error {
				path, err := ws.WriteReport("report.json", data)
				if err != nil {
					return err
				}
				logger.Info("snapshot written", "path", path)
				return nil
			})
		}
		if err := reports.Wait(); err != nil {
			return err
		}

		if runErr != nil {
			return fmt.Errorf("run aborted: %w", runErr)
		}
		if snap.Counters.Failed > 0 || snap.Counters.TimedOut > 0 {
			logger.Warn("run completed with errors",
				"failed", snap.Counters.Failed, "timed_out", snap.Counters.TimedOut)
		}
		return nil
	},
}

// tightenTimeouts lowers configured timeout levels from flags; a flag can
// only shrink the window.
func tightenTimeouts() {
	if flagGlobalTimeout > 0 && (cfg.Timeouts.GlobalSeconds == 0 || flagGlobalTimeout < cfg.Timeouts.GlobalSeconds) {
		cfg.Timeouts.GlobalSeconds = flagGlobalTimeout
	}
	if flagTargetTimeout > 0 && (cfg.Timeouts.TargetSeconds == 0 || flagTargetTimeout < cfg.Timeouts.TargetSeconds) {
		cfg.Timeouts.TargetSeconds = flagTargetTimeout
	}
}
