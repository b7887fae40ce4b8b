package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/agusx1211/halfreduce/internal/driver"
	"github.com/agusx1211/halfreduce/internal/dotgraph"
	"github.com/agusx1211/halfreduce/internal/obslog"
	"github.com/agusx1211/halfreduce/internal/oracle"
	"github.com/agusx1211/halfreduce/internal/reaper"
	"github.com/agusx1211/halfreduce/internal/strategy"
	"github.com/agusx1211/halfreduce/internal/workerpool"
)

// Result summarizes one completed run for the CLI layer to report.
type Result struct {
	OutputPath string
	InputSize  int64
	OutputSize int64
	Rounds     int // full passes over every registered strategy; >1 only under --stable
	Snapshots  []driver.Snapshot
}

// Run executes one full halfreduce invocation. Mirroring
// original_source/halfempty.c's main loop (spec.md's distillation
// compressed this away, see SPEC_FULL.md §3 "Multi-strategy pipeline"):
// every registered strategy runs as its own complete speculation-tree
// search, in registration order, each strategy's output feeding the next
// strategy's input; under --stable the whole pipeline repeats until a
// round no longer shrinks the file. The minimized result is written to
// cfg.OutputPath (spec §6, mode 0600, truncated) only once, at the end.
func Run(ctx context.Context, cfg Config, snapshot func(driver.Snapshot)) (Result, error) {
	if cfg.Quiet {
		obslog.Quiet()
	} else if cfg.Verbosity > 0 {
		obslog.Init(os.Stderr, cfg.Verbosity)
	}

	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	reg := buildRegistry(cfg)
	names := reg.Names()
	if len(names) == 0 {
		return Result{}, fmt.Errorf("engine: no strategies registered")
	}

	runner := &oracle.Runner{
		Oracle:         cfg.Oracle,
		MaxProcessTime: cfg.Timeout,
		KillSignal:     cfg.TermSignal,
		Rlimits:        cfg.Limits,
		NoTerminate:    cfg.NoTerminate,
		InheritStdout:  cfg.InheritStdout,
		InheritStderr:  cfg.InheritStderr,
		DebugSleep:     cfg.DebugSleep,
		DisableASLR:    true,
	}

	in, err := os.Open(cfg.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("engine: open input: %w", err)
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return Result{}, fmt.Errorf("engine: stat input: %w", err)
	}

	var result Result
	result.InputSize = info.Size()

	current := in
	currentSize := info.Size()

	for {
		result.Rounds++
		roundStartSize := currentSize

		for _, name := range names {
			strat, _ := reg.Get(name)

			workers := workerpool.New(ctx, cfg.NumThreads)
			reapers := reaper.New(cfg.CleanupThreads, cfg.TermSignal, cfg.NoTerminate)

			drvCfg := driver.Config{
				MaxUnprocessed: cfg.MaxQueue,
				MaxWaitTime:    cfg.MaxWaitTime,
				MaxTreeDepth:   cfg.MaxTreeDepth,
				PollDelay:      cfg.PollDelay,
				VerifyInput:    !cfg.NoVerify,
				ForceCollapse:  cfg.ForceCollapse,
				TempDir:        cfg.ScratchDir,
			}
			drv := driver.New(drvCfg, runner, strat, workers, reapers)
			if snapshot != nil {
				drv.OnSnapshot = func(s driver.Snapshot) {
					result.Snapshots = append(result.Snapshots, s)
					snapshot(s)
				}
			}
			if cfg.GenerateDot != "" {
				prevHook := drv.OnSnapshot
				drv.OnSnapshot = func(s driver.Snapshot) {
					if prevHook != nil {
						prevHook(s)
					}
					if err := dotgraph.RenderToFile(cfg.GenerateDot, drv.Tree()); err != nil {
						obslog.Warn("engine", "dot render failed", "err", err)
					}
				}
			}

			obslog.Info("engine", "starting strategy", "strategy", name, "input_size", currentSize)
			out, buildErr := drv.Build(ctx, current, currentSize)
			reapers.Close()
			current.Close()

			if buildErr != nil {
				if errors.Is(buildErr, driver.ErrVerificationFailed) {
					return Result{}, buildErr
				}
				return Result{}, fmt.Errorf("engine: strategy %q: %w", name, buildErr)
			}

			outInfo, err := out.Stat()
			if err != nil {
				out.Close()
				return Result{}, fmt.Errorf("engine: stat result: %w", err)
			}
			obslog.Info("engine", "strategy complete", "strategy", name, "output_size", outInfo.Size())

			current = out
			currentSize = outInfo.Size()
		}

		if !cfg.Stable || currentSize >= roundStartSize {
			break
		}
		obslog.Info("engine", "size shrank under --stable, repeating", "round", result.Rounds, "size", currentSize)
	}

	result.OutputSize = currentSize
	if err := writeOutput(cfg.OutputPath, current, currentSize); err != nil {
		current.Close()
		return Result{}, err
	}
	current.Close()
	result.OutputPath = cfg.OutputPath
	return result, nil
}

// writeOutput truncates and writes cfg.OutputPath with mode 0600 (spec
// §6), copying exactly size bytes from the (already-rewound) result file.
func writeOutput(path string, result *os.File, size int64) error {
	if _, err := result.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("engine: rewind result: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("engine: open output: %w", err)
	}
	defer f.Close()
	if _, err := io.CopyN(f, result, size); err != nil && err != io.EOF {
		return fmt.Errorf("engine: write output: %w", err)
	}
	return nil
}

func buildRegistry(cfg Config) *strategy.Registry {
	reg := strategy.NewRegistry()
	// Re-register the shipped strategies with CLI-provided options,
	// overriding NewRegistry's zero-value defaults.
	reg.Register(strategy.NewBisect(strategy.BisectOptions{
		SkipEmpty:     cfg.BisectSkipEmpty,
		SkipThreshold: cfg.BisectSkipThreshold,
	}))
	reg.Register(strategy.NewZero(strategy.ZeroOptions{
		ZeroByte: cfg.ZeroChar,
	}))
	return reg
}

// Registry returns a strategy registry with default options (spec §1's
// "strategy registry (name, description, options, callback)"
// collaborator). The CLI's `strategies` subcommand builds its own via
// strategy.NewRegistry.
func Registry() *strategy.Registry {
	return strategy.NewRegistry()
}
