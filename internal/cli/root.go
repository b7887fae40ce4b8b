// Package cli is the `halfreduce` command surface: cobra flag parsing,
// progress-renderer selection, and dispatch into internal/engine. This is
// the out-of-scope "command-line parsing, help banners... logging
// verbosity" collaborator named in spec.md §1 — everything it does
// funnels into the core through internal/engine.Config.
//
// Grounded in the teacher's internal/cli/root.go: a single package-level
// rootCmd, flags registered in init(), and an Execute() entry point that
// picks between an interactive and a plain renderer based on
// mattn/go-isatty, same as the teacher picks between tui.RunApp and
// runStatusBrief.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/halfreduce/internal/buildinfo"
	"github.com/agusx1211/halfreduce/internal/driver"
	"github.com/agusx1211/halfreduce/internal/engine"
	"github.com/agusx1211/halfreduce/internal/monitorweb"
	"github.com/agusx1211/halfreduce/internal/obslog"
	"github.com/agusx1211/halfreduce/internal/progress"
)

var cfg = engine.DefaultConfig()
var limitArgs []string

var rootCmd = &cobra.Command{
	Use:   "halfreduce ORACLE INPUT",
	Short: "Speculative-parallel test-case minimizer",
	Long: `halfreduce shrinks a test input to the smallest file that still makes
an oracle program exit zero.

It runs a speculative parallel bisection: oracle invocations are kept in
flight along the predicted search path and cancelled as soon as a truer
verdict arrives, so it behaves exactly like a sequential delta-debugging
loop but overlaps the child-process work.

  halfreduce ./is_crash.sh crash.bin
  halfreduce --stable --zero-char=0 ./oracle.sh input.bin

Run "halfreduce strategies" to list the available reduction strategies.`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       buildinfo.Current().Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Oracle = []string{args[0]}
		cfg.InputPath = args[1]

		for _, raw := range limitArgs {
			lim, err := engine.ParseLimit(raw)
			if err != nil {
				return err
			}
			cfg.Limits = append(cfg.Limits, lim)
		}

		return runEngine(cmd)
	},
}

func init() {
	cobra.EnableCommandSorting = false

	f := rootCmd.Flags()
	f.StringVarP(&cfg.OutputPath, "output", "o", cfg.OutputPath, "location to store minimized output")
	f.BoolVarP(&cfg.Quiet, "quiet", "q", false, "minimize informational messages")
	f.IntVarP(&cfg.Verbosity, "verbosity", "v", 0, "set verbosity level")
	f.BoolVar(&cfg.NoVerify, "noverify", false, "don't verify original input before starting")
	f.BoolVar(&cfg.Stable, "stable", false, "re-run strategies until the result is stable")
	f.BoolVar(&cfg.ContinueSearch, "continue", false, "don't exit when finished, keep trying until interrupted (reserved)")
	f.BoolVar(&cfg.Monitor, "monitor", false, "serve live progress over HTTP/WebSocket for a browser")

	f.IntVarP(&cfg.NumThreads, "num-threads", "P", cfg.NumThreads, "how many oracle worker threads to use")
	f.IntVar(&cfg.CleanupThreads, "cleanup-threads", cfg.CleanupThreads, "number of threads used to garbage collect")
	f.IntVar(&cfg.MaxQueue, "max-queue", cfg.MaxQueue, "maximum number of unprocessed workunits")
	f.DurationVar(&cfg.PollDelay, "poll-delay", cfg.PollDelay, "base delay between queue-status checks")

	f.BoolVarP(&cfg.NoTerminate, "no-terminate", "k", false, "don't terminate tests early if possible")
	f.DurationVarP(&cfg.Timeout, "timeout", "T", 0, "maximum child execution time (0=unlimited)")
	f.StringSliceVar(&limitArgs, "limit", nil, "configure a child resource limit (e.g. CPU=60), repeatable")
	f.BoolVar(&cfg.InheritStdout, "inherit-stdout", false, "don't redirect child stdout to the null device")
	f.BoolVar(&cfg.InheritStderr, "inherit-stderr", false, "don't redirect child stderr to the null device")

	f.BoolVar(&cfg.BisectSkipEmpty, "bisect-skip-empty", false, "bisect strategy: stop once the source is already empty")
	f.Int64Var(&cfg.BisectSkipThreshold, "bisect-skip-threshold", 0, "bisect strategy: smallest chunk size to ever try")
	f.Uint8Var(&cfg.ZeroChar, "zero-char", 0, "zero strategy: fill byte for zeroed chunks")

	f.StringVar(&cfg.GenerateDot, "generate-dot", "", "write a live Graphviz dot file of the tree to this path")
	f.BoolVar(&cfg.ForceCollapse, "collapse", false, "force a tree collapse pass on every driver iteration (debug)")
	f.DurationVar(&cfg.DebugSleep, "sleep", 0, "sleep this long before exec'ing the oracle (debug)")

	var termSignal = int(cfg.TermSignal)
	f.IntVar(&termSignal, "term-signal", termSignal, "signal to send discarded workers")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg.TermSignal = syscall.Signal(termSignal)
		return nil
	}

	rootCmd.AddCommand(strategiesCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var mon *monitorweb.Server
	if cfg.Monitor {
		s, url, err := monitorweb.New(ctx, "127.0.0.1:0", true)
		if err != nil {
			return fmt.Errorf("cli: start monitor server: %w", err)
		}
		mon = s
		defer mon.Close()
		fmt.Fprintf(os.Stderr, "Monitoring at %s\n", url)
		_ = monitorweb.PrintQRCode(url)
	}

	interactive := !cfg.Quiet && isatty.IsTerminal(os.Stdout.Fd()) && cfg.Verbosity == 0
	var tuiCh chan driver.Snapshot
	if interactive {
		tuiCh = make(chan driver.Snapshot, 16)
	}
	linePrinter := progress.NewLinePrinter(os.Stderr)

	onSnapshot := func(s driver.Snapshot) {
		if mon != nil {
			mon.Publish(s)
		}
		switch {
		case interactive:
			select {
			case tuiCh <- s:
			default:
			}
		case !cfg.Quiet:
			linePrinter.Update(s)
		}
	}

	var tuiErr error
	done := make(chan struct{})
	if interactive {
		go func() {
			tuiErr = progress.Run(tuiCh)
			close(done)
		}()
	}

	result, err := engine.Run(ctx, cfg, onSnapshot)

	if interactive {
		close(tuiCh)
		<-done
		if tuiErr != nil {
			obslog.Warn("cli", "progress dashboard exited with error", "err", tuiErr)
		}
	}

	if err != nil {
		return err
	}

	fmt.Printf("Minimization complete: %d -> %d bytes (%d round(s)), written to %s\n",
		result.InputSize, result.OutputSize, result.Rounds, result.OutputPath)
	return nil
}
