package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"governor/internal/engine"
	"governor/internal/reporting"
	"governor/internal/suite"
	"governor/pkg/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// errUnitsFailed makes the process exit non-zero after the summary was printed.
var errUnitsFailed = errors.New("one or more units failed")

type runOptions struct {
	*globalOptions

	parallel   int
	failFast   bool
	verbose    bool
	suiteName  string
	tags       []string
	reportPath string
	metricsOut string
	eventsPath string
	eventsUnit string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "run <suite.yaml|dir>",
		Short: "Execute test suites",
		Long: `Execute one suite file, or every *.yaml and *.yml suite below a directory.

Each unit runs through the behavior pipeline: conditions, callbacks, hooks,
interceptors, deadlines and failure handlers. The command exits non-zero when
any unit fails or the run is aborted.

Examples:
  governor run suites/
  governor run suites/orders.yaml --tag smoke --fail-fast
  governor run suites/ --parallel 4 --set governor.execution.timeout.default=30s
  governor run suites/ --report out/report.json --metrics-out out/governor.prom
  governor run suites/ --events out/events.jsonl --events-unit "Orders > checkout"`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("parallel") && opts.parallel < 1 {
				return fmt.Errorf("parallel workers must be at least 1, got %d", opts.parallel)
			}
			if opts.eventsUnit != "" && opts.eventsPath == "" {
				return errors.New("--events-unit requires --events")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.parallel, "parallel", 0, "Number of sibling units run concurrently (default: from configuration)")
	flags.BoolVar(&opts.failFast, "fail-fast", false, "Skip remaining units after the first failure")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print every unit, not only failures")
	flags.StringVar(&opts.suiteName, "suite", "", "Run only the suite with this name")
	flags.StringSliceVar(&opts.tags, "tag", nil, "Run only suites carrying every given tag")
	flags.StringVar(&opts.reportPath, "report", "", "Path to save a JSON report")
	flags.StringVar(&opts.metricsOut, "metrics-out", "", "Path to write Prometheus metrics in text format")
	flags.StringVar(&opts.eventsPath, "events", "", "Path to stream engine events to, as JSON lines")
	flags.StringVar(&opts.eventsUnit, "events-unit", "", "Stream only events of this unit path and the units below it")

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	params, err := o.parameters()
	if err != nil {
		return err
	}

	suites, err := suite.Load(path)
	if err != nil {
		return err
	}
	suites = suite.Filter(suites, o.suiteName, o.tags)
	if len(suites) == 0 {
		return fmt.Errorf("no suite in %s matches the given filters", path)
	}
	nodes, err := suite.BuildAll(suites)
	if err != nil {
		return err
	}

	bus := reporting.NewEventBus()
	defer bus.Close()
	reporter := reporting.NewConsoleReporter(cmd.OutOrStdout(), o.verbose)
	reporter.SetParameters(params.Map())
	reporter.Attach(bus)

	var events *reporting.EventLog
	if o.eventsPath != "" {
		var filter reporting.EventFilter
		if o.eventsUnit != "" {
			filter = reporting.FilterByUnit(o.eventsUnit)
		}
		if events, err = reporting.OpenEventLog(bus, o.eventsPath, filter); err != nil {
			return err
		}
	}

	engineOpts := []engine.Option{engine.WithEventBus(bus), engine.WithFailFast(o.failFast)}
	if o.parallel > 0 {
		engineOpts = append(engineOpts, engine.WithParallelism(o.parallel))
	}
	eng, err := engine.New(params, engineOpts...)
	if err != nil {
		return err
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nReceived interrupt signal, stopping run...")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info("CLI", "Running %d suite(s) from %s", len(nodes), path)
	report, runErr := eng.Run(ctx, nodes...)
	summary := reporter.PrintSummary()

	if events != nil {
		if err := events.Close(); err != nil {
			return err
		}
	}
	stats := bus.Stats()
	logging.Debug("CLI", "Event bus: %d published, %d delivered, %d dropped, %d handler panic(s)",
		stats.Published, stats.Delivered, stats.Dropped, stats.HandlerPanics)
	if stats.Dropped > 0 {
		logging.Warn("CLI", "%d event(s) were dropped by slow subscribers", stats.Dropped)
	}

	if o.reportPath != "" {
		if err := reporter.WriteJSON(o.reportPath); err != nil {
			return err
		}
	}
	if o.metricsOut != "" {
		if err := writeMetrics(o.metricsOut); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if report.Failed() || summary.Failed() {
		return errUnitsFailed
	}
	return nil
}

func writeMetrics(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	logging.Info("CLI", "Metrics saved to %s", path)
	return nil
}
