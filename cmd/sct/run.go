package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"gosct"
	"gosct/checking"
	"gosct/config"
	"gosct/simulator"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runOptions defines flags for the `run` command
type runOptions struct {
	program     string
	configFile  string
	strategy    string
	iterations  int
	seed        int64
	failFast    bool
	traceOut    string
	verbose     bool
	metricsAddr string
}

// addFlags binds the flags of the `run` command
func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.program, "program", "p", "", "name of the program to test, see `sct programs`")
	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "path of a TOML configuration file")
	cmd.Flags().StringVar(&o.strategy, "strategy", "", "exploration strategy: dfs, random, pct or replay")
	cmd.Flags().IntVar(&o.iterations, "iterations", 0, "maximum number of runs")
	cmd.Flags().Int64Var(&o.seed, "seed", 0, "seed of the random and pct strategies")
	cmd.Flags().BoolVar(&o.failFast, "fail-fast", true, "stop at the first bug")
	cmd.Flags().StringVar(&o.traceOut, "trace-out", "", "file to store the trace of a found bug in")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "log every run")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while testing")
	_ = cmd.MarkFlagRequired("program")
}

// Load the configuration file and apply the flags that were set on top of it
func (o *runOptions) config(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Strategy = o.strategy
	}
	if flags.Changed("iterations") {
		cfg.MaxIterations = o.iterations
	}
	if flags.Changed("seed") {
		cfg.Seed = o.seed
	}
	if flags.Changed("fail-fast") {
		cfg.FailFast = o.failFast
	}
	if flags.Changed("trace-out") {
		cfg.TraceOutputFile = o.traceOut
	}
	return cfg, cfg.Validate()
}

func (o *runOptions) logger() (*zap.Logger, error) {
	if o.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (o *runOptions) serveMetrics(log *zap.Logger) func() {
	registry := prometheus.NewRegistry()
	simulator.InitMetrics(registry)
	server := &http.Server{
		Addr:              o.metricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// run the `run` command
func (o *runOptions) run(ctx context.Context, cmd *cobra.Command) error {
	reg, ok := programs[o.program]
	if !ok {
		return errors.Errorf("unknown program %q, available: %v", o.program, programNames())
	}
	cfg, err := o.config(cmd)
	if err != nil {
		return err
	}
	log, err := o.logger()
	if err != nil {
		return errors.Wrap(err, "unable to create logger")
	}
	defer func() { _ = log.Sync() }()

	if o.metricsAddr != "" {
		stop := o.serveMetrics(log)
		defer stop()
	}

	opts := []gosct.SimulatorOption{gosct.WithLogger(log)}
	for _, m := range reg.monitors {
		opts = append(opts, gosct.WithMonitor(m))
	}
	sim, err := gosct.FromConfig(cfg, opts...)
	if err != nil {
		return err
	}
	summary, err := sim.Run(ctx, reg.program.Name, reg.program.Entry)
	if err != nil {
		return err
	}
	gosct.LogSummary(log, summary)
	if summary.Bug != nil {
		return errors.Errorf("found %v", summary.Kind)
	}
	if summary.Kind == checking.ReplayDivergence {
		return errors.Errorf("%v: the replayed trace does not match %v", summary.Kind, reg.program.Name)
	}
	return nil
}

// newCmdRun creates the `run` command
func newCmdRun() *cobra.Command {
	o := &runOptions{}
	command := &cobra.Command{
		Use:   "run",
		Short: "Test a program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return o.run(ctx, cmd)
		},
	}
	o.addFlags(command)
	return command
}
