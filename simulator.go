package gosct

import (
	"context"

	"gosct/checking"
	"gosct/config"
	"gosct/event"
	"gosct/machine"
	"gosct/simulator"
	"gosct/strategy"
	"gosct/trace"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func PrepareSimulation(strategyOpt StrategyOption, opts ...SimulatorOption) Simulation {
	sopts := simulator.DefaultOptions()

	// Use the simulator options to configure
	for _, opt := range opts {
		switch t := opt.(type) {
		case maxIterationsOption:
			sopts.MaxIterations = t.n
		case maxStepsOption:
			sopts.MaxSteps = t.n
		case failFastOption:
			sopts.FailFast = t.failFast
		case parallelismOption:
			sopts.Parallelism = t.n
		case timeoutOption:
			sopts.Timeout = t.d
		case loggerOption:
			sopts.Logger = t.log
		case clockOption:
			sopts.Clock = t.c
		case traceOutputOption:
			sopts.TraceOutput = t.path
		case boundIsBugOption:
			sopts.BoundIsBug = true
		case livelockOption:
			sopts.LivelockThreshold = t.threshold
			sopts.LivelockRepeats = t.repeats
		case temperatureOption:
			sopts.TemperatureThreshold = t.threshold
		case maxShrinkAttemptsOption:
			sopts.MaxShrinkAttempts = t.n
		case mailboxCapacityOption:
			sopts.MailboxCapacity = t.n
		case maxInstancesOption:
			if sopts.MaxInstances == nil {
				sopts.MaxInstances = map[event.Type]int{}
			}
			sopts.MaxInstances[t.t] = t.n
		case monitorOption:
			sopts.Monitors = append(sopts.Monitors, t.def)
		}
	}
	return Simulation{
		strategy: strategyOpt.s,
		opts:     sopts,
	}
}

// A configured testing session.
// The strategy keeps its state between calls to Run, e.g. an exhausted DFS has no runs left.
type Simulation struct {
	strategy strategy.Strategy
	opts     simulator.Options
}

// Test the program with the given name. entry creates the initial machines of every run.
//
// Returns the summary of the session. An error is returned if the engine failed or ctx was canceled.
func (s Simulation) Run(ctx context.Context, name string, entry func(rt *machine.Runtime)) (checking.Summary, error) {
	if s.strategy == nil {
		return checking.Summary{}, errors.New("gosct: a strategy must be provided")
	}
	if entry == nil {
		return checking.Summary{}, errors.New("gosct: an entry function must be provided to start the simulation")
	}
	sim := simulator.New(s.strategy, machine.Program{Name: name, Entry: entry}, s.opts)
	return sim.Simulate(ctx)
}

// Create a simulation from a configuration. opts are applied after the configuration.
func FromConfig(cfg *config.Config, opts ...SimulatorOption) (Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return Simulation{}, err
	}
	var strategyOpt StrategyOption
	switch cfg.Strategy {
	case config.StrategyDFS:
		strategyOpt = DFS()
	case config.StrategyRandom:
		strategyOpt = RandomWalk(cfg.Seed)
	case config.StrategyPCT:
		strategyOpt = PCT(cfg.Seed, cfg.PriorityChangePoints)
	case config.StrategyReplay:
		t, err := trace.ReadFile(cfg.ReplayTraceFile)
		if err != nil {
			return Simulation{}, errors.WithMessage(err, "gosct: unable to load the replayed trace")
		}
		strategyOpt = ReplayTrace(t)
	default:
		return Simulation{}, errors.Errorf("gosct: unknown strategy %q", cfg.Strategy)
	}

	base := []SimulatorOption{
		MaxIterations(cfg.MaxIterations),
		MaxSteps(cfg.MaxSteps),
		FailFast(cfg.FailFast),
		Parallelism(cfg.Parallelism),
		Timeout(cfg.Timeout),
		Livelock(cfg.LivelockThreshold, cfg.LivelockRepeats),
		LivenessTemperature(cfg.TemperatureThreshold),
		MaxShrinkAttempts(cfg.MaxShrinkAttempts),
		MailboxCapacity(cfg.MailboxCapacity),
		TraceOutput(cfg.TraceOutputFile),
	}
	if cfg.BoundIsBug {
		base = append(base, BoundIsBug())
	}
	return PrepareSimulation(strategyOpt, append(base, opts...)...), nil
}

// Log the outcome of a session
func LogSummary(log *zap.Logger, summary checking.Summary) {
	ok, description := summary.Response()
	if ok {
		log.Info(description)
		return
	}
	log.Error(description)
}
