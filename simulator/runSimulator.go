package simulator

import (
	"context"

	"gosct/checking"
	"gosct/scheduler"
	"gosct/strategy"
	"gosct/trace"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type runStatus struct {
	result checking.RunResult
	// The strategy has no more runs
	exhausted bool
	// An engine error. The session can not continue
	err error
}

// Executes runs for the simulator, one at a time, with its own run strategy
type runSimulator struct {
	sim         *Simulator
	rs          strategy.RunStrategy
	description string
	log         *zap.Logger
}

func newRunSimulator(sim *Simulator, rs strategy.RunStrategy, log *zap.Logger) *runSimulator {
	return &runSimulator{
		sim:         sim,
		rs:          rs,
		description: sim.strategy.Description(),
		log:         log,
	}
}

// Main loop of the runSimulator.
// Starts a new run each time it receives a permit on nextRun and sends the outcome on status.
// Stops when nextRun is closed, when the strategy has no more runs, or when an engine error occurs.
func (rsim *runSimulator) simulateRuns(ctx context.Context, nextRun <-chan struct{}, status chan<- runStatus) error {
	for range nextRun {
		res, err := rsim.simulateRun(ctx)
		if errors.Is(err, strategy.ErrNoRuns) {
			status <- runStatus{exhausted: true}
			return nil
		}
		if err != nil {
			status <- runStatus{err: err}
			return nil
		}
		status <- runStatus{result: res}
	}
	return nil
}

func (rsim *runSimulator) simulateRun(ctx context.Context) (checking.RunResult, error) {
	if err := rsim.rs.StartRun(); err != nil {
		return checking.RunResult{}, err
	}
	start := rsim.sim.opts.Clock.Now()
	res := rsim.sim.execute(ctx, rsim.rs, rsim.description)
	// Always end the run, the strategy may be waiting for it
	rsim.rs.EndRun(strategy.RunInfo{Steps: res.Steps})
	if res.Err != nil {
		return res, errors.WithMessage(res.Err, "simulator: an error occurred while simulating a run")
	}
	if !res.Canceled {
		observeRun(rsim.description, res, rsim.sim.opts.Clock.Since(start))
	}
	if res.Bug != nil {
		rsim.log.Debug("Found bug", zap.Stringer("kind", res.Kind), zap.String("message", res.Bug.Message), zap.Int("steps", res.Steps))
	}
	return res, nil
}

func newScheduler(rs strategy.RunStrategy, t *trace.Trace, opts Options, log *zap.Logger) *scheduler.Scheduler {
	var liveness *checking.LivenessDetector
	if opts.LivelockThreshold > 0 {
		liveness = checking.NewLivenessDetector(opts.LivelockThreshold, opts.LivelockRepeats)
	}
	return scheduler.New(rs, t, scheduler.Options{
		MaxSteps: opts.MaxSteps,
		Liveness: liveness,
		Logger:   log,
	})
}
