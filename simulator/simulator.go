package simulator

import (
	"context"
	"time"

	"gosct/checking"
	"gosct/event"
	"gosct/machine"
	"gosct/strategy"
	"gosct/trace"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyUsed = errors.New("simulator: a simulator can only simulate once")

type Options struct {
	// Maximum number of runs to start
	MaxIterations int
	// Maximum number of decisions in a run
	MaxSteps int
	// Number of runs executed concurrently
	Parallelism int
	// Wall clock budget for the whole session. 0 disables it
	Timeout time.Duration
	// Stop at the first bug. Otherwise every iteration is executed and the first bug is reported
	FailFast bool
	// Report runs that hit MaxSteps as bugs
	BoundIsBug bool

	// Decisions a blocked machine may starve before it is considered livelocked. 0 disables the heuristic
	LivelockThreshold int
	// Number of times the program must have revisited the same state during the starvation
	LivelockRepeats int
	// Consecutive decisions a monitor may stay hot. 0 only checks at the end of a run
	TemperatureThreshold int

	// Unsuccessful shrink attempts before the minimizer gives up. 0 disables minimization
	MaxShrinkAttempts int

	MailboxCapacity int
	MaxInstances    map[event.Type]int
	Monitors        []*machine.Definition

	// If set, the trace of the reported bug is written to this file
	TraceOutput string

	Logger *zap.Logger
	Clock  clock.Clock
}

func DefaultOptions() Options {
	return Options{
		MaxIterations:     1000,
		MaxSteps:          10000,
		Parallelism:       1,
		FailFast:          true,
		LivelockThreshold: 500,
		LivelockRepeats:   10,
		MaxShrinkAttempts: 100,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 1
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 10000
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Simulates a program under the control of a strategy.
//
// Every run executes the program on a fresh scheduler and runtime.
// The strategy decides the order in which the machines of the program are executed and the outcome of every random choice.
type Simulator struct {
	strategy strategy.Strategy
	program  machine.Program
	opts     Options
	log      *zap.Logger

	coverage *coverage
	used     atomic.Bool
}

func New(strategy strategy.Strategy, program machine.Program, opts Options) *Simulator {
	opts = opts.withDefaults()
	return &Simulator{
		strategy: strategy,
		program:  program,
		opts:     opts,
		log:      opts.Logger,
		coverage: newCoverage(),
	}
}

// The explored schedules in Newick format
func (s *Simulator) ScheduleSpace() string {
	return s.coverage.root.Newick()
}

// Run the testing session.
//
// Returns the summary of the session. An error is returned if the engine itself failed,
// or if ctx was canceled before the session ended.
func (s *Simulator) Simulate(ctx context.Context) (checking.Summary, error) {
	if !s.used.CompareAndSwap(false, true) {
		return checking.Summary{}, ErrAlreadyUsed
	}
	session := uuid.New()
	log := s.log.With(
		zap.Stringer("session", session),
		zap.String("program", s.program.Name),
		zap.String("strategy", s.strategy.Description()),
	)
	log.Info("Starting simulation", zap.Int("maxIterations", s.opts.MaxIterations), zap.Int("parallelism", s.opts.Parallelism))
	start := s.opts.Clock.Now()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()
	if s.opts.Timeout > 0 {
		timer := s.opts.Clock.AfterFunc(s.opts.Timeout, cancelRuns)
		defer timer.Stop()
	}

	// Used to signal to start the next run
	nextRun := make(chan struct{})
	// Used by the workers to report every executed run
	status := make(chan runStatus)
	// Closed once every worker has stopped
	closing := make(chan struct{})

	var g errgroup.Group
	for i := 0; i < s.opts.Parallelism; i++ {
		rsim := newRunSimulator(s, s.strategy.GetRunStrategy(), log.With(zap.Int("worker", i)))
		g.Go(func() error {
			return rsim.simulateRuns(runCtx, nextRun, status)
		})
	}
	go func() {
		// Workers report their errors on status
		_ = g.Wait()
		close(closing)
	}()

	summary, err := s.mainLoop(runCtx, nextRun, status, closing)
	if err != nil {
		return summary, err
	}

	if summary.Bug != nil && s.opts.MaxShrinkAttempts > 0 && ctx.Err() == nil {
		minimized := NewMinimizer(s, s.opts.MaxShrinkAttempts).Minimize(ctx, summary.Bug)
		if minimized.Trace.Len() < summary.Bug.Trace.Len() {
			log.Info("Minimized trace", zap.Int("from", summary.Bug.Trace.Len()), zap.Int("to", minimized.Trace.Len()))
		}
		summary.Bug = minimized
	}
	if summary.Bug != nil && s.opts.TraceOutput != "" {
		if err := trace.WriteFile(s.opts.TraceOutput, summary.Bug.Trace); err != nil {
			return summary, errors.WithMessage(err, "simulator: unable to store the trace")
		}
		log.Info("Stored trace", zap.String("path", s.opts.TraceOutput))
	}
	summary.Elapsed = s.opts.Clock.Since(start)

	if ctx.Err() != nil {
		return summary, errors.WithMessage(ctx.Err(), "simulator: the simulation was canceled")
	}
	log.Info("Simulation ended",
		zap.Stringer("state", summary.State),
		zap.Stringer("kind", summary.Kind),
		zap.Int("iterations", summary.Iterations),
		zap.Int("distinctSchedules", summary.DistinctSchedules),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// The main loop of the simulation.
//
// Hands out a permit on nextRun for every run to be started and processes the status of every executed run.
// Stops handing out permits when MaxIterations runs have been started, when the search is finished or when the budget is spent.
// Returns when every worker has stopped.
func (s *Simulator) mainLoop(ctx context.Context, nextRun chan struct{}, status chan runStatus, closing chan struct{}) (checking.Summary, error) {
	var (
		summary  checking.Summary
		fatal    error
		started  int
		exhaust  bool
		diverged bool
	)

	permits := nextRun
	budget := ctx.Done()
	stopped := false
	stop := func() {
		if !stopped {
			stopped = true
			permits = nil
			close(nextRun)
		}
	}

loop:
	for {
		select {
		case permits <- struct{}{}:
			started++
			if started >= s.opts.MaxIterations {
				stop()
			}
		case st := <-status:
			switch {
			case st.err != nil:
				fatal = multierr.Append(fatal, st.err)
				stop()
			case st.exhausted:
				// The worker has stopped. The others stop once they see the exhausted strategy as well
				exhaust = true
			default:
				if s.handleResult(&summary, st.result) {
					stop()
				}
				if st.result.Kind == checking.ReplayDivergence {
					diverged = true
				}
			}
		case <-budget:
			budget = nil
			stop()
		case <-closing:
			break loop
		}
	}
	summary.DistinctSchedules = s.coverage.distinct
	if e, ok := s.strategy.(strategy.Exhaustible); ok && !exhaust && e.Exhausted() {
		// The last permitted run completed the search
		exhaust = true
	}

	switch {
	case summary.Bug != nil:
		summary.State = checking.BugFound
		summary.Kind = summary.Bug.Kind
	case diverged:
		summary.State = checking.Diverged
		summary.Kind = checking.ReplayDivergence
	case exhaust:
		summary.State = checking.ExhaustedSearch
	default:
		summary.State = checking.BudgetReached
	}
	if summary.Bug == nil && !diverged {
		summary.Kind = checking.Passed
		if summary.BoundExceeded > 0 {
			summary.Kind = checking.BoundExceeded
		}
	}
	if fatal != nil {
		return summary, errors.WithMessage(fatal, "simulator: the simulation failed")
	}
	return summary, nil
}

// Update the summary with the result of a run. Returns true if the session should stop
func (s *Simulator) handleResult(summary *checking.Summary, res checking.RunResult) bool {
	if res.Canceled {
		return false
	}
	summary.Iterations++
	if res.Trace != nil {
		s.coverage.insert(res.Trace)
	}
	switch {
	case res.Kind == checking.ReplayDivergence:
		s.log.Warn("Replay diverged", zap.String("message", res.Trace.Message))
		return true
	case res.Bug != nil:
		summary.Bugs++
		if summary.Bug == nil {
			summary.Bug = res.Bug
		}
		return s.opts.FailFast
	case res.Kind == checking.BoundExceeded:
		summary.BoundExceeded++
	}
	return false
}

// Execute one run of the program with rs. The caller is responsible for StartRun and EndRun
func (s *Simulator) execute(ctx context.Context, rs strategy.RunStrategy, description string) checking.RunResult {
	var seed int64
	if seeded, ok := rs.(strategy.Seeded); ok {
		seed = seeded.Seed()
	}
	t := trace.New(s.program.Name, description, seed)
	sch := newScheduler(rs, t, s.opts, s.log)
	rt := machine.NewRuntime(sch, machine.Options{
		MailboxCapacity:      s.opts.MailboxCapacity,
		MaxInstances:         s.opts.MaxInstances,
		Monitors:             s.opts.Monitors,
		TemperatureThreshold: s.opts.TemperatureThreshold,
		Logger:               s.log,
	})
	res := rt.Run(ctx, s.program.Entry)
	if res.Kind == checking.BoundExceeded && !res.Canceled && s.opts.BoundIsBug {
		res.Bug = &checking.BugReport{
			Kind:    checking.BoundExceeded,
			Message: "the run exceeded the maximum number of steps",
			Trace:   res.Trace,
		}
		res.Trace.Bug = res.Kind.String()
		res.Trace.Message = res.Bug.Message
	}
	return res
}
