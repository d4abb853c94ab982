package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"gosct/checking"
	"gosct/strategy"
	"gosct/trace"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

var (
	ErrRunEnded     = errors.New("scheduler: the run has ended")
	ErrInvalidGrant = errors.New("scheduler: the strategy chose an operation that is not enabled")
	ErrUnknownOp    = errors.New("scheduler: unknown operation")
)

// Exposes the state of the program to the scheduler between turns
type Inspector interface {
	// A hash of the global state of the program
	Fingerprint() uint64
	// Returns a non-empty description if a liveness monitor has been hot for too long.
	// final is true when the run ends with every machine completed, in which case any hot monitor is a violation.
	HotMonitor(final bool) string
}

type Options struct {
	// Maximum number of decisions in a run
	MaxSteps int
	// nil disables livelock detection
	Liveness *checking.LivenessDetector
	Logger   *zap.Logger
}

// Serializes the execution of one run.
//
// Every machine of the run is backed by a goroutine and an Operation.
// Exactly one goroutine holds control at any time: at each scheduling point the holder asks the strategy
// which enabled operation runs next, grants it control and parks itself until it is granted control again.
// A Scheduler is used for a single run.
type Scheduler struct {
	strategy  strategy.RunStrategy
	registry  *Registry
	trace     *trace.Trace
	liveness  *checking.LivenessDetector
	inspector Inspector
	log       *zap.Logger
	maxSteps  int

	steps  int
	ended  bool
	result checking.RunResult

	// Closed when the run has ended
	done chan struct{}
	// Closed by the harness to release every parked goroutine
	release  chan struct{}
	canceled atomic.Bool
	wg       sync.WaitGroup
}

// Used to unwind the harness goroutine when the run ends while it runs the entry function
type harnessExit struct{}

func New(rs strategy.RunStrategy, t *trace.Trace, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10000
	}
	return &Scheduler{
		strategy: rs,
		registry: NewRegistry(),
		trace:    t,
		liveness: opts.Liveness,
		log:      log,
		maxSteps: maxSteps,
		done:     make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (s *Scheduler) SetInspector(i Inspector) {
	s.inspector = i
}

func (s *Scheduler) Registry() *Registry {
	return s.registry
}

func (s *Scheduler) Trace() *trace.Trace {
	return s.trace
}

// Number of decisions taken so far
func (s *Scheduler) Steps() int {
	return s.steps
}

// Execute a run.
//
// entry runs on the calling goroutine before the first decision and registers the initial operations.
// Run returns when the run has ended and every goroutine of the run has exited.
func (s *Scheduler) Run(ctx context.Context, entry func()) checking.RunResult {
	if ctx.Err() != nil {
		s.canceled.Store(true)
	}
	stop := context.AfterFunc(ctx, func() { s.canceled.Store(true) })
	defer stop()

	s.runEntry(func() {
		entry()
		// The harness is not an operation and never parks
		s.scheduleFrom(nil)
	})
	<-s.done
	close(s.release)
	s.wg.Wait()
	return s.result
}

func (s *Scheduler) runEntry(entry func()) {
	defer func() {
		if p := recover(); p != nil {
			if _, exit := p.(harnessExit); exit {
				return
			}
			s.finish(nil, s.bug(checking.UnhandledFault, "", fmt.Sprintf("the test entry panicked: %v\n%s", p, debug.Stack())))
		}
	}()
	entry()
}

// Register a new enabled operation
func (s *Scheduler) Register(id uint64) *Operation {
	return s.registry.Register(id)
}

// Start the goroutine backing op. body runs once op is first granted control.
// A panic in body ends the run with an UnhandledFault.
func (s *Scheduler) Spawn(op *Operation, body func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				s.Fault(op, p, debug.Stack())
			}
		}()
		s.park(op)
		body()
	}()
}

// Mark op as blocked. It stays blocked until Enable is called for it.
func (s *Scheduler) Block(op *Operation, status Status) {
	s.registry.MarkBlocked(op.Id, status)
}

// Mark the operation as enabled
func (s *Scheduler) Enable(id uint64) {
	s.registry.MarkEnabled(id)
}

// Mark op as completed and hand control to the next operation.
// Returns once control has been handed over. The goroutine of op must exit afterwards.
func (s *Scheduler) Complete(op *Operation) {
	s.registry.MarkCompleted(op.Id)
	s.scheduleFrom(op)
}

// A scheduling point. Picks the next enabled operation and, unless it is op, parks op until it is granted control again.
// If op is blocked it only resumes after it has been enabled and picked.
//
// If the run ends, the goroutine of op exits.
func (s *Scheduler) ScheduleNext(op *Operation) {
	s.scheduleFrom(op)
}

// A boolean decision point. Does not yield control
func (s *Scheduler) ChooseBoolean(op *Operation) bool {
	return s.choose(op, trace.BooleanChoice, []uint64{0, 1}) == 1
}

// An integer decision point returning a value in [0, max). Does not yield control
func (s *Scheduler) ChooseInteger(op *Operation, max int) int {
	if max <= 0 {
		s.Fail(op, checking.UnhandledFault, "", fmt.Sprintf("random integer requested with max %d", max))
	}
	options := make([]uint64, max)
	for i := range options {
		options[i] = uint64(i)
	}
	return int(s.choose(op, trace.IntegerChoice, options))
}

// End the run with a bug detected in the operation's code, e.g. a failed assertion.
// The goroutine of op exits.
func (s *Scheduler) Fail(op *Operation, kind checking.Kind, machine, msg string) {
	s.finish(op, s.bug(kind, machine, msg))
	s.exit(op)
}

// End the run with an UnhandledFault for a panic recovered in the goroutine of op
func (s *Scheduler) Fault(op *Operation, recovered any, stack []byte) {
	if s.ended {
		return
	}
	s.finish(op, s.bug(checking.UnhandledFault, fmt.Sprintf("op(%d)", op.Id), fmt.Sprintf("%v\nStack Trace:\n%s", recovered, stack)))
}

func (s *Scheduler) scheduleFrom(op *Operation) {
	if s.canceled.Load() {
		s.finish(op, checking.RunResult{Kind: checking.BoundExceeded, Canceled: true})
		s.exit(op)
		return
	}

	enabled := s.registry.Enabled()
	if len(enabled) == 0 {
		s.endQuiescent(op)
		return
	}
	if s.steps >= s.maxSteps {
		s.finish(op, checking.RunResult{Kind: checking.BoundExceeded})
		s.exit(op)
		return
	}

	chosen, err := s.strategy.Next(trace.MachineChoice, enabled)
	if err != nil {
		s.strategyError(op, err)
		return
	}
	next, ok := s.registry.Get(chosen)
	if !ok || next.status != Enabled {
		s.finish(op, checking.RunResult{Err: errors.Wrapf(ErrInvalidGrant, "chose %d, enabled %v", chosen, enabled)})
		s.exit(op)
		return
	}
	s.record(trace.MachineChoice, chosen, enabled)
	s.log.Debug("Scheduled operation", zap.Int("step", s.steps), zap.Uint64("operation", chosen), zap.Int("enabled", len(enabled)))

	if s.checkLiveness(chosen) {
		s.exit(op)
		return
	}
	next.steps++
	s.switchTo(op, next)
}

// No operation is enabled: the run either passed or deadlocked
func (s *Scheduler) endQuiescent(op *Operation) {
	if !s.registry.AllCompleted() {
		blocked := s.registry.Blocked()
		s.finish(op, s.bug(checking.Deadlock, "", fmt.Sprintf("no operation is enabled, blocked operations: %v", blocked)))
	} else if msg := s.hotMonitor(true); msg != "" {
		s.finish(op, s.bug(checking.Livelock, "", msg))
	} else {
		s.finish(op, checking.RunResult{Kind: checking.Passed})
	}
	s.exit(op)
}

func (s *Scheduler) checkLiveness(chosen uint64) bool {
	if msg := s.hotMonitor(false); msg != "" {
		s.finish(nil, s.bug(checking.Livelock, "", msg))
		return true
	}
	if !s.liveness.Enabled() || s.inspector == nil {
		return false
	}
	if id, found := s.liveness.Observe(s.steps, chosen, s.registry.Blocked(), s.inspector.Fingerprint()); found {
		s.finish(nil, s.bug(checking.Livelock, "", fmt.Sprintf("operation %d made no progress for %d decisions while the program kept revisiting the same states", id, s.liveness.Threshold)))
		return true
	}
	return false
}

func (s *Scheduler) hotMonitor(final bool) string {
	if s.inspector == nil {
		return ""
	}
	return s.inspector.HotMonitor(final)
}

func (s *Scheduler) choose(op *Operation, kind trace.Kind, options []uint64) uint64 {
	if s.canceled.Load() {
		s.finish(op, checking.RunResult{Kind: checking.BoundExceeded, Canceled: true})
		s.exit(op)
		return 0
	}
	if s.steps >= s.maxSteps {
		s.finish(op, checking.RunResult{Kind: checking.BoundExceeded})
		s.exit(op)
		return 0
	}
	v, err := s.strategy.Next(kind, options)
	if err != nil {
		s.strategyError(op, err)
		return 0
	}
	if !slices.Contains(options, v) {
		s.finish(op, checking.RunResult{Err: errors.Errorf("scheduler: the strategy chose %d for a %v decision among %v", v, kind, options)})
		s.exit(op)
		return 0
	}
	s.record(kind, v, options)
	return v
}

func (s *Scheduler) strategyError(op *Operation, err error) {
	if errors.Is(err, strategy.ErrReplayDivergence) {
		s.trace.Message = err.Error()
		s.finish(op, checking.RunResult{Kind: checking.ReplayDivergence})
	} else {
		s.finish(op, checking.RunResult{Err: errors.WithMessage(err, "scheduler: the strategy failed")})
	}
	s.exit(op)
}

func (s *Scheduler) record(kind trace.Kind, chosen uint64, options []uint64) {
	s.trace.Append(kind, chosen, options)
	s.steps++
}

// Grant control to the operation to. Parks from unless it is completed.
// from must not touch shared state once the grant has been sent.
func (s *Scheduler) switchTo(from, to *Operation) {
	if from == to {
		return
	}
	mustPark := from != nil && from.status != Completed
	to.grant <- struct{}{}
	if mustPark {
		s.park(from)
	}
}

func (s *Scheduler) park(op *Operation) {
	select {
	case <-op.grant:
	case <-s.release:
		runtime.Goexit()
	}
}

func (s *Scheduler) bug(kind checking.Kind, machine, msg string) checking.RunResult {
	return checking.RunResult{
		Kind: kind,
		Bug:  &checking.BugReport{Kind: kind, Machine: machine, Message: msg},
	}
}

// Record the result of the run and signal the harness.
func (s *Scheduler) finish(op *Operation, result checking.RunResult) {
	if s.ended {
		return
	}
	s.ended = true
	result.Steps = s.steps
	if result.Canceled {
		result.Trace = nil
	} else {
		if result.Bug != nil {
			s.trace.Bug = result.Kind.String()
			s.trace.Message = result.Bug.Message
			result.Bug.Trace = s.trace
		}
		s.trace.Freeze()
		result.Trace = s.trace
	}
	s.result = result
	s.log.Debug("Run ended", zap.Stringer("kind", result.Kind), zap.Int("steps", s.steps))
	close(s.done)
}

// Leave the current goroutine after the run has ended, unless it is a completed operation that returns on its own
func (s *Scheduler) exit(op *Operation) {
	if !s.ended {
		return
	}
	if op == nil {
		panic(harnessExit{})
	}
	if op.status != Completed {
		runtime.Goexit()
	}
}
