package gosct

import (
	"time"

	"gosct/event"
	"gosct/machine"
	"gosct/strategy"
	"gosct/trace"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type StrategyOption struct {
	s strategy.Strategy
}

// Use a depth first search of the schedule space.
//
// Every run replays a prefix of an earlier run and then branches off.
// It will stop when the entire schedule space is explored and will not execute identical runs.
func DFS() StrategyOption {
	return StrategyOption{s: strategy.NewDFS()}
}

// Use a random walk of the schedule space.
//
// Every decision is picked uniformly from the available options.
// It does not have a designated stop point, and will continue until the iteration budget is spent.
// It does not guarantee that all runs have been tested, nor does it guarantee that the same run will not be executed multiple times.
func RandomWalk(seed int64) StrategyOption {
	return StrategyOption{s: strategy.NewRandom(seed)}
}

// Use probabilistic concurrency testing.
//
// Machines run in the order of random priorities that change at changePoints random decisions of every run.
// Finds bugs that need few ordering constraints between machines with a probability that does not depend on the length of the runs.
func PCT(seed int64, changePoints int) StrategyOption {
	return StrategyOption{s: strategy.NewPCT(seed, changePoints)}
}

// Replay the provided trace.
//
// Executes a single run that takes the recorded decisions, and reports a replay divergence if the program does not match the trace.
// A trace is exported by Summary.Export or stored with TraceOutput.
func ReplayTrace(t *trace.Trace) StrategyOption {
	return StrategyOption{s: strategy.NewReplay(t)}
}

// Use the provided strategy for the simulation
//
// Used to configure the simulation to use a different implementation of strategy than is commonly provided
func WithStrategy(s strategy.Strategy) StrategyOption {
	return StrategyOption{s: s}
}

type SimulatorOption interface{}

type maxIterationsOption struct{ n int }

// Configure the maximum number of runs simulated
//
// Default value is 1000
func MaxIterations(n int) SimulatorOption {
	return maxIterationsOption{n: n}
}

type maxStepsOption struct{ n int }

// Configure the maximum number of decisions in a run.
//
// Default value is 10000.
//
// A run that reaches it ends as BoundExceeded, which is inconclusive.
func MaxSteps(n int) SimulatorOption {
	return maxStepsOption{n: n}
}

type failFastOption struct{ failFast bool }

// Configure whether the simulation stops at the first bug.
//
// Default value is true
func FailFast(failFast bool) SimulatorOption {
	return failFastOption{failFast: failFast}
}

type parallelismOption struct{ n int }

// Configure the number of runs that will be executed concurrently.
//
// Default value is 1
func Parallelism(n int) SimulatorOption {
	return parallelismOption{n: n}
}

type timeoutOption struct{ d time.Duration }

// Stop starting new runs after d. Runs that are executing are canceled.
func Timeout(d time.Duration) SimulatorOption {
	return timeoutOption{d: d}
}

type loggerOption struct{ log *zap.Logger }

func WithLogger(log *zap.Logger) SimulatorOption {
	return loggerOption{log: log}
}

type clockOption struct{ c clock.Clock }

// Use the provided clock for the time budget
func WithClock(c clock.Clock) SimulatorOption {
	return clockOption{c: c}
}

type traceOutputOption struct{ path string }

// Store the trace of the reported bug in the file at path
func TraceOutput(path string) SimulatorOption {
	return traceOutputOption{path: path}
}

type boundIsBugOption struct{}

// Report runs that reach the maximum number of decisions as bugs
func BoundIsBug() SimulatorOption {
	return boundIsBugOption{}
}

type livelockOption struct{ threshold, repeats int }

// Configure the livelock heuristic.
//
// A blocked machine that has not run for threshold decisions, while the program has revisited the same state repeats times, is livelocked.
// A threshold of 0 disables the heuristic. Default values are 500 and 10.
func Livelock(threshold, repeats int) SimulatorOption {
	return livelockOption{threshold: threshold, repeats: repeats}
}

type temperatureOption struct{ threshold int }

// Configure the number of consecutive decisions a monitor may stay in a hot state.
// Default value is 0, which only checks the monitors at the end of a run.
func LivenessTemperature(threshold int) SimulatorOption {
	return temperatureOption{threshold: threshold}
}

type maxShrinkAttemptsOption struct{ n int }

// Configure the number of unsuccessful attempts to shrink the trace of a bug. 0 disables minimization.
//
// Default value is 100
func MaxShrinkAttempts(n int) SimulatorOption {
	return maxShrinkAttemptsOption{n: n}
}

type mailboxCapacityOption struct{ n int }

// Bound the mailboxes of the machines. A send to a full mailbox blocks the sender.
//
// Default value is 0, unbounded.
func MailboxCapacity(n int) SimulatorOption {
	return mailboxCapacityOption{n: n}
}

type maxInstancesOption struct {
	t event.Type
	n int
}

// Enqueuing more than n events of type t in one mailbox is an assertion failure
func MaxInstances(t event.Type, n int) SimulatorOption {
	return maxInstancesOption{t: t, n: n}
}

type monitorOption struct{ def *machine.Definition }

// Add a monitor to every run. Can be applied multiple times
func WithMonitor(def *machine.Definition) SimulatorOption {
	return monitorOption{def: def}
}
