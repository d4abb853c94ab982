package strategy

import (
	"gosct/trace"

	"github.com/pkg/errors"
)

// Used to manage the exploration of the schedule space.
// The Strategy manages the total state across several runs.
// Communicates with several run strategies in separate goroutines to ensure that the exploration remains consistent
type Strategy interface {
	// Create a RunStrategy that will communicate with the Strategy
	GetRunStrategy() RunStrategy
	// A short description used in logs and trace headers
	Description() string
}

// Takes the decisions of a single run at a time.
// StartRun, Next and EndRun are always called from the goroutine that currently holds control of the run,
// and never concurrently.
type RunStrategy interface {
	// Prepare for starting a new run. Returns ErrNoRuns if all possible runs have been completed.
	// May block until new runs are available.
	StartRun() error
	// Pick one of options for a decision of the given kind.
	// options is never empty and the returned value must be one of them.
	Next(kind trace.Kind, options []uint64) (uint64, error)
	// Finish the current run and prepare for the next one.
	// Will always be called after a run has been executed, even if it found a bug.
	EndRun(info RunInfo)
}

// Information about a finished run
type RunInfo struct {
	// Number of decisions taken during the run
	Steps int
}

// Implemented by run strategies whose choices derive from a per-run seed
type Seeded interface {
	Seed() int64
}

// Implemented by strategies that can tell whether every run has been explored, without starting a new one
type Exhaustible interface {
	Exhausted() bool
}

var (
	ErrNoRuns           = errors.New("strategy: no available new runs to be started")
	ErrReplayDivergence = errors.New("strategy: the run diverged from the recorded trace")
	ErrNoOptions        = errors.New("strategy: a decision needs at least one option")
)
