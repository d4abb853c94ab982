package checking

import (
	"fmt"

	"gosct/trace"

	"github.com/pkg/errors"
)

// The outcome of a single run
type Kind int

const (
	// Every machine completed and no monitor was left in a hot state
	Passed Kind = iota
	// An assertion in actor or monitor code did not hold
	Assertion
	// An actor handler failed: a returned error, a panic or an event that cannot be handled
	UnhandledFault
	// No operation is enabled while some are not completed
	Deadlock
	// Some operation made no progress although the system kept running, or a monitor stayed hot
	Livelock
	// The run reached the step bound, or was canceled, before it ended. Inconclusive
	BoundExceeded
	// A replayed trace did not match the execution. A tooling error, not a bug in the program
	ReplayDivergence
)

var kindNames = map[Kind]string{
	Passed:           "Passed",
	Assertion:        "Assertion",
	UnhandledFault:   "UnhandledFault",
	Deadlock:         "Deadlock",
	Livelock:         "Livelock",
	BoundExceeded:    "BoundExceeded",
	ReplayDivergence: "ReplayDivergence",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Returns true if the kind is a bug in the program under test
func (k Kind) IsBug() bool {
	switch k {
	case Assertion, UnhandledFault, Deadlock, Livelock:
		return true
	default:
		return false
	}
}

// Parse the name of a kind as written in trace files
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return Passed, errors.Errorf("checking: unknown kind %q", name)
}

// A bug found during a run, together with the trace that reproduces it
type BugReport struct {
	Kind    Kind
	Message string
	// The machine that was running when the bug was detected. Empty for global bugs such as deadlocks
	Machine string
	Trace   *trace.Trace
}

func (b *BugReport) Error() string {
	if b.Machine == "" {
		return fmt.Sprintf("%v: %v", b.Kind, b.Message)
	}
	return fmt.Sprintf("%v in %v: %v", b.Kind, b.Machine, b.Message)
}

// The result of one run of the program under test
type RunResult struct {
	Kind Kind
	// Set when Kind is a bug, or when a bound is treated as one
	Bug *BugReport
	// Number of decisions taken during the run
	Steps int
	// The frozen trace of the run. nil if the run was canceled
	Trace *trace.Trace
	// True if the run was stopped by context cancellation
	Canceled bool
	// An error inside the engine itself. The session can not continue
	Err error
}

// CheckerResponse is a response returned after checking a program
//
// Contains the result of checking the system.
type CheckerResponse interface {
	// Create a response.
	//
	// Returns a boolean that is true if no bug was found, false otherwise.
	// Returns a string describing the response.
	// This includes a description of the bug and the run which caused it.
	Response() (bool, string)

	// Export the run which caused the bug
	//
	// If a bug was found it will return the steps of the run that reproduces it.
	// Otherwise it will return an empty slice.
	Export() []trace.Step
}
