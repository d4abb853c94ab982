package checking

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"gosct/trace"
)

// The state of a testing session
type SearchState int

const (
	Idle SearchState = iota
	Running
	// A bug was found
	BugFound
	// Every schedule has been explored
	ExhaustedSearch
	// The iteration or time budget ran out before the search was exhausted
	BudgetReached
	// A replayed trace did not match the program
	Diverged
)

func (s SearchState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case BugFound:
		return "BugFound"
	case ExhaustedSearch:
		return "ExhaustedSearch"
	case BudgetReached:
		return "BudgetReached"
	case Diverged:
		return "Diverged"
	default:
		return fmt.Sprintf("SearchState(%d)", int(s))
	}
}

// The result of a testing session
type Summary struct {
	State SearchState
	// The kind of the reported bug. Passed if no bug was found and every run passed
	Kind       Kind
	Iterations int
	// Number of runs that found a bug
	Bugs int
	// Number of runs that hit the step bound
	BoundExceeded int
	// The first bug found, minimized when minimization is enabled
	Bug *BugReport
	// Number of distinct decision sequences explored
	DistinctSchedules int
	Elapsed           time.Duration
}

var _ CheckerResponse = Summary{}

// Generate a response
// Returns two parameters, result, and description.
// Result is true if no bug was found and the replayed trace, if any, did not diverge.
// If result is false the description contains the trace that reproduces the bug
func (s Summary) Response() (bool, string) {
	if s.Bug == nil {
		if s.Kind == ReplayDivergence {
			return false, fmt.Sprintf("Replay diverged after %d iterations. The program no longer follows the recorded trace", s.Iterations)
		}
		return true, fmt.Sprintf("No bug found. %v after %d iterations (%d distinct schedules, %d bounded) in %v",
			s.State, s.Iterations, s.DistinctSchedules, s.BoundExceeded, s.Elapsed)
	}
	var buffer bytes.Buffer
	wrt := tabwriter.NewWriter(&buffer, 4, 4, 0, ' ', 0)
	out := fmt.Sprintf("%v after %d iterations. Trace: \n", s.Bug.Error(), s.Iterations)
	if s.Bug.Trace != nil {
		for _, step := range s.Bug.Trace.Steps {
			fmt.Fprintf(wrt, "-> %d\t%v\t%d\t%v \n", step.Index, step.Kind, step.Chosen, step.Alternatives)
		}
	}
	wrt.Flush()
	out += buffer.String()
	return false, out
}

// Export the steps of the run that reproduces the bug, to be replayed by the Replay strategy
func (s Summary) Export() []trace.Step {
	if s.Bug == nil || s.Bug.Trace == nil {
		return []trace.Step{}
	}
	return s.Bug.Trace.Steps
}
