package simulator

import (
	"context"

	"gosct/checking"
	"gosct/strategy"
	"gosct/trace"

	"go.uber.org/zap"
)

// Shrinks the trace of a bug by re-executing the program along shorter prefixes of it.
//
// Every attempt follows a prefix of the current best trace and then always takes the first option.
// An attempt is kept if it reproduces a bug of the same kind with a shorter trace,
// or an equally long trace with smaller decisions.
// Minimization stops after maxAttempts consecutive unsuccessful attempts, or when no prefix improves the trace.
type Minimizer struct {
	sim         *Simulator
	maxAttempts int
}

func NewMinimizer(sim *Simulator, maxAttempts int) *Minimizer {
	return &Minimizer{
		sim:         sim,
		maxAttempts: maxAttempts,
	}
}

// Returns the smallest reproducing bug found. Returns report if no attempt improved it
func (m *Minimizer) Minimize(ctx context.Context, report *checking.BugReport) *checking.BugReport {
	if report == nil || report.Trace == nil {
		return report
	}
	best := report
	failures := 0
	i := best.Trace.Len() - 1
	for i >= 0 && failures < m.maxAttempts && ctx.Err() == nil {
		candidate := m.attempt(ctx, best.Kind, best.Trace.Steps[:i])
		if candidate != nil && smaller(candidate.Trace, best.Trace) {
			m.sim.log.Debug("Shrunk trace", zap.Int("from", best.Trace.Len()), zap.Int("to", candidate.Trace.Len()))
			best = candidate
			failures = 0
			i = best.Trace.Len() - 1
			continue
		}
		failures++
		i--
	}
	return best
}

// Execute a run guided by prefix. Returns the bug if the run reproduced a bug of the same kind
func (m *Minimizer) attempt(ctx context.Context, kind checking.Kind, prefix []trace.Step) *checking.BugReport {
	guided := strategy.NewGuided(prefix, strategy.FirstOption())
	rs := guided.GetRunStrategy()
	if err := rs.StartRun(); err != nil {
		return nil
	}
	res := m.sim.execute(ctx, rs, guided.Description())
	rs.EndRun(strategy.RunInfo{Steps: res.Steps})
	if res.Err != nil || res.Bug == nil || res.Bug.Kind != kind {
		return nil
	}
	return res.Bug
}

// Returns true if a is shorter than b, or as long as b with lexicographically smaller decisions
func smaller(a, b *trace.Trace) bool {
	if a.Len() != b.Len() {
		return a.Len() < b.Len()
	}
	for i := range a.Steps {
		if a.Steps[i].Chosen != b.Steps[i].Chosen {
			return a.Steps[i].Chosen < b.Steps[i].Chosen
		}
	}
	return false
}
