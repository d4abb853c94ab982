package strategy

import (
	"sync"

	"gosct/trace"

	"github.com/pkg/errors"
)

// Replays a recorded trace exactly once.
//
// Every decision must be of the recorded kind and offer the recorded set of options,
// otherwise the run has diverged from the trace.
type Replay struct {
	mu   sync.Mutex
	t    *trace.Trace
	done bool
}

func NewReplay(t *trace.Trace) *Replay {
	return &Replay{t: t}
}

func (r *Replay) GetRunStrategy() RunStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return &runReplay{}
	}
	r.done = true
	return &runReplay{t: r.t}
}

func (r *Replay) Description() string {
	return "replay"
}

type runReplay struct {
	// The trace to be replayed. nil once it has been replayed
	t *trace.Trace
	// The index of the next step
	index int
}

func (rr *runReplay) StartRun() error {
	if rr.t == nil {
		return ErrNoRuns
	}
	rr.index = 0
	return nil
}

func (rr *runReplay) Next(kind trace.Kind, options []uint64) (uint64, error) {
	if rr.index >= len(rr.t.Steps) {
		return 0, errors.Wrapf(ErrReplayDivergence, "decision %d is past the end of the trace", rr.index)
	}
	s := rr.t.Steps[rr.index]
	if s.Kind != kind {
		return 0, errors.Wrapf(ErrReplayDivergence, "decision %d: expected a %v decision, got a %v decision", rr.index, s.Kind, kind)
	}
	if !s.SameOptions(options) {
		return 0, errors.Wrapf(ErrReplayDivergence, "decision %d: recorded options %v, available %v", rr.index, s.Available(), options)
	}
	rr.index++
	return s.Chosen, nil
}

// Finish the run. The trace is only replayed once
func (rr *runReplay) EndRun(RunInfo) {
	rr.index = 0
	rr.t = nil
}

func (rr *runReplay) Seed() int64 {
	if rr.t == nil {
		return 0
	}
	return rr.t.Seed
}
