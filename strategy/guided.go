package strategy

import (
	"gosct/trace"

	"golang.org/x/exp/slices"
)

// A strategy that initially follows a provided prefix before it hands the run over to another strategy.
//
// Unlike Replay it is lenient: on the first decision that does not match the prefix,
// or when the prefix is exhausted, the fallback takes every remaining decision.
type Guided struct {
	prefix   []trace.Step
	fallback Strategy
}

// Create a new Guided strategy
//
// prefix is the sequence of decisions that will be followed before the fallback takes over.
func NewGuided(prefix []trace.Step, fallback Strategy) *Guided {
	return &Guided{
		prefix:   prefix,
		fallback: fallback,
	}
}

func (g *Guided) GetRunStrategy() RunStrategy {
	return &runGuided{
		prefix:   g.prefix,
		fallback: g.fallback.GetRunStrategy(),
	}
}

func (g *Guided) Description() string {
	return "guided(" + g.fallback.Description() + ")"
}

type runGuided struct {
	prefix    []trace.Step
	fallback  RunStrategy
	index     int
	useGuided bool
}

func (rg *runGuided) StartRun() error {
	rg.index = 0
	rg.useGuided = true
	return rg.fallback.StartRun()
}

func (rg *runGuided) Next(kind trace.Kind, options []uint64) (uint64, error) {
	if rg.useGuided && rg.index < len(rg.prefix) {
		s := rg.prefix[rg.index]
		if s.Kind == kind && slices.Contains(options, s.Chosen) {
			rg.index++
			return s.Chosen, nil
		}
	}
	rg.useGuided = false
	return rg.fallback.Next(kind, options)
}

func (rg *runGuided) EndRun(info RunInfo) {
	rg.fallback.EndRun(info)
}

// A deterministic strategy that always takes the first option.
// It never runs out of runs.
func FirstOption() Strategy {
	return firstOption{}
}

type firstOption struct{}

func (firstOption) GetRunStrategy() RunStrategy {
	return firstOption{}
}

func (firstOption) Description() string {
	return "first-option"
}

func (firstOption) StartRun() error {
	return nil
}

func (firstOption) Next(_ trace.Kind, options []uint64) (uint64, error) {
	if len(options) == 0 {
		return 0, ErrNoOptions
	}
	return options[0], nil
}

func (firstOption) EndRun(RunInfo) {}
