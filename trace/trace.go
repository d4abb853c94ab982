package trace

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// The kind of a scheduling decision
type Kind uint8

const (
	// Which enabled machine runs next
	MachineChoice Kind = iota + 1
	// A nondeterministic boolean requested by a machine
	BooleanChoice
	// A nondeterministic integer in [0, max) requested by a machine
	IntegerChoice
)

func (k Kind) String() string {
	switch k {
	case MachineChoice:
		return "machine"
	case BooleanChoice:
		return "boolean"
	case IntegerChoice:
		return "integer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// A single scheduling decision.
// Alternatives holds every value that was available but not chosen.
type Step struct {
	Index        int
	Kind         Kind
	Chosen       uint64
	Alternatives []uint64
}

// Returns every value that was available at the decision, the chosen one first
func (s Step) Available() []uint64 {
	available := make([]uint64, 0, len(s.Alternatives)+1)
	available = append(available, s.Chosen)
	return append(available, s.Alternatives...)
}

// Returns true if options is the same set of values as the ones available at the decision
func (s Step) SameOptions(options []uint64) bool {
	if len(options) != len(s.Alternatives)+1 {
		return false
	}
	for _, v := range s.Available() {
		if !slices.Contains(options, v) {
			return false
		}
	}
	return true
}

func (s Step) Equal(o Step) bool {
	return s.Index == o.Index && s.Kind == o.Kind && s.Chosen == o.Chosen && slices.Equal(s.Alternatives, o.Alternatives)
}

func (s Step) String() string {
	return fmt.Sprintf("#%d %v %d %v", s.Index, s.Kind, s.Chosen, s.Alternatives)
}

// The ordered record of the decisions taken during one run.
//
// A trace is appended to by a single run and frozen once the run ends.
// A frozen trace can be shared between goroutines.
type Trace struct {
	Program  string
	Strategy string
	Seed     int64
	// Name of the bug kind the trace reproduces. Empty if the run passed.
	Bug     string
	Message string
	Steps   []Step

	frozen bool
}

// Create an empty trace for a run of program explored by strategy
func New(program, strategy string, seed int64) *Trace {
	return &Trace{
		Program:  program,
		Strategy: strategy,
		Seed:     seed,
		Steps:    []Step{},
	}
}

// Record a decision. options contains every value that was available, including chosen.
//
// Panics if the trace is frozen.
func (t *Trace) Append(kind Kind, chosen uint64, options []uint64) Step {
	if t.frozen {
		panic("trace: append to a frozen trace")
	}
	alternatives := make([]uint64, 0, len(options))
	for _, o := range options {
		if o != chosen {
			alternatives = append(alternatives, o)
		}
	}
	step := Step{
		Index:        len(t.Steps),
		Kind:         kind,
		Chosen:       chosen,
		Alternatives: alternatives,
	}
	t.Steps = append(t.Steps, step)
	return step
}

func (t *Trace) Len() int {
	return len(t.Steps)
}

// Make the trace immutable
func (t *Trace) Freeze() {
	t.frozen = true
}

func (t *Trace) Frozen() bool {
	return t.frozen
}

// Returns a mutable deep copy of the trace
func (t *Trace) Clone() *Trace {
	c := *t
	c.frozen = false
	c.Steps = make([]Step, len(t.Steps))
	for i, s := range t.Steps {
		s.Alternatives = slices.Clone(s.Alternatives)
		c.Steps[i] = s
	}
	return &c
}

// Returns a mutable copy containing the first n steps of the trace.
// The bug annotation is not kept.
func (t *Trace) Prefix(n int) *Trace {
	if n > len(t.Steps) {
		n = len(t.Steps)
	}
	c := t.Clone()
	c.Steps = c.Steps[:n]
	c.Bug = ""
	c.Message = ""
	return c
}

// Returns the chosen value of every step
func (t *Trace) Decisions() []uint64 {
	decisions := make([]uint64, len(t.Steps))
	for i, s := range t.Steps {
		decisions[i] = s.Chosen
	}
	return decisions
}

// Returns true if both traces contain the same decisions
func (t *Trace) Equal(o *Trace) bool {
	if t == nil || o == nil {
		return t == o
	}
	return slices.EqualFunc(t.Steps, o.Steps, func(a, b Step) bool { return a.Equal(b) })
}

func (t *Trace) String() string {
	out := strings.Builder{}
	out.WriteString(fmt.Sprintf("program=%v strategy=%v seed=%d steps=%d", t.Program, t.Strategy, t.Seed, len(t.Steps)))
	if t.Bug != "" {
		out.WriteString(fmt.Sprintf(" bug=%v: %v", t.Bug, t.Message))
	}
	out.WriteString("\n")
	for _, s := range t.Steps {
		out.WriteString(s.String())
		out.WriteString("\n")
	}
	return out.String()
}
