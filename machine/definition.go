package machine

import (
	"fmt"

	"gosct/event"

	"github.com/pkg/errors"
)

// Identifies a machine within a run. Ids are assigned 1, 2, 3... in creation order
type Id uint64

// Names a state of a machine
type StateTag string

// Code run by a machine. A returned error is an UnhandledFault
type Action func(ctx *Context) error

// What a state does with an event of some type.
// Do runs first, then the machine moves to Goto if it is set.
type Handler struct {
	Do   Action
	Goto StateTag
}

type State struct {
	OnEntry  Action
	OnExit   Action
	Handlers map[event.Type]Handler
	// Events of these types stay in the mailbox while the machine is in this state
	Defer []event.Type
	// Events of these types are dequeued and dropped
	Ignore []event.Type
	// Only used by monitors. A monitor in a hot state waits for something that must eventually happen
	Hot bool
	// Only used by monitors
	Cold bool
}

// Describes a kind of machine: its states and the state it starts in.
// Monitors are described by the same type.
type Definition struct {
	Name   string
	Start  StateTag
	States map[StateTag]*State
	// Creates the local data of a new instance. May be nil
	Data func() any
}

// Verify that the start state and every transition target exist
func (d *Definition) Validate() error {
	if d == nil {
		return errors.New("machine: nil definition")
	}
	if _, ok := d.States[d.Start]; !ok {
		return errors.Errorf("machine: %v has no start state %q", d.Name, d.Start)
	}
	for tag, st := range d.States {
		if st == nil {
			return errors.Errorf("machine: %v state %q is nil", d.Name, tag)
		}
		for t, h := range st.Handlers {
			if h.Goto == "" {
				continue
			}
			if _, ok := d.States[h.Goto]; !ok {
				return errors.Errorf("machine: %v state %q handles %v with a transition to unknown state %q", d.Name, tag, t, h.Goto)
			}
		}
	}
	return nil
}

// Returns true if some state of the definition handles or ignores events of type t
func (d *Definition) Observes(t event.Type) bool {
	for _, st := range d.States {
		if _, ok := st.Handlers[t]; ok {
			return true
		}
		for _, i := range st.Ignore {
			if i == t {
				return true
			}
		}
	}
	return false
}

func (d *Definition) String() string {
	return fmt.Sprintf("%v(start=%v, states=%d)", d.Name, d.Start, len(d.States))
}

// A program under test. Entry creates the initial machines of every run
type Program struct {
	Name  string
	Entry func(rt *Runtime)
}
