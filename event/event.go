package event

import "fmt"

// Identifies the kind of an event.
// Machines look up their handlers by the type of the event they dequeue.
type Type string

// Halt is handled by the runtime itself.
// A machine that dequeues or raises Halt completes, and events later sent to it are dropped.
const Halt Type = "halt"

// An event is a typed message that is delivered to the mailbox of a machine.
// The payload is opaque to the runtime.
type Event struct {
	Type    Type
	Payload any
}

// Create a new event of the given type carrying payload
func New(t Type, payload any) Event {
	return Event{Type: t, Payload: payload}
}

// Returns true if the event is the Halt event
func (e Event) IsHalt() bool {
	return e.Type == Halt
}

func (e Event) String() string {
	if e.Payload == nil {
		return fmt.Sprintf("{%v}", e.Type)
	}
	return fmt.Sprintf("{%v: %v}", e.Type, e.Payload)
}
