package machine

import (
	"fmt"

	"gosct/checking"
	"gosct/event"
	"gosct/scheduler"

	"go.uber.org/zap"
)

// Handed to every action. It is only valid during the action it was passed to.
type Context struct {
	rt *Runtime
	m  *instance
	// The operation whose goroutine runs the action. For monitors this is the machine that notified them
	op *scheduler.Operation
	ev event.Event
}

// The id of the running machine. 0 for monitors
func (c *Context) Self() Id {
	return c.m.id
}

// The payload of the event being handled, or of the creation for the start state's entry action
func (c *Context) Payload() any {
	return c.ev.Payload
}

// The event being handled
func (c *Context) Event() event.Event {
	return c.ev
}

func (c *Context) State() StateTag {
	return c.m.state
}

// The local data created by the definition's Data function
func (c *Context) Data() any {
	return c.m.data
}

// Returns the local data of the machine as a T
func DataOf[T any](c *Context) T {
	return c.m.data.(T)
}

// Create a new machine. A scheduling point
func (c *Context) Create(def *Definition, payload any) Id {
	c.machineOnly("Create")
	return c.rt.create(c.op, def, payload)
}

// Enqueue ev in the mailbox of the machine to. A scheduling point.
// Events sent to halted machines are dropped.
func (c *Context) Send(to Id, ev event.Event) {
	c.machineOnly("Send")
	c.rt.send(c.m, c.op, to, ev)
}

// Handle ev right after the current action, before any event in the mailbox.
// An action may raise at most one event
func (c *Context) Raise(ev event.Event) {
	if c.m.raised != nil {
		c.fail(checking.UnhandledFault, fmt.Sprintf("%v raised %v while %v was pending", c.m, ev.Type, c.m.raised.Type))
	}
	c.m.raised = &ev
}

// Move to state once the current action returns
func (c *Context) Goto(state StateTag) {
	if _, ok := c.m.def.States[state]; !ok {
		c.fail(checking.UnhandledFault, fmt.Sprintf("%v has no state %q", c.m, state))
	}
	c.m.pendingGoto = state
}

// Halt the machine once the current action returns
func (c *Context) Halt() {
	c.machineOnly("Halt")
	c.Raise(event.New(event.Halt, nil))
}

// End the run with an Assertion bug if cond does not hold
func (c *Context) Assert(cond bool, format string, args ...any) {
	if !cond {
		c.fail(checking.Assertion, fmt.Sprintf(format, args...))
	}
}

// A controlled nondeterministic boolean
func (c *Context) RandomBool() bool {
	c.machineOnly("RandomBool")
	return c.rt.sch.ChooseBoolean(c.op)
}

// A controlled nondeterministic integer in [0, max)
func (c *Context) RandomInt(max int) int {
	c.machineOnly("RandomInt")
	return c.rt.sch.ChooseInteger(c.op, max)
}

// Notify the monitors of ev. Monitors handle it synchronously
func (c *Context) Monitor(ev event.Event) {
	c.machineOnly("Monitor")
	c.rt.notify(c.op, ev)
}

func (c *Context) Logger() *zap.Logger {
	return c.rt.log.With(zap.Stringer("machine", c.m), zap.String("state", string(c.m.state)))
}

func (c *Context) fail(kind checking.Kind, msg string) {
	c.rt.sch.Fail(c.op, kind, c.m.String(), msg)
}

func (c *Context) machineOnly(name string) {
	if c.m.monitor {
		c.fail(checking.UnhandledFault, fmt.Sprintf("monitor %v can not call %v", c.m, name))
	}
}
