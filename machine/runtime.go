package machine

import (
	"context"
	"fmt"
	"hash/maphash"

	"gosct/checking"
	"gosct/event"
	"gosct/scheduler"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type Options struct {
	// Maximum number of events in a mailbox. A send to a full mailbox blocks. 0 means unbounded
	MailboxCapacity int
	// Maximum number of events of a type that may be queued in one mailbox at the same time.
	// Exceeding it is an Assertion failure
	MaxInstances map[event.Type]int
	// Monitors observing the run
	Monitors []*Definition
	// Number of consecutive decisions a monitor may stay hot. 0 only checks at the end of the run
	TemperatureThreshold int
	Logger               *zap.Logger
}

// Executes the machines of one run on top of a scheduler.
//
// A Runtime and its scheduler are used for a single run.
type Runtime struct {
	sch  *scheduler.Scheduler
	opts Options
	log  *zap.Logger

	machines map[Id]*instance
	order    []Id
	monitors []*instance
	nextId   Id

	seed maphash.Seed
}

type instance struct {
	id      Id
	def     *Definition
	state   StateTag
	data    any
	monitor bool
	halted  bool

	inbox       []event.Event
	raised      *event.Event
	pendingGoto StateTag
	// Machines blocked on sending to this machine's full mailbox
	blockedSenders []Id
	// Consecutive decisions a monitor has been hot
	temperature int

	op *scheduler.Operation
}

func (m *instance) String() string {
	if m.monitor {
		return m.def.Name
	}
	return fmt.Sprintf("%v(%d)", m.def.Name, m.id)
}

func (m *instance) current() *State {
	return m.def.States[m.state]
}

// Returns the index of the first event in the mailbox that is not deferred by the current state, or -1
func (m *instance) next() int {
	deferred := m.current().Defer
	for i, ev := range m.inbox {
		if !slices.Contains(deferred, ev.Type) {
			return i
		}
	}
	return -1
}

func (m *instance) count(t event.Type) int {
	n := 0
	for _, ev := range m.inbox {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newInstance(id Id, def *Definition, monitor bool) *instance {
	m := &instance{
		id:      id,
		def:     def,
		state:   def.Start,
		monitor: monitor,
		inbox:   []event.Event{},
	}
	if def.Data != nil {
		m.data = def.Data()
	}
	return m
}

func NewRuntime(sch *scheduler.Scheduler, opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Runtime{
		sch:      sch,
		opts:     opts,
		log:      log,
		machines: map[Id]*instance{},
		order:    []Id{},
		seed:     maphash.MakeSeed(),
	}
	sch.SetInspector(rt)
	return rt
}

// Execute the run. entry creates the initial machines.
func (rt *Runtime) Run(ctx context.Context, entry func(rt *Runtime)) checking.RunResult {
	return rt.sch.Run(ctx, func() {
		rt.startMonitors()
		entry(rt)
	})
}

// Create a machine from the test entry. The machine starts when it is first scheduled
func (rt *Runtime) Create(def *Definition, payload any) Id {
	return rt.create(nil, def, payload)
}

// Returns the current state of a machine and false if it does not exist
func (rt *Runtime) StateOf(id Id) (StateTag, bool) {
	m, ok := rt.machines[id]
	if !ok {
		return "", false
	}
	return m.state, true
}

// Returns true if the machine has halted
func (rt *Runtime) Halted(id Id) bool {
	m, ok := rt.machines[id]
	return ok && m.halted
}

// Returns the ids of every machine in creation order
func (rt *Runtime) Machines() []Id {
	return slices.Clone(rt.order)
}

func (rt *Runtime) startMonitors() {
	for _, def := range rt.opts.Monitors {
		if err := def.Validate(); err != nil {
			rt.sch.Fail(nil, checking.UnhandledFault, "", err.Error())
		}
		mon := newInstance(0, def, true)
		rt.monitors = append(rt.monitors, mon)
		rt.enter(mon, nil, event.Event{})
	}
}

func (rt *Runtime) create(creator *scheduler.Operation, def *Definition, payload any) Id {
	if err := def.Validate(); err != nil {
		rt.sch.Fail(creator, checking.UnhandledFault, "", err.Error())
	}
	rt.nextId++
	m := newInstance(rt.nextId, def, false)
	m.op = rt.sch.Register(uint64(m.id))
	rt.machines[m.id] = m
	rt.order = append(rt.order, m.id)
	rt.log.Debug("Created machine", zap.Stringer("machine", m))

	rt.sch.Spawn(m.op, func() { rt.loop(m, payload) })
	if creator != nil {
		rt.sch.ScheduleNext(creator)
	}
	return m.id
}

// The goroutine of a machine. Runs from its first turn until it halts
func (rt *Runtime) loop(m *instance, payload any) {
	rt.enter(m, m.op, event.Event{Payload: payload})
	for !m.halted {
		if m.next() < 0 {
			rt.sch.Block(m.op, scheduler.BlockedOnReceive)
		}
		rt.sch.ScheduleNext(m.op)

		i := m.next()
		if i < 0 {
			panic(fmt.Sprintf("machine: %v was scheduled without a dequeuable event", m))
		}
		ev := m.inbox[i]
		m.inbox = slices.Delete(m.inbox, i, i+1)
		rt.releaseSenders(m)
		rt.handle(m, m.op, ev)
	}
	rt.log.Debug("Machine halted", zap.Stringer("machine", m))
	rt.sch.Complete(m.op)
}

// Run the entry action of the start state
func (rt *Runtime) enter(m *instance, op *scheduler.Operation, ev event.Event) {
	rt.runAction(m, op, m.current().OnEntry, ev)
	rt.settle(m, op, ev)
}

func (rt *Runtime) handle(m *instance, op *scheduler.Operation, ev event.Event) {
	rt.dispatch(m, op, ev)
	rt.settle(m, op, ev)
}

func (rt *Runtime) dispatch(m *instance, op *scheduler.Operation, ev event.Event) {
	if ev.IsHalt() {
		rt.halt(m)
		return
	}
	st := m.current()
	h, ok := st.Handlers[ev.Type]
	if !ok {
		if slices.Contains(st.Ignore, ev.Type) {
			return
		}
		rt.sch.Fail(op, checking.UnhandledFault, m.String(), fmt.Sprintf("%v cannot handle event %v in state %v", m, ev.Type, m.state))
	}
	rt.runAction(m, op, h.Do, ev)
	if h.Goto != "" && m.pendingGoto == "" && !m.halted {
		m.pendingGoto = h.Goto
	}
}

// Apply the transition requested by the last action, then handle any raised event.
// Raised events are handled before the mailbox and without a scheduling point.
func (rt *Runtime) settle(m *instance, op *scheduler.Operation, ev event.Event) {
	for !m.halted {
		for m.pendingGoto != "" && !m.halted {
			target := m.pendingGoto
			m.pendingGoto = ""
			rt.runAction(m, op, m.current().OnExit, ev)
			m.state = target
			rt.runAction(m, op, m.current().OnEntry, ev)
		}
		if m.raised == nil || m.halted {
			return
		}
		ev = *m.raised
		m.raised = nil
		rt.dispatch(m, op, ev)
	}
}

func (rt *Runtime) runAction(m *instance, op *scheduler.Operation, a Action, ev event.Event) {
	if a == nil {
		return
	}
	ctx := &Context{rt: rt, m: m, op: op, ev: ev}
	if err := a(ctx); err != nil {
		rt.sch.Fail(op, checking.UnhandledFault, m.String(), fmt.Sprintf("%v failed in state %v: %v", m, m.state, err))
	}
}

func (rt *Runtime) halt(m *instance) {
	m.halted = true
	m.raised = nil
	m.pendingGoto = ""
	m.inbox = nil
	rt.releaseSenders(m)
}

func (rt *Runtime) releaseSenders(m *instance) {
	for _, id := range m.blockedSenders {
		rt.sch.Enable(uint64(id))
	}
	m.blockedSenders = nil
}

func (rt *Runtime) send(from *instance, op *scheduler.Operation, to Id, ev event.Event) {
	target, ok := rt.machines[to]
	if !ok {
		rt.sch.Fail(op, checking.UnhandledFault, from.String(), fmt.Sprintf("%v sent %v to unknown machine %d", from, ev.Type, to))
	}
	for !target.halted && rt.opts.MailboxCapacity > 0 && len(target.inbox) >= rt.opts.MailboxCapacity {
		target.blockedSenders = append(target.blockedSenders, from.id)
		rt.sch.Block(op, scheduler.BlockedOnSend)
		rt.sch.ScheduleNext(op)
	}

	if target.halted {
		rt.log.Debug("Dropped event sent to a halted machine", zap.Stringer("from", from), zap.Stringer("to", target), zap.Stringer("event", ev))
	} else {
		if max, ok := rt.opts.MaxInstances[ev.Type]; ok && target.count(ev.Type) >= max {
			rt.sch.Fail(op, checking.Assertion, from.String(), fmt.Sprintf("there are more than %d instances of %v in the input queue of %v", max, ev.Type, target))
		}
		target.inbox = append(target.inbox, ev)
		if target.op.Status() == scheduler.BlockedOnReceive && target.next() >= 0 {
			rt.sch.Enable(uint64(target.id))
		}
	}
	rt.sch.ScheduleNext(op)
}

// Deliver ev synchronously to every monitor observing its type
func (rt *Runtime) notify(op *scheduler.Operation, ev event.Event) {
	for _, mon := range rt.monitors {
		if mon.def.Observes(ev.Type) {
			rt.handle(mon, op, ev)
		}
	}
}

// Implements scheduler.Inspector
func (rt *Runtime) HotMonitor(final bool) string {
	for _, mon := range rt.monitors {
		if !mon.current().Hot {
			mon.temperature = 0
			continue
		}
		if final {
			return fmt.Sprintf("monitor %v ended the run in hot state %v", mon, mon.state)
		}
		mon.temperature++
		if rt.opts.TemperatureThreshold > 0 && mon.temperature > rt.opts.TemperatureThreshold {
			return fmt.Sprintf("monitor %v stayed in hot state %v for more than %d decisions", mon, mon.state, rt.opts.TemperatureThreshold)
		}
	}
	return ""
}

// Implements scheduler.Inspector.
// The fingerprint covers the state and local data of every machine and monitor and the queued events with their payloads.
// Data and payloads are hashed through their %v rendering.
func (rt *Runtime) Fingerprint() uint64 {
	var h maphash.Hash
	h.SetSeed(rt.seed)
	for _, id := range rt.order {
		m := rt.machines[id]
		fmt.Fprintf(&h, "%d:%v:%t:%v[", id, m.state, m.halted, m.data)
		for _, ev := range m.inbox {
			fmt.Fprintf(&h, "%v=%v,", ev.Type, ev.Payload)
		}
		h.WriteByte(']')
	}
	for _, mon := range rt.monitors {
		fmt.Fprintf(&h, "%v:%v:%v;", mon.def.Name, mon.state, mon.data)
	}
	return h.Sum64()
}
