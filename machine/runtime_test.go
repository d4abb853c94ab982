package machine

import (
	"context"
	"errors"
	"testing"

	"gosct/checking"
	"gosct/event"
	"gosct/scheduler"
	"gosct/strategy"
	"gosct/trace"

	"github.com/stretchr/testify/require"
)

func runWith(t *testing.T, rs strategy.RunStrategy, opts Options, entry func(rt *Runtime)) (checking.RunResult, *Runtime) {
	require.NoError(t, rs.StartRun())
	sch := scheduler.New(rs, trace.New("test", "test", 0), scheduler.Options{MaxSteps: 1000})
	rt := NewRuntime(sch, opts)
	res := rt.Run(context.Background(), entry)
	rs.EndRun(strategy.RunInfo{Steps: res.Steps})
	require.NoError(t, res.Err)
	return res, rt
}

func run(t *testing.T, opts Options, entry func(rt *Runtime)) (checking.RunResult, *Runtime) {
	return runWith(t, strategy.FirstOption().GetRunStrategy(), opts, entry)
}

// A machine with a single state whose entry action is the given action
func single(name string, entry Action, handlers map[event.Type]Handler) *Definition {
	return &Definition{
		Name:  name,
		Start: "Init",
		States: map[StateTag]*State{
			"Init": {OnEntry: entry, Handlers: handlers},
		},
	}
}

func halt(ctx *Context) error {
	ctx.Halt()
	return nil
}

type counter struct {
	n int
}

func pingPong(rounds int) (*Definition, *Definition) {
	ponger := single("Ponger", nil, map[event.Type]Handler{
		"Ping": {Do: func(ctx *Context) error {
			ctx.Send(ctx.Payload().(Id), event.New("Pong", nil))
			return nil
		}},
		"Stop": {Do: halt},
	})
	pinger := &Definition{
		Name:  "Pinger",
		Start: "Init",
		Data:  func() any { return &counter{} },
		States: map[StateTag]*State{
			"Init": {
				OnEntry: func(ctx *Context) error {
					ctx.Send(ctx.Payload().(Id), event.New("Ping", ctx.Self()))
					return nil
				},
				Handlers: map[event.Type]Handler{
					"Pong": {Do: func(ctx *Context) error {
						c := DataOf[*counter](ctx)
						c.n++
						peer := Id(2)
						if c.n == rounds {
							ctx.Send(peer, event.New("Stop", nil))
							ctx.Halt()
							return nil
						}
						ctx.Send(peer, event.New("Ping", ctx.Self()))
						return nil
					}},
				},
			},
		},
	}
	return pinger, ponger
}

func TestPingPongPasses(t *testing.T) {
	pinger, ponger := pingPong(3)
	for seed := int64(0); seed < 10; seed++ {
		res, rt := runWith(t, strategy.NewRandom(seed).GetRunStrategy(), Options{}, func(rt *Runtime) {
			rt.Create(pinger, Id(2))
			rt.Create(ponger, nil)
		})
		require.Equal(t, checking.Passed, res.Kind, "seed %d: %v", seed, res.Bug)
		require.True(t, rt.Halted(1))
		require.True(t, rt.Halted(2))
		require.Equal(t, []Id{1, 2}, rt.Machines())
	}
}

func TestRaiseBeforeMailbox(t *testing.T) {
	order := []string{}
	def := single("M", func(ctx *Context) error {
		ctx.Send(ctx.Self(), event.New("A", nil))
		ctx.Raise(event.New("B", nil))
		return nil
	}, map[event.Type]Handler{
		"A": {Do: func(ctx *Context) error {
			order = append(order, "A")
			ctx.Halt()
			return nil
		}},
		"B": {Do: func(ctx *Context) error {
			order = append(order, "B")
			return nil
		}},
	})
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Passed, res.Kind)
	require.Equal(t, []string{"B", "A"}, order)
}

func TestGotoRunsExitAndEntry(t *testing.T) {
	order := []string{}
	log := func(s string) Action {
		return func(ctx *Context) error {
			order = append(order, s)
			return nil
		}
	}
	def := &Definition{
		Name:  "M",
		Start: "S1",
		States: map[StateTag]*State{
			"S1": {
				OnEntry: func(ctx *Context) error {
					ctx.Raise(event.New("Go", nil))
					return nil
				},
				OnExit:   log("exit S1"),
				Handlers: map[event.Type]Handler{"Go": {Do: log("do"), Goto: "S2"}},
			},
			"S2": {
				OnEntry: func(ctx *Context) error {
					order = append(order, "enter "+string(ctx.State()))
					ctx.Halt()
					return nil
				},
			},
		},
	}
	res, rt := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Passed, res.Kind)
	require.Equal(t, []string{"do", "exit S1", "enter S2"}, order)
	state, ok := rt.StateOf(1)
	require.True(t, ok)
	require.Equal(t, StateTag("S2"), state)
}

func TestDeferredEvents(t *testing.T) {
	order := []event.Type{}
	record := func(ctx *Context) error {
		order = append(order, ctx.Event().Type)
		return nil
	}
	def := &Definition{
		Name:  "M",
		Start: "Waiting",
		States: map[StateTag]*State{
			"Waiting": {
				OnEntry: func(ctx *Context) error {
					ctx.Send(ctx.Self(), event.New("X", nil))
					ctx.Send(ctx.Self(), event.New("Y", nil))
					return nil
				},
				Defer:    []event.Type{"X"},
				Handlers: map[event.Type]Handler{"Y": {Do: record, Goto: "Ready"}},
			},
			"Ready": {
				Handlers: map[event.Type]Handler{"X": {Do: func(ctx *Context) error {
					record(ctx)
					ctx.Halt()
					return nil
				}}},
			},
		},
	}
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Passed, res.Kind)
	require.Equal(t, []event.Type{"Y", "X"}, order)
}

func TestIgnoredEvents(t *testing.T) {
	def := &Definition{
		Name:  "M",
		Start: "Init",
		States: map[StateTag]*State{
			"Init": {
				OnEntry: func(ctx *Context) error {
					ctx.Send(ctx.Self(), event.New("Z", nil))
					ctx.Send(ctx.Self(), event.New(event.Halt, nil))
					return nil
				},
				Ignore: []event.Type{"Z"},
			},
		},
	}
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Passed, res.Kind)
}

func TestUnhandledEvent(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.Send(ctx.Self(), event.New("Z", nil))
		return nil
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.UnhandledFault, res.Kind)
	require.Contains(t, res.Bug.Message, "cannot handle event Z")
	require.Equal(t, "M(1)", res.Bug.Machine)
}

func TestActionError(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		return errors.New("disk on fire")
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.UnhandledFault, res.Kind)
	require.Contains(t, res.Bug.Message, "disk on fire")
}

func TestActionPanics(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		var m map[string]int
		m["boom"]++
		return nil
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.UnhandledFault, res.Kind)
	require.Contains(t, res.Bug.Message, "Stack Trace")
}

func TestAssertPayload(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.Assert(ctx.Payload() == 100, "payload must be 100, got %v", ctx.Payload())
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, 99) })
	require.Equal(t, checking.Assertion, res.Kind)
	require.Equal(t, "payload must be 100, got 99", res.Bug.Message)

	res, _ = run(t, Options{}, func(rt *Runtime) { rt.Create(def, 100) })
	require.Equal(t, checking.Passed, res.Kind)
}

func TestInvalidDefinition(t *testing.T) {
	def := &Definition{Name: "M", Start: "Missing"}
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.UnhandledFault, res.Kind)
	require.Contains(t, res.Bug.Message, "no start state")
}

func TestGotoUnknownState(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.Goto("Nowhere")
		return nil
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.UnhandledFault, res.Kind)
}

func TestMaxInstances(t *testing.T) {
	receiver := single("Receiver", nil, map[event.Type]Handler{"E": {}})
	sender := single("Sender", func(ctx *Context) error {
		ctx.Send(2, event.New("E", nil))
		ctx.Send(2, event.New("E", nil))
		ctx.Halt()
		return nil
	}, nil)
	opts := Options{MaxInstances: map[event.Type]int{"E": 1}}
	res, _ := run(t, opts, func(rt *Runtime) {
		rt.Create(sender, nil)
		rt.Create(receiver, nil)
	})
	require.Equal(t, checking.Assertion, res.Kind)
	require.Contains(t, res.Bug.Message, "more than 1 instances of E")
}

func TestBoundedMailboxBlocksSender(t *testing.T) {
	received := []any{}
	receiver := &Definition{
		Name:  "Receiver",
		Start: "Init",
		States: map[StateTag]*State{
			"Init": {Handlers: map[event.Type]Handler{"E": {Do: func(ctx *Context) error {
				received = append(received, ctx.Payload())
				if len(received) == 3 {
					ctx.Halt()
				}
				return nil
			}}}},
		},
	}
	sender := single("Sender", func(ctx *Context) error {
		for i := 0; i < 3; i++ {
			ctx.Send(2, event.New("E", i))
		}
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{MailboxCapacity: 1}, func(rt *Runtime) {
		rt.Create(sender, nil)
		rt.Create(receiver, nil)
	})
	require.Equal(t, checking.Passed, res.Kind)
	require.Equal(t, []any{0, 1, 2}, received)

	// The sender had to wait for the receiver: some decision only offered the receiver while the sender was not done
	waited := false
	for _, s := range res.Trace.Steps[:len(res.Trace.Steps)-1] {
		if s.Kind == trace.MachineChoice && s.Chosen == 2 && len(s.Alternatives) == 0 {
			waited = true
		}
	}
	require.True(t, waited)
}

func TestSendToHaltedIsDropped(t *testing.T) {
	a := single("A", halt, nil)
	b := single("B", func(ctx *Context) error {
		ctx.Send(1, event.New("Late", nil))
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) {
		rt.Create(a, nil)
		rt.Create(b, nil)
	})
	require.Equal(t, checking.Passed, res.Kind)
}

func TestCreateFromMachine(t *testing.T) {
	child := single("Child", func(ctx *Context) error {
		ctx.Send(ctx.Payload().(Id), event.New("Hello", ctx.Self()))
		ctx.Halt()
		return nil
	}, nil)
	var got any
	parent := single("Parent", func(ctx *Context) error {
		ctx.Create(child, ctx.Self())
		return nil
	}, map[event.Type]Handler{"Hello": {Do: func(ctx *Context) error {
		got = ctx.Payload()
		ctx.Halt()
		return nil
	}}})
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(parent, nil) })
	require.Equal(t, checking.Passed, res.Kind)
	require.Equal(t, Id(2), got)
}

func TestDeadlockBetweenMachines(t *testing.T) {
	waiter := single("Waiter", nil, map[event.Type]Handler{"Ping": {Do: halt}})
	res, _ := run(t, Options{}, func(rt *Runtime) {
		rt.Create(waiter, nil)
		rt.Create(waiter, nil)
	})
	require.Equal(t, checking.Deadlock, res.Kind)
}

func TestRandomChoicesAreRecorded(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.RandomBool()
		ctx.RandomInt(4)
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Passed, res.Kind)
	kinds := []trace.Kind{}
	for _, s := range res.Trace.Steps {
		kinds = append(kinds, s.Kind)
	}
	require.Equal(t, []trace.Kind{trace.MachineChoice, trace.BooleanChoice, trace.IntegerChoice}, kinds)
}

func progressMonitor() *Definition {
	return &Definition{
		Name:  "Progress",
		Start: "Idle",
		States: map[StateTag]*State{
			"Idle":    {Cold: true, Handlers: map[event.Type]Handler{"Req": {Goto: "Waiting"}}},
			"Waiting": {Hot: true, Handlers: map[event.Type]Handler{"Resp": {Goto: "Idle"}}},
		},
	}
}

func TestMonitorHotAtEnd(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.Monitor(event.New("Req", nil))
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{Monitors: []*Definition{progressMonitor()}}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Livelock, res.Kind)
	require.Contains(t, res.Bug.Message, "Progress")
}

func TestMonitorCold(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.Monitor(event.New("Req", nil))
		ctx.Monitor(event.New("Other", nil))
		ctx.Monitor(event.New("Resp", nil))
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{Monitors: []*Definition{progressMonitor()}}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Passed, res.Kind)
}

func TestMonitorTemperature(t *testing.T) {
	def := single("M", func(ctx *Context) error {
		ctx.Monitor(event.New("Req", nil))
		ctx.Send(ctx.Self(), event.New("Tick", nil))
		return nil
	}, map[event.Type]Handler{"Tick": {Do: func(ctx *Context) error {
		ctx.Send(ctx.Self(), event.New("Tick", nil))
		return nil
	}}})
	opts := Options{Monitors: []*Definition{progressMonitor()}, TemperatureThreshold: 20}
	res, _ := run(t, opts, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Livelock, res.Kind)
	require.Contains(t, res.Bug.Message, "more than 20 decisions")
}

func TestMonitorAssert(t *testing.T) {
	mon := single("Safety", nil, map[event.Type]Handler{"Value": {Do: func(ctx *Context) error {
		ctx.Assert(ctx.Payload().(int) < 10, "value %v is too large", ctx.Payload())
		return nil
	}}})
	def := single("M", func(ctx *Context) error {
		ctx.Monitor(event.New("Value", 12))
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{Monitors: []*Definition{mon}}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.Assertion, res.Kind)
	require.Equal(t, "Safety", res.Bug.Machine)
}

func TestMonitorCannotSend(t *testing.T) {
	mon := single("Chatty", nil, map[event.Type]Handler{"Value": {Do: func(ctx *Context) error {
		ctx.Send(1, event.New("Value", nil))
		return nil
	}}})
	def := single("M", func(ctx *Context) error {
		ctx.Monitor(event.New("Value", nil))
		ctx.Halt()
		return nil
	}, nil)
	res, _ := run(t, Options{Monitors: []*Definition{mon}}, func(rt *Runtime) { rt.Create(def, nil) })
	require.Equal(t, checking.UnhandledFault, res.Kind)
	require.Contains(t, res.Bug.Message, "can not call Send")
}

func TestFingerprint(t *testing.T) {
	pinger, ponger := pingPong(1)
	_, rt := run(t, Options{}, func(rt *Runtime) {
		rt.Create(pinger, Id(2))
		rt.Create(ponger, nil)
	})
	require.Equal(t, rt.Fingerprint(), rt.Fingerprint())
	rt.machines[1].state = "Other"
	first := rt.Fingerprint()
	rt.machines[1].state = "Init"
	require.NotEqual(t, first, rt.Fingerprint())
}

func TestFingerprintCoversDataAndPayloads(t *testing.T) {
	def := single("Counter", nil, nil)
	def.Data = func() any { return &counter{} }
	_, rt := run(t, Options{}, func(rt *Runtime) { rt.Create(def, nil) })
	m := rt.machines[1]

	before := rt.Fingerprint()
	m.data.(*counter).n++
	require.NotEqual(t, before, rt.Fingerprint())

	m.inbox = append(m.inbox, event.New("Tick", 1))
	first := rt.Fingerprint()
	m.inbox[0] = event.New("Tick", 2)
	require.NotEqual(t, first, rt.Fingerprint())
}
