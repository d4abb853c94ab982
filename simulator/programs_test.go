package simulator

import (
	"gosct/event"
	"gosct/machine"
)

// Programs used by the tests of this package

type register struct {
	writes []machine.Id
}

// A register receives a write from two writers. The program fails if the second writer writes first
func racer() machine.Program {
	reg := &machine.Definition{
		Name:  "Register",
		Start: "Init",
		Data:  func() any { return &register{} },
		States: map[machine.StateTag]*machine.State{
			"Init": {Handlers: map[event.Type]machine.Handler{
				"Write": {Do: func(ctx *machine.Context) error {
					r := machine.DataOf[*register](ctx)
					r.writes = append(r.writes, ctx.Payload().(machine.Id))
					if len(r.writes) == 2 {
						ctx.Assert(r.writes[0] == 2, "the first write came from %v", r.writes[0])
						ctx.Halt()
					}
					return nil
				}},
			}},
		},
	}
	writer := entryOnly("Writer", func(ctx *machine.Context) error {
		ctx.Send(ctx.Payload().(machine.Id), event.New("Write", ctx.Self()))
		ctx.Halt()
		return nil
	})
	return machine.Program{
		Name: "racer",
		Entry: func(rt *machine.Runtime) {
			r := rt.Create(reg, nil)
			rt.Create(writer, r)
			rt.Create(writer, r)
		},
	}
}

func entryOnly(name string, entry machine.Action) *machine.Definition {
	return &machine.Definition{
		Name:  name,
		Start: "Init",
		States: map[machine.StateTag]*machine.State{
			"Init": {OnEntry: entry},
		},
	}
}

// Each of the n machines makes the given number of boolean choices and halts
func chooser(n, choices int) machine.Program {
	def := entryOnly("Chooser", func(ctx *machine.Context) error {
		for i := 0; i < choices; i++ {
			ctx.RandomBool()
		}
		ctx.Halt()
		return nil
	})
	return machine.Program{
		Name: "chooser",
		Entry: func(rt *machine.Runtime) {
			for i := 0; i < n; i++ {
				rt.Create(def, nil)
			}
		},
	}
}

// Two machines that wait for each other without ever sending anything
func waiters() machine.Program {
	def := &machine.Definition{
		Name:  "Waiter",
		Start: "Init",
		States: map[machine.StateTag]*machine.State{
			"Init": {Handlers: map[event.Type]machine.Handler{
				"Go": {Do: func(ctx *machine.Context) error {
					ctx.Halt()
					return nil
				}},
			}},
		},
	}
	return machine.Program{
		Name: "waiters",
		Entry: func(rt *machine.Runtime) {
			rt.Create(def, nil)
			rt.Create(def, nil)
		},
	}
}

// A waiter that never gets its message while two machines exchange messages forever
func livelock() machine.Program {
	waiter := waiters().Entry
	bouncer := &machine.Definition{
		Name:  "Bouncer",
		Start: "Init",
		States: map[machine.StateTag]*machine.State{
			"Init": {
				OnEntry: func(ctx *machine.Context) error {
					if peer, ok := ctx.Payload().(machine.Id); ok {
						ctx.Send(peer, event.New("Ball", ctx.Self()))
					}
					return nil
				},
				Handlers: map[event.Type]machine.Handler{
					"Ball": {Do: func(ctx *machine.Context) error {
						ctx.Send(ctx.Payload().(machine.Id), event.New("Ball", ctx.Self()))
						return nil
					}},
				},
			},
		},
	}
	return machine.Program{
		Name: "livelock",
		Entry: func(rt *machine.Runtime) {
			// Creates the waiters 1 and 2
			waiter(rt)
			first := rt.Create(bouncer, nil)
			rt.Create(bouncer, first)
		},
	}
}

type counting struct {
	count int
	early bool
}

// A bug that needs exactly one change of priority between two machines.
// A ticks three times after greeting B. The program fails if B answers while A is ticking.
func ticker() machine.Program {
	b := entryOnly("B", nil)
	b.States["Init"].Handlers = map[event.Type]machine.Handler{
		"Hello": {Do: func(ctx *machine.Context) error {
			ctx.Send(ctx.Payload().(machine.Id), event.New("Done", nil))
			ctx.Halt()
			return nil
		}},
	}
	a := &machine.Definition{
		Name:  "A",
		Start: "Init",
		Data:  func() any { return &counting{} },
		States: map[machine.StateTag]*machine.State{
			"Init": {
				OnEntry: func(ctx *machine.Context) error {
					ctx.Send(ctx.Payload().(machine.Id), event.New("Hello", ctx.Self()))
					ctx.Send(ctx.Self(), event.New("Tick", nil))
					ctx.Goto("Ticking")
					return nil
				},
			},
			"Ticking": {
				Handlers: map[event.Type]machine.Handler{
					"Tick": {Do: func(ctx *machine.Context) error {
						c := machine.DataOf[*counting](ctx)
						c.count++
						if c.count < 3 {
							ctx.Send(ctx.Self(), event.New("Tick", nil))
						} else {
							ctx.Goto("Finished")
						}
						return nil
					}},
					"Done": {Do: func(ctx *machine.Context) error {
						c := machine.DataOf[*counting](ctx)
						ctx.Assert(c.count == 0, "done while ticking, count %d", c.count)
						c.early = true
						return nil
					}},
				},
			},
			"Finished": {
				OnEntry: func(ctx *machine.Context) error {
					if machine.DataOf[*counting](ctx).early {
						ctx.Halt()
					}
					return nil
				},
				Handlers: map[event.Type]machine.Handler{
					"Done": {Do: func(ctx *machine.Context) error {
						ctx.Halt()
						return nil
					}},
				},
			},
		},
	}
	return machine.Program{
		Name: "ticker",
		Entry: func(rt *machine.Runtime) {
			id := rt.Create(b, nil)
			rt.Create(a, id)
		},
	}
}

type ticks struct {
	waiter machine.Id
	count  int
}

// A counter ticks n times on its own mailbox while a waiter waits for it to finish.
// Every schedule terminates, however long the waiter starves.
func longCounter(n int) machine.Program {
	waiter := &machine.Definition{
		Name:  "Waiter",
		Start: "Init",
		States: map[machine.StateTag]*machine.State{
			"Init": {Handlers: map[event.Type]machine.Handler{
				"Done": {Do: func(ctx *machine.Context) error {
					ctx.Halt()
					return nil
				}},
			}},
		},
	}
	counter := &machine.Definition{
		Name:  "Counter",
		Start: "Init",
		Data:  func() any { return &ticks{} },
		States: map[machine.StateTag]*machine.State{
			"Init": {
				OnEntry: func(ctx *machine.Context) error {
					machine.DataOf[*ticks](ctx).waiter = ctx.Payload().(machine.Id)
					ctx.Send(ctx.Self(), event.New("Tick", 1))
					return nil
				},
				Handlers: map[event.Type]machine.Handler{
					"Tick": {Do: func(ctx *machine.Context) error {
						c := machine.DataOf[*ticks](ctx)
						c.count = ctx.Payload().(int)
						if c.count < n {
							ctx.Send(ctx.Self(), event.New("Tick", c.count+1))
							return nil
						}
						ctx.Send(c.waiter, event.New("Done", nil))
						ctx.Halt()
						return nil
					}},
				},
			},
		},
	}
	return machine.Program{
		Name: "counter",
		Entry: func(rt *machine.Runtime) {
			w := rt.Create(waiter, nil)
			rt.Create(counter, w)
		},
	}
}
