package scheduler

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// The scheduling status of an operation
type Status int

const (
	// The operation can be given control
	Enabled Status = iota
	// The machine waits for an event it can dequeue
	BlockedOnReceive
	// The machine waits for room in a bounded mailbox
	BlockedOnSend
	// The machine has halted. Terminal
	Completed
)

func (s Status) String() string {
	switch s {
	case Enabled:
		return "Enabled"
	case BlockedOnReceive:
		return "BlockedOnReceive"
	case BlockedOnSend:
		return "BlockedOnSend"
	case Completed:
		return "Completed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// The schedulable unit backing one machine.
// Only the goroutine that currently holds control of the run reads or writes its status.
type Operation struct {
	Id     uint64
	status Status
	// Number of times the operation was given control
	steps int
	grant chan struct{}
}

func newOperation(id uint64) *Operation {
	return &Operation{
		Id:     id,
		status: Enabled,
		grant:  make(chan struct{}, 1),
	}
}

func (o *Operation) Status() Status {
	return o.status
}

func (o *Operation) Steps() int {
	return o.steps
}

func (o *Operation) String() string {
	return fmt.Sprintf("op(%d, %v)", o.Id, o.status)
}

// Tracks the operations of a run in the order they were registered
type Registry struct {
	ops   map[uint64]*Operation
	order []uint64
}

func NewRegistry() *Registry {
	return &Registry{
		ops:   map[uint64]*Operation{},
		order: []uint64{},
	}
}

// Register a new enabled operation.
// Registering an existing id returns the existing operation unchanged.
func (r *Registry) Register(id uint64) *Operation {
	if op, ok := r.ops[id]; ok {
		return op
	}
	op := newOperation(id)
	r.ops[id] = op
	r.order = append(r.order, id)
	return op
}

func (r *Registry) Get(id uint64) (*Operation, bool) {
	op, ok := r.ops[id]
	return op, ok
}

// Returns the status of the operation and false if it is unknown
func (r *Registry) Status(id uint64) (Status, bool) {
	op, ok := r.ops[id]
	if !ok {
		return Completed, false
	}
	return op.status, true
}

func (r *Registry) set(id uint64, status Status) bool {
	op, ok := r.ops[id]
	if !ok {
		return false
	}
	if op.status != Completed {
		op.status = status
	}
	return true
}

// Mark the operation as blocked. Has no effect on a completed operation.
// Returns false if the operation is unknown
func (r *Registry) MarkBlocked(id uint64, status Status) bool {
	if status != BlockedOnReceive && status != BlockedOnSend {
		panic(fmt.Sprintf("scheduler: %v is not a blocked status", status))
	}
	return r.set(id, status)
}

// Mark the operation as enabled. Has no effect on a completed operation.
// Returns false if the operation is unknown
func (r *Registry) MarkEnabled(id uint64) bool {
	return r.set(id, Enabled)
}

// Mark the operation as completed.
// Returns false if the operation is unknown
func (r *Registry) MarkCompleted(id uint64) bool {
	return r.set(id, Completed)
}

func (r *Registry) filter(keep func(Status) bool) []uint64 {
	ids := []uint64{}
	for _, id := range r.order {
		if keep(r.ops[id].status) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Returns the enabled operations in registration order
func (r *Registry) Enabled() []uint64 {
	return r.filter(func(s Status) bool { return s == Enabled })
}

// Returns the blocked operations in registration order
func (r *Registry) Blocked() []uint64 {
	return r.filter(func(s Status) bool { return s == BlockedOnReceive || s == BlockedOnSend })
}

// Returns true if every registered operation has completed
func (r *Registry) AllCompleted() bool {
	for _, op := range r.ops {
		if op.status != Completed {
			return false
		}
	}
	return true
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Returns the ids of every registered operation in registration order
func (r *Registry) Ids() []uint64 {
	return slices.Clone(r.order)
}
