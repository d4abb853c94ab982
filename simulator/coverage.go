package simulator

import (
	"fmt"

	"gosct/trace"
	"gosct/tree"
)

type decision struct {
	kind   trace.Kind
	chosen uint64
	end    bool
}

func (d decision) String() string {
	switch {
	case d.end:
		return "end"
	case d.kind == 0:
		return "root"
	default:
		return fmt.Sprintf("%v:%d", d.kind, d.chosen)
	}
}

// The explored part of the schedule space: a tree of the decision sequences of every finished run.
// Only used by the goroutine running the main loop.
type coverage struct {
	root     tree.Tree[decision]
	distinct int
}

func newCoverage() *coverage {
	return &coverage{
		root: tree.New(decision{}, func(a, b decision) bool { return a == b }),
	}
}

// Add the decisions of a run. Returns true if the schedule was not seen before
func (c *coverage) insert(t *trace.Trace) bool {
	path := make([]decision, 0, t.Len()+1)
	for _, s := range t.Steps {
		path = append(path, decision{kind: s.Kind, chosen: s.Chosen})
	}
	path = append(path, decision{end: true})
	if c.root.Insert(path) {
		c.distinct++
		return true
	}
	return false
}
