package strategy

import (
	"sync"

	"gosct/trace"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

type prefix []uint64

// Explores the schedule space by maintaining a stack of unexplored prefixes.
// When a new run is started it follows the prefix and begins exploring from there,
// adding new prefixes for every option it did not take.
//
// Every schedule is explored exactly once, also when several workers share the DFS.
type DFS struct {
	// unexplored prefixes
	r []prefix

	// Used to wait for a change in d.ongoing or d.r. The condition is len(d.r) == 0 and d.ongoing > 0
	cond *sync.Cond

	// Number of run strategies currently exploring a run. I.e. not waiting for a new run
	ongoing int
}

func NewDFS() *DFS {
	return &DFS{
		r:    []prefix{{}},
		cond: sync.NewCond(new(sync.Mutex)),
	}
}

func (d *DFS) GetRunStrategy() RunStrategy {
	return &runDFS{d: d}
}

func (d *DFS) Description() string {
	return "dfs"
}

// Returns true if every schedule has been explored. Only meaningful while no run is being started
func (d *DFS) Exhausted() bool {
	d.cond.L.Lock()
	defer d.cond.L.Unlock()
	return len(d.r) == 0 && d.ongoing == 0
}

func (d *DFS) addRuns(r []prefix) {
	if len(r) == 0 {
		return
	}
	d.cond.L.Lock()
	defer d.cond.L.Unlock()

	wasEmpty := len(d.r) == 0
	d.r = append(d.r, r...)
	if wasEmpty {
		d.cond.Broadcast()
	}
}

func (d *DFS) endRun() {
	d.cond.L.Lock()
	defer d.cond.L.Unlock()

	d.ongoing--
	d.cond.Broadcast()
}

func (d *DFS) getRun() prefix {
	d.cond.L.Lock()
	defer d.cond.L.Unlock()

	// If the stack is empty wait until some ongoing run pushes a prefix.
	// If no run is ongoing nobody can push one and every schedule has been explored.
	for len(d.r) == 0 && d.ongoing > 0 {
		d.cond.Wait()
	}
	if len(d.r) == 0 {
		return nil
	}

	// Pop the latest prefix
	r := d.r[len(d.r)-1]
	d.r = d.r[:len(d.r)-1]

	d.ongoing++
	return r
}

type runDFS struct {
	d       *DFS
	current prefix
	index   int
	started bool
}

func (rd *runDFS) StartRun() error {
	r := rd.d.getRun()
	if r == nil {
		rd.started = false
		return ErrNoRuns
	}
	rd.current = r
	rd.index = 0
	rd.started = true
	return nil
}

// Follows the prefix of the run. Past the prefix it takes the first option
// and pushes a new prefix for each remaining one, in reverse so the second option is explored next.
func (rd *runDFS) Next(kind trace.Kind, options []uint64) (uint64, error) {
	if len(options) == 0 {
		return 0, ErrNoOptions
	}
	if rd.index < len(rd.current) {
		v := rd.current[rd.index]
		if !slices.Contains(options, v) {
			return 0, errors.Wrapf(ErrReplayDivergence, "%v decision %d: %d is not among %v", kind, rd.index, v, options)
		}
		rd.index++
		return v, nil
	}

	runs := make([]prefix, 0, len(options)-1)
	for i := len(options) - 1; i > 0; i-- {
		r := make(prefix, len(rd.current), len(rd.current)+1)
		copy(r, rd.current)
		runs = append(runs, append(r, options[i]))
	}
	rd.d.addRuns(runs)

	rd.current = append(rd.current, options[0])
	rd.index++
	return options[0], nil
}

func (rd *runDFS) EndRun(RunInfo) {
	if rd.started {
		rd.started = false
		rd.d.endRun()
	}
}
