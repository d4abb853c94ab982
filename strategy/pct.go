package strategy

import (
	"fmt"
	"math/rand"
	"sync"

	"gosct/trace"

	"go.uber.org/atomic"
	"golang.org/x/exp/slices"
)

// Probabilistic concurrency testing.
//
// Every operation gets a random priority when it is first seen and the enabled operation with the highest priority always runs.
// At changePoints machine decisions, sampled uniformly from the length of the longest run seen so far,
// the operation that would have run is demoted to the lowest priority.
// A change point that falls on a decision with a single enabled operation is used up without changing any priority,
// so a run may see fewer than changePoints priority changes.
// A bug that needs d ordering constraints among n operations in runs of k decisions is found
// with probability at least 1/(n*k^d) per run when changePoints >= d.
// Boolean and integer decisions are uniform.
type PCT struct {
	mu           sync.Mutex
	rand         *rand.Rand
	seed         int64
	changePoints int

	// Number of machine decisions in the longest run seen so far
	maxSteps atomic.Int64
}

func NewPCT(seed int64, changePoints int) *PCT {
	if changePoints < 0 {
		changePoints = 0
	}
	return &PCT{
		rand:         rand.New(rand.NewSource(seed)),
		seed:         seed,
		changePoints: changePoints,
	}
}

func (p *PCT) GetRunStrategy() RunStrategy {
	return &pctRun{parent: p}
}

func (p *PCT) Description() string {
	return fmt.Sprintf("pct(seed=%d, change-points=%d)", p.seed, p.changePoints)
}

func (p *PCT) nextSeed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Int63()
}

func (p *PCT) observe(steps int) {
	for {
		current := p.maxSteps.Load()
		if int64(steps) <= current || p.maxSteps.CompareAndSwap(current, int64(steps)) {
			return
		}
	}
}

type pctRun struct {
	parent *PCT
	rand   *rand.Rand
	seed   int64

	// Operations ordered from highest to lowest priority
	priorities []uint64
	known      map[uint64]bool
	changeAt   map[int]bool
	// Number of machine decisions taken in the current run
	step int
}

func (pr *pctRun) StartRun() error {
	pr.seed = pr.parent.nextSeed()
	pr.rand = rand.New(rand.NewSource(pr.seed))
	pr.priorities = []uint64{}
	pr.known = map[uint64]bool{}
	pr.changeAt = map[int]bool{}
	pr.step = 0

	k := int(pr.parent.maxSteps.Load())
	points := pr.parent.changePoints
	if points > k-1 {
		points = k - 1
	}
	for len(pr.changeAt) < points {
		pr.changeAt[1+pr.rand.Intn(k-1)] = true
	}
	return nil
}

func (pr *pctRun) Next(kind trace.Kind, options []uint64) (uint64, error) {
	if len(options) == 0 {
		return 0, ErrNoOptions
	}
	if kind != trace.MachineChoice {
		return options[pr.rand.Intn(len(options))], nil
	}

	for _, id := range options {
		if !pr.known[id] {
			pr.known[id] = true
			pos := pr.rand.Intn(len(pr.priorities) + 1)
			pr.priorities = slices.Insert(pr.priorities, pos, id)
		}
	}

	chosen := pr.highest(options)
	if pr.changeAt[pr.step] && len(options) > 1 {
		i := slices.Index(pr.priorities, chosen)
		pr.priorities = append(slices.Delete(pr.priorities, i, i+1), chosen)
		chosen = pr.highest(options)
	}
	pr.step++
	return chosen, nil
}

func (pr *pctRun) highest(options []uint64) uint64 {
	for _, id := range pr.priorities {
		if slices.Contains(options, id) {
			return id
		}
	}
	return options[0]
}

func (pr *pctRun) EndRun(RunInfo) {
	pr.parent.observe(pr.step)
}

func (pr *pctRun) Seed() int64 {
	return pr.seed
}
