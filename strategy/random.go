package strategy

import (
	"fmt"
	"math/rand"
	"sync"

	"gosct/trace"
)

// A strategy that picks uniformly among the available options.
//
// It is useful for testing a random selection of the schedule space when the space is too large to perform an exhaustive search.
// It provides no guarantee that all bugs have been found.
type Random struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// Create a new Random strategy
//
// The seed initializes a generator that seeds every run, so a session is reproducible from its seed
func NewRandom(seed int64) *Random {
	return &Random{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

func (r *Random) GetRunStrategy() RunStrategy {
	return &randomRun{parent: r}
}

func (r *Random) Description() string {
	return fmt.Sprintf("random(seed=%d)", r.seed)
}

func (r *Random) nextSeed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63()
}

type randomRun struct {
	parent *Random
	rand   *rand.Rand
	seed   int64
}

func (rr *randomRun) StartRun() error {
	rr.seed = rr.parent.nextSeed()
	rr.rand = rand.New(rand.NewSource(rr.seed))
	return nil
}

func (rr *randomRun) Next(_ trace.Kind, options []uint64) (uint64, error) {
	if len(options) == 0 {
		return 0, ErrNoOptions
	}
	return options[rr.rand.Intn(len(options))], nil
}

func (rr *randomRun) EndRun(RunInfo) {}

// The seed of the current run
func (rr *randomRun) Seed() int64 {
	return rr.seed
}
