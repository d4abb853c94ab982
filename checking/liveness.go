package checking

// Approximates liveness checking on finite runs.
//
// An operation is starving when it is blocked and has not been scheduled for Threshold decisions
// while the global state fingerprint has been seen at least Repeats times, i.e. the rest of the system is going in circles.
// Enabled operations that are never picked are not reported, since that only reflects an unfair strategy.
type LivenessDetector struct {
	Threshold int
	Repeats   int

	lastProgress map[uint64]int
	seen         map[uint64]int
}

// Create a detector. A threshold of 0 disables it
func NewLivenessDetector(threshold, repeats int) *LivenessDetector {
	if repeats < 1 {
		repeats = 1
	}
	return &LivenessDetector{
		Threshold:    threshold,
		Repeats:      repeats,
		lastProgress: map[uint64]int{},
		seen:         map[uint64]int{},
	}
}

func (d *LivenessDetector) Enabled() bool {
	return d != nil && d.Threshold > 0
}

// Record the decision at step, where chosen was scheduled, blocked are the blocked operations
// and fingerprint identifies the global state.
//
// Returns the id of a starving operation and true if one is found.
func (d *LivenessDetector) Observe(step int, chosen uint64, blocked []uint64, fingerprint uint64) (uint64, bool) {
	if !d.Enabled() {
		return 0, false
	}
	d.lastProgress[chosen] = step
	d.seen[fingerprint]++
	repeated := d.seen[fingerprint] >= d.Repeats
	for _, id := range blocked {
		last, ok := d.lastProgress[id]
		if !ok {
			d.lastProgress[id] = step
			continue
		}
		if repeated && step-last >= d.Threshold {
			return id, true
		}
	}
	return 0, false
}
