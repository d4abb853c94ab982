package strategy

import (
	"testing"

	"gosct/trace"
)

func TestPCTChoices(t *testing.T) {
	testRandomChoicesAreValid(t, NewPCT(1, 3))
}

func TestPCTWithoutChangePointsIsStrict(t *testing.T) {
	rs := NewPCT(5, 0).GetRunStrategy()
	for i := 0; i < 20; i++ {
		rs.StartRun()
		first, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
		for j := 0; j < 10; j++ {
			v, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
			if v != first {
				t.Fatalf("Expected the highest priority operation %v to keep running. Got: %v", first, v)
			}
		}
		rs.EndRun(RunInfo{Steps: 11})
	}
}

func TestPCTChangePointSwitches(t *testing.T) {
	// With a change point a run of 10 decisions between two operations has to switch once
	s := NewPCT(9, 1)
	rs := s.GetRunStrategy()
	rs.StartRun()
	for j := 0; j < 10; j++ {
		rs.Next(trace.MachineChoice, []uint64{1, 2})
	}
	rs.EndRun(RunInfo{Steps: 10})

	for i := 0; i < 20; i++ {
		rs.StartRun()
		switches := 0
		last, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
		for j := 1; j < 10; j++ {
			v, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
			if v != last {
				switches++
			}
			last = v
		}
		rs.EndRun(RunInfo{Steps: 10})
		if switches != 1 {
			t.Errorf("Expected exactly one priority change. Got: %v", switches)
		}
	}
}

func TestPCTNewOperationsGetPriorities(t *testing.T) {
	rs := NewPCT(2, 0).GetRunStrategy()
	seen := map[uint64]bool{}
	for i := 0; i < 50; i++ {
		rs.StartRun()
		rs.Next(trace.MachineChoice, []uint64{1})
		v, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
		seen[v] = true
		rs.EndRun(RunInfo{Steps: 2})
	}
	if !seen[1] || !seen[2] {
		t.Errorf("Expected a newly created operation to sometimes get a higher priority. Got: %v", seen)
	}
}

func TestPCTChangePointOnSingleOptionIsSpent(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		// After a run of 10 decisions, 9 change points fall on every decision from 1 to 9
		rs := NewPCT(seed, 9).GetRunStrategy()
		rs.StartRun()
		for j := 0; j < 10; j++ {
			rs.Next(trace.MachineChoice, []uint64{1, 2})
		}
		rs.EndRun(RunInfo{Steps: 10})

		rs.StartRun()
		first, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
		for j := 1; j < 10; j++ {
			rs.Next(trace.MachineChoice, []uint64{1})
		}
		for j := 10; j < 15; j++ {
			v, _ := rs.Next(trace.MachineChoice, []uint64{1, 2})
			if v != first {
				t.Fatalf("Expected the change points to be spent on single option decisions. Decision %d picked %v, expected %v", j, v, first)
			}
		}
		rs.EndRun(RunInfo{Steps: 15})
	}
}
