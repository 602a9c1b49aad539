package encoder

import "testing"

func checkInvariant(t *testing.T, r *ringIndices) {
	t.Helper()
	p := r.pending()
	if p > r.depth {
		t.Fatalf("ring invariant broken: write=%d read=%d pending=%d depth=%d",
			r.writeIdx, r.readIdx, p, r.depth)
	}
}

func TestRingLagThreshold(t *testing.T) {
	r := newRingIndices(16)

	// Mapping is only permitted once the write side leads by more than
	// depth-2.
	for i := 0; i < 14; i++ {
		if r.shouldDrain() {
			t.Fatalf("shouldDrain true at pending=%d", r.pending())
		}
		r.push()
		checkInvariant(t, &r)
	}
	if r.shouldDrain() {
		t.Fatalf("shouldDrain true at pending=%d, threshold is >14", r.pending())
	}
	r.push()
	if !r.shouldDrain() {
		t.Fatalf("shouldDrain false at pending=%d", r.pending())
	}
}

func TestRingSteadyState(t *testing.T) {
	r := newRingIndices(16)

	// Fill to the drain threshold, then run the steady-state push+pop cycle
	// for longer than the counters' slot range to cover wraparound of the
	// modulo slots.
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		if !r.canPush() {
			t.Fatalf("iteration %d: ring full in steady state", i)
		}
		slot := r.push()
		seen[slot] = true
		checkInvariant(t, &r)
		if r.shouldDrain() {
			r.pop()
			checkInvariant(t, &r)
		}
	}

	for s := uint64(0); s < 16; s++ {
		if !seen[s] {
			t.Errorf("slot %d never used", s)
		}
	}

	// Teardown drain: pending goes to zero.
	for r.pending() > 0 {
		r.pop()
		checkInvariant(t, &r)
	}
	if r.pending() != 0 {
		t.Fatalf("pending = %d after full drain", r.pending())
	}
}

func TestRingFullStops(t *testing.T) {
	r := newRingIndices(4)
	for i := 0; i < 4; i++ {
		if !r.canPush() {
			t.Fatalf("canPush false at pending=%d", r.pending())
		}
		r.push()
	}
	if r.canPush() {
		t.Fatal("canPush true on a full ring")
	}
	r.pop()
	if !r.canPush() {
		t.Fatal("canPush false after a pop freed a slot")
	}
}
