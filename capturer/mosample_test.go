package capturer

import (
	"math"
	"testing"
)

// recordingOps captures the accumulate/emit/clear sequence plus, per emitted
// frame, the total weight and the weighted sum of sub-frame values.
type recordingOps struct {
	subValue float64

	curWeight float64
	curSum    float64

	emits       int
	emitWeights []float64
	emitSums    []float64
}

func (r *recordingOps) ops() shutterOps {
	return shutterOps{
		accumulate: func(w float64) error {
			r.curWeight += w
			r.curSum += w * r.subValue
			return nil
		},
		emit: func() error {
			r.emits++
			r.emitWeights = append(r.emitWeights, r.curWeight)
			r.emitSums = append(r.emitSums, r.curSum)
			return nil
		},
		clear: func() error {
			r.curWeight = 0
			r.curSum = 0
			return nil
		},
	}
}

func TestShutterEmitCount(t *testing.T) {
	cases := []struct {
		exposure float64
		mult     int
		frames   int // output frames worth of sub-frames
	}{
		{1.0, 2, 10},
		{0.5, 2, 10},
		{0.25, 4, 25},
		{1.0, 8, 3},
		{0.75, 3, 100},
		{0.01, 16, 7},
	}

	for _, tc := range cases {
		s := newShutter(tc.exposure, tc.mult)
		rec := &recordingOps{subValue: 1}
		for i := 0; i < tc.frames*tc.mult; i++ {
			if err := s.subFrame(rec.ops()); err != nil {
				t.Fatalf("E=%g M=%d: subFrame: %v", tc.exposure, tc.mult, err)
			}
		}
		// K*M sub-frames must produce K emits, within rounding.
		if rec.emits < tc.frames-1 || rec.emits > tc.frames {
			t.Errorf("E=%g M=%d: %d sub-frames emitted %d frames, want %d",
				tc.exposure, tc.mult, tc.frames*tc.mult, rec.emits, tc.frames)
		}
	}
}

func TestShutterWeightsSumToOne(t *testing.T) {
	for _, tc := range []struct {
		exposure float64
		mult     int
	}{
		{1.0, 2}, {0.5, 2}, {0.5, 4}, {0.25, 8}, {0.9, 3},
	} {
		s := newShutter(tc.exposure, tc.mult)
		rec := &recordingOps{subValue: 1}
		for i := 0; i < 20*tc.mult; i++ {
			if err := s.subFrame(rec.ops()); err != nil {
				t.Fatal(err)
			}
		}
		for i, w := range rec.emitWeights {
			if math.Abs(w-1.0) > 1e-9 {
				t.Errorf("E=%g M=%d: emit %d total weight %g, want 1", tc.exposure, tc.mult, i, w)
			}
		}
	}
}

// Boxcar identity: full exposure over a constant input reproduces the input
// exactly.
func TestShutterBoxcarIdentity(t *testing.T) {
	s := newShutter(1.0, 2)
	rec := &recordingOps{subValue: 0.5}
	for i := 0; i < 8; i++ {
		if err := s.subFrame(rec.ops()); err != nil {
			t.Fatal(err)
		}
	}
	if rec.emits != 4 {
		t.Fatalf("emits = %d, want 4", rec.emits)
	}
	for i, sum := range rec.emitSums {
		if math.Abs(sum-0.5) > 1e-9 {
			t.Errorf("emit %d value %g, want 0.5", i, sum)
		}
	}
}

// Boxcar over alternating black/white averages to mid-gray.
func TestShutterBoxcarAlternating(t *testing.T) {
	s := newShutter(1.0, 2)
	rec := &recordingOps{}
	values := []float64{0, 1, 0, 1, 0, 1, 0, 1}
	for _, v := range values {
		rec.subValue = v
		if err := s.subFrame(rec.ops()); err != nil {
			t.Fatal(err)
		}
	}
	for i, sum := range rec.emitSums {
		if math.Abs(sum-0.5) > 1e-9 {
			t.Errorf("emit %d value %g, want 0.5", i, sum)
		}
	}
}

// With a half-open shutter only the trailing sub-frame of each pair falls in
// the exposure window, at full weight.
func TestShutterHalfExposureWindow(t *testing.T) {
	s := newShutter(0.5, 2)
	rec := &recordingOps{}
	values := []float64{0, 1, 0, 1}
	for _, v := range values {
		rec.subValue = v
		if err := s.subFrame(rec.ops()); err != nil {
			t.Fatal(err)
		}
	}
	if rec.emits != 2 {
		t.Fatalf("emits = %d, want 2", rec.emits)
	}
	for i, sum := range rec.emitSums {
		if math.Abs(sum-1.0) > 1e-9 {
			t.Errorf("emit %d value %g, want 1 (white sub-frame only)", i, sum)
		}
	}
}

// The remainder never drifts: after any number of sub-frames it stays in
// [0, 1).
func TestShutterRemainderBounded(t *testing.T) {
	s := newShutter(0.3, 7)
	rec := &recordingOps{subValue: 1}
	for i := 0; i < 7000; i++ {
		if err := s.subFrame(rec.ops()); err != nil {
			t.Fatal(err)
		}
		if s.remainder < 0 || s.remainder >= 1.0+1e-9 {
			t.Fatalf("after %d sub-frames remainder = %g", i+1, s.remainder)
		}
	}
	if rec.emits < 999 || rec.emits > 1000 {
		t.Errorf("7000 sub-frames at M=7 emitted %d frames, want ~1000", rec.emits)
	}
}

func TestShutterErrorPropagates(t *testing.T) {
	s := newShutter(1.0, 2)
	called := 0
	wantErr := errTest("boom")
	ops := shutterOps{
		accumulate: func(float64) error { called++; return wantErr },
		emit:       func() error { return nil },
		clear:      func() error { return nil },
	}
	if err := s.subFrame(ops); err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if called != 1 {
		t.Fatalf("accumulate called %d times", called)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
