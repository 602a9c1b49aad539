package encoder

import (
	"testing"

	"github.com/NOT-REAL-GAMES/moviecap/codec"
)

// identityResampler passes S16 stereo through untouched.
type identityResampler struct{}

func (identityResampler) ExpectedOutputSamples(n int) int { return n + 2 }

func (identityResampler) Resample(in []int16) ([]byte, error) {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out, nil
}

func (identityResampler) Close() error { return nil }

// fakeAudioEncoder only supplies the fixed frame size the FIFO fragments to.
type fakeAudioEncoder struct {
	frameSize int
}

func (f *fakeAudioEncoder) Encode(*codec.AudioFrame) ([]*codec.Packet, error) { return nil, nil }
func (f *fakeAudioEncoder) Flush() ([]*codec.Packet, error)                   { return nil, nil }
func (f *fakeAudioEncoder) Close() error                                      { return nil }
func (f *fakeAudioEncoder) StreamIndex() int                                  { return 1 }
func (f *fakeAudioEncoder) FrameSize() int                                    { return f.frameSize }

func stereoSamples(n int) []int16 {
	s := make([]int16, n*2)
	for i := range s {
		s[i] = int16(i)
	}
	return s
}

func TestAudioFifoFragmentation(t *testing.T) {
	a := newAudioPipeline(identityResampler{}, &fakeAudioEncoder{frameSize: 1024}, 2)

	// 1000 samples: less than one frame, nothing comes out.
	frames, err := a.submit(stereoSamples(1000))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames before a full codec frame accumulated", len(frames))
	}

	// 1100 more: 2100 total, one 1024-sample frame leaves, 1076 remain.
	frames, err = a.submit(stereoSamples(1100))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].NbSamples != 1024 {
		t.Errorf("frame samples = %d, want 1024", frames[0].NbSamples)
	}
	if frames[0].Pts != 0 {
		t.Errorf("first pts = %d, want 0", frames[0].Pts)
	}

	// 3000 more: 4076 total, three frames leave.
	frames, err = a.submit(stereoSamples(3000))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		want := int64(1024 * (i + 1))
		if f.Pts != want {
			t.Errorf("frame %d pts = %d, want %d (advance by exactly frame size)", i, f.Pts, want)
		}
	}
}

func TestAudioFlushTail(t *testing.T) {
	a := newAudioPipeline(identityResampler{}, &fakeAudioEncoder{frameSize: 1024}, 2)

	total := 0
	counted := 0
	for _, n := range []int{700, 900, 1500} {
		frames, err := a.submit(stereoSamples(n))
		if err != nil {
			t.Fatal(err)
		}
		total += n
		for _, f := range frames {
			counted += f.NbSamples
		}
	}

	tail := a.flush()
	if tail == nil {
		t.Fatal("expected a final short frame")
	}
	counted += tail.NbSamples

	if counted != total {
		t.Errorf("output %d samples, submitted %d: FIFO lost or invented samples", counted, total)
	}
	if tail.NbSamples >= 1024 {
		t.Errorf("tail frame has %d samples, should be shorter than a codec frame", tail.NbSamples)
	}
	if tail.Pts != int64(total-tail.NbSamples) {
		t.Errorf("tail pts = %d, want %d", tail.Pts, total-tail.NbSamples)
	}

	if a.flush() != nil {
		t.Error("second flush should have nothing left")
	}
}

func TestAudioFifoOverflow(t *testing.T) {
	// A frame size so large the FIFO can never drain forces the growth cap.
	a := newAudioPipeline(identityResampler{}, &fakeAudioEncoder{frameSize: 1 << 30}, 2)
	var err error
	for i := 0; i < 5000 && err == nil; i++ {
		_, err = a.submit(stereoSamples(65536))
	}
	if err == nil {
		t.Fatal("expected the capped FIFO to refuse unbounded growth")
	}
}

func TestAudioRecycleRoundTrip(t *testing.T) {
	a := newAudioPipeline(identityResampler{}, &fakeAudioEncoder{frameSize: 512}, 2)

	frames, err := a.submit(stereoSamples(512))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	a.recycle(f)

	frames, err = a.submit(stereoSamples(512))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 || frames[0] != f {
		t.Error("recycled frame was not reused")
	}
	if frames[0].Pts != 512 {
		t.Errorf("reused frame pts = %d, want 512", frames[0].Pts)
	}
}
