package encoder

import (
	"fmt"

	"github.com/NOT-REAL-GAMES/moviecap/codec"
)

// maxFifoBytes caps scratch growth: a steady 44.1kHz stream can never reach
// it, so hitting the cap means something upstream is broken and the movie
// errors out instead of growing without bound. The cap is four MaxSamples
// events of stereo S16 (4 bytes per sample frame).
const maxFifoBytes = 4 * 65536 * 4

// audioPipeline is the audio half of the encoder: every incoming batch goes
// through the resampler (even
// at matched rates, so the channel-layout remap path always runs), lands in
// the FIFO, and leaves in codec-frame-sized chunks with a sample-accurate
// PTS.
type audioPipeline struct {
	resampler codec.AudioResampler
	enc       codec.AudioEncoder

	channels       int
	bytesPerSample int

	fifo []byte
	pts  int64

	pool *audioFramePool
}

func newAudioPipeline(resampler codec.AudioResampler, enc codec.AudioEncoder, channels int) *audioPipeline {
	return &audioPipeline{
		resampler:      resampler,
		enc:            enc,
		channels:       channels,
		bytesPerSample: 2, // S16 output on every supported audio codec
		pool:           &audioFramePool{},
	}
}

func (a *audioPipeline) frameBytes() int {
	return a.enc.FrameSize() * a.channels * a.bytesPerSample
}

// submit resamples one raw batch and returns the codec frames that became
// complete, in order. The caller forwards them to the frame-encode queue.
func (a *audioPipeline) submit(interleaved []int16) ([]*codec.AudioFrame, error) {
	out, err := a.resampler.Resample(interleaved)
	if err != nil {
		return nil, err
	}
	if len(a.fifo)+len(out) > maxFifoBytes {
		return nil, fmt.Errorf("audio: fifo overflow (%d bytes queued)", len(a.fifo)+len(out))
	}
	a.fifo = append(a.fifo, out...)

	var frames []*codec.AudioFrame
	need := a.frameBytes()
	for len(a.fifo) >= need {
		frames = append(frames, a.takeFrame(need, a.enc.FrameSize()))
	}
	return frames, nil
}

// flush drains the tail as one final, possibly short, frame.
func (a *audioPipeline) flush() *codec.AudioFrame {
	if len(a.fifo) == 0 {
		return nil
	}
	sampleBytes := a.channels * a.bytesPerSample
	n := len(a.fifo) / sampleBytes
	if n == 0 {
		a.fifo = nil
		return nil
	}
	return a.takeFrame(n*sampleBytes, n)
}

// takeFrame pops bytes off the FIFO front into a (possibly recycled) frame
// and advances the PTS by exactly the sample count, so audio timestamps can
// never drift from the stream position.
func (a *audioPipeline) takeFrame(byteCount, samples int) *codec.AudioFrame {
	f := a.pool.get()
	if f == nil {
		f = &codec.AudioFrame{}
	}
	if cap(f.Data) < byteCount {
		f.Data = make([]byte, byteCount)
	}
	f.Data = f.Data[:byteCount]
	copy(f.Data, a.fifo[:byteCount])
	a.fifo = a.fifo[byteCount:]

	f.NbSamples = samples
	f.Pts = a.pts
	a.pts += int64(samples)
	return f
}

func (a *audioPipeline) recycle(f *codec.AudioFrame) { a.pool.put(f) }

func (a *audioPipeline) close() error {
	return a.resampler.Close()
}
