package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/NOT-REAL-GAMES/moviecap/codec"
	"github.com/NOT-REAL-GAMES/moviecap/gamelog"
	"github.com/NOT-REAL-GAMES/moviecap/ipc"
)

// The orchestrator tests run against an in-memory backend so they exercise
// the table/container logic, the worker pipeline and the teardown order
// without linking a real codec library.

type fakeBackend struct{}

func (fakeBackend) Name() string { return "fake" }

func (fakeBackend) NewVideoEncoder(codecName string, p codec.VideoParams, streamIndex int) (codec.VideoEncoder, error) {
	return &fakeVideoEncoder{streamIndex: streamIndex}, nil
}

func (fakeBackend) NewAudioEncoder(codecName string, p codec.AudioParams, streamIndex int) (codec.AudioEncoder, error) {
	return &fakeOrchAudioEncoder{streamIndex: streamIndex, frameSize: 1024}, nil
}

func (fakeBackend) NewMuxer(path, container string) (codec.Muxer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fakeMuxer{f: f}, nil
}

func (fakeBackend) NewAudioResampler(inRate, outRate, inChannels, outChannels int) (codec.AudioResampler, error) {
	return identityResampler{}, nil
}

// fakeVideoEncoder emits one packet per frame, stamped with the frame's PTS.
type fakeVideoEncoder struct {
	streamIndex int
	lastPts     int64
	gotFrames   int
}

func (e *fakeVideoEncoder) Encode(f *codec.VideoFrame) ([]*codec.Packet, error) {
	e.gotFrames++
	e.lastPts = f.Pts
	return []*codec.Packet{{Data: []byte{0x42}, Pts: f.Pts, Dts: f.Pts, Duration: 1, StreamIndex: e.streamIndex, Keyframe: true}}, nil
}

func (e *fakeVideoEncoder) Flush() ([]*codec.Packet, error) { return nil, nil }
func (e *fakeVideoEncoder) Close() error                    { return nil }
func (e *fakeVideoEncoder) StreamIndex() int                { return e.streamIndex }

type fakeOrchAudioEncoder struct {
	streamIndex int
	frameSize   int
	gotSamples  int
}

func (e *fakeOrchAudioEncoder) Encode(f *codec.AudioFrame) ([]*codec.Packet, error) {
	e.gotSamples += f.NbSamples
	return []*codec.Packet{{Data: []byte{0x43}, Pts: f.Pts, Dts: f.Pts, StreamIndex: e.streamIndex}}, nil
}

func (e *fakeOrchAudioEncoder) Flush() ([]*codec.Packet, error) { return nil, nil }
func (e *fakeOrchAudioEncoder) Close() error                    { return nil }
func (e *fakeOrchAudioEncoder) StreamIndex() int                { return e.streamIndex }
func (e *fakeOrchAudioEncoder) FrameSize() int                  { return e.frameSize }

// fakeMuxer appends packet bytes to the output file and refuses packets
// outside the header/trailer window.
type fakeMuxer struct {
	f         *os.File
	streams   int
	headerOK  bool
	trailerOK bool
	lastPts   map[int]int64
}

func (m *fakeMuxer) AddStream(enc any, info codec.StreamInfo) error {
	m.streams++
	return nil
}

func (m *fakeMuxer) WriteHeader() error {
	m.headerOK = true
	m.lastPts = make(map[int]int64)
	_, err := m.f.WriteString("HDR")
	return err
}

func (m *fakeMuxer) WritePacket(pkt *codec.Packet) error {
	if !m.headerOK || m.trailerOK {
		return fmt.Errorf("packet outside header/trailer window")
	}
	if last, ok := m.lastPts[pkt.StreamIndex]; ok && pkt.Pts <= last {
		return fmt.Errorf("stream %d pts went backwards: %d after %d", pkt.StreamIndex, pkt.Pts, last)
	}
	m.lastPts[pkt.StreamIndex] = pkt.Pts
	_, err := m.f.Write(pkt.Data)
	return err
}

func (m *fakeMuxer) WriteTrailer() error {
	m.trailerOK = true
	_, err := m.f.WriteString("TRL")
	return err
}

func (m *fakeMuxer) Close() error { return m.f.Close() }

func useFakeBackend(t *testing.T) {
	t.Helper()
	old := codecBackends
	codecBackends = map[string]codec.Backend{"avcodec": fakeBackend{}}
	t.Cleanup(func() { codecBackends = old })
}

func TestOrchestratorVideoOnly(t *testing.T) {
	useFakeBackend(t)
	dir := t.TempDir()
	params := ipc.MovieParams{
		DestPath:     filepath.Join(dir, "out.mp4"),
		Width:        64,
		Height:       64,
		Fps:          60,
		VideoEncoder: "libx264",
		X264Preset:   "veryfast",
		X264CRF:      23,
	}

	o, err := newOrchestrator(gamelog.Discard(), params)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}

	for i := 0; i < 5; i++ {
		f := o.acquireVideoFrame()
		if err := o.submitVideo(f); err != nil {
			t.Fatalf("submitVideo %d: %v", i, err)
		}
	}
	o.stop()

	if o.videoPts != 5 {
		t.Errorf("videoPts = %d, want 5 (one tick per frame)", o.videoPts)
	}
	if o.stats.Packets != 5 {
		t.Errorf("stats.Packets = %d, want 5 (one packet per frame)", o.stats.Packets)
	}

	data, err := os.ReadFile(params.DestPath)
	if err != nil {
		t.Fatalf("output file: %v", err)
	}
	// Header, five packets, trailer: the mux worker saw everything in order.
	if string(data) != "HDR\x42\x42\x42\x42\x42TRL" {
		t.Errorf("container bytes = %q", data)
	}
}

func TestOrchestratorWithAudio(t *testing.T) {
	useFakeBackend(t)
	dir := t.TempDir()
	params := ipc.MovieParams{
		DestPath:      filepath.Join(dir, "out.mkv"),
		Width:         64,
		Height:        64,
		Fps:           60,
		VideoEncoder:  "libx264",
		X264Preset:    "veryfast",
		AudioEnabled:  true,
		AudioEncoder:  "aac",
		AudioChannels: 2,
		AudioHz:       44100,
		AudioBits:     16,
	}

	o, err := newOrchestrator(gamelog.Discard(), params)
	if err != nil {
		t.Fatalf("newOrchestrator: %v", err)
	}
	enc := o.audEnc.(*fakeOrchAudioEncoder)

	f := o.acquireVideoFrame()
	if err := o.submitVideo(f); err != nil {
		t.Fatal(err)
	}

	// 44100 samples in uneven batches; the FIFO must conserve every one.
	total := 0
	for _, n := range []int{3000, 5000, 12000, 100, 23900, 100} {
		if err := o.submitAudio(make([]int16, n*2)); err != nil {
			t.Fatal(err)
		}
		total += n
	}
	if total != 44100 {
		t.Fatalf("test bug: batches sum to %d", total)
	}

	o.stop()

	if o.stats.AudioSamples != 44100 {
		t.Errorf("stats.AudioSamples = %d, want 44100", o.stats.AudioSamples)
	}
	if enc.gotSamples != 44100 {
		t.Errorf("codec received %d samples, want all 44100 (tail frame included)", enc.gotSamples)
	}
	if info, err := os.Stat(params.DestPath); err != nil || info.Size() == 0 {
		t.Fatalf("output file: %v (size %v)", err, info)
	}
}

func TestOrchestratorRefusesBadCombos(t *testing.T) {
	useFakeBackend(t)
	dir := t.TempDir()

	cases := []struct {
		name   string
		params ipc.MovieParams
	}{
		{"unknown extension", ipc.MovieParams{DestPath: filepath.Join(dir, "out.webm"), Width: 64, Height: 64, Fps: 60, VideoEncoder: "libx264"}},
		{"unknown encoder", ipc.MovieParams{DestPath: filepath.Join(dir, "out.mp4"), Width: 64, Height: 64, Fps: 60, VideoEncoder: "librav1e"}},
		{"dnxhd in mp4", ipc.MovieParams{DestPath: filepath.Join(dir, "out.mp4"), Width: 64, Height: 64, Fps: 60, VideoEncoder: "dnxhr", DnxhrProfile: "hq"}},
		{"unknown audio encoder", ipc.MovieParams{DestPath: filepath.Join(dir, "out.mp4"), Width: 64, Height: 64, Fps: 60, VideoEncoder: "libx264", AudioEnabled: true, AudioEncoder: "opus", AudioHz: 44100, AudioChannels: 2}},
	}

	for _, tc := range cases {
		if _, err := newOrchestrator(gamelog.Discard(), tc.params); err == nil {
			t.Errorf("%s: expected start to fail", tc.name)
		}
	}
}

func TestPlaneGeometry(t *testing.T) {
	cases := []struct {
		pf      string
		lines   []int
		heights []int
	}{
		{"nv12", []int{128, 128}, []int{64, 32}},
		{"yuv422p", []int{128, 64, 64}, []int{64, 64, 64}},
		{"yuv444p", []int{128, 128, 128}, []int{64, 64, 64}},
		{"bgr0", []int{512}, []int{64}},
	}
	for _, tc := range cases {
		lines, heights := planeGeometry(codec.PixelFormat(tc.pf), 128, 64)
		if !intsEqual(lines, tc.lines) || !intsEqual(heights, tc.heights) {
			t.Errorf("%s: got %v/%v, want %v/%v", tc.pf, lines, heights, tc.lines, tc.heights)
		}
	}
}

func TestOddDimensionsRefused(t *testing.T) {
	if !requiresEven("nv12") || !requiresEven("yuv422p") {
		t.Error("subsampled formats must require even dimensions")
	}
	if requiresEven("yuv444p") || requiresEven("bgr0") {
		t.Error("full-resolution formats must not require even dimensions")
	}
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
