// Package encoder is the out-of-process half of the pipeline: it attaches to
// the Capturer's shared-memory channel, converts handed-over frames to the
// codec's pixel layout on the GPU, stages them through the download ring,
// and runs the three-thread encode/mux pipeline into the output container.
package encoder

import (
	"encoding/binary"
	"fmt"
	"syscall"
	"time"

	"github.com/NOT-REAL-GAMES/moviecap/gamelog"
	"github.com/NOT-REAL-GAMES/moviecap/gpu"
	"github.com/NOT-REAL-GAMES/moviecap/ipc"
)

// inheritedFdPassFd is where the fd-passing socket lands in the spawned
// process: first ExtraFiles entry, after stdin/stdout/stderr.
const inheritedFdPassFd = 3

const keyedMutexTimeoutNs = 10_000_000_000

// Encoder is the process context: channel, GPU device, and the per-movie
// state rebuilt on every START.
type Encoder struct {
	log     *gamelog.Logger
	channel *ipc.Channel
	fdRecv  *ipc.FdReceiver
	gpu     *gpu.Context

	movie *encMovie
}

// encMovie is everything owned for the duration of one movie.
type encMovie struct {
	params ipc.MovieParams

	shared *gpu.SharedImage
	km     *gpu.KeyedMutexTexture

	conv *converter
	ring *downloadRing
	orch *orchestrator
}

// New attaches to the mapping named on the command line and brings up the
// GPU device.
func New(log *gamelog.Logger, shmName string) (*Encoder, error) {
	channel, err := ipc.Attach(shmName)
	if err != nil {
		return nil, err
	}

	gctx, err := gpu.NewContext("moviecap-encoder")
	if err != nil {
		channel.Close()
		return nil, err
	}

	return &Encoder{
		log:     log,
		channel: channel,
		fdRecv:  ipc.NewFdReceiver(inheritedFdPassFd),
		gpu:     gctx,
	}, nil
}

// Run serves the event loop until the game process goes away. A game exit
// with a movie still open runs the STOP cleanup first.
func (e *Encoder) Run() error {
	return e.channel.Run(ipc.EncoderHandler{
		OnStart:    e.onStart,
		OnStop:     e.onStop,
		OnNewVideo: e.onNewVideo,
		OnNewAudio: e.onNewAudio,
	}, e.channel.GamePID())
}

func (e *Encoder) Close() {
	e.gpu.Close()
	e.fdRecv.Close()
	e.channel.Close()
}

func (e *Encoder) onStart(params ipc.MovieParams) error {
	if e.movie != nil {
		return fmt.Errorf("movie already running")
	}

	// The texture fd is queued on the socket before START is signaled;
	// drain it first so a failed start cannot leave it for the next movie.
	memFd, err := e.fdRecv.RecvFd()
	if err != nil {
		return err
	}

	orch, err := newOrchestrator(e.log, params)
	if err != nil {
		syscall.Close(memFd)
		return err
	}

	m := &encMovie{params: params, orch: orch}

	fail := func(err error) error {
		e.teardownGPU(m)
		orch.stop()
		return err
	}

	m.shared, err = e.gpu.Device.ImportSharedImage(
		memFd,
		e.channel.GameTextureSize(),
		uint32(params.Width), uint32(params.Height),
		gpu.FORMAT_B8G8R8A8_UNORM,
		gpu.IMAGE_USAGE_STORAGE_BIT|gpu.IMAGE_USAGE_TRANSFER_SRC_BIT|gpu.IMAGE_USAGE_TRANSFER_DST_BIT,
		e.gpu.Physical,
	)
	if err != nil {
		syscall.Close(memFd)
		return fail(fmt.Errorf("open shared texture: %w", err))
	}
	m.km = &gpu.KeyedMutexTexture{
		Image:  m.shared.Image,
		Memory: m.shared.Memory,
		State:  gpu.KeyedMutexStateAt(e.channel.KeyedMutexWord()),
	}

	m.conv, err = newConverter(e.gpu, orch.pixFmt, uint32(params.Width), uint32(params.Height), m.shared.View)
	if err != nil {
		return fail(err)
	}

	m.ring, err = newDownloadRing(e.gpu, m.conv)
	if err != nil {
		return fail(err)
	}

	e.movie = m
	return nil
}

// onNewVideo is the steady-state video path: take our turn on the shared
// texture, convert and stage; once the ring is saturated past its lag,
// download the oldest slot into a recycled frame and queue it for encoding.
func (e *Encoder) onNewVideo() error {
	m := e.movie
	if m == nil {
		return fmt.Errorf("NEW_VIDEO without a movie")
	}
	if err := m.orch.firstError(); err != nil {
		return err
	}

	guard, err := e.gpu.Device.WithKeyedMutex(m.km, gpu.KeyEncoder, gpu.KeyGame, keyedMutexTimeoutNs)
	if err != nil {
		return err
	}
	start := time.Now()
	err = m.ring.convertAndPush()
	guard.Release()
	if err != nil {
		return err
	}
	m.orch.addConvertTime(time.Since(start))

	if m.ring.shouldDrain() {
		if err := e.downloadOne(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) downloadOne() error {
	m := e.movie
	frame := m.orch.acquireVideoFrame()
	if err := m.ring.drainInto(frame.Planes, frame.Linesize); err != nil {
		return err
	}
	return m.orch.submitVideo(frame)
}

// onNewAudio copies the waiting samples out of the shared scratch buffer
// and hands them to the resample worker.
func (e *Encoder) onNewAudio(n uint32) error {
	m := e.movie
	if m == nil {
		return fmt.Errorf("NEW_AUDIO without a movie")
	}
	if !m.params.AudioEnabled {
		return nil
	}
	if err := m.orch.firstError(); err != nil {
		return err
	}

	channels := m.params.AudioChannels
	buf := e.channel.AudioBuffer()
	samples := make([]int16, int(n)*channels)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}

	return m.orch.submitAudio(samples)
}

// onStop drains the ring's queued frames, runs the orchestrator teardown and
// releases the movie's GPU objects. Never returns an error: stop is cleanup.
func (e *Encoder) onStop() error {
	m := e.movie
	if m == nil {
		return nil
	}
	e.movie = nil

	for m.ring != nil && m.ring.hasPending() {
		frame := m.orch.acquireVideoFrame()
		if err := m.ring.drainInto(frame.Planes, frame.Linesize); err != nil {
			e.log.Error("drain ring: %v", err)
			break
		}
		if err := m.orch.submitVideo(frame); err != nil {
			e.log.Error("submit trailing frame: %v", err)
			break
		}
	}

	m.orch.stop()
	e.teardownGPU(m)
	return nil
}

func (e *Encoder) teardownGPU(m *encMovie) {
	if m.ring != nil {
		m.ring.destroy()
		m.ring = nil
	}
	if m.conv != nil {
		m.conv.destroy()
		m.conv = nil
	}
	if m.shared != nil {
		e.gpu.Device.DestroySharedImage(m.shared)
		m.shared = nil
	}
}

// Selftest exercises the codec tables without touching the GPU or the
// channel: the init-time dry run the Capturer performs before spawning the
// real process.
func Selftest() error {
	for _, name := range []string{"libx264", "libx264rgb", "dnxhr"} {
		if _, err := resolvePixFmt(ipc.MovieParams{VideoEncoder: name, DnxhrProfile: "hq"}); err != nil {
			return err
		}
	}
	return nil
}
