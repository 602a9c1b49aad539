// Package capturer is the in-game half of the pipeline: the motion-sampling
// accumulator, the velocity overlay, the movie profile, and the per-frame
// entry points the host game drives. Its only outward channels are the
// shared-memory mapping and the keyed-mutex texture it hands the sibling
// encoder process.
package capturer

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"unsafe"

	"github.com/NOT-REAL-GAMES/moviecap/gamelog"
	"github.com/NOT-REAL-GAMES/moviecap/gpu"
	"github.com/NOT-REAL-GAMES/moviecap/ipc"
)

// encoderBinary is the sibling process name, looked up under the svr path.
const encoderBinary = "moviecap-encoder"

// keyedMutexTimeoutNs bounds the wait for our turn on the shared texture.
// The encoder's per-event work is short; hitting this means it wedged.
const keyedMutexTimeoutNs = 10_000_000_000

// GameTexture is the host-owned backbuffer view the per-frame tick renders
// from.
type GameTexture struct {
	Image  gpu.Image
	View   gpu.ImageView
	Width  uint32
	Height uint32
}

// Capturer is the per-process context: one per loaded game, carrying the
// spawned encoder and the shared channel. Movie-lifetime state hangs off the
// movie substruct and is rebuilt on every Start.
type Capturer struct {
	log     *gamelog.Logger
	gpu     *gpu.Context
	svrPath string

	channel    *ipc.Channel
	fdPair     *ipc.FdPair
	encoderCmd *exec.Cmd
	encoderPID int

	// Audio input format, as the host reports it. Defaults match the
	// common game mixer output.
	AudioChannels int
	AudioHz       int
	AudioBits     int

	movie *movieState

	velocity [3]float64
}

// movieState is everything whose lifetime is exactly one movie.
type movieState struct {
	prof    *Profile
	gameTex GameTexture

	shared *gpu.SharedImage
	km     *gpu.KeyedMutexTexture

	shut *shutter
	mos  *mosampler

	// blit pipeline for the motion-blur-disabled emit path
	blitLayout   gpu.DescriptorSetLayout
	blitPipeLay  gpu.PipelineLayout
	blitPipeline gpu.Pipeline
	blitSet      gpu.DescriptorSet
	blitPool     gpu.DescriptorPool

	overlay *overlayRenderer
}

// New builds an inactive Capturer around the host's log sink.
func New(log *gamelog.Logger) *Capturer {
	return &Capturer{
		log:           log,
		AudioChannels: 2,
		AudioHz:       44100,
		AudioBits:     16,
	}
}

// Init creates the shared-memory channel and spawns the encoder process.
// svrPath is the install root: the encoder binary, profiles/ and movies/
// live under it. gctx wraps the graphics device the host already renders
// with.
func (c *Capturer) Init(svrPath string, gctx *gpu.Context) error {
	c.svrPath = svrPath
	c.gpu = gctx

	bin := filepath.Join(svrPath, encoderBinary)

	// Dry-run the encoder first so a broken install surfaces at init, not
	// at the first movie start.
	if err := exec.Command(bin, "--selftest").Run(); err != nil {
		return fmt.Errorf("capturer: encoder self-test failed: %w", err)
	}

	name := fmt.Sprintf("moviecap-%d", os.Getpid())
	channel, err := ipc.Create(name)
	if err != nil {
		return fmt.Errorf("capturer: %w", err)
	}
	channel.SetGamePID(os.Getpid())

	fdPair, err := ipc.NewFdPair()
	if err != nil {
		channel.Close()
		return fmt.Errorf("capturer: %w", err)
	}

	cmd := exec.Command(bin, name)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{fdPair.Inherit}
	if err := cmd.Start(); err != nil {
		fdPair.Close()
		channel.Close()
		return fmt.Errorf("capturer: spawn encoder: %w", err)
	}

	c.channel = channel
	c.fdPair = fdPair
	c.encoderCmd = cmd
	c.encoderPID = cmd.Process.Pid
	return nil
}

// IsMovieActive reports whether frames are currently being captured.
func (c *Capturer) IsMovieActive() bool { return c.movie != nil }

func (c *Capturer) IsVeloEnabled() bool {
	return c.movie != nil && c.movie.prof.VelocEnabled
}

func (c *Capturer) IsAudioEnabled() bool {
	return c.movie != nil && c.movie.prof.AudioEnabled
}

// GetGameRate is the frame rate the host must drive frame() at for the
// current movie.
func (c *Capturer) GetGameRate() int {
	if c.movie == nil {
		return 0
	}
	return c.movie.prof.GameRate()
}

// Start opens the named profile and begins a movie into movieName. Returns
// false (after printing the reason) on any of the start-fatal conditions.
func (c *Capturer) Start(movieName, profileName string, tex GameTexture) bool {
	if c.movie != nil {
		c.log.Error("movie already running, stop it first")
		return false
	}
	if c.channel == nil {
		c.log.Error("capturer not initialized")
		return false
	}

	prof, err := LoadProfile(filepath.Join(c.svrPath, "profiles", profileName+".ini"))
	if err != nil {
		c.log.Error("%v", err)
		return false
	}

	m := &movieState{prof: prof, gameTex: tex}

	fail := func(err error) bool {
		c.log.Error("%v", err)
		c.teardownMovie(m)
		return false
	}

	// The shared texture both processes touch, keyed-mutex arbitrated.
	m.shared, err = c.gpu.Device.CreateSharedImage(
		tex.Width, tex.Height,
		gpu.FORMAT_B8G8R8A8_UNORM,
		gpu.IMAGE_USAGE_STORAGE_BIT|gpu.IMAGE_USAGE_TRANSFER_SRC_BIT|gpu.IMAGE_USAGE_TRANSFER_DST_BIT,
		c.gpu.Physical,
	)
	if err != nil {
		return fail(fmt.Errorf("shared texture: %w", err))
	}
	m.km = &gpu.KeyedMutexTexture{
		Image:  m.shared.Image,
		Memory: m.shared.Memory,
		State:  gpu.KeyedMutexStateAt(c.channel.KeyedMutexWord()),
	}

	if err := c.gpu.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.PipelineBarrier(
			gpu.PIPELINE_STAGE_TOP_OF_PIPE_BIT, gpu.PIPELINE_STAGE_COMPUTE_SHADER_BIT, 0,
			[]gpu.ImageMemoryBarrier{{
				DstAccessMask: gpu.ACCESS_SHADER_WRITE_BIT,
				OldLayout:     gpu.IMAGE_LAYOUT_UNDEFINED,
				NewLayout:     gpu.IMAGE_LAYOUT_GENERAL,
				Image:         m.shared.Image,
				SubresourceRange: gpu.WholeColorImage(),
			}},
		)
		return nil
	}); err != nil {
		return fail(fmt.Errorf("shared texture layout: %w", err))
	}

	if prof.MosampleEnabled {
		m.shut = newShutter(prof.MosampleExposure, prof.MosampleMult)
		m.mos, err = newMosampler(c.gpu, tex.Width, tex.Height, tex.View, m.shared.View)
		if err != nil {
			return fail(err)
		}
	} else {
		if err := c.buildBlit(m); err != nil {
			return fail(err)
		}
	}

	if prof.VelocEnabled {
		m.overlay, err = newOverlayRenderer(c.gpu, prof, tex.Width, tex.Height, m.shared.View)
		if err != nil {
			return fail(err)
		}
	}

	// Hand the texture memory over and announce the movie.
	memFd, err := c.gpu.Device.ExternalMemoryFd(m.shared.Memory)
	if err != nil {
		return fail(fmt.Errorf("export texture memory: %w", err))
	}
	if err := c.fdPair.SendFd(memFd); err != nil {
		return fail(err)
	}
	c.channel.SetGameTextureFd(memFd)
	c.channel.SetGameTextureSize(m.shared.Size)
	c.channel.SetMovieParams(ipc.MovieParams{
		DestPath:      filepath.Join(c.svrPath, "movies", movieName),
		Width:         int(tex.Width),
		Height:        int(tex.Height),
		Fps:           float64(prof.FPS),
		VideoEncoder:  prof.VideoEncoder,
		AudioEncoder:  prof.AudioEncoder,
		X264Preset:    prof.X264Preset,
		X264CRF:       prof.X264CRF,
		X264Intra:     prof.X264Intra,
		DnxhrProfile:  prof.DnxhrProfile,
		AudioEnabled:  prof.AudioEnabled,
		AudioChannels: c.AudioChannels,
		AudioHz:       c.AudioHz,
		AudioBits:     c.AudioBits,
	})

	if res := c.channel.SendEvent(ipc.EventStart, c.encoderPID); !res.Ok() {
		c.reportFailure(res)
		c.teardownMovie(m)
		return false
	}

	c.velocity = [3]float64{}
	c.movie = m
	c.log.Info("movie started", "name", movieName, "profile", profileName)
	return true
}

func (c *Capturer) buildBlit(m *movieState) error {
	dev := c.gpu.Device
	var err error

	m.blitPool, err = dev.CreateDescriptorPool(&gpu.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []gpu.DescriptorPoolSize{
			{Type: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 2},
		},
	})
	if err != nil {
		return fmt.Errorf("blit pool: %w", err)
	}

	m.blitLayout, m.blitPipeLay, m.blitPipeline, err = c.gpu.BuildComputePipeline(blitShader, "blit.comp",
		[]gpu.DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
			{Binding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
		},
		uint32(unsafe.Sizeof(sizePush{})),
	)
	if err != nil {
		return fmt.Errorf("blit pipeline: %w", err)
	}

	sets, err := dev.AllocateDescriptorSets(&gpu.DescriptorSetAllocateInfo{
		DescriptorPool: m.blitPool,
		SetLayouts:     []gpu.DescriptorSetLayout{m.blitLayout},
	})
	if err != nil {
		return fmt.Errorf("blit set: %w", err)
	}
	m.blitSet = sets[0]

	dev.UpdateDescriptorSets([]gpu.WriteDescriptorSet{
		{DstSet: m.blitSet, DstBinding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: m.gameTex.View, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
		{DstSet: m.blitSet, DstBinding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: m.shared.View, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
	})
	return nil
}

// GiveVelocity stores the value the next Frame reads for the overlay.
func (c *Capturer) GiveVelocity(x, y, z float64) {
	c.velocity = [3]float64{x, y, z}
}

// Frame is the per-sub-frame tick. With motion blur on it runs the shutter
// math and emits only when an output frame completes; otherwise every call
// emits.
func (c *Capturer) Frame() {
	m := c.movie
	if m == nil {
		return
	}

	var err error
	if m.shut != nil {
		err = m.shut.subFrame(shutterOps{
			accumulate: m.mos.accumulate,
			emit:       c.emitFrame,
			clear:      m.mos.clear,
		})
	} else {
		err = c.emitFrame()
	}
	if err != nil {
		c.abortMovie(err)
	}
}

// emitFrame produces one output-rate frame: pack (or blit) into the shared
// texture, overlay, hand the texture to the encoder, block until it acks.
func (c *Capturer) emitFrame() error {
	m := c.movie

	guard, err := c.gpu.Device.WithKeyedMutex(m.km, gpu.KeyGame, gpu.KeyEncoder, keyedMutexTimeoutNs)
	if err != nil {
		return err
	}

	if m.mos != nil {
		err = m.mos.pack()
	} else {
		err = c.blit()
	}
	if err != nil {
		guard.Release()
		return err
	}

	if m.overlay != nil {
		if err := m.overlay.draw(speedString(c.velocity[0], c.velocity[1])); err != nil {
			guard.Release()
			return err
		}
	}

	guard.Release()

	if res := c.channel.SendEvent(ipc.EventNewVideo, c.encoderPID); !res.Ok() {
		return resultError(res)
	}
	return nil
}

func (c *Capturer) blit() error {
	m := c.movie
	return c.gpu.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.BindPipeline(gpu.PIPELINE_BIND_POINT_COMPUTE, m.blitPipeline)
		cmd.BindDescriptorSets(gpu.PIPELINE_BIND_POINT_COMPUTE, m.blitPipeLay, 0, []gpu.DescriptorSet{m.blitSet}, nil)
		push := sizePush{W: int32(m.gameTex.Width), H: int32(m.gameTex.Height)}
		cmd.CmdPushConstants(m.blitPipeLay, gpu.SHADER_STAGE_COMPUTE_BIT, 0, uint32(unsafe.Sizeof(push)), unsafe.Pointer(&push))
		cmd.Dispatch(groupCount(m.gameTex.Width), groupCount(m.gameTex.Height), 1)
		return nil
	})
}

// GiveAudio forwards one batch of interleaved S16 samples (one "sample" =
// one frame across all channels). Batches larger than the shared scratch
// buffer are fragmented into multiple fully-completed events.
func (c *Capturer) GiveAudio(samples []int16) {
	m := c.movie
	if m == nil || !m.prof.AudioEnabled {
		return
	}

	perSample := c.AudioChannels
	total := len(samples) / perSample

	for offset := 0; offset < total; {
		n := total - offset
		if n > ipc.MaxSamples {
			n = ipc.MaxSamples
		}

		buf := c.channel.AudioBuffer()
		for i := 0; i < n*perSample; i++ {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(samples[(offset*perSample)+i]))
		}
		c.channel.SetWaitingAudioSamples(uint32(n))

		if res := c.channel.SendEvent(ipc.EventNewAudio, c.encoderPID); !res.Ok() {
			c.abortMovie(resultError(res))
			return
		}
		offset += n
	}
}

// Stop ends the movie. Calling it again is a no-op. Errors during stop are
// logged but never abort teardown.
func (c *Capturer) Stop() {
	m := c.movie
	if m == nil {
		return
	}

	if res := c.channel.SendEvent(ipc.EventStop, c.encoderPID); !res.Ok() {
		c.reportFailure(res)
	}
	c.teardownMovie(m)
	c.movie = nil
	c.log.Info("movie stopped")
}

// abortMovie is the mid-movie fatal path: report, tear down, and if the
// encoder is still alive give it a STOP so it closes its outputs.
func (c *Capturer) abortMovie(err error) {
	m := c.movie
	if m == nil {
		return
	}
	c.log.Error("movie aborted: %v", err)

	if r, ok := err.(resultErr); ok && (r.res.Reason == ipc.ExitEncoderDied || r.res.Reason == ipc.ExitEncoderDiedGameAlreadyDead) {
		// nothing left to talk to
	} else {
		if res := c.channel.SendEvent(ipc.EventStop, c.encoderPID); !res.Ok() {
			c.reportFailure(res)
		}
	}
	c.teardownMovie(m)
	c.movie = nil
}

func (c *Capturer) reportFailure(res ipc.Result) {
	switch res.Reason {
	case ipc.ExitEncoderError:
		c.log.Error("encoder: %s", res.Message)
	case ipc.ExitEncoderDied:
		c.log.Error("encoder process exited unexpectedly")
	case ipc.ExitEncoderDiedGameAlreadyDead:
		c.log.Info("encoder exited during game shutdown")
	}
}

func (c *Capturer) teardownMovie(m *movieState) {
	dev := c.gpu.Device
	dev.WaitIdle()
	if m.overlay != nil {
		m.overlay.destroy()
	}
	if m.mos != nil {
		m.mos.destroy()
	}
	if m.blitPipeline != (gpu.Pipeline{}) {
		dev.DestroyPipeline(m.blitPipeline)
		dev.DestroyPipelineLayout(m.blitPipeLay)
		dev.DestroyDescriptorSetLayout(m.blitLayout)
	}
	if m.blitPool != (gpu.DescriptorPool{}) {
		dev.DestroyDescriptorPool(m.blitPool)
	}
	if m.shared != nil {
		dev.DestroySharedImage(m.shared)
	}
}

// Close shuts the whole Capturer down: active movie, encoder process,
// shared channel.
func (c *Capturer) Close() error {
	c.Stop()
	if c.encoderCmd != nil && c.encoderCmd.Process != nil {
		c.encoderCmd.Process.Kill()
		c.encoderCmd.Wait()
	}
	if c.fdPair != nil {
		c.fdPair.Close()
	}
	if c.channel != nil {
		c.channel.Close()
	}
	return nil
}

// resultErr carries an RPC failure as an error so the shutter's error path
// can propagate it without losing the exit-reason classification.
type resultErr struct {
	res ipc.Result
}

func (e resultErr) Error() string {
	if e.res.Message != "" {
		return e.res.Message
	}
	return fmt.Sprintf("encoder rpc failed (%d)", e.res.Reason)
}

func resultError(res ipc.Result) error { return resultErr{res: res} }
