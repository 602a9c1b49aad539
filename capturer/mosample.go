package capturer

import (
	"fmt"
	"unsafe"

	"github.com/NOT-REAL-GAMES/moviecap/gpu"
)

// shutterEps guards against emitting a zero-weighted trailing partial after
// the integer part of the remainder has been folded out.
const shutterEps = 1e-6

// shutterOps are the three actions the shutter math drives. Split out from
// the GPU plumbing so the weight sequencing is testable in isolation.
type shutterOps struct {
	accumulate func(weight float64) error
	emit       func() error
	clear      func() error
}

// shutter carries the per-movie motion-sampling state: the fractional
// exposure remainder and the precomputed 1/mult step.
type shutter struct {
	exposure  float64
	step      float64
	remainder float64
}

func newShutter(exposure float64, mult int) *shutter {
	return &shutter{exposure: exposure, step: 1.0 / float64(mult)}
}

// subFrame integrates one sub-frame. The virtual shutter is open during the
// trailing exposure fraction of each output-frame interval; sub-frames
// before it opens contribute nothing, sub-frames inside it contribute
// proportionally, and crossing 1.0 emits the accumulated frame (several
// times if step > 1).
func (s *shutter) subFrame(ops shutterOps) error {
	e := s.exposure
	rOld := s.remainder
	rNew := rOld + s.step
	opens := 1.0 - e

	switch {
	case rNew <= opens:
		// shutter not yet open

	case rNew < 1.0:
		w := (rNew - max(opens, rOld)) / e
		if err := ops.accumulate(w); err != nil {
			return err
		}

	default:
		w := (1.0 - max(opens, rOld)) / e
		if err := ops.accumulate(w); err != nil {
			return err
		}
		if err := ops.emit(); err != nil {
			return err
		}
		rNew -= 1.0
		for rNew >= 1.0 {
			if err := ops.emit(); err != nil {
				return err
			}
			rNew -= 1.0
		}
		if err := ops.clear(); err != nil {
			return err
		}
		if rNew > shutterEps && rNew > opens {
			w := (rNew - opens) / e
			if err := ops.accumulate(w); err != nil {
				return err
			}
		}
	}

	s.remainder = rNew
	return nil
}

// mosampler owns the GPU half of the accumulator: the rgba32f texture, the
// accumulate and pack pipelines, and the mapped weight buffer.
type mosampler struct {
	ctx *gpu.Context

	width, height uint32

	accImage  gpu.Image
	accMemory gpu.DeviceMemory
	accView   gpu.ImageView

	weightBuf gpu.Buffer
	weightMem gpu.DeviceMemory

	accumLayout   gpu.DescriptorSetLayout
	accumPipeline gpu.Pipeline
	accumPipeLay  gpu.PipelineLayout
	accumSet      gpu.DescriptorSet

	packLayout   gpu.DescriptorSetLayout
	packPipeline gpu.Pipeline
	packPipeLay  gpu.PipelineLayout
	packSet      gpu.DescriptorSet

	pool gpu.DescriptorPool
}

// groupCount is ceil(n/8): the shaders run in 8x8 thread groups.
func groupCount(n uint32) uint32 { return (n + 7) / 8 }

type sizePush struct {
	W, H int32
}

func newMosampler(ctx *gpu.Context, width, height uint32, subframeView, sharedView gpu.ImageView) (*mosampler, error) {
	m := &mosampler{ctx: ctx, width: width, height: height}
	dev := ctx.Device

	var err error
	m.accImage, m.accMemory, err = dev.CreateImageWithMemory(
		width, height,
		gpu.FORMAT_R32G32B32A32_SFLOAT,
		gpu.IMAGE_TILING_OPTIMAL,
		gpu.IMAGE_USAGE_STORAGE_BIT|gpu.IMAGE_USAGE_TRANSFER_DST_BIT,
		gpu.MEMORY_PROPERTY_DEVICE_LOCAL_BIT,
		ctx.Physical,
	)
	if err != nil {
		return nil, fmt.Errorf("mosample: accumulator texture: %w", err)
	}
	m.accView, err = dev.CreateImageViewForTexture(m.accImage, gpu.FORMAT_R32G32B32A32_SFLOAT)
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: accumulator view: %w", err)
	}

	m.weightBuf, m.weightMem, err = dev.CreateBufferWithMemory(
		16,
		gpu.BUFFER_USAGE_UNIFORM_BUFFER_BIT,
		gpu.MEMORY_PROPERTY_HOST_VISIBLE_BIT|gpu.MEMORY_PROPERTY_HOST_COHERENT_BIT,
		ctx.Physical,
	)
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: weight buffer: %w", err)
	}

	m.pool, err = dev.CreateDescriptorPool(&gpu.DescriptorPoolCreateInfo{
		MaxSets: 2,
		PoolSizes: []gpu.DescriptorPoolSize{
			{Type: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 4},
			{Type: gpu.DESCRIPTOR_TYPE_UNIFORM_BUFFER, DescriptorCount: 1},
		},
	})
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: descriptor pool: %w", err)
	}

	// accumulate pass: subframe + acc + weight
	m.accumLayout, m.accumPipeLay, m.accumPipeline, err = ctx.BuildComputePipeline(accumulateShader, "accumulate.comp",
		[]gpu.DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
			{Binding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
			{Binding: 2, DescriptorType: gpu.DESCRIPTOR_TYPE_UNIFORM_BUFFER, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
		},
		uint32(unsafe.Sizeof(sizePush{})),
	)
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: accumulate pipeline: %w", err)
	}

	// pack pass: acc -> shared
	m.packLayout, m.packPipeLay, m.packPipeline, err = ctx.BuildComputePipeline(packShader, "pack.comp",
		[]gpu.DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
			{Binding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
		},
		uint32(unsafe.Sizeof(sizePush{})),
	)
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: pack pipeline: %w", err)
	}

	sets, err := dev.AllocateDescriptorSets(&gpu.DescriptorSetAllocateInfo{
		DescriptorPool: m.pool,
		SetLayouts:     []gpu.DescriptorSetLayout{m.accumLayout, m.packLayout},
	})
	if err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: descriptor sets: %w", err)
	}
	m.accumSet, m.packSet = sets[0], sets[1]

	dev.UpdateDescriptorSets([]gpu.WriteDescriptorSet{
		{DstSet: m.accumSet, DstBinding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: subframeView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
		{DstSet: m.accumSet, DstBinding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: m.accView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
		{DstSet: m.accumSet, DstBinding: 2, DescriptorType: gpu.DESCRIPTOR_TYPE_UNIFORM_BUFFER,
			BufferInfo: []gpu.DescriptorBufferInfo{{Buffer: m.weightBuf, Offset: 0, Range: 16}}},
		{DstSet: m.packSet, DstBinding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: m.accView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
		{DstSet: m.packSet, DstBinding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: sharedView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
	})

	// Transition the accumulator into GENERAL and zero it.
	if err := ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.PipelineBarrier(
			gpu.PIPELINE_STAGE_TOP_OF_PIPE_BIT, gpu.PIPELINE_STAGE_TRANSFER_BIT, 0,
			[]gpu.ImageMemoryBarrier{{
				DstAccessMask: gpu.ACCESS_TRANSFER_WRITE_BIT,
				OldLayout:     gpu.IMAGE_LAYOUT_UNDEFINED,
				NewLayout:     gpu.IMAGE_LAYOUT_GENERAL,
				Image:         m.accImage,
				SubresourceRange: gpu.WholeColorImage(),
			}},
		)
		m.recordClear(cmd)
		return nil
	}); err != nil {
		m.destroy()
		return nil, fmt.Errorf("mosample: init accumulator: %w", err)
	}

	return m, nil
}

// uploadWeight writes the per-pass weight through a discard-style map; a map
// failure is fatal to the movie.
func (m *mosampler) uploadWeight(w float64) error {
	p, err := m.ctx.Device.MapMemory(m.weightMem, 0, 16)
	if err != nil {
		return fmt.Errorf("mosample: map weight buffer: %w", err)
	}
	*(*float32)(p) = float32(w)
	m.ctx.Device.UnmapMemory(m.weightMem)
	return nil
}

// accumulate runs one weighted add of the sub-frame into the accumulator.
func (m *mosampler) accumulate(w float64) error {
	if err := m.uploadWeight(w); err != nil {
		return err
	}
	return m.ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.BindPipeline(gpu.PIPELINE_BIND_POINT_COMPUTE, m.accumPipeline)
		cmd.BindDescriptorSets(gpu.PIPELINE_BIND_POINT_COMPUTE, m.accumPipeLay, 0, []gpu.DescriptorSet{m.accumSet}, nil)
		push := sizePush{W: int32(m.width), H: int32(m.height)}
		cmd.CmdPushConstants(m.accumPipeLay, gpu.SHADER_STAGE_COMPUTE_BIT, 0, uint32(unsafe.Sizeof(push)), unsafe.Pointer(&push))
		cmd.Dispatch(groupCount(m.width), groupCount(m.height), 1)
		return nil
	})
}

// pack converts the accumulator into the destination 8-bit texture.
func (m *mosampler) pack() error {
	return m.ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.BindPipeline(gpu.PIPELINE_BIND_POINT_COMPUTE, m.packPipeline)
		cmd.BindDescriptorSets(gpu.PIPELINE_BIND_POINT_COMPUTE, m.packPipeLay, 0, []gpu.DescriptorSet{m.packSet}, nil)
		push := sizePush{W: int32(m.width), H: int32(m.height)}
		cmd.CmdPushConstants(m.packPipeLay, gpu.SHADER_STAGE_COMPUTE_BIT, 0, uint32(unsafe.Sizeof(push)), unsafe.Pointer(&push))
		cmd.Dispatch(groupCount(m.width), groupCount(m.height), 1)
		return nil
	})
}

func (m *mosampler) recordClear(cmd gpu.CommandBuffer) {
	cmd.CmdClearColorImage(m.accImage, gpu.IMAGE_LAYOUT_GENERAL,
		&gpu.ClearColorValue{Float32: [4]float32{0, 0, 0, 1}},
		[]gpu.ImageSubresourceRange{gpu.WholeColorImage()},
	)
}

// clear resets the accumulator to opaque black between output frames.
func (m *mosampler) clear() error {
	return m.ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		m.recordClear(cmd)
		return nil
	})
}

func (m *mosampler) destroy() {
	dev := m.ctx.Device
	dev.WaitIdle()
	if m.accumPipeline != (gpu.Pipeline{}) {
		dev.DestroyPipeline(m.accumPipeline)
		dev.DestroyPipelineLayout(m.accumPipeLay)
		dev.DestroyDescriptorSetLayout(m.accumLayout)
	}
	if m.packPipeline != (gpu.Pipeline{}) {
		dev.DestroyPipeline(m.packPipeline)
		dev.DestroyPipelineLayout(m.packPipeLay)
		dev.DestroyDescriptorSetLayout(m.packLayout)
	}
	if m.pool != (gpu.DescriptorPool{}) {
		dev.DestroyDescriptorPool(m.pool)
	}
	if m.weightBuf != (gpu.Buffer{}) {
		dev.DestroyBuffer(m.weightBuf)
		dev.FreeMemory(m.weightMem)
	}
	if m.accView != (gpu.ImageView{}) {
		dev.DestroyImageView(m.accView)
	}
	if m.accImage != (gpu.Image{}) {
		dev.DestroyImage(m.accImage)
		dev.FreeMemory(m.accMemory)
	}
	*m = mosampler{ctx: m.ctx}
}

