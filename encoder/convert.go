package encoder

import (
	"fmt"
	"unsafe"

	"github.com/NOT-REAL-GAMES/moviecap/codec"
	"github.com/NOT-REAL-GAMES/moviecap/gpu"
)

// planeSpec describes one output plane of a conversion target: its texture
// format and the chroma shift dividing the full frame dimensions.
type planeSpec struct {
	format        gpu.Format
	bytesPerTexel int
	divW, divH    int
}

// planeLayouts is the fixed format table: which planes each encoder
// input format decomposes into.
var planeLayouts = map[codec.PixelFormat][]planeSpec{
	codec.PixFmtNV12: {
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 1, divH: 1},
		{format: gpu.FORMAT_R8G8_UNORM, bytesPerTexel: 2, divW: 2, divH: 2},
	},
	codec.PixFmtYUV422P: {
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 1, divH: 1},
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 2, divH: 1},
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 2, divH: 1},
	},
	codec.PixFmtYUV444P: {
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 1, divH: 1},
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 1, divH: 1},
		{format: gpu.FORMAT_R8_UNORM, bytesPerTexel: 1, divW: 1, divH: 1},
	},
	codec.PixFmtBGR0: {
		{format: gpu.FORMAT_R8G8B8A8_UNORM, bytesPerTexel: 4, divW: 1, divH: 1},
	},
}

func shaderFor(pf codec.PixelFormat) (string, string, error) {
	switch pf {
	case codec.PixFmtNV12:
		return convertNV12Shader, "convert_nv12.comp", nil
	case codec.PixFmtYUV422P:
		return convertYUV422Shader, "convert_yuv422p.comp", nil
	case codec.PixFmtYUV444P:
		return convertYUV444Shader, "convert_yuv444p.comp", nil
	case codec.PixFmtBGR0:
		return convertBGR0Shader, "convert_bgr0.comp", nil
	}
	return "", "", fmt.Errorf("convert: no shader for pixel format %q", pf)
}

// requiresEven reports whether the format's chroma layout needs even frame
// dimensions; movie start refuses odd sizes for these.
func requiresEven(pf codec.PixelFormat) bool {
	return pf == codec.PixFmtNV12 || pf == codec.PixFmtYUV422P
}

type convertPush struct {
	W, H   int32
	Kr, Kb float32
}

// bt709 for HD frame sizes, bt601 otherwise.
func colorCoeffs(width, height int) (kr, kb float32) {
	if width >= 1280 || height >= 720 {
		return 0.2126, 0.0722
	}
	return 0.299, 0.114
}

type plane struct {
	spec   planeSpec
	w, h   uint32
	image  gpu.Image
	memory gpu.DeviceMemory
	view   gpu.ImageView
}

func (p *plane) rowBytes() int { return int(p.w) * p.spec.bytesPerTexel }
func (p *plane) byteSize() int { return p.rowBytes() * int(p.h) }

// converter owns the conversion pass: one compute pipeline for the movie's target
// format, writing 1-3 plane textures that the ring then stages out.
type converter struct {
	ctx    *gpu.Context
	pixFmt codec.PixelFormat
	width  uint32
	height uint32
	kr, kb float32

	planes []plane

	layout   gpu.DescriptorSetLayout
	pipeLay  gpu.PipelineLayout
	pipeline gpu.Pipeline
	set      gpu.DescriptorSet
	pool     gpu.DescriptorPool
}

func newConverter(ctx *gpu.Context, pf codec.PixelFormat, width, height uint32, srcView gpu.ImageView) (*converter, error) {
	specs, ok := planeLayouts[pf]
	if !ok {
		return nil, fmt.Errorf("convert: unsupported pixel format %q", pf)
	}
	if requiresEven(pf) && (width%2 != 0 || height%2 != 0) {
		return nil, fmt.Errorf("convert: %s requires even dimensions, got %dx%d", pf, width, height)
	}

	kr, kb := colorCoeffs(int(width), int(height))
	c := &converter{ctx: ctx, pixFmt: pf, width: width, height: height, kr: kr, kb: kb}
	dev := ctx.Device

	for _, spec := range specs {
		pw := width / uint32(spec.divW)
		ph := height / uint32(spec.divH)

		img, mem, err := dev.CreateImageWithMemory(
			pw, ph, spec.format,
			gpu.IMAGE_TILING_OPTIMAL,
			gpu.IMAGE_USAGE_STORAGE_BIT|gpu.IMAGE_USAGE_TRANSFER_SRC_BIT,
			gpu.MEMORY_PROPERTY_DEVICE_LOCAL_BIT,
			ctx.Physical,
		)
		if err != nil {
			c.destroy()
			return nil, fmt.Errorf("convert: plane texture: %w", err)
		}
		view, err := dev.CreateImageViewForTexture(img, spec.format)
		if err != nil {
			dev.DestroyImage(img)
			dev.FreeMemory(mem)
			c.destroy()
			return nil, fmt.Errorf("convert: plane view: %w", err)
		}
		c.planes = append(c.planes, plane{spec: spec, w: pw, h: ph, image: img, memory: mem, view: view})
	}

	// One-time transition of all planes into GENERAL.
	if err := ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		var barriers []gpu.ImageMemoryBarrier
		for _, p := range c.planes {
			barriers = append(barriers, gpu.ImageMemoryBarrier{
				DstAccessMask: gpu.ACCESS_SHADER_WRITE_BIT,
				OldLayout:     gpu.IMAGE_LAYOUT_UNDEFINED,
				NewLayout:     gpu.IMAGE_LAYOUT_GENERAL,
				Image:         p.image,
				SubresourceRange: gpu.WholeColorImage(),
			})
		}
		cmd.PipelineBarrier(gpu.PIPELINE_STAGE_TOP_OF_PIPE_BIT, gpu.PIPELINE_STAGE_COMPUTE_SHADER_BIT, 0, barriers)
		return nil
	}); err != nil {
		c.destroy()
		return nil, fmt.Errorf("convert: plane layout transition: %w", err)
	}

	src, name, err := shaderFor(pf)
	if err != nil {
		c.destroy()
		return nil, err
	}

	bindings := []gpu.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
	}
	for i := range c.planes {
		bindings = append(bindings, gpu.DescriptorSetLayoutBinding{
			Binding: uint32(i + 1), DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT,
		})
	}

	c.layout, c.pipeLay, c.pipeline, err = ctx.BuildComputePipeline(src, name, bindings, uint32(unsafe.Sizeof(convertPush{})))
	if err != nil {
		c.destroy()
		return nil, err
	}

	c.pool, err = dev.CreateDescriptorPool(&gpu.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []gpu.DescriptorPoolSize{
			{Type: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: uint32(1 + len(c.planes))},
		},
	})
	if err != nil {
		c.destroy()
		return nil, fmt.Errorf("convert: descriptor pool: %w", err)
	}

	sets, err := dev.AllocateDescriptorSets(&gpu.DescriptorSetAllocateInfo{
		DescriptorPool: c.pool,
		SetLayouts:     []gpu.DescriptorSetLayout{c.layout},
	})
	if err != nil {
		c.destroy()
		return nil, fmt.Errorf("convert: descriptor set: %w", err)
	}
	c.set = sets[0]

	writes := []gpu.WriteDescriptorSet{
		{DstSet: c.set, DstBinding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: srcView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
	}
	for i, p := range c.planes {
		writes = append(writes, gpu.WriteDescriptorSet{
			DstSet: c.set, DstBinding: uint32(i + 1), DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: p.view, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}},
		})
	}
	dev.UpdateDescriptorSets(writes)

	return c, nil
}

// recordConvert records the dispatch plus the barrier making plane writes
// visible to the transfer stage that follows.
func (c *converter) recordConvert(cmd gpu.CommandBuffer) {
	cmd.BindPipeline(gpu.PIPELINE_BIND_POINT_COMPUTE, c.pipeline)
	cmd.BindDescriptorSets(gpu.PIPELINE_BIND_POINT_COMPUTE, c.pipeLay, 0, []gpu.DescriptorSet{c.set}, nil)
	push := convertPush{W: int32(c.width), H: int32(c.height), Kr: c.kr, Kb: c.kb}
	cmd.CmdPushConstants(c.pipeLay, gpu.SHADER_STAGE_COMPUTE_BIT, 0, uint32(unsafe.Sizeof(push)), unsafe.Pointer(&push))
	cmd.Dispatch((c.width+7)/8, (c.height+7)/8, 1)

	var barriers []gpu.ImageMemoryBarrier
	for _, p := range c.planes {
		barriers = append(barriers, gpu.ImageMemoryBarrier{
			SrcAccessMask: gpu.ACCESS_SHADER_WRITE_BIT,
			DstAccessMask: gpu.ACCESS_TRANSFER_READ_BIT,
			OldLayout:     gpu.IMAGE_LAYOUT_GENERAL,
			NewLayout:     gpu.IMAGE_LAYOUT_GENERAL,
			Image:         p.image,
			SubresourceRange: gpu.WholeColorImage(),
		})
	}
	cmd.PipelineBarrier(gpu.PIPELINE_STAGE_COMPUTE_SHADER_BIT, gpu.PIPELINE_STAGE_TRANSFER_BIT, 0, barriers)
}

func (c *converter) destroy() {
	dev := c.ctx.Device
	dev.WaitIdle()
	if c.pipeline != (gpu.Pipeline{}) {
		dev.DestroyPipeline(c.pipeline)
		dev.DestroyPipelineLayout(c.pipeLay)
		dev.DestroyDescriptorSetLayout(c.layout)
	}
	if c.pool != (gpu.DescriptorPool{}) {
		dev.DestroyDescriptorPool(c.pool)
	}
	for _, p := range c.planes {
		dev.DestroyImageView(p.view)
		dev.DestroyImage(p.image)
		dev.FreeMemory(p.memory)
	}
	c.planes = nil
}
