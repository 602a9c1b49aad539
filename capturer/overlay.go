package capturer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/NOT-REAL-GAMES/moviecap/gpu"
)

// SDF baking parameters. onedgeValue 128 is stb_truetype's convention; the
// distance scale fixes how many atlas levels one pixel of distance spans.
const (
	sdfPadding    = 4
	sdfOnEdge     = 128
	sdfPixelScale = 32.0
)

var fontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
}

// resolveFont finds a font file for (family, weight, stretch, style) by
// scanning the system font directories. The match is by normalized file
// name: family plus the style words that matter ("bold", "italic", ...).
// Failure is fatal to movie start.
func resolveFont(family, weight, stretch, style string) (string, error) {
	if strings.ContainsRune(family, os.PathSeparator) {
		// A path is accepted directly, for hosts that ship their own font.
		if _, err := os.Stat(family); err != nil {
			return "", fmt.Errorf("overlay: font file %q: %w", family, err)
		}
		return family, nil
	}

	norm := func(s string) string {
		return strings.ToLower(strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s))
	}

	want := norm(family)
	var wantSuffix string
	if norm(weight) == "bold" {
		wantSuffix += "bold"
	}
	if s := norm(style); s == "italic" || s == "oblique" {
		wantSuffix += "oblique"
	}
	if s := norm(stretch); s == "condensed" {
		wantSuffix = "condensed" + wantSuffix
	}

	var best string
	for _, dir := range fontDirs {
		filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".ttf" && ext != ".otf" {
				return nil
			}
			base := norm(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			if !strings.HasPrefix(base, want) {
				return nil
			}
			rest := strings.TrimPrefix(base, want)
			if wantSuffix == "" {
				// Plain style wants the bare family file, not Bold/Oblique.
				if rest == "" {
					best = path
				}
				if best == "" && (rest == "regular" || rest == "book") {
					best = path
				}
			} else if rest == wantSuffix || rest == "oblique"+wantSuffix || rest == wantSuffix+"oblique" {
				best = path
			}
			return nil
		})
		if best != "" {
			return best, nil
		}
	}

	return "", fmt.Errorf("overlay: no font found for family %q (weight=%s stretch=%s style=%s)", family, weight, stretch, style)
}

type overlayPush struct {
	DstX, DstY     int32
	AtlasX, AtlasY int32
	GlyphW, GlyphH int32
	_pad0, _pad1   int32 // vec4 alignment for the color members
	Fill           [4]float32
	Outline        [4]float32
	OutlineWidth   float32
}

// overlayRenderer rasterizes the velocity readout into the emit texture: an
// SDF atlas baked once at movie start, one compute dispatch per glyph.
type overlayRenderer struct {
	ctx   *gpu.Context
	atlas *sdfAtlas

	width, height uint32

	atlasImage  gpu.Image
	atlasMemory gpu.DeviceMemory
	atlasView   gpu.ImageView

	layout   gpu.DescriptorSetLayout
	pipeLay  gpu.PipelineLayout
	pipeline gpu.Pipeline
	set      gpu.DescriptorSet
	pool     gpu.DescriptorPool

	fill    [4]float32
	outline [4]float32
	// outlineWidth in normalized SDF units, precomputed from the profile's
	// pixel border size.
	outlineWidth float32
	alignX       int
	alignY       int
	padding      int
}

func newOverlayRenderer(ctx *gpu.Context, prof *Profile, width, height uint32, dstView gpu.ImageView) (*overlayRenderer, error) {
	fontPath, err := resolveFont(prof.VelocFontFamily, prof.VelocFontWeight, prof.VelocFontStretch, prof.VelocFontStyle)
	if err != nil {
		return nil, err
	}
	fontData, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("overlay: read font %q: %w", fontPath, err)
	}

	atlas, err := generateSDFAtlas(fontData, float32(prof.VelocFontSize), sdfPadding, sdfOnEdge, sdfPixelScale)
	if err != nil {
		return nil, err
	}

	o := &overlayRenderer{
		ctx: ctx, atlas: atlas,
		width: width, height: height,
		outlineWidth: float32(prof.VelocBorderSize) * sdfPixelScale / 255.0,
		alignX:       prof.VelocAlignX,
		alignY:       prof.VelocAlignY,
		padding:      prof.VelocPadding,
	}
	for i := 0; i < 4; i++ {
		o.fill[i] = float32(prof.VelocColor[i]) / 255.0
		o.outline[i] = float32(prof.VelocBorderColor[i]) / 255.0
	}
	if prof.VelocBorderSize <= 0 {
		o.outline[3] = 0
	}

	dev := ctx.Device
	o.atlasImage, o.atlasMemory, err = dev.CreateImageWithMemory(
		uint32(atlas.Width), uint32(atlas.Height),
		gpu.FORMAT_R8_UNORM,
		gpu.IMAGE_TILING_OPTIMAL,
		gpu.IMAGE_USAGE_STORAGE_BIT|gpu.IMAGE_USAGE_TRANSFER_DST_BIT,
		gpu.MEMORY_PROPERTY_DEVICE_LOCAL_BIT,
		ctx.Physical,
	)
	if err != nil {
		return nil, fmt.Errorf("overlay: atlas texture: %w", err)
	}
	o.atlasView, err = dev.CreateImageViewForTexture(o.atlasImage, gpu.FORMAT_R8_UNORM)
	if err != nil {
		o.destroy()
		return nil, fmt.Errorf("overlay: atlas view: %w", err)
	}

	if err := o.uploadAtlas(); err != nil {
		o.destroy()
		return nil, err
	}

	o.pool, err = dev.CreateDescriptorPool(&gpu.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []gpu.DescriptorPoolSize{
			{Type: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 2},
		},
	})
	if err != nil {
		o.destroy()
		return nil, fmt.Errorf("overlay: descriptor pool: %w", err)
	}

	o.layout, o.pipeLay, o.pipeline, err = ctx.BuildComputePipeline(overlayShader, "overlay.comp",
		[]gpu.DescriptorSetLayoutBinding{
			{Binding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
			{Binding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE, DescriptorCount: 1, StageFlags: gpu.SHADER_STAGE_COMPUTE_BIT},
		},
		uint32(unsafe.Sizeof(overlayPush{})),
	)
	if err != nil {
		o.destroy()
		return nil, fmt.Errorf("overlay: pipeline: %w", err)
	}

	sets, err := dev.AllocateDescriptorSets(&gpu.DescriptorSetAllocateInfo{
		DescriptorPool: o.pool,
		SetLayouts:     []gpu.DescriptorSetLayout{o.layout},
	})
	if err != nil {
		o.destroy()
		return nil, fmt.Errorf("overlay: descriptor set: %w", err)
	}
	o.set = sets[0]

	dev.UpdateDescriptorSets([]gpu.WriteDescriptorSet{
		{DstSet: o.set, DstBinding: 0, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: dstView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
		{DstSet: o.set, DstBinding: 1, DescriptorType: gpu.DESCRIPTOR_TYPE_STORAGE_IMAGE,
			ImageInfo: []gpu.DescriptorImageInfo{{ImageView: o.atlasView, ImageLayout: gpu.IMAGE_LAYOUT_GENERAL}}},
	})

	return o, nil
}

func (o *overlayRenderer) uploadAtlas() error {
	dev := o.ctx.Device
	size := uint64(len(o.atlas.Pixels))

	staging, stagingMem, err := dev.CreateBufferWithMemory(
		size,
		gpu.BUFFER_USAGE_TRANSFER_SRC_BIT,
		gpu.MEMORY_PROPERTY_HOST_VISIBLE_BIT|gpu.MEMORY_PROPERTY_HOST_COHERENT_BIT,
		o.ctx.Physical,
	)
	if err != nil {
		return fmt.Errorf("overlay: atlas staging: %w", err)
	}
	defer func() {
		dev.DestroyBuffer(staging)
		dev.FreeMemory(stagingMem)
	}()

	if err := dev.UploadToBuffer(stagingMem, o.atlas.Pixels); err != nil {
		return fmt.Errorf("overlay: atlas upload: %w", err)
	}

	return o.ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.PipelineBarrier(
			gpu.PIPELINE_STAGE_TOP_OF_PIPE_BIT, gpu.PIPELINE_STAGE_TRANSFER_BIT, 0,
			[]gpu.ImageMemoryBarrier{{
				DstAccessMask: gpu.ACCESS_TRANSFER_WRITE_BIT,
				OldLayout:     gpu.IMAGE_LAYOUT_UNDEFINED,
				NewLayout:     gpu.IMAGE_LAYOUT_GENERAL,
				Image:         o.atlasImage,
				SubresourceRange: gpu.WholeColorImage(),
			}},
		)
		cmd.CopyBufferToImage(staging, o.atlasImage, gpu.IMAGE_LAYOUT_GENERAL, []gpu.BufferImageCopy{{
			ImageSubresource: gpu.ImageSubresourceLayers{AspectMask: gpu.IMAGE_ASPECT_COLOR_BIT, LayerCount: 1},
			ImageExtent:      gpu.Extent3D{Width: uint32(o.atlas.Width), Height: uint32(o.atlas.Height), Depth: 1},
		}})
		return nil
	})
}

// speedString formats the XY speed the way the readout shows it.
func speedString(vx, vy float64) string {
	return strconv.Itoa(int(math.Round(math.Hypot(vx, vy))))
}

// draw rasterizes text onto the destination texture. Positioning is percent
// alignment relative to screen center; digit advances are tabular so the
// string never jitters as the value changes.
func (o *overlayRenderer) draw(text string) error {
	totalAdvance := 0
	for _, r := range text {
		totalAdvance += o.atlas.Chars[r].XAdvance
	}

	centerX := float64(o.width) / 2 * (1 + float64(o.alignX)/100)
	centerY := float64(o.height) / 2 * (1 + float64(o.alignY)/100)
	penX := int(centerX) - totalAdvance/2
	baseY := int(centerY) + o.padding

	return o.ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		cmd.BindPipeline(gpu.PIPELINE_BIND_POINT_COMPUTE, o.pipeline)
		cmd.BindDescriptorSets(gpu.PIPELINE_BIND_POINT_COMPUTE, o.pipeLay, 0, []gpu.DescriptorSet{o.set}, nil)

		for _, r := range text {
			ch, ok := o.atlas.Chars[r]
			if !ok {
				continue
			}
			if ch.Width > 0 && ch.Height > 0 {
				push := overlayPush{
					DstX:   int32(penX + ch.XOffset),
					DstY:   int32(baseY + ch.YOffset),
					AtlasX: int32(float32(o.atlas.Width) * ch.U0),
					AtlasY: int32(float32(o.atlas.Height) * ch.V0),
					GlyphW: int32(ch.Width), GlyphH: int32(ch.Height),
					Fill: o.fill, Outline: o.outline,
					OutlineWidth: o.outlineWidth,
				}
				cmd.CmdPushConstants(o.pipeLay, gpu.SHADER_STAGE_COMPUTE_BIT, 0, uint32(unsafe.Sizeof(push)), unsafe.Pointer(&push))
				cmd.Dispatch(groupCount(uint32(ch.Width)), groupCount(uint32(ch.Height)), 1)
			}
			penX += ch.XAdvance
		}
		return nil
	})
}

func (o *overlayRenderer) destroy() {
	dev := o.ctx.Device
	dev.WaitIdle()
	if o.pipeline != (gpu.Pipeline{}) {
		dev.DestroyPipeline(o.pipeline)
		dev.DestroyPipelineLayout(o.pipeLay)
		dev.DestroyDescriptorSetLayout(o.layout)
	}
	if o.pool != (gpu.DescriptorPool{}) {
		dev.DestroyDescriptorPool(o.pool)
	}
	if o.atlasView != (gpu.ImageView{}) {
		dev.DestroyImageView(o.atlasView)
	}
	if o.atlasImage != (gpu.Image{}) {
		dev.DestroyImage(o.atlasImage)
		dev.FreeMemory(o.atlasMemory)
	}
}
