package encoder

import (
	"fmt"
	"unsafe"

	"github.com/NOT-REAL-GAMES/moviecap/gpu"
)

// vidQueuedTextures is the ring depth. The drain threshold of depth-2 is
// load-bearing: it is what hides GPU->CPU latency without stalling the
// graphics pipeline. Keep it configurable but default here.
const vidQueuedTextures = 16

// ringIndices is the pure index arithmetic of the download ring, split from
// the Vulkan plumbing: two monotonic 64-bit counters where the read side
// deliberately trails the write side.
type ringIndices struct {
	depth    uint64
	lag      uint64
	writeIdx uint64
	readIdx  uint64
}

func newRingIndices(depth uint64) ringIndices {
	return ringIndices{depth: depth, lag: depth - 2}
}

// pending is writeIdx - readIdx; the invariant 0 <= pending <= depth holds
// at every observable point.
func (r *ringIndices) pending() uint64 { return r.writeIdx - r.readIdx }

// canPush reports whether a write slot is free.
func (r *ringIndices) canPush() bool { return r.pending() < r.depth }

// shouldDrain reports whether the read side must advance: only once the
// write index leads by more than depth-2 is mapping permitted.
func (r *ringIndices) shouldDrain() bool { return r.pending() > r.lag }

func (r *ringIndices) push() uint64 {
	slot := r.writeIdx % r.depth
	r.writeIdx++
	return slot
}

func (r *ringIndices) pop() uint64 {
	slot := r.readIdx % r.depth
	r.readIdx++
	return slot
}

// ringSlot holds one queued frame's staging buffers, one per plane.
type ringSlot struct {
	buffers  []gpu.Buffer
	memories []gpu.DeviceMemory
}

// downloadRing stages converted plane textures into host-visible buffers and
// maps them out several frames later.
type downloadRing struct {
	ctx   *gpu.Context
	conv  *converter
	idx   ringIndices
	slots []ringSlot
}

func newDownloadRing(ctx *gpu.Context, conv *converter) (*downloadRing, error) {
	r := &downloadRing{ctx: ctx, conv: conv, idx: newRingIndices(vidQueuedTextures)}

	for i := 0; i < vidQueuedTextures; i++ {
		var slot ringSlot
		for _, p := range conv.planes {
			buf, mem, err := ctx.Device.CreateBufferWithMemory(
				uint64(p.byteSize()),
				gpu.BUFFER_USAGE_TRANSFER_DST_BIT,
				gpu.MEMORY_PROPERTY_HOST_VISIBLE_BIT|gpu.MEMORY_PROPERTY_HOST_COHERENT_BIT,
				ctx.Physical,
			)
			if err != nil {
				r.destroy()
				return nil, fmt.Errorf("ring: staging buffer: %w", err)
			}
			slot.buffers = append(slot.buffers, buf)
			slot.memories = append(slot.memories, mem)
		}
		r.slots = append(r.slots, slot)
	}

	return r, nil
}

// convertAndPush runs the conversion pass and copies every plane to the next
// write slot's staging buffers. The submission itself is the explicit flush:
// OneShot blocks on a fence, so a later frame can never overwrite a queued
// copy that has not completed.
func (r *downloadRing) convertAndPush() error {
	if !r.idx.canPush() {
		return fmt.Errorf("ring: overflow (write %d, read %d)", r.idx.writeIdx, r.idx.readIdx)
	}
	slot := &r.slots[r.idx.writeIdx%r.idx.depth]

	err := r.ctx.OneShot(func(cmd gpu.CommandBuffer) error {
		r.conv.recordConvert(cmd)
		for i, p := range r.conv.planes {
			cmd.CopyImageToBuffer(p.image, gpu.IMAGE_LAYOUT_GENERAL, slot.buffers[i], []gpu.BufferImageCopy{{
				ImageSubresource: gpu.ImageSubresourceLayers{AspectMask: gpu.IMAGE_ASPECT_COLOR_BIT, LayerCount: 1},
				ImageExtent:      gpu.Extent3D{Width: p.w, Height: p.h, Depth: 1},
			}},
			)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.idx.push()
	return nil
}

// shouldDrain reports whether a mapped readback is due.
func (r *downloadRing) shouldDrain() bool { return r.idx.shouldDrain() }

// hasPending reports whether any queued frames remain (teardown drain).
func (r *downloadRing) hasPending() bool { return r.idx.pending() > 0 }

// drainInto maps the oldest slot and copies each plane row-by-row into the
// destination planes, converting from the staging pitch to the frame's own
// line sizes. The map is blocking; the ring's lag is what makes that cheap.
func (r *downloadRing) drainInto(planes [][]byte, linesizes []int) error {
	slot := &r.slots[r.idx.readIdx%r.idx.depth]

	for i, p := range r.conv.planes {
		ptr, err := r.ctx.Device.MapMemory(slot.memories[i], 0, uint64(p.byteSize()))
		if err != nil {
			return fmt.Errorf("ring: map staging plane %d: %w", i, err)
		}
		src := unsafe.Slice((*byte)(ptr), p.byteSize())

		pitch := p.rowBytes()
		dstPitch := linesizes[i]
		for y := 0; y < int(p.h); y++ {
			copy(planes[i][y*dstPitch:y*dstPitch+pitch], src[y*pitch:(y+1)*pitch])
		}
		r.ctx.Device.UnmapMemory(slot.memories[i])
	}

	r.idx.pop()
	return nil
}

func (r *downloadRing) destroy() {
	dev := r.ctx.Device
	dev.WaitIdle()
	for _, slot := range r.slots {
		for i := range slot.buffers {
			dev.DestroyBuffer(slot.buffers[i])
			dev.FreeMemory(slot.memories[i])
		}
	}
	r.slots = nil
}
