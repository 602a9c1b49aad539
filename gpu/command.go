// command.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

type CommandPoolCreateFlags uint32

const COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT CommandPoolCreateFlags = C.VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT

type CommandPoolCreateInfo struct {
	Flags            CommandPoolCreateFlags
	QueueFamilyIndex uint32
}

func (device Device) CreateCommandPool(createInfo *CommandPoolCreateInfo) (CommandPool, error) {
	cInfo := (*C.VkCommandPoolCreateInfo)(C.calloc(1, C.sizeof_VkCommandPoolCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_COMMAND_POOL_CREATE_INFO
	cInfo.flags = C.VkCommandPoolCreateFlags(createInfo.Flags)
	cInfo.queueFamilyIndex = C.uint32_t(createInfo.QueueFamilyIndex)

	var pool C.VkCommandPool
	result := C.vkCreateCommandPool(device.handle, cInfo, nil, &pool)
	if result != C.VK_SUCCESS {
		return CommandPool{}, Result(result)
	}
	return CommandPool{handle: pool}, nil
}

func (device Device) DestroyCommandPool(pool CommandPool) {
	C.vkDestroyCommandPool(device.handle, pool.handle, nil)
}

type CommandBufferLevel int32

const COMMAND_BUFFER_LEVEL_PRIMARY CommandBufferLevel = C.VK_COMMAND_BUFFER_LEVEL_PRIMARY

type CommandBufferAllocateInfo struct {
	CommandPool        CommandPool
	Level              CommandBufferLevel
	CommandBufferCount uint32
}

func (device Device) AllocateCommandBuffers(allocInfo *CommandBufferAllocateInfo) ([]CommandBuffer, error) {
	cInfo := (*C.VkCommandBufferAllocateInfo)(C.calloc(1, C.sizeof_VkCommandBufferAllocateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_ALLOCATE_INFO
	cInfo.commandPool = allocInfo.CommandPool.handle
	cInfo.level = C.VkCommandBufferLevel(allocInfo.Level)
	cInfo.commandBufferCount = C.uint32_t(allocInfo.CommandBufferCount)

	handles := make([]C.VkCommandBuffer, allocInfo.CommandBufferCount)
	result := C.vkAllocateCommandBuffers(device.handle, cInfo, &handles[0])
	if result != C.VK_SUCCESS {
		return nil, Result(result)
	}

	buffers := make([]CommandBuffer, len(handles))
	for i := range buffers {
		buffers[i] = CommandBuffer{handle: handles[i]}
	}
	return buffers, nil
}

func (device Device) FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer) {
	handles := make([]C.VkCommandBuffer, len(buffers))
	for i, b := range buffers {
		handles[i] = b.handle
	}
	C.vkFreeCommandBuffers(device.handle, pool.handle, C.uint32_t(len(handles)), &handles[0])
}

type CommandBufferUsageFlags uint32

const COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT CommandBufferUsageFlags = C.VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT

type CommandBufferBeginInfo struct {
	Flags CommandBufferUsageFlags
}

func (cmd CommandBuffer) Begin(beginInfo *CommandBufferBeginInfo) error {
	cInfo := (*C.VkCommandBufferBeginInfo)(C.calloc(1, C.sizeof_VkCommandBufferBeginInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_BEGIN_INFO
	cInfo.flags = C.VkCommandBufferUsageFlags(beginInfo.Flags)

	result := C.vkBeginCommandBuffer(cmd.handle, cInfo)
	if result != C.VK_SUCCESS {
		return Result(result)
	}
	return nil
}

func (cmd CommandBuffer) End() error {
	result := C.vkEndCommandBuffer(cmd.handle)
	if result != C.VK_SUCCESS {
		return Result(result)
	}
	return nil
}

// ImageMemoryBarrier covers the two things the pipeline ever fences on the
// GPU: the one-time UNDEFINED->GENERAL transition of a fresh texture, and
// making compute writes visible to the transfer that stages them out.
type ImageMemoryBarrier struct {
	SrcAccessMask    AccessFlags
	DstAccessMask    AccessFlags
	OldLayout        ImageLayout
	NewLayout        ImageLayout
	Image            Image
	SubresourceRange ImageSubresourceRange
}

func (cmd CommandBuffer) PipelineBarrier(srcStageMask, dstStageMask PipelineStageFlags, dependencyFlags uint32, imageMemoryBarriers []ImageMemoryBarrier) {
	cBarriers := make([]C.VkImageMemoryBarrier, len(imageMemoryBarriers))
	for i, b := range imageMemoryBarriers {
		cBarriers[i].sType = C.VK_STRUCTURE_TYPE_IMAGE_MEMORY_BARRIER
		cBarriers[i].srcAccessMask = C.VkAccessFlags(b.SrcAccessMask)
		cBarriers[i].dstAccessMask = C.VkAccessFlags(b.DstAccessMask)
		cBarriers[i].oldLayout = C.VkImageLayout(b.OldLayout)
		cBarriers[i].newLayout = C.VkImageLayout(b.NewLayout)
		cBarriers[i].srcQueueFamilyIndex = C.VK_QUEUE_FAMILY_IGNORED
		cBarriers[i].dstQueueFamilyIndex = C.VK_QUEUE_FAMILY_IGNORED
		cBarriers[i].image = b.Image.handle
		cBarriers[i].subresourceRange.aspectMask = C.VkImageAspectFlags(b.SubresourceRange.AspectMask)
		cBarriers[i].subresourceRange.baseMipLevel = C.uint32_t(b.SubresourceRange.BaseMipLevel)
		cBarriers[i].subresourceRange.levelCount = C.uint32_t(b.SubresourceRange.LevelCount)
		cBarriers[i].subresourceRange.baseArrayLayer = C.uint32_t(b.SubresourceRange.BaseArrayLayer)
		cBarriers[i].subresourceRange.layerCount = C.uint32_t(b.SubresourceRange.LayerCount)
	}

	var pBarriers *C.VkImageMemoryBarrier
	if len(cBarriers) > 0 {
		pBarriers = &cBarriers[0]
	}

	C.vkCmdPipelineBarrier(
		cmd.handle,
		C.VkPipelineStageFlags(srcStageMask),
		C.VkPipelineStageFlags(dstStageMask),
		C.VkDependencyFlags(dependencyFlags),
		0, nil,
		0, nil,
		C.uint32_t(len(cBarriers)), pBarriers,
	)
}

type ClearColorValue struct {
	Float32 [4]float32
}

func (cmd CommandBuffer) CmdClearColorImage(image Image, imageLayout ImageLayout, color *ClearColorValue, ranges []ImageSubresourceRange) {
	cRanges := make([]C.VkImageSubresourceRange, len(ranges))
	for i, r := range ranges {
		cRanges[i].aspectMask = C.VkImageAspectFlags(r.AspectMask)
		cRanges[i].baseMipLevel = C.uint32_t(r.BaseMipLevel)
		cRanges[i].levelCount = C.uint32_t(r.LevelCount)
		cRanges[i].baseArrayLayer = C.uint32_t(r.BaseArrayLayer)
		cRanges[i].layerCount = C.uint32_t(r.LayerCount)
	}

	C.vkCmdClearColorImage(
		cmd.handle,
		image.handle,
		C.VkImageLayout(imageLayout),
		(*C.VkClearColorValue)(unsafe.Pointer(color)),
		C.uint32_t(len(cRanges)),
		&cRanges[0],
	)
}

// BufferImageCopy describes one plane's worth of buffer<->image transfer.
type BufferImageCopy struct {
	BufferOffset      uint64
	BufferRowLength   uint32
	BufferImageHeight uint32
	ImageSubresource  ImageSubresourceLayers
	ImageOffset       Offset3D
	ImageExtent       Extent3D
}

func vulkanizeBufferImageCopies(regions []BufferImageCopy) []C.VkBufferImageCopy {
	cRegions := make([]C.VkBufferImageCopy, len(regions))
	for i, r := range regions {
		cRegions[i].bufferOffset = C.VkDeviceSize(r.BufferOffset)
		cRegions[i].bufferRowLength = C.uint32_t(r.BufferRowLength)
		cRegions[i].bufferImageHeight = C.uint32_t(r.BufferImageHeight)
		cRegions[i].imageSubresource.aspectMask = C.VkImageAspectFlags(r.ImageSubresource.AspectMask)
		cRegions[i].imageSubresource.mipLevel = C.uint32_t(r.ImageSubresource.MipLevel)
		cRegions[i].imageSubresource.baseArrayLayer = C.uint32_t(r.ImageSubresource.BaseArrayLayer)
		cRegions[i].imageSubresource.layerCount = C.uint32_t(r.ImageSubresource.LayerCount)
		cRegions[i].imageOffset.x = C.int32_t(r.ImageOffset.X)
		cRegions[i].imageOffset.y = C.int32_t(r.ImageOffset.Y)
		cRegions[i].imageOffset.z = C.int32_t(r.ImageOffset.Z)
		cRegions[i].imageExtent.width = C.uint32_t(r.ImageExtent.Width)
		cRegions[i].imageExtent.height = C.uint32_t(r.ImageExtent.Height)
		cRegions[i].imageExtent.depth = C.uint32_t(r.ImageExtent.Depth)
	}
	return cRegions
}

// CopyBufferToImage uploads (the overlay atlas is the only caller today).
func (cmd CommandBuffer) CopyBufferToImage(srcBuffer Buffer, dstImage Image, dstImageLayout ImageLayout, regions []BufferImageCopy) {
	cRegions := vulkanizeBufferImageCopies(regions)
	C.vkCmdCopyBufferToImage(cmd.handle, srcBuffer.handle, dstImage.handle,
		C.VkImageLayout(dstImageLayout),
		C.uint32_t(len(cRegions)), &cRegions[0])
}

// CopyImageToBuffer downloads: plane textures into the ring's staging
// buffers.
func (cmd CommandBuffer) CopyImageToBuffer(srcImage Image, srcImageLayout ImageLayout, dstBuffer Buffer, regions []BufferImageCopy) {
	cRegions := vulkanizeBufferImageCopies(regions)
	C.vkCmdCopyImageToBuffer(cmd.handle, srcImage.handle,
		C.VkImageLayout(srcImageLayout),
		dstBuffer.handle,
		C.uint32_t(len(cRegions)), &cRegions[0])
}

func (cmd CommandBuffer) BindPipeline(bindPoint PipelineBindPoint, pipeline Pipeline) {
	C.vkCmdBindPipeline(cmd.handle, C.VkPipelineBindPoint(bindPoint), pipeline.handle)
}

func (cmd CommandBuffer) BindDescriptorSets(pipelineBindPoint PipelineBindPoint, layout PipelineLayout, firstSet uint32, descriptorSets []DescriptorSet, dynamicOffsets []uint32) {
	cSets := make([]C.VkDescriptorSet, len(descriptorSets))
	for i, s := range descriptorSets {
		cSets[i] = s.handle
	}

	var pOffsets *C.uint32_t
	cOffsets := make([]C.uint32_t, len(dynamicOffsets))
	for i, o := range dynamicOffsets {
		cOffsets[i] = C.uint32_t(o)
	}
	if len(cOffsets) > 0 {
		pOffsets = &cOffsets[0]
	}

	C.vkCmdBindDescriptorSets(
		cmd.handle,
		C.VkPipelineBindPoint(pipelineBindPoint),
		layout.handle,
		C.uint32_t(firstSet),
		C.uint32_t(len(cSets)),
		&cSets[0],
		C.uint32_t(len(cOffsets)),
		pOffsets,
	)
}

func (cmd CommandBuffer) CmdPushConstants(layout PipelineLayout, stageFlags ShaderStageFlags, offset, size uint32, pValues unsafe.Pointer) {
	C.vkCmdPushConstants(
		cmd.handle,
		layout.handle,
		C.VkShaderStageFlags(stageFlags),
		C.uint32_t(offset),
		C.uint32_t(size),
		pValues,
	)
}

func (cmd CommandBuffer) Dispatch(groupCountX, groupCountY, groupCountZ uint32) {
	C.vkCmdDispatch(cmd.handle, C.uint32_t(groupCountX), C.uint32_t(groupCountY), C.uint32_t(groupCountZ))
}
