// Package gpu is the Vulkan layer under the capture pipeline: a headless
// compute-and-transfer device, storage images and staging buffers, compute
// pipelines, and the external-memory texture the two processes share. It
// wraps only the slice of the API those paths touch; there is no window, no
// swapchain and no graphics pipeline here.
package gpu

/*
#cgo pkg-config: vulkan

#include <vulkan/vulkan.h>
*/
import "C"
import "fmt"

// Result wraps a VkResult as an error.
type Result int32

func (r Result) Error() string {
	switch C.VkResult(r) {
	case C.VK_ERROR_OUT_OF_HOST_MEMORY:
		return "vulkan: out of host memory"
	case C.VK_ERROR_OUT_OF_DEVICE_MEMORY:
		return "vulkan: out of device memory"
	case C.VK_ERROR_INITIALIZATION_FAILED:
		return "vulkan: initialization failed"
	case C.VK_ERROR_DEVICE_LOST:
		return "vulkan: device lost"
	case C.VK_ERROR_MEMORY_MAP_FAILED:
		return "vulkan: memory map failed"
	case C.VK_ERROR_EXTENSION_NOT_PRESENT:
		return "vulkan: extension not present"
	case C.VK_ERROR_FEATURE_NOT_PRESENT:
		return "vulkan: feature not present"
	case C.VK_ERROR_FORMAT_NOT_SUPPORTED:
		return "vulkan: format not supported"
	case C.VK_ERROR_INVALID_EXTERNAL_HANDLE:
		return "vulkan: invalid external handle"
	case C.VK_TIMEOUT:
		return "vulkan: timeout"
	default:
		return fmt.Sprintf("vulkan: error %d", int32(r))
	}
}

// Object handles. The zero value of each is "no object".

type Instance struct {
	handle C.VkInstance
}

type PhysicalDevice struct {
	handle C.VkPhysicalDevice
}

type Device struct {
	handle C.VkDevice
}

type Queue struct {
	handle C.VkQueue
}

type Image struct {
	handle C.VkImage
}

type ImageView struct {
	handle C.VkImageView
}

type Buffer struct {
	handle C.VkBuffer
}

type DeviceMemory struct {
	handle C.VkDeviceMemory
}

type CommandPool struct {
	handle C.VkCommandPool
}

type CommandBuffer struct {
	handle C.VkCommandBuffer
}

type DescriptorSetLayout struct {
	handle C.VkDescriptorSetLayout
}

type DescriptorPool struct {
	handle C.VkDescriptorPool
}

type DescriptorSet struct {
	handle C.VkDescriptorSet
}

type PipelineLayout struct {
	handle C.VkPipelineLayout
}

type Pipeline struct {
	handle C.VkPipeline
}

type ShaderModule struct {
	handle C.VkShaderModule
}

type Fence struct {
	handle C.VkFence
}

// Formats: the game backbuffer, the high-precision accumulator, and the
// planar conversion targets.
type Format int32

const (
	FORMAT_B8G8R8A8_UNORM      Format = C.VK_FORMAT_B8G8R8A8_UNORM
	FORMAT_R8_UNORM            Format = C.VK_FORMAT_R8_UNORM
	FORMAT_R8G8_UNORM          Format = C.VK_FORMAT_R8G8_UNORM
	FORMAT_R8G8B8A8_UNORM      Format = C.VK_FORMAT_R8G8B8A8_UNORM
	FORMAT_R32G32B32A32_SFLOAT Format = C.VK_FORMAT_R32G32B32A32_SFLOAT
)

type ImageTiling int32

const (
	IMAGE_TILING_OPTIMAL ImageTiling = C.VK_IMAGE_TILING_OPTIMAL
	IMAGE_TILING_LINEAR  ImageTiling = C.VK_IMAGE_TILING_LINEAR
)

// Every image in this pipeline lives in GENERAL after a one-time transition
// out of UNDEFINED; the compute passes read and write it there.
type ImageLayout int32

const (
	IMAGE_LAYOUT_UNDEFINED ImageLayout = C.VK_IMAGE_LAYOUT_UNDEFINED
	IMAGE_LAYOUT_GENERAL   ImageLayout = C.VK_IMAGE_LAYOUT_GENERAL
)

type ImageUsageFlags uint32

const (
	IMAGE_USAGE_STORAGE_BIT      ImageUsageFlags = C.VK_IMAGE_USAGE_STORAGE_BIT
	IMAGE_USAGE_TRANSFER_SRC_BIT ImageUsageFlags = C.VK_IMAGE_USAGE_TRANSFER_SRC_BIT
	IMAGE_USAGE_TRANSFER_DST_BIT ImageUsageFlags = C.VK_IMAGE_USAGE_TRANSFER_DST_BIT
)

type ImageAspectFlags uint32

const IMAGE_ASPECT_COLOR_BIT ImageAspectFlags = C.VK_IMAGE_ASPECT_COLOR_BIT

type BufferUsageFlags uint32

const (
	BUFFER_USAGE_TRANSFER_SRC_BIT   BufferUsageFlags = C.VK_BUFFER_USAGE_TRANSFER_SRC_BIT
	BUFFER_USAGE_TRANSFER_DST_BIT   BufferUsageFlags = C.VK_BUFFER_USAGE_TRANSFER_DST_BIT
	BUFFER_USAGE_UNIFORM_BUFFER_BIT BufferUsageFlags = C.VK_BUFFER_USAGE_UNIFORM_BUFFER_BIT
)

type MemoryPropertyFlags uint32

const (
	MEMORY_PROPERTY_DEVICE_LOCAL_BIT  MemoryPropertyFlags = C.VK_MEMORY_PROPERTY_DEVICE_LOCAL_BIT
	MEMORY_PROPERTY_HOST_VISIBLE_BIT  MemoryPropertyFlags = C.VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT
	MEMORY_PROPERTY_HOST_COHERENT_BIT MemoryPropertyFlags = C.VK_MEMORY_PROPERTY_HOST_COHERENT_BIT
)

type ShaderStageFlags uint32

const SHADER_STAGE_COMPUTE_BIT ShaderStageFlags = C.VK_SHADER_STAGE_COMPUTE_BIT

type DescriptorType int32

const (
	DESCRIPTOR_TYPE_STORAGE_IMAGE  DescriptorType = C.VK_DESCRIPTOR_TYPE_STORAGE_IMAGE
	DESCRIPTOR_TYPE_UNIFORM_BUFFER DescriptorType = C.VK_DESCRIPTOR_TYPE_UNIFORM_BUFFER
)

type PipelineBindPoint int32

const PIPELINE_BIND_POINT_COMPUTE PipelineBindPoint = C.VK_PIPELINE_BIND_POINT_COMPUTE

type PipelineStageFlags uint32

const (
	PIPELINE_STAGE_TOP_OF_PIPE_BIT    PipelineStageFlags = C.VK_PIPELINE_STAGE_TOP_OF_PIPE_BIT
	PIPELINE_STAGE_COMPUTE_SHADER_BIT PipelineStageFlags = C.VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT
	PIPELINE_STAGE_TRANSFER_BIT       PipelineStageFlags = C.VK_PIPELINE_STAGE_TRANSFER_BIT
)

type AccessFlags uint32

const (
	ACCESS_SHADER_READ_BIT    AccessFlags = C.VK_ACCESS_SHADER_READ_BIT
	ACCESS_SHADER_WRITE_BIT   AccessFlags = C.VK_ACCESS_SHADER_WRITE_BIT
	ACCESS_TRANSFER_READ_BIT  AccessFlags = C.VK_ACCESS_TRANSFER_READ_BIT
	ACCESS_TRANSFER_WRITE_BIT AccessFlags = C.VK_ACCESS_TRANSFER_WRITE_BIT
)

type QueueFlags uint32

const (
	QUEUE_GRAPHICS_BIT QueueFlags = C.VK_QUEUE_GRAPHICS_BIT
	QUEUE_COMPUTE_BIT  QueueFlags = C.VK_QUEUE_COMPUTE_BIT
	QUEUE_TRANSFER_BIT QueueFlags = C.VK_QUEUE_TRANSFER_BIT
)

type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

type Offset3D struct {
	X int32
	Y int32
	Z int32
}

// ImageSubresourceRange always means "the whole single-mip color image" in
// this pipeline; WholeColorImage spells that once.
type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

func WholeColorImage() ImageSubresourceRange {
	return ImageSubresourceRange{
		AspectMask: IMAGE_ASPECT_COLOR_BIT,
		LevelCount: 1,
		LayerCount: 1,
	}
}

type ImageSubresourceLayers struct {
	AspectMask     ImageAspectFlags
	MipLevel       uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// Instance / device creation parameters.

type ApplicationInfo struct {
	ApplicationName    string
	ApplicationVersion uint32
	EngineName         string
	EngineVersion      uint32
	ApiVersion         uint32
}

type InstanceCreateInfo struct {
	ApplicationInfo       *ApplicationInfo
	EnabledLayerNames     []string
	EnabledExtensionNames []string
}

type DeviceQueueCreateInfo struct {
	QueueFamilyIndex uint32
	QueuePriorities  []float32
}

type DeviceCreateInfo struct {
	QueueCreateInfos      []DeviceQueueCreateInfo
	EnabledExtensionNames []string
}

type QueueFamilyProperties struct {
	QueueFlags QueueFlags
	QueueCount uint32
}

const ApiVersion_1_3 uint32 = C.VK_API_VERSION_1_3

func MakeApiVersion(variant, major, minor, patch uint32) uint32 {
	return (variant << 29) | (major << 22) | (minor << 12) | patch
}
