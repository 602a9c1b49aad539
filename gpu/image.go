// image.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// createImage makes a single-mip, single-layer 2D image; next chains an
// optional external-memory info for the shared texture.
func (device Device) createImage(width, height uint32, format Format, tiling ImageTiling, usage ImageUsageFlags, next unsafe.Pointer) (Image, error) {
	cInfo := (*C.VkImageCreateInfo)(C.calloc(1, C.sizeof_VkImageCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_IMAGE_CREATE_INFO
	cInfo.pNext = next
	cInfo.imageType = C.VK_IMAGE_TYPE_2D
	cInfo.format = C.VkFormat(format)
	cInfo.extent.width = C.uint32_t(width)
	cInfo.extent.height = C.uint32_t(height)
	cInfo.extent.depth = 1
	cInfo.mipLevels = 1
	cInfo.arrayLayers = 1
	cInfo.samples = C.VK_SAMPLE_COUNT_1_BIT
	cInfo.tiling = C.VkImageTiling(tiling)
	cInfo.usage = C.VkImageUsageFlags(usage)
	cInfo.sharingMode = C.VK_SHARING_MODE_EXCLUSIVE
	cInfo.initialLayout = C.VK_IMAGE_LAYOUT_UNDEFINED

	var image C.VkImage
	result := C.vkCreateImage(device.handle, cInfo, nil, &image)
	if result != C.VK_SUCCESS {
		return Image{}, Result(result)
	}
	return Image{handle: image}, nil
}

func (device Device) DestroyImage(image Image) {
	C.vkDestroyImage(device.handle, image.handle, nil)
}

func (device Device) imageMemoryRequirements(image Image) (size uint64, typeBits uint32) {
	var memReqs C.VkMemoryRequirements
	C.vkGetImageMemoryRequirements(device.handle, image.handle, &memReqs)
	return uint64(memReqs.size), uint32(memReqs.memoryTypeBits)
}

func (device Device) BindImageMemory(image Image, memory DeviceMemory, offset uint64) error {
	result := C.vkBindImageMemory(device.handle, image.handle, memory.handle, C.VkDeviceSize(offset))
	if result != C.VK_SUCCESS {
		return Result(result)
	}
	return nil
}

// CreateImageWithMemory is the everyday texture path: accumulator, plane
// targets, overlay atlas. Image plus bound device-local memory.
func (device Device) CreateImageWithMemory(width, height uint32, format Format, tiling ImageTiling, usage ImageUsageFlags, properties MemoryPropertyFlags, physicalDevice PhysicalDevice) (Image, DeviceMemory, error) {
	image, err := device.createImage(width, height, format, tiling, usage, nil)
	if err != nil {
		return Image{}, DeviceMemory{}, err
	}

	size, typeBits := device.imageMemoryRequirements(image)
	memType, err := physicalDevice.findMemoryType(typeBits, properties)
	if err != nil {
		device.DestroyImage(image)
		return Image{}, DeviceMemory{}, err
	}

	memory, err := device.allocateMemory(size, memType, nil)
	if err != nil {
		device.DestroyImage(image)
		return Image{}, DeviceMemory{}, err
	}

	if err := device.BindImageMemory(image, memory, 0); err != nil {
		device.FreeMemory(memory)
		device.DestroyImage(image)
		return Image{}, DeviceMemory{}, err
	}

	return image, memory, nil
}

// CreateImageViewForTexture makes the identity-swizzled 2D color view the
// compute passes bind as a storage image.
func (device Device) CreateImageViewForTexture(image Image, format Format) (ImageView, error) {
	cInfo := (*C.VkImageViewCreateInfo)(C.calloc(1, C.sizeof_VkImageViewCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_IMAGE_VIEW_CREATE_INFO
	cInfo.image = image.handle
	cInfo.viewType = C.VK_IMAGE_VIEW_TYPE_2D
	cInfo.format = C.VkFormat(format)
	cInfo.components.r = C.VK_COMPONENT_SWIZZLE_IDENTITY
	cInfo.components.g = C.VK_COMPONENT_SWIZZLE_IDENTITY
	cInfo.components.b = C.VK_COMPONENT_SWIZZLE_IDENTITY
	cInfo.components.a = C.VK_COMPONENT_SWIZZLE_IDENTITY
	cInfo.subresourceRange.aspectMask = C.VK_IMAGE_ASPECT_COLOR_BIT
	cInfo.subresourceRange.levelCount = 1
	cInfo.subresourceRange.layerCount = 1

	var view C.VkImageView
	result := C.vkCreateImageView(device.handle, cInfo, nil, &view)
	if result != C.VK_SUCCESS {
		return ImageView{}, Result(result)
	}
	return ImageView{handle: view}, nil
}

func (device Device) DestroyImageView(imageView ImageView) {
	C.vkDestroyImageView(device.handle, imageView.handle, nil)
}
