// external.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// SharedImage is an external-memory-backed image whose device memory can be
// exported as a POSIX fd and re-imported by a sibling process. It backs the
// one shared BGRA texture both processes touch, with the keyed-mutex word in
// the shared-memory header arbitrating whose turn it is.
type SharedImage struct {
	Image  Image
	View   ImageView
	Memory DeviceMemory
	Size   uint64
	Width  uint32
	Height uint32
	Format Format
}

// ExternalMemoryDeviceExtensions are the device extensions both sides enable
// so memory allocations can cross the process boundary as fds.
var ExternalMemoryDeviceExtensions = []string{
	"VK_KHR_external_memory",
	"VK_KHR_external_memory_fd",
}

func (device Device) createSharableImage(width, height uint32, format Format, usage ImageUsageFlags) (Image, error) {
	extInfo := (*C.VkExternalMemoryImageCreateInfo)(C.calloc(1, C.sizeof_VkExternalMemoryImageCreateInfo))
	defer C.free(unsafe.Pointer(extInfo))
	extInfo.sType = C.VK_STRUCTURE_TYPE_EXTERNAL_MEMORY_IMAGE_CREATE_INFO
	extInfo.handleTypes = C.VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT

	return device.createImage(width, height, format, IMAGE_TILING_OPTIMAL, usage, unsafe.Pointer(extInfo))
}

// bindSharedImage allocates (with the given export/import chain), binds and
// wraps the image. On failure the image is destroyed.
func (device Device) bindSharedImage(image Image, size uint64, typeBits uint32, next unsafe.Pointer, width, height uint32, format Format, physicalDevice PhysicalDevice) (*SharedImage, error) {
	memType, err := physicalDevice.findMemoryType(typeBits, MEMORY_PROPERTY_DEVICE_LOCAL_BIT)
	if err != nil {
		device.DestroyImage(image)
		return nil, err
	}

	memory, err := device.allocateMemory(size, memType, next)
	if err != nil {
		device.DestroyImage(image)
		return nil, err
	}

	if err := device.BindImageMemory(image, memory, 0); err != nil {
		device.FreeMemory(memory)
		device.DestroyImage(image)
		return nil, err
	}

	view, err := device.CreateImageViewForTexture(image, format)
	if err != nil {
		device.FreeMemory(memory)
		device.DestroyImage(image)
		return nil, err
	}

	return &SharedImage{
		Image: image, View: view, Memory: memory,
		Size: size, Width: width, Height: height, Format: format,
	}, nil
}

// CreateSharedImage builds the exportable side of the shared texture
// (Capturer). The returned SharedImage's memory fd is obtained separately via
// ExternalMemoryFd and handed to the Encoder over the fd channel.
func (device Device) CreateSharedImage(width, height uint32, format Format, usage ImageUsageFlags, physicalDevice PhysicalDevice) (*SharedImage, error) {
	image, err := device.createSharableImage(width, height, format, usage)
	if err != nil {
		return nil, err
	}
	size, typeBits := device.imageMemoryRequirements(image)

	exportInfo := (*C.VkExportMemoryAllocateInfo)(C.calloc(1, C.sizeof_VkExportMemoryAllocateInfo))
	defer C.free(unsafe.Pointer(exportInfo))
	exportInfo.sType = C.VK_STRUCTURE_TYPE_EXPORT_MEMORY_ALLOCATE_INFO
	exportInfo.handleTypes = C.VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT

	return device.bindSharedImage(image, size, typeBits, unsafe.Pointer(exportInfo), width, height, format, physicalDevice)
}

// ImportSharedImage builds the importing side (Encoder) from a memory fd
// received over the fd channel plus the creation parameters carried in
// movie_params. The fd's ownership transfers to the driver on success.
func (device Device) ImportSharedImage(fd int, size uint64, width, height uint32, format Format, usage ImageUsageFlags, physicalDevice PhysicalDevice) (*SharedImage, error) {
	image, err := device.createSharableImage(width, height, format, usage)
	if err != nil {
		return nil, err
	}
	_, typeBits := device.imageMemoryRequirements(image)

	importInfo := (*C.VkImportMemoryFdInfoKHR)(C.calloc(1, C.sizeof_VkImportMemoryFdInfoKHR))
	defer C.free(unsafe.Pointer(importInfo))
	importInfo.sType = C.VK_STRUCTURE_TYPE_IMPORT_MEMORY_FD_INFO_KHR
	importInfo.handleType = C.VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT
	importInfo.fd = C.int(fd)

	return device.bindSharedImage(image, size, typeBits, unsafe.Pointer(importInfo), width, height, format, physicalDevice)
}

func (device Device) DestroySharedImage(s *SharedImage) {
	device.DestroyImageView(s.View)
	device.DestroyImage(s.Image)
	device.FreeMemory(s.Memory)
}

// KeyedMutexStateAt views a process-shared 32-bit word (living in the
// shared-memory header) as the keyed-mutex rendezvous state. Both sides must
// pass the same mapped word.
func KeyedMutexStateAt(p unsafe.Pointer) *KeyedMutexState {
	return (*KeyedMutexState)(p)
}
