// memory.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"
import "unsafe"

// findMemoryType picks a memory type satisfying both the resource's type
// bits and the requested properties.
func (physicalDevice PhysicalDevice) findMemoryType(typeBits uint32, properties MemoryPropertyFlags) (uint32, error) {
	var memProps C.VkPhysicalDeviceMemoryProperties
	C.vkGetPhysicalDeviceMemoryProperties(physicalDevice.handle, &memProps)

	for i := uint32(0); i < uint32(memProps.memoryTypeCount); i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		flags := MemoryPropertyFlags(memProps.memoryTypes[i].propertyFlags)
		if flags&properties == properties {
			return i, nil
		}
	}
	return 0, Result(C.VK_ERROR_FORMAT_NOT_SUPPORTED)
}

func (device Device) allocateMemory(size uint64, memoryTypeIndex uint32, next unsafe.Pointer) (DeviceMemory, error) {
	cInfo := (*C.VkMemoryAllocateInfo)(C.calloc(1, C.sizeof_VkMemoryAllocateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO
	cInfo.pNext = next
	cInfo.allocationSize = C.VkDeviceSize(size)
	cInfo.memoryTypeIndex = C.uint32_t(memoryTypeIndex)

	var memory C.VkDeviceMemory
	result := C.vkAllocateMemory(device.handle, cInfo, nil, &memory)
	if result != C.VK_SUCCESS {
		return DeviceMemory{}, Result(result)
	}
	return DeviceMemory{handle: memory}, nil
}

func (device Device) FreeMemory(memory DeviceMemory) {
	C.vkFreeMemory(device.handle, memory.handle, nil)
}

// CreateBufferWithMemory creates a buffer, allocates memory with the given
// properties and binds the two. Every buffer in this pipeline (weight
// uniform, atlas upload staging, download ring slots) goes through here.
func (device Device) CreateBufferWithMemory(size uint64, usage BufferUsageFlags, properties MemoryPropertyFlags, physicalDevice PhysicalDevice) (Buffer, DeviceMemory, error) {
	cInfo := (*C.VkBufferCreateInfo)(C.calloc(1, C.sizeof_VkBufferCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_BUFFER_CREATE_INFO
	cInfo.size = C.VkDeviceSize(size)
	cInfo.usage = C.VkBufferUsageFlags(usage)
	cInfo.sharingMode = C.VK_SHARING_MODE_EXCLUSIVE

	var handle C.VkBuffer
	result := C.vkCreateBuffer(device.handle, cInfo, nil, &handle)
	if result != C.VK_SUCCESS {
		return Buffer{}, DeviceMemory{}, Result(result)
	}
	buffer := Buffer{handle: handle}

	var memReqs C.VkMemoryRequirements
	C.vkGetBufferMemoryRequirements(device.handle, buffer.handle, &memReqs)

	memType, err := physicalDevice.findMemoryType(uint32(memReqs.memoryTypeBits), properties)
	if err != nil {
		device.DestroyBuffer(buffer)
		return Buffer{}, DeviceMemory{}, err
	}

	memory, err := device.allocateMemory(uint64(memReqs.size), memType, nil)
	if err != nil {
		device.DestroyBuffer(buffer)
		return Buffer{}, DeviceMemory{}, err
	}

	result = C.vkBindBufferMemory(device.handle, buffer.handle, memory.handle, 0)
	if result != C.VK_SUCCESS {
		device.FreeMemory(memory)
		device.DestroyBuffer(buffer)
		return Buffer{}, DeviceMemory{}, Result(result)
	}

	return buffer, memory, nil
}

func (device Device) DestroyBuffer(buffer Buffer) {
	C.vkDestroyBuffer(device.handle, buffer.handle, nil)
}

func (device Device) MapMemory(memory DeviceMemory, offset, size uint64) (unsafe.Pointer, error) {
	var p unsafe.Pointer
	result := C.vkMapMemory(device.handle, memory.handle, C.VkDeviceSize(offset), C.VkDeviceSize(size), 0, &p)
	if result != C.VK_SUCCESS {
		return nil, Result(result)
	}
	return p, nil
}

func (device Device) UnmapMemory(memory DeviceMemory) {
	C.vkUnmapMemory(device.handle, memory.handle)
}

// UploadToBuffer writes data through a transient map of host-visible,
// coherent memory.
func (device Device) UploadToBuffer(memory DeviceMemory, data []byte) error {
	p, err := device.MapMemory(memory, 0, uint64(len(data)))
	if err != nil {
		return err
	}
	C.memcpy(p, unsafe.Pointer(&data[0]), C.size_t(len(data)))
	device.UnmapMemory(memory)
	return nil
}
