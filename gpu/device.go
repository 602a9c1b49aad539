// device.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

func (physicalDevice PhysicalDevice) GetQueueFamilyProperties() []QueueFamilyProperties {
	var count C.uint32_t
	C.vkGetPhysicalDeviceQueueFamilyProperties(physicalDevice.handle, &count, nil)
	if count == 0 {
		return nil
	}

	props := make([]C.VkQueueFamilyProperties, count)
	C.vkGetPhysicalDeviceQueueFamilyProperties(physicalDevice.handle, &count, &props[0])

	families := make([]QueueFamilyProperties, count)
	for i := range families {
		families[i] = QueueFamilyProperties{
			QueueFlags: QueueFlags(props[i].queueFlags),
			QueueCount: uint32(props[i].queueCount),
		}
	}
	return families
}

func (physicalDevice PhysicalDevice) CreateDevice(createInfo *DeviceCreateInfo) (Device, error) {
	cInfo := (*C.VkDeviceCreateInfo)(C.calloc(1, C.sizeof_VkDeviceCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO

	nQueues := len(createInfo.QueueCreateInfos)
	cQueues := (*C.VkDeviceQueueCreateInfo)(C.calloc(C.size_t(nQueues), C.sizeof_VkDeviceQueueCreateInfo))
	defer C.free(unsafe.Pointer(cQueues))
	queueSlice := unsafe.Slice(cQueues, nQueues)

	// Priority arrays are pointed to from C structs, so they live in C
	// memory until vkCreateDevice returns.
	for i, q := range createInfo.QueueCreateInfos {
		queueSlice[i].sType = C.VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO
		queueSlice[i].queueFamilyIndex = C.uint32_t(q.QueueFamilyIndex)
		queueSlice[i].queueCount = C.uint32_t(len(q.QueuePriorities))
		prios := (*C.float)(C.calloc(C.size_t(len(q.QueuePriorities)), C.sizeof_float))
		defer C.free(unsafe.Pointer(prios))
		for j, p := range q.QueuePriorities {
			unsafe.Slice(prios, len(q.QueuePriorities))[j] = C.float(p)
		}
		queueSlice[i].pQueuePriorities = prios
	}
	cInfo.queueCreateInfoCount = C.uint32_t(nQueues)
	cInfo.pQueueCreateInfos = cQueues

	exts, freeExts := cstrings(createInfo.EnabledExtensionNames)
	defer freeExts()
	cInfo.enabledExtensionCount = C.uint32_t(len(createInfo.EnabledExtensionNames))
	cInfo.ppEnabledExtensionNames = exts

	var device C.VkDevice
	result := C.vkCreateDevice(physicalDevice.handle, cInfo, nil, &device)
	if result != C.VK_SUCCESS {
		return Device{}, Result(result)
	}
	return Device{handle: device}, nil
}

func (device Device) Destroy() {
	C.vkDestroyDevice(device.handle, nil)
}

func (device Device) WaitIdle() error {
	result := C.vkDeviceWaitIdle(device.handle)
	if result != C.VK_SUCCESS {
		return Result(result)
	}
	return nil
}

func (device Device) GetQueue(queueFamilyIndex, queueIndex uint32) Queue {
	var queue C.VkQueue
	C.vkGetDeviceQueue(device.handle, C.uint32_t(queueFamilyIndex), C.uint32_t(queueIndex), &queue)
	return Queue{handle: queue}
}
