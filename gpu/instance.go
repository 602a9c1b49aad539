// instance.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// cstrings converts a string slice to a C array, returning the array pointer
// and a free function. Used for layer and extension name lists.
func cstrings(names []string) (**C.char, func()) {
	if len(names) == 0 {
		return nil, func() {}
	}
	arr := make([]*C.char, len(names))
	for i, s := range names {
		arr[i] = C.CString(s)
	}
	return (**C.char)(unsafe.Pointer(&arr[0])), func() {
		for _, p := range arr {
			C.free(unsafe.Pointer(p))
		}
	}
}

func CreateInstance(createInfo *InstanceCreateInfo) (Instance, error) {
	cInfo := (*C.VkInstanceCreateInfo)(C.calloc(1, C.sizeof_VkInstanceCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_INSTANCE_CREATE_INFO

	if app := createInfo.ApplicationInfo; app != nil {
		cApp := (*C.VkApplicationInfo)(C.calloc(1, C.sizeof_VkApplicationInfo))
		defer C.free(unsafe.Pointer(cApp))
		cApp.sType = C.VK_STRUCTURE_TYPE_APPLICATION_INFO
		cApp.applicationVersion = C.uint32_t(app.ApplicationVersion)
		cApp.engineVersion = C.uint32_t(app.EngineVersion)
		cApp.apiVersion = C.uint32_t(app.ApiVersion)
		if app.ApplicationName != "" {
			cApp.pApplicationName = C.CString(app.ApplicationName)
			defer C.free(unsafe.Pointer(cApp.pApplicationName))
		}
		if app.EngineName != "" {
			cApp.pEngineName = C.CString(app.EngineName)
			defer C.free(unsafe.Pointer(cApp.pEngineName))
		}
		cInfo.pApplicationInfo = cApp
	}

	layers, freeLayers := cstrings(createInfo.EnabledLayerNames)
	defer freeLayers()
	cInfo.enabledLayerCount = C.uint32_t(len(createInfo.EnabledLayerNames))
	cInfo.ppEnabledLayerNames = layers

	exts, freeExts := cstrings(createInfo.EnabledExtensionNames)
	defer freeExts()
	cInfo.enabledExtensionCount = C.uint32_t(len(createInfo.EnabledExtensionNames))
	cInfo.ppEnabledExtensionNames = exts

	var instance C.VkInstance
	result := C.vkCreateInstance(cInfo, nil, &instance)
	if result != C.VK_SUCCESS {
		return Instance{}, Result(result)
	}
	return Instance{handle: instance}, nil
}

func (instance Instance) Destroy() {
	C.vkDestroyInstance(instance.handle, nil)
}

func (instance Instance) EnumeratePhysicalDevices() ([]PhysicalDevice, error) {
	var count C.uint32_t
	result := C.vkEnumeratePhysicalDevices(instance.handle, &count, nil)
	if result != C.VK_SUCCESS {
		return nil, Result(result)
	}
	if count == 0 {
		return nil, nil
	}

	handles := make([]C.VkPhysicalDevice, count)
	result = C.vkEnumeratePhysicalDevices(instance.handle, &count, &handles[0])
	if result != C.VK_SUCCESS {
		return nil, Result(result)
	}

	devices := make([]PhysicalDevice, count)
	for i := range devices {
		devices[i] = PhysicalDevice{handle: handles[i]}
	}
	return devices, nil
}
