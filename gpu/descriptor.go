// descriptor.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

type DescriptorSetLayoutBinding struct {
	Binding         uint32
	DescriptorType  DescriptorType
	DescriptorCount uint32
	StageFlags      ShaderStageFlags
}

type DescriptorSetLayoutCreateInfo struct {
	Bindings []DescriptorSetLayoutBinding
}

func (device Device) CreateDescriptorSetLayout(createInfo *DescriptorSetLayoutCreateInfo) (DescriptorSetLayout, error) {
	bindings := make([]C.VkDescriptorSetLayoutBinding, len(createInfo.Bindings))
	for i, b := range createInfo.Bindings {
		bindings[i].binding = C.uint32_t(b.Binding)
		bindings[i].descriptorType = C.VkDescriptorType(b.DescriptorType)
		bindings[i].descriptorCount = C.uint32_t(b.DescriptorCount)
		bindings[i].stageFlags = C.VkShaderStageFlags(b.StageFlags)
	}

	cInfo := (*C.VkDescriptorSetLayoutCreateInfo)(C.calloc(1, C.sizeof_VkDescriptorSetLayoutCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_DESCRIPTOR_SET_LAYOUT_CREATE_INFO
	cInfo.bindingCount = C.uint32_t(len(bindings))
	if len(bindings) > 0 {
		cInfo.pBindings = &bindings[0]
	}

	var layout C.VkDescriptorSetLayout
	result := C.vkCreateDescriptorSetLayout(device.handle, cInfo, nil, &layout)
	if result != C.VK_SUCCESS {
		return DescriptorSetLayout{}, Result(result)
	}
	return DescriptorSetLayout{handle: layout}, nil
}

func (device Device) DestroyDescriptorSetLayout(layout DescriptorSetLayout) {
	C.vkDestroyDescriptorSetLayout(device.handle, layout.handle, nil)
}

type DescriptorPoolSize struct {
	Type            DescriptorType
	DescriptorCount uint32
}

type DescriptorPoolCreateInfo struct {
	MaxSets   uint32
	PoolSizes []DescriptorPoolSize
}

func (device Device) CreateDescriptorPool(createInfo *DescriptorPoolCreateInfo) (DescriptorPool, error) {
	sizes := make([]C.VkDescriptorPoolSize, len(createInfo.PoolSizes))
	for i, s := range createInfo.PoolSizes {
		sizes[i]._type = C.VkDescriptorType(s.Type)
		sizes[i].descriptorCount = C.uint32_t(s.DescriptorCount)
	}

	cInfo := (*C.VkDescriptorPoolCreateInfo)(C.calloc(1, C.sizeof_VkDescriptorPoolCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_DESCRIPTOR_POOL_CREATE_INFO
	cInfo.maxSets = C.uint32_t(createInfo.MaxSets)
	cInfo.poolSizeCount = C.uint32_t(len(sizes))
	if len(sizes) > 0 {
		cInfo.pPoolSizes = &sizes[0]
	}

	var pool C.VkDescriptorPool
	result := C.vkCreateDescriptorPool(device.handle, cInfo, nil, &pool)
	if result != C.VK_SUCCESS {
		return DescriptorPool{}, Result(result)
	}
	return DescriptorPool{handle: pool}, nil
}

func (device Device) DestroyDescriptorPool(pool DescriptorPool) {
	C.vkDestroyDescriptorPool(device.handle, pool.handle, nil)
}

type DescriptorSetAllocateInfo struct {
	DescriptorPool DescriptorPool
	SetLayouts     []DescriptorSetLayout
}

func (device Device) AllocateDescriptorSets(allocInfo *DescriptorSetAllocateInfo) ([]DescriptorSet, error) {
	layouts := make([]C.VkDescriptorSetLayout, len(allocInfo.SetLayouts))
	for i, l := range allocInfo.SetLayouts {
		layouts[i] = l.handle
	}

	cInfo := (*C.VkDescriptorSetAllocateInfo)(C.calloc(1, C.sizeof_VkDescriptorSetAllocateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_DESCRIPTOR_SET_ALLOCATE_INFO
	cInfo.descriptorPool = allocInfo.DescriptorPool.handle
	cInfo.descriptorSetCount = C.uint32_t(len(layouts))
	cInfo.pSetLayouts = &layouts[0]

	handles := make([]C.VkDescriptorSet, len(layouts))
	result := C.vkAllocateDescriptorSets(device.handle, cInfo, &handles[0])
	if result != C.VK_SUCCESS {
		return nil, Result(result)
	}

	sets := make([]DescriptorSet, len(handles))
	for i := range sets {
		sets[i] = DescriptorSet{handle: handles[i]}
	}
	return sets, nil
}

type DescriptorImageInfo struct {
	ImageView   ImageView
	ImageLayout ImageLayout
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type WriteDescriptorSet struct {
	DstSet         DescriptorSet
	DstBinding     uint32
	DescriptorType DescriptorType
	ImageInfo      []DescriptorImageInfo
	BufferInfo     []DescriptorBufferInfo
}

func (device Device) UpdateDescriptorSets(writes []WriteDescriptorSet) {
	if len(writes) == 0 {
		return
	}

	// The write structs point at per-write info arrays, so everything is
	// allocated in C memory for the duration of the call.
	cWrites := (*C.VkWriteDescriptorSet)(C.calloc(C.size_t(len(writes)), C.sizeof_VkWriteDescriptorSet))
	defer C.free(unsafe.Pointer(cWrites))
	writeSlice := unsafe.Slice(cWrites, len(writes))

	for i, w := range writes {
		writeSlice[i].sType = C.VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET
		writeSlice[i].dstSet = w.DstSet.handle
		writeSlice[i].dstBinding = C.uint32_t(w.DstBinding)
		writeSlice[i].descriptorType = C.VkDescriptorType(w.DescriptorType)

		if len(w.ImageInfo) > 0 {
			infos := (*C.VkDescriptorImageInfo)(C.calloc(C.size_t(len(w.ImageInfo)), C.sizeof_VkDescriptorImageInfo))
			defer C.free(unsafe.Pointer(infos))
			infoSlice := unsafe.Slice(infos, len(w.ImageInfo))
			for j, info := range w.ImageInfo {
				infoSlice[j].imageView = info.ImageView.handle
				infoSlice[j].imageLayout = C.VkImageLayout(info.ImageLayout)
			}
			writeSlice[i].descriptorCount = C.uint32_t(len(w.ImageInfo))
			writeSlice[i].pImageInfo = infos
		}

		if len(w.BufferInfo) > 0 {
			infos := (*C.VkDescriptorBufferInfo)(C.calloc(C.size_t(len(w.BufferInfo)), C.sizeof_VkDescriptorBufferInfo))
			defer C.free(unsafe.Pointer(infos))
			infoSlice := unsafe.Slice(infos, len(w.BufferInfo))
			for j, info := range w.BufferInfo {
				infoSlice[j].buffer = info.Buffer.handle
				infoSlice[j].offset = C.VkDeviceSize(info.Offset)
				infoSlice[j]._range = C.VkDeviceSize(info.Range)
			}
			writeSlice[i].descriptorCount = C.uint32_t(len(w.BufferInfo))
			writeSlice[i].pBufferInfo = infos
		}
	}

	C.vkUpdateDescriptorSets(device.handle, C.uint32_t(len(writes)), cWrites, 0, nil)
}
