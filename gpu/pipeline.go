// pipeline.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"
import "unsafe"

type ShaderModuleCreateInfo struct {
	Code []byte
}

func (device Device) CreateShaderModule(createInfo *ShaderModuleCreateInfo) (ShaderModule, error) {
	code := C.CBytes(createInfo.Code)
	defer C.free(code)

	cInfo := (*C.VkShaderModuleCreateInfo)(C.calloc(1, C.sizeof_VkShaderModuleCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_SHADER_MODULE_CREATE_INFO
	cInfo.codeSize = C.size_t(len(createInfo.Code))
	cInfo.pCode = (*C.uint32_t)(code)

	var module C.VkShaderModule
	result := C.vkCreateShaderModule(device.handle, cInfo, nil, &module)
	if result != C.VK_SUCCESS {
		return ShaderModule{}, Result(result)
	}
	return ShaderModule{handle: module}, nil
}

func (device Device) DestroyShaderModule(shaderModule ShaderModule) {
	C.vkDestroyShaderModule(device.handle, shaderModule.handle, nil)
}

type PushConstantRange struct {
	StageFlags ShaderStageFlags
	Offset     uint32
	Size       uint32
}

type PipelineLayoutCreateInfo struct {
	SetLayouts         []DescriptorSetLayout
	PushConstantRanges []PushConstantRange
}

func (device Device) CreatePipelineLayout(createInfo *PipelineLayoutCreateInfo) (PipelineLayout, error) {
	cInfo := (*C.VkPipelineLayoutCreateInfo)(C.calloc(1, C.sizeof_VkPipelineLayoutCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_PIPELINE_LAYOUT_CREATE_INFO

	if n := len(createInfo.SetLayouts); n > 0 {
		layouts := (*C.VkDescriptorSetLayout)(C.calloc(C.size_t(n), C.sizeof_VkDescriptorSetLayout))
		defer C.free(unsafe.Pointer(layouts))
		layoutSlice := unsafe.Slice(layouts, n)
		for i, l := range createInfo.SetLayouts {
			layoutSlice[i] = l.handle
		}
		cInfo.setLayoutCount = C.uint32_t(n)
		cInfo.pSetLayouts = layouts
	}

	if n := len(createInfo.PushConstantRanges); n > 0 {
		ranges := (*C.VkPushConstantRange)(C.calloc(C.size_t(n), C.sizeof_VkPushConstantRange))
		defer C.free(unsafe.Pointer(ranges))
		rangeSlice := unsafe.Slice(ranges, n)
		for i, r := range createInfo.PushConstantRanges {
			rangeSlice[i].stageFlags = C.VkShaderStageFlags(r.StageFlags)
			rangeSlice[i].offset = C.uint32_t(r.Offset)
			rangeSlice[i].size = C.uint32_t(r.Size)
		}
		cInfo.pushConstantRangeCount = C.uint32_t(n)
		cInfo.pPushConstantRanges = ranges
	}

	var layout C.VkPipelineLayout
	result := C.vkCreatePipelineLayout(device.handle, cInfo, nil, &layout)
	if result != C.VK_SUCCESS {
		return PipelineLayout{}, Result(result)
	}
	return PipelineLayout{handle: layout}, nil
}

func (device Device) DestroyPipelineLayout(layout PipelineLayout) {
	C.vkDestroyPipelineLayout(device.handle, layout.handle, nil)
}

// PipelineShaderStageCreateInfo names the single compute stage of a
// pipeline; Name is the shader entry point.
type PipelineShaderStageCreateInfo struct {
	Stage  ShaderStageFlags
	Module ShaderModule
	Name   string
}

type ComputePipelineCreateInfo struct {
	Stage  PipelineShaderStageCreateInfo
	Layout PipelineLayout
}

func (device Device) CreateComputePipeline(createInfo *ComputePipelineCreateInfo) (Pipeline, error) {
	cName := C.CString(createInfo.Stage.Name)
	defer C.free(unsafe.Pointer(cName))

	cInfo := (*C.VkComputePipelineCreateInfo)(C.calloc(1, C.sizeof_VkComputePipelineCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_COMPUTE_PIPELINE_CREATE_INFO
	cInfo.stage.sType = C.VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO
	cInfo.stage.stage = C.VkShaderStageFlagBits(createInfo.Stage.Stage)
	cInfo.stage.module = createInfo.Stage.Module.handle
	cInfo.stage.pName = cName
	cInfo.layout = createInfo.Layout.handle
	cInfo.basePipelineIndex = -1

	var pipeline C.VkPipeline
	result := C.vkCreateComputePipelines(device.handle, nil, 1, cInfo, nil, &pipeline)
	if result != C.VK_SUCCESS {
		return Pipeline{}, Result(result)
	}
	return Pipeline{handle: pipeline}, nil
}

func (device Device) DestroyPipeline(pipeline Pipeline) {
	C.vkDestroyPipeline(device.handle, pipeline.handle, nil)
}
