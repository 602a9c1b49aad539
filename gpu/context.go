// context.go
package gpu

import "fmt"

// Context bundles the per-process Vulkan objects the capture pipeline needs:
// one instance, one logical device with a compute-capable queue, and a
// command pool. The Encoder process creates its own; the host game hands the
// Capturer one built around the device it already renders with.
type Context struct {
	Instance         Instance
	Physical         PhysicalDevice
	Device           Device
	Queue            Queue
	QueueFamilyIndex uint32
	CommandPool      CommandPool
}

// NewContext creates a headless compute+transfer context. No surface, no
// swapchain: everything this pipeline does is compute dispatches and copies.
func NewContext(appName string) (*Context, error) {
	instance, err := CreateInstance(&InstanceCreateInfo{
		ApplicationInfo: &ApplicationInfo{
			ApplicationName:    appName,
			ApplicationVersion: MakeApiVersion(0, 1, 0, 0),
			EngineName:         appName,
			EngineVersion:      MakeApiVersion(0, 1, 0, 0),
			ApiVersion:         ApiVersion_1_3,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	devices, err := instance.EnumeratePhysicalDevices()
	if err != nil || len(devices) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("no Vulkan physical devices: %v", err)
	}
	physical := devices[0]

	computeFamily := -1
	for i, family := range physical.GetQueueFamilyProperties() {
		if family.QueueFlags&QUEUE_COMPUTE_BIT != 0 && family.QueueFlags&QUEUE_TRANSFER_BIT != 0 {
			computeFamily = i
			break
		}
	}
	if computeFamily == -1 {
		instance.Destroy()
		return nil, fmt.Errorf("no compute+transfer queue family")
	}

	device, err := physical.CreateDevice(&DeviceCreateInfo{
		QueueCreateInfos: []DeviceQueueCreateInfo{
			{QueueFamilyIndex: uint32(computeFamily), QueuePriorities: []float32{1.0}},
		},
		EnabledExtensionNames: ExternalMemoryDeviceExtensions,
	})
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("create device: %w", err)
	}

	pool, err := device.CreateCommandPool(&CommandPoolCreateInfo{
		Flags:            COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT,
		QueueFamilyIndex: uint32(computeFamily),
	})
	if err != nil {
		device.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("create command pool: %w", err)
	}

	return &Context{
		Instance:         instance,
		Physical:         physical,
		Device:           device,
		Queue:            device.GetQueue(uint32(computeFamily), 0),
		QueueFamilyIndex: uint32(computeFamily),
		CommandPool:      pool,
	}, nil
}

func (c *Context) Close() {
	c.Device.WaitIdle()
	c.Device.DestroyCommandPool(c.CommandPool)
	c.Device.Destroy()
	c.Instance.Destroy()
}

// BuildComputePipeline compiles GLSL source and assembles descriptor set
// layout, pipeline layout and pipeline for one compute pass.
func (c *Context) BuildComputePipeline(src, name string, bindings []DescriptorSetLayoutBinding, pushSize uint32) (DescriptorSetLayout, PipelineLayout, Pipeline, error) {
	dev := c.Device

	spirv, err := CompileComputeShader(src, name)
	if err != nil {
		return DescriptorSetLayout{}, PipelineLayout{}, Pipeline{}, fmt.Errorf("compile %s: %w", name, err)
	}

	module, err := dev.CreateShaderModule(&ShaderModuleCreateInfo{Code: spirv})
	if err != nil {
		return DescriptorSetLayout{}, PipelineLayout{}, Pipeline{}, fmt.Errorf("module %s: %w", name, err)
	}
	defer dev.DestroyShaderModule(module)

	setLayout, err := dev.CreateDescriptorSetLayout(&DescriptorSetLayoutCreateInfo{Bindings: bindings})
	if err != nil {
		return DescriptorSetLayout{}, PipelineLayout{}, Pipeline{}, fmt.Errorf("set layout %s: %w", name, err)
	}

	var ranges []PushConstantRange
	if pushSize > 0 {
		ranges = []PushConstantRange{{StageFlags: SHADER_STAGE_COMPUTE_BIT, Size: pushSize}}
	}
	pipeLayout, err := dev.CreatePipelineLayout(&PipelineLayoutCreateInfo{
		SetLayouts:         []DescriptorSetLayout{setLayout},
		PushConstantRanges: ranges,
	})
	if err != nil {
		dev.DestroyDescriptorSetLayout(setLayout)
		return DescriptorSetLayout{}, PipelineLayout{}, Pipeline{}, fmt.Errorf("pipeline layout %s: %w", name, err)
	}

	pipeline, err := dev.CreateComputePipeline(&ComputePipelineCreateInfo{
		Stage:  PipelineShaderStageCreateInfo{Stage: SHADER_STAGE_COMPUTE_BIT, Module: module, Name: "main"},
		Layout: pipeLayout,
	})
	if err != nil {
		dev.DestroyPipelineLayout(pipeLayout)
		dev.DestroyDescriptorSetLayout(setLayout)
		return DescriptorSetLayout{}, PipelineLayout{}, Pipeline{}, fmt.Errorf("pipeline %s: %w", name, err)
	}

	return setLayout, pipeLayout, pipeline, nil
}

// OneShot records a command buffer with record, submits it and blocks until
// the queue signals the fence. This is the "explicit pipeline flush" shape
// the download ring relies on: after OneShot returns, copies to staging have
// completed on the GPU.
func (c *Context) OneShot(record func(cmd CommandBuffer) error) error {
	cmds, err := c.Device.AllocateCommandBuffers(&CommandBufferAllocateInfo{
		CommandPool:        c.CommandPool,
		Level:              COMMAND_BUFFER_LEVEL_PRIMARY,
		CommandBufferCount: 1,
	})
	if err != nil {
		return fmt.Errorf("allocate command buffer: %w", err)
	}
	cmd := cmds[0]
	defer c.Device.FreeCommandBuffers(c.CommandPool, cmds)

	if err := cmd.Begin(&CommandBufferBeginInfo{Flags: COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT}); err != nil {
		return err
	}
	if err := record(cmd); err != nil {
		return err
	}
	if err := cmd.End(); err != nil {
		return err
	}

	fence, err := c.Device.CreateFence(&FenceCreateInfo{})
	if err != nil {
		return err
	}
	defer c.Device.DestroyFence(fence)

	if err := c.Queue.Submit([]SubmitInfo{{CommandBuffers: []CommandBuffer{cmd}}}, fence); err != nil {
		return err
	}
	return c.Device.WaitForFences([]Fence{fence}, true, ^uint64(0))
}
