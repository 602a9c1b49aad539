// sync.go
package gpu

/*
#include <vulkan/vulkan.h>
#include <stdlib.h>

typedef VkResult (*PFN_call_vkGetMemoryFdKHR)(VkDevice, const VkMemoryGetFdInfoKHR*, int*);

static VkResult call_vkGetMemoryFdKHR(void *fn, VkDevice device, const VkMemoryGetFdInfoKHR *info, int *fd) {
	return ((PFN_call_vkGetMemoryFdKHR)fn)(device, info, fd);
}
*/
import "C"
import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

type FenceCreateInfo struct {
	Flags uint32
}

func (device Device) CreateFence(createInfo *FenceCreateInfo) (Fence, error) {
	cInfo := (*C.VkFenceCreateInfo)(C.calloc(1, C.sizeof_VkFenceCreateInfo))
	defer C.free(unsafe.Pointer(cInfo))
	cInfo.sType = C.VK_STRUCTURE_TYPE_FENCE_CREATE_INFO
	cInfo.flags = C.VkFenceCreateFlags(createInfo.Flags)

	var fence C.VkFence
	result := C.vkCreateFence(device.handle, cInfo, nil, &fence)
	if result != C.VK_SUCCESS {
		return Fence{}, Result(result)
	}
	return Fence{handle: fence}, nil
}

func (device Device) DestroyFence(fence Fence) {
	C.vkDestroyFence(device.handle, fence.handle, nil)
}

func (device Device) WaitForFences(fences []Fence, waitAll bool, timeout uint64) error {
	handles := make([]C.VkFence, len(fences))
	for i, f := range fences {
		handles[i] = f.handle
	}
	all := C.VkBool32(C.VK_FALSE)
	if waitAll {
		all = C.VK_TRUE
	}
	result := C.vkWaitForFences(device.handle, C.uint32_t(len(handles)), &handles[0], all, C.uint64_t(timeout))
	if result != C.VK_SUCCESS {
		return Result(result)
	}
	return nil
}

// SubmitInfo carries command buffers only: this pipeline synchronizes with
// fences, never semaphores (every submission is followed by a host wait).
type SubmitInfo struct {
	CommandBuffers []CommandBuffer
}

func (queue Queue) Submit(submits []SubmitInfo, fence Fence) error {
	cSubmits := (*C.VkSubmitInfo)(C.calloc(C.size_t(len(submits)), C.sizeof_VkSubmitInfo))
	defer C.free(unsafe.Pointer(cSubmits))
	submitSlice := unsafe.Slice(cSubmits, len(submits))

	for i, s := range submits {
		submitSlice[i].sType = C.VK_STRUCTURE_TYPE_SUBMIT_INFO
		n := len(s.CommandBuffers)
		cmdBufs := (*C.VkCommandBuffer)(C.calloc(C.size_t(n), C.sizeof_VkCommandBuffer))
		defer C.free(unsafe.Pointer(cmdBufs))
		bufSlice := unsafe.Slice(cmdBufs, n)
		for j, cb := range s.CommandBuffers {
			bufSlice[j] = cb.handle
		}
		submitSlice[i].commandBufferCount = C.uint32_t(n)
		submitSlice[i].pCommandBuffers = cmdBufs
	}

	result := C.vkQueueSubmit(queue.handle, C.uint32_t(len(submits)), cSubmits, fence.handle)
	if result != C.VK_SUCCESS {
		return Result(result)
	}
	return nil
}

// KeyedMutexKey identifies which side of the shared BGRA texture may touch it.
// The two processes alternate: whichever side holds a key acquired its turn by
// releasing the *other* key last time (see KeyedMutexTexture).
type KeyedMutexKey uint64

const (
	KeyGame    KeyedMutexKey = 0
	KeyEncoder KeyedMutexKey = 1
)

// KeyedMutexTexture wraps an external-memory-backed image whose ownership is
// handed off between Capturer and Encoder. On a Windows host this rendezvous
// would be VK_KHR_win32_keyed_mutex; the contract that matters is that a side
// may only acquire with the key the other side released with, so here it is
// enforced with a process-shared wait built on the same shared-memory region
// as the rest of the channel (see ipc.Channel.KeyedMutexWord) rather than a
// platform-gated Vulkan struct, keeping this package buildable on any host
// that exposes VK_KHR_external_memory_fd.
type KeyedMutexTexture struct {
	Image  Image
	Memory DeviceMemory
	State  *KeyedMutexState
}

// KeyedMutexState is the process-shared word backing the rendezvous: an
// atomic holder key laid out in the shared-memory header alongside
// movie_params so both sides see the same instance.
type KeyedMutexState struct {
	holder uint32 // atomic: current KeyedMutexKey permitted to acquire
}

// AcquireKeyedMutex blocks (bounded by timeoutNs) until the texture's current holder key
// equals acquireKey, via a short exponential backoff (no real OS futex is
// portable across the targets this package builds for).
func (device Device) AcquireKeyedMutex(t *KeyedMutexTexture, acquireKey KeyedMutexKey, timeoutNs uint64) error {
	deadline := time.Now().Add(time.Duration(timeoutNs))
	wait := time.Microsecond * 50
	for atomic.LoadUint32(&t.State.holder) != uint32(acquireKey) {
		if time.Now().After(deadline) {
			return fmt.Errorf("keyed mutex acquire(%d) timed out", acquireKey)
		}
		time.Sleep(wait)
		if wait < time.Millisecond {
			wait *= 2
		}
	}
	return nil
}

// ReleaseKeyedMutex hands the texture to the other side, tagging it with releaseKey so
// the next Acquire on that side succeeds.
func (device Device) ReleaseKeyedMutex(t *KeyedMutexTexture, releaseKey KeyedMutexKey) {
	atomic.StoreUint32(&t.State.holder, uint32(releaseKey))
}

// KeyedMutexGuard statically pairs an acquire with its mandatory opposite-key
// release so Capturer and Encoder can never both try to hold the same key.
type KeyedMutexGuard struct {
	device      Device
	texture     *KeyedMutexTexture
	releaseWith KeyedMutexKey
}

// WithKeyedMutex acquires acquireKey, returning a guard whose Release always
// hands the texture back tagged releaseKey. Capturer calls
// WithKeyedMutex(KeyGame, KeyEncoder); Encoder calls the opposite.
func (device Device) WithKeyedMutex(t *KeyedMutexTexture, acquireKey, releaseKey KeyedMutexKey, timeoutNs uint64) (*KeyedMutexGuard, error) {
	if err := device.AcquireKeyedMutex(t, acquireKey, timeoutNs); err != nil {
		return nil, err
	}
	return &KeyedMutexGuard{device: device, texture: t, releaseWith: releaseKey}, nil
}

func (g *KeyedMutexGuard) Release() {
	g.device.ReleaseKeyedMutex(g.texture, g.releaseWith)
}

// ExternalMemoryFd exports device memory as a POSIX file descriptor so a
// sibling process can import the same physical allocation, the Linux analog
// of an inheritable NT handle. The Capturer sends the fd to the running
// Encoder with SCM_RIGHTS over the ipc socketpair (ipc.FdPair.SendFd).
func (device Device) ExternalMemoryFd(memory DeviceMemory) (int, error) {
	getFdInfo := C.VkMemoryGetFdInfoKHR{}
	getFdInfo.sType = C.VK_STRUCTURE_TYPE_MEMORY_GET_FD_INFO_KHR
	getFdInfo.memory = memory.handle
	getFdInfo.handleType = C.VK_EXTERNAL_MEMORY_HANDLE_TYPE_OPAQUE_FD_BIT

	cName := C.CString("vkGetMemoryFdKHR")
	defer C.free(unsafe.Pointer(cName))
	fn := C.vkGetDeviceProcAddr(device.handle, cName)
	if fn == nil {
		return -1, Result(C.VK_ERROR_EXTENSION_NOT_PRESENT)
	}

	var fd C.int
	result := C.call_vkGetMemoryFdKHR(unsafe.Pointer(fn), device.handle, &getFdInfo, &fd)
	if result != C.VK_SUCCESS {
		return -1, Result(result)
	}

	return int(fd), nil
}
