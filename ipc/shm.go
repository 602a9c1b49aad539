package ipc

/*
#include <fcntl.h>
#include <sys/mman.h>
#include <sys/stat.h>
#include <semaphore.h>
#include <unistd.h>
#include <stdlib.h>
#include <string.h>
#include <errno.h>

static void *shm_create(const char *name, size_t total_size, int *out_fd) {
	shm_unlink(name);
	int fd = shm_open(name, O_CREAT | O_RDWR | O_EXCL, 0600);
	if (fd < 0) return NULL;
	if (ftruncate(fd, (off_t)total_size) != 0) {
		close(fd);
		return NULL;
	}
	void *p = mmap(NULL, total_size, PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
	if (p == MAP_FAILED) {
		close(fd);
		return NULL;
	}
	*out_fd = fd;
	return p;
}

static void *shm_attach(const char *name, size_t total_size, int *out_fd) {
	int fd = shm_open(name, O_RDWR, 0600);
	if (fd < 0) return NULL;
	void *p = mmap(NULL, total_size, PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
	if (p == MAP_FAILED) {
		close(fd);
		return NULL;
	}
	*out_fd = fd;
	return p;
}

static sem_t *wake_create(const char *name) {
	sem_unlink(name);
	return sem_open(name, O_CREAT | O_EXCL, 0600, 0);
}

static sem_t *wake_attach(const char *name) {
	return sem_open(name, 0);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Channel is one side's handle onto the shared-memory mapping plus the
// two auto-reset wake events (POSIX named semaphores standing in for the
// original's Win32 events — a semaphore that never exceeds count 1, posted
// once per signal and waited down to 0, has the same auto-reset contract).
type Channel struct {
	name        string
	totalSize   int
	base        unsafe.Pointer
	fd          C.int
	gameWake    *C.sem_t
	encoderWake *C.sem_t
	owner       bool // true if this side created (and must unlink) the mapping
}

// audioBufferOffset is the byte offset from region base to the fixed audio
// scratch buffer, which follows the header contiguously.
func audioBufferOffset() int { return headerSize() }

func totalRegionSize() int {
	return headerSize() + MaxSamples*2*2 // stereo S16
}

// Create builds a new mapping and wake events, to be called by the Capturer
// at init(). name must be unique per movie session (e.g. derived from PID).
func Create(name string) (*Channel, error) {
	cName := C.CString("/" + name)
	defer C.free(unsafe.Pointer(cName))

	size := totalRegionSize()
	var fd C.int
	base := C.shm_create(cName, C.size_t(size), &fd)
	if base == nil {
		return nil, fmt.Errorf("ipc: shm_open/mmap create failed for %q", name)
	}

	gw := C.wake_create(C.CString("/" + name + "_gwake"))
	ew := C.wake_create(C.CString("/" + name + "_ewake"))
	if gw == nil || ew == nil {
		C.munmap(base, C.size_t(size))
		return nil, fmt.Errorf("ipc: sem_open create failed for %q", name)
	}

	return &Channel{
		name: name, totalSize: size, base: base, fd: fd,
		gameWake: gw, encoderWake: ew, owner: true,
	}, nil
}

// Attach opens a mapping and wake events already created by Create, to be
// called by the Encoder process using the mapping name passed on its
// command line.
func Attach(name string) (*Channel, error) {
	cName := C.CString("/" + name)
	defer C.free(unsafe.Pointer(cName))

	size := totalRegionSize()
	var fd C.int
	base := C.shm_attach(cName, C.size_t(size), &fd)
	if base == nil {
		return nil, fmt.Errorf("ipc: shm_open/mmap attach failed for %q", name)
	}

	gw := C.wake_attach(C.CString("/" + name + "_gwake"))
	ew := C.wake_attach(C.CString("/" + name + "_ewake"))
	if gw == nil || ew == nil {
		C.munmap(base, C.size_t(size))
		return nil, fmt.Errorf("ipc: sem_open attach failed for %q", name)
	}

	return &Channel{
		name: name, totalSize: size, base: base, fd: fd,
		gameWake: gw, encoderWake: ew, owner: false,
	}, nil
}

// AudioBuffer returns the fixed MAX_SAMPLES stereo-S16 scratch buffer as a
// byte slice backed directly by the shared mapping.
func (c *Channel) AudioBuffer() []byte {
	p := unsafe.Add(c.base, audioBufferOffset())
	return unsafe.Slice((*byte)(p), MaxSamples*2*2)
}

func (c *Channel) Close() error {
	C.munmap(c.base, C.size_t(c.totalSize))
	C.close(c.fd)
	C.sem_close(c.gameWake)
	C.sem_close(c.encoderWake)
	if c.owner {
		cName := C.CString("/" + c.name)
		defer C.free(unsafe.Pointer(cName))
		C.shm_unlink(cName)
		C.sem_unlink(C.CString("/" + c.name + "_gwake"))
		C.sem_unlink(C.CString("/" + c.name + "_ewake"))
	}
	return nil
}

func (c *Channel) signalGameWake()    { C.sem_post(c.gameWake) }
func (c *Channel) signalEncoderWake() { C.sem_post(c.encoderWake) }
func (c *Channel) waitGameWake()      { C.sem_wait(c.gameWake) }
func (c *Channel) waitEncoderWake()   { C.sem_wait(c.encoderWake) }
