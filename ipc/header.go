package ipc

/*
#include <string.h>
#include <stdint.h>

typedef struct {
	uint32_t event_type;
	uint32_t error;
	char     error_message[256];

	int32_t  game_pid;
	int32_t  game_texture_fd;
	uint32_t keyed_mutex_holder;
	uint64_t game_texture_size;
	uint32_t waiting_audio_samples;

	char     dest_path[512];
	int32_t  width;
	int32_t  height;
	double   fps;
	char     video_encoder[32];
	char     audio_encoder[32];
	char     x264_preset[16];
	int32_t  x264_crf;
	int32_t  x264_intra;
	char     dnxhr_profile[16];
	int32_t  audio_enabled;
	int32_t  audio_channels;
	int32_t  audio_hz;
	int32_t  audio_bits;
} shm_header;
*/
import "C"

import "unsafe"

func headerSize() int { return int(C.sizeof_shm_header) }

func (c *Channel) header() *C.shm_header {
	return (*C.shm_header)(c.base)
}

func cstr(dst *C.char, max int, s string) {
	b := []byte(s)
	if len(b) > max-1 {
		b = b[:max-1]
	}
	for i := range b {
		*(*byte)(unsafe.Add(unsafe.Pointer(dst), i)) = b[i]
	}
	*(*byte)(unsafe.Add(unsafe.Pointer(dst), len(b))) = 0
}

func gostr(src *C.char, max int) string {
	b := C.GoBytes(unsafe.Pointer(src), C.int(max))
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// SetEventType is called only by the Capturer side; event_type is part of
// the Capturer-owned half of the header.
func (c *Channel) SetEventType(e EventType) { c.header().event_type = C.uint32_t(e) }
func (c *Channel) EventType() EventType     { return EventType(c.header().event_type) }

// SetError/Message are written only by the Encoder side.
func (c *Channel) SetError(msg string) {
	h := c.header()
	h.error = 1
	cstr(&h.error_message[0], 256, msg)
}
func (c *Channel) ClearError() {
	h := c.header()
	h.error = 0
	h.error_message[0] = 0
}
func (c *Channel) HasError() bool   { return c.header().error != 0 }
func (c *Channel) ErrorMessage() string { return gostr(&c.header().error_message[0], 256) }

func (c *Channel) SetGamePID(pid int)  { c.header().game_pid = C.int32_t(pid) }
func (c *Channel) GamePID() int        { return int(c.header().game_pid) }

func (c *Channel) SetGameTextureFd(fd int) { c.header().game_texture_fd = C.int32_t(fd) }
func (c *Channel) GameTextureFd() int      { return int(c.header().game_texture_fd) }

func (c *Channel) SetGameTextureSize(n uint64) { c.header().game_texture_size = C.uint64_t(n) }
func (c *Channel) GameTextureSize() uint64     { return uint64(c.header().game_texture_size) }

// KeyedMutexWord is the process-shared rendezvous word for the shared
// texture's keyed mutex (see gpu.KeyedMutexStateAt). Living in the header
// means both sides arbitrate on the same physical memory.
func (c *Channel) KeyedMutexWord() unsafe.Pointer {
	return unsafe.Pointer(&c.header().keyed_mutex_holder)
}

func (c *Channel) SetWaitingAudioSamples(n uint32) { c.header().waiting_audio_samples = C.uint32_t(n) }
func (c *Channel) WaitingAudioSamples() uint32     { return uint32(c.header().waiting_audio_samples) }

// SetMovieParams writes the full immutable-for-one-movie block; it may only
// change at START.
func (c *Channel) SetMovieParams(p MovieParams) {
	h := c.header()
	cstr(&h.dest_path[0], 512, p.DestPath)
	h.width = C.int32_t(p.Width)
	h.height = C.int32_t(p.Height)
	h.fps = C.double(p.Fps)
	cstr(&h.video_encoder[0], 32, p.VideoEncoder)
	cstr(&h.audio_encoder[0], 32, p.AudioEncoder)
	cstr(&h.x264_preset[0], 16, p.X264Preset)
	h.x264_crf = C.int32_t(p.X264CRF)
	h.x264_intra = boolToC(p.X264Intra)
	cstr(&h.dnxhr_profile[0], 16, p.DnxhrProfile)
	h.audio_enabled = boolToC(p.AudioEnabled)
	h.audio_channels = C.int32_t(p.AudioChannels)
	h.audio_hz = C.int32_t(p.AudioHz)
	h.audio_bits = C.int32_t(p.AudioBits)
}

func (c *Channel) MovieParams() MovieParams {
	h := c.header()
	return MovieParams{
		DestPath:      gostr(&h.dest_path[0], 512),
		Width:         int(h.width),
		Height:        int(h.height),
		Fps:           float64(h.fps),
		VideoEncoder:  gostr(&h.video_encoder[0], 32),
		AudioEncoder:  gostr(&h.audio_encoder[0], 32),
		X264Preset:    gostr(&h.x264_preset[0], 16),
		X264CRF:       int(h.x264_crf),
		X264Intra:     h.x264_intra != 0,
		DnxhrProfile:  gostr(&h.dnxhr_profile[0], 16),
		AudioEnabled:  h.audio_enabled != 0,
		AudioChannels: int(h.audio_channels),
		AudioHz:       int(h.audio_hz),
		AudioBits:     int(h.audio_bits),
	}
}

func boolToC(b bool) C.int32_t {
	if b {
		return 1
	}
	return 0
}
