package capturer

/*
#cgo pkg-config: vulkan
#cgo LDFLAGS: -lm

#define STB_TRUETYPE_IMPLEMENTATION
#define STBTT_STATIC
#include <stdlib.h>
#include "stb_truetype.h"
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// fontInfo wraps an stb_truetype font handle used to bake the velocity
// overlay glyph set (the runes listed in glyphSet).
type fontInfo struct {
	data   []byte
	handle *C.stbtt_fontinfo
}

// loadFont parses TTF/OTF bytes resolved from the movie profile's
// velocity_overlay_font settings. The Capturer ships no embedded font: the
// glyph source is whatever the system (or the host) provides.
func loadFont(data []byte) (*fontInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty font data")
	}
	f := &fontInfo{
		data:   data,
		handle: (*C.stbtt_fontinfo)(C.malloc(C.size_t(unsafe.Sizeof(C.stbtt_fontinfo{})))),
	}

	result := C.stbtt_InitFont(f.handle, (*C.uchar)(unsafe.Pointer(&data[0])), 0)
	if result == 0 {
		C.free(unsafe.Pointer(f.handle))
		return nil, fmt.Errorf("failed to initialize overlay font")
	}

	return f, nil
}

func (f *fontInfo) scaleForPixelHeight(pixelHeight float32) float32 {
	return float32(C.stbtt_ScaleForPixelHeight(f.handle, C.float(pixelHeight)))
}

// codepointHMetrics returns advance width and left side bearing, in font units.
func (f *fontInfo) codepointHMetrics(codepoint int) (advanceWidth, leftSideBearing int) {
	var cAdvance, cLeftBearing C.int
	C.stbtt_GetCodepointHMetrics(f.handle, C.int(codepoint), &cAdvance, &cLeftBearing)
	return int(cAdvance), int(cLeftBearing)
}

// codepointSDF bakes a signed-distance-field bitmap for one glyph. The
// returned slice is a Go copy; the C-side buffer is freed before returning.
func (f *fontInfo) codepointSDF(scale float32, codepoint, padding int, onedgeValue byte, pixelDistScale float32) ([]byte, int, int, int, int) {
	var width, height, xoff, yoff C.int

	cBitmap := C.stbtt_GetCodepointSDF(
		f.handle,
		C.float(scale),
		C.int(codepoint),
		C.int(padding),
		C.uchar(onedgeValue),
		C.float(pixelDistScale),
		&width,
		&height,
		&xoff,
		&yoff,
	)
	if cBitmap == nil {
		return nil, 0, 0, 0, 0
	}

	w, h := int(width), int(height)
	size := w * h
	goSlice := make([]byte, size)
	cSlice := (*[1 << 30]byte)(unsafe.Pointer(cBitmap))[:size:size]
	copy(goSlice, cSlice)
	C.stbtt_FreeSDF((*C.uchar)(cBitmap), nil)

	return goSlice, w, h, int(xoff), int(yoff)
}

func (f *fontInfo) free() {
	if f.handle != nil {
		C.free(unsafe.Pointer(f.handle))
		f.handle = nil
	}
}
