// Package codec defines the backend-agnostic contract the render
// orchestrator drives: any video/audio encoder backend that can open codecs,
// consume frames, and mux packets. The production backend is go-astiav
// (libavcodec/libavformat/libswresample); the codec tables below resolve
// profile codec names to it.
package codec

import "fmt"

// PixelFormat names a plane layout the way the movie profile and the GPU
// conversion table name it, not a numeric FFmpeg enum. Each backend maps
// this to its own internal pixel format constant.
type PixelFormat string

const (
	PixFmtNV12    PixelFormat = "nv12"
	PixFmtYUV422P PixelFormat = "yuv422p"
	PixFmtYUV444P PixelFormat = "yuv444p"
	PixFmtBGR0    PixelFormat = "bgr0"
)

// Rational is the timebase/framerate shape shared across the contract,
// defined here rather than as a backend type so the package stays
// backend-neutral.
type Rational struct {
	Num, Den int
}

// VideoParams configures a VideoEncoder: the stream/codec-context knobs
// plus the codec-specific ones its table entry's SetupFn fills in.
type VideoParams struct {
	Width, Height int
	PixFmt        PixelFormat
	TimeBase      Rational
	Framerate     Rational
	BitRate       int64

	// x264-family
	Preset string
	CRF    int
	Intra  bool // keyint=1

	// DNxHR
	DnxhrProfile string // "lb", "sq", "hq", "hqx", "444"

	// GlobalHeader asks the codec to emit stream headers out-of-band, for
	// containers that demand it.
	GlobalHeader bool
}

// AudioParams configures an AudioEncoder.
type AudioParams struct {
	SampleRate   int
	Channels     int
	BitRate      int64
	GlobalHeader bool
}

// VideoFrame is one converted, CPU-resident frame ready for encoding, the
// output of the download ring.
type VideoFrame struct {
	Planes   [][]byte
	Linesize []int
	Pts      int64
}

// AudioFrame is one codec-frame-sized chunk of resampled, codec-native
// audio, the output of the audio FIFO drain.
type AudioFrame struct {
	Data      []byte
	NbSamples int
	Pts       int64
}

// Packet is one compressed unit ready for muxing.
type Packet struct {
	Data        []byte
	Pts, Dts    int64
	Duration    int64
	StreamIndex int
	Keyframe    bool
}

// VideoEncoder is the video half of "any encoder backend".
type VideoEncoder interface {
	Encode(frame *VideoFrame) ([]*Packet, error)
	// Flush sends the null-frame sentinel and drains any packets still
	// buffered inside the codec.
	Flush() ([]*Packet, error)
	Close() error
	StreamIndex() int
}

// AudioEncoder is the audio half.
type AudioEncoder interface {
	Encode(frame *AudioFrame) ([]*Packet, error)
	Flush() ([]*Packet, error)
	Close() error
	StreamIndex() int
	// FrameSize is the codec's fixed samples-per-frame count the audio
	// FIFO fragments to.
	FrameSize() int
}

// StreamInfo declares one stream to the muxer before the header is written.
type StreamInfo struct {
	IsAudio   bool
	CodecName string
	TimeBase  Rational

	// video
	Width, Height int
	FrameRate     Rational

	// audio
	SampleRate, Channels int
}

// Muxer writes packets into a container. Streams are declared with the
// encoder that produces them (the backend pulls codec parameters and global
// headers straight from its own encoder type) before WriteHeader.
type Muxer interface {
	AddStream(enc any, info StreamInfo) error
	WriteHeader() error
	WritePacket(pkt *Packet) error
	WriteTrailer() error
	Close() error
}

// AudioResampler converts interleaved S16 stereo to a codec's native sample
// format/rate. ExpectedOutputSamples accounts for the resampler's internal
// delay-line lookahead so callers can size scratch buffers without
// guessing.
type AudioResampler interface {
	ExpectedOutputSamples(inputSamples int) int
	Resample(interleavedS16 []int16) ([]byte, error)
	Close() error
}

// Backend constructs encoders/muxers/resamplers for the codec names it owns.
type Backend interface {
	Name() string
	NewVideoEncoder(codecName string, params VideoParams, streamIndex int) (VideoEncoder, error)
	NewAudioEncoder(codecName string, params AudioParams, streamIndex int) (AudioEncoder, error)
	NewMuxer(path, container string) (Muxer, error)
	NewAudioResampler(inRate, outRate, inChannels, outChannels int) (AudioResampler, error)
}

// TableEntry maps one profile codec name to the backend codec that
// produces it, the pixel format it wants fed, and its setup hook.
type TableEntry struct {
	ProfileName     string
	CodecName       string
	Backend         string // which Backend.Name() owns this codec
	PreferredPixFmt PixelFormat
	SetupFn         func(*VideoParams)
}

// VideoTable is the fixed video codec table: the x264 pair and the DNxHR
// family, all produced by the libavcodec backend.
var VideoTable = []TableEntry{
	{
		ProfileName:     "libx264",
		CodecName:       "libx264",
		Backend:         "avcodec",
		PreferredPixFmt: PixFmtYUV444P, // x264 also accepts 420/422; this table always picks 444
		SetupFn: func(p *VideoParams) {
			if p.Preset == "" {
				p.Preset = "veryfast"
			}
		},
	},
	{
		ProfileName:     "libx264rgb",
		CodecName:       "libx264rgb",
		Backend:         "avcodec",
		PreferredPixFmt: PixFmtBGR0,
		SetupFn: func(p *VideoParams) {
			if p.Preset == "" {
				p.Preset = "veryfast"
			}
		},
	},
	{
		ProfileName:     "dnxhr",
		CodecName:       "dnxhd",
		Backend:         "avcodec",
		PreferredPixFmt: PixFmtYUV422P, // the "444" sub-profile overrides to YUV444P
		SetupFn:         func(p *VideoParams) {},
	},
}

// AudioTable is the fixed audio codec table.
var AudioTable = []TableEntry{
	{ProfileName: "aac", CodecName: "aac", Backend: "avcodec"},
}

// LookupVideo resolves a profile's video_encoder/dnxhr_profile pair to a
// table entry and the pixel format the converter must target; "444" is the
// only DNxHR sub-profile requiring YUV444P.
func LookupVideo(profileName, dnxhrProfile string) (TableEntry, error) {
	for _, e := range VideoTable {
		if e.ProfileName != profileName {
			continue
		}
		if e.ProfileName == "dnxhr" && dnxhrProfile == "444" {
			e.PreferredPixFmt = PixFmtYUV444P
		}
		return e, nil
	}
	return TableEntry{}, fmt.Errorf("unknown video_encoder %q", profileName)
}

// LookupAudio resolves a profile's audio_encoder to a table entry.
func LookupAudio(profileName string) (TableEntry, error) {
	for _, e := range AudioTable {
		if e.ProfileName == profileName {
			return e, nil
		}
	}
	return TableEntry{}, fmt.Errorf("unknown audio_encoder %q", profileName)
}

// Backends returns the concrete Backend implementations keyed by name, used
// by the orchestrator to dispatch TableEntry.Backend to an instance.
func Backends() map[string]Backend {
	return map[string]Backend{
		"avcodec": NewAvcodecBackend(),
	}
}
