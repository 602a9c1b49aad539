package codec

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// avcodecBackend adapts github.com/asticode/go-astiav (libavcodec/
// libavformat/libswresample) to the Backend contract: libx264, libx264rgb
// and dnxhd for video, aac for audio, plus the container muxers and the
// sample-rate converter.
type avcodecBackend struct{}

func NewAvcodecBackend() Backend { return avcodecBackend{} }

func (avcodecBackend) Name() string { return "avcodec" }

func astiavPixFmt(p PixelFormat) astiav.PixelFormat {
	switch p {
	case PixFmtYUV422P:
		return astiav.PixelFormatYuv422P
	case PixFmtYUV444P:
		return astiav.PixelFormatYuv444P
	case PixFmtNV12:
		return astiav.PixelFormatNv12
	case PixFmtBGR0:
		return astiav.PixelFormatBgr0
	default:
		return astiav.PixelFormatYuv422P
	}
}

type avVideoEncoder struct {
	ctx         *astiav.CodecContext
	frame       *astiav.Frame
	pkt         *astiav.Packet
	streamIndex int
	pixFmt      astiav.PixelFormat
}

func (avcodecBackend) NewVideoEncoder(codecName string, p VideoParams, streamIndex int) (VideoEncoder, error) {
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, fmt.Errorf("avcodec backend: encoder %q not found", codecName)
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("avcodec backend: alloc context for %q failed", codecName)
	}

	pixFmt := astiavPixFmt(p.PixFmt)
	ctx.SetWidth(p.Width)
	ctx.SetHeight(p.Height)
	ctx.SetPixelFormat(pixFmt)
	ctx.SetTimeBase(astiav.NewRational(p.TimeBase.Num, p.TimeBase.Den))
	ctx.SetFramerate(astiav.NewRational(p.Framerate.Num, p.Framerate.Den))
	if p.BitRate > 0 {
		ctx.SetBitRate(p.BitRate)
	}
	ctx.SetThreadCount(0) // all cores
	if p.GlobalHeader {
		ctx.SetFlags(ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	switch codecName {
	case "libx264", "libx264rgb":
		if p.Preset != "" {
			opts.Set("preset", p.Preset, 0)
		}
		opts.Set("crf", fmt.Sprintf("%d", p.CRF), 0)
		if p.Intra {
			opts.Set("x264-params", "keyint=1", 0)
		}
	case "dnxhd":
		if p.DnxhrProfile != "" {
			opts.Set("profile", "dnxhr_"+p.DnxhrProfile, 0)
		}
	}

	if err := ctx.Open(codec, opts); err != nil {
		return nil, fmt.Errorf("avcodec backend: open %q: %w", codecName, err)
	}

	return &avVideoEncoder{
		ctx:         ctx,
		frame:       astiav.AllocFrame(),
		pkt:         astiav.AllocPacket(),
		streamIndex: streamIndex,
		pixFmt:      pixFmt,
	}, nil
}

func (e *avVideoEncoder) Encode(f *VideoFrame) ([]*Packet, error) {
	e.frame.Unref()
	e.frame.SetWidth(e.ctx.Width())
	e.frame.SetHeight(e.ctx.Height())
	e.frame.SetPixelFormat(e.pixFmt)
	e.frame.SetPts(f.Pts)
	if err := e.frame.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("avcodec backend: alloc frame buffer: %w", err)
	}

	// The download ring produces tightly packed planes, which with align=1
	// is exactly the contiguous image layout SetBytes consumes.
	total := 0
	for _, plane := range f.Planes {
		total += len(plane)
	}
	packed := make([]byte, 0, total)
	for _, plane := range f.Planes {
		packed = append(packed, plane...)
	}
	if err := e.frame.Data().SetBytes(packed, 1); err != nil {
		return nil, fmt.Errorf("avcodec backend: fill frame: %w", err)
	}

	if err := e.ctx.SendFrame(e.frame); err != nil {
		return nil, fmt.Errorf("avcodec backend: send frame: %w", err)
	}
	return e.drain()
}

func (e *avVideoEncoder) drain() ([]*Packet, error) {
	var out []*Packet
	for {
		err := e.ctx.ReceivePacket(e.pkt)
		if err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return nil, fmt.Errorf("avcodec backend: receive packet: %w", err)
		}
		out = append(out, &Packet{
			Data:        append([]byte(nil), e.pkt.Data()...),
			Pts:         e.pkt.Pts(),
			Dts:         e.pkt.Dts(),
			Duration:    e.pkt.Duration(),
			StreamIndex: e.streamIndex,
			Keyframe:    e.pkt.Flags().Has(astiav.PacketFlagKey),
		})
		e.pkt.Unref()
	}
}

func (e *avVideoEncoder) Flush() ([]*Packet, error) {
	if err := e.ctx.SendFrame(nil); err != nil {
		return nil, fmt.Errorf("avcodec backend: flush: %w", err)
	}
	return e.drain()
}

func (e *avVideoEncoder) Close() error {
	e.frame.Free()
	e.pkt.Free()
	e.ctx.Free()
	return nil
}

func (e *avVideoEncoder) StreamIndex() int { return e.streamIndex }

type avAudioEncoder struct {
	ctx         *astiav.CodecContext
	frame       *astiav.Frame
	pkt         *astiav.Packet
	streamIndex int
}

func (avcodecBackend) NewAudioEncoder(codecName string, p AudioParams, streamIndex int) (AudioEncoder, error) {
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, fmt.Errorf("avcodec backend: encoder %q not found", codecName)
	}

	ctx := astiav.AllocCodecContext(codec)
	ctx.SetSampleRate(p.SampleRate)
	ctx.SetSampleFormat(astiav.SampleFormatS16)
	ctx.SetChannelLayout(astiav.ChannelLayoutStereo)
	if p.BitRate > 0 {
		ctx.SetBitRate(p.BitRate)
	}
	ctx.SetTimeBase(astiav.NewRational(1, p.SampleRate))
	ctx.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)
	if p.GlobalHeader {
		ctx.SetFlags(ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	if err := ctx.Open(codec, nil); err != nil {
		return nil, fmt.Errorf("avcodec backend: open %q: %w", codecName, err)
	}

	return &avAudioEncoder{
		ctx:         ctx,
		frame:       astiav.AllocFrame(),
		pkt:         astiav.AllocPacket(),
		streamIndex: streamIndex,
	}, nil
}

func (e *avAudioEncoder) Encode(f *AudioFrame) ([]*Packet, error) {
	e.frame.Unref()
	e.frame.SetNbSamples(f.NbSamples)
	e.frame.SetSampleFormat(astiav.SampleFormatS16)
	e.frame.SetChannelLayout(astiav.ChannelLayoutStereo)
	e.frame.SetSampleRate(e.ctx.SampleRate())
	e.frame.SetPts(f.Pts)
	if err := e.frame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("avcodec backend: alloc audio frame: %w", err)
	}
	if err := e.frame.Data().SetBytes(f.Data, 0); err != nil {
		return nil, fmt.Errorf("avcodec backend: fill audio frame: %w", err)
	}

	if err := e.ctx.SendFrame(e.frame); err != nil {
		return nil, fmt.Errorf("avcodec backend: send audio frame: %w", err)
	}
	return e.drain()
}

func (e *avAudioEncoder) drain() ([]*Packet, error) {
	var out []*Packet
	for {
		err := e.ctx.ReceivePacket(e.pkt)
		if err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return out, nil
			}
			return nil, fmt.Errorf("avcodec backend: receive audio packet: %w", err)
		}
		out = append(out, &Packet{
			Data:        append([]byte(nil), e.pkt.Data()...),
			Pts:         e.pkt.Pts(),
			Dts:         e.pkt.Dts(),
			Duration:    e.pkt.Duration(),
			StreamIndex: e.streamIndex,
			Keyframe:    true,
		})
		e.pkt.Unref()
	}
}

func (e *avAudioEncoder) Flush() ([]*Packet, error) {
	if err := e.ctx.SendFrame(nil); err != nil {
		return nil, fmt.Errorf("avcodec backend: flush audio: %w", err)
	}
	return e.drain()
}

func (e *avAudioEncoder) Close() error {
	e.frame.Free()
	e.pkt.Free()
	e.ctx.Free()
	return nil
}

func (e *avAudioEncoder) StreamIndex() int { return e.streamIndex }
func (e *avAudioEncoder) FrameSize() int   { return e.ctx.FrameSize() }

type avMuxer struct {
	fc *astiav.FormatContext
	io *astiav.IOContext

	// per stream index: the container stream and the codec timebase its
	// packets arrive in, for the codec->stream rescale at write time
	streams  []*astiav.Stream
	codecTbs []astiav.Rational
}

func (m *avMuxer) AddStream(enc any, info StreamInfo) error {
	var ctx *astiav.CodecContext
	switch e := enc.(type) {
	case *avVideoEncoder:
		ctx = e.ctx
	case *avAudioEncoder:
		ctx = e.ctx
	default:
		return fmt.Errorf("avcodec backend: stream encoder %T is not from this backend", enc)
	}

	stream := m.fc.NewStream(nil)
	if stream == nil {
		return fmt.Errorf("avcodec backend: new stream failed")
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		return fmt.Errorf("avcodec backend: codec parameters: %w", err)
	}
	stream.SetTimeBase(ctx.TimeBase())

	m.streams = append(m.streams, stream)
	m.codecTbs = append(m.codecTbs, ctx.TimeBase())
	return nil
}

func (avcodecBackend) NewMuxer(path, container string) (Muxer, error) {
	fc, err := astiav.AllocOutputFormatContext(nil, container, path)
	if err != nil {
		return nil, fmt.Errorf("avcodec backend: alloc output context: %w", err)
	}

	ioFlags := astiav.NewIOContextFlags(astiav.IOContextFlagWrite)
	io, err := astiav.OpenIOContext(path, ioFlags, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("avcodec backend: open io context: %w", err)
	}
	fc.SetPb(io)

	return &avMuxer{fc: fc, io: io}, nil
}

func (m *avMuxer) WriteHeader() error {
	return m.fc.WriteHeader(nil)
}

func (m *avMuxer) WritePacket(pkt *Packet) error {
	if pkt.StreamIndex >= len(m.streams) {
		return fmt.Errorf("avcodec backend: packet for undeclared stream %d", pkt.StreamIndex)
	}
	stream := m.streams[pkt.StreamIndex]

	p := astiav.AllocPacket()
	defer p.Free()
	p.SetData(pkt.Data)
	p.SetPts(pkt.Pts)
	p.SetDts(pkt.Dts)
	p.SetDuration(pkt.Duration)
	if pkt.Keyframe {
		p.SetFlags(p.Flags().Add(astiav.PacketFlagKey))
	}
	// The container may have replaced the stream timebase at WriteHeader;
	// packets arrive stamped in the codec timebase.
	p.RescaleTs(m.codecTbs[pkt.StreamIndex], stream.TimeBase())
	p.SetStreamIndex(stream.Index())
	return m.fc.WriteInterleavedFrame(p)
}

func (m *avMuxer) WriteTrailer() error { return m.fc.WriteTrailer() }

func (m *avMuxer) Close() error {
	m.io.Closep()
	m.fc.Free()
	return nil
}

type avResampler struct {
	swr                     *astiav.SoftwareResampleContext
	in, out                 *astiav.Frame
	inRate, outRate         int
	inChannels, outChannels int
}

func (avcodecBackend) NewAudioResampler(inRate, outRate, inChannels, outChannels int) (AudioResampler, error) {
	// libswresample configures itself on the first ConvertFrame from the
	// frames' formats, so there is nothing to set up here.
	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		return nil, fmt.Errorf("avcodec backend: alloc resample context failed")
	}
	return &avResampler{
		swr: swr,
		in:  astiav.AllocFrame(), out: astiav.AllocFrame(),
		inRate: inRate, outRate: outRate,
		inChannels: inChannels, outChannels: outChannels,
	}, nil
}

// ExpectedOutputSamples overshoots by a fixed delay-line allowance so the
// output frame is always large enough; the converted count read back from
// the frame is what actually enters the FIFO.
func (r *avResampler) ExpectedOutputSamples(inputSamples int) int {
	return inputSamples*r.outRate/r.inRate + 32
}

func (r *avResampler) Resample(interleaved []int16) ([]byte, error) {
	inFrames := len(interleaved) / r.inChannels

	r.in.Unref()
	r.in.SetNbSamples(inFrames)
	r.in.SetSampleFormat(astiav.SampleFormatS16)
	r.in.SetChannelLayout(astiav.ChannelLayoutStereo)
	r.in.SetSampleRate(r.inRate)
	if err := r.in.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("avcodec backend: alloc resample input: %w", err)
	}
	raw := make([]byte, len(interleaved)*2)
	for i, s := range interleaved {
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(uint16(s) >> 8)
	}
	if err := r.in.Data().SetBytes(raw, 0); err != nil {
		return nil, fmt.Errorf("avcodec backend: fill resample input: %w", err)
	}

	r.out.Unref()
	r.out.SetNbSamples(r.ExpectedOutputSamples(inFrames))
	r.out.SetSampleFormat(astiav.SampleFormatS16)
	r.out.SetChannelLayout(astiav.ChannelLayoutStereo)
	r.out.SetSampleRate(r.outRate)
	if err := r.out.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("avcodec backend: alloc resample output: %w", err)
	}

	if err := r.swr.ConvertFrame(r.in, r.out); err != nil {
		return nil, fmt.Errorf("avcodec backend: resample: %w", err)
	}

	n := r.out.NbSamples()
	data, err := r.out.Data().Bytes(0)
	if err != nil {
		return nil, fmt.Errorf("avcodec backend: read resample output: %w", err)
	}
	want := n * r.outChannels * 2
	if want > len(data) {
		want = len(data)
	}
	return data[:want], nil
}

func (r *avResampler) Close() error {
	r.in.Free()
	r.out.Free()
	r.swr.Free()
	return nil
}
