package encoder

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NOT-REAL-GAMES/moviecap/codec"
	"github.com/NOT-REAL-GAMES/moviecap/gamelog"
	"github.com/NOT-REAL-GAMES/moviecap/ipc"
)

// containerByExt guesses the container from the destination extension.
var containerByExt = map[string]string{
	".mp4": "mp4",
	".mkv": "matroska",
	".mov": "mov",
	".avi": "avi",
}

// containerCodecs is the container x codec compatibility query: which codec
// names each container accepts.
var containerCodecs = map[string]map[string]bool{
	"mp4":      {"libx264": true, "libx264rgb": true, "aac": true},
	"matroska": {"libx264": true, "libx264rgb": true, "dnxhd": true, "aac": true},
	"mov":      {"libx264": true, "libx264rgb": true, "dnxhd": true, "aac": true},
	"avi":      {"libx264": true, "libx264rgb": true, "dnxhd": true},
}

// codecBackends resolves TableEntry.Backend names to instances; a variable
// so tests can substitute an in-memory backend.
var codecBackends = codec.Backends()

// Stats mirrors the profiling counters dumped to the log when a movie
// finishes: totals plus cumulative wall time per pipeline stage.
type Stats struct {
	VideoFrames  int64
	AudioSamples int64
	Packets      int64

	ConvertTime time.Duration
	EncodeTime  time.Duration
	MuxTime     time.Duration
}

// orchestrator owns the container, both codecs, the three worker
// threads and their queues for the lifetime of one movie.
type orchestrator struct {
	log    *gamelog.Logger
	params ipc.MovieParams

	pixFmt codec.PixelFormat

	muxer  codec.Muxer
	vidEnc codec.VideoEncoder
	audEnc codec.AudioEncoder
	audio  *audioPipeline

	frames  *frameQueue
	packets *packetQueue
	batches *batchQueue

	videoPool *framePool
	videoPts  int64

	workers    errgroup.Group
	audioDone  chan struct{}
	encodeDone chan struct{}

	// first worker failure, polled by the main thread before every new
	// submission
	errMu     sync.Mutex
	workerErr error

	statsMu sync.Mutex
	stats   Stats
}

// resolvePixFmt applies the codec table plus the DNxHR sub-profile rule.
func resolvePixFmt(params ipc.MovieParams) (codec.TableEntry, codec.PixelFormat, error) {
	entry, err := codec.LookupVideo(params.VideoEncoder, params.DnxhrProfile)
	if err != nil {
		return codec.TableEntry{}, "", err
	}
	return entry, entry.PreferredPixFmt, nil
}

func newOrchestrator(log *gamelog.Logger, params ipc.MovieParams) (*orchestrator, error) {
	ext := strings.ToLower(filepath.Ext(params.DestPath))
	container, ok := containerByExt[ext]
	if !ok {
		return nil, fmt.Errorf("orchestrator: cannot guess container from %q", params.DestPath)
	}

	entry, pixFmt, err := resolvePixFmt(params)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if !containerCodecs[container][entry.CodecName] {
		return nil, fmt.Errorf("orchestrator: container %s cannot carry codec %s", container, entry.CodecName)
	}

	var audioEntry codec.TableEntry
	if params.AudioEnabled {
		audioEntry, err = codec.LookupAudio(params.AudioEncoder)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		if !containerCodecs[container][audioEntry.CodecName] {
			return nil, fmt.Errorf("orchestrator: container %s cannot carry codec %s", container, audioEntry.CodecName)
		}
	}

	backend, ok := codecBackends[entry.Backend]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown backend %q", entry.Backend)
	}

	o := &orchestrator{
		log:       log,
		params:    params,
		pixFmt:    pixFmt,
		frames:    newFrameQueue(),
		packets:   newPacketQueue(),
		batches:   newBatchQueue(),
		videoPool: &framePool{},
	}

	// avi is the one supported container with no global-header demand.
	globalHeader := container != "avi"

	vp := codec.VideoParams{
		Width:        params.Width,
		Height:       params.Height,
		PixFmt:       pixFmt,
		TimeBase:     codec.Rational{Num: 1, Den: int(params.Fps)},
		Framerate:    codec.Rational{Num: int(params.Fps), Den: 1},
		Preset:       params.X264Preset,
		CRF:          params.X264CRF,
		Intra:        params.X264Intra,
		DnxhrProfile: params.DnxhrProfile,
		GlobalHeader: globalHeader,
	}
	entry.SetupFn(&vp)

	o.muxer, err = backend.NewMuxer(params.DestPath, container)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open output: %w", err)
	}

	o.vidEnc, err = backend.NewVideoEncoder(entry.CodecName, vp, 0)
	if err != nil {
		o.muxer.Close()
		return nil, fmt.Errorf("orchestrator: video codec: %w", err)
	}

	if err := o.muxer.AddStream(o.vidEnc, codec.StreamInfo{
		CodecName: entry.CodecName,
		TimeBase:  vp.TimeBase,
		Width:     vp.Width,
		Height:    vp.Height,
		FrameRate: vp.Framerate,
	}); err != nil {
		o.closeCodecs()
		return nil, fmt.Errorf("orchestrator: video stream: %w", err)
	}

	if params.AudioEnabled {
		o.audEnc, err = backend.NewAudioEncoder(audioEntry.CodecName, codec.AudioParams{
			SampleRate:   params.AudioHz,
			Channels:     params.AudioChannels,
			GlobalHeader: globalHeader,
		}, 1)
		if err != nil {
			o.closeCodecs()
			return nil, fmt.Errorf("orchestrator: audio codec: %w", err)
		}

		if err := o.muxer.AddStream(o.audEnc, codec.StreamInfo{
			IsAudio:    true,
			CodecName:  audioEntry.CodecName,
			TimeBase:   codec.Rational{Num: 1, Den: params.AudioHz},
			SampleRate: params.AudioHz,
			Channels:   params.AudioChannels,
		}); err != nil {
			o.closeCodecs()
			return nil, fmt.Errorf("orchestrator: audio stream: %w", err)
		}

		resampler, err := backend.NewAudioResampler(params.AudioHz, params.AudioHz, params.AudioChannels, params.AudioChannels)
		if err != nil {
			o.closeCodecs()
			return nil, fmt.Errorf("orchestrator: resampler: %w", err)
		}
		o.audio = newAudioPipeline(resampler, o.audEnc, params.AudioChannels)
	}

	if err := o.muxer.WriteHeader(); err != nil {
		o.closeCodecs()
		return nil, fmt.Errorf("orchestrator: write header: %w", err)
	}

	// Preallocate a handful of reusable video frames.
	for i := 0; i < 4; i++ {
		o.videoPool.put(o.newVideoFrame())
	}

	o.audioDone = make(chan struct{})
	o.encodeDone = make(chan struct{})

	o.workers.Go(o.frameEncodeWorker)
	o.workers.Go(o.packetMuxWorker)
	if o.audio != nil {
		o.workers.Go(o.audioWorker)
	} else {
		close(o.audioDone)
	}

	return o, nil
}

// planeGeometry returns per-plane line sizes and row counts for the target
// format, matching the conversion table.
func planeGeometry(pf codec.PixelFormat, width, height int) (linesizes []int, heights []int) {
	switch pf {
	case codec.PixFmtNV12:
		return []int{width, width}, []int{height, height / 2}
	case codec.PixFmtYUV422P:
		return []int{width, width / 2, width / 2}, []int{height, height, height}
	case codec.PixFmtYUV444P:
		return []int{width, width, width}, []int{height, height, height}
	default: // bgr0
		return []int{width * 4}, []int{height}
	}
}

func (o *orchestrator) newVideoFrame() *codec.VideoFrame {
	linesizes, heights := planeGeometry(o.pixFmt, o.params.Width, o.params.Height)
	f := &codec.VideoFrame{Linesize: linesizes}
	for i := range linesizes {
		f.Planes = append(f.Planes, make([]byte, linesizes[i]*heights[i]))
	}
	return f
}

// acquireVideoFrame takes a recycled frame or allocates a fresh one.
func (o *orchestrator) acquireVideoFrame() *codec.VideoFrame {
	if f := o.videoPool.get(); f != nil {
		return f
	}
	return o.newVideoFrame()
}

// submitVideo tags the frame with the next monotonic PTS and queues it for
// the frame-encode worker.
func (o *orchestrator) submitVideo(f *codec.VideoFrame) error {
	if err := o.firstError(); err != nil {
		return err
	}
	f.Pts = o.videoPts
	o.videoPts++
	o.frames.push(frameItem{video: f})
	return nil
}

// submitAudio hands one raw batch to the audio-resample worker.
func (o *orchestrator) submitAudio(batch []int16) error {
	if err := o.firstError(); err != nil {
		return err
	}
	o.batches.push(batch)
	return nil
}

func (o *orchestrator) firstError() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.workerErr
}

func (o *orchestrator) setWorkerErr(err error) error {
	o.errMu.Lock()
	if o.workerErr == nil {
		o.workerErr = err
	}
	o.errMu.Unlock()
	return err
}

// frameEncodeWorker drains the frame queue into the codecs and forwards the
// produced packets. A flush item is the null-frame terminator for its media
// type; the worker exits once every open codec has been flushed.
func (o *orchestrator) frameEncodeWorker() error {
	defer close(o.encodeDone)

	open := 1
	if o.audEnc != nil {
		open = 2
	}

	for open > 0 {
		item := o.frames.pop()
		start := time.Now()

		var pkts []*codec.Packet
		var err error
		switch {
		case item.flush && item.isAudio:
			pkts, err = o.audEnc.Flush()
			open--
		case item.flush:
			pkts, err = o.vidEnc.Flush()
			open--
		case item.isAudio:
			pkts, err = o.audio.enc.Encode(item.audio)
			o.audio.recycle(item.audio)
		default:
			pkts, err = o.vidEnc.Encode(item.video)
			o.videoPool.put(item.video)
		}
		if err != nil {
			return o.setWorkerErr(fmt.Errorf("encode: %w", err))
		}

		o.statsMu.Lock()
		o.stats.EncodeTime += time.Since(start)
		o.statsMu.Unlock()

		for _, pkt := range pkts {
			o.packets.push(pkt)
		}
	}
	return nil
}

// packetMuxWorker writes packets interleaved into the container; a nil
// packet terminates.
func (o *orchestrator) packetMuxWorker() error {
	for {
		pkt := o.packets.pop()
		if pkt == nil {
			return nil
		}
		start := time.Now()
		if err := o.muxer.WritePacket(pkt); err != nil {
			return o.setWorkerErr(fmt.Errorf("mux: %w", err))
		}
		o.statsMu.Lock()
		o.stats.MuxTime += time.Since(start)
		o.stats.Packets++
		o.statsMu.Unlock()
	}
}

// audioWorker runs the resample+FIFO stage for each raw batch and forwards
// completed codec
// frames into the frame queue; a nil batch terminates.
func (o *orchestrator) audioWorker() error {
	defer close(o.audioDone)
	for {
		batch := o.batches.pop()
		if batch == nil {
			return nil
		}
		frames, err := o.audio.submit(batch)
		if err != nil {
			return o.setWorkerErr(err)
		}
		o.statsMu.Lock()
		o.stats.AudioSamples += int64(len(batch)) / int64(o.audio.channels)
		o.statsMu.Unlock()
		for _, f := range frames {
			o.frames.push(frameItem{audio: f, isAudio: true})
		}
	}
}

// addConvertTime accounts one conversion pass in the stats.
func (o *orchestrator) addConvertTime(d time.Duration) {
	o.statsMu.Lock()
	o.stats.ConvertTime += d
	o.stats.VideoFrames++
	o.statsMu.Unlock()
}

// stop is the movie teardown sequence: flush audio, flush codecs through the
// frame queue, drain both workers in order, write the trailer, release
// everything. Errors during stop are logged, not propagated.
func (o *orchestrator) stop() {
	// 1: terminate the audio worker, then flush the FIFO tail as one final
	// (possibly short) frame.
	if o.audio != nil {
		o.batches.close()
		<-o.audioDone
		if tail := o.audio.flush(); tail != nil {
			o.frames.push(frameItem{audio: tail, isAudio: true})
		}
	}

	// 2-3: null frame per open codec; the encode worker drains in FIFO
	// order and exits after the last flush, with every packet pushed.
	o.frames.push(frameItem{flush: true})
	if o.audEnc != nil {
		o.frames.push(frameItem{flush: true, isAudio: true})
	}
	<-o.encodeDone

	// 4-5: null packet lands after everything the encode worker pushed.
	o.packets.push(nil)

	if err := o.workers.Wait(); err != nil {
		o.log.Error("encoder worker: %v", err)
	}

	// 6: trailer + close.
	if err := o.muxer.WriteTrailer(); err != nil {
		o.log.Error("write trailer: %v", err)
	}
	o.closeCodecs()

	s := o.stats
	o.log.Info("movie finished",
		"video_frames", s.VideoFrames,
		"audio_samples", s.AudioSamples,
		"packets", s.Packets,
		"convert_ms", s.ConvertTime.Milliseconds(),
		"encode_ms", s.EncodeTime.Milliseconds(),
		"mux_ms", s.MuxTime.Milliseconds(),
	)
}

func (o *orchestrator) closeCodecs() {
	if o.audio != nil {
		o.audio.close()
	}
	if o.audEnc != nil {
		o.audEnc.Close()
		o.audEnc = nil
	}
	if o.vidEnc != nil {
		o.vidEnc.Close()
		o.vidEnc = nil
	}
	if o.muxer != nil {
		o.muxer.Close()
		o.muxer = nil
	}
}
