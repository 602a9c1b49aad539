// Package ipc implements the shared-memory channel and event RPC:
// the one file mapping and pair of wake events the Capturer and Encoder
// processes share from Init onward, across back-to-back movies.
package ipc

// EventType is the RPC's event_type field.
type EventType uint32

const (
	EventNone EventType = iota
	EventStart
	EventStop
	EventNewVideo
	EventNewAudio
)

func (e EventType) String() string {
	switch e {
	case EventStart:
		return "START"
	case EventStop:
		return "STOP"
	case EventNewVideo:
		return "NEW_VIDEO"
	case EventNewAudio:
		return "NEW_AUDIO"
	default:
		return "NONE"
	}
}

// MaxSamples is the capacity, in stereo S16 samples, of the audio scratch
// buffer that follows the header contiguously in the mapping.
const MaxSamples = 1 << 16

// MovieParams is the immutable-for-one-movie block set once at START.
type MovieParams struct {
	DestPath     string
	Width        int
	Height       int
	Fps          float64
	VideoEncoder string
	AudioEncoder string

	X264Preset string
	X264CRF    int
	X264Intra  bool

	DnxhrProfile string

	AudioEnabled  bool
	AudioChannels int
	AudioHz       int
	AudioBits     int
}

// ExitReason classifies why SendEvent returned something other than ok.
// Distinguishing the encoder process dying outright from it dying with the
// game's own PID already dead avoids double-reporting the same crash from
// both ends.
type ExitReason int

const (
	ExitOK ExitReason = iota
	ExitEncoderError
	ExitEncoderDied
	ExitEncoderDiedGameAlreadyDead
)

// Result is what send_event returns to the Capturer.
type Result struct {
	Reason  ExitReason
	Message string
}

func (r Result) Ok() bool { return r.Reason == ExitOK }
