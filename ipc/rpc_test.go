package ipc

import (
	"fmt"
	"os"
	"testing"
)

func testChannel(t *testing.T) *Channel {
	t.Helper()
	name := fmt.Sprintf("moviecap-test-%d", os.Getpid())
	c, err := Create(name)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMovieParamsRoundTrip(t *testing.T) {
	c := testChannel(t)

	want := MovieParams{
		DestPath:      "/tmp/movies/run1.mp4",
		Width:         1920,
		Height:        1080,
		Fps:           60,
		VideoEncoder:  "libx264",
		AudioEncoder:  "aac",
		X264Preset:    "veryfast",
		X264CRF:       23,
		X264Intra:     true,
		DnxhrProfile:  "hq",
		AudioEnabled:  true,
		AudioChannels: 2,
		AudioHz:       44100,
		AudioBits:     16,
	}
	c.SetMovieParams(want)

	// Attach sees the same header memory.
	other, err := Attach(c.name)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer other.Close()

	if got := other.MovieParams(); got != want {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}

	if len(c.AudioBuffer()) != MaxSamples*2*2 {
		t.Errorf("audio buffer size = %d", len(c.AudioBuffer()))
	}
	if c.KeyedMutexWord() == nil {
		t.Error("keyed mutex word missing")
	}
}

// respond plays the Encoder's half of one event: wait, optionally fail, ack.
func respond(c *Channel, fail string) {
	c.waitEncoderWake()
	if fail != "" {
		c.SetError(fail)
	} else {
		c.ClearError()
	}
	c.signalGameWake()
}

func TestSendEventAck(t *testing.T) {
	c := testChannel(t)
	c.SetGamePID(os.Getpid())

	go respond(c, "")
	res := c.SendEvent(EventNewVideo, os.Getpid())
	if !res.Ok() {
		t.Fatalf("res = %+v, want ok", res)
	}
	if c.EventType() != EventNewVideo {
		t.Errorf("event type = %v", c.EventType())
	}
}

func TestSendEventError(t *testing.T) {
	c := testChannel(t)
	c.SetGamePID(os.Getpid())

	go respond(c, "codec open failed")
	res := c.SendEvent(EventStart, os.Getpid())
	if res.Reason != ExitEncoderError {
		t.Fatalf("reason = %v, want ExitEncoderError", res.Reason)
	}
	if res.Message != "codec open failed" {
		t.Errorf("message = %q", res.Message)
	}
}

// Stale errors must not leak into the next event's ack.
func TestSendEventClearsStaleError(t *testing.T) {
	c := testChannel(t)
	c.SetGamePID(os.Getpid())

	go respond(c, "first failure")
	if res := c.SendEvent(EventStart, os.Getpid()); res.Reason != ExitEncoderError {
		t.Fatalf("first event: %+v", res)
	}

	go respond(c, "")
	if res := c.SendEvent(EventStop, os.Getpid()); !res.Ok() {
		t.Fatalf("second event carried a stale error: %+v", res)
	}
}

func TestSendEventEncoderDied(t *testing.T) {
	c := testChannel(t)
	c.SetGamePID(os.Getpid())

	// No responder, and a PID that cannot exist.
	res := c.SendEvent(EventNewVideo, 1<<30)
	if res.Reason != ExitEncoderDied {
		t.Fatalf("reason = %v, want ExitEncoderDied", res.Reason)
	}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		EventNone:     "NONE",
		EventStart:    "START",
		EventStop:     "STOP",
		EventNewVideo: "NEW_VIDEO",
		EventNewAudio: "NEW_AUDIO",
	}
	for e, want := range cases {
		if e.String() != want {
			t.Errorf("%d.String() = %q, want %q", e, e.String(), want)
		}
	}
}
