package ipc

import (
	"syscall"
	"time"
)

// processAlive polls liveness of a PID via signal 0, the POSIX analog of
// waiting on a Win32 process handle — there's no portable "wait without a
// parent/child relationship" primitive on Linux, so liveness is polled.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

const pollInterval = 2 * time.Millisecond

// SendEvent is the Capturer side of the RPC: write event_type, wake
// the Encoder, then block until either the Encoder acks or its process
// disappears. encoderPID is polled in place of a Win32 process-handle wait.
func (c *Channel) SendEvent(kind EventType, encoderPID int) Result {
	c.ClearError()
	c.SetEventType(kind)
	c.signalEncoderWake()

	done := make(chan struct{})
	dead := make(chan struct{})
	go func() {
		c.waitGameWake()
		close(done)
	}()
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if !processAlive(encoderPID) {
				close(dead)
				return
			}
			time.Sleep(pollInterval)
		}
	}()

	select {
	case <-done:
		if c.HasError() {
			return Result{Reason: ExitEncoderError, Message: c.ErrorMessage()}
		}
		return Result{Reason: ExitOK}
	case <-dead:
		if !processAlive(c.GamePID()) {
			return Result{Reason: ExitEncoderDiedGameAlreadyDead}
		}
		return Result{Reason: ExitEncoderDied}
	}
}

// EncoderHandler dispatches one event_type to its handling function. STOP
// is cleanup and must never return an error.
type EncoderHandler struct {
	OnStart    func(MovieParams) error
	OnStop     func() error
	OnNewVideo func() error
	OnNewAudio func(n uint32) error
}

// Run is the Encoder-side main loop: wait on encoder_wake (or the game
// process dying), dispatch on event_type, ack via game_wake. It returns when
// the game process disappears, running STOP cleanup first if none was seen.
func (c *Channel) Run(h EncoderHandler, gamePID int) error {
	stopped := false
	for {
		woke := make(chan struct{})
		go func() {
			c.waitEncoderWake()
			close(woke)
		}()

		gameDead := make(chan struct{})
		go func() {
			for {
				select {
				case <-woke:
					return
				default:
				}
				if !processAlive(gamePID) {
					close(gameDead)
					return
				}
				time.Sleep(pollInterval)
			}
		}()

		select {
		case <-woke:
			kind := c.EventType()
			var err error
			switch kind {
			case EventStart:
				err = h.OnStart(c.MovieParams())
				stopped = false
			case EventStop:
				// STOP ends one movie, not the process: the loop keeps
				// serving so back-to-back movies reuse the same Encoder.
				err = h.OnStop()
				stopped = true
			case EventNewVideo:
				err = h.OnNewVideo()
			case EventNewAudio:
				err = h.OnNewAudio(c.WaitingAudioSamples())
			}
			if err != nil {
				c.SetError(err.Error())
			} else {
				c.ClearError()
			}
			c.signalGameWake()
		case <-gameDead:
			if !stopped {
				if err := h.OnStop(); err != nil {
					return err
				}
			}
			return nil
		}
	}
}
