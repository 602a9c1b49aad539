package ipc

import (
	"fmt"
	"os"
	"syscall"
)

// The shared texture is created at START (its size depends on movie_params),
// long after the Encoder process has been spawned, so its memory fd cannot
// ride the handle-inheritance that carries the mapping fd. A unix socketpair
// created at init and inherited by the Encoder carries it instead: the
// SCM_RIGHTS analog of duplicating an NT handle into a live process.

// FdPair is the Capturer's sending end plus the file the Encoder inherits.
type FdPair struct {
	send    int
	Inherit *os.File
}

// NewFdPair creates the socketpair. Inherit goes into the spawned Encoder's
// ExtraFiles; the Capturer keeps the sending end.
func NewFdPair() (*FdPair, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("ipc: socketpair: %w", err)
	}
	return &FdPair{
		send:    fds[0],
		Inherit: os.NewFile(uintptr(fds[1]), "moviecap-fdpass"),
	}, nil
}

// SendFd queues one file descriptor for the Encoder to receive. Non-blocking
// in practice: a single control message fits the kernel's socket buffer, and
// the Encoder only reads it inside its START handler.
func (p *FdPair) SendFd(fd int) error {
	rights := syscall.UnixRights(fd)
	if err := syscall.Sendmsg(p.send, []byte{0}, rights, nil, 0); err != nil {
		return fmt.Errorf("ipc: sendmsg fd: %w", err)
	}
	return nil
}

func (p *FdPair) Close() error {
	syscall.Close(p.send)
	return p.Inherit.Close()
}

// FdReceiver is the Encoder's end, opened from the inherited fd number.
type FdReceiver struct {
	fd int
}

func NewFdReceiver(inheritedFd int) *FdReceiver { return &FdReceiver{fd: inheritedFd} }

// RecvFd blocks until a descriptor arrives and returns it.
func (r *FdReceiver) RecvFd() (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, syscall.CmsgSpace(4))
	_, oobn, _, _, err := syscall.Recvmsg(r.fd, buf, oob, 0)
	if err != nil {
		return -1, fmt.Errorf("ipc: recvmsg fd: %w", err)
	}
	msgs, err := syscall.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("ipc: parse control message: %w", err)
	}
	for _, msg := range msgs {
		fds, err := syscall.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, fmt.Errorf("ipc: no fd in control message")
}

func (r *FdReceiver) Close() error { return syscall.Close(r.fd) }
