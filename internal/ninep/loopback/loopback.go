// Package loopback provides an in-memory pair of connected 9P transports.
// Frames sent on one end arrive at the other. It backs tests and
// same-process servers.
package loopback

import (
	"io"

	"github.com/antiartificial/ninefs/internal/ninep"
	"go.uber.org/atomic"
)

// Pair returns two connected transport ends. Frames written to one end are
// read from the other. msize bounds the frame size both ends advertise.
func Pair(msize uint32) (*End, *End) {
	ab := make(chan []byte, 1)
	ba := make(chan []byte, 1)
	done := make(chan struct{})
	closed := atomic.NewBool(false)

	a := &End{in: ba, out: ab, done: done, closed: closed, msize: msize}
	b := &End{in: ab, out: ba, done: done, closed: closed, msize: msize}
	return a, b
}

// End is one side of a loopback pair.
type End struct {
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	closed *atomic.Bool
	msize  uint32
}

var _ ninep.Transport = (*End)(nil)

// Send copies the frame and hands it to the peer.
func (e *End) Send(frame []byte) error {
	if e.closed.Load() {
		return io.ErrClosedPipe
	}
	if uint32(len(frame)) > e.msize {
		return ninep.ErrBufferOverflow
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case e.out <- cp:
		return nil
	case <-e.done:
		return io.ErrClosedPipe
	}
}

// Receive blocks until the peer sends a frame.
func (e *End) Receive(buf []byte) (int, error) {
	if e.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	select {
	case frame := <-e.in:
		if len(frame) > len(buf) {
			return 0, ninep.ErrBufferOverflow
		}
		return copy(buf, frame), nil
	case <-e.done:
		return 0, io.ErrClosedPipe
	}
}

// MaxMessageSize reports the configured frame bound.
func (e *End) MaxMessageSize() uint32 { return e.msize }

// Close tears down both ends. Blocked senders and receivers return
// io.ErrClosedPipe.
func (e *End) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.done)
	return nil
}
