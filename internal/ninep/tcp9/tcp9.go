// Package tcp9 carries 9P frames over a net.Conn. 9P is self-framing (every
// message starts with its little-endian length), so the transport reads the
// size field and then the remainder of the frame.
package tcp9

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/antiartificial/ninefs/internal/ninep"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
)

// Transport is a ninep.Transport over a stream connection.
type Transport struct {
	log    log.Logger
	conn   net.Conn
	msize  uint32
	closed atomic.Bool

	rmu, wmu sync.Mutex
}

var _ ninep.Transport = (*Transport)(nil)

// New wraps an established connection. msize bounds the frames the transport
// will accept; 0 uses ninep.MaxMsize.
func New(l log.Logger, conn net.Conn, msize uint32) *Transport {
	if l == nil {
		l = log.NewNopLogger()
	}
	if msize == 0 {
		msize = ninep.MaxMsize
	}
	return &Transport{log: l, conn: conn, msize: msize}
}

// Dial connects to a 9P server listening on a TCP address.
func Dial(l log.Logger, addr string, msize uint32) (*Transport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(l, conn, msize), nil
}

// Send writes one complete frame.
func (t *Transport) Send(frame []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	for len(frame) > 0 {
		n, err := t.conn.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}

// Receive reads the 4-byte size prefix and then the rest of the frame into
// buf. Oversize frames fail without consuming the remainder; the connection
// is then out of sync and should be closed.
func (t *Transport) Receive(buf []byte) (int, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	if len(buf) < ninep.HeaderSize {
		return 0, ninep.ErrBufferOverflow
	}
	if err := t.readFull(buf[:4]); err != nil {
		return 0, err
	}
	size := binary.LittleEndian.Uint32(buf[:4])
	if size < ninep.HeaderSize || size > t.msize || int(size) > len(buf) {
		level.Warn(t.log).Log("msg", "oversize or malformed frame", "size", size)
		return 0, ninep.ErrBufferOverflow
	}
	if err := t.readFull(buf[4:size]); err != nil {
		return 0, err
	}
	return int(size), nil
}

func (t *Transport) readFull(p []byte) error {
	for len(p) > 0 {
		n, err := t.conn.Read(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// MaxMessageSize reports the configured frame bound.
func (t *Transport) MaxMessageSize() uint32 { return t.msize }

// Close shuts the connection down.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}
