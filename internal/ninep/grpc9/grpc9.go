// Package grpc9 tunnels raw 9P frames over a gRPC bidirectional stream.
// Frames are opaque to gRPC: a passthrough codec moves the bytes without any
// generated message types, so the wire layout stays exactly the 9P frame the
// ninep codec produced.
//
// The dial side is a ninep.Transport; the serve side hands accepted streams
// to a callback, typically bridging them to a real 9P server connection.
package grpc9

import (
	"context"
	"fmt"
	"io"

	"github.com/antiartificial/ninefs/internal/ninep"
	"go.uber.org/atomic"
	"google.golang.org/grpc"
)

// StreamName is the full method name of the frame stream.
const StreamName = "/ninep.Transport/Stream"

// Frame is one 9P message crossing the stream.
type Frame struct {
	Data []byte
}

// rawCodec moves Frame bytes through gRPC untouched.
type rawCodec struct{}

func (rawCodec) Name() string { return "ninep-raw" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("grpc9: cannot marshal %T", v)
	}
	return f.Data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("grpc9: cannot unmarshal into %T", v)
	}
	f.Data = make([]byte, len(data))
	copy(f.Data, data)
	return nil
}

var streamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
	ClientStreams: true,
}

// Dial opens a frame stream over an established gRPC connection. msize
// bounds the frames the transport will accept; 0 uses ninep.MaxMsize.
func Dial(ctx context.Context, conn *grpc.ClientConn, msize uint32) (*Transport, error) {
	if msize == 0 {
		msize = ninep.MaxMsize
	}
	stream, err := conn.NewStream(ctx, &streamDesc, StreamName, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, fmt.Errorf("open frame stream: %w", err)
	}
	return &Transport{stream: stream, msize: msize}, nil
}

// Transport is a ninep.Transport over a gRPC client stream.
type Transport struct {
	stream grpc.ClientStream
	msize  uint32
	closed atomic.Bool
}

var _ ninep.Transport = (*Transport)(nil)

// Send ships one frame downstream.
func (t *Transport) Send(frame []byte) error {
	if uint32(len(frame)) > t.msize {
		return ninep.ErrBufferOverflow
	}
	return t.stream.SendMsg(&Frame{Data: frame})
}

// Receive blocks for the next frame from the peer.
func (t *Transport) Receive(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	var f Frame
	if err := t.stream.RecvMsg(&f); err != nil {
		return 0, err
	}
	if len(f.Data) > len(buf) {
		return 0, ninep.ErrBufferOverflow
	}
	return copy(buf, f.Data), nil
}

// MaxMessageSize reports the configured frame bound.
func (t *Transport) MaxMessageSize() uint32 { return t.msize }

// Close half-closes the stream. The peer observes EOF after draining.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.stream.CloseSend()
}

// StreamServer is the accepted side of a frame stream.
type StreamServer interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// Handler is invoked once per accepted stream and owns it until it returns.
type Handler func(StreamServer) error

// RegisterHandler installs the frame stream service on a gRPC server. The
// server must be constructed with grpc.ForceServerCodec(Codec()) so frames
// pass through unmodified.
func RegisterHandler(s *grpc.Server, h Handler) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "ninep.Transport",
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Stream",
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(_ interface{}, stream grpc.ServerStream) error {
				return h(stream)
			},
		}},
	}, nil)
}

// Codec returns the passthrough codec for grpc.ForceServerCodec.
func Codec() interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	Name() string
} {
	return rawCodec{}
}
