// Package ninep implements the client side of the 9P2000.L protocol.
//
// The package is split into a wire codec (Buffer, Message), handle pools
// (FidPool, TagPool), a transport contract (Transport), and a synchronous
// Client which pairs one request with one response over a shared transport.
// Transports live in subpackages; see tcp9, grpc9 and loopback.
//
// Only the 9P2000.L dialect is spoken. The legacy 9P2000 and 9P2000.u
// dialects, authentication, extended attributes and advisory locking are
// intentionally not supported.
package ninep

// VersionL is the only protocol version the client negotiates.
const VersionL = "9P2000.L"

const (
	// DefaultMsize is the message size proposed when the caller does not
	// request one.
	DefaultMsize = 8192

	// MaxMsize caps any negotiated or requested message size.
	MaxMsize = 65536

	// HeaderSize is the size[4] type[1] tag[2] frame prefix.
	HeaderSize = 7

	// QidSize is the wire size of a qid.
	QidSize = 13

	// IOHeaderSize is the frame overhead of an Rread or Rreaddir: the frame
	// header plus the count[4] field. msize minus this bound is iounit, the
	// largest payload a single read may return.
	IOHeaderSize = HeaderSize + 4

	// WriteHeaderSize is the frame overhead of a Twrite: the frame header
	// plus fid[4] offset[8] count[4]. msize minus this bound is the largest
	// payload a single write may carry.
	WriteHeaderSize = HeaderSize + 16
)

// Transport is a framed byte channel carrying one complete 9P message per
// call. Implementations must be safe for use by a single sender and a single
// receiver; the Client serializes transactions on top of this contract.
type Transport interface {
	// Send delivers one complete framed message. It blocks until the frame
	// has been handed to the underlying channel.
	Send(frame []byte) error

	// Receive blocks until one complete frame arrives and copies it into
	// buf. It returns the frame length, or an error if the frame does not
	// fit or the channel failed.
	Receive(buf []byte) (int, error)

	// MaxMessageSize reports the largest frame the transport can carry.
	MaxMessageSize() uint32

	// Close releases the transport. Further calls to Send or Receive fail.
	Close() error
}
