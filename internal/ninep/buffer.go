package ninep

import "encoding/binary"

// Buffer is a bounded cursor over a fixed-capacity byte slice with
// independent read and write positions. All multi-byte integers are
// little-endian. Writes past capacity and reads past the written region fail
// with ErrBufferOverflow. A failed single-field access leaves the cursor
// unchanged; a multi-field access (string, qid) that fails part way keeps
// the fields it already wrote or read.
type Buffer struct {
	data []byte
	wpos int
	rpos int
}

// NewBuffer returns a Buffer with the given capacity.
func NewBuffer(capacity uint32) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Reset clears both cursors for a new message.
func (b *Buffer) Reset() {
	b.wpos = 0
	b.rpos = 0
}

// ResetRead rewinds only the read cursor.
func (b *Buffer) ResetRead() { b.rpos = 0 }

// SetSize marks the written region, used after receiving a frame into the
// underlying storage.
func (b *Buffer) SetSize(n int) { b.wpos = n }

// Data exposes the full backing slice, e.g. as a receive target.
func (b *Buffer) Data() []byte { return b.data }

// Bytes returns the written region.
func (b *Buffer) Bytes() []byte { return b.data[:b.wpos] }

// Size returns the number of bytes written.
func (b *Buffer) Size() int { return b.wpos }

// Capacity returns the fixed capacity.
func (b *Buffer) Capacity() int { return len(b.data) }

// Remaining returns the writable space left.
func (b *Buffer) Remaining() int { return len(b.data) - b.wpos }

// ReadRemaining returns the unread portion of the written region.
func (b *Buffer) ReadRemaining() int { return b.wpos - b.rpos }

func (b *Buffer) writable(n int) ([]byte, error) {
	if b.wpos+n > len(b.data) {
		return nil, ErrBufferOverflow
	}
	out := b.data[b.wpos : b.wpos+n]
	b.wpos += n
	return out, nil
}

func (b *Buffer) readable(n int) ([]byte, error) {
	if b.rpos+n > b.wpos {
		return nil, ErrBufferOverflow
	}
	out := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return out, nil
}

func (b *Buffer) WriteUint8(v uint8) error {
	out, err := b.writable(1)
	if err != nil {
		return err
	}
	out[0] = v
	return nil
}

func (b *Buffer) WriteUint16(v uint16) error {
	out, err := b.writable(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(out, v)
	return nil
}

func (b *Buffer) WriteUint32(v uint32) error {
	out, err := b.writable(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(out, v)
	return nil
}

func (b *Buffer) WriteUint64(v uint64) error {
	out, err := b.writable(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(out, v)
	return nil
}

// WriteString writes a string as len[2] followed by len bytes, no trailing
// NUL.
func (b *Buffer) WriteString(s string) error {
	if len(s) > 0xFFFF {
		return ErrNameTooLong
	}
	if err := b.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	out, err := b.writable(len(s))
	if err != nil {
		return err
	}
	copy(out, s)
	return nil
}

// WriteData appends raw bytes without a length prefix.
func (b *Buffer) WriteData(p []byte) error {
	out, err := b.writable(len(p))
	if err != nil {
		return err
	}
	copy(out, p)
	return nil
}

// WriteQid writes the 13-byte qid layout.
func (b *Buffer) WriteQid(q Qid) error {
	if err := b.WriteUint8(uint8(q.Type)); err != nil {
		return err
	}
	if err := b.WriteUint32(q.Version); err != nil {
		return err
	}
	return b.WriteUint64(q.Path)
}

// PutUint32At back-patches a u32 inside the written region. Frame assembly
// uses it to fill the size field after the payload is known.
func (b *Buffer) PutUint32At(pos int, v uint32) error {
	if pos+4 > b.wpos {
		return ErrBufferOverflow
	}
	binary.LittleEndian.PutUint32(b.data[pos:], v)
	return nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	in, err := b.readable(1)
	if err != nil {
		return 0, err
	}
	return in[0], nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	in, err := b.readable(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(in), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	in, err := b.readable(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(in), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	in, err := b.readable(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(in), nil
}

// ReadString decodes a len[2]-prefixed string, copying it out of the buffer.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint16()
	if err != nil {
		return "", err
	}
	in, err := b.readable(int(n))
	if err != nil {
		return "", err
	}
	return string(in), nil
}

// ReadStringMax decodes a string, failing with ErrNameTooLong when the
// encoded length would not fit a destination of max bytes (including a
// terminator, matching a fixed-size destination contract).
func (b *Buffer) ReadStringMax(max int) (string, error) {
	n, err := b.ReadUint16()
	if err != nil {
		return "", err
	}
	if int(n) >= max {
		return "", ErrNameTooLong
	}
	in, err := b.readable(int(n))
	if err != nil {
		return "", err
	}
	return string(in), nil
}

// ReadBytes returns a view of n bytes inside the buffer without copying. The
// view is valid only until the buffer is reset or recycled.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	return b.readable(n)
}

// ReadQid reads the 13-byte qid layout.
func (b *Buffer) ReadQid() (Qid, error) {
	var q Qid
	t, err := b.ReadUint8()
	if err != nil {
		return q, err
	}
	v, err := b.ReadUint32()
	if err != nil {
		return q, err
	}
	p, err := b.ReadUint64()
	if err != nil {
		return q, err
	}
	q.Type, q.Version, q.Path = QidType(t), v, p
	return q, nil
}

// Skip advances the read cursor without looking at the bytes.
func (b *Buffer) Skip(n int) error {
	_, err := b.readable(n)
	return err
}
