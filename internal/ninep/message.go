package ninep

// Message is one 9P frame under assembly or disassembly. Builders write the
// payload fields of a T-message in protocol order and back-patch the frame
// size; parsers read the typed payload of an R-message.
//
// Builders use a sticky error: the first failed write (typically
// ErrBufferOverflow against msize) poisons the message and is returned by
// the final build call. Parsers return errors directly.
type Message struct {
	buf *Buffer
	typ MsgType
	tag Tag
	err error
}

// NewMessage returns a message sized to one msize frame.
func NewMessage(msize uint32) *Message {
	return &Message{buf: NewBuffer(msize)}
}

// Reset prepares the message for reuse.
func (m *Message) Reset() {
	m.buf.Reset()
	m.typ = 0
	m.tag = 0
	m.err = nil
}

// Data exposes the full backing slice as a receive target.
func (m *Message) Data() []byte { return m.buf.Data() }

// Bytes returns the assembled frame.
func (m *Message) Bytes() []byte { return m.buf.Bytes() }

// Size returns the frame length written so far.
func (m *Message) Size() int { return m.buf.Size() }

// SetSize marks the received frame length.
func (m *Message) SetSize(n int) { m.buf.SetSize(n) }

// Type returns the message type read by ReadHeader.
func (m *Message) Type() MsgType { return m.typ }

// Tag returns the tag read by ReadHeader.
func (m *Message) Tag() Tag { return m.tag }

func (m *Message) putU8(v uint8) {
	if m.err == nil {
		m.err = m.buf.WriteUint8(v)
	}
}

func (m *Message) putU16(v uint16) {
	if m.err == nil {
		m.err = m.buf.WriteUint16(v)
	}
}

func (m *Message) putU32(v uint32) {
	if m.err == nil {
		m.err = m.buf.WriteUint32(v)
	}
}

func (m *Message) putU64(v uint64) {
	if m.err == nil {
		m.err = m.buf.WriteUint64(v)
	}
}

func (m *Message) putString(s string) {
	if m.err == nil {
		m.err = m.buf.WriteString(s)
	}
}

func (m *Message) putData(p []byte) {
	if m.err == nil {
		m.err = m.buf.WriteData(p)
	}
}

// start begins a frame: four reserved size bytes, then type and tag.
func (m *Message) start(t MsgType, tag Tag) {
	m.buf.Reset()
	m.err = nil
	m.typ = t
	m.tag = tag
	m.putU32(0)
	m.putU8(uint8(t))
	m.putU16(uint16(tag))
}

// finish back-patches the size field to the current write position.
func (m *Message) finish() error {
	if m.err != nil {
		return m.err
	}
	return m.buf.PutUint32At(0, uint32(m.buf.Size()))
}

// ReadHeader disassembles the frame prefix, leaving the read cursor at the
// payload start.
func (m *Message) ReadHeader() (MsgType, Tag, uint32, error) {
	m.buf.ResetRead()
	size, err := m.buf.ReadUint32()
	if err != nil {
		return 0, 0, 0, err
	}
	typ, err := m.buf.ReadUint8()
	if err != nil {
		return 0, 0, 0, err
	}
	tag, err := m.buf.ReadUint16()
	if err != nil {
		return 0, 0, 0, err
	}
	if int(size) > m.buf.Size() {
		return 0, 0, 0, ErrProtocol
	}
	m.typ = MsgType(typ)
	m.tag = Tag(tag)
	return m.typ, m.tag, size, nil
}

//
// Request builders, payload fields in protocol order.
//

// BuildVersion assembles Tversion: msize[4] version[s].
func (m *Message) BuildVersion(tag Tag, msize uint32, version string) error {
	m.start(Tversion, tag)
	m.putU32(msize)
	m.putString(version)
	return m.finish()
}

// BuildAttach assembles Tattach: fid[4] afid[4] uname[s] aname[s] n_uname[4].
func (m *Message) BuildAttach(tag Tag, fid, afid Fid, uname, aname string, nUname uint32) error {
	m.start(Tattach, tag)
	m.putU32(uint32(fid))
	m.putU32(uint32(afid))
	m.putString(uname)
	m.putString(aname)
	m.putU32(nUname)
	return m.finish()
}

// BuildWalk assembles Twalk: fid[4] newfid[4] nwname[2] nwname*(wname[s]).
func (m *Message) BuildWalk(tag Tag, fid, newfid Fid, names []string) error {
	m.start(Twalk, tag)
	m.putU32(uint32(fid))
	m.putU32(uint32(newfid))
	m.putU16(uint16(len(names)))
	for _, name := range names {
		m.putString(name)
	}
	return m.finish()
}

// BuildLopen assembles Tlopen: fid[4] flags[4].
func (m *Message) BuildLopen(tag Tag, fid Fid, flags uint32) error {
	m.start(Tlopen, tag)
	m.putU32(uint32(fid))
	m.putU32(flags)
	return m.finish()
}

// BuildLcreate assembles Tlcreate: fid[4] name[s] flags[4] mode[4] gid[4].
func (m *Message) BuildLcreate(tag Tag, fid Fid, name string, flags, mode, gid uint32) error {
	m.start(Tlcreate, tag)
	m.putU32(uint32(fid))
	m.putString(name)
	m.putU32(flags)
	m.putU32(mode)
	m.putU32(gid)
	return m.finish()
}

// BuildRead assembles Tread: fid[4] offset[8] count[4].
func (m *Message) BuildRead(tag Tag, fid Fid, offset uint64, count uint32) error {
	m.start(Tread, tag)
	m.putU32(uint32(fid))
	m.putU64(offset)
	m.putU32(count)
	return m.finish()
}

// BuildWrite assembles Twrite: fid[4] offset[8] count[4] data. The payload is
// appended to the frame directly.
func (m *Message) BuildWrite(tag Tag, fid Fid, offset uint64, data []byte) error {
	m.start(Twrite, tag)
	m.putU32(uint32(fid))
	m.putU64(offset)
	m.putU32(uint32(len(data)))
	m.putData(data)
	return m.finish()
}

// BuildClunk assembles Tclunk: fid[4].
func (m *Message) BuildClunk(tag Tag, fid Fid) error {
	m.start(Tclunk, tag)
	m.putU32(uint32(fid))
	return m.finish()
}

// BuildRemove assembles Tremove: fid[4].
func (m *Message) BuildRemove(tag Tag, fid Fid) error {
	m.start(Tremove, tag)
	m.putU32(uint32(fid))
	return m.finish()
}

// BuildGetattr assembles Tgetattr: fid[4] request_mask[8].
func (m *Message) BuildGetattr(tag Tag, fid Fid, mask uint64) error {
	m.start(Tgetattr, tag)
	m.putU32(uint32(fid))
	m.putU64(mask)
	return m.finish()
}

// BuildSetattr assembles Tsetattr: fid[4] valid[4] mode[4] uid[4] gid[4]
// size[8] atime_sec[8] atime_nsec[8] mtime_sec[8] mtime_nsec[8].
func (m *Message) BuildSetattr(tag Tag, fid Fid, valid uint32, attr SetAttr) error {
	m.start(Tsetattr, tag)
	m.putU32(uint32(fid))
	m.putU32(valid)
	m.putU32(attr.Mode)
	m.putU32(attr.UID)
	m.putU32(attr.GID)
	m.putU64(attr.Size)
	m.putU64(attr.Atime.Sec)
	m.putU64(attr.Atime.Nsec)
	m.putU64(attr.Mtime.Sec)
	m.putU64(attr.Mtime.Nsec)
	return m.finish()
}

// BuildReaddir assembles Treaddir: fid[4] offset[8] count[4].
func (m *Message) BuildReaddir(tag Tag, fid Fid, offset uint64, count uint32) error {
	m.start(Treaddir, tag)
	m.putU32(uint32(fid))
	m.putU64(offset)
	m.putU32(count)
	return m.finish()
}

// BuildMkdir assembles Tmkdir: dfid[4] name[s] mode[4] gid[4].
func (m *Message) BuildMkdir(tag Tag, dfid Fid, name string, mode, gid uint32) error {
	m.start(Tmkdir, tag)
	m.putU32(uint32(dfid))
	m.putString(name)
	m.putU32(mode)
	m.putU32(gid)
	return m.finish()
}

// BuildUnlinkat assembles Tunlinkat: dirfd[4] name[s] flags[4].
func (m *Message) BuildUnlinkat(tag Tag, dfid Fid, name string, flags uint32) error {
	m.start(Tunlinkat, tag)
	m.putU32(uint32(dfid))
	m.putString(name)
	m.putU32(flags)
	return m.finish()
}

// BuildRenameat assembles Trenameat: olddirfid[4] oldname[s] newdirfid[4]
// newname[s].
func (m *Message) BuildRenameat(tag Tag, oldDfid Fid, oldName string, newDfid Fid, newName string) error {
	m.start(Trenameat, tag)
	m.putU32(uint32(oldDfid))
	m.putString(oldName)
	m.putU32(uint32(newDfid))
	m.putString(newName)
	return m.finish()
}

// BuildStatfs assembles Tstatfs: fid[4].
func (m *Message) BuildStatfs(tag Tag, fid Fid) error {
	m.start(Tstatfs, tag)
	m.putU32(uint32(fid))
	return m.finish()
}

// BuildFsync assembles Tfsync: fid[4] datasync[4].
func (m *Message) BuildFsync(tag Tag, fid Fid, datasync uint32) error {
	m.start(Tfsync, tag)
	m.putU32(uint32(fid))
	m.putU32(datasync)
	return m.finish()
}

// BuildReadlink assembles Treadlink: fid[4].
func (m *Message) BuildReadlink(tag Tag, fid Fid) error {
	m.start(Treadlink, tag)
	m.putU32(uint32(fid))
	return m.finish()
}

// BuildSymlink assembles Tsymlink: dfid[4] name[s] symtgt[s] gid[4].
func (m *Message) BuildSymlink(tag Tag, dfid Fid, name, target string, gid uint32) error {
	m.start(Tsymlink, tag)
	m.putU32(uint32(dfid))
	m.putString(name)
	m.putString(target)
	m.putU32(gid)
	return m.finish()
}

// BuildLink assembles Tlink: dfid[4] fid[4] name[s].
func (m *Message) BuildLink(tag Tag, dfid, fid Fid, name string) error {
	m.start(Tlink, tag)
	m.putU32(uint32(dfid))
	m.putU32(uint32(fid))
	m.putString(name)
	return m.finish()
}

//
// Response parsers. Each expects the read cursor at the payload start, i.e.
// immediately after ReadHeader.
//

// ParseLerror reads the Linux errno carried by an Rlerror.
func (m *Message) ParseLerror() (uint32, error) {
	return m.buf.ReadUint32()
}

// ParseVersion reads Rversion: msize[4] version[s].
func (m *Message) ParseVersion() (uint32, string, error) {
	msize, err := m.buf.ReadUint32()
	if err != nil {
		return 0, "", err
	}
	version, err := m.buf.ReadString()
	if err != nil {
		return 0, "", err
	}
	return msize, version, nil
}

// ParseAttach reads Rattach: qid[13].
func (m *Message) ParseAttach() (Qid, error) {
	return m.buf.ReadQid()
}

// ParseWalk reads Rwalk: nwqid[2] nwqid*(qid[13]).
func (m *Message) ParseWalk() ([]Qid, error) {
	nwqid, err := m.buf.ReadUint16()
	if err != nil {
		return nil, err
	}
	qids := make([]Qid, nwqid)
	for i := range qids {
		if qids[i], err = m.buf.ReadQid(); err != nil {
			return nil, err
		}
	}
	return qids, nil
}

// ParseLopen reads Rlopen: qid[13] iounit[4].
func (m *Message) ParseLopen() (Qid, uint32, error) {
	qid, err := m.buf.ReadQid()
	if err != nil {
		return Qid{}, 0, err
	}
	iounit, err := m.buf.ReadUint32()
	if err != nil {
		return Qid{}, 0, err
	}
	return qid, iounit, nil
}

// ParseLcreate reads Rlcreate: qid[13] iounit[4].
func (m *Message) ParseLcreate() (Qid, uint32, error) {
	return m.ParseLopen()
}

// ParseRead reads Rread: count[4] data. The returned slice is a view into
// the message buffer; the caller must copy it out before the message is
// recycled.
func (m *Message) ParseRead() ([]byte, error) {
	count, err := m.buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	return m.buf.ReadBytes(int(count))
}

// ParseWrite reads Rwrite: count[4].
func (m *Message) ParseWrite() (uint32, error) {
	return m.buf.ReadUint32()
}

// ParseGetattr reads the full 17-field Rgetattr record.
func (m *Message) ParseGetattr() (Attr, error) {
	var (
		attr Attr
		err  error
	)
	read64 := func(dst *uint64) {
		if err == nil {
			*dst, err = m.buf.ReadUint64()
		}
	}
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = m.buf.ReadUint32()
		}
	}
	read64(&attr.Valid)
	if err == nil {
		attr.Qid, err = m.buf.ReadQid()
	}
	read32(&attr.Mode)
	read32(&attr.UID)
	read32(&attr.GID)
	read64(&attr.Nlink)
	read64(&attr.Rdev)
	read64(&attr.Size)
	read64(&attr.BlkSize)
	read64(&attr.Blocks)
	read64(&attr.Atime.Sec)
	read64(&attr.Atime.Nsec)
	read64(&attr.Mtime.Sec)
	read64(&attr.Mtime.Nsec)
	read64(&attr.Ctime.Sec)
	read64(&attr.Ctime.Nsec)
	read64(&attr.Btime.Sec)
	read64(&attr.Btime.Nsec)
	read64(&attr.Gen)
	read64(&attr.DataVersion)
	return attr, err
}

// ParseReaddir reads Rreaddir: count[4] data. Like ParseRead, the returned
// slice is a view; parse or copy it before the message is recycled.
func (m *Message) ParseReaddir() ([]byte, error) {
	count, err := m.buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	return m.buf.ReadBytes(int(count))
}

// ParseStatfs reads Rstatfs: type[4] bsize[4] blocks[8] bfree[8] bavail[8]
// files[8] ffree[8] fsid[8] namelen[4].
func (m *Message) ParseStatfs() (StatFS, error) {
	var (
		st  StatFS
		err error
	)
	read64 := func(dst *uint64) {
		if err == nil {
			*dst, err = m.buf.ReadUint64()
		}
	}
	read32 := func(dst *uint32) {
		if err == nil {
			*dst, err = m.buf.ReadUint32()
		}
	}
	read32(&st.Type)
	read32(&st.BSize)
	read64(&st.Blocks)
	read64(&st.BFree)
	read64(&st.BAvail)
	read64(&st.Files)
	read64(&st.FFree)
	read64(&st.FSID)
	read32(&st.NameLen)
	return st, err
}

// ParseMkdir reads Rmkdir: qid[13].
func (m *Message) ParseMkdir() (Qid, error) {
	return m.buf.ReadQid()
}

// ParseSymlink reads Rsymlink: qid[13].
func (m *Message) ParseSymlink() (Qid, error) {
	return m.buf.ReadQid()
}

// ParseReadlink reads Rreadlink: target[s] into a destination of max bytes;
// truncation is an error.
func (m *Message) ParseReadlink(max int) (string, error) {
	return m.buf.ReadStringMax(max)
}

// DirEntryParser walks the packed entries of an Rreaddir payload: repeated
// (qid[13] offset[8] type[1] name[s]) tuples until the data is exhausted.
type DirEntryParser struct {
	buf Buffer
}

// NewDirEntryParser parses entries out of data, which is typically a view
// returned by ParseReaddir.
func NewDirEntryParser(data []byte) *DirEntryParser {
	p := &DirEntryParser{buf: Buffer{data: data}}
	p.buf.SetSize(len(data))
	return p
}

// HasNext reports whether another entry remains.
func (p *DirEntryParser) HasNext() bool {
	return p.buf.ReadRemaining() > 0
}

// Next decodes the next directory entry. The entry name is copied out of the
// underlying data.
func (p *DirEntryParser) Next() (DirEnt, error) {
	var ent DirEnt
	qid, err := p.buf.ReadQid()
	if err != nil {
		return ent, err
	}
	offset, err := p.buf.ReadUint64()
	if err != nil {
		return ent, err
	}
	typ, err := p.buf.ReadUint8()
	if err != nil {
		return ent, err
	}
	name, err := p.buf.ReadString()
	if err != nil {
		return ent, err
	}
	ent.Qid, ent.Offset, ent.Type, ent.Name = qid, offset, typ, name
	return ent, nil
}
