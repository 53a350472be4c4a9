package p9fs

import (
	"sync"

	"github.com/antiartificial/ninefs/internal/ninep"
)

// dirBufferSize is the read-ahead chunk for directory iteration.
const dirBufferSize = 4096

// Inode is the local representation of one remote file. It owns a
// long-lived metadata fid and caches mode and size. The per-inode mutex
// serializes operations that mutate cached state or allocate fids.
type Inode struct {
	volume *Volume
	id     uint64
	fid    ninep.Fid
	qid    ninep.Qid

	mu        sync.Mutex
	mode      uint32
	size      uint64
	statValid bool
}

func newInode(v *Volume, qid ninep.Qid, fid ninep.Fid) *Inode {
	return &Inode{
		volume: v,
		id:     v.InodeID(qid),
		fid:    fid,
		qid:    qid,
	}
}

// init populates the stat cache from the server.
func (ino *Inode) init() error {
	attr, err := ino.volume.client.Getattr(ino.fid, ninep.GetattrBasic)
	if err != nil {
		return err
	}
	ino.applyAttr(attr)
	return nil
}

func (ino *Inode) applyAttr(attr ninep.Attr) {
	ino.mode = attr.Mode
	ino.size = attr.Size
	ino.statValid = true
}

// destroy clunks the metadata fid. The inode must already be out of the
// volume cache.
func (ino *Inode) destroy() error {
	return ino.volume.client.Clunk(ino.fid)
}

// ID returns the stable inode id derived from the qid path.
func (ino *Inode) ID() uint64 { return ino.id }

// Qid returns the server identity of the file.
func (ino *Inode) Qid() ninep.Qid { return ino.qid }

// Mode returns the cached Linux mode bits.
func (ino *Inode) Mode() uint32 { return ino.mode }

// IsDirectory reports whether the inode is a directory.
func (ino *Inode) IsDirectory() bool { return ino.mode&ModeTypeMask == ModeDir }

// IsFile reports whether the inode is a regular file.
func (ino *Inode) IsFile() bool { return ino.mode&ModeTypeMask == ModeRegular }

// IsSymlink reports whether the inode is a symbolic link.
func (ino *Inode) IsSymlink() bool { return ino.mode&ModeTypeMask == ModeSymlink }

// FileCookie is per-open-file state: a dedicated fid cloned from the inode
// and opened, the requested flags, and the current position.
type FileCookie struct {
	fid   ninep.Fid
	flags uint32
	pos   uint64
}

// DirCookie is per-open-directory state: a dedicated fid opened for
// reading, the server continuation offset, and a read-ahead buffer with its
// cursors.
type DirCookie struct {
	fid    ninep.Fid
	offset uint64
	buf    []byte
	size   int
	pos    int
	eof    bool
}

func wantsWrite(flags uint32) bool {
	if flags&ninep.OAccMode != ninep.ORdOnly {
		return true
	}
	return flags&(ninep.OCreate|ninep.OTrunc|ninep.OAppend) != 0
}

// clone walks zero components from the metadata fid onto a fresh fid.
func (ino *Inode) clone() (ninep.Fid, error) {
	client := ino.volume.client
	newFid := client.AllocateFid()
	if newFid == ninep.NoFid {
		return ninep.NoFid, ninep.ErrTooManyFiles
	}
	if _, err := client.Walk(ino.fid, newFid, ""); err != nil {
		client.ReleaseFid(newFid)
		return ninep.NoFid, err
	}
	return newFid, nil
}

// Open clones the inode fid and opens it with Linux open flags. The cookie
// is published only after the open succeeded.
func (ino *Inode) Open(flags uint32) (*FileCookie, error) {
	if ino.volume.readOnly && wantsWrite(flags) {
		return nil, ninep.ErrReadOnly
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()

	fid, err := ino.clone()
	if err != nil {
		return nil, err
	}
	if _, _, err := ino.volume.client.Lopen(fid, flags); err != nil {
		_ = ino.volume.client.Clunk(fid)
		return nil, err
	}
	return &FileCookie{fid: fid, flags: flags}, nil
}

// Close flushes nothing; the protocol has no separate close message. It
// exists so the dispatch table can distinguish close from cookie teardown.
func (ino *Inode) Close(*FileCookie) error { return nil }

// FreeCookie destroys an open-file cookie, clunking its fid.
func (ino *Inode) FreeCookie(c *FileCookie) error {
	return ino.volume.client.Clunk(c.fid)
}

// Read transfers up to len(buf) bytes at pos, issuing one RPC per iounit
// chunk. A short reply ends the loop and the accumulated count is returned.
func (ino *Inode) Read(c *FileCookie, pos uint64, buf []byte) (int, error) {
	if ino.IsDirectory() {
		return 0, ninep.ErrIsDir
	}
	client := ino.volume.client

	total := 0
	for total < len(buf) {
		n, err := client.Read(c.fid, pos+uint64(total), buf[total:])
		if err != nil {
			if total > 0 {
				break
			}
			return 0, err
		}
		if n == 0 {
			break
		}
		total += n
		if uint32(n) < client.IOUnit() && total < len(buf) {
			// Short reply: end of file or server-side throttle.
			break
		}
	}
	c.pos = pos + uint64(total)
	return total, nil
}

// Write transfers up to len(buf) bytes at pos in chunks of at most the
// client's per-call write budget (msize minus the Twrite header) and
// invalidates the cached size.
func (ino *Inode) Write(c *FileCookie, pos uint64, buf []byte) (int, error) {
	if ino.volume.readOnly {
		return 0, ninep.ErrReadOnly
	}
	if ino.IsDirectory() {
		return 0, ninep.ErrIsDir
	}
	client := ino.volume.client

	total := 0
	for total < len(buf) {
		n, err := client.Write(c.fid, pos+uint64(total), buf[total:])
		if err != nil {
			if total > 0 {
				break
			}
			return 0, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	c.pos = pos + uint64(total)

	ino.mu.Lock()
	ino.statValid = false
	ino.mu.Unlock()
	return total, nil
}

// Lookup resolves name inside this directory to an inode id. "." is the
// inode itself; ".." walks to the parent server-side.
func (ino *Inode) Lookup(name string) (uint64, error) {
	if !ino.IsDirectory() {
		return 0, ninep.ErrNotDir
	}
	if name == "." {
		return ino.id, nil
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()

	client := ino.volume.client
	childFid := client.AllocateFid()
	if childFid == ninep.NoFid {
		return 0, ninep.ErrTooManyFiles
	}
	qid, err := client.Walk(ino.fid, childFid, name)
	if err != nil {
		// A failed walk leaves childFid unbound server-side.
		client.ReleaseFid(childFid)
		return 0, err
	}
	child, err := ino.volume.GetInode(childFid, qid)
	if err != nil {
		return 0, err
	}
	return child.id, nil
}

// Create makes and opens a new file under this directory, registers its
// inode, and returns the open cookie with the new inode id.
func (ino *Inode) Create(name string, flags, perms uint32) (*FileCookie, uint64, error) {
	if !ino.IsDirectory() {
		return nil, 0, ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return nil, 0, ninep.ErrReadOnly
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()
	client := ino.volume.client

	// Lcreate binds the passed fid to the new file, so work on a clone of
	// the directory fid.
	openFid, err := ino.clone()
	if err != nil {
		return nil, 0, err
	}
	qid, _, err := client.Lcreate(openFid, name, flags, perms, 0)
	if err != nil {
		_ = client.Clunk(openFid)
		return nil, 0, err
	}

	// The open fid belongs to the cookie; walk a separate metadata fid for
	// the inode.
	metaFid := client.AllocateFid()
	if metaFid == ninep.NoFid {
		_ = client.Clunk(openFid)
		return nil, 0, ninep.ErrTooManyFiles
	}
	if _, err := client.Walk(ino.fid, metaFid, name); err != nil {
		client.ReleaseFid(metaFid)
		_ = client.Clunk(openFid)
		return nil, 0, err
	}
	child, err := ino.volume.GetInode(metaFid, qid)
	if err != nil {
		_ = client.Clunk(openFid)
		return nil, 0, err
	}

	return &FileCookie{fid: openFid, flags: flags}, child.id, nil
}

// Remove unlinks a file under this directory.
func (ino *Inode) Remove(name string) error {
	if !ino.IsDirectory() {
		return ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}
	return ino.volume.client.Unlinkat(ino.fid, name, 0)
}

// RemoveDir unlinks a subdirectory under this directory.
func (ino *Inode) RemoveDir(name string) error {
	if !ino.IsDirectory() {
		return ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}
	return ino.volume.client.Unlinkat(ino.fid, name, ninep.AtRemoveDir)
}

// Rename moves fromName in this directory to toName in toDir, which may be
// the same directory. Neither directory fid changes.
func (ino *Inode) Rename(fromName string, toDir *Inode, toName string) error {
	if !ino.IsDirectory() || !toDir.IsDirectory() {
		return ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}
	return ino.volume.client.Renameat(ino.fid, fromName, toDir.fid, toName)
}

// CreateDir makes a subdirectory.
func (ino *Inode) CreateDir(name string, perms uint32) error {
	if !ino.IsDirectory() {
		return ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}
	_, err := ino.volume.client.Mkdir(ino.fid, name, perms, 0)
	return err
}

// CreateSymlink makes a symlink named name with content target.
func (ino *Inode) CreateSymlink(name, target string) error {
	if !ino.IsDirectory() {
		return ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}
	_, err := ino.volume.client.Symlink(ino.fid, name, target, 0)
	return err
}

// CreateLink makes a hard link to target under this directory.
func (ino *Inode) CreateLink(name string, target *Inode) error {
	if !ino.IsDirectory() {
		return ninep.ErrNotDir
	}
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}
	return ino.volume.client.Link(ino.fid, target.fid, name)
}

// ReadLink reads the symlink target into a destination of at most max
// bytes. Truncation is an error.
func (ino *Inode) ReadLink(max int) (string, error) {
	if !ino.IsSymlink() {
		return "", ninep.ErrInvalid
	}
	return ino.volume.client.Readlink(ino.fid, max)
}

// Sync flushes file data and metadata.
func (ino *Inode) Sync() error {
	return ino.volume.client.Fsync(ino.fid, false)
}

// OpenDir clones the directory fid, opens it for reading, and returns an
// iteration cookie with a one-chunk read-ahead buffer.
func (ino *Inode) OpenDir() (*DirCookie, error) {
	if !ino.IsDirectory() {
		return nil, ninep.ErrNotDir
	}

	ino.mu.Lock()
	defer ino.mu.Unlock()

	fid, err := ino.clone()
	if err != nil {
		return nil, err
	}
	if _, _, err := ino.volume.client.Lopen(fid, ninep.ORdOnly); err != nil {
		_ = ino.volume.client.Clunk(fid)
		return nil, err
	}
	return &DirCookie{fid: fid, buf: make([]byte, dirBufferSize)}, nil
}

// CloseDir mirrors Close for directories.
func (ino *Inode) CloseDir(*DirCookie) error { return nil }

// FreeDirCookie destroys a directory cookie, clunking its fid.
func (ino *Inode) FreeDirCookie(c *DirCookie) error {
	return ino.volume.client.Clunk(c.fid)
}

// ReadDir emits up to max packed directory entries into buf, refilling the
// read-ahead buffer from the server as it drains. The continuation offset
// advances per emitted entry, so a partial fill resumes exactly after the
// last entry returned. An output buffer too small for even one entry fails
// with buffer overflow.
func (ino *Inode) ReadDir(c *DirCookie, buf []byte, max int) (int, error) {
	client := ino.volume.client
	out := buf
	count := 0

	for count < max {
		if c.pos >= c.size && !c.eof {
			n, err := client.Readdir(c.fid, c.offset, c.buf)
			if err != nil {
				if count > 0 {
					break
				}
				return 0, err
			}
			c.size, c.pos = n, 0
			if n == 0 {
				c.eof = true
			}
		}
		if c.eof {
			break
		}

		parser := ninep.NewDirEntryParser(c.buf[c.pos:c.size])
		for parser.HasNext() && count < max {
			ent, err := parser.Next()
			if err != nil {
				if count > 0 {
					break
				}
				return 0, err
			}
			recLen := putDirent(out, ino.volume.InodeID(ent.Qid), ino.volume.dev, ent.Name)
			if recLen == 0 {
				if count == 0 {
					return 0, ninep.ErrBufferOverflow
				}
				// The continuation offset already points past the last
				// emitted entry; the rest of the chunk is refetched.
				c.pos = c.size
				return count, nil
			}
			out = out[recLen:]
			count++
			c.offset = ent.Offset
		}
		// Entries beyond the ones emitted are refetched from the server at
		// the continuation offset.
		c.pos = c.size
	}
	return count, nil
}

// RewindDir restarts iteration from the beginning of the directory.
func (ino *Inode) RewindDir(c *DirCookie) {
	c.offset = 0
	c.size = 0
	c.pos = 0
	c.eof = false
}

// ReadStat fetches fresh attributes, refreshes the cache, and projects them
// into the host stat record.
func (ino *Inode) ReadStat() (Stat, error) {
	attr, err := ino.volume.client.Getattr(ino.fid, ninep.GetattrBasic)
	if err != nil {
		return Stat{}, err
	}

	ino.mu.Lock()
	ino.applyAttr(attr)
	ino.mu.Unlock()

	return Stat{
		Ino:     ino.id,
		Mode:    attr.Mode,
		Nlink:   uint32(attr.Nlink),
		UID:     attr.UID,
		GID:     attr.GID,
		Size:    attr.Size,
		BlkSize: uint32(attr.BlkSize),
		Blocks:  attr.Blocks,
		Atime:   attr.Atime,
		Mtime:   attr.Mtime,
		Ctime:   attr.Ctime,
		Crtime:  attr.Btime,
	}, nil
}

// WriteStat applies the fields selected by mask and invalidates the stat
// cache.
func (ino *Inode) WriteStat(st Stat, mask uint32) error {
	if ino.volume.readOnly {
		return ninep.ErrReadOnly
	}

	var (
		valid uint32
		attr  ninep.SetAttr
	)
	if mask&StatMode != 0 {
		valid |= ninep.SetattrMode
		attr.Mode = st.Mode &^ ModeTypeMask
	}
	if mask&StatUID != 0 {
		valid |= ninep.SetattrUID
		attr.UID = st.UID
	}
	if mask&StatGID != 0 {
		valid |= ninep.SetattrGID
		attr.GID = st.GID
	}
	if mask&StatSize != 0 {
		valid |= ninep.SetattrSize
		attr.Size = st.Size
	}
	if mask&StatAtime != 0 {
		valid |= ninep.SetattrAtime | ninep.SetattrAtimeSet
		attr.Atime = st.Atime
	}
	if mask&StatMtime != 0 {
		valid |= ninep.SetattrMtime | ninep.SetattrMtimeSet
		attr.Mtime = st.Mtime
	}
	if valid == 0 {
		return nil
	}

	if err := ino.volume.client.Setattr(ino.fid, valid, attr); err != nil {
		return err
	}
	ino.mu.Lock()
	ino.statValid = false
	ino.mu.Unlock()
	return nil
}
