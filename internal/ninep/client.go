package ninep

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Options configure a Client.
type Options struct {
	// Msize is the message size proposed during version negotiation. 0 uses
	// DefaultMsize; values above MaxMsize are clamped.
	Msize uint32

	// Registerer receives client metrics. nil disables instrumentation.
	Registerer prometheus.Registerer
}

// Client speaks 9P2000.L over a Transport. One Client serves one connection:
// it owns the fid and tag pools, the negotiated msize and the derived
// iounit. Transactions are serialized under a single request mutex; with a
// one-frame-at-a-time transport this is both necessary and sufficient for
// pairing responses with requests.
//
// TODO(tag multiplexing): the wire format already permits interleaved
// requests matched by tag. Replacing the request mutex with a (tag -> waiter)
// table and a receive loop would allow it without protocol changes.
type Client struct {
	log       log.Logger
	transport Transport
	fids      *FidPool
	tags      *TagPool
	metrics   *clientMetrics

	msize  uint32
	iounit uint32

	connected atomic.Bool
	reqMu     sync.Mutex
}

// New returns a Client over t. Call Connect before issuing operations.
func New(l log.Logger, t Transport, o Options) *Client {
	if l == nil {
		l = log.NewNopLogger()
	}
	msize := o.Msize
	if msize == 0 {
		msize = DefaultMsize
	}
	if msize > MaxMsize {
		msize = MaxMsize
	}
	if tmax := t.MaxMessageSize(); tmax > 0 && msize > tmax {
		msize = tmax
	}
	return &Client{
		log:       l,
		transport: t,
		fids:      NewFidPool(DefaultPoolSize),
		tags:      NewTagPool(DefaultPoolSize),
		metrics:   newClientMetrics(o.Registerer),
		msize:     msize,
	}
}

// Msize returns the negotiated maximum frame length.
func (c *Client) Msize() uint32 { return c.msize }

// IOUnit returns the largest read or write payload per RPC.
func (c *Client) IOUnit() uint32 { return c.iounit }

// RootFid returns the fid bound to the attach root.
func (c *Client) RootFid() Fid { return RootFid }

// IsConnected reports whether Connect has completed.
func (c *Client) IsConnected() bool { return c.connected.Load() }

// AllocateFid draws a fid from the pool, or NoFid on exhaustion.
func (c *Client) AllocateFid() Fid { return c.fids.Allocate() }

// ReleaseFid returns a fid to the pool.
func (c *Client) ReleaseFid(fid Fid) { c.fids.Release(fid) }

// FidsAllocated counts fids currently in use, root included.
func (c *Client) FidsAllocated() int { return c.fids.Allocated() }

// TagsAllocated counts tags currently in flight.
func (c *Client) TagsAllocated() int { return c.tags.Allocated() }

// Connect negotiates the protocol version and attaches to the aname subtree
// with no authentication. On success the root fid is bound and the client is
// ready for operations.
func (c *Client) Connect(aname string) error {
	if c.connected.Load() {
		return fmt.Errorf("connect: already connected: %w", ErrInvalid)
	}

	req := NewMessage(c.msize)
	if err := req.BuildVersion(NoTag, c.msize, VersionL); err != nil {
		return err
	}
	resp, err := c.transact(req, NoTag, Rversion)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	msize, version, err := resp.ParseVersion()
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	if version != VersionL {
		return fmt.Errorf("version %q: %w", version, ErrNotSupported)
	}
	if msize < c.msize {
		c.msize = msize
	}

	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req = NewMessage(c.msize)
	if err := req.BuildAttach(tag, RootFid, NoFid, "", aname, NoUname); err != nil {
		c.tags.Release(tag)
		return err
	}
	resp, err = c.transact(req, tag, Rattach)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	qid, err := resp.ParseAttach()
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	c.iounit = c.msize - IOHeaderSize
	c.connected.Store(true)
	level.Debug(c.log).Log("msg", "connected", "aname", aname,
		"msize", c.msize, "iounit", c.iounit, "root_qid_path", qid.Path)
	return nil
}

// Disconnect clunks the root fid best-effort and marks the client
// disconnected. The transport remains open; its owner closes it.
func (c *Client) Disconnect() {
	if !c.connected.Swap(false) {
		return
	}
	if err := c.clunk(RootFid); err != nil {
		level.Debug(c.log).Log("msg", "clunk of root fid failed", "err", err)
	}
	c.fids.Release(RootFid)
}

func (c *Client) allocTag() (Tag, error) {
	tag := c.tags.Allocate()
	if tag == NoTag {
		return NoTag, fmt.Errorf("allocate tag: %w", ErrTooManyFiles)
	}
	return tag, nil
}

func (c *Client) ensureConnected() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// transact performs one send/receive pair under the request mutex, releases
// the tag unconditionally, and validates the response header: the tag must
// echo the request's, and the type must be want or Rlerror.
func (c *Client) transact(req *Message, tag Tag, want MsgType) (*Message, error) {
	resp := NewMessage(c.msize)
	start := time.Now()

	c.reqMu.Lock()
	err := c.transport.Send(req.Bytes())
	var n int
	if err == nil {
		n, err = c.transport.Receive(resp.Data())
	}
	c.reqMu.Unlock()

	c.tags.Release(tag)
	defer func() { c.metrics.observe(req.Type(), time.Since(start).Seconds(), err) }()
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	resp.SetSize(n)

	typ, rtag, _, herr := resp.ReadHeader()
	if herr != nil {
		err = herr
		return nil, err
	}
	if rtag != tag {
		level.Warn(c.log).Log("msg", "response tag mismatch", "want", tag, "got", rtag)
		err = ErrProtocol
		return nil, err
	}
	if typ == Rlerror {
		errno, perr := resp.ParseLerror()
		if perr != nil {
			err = perr
			return nil, err
		}
		err = ErrorFromErrno(errno)
		return nil, err
	}
	if typ != want {
		level.Warn(c.log).Log("msg", "unexpected response type", "want", want, "got", typ)
		err = ErrProtocol
		return nil, err
	}
	return resp, nil
}

// WalkNames issues one Twalk traversing names from fid to newfid and returns
// the qids the server walked. The server may stop early; callers observe
// len(qids) < len(names).
func (c *Client) WalkNames(fid, newfid Fid, names []string) ([]Qid, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return nil, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildWalk(tag, fid, newfid, names); err != nil {
		c.tags.Release(tag)
		return nil, err
	}
	resp, err := c.transact(req, tag, Rwalk)
	if err != nil {
		return nil, err
	}
	return resp.ParseWalk()
}

// Walk traverses a slash-separated path from fid, binding the result to
// newfid. An empty path clones fid. When the server walks fewer components
// than requested the entry did not exist: newfid is left unbound server-side
// and is released from the pool here.
func (c *Client) Walk(fid, newfid Fid, path string) (Qid, error) {
	var names []string
	for _, name := range strings.Split(path, "/") {
		if name != "" {
			names = append(names, name)
		}
	}

	qids, err := c.WalkNames(fid, newfid, names)
	if err != nil {
		return Qid{}, err
	}
	if len(qids) < len(names) {
		c.fids.Release(newfid)
		return Qid{}, ErrNotFound
	}
	if len(qids) == 0 {
		// Pure clone; the caller already knows the qid.
		return Qid{}, nil
	}
	return qids[len(qids)-1], nil
}

// Lopen opens fid with Linux open flags. A zero iounit in the reply means
// the msize-derived default applies.
func (c *Client) Lopen(fid Fid, flags uint32) (Qid, uint32, error) {
	if err := c.ensureConnected(); err != nil {
		return Qid{}, 0, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return Qid{}, 0, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildLopen(tag, fid, flags); err != nil {
		c.tags.Release(tag)
		return Qid{}, 0, err
	}
	resp, err := c.transact(req, tag, Rlopen)
	if err != nil {
		return Qid{}, 0, err
	}
	return resp.ParseLopen()
}

// Lcreate atomically creates name under the directory fid and binds fid to
// the new file. Clone the directory fid first if it must survive.
func (c *Client) Lcreate(fid Fid, name string, flags, mode, gid uint32) (Qid, uint32, error) {
	if err := c.ensureConnected(); err != nil {
		return Qid{}, 0, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return Qid{}, 0, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildLcreate(tag, fid, name, flags, mode, gid); err != nil {
		c.tags.Release(tag)
		return Qid{}, 0, err
	}
	resp, err := c.transact(req, tag, Rlcreate)
	if err != nil {
		return Qid{}, 0, err
	}
	return resp.ParseLcreate()
}

// Read reads up to len(buf) bytes at offset, capped per call at iounit. The
// payload is copied out of the response frame. Short reads propagate to the
// caller.
func (c *Client) Read(fid Fid, offset uint64, buf []byte) (int, error) {
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}
	count := uint32(len(buf))
	if count > c.iounit {
		count = c.iounit
	}
	tag, err := c.allocTag()
	if err != nil {
		return 0, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildRead(tag, fid, offset, count); err != nil {
		c.tags.Release(tag)
		return 0, err
	}
	resp, err := c.transact(req, tag, Rread)
	if err != nil {
		return 0, err
	}
	data, err := resp.ParseRead()
	if err != nil {
		return 0, err
	}
	if len(data) > len(buf) {
		return 0, ErrProtocol
	}
	return copy(buf, data), nil
}

// Write writes data at offset, capped per call at the Twrite frame budget
// (msize minus the write header). Short writes propagate to the caller.
func (c *Client) Write(fid Fid, offset uint64, data []byte) (int, error) {
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}
	if max := c.msize - WriteHeaderSize; uint32(len(data)) > max {
		data = data[:max]
	}
	tag, err := c.allocTag()
	if err != nil {
		return 0, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildWrite(tag, fid, offset, data); err != nil {
		c.tags.Release(tag)
		return 0, err
	}
	resp, err := c.transact(req, tag, Rwrite)
	if err != nil {
		return 0, err
	}
	count, err := resp.ParseWrite()
	if err != nil {
		return 0, err
	}
	if int(count) > len(data) {
		return 0, ErrProtocol
	}
	return int(count), nil
}

// Clunk releases fid server-side and returns it to the pool whether or not
// the server acknowledged.
func (c *Client) Clunk(fid Fid) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	err := c.clunk(fid)
	c.fids.Release(fid)
	return err
}

func (c *Client) clunk(fid Fid) error {
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildClunk(tag, fid); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Rclunk)
	return err
}

// Remove unlinks the file bound to fid. The server releases the fid whether
// or not the unlink succeeds, so the pool slot is returned unconditionally.
func (c *Client) Remove(fid Fid) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildRemove(tag, fid); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Rremove)
	c.fids.Release(fid)
	return err
}

// Getattr reads the full attribute record. mask advises the server which
// fields to compute.
func (c *Client) Getattr(fid Fid, mask uint64) (Attr, error) {
	if err := c.ensureConnected(); err != nil {
		return Attr{}, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return Attr{}, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildGetattr(tag, fid, mask); err != nil {
		c.tags.Release(tag)
		return Attr{}, err
	}
	resp, err := c.transact(req, tag, Rgetattr)
	if err != nil {
		return Attr{}, err
	}
	return resp.ParseGetattr()
}

// Setattr writes the attribute fields selected by the valid mask.
func (c *Client) Setattr(fid Fid, valid uint32, attr SetAttr) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildSetattr(tag, fid, valid, attr); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Rsetattr)
	return err
}

// Readdir reads packed directory entries at the server continuation offset,
// copying them into buf. A zero return means end of directory.
func (c *Client) Readdir(fid Fid, offset uint64, buf []byte) (int, error) {
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}
	count := uint32(len(buf))
	if count > c.iounit {
		count = c.iounit
	}
	tag, err := c.allocTag()
	if err != nil {
		return 0, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildReaddir(tag, fid, offset, count); err != nil {
		c.tags.Release(tag)
		return 0, err
	}
	resp, err := c.transact(req, tag, Rreaddir)
	if err != nil {
		return 0, err
	}
	data, err := resp.ParseReaddir()
	if err != nil {
		return 0, err
	}
	if len(data) > len(buf) {
		return 0, ErrProtocol
	}
	return copy(buf, data), nil
}

// Mkdir creates a directory named name under dfid.
func (c *Client) Mkdir(dfid Fid, name string, mode, gid uint32) (Qid, error) {
	if err := c.ensureConnected(); err != nil {
		return Qid{}, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return Qid{}, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildMkdir(tag, dfid, name, mode, gid); err != nil {
		c.tags.Release(tag)
		return Qid{}, err
	}
	resp, err := c.transact(req, tag, Rmkdir)
	if err != nil {
		return Qid{}, err
	}
	return resp.ParseMkdir()
}

// Unlinkat removes name under dfid. Pass AtRemoveDir for directories.
func (c *Client) Unlinkat(dfid Fid, name string, flags uint32) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildUnlinkat(tag, dfid, name, flags); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Runlinkat)
	return err
}

// Renameat renames oldName under oldDfid to newName under newDfid,
// supporting cross-directory renames. Neither directory fid changes.
func (c *Client) Renameat(oldDfid Fid, oldName string, newDfid Fid, newName string) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildRenameat(tag, oldDfid, oldName, newDfid, newName); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Rrenameat)
	return err
}

// Statfs reads file-system statistics for the tree containing fid.
func (c *Client) Statfs(fid Fid) (StatFS, error) {
	if err := c.ensureConnected(); err != nil {
		return StatFS{}, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return StatFS{}, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildStatfs(tag, fid); err != nil {
		c.tags.Release(tag)
		return StatFS{}, err
	}
	resp, err := c.transact(req, tag, Rstatfs)
	if err != nil {
		return StatFS{}, err
	}
	return resp.ParseStatfs()
}

// Fsync flushes fid to stable storage. dataOnly skips metadata.
func (c *Client) Fsync(fid Fid, dataOnly bool) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	var datasync uint32
	if dataOnly {
		datasync = 1
	}
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildFsync(tag, fid, datasync); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Rfsync)
	return err
}

// Readlink reads a symlink target into a destination of at most max bytes;
// truncation is an error.
func (c *Client) Readlink(fid Fid, max int) (string, error) {
	if err := c.ensureConnected(); err != nil {
		return "", err
	}
	tag, err := c.allocTag()
	if err != nil {
		return "", err
	}
	req := NewMessage(c.msize)
	if err := req.BuildReadlink(tag, fid); err != nil {
		c.tags.Release(tag)
		return "", err
	}
	resp, err := c.transact(req, tag, Rreadlink)
	if err != nil {
		return "", err
	}
	return resp.ParseReadlink(max)
}

// Symlink creates a symlink named name with content target under dfid.
func (c *Client) Symlink(dfid Fid, name, target string, gid uint32) (Qid, error) {
	if err := c.ensureConnected(); err != nil {
		return Qid{}, err
	}
	tag, err := c.allocTag()
	if err != nil {
		return Qid{}, err
	}
	req := NewMessage(c.msize)
	if err := req.BuildSymlink(tag, dfid, name, target, gid); err != nil {
		c.tags.Release(tag)
		return Qid{}, err
	}
	resp, err := c.transact(req, tag, Rsymlink)
	if err != nil {
		return Qid{}, err
	}
	return resp.ParseSymlink()
}

// Link creates a hard link to fid named name under the directory dfid.
func (c *Client) Link(dfid, fid Fid, name string) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	tag, err := c.allocTag()
	if err != nil {
		return err
	}
	req := NewMessage(c.msize)
	if err := req.BuildLink(tag, dfid, fid, name); err != nil {
		c.tags.Release(tag)
		return err
	}
	_, err = c.transact(req, tag, Rlink)
	return err
}
