package p9fs

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/antiartificial/ninefs/internal/ninep"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	uuid "github.com/satori/go.uuid"
)

// Options configure a mount.
type Options struct {
	// Registry resolves the tag= mount option to a transport. Required.
	Registry *ninep.Registry

	// Flags modify the mount.
	Flags MountFlags

	// Args is the comma-separated key[=value] mount option string.
	// Recognized keys: tag (required), aname, msize. Unknown keys are
	// ignored.
	Args string

	// Registerer receives protocol client metrics. nil disables them.
	Registerer prometheus.Registerer
}

// deviceID derives the numeric device id stamped into directory entries
// from the mount tag.
func deviceID(tag string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tag))
	return h.Sum32()
}

type mountArgs struct {
	tag   string
	aname string
	msize uint32
}

func parseMountArgs(args string) mountArgs {
	var out mountArgs
	for _, opt := range strings.Split(args, ",") {
		key, value := opt, ""
		if i := strings.IndexByte(opt, '='); i >= 0 {
			key, value = opt[:i], opt[i+1:]
		}
		switch key {
		case "tag":
			out.tag = value
		case "aname":
			out.aname = value
		case "msize":
			if n, err := strconv.ParseUint(value, 10, 32); err == nil {
				out.msize = uint32(n)
			}
		}
	}
	if out.msize > ninep.MaxMsize {
		out.msize = ninep.MaxMsize
	}
	return out
}

// Volume is one mounted 9P tree. It owns the protocol client, the root
// inode, and the inode cache that stands in for the host VFS vnode table.
type Volume struct {
	log    log.Logger
	id     string // mount instance id, stamped into logs
	device string

	client   *ninep.Client
	mountTag string
	aname    string
	readOnly bool
	dev      uint32

	rootID uint64

	mu     sync.Mutex
	inodes map[uint64]*Inode
}

// Mount resolves the transport named by the tag= option from the registry,
// connects the protocol client, probes the root, and returns a ready
// volume. The transport stays owned by whoever registered it.
func Mount(l log.Logger, device string, o Options) (*Volume, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if o.Registry == nil {
		return nil, fmt.Errorf("mount %s: no transport registry: %w", device, ninep.ErrInvalid)
	}

	args := parseMountArgs(o.Args)
	if args.tag == "" {
		return nil, fmt.Errorf("mount %s: missing tag option: %w", device, ninep.ErrInvalid)
	}
	transport, ok := o.Registry.Find(args.tag)
	if !ok {
		return nil, fmt.Errorf("mount %s: no transport for tag %q: %w", device, args.tag, ninep.ErrNoDevice)
	}

	v := &Volume{
		log:      log.With(l, "mount", args.tag),
		id:       uuid.NewV4().String(),
		device:   device,
		mountTag: args.tag,
		aname:    args.aname,
		readOnly: o.Flags&MountReadOnly != 0,
		dev:      deviceID(args.tag),
		inodes:   make(map[uint64]*Inode),
	}
	v.client = ninep.New(v.log, transport, ninep.Options{
		Msize:      args.msize,
		Registerer: o.Registerer,
	})

	if err := v.client.Connect(args.aname); err != nil {
		return nil, fmt.Errorf("mount %s: %w", device, err)
	}

	// Probe the root and seed the inode cache with it.
	attr, err := v.client.Getattr(v.client.RootFid(), ninep.GetattrBasic)
	if err != nil {
		v.client.Disconnect()
		return nil, fmt.Errorf("mount %s: root getattr: %w", device, err)
	}
	root := newInode(v, attr.Qid, v.client.RootFid())
	root.applyAttr(attr)
	v.inodes[root.id] = root
	v.rootID = root.id

	level.Info(v.log).Log("msg", "mounted", "instance", v.id, "aname", args.aname,
		"msize", v.client.Msize(), "read_only", v.readOnly, "root", v.rootID)
	return v, nil
}

// Client returns the protocol client.
func (v *Volume) Client() *ninep.Client { return v.client }

// RootID returns the root inode id.
func (v *Volume) RootID() uint64 { return v.rootID }

// IsReadOnly reports whether mutations are rejected locally.
func (v *Volume) IsReadOnly() bool { return v.readOnly }

// MountTag returns the transport tag this volume was mounted with.
func (v *Volume) MountTag() string { return v.mountTag }

// InodeID derives the stable local inode id for a qid. Two inodes with the
// same qid path are the same file.
func (v *Volume) InodeID(qid ninep.Qid) uint64 { return qid.Path }

// GetInode resolves a freshly walked fid to an inode. If the file is
// already cached the incoming fid is clunked (the cached inode owns one);
// otherwise the fid is wrapped in a new inode, initialized, and registered.
func (v *Volume) GetInode(fid ninep.Fid, qid ninep.Qid) (*Inode, error) {
	id := v.InodeID(qid)

	v.mu.Lock()
	if ino, ok := v.inodes[id]; ok {
		v.mu.Unlock()
		if err := v.client.Clunk(fid); err != nil {
			level.Debug(v.log).Log("msg", "clunk of duplicate fid failed", "fid", fid, "err", err)
		}
		return ino, nil
	}
	v.mu.Unlock()

	ino := newInode(v, qid, fid)
	if err := ino.init(); err != nil {
		_ = v.client.Clunk(fid)
		return nil, err
	}

	v.mu.Lock()
	if cached, ok := v.inodes[id]; ok {
		// Lost a race with another lookup; keep the registered one.
		v.mu.Unlock()
		_ = v.client.Clunk(fid)
		return cached, nil
	}
	v.inodes[id] = ino
	v.mu.Unlock()
	return ino, nil
}

// LookupInode returns a cached inode by id.
func (v *Volume) LookupInode(id uint64) (*Inode, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ino, ok := v.inodes[id]
	return ino, ok
}

// RemoveInode evicts an inode from the cache and clunks its fid. The host
// VFS calls this when it drops a vnode.
func (v *Volume) RemoveInode(ino *Inode) {
	v.mu.Lock()
	delete(v.inodes, ino.id)
	v.mu.Unlock()
	ino.destroy()
}

// ReadFSInfo projects an Rstatfs of the root into the host info record. The
// volume always advertises persistence and attribute support, plus
// read-only when mounted so.
func (v *Volume) ReadFSInfo() (FSInfo, error) {
	st, err := v.client.Statfs(v.client.RootFid())
	if err != nil {
		return FSInfo{}, err
	}
	flags := FSPersistent | FSSupportsAttr
	if v.readOnly {
		flags |= FSReadOnly
	}
	return FSInfo{
		Flags:       flags,
		BlockSize:   st.BSize,
		IOSize:      v.client.IOUnit(),
		TotalBlocks: st.Blocks,
		FreeBlocks:  st.BFree,
		TotalNodes:  st.Files,
		FreeNodes:   st.FFree,
		NameLen:     st.NameLen,
		DeviceName:  v.device,
		VolumeName:  v.mountTag,
	}, nil
}

// Sync asks the server to flush the whole tree via the root fid.
func (v *Volume) Sync() error {
	return v.client.Fsync(v.client.RootFid(), false)
}

// Unmount tears the volume down: every cached inode is dropped and its fid
// clunked, then the client detaches. After a clean unmount no fids remain
// allocated.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	inodes := make([]*Inode, 0, len(v.inodes))
	for _, ino := range v.inodes {
		inodes = append(inodes, ino)
	}
	v.inodes = make(map[uint64]*Inode)
	v.mu.Unlock()

	var errs *multierror.Error
	for _, ino := range inodes {
		if ino.fid == v.client.RootFid() {
			// The root fid is clunked by Disconnect.
			continue
		}
		if err := ino.destroy(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("inode %d: %w", ino.id, err))
		}
	}
	v.client.Disconnect()

	level.Info(v.log).Log("msg", "unmounted", "instance", v.id)
	return errs.ErrorOrNil()
}
