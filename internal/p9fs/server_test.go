package p9fs

import (
	"sync"
	"testing"

	"github.com/antiartificial/ninefs/internal/ninep"
	"github.com/antiartificial/ninefs/internal/ninep/loopback"
)

// Linux errnos the fake server replies with.
const (
	testENOENT  uint32 = 2
	testEIO     uint32 = 5
	testEEXIST  uint32 = 17
	testENOTDIR uint32 = 20
	testEINVAL  uint32 = 22
)

// testFile is one node in the fake server's tree. Directories keep children
// in insertion order so readdir output is deterministic.
type testFile struct {
	name     string
	qid      ninep.Qid
	mode     uint32
	data     []byte
	target   string
	parent   *testFile
	children []*testFile
}

func (f *testFile) isDir() bool { return f.qid.Type&ninep.QTDir != 0 }

func (f *testFile) child(name string) *testFile {
	for _, c := range f.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (f *testFile) unlink(name string) bool {
	for i, c := range f.children {
		if c.name == name {
			f.children = append(f.children[:i], f.children[i+1:]...)
			return true
		}
	}
	return false
}

// testServer is an in-memory 9P2000.L server behind a loopback transport. It
// exists to drive the file-system layer end to end; it implements just
// enough of the protocol for the client in this module.
type testServer struct {
	t         *testing.T
	transport *loopback.End
	msize     uint32

	mu       sync.Mutex
	root     *testFile
	fids     map[uint32]*testFile
	nextPath uint64

	// requests counts arrived T-messages by type, for asserting how many
	// RPCs an operation issued.
	requests map[ninep.MsgType]int
	// readLog records the (offset, count) of every Tread.
	readLog [][2]uint64
}

func startTestServer(t *testing.T, transport *loopback.End) *testServer {
	s := &testServer{
		t:         t,
		transport: transport,
		msize:     ninep.MaxMsize,
		fids:      make(map[uint32]*testFile),
		requests:  make(map[ninep.MsgType]int),
		nextPath:  1,
	}
	s.root = s.newNode("", ninep.QTDir, ModeDir|0o755)
	go s.serve()
	return s
}

func (s *testServer) newNode(name string, qt ninep.QidType, mode uint32) *testFile {
	f := &testFile{
		name: name,
		qid:  ninep.Qid{Type: qt, Path: s.nextPath},
		mode: mode,
	}
	s.nextPath++
	return f
}

// addFile seeds a regular file under dir. Call before mounting.
func (s *testServer) addFile(dir *testFile, name string, data []byte) *testFile {
	f := s.newNode(name, ninep.QTFile, ModeRegular|0o644)
	f.data = data
	f.parent = dir
	dir.children = append(dir.children, f)
	return f
}

// addDir seeds a directory under dir. Call before mounting.
func (s *testServer) addDir(dir *testFile, name string) *testFile {
	f := s.newNode(name, ninep.QTDir, ModeDir|0o755)
	f.parent = dir
	dir.children = append(dir.children, f)
	return f
}

func (s *testServer) requestCount(t ninep.MsgType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[t]
}

func (s *testServer) mutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range []ninep.MsgType{
		ninep.Twrite, ninep.Tlcreate, ninep.Tremove, ninep.Trenameat,
		ninep.Tmkdir, ninep.Tunlinkat, ninep.Tsymlink, ninep.Tsetattr, ninep.Tlink,
	} {
		n += s.requests[t]
	}
	return n
}

// lookupNode resolves a path from the root under the server lock.
func (s *testServer) lookupNode(names ...string) *testFile {
	f := s.root
	for _, n := range names {
		if f == nil {
			return nil
		}
		f = f.child(n)
	}
	return f
}

func (s *testServer) hasNode(names ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupNode(names...) != nil
}

func (s *testServer) fileData(names ...string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.lookupNode(names...)
	if f == nil {
		return nil
	}
	return append([]byte(nil), f.data...)
}

func (s *testServer) reads() [][2]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint64(nil), s.readLog...)
}

func (s *testServer) serve() {
	buf := make([]byte, s.msize)
	for {
		n, err := s.transport.Receive(buf)
		if err != nil {
			return
		}
		req := ninep.NewBuffer(s.msize)
		copy(req.Data(), buf[:n])
		req.SetSize(n)

		if _, err := req.ReadUint32(); err != nil { // size
			return
		}
		typ, err := req.ReadUint8()
		if err != nil {
			return
		}
		tag, err := req.ReadUint16()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.requests[ninep.MsgType(typ)]++
		resp := s.handle(ninep.MsgType(typ), req)
		s.mu.Unlock()

		frame := ninep.NewBuffer(s.msize)
		_ = frame.WriteUint32(0)
		_ = frame.WriteUint8(uint8(resp.typ))
		_ = frame.WriteUint16(tag)
		if resp.build != nil {
			resp.build(frame)
		}
		_ = frame.PutUint32At(0, uint32(frame.Size()))
		if err := s.transport.Send(frame.Bytes()); err != nil {
			return
		}
	}
}

// direntType maps a qid to the Linux d_type carried by readdir entries.
func direntType(q ninep.Qid) uint8 {
	switch {
	case q.IsDir():
		return 4 // DT_DIR
	case q.IsSymlink():
		return 10 // DT_LNK
	default:
		return 8 // DT_REG
	}
}

type reply struct {
	typ   ninep.MsgType
	build func(*ninep.Buffer)
}

func rlerror(errno uint32) reply {
	return reply{typ: ninep.Rlerror, build: func(b *ninep.Buffer) { _ = b.WriteUint32(errno) }}
}

func (s *testServer) handle(typ ninep.MsgType, req *ninep.Buffer) reply {
	switch typ {
	case ninep.Tversion:
		msize, _ := req.ReadUint32()
		version, _ := req.ReadString()
		if version != ninep.VersionL {
			return rlerror(testEINVAL)
		}
		if msize > s.msize {
			msize = s.msize
		}
		return reply{typ: ninep.Rversion, build: func(b *ninep.Buffer) {
			_ = b.WriteUint32(msize)
			_ = b.WriteString(version)
		}}

	case ninep.Tattach:
		fid, _ := req.ReadUint32()
		s.fids[fid] = s.root
		return reply{typ: ninep.Rattach, build: func(b *ninep.Buffer) {
			_ = b.WriteQid(s.root.qid)
		}}

	case ninep.Twalk:
		fid, _ := req.ReadUint32()
		newfid, _ := req.ReadUint32()
		nwname, _ := req.ReadUint16()
		cur, ok := s.fids[fid]
		if !ok {
			return rlerror(testEINVAL)
		}
		var qids []ninep.Qid
		for i := 0; i < int(nwname); i++ {
			name, _ := req.ReadString()
			var next *testFile
			if name == ".." {
				next = cur.parent
				if next == nil {
					next = cur
				}
			} else if cur.isDir() {
				next = cur.child(name)
			}
			if next == nil {
				break
			}
			cur = next
			qids = append(qids, cur.qid)
		}
		if len(qids) == int(nwname) {
			s.fids[newfid] = cur
		}
		return reply{typ: ninep.Rwalk, build: func(b *ninep.Buffer) {
			_ = b.WriteUint16(uint16(len(qids)))
			for _, q := range qids {
				_ = b.WriteQid(q)
			}
		}}

	case ninep.Tlopen:
		fid, _ := req.ReadUint32()
		f, ok := s.fids[fid]
		if !ok {
			return rlerror(testEINVAL)
		}
		return reply{typ: ninep.Rlopen, build: func(b *ninep.Buffer) {
			_ = b.WriteQid(f.qid)
			_ = b.WriteUint32(0)
		}}

	case ninep.Tlcreate:
		fid, _ := req.ReadUint32()
		name, _ := req.ReadString()
		_, _ = req.ReadUint32() // flags
		mode, _ := req.ReadUint32()
		dir, ok := s.fids[fid]
		if !ok || !dir.isDir() {
			return rlerror(testENOTDIR)
		}
		if dir.child(name) != nil {
			return rlerror(testEEXIST)
		}
		f := s.newNode(name, ninep.QTFile, ModeRegular|(mode&0o7777))
		f.parent = dir
		dir.children = append(dir.children, f)
		s.fids[fid] = f
		return reply{typ: ninep.Rlcreate, build: func(b *ninep.Buffer) {
			_ = b.WriteQid(f.qid)
			_ = b.WriteUint32(0)
		}}

	case ninep.Tread:
		fid, _ := req.ReadUint32()
		offset, _ := req.ReadUint64()
		count, _ := req.ReadUint32()
		f, ok := s.fids[fid]
		if !ok {
			return rlerror(testEINVAL)
		}
		s.readLog = append(s.readLog, [2]uint64{offset, uint64(count)})
		data := []byte{}
		if offset < uint64(len(f.data)) {
			data = f.data[offset:]
			if uint64(count) < uint64(len(data)) {
				data = data[:count]
			}
		}
		return reply{typ: ninep.Rread, build: func(b *ninep.Buffer) {
			_ = b.WriteUint32(uint32(len(data)))
			_ = b.WriteData(data)
		}}

	case ninep.Twrite:
		fid, _ := req.ReadUint32()
		offset, _ := req.ReadUint64()
		count, _ := req.ReadUint32()
		data, _ := req.ReadBytes(int(count))
		f, ok := s.fids[fid]
		if !ok {
			return rlerror(testEINVAL)
		}
		if need := int(offset) + len(data); need > len(f.data) {
			grown := make([]byte, need)
			copy(grown, f.data)
			f.data = grown
		}
		copy(f.data[offset:], data)
		return reply{typ: ninep.Rwrite, build: func(b *ninep.Buffer) {
			_ = b.WriteUint32(count)
		}}

	case ninep.Tclunk:
		fid, _ := req.ReadUint32()
		delete(s.fids, fid)
		return reply{typ: ninep.Rclunk}

	case ninep.Tremove:
		fid, _ := req.ReadUint32()
		f, ok := s.fids[fid]
		delete(s.fids, fid)
		if !ok || f.parent == nil || !f.parent.unlink(f.name) {
			return rlerror(testENOENT)
		}
		return reply{typ: ninep.Rremove}

	case ninep.Tgetattr:
		fid, _ := req.ReadUint32()
		mask, _ := req.ReadUint64()
		f, ok := s.fids[fid]
		if !ok {
			return rlerror(testEINVAL)
		}
		return reply{typ: ninep.Rgetattr, build: func(b *ninep.Buffer) {
			_ = b.WriteUint64(mask)
			_ = b.WriteQid(f.qid)
			_ = b.WriteUint32(f.mode)
			_ = b.WriteUint32(0) // uid
			_ = b.WriteUint32(0) // gid
			_ = b.WriteUint64(1) // nlink
			_ = b.WriteUint64(0) // rdev
			_ = b.WriteUint64(uint64(len(f.data)))
			_ = b.WriteUint64(4096) // blksize
			_ = b.WriteUint64(uint64(len(f.data)+511) / 512)
			for i := 0; i < 8; i++ { // four (sec, nsec) pairs
				_ = b.WriteUint64(0)
			}
			_ = b.WriteUint64(0) // gen
			_ = b.WriteUint64(0) // data_version
		}}

	case ninep.Tsetattr:
		fid, _ := req.ReadUint32()
		valid, _ := req.ReadUint32()
		mode, _ := req.ReadUint32()
		_, _ = req.ReadUint32() // uid
		_, _ = req.ReadUint32() // gid
		size, _ := req.ReadUint64()
		f, ok := s.fids[fid]
		if !ok {
			return rlerror(testEINVAL)
		}
		if valid&ninep.SetattrMode != 0 {
			f.mode = (f.mode & ModeTypeMask) | (mode &^ ModeTypeMask)
		}
		if valid&ninep.SetattrSize != 0 {
			if size <= uint64(len(f.data)) {
				f.data = f.data[:size]
			} else {
				grown := make([]byte, size)
				copy(grown, f.data)
				f.data = grown
			}
		}
		return reply{typ: ninep.Rsetattr}

	case ninep.Treaddir:
		fid, _ := req.ReadUint32()
		offset, _ := req.ReadUint64()
		count, _ := req.ReadUint32()
		f, ok := s.fids[fid]
		if !ok || !f.isDir() {
			return rlerror(testENOTDIR)
		}
		// Entry k carries continuation offset k+1; resuming at offset n
		// starts from child n.
		ents := ninep.NewBuffer(count)
		for i := int(offset); i < len(f.children); i++ {
			c := f.children[i]
			if ents.Remaining() < ninep.QidSize+8+1+2+len(c.name) {
				break
			}
			_ = ents.WriteQid(c.qid)
			_ = ents.WriteUint64(uint64(i + 1))
			_ = ents.WriteUint8(direntType(c.qid))
			_ = ents.WriteString(c.name)
		}
		return reply{typ: ninep.Rreaddir, build: func(b *ninep.Buffer) {
			_ = b.WriteUint32(uint32(ents.Size()))
			_ = b.WriteData(ents.Bytes())
		}}

	case ninep.Tmkdir:
		fid, _ := req.ReadUint32()
		name, _ := req.ReadString()
		dir, ok := s.fids[fid]
		if !ok || !dir.isDir() {
			return rlerror(testENOTDIR)
		}
		if dir.child(name) != nil {
			return rlerror(testEEXIST)
		}
		f := s.addDir(dir, name)
		return reply{typ: ninep.Rmkdir, build: func(b *ninep.Buffer) {
			_ = b.WriteQid(f.qid)
		}}

	case ninep.Tsymlink:
		fid, _ := req.ReadUint32()
		name, _ := req.ReadString()
		target, _ := req.ReadString()
		dir, ok := s.fids[fid]
		if !ok || !dir.isDir() {
			return rlerror(testENOTDIR)
		}
		f := s.newNode(name, ninep.QTSymlink, ModeSymlink|0o777)
		f.target = target
		f.parent = dir
		dir.children = append(dir.children, f)
		return reply{typ: ninep.Rsymlink, build: func(b *ninep.Buffer) {
			_ = b.WriteQid(f.qid)
		}}

	case ninep.Treadlink:
		fid, _ := req.ReadUint32()
		f, ok := s.fids[fid]
		if !ok || f.qid.Type&ninep.QTSymlink == 0 {
			return rlerror(testEINVAL)
		}
		return reply{typ: ninep.Rreadlink, build: func(b *ninep.Buffer) {
			_ = b.WriteString(f.target)
		}}

	case ninep.Tlink:
		dfid, _ := req.ReadUint32()
		fid, _ := req.ReadUint32()
		name, _ := req.ReadString()
		dir, dok := s.fids[dfid]
		f, fok := s.fids[fid]
		if !dok || !fok || !dir.isDir() {
			return rlerror(testEINVAL)
		}
		linked := *f
		linked.name = name
		linked.parent = dir
		dir.children = append(dir.children, &linked)
		return reply{typ: ninep.Rlink}

	case ninep.Tunlinkat:
		fid, _ := req.ReadUint32()
		name, _ := req.ReadString()
		dir, ok := s.fids[fid]
		if !ok || !dir.isDir() {
			return rlerror(testENOTDIR)
		}
		if !dir.unlink(name) {
			return rlerror(testENOENT)
		}
		return reply{typ: ninep.Runlinkat}

	case ninep.Trenameat:
		oldDfid, _ := req.ReadUint32()
		oldName, _ := req.ReadString()
		newDfid, _ := req.ReadUint32()
		newName, _ := req.ReadString()
		oldDir, ook := s.fids[oldDfid]
		newDir, nok := s.fids[newDfid]
		if !ook || !nok || !oldDir.isDir() || !newDir.isDir() {
			return rlerror(testENOTDIR)
		}
		f := oldDir.child(oldName)
		if f == nil {
			return rlerror(testENOENT)
		}
		oldDir.unlink(oldName)
		newDir.unlink(newName)
		f.name = newName
		f.parent = newDir
		newDir.children = append(newDir.children, f)
		return reply{typ: ninep.Rrenameat}

	case ninep.Tstatfs:
		return reply{typ: ninep.Rstatfs, build: func(b *ninep.Buffer) {
			_ = b.WriteUint32(0x01021997)
			_ = b.WriteUint32(4096)
			_ = b.WriteUint64(1000)
			_ = b.WriteUint64(600)
			_ = b.WriteUint64(500)
			_ = b.WriteUint64(64)
			_ = b.WriteUint64(48)
			_ = b.WriteUint64(0xbeef)
			_ = b.WriteUint32(255)
		}}

	case ninep.Tfsync:
		return reply{typ: ninep.Rfsync}
	}

	return rlerror(testEIO)
}

// mountTest mounts a fresh fake server and returns the volume alongside it.
// Seed the tree before issuing operations through seed.
func mountTest(t *testing.T, flags MountFlags, args string, seed func(*testServer)) (*Volume, *testServer) {
	t.Helper()

	clientEnd, serverEnd := loopback.Pair(ninep.MaxMsize)
	t.Cleanup(func() { _ = clientEnd.Close() })

	srv := startTestServer(t, serverEnd)
	if seed != nil {
		seed(srv)
	}

	registry := ninep.NewRegistry()
	if err := registry.Register("test0", clientEnd); err != nil {
		t.Fatal(err)
	}

	vol, err := Mount(nil, "test-device", Options{
		Registry: registry,
		Flags:    flags,
		Args:     args,
	})
	if err != nil {
		t.Fatal(err)
	}
	return vol, srv
}
