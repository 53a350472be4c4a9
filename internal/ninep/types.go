package ninep

// Handle types. 9P has two kinds of client-chosen handles: fids name files
// for the lifetime of a binding, tags name transactions for the lifetime of
// one request/response pair.
type (
	// Fid is a client-chosen 32-bit handle bound to a file by the server.
	// A fid is created by attach or walk and destroyed by clunk or remove.
	Fid uint32

	// Tag is a client-chosen 16-bit transaction identifier. Tags may be
	// reused freely once their response has been consumed.
	Tag uint16

	// MsgType is a 9P message type code. Every T-code is paired with
	// T-code+1 as its success response.
	MsgType uint8

	// QidType encodes the object class bits of a qid.
	QidType uint8
)

const (
	// NoFid is the reserved "no fid" value, used for the afid on attach.
	NoFid Fid = 0xFFFFFFFF

	// NoTag is the reserved tag used only by Tversion.
	NoTag Tag = 0xFFFF

	// NoUname is the reserved n_uname meaning no numeric user id.
	NoUname uint32 = 0xFFFFFFFF

	// RootFid is the fid bound to the attach root by convention. The fid
	// pool reserves it at init.
	RootFid Fid = 0
)

// Message type codes for the 9P2000.L dialect.
const (
	Rlerror   MsgType = 7
	Tstatfs   MsgType = 8
	Rstatfs   MsgType = 9
	Tlopen    MsgType = 12
	Rlopen    MsgType = 13
	Tlcreate  MsgType = 14
	Rlcreate  MsgType = 15
	Tsymlink  MsgType = 16
	Rsymlink  MsgType = 17
	Treadlink MsgType = 22
	Rreadlink MsgType = 23
	Tgetattr  MsgType = 24
	Rgetattr  MsgType = 25
	Tsetattr  MsgType = 26
	Rsetattr  MsgType = 27
	Treaddir  MsgType = 40
	Rreaddir  MsgType = 41
	Tfsync    MsgType = 50
	Rfsync    MsgType = 51
	Tlink     MsgType = 70
	Rlink     MsgType = 71
	Tmkdir    MsgType = 72
	Rmkdir    MsgType = 73
	Trenameat MsgType = 74
	Rrenameat MsgType = 75
	Tunlinkat MsgType = 76
	Runlinkat MsgType = 77
	Tversion  MsgType = 100
	Rversion  MsgType = 101
	Tattach   MsgType = 104
	Rattach   MsgType = 105
	Tflush    MsgType = 108
	Rflush    MsgType = 109
	Twalk     MsgType = 110
	Rwalk     MsgType = 111
	Tread     MsgType = 116
	Rread     MsgType = 117
	Twrite    MsgType = 118
	Rwrite    MsgType = 119
	Tclunk    MsgType = 120
	Rclunk    MsgType = 121
	Tremove   MsgType = 122
	Rremove   MsgType = 123
)

// String returns the protocol name of the message type.
func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

var msgTypeNames = map[MsgType]string{
	Rlerror: "Rlerror", Tstatfs: "Tstatfs", Rstatfs: "Rstatfs",
	Tlopen: "Tlopen", Rlopen: "Rlopen", Tlcreate: "Tlcreate", Rlcreate: "Rlcreate",
	Tsymlink: "Tsymlink", Rsymlink: "Rsymlink", Treadlink: "Treadlink", Rreadlink: "Rreadlink",
	Tgetattr: "Tgetattr", Rgetattr: "Rgetattr", Tsetattr: "Tsetattr", Rsetattr: "Rsetattr",
	Treaddir: "Treaddir", Rreaddir: "Rreaddir", Tfsync: "Tfsync", Rfsync: "Rfsync",
	Tlink: "Tlink", Rlink: "Rlink", Tmkdir: "Tmkdir", Rmkdir: "Rmkdir",
	Trenameat: "Trenameat", Rrenameat: "Rrenameat", Tunlinkat: "Tunlinkat", Runlinkat: "Runlinkat",
	Tversion: "Tversion", Rversion: "Rversion", Tattach: "Tattach", Rattach: "Rattach",
	Tflush: "Tflush", Rflush: "Rflush", Twalk: "Twalk", Rwalk: "Rwalk",
	Tread: "Tread", Rread: "Rread", Twrite: "Twrite", Rwrite: "Rwrite",
	Tclunk: "Tclunk", Rclunk: "Rclunk", Tremove: "Tremove", Rremove: "Rremove",
}

// Qid type bits.
const (
	QTDir     QidType = 0x80 // directory
	QTAppend  QidType = 0x40 // append-only file
	QTExcl    QidType = 0x20 // exclusive use file
	QTMount   QidType = 0x10 // mounted channel
	QTAuth    QidType = 0x08 // authentication file
	QTTmp     QidType = 0x04 // temporary file
	QTSymlink QidType = 0x02 // symbolic link
	QTLink    QidType = 0x01 // hard link
	QTFile    QidType = 0x00 // regular file
)

// Qid is the 13-byte server-assigned identity of a file. Path is unique per
// file within a server session and seeds the local inode number.
type Qid struct {
	Type    QidType
	Version uint32
	Path    uint64
}

// IsDir reports whether the qid names a directory.
func (q Qid) IsDir() bool { return q.Type&QTDir != 0 }

// IsSymlink reports whether the qid names a symbolic link.
func (q Qid) IsSymlink() bool { return q.Type&QTSymlink != 0 }

// Open flags, Linux semantics. Advisory flags beyond this set pass through
// unchanged.
const (
	ORdOnly    uint32 = 0x0000000
	OWrOnly    uint32 = 0x0000001
	ORdWr      uint32 = 0x0000002
	OAccMode   uint32 = 0x0000003
	OCreate    uint32 = 0x0000040
	OExcl      uint32 = 0x0000080
	OTrunc     uint32 = 0x0000200
	OAppend    uint32 = 0x0000400
	ODirectory uint32 = 0x0010000
)

// Getattr request mask bits.
const (
	GetattrMode        uint64 = 0x00000001
	GetattrNlink       uint64 = 0x00000002
	GetattrUID         uint64 = 0x00000004
	GetattrGID         uint64 = 0x00000008
	GetattrRdev        uint64 = 0x00000010
	GetattrAtime       uint64 = 0x00000020
	GetattrMtime       uint64 = 0x00000040
	GetattrCtime       uint64 = 0x00000080
	GetattrIno         uint64 = 0x00000100
	GetattrSize        uint64 = 0x00000200
	GetattrBlocks      uint64 = 0x00000400
	GetattrBtime       uint64 = 0x00000800
	GetattrGen         uint64 = 0x00001000
	GetattrDataVersion uint64 = 0x00002000
	GetattrBasic       uint64 = 0x000007ff
	GetattrAll         uint64 = 0x00003fff
)

// Setattr valid mask bits. The *Set variants carry an explicit timestamp;
// without them the server uses its current time.
const (
	SetattrMode     uint32 = 0x00000001
	SetattrUID      uint32 = 0x00000002
	SetattrGID      uint32 = 0x00000004
	SetattrSize     uint32 = 0x00000008
	SetattrAtime    uint32 = 0x00000010
	SetattrMtime    uint32 = 0x00000020
	SetattrCtime    uint32 = 0x00000040
	SetattrAtimeSet uint32 = 0x00000080
	SetattrMtimeSet uint32 = 0x00000100
)

// AtRemoveDir is the unlinkat flag selecting directory removal.
const AtRemoveDir uint32 = 0x200

// Timespec is a (seconds, nanoseconds) pair as carried by getattr and
// setattr.
type Timespec struct {
	Sec  uint64
	Nsec uint64
}

// Attr is the 9P2000.L getattr attribute record. Valid reports which fields
// the server filled in.
type Attr struct {
	Valid       uint64
	Qid         Qid
	Mode        uint32
	UID         uint32
	GID         uint32
	Nlink       uint64
	Rdev        uint64
	Size        uint64
	BlkSize     uint64
	Blocks      uint64
	Atime       Timespec
	Mtime       Timespec
	Ctime       Timespec
	Btime       Timespec
	Gen         uint64
	DataVersion uint64
}

// SetAttr carries the writable attribute fields for a Tsetattr. The valid
// mask passed alongside selects which fields the server applies.
type SetAttr struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime Timespec
	Mtime Timespec
}

// StatFS is the Rstatfs file-system info record.
type StatFS struct {
	Type    uint32
	BSize   uint32
	Blocks  uint64
	BFree   uint64
	BAvail  uint64
	Files   uint64
	FFree   uint64
	FSID    uint64
	NameLen uint32
}

// DirEnt is one parsed Rreaddir entry. Offset is the opaque server
// continuation cursor for the next Treaddir.
type DirEnt struct {
	Qid    Qid
	Offset uint64
	Type   uint8
	Name   string
}
