// Package p9fs adapts a 9P2000.L connection to a host file-system
// interface: a Volume per mount, an Inode per remote file, and cookies for
// open files and directory iterations. The host VFS talks to it through the
// OpSet dispatch table.
package p9fs

import (
	"encoding/binary"

	"github.com/antiartificial/ninefs/internal/ninep"
)

// MountFlags modify a mount.
type MountFlags uint32

// MountReadOnly rejects every mutation at the inode layer before any RPC is
// issued.
const MountReadOnly MountFlags = 1 << 0

// File type bits in a Stat mode, Linux layout.
const (
	ModeTypeMask uint32 = 0xF000
	ModeRegular  uint32 = 0x8000
	ModeDir      uint32 = 0x4000
	ModeSymlink  uint32 = 0xA000
)

// Stat is the host-facing stat record.
type Stat struct {
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    uint64
	BlkSize uint32
	Blocks  uint64
	Atime   ninep.Timespec
	Mtime   ninep.Timespec
	Ctime   ninep.Timespec
	Crtime  ninep.Timespec
}

// WriteStat mask bits select which Stat fields a WriteStat applies.
const (
	StatMode  uint32 = 1 << 0
	StatUID   uint32 = 1 << 1
	StatGID   uint32 = 1 << 2
	StatSize  uint32 = 1 << 3
	StatAtime uint32 = 1 << 4
	StatMtime uint32 = 1 << 5
)

// FSInfo capability flags.
const (
	FSPersistent   uint32 = 1 << 0
	FSReadOnly     uint32 = 1 << 1
	FSSupportsAttr uint32 = 1 << 2
)

// FSInfo is the host-facing file-system info record, projected from an
// Rstatfs.
type FSInfo struct {
	Flags       uint32
	BlockSize   uint32
	IOSize      uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalNodes  uint64
	FreeNodes   uint64
	NameLen     uint32
	DeviceName  string
	VolumeName  string
}

// Directory entries are returned to the host packed into a byte buffer:
// ino[8] dev[4] reclen[2] name[...] nul. reclen covers the whole record.
const direntHeaderSize = 8 + 4 + 2

// direntRecLen returns the packed size of an entry for name.
func direntRecLen(name string) int {
	return direntHeaderSize + len(name) + 1
}

// putDirent packs one entry at the start of buf and returns its record
// length, or 0 when it does not fit.
func putDirent(buf []byte, ino uint64, dev uint32, name string) int {
	recLen := direntRecLen(name)
	if recLen > len(buf) {
		return 0
	}
	binary.LittleEndian.PutUint64(buf[0:], ino)
	binary.LittleEndian.PutUint32(buf[8:], dev)
	binary.LittleEndian.PutUint16(buf[12:], uint16(recLen))
	copy(buf[direntHeaderSize:], name)
	buf[recLen-1] = 0
	return recLen
}

// Dirent is one unpacked directory entry.
type Dirent struct {
	Ino  uint64
	Dev  uint32
	Name string
}

// ParseDirents unpacks the records ReadDir produced. Short or corrupt
// records terminate the scan.
func ParseDirents(buf []byte) []Dirent {
	var out []Dirent
	for len(buf) >= direntHeaderSize {
		recLen := int(binary.LittleEndian.Uint16(buf[12:]))
		if recLen < direntHeaderSize+1 || recLen > len(buf) {
			break
		}
		out = append(out, Dirent{
			Ino:  binary.LittleEndian.Uint64(buf[0:]),
			Dev:  binary.LittleEndian.Uint32(buf[8:]),
			Name: string(buf[direntHeaderSize : recLen-1]),
		})
		buf = buf[recLen:]
	}
	return out
}
