package p9fs

import "github.com/antiartificial/ninefs/internal/ninep"

// OpSet is the dispatch table the host VFS calls through: one function
// field per exported operation. Node and cookie arguments are opaque to the
// host; each entry unpacks them back to *Inode, *FileCookie or *DirCookie
// and forwards to the matching method. Operations the file system does not
// support (paging, async I/O, attribute directories, queries, indices,
// special nodes) are left nil.
type OpSet struct {
	// Volume operations.
	Unmount    func() error
	ReadFSInfo func() (FSInfo, error)
	Sync       func() error

	// Vnode lifetime.
	Lookup      func(dir interface{}, name string) (uint64, error)
	GetVnode    func(id uint64) (interface{}, bool)
	PutVnode    func(node interface{}) error
	RemoveVnode func(node interface{}) error

	// File I/O.
	Open       func(node interface{}, flags uint32) (interface{}, error)
	Close      func(node, cookie interface{}) error
	FreeCookie func(node, cookie interface{}) error
	Read       func(node, cookie interface{}, pos uint64, buf []byte) (int, error)
	Write      func(node, cookie interface{}, pos uint64, buf []byte) (int, error)

	// Namespace mutation.
	Create        func(dir interface{}, name string, flags, perms uint32) (interface{}, uint64, error)
	Unlink        func(dir interface{}, name string) error
	Rename        func(fromDir interface{}, fromName string, toDir interface{}, toName string) error
	CreateDir     func(dir interface{}, name string, perms uint32) error
	RemoveDir     func(dir interface{}, name string) error
	CreateSymlink func(dir interface{}, name, target string) error

	// Directory iteration.
	OpenDir       func(node interface{}) (interface{}, error)
	CloseDir      func(node, cookie interface{}) error
	FreeDirCookie func(node, cookie interface{}) error
	ReadDir       func(node, cookie interface{}, buf []byte, max int) (int, error)
	RewindDir     func(node, cookie interface{}) error

	// Attributes and links.
	ReadStat  func(node interface{}) (Stat, error)
	WriteStat func(node interface{}, st Stat, mask uint32) error
	ReadLink  func(node interface{}, max int) (string, error)
	FSyncNode func(node interface{}) error
}

func asInode(node interface{}) (*Inode, error) {
	ino, ok := node.(*Inode)
	if !ok {
		return nil, ninep.ErrInvalid
	}
	return ino, nil
}

func asFileCookie(cookie interface{}) (*FileCookie, error) {
	c, ok := cookie.(*FileCookie)
	if !ok {
		return nil, ninep.ErrInvalid
	}
	return c, nil
}

func asDirCookie(cookie interface{}) (*DirCookie, error) {
	c, ok := cookie.(*DirCookie)
	if !ok {
		return nil, ninep.ErrInvalid
	}
	return c, nil
}

// NewOpSet wires a volume's operations into a dispatch table.
func NewOpSet(v *Volume) *OpSet {
	return &OpSet{
		Unmount:    v.Unmount,
		ReadFSInfo: v.ReadFSInfo,
		Sync:       v.Sync,

		Lookup: func(dir interface{}, name string) (uint64, error) {
			ino, err := asInode(dir)
			if err != nil {
				return 0, err
			}
			return ino.Lookup(name)
		},
		GetVnode: func(id uint64) (interface{}, bool) {
			ino, ok := v.LookupInode(id)
			if !ok {
				return nil, false
			}
			return ino, true
		},
		PutVnode: func(node interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			v.RemoveInode(ino)
			return nil
		},
		RemoveVnode: func(node interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			v.RemoveInode(ino)
			return nil
		},

		Open: func(node interface{}, flags uint32) (interface{}, error) {
			ino, err := asInode(node)
			if err != nil {
				return nil, err
			}
			return ino.Open(flags)
		},
		Close: func(node, cookie interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			c, err := asFileCookie(cookie)
			if err != nil {
				return err
			}
			return ino.Close(c)
		},
		FreeCookie: func(node, cookie interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			c, err := asFileCookie(cookie)
			if err != nil {
				return err
			}
			return ino.FreeCookie(c)
		},
		Read: func(node, cookie interface{}, pos uint64, buf []byte) (int, error) {
			ino, err := asInode(node)
			if err != nil {
				return 0, err
			}
			c, err := asFileCookie(cookie)
			if err != nil {
				return 0, err
			}
			return ino.Read(c, pos, buf)
		},
		Write: func(node, cookie interface{}, pos uint64, buf []byte) (int, error) {
			ino, err := asInode(node)
			if err != nil {
				return 0, err
			}
			c, err := asFileCookie(cookie)
			if err != nil {
				return 0, err
			}
			return ino.Write(c, pos, buf)
		},

		Create: func(dir interface{}, name string, flags, perms uint32) (interface{}, uint64, error) {
			ino, err := asInode(dir)
			if err != nil {
				return nil, 0, err
			}
			return ino.Create(name, flags, perms)
		},
		Unlink: func(dir interface{}, name string) error {
			ino, err := asInode(dir)
			if err != nil {
				return err
			}
			return ino.Remove(name)
		},
		Rename: func(fromDir interface{}, fromName string, toDir interface{}, toName string) error {
			from, err := asInode(fromDir)
			if err != nil {
				return err
			}
			to, err := asInode(toDir)
			if err != nil {
				return err
			}
			return from.Rename(fromName, to, toName)
		},
		CreateDir: func(dir interface{}, name string, perms uint32) error {
			ino, err := asInode(dir)
			if err != nil {
				return err
			}
			return ino.CreateDir(name, perms)
		},
		RemoveDir: func(dir interface{}, name string) error {
			ino, err := asInode(dir)
			if err != nil {
				return err
			}
			return ino.RemoveDir(name)
		},
		CreateSymlink: func(dir interface{}, name, target string) error {
			ino, err := asInode(dir)
			if err != nil {
				return err
			}
			return ino.CreateSymlink(name, target)
		},

		OpenDir: func(node interface{}) (interface{}, error) {
			ino, err := asInode(node)
			if err != nil {
				return nil, err
			}
			return ino.OpenDir()
		},
		CloseDir: func(node, cookie interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			c, err := asDirCookie(cookie)
			if err != nil {
				return err
			}
			return ino.CloseDir(c)
		},
		FreeDirCookie: func(node, cookie interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			c, err := asDirCookie(cookie)
			if err != nil {
				return err
			}
			return ino.FreeDirCookie(c)
		},
		ReadDir: func(node, cookie interface{}, buf []byte, max int) (int, error) {
			ino, err := asInode(node)
			if err != nil {
				return 0, err
			}
			c, err := asDirCookie(cookie)
			if err != nil {
				return 0, err
			}
			return ino.ReadDir(c, buf, max)
		},
		RewindDir: func(node, cookie interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			c, err := asDirCookie(cookie)
			if err != nil {
				return err
			}
			ino.RewindDir(c)
			return nil
		},

		ReadStat: func(node interface{}) (Stat, error) {
			ino, err := asInode(node)
			if err != nil {
				return Stat{}, err
			}
			return ino.ReadStat()
		},
		WriteStat: func(node interface{}, st Stat, mask uint32) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			return ino.WriteStat(st, mask)
		},
		ReadLink: func(node interface{}, max int) (string, error) {
			ino, err := asInode(node)
			if err != nil {
				return "", err
			}
			return ino.ReadLink(max)
		},
		FSyncNode: func(node interface{}) error {
			ino, err := asInode(node)
			if err != nil {
				return err
			}
			return ino.Sync()
		},
	}
}
