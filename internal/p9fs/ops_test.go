package p9fs

import (
	"testing"

	"github.com/antiartificial/ninefs/internal/ninep"
	"github.com/stretchr/testify/require"
)

func TestOpSet_ForwardsToInode(t *testing.T) {
	vol, _ := mountTest(t, 0, "tag=test0", func(s *testServer) {
		s.addFile(s.root, "hello.txt", []byte("hello world"))
	})
	ops := NewOpSet(vol)

	root, ok := ops.GetVnode(vol.RootID())
	require.True(t, ok)

	id, err := ops.Lookup(root, "hello.txt")
	require.NoError(t, err)
	node, ok := ops.GetVnode(id)
	require.True(t, ok)

	cookie, err := ops.Open(node, ninep.ORdOnly)
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := ops.Read(node, cookie, 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))

	require.NoError(t, ops.Close(node, cookie))
	require.NoError(t, ops.FreeCookie(node, cookie))

	st, err := ops.ReadStat(node)
	require.NoError(t, err)
	require.Equal(t, uint64(11), st.Size)

	require.NoError(t, ops.Unmount())
}

func TestOpSet_DirectoryIteration(t *testing.T) {
	vol, _ := mountTest(t, 0, "tag=test0", func(s *testServer) {
		s.addFile(s.root, "one", nil)
		s.addFile(s.root, "two", nil)
	})
	ops := NewOpSet(vol)
	root, _ := ops.GetVnode(vol.RootID())

	dc, err := ops.OpenDir(root)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := ops.ReadDir(root, dc, buf, 64)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, ops.RewindDir(root, dc))
	n, err = ops.ReadDir(root, dc, buf, 64)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, ops.CloseDir(root, dc))
	require.NoError(t, ops.FreeDirCookie(root, dc))
}

func TestOpSet_RejectsForeignNodeTypes(t *testing.T) {
	vol, _ := mountTest(t, 0, "tag=test0", nil)
	ops := NewOpSet(vol)
	root, _ := ops.GetVnode(vol.RootID())

	_, err := ops.Lookup("not a node", "x")
	require.ErrorIs(t, err, ninep.ErrInvalid)

	_, err = ops.Open(42, 0)
	require.ErrorIs(t, err, ninep.ErrInvalid)

	_, err = ops.Read(root, "not a cookie", 0, nil)
	require.ErrorIs(t, err, ninep.ErrInvalid)

	// A file cookie is not a directory cookie.
	n, err := ops.ReadDir(root, &FileCookie{}, nil, 0)
	require.Zero(t, n)
	require.ErrorIs(t, err, ninep.ErrInvalid)
}
