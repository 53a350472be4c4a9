package p9fs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutDirent(t *testing.T) {
	buf := make([]byte, 64)
	n := putDirent(buf, 42, 7, "file.txt")
	require.Equal(t, direntRecLen("file.txt"), n)

	ents := ParseDirents(buf[:n])
	require.Equal(t, []Dirent{{Ino: 42, Dev: 7, Name: "file.txt"}}, ents)
}

func TestPutDirent_NoFit(t *testing.T) {
	buf := make([]byte, direntRecLen("file.txt")-1)
	require.Zero(t, putDirent(buf, 1, 1, "file.txt"))
}

func TestParseDirents_Multiple(t *testing.T) {
	buf := make([]byte, 128)
	n1 := putDirent(buf, 1, 9, "a")
	n2 := putDirent(buf[n1:], 2, 9, "bb")

	ents := ParseDirents(buf[:n1+n2])
	require.Equal(t, []Dirent{
		{Ino: 1, Dev: 9, Name: "a"},
		{Ino: 2, Dev: 9, Name: "bb"},
	}, ents)
}

func TestParseDirents_StopsOnCorruptRecord(t *testing.T) {
	buf := make([]byte, 64)
	n := putDirent(buf, 1, 1, "ok")

	// A record length running past the buffer terminates the scan.
	buf[n+12] = 0xFF
	buf[n+13] = 0xFF
	ents := ParseDirents(buf[:n+direntHeaderSize+2])
	require.Len(t, ents, 1)
}
