package ninep

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	tr := newPipeTransport(DefaultMsize)

	require.NoError(t, r.Register("virtio0", tr))

	got, ok := r.Find("virtio0")
	require.True(t, ok)
	require.Equal(t, Transport(tr), got)

	_, ok = r.Find("virtio1")
	require.False(t, ok)

	r.Unregister("virtio0")
	_, ok = r.Find("virtio0")
	require.False(t, ok)
}

func TestRegistry_DuplicateTag(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tag", newPipeTransport(DefaultMsize)))
	require.ErrorIs(t, r.Register("tag", newPipeTransport(DefaultMsize)), ErrExists)
}

func TestRegistry_EmptyTag(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Register("", newPipeTransport(DefaultMsize)), ErrInvalid)
}

func TestRegistry_TableBound(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxRegistryEntries; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("tag%d", i), newPipeTransport(DefaultMsize)))
	}
	require.ErrorIs(t, r.Register("overflow", newPipeTransport(DefaultMsize)), ErrNoSpace)

	// Unregistering frees a table slot.
	r.Unregister("tag0")
	require.NoError(t, r.Register("overflow", newPipeTransport(DefaultMsize)))
}

func TestErrorFromErrno(t *testing.T) {
	tt := []struct {
		errno  uint32
		expect Error
	}{
		{errnoENOENT, ErrNotFound},
		{errnoEPERM, ErrPermission},
		{errnoEACCES, ErrPermission},
		{errnoEEXIST, ErrExists},
		{errnoEISDIR, ErrIsDir},
		{errnoENOTDIR, ErrNotDir},
		{errnoEINVAL, ErrInvalid},
		{errnoENAMETOOLONG, ErrNameTooLong},
		{errnoENOTEMPTY, ErrNotEmpty},
		{errnoENOSPC, ErrNoSpace},
		{errnoEROFS, ErrReadOnly},
		{errnoEOVERFLOW, ErrBufferOverflow},
		{errnoEOPNOTSUPP, ErrNotSupported},
		{errnoEIO, ErrIO},
		{54321, ErrIO},
	}
	for _, tc := range tt {
		require.Equal(t, tc.expect, ErrorFromErrno(tc.errno), "errno %d", tc.errno)
	}
}

func TestError_Descriptions(t *testing.T) {
	require.Equal(t, "no such file or directory", ErrNotFound.Error())
	require.Equal(t, "protocol violation", ErrProtocol.Error())
	require.Equal(t, "9p error 999", Error(999).Error())
}
