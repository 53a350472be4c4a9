package ninep

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestFidPool_ReservesRoot(t *testing.T) {
	p := NewFidPool(8)
	require.True(t, p.InUse(RootFid))
	require.Equal(t, 1, p.Allocated())

	// No allocation may hand out the root slot.
	for i := 0; i < 7; i++ {
		fid := p.Allocate()
		require.NotEqual(t, NoFid, fid)
		require.NotEqual(t, RootFid, fid)
	}
	require.Equal(t, NoFid, p.Allocate())
}

func TestFidPool_Exhaustion(t *testing.T) {
	p := NewFidPool(4)
	a, b, c := p.Allocate(), p.Allocate(), p.Allocate()
	require.NotEqual(t, NoFid, c)
	require.Equal(t, NoFid, p.Allocate())

	p.Release(b)
	require.Equal(t, b, p.Allocate())

	p.Release(a)
	p.Release(c)
	require.Equal(t, 2, p.Allocated())
}

func TestFidPool_DoubleRelease(t *testing.T) {
	p := NewFidPool(4)
	fid := p.Allocate()
	p.Release(fid)
	p.Release(fid)
	require.Equal(t, 1, p.Allocated())

	// Out-of-range releases are ignored.
	p.Release(NoFid)
	p.Release(Fid(100))
}

func TestFidPool_NextFit(t *testing.T) {
	p := NewFidPool(16)
	a := p.Allocate()
	b := p.Allocate()
	require.NotEqual(t, a, b)

	// The hint rotates past released slots, so a fresh allocation does not
	// immediately reuse the slot just freed.
	p.Release(a)
	c := p.Allocate()
	require.NotEqual(t, b, c)
	require.NotEqual(t, a, c)
}

func TestTagPool_NeverNoTag(t *testing.T) {
	p := NewTagPool(DefaultPoolSize)
	seen := make(map[Tag]bool)
	for {
		tag := p.Allocate()
		if tag == NoTag {
			break
		}
		require.False(t, seen[tag])
		seen[tag] = true
	}
	require.Len(t, seen, DefaultPoolSize)
}

func TestTagPool_CappedBelowNoTag(t *testing.T) {
	// Even a pool sized past the sentinel never allocates NoTag.
	p := NewTagPool(0x10000)
	require.Equal(t, uint32(NoTag), p.pool.max)
}

func TestTagPool_ReleaseNoTag(t *testing.T) {
	p := NewTagPool(4)
	p.Release(NoTag)
	require.Equal(t, 0, p.Allocated())
}

func TestPool_Concurrent(t *testing.T) {
	p := NewTagPool(DefaultPoolSize)

	var (
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				tag := p.Allocate()
				if tag == NoTag {
					failures.Inc()
					continue
				}
				p.Release(tag)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())
	require.Equal(t, 0, p.Allocated())
}
