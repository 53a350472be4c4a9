package ninep

import "sync"

// bitmapPool is a mutex-guarded bitmap allocator with a rotating next-fit
// hint. Allocation scans forward from the hint, takes the first free slot
// and advances the hint; release clears the bit and tolerates double
// release. Next-fit keeps reuse local without a free list to audit on error
// paths.
type bitmapPool struct {
	mu     sync.Mutex
	bitmap []uint32
	max    uint32
	hint   uint32
}

func newBitmapPool(max uint32) *bitmapPool {
	return &bitmapPool{
		bitmap: make([]uint32, (max+31)/32),
		max:    max,
	}
}

func (p *bitmapPool) test(slot uint32) bool {
	return p.bitmap[slot/32]&(1<<(slot%32)) != 0
}

func (p *bitmapPool) set(slot uint32) {
	p.bitmap[slot/32] |= 1 << (slot % 32)
}

func (p *bitmapPool) clear(slot uint32) {
	p.bitmap[slot/32] &^= 1 << (slot % 32)
}

// allocate returns the first free slot scanning from the hint, or max when
// the pool is exhausted.
func (p *bitmapPool) allocate() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := uint32(0); i < p.max; i++ {
		slot := (p.hint + i) % p.max
		if p.test(slot) {
			continue
		}
		p.set(slot)
		p.hint = (slot + 1) % p.max
		return slot
	}
	return p.max
}

func (p *bitmapPool) release(slot uint32) {
	if slot >= p.max {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear(slot)
}

func (p *bitmapPool) inUse(slot uint32) bool {
	if slot >= p.max {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.test(slot)
}

func (p *bitmapPool) allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for slot := uint32(0); slot < p.max; slot++ {
		if p.test(slot) {
			n++
		}
	}
	return n
}

// DefaultPoolSize is the slot count for both handle pools.
const DefaultPoolSize = 256

// FidPool hands out fids. Slot 0 is reserved at init for the root attach so
// a concurrent allocator cannot steal it.
type FidPool struct {
	pool *bitmapPool
}

// NewFidPool returns a pool of max fids with the root slot marked in use.
func NewFidPool(max uint32) *FidPool {
	p := &FidPool{pool: newBitmapPool(max)}
	p.pool.set(uint32(RootFid))
	return p
}

// Allocate returns a free fid, or NoFid when the pool is exhausted.
func (p *FidPool) Allocate() Fid {
	slot := p.pool.allocate()
	if slot >= p.pool.max {
		return NoFid
	}
	return Fid(slot)
}

// Release returns a fid to the pool. Releasing a free fid is a no-op.
func (p *FidPool) Release(fid Fid) { p.pool.release(uint32(fid)) }

// InUse reports whether the fid is currently allocated.
func (p *FidPool) InUse(fid Fid) bool { return p.pool.inUse(uint32(fid)) }

// Allocated counts the fids currently in use, including the reserved root
// slot.
func (p *FidPool) Allocated() int { return p.pool.allocated() }

// TagPool hands out transaction tags. NoTag is never allocated; it is used
// literally for Tversion.
type TagPool struct {
	pool *bitmapPool
}

// NewTagPool returns a pool of max tags.
func NewTagPool(max uint32) *TagPool {
	if max > uint32(NoTag) {
		max = uint32(NoTag)
	}
	return &TagPool{pool: newBitmapPool(max)}
}

// Allocate returns a free tag, or NoTag when the pool is exhausted.
func (p *TagPool) Allocate() Tag {
	slot := p.pool.allocate()
	if slot >= p.pool.max {
		return NoTag
	}
	return Tag(slot)
}

// Release returns a tag to the pool. Releasing a free tag is a no-op.
func (p *TagPool) Release(tag Tag) {
	if tag == NoTag {
		return
	}
	p.pool.release(uint32(tag))
}

// Allocated counts the tags currently in use.
func (p *TagPool) Allocated() int { return p.pool.allocated() }
