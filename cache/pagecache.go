// Package cache implements the two bounded, direct-mapped caches the VAT
// composes around a raw backend: PageCache (page contents) and TLB
// (virtual-to-physical translations). Both are ported from
// original_source/flow-core/src/mem/cache/timed_cache.rs, keeping its
// single-contiguous-arena layout and direct-map-by-collision eviction
// policy — there is no LRU bookkeeping anywhere in this package, by design.
package cache

import (
	"time"
	"unsafe"

	"github.com/tinyrange/memflow-go/memtype"
)

// PageCache caches the contents of page-sized physical regions, typed by
// memtype.PageType, with wall-clock expiry and direct-mapped placement. All
// storage is allocated once at construction in a single page-aligned arena;
// there is no allocation on the hit or miss path.
type PageCache struct {
	pageSize     memtype.Length
	pageTypeMask memtype.PageType
	cacheTime    time.Duration
	now          func() time.Time

	arena []byte
	addrs []memtype.Address
	stamp []time.Time
}

// NewPageCache constructs a PageCache with room for capacity pages of
// pageSize bytes each. cacheTime is the validity window; pageTypeMask is the
// immutable set of PageTypes this cache is allowed to hold, matching
// TimedCache::new's page_type_mask. A nil clock defaults to time.Now.
func NewPageCache(capacity int, pageSize memtype.Length, cacheTime time.Duration, pageTypeMask memtype.PageType, clock func() time.Time) *PageCache {
	if clock == nil {
		clock = time.Now
	}
	ps := pageSize.AsUsize()
	raw := make([]byte, capacity*ps+ps)
	off := -int(uintptr(unsafe.Pointer(&raw[0]))) & (ps - 1)
	c := &PageCache{
		pageSize:     pageSize,
		pageTypeMask: pageTypeMask,
		cacheTime:    cacheTime,
		now:          clock,
		arena:        raw[off : off+capacity*ps],
		addrs:        make([]memtype.Address, capacity),
		stamp:        make([]time.Time, capacity),
	}
	for i := range c.addrs {
		c.addrs[i] = memtype.InvalidAddress
	}
	return c
}

// PageSize returns the page size this cache was constructed with.
func (c *PageCache) PageSize() memtype.Length { return c.pageSize }

// IsCached reports whether pageType is in the cacheable mask configured at
// construction.
func (c *PageCache) IsCached(pageType memtype.PageType) bool {
	return c.pageTypeMask.Contains(pageType)
}

func (c *PageCache) slotIndex(addr memtype.Address) int {
	aligned := addr.AlignDown(c.pageSize)
	return int((uint64(aligned) / uint64(c.pageSize)) % uint64(len(c.addrs)))
}

func (c *PageCache) slotBuf(idx int) []byte {
	start := idx * c.pageSize.AsUsize()
	return c.arena[start : start+c.pageSize.AsUsize()]
}

// Entry is the slot returned by Lookup: Buf always has length PageSize and
// may be written into on a miss; Valid reports whether its current contents
// are still a live cached copy of AlignedAddr's page.
type Entry struct {
	Valid      bool
	AlignedAddr memtype.Address
	Buf        []byte
}

// Lookup returns the slot for paddr's containing page. Valid is true iff the
// slot's tag matches the aligned address and the fill is still within the
// validity window; in both cases Buf is the slot's backing storage so a
// caller can fill it on a miss and then call Validate.
func (c *PageCache) Lookup(paddr memtype.Address) Entry {
	idx := c.slotIndex(paddr)
	aligned := paddr.AlignDown(c.pageSize)
	buf := c.slotBuf(idx)

	if c.addrs[idx] != aligned {
		return Entry{Valid: false, AlignedAddr: aligned, Buf: buf}
	}
	if c.now().Sub(c.stamp[idx]) > c.cacheTime {
		return Entry{Valid: false, AlignedAddr: aligned, Buf: buf}
	}
	return Entry{Valid: true, AlignedAddr: aligned, Buf: buf}
}

// Validate marks the slot for paddr's page as freshly filled, if pageType is
// cacheable. Callers must have just written PageSize bytes into the Buf
// returned by the preceding Lookup.
func (c *PageCache) Validate(paddr memtype.Address, pageType memtype.PageType) {
	if !c.IsCached(pageType) {
		return
	}
	idx := c.slotIndex(paddr)
	c.addrs[idx] = paddr.AlignDown(c.pageSize)
	c.stamp[idx] = c.now()
}

// Invalidate evicts the slot for paddr's page, if pageType is cacheable.
// Used after a physical write so a subsequent read observes post-write
// state rather than a stale cached copy.
func (c *PageCache) Invalidate(paddr memtype.Address, pageType memtype.PageType) {
	if !c.IsCached(pageType) {
		return
	}
	idx := c.slotIndex(paddr)
	c.addrs[idx] = memtype.InvalidAddress
}
