package cache

import (
	"sync/atomic"

	"github.com/tinyrange/memflow-go/memtype"
)

// Validator supplies the generation token a TLB compares against on every
// lookup and stamps onto every entry it fills; the token is read afresh on
// each TryEntry/CacheEntry, not once per translation call. Bumping the token
// invalidates the entire TLB in O(1): stale entries are never walked and
// evicted one by one, they simply fail their token comparison on next use.
type Validator interface {
	// CurrentToken returns the validator's present generation.
	CurrentToken() uint64
	// UpdateValidity advances the generation, invalidating every entry
	// stamped with an older token.
	UpdateValidity()
}

// TickValidator is a Validator whose generation only ever advances when
// explicitly told to, e.g. by a caller that detects the guest's CR3 or page
// tables changed. It carries no wall-clock dependency; DESIGN.md's cache
// section discusses why TLB invalidation is event-driven rather than timed,
// unlike PageCache's expiry.
type TickValidator struct {
	token atomic.Uint64
}

// NewTickValidator returns a validator starting at generation 1. Generation
// 0 is reserved so a zero-value tlbEntry is never mistaken for valid.
func NewTickValidator() *TickValidator {
	v := &TickValidator{}
	v.token.Store(1)
	return v
}

func (v *TickValidator) CurrentToken() uint64 { return v.token.Load() }
func (v *TickValidator) UpdateValidity()      { v.token.Add(1) }

// tlbKey identifies one cached translation by the page directory base and
// the virtual page it maps, so the same vaddr under two different address
// spaces (processes) never collides on a correct answer.
type tlbKey struct {
	dtb   memtype.Address
	vpage memtype.Address
}

type tlbEntry struct {
	key   tlbKey
	token uint64
	phys  memtype.PhysicalAddress
}

// TLB is a bounded, direct-mapped cache of virtual-to-physical translations,
// keyed by (dtb, virtual page). Like PageCache it performs no LRU
// bookkeeping: a collision simply overwrites the existing slot-mate.
type TLB struct {
	validator Validator
	pageBits  uint // log2 of the smallest cacheable page size, for slot hashing
	entries   []tlbEntry
}

// NewTLB constructs a TLB with room for capacity entries, hashed by the
// given base page size (the finest granularity a translation can name).
func NewTLB(capacity int, basePageSize memtype.Length, validator Validator) *TLB {
	bits := uint(0)
	for sz := uint64(basePageSize); sz > 1; sz >>= 1 {
		bits++
	}
	return &TLB{
		validator: validator,
		pageBits:  bits,
		entries:   make([]tlbEntry, capacity),
	}
}

func (c *TLB) slotIndex(k tlbKey) int {
	h := (uint64(k.dtb)>>c.pageBits)*31 + uint64(k.vpage)>>c.pageBits
	return int(h % uint64(len(c.entries)))
}

// TryEntry looks up the translation for vaddr under dtb. ok is false on a
// miss or on a hit whose token predates the validator's current generation.
func (c *TLB) TryEntry(dtb, vaddr memtype.Address, pageSize memtype.Length) (memtype.PhysicalAddress, bool) {
	vpage := vaddr.AlignDown(pageSize)
	key := tlbKey{dtb: dtb, vpage: vpage}
	idx := c.slotIndex(key)
	e := c.entries[idx]

	if e.key != key {
		return memtype.PhysicalAddress{}, false
	}
	if e.token != c.validator.CurrentToken() {
		return memtype.PhysicalAddress{}, false
	}
	offset := vaddr.Sub(vpage)
	return memtype.PhysicalAddress{
		Address: e.phys.Address.Add(offset),
		Page:    e.phys.Page,
	}, true
}

// CacheEntry records a fresh translation, stamped with the validator's
// current generation so a later UpdateValidity invalidates it without this
// TLB needing to walk its slots. basePageSize must be the same value passed
// to TryEntry (and to NewTLB): a large-page translation still keys and
// aligns by the base size, not phys.Page.Size, since the page offset below
// basePageSize is identical between vaddr and phys.Address regardless of
// how large the actual mapping is. Keying by the leaf's own size instead
// would store an entry TryEntry's base-page-aligned lookup can never match.
func (c *TLB) CacheEntry(dtb, vaddr memtype.Address, phys memtype.PhysicalAddress, basePageSize memtype.Length) {
	vpage := vaddr.AlignDown(basePageSize)
	key := tlbKey{dtb: dtb, vpage: vpage}
	idx := c.slotIndex(key)
	c.entries[idx] = tlbEntry{
		key:   key,
		token: c.validator.CurrentToken(),
		phys: memtype.PhysicalAddress{
			Address: phys.Address.AlignDown(basePageSize),
			Page:    phys.Page,
		},
	}
}
