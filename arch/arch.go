// Package arch implements the architecture descriptor and the batched
// page-table walk described in the spec's Architecture descriptor
// component. A Descriptor is a plain data value, not an interface: the
// translation hot path reads its fields directly so that it monomorphizes
// per architecture instead of paying for dynamic dispatch on every entry.
//
// The walk itself is ported from tinyrange-cc/internal/linux/boot's
// pageWalker.translate (PML4/PDPT/PD/PT dereferencing over a
// hv.VirtualMachine), generalized to an arbitrary level count and
// per-level index width so the same code drives both arch.AMD64 and
// arch.AMD64PAE.
package arch

import (
	"encoding/binary"

	"github.com/tinyrange/memflow-go/errs"
	"github.com/tinyrange/memflow-go/memtype"
	"github.com/tinyrange/memflow-go/phys"
)

// Level describes one level of a page-table hierarchy, ordered from the
// root (level 0, e.g. PML4) to the leaf (the last level, e.g. PT).
type Level struct {
	// Shift is the number of bits to shift a virtual address right to
	// bring this level's index into the low bits.
	Shift uint
	// IndexBits is the width, in bits, of this level's index.
	IndexBits uint
	// CanBeLarge reports whether an entry at this level may set the
	// architecture's large-page bit and terminate the walk early.
	CanBeLarge bool
	// LargePageSize is the page size produced when this level terminates
	// early via the large-page bit. Meaningless if !CanBeLarge.
	LargePageSize memtype.PageSize
}

// Index extracts this level's table index from a virtual address.
func (l Level) Index(vaddr memtype.Address) uint64 {
	mask := uint64(1)<<l.IndexBits - 1
	return (uint64(vaddr) >> l.Shift) & mask
}

// Descriptor holds the immutable paging parameters for one architecture.
// It is the concrete, data-only form of the spec's Architecture contract.
type Descriptor struct {
	Name string

	// BasePageSize is the smallest page this architecture can map.
	BasePageSize memtype.PageSize

	// Levels runs from the root table to the leaf (page-table) level.
	// The last entry's CanBeLarge is ignored: the leaf level always
	// terminates the walk and yields a BasePageSize-mapped frame.
	Levels []Level

	// EntrySize is the byte width of one page-table entry (8 for every
	// x86-family paging mode this package models).
	EntrySize uint64

	// FrameMask isolates the physical frame/table address bits of an
	// entry, after the present/flag bits are stripped.
	FrameMask uint64

	PresentBit uint
	WritableBit uint
	// NXBit is the no-execute bit position, or 0 if this mode has none
	// (in which case pages are always considered executable).
	NXBit uint
	// LargeBit is the page-size bit position used by levels with
	// CanBeLarge set.
	LargeBit uint

	// ReservedMask, if non-zero, isolates bits that a conforming entry
	// must never set. An entry with any reserved bit set fails validation
	// as errs.KindInvalidEntry rather than being dereferenced.
	ReservedMask uint64

	// Canonical reports whether vaddr is a legal virtual address for this
	// architecture (e.g. amd64's sign-extended canonical form). A nil
	// Canonical accepts every address.
	Canonical func(vaddr memtype.Address) bool
}

// PageSize returns the architecture's base page size.
func (d *Descriptor) PageSize() memtype.PageSize { return d.BasePageSize }

func (d *Descriptor) entryBit(entry uint64, bit uint) bool {
	return entry&(uint64(1)<<bit) != 0
}

func (d *Descriptor) frameAddr(entry uint64) uint64 {
	return entry & d.FrameMask
}

// pageTypeOf derives the PageType bits implied by a leaf entry's flags.
func (d *Descriptor) pageTypeOf(entry uint64) memtype.PageType {
	t := memtype.PageReadable
	if d.entryBit(entry, d.WritableBit) {
		t |= memtype.PageWritable | memtype.PageWriteable
	} else {
		t |= memtype.PageReadOnly
	}
	if d.NXBit == 0 || !d.entryBit(entry, d.NXBit) {
		t |= memtype.PageExecutable
	}
	return t
}

// Item is one input to a batched walk: a virtual address paired with an
// opaque caller payload B that is threaded through untouched so the caller
// can correlate results without maintaining a side index.
type Item[B any] struct {
	Addr    memtype.Address
	Payload B
}

// Result is one output of a batched walk.
type Result[B any] struct {
	Addr    memtype.Address
	Payload B
	Phys    memtype.PhysicalAddress
	Err     error
}

// walkState tracks one still-in-flight item across levels of a Walk call.
type walkState[B any] struct {
	item       Item[B]
	tableBase  uint64
	entryAddr  uint64 // physical address of the entry read at the current level
	entry      uint64 // the entry's raw bytes, once read
}

// Walk performs a batched page-table walk over dtb for every item, appending
// one Result per item to out (in the order the walk resolves them, not
// necessarily input order — see the VAT composition in package vat for the
// ordering contract callers actually see). It implements the spec's
// virt_to_phys_iter: reads of same-level page-table entries are issued in a
// single phys.Memory.ReadRawIter call per level, regardless of how many
// items are still in flight.
//
// A per-item failure (non-present entry, invalid entry, non-canonical
// address) does not abort the batch; it is appended to out as an Err result
// and the item is dropped from the active set. A whole-batch physical read
// failure fails every still-active item with errs.KindPhysicalReadError.
func Walk[B any](d *Descriptor, mem phys.Memory, dtb memtype.Address, items []Item[B], out []Result[B]) []Result[B] {
	active := make([]*walkState[B], 0, len(items))
	for _, it := range items {
		if d.Canonical != nil && !d.Canonical(it.Addr) {
			out = append(out, Result[B]{
				Addr: it.Addr, Payload: it.Payload,
				Err: errs.New(errs.KindAddressNonCanonical, "virt_to_phys", it.Addr, 0),
			})
			continue
		}
		active = append(active, &walkState[B]{item: it, tableBase: uint64(dtb) & d.FrameMask})
	}

	bufs := make([][]byte, 0, len(active))

	for level, lvl := range d.Levels {
		if len(active) == 0 {
			break
		}

		reqs := make([]phys.ReadRequest, 0, len(active))
		bufs = bufs[:0]
		for _, st := range active {
			idx := lvl.Index(st.item.Addr)
			st.entryAddr = st.tableBase + idx*d.EntrySize
			buf := make([]byte, d.EntrySize)
			bufs = append(bufs, buf)
			reqs = append(reqs, phys.ReadRequest{Addr: memtype.Address(st.entryAddr), Buf: buf})
		}

		if err := mem.ReadRawIter(reqs); err != nil {
			for _, st := range active {
				out = append(out, Result[B]{
					Addr: st.item.Addr, Payload: st.item.Payload,
					Err: errs.NewAtLevel(errs.KindPhysicalReadError, "virt_to_phys", st.item.Addr, level, err),
				})
			}
			active = active[:0]
			break
		}

		next := active[:0]
		for i, st := range active {
			entry := binary.LittleEndian.Uint64(bufs[i])
			st.entry = entry

			if !d.entryBit(entry, d.PresentBit) {
				out = append(out, Result[B]{
					Addr: st.item.Addr, Payload: st.item.Payload,
					Err: errs.New(errs.KindPageNotPresent, "virt_to_phys", st.item.Addr, level),
				})
				continue
			}

			if d.ReservedMask != 0 && entry&d.ReservedMask != 0 {
				out = append(out, Result[B]{
					Addr: st.item.Addr, Payload: st.item.Payload,
					Err: errs.New(errs.KindInvalidEntry, "virt_to_phys", st.item.Addr, level),
				})
				continue
			}

			isLeaf := level == len(d.Levels)-1
			isLarge := !isLeaf && lvl.CanBeLarge && d.entryBit(entry, d.LargeBit)

			if isLeaf || isLarge {
				pageSize := d.BasePageSize
				if isLarge {
					pageSize = lvl.LargePageSize
				}
				offset := uint64(st.item.Addr) & (uint64(pageSize) - 1)
				paddr := d.frameAddr(entry) + offset
				out = append(out, Result[B]{
					Addr: st.item.Addr, Payload: st.item.Payload,
					Phys: memtype.PhysicalAddress{
						Address: memtype.Address(paddr),
						Page:    memtype.Page{Type: d.pageTypeOf(entry), Size: pageSize},
					},
				})
				continue
			}

			st.tableBase = d.frameAddr(entry)
			next = append(next, st)
		}
		active = next
	}

	return out
}
