// Package memtype defines the address, length and page primitives shared by
// every layer of the memory-introspection core: the architecture walker, the
// caches, the VAT and the virtual-memory facade all speak in terms of these
// types rather than raw uintptrs, so that a guest address is never confused
// with a host one.
package memtype

import (
	"fmt"
	"math"
)

// Address is an opaque 64-bit pointer into either a virtual or a physical
// address space. Which one it denotes is a property of the API that handed
// it out, not of the type itself.
type Address uint64

// NullAddress is the zero address. It is never a valid translation result.
const NullAddress Address = 0

// InvalidAddress is the all-ones sentinel used by direct-mapped caches to
// mark an empty slot. It is distinct from NullAddress: a slot can legitimately
// cache a translation for virtual address 0, but it can never cache a
// translation keyed on InvalidAddress.
const InvalidAddress Address = math.MaxUint64

// IsNull reports whether a is the null address.
func (a Address) IsNull() bool { return a == NullAddress }

// AlignDown rounds a down to the start of the page of the given size that
// contains it. pageSize must be a power of two.
func (a Address) AlignDown(pageSize Length) Address {
	mask := Address(pageSize) - 1
	return a &^ mask
}

// OffsetInPage returns the byte offset of a within the page of the given
// size that contains it.
func (a Address) OffsetInPage(pageSize Length) Length {
	return Length(a) & (pageSize - 1)
}

// Add returns a+len, saturating at the maximum representable address instead
// of wrapping around.
func (a Address) Add(len Length) Address {
	sum := uint64(a) + uint64(len)
	if sum < uint64(a) {
		return Address(math.MaxUint64)
	}
	return Address(sum)
}

// Sub returns the number of bytes between a and b. It saturates at zero if
// b is greater than a.
func (a Address) Sub(b Address) Length {
	if b > a {
		return 0
	}
	return Length(a - b)
}

// String implements fmt.Stringer, formatting the address the way
// tinyrange-cc formats physical addresses in its MMIO allocator errors.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Length is an unsigned byte count.
type Length uint64

// Page-size and unit helpers, grounded in the original flow-va Length
// constructors (Length::from_kb).
const (
	KB = Length(1024)
	MB = Length(1024 * 1024)
	GB = Length(1024 * 1024 * 1024)
)

// FromKB returns a Length of n kilobytes.
func FromKB(n uint64) Length { return Length(n) * KB }

// FromMB returns a Length of n megabytes.
func FromMB(n uint64) Length { return Length(n) * MB }

// FromPages returns a Length spanning n pages of the given page size.
func FromPages(n uint64, pageSize Length) Length { return Length(n) * pageSize }

// AsUsize returns the length as a platform-sized integer, for slice sizing.
func (l Length) AsUsize() int { return int(l) }

// PageSize is a power-of-two byte length, either the architecture's base
// page size or a large-page size discovered mid-walk.
type PageSize = Length

// PageType is a bitfield describing the protection and caching attributes of
// a page. Callers configure cache layers with a mask of the PageTypes they
// consider safe to cache.
type PageType uint8

const (
	PageNone PageType = 0

	PageReadable PageType = 1 << iota
	PageWritable
	PageExecutable
	PageNoCache
	PageReadOnly
	PageWriteable
)

// PageCacheableDefault is every protection bit a walked page can carry
// except PageNoCache, the mask callers pass to NewPageCache when they want
// to cache ordinary RAM pages regardless of their specific r/w/x
// combination and only exclude pages the architecture has explicitly
// marked uncacheable (MMIO, write-combining, etc).
const PageCacheableDefault = PageReadable | PageWritable | PageExecutable | PageReadOnly | PageWriteable

// Contains reports whether every bit set in other is also set in mask. It
// mirrors the bitflags::contains check used by the original cache
// implementation to decide whether a page's type is in the cacheable set.
func (mask PageType) Contains(other PageType) bool {
	return mask&other == other
}

func (p PageType) String() string {
	if p == PageNone {
		return "none"
	}
	s := ""
	add := func(bit PageType, name string) {
		if p&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(PageReadable, "r")
	add(PageWritable, "w")
	add(PageExecutable, "x")
	add(PageNoCache, "nocache")
	add(PageReadOnly, "ro")
	add(PageWriteable, "wr")
	return s
}

// Page describes the protection and size of the page that backs a
// translation result.
type Page struct {
	Type PageType
	Size PageSize
}

// PhysicalAddress is an Address paired with the Page metadata needed to
// decide cacheability and to invalidate caches on a page-type change.
type PhysicalAddress struct {
	Address Address
	Page    Page
}

// String formats a physical address with its page size for diagnostics.
func (p PhysicalAddress) String() string {
	return fmt.Sprintf("%s (page=%d)", p.Address, p.Page.Size)
}
