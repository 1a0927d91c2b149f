package arch

import "github.com/tinyrange/memflow-go/memtype"

// AMD64 is the standard x86-64 4-level paging descriptor: PML4, PDPT, PD,
// PT, with 4 KiB base pages and 2 MiB / 1 GiB large pages. It is ported
// directly from tinyrange-cc/internal/linux/boot/stacktrace.go's pageWalker,
// which dereferences the same four levels over a guest's CR3.
var AMD64 = &Descriptor{
	Name:         "x86_64",
	BasePageSize: 4 * memtype.KB,
	EntrySize:    8,
	FrameMask:    0x000F_FFFF_FFFF_F000,
	PresentBit:   0,
	WritableBit:  1,
	NXBit:        63,
	LargeBit:     7,
	Canonical:    isCanonicalAMD64,
	Levels: []Level{
		{Shift: 39, IndexBits: 9}, // PML4 — no large-page bit defined at this level
		{Shift: 30, IndexBits: 9, CanBeLarge: true, LargePageSize: 1 * memtype.GB},  // PDPT
		{Shift: 21, IndexBits: 9, CanBeLarge: true, LargePageSize: 2 * memtype.MB},  // PD
		{Shift: 12, IndexBits: 9}, // PT — always terminal, see Walk
	},
}

// isCanonicalAMD64 reports whether addr is in canonical form: bits 63:47
// must all be equal to bit 47 (the sign-extension invariant amd64 imposes
// on every virtual address), matching stacktrace.go's isCanonical.
func isCanonicalAMD64(addr memtype.Address) bool {
	a := uint64(addr)
	sign := (a >> 47) & 1
	if sign == 0 {
		return a>>48 == 0
	}
	return a>>48 == 0xFFFF
}
