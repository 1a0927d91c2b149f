package arch

import "github.com/tinyrange/memflow-go/memtype"

// AMD64PAE is the 32-bit Physical Address Extension paging mode: a 3-level
// walk (PDPT, PD, PT) with 4 KiB base pages and 2 MiB large pages at the PD
// level. It reuses the same generic Walk as AMD64 — supplemented from the
// original memflow architecture enum, which lists PAE as a first-class
// paging mode alongside plain x86 and x86-64 (see SPEC_FULL.md's Architecture
// descriptor section) — to demonstrate that the walker is genuinely
// data-driven rather than hardcoded to four levels.
var AMD64PAE = &Descriptor{
	Name:         "x86_pae",
	BasePageSize: 4 * memtype.KB,
	EntrySize:    8,
	FrameMask:    0x000F_FFFF_FFFF_F000,
	PresentBit:   0,
	WritableBit:  1,
	NXBit:        63,
	LargeBit:     7,
	Canonical:    isCanonicalPAE,
	Levels: []Level{
		{Shift: 30, IndexBits: 2}, // PDPT — 4 entries, no large-page bit
		{Shift: 21, IndexBits: 9, CanBeLarge: true, LargePageSize: 2 * memtype.MB}, // PD
		{Shift: 12, IndexBits: 9}, // PT — always terminal
	},
}

// isCanonicalPAE accepts any address representable in 32 bits; PAE has no
// sign-extension requirement of its own.
func isCanonicalPAE(addr memtype.Address) bool {
	return uint64(addr) <= 0xFFFF_FFFF
}
