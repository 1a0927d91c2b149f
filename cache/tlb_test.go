package cache

import (
	"testing"

	"github.com/tinyrange/memflow-go/memtype"
)

// TestTLBS1HitThenMiss exercises spec scenario S1: an entry caches, hits on
// repeat lookup, and misses once its dtb/vaddr pair diverges.
func TestTLBS1HitThenMiss(t *testing.T) {
	v := NewTickValidator()
	tlb := NewTLB(8, 4*memtype.KB, v)

	dtb := memtype.Address(0x1000)
	vaddr := memtype.Address(0x5123)
	phys := memtype.PhysicalAddress{
		Address: memtype.Address(0x80000),
		Page:    memtype.Page{Size: 4 * memtype.KB, Type: memtype.PageReadable},
	}

	if _, ok := tlb.TryEntry(dtb, vaddr, 4*memtype.KB); ok {
		t.Fatal("expected miss before any CacheEntry")
	}

	tlb.CacheEntry(dtb, vaddr, phys, 4*memtype.KB)

	got, ok := tlb.TryEntry(dtb, vaddr, 4*memtype.KB)
	if !ok {
		t.Fatal("expected hit after CacheEntry")
	}
	want := phys.Address.Add(vaddr.OffsetInPage(4 * memtype.KB))
	if got.Address != want {
		t.Errorf("phys = %s; want %s", got.Address, want)
	}

	if _, ok := tlb.TryEntry(dtb, vaddr+0x1000, 4*memtype.KB); ok {
		t.Error("a different virtual page must miss")
	}
	if _, ok := tlb.TryEntry(dtb+0x2000, vaddr, 4*memtype.KB); ok {
		t.Error("the same vaddr under a different dtb must miss")
	}
}

// TestTLBS2ValidatorBumpInvalidatesAll exercises spec scenario S2: a single
// UpdateValidity call invalidates every previously cached entry in O(1),
// without the TLB walking its slots.
func TestTLBS2ValidatorBumpInvalidatesAll(t *testing.T) {
	v := NewTickValidator()
	tlb := NewTLB(8, 4*memtype.KB, v)

	dtb := memtype.Address(0x1000)
	entries := []memtype.Address{0x1000, 0x3000, 0x5000}
	for _, vaddr := range entries {
		tlb.CacheEntry(dtb, vaddr, memtype.PhysicalAddress{
			Address: vaddr + 0x70000000,
			Page:    memtype.Page{Size: 4 * memtype.KB},
		}, 4*memtype.KB)
	}
	for _, vaddr := range entries {
		if _, ok := tlb.TryEntry(dtb, vaddr, 4*memtype.KB); !ok {
			t.Fatalf("expected hit for %s before invalidation", vaddr)
		}
	}

	v.UpdateValidity()

	for _, vaddr := range entries {
		if _, ok := tlb.TryEntry(dtb, vaddr, 4*memtype.KB); ok {
			t.Errorf("expected miss for %s after UpdateValidity", vaddr)
		}
	}
}

func TestTLBDirectMapCollisionStillCorrect(t *testing.T) {
	v := NewTickValidator()
	capacity := 4
	tlb := NewTLB(capacity, 4*memtype.KB, v)

	dtb := memtype.Address(0)
	a := memtype.Address(0x1000)
	// Chosen so a and b hash to the same slot under slotIndex's formula.
	b := a + memtype.Address(uint64(capacity)*uint64(4*memtype.KB))

	tlb.CacheEntry(dtb, a, memtype.PhysicalAddress{Address: 0xAAAA000, Page: memtype.Page{Size: 4 * memtype.KB}}, 4*memtype.KB)
	tlb.CacheEntry(dtb, b, memtype.PhysicalAddress{Address: 0xBBBB000, Page: memtype.Page{Size: 4 * memtype.KB}}, 4*memtype.KB)

	if _, ok := tlb.TryEntry(dtb, a, 4*memtype.KB); ok {
		t.Error("a should have been evicted by its slot-mate b")
	}
	got, ok := tlb.TryEntry(dtb, b, 4*memtype.KB)
	if !ok || got.Address != 0xBBBB000 {
		t.Error("b should remain correctly cached")
	}
}
