// Package vat composes the architecture walker with the TLB and page
// caches into the virtual-address-translator the rest of the core talks
// to. Its VirtToPhysIter is a direct port of
// original_source/flow-core/src/mem/cache/cached_vat.rs's CachedVAT,
// generalized from a single concrete architecture/validator pair to the
// arch.Descriptor/cache.Validator interfaces this module uses.
//
// The Rust CachedVAT only caches translations; page-content caching lives
// in a separate phys-access wrapper that original_source does not include
// a file for. This package folds both into one Cached type, grounded on
// timed_cache.rs's PageCache contract (cached_page_mut/validate_page/
// invalidate_page) composed the way CachedVAT composes the TLB.
package vat

import (
	"github.com/tinyrange/memflow-go/arch"
	"github.com/tinyrange/memflow-go/cache"
	"github.com/tinyrange/memflow-go/errs"
	"github.com/tinyrange/memflow-go/memtype"
	"github.com/tinyrange/memflow-go/phys"
)

// Cached wraps a raw phys.Memory backend with a TLB and an optional page
// cache. A nil PageCache disables content caching entirely; translations
// are always run through the TLB.
type Cached struct {
	Mem   phys.Memory
	TLB   *cache.TLB
	Pages *cache.PageCache
}

// New constructs a Cached backend. pages may be nil to disable page-content
// caching while still caching translations.
func New(mem phys.Memory, tlb *cache.TLB, pages *cache.PageCache) *Cached {
	return &Cached{Mem: mem, TLB: tlb, Pages: pages}
}

// VirtToPhysIter translates a batch of virtual addresses under dtb, serving
// hits from the TLB and routing only TLB misses through a batched
// arch.Walk. It is the free-function form of CachedVAT::virt_to_phys_iter:
// Go disallows generic methods, so the type parameter lives on the
// function rather than on Cached.
//
// Steps, matching the Rust original:
//  1. Partition items into TLB hits (appended directly to the result) and
//     misses (collected for a walk).
//  2. If there are any misses, run one batched arch.Walk over them.
//  3. Cache every successful walk result back into the TLB.
//  4. Return hits and walk results together; order is hits-then-misses,
//     not input order — callers needing input order must re-sort on Addr.
func VirtToPhysIter[B any](c *Cached, d *arch.Descriptor, dtb memtype.Address, items []arch.Item[B]) []arch.Result[B] {
	out := make([]arch.Result[B], 0, len(items))
	misses := make([]arch.Item[B], 0, len(items))

	for _, it := range items {
		if phys, ok := c.TLB.TryEntry(dtb, it.Addr, d.BasePageSize); ok {
			out = append(out, arch.Result[B]{Addr: it.Addr, Payload: it.Payload, Phys: phys})
			continue
		}
		misses = append(misses, it)
	}

	if len(misses) == 0 {
		return out
	}

	walked := arch.Walk(d, c.Mem, dtb, misses, nil)
	for _, r := range walked {
		if r.Err == nil {
			c.TLB.CacheEntry(dtb, r.Addr, r.Phys, d.BasePageSize)
		}
		out = append(out, r)
	}
	return out
}

// PhysReadRequest is one entry of a page-cache-aware physical read: Phys
// carries the page-type metadata the cache needs to decide cacheability,
// unlike the plain phys.ReadRequest the raw backend speaks.
type PhysReadRequest struct {
	Phys memtype.PhysicalAddress
	Buf  []byte
}

// PhysWriteRequest is the write-side counterpart of PhysReadRequest.
type PhysWriteRequest struct {
	Phys memtype.PhysicalAddress
	Buf  []byte
}

// ReadPhysIter fills every request's Buf, consulting the page cache first
// (when present and the request's PageType is cacheable) and falling back
// to a single batched Mem.ReadRawIter call for everything that misses.
func (c *Cached) ReadPhysIter(reqs []PhysReadRequest) error {
	if c.Pages == nil {
		return c.readThrough(reqs)
	}

	var misses []PhysReadRequest
	for _, r := range reqs {
		if !c.Pages.IsCached(r.Phys.Page.Type) {
			misses = append(misses, r)
			continue
		}
		e := c.Pages.Lookup(r.Phys.Address)
		if e.Valid {
			copyPageSlice(r.Buf, e.Buf, r.Phys.Address, e.AlignedAddr)
			continue
		}
		misses = append(misses, r)
	}

	if len(misses) == 0 {
		return nil
	}

	// Fetch one full page per distinct miss so the cache is filled with
	// complete pages, not just the bytes the caller happened to request.
	rawReqs := make([]phys.ReadRequest, 0, len(misses))
	entries := make([]cache.Entry, 0, len(misses))
	for _, r := range misses {
		if c.Pages.IsCached(r.Phys.Page.Type) {
			e := c.Pages.Lookup(r.Phys.Address)
			entries = append(entries, e)
			rawReqs = append(rawReqs, phys.ReadRequest{Addr: e.AlignedAddr, Buf: e.Buf})
		} else {
			entries = append(entries, cache.Entry{})
			rawReqs = append(rawReqs, phys.ReadRequest{Addr: r.Phys.Address, Buf: r.Buf})
		}
	}

	if err := c.Mem.ReadRawIter(rawReqs); err != nil {
		return errs.Wrap(errs.KindPhysicalReadError, "read_phys_iter", memtype.NullAddress, err)
	}

	for i, r := range misses {
		if c.Pages.IsCached(r.Phys.Page.Type) {
			c.Pages.Validate(r.Phys.Address, r.Phys.Page.Type)
			copyPageSlice(r.Buf, entries[i].Buf, r.Phys.Address, entries[i].AlignedAddr)
		}
	}
	return nil
}

// WritePhysIter writes every request straight through to the backend and
// invalidates any cached page it overlaps, so a subsequent cached read
// never observes stale contents.
func (c *Cached) WritePhysIter(reqs []PhysWriteRequest) error {
	rawReqs := make([]phys.WriteRequest, len(reqs))
	for i, r := range reqs {
		rawReqs[i] = phys.WriteRequest{Addr: r.Phys.Address, Buf: r.Buf}
	}
	if err := c.Mem.WriteRawIter(rawReqs); err != nil {
		return errs.Wrap(errs.KindPhysicalWriteError, "write_phys_iter", memtype.NullAddress, err)
	}
	if c.Pages != nil {
		for _, r := range reqs {
			c.Pages.Invalidate(r.Phys.Address, r.Phys.Page.Type)
		}
	}
	return nil
}

func (c *Cached) readThrough(reqs []PhysReadRequest) error {
	rawReqs := make([]phys.ReadRequest, len(reqs))
	for i, r := range reqs {
		rawReqs[i] = phys.ReadRequest{Addr: r.Phys.Address, Buf: r.Buf}
	}
	if err := c.Mem.ReadRawIter(rawReqs); err != nil {
		return errs.Wrap(errs.KindPhysicalReadError, "read_phys_iter", memtype.NullAddress, err)
	}
	return nil
}

// copyPageSlice copies the portion of a cached page's buffer that
// corresponds to dst's requested address into dst.
func copyPageSlice(dst, pageBuf []byte, addr, alignedAddr memtype.Address) {
	off := int(addr.Sub(alignedAddr))
	copy(dst, pageBuf[off:off+len(dst)])
}
