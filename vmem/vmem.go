// Package vmem is the virtual-memory facade applications actually read
// and write through: one struct binding a process's page-directory base
// to a vat.Cached translator, exposing typed helpers the way
// original_source/flow-core/src/mem/virt_mem.rs's VirtualMemory trait
// does (virt_read/virt_read_ptr64/virt_read_cstr/virt_read_addr64_chain),
// generalized from Rust's Pod-bound generics to Go's any-constrained type
// parameters.
package vmem

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tinyrange/memflow-go/arch"
	"github.com/tinyrange/memflow-go/errs"
	"github.com/tinyrange/memflow-go/memtype"
	"github.com/tinyrange/memflow-go/vat"
)

// Memory is a virtual-address space: a directory table base under a given
// architecture, backed by a vat.Cached translator.
type Memory struct {
	Cache *vat.Cached
	Arch  *arch.Descriptor
	DTB   memtype.Address
}

// New binds dtb under arch to a cached physical/translation backend.
func New(c *vat.Cached, d *arch.Descriptor, dtb memtype.Address) *Memory {
	return &Memory{Cache: c, Arch: d, DTB: dtb}
}

// splitByPage partitions [addr, addr+len(buf)) into per-page pieces so a
// caller never has to reason about a single virtual read spanning more
// physical pages than it spans virtual ones.
func splitByPage(addr memtype.Address, buf []byte, pageSize memtype.Length) []arch.Item[[]byte] {
	var items []arch.Item[[]byte]
	for len(buf) > 0 {
		pageEnd := addr.AlignDown(pageSize).Add(pageSize)
		n := uint64(pageEnd.Sub(addr))
		if n == 0 || n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		items = append(items, arch.Item[[]byte]{Addr: addr, Payload: buf[:n]})
		buf = buf[n:]
		addr = addr.Add(memtype.Length(n))
	}
	return items
}

// ReadRawInto fills out with len(out) bytes starting at addr, translating
// and reading one page-aligned chunk at a time. If every chunk fails to
// translate, it returns errs.KindPartialTranslation; a partial success
// fills whatever chunks did translate and returns nil, matching the
// facade's "best effort" read contract (spec §4.5/§7).
func (m *Memory) ReadRawInto(addr memtype.Address, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	items := splitByPage(addr, out, m.Arch.BasePageSize)
	results := vat.VirtToPhysIter(m.Cache, m.Arch, m.DTB, items)

	var reqs []vat.PhysReadRequest
	ok := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		ok++
		reqs = append(reqs, vat.PhysReadRequest{Phys: r.Phys, Buf: r.Payload})
	}
	if ok == 0 {
		return errs.New(errs.KindPartialTranslation, "virt_read_raw_into", addr, 0)
	}
	return m.Cache.ReadPhysIter(reqs)
}

// WriteRaw writes data to addr, splitting across pages the same way
// ReadRawInto does.
func (m *Memory) WriteRaw(addr memtype.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	items := splitByPage(addr, data, m.Arch.BasePageSize)
	results := vat.VirtToPhysIter(m.Cache, m.Arch, m.DTB, items)

	var reqs []vat.PhysWriteRequest
	ok := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		ok++
		reqs = append(reqs, vat.PhysWriteRequest{Phys: r.Phys, Buf: r.Payload})
	}
	if ok == 0 {
		return errs.New(errs.KindPartialTranslation, "virt_write_raw", addr, 0)
	}
	return m.Cache.WritePhysIter(reqs)
}

// PageInfo returns the Page metadata backing addr, without reading its
// contents.
func (m *Memory) PageInfo(addr memtype.Address) (memtype.Page, error) {
	items := []arch.Item[struct{}]{{Addr: addr}}
	results := vat.VirtToPhysIter(m.Cache, m.Arch, m.DTB, items)
	if results[0].Err != nil {
		return memtype.Page{}, results[0].Err
	}
	return results[0].Phys.Page, nil
}

// Read reads sizeof(T) bytes at addr into a T, the generic form of
// virt_read<T: Pod>. T must be a fixed-size value type (no pointers,
// slices or strings) for the byte reinterpretation to be sound.
func Read[T any](m *Memory, addr memtype.Address) (T, error) {
	var v T
	buf := asBytes(&v)
	if err := m.ReadRawInto(addr, buf); err != nil {
		return v, err
	}
	return v, nil
}

// Write is the write-side counterpart of Read.
func Write[T any](m *Memory, addr memtype.Address, v T) error {
	return m.WriteRaw(addr, asBytes(&v))
}

// ReadAddr32 reads a 32-bit address at addr and widens it, mirroring
// virt_read_addr32.
func (m *Memory) ReadAddr32(addr memtype.Address) (memtype.Address, error) {
	v, err := Read[uint32](m, addr)
	return memtype.Address(v), err
}

// ReadAddr64 reads a 64-bit address at addr, mirroring virt_read_addr64.
func (m *Memory) ReadAddr64(addr memtype.Address) (memtype.Address, error) {
	v, err := Read[uint64](m, addr)
	return memtype.Address(v), err
}

// Pointer32 is a typed 32-bit virtual pointer, the Go analogue of
// virt_mem.rs's Pointer32<U>.
type Pointer32[U any] memtype.Address

// Pointer64 is a typed 64-bit virtual pointer, the Go analogue of
// Pointer64<U>.
type Pointer64[U any] memtype.Address

// ReadPtr32 dereferences a 32-bit typed pointer, mirroring
// virt_read_ptr32.
func ReadPtr32[U any](m *Memory, ptr Pointer32[U]) (U, error) {
	return Read[U](m, memtype.Address(ptr))
}

// ReadPtr64 dereferences a 64-bit typed pointer, mirroring
// virt_read_ptr64.
func ReadPtr64[U any](m *Memory, ptr Pointer64[U]) (U, error) {
	return Read[U](m, memtype.Address(ptr))
}

// ReadCString reads up to maxLen bytes at addr and returns the string up to
// (but not including) the first NUL byte, replacing any invalid UTF-8 with
// U+FFFD, mirroring virt_read_cstr's to_string_lossy.
func (m *Memory) ReadCString(addr memtype.Address, maxLen memtype.Length) (string, error) {
	buf := make([]byte, maxLen)
	if err := m.ReadRawInto(addr, buf); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return strings.ToValidUTF8(string(buf), "�"), nil
}

// ReadAddr32Chain walks base+offsets[0] -> deref -> +offsets[1] -> deref
// ..., mirroring virt_read_addr32_chain.
func (m *Memory) ReadAddr32Chain(base memtype.Address, offsets []memtype.Length) (memtype.Address, error) {
	cur := base
	for _, off := range offsets {
		next, err := m.ReadAddr32(cur.Add(off))
		if err != nil {
			return memtype.NullAddress, fmt.Errorf("addr32 chain at %s+%d: %w", cur, off, err)
		}
		cur = next
	}
	return cur, nil
}

// ReadAddr64Chain is the 64-bit counterpart of ReadAddr32Chain.
func (m *Memory) ReadAddr64Chain(base memtype.Address, offsets []memtype.Length) (memtype.Address, error) {
	cur := base
	for _, off := range offsets {
		next, err := m.ReadAddr64(cur.Add(off))
		if err != nil {
			return memtype.NullAddress, fmt.Errorf("addr64 chain at %s+%d: %w", cur, off, err)
		}
		cur = next
	}
	return cur, nil
}
