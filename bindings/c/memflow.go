// Command memflow-c is the cgo-exported C ABI over the translation core,
// following tinyrange-cc's bindings/c package: opaque uint64 handles into
// a sharded table (handles.go, specialized from the teacher's any-typed
// table to hold *session directly, since this ABI only ever hands out one
// kind of handle), and an mf_error out-parameter (error.go) instead of
// panicking across the cgo boundary.
package main

/*
#include <stdint.h>
#include <stddef.h>
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/tinyrange/memflow-go/arch"
	"github.com/tinyrange/memflow-go/backend/flatfile"
	"github.com/tinyrange/memflow-go/cache"
	"github.com/tinyrange/memflow-go/memtype"
	"github.com/tinyrange/memflow-go/vat"
	"github.com/tinyrange/memflow-go/vmem"
)

// session bundles everything a C caller needs to address one physical
// image: the backend, the shared cached translator, and the architecture
// it should be walked with. Per-process virtual memory views (vmem.Memory)
// are created on demand from the dtb the caller passes into each call,
// since a single image commonly serves many processes' address spaces.
type session struct {
	backend *flatfile.Backend
	cached  *vat.Cached
	arch    *arch.Descriptor
}

const (
	defaultTLBCapacity  = 4096
	defaultPageCapacity = 1024
)

//export memflow_open
func memflow_open(path *C.char, writable C.int, cErr *C.mf_error) C.uint64_t {
	if path == nil {
		setInvalidArgument(cErr, "path must not be null")
		return 0
	}
	goPath := C.GoString(path)

	b, err := flatfile.Open(goPath, writable != 0)
	if err != nil {
		setError(err, cErr)
		return 0
	}

	tlb := cache.NewTLB(defaultTLBCapacity, arch.AMD64.BasePageSize, cache.NewTickValidator())
	pages := cache.NewPageCache(defaultPageCapacity, arch.AMD64.BasePageSize, 100*time.Millisecond, memtype.PageCacheableDefault, nil)
	c := vat.New(b, tlb, pages)

	setError(nil, cErr)
	return C.uint64_t(newHandle(&session{backend: b, cached: c, arch: arch.AMD64}))
}

//export memflow_free
func memflow_free(handle C.uint64_t) {
	s, ok := freeHandle(uint64(handle))
	if !ok {
		return
	}
	s.backend.Close()
}

//export memflow_translate
func memflow_translate(handle C.uint64_t, dtb C.uint64_t, vaddr C.uint64_t, cErr *C.mf_error) C.uint64_t {
	s, ok := getHandle(uint64(handle))
	if !ok {
		setInvalidHandle(cErr, "memflow")
		return 0
	}

	items := []arch.Item[struct{}]{{Addr: memtype.Address(vaddr)}}
	results := vat.VirtToPhysIter(s.cached, s.arch, memtype.Address(dtb), items)
	if results[0].Err != nil {
		setError(results[0].Err, cErr)
		return 0
	}
	setError(nil, cErr)
	return C.uint64_t(results[0].Phys.Address)
}

//export memflow_read
func memflow_read(handle C.uint64_t, dtb C.uint64_t, vaddr C.uint64_t, buf *C.uint8_t, length C.size_t, cErr *C.mf_error) C.int {
	s, ok := getHandle(uint64(handle))
	if !ok {
		setInvalidHandle(cErr, "memflow")
		return -1
	}
	if buf == nil || length == 0 {
		setInvalidArgument(cErr, "buf must be non-null and length non-zero")
		return -1
	}

	out := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(length))
	mem := vmem.New(s.cached, s.arch, memtype.Address(dtb))
	if err := mem.ReadRawInto(memtype.Address(vaddr), out); err != nil {
		setError(err, cErr)
		return -1
	}
	setError(nil, cErr)
	return 0
}

//export memflow_write
func memflow_write(handle C.uint64_t, dtb C.uint64_t, vaddr C.uint64_t, buf *C.uint8_t, length C.size_t, cErr *C.mf_error) C.int {
	s, ok := getHandle(uint64(handle))
	if !ok {
		setInvalidHandle(cErr, "memflow")
		return -1
	}
	if buf == nil || length == 0 {
		setInvalidArgument(cErr, "buf must be non-null and length non-zero")
		return -1
	}

	in := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(length))
	mem := vmem.New(s.cached, s.arch, memtype.Address(dtb))
	if err := mem.WriteRaw(memtype.Address(vaddr), in); err != nil {
		setError(err, cErr)
		return -1
	}
	setError(nil, cErr)
	return 0
}

func main() {}
