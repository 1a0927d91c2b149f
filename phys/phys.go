// Package phys defines the physical-access contract that concrete backends
// (a crash-dump reader, a hypervisor probe, a kernel driver — none of which
// live in this module) must satisfy. It is the "consumed from backends"
// contract of the spec's external interfaces: a batched, iterator-shaped
// read/write pair rather than tinyrange-cc's single-offset io.ReaderAt, so
// that a single physical pass can service an entire translated batch.
package phys

import "github.com/tinyrange/memflow-go/memtype"

// ReadRequest is one entry of a batched physical read: Buf is filled
// in-place with Len(Buf) bytes starting at Addr.
type ReadRequest struct {
	Addr memtype.Address
	Buf  []byte
}

// WriteRequest is one entry of a batched physical write: Buf is written
// starting at Addr.
type WriteRequest struct {
	Addr memtype.Address
	Buf  []byte
}

// Memory is the contract a physical-memory backend exposes to the rest of
// the core. Implementations must treat a failure on one request as
// independent of the others where possible, but may also fail the whole
// batch (e.g. on a device-level I/O error) — see the package-level error
// kinds in errs for how callers distinguish the two.
type Memory interface {
	// ReadRawIter fills every request's Buf from physical memory. It
	// returns a non-nil error only for a whole-batch failure; per-request
	// failures are reported by leaving Buf untouched is NOT the contract
	// here (unlike the virtual-memory facade) — a physical backend is
	// expected to either fill every Buf or fail outright, since there is
	// no translation uncertainty at this layer.
	ReadRawIter(reqs []ReadRequest) error

	// WriteRawIter writes every request's Buf to physical memory.
	WriteRawIter(reqs []WriteRequest) error
}
