// Package flatfile is the reference phys.Memory backend this module ships:
// a flat physical-memory image (a raw dump or a coredump-style capture)
// opened from disk. Its open/close shape follows
// original_source/flow-ffi/src/connectors/coredump.rs's coredump_open/
// coredump_free; the underlying io.ReaderAt/io.WriterAt embedding follows
// tinyrange-cc/internal/hv.VirtualMachine, which exposes a running guest's
// physical memory the same way.
package flatfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tinyrange/memflow-go/errs"
	"github.com/tinyrange/memflow-go/memtype"
	"github.com/tinyrange/memflow-go/phys"
)

// Backend is a phys.Memory backed by a single flat file: byte N of the
// file is physical address N. It satisfies io.ReaderAt/io.WriterAt itself
// so it can also be handed directly to code written against that
// narrower, unbatched contract (e.g. a debugger attaching to one address
// at a time).
type Backend struct {
	f    *os.File
	size int64
	log  *slog.Logger
}

// Open opens path as a flat physical-memory image. writable controls
// whether WriteRawIter is permitted; opening read-only is the common case
// for a static crash dump.
func Open(path string, writable bool) (*Backend, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendOpenError, "flatfile.Open", memtype.NullAddress, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.KindBackendOpenError, "flatfile.Open", memtype.NullAddress, err)
	}
	if writable {
		if err := lockExclusive(int(f.Fd())); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.KindBackendOpenError, "flatfile.Open", memtype.NullAddress, err)
		}
	}
	return &Backend{f: f, size: st.Size(), log: slog.Default().With("backend", "flatfile", "path", path)}, nil
}

// Close releases the underlying file handle. It is safe to call more than
// once.
func (b *Backend) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Size returns the image's declared physical address span.
func (b *Backend) Size() memtype.Length { return memtype.Length(b.size) }

func (b *Backend) checkBounds(addr memtype.Address, n int) error {
	end := uint64(addr) + uint64(n)
	if uint64(addr) >= uint64(b.size) || end > uint64(b.size) {
		return errs.New(errs.KindOutOfBounds, "flatfile", addr, 0)
	}
	return nil
}

// ReadAt implements io.ReaderAt directly against the image, for callers
// that only need single-offset access.
func (b *Backend) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt directly against the image.
func (b *Backend) WriteAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

// ReadRawIter fills every request from the image in a single pass. A
// request outside the image's bounds fails the whole batch with
// errs.KindOutOfBounds, since a flat file has no notion of a partially
// valid physical address the way a live hypervisor's MMIO holes might.
func (b *Backend) ReadRawIter(reqs []phys.ReadRequest) error {
	for _, r := range reqs {
		if err := b.checkBounds(r.Addr, len(r.Buf)); err != nil {
			return err
		}
		if _, err := b.f.ReadAt(r.Buf, int64(r.Addr)); err != nil && !errors.Is(err, io.EOF) {
			return errs.Wrap(errs.KindPhysicalReadError, "flatfile.ReadRawIter", r.Addr, err)
		}
	}
	return nil
}

// WriteRawIter writes every request to the image in a single pass.
func (b *Backend) WriteRawIter(reqs []phys.WriteRequest) error {
	for _, r := range reqs {
		if err := b.checkBounds(r.Addr, len(r.Buf)); err != nil {
			return err
		}
		if _, err := b.f.WriteAt(r.Buf, int64(r.Addr)); err != nil {
			return errs.Wrap(errs.KindPhysicalWriteError, "flatfile.WriteRawIter", r.Addr, err)
		}
	}
	return nil
}

// String implements fmt.Stringer for diagnostic logging.
func (b *Backend) String() string {
	return fmt.Sprintf("flatfile(size=%d)", b.size)
}

var _ phys.Memory = (*Backend)(nil)
