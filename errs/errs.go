// Package errs defines the error taxonomy shared by the translation,
// caching and virtual-memory layers. It follows the same shape as
// tinyrange-cc's internal/api error type: a small set of sentinel Kinds
// that callers can test with errors.Is, wrapped in a structured Error that
// carries the offending address and (when known) the page-walk level.
package errs

import (
	"errors"
	"fmt"

	"github.com/tinyrange/memflow-go/memtype"
)

// Kind identifies a class of failure without pinning down the offending
// address; use errors.Is(err, ErrX) with the matching sentinel below to
// test for it regardless of which address or operation produced it.
type Kind int

const (
	// KindUnknown is never returned; it is the zero value of Kind.
	KindUnknown Kind = iota

	// KindPageNotPresent means the page-walk reached a non-present entry.
	KindPageNotPresent
	// KindInvalidEntry means a page-table entry had reserved bits set or
	// otherwise failed structural validation.
	KindInvalidEntry
	// KindAddressNonCanonical means the virtual address was not in
	// canonical form for the target architecture.
	KindAddressNonCanonical
	// KindPhysicalReadError means the backend's physical read failed.
	KindPhysicalReadError
	// KindPhysicalWriteError means the backend's physical write failed.
	KindPhysicalWriteError
	// KindOutOfBounds means the physical address fell outside the
	// backend's declared bounds.
	KindOutOfBounds
	// KindPartialTranslation means a bulk virtual read translated none of
	// its requested range.
	KindPartialTranslation
	// KindInvalidArgument means the caller passed a malformed range (not a
	// zero-length read, which is not an error).
	KindInvalidArgument
	// KindBackendOpenError means a backend failed to open at the FFI
	// boundary.
	KindBackendOpenError
)

func (k Kind) String() string {
	switch k {
	case KindPageNotPresent:
		return "page not present"
	case KindInvalidEntry:
		return "invalid page-table entry"
	case KindAddressNonCanonical:
		return "address not canonical"
	case KindPhysicalReadError:
		return "physical read error"
	case KindPhysicalWriteError:
		return "physical write error"
	case KindOutOfBounds:
		return "out of bounds"
	case KindPartialTranslation:
		return "partial translation"
	case KindInvalidArgument:
		return "invalid argument"
	case KindBackendOpenError:
		return "backend open error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is comparisons against a bare Kind, mirroring
// api.ErrNotRunning/api.ErrHypervisorUnavailable in tinyrange-cc.
var (
	ErrPageNotPresent      = sentinel(KindPageNotPresent)
	ErrInvalidEntry        = sentinel(KindInvalidEntry)
	ErrAddressNonCanonical = sentinel(KindAddressNonCanonical)
	ErrPhysicalReadError   = sentinel(KindPhysicalReadError)
	ErrPhysicalWriteError  = sentinel(KindPhysicalWriteError)
	ErrOutOfBounds         = sentinel(KindOutOfBounds)
	ErrPartialTranslation  = sentinel(KindPartialTranslation)
	ErrInvalidArgument     = sentinel(KindInvalidArgument)
	ErrBackendOpenError    = sentinel(KindBackendOpenError)
)

func sentinel(k Kind) error { return errors.New(k.String()) }

var kindSentinel = map[Kind]error{
	KindPageNotPresent:      ErrPageNotPresent,
	KindInvalidEntry:        ErrInvalidEntry,
	KindAddressNonCanonical: ErrAddressNonCanonical,
	KindPhysicalReadError:   ErrPhysicalReadError,
	KindPhysicalWriteError:  ErrPhysicalWriteError,
	KindOutOfBounds:         ErrOutOfBounds,
	KindPartialTranslation:  ErrPartialTranslation,
	KindInvalidArgument:     ErrInvalidArgument,
	KindBackendOpenError:    ErrBackendOpenError,
}

// Error is a structured translation/memory-access error. It carries the
// offending virtual address and, for walk failures, the page-table level at
// which the failure occurred (0 is the root level; the deepest level is the
// one closest to the base page).
//
// It follows tinyrange-cc's internal/api.Error{Op, Path, Err} shape, with
// VirtAddr/Level in place of Path.
type Error struct {
	Kind     Kind
	Op       string
	VirtAddr memtype.Address
	Level    int
	HasLevel bool
	Err      error
}

func (e *Error) Error() string {
	base := e.Op
	if base == "" {
		base = e.Kind.String()
	}
	msg := fmt.Sprintf("%s: %s", base, e.VirtAddr)
	if e.HasLevel {
		msg += fmt.Sprintf(" (level %d)", e.Level)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if s, ok := kindSentinel[e.Kind]; ok {
		return s
	}
	return nil
}

// Is allows errors.Is(err, errs.ErrPageNotPresent) to succeed without
// needing to unwrap to the exact sentinel instance, by comparing Kind.
func (e *Error) Is(target error) bool {
	for k, s := range kindSentinel {
		if s == target {
			return e.Kind == k
		}
	}
	return false
}

// New constructs an Error for a translation failure at a known page-walk
// level.
func New(kind Kind, op string, addr memtype.Address, level int) *Error {
	return &Error{Kind: kind, Op: op, VirtAddr: addr, Level: level, HasLevel: true}
}

// Wrap constructs an Error without a page-walk level, wrapping an
// underlying backend error (e.g. a physical I/O failure).
func Wrap(kind Kind, op string, addr memtype.Address, err error) *Error {
	return &Error{Kind: kind, Op: op, VirtAddr: addr, Err: err}
}

// NewAtLevel constructs an Error for a failure at a known page-walk level
// that also wraps an underlying backend error, e.g. a physical read that
// failed while fetching a specific level's table entries.
func NewAtLevel(kind Kind, op string, addr memtype.Address, level int, err error) *Error {
	return &Error{Kind: kind, Op: op, VirtAddr: addr, Level: level, HasLevel: true, Err: err}
}
