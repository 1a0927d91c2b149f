package main

/*
#include <stdlib.h>
#include <string.h>

// Error codes (must match libmemflow.h)
typedef enum {
    MF_OK = 0,
    MF_ERR_INVALID_HANDLE = 1,
    MF_ERR_INVALID_ARGUMENT = 2,
    MF_ERR_PAGE_NOT_PRESENT = 3,
    MF_ERR_INVALID_ENTRY = 4,
    MF_ERR_ADDRESS_NON_CANONICAL = 5,
    MF_ERR_PHYSICAL_READ = 6,
    MF_ERR_PHYSICAL_WRITE = 7,
    MF_ERR_OUT_OF_BOUNDS = 8,
    MF_ERR_PARTIAL_TRANSLATION = 9,
    MF_ERR_BACKEND_OPEN = 10,
    MF_ERR_UNKNOWN = 99
} mf_error_code;

typedef struct {
    mf_error_code code;
    char* message;
    char* op;
} mf_error;

static inline void set_error(mf_error* err, mf_error_code code, const char* message, const char* op) {
    if (err == NULL) return;
    err->code = code;
    err->message = message ? strdup(message) : NULL;
    err->op = op ? strdup(op) : NULL;
}

static inline void clear_error(mf_error* err) {
    if (err == NULL) return;
    err->code = MF_OK;
    err->message = NULL;
    err->op = NULL;
}
*/
import "C"

import (
	"errors"
	"unsafe"

	"github.com/tinyrange/memflow-go/errs"
)

// errorCode maps a Go error to a C error code, the same shape as
// tinyrange-cc's bindings/c/error.go errorCode, retargeted from cc's
// ipc/api sentinel set to errs.Kind.
func errorCode(err error) C.mf_error_code {
	if err == nil {
		return C.MF_OK
	}

	var wErr *errs.Error
	if errors.As(err, &wErr) {
		switch wErr.Kind {
		case errs.KindPageNotPresent:
			return C.MF_ERR_PAGE_NOT_PRESENT
		case errs.KindInvalidEntry:
			return C.MF_ERR_INVALID_ENTRY
		case errs.KindAddressNonCanonical:
			return C.MF_ERR_ADDRESS_NON_CANONICAL
		case errs.KindPhysicalReadError:
			return C.MF_ERR_PHYSICAL_READ
		case errs.KindPhysicalWriteError:
			return C.MF_ERR_PHYSICAL_WRITE
		case errs.KindOutOfBounds:
			return C.MF_ERR_OUT_OF_BOUNDS
		case errs.KindPartialTranslation:
			return C.MF_ERR_PARTIAL_TRANSLATION
		case errs.KindInvalidArgument:
			return C.MF_ERR_INVALID_ARGUMENT
		case errs.KindBackendOpenError:
			return C.MF_ERR_BACKEND_OPEN
		}
	}

	if errors.Is(err, errs.ErrPageNotPresent) {
		return C.MF_ERR_PAGE_NOT_PRESENT
	}
	if errors.Is(err, errs.ErrOutOfBounds) {
		return C.MF_ERR_OUT_OF_BOUNDS
	}

	return C.MF_ERR_UNKNOWN
}

// setError populates an mf_error struct from a Go error, following
// tinyrange-cc's setError: duplicate the message/op into freshly allocated
// C strings so the caller can free the Go-side temporaries immediately.
func setError(err error, cErr *C.mf_error) C.mf_error_code {
	if err == nil {
		C.clear_error(cErr)
		return C.MF_OK
	}

	code := errorCode(err)

	var op string
	var wErr *errs.Error
	if errors.As(err, &wErr) {
		op = wErr.Op
	}

	var cOp *C.char
	if op != "" {
		cOp = C.CString(op)
	}

	cMsg := C.CString(err.Error())
	C.set_error(cErr, code, cMsg, cOp)

	C.free(unsafe.Pointer(cMsg))
	if cOp != nil {
		C.free(unsafe.Pointer(cOp))
	}

	return code
}

// setInvalidHandle sets an invalid-handle error for handleType (e.g.
// "memflow").
func setInvalidHandle(cErr *C.mf_error, handleType string) C.mf_error_code {
	msg := "invalid " + handleType + " handle"
	cMsg := C.CString(msg)
	C.set_error(cErr, C.MF_ERR_INVALID_HANDLE, cMsg, nil)
	C.free(unsafe.Pointer(cMsg))
	return C.MF_ERR_INVALID_HANDLE
}

// setInvalidArgument sets an invalid-argument error with a caller-supplied
// message.
func setInvalidArgument(cErr *C.mf_error, msg string) C.mf_error_code {
	cMsg := C.CString(msg)
	C.set_error(cErr, C.MF_ERR_INVALID_ARGUMENT, cMsg, nil)
	C.free(unsafe.Pointer(cMsg))
	return C.MF_ERR_INVALID_ARGUMENT
}
