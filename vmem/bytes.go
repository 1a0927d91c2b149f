package vmem

import "unsafe"

// asBytes reinterprets *v as a byte slice of its in-memory size, the Go
// equivalent of the dataview::Pod reinterpretation virt_mem.rs relies on
// for virt_read_into/virt_read. Callers must only use it with fixed-size
// value types: no pointers, slices, strings or interfaces, whose
// reinterpreted bytes would not round-trip through a copy.
func asBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
