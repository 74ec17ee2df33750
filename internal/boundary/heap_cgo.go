//go:build cgo

package boundary

// #include <stdlib.h>
import "C"

import "unsafe"

// CHeap allocates with the C runtime's malloc and releases with its free, so
// buffers can be handed to any C caller.
type CHeap struct{}

// Alloc allocates size bytes with malloc. It panics when malloc fails;
// inside an exported entry point that panic terminates the process.
func (CHeap) Alloc(size int) unsafe.Pointer {
	if size < 1 {
		size = 1
	}
	p := C.malloc(C.size_t(size))
	if p == nil {
		panic("out of memory")
	}
	return p
}

// Free releases p with free.
func (CHeap) Free(p unsafe.Pointer) {
	C.free(p)
}

// DefaultHeap returns the C heap.
func DefaultHeap() Heap {
	return CHeap{}
}
