package boundary

import (
	"sync"
	"unsafe"
)

// Heap is the allocator behind every buffer the adapter hands across the
// boundary. Free must only ever see pointers returned by the same Heap's
// Alloc; releasing through any other allocator is undefined behaviour.
type Heap interface {
	// Alloc returns a buffer of at least size bytes. It never returns nil.
	Alloc(size int) unsafe.Pointer

	// Free releases a buffer previously returned by Alloc.
	Free(p unsafe.Pointer)
}

// PinnedHeap allocates from the Go heap and keeps every live buffer
// reachable until it is freed, so the garbage collector cannot reclaim memory
// that a foreign caller still owns. It is used where no C allocator exists
// (wasip1 guests, builds without cgo) and as an instrumented heap in tests.
type PinnedHeap struct {
	mu   sync.Mutex
	live map[uintptr][]byte
}

// NewPinnedHeap creates an empty heap.
func NewPinnedHeap() *PinnedHeap {
	return &PinnedHeap{live: make(map[uintptr][]byte)}
}

// Alloc allocates a zeroed buffer and pins it.
func (h *PinnedHeap) Alloc(size int) unsafe.Pointer {
	if size < 1 {
		size = 1
	}
	buf := make([]byte, size)
	p := unsafe.Pointer(unsafe.SliceData(buf))

	h.mu.Lock()
	h.live[uintptr(p)] = buf
	h.mu.Unlock()

	return p
}

// Free drops the pin on p. Pointers this heap never handed out, and pointers
// already freed, are ignored.
func (h *PinnedHeap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	h.mu.Lock()
	delete(h.live, uintptr(p))
	h.mu.Unlock()
}

// Owns reports whether p is a live allocation of this heap.
func (h *PinnedHeap) Owns(p unsafe.Pointer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[uintptr(p)]
	return ok
}

// Live returns the number of buffers not yet freed.
func (h *PinnedHeap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}
