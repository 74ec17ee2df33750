//go:build !cgo

package boundary

var defaultHeap = NewPinnedHeap()

// DefaultHeap returns a process-wide pinned Go heap when cgo is unavailable.
func DefaultHeap() Heap {
	return defaultHeap
}
