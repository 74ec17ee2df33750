//go:build cgo

package boundary

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCHeapRoundTrip(t *testing.T) {
	p := CString(CHeap{}, "1+2")
	assert.Equal(t, "1+2", GoString(p))
	CHeap{}.Free(p)
}

func TestCHeapAllocFailurePanics(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("needs a request larger than the address space")
	}
	assert.PanicsWithValue(t, "out of memory", func() { CHeap{}.Alloc(math.MaxInt) })
}
