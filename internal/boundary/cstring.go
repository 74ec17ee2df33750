package boundary

import (
	"unicode/utf8"
	"unsafe"
)

// CString copies s into a new null-terminated buffer allocated from h.
// Bytes after an embedded NUL are unreachable to C readers.
func CString(h Heap, s string) unsafe.Pointer {
	p := h.Alloc(len(s) + 1)
	buf := unsafe.Slice((*byte)(p), len(s)+1)
	copy(buf, s)
	buf[len(s)] = 0
	return p
}

// ReadCString copies the bytes of the null-terminated buffer at p, excluding
// the terminator. A nil p yields nil.
func ReadCString(p unsafe.Pointer) []byte {
	if p == nil {
		return nil
	}
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(p), n))
	return out
}

// GoString is ReadCString returning a string.
func GoString(p unsafe.Pointer) string {
	return string(ReadCString(p))
}

// DecodeInput turns a caller-owned C string into text. Null input and input
// that is not valid UTF-8 both decode to the empty string.
func DecodeInput(p unsafe.Pointer) string {
	b := ReadCString(p)
	if !utf8.Valid(b) {
		return ""
	}
	return string(b)
}
