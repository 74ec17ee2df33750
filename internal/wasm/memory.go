package wasm

import (
	"bytes"
	"context"
	"errors"
)

// Names of the allocator exports a guest provides for host-written data.
const (
	ExportMalloc = "malloc"
	ExportFree   = "free"
)

var (
	errOutOfRange   = errors.New("out of range")
	errUnterminated = errors.New("missing NUL terminator")
	errNullPointer  = errors.New("guest allocator returned null")
)

// Memory provides safe memory operations for Wasm module interaction.
//
// Guest linear memory is owned by the guest's allocator. The host never
// writes into memory it did not obtain from the guest's malloc export, and it
// hands every such buffer back through the guest's free export (or the
// guest-specific release function for buffers the guest allocated itself).
// All reads are bounds-checked and copy out of linear memory, because a later
// guest call may grow and move it.
type Memory struct {
	inst *Instance
}

// NewMemory creates a memory helper for an instance.
func NewMemory(inst *Instance) *Memory {
	return &Memory{inst: inst}
}

// ReadCString reads the null-terminated string at ptr, scanning up to the end
// of linear memory.
func (m *Memory) ReadCString(ptr uint32) (string, error) {
	mem := m.inst.module.Memory()
	size := mem.Size()
	if ptr >= size {
		return "", &MemoryAccessError{Operation: "read_cstring", Address: ptr, Err: errOutOfRange}
	}

	buf, ok := mem.Read(ptr, size-ptr)
	if !ok {
		return "", &MemoryAccessError{Operation: "read_cstring", Address: ptr, Length: size - ptr, Err: errOutOfRange}
	}
	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		return "", &MemoryAccessError{Operation: "read_cstring", Address: ptr, Length: size - ptr, Err: errUnterminated}
	}
	return string(buf[:end]), nil
}

// ReadUint32 reads a little-endian uint32.
func (m *Memory) ReadUint32(ptr uint32) (uint32, error) {
	v, ok := m.inst.module.Memory().ReadUint32Le(ptr)
	if !ok {
		return 0, &MemoryAccessError{Operation: "read_u32", Address: ptr, Length: 4, Err: errOutOfRange}
	}
	return v, nil
}

// Alloc reserves size bytes through the guest's malloc export.
func (m *Memory) Alloc(ctx context.Context, size uint32) (uint32, error) {
	ret, err := m.inst.Call1(ctx, ExportMalloc, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(ret)
	if ptr == 0 {
		return 0, &MemoryAccessError{Operation: "alloc", Length: size, Err: errNullPointer}
	}
	return ptr, nil
}

// WriteString copies s plus a NUL terminator into a fresh guest allocation.
// Returns pointer and length (without the terminator). The caller must
// release the pointer with Free.
func (m *Memory) WriteString(ctx context.Context, s string) (uint32, uint32, error) {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	ptr, _, err := m.WriteBytes(ctx, buf)
	if err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

// WriteBytes copies data into a fresh guest allocation. The caller must
// release the pointer with Free.
func (m *Memory) WriteBytes(ctx context.Context, data []byte) (uint32, uint32, error) {
	length := uint32(len(data))
	ptr, err := m.Alloc(ctx, length)
	if err != nil {
		return 0, 0, err
	}
	if !m.inst.module.Memory().Write(ptr, data) {
		_ = m.Free(ctx, ptr)
		return 0, 0, &MemoryAccessError{Operation: "write", Address: ptr, Length: length, Err: errOutOfRange}
	}
	return ptr, length, nil
}

// Free returns a host-written allocation to the guest. A zero ptr is a no-op.
func (m *Memory) Free(ctx context.Context, ptr uint32) error {
	return m.Release(ctx, ExportFree, ptr)
}

// Release hands ptr to the guest function release, which must be the
// deallocator matching the allocation. A zero ptr is a no-op.
func (m *Memory) Release(ctx context.Context, release string, ptr uint32) error {
	if ptr == 0 {
		return nil
	}
	_, err := m.inst.Call(ctx, release, uint64(ptr))
	return err
}
