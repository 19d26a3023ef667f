package engine

import (
	"github.com/tetratelabs/wazero/api"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/errors"
)

// WazeroMemory wraps wazero memory to implement wasmkernel.Memory
type WazeroMemory struct {
	mem api.Memory
}

// NewMemory adapts a wazero memory, typically a host function's caller memory.
func NewMemory(mem api.Memory) *WazeroMemory {
	if mem == nil {
		return nil
	}
	return &WazeroMemory{mem: mem}
}

func (m *WazeroMemory) oob(offset uint32, length uint64) error {
	return errors.OutOfBounds(errors.PhaseSyscall, uint64(offset), length, uint64(m.mem.Size()))
}

// Read returns a view into guest memory. Callers that retain it must copy.
func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.oob(offset, uint64(length))
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return m.oob(offset, uint64(len(data)))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.oob(offset, 4)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, m.oob(offset, 8)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return m.oob(offset, 4)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return m.oob(offset, 8)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	return m.mem.Size()
}

// Compile-time check that WazeroMemory implements wasmkernel.Memory and MemorySizer
var _ wasmkernel.Memory = (*WazeroMemory)(nil)
var _ wasmkernel.MemorySizer = (*WazeroMemory)(nil)
