package wasmkernel

// InstanceID identifies a module instance for the lifetime of a kernel.
// IDs are never reused; 0 is reserved and always invalid.
type InstanceID uint32

// Memory represents an instance's WASM linear memory.
// Every access is bounds-checked; offsets are guest addresses.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
	ReadU64(offset uint32) (uint64, error)
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of WASM linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}
