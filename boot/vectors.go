package boot

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

// Vector is an ARM exception vector.
type Vector uint8

const (
	VectorReset Vector = iota
	VectorUndefined
	VectorSWI
	VectorPrefetchAbort
	VectorDataAbort
	VectorReserved
	VectorIRQ
	VectorFIQ

	vectorCount = 8
)

var vectorNames = [vectorCount]string{
	"reset", "undefined", "swi", "prefetch-abort",
	"data-abort", "reserved", "irq", "fiq",
}

func (v Vector) String() string {
	if v < vectorCount {
		return vectorNames[v]
	}
	return fmt.Sprintf("vector(%d)", uint8(v))
}

// Boot contract addresses.
const (
	// EntryAddress is where the loader places the kernel and where reset
	// jumps.
	EntryAddress uint32 = 0x8000
	// VectorBase is where the vector table is copied.
	VectorBase uint32 = 0x0
	// TrapStubAddress is the `b .` loop that follows the literal pool.
	TrapStubAddress = VectorBase + 2*vectorCount*4

	// VectorTableSize is the encoded size in bytes.
	VectorTableSize = 2*vectorCount*4 + 4
)

// ARM encodings.
const (
	// insnLoadPC is `ldr pc, [pc, #24]`. PC reads 8 bytes ahead, so slot i
	// loads the literal 32 bytes after it.
	insnLoadPC uint32 = 0xE59FF018
	// insnBranchSelf is `b .`.
	insnBranchSelf uint32 = 0xEAFFFFFE
)

// VectorTable holds the jump target of every exception vector. Reset always
// targets EntryAddress; the rest start at the trap stub.
type VectorTable struct {
	targets    [vectorCount]uint32
	superseded [vectorCount]bool
}

// NewVectorTable returns a table with every non-reset vector trapped.
func NewVectorTable() *VectorTable {
	vt := &VectorTable{}
	for i := range vt.targets {
		vt.targets[i] = TrapStubAddress
	}
	vt.targets[VectorReset] = EntryAddress
	return vt
}

// Target returns where v jumps.
func (vt *VectorTable) Target(v Vector) uint32 {
	if v >= vectorCount {
		return 0
	}
	return vt.targets[v]
}

// Stubbed reports whether v still jumps to the trap stub.
func (vt *VectorTable) Stubbed(v Vector) bool {
	return v < vectorCount && v != VectorReset && !vt.superseded[v]
}

// Supersede points v at a handler. Reset cannot be superseded.
func (vt *VectorTable) Supersede(v Vector, addr uint32) error {
	switch {
	case v >= vectorCount:
		return fmt.Errorf("unknown vector %d", uint8(v))
	case v == VectorReset:
		return fmt.Errorf("reset vector is fixed at %#x", EntryAddress)
	case addr&3 != 0:
		return fmt.Errorf("handler %#x for %s is not word aligned", addr, v)
	}
	vt.targets[v] = addr
	vt.superseded[v] = true
	return nil
}

// encodedTable is the low-memory image layout.
type encodedTable struct {
	Slots    [vectorCount]uint32 `struc:"[8]uint32"`
	Literals [vectorCount]uint32 `struc:"[8]uint32"`
	Stub     uint32              `struc:"uint32"`
}

// Encode returns the bytes to copy to VectorBase.
func (vt *VectorTable) Encode() ([]byte, error) {
	enc := encodedTable{Literals: vt.targets, Stub: insnBranchSelf}
	for i := range enc.Slots {
		enc.Slots[i] = insnLoadPC
	}
	var buf bytes.Buffer
	buf.Grow(VectorTableSize)
	if err := struc.PackWithOrder(&buf, &enc, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
