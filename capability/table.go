package capability

import (
	"github.com/wippyai/wasm-kernel/errors"
)

// Slots is the fixed size of every capability table.
const Slots = 16

// Table is one instance's capability array. Indices have no meaning outside
// the owning instance. Not safe for concurrent use.
type Table struct {
	slots [Slots]Capability
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// Get returns the capability at index, or false for an empty or out of range slot.
func (t *Table) Get(index uint32) (Capability, bool) {
	if index >= Slots {
		return Capability{}, false
	}
	c := t.slots[index]
	return c, c.Valid()
}

// Set places a capability at a specific index. The slot must be empty.
func (t *Table) Set(index uint32, c Capability) error {
	if index >= Slots {
		return errors.ResourceExhausted("capability table full")
	}
	if t.slots[index].Valid() {
		return errors.InvalidInput(errors.PhaseRuntime, "capability slot already occupied")
	}
	t.slots[index] = c
	return nil
}

// Insert places a capability in the lowest free slot and returns its index.
func (t *Table) Insert(c Capability) (uint32, error) {
	for i := range t.slots {
		if !t.slots[i].Valid() {
			t.slots[i] = c
			return uint32(i), nil
		}
	}
	return 0, errors.ResourceExhausted("capability table full")
}

// Replace overwrites an occupied slot.
func (t *Table) Replace(index uint32, c Capability) bool {
	if index >= Slots || !t.slots[index].Valid() {
		return false
	}
	t.slots[index] = c
	return true
}

// Remove empties a slot and returns what it held.
func (t *Table) Remove(index uint32) (Capability, bool) {
	c, ok := t.Get(index)
	if !ok {
		return Capability{}, false
	}
	t.slots[index] = Capability{}
	return c, true
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	n := 0
	for _, c := range t.slots {
		if c.Valid() {
			n++
		}
	}
	return n
}

// Each visits occupied slots in index order until fn returns false.
func (t *Table) Each(fn func(index uint32, c Capability) bool) {
	for i, c := range t.slots {
		if c.Valid() && !fn(uint32(i), c) {
			return
		}
	}
}

// Clear empties every slot and returns the capabilities removed.
func (t *Table) Clear() []Capability {
	var out []Capability
	for i, c := range t.slots {
		if c.Valid() {
			out = append(out, c)
			t.slots[i] = Capability{}
		}
	}
	return out
}
