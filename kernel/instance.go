package kernel

import (
	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/bridge"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/loader"
	"github.com/wippyai/wasm-kernel/scheduler"
)

// instance is the kernel's arena record for one loaded image.
type instance struct {
	loaded  *loader.Loaded
	wait    *bridge.Wait
	cause   error
	input   []bal.Event
	name    string
	dropped uint64
	code    uint32
	id      wasmkernel.InstanceID
	halted  bool
	exited  bool
}

// subscribed reports whether the instance holds input read.
func (i *instance) subscribed() bool {
	if i.halted || i.loaded == nil {
		return false
	}
	found := false
	i.loaded.Table.Each(func(_ uint32, c capability.Capability) bool {
		if c.Kind == capability.KindInput && c.Rights.Has(capability.RightRead) {
			found = true
			return false
		}
		return true
	})
	return found
}

// enqueue appends ev, dropping the oldest event when depth is reached.
func (i *instance) enqueue(ev bal.Event, depth int) {
	if len(i.input) >= depth {
		copy(i.input, i.input[1:])
		i.input = i.input[:len(i.input)-1]
		i.dropped++
	}
	i.input = append(i.input, ev)
}

// Snapshot is a read-only view of an instance.
type Snapshot struct {
	// Err is the trap that halted the instance, if any.
	Err             error
	Name            string
	Wait            bridge.WaitKind
	Quanta          uint64
	Overruns        uint64
	InputDropped    uint64
	Capabilities    int
	PendingInput    int
	PendingMessages int
	Pages           uint32
	ExitCode        uint32
	ID              wasmkernel.InstanceID
	State           scheduler.State
	Exited          bool
}
