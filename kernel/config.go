package kernel

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/ipc"
)

// Config holds kernel limits and policies.
type Config struct {
	// Logger receives kernel, loader, scheduler and audit logs.
	// nil means zap.NewNop().
	Logger *zap.Logger

	// MaxInstances caps live instances.
	MaxInstances int

	// MemoryCeilingPages caps the linear memory any one instance may declare.
	MemoryCeilingPages uint32

	// MemoryBudgetPages caps the pages reserved across live instances.
	MemoryBudgetPages uint32

	// ExtentBudget caps the bytes held by memory extents. 0 keeps the
	// registry default.
	ExtentBudget int

	// Policy decides what a load does when a write grant is already held.
	Policy capability.ConflictPolicy

	// QuantumBudget is the per-quantum tick budget. Overruns are logged.
	// 0 disables overrun accounting.
	QuantumBudget bal.Tick

	// QuantumDeadline, if positive, aborts a quantum that runs longer than
	// this wall-clock duration. The instance is halted as trapped.
	QuantumDeadline time.Duration

	// InputQueueDepth bounds each instance's pending input. When full the
	// oldest event is dropped.
	InputQueueDepth int

	// MessageQueueDepth bounds each instance's message mailbox. Emits to a
	// full mailbox fail with Exhausted.
	MessageQueueDepth int

	// MaxMessageSize caps the payload of one message in bytes.
	MaxMessageSize int

	// IdleInterval is how long Run sleeps when every instance is blocked.
	IdleInterval time.Duration
}

// DefaultConfig returns a configuration suitable for the hosted build.
func DefaultConfig() Config {
	return Config{
		MaxInstances:       8,
		MemoryCeilingPages: 16,
		MemoryBudgetPages:  128,
		ExtentBudget:       1 << 20,
		Policy:             capability.RejectWholesale,
		QuantumBudget:      10_000,
		InputQueueDepth:    64,
		MessageQueueDepth:  ipc.DefaultQueueDepth,
		MaxMessageSize:     ipc.DefaultMaxMessage,
		IdleInterval:       time.Millisecond,
	}
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch {
	case c.MaxInstances <= 0:
		return errors.InvalidInput(errors.PhaseBoot, "MaxInstances must be positive")
	case c.MemoryCeilingPages == 0:
		return errors.InvalidInput(errors.PhaseBoot, "MemoryCeilingPages must be positive")
	case c.MemoryBudgetPages < c.MemoryCeilingPages:
		return errors.InvalidInput(errors.PhaseBoot, "MemoryBudgetPages is below MemoryCeilingPages")
	case c.ExtentBudget < 0:
		return errors.InvalidInput(errors.PhaseBoot, "ExtentBudget must not be negative")
	case c.InputQueueDepth <= 0:
		return errors.InvalidInput(errors.PhaseBoot, "InputQueueDepth must be positive")
	case c.MessageQueueDepth <= 0 || c.MaxMessageSize <= 0:
		return errors.InvalidInput(errors.PhaseBoot, "message limits must be positive")
	case c.QuantumDeadline < 0 || c.IdleInterval < 0:
		return errors.InvalidInput(errors.PhaseBoot, "durations must not be negative")
	}
	switch c.Policy {
	case capability.RejectWholesale, capability.GrantNonConflicting:
	default:
		return errors.InvalidInput(errors.PhaseBoot, "unknown conflict policy")
	}
	return nil
}
