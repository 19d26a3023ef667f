// Package wasmkernel is a small kernel whose services and drivers are sandboxed
// WebAssembly modules.
//
// The kernel loads module images, grants each instance only the capabilities its
// manifest lists, and interleaves instances cooperatively on a single thread. Guests
// reach the outside world exclusively through a capability-gated syscall bridge, which
// forwards to a Backend Abstraction Layer implemented once per build target.
//
// # Architecture Overview
//
//	wasmkernel/          Root package with shared Memory interface and InstanceID
//	├── boot/            Reset-to-kernel handoff, ARM vector table, boot faults
//	├── bal/             Backend contract (now, present, poll input, halt)
//	│   ├── hosted/      Terminal surface backend (default build)
//	│   ├── baremetal/   BCM2835 MMIO backend (baremetal build tag, TinyGo)
//	│   └── baltest/     Deterministic fake backend for tests
//	├── platform/        Build-time backend selection
//	├── image/           Immutable module images and capability manifests
//	├── wasm/            Binary scanner and small module assembler
//	├── engine/          wazero integration
//	├── abi/             Syscall ABI declaration (WIT) and status codes
//	├── capability/      Per-instance tables and the resource registry
//	├── loader/          Validation and instantiation
//	├── bridge/          Host functions: capability checks, guest memory copies
//	├── scheduler/       Cooperative round robin state machine
//	├── kernel/          The kernel context tying everything together
//	└── errors/          Structured error types
//
// # Quick Start
//
//	backend := baltest.New()
//	k, err := kernel.New(ctx, backend, kernel.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer k.Close(ctx)
//
//	img := image.New("clock", wasmBytes)
//	id, err := k.Load(ctx, img)
//	if err != nil {
//	    log.Fatal(err) // errors.Is(err, errors.ErrMalformed) ...
//	}
//
//	err = k.Run(ctx)
//
// # Thread Safety
//
// A Kernel is a single logical thread of control. Guest execution, syscalls and
// scheduling all happen on the goroutine calling Step or Run; the kernel is NOT safe
// for concurrent use. Backends may run their own goroutines internally.
package wasmkernel
