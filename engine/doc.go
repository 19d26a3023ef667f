// Package engine embeds wazero as the kernel's WebAssembly engine.
//
// The engine compiles guest images, instantiates them against a single host
// module carrying the syscall surface, and exposes each instance's exported
// linear memory through a bounds-checked adapter.
//
//	WazeroEngine   - owns the wazero runtime and the host module
//	WazeroModule   - a compiled image, instantiable once per load
//	WazeroInstance - a live guest with its memory and entry point
//
// # Limits
//
// MemoryLimitPages caps every memory the runtime will create, including
// growth. When CloseOnContextDone is set, a call whose context is cancelled
// or past its deadline is aborted and the instance is closed; the caller
// sees the error and treats it as a trap.
//
// # Exit
//
// A host function ends its caller with Exit. The resulting call error
// satisfies ExitCode.
package engine
