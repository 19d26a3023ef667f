// Package abi declares the kernel's syscall surface.
//
// Guests import host functions from the "kernel" namespace and export a
// parameterless "run" entry point plus their linear memory as "memory".
// The syscall set is declared once as WIT text:
//
//	timer-now: func(cap: u32) -> s64;
//	input-wait: func(cap: u32) -> s32;
//	exit: func(code: u32);
//
// and lowered to core wasm value types on first use. The loader matches
// imports against Lookup; the bridge exports exactly the same signatures.
//
// Every syscall except exit returns a Status. Negative values are errors.
package abi
