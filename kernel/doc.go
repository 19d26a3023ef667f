// Package kernel is the explicit kernel context: one engine, one capability
// registry, one syscall bridge, one loader and one scheduler, bound to a
// single bal.Backend.
//
// A Kernel is created by the boot sequence and threaded through every
// operation; nothing in it is global. Several kernels can coexist in one
// process, which is how the tests run.
//
// # Execution
//
// Step runs one scheduling quantum:
//
//  1. drain backend input and fan it out to instances holding input read
//  2. wake blocked instances whose timer has expired or whose input arrived
//  3. call the head instance's run export with its ID bound to the context
//  4. requeue, block or halt it depending on how the call ended
//
// Run repeats Step until the backend delivers a quit event, the context ends,
// or no instance is left runnable or blocked.
//
// Traps and exits halt only the faulting instance. Its capabilities, memory
// pages and instance slot are reclaimed immediately; the scheduler keeps a
// halted entry until Unload or Reap.
//
// A Kernel is not safe for concurrent use.
package kernel
