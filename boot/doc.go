// Package boot brings the system from reset to a running kernel.
//
// The sequence is strictly ordered:
//
//	StageStack       establish the initial stack
//	StageZeroStatic  zero static storage
//	StageVectors     install the exception vector table
//	StageKernelInit  create the kernel context
//	StageRunning     load images and schedule
//
// Target-specific work is done by a Platform. Any error or panic before
// StageRunning is a boot fault: it is handed to Platform.Fatal and returned.
// Bare metal halts the CPU in Fatal; the hosted build returns the error so the
// process exits non-zero.
//
// The Sequence owns the single kernel.Kernel it creates.
package boot
