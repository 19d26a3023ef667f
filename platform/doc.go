// Package platform selects the boot.Platform for the build target.
//
// The default build is hosted: a terminal backend and no-op low-level hooks,
// since the Go runtime already owns the stack and static storage. Building
// with the baremetal tag (TinyGo) selects the BCM2835 backend and installs
// the vector table into low memory.
//
// Exactly one of the two files defining Platform is compiled, so the choice
// is made at build time and nothing dispatches on it at run time.
package platform
