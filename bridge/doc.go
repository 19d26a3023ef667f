// Package bridge implements the syscall host functions.
//
// The bridge is the only path from guest code to kernel resources. Every
// call names a capability by slot index in the caller's own table; the
// handle behind it comes from the table, never from the guest. Missing
// slots, wrong kinds and missing rights all return PermissionDenied and
// leave the caller runnable.
//
// Buffers are copied between guest memory and kernel resources at
// bounds-checked offsets. Input events and capability descriptors use a
// fixed little-endian layout:
//
//	event     kind u16 | mods u16 | code u32 | x i32 | y i32 | tick u64   (24 bytes)
//	cap-info  kind u8  | rights u8 | reserved u16 | size u32              (8 bytes)
//
// Blocking syscalls never block the host: they register a wait with the
// supervisor and return WouldBlock. The guest is expected to return from
// run; it is resumed once the wait is satisfied.
package bridge
