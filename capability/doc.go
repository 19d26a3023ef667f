// Package capability implements per-instance capability tables and the
// registry of kernel resources they refer to.
//
// A Capability names a resource by Handle and carries the Rights the holder
// may exercise. Guests never see handles: they address capabilities by slot
// index into their own Table, which has a fixed number of slots.
//
// The Registry owns the resources themselves. Timer, display and input are
// singletons bound to the backend; memory extents are created by name on
// first grant and freed when the last holder releases them. At most one
// instance may hold write rights on a resource at a time.
//
// Lifecycle events (minted, delegated, released) are delivered to
// subscribed observers and logged.
package capability
