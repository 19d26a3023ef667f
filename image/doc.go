// Package image holds module images and their capability manifests.
//
// An Image is immutable: bytes are copied on construction and on access.
// The manifest lists the capabilities an instance is granted at load, one
// per line, in slot order:
//
//	# kind     [name]   rights  [size=bytes]
//	timer               r
//	display             rw
//	extent     scratch  rwd     size=8192
//
// Kinds are timer, display (display-surface), input (input-queue) and
// extent (memory-extent). Rights are letters from "rwd". Extents must be
// named; size applies only to extents.
//
// A manifest is taken from the image's "kernel.manifest" custom section
// when present, otherwise from a sidecar file next to the image.
package image
