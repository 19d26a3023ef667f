// Package bal is the backend abstraction layer: the fixed set of primitive
// operations the kernel needs from whatever it runs on.
//
// Exactly one implementation is linked into a build. The hosted backend
// renders into a terminal, the baremetal backend drives MMIO directly.
// Kernel code only ever sees the Backend interface.
package bal

import "iter"

// Tick is a monotonic timestamp in backend-defined units. The baremetal
// timer counts microseconds; the hosted timer counts microseconds since
// backend creation.
type Tick uint64

// Backend is the primitive operation set.
type Backend interface {
	// Now returns the current monotonic tick.
	Now() Tick

	// Present submits an RGBA8888 frame. It returns false when the surface
	// is busy and the frame was dropped.
	Present(pixels []byte, width, height int) bool

	// PollInput drains pending input. The sequence is finite and never blocks.
	PollInput() iter.Seq[Event]

	// Halt stops the machine. It does not return on bare metal.
	Halt()
}

// FrameReader is implemented by backends that can read back the last
// presented frame.
type FrameReader interface {
	LastFrame() (pixels []byte, width, height int, ok bool)
}

// BytesPerPixel for RGBA8888.
const BytesPerPixel = 4

// FrameSize returns the byte length of a width x height frame, or -1 when
// the dimensions are not positive.
func FrameSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return -1
	}
	return width * height * BytesPerPixel
}
