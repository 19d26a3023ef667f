package platform

import (
	"io"

	"go.uber.org/zap"
)

// Options configures either platform. Fields a target has no use for are
// ignored.
type Options struct {
	Logger *zap.Logger
	In     io.Reader
	Out    io.Writer
	Title  string

	// Headless runs the hosted backend without a terminal program.
	Headless bool
	// Mouse enables pointer events on the hosted backend.
	Mouse bool
	// InputBuffer bounds hosted input between polls.
	InputBuffer int

	// Framebuffer geometry for bare metal, as negotiated by the firmware.
	FramebufferBase   uintptr
	FramebufferWidth  int
	FramebufferHeight int
	FramebufferPitch  int
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
