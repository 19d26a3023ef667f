//go:build baremetal

package platform

import (
	"runtime/volatile"
	"unsafe"

	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/bal/baremetal"
	"github.com/wippyai/wasm-kernel/boot"
)

// Name identifies the compiled platform.
const Name = "baremetal"

// Platform is the BCM2835 boot.Platform.
type Platform struct {
	backend *baremetal.Backend
}

var _ boot.Platform = (*Platform)(nil)

// New creates the bare-metal platform.
func New(opts Options) (*Platform, error) {
	return &Platform{
		backend: baremetal.New(baremetal.Framebuffer{
			Base:   opts.FramebufferBase,
			Width:  opts.FramebufferWidth,
			Height: opts.FramebufferHeight,
			Pitch:  opts.FramebufferPitch,
		}),
	}, nil
}

// SetupStack is done by the TinyGo start code before main runs.
func (p *Platform) SetupStack() error { return nil }

// ZeroStatic is done by the TinyGo start code before main runs.
func (p *Platform) ZeroStatic() error { return nil }

// InstallVectors copies the encoded table to boot.VectorBase.
func (p *Platform) InstallVectors(vt *boot.VectorTable) error {
	img, err := vt.Encode()
	if err != nil {
		return err
	}
	for off := 0; off+4 <= len(img); off += 4 {
		word := uint32(img[off]) | uint32(img[off+1])<<8 | uint32(img[off+2])<<16 | uint32(img[off+3])<<24
		addr := uintptr(boot.VectorBase) + uintptr(off)
		volatile.StoreUint32((*uint32)(unsafe.Pointer(addr)), word)
	}
	return nil
}

func (p *Platform) Backend() bal.Backend {
	return p.backend
}

// Fatal reports err on the UART and halts. It does not return.
func (p *Platform) Fatal(err error) {
	p.backend.WriteString("boot fault: " + err.Error() + "\r\n")
	p.backend.Halt()
}
