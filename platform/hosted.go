//go:build !baremetal

package platform

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/bal/hosted"
	"github.com/wippyai/wasm-kernel/boot"
)

// Name identifies the compiled platform.
const Name = "hosted"

// Platform is the hosted boot.Platform.
type Platform struct {
	backend *hosted.Backend
	logger  *zap.Logger
	vectors []byte
}

var _ boot.Platform = (*Platform)(nil)

// New creates the hosted platform and starts its terminal backend.
func New(opts Options) (*Platform, error) {
	logger := opts.logger()
	hopts := []hosted.Option{
		hosted.WithLogger(logger.Named("bal")),
		hosted.WithInputBuffer(opts.InputBuffer),
	}
	if opts.In != nil || opts.Out != nil {
		hopts = append(hopts, hosted.WithIO(opts.In, opts.Out))
	}
	if opts.Title != "" {
		hopts = append(hopts, hosted.WithTitle(opts.Title))
	}
	if opts.Headless {
		hopts = append(hopts, hosted.WithHeadless())
	}
	if opts.Mouse {
		hopts = append(hopts, hosted.WithMouse())
	}
	return &Platform{
		backend: hosted.New(hopts...),
		logger:  logger,
	}, nil
}

// SetupStack is a no-op: goroutine stacks belong to the Go runtime.
func (p *Platform) SetupStack() error { return nil }

// ZeroStatic is a no-op: the Go runtime zeroes static storage.
func (p *Platform) ZeroStatic() error { return nil }

// InstallVectors encodes the table. There is no low memory to copy it to,
// so the image is only kept for inspection.
func (p *Platform) InstallVectors(vt *boot.VectorTable) error {
	img, err := vt.Encode()
	if err != nil {
		return err
	}
	p.vectors = img
	p.logger.Debug("vector table encoded", zap.Int("bytes", len(img)))
	return nil
}

// VectorImage returns the encoded vector table.
func (p *Platform) VectorImage() []byte {
	return p.vectors
}

func (p *Platform) Backend() bal.Backend {
	return p.backend
}

// Hosted returns the concrete terminal backend.
func (p *Platform) Hosted() *hosted.Backend {
	return p.backend
}

// Fatal logs err and releases the terminal. The caller exits non-zero.
func (p *Platform) Fatal(err error) {
	p.logger.Error("fatal", zap.Error(err))
	p.backend.Halt()
}
