//go:build baremetal

// Command kernel-rpi boots the kernel on a Raspberry Pi 1 or Zero (BCM2835).
//
// It is built with TinyGo for a bare ARMv6 target whose linker script places
// the entry point at 0x8000, where the firmware loads kernel.img:
//
//	tinygo build -target=./cmd/kernel-rpi/rpi.json -tags baremetal \
//		-o kernel.elf ./cmd/kernel-rpi
//	arm-none-eabi-objcopy -O binary kernel.elf kernel.img
//
// The firmware is asked for a framebuffer over the VideoCore mailbox, then
// the boot sequence runs with the images embedded from images/, or the
// built-in demo images when none are present. Keyboard input arrives on
// UART0 at 115200 baud.
package main

import (
	"context"
	"embed"
	"io/fs"

	"github.com/wippyai/wasm-kernel/bal/baremetal"
	"github.com/wippyai/wasm-kernel/boot"
	"github.com/wippyai/wasm-kernel/demo"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/kernel"
	"github.com/wippyai/wasm-kernel/platform"
)

// Requested framebuffer size in pixels.
const (
	screenWidth  = 640
	screenHeight = 480
)

//go:embed images
var embedded embed.FS

func main() {
	opts := platform.Options{Title: "wasm-kernel"}
	if fb, ok := baremetal.AllocateFramebuffer(screenWidth, screenHeight); ok {
		opts.FramebufferBase = fb.Base
		opts.FramebufferWidth = fb.Width
		opts.FramebufferHeight = fb.Height
		opts.FramebufferPitch = fb.Pitch
	}

	plat, err := platform.New(opts)
	if err != nil {
		halt(err)
	}

	images, err := bundledImages()
	if err != nil {
		plat.Fatal(err)
		return
	}

	cfg := kernel.DefaultConfig()
	cfg.IdleInterval = 0
	if err := boot.New(plat, cfg).Run(context.Background(), images...); err != nil {
		plat.Fatal(err)
	}
}

// bundledImages opens every embedded .wasm with its sidecar manifest.
func bundledImages() ([]*image.Image, error) {
	sub, err := fs.Sub(embedded, "images")
	if err != nil {
		return nil, err
	}
	names, err := fs.Glob(sub, "*.wasm")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return demo.Images(), nil
	}
	images := make([]*image.Image, 0, len(names))
	for _, name := range names {
		img, err := image.Open(sub, name)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func halt(err error) {
	b := baremetal.New(baremetal.Framebuffer{})
	b.WriteString("platform: " + err.Error() + "\r\n")
	b.Halt()
}
