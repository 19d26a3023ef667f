//go:build baremetal

// Package baremetal drives a BCM2835 (Raspberry Pi 1 and Zero) directly
// through memory-mapped I/O. It is built with TinyGo only.
//
//	Now        system timer, 1 MHz free-running counter
//	Present    linear 32bpp framebuffer set up by the firmware
//	PollInput  PL011 UART receive FIFO
//	Halt       interrupts off, wfi forever
package baremetal

import (
	"device/arm"
	"iter"
	"runtime/volatile"
	"unsafe"

	"github.com/wippyai/wasm-kernel/bal"
)

const peripheralBase = 0x20000000

// System timer.
const (
	timerCLO = peripheralBase + 0x3004
	timerCHI = peripheralBase + 0x3008
)

// PL011 UART0.
const (
	uartBase = peripheralBase + 0x201000
	uartDR   = uartBase + 0x00
	uartFR   = uartBase + 0x18

	flagRXFE = 1 << 4 // receive FIFO empty
	flagTXFF = 1 << 5 // transmit FIFO full
)

// Control bytes read from the UART.
const (
	asciiETX = 0x03 // ctrl+c
	asciiBS  = 0x08
	asciiTab = 0x09
	asciiCR  = 0x0d
	asciiESC = 0x1b
	asciiDEL = 0x7f
)

// Framebuffer describes the linear framebuffer allocated by the firmware.
type Framebuffer struct {
	Base   uintptr
	Width  int
	Height int
	// Pitch is the byte distance between rows.
	Pitch int
}

// Backend is the BCM2835 bal.Backend.
type Backend struct {
	fb Framebuffer
}

// New creates a backend. A zero Framebuffer disables Present.
func New(fb Framebuffer) *Backend {
	if fb.Pitch == 0 {
		fb.Pitch = fb.Width * bal.BytesPerPixel
	}
	return &Backend{fb: fb}
}

func reg(addr uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(addr))
}

// Now reads the 64-bit system timer. The high word is read twice to catch a
// carry between the two halves.
func (b *Backend) Now() bal.Tick {
	for {
		hi := reg(timerCHI).Get()
		lo := reg(timerCLO).Get()
		if reg(timerCHI).Get() == hi {
			return bal.Tick(uint64(hi)<<32 | uint64(lo))
		}
	}
}

// Present copies an RGBA frame into the top-left of the framebuffer as
// XRGB words. Frames larger than the framebuffer are rejected.
func (b *Backend) Present(pixels []byte, width, height int) bool {
	if b.fb.Base == 0 || width > b.fb.Width || height > b.fb.Height {
		return false
	}
	if bal.FrameSize(width, height) != len(pixels) {
		return false
	}
	for y := 0; y < height; y++ {
		row := b.fb.Base + uintptr(y*b.fb.Pitch)
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			word := uint32(pixels[i])<<16 | uint32(pixels[i+1])<<8 | uint32(pixels[i+2])
			reg(row + uintptr(x*4)).Set(word)
		}
	}
	return true
}

// PollInput drains the UART receive FIFO.
func (b *Backend) PollInput() iter.Seq[bal.Event] {
	return func(yield func(bal.Event) bool) {
		for reg(uartFR).Get()&flagRXFE == 0 {
			c := byte(reg(uartDR).Get())
			if !yield(uartEvent(c, b.Now())) {
				return
			}
		}
	}
}

func uartEvent(c byte, now bal.Tick) bal.Event {
	ev := bal.Event{Kind: bal.EventKey, Tick: now, Code: uint32(c)}
	switch c {
	case asciiETX:
		ev.Kind, ev.Code = bal.EventQuit, 0
	case asciiCR:
		ev.Code = bal.KeyEnter
	case asciiESC:
		ev.Code = bal.KeyEscape
	case asciiBS, asciiDEL:
		ev.Code = bal.KeyBackspace
	case asciiTab:
		ev.Code = bal.KeyTab
	}
	return ev
}

// WriteString sends s to the UART, blocking while the transmit FIFO is full.
func (b *Backend) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		for reg(uartFR).Get()&flagTXFF != 0 {
		}
		reg(uartDR).Set(uint32(s[i]))
	}
}

// Halt disables interrupts and waits forever.
func (b *Backend) Halt() {
	arm.DisableInterrupts()
	for {
		arm.Asm("wfi")
	}
}

var _ bal.Backend = (*Backend)(nil)
