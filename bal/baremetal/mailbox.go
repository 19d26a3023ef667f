//go:build baremetal

package baremetal

import (
	"unsafe"

	"github.com/wippyai/wasm-kernel/bal"
)

// VideoCore mailbox 0.
const (
	mailboxBase   = peripheralBase + 0xB880
	mailboxRead   = mailboxBase + 0x00
	mailboxStatus = mailboxBase + 0x18
	mailboxWrite  = mailboxBase + 0x20

	mailboxFull  = 0x80000000
	mailboxEmpty = 0x40000000

	channelProperty = 8
)

// Property tags.
const (
	tagAllocateBuffer = 0x00040001
	tagGetPitch       = 0x00040008
	tagSetPhysicalWH  = 0x00048003
	tagSetVirtualWH   = 0x00048004
	tagSetDepth       = 0x00048005

	requestCode  = 0x00000000
	responseOK   = 0x80000000
	busAliasMask = 0x3FFFFFFF
)

// property backs the message exchanged with the firmware. The low four bits
// of the message address carry the channel, so the message starts at the
// first 16-byte boundary inside it.
var property [40]uint32

func propertyBuffer() *[36]uint32 {
	p := uintptr(unsafe.Pointer(&property[0]))
	p = (p + 15) &^ 15
	return (*[36]uint32)(unsafe.Pointer(p))
}

// call sends the property buffer on channel 8 and waits for the reply.
func call(msg *[36]uint32) bool {
	addr := uint32(uintptr(unsafe.Pointer(msg)))
	for reg(mailboxStatus).Get()&mailboxFull != 0 {
	}
	reg(mailboxWrite).Set(addr&^0xF | channelProperty)
	for {
		for reg(mailboxStatus).Get()&mailboxEmpty != 0 {
		}
		if reg(mailboxRead).Get() == addr&^0xF|channelProperty {
			return msg[1] == responseOK
		}
	}
}

// AllocateFramebuffer asks the firmware for a width by height 32bpp
// framebuffer and returns its geometry.
func AllocateFramebuffer(width, height int) (Framebuffer, bool) {
	msg := propertyBuffer()
	*msg = [36]uint32{}
	i := 2
	put := func(words ...uint32) {
		for _, w := range words {
			msg[i] = w
			i++
		}
	}
	put(tagSetPhysicalWH, 8, 8, uint32(width), uint32(height))
	put(tagSetVirtualWH, 8, 8, uint32(width), uint32(height))
	put(tagSetDepth, 4, 4, bal.BytesPerPixel*8)
	put(tagAllocateBuffer, 8, 8, 16, 0)
	allocAt := i - 2
	put(tagGetPitch, 4, 4, 0)
	pitchAt := i - 1
	put(0)
	msg[0] = uint32(i * 4)
	msg[1] = requestCode

	if !call(msg) || msg[allocAt] == 0 {
		return Framebuffer{}, false
	}
	return Framebuffer{
		Base:   uintptr(msg[allocAt] & busAliasMask),
		Width:  int(msg[5]),
		Height: int(msg[6]),
		Pitch:  int(msg[pitchAt]),
	}, true
}
