// Package demo builds the images the kernel binaries load with no image
// arguments: pulse animates the display and watcher exits on 'q'.
package demo

import (
	"github.com/wippyai/wasm-kernel/abi"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/wasm"
)

// Surface size in pixels.
const (
	Width  = 64
	Height = 32
)

var (
	i32 = []wasm.ValType{wasm.ValI32}
	i64 = []wasm.ValType{wasm.ValI64}
)

// Images returns pulse and watcher, in load order.
func Images() []*image.Image {
	return []*image.Image{Pulse(), Watcher()}
}

// Pulse fills the surface with a colour derived from the clock, presents
// it and sleeps for one frame. Its manifest is embedded.
func Pulse() *image.Image {
	b := wasm.NewBuilder()
	timerNow := b.Import(abi.Namespace, abi.TimerNow, i32, i64)
	timerSleep := b.Import(abi.Namespace, abi.TimerSleep, []wasm.ValType{wasm.ValI32, wasm.ValI32}, i32)
	present := b.Import(abi.Namespace, abi.SurfacePresent,
		[]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32}, i32)
	b.Memory(1, 1)

	const (
		capDisplay = 0
		capTimer   = 1
		frameBytes = Width * Height * 4
		locOffset  = 0
		locColor   = 1
	)

	code := wasm.NewCode()
	// shade = (now >> 12) & 0xff
	code.I32Const(capTimer).Call(timerNow).I32WrapI64().
		I32Const(12).I32ShrU().I32Const(0xff).I32And().LocalSet(locColor)
	// rgba = shade | 0x40<<8 | (255-shade)<<16 | 0xff<<24
	code.LocalGet(locColor).I32Const(0x4000).I32Or().
		I32Const(255).LocalGet(locColor).I32Sub().I32Const(16).I32Shl().I32Or().
		I32Const(-0x1000000).I32Or().LocalSet(locColor)

	code.I32Const(0).LocalSet(locOffset)
	code.Block().Loop().
		LocalGet(locOffset).I32Const(frameBytes).I32GeU().BrIf(1).
		LocalGet(locOffset).LocalGet(locColor).I32Store(0).
		LocalGet(locOffset).I32Const(4).I32Add().LocalSet(locOffset).
		Br(0).
		End().End()

	code.I32Const(capDisplay).I32Const(0).I32Const(Width).I32Const(Height).Call(present).Drop()
	code.I32Const(capTimer).I32Const(16_000).Call(timerSleep).Drop()
	b.Func(abi.EntryPoint, nil, nil, []wasm.ValType{wasm.ValI32, wasm.ValI32}, code.End())

	b.Custom(abi.ManifestSection, []byte("# pulse\ndisplay w\ntimer r\n"))
	return image.New("pulse", b.Bytes())
}

// Watcher drains input, exits on 'q' and otherwise waits for more. Its
// manifest is supplied alongside the image.
func Watcher() *image.Image {
	b := wasm.NewBuilder()
	poll := b.Import(abi.Namespace, abi.InputPoll, []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}, i32)
	wait := b.Import(abi.Namespace, abi.InputWait, i32, i32)
	exit := b.Import(abi.Namespace, abi.Exit, i32, nil)
	b.Memory(1, 1)

	const (
		capInput  = 0
		batch     = 8
		eventSize = 24
		codeField = 4
		locCount  = 0
		locIndex  = 1
	)

	code := wasm.NewCode()
	code.I32Const(capInput).I32Const(0).I32Const(batch * eventSize).Call(poll).LocalSet(locCount)
	code.I32Const(0).LocalSet(locIndex)
	code.Block().Loop().
		LocalGet(locIndex).LocalGet(locCount).I32GeS().BrIf(1).
		LocalGet(locIndex).I32Const(eventSize).I32Mul().I32Load(codeField).I32Const('q').I32Eq().
		If().I32Const(0).Call(exit).End().
		LocalGet(locIndex).I32Const(1).I32Add().LocalSet(locIndex).
		Br(0).
		End().End()
	code.I32Const(capInput).Call(wait).Drop()
	b.Func(abi.EntryPoint, nil, nil, []wasm.ValType{wasm.ValI32, wasm.ValI32}, code.End())

	return image.New("watcher", b.Bytes()).WithManifest([]byte("input r\n"))
}
