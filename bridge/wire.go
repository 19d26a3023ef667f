package bridge

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"

	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/ipc"
)

// Event is the guest-visible layout of bal.Event.
type Event struct {
	Kind uint16 `struc:"uint16"`
	Mods uint16 `struc:"uint16"`
	Code uint32 `struc:"uint32"`
	X    int32  `struc:"int32"`
	Y    int32  `struc:"int32"`
	Tick uint64 `struc:"uint64"`
}

// CapInfo is the guest-visible descriptor written by cap-info.
type CapInfo struct {
	Kind     uint8  `struc:"uint8"`
	Rights   uint8  `struc:"uint8"`
	Reserved uint16 `struc:"uint16"`
	Size     uint32 `struc:"uint32"`
}

// MessageHeader precedes the payload written by message-next.
type MessageHeader struct {
	Kind     uint8  `struc:"uint8"`
	Flags    uint8  `struc:"uint8"`
	Reserved uint16 `struc:"uint16"`
	From     uint32 `struc:"uint32"`
	ID       uint64 `struc:"uint64"`
	Len      uint32 `struc:"uint32"`
	Slot     uint32 `struc:"uint32"`
}

// Wire sizes in bytes.
const (
	EventSize         = 24
	CapInfoSize       = 8
	MessageHeaderSize = 24
)

// MessageHeader flags.
const (
	FlagNeedsAnswer uint8 = 1 << iota
)

// NoSlot marks a message whose interface the receiver no longer holds.
const NoSlot = ^uint32(0)

func wireEvent(e bal.Event) *Event {
	return &Event{
		Kind: uint16(e.Kind),
		Mods: e.Mods,
		Code: e.Code,
		X:    e.X,
		Y:    e.Y,
		Tick: uint64(e.Tick),
	}
}

// PackEvents encodes events back to back.
func PackEvents(events []bal.Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(events) * EventSize)
	for _, e := range events {
		if err := struc.PackWithOrder(&buf, wireEvent(e), binary.LittleEndian); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnpackEvents decodes a packed event buffer.
func UnpackEvents(data []byte) ([]bal.Event, error) {
	r := bytes.NewReader(data)
	out := make([]bal.Event, 0, len(data)/EventSize)
	for r.Len() >= EventSize {
		var w Event
		if err := struc.UnpackWithOrder(r, &w, binary.LittleEndian); err != nil {
			return nil, err
		}
		out = append(out, bal.Event{
			Kind: bal.EventKind(w.Kind),
			Mods: w.Mods,
			Code: w.Code,
			X:    w.X,
			Y:    w.Y,
			Tick: bal.Tick(w.Tick),
		})
	}
	return out, nil
}

// PackCapInfo encodes a capability descriptor.
func PackCapInfo(c capability.Capability, size int) ([]byte, error) {
	var buf bytes.Buffer
	info := &CapInfo{Kind: uint8(c.Kind), Rights: uint8(c.Rights), Size: uint32(size)}
	if err := struc.PackWithOrder(&buf, info, binary.LittleEndian); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackCapInfo decodes a capability descriptor.
func UnpackCapInfo(data []byte) (CapInfo, error) {
	var info CapInfo
	err := struc.UnpackWithOrder(bytes.NewReader(data), &info, binary.LittleEndian)
	return info, err
}

// PackMessage encodes a message header followed by its payload. slot is the
// receiver's table slot for the message's interface.
func PackMessage(m ipc.Message, slot uint32) ([]byte, error) {
	hdr := &MessageHeader{
		Kind: uint8(m.Kind),
		From: uint32(m.From),
		ID:   m.ID,
		Len:  uint32(len(m.Data)),
		Slot: slot,
	}
	if m.NeedsAnswer {
		hdr.Flags |= FlagNeedsAnswer
	}
	var buf bytes.Buffer
	buf.Grow(MessageHeaderSize + len(m.Data))
	if err := struc.PackWithOrder(&buf, hdr, binary.LittleEndian); err != nil {
		return nil, err
	}
	buf.Write(m.Data)
	return buf.Bytes(), nil
}

// UnpackMessage decodes a header and returns it with the payload that
// follows. A payload shorter than the header claims is an error.
func UnpackMessage(data []byte) (MessageHeader, []byte, error) {
	var hdr MessageHeader
	r := bytes.NewReader(data)
	if err := struc.UnpackWithOrder(r, &hdr, binary.LittleEndian); err != nil {
		return hdr, nil, err
	}
	rest := data[MessageHeaderSize:]
	if uint32(len(rest)) < hdr.Len {
		return hdr, nil, io.ErrUnexpectedEOF
	}
	return hdr, rest[:hdr.Len], nil
}
