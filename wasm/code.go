package wasm

import "bytes"

// Opcodes used by Code.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpReturn      byte = 0x0F
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpI32Load     byte = 0x28
	OpI64Load     byte = 0x29
	OpI32Load8U   byte = 0x2D
	OpI32Store    byte = 0x36
	OpI64Store    byte = 0x37
	OpI32Store8   byte = 0x3A
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpI32Eqz      byte = 0x45
	OpI32Eq       byte = 0x46
	OpI32Ne       byte = 0x47
	OpI32LtS      byte = 0x48
	OpI32LtU      byte = 0x49
	OpI32GtS      byte = 0x4A
	OpI32LeS      byte = 0x4C
	OpI32GeS      byte = 0x4E
	OpI32GeU      byte = 0x4F
	OpI64Eqz      byte = 0x50
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B
	OpI32Mul      byte = 0x6C
	OpI32DivU     byte = 0x6E
	OpI32RemU     byte = 0x70
	OpI32And      byte = 0x71
	OpI32Or       byte = 0x72
	OpI32Shl      byte = 0x74
	OpI32ShrU     byte = 0x76
	OpI32WrapI64  byte = 0xA7

	// BlockEmpty is the empty block type.
	BlockEmpty byte = 0x40
)

// Code is a fluent writer for function bodies. Call End to terminate the body.
type Code struct {
	buf bytes.Buffer
}

// NewCode creates an empty function body.
func NewCode() *Code {
	return &Code{}
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte {
	return c.buf.Bytes()
}

func (c *Code) op(b byte) *Code {
	c.buf.WriteByte(b)
	return c
}

func (c *Code) opIdx(b byte, idx uint32) *Code {
	c.buf.WriteByte(b)
	WriteLEB128u(&c.buf, idx)
	return c
}

func (c *Code) memarg(b byte, align, offset uint32) *Code {
	c.buf.WriteByte(b)
	WriteLEB128u(&c.buf, align)
	WriteLEB128u(&c.buf, offset)
	return c
}

func (c *Code) Unreachable() *Code { return c.op(OpUnreachable) }
func (c *Code) Nop() *Code         { return c.op(OpNop) }
func (c *Code) Else() *Code        { return c.op(OpElse) }
func (c *Code) End() *Code         { return c.op(OpEnd) }
func (c *Code) Return() *Code      { return c.op(OpReturn) }
func (c *Code) Drop() *Code        { return c.op(OpDrop) }

// Block, Loop and If open a structured block with an empty block type.
func (c *Code) Block() *Code { return c.op(OpBlock).op(BlockEmpty) }
func (c *Code) Loop() *Code  { return c.op(OpLoop).op(BlockEmpty) }
func (c *Code) If() *Code    { return c.op(OpIf).op(BlockEmpty) }

func (c *Code) Br(depth uint32) *Code   { return c.opIdx(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.opIdx(OpBrIf, depth) }
func (c *Code) Call(fn uint32) *Code    { return c.opIdx(OpCall, fn) }

func (c *Code) LocalGet(idx uint32) *Code { return c.opIdx(OpLocalGet, idx) }
func (c *Code) LocalSet(idx uint32) *Code { return c.opIdx(OpLocalSet, idx) }
func (c *Code) LocalTee(idx uint32) *Code { return c.opIdx(OpLocalTee, idx) }

func (c *Code) I32Const(v int32) *Code {
	c.buf.WriteByte(OpI32Const)
	WriteLEB128s(&c.buf, v)
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf.WriteByte(OpI64Const)
	WriteLEB128s64(&c.buf, v)
	return c
}

// Memory access with natural alignment.
func (c *Code) I32Load(offset uint32) *Code   { return c.memarg(OpI32Load, 2, offset) }
func (c *Code) I64Load(offset uint32) *Code   { return c.memarg(OpI64Load, 3, offset) }
func (c *Code) I32Load8U(offset uint32) *Code { return c.memarg(OpI32Load8U, 0, offset) }
func (c *Code) I32Store(offset uint32) *Code  { return c.memarg(OpI32Store, 2, offset) }
func (c *Code) I64Store(offset uint32) *Code  { return c.memarg(OpI64Store, 3, offset) }
func (c *Code) I32Store8(offset uint32) *Code { return c.memarg(OpI32Store8, 0, offset) }

func (c *Code) I32Eqz() *Code     { return c.op(OpI32Eqz) }
func (c *Code) I32Eq() *Code      { return c.op(OpI32Eq) }
func (c *Code) I32Ne() *Code      { return c.op(OpI32Ne) }
func (c *Code) I32LtS() *Code     { return c.op(OpI32LtS) }
func (c *Code) I32LtU() *Code     { return c.op(OpI32LtU) }
func (c *Code) I32GtS() *Code     { return c.op(OpI32GtS) }
func (c *Code) I32LeS() *Code     { return c.op(OpI32LeS) }
func (c *Code) I32GeS() *Code     { return c.op(OpI32GeS) }
func (c *Code) I32GeU() *Code     { return c.op(OpI32GeU) }
func (c *Code) I64Eqz() *Code     { return c.op(OpI64Eqz) }
func (c *Code) I32Add() *Code     { return c.op(OpI32Add) }
func (c *Code) I32Sub() *Code     { return c.op(OpI32Sub) }
func (c *Code) I32Mul() *Code     { return c.op(OpI32Mul) }
func (c *Code) I32DivU() *Code    { return c.op(OpI32DivU) }
func (c *Code) I32RemU() *Code    { return c.op(OpI32RemU) }
func (c *Code) I32And() *Code     { return c.op(OpI32And) }
func (c *Code) I32Or() *Code      { return c.op(OpI32Or) }
func (c *Code) I32Shl() *Code     { return c.op(OpI32Shl) }
func (c *Code) I32ShrU() *Code    { return c.op(OpI32ShrU) }
func (c *Code) I32WrapI64() *Code { return c.op(OpI32WrapI64) }

// Raw appends pre-encoded bytes.
func (c *Code) Raw(b ...byte) *Code {
	c.buf.Write(b)
	return c
}
