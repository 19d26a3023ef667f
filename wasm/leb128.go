package wasm

import (
	"bytes"
	"errors"
	"io"
)

// ErrOverflow is returned when a LEB128 value does not fit its declared width.
var ErrOverflow = errors.New("leb128: overflow")

// ReadLEB128u reads an unsigned 32-bit LEB128 value.
func ReadLEB128u(r io.ByteReader) (uint32, error) {
	v, err := readUnsigned(r, 32)
	return uint32(v), err
}

// ReadLEB128u64 reads an unsigned 64-bit LEB128 value.
func ReadLEB128u64(r io.ByteReader) (uint64, error) {
	return readUnsigned(r, 64)
}

// readUnsigned rejects encodings longer than ceil(bits/7) bytes and final
// bytes that carry bits above the width.
func readUnsigned(r io.ByteReader, bits uint) (uint64, error) {
	var v uint64
	for shift := uint(0); ; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		last := shift+7 >= bits
		if last {
			if b&0x80 != 0 || uint64(b&0x7f)>>(bits-shift) != 0 {
				return 0, ErrOverflow
			}
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

// WriteLEB128u appends an unsigned LEB128 value.
func WriteLEB128u(w *bytes.Buffer, v uint32) {
	writeUnsigned(w, uint64(v))
}

// WriteLEB128s appends a signed 32-bit LEB128 value.
func WriteLEB128s(w *bytes.Buffer, v int32) {
	writeSigned(w, int64(v))
}

// WriteLEB128s64 appends a signed 64-bit LEB128 value.
func WriteLEB128s64(w *bytes.Buffer, v int64) {
	writeSigned(w, v)
}

// EncodeLEB128u returns the unsigned LEB128 encoding of v.
func EncodeLEB128u(v uint32) []byte {
	var buf bytes.Buffer
	writeUnsigned(&buf, uint64(v))
	return buf.Bytes()
}

func writeUnsigned(w *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		w.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.WriteByte(byte(v))
}

func writeSigned(w *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		// sign bit of the emitted group must agree with the remaining value
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}
