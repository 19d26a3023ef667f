package wasm

import (
	"bytes"
	"encoding/binary"
)

// Builder assembles a core module. Imports must be declared before functions
// so that function indices are stable when they are returned.
type Builder struct {
	types    []FuncType
	imports  []Import
	funcs    []builderFunc
	exports  []Export
	memories []Limits
	data     []dataSegment
	custom   []CustomSection
	start    *uint32
}

type builderFunc struct {
	locals  []ValType
	body    []byte
	typeIdx uint32
}

type dataSegment struct {
	bytes  []byte
	offset int32
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Type returns the index of a function type, adding it when new.
func (b *Builder) Type(params, results []ValType) uint32 {
	for i, t := range b.types {
		if valTypesEqual(t.Params, params) && valTypesEqual(t.Results, results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, FuncType{Params: params, Results: results})
	return uint32(len(b.types) - 1)
}

// Import declares a function import and returns its function index.
func (b *Builder) Import(module, name string, params, results []ValType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasm: imports must be declared before functions")
	}
	b.imports = append(b.imports, Import{
		Module:    module,
		Name:      name,
		Kind:      KindFunc,
		TypeIndex: b.Type(params, results),
	})
	return b.importedFuncs() - 1
}

// ImportMemory declares a memory import.
func (b *Builder) ImportMemory(module, name string, min uint32) {
	b.imports = append(b.imports, Import{
		Module: module,
		Name:   name,
		Kind:   KindMemory,
		Limits: Limits{Min: uint64(min)},
	})
}

// Memory defines linear memory 0 and exports it as "memory". A max of 0 leaves
// the maximum undeclared.
func (b *Builder) Memory(min, max uint32) {
	lim := Limits{Min: uint64(min)}
	if max > 0 {
		lim.Max = uint64(max)
		lim.HasMax = true
	}
	b.memories = append(b.memories, lim)
	b.exports = append(b.exports, Export{Name: "memory", Kind: KindMemory, Index: uint32(len(b.memories) - 1)})
}

// Func defines a function and returns its index. A non-empty name exports it.
func (b *Builder) Func(name string, params, results, locals []ValType, code *Code) uint32 {
	idx := b.importedFuncs() + uint32(len(b.funcs))
	b.funcs = append(b.funcs, builderFunc{
		typeIdx: b.Type(params, results),
		locals:  locals,
		body:    code.Bytes(),
	})
	if name != "" {
		b.exports = append(b.exports, Export{Name: name, Kind: KindFunc, Index: idx})
	}
	return idx
}

// Start sets the module's start function.
func (b *Builder) Start(funcIdx uint32) {
	b.start = &funcIdx
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset int32, data []byte) {
	b.data = append(b.data, dataSegment{offset: offset, bytes: append([]byte(nil), data...)})
}

// Custom appends a custom section.
func (b *Builder) Custom(name string, data []byte) {
	b.custom = append(b.custom, CustomSection{Name: name, Data: append([]byte(nil), data...)})
}

func (b *Builder) importedFuncs() uint32 {
	var n uint32
	for _, imp := range b.imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	var w bytes.Buffer
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], Version)
	w.Write(hdr[:])

	if len(b.types) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.types)))
		for _, t := range b.types {
			sec.WriteByte(FuncTypeByte)
			writeValTypes(&sec, t.Params)
			writeValTypes(&sec, t.Results)
		}
		writeSection(&w, SectionType, sec.Bytes())
	}

	if len(b.imports) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.imports)))
		for _, imp := range b.imports {
			writeName(&sec, imp.Module)
			writeName(&sec, imp.Name)
			sec.WriteByte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				WriteLEB128u(&sec, imp.TypeIndex)
			case KindMemory:
				writeLimits(&sec, imp.Limits)
			}
		}
		writeSection(&w, SectionImport, sec.Bytes())
	}

	if len(b.funcs) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			WriteLEB128u(&sec, f.typeIdx)
		}
		writeSection(&w, SectionFunction, sec.Bytes())
	}

	if len(b.memories) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.memories)))
		for _, m := range b.memories {
			writeLimits(&sec, m)
		}
		writeSection(&w, SectionMemory, sec.Bytes())
	}

	if len(b.exports) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.exports)))
		for _, e := range b.exports {
			writeName(&sec, e.Name)
			sec.WriteByte(e.Kind)
			WriteLEB128u(&sec, e.Index)
		}
		writeSection(&w, SectionExport, sec.Bytes())
	}

	if b.start != nil {
		writeSection(&w, SectionStart, EncodeLEB128u(*b.start))
	}

	if len(b.funcs) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			var body bytes.Buffer
			writeLocals(&body, f.locals)
			body.Write(f.body)
			WriteLEB128u(&sec, uint32(body.Len()))
			sec.Write(body.Bytes())
		}
		writeSection(&w, SectionCode, sec.Bytes())
	}

	if len(b.data) > 0 {
		var sec bytes.Buffer
		WriteLEB128u(&sec, uint32(len(b.data)))
		for _, d := range b.data {
			WriteLEB128u(&sec, 0)
			sec.WriteByte(OpI32Const)
			WriteLEB128s(&sec, d.offset)
			sec.WriteByte(OpEnd)
			WriteLEB128u(&sec, uint32(len(d.bytes)))
			sec.Write(d.bytes)
		}
		writeSection(&w, SectionData, sec.Bytes())
	}

	for _, cs := range b.custom {
		var sec bytes.Buffer
		writeName(&sec, cs.Name)
		sec.Write(cs.Data)
		writeSection(&w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

// writeLocals groups consecutive locals of the same type.
func writeLocals(w *bytes.Buffer, locals []ValType) {
	type group struct {
		t ValType
		n uint32
	}
	var groups []group
	for _, l := range locals {
		if len(groups) > 0 && groups[len(groups)-1].t == l {
			groups[len(groups)-1].n++
			continue
		}
		groups = append(groups, group{t: l, n: 1})
	}
	WriteLEB128u(w, uint32(len(groups)))
	for _, g := range groups {
		WriteLEB128u(w, g.n)
		w.WriteByte(byte(g.t))
	}
}

func writeSection(w *bytes.Buffer, id byte, payload []byte) {
	w.WriteByte(id)
	WriteLEB128u(w, uint32(len(payload)))
	w.Write(payload)
}

func writeName(w *bytes.Buffer, s string) {
	WriteLEB128u(w, uint32(len(s)))
	w.WriteString(s)
}

func writeValTypes(w *bytes.Buffer, types []ValType) {
	WriteLEB128u(w, uint32(len(types)))
	for _, t := range types {
		w.WriteByte(byte(t))
	}
}

func writeLimits(w *bytes.Buffer, l Limits) {
	if l.HasMax {
		w.WriteByte(LimitsHasMax)
		WriteLEB128u(w, uint32(l.Min))
		WriteLEB128u(w, uint32(l.Max))
		return
	}
	w.WriteByte(LimitsNoMax)
	WriteLEB128u(w, uint32(l.Min))
}

func valTypesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
