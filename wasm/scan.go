package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var (
	ErrBadMagic     = errors.New("not a wasm binary: bad magic")
	ErrBadVersion   = errors.New("unsupported wasm binary version")
	ErrTruncated    = errors.New("unexpected end of image")
	ErrSectionOrder = errors.New("section out of order")
	ErrDuplicate    = errors.New("duplicate section")
)

// FuncType is a function signature from the type section.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Limits describes a memory's page bounds.
type Limits struct {
	Min      uint64
	Max      uint64
	HasMax   bool
	Shared   bool
	Memory64 bool
}

// Import is one entry of the import section. TypeIndex is meaningful for
// function imports, Limits for memory imports.
type Import struct {
	Module    string
	Name      string
	Limits    Limits
	TypeIndex uint32
	Kind      byte
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// CustomSection is a named custom section and its payload.
type CustomSection struct {
	Name string
	Data []byte
}

// Info is the result of scanning an image.
type Info struct {
	Types          []FuncType
	Imports        []Import
	Memories       []Limits
	Exports        []Export
	CustomSections []CustomSection
	Funcs          []uint32 // type index per defined function
}

// CustomSection returns the payload of the first custom section named name.
func (i *Info) CustomSection(name string) ([]byte, bool) {
	for _, cs := range i.CustomSections {
		if cs.Name == name {
			return cs.Data, true
		}
	}
	return nil, false
}

// Export returns the export named name.
func (i *Info) Export(name string) (Export, bool) {
	for _, e := range i.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// FuncSignature resolves the signature of a function by index in the function
// index space (imports first, then defined functions).
func (i *Info) FuncSignature(index uint32) (FuncType, bool) {
	var imported uint32
	for _, imp := range i.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if imported == index {
			return i.typeAt(imp.TypeIndex)
		}
		imported++
	}
	local := index - imported
	if int(local) >= len(i.Funcs) {
		return FuncType{}, false
	}
	return i.typeAt(i.Funcs[local])
}

func (i *Info) typeAt(idx uint32) (FuncType, bool) {
	if int(idx) >= len(i.Types) {
		return FuncType{}, false
	}
	return i.Types[idx], true
}

// Scan walks the section framing of a core module and decodes the sections
// the loader inspects. Function bodies and data are skipped.
func Scan(data []byte) (*Info, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != Version {
		return nil, ErrBadVersion
	}

	info := &Info{}
	r := bytes.NewReader(data[8:])
	last := 0
	seen := make(map[byte]bool)

	for r.Len() > 0 {
		offset := len(data) - r.Len()
		id, _ := r.ReadByte()
		size, err := ReadLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section header at offset %d: %w", offset, eofAsTruncated(err))
		}
		if int(size) > r.Len() {
			return nil, fmt.Errorf("section %d at offset %d: size %d overruns image: %w", id, offset, size, ErrTruncated)
		}
		payload := make([]byte, size)
		_, _ = io.ReadFull(r, payload)

		if id != SectionCustom {
			pos, ok := sectionOrder[id]
			if !ok {
				return nil, fmt.Errorf("unknown section id %d at offset %d", id, offset)
			}
			if seen[id] {
				return nil, fmt.Errorf("section %d at offset %d: %w", id, offset, ErrDuplicate)
			}
			if pos < last {
				return nil, fmt.Errorf("section %d at offset %d: %w", id, offset, ErrSectionOrder)
			}
			seen[id] = true
			last = pos
		}

		if err := info.decodeSection(id, payload); err != nil {
			return nil, fmt.Errorf("section %d at offset %d: %w", id, offset, err)
		}
	}

	return info, nil
}

func (i *Info) decodeSection(id byte, payload []byte) error {
	r := bytes.NewReader(payload)
	var err error
	switch id {
	case SectionCustom:
		err = i.decodeCustom(r)
	case SectionType:
		err = i.decodeTypes(r)
	case SectionImport:
		err = i.decodeImports(r)
	case SectionFunction:
		err = i.decodeFunctions(r)
	case SectionMemory:
		err = i.decodeMemories(r)
	case SectionExport:
		err = i.decodeExports(r)
	default:
		return nil
	}
	if err != nil {
		return eofAsTruncated(err)
	}
	if id != SectionCustom && r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes", r.Len())
	}
	return nil
}

func (i *Info) decodeCustom(r *bytes.Reader) error {
	name, err := readName(r)
	if err != nil {
		return err
	}
	rest := make([]byte, r.Len())
	_, _ = io.ReadFull(r, rest)
	i.CustomSections = append(i.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func (i *Info) decodeTypes(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for n := uint32(0); n < count; n++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("unsupported type form 0x%02x", form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		i.Types = append(i.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func (i *Info) decodeImports(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for n := uint32(0); n < count; n++ {
		var imp Import
		if imp.Module, err = readName(r); err != nil {
			return err
		}
		if imp.Name, err = readName(r); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			if imp.TypeIndex, err = ReadLEB128u(r); err != nil {
				return err
			}
		case KindTable:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if _, err = readLimits(r); err != nil {
				return err
			}
		case KindMemory:
			if imp.Limits, err = readLimits(r); err != nil {
				return err
			}
		case KindGlobal:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if _, err = r.ReadByte(); err != nil {
				return err
			}
		case KindTag:
			if _, err = r.ReadByte(); err != nil {
				return err
			}
			if imp.TypeIndex, err = ReadLEB128u(r); err != nil {
				return err
			}
		default:
			return fmt.Errorf("import %s.%s: unknown kind 0x%02x", imp.Module, imp.Name, imp.Kind)
		}
		i.Imports = append(i.Imports, imp)
	}
	return nil
}

func (i *Info) decodeFunctions(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for n := uint32(0); n < count; n++ {
		idx, err := ReadLEB128u(r)
		if err != nil {
			return err
		}
		i.Funcs = append(i.Funcs, idx)
	}
	return nil
}

func (i *Info) decodeMemories(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for n := uint32(0); n < count; n++ {
		lim, err := readLimits(r)
		if err != nil {
			return err
		}
		i.Memories = append(i.Memories, lim)
	}
	return nil
}

func (i *Info) decodeExports(r *bytes.Reader) error {
	count, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	for n := uint32(0); n < count; n++ {
		var exp Export
		if exp.Name, err = readName(r); err != nil {
			return err
		}
		if exp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if exp.Index, err = ReadLEB128u(r); err != nil {
			return err
		}
		i.Exports = append(i.Exports, exp)
	}
	return nil
}

func readLimits(r *bytes.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&^(LimitsHasMax|LimitsShared|LimitsMemory64) != 0 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	lim := Limits{
		HasMax:   flags&LimitsHasMax != 0,
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}
	if lim.Min, err = ReadLEB128u64(r); err != nil {
		return Limits{}, err
	}
	if lim.HasMax {
		if lim.Max, err = ReadLEB128u64(r); err != nil {
			return Limits{}, err
		}
		if lim.Max < lim.Min {
			return Limits{}, fmt.Errorf("limits max %d below min %d", lim.Max, lim.Min)
		}
	}
	return lim, nil
}

func readValTypes(r *bytes.Reader) ([]ValType, error) {
	count, err := ReadLEB128u(r)
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, ErrTruncated
	}
	types := make([]ValType, count)
	for n := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		types[n] = ValType(b)
	}
	return types, nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", ErrTruncated
	}
	buf := make([]byte, n)
	_, _ = io.ReadFull(r, buf)
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("name is not valid UTF-8")
	}
	return string(buf), nil
}

func eofAsTruncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return err
}
