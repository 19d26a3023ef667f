package image

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/errors"
)

// Entry is one requested capability. Its position in the manifest is the
// slot index the guest will use.
type Entry struct {
	Name   string
	Size   int
	Line   int
	Kind   capability.Kind
	Rights capability.Rights
}

func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Name != "" {
		b.WriteByte(' ')
		b.WriteString(e.Name)
	}
	b.WriteByte(' ')
	b.WriteString(strings.ReplaceAll(e.Rights.String(), "-", ""))
	if e.Size > 0 {
		fmt.Fprintf(&b, " size=%d", e.Size)
	}
	return b.String()
}

// Resource names the requested resource, e.g. "display" or "extent
// scratch". Singletons ignore the optional name.
func (e Entry) Resource() string {
	if !e.Kind.Named() {
		return e.Kind.String()
	}
	return e.Kind.String() + " " + e.Name
}

// Manifest is the ordered capability request list of an image.
type Manifest struct {
	Entries []Entry
}

// String renders the manifest in canonical form.
func (m *Manifest) String() string {
	var b strings.Builder
	for _, e := range m.Entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseManifest parses manifest text. Any syntax error is Malformed and
// names the offending line.
func ParseManifest(text []byte) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(text))
	line := 0
	writers := make(map[string]int)
	for sc.Scan() {
		line++
		raw := sc.Text()
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		e, err := parseEntry(fields)
		if err != nil {
			return nil, errors.Malformed(fmt.Sprintf("manifest line %d", line), err)
		}
		e.Line = line
		if e.Rights.Has(capability.RightWrite) {
			key := e.Resource()
			if prev, dup := writers[key]; dup {
				return nil, errors.Malformed(fmt.Sprintf("manifest line %d", line),
					fmt.Errorf("write on %s already requested on line %d", e.Resource(), prev))
			}
			writers[key] = line
		}
		m.Entries = append(m.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Malformed("manifest", err)
	}
	return m, nil
}

func parseEntry(fields []string) (Entry, error) {
	var e Entry
	kind, ok := capability.ParseKind(fields[0])
	if !ok {
		return e, fmt.Errorf("unknown kind %q", fields[0])
	}
	e.Kind = kind

	var rest []string
	for _, f := range fields[1:] {
		v, isSize := strings.CutPrefix(f, "size=")
		if !isSize {
			rest = append(rest, f)
			continue
		}
		if kind != capability.KindExtent {
			return e, fmt.Errorf("size= only applies to extents")
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return e, fmt.Errorf("invalid size %q", v)
		}
		e.Size = n
	}

	switch len(rest) {
	case 1:
		e.Rights, ok = capability.ParseRights(rest[0])
	case 2:
		e.Name = rest[0]
		e.Rights, ok = capability.ParseRights(rest[1])
	default:
		return e, fmt.Errorf("expected <kind> [name] <rights>, got %d fields", len(fields))
	}
	if !ok {
		return e, fmt.Errorf("invalid rights %q", rest[len(rest)-1])
	}
	if kind.Named() && e.Name == "" {
		return e, fmt.Errorf("%s requires a name", kind)
	}
	return e, nil
}
