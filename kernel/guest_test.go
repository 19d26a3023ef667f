package kernel

import (
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-kernel/abi"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/wasm"
)

// resultBase is where a guest stores the result of its i-th syscall,
// at resultBase + 8*i.
const resultBase = 1024

// op is one step of a test guest's run function.
type op struct {
	name string
	args []uint32
}

func sys(name string, args ...uint32) op { return op{name: name, args: args} }

var (
	trap = op{name: "unreachable"}
	spin = op{name: "spin"}
)

// guestDef describes a test guest module.
type guestDef struct {
	name     string
	manifest string
	data     []byte
	ops      []op
}

func valTypes(in []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(in))
	for i, v := range in {
		out[i] = wasm.ValType(v)
	}
	return out
}

// build assembles a guest whose run performs ops in order. The manifest is
// embedded as a custom section.
func (g guestDef) build(t *testing.T) *image.Image {
	t.Helper()
	b := wasm.NewBuilder()

	imports := make(map[string]uint32)
	for _, o := range g.ops {
		if _, done := imports[o.name]; done {
			continue
		}
		sig, ok := abi.Lookup(o.name)
		if !ok {
			continue
		}
		imports[o.name] = b.Import(abi.Namespace, o.name, valTypes(sig.Params), valTypes(sig.Results))
	}
	b.Memory(1, 1)
	if len(g.data) > 0 {
		b.Data(0, g.data)
	}

	code := wasm.NewCode()
	for i, o := range g.ops {
		switch o.name {
		case trap.name:
			code.Unreachable()
			continue
		case spin.name:
			code.Loop().Br(0).End()
			continue
		}
		sig, ok := abi.Lookup(o.name)
		if !ok {
			t.Fatalf("unknown syscall %s", o.name)
		}
		if len(sig.Results) > 0 {
			code.I32Const(int32(resultBase + 8*i))
		}
		for j, a := range o.args {
			if sig.Params[j] == api.ValueTypeI64 {
				code.I64Const(int64(a))
			} else {
				code.I32Const(int32(a))
			}
		}
		code.Call(imports[o.name])
		switch {
		case len(sig.Results) == 0:
		case sig.Results[0] == api.ValueTypeI64:
			code.I64Store(0)
		default:
			code.I32Store(0)
		}
	}
	b.Func(abi.EntryPoint, nil, nil, nil, code.End())
	if g.manifest != "" {
		b.Custom(abi.ManifestSection, []byte(g.manifest))
	}

	name := g.name
	if name == "" {
		name = "guest"
	}
	return image.New(name, b.Bytes())
}
