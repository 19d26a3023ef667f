package abi

import (
	"regexp"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-kernel/errors"
)

const (
	// Namespace is the only import module a guest may use.
	Namespace = "kernel"
	// EntryPoint is the export the scheduler calls each quantum.
	EntryPoint = "run"
	// MemoryExport is the name the bridge resolves guest memory by.
	MemoryExport = "memory"
	// ManifestSection is the custom section carrying an embedded manifest.
	ManifestSection = "kernel.manifest"
)

// Syscall names.
const (
	TimerNow       = "timer-now"
	TimerSleep     = "timer-sleep"
	SurfacePresent = "surface-present"
	SurfaceRead    = "surface-read"
	InputPoll      = "input-poll"
	InputWait      = "input-wait"
	ExtentRead     = "extent-read"
	ExtentWrite    = "extent-write"
	CapInfo        = "cap-info"
	CapDelegate    = "cap-delegate"
	CapDrop        = "cap-drop"
	IfaceRegister  = "interface-register"
	MessageEmit    = "message-emit"
	MessageNext    = "message-next"
	MessageAnswer  = "message-answer"
	MessageCancel  = "message-cancel"
	Exit           = "exit"
)

// Declaration is the syscall interface in WIT function syntax.
const Declaration = `
interface kernel {
	timer-now: func(cap: u32) -> s64;
	timer-sleep: func(cap: u32, ticks: u32) -> s32;
	surface-present: func(cap: u32, ptr: u32, width: u32, height: u32) -> s32;
	surface-read: func(cap: u32, ptr: u32, len: u32) -> s32;
	input-poll: func(cap: u32, ptr: u32, len: u32) -> s32;
	input-wait: func(cap: u32) -> s32;
	extent-read: func(cap: u32, offset: u32, ptr: u32, len: u32) -> s32;
	extent-write: func(cap: u32, offset: u32, ptr: u32, len: u32) -> s32;
	cap-info: func(cap: u32, ptr: u32) -> s32;
	cap-delegate: func(cap: u32, target: u32, rights: u32) -> s32;
	cap-drop: func(cap: u32) -> s32;
	interface-register: func(cap: u32) -> s32;
	message-emit: func(cap: u32, ptr: u32, len: u32, needs-answer: u32, id-out: u32) -> s32;
	message-next: func(cap: u32, ptr: u32, len: u32, block: u32) -> s32;
	message-answer: func(cap: u32, id: u64, ptr: u32, len: u32) -> s32;
	message-cancel: func(cap: u32, id: u64) -> s32;
	exit: func(code: u32);
}
`

// Signature is a syscall lowered to core wasm value types.
type Signature struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Matches reports whether a core function type equals the signature.
func (s Signature) Matches(params, results []api.ValueType) bool {
	return valueTypesEqual(s.Params, params) && valueTypesEqual(s.Results, results)
}

var (
	syscallsOnce sync.Once
	syscalls     []Signature
	syscallsErr  error
)

// Syscalls returns every syscall in declaration order.
func Syscalls() ([]Signature, error) {
	syscallsOnce.Do(func() {
		syscalls, syscallsErr = parseDeclaration(Declaration)
	})
	return syscalls, syscallsErr
}

// Lookup returns the signature of a named syscall.
func Lookup(name string) (Signature, bool) {
	all, err := Syscalls()
	if err != nil {
		return Signature{}, false
	}
	for _, s := range all {
		if s.Name == name {
			return s, true
		}
	}
	return Signature{}, false
}

var funcPattern = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+))?`)

func parseDeclaration(text string) ([]Signature, error) {
	var out []Signature
	for _, match := range funcPattern.FindAllStringSubmatch(text, -1) {
		sig := Signature{Name: match[1]}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range strings.Split(params, ",") {
				typ := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typ = p[idx+1:]
				}
				vt, err := lower(typ)
				if err != nil {
					return nil, errors.ParseFailed("syscall "+sig.Name+" param", err)
				}
				sig.Params = append(sig.Params, vt)
			}
		}

		if result := strings.TrimSpace(match[3]); result != "" {
			vt, err := lower(result)
			if err != nil {
				return nil, errors.ParseFailed("syscall "+sig.Name+" result", err)
			}
			sig.Results = []api.ValueType{vt}
		}

		out = append(out, sig)
	}
	if len(out) == 0 {
		return nil, errors.InvalidInput(errors.PhaseParse, "no syscalls declared")
	}
	return out, nil
}

// lower maps a WIT primitive to its flat core type. Only scalars cross the
// syscall boundary; buffers travel as (ptr, len) pairs.
func lower(s string) (api.ValueType, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseParse, "non-scalar syscall type "+s)
	}
}

func valueTypesEqual(a, b []api.ValueType) bool {
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
