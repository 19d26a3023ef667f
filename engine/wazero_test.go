package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	kerrors "github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/wasm"
)

var i32 = []wasm.ValType{wasm.ValI32}

func newEngine(t *testing.T, cfg *Config) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngineWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngineWithConfig failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

// hostFuncs returns a "test" namespace with note(i32) and quit(i32).
func hostFuncs(notes *[]uint32) []HostFunc {
	return []HostFunc{
		{
			Name:   "note",
			Params: []api.ValueType{api.ValueTypeI32},
			Fn: func(_ context.Context, _ api.Module, stack []uint64) {
				*notes = append(*notes, api.DecodeU32(stack[0]))
			},
		},
		{
			Name:   "quit",
			Params: []api.ValueType{api.ValueTypeI32},
			Fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				Exit(ctx, mod, api.DecodeU32(stack[0]))
			},
		},
	}
}

func TestNewWazeroEngineWithConfig(t *testing.T) {
	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 16}, "1MB limit"},
		{&Config{CloseOnContextDone: true}, "watchdog"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestWazeroEngine_CompileMalformed(t *testing.T) {
	e := newEngine(t, nil)
	_, err := e.Compile(context.Background(), []byte{0x00, 'a', 's', 'm', 1, 0, 0, 0, 0x03, 0x05})
	if !errors.Is(err, kerrors.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestWazeroEngine_CompileOverLimit(t *testing.T) {
	e := newEngine(t, &Config{MemoryLimitPages: 2})
	b := wasm.NewBuilder()
	b.Memory(4, 4)
	if _, err := e.Compile(context.Background(), b.Bytes()); err == nil {
		t.Fatal("memory above the runtime limit should not compile")
	}
}

func TestWazeroEngine_RegisterHostOnce(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	var notes []uint32
	if err := e.RegisterHost(ctx, "test", hostFuncs(&notes)); err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}
	if err := e.RegisterHost(ctx, "test", hostFuncs(&notes)); err == nil {
		t.Fatal("second registration should fail")
	}
}

func TestWazeroInstance_CallHost(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	var notes []uint32
	if err := e.RegisterHost(ctx, "test", hostFuncs(&notes)); err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}

	b := wasm.NewBuilder()
	note := b.Import("test", "note", i32, nil)
	b.Memory(1, 1)
	b.Func("run", nil, nil, nil, wasm.NewCode().I32Const(7).Call(note).I32Const(9).Call(note).End())

	mod, err := e.Compile(ctx, b.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := mod.ExportedFunctions()["run"]; !ok {
		t.Fatal("run should be exported")
	}
	inst, err := mod.Instantiate(ctx, "guest-1")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	if inst.Name() != "guest-1" {
		t.Errorf("Name: got %q", inst.Name())
	}
	if inst.MemorySize() != wasm.PageSize {
		t.Errorf("MemorySize: got %d", inst.MemorySize())
	}

	if _, err := inst.Call(ctx, "run"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(notes) != 2 || notes[0] != 7 || notes[1] != 9 {
		t.Errorf("notes: got %v", notes)
	}

	if _, err := inst.Call(ctx, "missing"); !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("missing export: got %v", err)
	}
}

func TestWazeroInstance_Exit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)
	var notes []uint32
	_ = e.RegisterHost(ctx, "test", hostFuncs(&notes))

	b := wasm.NewBuilder()
	quit := b.Import("test", "quit", i32, nil)
	b.Func("run", nil, nil, nil, wasm.NewCode().I32Const(3).Call(quit).Unreachable().End())

	mod, err := e.Compile(ctx, b.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx, "exiter")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	_, err = inst.Call(ctx, "run")
	code, ok := ExitCode(err)
	if !ok || code != 3 {
		t.Fatalf("ExitCode: got %d, %v (err %v)", code, ok, err)
	}
	if !inst.Closed() {
		t.Error("instance should be closed after exit")
	}
	if _, err := inst.Call(ctx, "run"); !errors.Is(err, kerrors.ErrClosed) {
		t.Errorf("call after exit: got %v", err)
	}
}

func TestWazeroInstance_Trap(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	b := wasm.NewBuilder()
	b.Func("run", nil, nil, nil, wasm.NewCode().Unreachable().End())

	mod, _ := e.Compile(ctx, b.Bytes())
	inst, err := mod.Instantiate(ctx, "trapper")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	_, err = inst.Call(ctx, "run")
	if err == nil {
		t.Fatal("expected trap")
	}
	if _, ok := ExitCode(err); ok {
		t.Error("a trap is not an exit")
	}
}

func TestWazeroModule_StartNotRun(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	b := wasm.NewBuilder()
	start := b.Func("", nil, nil, nil, wasm.NewCode().Unreachable().End())
	b.Func("run", nil, nil, nil, wasm.NewCode().End())
	b.Start(start)

	mod, err := e.Compile(ctx, b.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst, err := mod.Instantiate(ctx, "starter")
	if err != nil {
		t.Fatalf("Instantiate should skip the start function: %v", err)
	}
	_ = inst.Close(ctx)
}

func TestWazeroEngine_Watchdog(t *testing.T) {
	e := newEngine(t, &Config{CloseOnContextDone: true})

	b := wasm.NewBuilder()
	b.Func("run", nil, nil, nil, wasm.NewCode().Loop().Br(0).End().End())

	mod, _ := e.Compile(context.Background(), b.Bytes())
	inst, err := mod.Instantiate(context.Background(), "spinner")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = inst.Call(ctx, "run")
	if !Aborted(err) {
		t.Fatalf("runaway guest should be aborted, got %v", err)
	}
	if _, ok := ExitCode(err); ok {
		t.Error("an abort is not an exit")
	}
	if !inst.Closed() {
		t.Error("aborted instance should be closed")
	}
}

func TestWazeroMemory_Bounds(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, nil)

	b := wasm.NewBuilder()
	b.Memory(1, 1)
	b.Func("run", nil, nil, nil, wasm.NewCode().End())

	mod, _ := e.Compile(ctx, b.Bytes())
	inst, err := mod.Instantiate(ctx, "mem")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)
	mem := inst.Memory()

	if err := mem.WriteU32(16, 0xCAFEBABE); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if v, _ := mem.ReadU32(16); v != 0xCAFEBABE {
		t.Errorf("ReadU32: got %#x", v)
	}
	if err := mem.WriteU64(wasm.PageSize-8, 1); err != nil {
		t.Errorf("WriteU64 at last word: %v", err)
	}

	var oob *kerrors.Error
	if _, err := mem.Read(wasm.PageSize-2, 4); !errors.As(err, &oob) || oob.Kind != kerrors.KindOutOfBounds {
		t.Errorf("Read past end: got %v", err)
	}
	if err := mem.Write(wasm.PageSize, []byte{1}); err == nil {
		t.Error("Write past end should fail")
	}
	if _, err := mem.ReadU64(wasm.PageSize - 4); err == nil {
		t.Error("ReadU64 straddling the end should fail")
	}
}
