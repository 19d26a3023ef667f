package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap/zaptest"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/abi"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/engine"
	kerrors "github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/wasm"
)

var (
	i32 = []wasm.ValType{wasm.ValI32}
	i64 = []wasm.ValType{wasm.ValI64}
)

func testConfig() Config {
	return Config{
		MaxInstances:       4,
		MemoryCeilingPages: 4,
		MemoryBudgetPages:  8,
	}
}

type fixture struct {
	loader   *Loader
	registry *capability.Registry
	next     wasmkernel.InstanceID
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{MemoryLimitPages: cfg.MemoryCeilingPages})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close(ctx) })

	syscalls, err := abi.Syscalls()
	if err != nil {
		t.Fatalf("syscalls: %v", err)
	}
	var funcs []engine.HostFunc
	for _, s := range syscalls {
		funcs = append(funcs, engine.HostFunc{
			Name:    s.Name,
			Params:  s.Params,
			Results: s.Results,
			Fn:      func(context.Context, api.Module, []uint64) {},
		})
	}
	if err := eng.RegisterHost(ctx, abi.Namespace, funcs); err != nil {
		t.Fatalf("register: %v", err)
	}

	reg := capability.NewRegistry(capability.WithExtentBudget(4096))
	return &fixture{
		loader:   New(eng, reg, cfg, zaptest.NewLogger(t)),
		registry: reg,
	}
}

func (f *fixture) load(img *image.Image) (*Loaded, error) {
	f.next++
	return f.loader.Load(context.Background(), img, f.next)
}

// guest builds a minimal image importing timer-now with an embedded manifest.
func guest(manifest string) *image.Image {
	b := wasm.NewBuilder()
	now := b.Import(abi.Namespace, abi.TimerNow, i32, i64)
	b.Memory(1, 1)
	b.Func(abi.EntryPoint, nil, nil, nil, wasm.NewCode().I32Const(0).Call(now).Drop().End())
	if manifest != "" {
		b.Custom(abi.ManifestSection, []byte(manifest))
	}
	return image.New("guest", b.Bytes())
}

func TestLoad_ManifestExactGrants(t *testing.T) {
	f := newFixture(t, testConfig())

	ld, err := f.load(guest("timer r\ndisplay rw\nextent buf rw size=64\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []capability.Kind{capability.KindTimer, capability.KindDisplay, capability.KindExtent}
	if ld.Table.Len() != len(want) {
		t.Fatalf("table holds %d capabilities, want %d", ld.Table.Len(), len(want))
	}
	for i, k := range want {
		c, ok := ld.Table.Get(uint32(i))
		if !ok || c.Kind != k {
			t.Errorf("slot %d: got %+v, want %v", i, c, k)
		}
	}
	if c, _ := ld.Table.Get(1); c.Rights != capability.RightRead|capability.RightWrite {
		t.Errorf("display rights: got %v", c.Rights)
	}
	if f.loader.Live() != 1 || ld.Pages != 1 {
		t.Errorf("live %d pages %d", f.loader.Live(), ld.Pages)
	}
}

func TestLoad_SidecarManifest(t *testing.T) {
	f := newFixture(t, testConfig())

	ld, err := f.load(guest("").WithManifest([]byte("input r\n")))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c, ok := ld.Table.Get(0); !ok || c.Kind != capability.KindInput {
		t.Errorf("slot 0: %+v", c)
	}
}

func TestLoad_EmbeddedManifestWins(t *testing.T) {
	f := newFixture(t, testConfig())

	ld, err := f.load(guest("timer r\n").WithManifest([]byte("display rw\n")))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c, _ := ld.Table.Get(0); c.Kind != capability.KindTimer || ld.Table.Len() != 1 {
		t.Errorf("embedded manifest should take precedence: %+v", c)
	}
}

func TestLoad_NoManifest(t *testing.T) {
	f := newFixture(t, testConfig())
	ld, err := f.load(guest(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ld.Table.Len() != 0 {
		t.Errorf("table should be empty, has %d", ld.Table.Len())
	}
}

func TestLoad_Malformed(t *testing.T) {
	valid := guest("timer r\n").Bytes()

	tests := []struct {
		name string
		img  *image.Image
	}{
		{"empty", image.New("empty", nil)},
		{"bad magic", image.New("elf", []byte{0x7f, 'E', 'L', 'F', 1, 0, 0, 0})},
		{"truncated", image.New("short", valid[:len(valid)/2])},
		{"bad manifest", guest("teleporter rw\n")},
		{"bad sidecar", guest("").WithManifest([]byte("timer\n"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			_, err := f.load(tt.img)
			if !errors.Is(err, kerrors.ErrMalformed) {
				t.Fatalf("got %v, want Malformed", err)
			}
			if f.loader.Live() != 0 || f.loader.PagesReserved() != 0 {
				t.Error("failed load must not reserve anything")
			}
		})
	}
}

func TestLoad_ImportMismatch(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *wasm.Builder)
	}{
		{"foreign namespace", func(b *wasm.Builder) {
			b.Import("wasi_snapshot_preview1", "fd_write", []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32}, i32)
		}},
		{"unknown syscall", func(b *wasm.Builder) {
			b.Import(abi.Namespace, "spawn", i32, i32)
		}},
		{"wrong signature", func(b *wasm.Builder) {
			b.Import(abi.Namespace, abi.TimerNow, i32, i32)
		}},
		{"memory import", func(b *wasm.Builder) {
			b.ImportMemory(abi.Namespace, "memory", 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			b := wasm.NewBuilder()
			tt.build(b)
			b.Func(abi.EntryPoint, nil, nil, nil, wasm.NewCode().End())

			_, err := f.load(image.New("bad", b.Bytes()))
			if !errors.Is(err, kerrors.ErrSignatureMismatch) {
				t.Fatalf("got %v, want SignatureMismatch", err)
			}
			var mismatch *kerrors.ImportMismatchError
			if !errors.As(err, &mismatch) || len(mismatch.Imports) != 1 {
				t.Errorf("expected one listed import, got %v", err)
			}
		})
	}
}

func TestLoad_EntryPoint(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *wasm.Builder)
	}{
		{"missing", func(b *wasm.Builder) {
			b.Func("main", nil, nil, nil, wasm.NewCode().End())
		}},
		{"takes params", func(b *wasm.Builder) {
			b.Func(abi.EntryPoint, i32, nil, nil, wasm.NewCode().End())
		}},
		{"returns value", func(b *wasm.Builder) {
			b.Func(abi.EntryPoint, nil, i32, nil, wasm.NewCode().I32Const(0).End())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			b := wasm.NewBuilder()
			tt.build(b)
			_, err := f.load(image.New("entry", b.Bytes()))
			if !errors.Is(err, kerrors.ErrSignatureMismatch) {
				t.Fatalf("got %v, want SignatureMismatch", err)
			}
		})
	}
}

func TestLoad_MemoryLimits(t *testing.T) {
	memGuest := func(min, max uint32) *image.Image {
		b := wasm.NewBuilder()
		b.Memory(min, max)
		b.Func(abi.EntryPoint, nil, nil, nil, wasm.NewCode().End())
		return image.New("mem", b.Bytes())
	}

	t.Run("min over ceiling", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if _, err := f.load(memGuest(5, 0)); !errors.Is(err, kerrors.ErrResourceExhausted) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("max over ceiling", func(t *testing.T) {
		f := newFixture(t, testConfig())
		if _, err := f.load(memGuest(1, 64)); !errors.Is(err, kerrors.ErrResourceExhausted) {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("budget", func(t *testing.T) {
		f := newFixture(t, testConfig())
		// No declared max reserves the full ceiling of 4 pages.
		for i := 0; i < 2; i++ {
			if _, err := f.load(memGuest(1, 0)); err != nil {
				t.Fatalf("load %d: %v", i, err)
			}
		}
		if _, err := f.load(memGuest(1, 1)); !errors.Is(err, kerrors.ErrResourceExhausted) {
			t.Fatalf("got %v", err)
		}
		if f.loader.PagesReserved() != 8 {
			t.Errorf("reserved: got %d", f.loader.PagesReserved())
		}
	})

	t.Run("instance slots", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxInstances = 1
		f := newFixture(t, cfg)
		if _, err := f.load(guest("")); err != nil {
			t.Fatalf("first: %v", err)
		}
		if _, err := f.load(guest("")); !errors.Is(err, kerrors.ErrResourceExhausted) {
			t.Fatalf("got %v", err)
		}
	})
}

func TestLoad_TooManyCapabilities(t *testing.T) {
	f := newFixture(t, testConfig())
	manifest := ""
	for i := 0; i <= capability.Slots; i++ {
		manifest += "timer r\n"
	}
	if _, err := f.load(guest(manifest)); !errors.Is(err, kerrors.ErrResourceExhausted) {
		t.Fatalf("got %v", err)
	}
}

func TestLoad_ConflictRejectWholesale(t *testing.T) {
	f := newFixture(t, testConfig())

	if _, err := f.load(guest("display rw\n")); err != nil {
		t.Fatalf("first: %v", err)
	}

	_, err := f.load(guest("timer r\ndisplay rw\n"))
	if !errors.Is(err, kerrors.ErrResourceExhausted) {
		t.Fatalf("got %v, want ResourceExhausted", err)
	}
	if f.loader.Live() != 1 {
		t.Errorf("live: got %d, want 1", f.loader.Live())
	}
	timer, _ := f.registry.Singleton(capability.KindTimer)
	if f.registry.Holders(timer) != 0 {
		t.Error("timer grant from the rejected load must be rolled back")
	}
}

func TestLoad_ConflictGrantNonConflicting(t *testing.T) {
	cfg := testConfig()
	cfg.Policy = capability.GrantNonConflicting
	f := newFixture(t, cfg)

	first, err := f.load(guest("display rw\n"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := f.load(guest("timer r\ndisplay rw\ninput r\n"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Table.Len() != 3 {
		t.Fatalf("granted %d, want 3", second.Table.Len())
	}
	if c, ok := second.Table.Get(1); !ok || c.Rights != capability.RightRead {
		t.Errorf("conflicting entry keeps read only: %+v", c)
	}
	if c, _ := second.Table.Get(2); c.Kind != capability.KindInput {
		t.Error("later entries keep their manifest index")
	}
	if len(second.Skipped) != 1 || second.Skipped[0].Kind != capability.KindDisplay {
		t.Errorf("skipped: %+v", second.Skipped)
	}

	display, _ := f.registry.Singleton(capability.KindDisplay)
	if f.registry.Writer(display) != first.ID {
		t.Error("first holder keeps the write claim")
	}
}

func TestLoad_GrantFailureRollsBack(t *testing.T) {
	f := newFixture(t, testConfig())

	_, err := f.load(guest("extent a rw size=1024\nextent b rw size=8192\n"))
	if !errors.Is(err, kerrors.ErrResourceExhausted) {
		t.Fatalf("got %v", err)
	}
	if used, _ := f.registry.ExtentUsage(); used != 0 {
		t.Errorf("extent a should be released, %d bytes still used", used)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	ld, err := f.load(guest("display rw\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.loader.Release(ctx, ld); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := f.loader.Release(ctx, ld); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if f.loader.Live() != 0 || f.loader.PagesReserved() != 0 {
		t.Errorf("live %d pages %d after release", f.loader.Live(), f.loader.PagesReserved())
	}

	if _, err := f.load(guest("display rw\n")); err != nil {
		t.Fatalf("write claim should be free after release: %v", err)
	}
}
