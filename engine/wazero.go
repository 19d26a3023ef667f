package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-kernel/errors"
)

// WazeroEngine implements the kernel's engine using the wazero runtime.
type WazeroEngine struct {
	runtime wazero.Runtime
	host    api.Module
	mu      sync.Mutex
	closed  bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// CloseOnContextDone aborts guest execution when the call context ends.
	CloseOnContextDone bool
}

// HostFunc is one function exported by the host module.
type HostFunc struct {
	Fn      api.GoModuleFunc
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates a new engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.CloseOnContextDone {
			runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return &WazeroEngine{runtime: runtime}, nil
}

// RegisterHost instantiates the host module under namespace. It can be
// called once per engine and must precede any Instantiate.
func (e *WazeroEngine) RegisterHost(ctx context.Context, namespace string, funcs []HostFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.ErrClosed
	}
	if e.host != nil {
		return errors.Registration(namespace, "*", fmt.Errorf("host module already registered"))
	}

	builder := e.runtime.NewHostModuleBuilder(namespace)
	for _, f := range funcs {
		if f.Fn == nil {
			return errors.Registration(namespace, f.Name, fmt.Errorf("nil handler"))
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.Fn, f.Params, f.Results).
			WithName(f.Name).
			Export(f.Name)
	}

	host, err := builder.Instantiate(ctx)
	if err != nil {
		return errors.Registration(namespace, "*", err)
	}
	e.host = host

	Logger().Debug("host module registered",
		zap.String("namespace", namespace),
		zap.Int("functions", len(funcs)))
	return nil
}

// Compile validates and compiles a guest image. Any rejection is Malformed.
func (e *WazeroEngine) Compile(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Malformed("compile failed", err)
	}
	return &WazeroModule{engine: e, compiled: compiled}, nil
}

// Close releases the runtime and every module instantiated in it.
func (e *WazeroEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.runtime.Close(ctx)
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
}

// Instantiate creates an instance named name. No start function is run;
// the scheduler drives the guest through its entry point.
func (m *WazeroModule) Instantiate(ctx context.Context, name string) (*WazeroInstance, error) {
	modConfig := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions()

	instance, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate failed: %w", err)
	}

	inst := &WazeroInstance{
		module:    m,
		instance:  instance,
		funcCache: make(map[string]api.Function),
	}
	if mem := instance.Memory(); mem != nil {
		inst.memory = &WazeroMemory{mem: mem}
	}
	return inst, nil
}

// ExportedFunctions returns the signature of every exported function.
func (m *WazeroModule) ExportedFunctions() map[string]api.FunctionDefinition {
	return m.compiled.ExportedFunctions()
}

// Close releases the compiled code.
func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// WazeroInstance is a live guest.
type WazeroInstance struct {
	module    *WazeroModule
	instance  api.Module
	memory    *WazeroMemory
	funcCache map[string]api.Function
}

// Name returns the instance's module name.
func (i *WazeroInstance) Name() string {
	if i.instance == nil {
		return ""
	}
	return i.instance.Name()
}

// Memory returns the guest's exported memory, or nil if it has none.
func (i *WazeroInstance) Memory() *WazeroMemory {
	return i.memory
}

// MemorySize returns the size of linear memory in bytes.
func (i *WazeroInstance) MemorySize() uint32 {
	if i.memory == nil {
		return 0
	}
	return i.memory.Size()
}

// Call invokes an exported function.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.instance == nil || i.instance.IsClosed() {
		return nil, errors.ErrClosed
	}
	fn, ok := i.funcCache[name]
	if !ok {
		fn = i.instance.ExportedFunction(name)
		if fn == nil {
			return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
		}
		i.funcCache[name] = fn
	}
	return fn.Call(ctx, params...)
}

// Closed reports whether the instance has been closed, including by exit.
func (i *WazeroInstance) Closed() bool {
	return i.instance == nil || i.instance.IsClosed()
}

// Close closes the instance and the compiled module it came from.
func (i *WazeroInstance) Close(ctx context.Context) error {
	var err error
	if i.instance != nil {
		err = multierr.Append(err, i.instance.Close(ctx))
		i.instance = nil
	}
	if i.module != nil {
		err = multierr.Append(err, i.module.Close(ctx))
		i.module = nil
	}
	i.funcCache = nil
	i.memory = nil
	return err
}

// Exit terminates the calling guest with code. It must be called from a
// host function and does not return.
func Exit(ctx context.Context, mod api.Module, code uint32) {
	_ = mod.CloseWithExitCode(ctx, code)
	panic(sys.NewExitError(code))
}

// ExitCode reports whether err is a guest exit and its code. Watchdog
// aborts are not exits.
func ExitCode(err error) (uint32, bool) {
	var exit *sys.ExitError
	if !stderrors.As(err, &exit) || Aborted(err) {
		return 0, false
	}
	return exit.ExitCode(), true
}

// Aborted reports whether err is the engine closing a guest because its call
// context was cancelled or timed out.
func Aborted(err error) bool {
	var exit *sys.ExitError
	if !stderrors.As(err, &exit) {
		return false
	}
	switch exit.ExitCode() {
	case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
		return true
	}
	return false
}
