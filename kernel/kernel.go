package kernel

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/abi"
	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/bridge"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/engine"
	"github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/image"
	"github.com/wippyai/wasm-kernel/ipc"
	"github.com/wippyai/wasm-kernel/loader"
	"github.com/wippyai/wasm-kernel/scheduler"
)

// Kernel is one kernel context.
type Kernel struct {
	backend   bal.Backend
	logger    *zap.Logger
	engine    *engine.WazeroEngine
	registry  *capability.Registry
	bridge    *bridge.Bridge
	broker    *ipc.Broker
	loader    *loader.Loader
	sched     *scheduler.Scheduler
	instances map[wasmkernel.InstanceID]*instance
	reaped    map[wasmkernel.InstanceID]struct{}
	order     []wasmkernel.InstanceID
	cfg       Config
	nextID    wasmkernel.InstanceID
	stopped   bool
	closed    bool
}

var _ bridge.Supervisor = (*Kernel)(nil)

// New creates a kernel bound to backend and registers the syscall host module.
func New(ctx context.Context, backend bal.Backend, cfg Config) (*Kernel, error) {
	if backend == nil {
		return nil, errors.InvalidInput(errors.PhaseBoot, "nil backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
		MemoryLimitPages:   cfg.MemoryCeilingPages,
		CloseOnContextDone: cfg.QuantumDeadline > 0,
	})
	if err != nil {
		return nil, err
	}

	regOpts := []capability.RegistryOption{capability.WithLogger(logger.Named("capability"))}
	if cfg.ExtentBudget > 0 {
		regOpts = append(regOpts, capability.WithExtentBudget(cfg.ExtentBudget))
	}

	k := &Kernel{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		engine:    eng,
		registry:  capability.NewRegistry(regOpts...),
		sched:     scheduler.New(logger.Named("scheduler")),
		instances: make(map[wasmkernel.InstanceID]*instance),
		reaped:    make(map[wasmkernel.InstanceID]struct{}),
	}
	k.broker = ipc.NewBroker(
		ipc.WithLogger(logger.Named("ipc")),
		ipc.WithQueueDepth(cfg.MessageQueueDepth),
		ipc.WithMaxMessage(cfg.MaxMessageSize))
	k.bridge = bridge.New(k.registry, backend, k, logger.Named("bridge"), bridge.WithBroker(k.broker))

	funcs, err := k.bridge.HostFuncs()
	if err == nil {
		err = eng.RegisterHost(ctx, abi.Namespace, funcs)
	}
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}

	k.loader = loader.New(eng, k.registry, loader.Config{
		MaxInstances:       cfg.MaxInstances,
		MemoryCeilingPages: cfg.MemoryCeilingPages,
		MemoryBudgetPages:  cfg.MemoryBudgetPages,
		Policy:             cfg.Policy,
	}, logger.Named("loader"))

	logger.Info("kernel initialized",
		zap.Int("max_instances", cfg.MaxInstances),
		zap.Uint32("memory_ceiling_pages", cfg.MemoryCeilingPages),
		zap.Uint32("memory_budget_pages", cfg.MemoryBudgetPages),
		zap.Stringer("policy", cfg.Policy))
	return k, nil
}

// Load validates img, instantiates it and schedules it as runnable.
// On failure nothing is registered.
func (k *Kernel) Load(ctx context.Context, img *image.Image) (wasmkernel.InstanceID, error) {
	if k.closed {
		return 0, errors.ErrClosed
	}
	k.nextID++
	id := k.nextID

	ld, err := k.loader.Load(ctx, img, id)
	if err != nil {
		k.logger.Debug("load rejected", zap.String("image", img.Name()), zap.Error(err))
		return 0, err
	}
	if err := k.sched.Add(id, k.cfg.QuantumBudget); err != nil {
		_ = k.loader.Release(ctx, ld)
		return 0, err
	}

	k.instances[id] = &instance{id: id, name: img.Name(), loaded: ld}
	k.order = append(k.order, id)
	return id, nil
}

// Unload halts an instance and reclaims its resources. Unloading a halted
// instance, reaped or not, is a no-op.
func (k *Kernel) Unload(ctx context.Context, id wasmkernel.InstanceID) error {
	inst, ok := k.instances[id]
	if !ok {
		if _, gone := k.reaped[id]; gone {
			return nil
		}
		return errors.NotFound(errors.PhaseRuntime, "instance", id)
	}
	if inst.halted {
		return nil
	}
	return k.halt(ctx, inst, "unloaded")
}

// Reap forgets halted instances and returns how many were removed.
func (k *Kernel) Reap() int {
	n := 0
	kept := k.order[:0]
	for _, id := range k.order {
		if inst := k.instances[id]; inst.halted {
			k.sched.Remove(id)
			delete(k.instances, id)
			k.reaped[id] = struct{}{}
			n++
			continue
		}
		kept = append(kept, id)
	}
	k.order = kept
	return n
}

// Step runs at most one quantum. It reports whether an instance ran.
func (k *Kernel) Step(ctx context.Context) (bool, error) {
	if k.closed {
		return false, errors.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	k.pollInput()
	if k.stopped {
		return false, nil
	}
	k.wake(k.backend.Now())

	e, ok := k.sched.Next()
	if !ok {
		return false, nil
	}
	k.quantum(ctx, k.instances[e.ID])
	return true, nil
}

// Run steps until a quit event, ctx ends, or nothing is left to run.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		ran, err := k.Step(ctx)
		if err != nil {
			return err
		}
		if k.stopped {
			return nil
		}
		if ran {
			continue
		}
		if k.sched.Len() == 0 && k.sched.Count(scheduler.StateBlocked) == 0 {
			k.logger.Info("no runnable instances")
			return nil
		}
		if k.cfg.IdleInterval > 0 {
			t := time.NewTimer(k.cfg.IdleInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// Stop makes Run return after the current quantum.
func (k *Kernel) Stop() {
	k.stopped = true
}

// Stopped reports whether a quit event or Stop ended the run loop.
func (k *Kernel) Stopped() bool {
	return k.stopped
}

func (k *Kernel) quantum(ctx context.Context, inst *instance) {
	callCtx := bridge.WithCaller(ctx, inst.id)
	cancel := context.CancelFunc(func() {})
	if k.cfg.QuantumDeadline > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, k.cfg.QuantumDeadline)
	}

	start := k.backend.Now()
	_, err := inst.loaded.Instance.Call(callCtx, abi.EntryPoint)
	cancel()
	if end := k.backend.Now(); end > start {
		k.sched.Charge(inst.id, end-start)
	}

	switch {
	case err != nil:
		k.fault(ctx, inst, err)
	case inst.wait != nil:
		k.sched.Block(inst.id)
	default:
		k.sched.Requeue(inst.id)
	}
}

func (k *Kernel) fault(ctx context.Context, inst *instance, err error) {
	reason := "trapped"
	if code, ok := engine.ExitCode(err); ok {
		inst.exited, inst.code = true, code
		reason = "exited"
	} else {
		inst.cause = errors.Trap(uint32(inst.id), err)
		if engine.Aborted(err) {
			reason = "aborted"
		}
		k.logger.Warn("instance "+reason,
			zap.Uint32("instance", uint32(inst.id)),
			zap.String("image", inst.name),
			zap.Error(err))
	}
	if rerr := k.halt(ctx, inst, reason); rerr != nil {
		k.logger.Warn("release failed", zap.Uint32("instance", uint32(inst.id)), zap.Error(rerr))
	}
}

// halt moves inst to halted, drops its wait, input and messages and returns
// its capabilities, pages and slot. Requests it still owed an answer fail.
func (k *Kernel) halt(ctx context.Context, inst *instance, reason string) error {
	inst.halted = true
	inst.wait = nil
	inst.input = nil
	k.sched.Halt(inst.id)
	k.broker.Drop(inst.id)
	err := k.loader.Release(ctx, inst.loaded)

	fields := []zap.Field{
		zap.Uint32("instance", uint32(inst.id)),
		zap.String("image", inst.name),
		zap.String("reason", reason),
	}
	if inst.exited {
		fields = append(fields, zap.Uint32("code", inst.code))
	}
	k.logger.Info("instance halted", fields...)
	return err
}

func (k *Kernel) pollInput() {
	for ev := range k.backend.PollInput() {
		if ev.Kind == bal.EventQuit {
			if !k.stopped {
				k.logger.Info("quit requested")
			}
			k.stopped = true
			continue
		}
		for _, id := range k.order {
			if inst := k.instances[id]; inst.subscribed() {
				inst.enqueue(ev, k.cfg.InputQueueDepth)
			}
		}
	}
}

func (k *Kernel) wake(now bal.Tick) {
	for _, id := range k.order {
		inst := k.instances[id]
		if inst.halted || inst.wait == nil {
			continue
		}
		ready := false
		switch inst.wait.Kind {
		case bridge.WaitTimer:
			ready = inst.wait.Until <= now
		case bridge.WaitInput:
			ready = len(inst.input) > 0
		case bridge.WaitMessage:
			ready = k.broker.Pending(id) > 0
		}
		if ready {
			inst.wait = nil
			k.sched.Wake(id)
		}
	}
}

// Table implements bridge.Supervisor. Halted instances have no table.
func (k *Kernel) Table(id wasmkernel.InstanceID) (*capability.Table, bool) {
	inst, ok := k.instances[id]
	if !ok || inst.halted {
		return nil, false
	}
	return inst.loaded.Table, true
}

// Block implements bridge.Supervisor.
func (k *Kernel) Block(id wasmkernel.InstanceID, w bridge.Wait) {
	if inst, ok := k.instances[id]; ok && !inst.halted {
		inst.wait = &w
	}
}

// PendingInput implements bridge.Supervisor.
func (k *Kernel) PendingInput(id wasmkernel.InstanceID) int {
	if inst, ok := k.instances[id]; ok {
		return len(inst.input)
	}
	return 0
}

// DrainInput implements bridge.Supervisor.
func (k *Kernel) DrainInput(id wasmkernel.InstanceID, max int) []bal.Event {
	inst, ok := k.instances[id]
	if !ok || max <= 0 || len(inst.input) == 0 {
		return nil
	}
	n := min(max, len(inst.input))
	out := append([]bal.Event(nil), inst.input[:n]...)
	inst.input = append(inst.input[:0], inst.input[n:]...)
	return out
}

// State returns an instance's scheduling state.
func (k *Kernel) State(id wasmkernel.InstanceID) (scheduler.State, bool) {
	return k.sched.State(id)
}

// RunQueue returns the IDs waiting to run, in order.
func (k *Kernel) RunQueue() []wasmkernel.InstanceID {
	return k.sched.Queue()
}

// Snapshot describes one instance.
func (k *Kernel) Snapshot(id wasmkernel.InstanceID) (Snapshot, bool) {
	inst, ok := k.instances[id]
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{
		ID:           id,
		Name:         inst.name,
		Err:          inst.cause,
		Exited:       inst.exited,
		ExitCode:     inst.code,
		PendingInput: len(inst.input),
		InputDropped: inst.dropped,
	}
	s.PendingMessages = k.broker.Pending(id)
	if e, ok := k.sched.Entry(id); ok {
		s.State, s.Quanta, s.Overruns = e.State, e.Quanta, e.Overruns
	}
	if inst.wait != nil {
		s.Wait = inst.wait.Kind
	}
	if !inst.halted {
		s.Capabilities = inst.loaded.Table.Len()
		s.Pages = inst.loaded.Pages
	}
	return s, true
}

// Snapshots describes every known instance in load order.
func (k *Kernel) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(k.order))
	for _, id := range k.order {
		if s, ok := k.Snapshot(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Live returns the number of loaded, non-halted instances.
func (k *Kernel) Live() int {
	return k.loader.Live()
}

// Registry exposes the capability registry, mainly for audit subscription.
func (k *Kernel) Registry() *capability.Registry {
	return k.registry
}

// Broker exposes the message broker shared by every instance.
func (k *Kernel) Broker() *ipc.Broker {
	return k.broker
}

// Backend returns the backend the kernel drives.
func (k *Kernel) Backend() bal.Backend {
	return k.backend
}

// Close halts every instance and releases the registry and engine.
func (k *Kernel) Close(ctx context.Context) error {
	if k.closed {
		return nil
	}
	var err error
	for _, id := range k.order {
		if inst := k.instances[id]; !inst.halted {
			err = multierr.Append(err, k.halt(ctx, inst, "shutdown"))
		}
	}
	k.closed = true
	err = multierr.Append(err, k.registry.Close())
	err = multierr.Append(err, k.engine.Close(ctx))
	return err
}
