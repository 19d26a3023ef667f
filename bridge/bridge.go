package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/abi"
	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/engine"
	"github.com/wippyai/wasm-kernel/errors"
	"github.com/wippyai/wasm-kernel/ipc"
)

// WaitKind names what a blocked instance waits for.
type WaitKind uint8

const (
	WaitTimer WaitKind = iota + 1
	WaitInput
	WaitMessage
)

func (k WaitKind) String() string {
	switch k {
	case WaitTimer:
		return "timer"
	case WaitInput:
		return "input"
	case WaitMessage:
		return "message"
	default:
		return "none"
	}
}

// Wait is a pending block registered by a syscall.
type Wait struct {
	Until bal.Tick
	Kind  WaitKind
}

// Supervisor is the kernel state the bridge acts on.
type Supervisor interface {
	// Table returns the capability table of a live, non-halted instance.
	Table(id wasmkernel.InstanceID) (*capability.Table, bool)
	// Block records that id must not run again until w is satisfied.
	Block(id wasmkernel.InstanceID, w Wait)
	// PendingInput returns the number of queued events for id.
	PendingInput(id wasmkernel.InstanceID) int
	// DrainInput removes up to max queued events for id.
	DrainInput(id wasmkernel.InstanceID, max int) []bal.Event
}

// Bridge binds syscall handlers to a registry, a backend and a supervisor.
type Bridge struct {
	registry *capability.Registry
	backend  bal.Backend
	sup      Supervisor
	broker   *ipc.Broker
	logger   *zap.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBroker routes message syscalls through br instead of a private broker.
func WithBroker(br *ipc.Broker) Option {
	return func(b *Bridge) {
		b.broker = br
	}
}

// New creates a bridge.
func New(reg *capability.Registry, backend bal.Backend, sup Supervisor, logger *zap.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		registry: reg,
		backend:  backend,
		sup:      sup,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.broker == nil {
		b.broker = ipc.NewBroker(ipc.WithLogger(logger.Named("ipc")))
	}
	return b
}

// Broker returns the message broker behind the message syscalls.
func (b *Bridge) Broker() *ipc.Broker {
	return b.broker
}

// call is one in-flight syscall.
type call struct {
	ctx   context.Context
	mod   api.Module
	mem   *engine.WazeroMemory
	table *capability.Table
	name  string
	stack []uint64
	id    wasmkernel.InstanceID
}

func (c *call) u32(i int) uint32 {
	return api.DecodeU32(c.stack[i])
}

func (c *call) u64(i int) uint64 {
	return c.stack[i]
}

type handler func(b *Bridge, c *call) int64

var handlers = map[string]handler{
	abi.TimerNow:       (*Bridge).timerNow,
	abi.TimerSleep:     (*Bridge).timerSleep,
	abi.SurfacePresent: (*Bridge).surfacePresent,
	abi.SurfaceRead:    (*Bridge).surfaceRead,
	abi.InputPoll:      (*Bridge).inputPoll,
	abi.InputWait:      (*Bridge).inputWait,
	abi.ExtentRead:     (*Bridge).extentRead,
	abi.ExtentWrite:    (*Bridge).extentWrite,
	abi.CapInfo:        (*Bridge).capInfo,
	abi.CapDelegate:    (*Bridge).capDelegate,
	abi.CapDrop:        (*Bridge).capDrop,
	abi.IfaceRegister:  (*Bridge).ifaceRegister,
	abi.MessageEmit:    (*Bridge).messageEmit,
	abi.MessageNext:    (*Bridge).messageNext,
	abi.MessageAnswer:  (*Bridge).messageAnswer,
	abi.MessageCancel:  (*Bridge).messageCancel,
	abi.Exit:           (*Bridge).exit,
}

// HostFuncs returns one host function per declared syscall.
func (b *Bridge) HostFuncs() ([]engine.HostFunc, error) {
	sigs, err := abi.Syscalls()
	if err != nil {
		return nil, err
	}
	funcs := make([]engine.HostFunc, 0, len(sigs))
	for _, sig := range sigs {
		h, ok := handlers[sig.Name]
		if !ok {
			return nil, errors.Registration(abi.Namespace, sig.Name, fmt.Errorf("no handler"))
		}
		funcs = append(funcs, engine.HostFunc{
			Name:    sig.Name,
			Params:  sig.Params,
			Results: sig.Results,
			Fn:      b.wrap(sig, h),
		})
	}
	return funcs, nil
}

func (b *Bridge) wrap(sig abi.Signature, h handler) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		c := &call{ctx: ctx, mod: mod, stack: stack, name: sig.Name}

		var v int64
		if id, ok := CallerFrom(ctx); !ok {
			v = int64(abi.NoSuchInstance)
		} else if table, ok := b.sup.Table(id); !ok {
			v = int64(abi.NoSuchInstance)
		} else {
			c.id, c.table = id, table
			c.mem = engine.NewMemory(mod.Memory())
			v = h(b, c)
		}

		if len(sig.Results) == 0 {
			return
		}
		if sig.Results[0] == api.ValueTypeI64 {
			stack[0] = uint64(v)
		} else {
			stack[0] = api.EncodeI32(int32(v))
		}
	}
}

// resolve looks up slot index and checks kind and rights. kind 0 matches any.
func (b *Bridge) resolve(c *call, index uint32, kind capability.Kind, need capability.Rights) (capability.Capability, bool) {
	cp, ok := c.table.Get(index)
	if ok && (kind == 0 || cp.Kind == kind) && cp.Rights.Has(need) {
		return cp, true
	}
	b.logger.Debug("syscall denied",
		zap.Uint32("instance", uint32(c.id)),
		zap.String("syscall", c.name),
		zap.Uint32("slot", index),
		zap.Stringer("kind", kind),
		zap.Stringer("need", need))
	return capability.Capability{}, false
}

func denied() int64 { return int64(abi.PermissionDenied) }

func invalid() int64 { return int64(abi.InvalidArgument) }

func status(s abi.Status) int64 { return int64(s) }

func (b *Bridge) timerNow(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindTimer, capability.RightRead); !ok {
		return denied()
	}
	return int64(b.backend.Now())
}

func (b *Bridge) timerSleep(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindTimer, capability.RightRead); !ok {
		return denied()
	}
	ticks := c.u32(1)
	if ticks == 0 {
		return status(abi.OK)
	}
	b.sup.Block(c.id, Wait{Kind: WaitTimer, Until: b.backend.Now() + bal.Tick(ticks)})
	return status(abi.WouldBlock)
}

func (b *Bridge) surfacePresent(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindDisplay, capability.RightWrite); !ok {
		return denied()
	}
	ptr, w, h := c.u32(1), c.u32(2), c.u32(3)
	if c.mem == nil || w > 1<<15 || h > 1<<15 {
		return invalid()
	}
	size := bal.FrameSize(int(w), int(h))
	if size < 0 {
		return invalid()
	}
	view, err := c.mem.Read(ptr, uint32(size))
	if err != nil {
		return invalid()
	}
	if !b.backend.Present(append([]byte(nil), view...), int(w), int(h)) {
		return status(abi.Dropped)
	}
	return status(abi.OK)
}

func (b *Bridge) surfaceRead(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindDisplay, capability.RightRead); !ok {
		return denied()
	}
	reader, ok := b.backend.(bal.FrameReader)
	if !ok {
		return status(abi.NotSupported)
	}
	pixels, _, _, ok := reader.LastFrame()
	if !ok {
		return status(abi.NotSupported)
	}
	if c.mem == nil {
		return invalid()
	}
	ptr, n := c.u32(1), c.u32(2)
	if int(n) > len(pixels) {
		n = uint32(len(pixels))
	}
	if err := c.mem.Write(ptr, pixels[:n]); err != nil {
		return invalid()
	}
	return int64(n)
}

func (b *Bridge) inputPoll(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindInput, capability.RightRead); !ok {
		return denied()
	}
	ptr, n := c.u32(1), c.u32(2)
	max := int(n / EventSize)
	if c.mem == nil || max == 0 {
		return invalid()
	}
	if _, err := c.mem.Read(ptr, n); err != nil {
		return invalid()
	}
	events := b.sup.DrainInput(c.id, max)
	packed, err := PackEvents(events)
	if err != nil {
		b.logger.Error("pack input events", zap.Error(err))
		return invalid()
	}
	if err := c.mem.Write(ptr, packed); err != nil {
		return invalid()
	}
	return int64(len(events))
}

func (b *Bridge) inputWait(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindInput, capability.RightRead); !ok {
		return denied()
	}
	if b.sup.PendingInput(c.id) > 0 {
		return status(abi.OK)
	}
	b.sup.Block(c.id, Wait{Kind: WaitInput})
	return status(abi.WouldBlock)
}

func (b *Bridge) extentRead(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), capability.KindExtent, capability.RightRead)
	if !ok {
		return denied()
	}
	offset, ptr, n := c.u32(1), c.u32(2), c.u32(3)
	if c.mem == nil {
		return invalid()
	}
	if _, err := c.mem.Read(ptr, n); err != nil {
		return invalid()
	}
	buf := make([]byte, n)
	if err := b.registry.ReadExtent(cp.Handle, offset, buf); err != nil {
		return invalid()
	}
	if err := c.mem.Write(ptr, buf); err != nil {
		return invalid()
	}
	return status(abi.OK)
}

func (b *Bridge) extentWrite(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), capability.KindExtent, capability.RightWrite)
	if !ok {
		return denied()
	}
	offset, ptr, n := c.u32(1), c.u32(2), c.u32(3)
	if c.mem == nil {
		return invalid()
	}
	view, err := c.mem.Read(ptr, n)
	if err != nil {
		return invalid()
	}
	if err := b.registry.WriteExtent(cp.Handle, offset, view); err != nil {
		return invalid()
	}
	return status(abi.OK)
}

func (b *Bridge) capInfo(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), 0, 0)
	if !ok {
		return denied()
	}
	if c.mem == nil {
		return invalid()
	}
	packed, err := PackCapInfo(cp, b.registry.Size(cp.Handle))
	if err != nil {
		return invalid()
	}
	if err := c.mem.Write(c.u32(1), packed); err != nil {
		return invalid()
	}
	return status(abi.OK)
}

func (b *Bridge) capDelegate(c *call) int64 {
	index := c.u32(0)
	cp, ok := b.resolve(c, index, 0, capability.RightDelegate)
	if !ok {
		return denied()
	}
	target := wasmkernel.InstanceID(c.u32(1))
	rights := capability.Rights(c.u32(2))
	if target == c.id || rights == 0 || !rights.Subset(capability.RightsAll) {
		return invalid()
	}
	targetTable, ok := b.sup.Table(target)
	if !ok {
		return status(abi.NoSuchInstance)
	}
	if targetTable.Len() == capability.Slots {
		return status(abi.Exhausted)
	}

	src, dst, err := b.registry.Delegate(c.id, target, cp, rights)
	if err != nil {
		b.logger.Debug("delegation refused",
			zap.Uint32("instance", uint32(c.id)),
			zap.Uint32("target", uint32(target)),
			zap.Error(err))
		return denied()
	}
	slot, err := targetTable.Insert(dst)
	if err != nil {
		b.registry.Reclaim(c.id, target, dst)
		return status(abi.Exhausted)
	}
	c.table.Replace(index, src)
	if cp.Kind == capability.KindInterface && rights.Has(capability.RightWrite) {
		b.broker.Unregister(cp.Handle, c.id)
	}
	return int64(slot)
}

func (b *Bridge) capDrop(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), 0, 0); !ok {
		return denied()
	}
	cp, _ := c.table.Remove(c.u32(0))
	if cp.Kind == capability.KindInterface && cp.Rights.Has(capability.RightWrite) {
		b.broker.Unregister(cp.Handle, c.id)
	}
	b.registry.Release(c.id, cp)
	return status(abi.OK)
}

func (b *Bridge) ifaceRegister(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), capability.KindInterface, capability.RightWrite)
	if !ok {
		return denied()
	}
	if err := b.broker.Register(cp.Handle, c.id); err != nil {
		return invalid()
	}
	return status(abi.OK)
}

func (b *Bridge) messageEmit(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), capability.KindInterface, capability.RightRead)
	if !ok {
		return denied()
	}
	ptr, n, needsAnswer, idOut := c.u32(1), c.u32(2), c.u32(3) != 0, c.u32(4)
	if c.mem == nil {
		return invalid()
	}
	data, err := c.mem.Read(ptr, n)
	if err != nil {
		return invalid()
	}
	if needsAnswer {
		if _, err := c.mem.Read(idOut, 8); err != nil {
			return invalid()
		}
	}
	id, err := b.broker.Emit(c.id, cp.Handle, data, needsAnswer)
	if err != nil {
		return messageStatus(err)
	}
	if needsAnswer {
		_ = c.mem.WriteU64(idOut, id)
	}
	return status(abi.OK)
}

// messageNext copies the oldest mailbox entry out as header plus payload
// and returns its total size. A buffer too small for it leaves the entry
// queued and the size is still returned. 0 means the mailbox is empty.
func (b *Bridge) messageNext(c *call) int64 {
	if _, ok := b.resolve(c, c.u32(0), capability.KindInterface, 0); !ok {
		return denied()
	}
	ptr, n, block := c.u32(1), c.u32(2), c.u32(3) != 0
	if c.mem == nil {
		return invalid()
	}
	m, ok := b.broker.Peek(c.id)
	if !ok {
		if !block {
			return 0
		}
		b.sup.Block(c.id, Wait{Kind: WaitMessage})
		return status(abi.WouldBlock)
	}
	total := MessageHeaderSize + len(m.Data)
	if int(n) < total {
		return int64(total)
	}
	packed, err := PackMessage(m, slotOf(c.table, m.Interface))
	if err != nil {
		b.logger.Error("pack message", zap.Error(err))
		return invalid()
	}
	if err := c.mem.Write(ptr, packed); err != nil {
		return invalid()
	}
	b.broker.Pop(c.id)
	return int64(total)
}

func (b *Bridge) messageAnswer(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), capability.KindInterface, capability.RightWrite)
	if !ok {
		return denied()
	}
	id, ptr, n := c.u64(1), c.u32(2), c.u32(3)
	if c.mem == nil {
		return invalid()
	}
	data, err := c.mem.Read(ptr, n)
	if err != nil {
		return invalid()
	}
	if err := b.broker.Answer(c.id, cp.Handle, id, data); err != nil {
		return messageStatus(err)
	}
	return status(abi.OK)
}

func (b *Bridge) messageCancel(c *call) int64 {
	cp, ok := b.resolve(c, c.u32(0), capability.KindInterface, capability.RightRead)
	if !ok {
		return denied()
	}
	if err := b.broker.Cancel(c.id, cp.Handle, c.u64(1)); err != nil {
		return messageStatus(err)
	}
	return status(abi.OK)
}

func messageStatus(err error) int64 {
	switch {
	case errors.Is(err, ipc.ErrNoProvider):
		return status(abi.NoSuchInstance)
	case errors.Is(err, ipc.ErrQueueFull):
		return status(abi.Exhausted)
	default:
		return invalid()
	}
}

// slotOf returns the slot in t that holds handle h.
func slotOf(t *capability.Table, h capability.Handle) uint32 {
	slot := NoSlot
	t.Each(func(index uint32, c capability.Capability) bool {
		if c.Handle == h {
			slot = index
			return false
		}
		return true
	})
	return slot
}

func (b *Bridge) exit(c *call) int64 {
	b.logger.Debug("instance exit",
		zap.Uint32("instance", uint32(c.id)),
		zap.Uint32("code", c.u32(0)))
	engine.Exit(c.ctx, c.mod, c.u32(0))
	return 0
}
