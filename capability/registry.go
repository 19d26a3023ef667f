package capability

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/errors"
)

// DefaultExtentSize is used when a manifest extent entry omits size=.
const DefaultExtentSize = 4096

// Registry is the arena of resources capabilities refer to.
type Registry struct {
	logger     *zap.Logger
	entries    []entry
	freeList   []Handle
	extents    map[string]Handle
	interfaces map[string]Handle
	observers  []Observer
	budget     int
	used       int
	mu         sync.Mutex
	closed     bool
}

type entry struct {
	name    string
	data    []byte
	holders map[wasmkernel.InstanceID]int
	writer  wasmkernel.InstanceID
	kind    Kind
	valid   bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the audit logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithExtentBudget caps the total bytes of live extents.
func WithExtentBudget(bytes int) RegistryOption {
	return func(r *Registry) {
		r.budget = bytes
	}
}

// NewRegistry creates a registry holding the timer, display and input singletons.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:     zap.NewNop(),
		entries:    make([]entry, 0, 16),
		extents:    make(map[string]Handle),
		interfaces: make(map[string]Handle),
		budget:     1 << 20,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, k := range []Kind{KindTimer, KindDisplay, KindInput} {
		r.create(k, k.String(), nil)
	}
	return r
}

func (r *Registry) create(kind Kind, name string, data []byte) Handle {
	e := entry{
		kind:    kind,
		name:    name,
		data:    data,
		holders: make(map[wasmkernel.InstanceID]int),
		valid:   true,
	}
	if len(r.freeList) > 0 {
		h := r.freeList[len(r.freeList)-1]
		r.freeList = r.freeList[:len(r.freeList)-1]
		r.entries[h-1] = e
		return h
	}
	r.entries = append(r.entries, e)
	return Handle(len(r.entries))
}

func (r *Registry) lookup(h Handle) *entry {
	if h == 0 || int(h) > len(r.entries) {
		return nil
	}
	e := &r.entries[h-1]
	if !e.valid {
		return nil
	}
	return e
}

// Singleton returns the handle of a backend-bound resource.
func (r *Registry) Singleton(kind Kind) (Handle, bool) {
	switch kind {
	case KindTimer, KindDisplay, KindInput:
	default:
		return 0, false
	}
	return Handle(kind), true
}

// Grant mints a capability for holder. Extents are resolved by name and
// created from the byte budget on first use.
func (r *Registry) Grant(holder wasmkernel.InstanceID, kind Kind, name string, rights Rights, size int) (Capability, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Capability{}, errors.ErrClosed
	}

	var h Handle
	switch kind {
	case KindExtent:
		var err error
		if h, err = r.extent(name, size); err != nil {
			r.mu.Unlock()
			return Capability{}, err
		}
	case KindInterface:
		h = r.iface(name)
	default:
		var ok bool
		if h, ok = r.Singleton(kind); !ok {
			r.mu.Unlock()
			return Capability{}, errors.InvalidInput(errors.PhaseLoad, "unknown capability kind")
		}
	}

	e := r.lookup(h)
	// A holder may own one write capability per resource, so releasing it
	// always frees the claim.
	if rights.Has(RightWrite) && e.writer != 0 {
		err := errors.Conflict(e.name, uint32(e.writer))
		r.reapLocked(h)
		r.mu.Unlock()
		return Capability{}, err
	}
	if rights.Has(RightWrite) {
		e.writer = holder
	}
	e.holders[holder]++
	ev := Event{Type: EventMinted, Handle: h, Kind: kind, Name: e.name, To: holder, Rights: rights}
	r.mu.Unlock()

	r.notify(ev)
	return Capability{Handle: h, Kind: kind, Rights: rights}, nil
}

func (r *Registry) extent(name string, size int) (Handle, error) {
	if size <= 0 {
		size = DefaultExtentSize
	}
	if h, ok := r.extents[name]; ok {
		if e := r.lookup(h); size > len(e.data) {
			return 0, errors.InvalidInput(errors.PhaseLoad,
				fmt.Sprintf("extent %q exists with %d bytes, %d requested", name, len(e.data), size))
		}
		return h, nil
	}
	if r.used+size > r.budget {
		return 0, errors.ResourceExhausted(fmt.Sprintf("extent budget: %d of %d bytes used, %d requested", r.used, r.budget, size))
	}
	r.used += size
	h := r.create(KindExtent, name, make([]byte, size))
	r.extents[name] = h
	return h, nil
}

func (r *Registry) iface(name string) Handle {
	if h, ok := r.interfaces[name]; ok {
		return h
	}
	h := r.create(KindInterface, name, nil)
	r.interfaces[name] = h
	return h
}

// reapLocked frees a named resource nobody holds.
func (r *Registry) reapLocked(h Handle) {
	e := r.lookup(h)
	if e == nil || !e.kind.Named() || len(e.holders) > 0 {
		return
	}
	switch e.kind {
	case KindExtent:
		r.used -= len(e.data)
		delete(r.extents, e.name)
	case KindInterface:
		delete(r.interfaces, e.name)
	}
	*e = entry{}
	r.freeList = append(r.freeList, h)
}

// Release returns holder's reference on c.
func (r *Registry) Release(holder wasmkernel.InstanceID, c Capability) {
	r.mu.Lock()
	e := r.lookup(c.Handle)
	if e == nil || e.holders[holder] == 0 {
		r.mu.Unlock()
		return
	}
	if e.holders[holder]--; e.holders[holder] == 0 {
		delete(e.holders, holder)
	}
	if c.Rights.Has(RightWrite) && e.writer == holder {
		e.writer = 0
	}
	ev := Event{Type: EventReleased, Handle: c.Handle, Kind: e.kind, Name: e.name, From: holder, Rights: c.Rights}
	r.reapLocked(c.Handle)
	r.mu.Unlock()

	r.notify(ev)
}

// Delegate derives a capability for to from from's capability c. The
// requested rights must be a subset of c's and c must carry RightDelegate.
// Write is transferred: the returned source capability no longer has it.
func (r *Registry) Delegate(from, to wasmkernel.InstanceID, c Capability, rights Rights) (src, dst Capability, err error) {
	if !c.Rights.Has(RightDelegate) {
		return c, Capability{}, errors.PermissionDenied(uint32(from), "capability lacks delegate right")
	}
	if rights == 0 || !rights.Subset(c.Rights) {
		return c, Capability{}, errors.PermissionDenied(uint32(from), "delegated rights exceed source rights")
	}

	r.mu.Lock()
	e := r.lookup(c.Handle)
	if e == nil || e.holders[from] == 0 {
		r.mu.Unlock()
		return c, Capability{}, errors.NotFound(errors.PhaseRuntime, "capability", c.Handle)
	}
	if rights.Has(RightWrite) && e.writer != from {
		r.mu.Unlock()
		return c, Capability{}, errors.PermissionDenied(uint32(from), "write claim not held")
	}
	src = c
	if rights.Has(RightWrite) {
		e.writer = to
		src.Rights &^= RightWrite
	}
	e.holders[to]++
	ev := Event{Type: EventDelegated, Handle: c.Handle, Kind: e.kind, Name: e.name, From: from, To: to, Rights: rights}
	r.mu.Unlock()

	r.notify(ev)
	return src, Capability{Handle: c.Handle, Kind: c.Kind, Rights: rights}, nil
}

// Reclaim undoes a Delegate whose result could not be installed: to's
// reference goes away and a transferred write claim returns to from.
func (r *Registry) Reclaim(from, to wasmkernel.InstanceID, dst Capability) {
	r.mu.Lock()
	e := r.lookup(dst.Handle)
	if e == nil || e.holders[to] == 0 {
		r.mu.Unlock()
		return
	}
	if e.holders[to]--; e.holders[to] == 0 {
		delete(e.holders, to)
	}
	if dst.Rights.Has(RightWrite) && e.writer == to {
		e.writer = from
	}
	ev := Event{Type: EventReleased, Handle: dst.Handle, Kind: e.kind, Name: e.name, From: to, To: from, Rights: dst.Rights}
	r.mu.Unlock()

	r.notify(ev)
}

// Writer returns the instance holding write rights on h, or 0.
func (r *Registry) Writer(h Handle) wasmkernel.InstanceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookup(h); e != nil {
		return e.writer
	}
	return 0
}

// Holders returns the number of instances referencing h.
func (r *Registry) Holders(h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookup(h); e != nil {
		return len(e.holders)
	}
	return 0
}

// Name returns the resource name for h.
func (r *Registry) Name(h Handle) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookup(h); e != nil {
		return e.name
	}
	return ""
}

// Size returns an extent's byte length, or 0 for other kinds.
func (r *Registry) Size(h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookup(h); e != nil {
		return len(e.data)
	}
	return 0
}

// ExtentUsage reports bytes allocated to live extents and the budget.
func (r *Registry) ExtentUsage() (used, budget int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used, r.budget
}

// ReadExtent copies len(dst) bytes at offset out of an extent.
func (r *Registry) ReadExtent(h Handle, offset uint32, dst []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookup(h)
	if e == nil || e.kind != KindExtent {
		return errors.NotFound(errors.PhaseRuntime, "extent", h)
	}
	if uint64(offset)+uint64(len(dst)) > uint64(len(e.data)) {
		return errors.OutOfBounds(errors.PhaseSyscall, uint64(offset), uint64(len(dst)), uint64(len(e.data)))
	}
	copy(dst, e.data[offset:])
	return nil
}

// WriteExtent copies src into an extent at offset.
func (r *Registry) WriteExtent(h Handle, offset uint32, src []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookup(h)
	if e == nil || e.kind != KindExtent {
		return errors.NotFound(errors.PhaseRuntime, "extent", h)
	}
	if uint64(offset)+uint64(len(src)) > uint64(len(e.data)) {
		return errors.OutOfBounds(errors.PhaseSyscall, uint64(offset), uint64(len(src)), uint64(len(e.data)))
	}
	copy(e.data[offset:], src)
	return nil
}

// Subscribe adds an observer for lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Close drops every resource. Later grants fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.entries = nil
	r.freeList = nil
	r.extents = nil
	r.interfaces = nil
	r.used = 0
	return nil
}

func (r *Registry) notify(e Event) {
	r.logger.Info("capability "+e.Type.String(),
		zap.Stringer("kind", e.Kind),
		zap.String("resource", e.Name),
		zap.Uint32("handle", uint32(e.Handle)),
		zap.Uint32("from", uint32(e.From)),
		zap.Uint32("to", uint32(e.To)),
		zap.Stringer("rights", e.Rights),
	)

	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.OnCapabilityEvent(e)
	}
}
