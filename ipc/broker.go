package ipc

import (
	stderrors "errors"

	"go.uber.org/zap"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/capability"
	"github.com/wippyai/wasm-kernel/errors"
)

// Defaults used when no option overrides them.
const (
	DefaultQueueDepth = 32
	DefaultMaxMessage = 4096
)

// Causes carried by broker errors.
var (
	ErrServed         = stderrors.New("interface already has a provider")
	ErrNoProvider     = stderrors.New("interface has no provider")
	ErrQueueFull      = stderrors.New("mailbox full")
	ErrTooLarge       = stderrors.New("message too large")
	ErrUnknownMessage = stderrors.New("no answer pending for message")
)

// Kind classifies a delivered message.
type Kind uint8

const (
	// KindRequest is a message emitted to an interface the receiver serves.
	KindRequest Kind = iota + 1
	// KindAnswer is a provider's reply to an earlier request.
	KindAnswer
	// KindFailed reports that a request will never be answered.
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindAnswer:
		return "answer"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one mailbox entry.
type Message struct {
	Data []byte
	// ID identifies the request. Answers and failures repeat the ID of the
	// request they refer to.
	ID          uint64
	Interface   capability.Handle
	From        wasmkernel.InstanceID
	Kind        Kind
	NeedsAnswer bool
}

type pending struct {
	iface    capability.Handle
	emitter  wasmkernel.InstanceID
	provider wasmkernel.InstanceID
}

// Broker routes messages between instances.
type Broker struct {
	logger    *zap.Logger
	providers map[capability.Handle]wasmkernel.InstanceID
	mailboxes map[wasmkernel.InstanceID][]Message
	pending   map[uint64]pending
	nextID    uint64
	depth     int
	maxSize   int
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithQueueDepth bounds every mailbox.
func WithQueueDepth(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.depth = n
		}
	}
}

// WithMaxMessage bounds the payload of a single message.
func WithMaxMessage(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		logger:    zap.NewNop(),
		providers: make(map[capability.Handle]wasmkernel.InstanceID),
		mailboxes: make(map[wasmkernel.InstanceID][]Message),
		pending:   make(map[uint64]pending),
		depth:     DefaultQueueDepth,
		maxSize:   DefaultMaxMessage,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxMessage returns the largest accepted payload.
func (b *Broker) MaxMessage() int {
	return b.maxSize
}

// Register makes id the provider of iface. An interface has at most one
// provider; registering twice fails even for the same instance.
func (b *Broker) Register(iface capability.Handle, id wasmkernel.InstanceID) error {
	if cur, ok := b.providers[iface]; ok {
		return errors.New(errors.PhaseSyscall, errors.KindInvalidInput).
			Instance(uint32(id)).Cause(ErrServed).Detail("served by instance %d", cur).Build()
	}
	b.providers[iface] = id
	b.logger.Info("interface registered",
		zap.Uint32("interface", uint32(iface)),
		zap.Uint32("instance", uint32(id)))
	return nil
}

// Provider returns the instance serving iface.
func (b *Broker) Provider(iface capability.Handle) (wasmkernel.InstanceID, bool) {
	id, ok := b.providers[iface]
	return id, ok
}

// Unregister withdraws id as provider of iface. Requests to iface still
// waiting for an answer from id are failed and unread ones are discarded.
func (b *Broker) Unregister(iface capability.Handle, id wasmkernel.InstanceID) {
	if b.providers[iface] != id {
		return
	}
	delete(b.providers, iface)
	b.discard(id, func(m Message) bool { return m.Kind == KindRequest && m.Interface == iface })
	b.fail(func(p pending) bool { return p.provider == id && p.iface == iface })
	b.logger.Info("interface unregistered",
		zap.Uint32("interface", uint32(iface)),
		zap.Uint32("instance", uint32(id)))
}

// Emit queues data for the provider of iface and returns the request ID.
func (b *Broker) Emit(from wasmkernel.InstanceID, iface capability.Handle, data []byte, needsAnswer bool) (uint64, error) {
	provider, ok := b.providers[iface]
	if !ok {
		return 0, errors.New(errors.PhaseSyscall, errors.KindNotFound).
			Instance(uint32(from)).Cause(ErrNoProvider).Build()
	}
	if len(data) > b.maxSize {
		return 0, b.tooLarge(from, len(data))
	}
	if len(b.mailboxes[provider]) >= b.depth {
		return 0, b.full(provider)
	}

	b.nextID++
	id := b.nextID
	b.mailboxes[provider] = append(b.mailboxes[provider], Message{
		Kind:        KindRequest,
		ID:          id,
		From:        from,
		Interface:   iface,
		NeedsAnswer: needsAnswer,
		Data:        append([]byte(nil), data...),
	})
	if needsAnswer {
		b.pending[id] = pending{iface: iface, emitter: from, provider: provider}
	}
	return id, nil
}

// Answer sends data back to the emitter of request id. Only the provider
// the request was delivered to may answer, and only through the same
// interface. A full emitter mailbox leaves the answer pending.
func (b *Broker) Answer(from wasmkernel.InstanceID, iface capability.Handle, id uint64, data []byte) error {
	p, ok := b.pending[id]
	if !ok || p.provider != from || p.iface != iface {
		return errors.New(errors.PhaseSyscall, errors.KindInvalidInput).
			Instance(uint32(from)).Cause(ErrUnknownMessage).Detail("message %d", id).Build()
	}
	if len(data) > b.maxSize {
		return b.tooLarge(from, len(data))
	}
	if len(b.mailboxes[p.emitter]) >= b.depth {
		return b.full(p.emitter)
	}
	delete(b.pending, id)
	b.mailboxes[p.emitter] = append(b.mailboxes[p.emitter], Message{
		Kind:      KindAnswer,
		ID:        id,
		From:      from,
		Interface: iface,
		Data:      append([]byte(nil), data...),
	})
	return nil
}

// Cancel abandons the answer to request id. A request the provider has not
// read yet is withdrawn as well.
func (b *Broker) Cancel(from wasmkernel.InstanceID, iface capability.Handle, id uint64) error {
	p, ok := b.pending[id]
	if !ok || p.emitter != from || p.iface != iface {
		return errors.New(errors.PhaseSyscall, errors.KindInvalidInput).
			Instance(uint32(from)).Cause(ErrUnknownMessage).Detail("message %d", id).Build()
	}
	delete(b.pending, id)
	b.discard(p.provider, func(m Message) bool { return m.Kind == KindRequest && m.ID == id })
	return nil
}

// Peek returns the oldest message in id's mailbox without removing it.
func (b *Broker) Peek(id wasmkernel.InstanceID) (Message, bool) {
	q := b.mailboxes[id]
	if len(q) == 0 {
		return Message{}, false
	}
	return q[0], true
}

// Pop removes the oldest message in id's mailbox.
func (b *Broker) Pop(id wasmkernel.InstanceID) (Message, bool) {
	q := b.mailboxes[id]
	if len(q) == 0 {
		return Message{}, false
	}
	m := q[0]
	if len(q) == 1 {
		delete(b.mailboxes, id)
	} else {
		b.mailboxes[id] = q[1:]
	}
	return m, true
}

// Pending returns the number of messages waiting in id's mailbox.
func (b *Broker) Pending(id wasmkernel.InstanceID) int {
	return len(b.mailboxes[id])
}

// Awaiting returns the number of requests emitted by id that still wait
// for an answer.
func (b *Broker) Awaiting(id wasmkernel.InstanceID) int {
	n := 0
	for _, p := range b.pending {
		if p.emitter == id {
			n++
		}
	}
	return n
}

// Drop forgets everything id owns: its registrations, its mailbox and the
// answers it was waiting for. Requests it was expected to answer fail.
func (b *Broker) Drop(id wasmkernel.InstanceID) {
	for iface, provider := range b.providers {
		if provider == id {
			delete(b.providers, iface)
		}
	}
	delete(b.mailboxes, id)
	for mid, p := range b.pending {
		if p.emitter == id {
			delete(b.pending, mid)
		}
	}
	b.fail(func(p pending) bool { return p.provider == id })
}

// fail resolves matching pending answers with a KindFailed notice. A notice
// that does not fit the emitter's mailbox is logged and lost.
func (b *Broker) fail(match func(pending) bool) {
	for mid, p := range b.pending {
		if !match(p) {
			continue
		}
		delete(b.pending, mid)
		if len(b.mailboxes[p.emitter]) >= b.depth {
			b.logger.Warn("failure notice lost",
				zap.Uint64("message", mid),
				zap.Uint32("instance", uint32(p.emitter)))
			continue
		}
		b.mailboxes[p.emitter] = append(b.mailboxes[p.emitter], Message{
			Kind:      KindFailed,
			ID:        mid,
			From:      p.provider,
			Interface: p.iface,
		})
	}
}

func (b *Broker) discard(id wasmkernel.InstanceID, match func(Message) bool) {
	q := b.mailboxes[id]
	kept := q[:0]
	for _, m := range q {
		if !match(m) {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		delete(b.mailboxes, id)
		return
	}
	b.mailboxes[id] = kept
}

func (b *Broker) tooLarge(id wasmkernel.InstanceID, n int) error {
	return errors.New(errors.PhaseSyscall, errors.KindInvalidInput).
		Instance(uint32(id)).Cause(ErrTooLarge).Detail("%d bytes, limit %d", n, b.maxSize).Build()
}

func (b *Broker) full(id wasmkernel.InstanceID) error {
	return errors.New(errors.PhaseSyscall, errors.KindResourceExhausted).
		Instance(uint32(id)).Cause(ErrQueueFull).Detail("depth %d", b.depth).Build()
}
