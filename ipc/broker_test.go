package ipc

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/capability"
	kerrors "github.com/wippyai/wasm-kernel/errors"
)

const echo capability.Handle = 7

func TestBroker_RegisterOnce(t *testing.T) {
	b := NewBroker()
	if err := b.Register(echo, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, id := range []wasmkernel.InstanceID{1, 2} {
		err := b.Register(echo, id)
		if !errors.Is(err, ErrServed) {
			t.Errorf("second register by %d: got %v, want ErrServed", id, err)
		}
	}
	if p, ok := b.Provider(echo); !ok || p != 1 {
		t.Errorf("provider: got %d, %v", p, ok)
	}
}

func TestBroker_EmitWithoutProvider(t *testing.T) {
	b := NewBroker()
	_, err := b.Emit(2, echo, []byte("x"), false)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("got %v, want ErrNoProvider", err)
	}
	var ke *kerrors.Error
	if !errors.As(err, &ke) || ke.Kind != kerrors.KindNotFound {
		t.Errorf("got %v, want NotFound kind", err)
	}
}

func TestBroker_RequestAnswer(t *testing.T) {
	b := NewBroker()
	if err := b.Register(echo, 1); err != nil {
		t.Fatal(err)
	}
	payload := []byte("ping")
	id, err := b.Emit(2, echo, payload, true)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	payload[0] = 'X'

	m, ok := b.Pop(1)
	if !ok {
		t.Fatal("provider mailbox empty")
	}
	if m.Kind != KindRequest || m.ID != id || m.From != 2 || !m.NeedsAnswer || string(m.Data) != "ping" {
		t.Errorf("request: got %+v", m)
	}
	if b.Awaiting(2) != 1 {
		t.Errorf("awaiting: got %d", b.Awaiting(2))
	}

	if err := b.Answer(2, echo, id, []byte("pong")); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("answer by emitter: got %v", err)
	}
	if err := b.Answer(1, echo+1, id, []byte("pong")); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("answer through other interface: got %v", err)
	}
	if err := b.Answer(1, echo, id, []byte("pong")); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := b.Answer(1, echo, id, nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("second answer: got %v", err)
	}

	m, ok = b.Pop(2)
	if !ok || m.Kind != KindAnswer || m.ID != id || m.From != 1 || string(m.Data) != "pong" {
		t.Errorf("answer: got %+v, %v", m, ok)
	}
	if b.Awaiting(2) != 0 || b.Pending(2) != 0 {
		t.Errorf("state left behind: awaiting %d pending %d", b.Awaiting(2), b.Pending(2))
	}
}

func TestBroker_FireAndForgetCannotBeAnswered(t *testing.T) {
	b := NewBroker()
	_ = b.Register(echo, 1)
	id, err := b.Emit(2, echo, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Answer(1, echo, id, nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("got %v, want ErrUnknownMessage", err)
	}
}

func TestBroker_Limits(t *testing.T) {
	b := NewBroker(WithQueueDepth(2), WithMaxMessage(4))
	_ = b.Register(echo, 1)

	if _, err := b.Emit(2, echo, []byte("12345"), false); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversized: got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := b.Emit(2, echo, []byte("1"), false); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	_, err := b.Emit(2, echo, []byte("1"), false)
	var ke *kerrors.Error
	if !errors.Is(err, ErrQueueFull) || !errors.As(err, &ke) || ke.Kind != kerrors.KindResourceExhausted {
		t.Errorf("full: got %v", err)
	}
}

func TestBroker_PeekKeepsOrder(t *testing.T) {
	b := NewBroker()
	_ = b.Register(echo, 1)
	first, _ := b.Emit(2, echo, []byte("a"), false)
	second, _ := b.Emit(3, echo, []byte("b"), false)

	m, _ := b.Peek(1)
	if m.ID != first || b.Pending(1) != 2 {
		t.Fatalf("peek: got %+v pending %d", m, b.Pending(1))
	}
	b.Pop(1)
	m, _ = b.Pop(1)
	if m.ID != second {
		t.Errorf("second pop: got %d want %d", m.ID, second)
	}
	if _, ok := b.Pop(1); ok {
		t.Error("mailbox should be empty")
	}
}

func TestBroker_Cancel(t *testing.T) {
	b := NewBroker()
	_ = b.Register(echo, 1)
	id, _ := b.Emit(2, echo, []byte("a"), true)

	if err := b.Cancel(3, echo, id); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("cancel by stranger: got %v", err)
	}
	if err := b.Cancel(2, echo, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if b.Pending(1) != 0 {
		t.Errorf("unread request should be withdrawn, pending %d", b.Pending(1))
	}
	if err := b.Answer(1, echo, id, nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("answer after cancel: got %v", err)
	}
}

func TestBroker_UnregisterFailsPending(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	b := NewBroker(WithLogger(zap.New(core)))
	_ = b.Register(echo, 1)
	read, _ := b.Emit(2, echo, []byte("a"), true)
	unread, _ := b.Emit(2, echo, []byte("b"), true)
	b.Pop(1)

	b.Unregister(echo, 3)
	if _, ok := b.Provider(echo); !ok {
		t.Fatal("unregister by non-provider must be ignored")
	}

	b.Unregister(echo, 1)
	if _, ok := b.Provider(echo); ok {
		t.Error("provider still registered")
	}
	if b.Pending(1) != 0 {
		t.Errorf("unread request kept: %d", b.Pending(1))
	}
	got := map[uint64]bool{}
	for b.Pending(2) > 0 {
		m, _ := b.Pop(2)
		if m.Kind != KindFailed || m.From != 1 {
			t.Errorf("notice: got %+v", m)
		}
		got[m.ID] = true
	}
	if !got[read] || !got[unread] || len(got) != 2 {
		t.Errorf("failed ids: got %v", got)
	}
	if logs.FilterMessage("interface unregistered").Len() != 1 {
		t.Error("missing unregister log")
	}
}

func TestBroker_Drop(t *testing.T) {
	b := NewBroker()
	_ = b.Register(echo, 1)
	_ = b.Register(echo+1, 2)
	toProvider, _ := b.Emit(2, echo, nil, true)
	fromProvider, _ := b.Emit(1, echo+1, nil, true)

	b.Drop(1)

	if _, ok := b.Provider(echo); ok {
		t.Error("registration survived drop")
	}
	if b.Pending(1) != 0 {
		t.Error("mailbox survived drop")
	}
	if err := b.Answer(2, echo+1, fromProvider, nil); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("answer for dropped emitter: got %v", err)
	}
	var failed bool
	for b.Pending(2) > 0 {
		m, _ := b.Pop(2)
		if m.Kind == KindFailed && m.ID == toProvider {
			failed = true
		}
	}
	if !failed {
		t.Error("emitter was not told the request failed")
	}
}

func TestBroker_FailureNoticeLostWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := NewBroker(WithQueueDepth(1), WithLogger(zap.New(core)))
	_ = b.Register(echo, 1)
	_ = b.Register(echo+1, 2)
	_, _ = b.Emit(2, echo, nil, true)
	b.Pop(1)
	_, _ = b.Emit(3, echo+1, nil, false)
	_, _ = b.Emit(2, echo, nil, false)
	b.Pop(1)

	// 2's mailbox holds 3's request, so the notice has nowhere to go.
	b.Drop(1)
	if b.Pending(2) != 1 {
		t.Errorf("pending: got %d", b.Pending(2))
	}
	if logs.FilterMessage("failure notice lost").Len() != 1 {
		t.Error("lost notice not logged")
	}
}
