package scheduler

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	wasmkernel "github.com/wippyai/wasm-kernel"
)

const (
	a wasmkernel.InstanceID = iota + 1
	b
	c
)

// cycle runs one full pass over the queue, requeueing everything except ids
// listed in block, and returns the run order.
func cycle(s *Scheduler, block ...wasmkernel.InstanceID) []wasmkernel.InstanceID {
	var order []wasmkernel.InstanceID
	for n := s.Len(); n > 0; n-- {
		e, ok := s.Next()
		if !ok {
			break
		}
		order = append(order, e.ID)
		blocked := false
		for _, id := range block {
			if id == e.ID {
				blocked = true
			}
		}
		if blocked {
			s.Block(e.ID)
		} else {
			s.Requeue(e.ID)
		}
	}
	return order
}

func equal(x, y []wasmkernel.InstanceID) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func newScheduler(t *testing.T) *Scheduler {
	s := New(nil)
	for _, id := range []wasmkernel.InstanceID{a, b, c} {
		if err := s.Add(id, 0); err != nil {
			t.Fatalf("Add %d: %v", id, err)
		}
	}
	return s
}

func TestRoundRobin(t *testing.T) {
	s := newScheduler(t)
	for i := 0; i < 3; i++ {
		if got := cycle(s); !equal(got, []wasmkernel.InstanceID{a, b, c}) {
			t.Fatalf("cycle %d: got %v", i, got)
		}
	}
}

func TestRoundRobinSkipsBlocked(t *testing.T) {
	s := newScheduler(t)

	if got := cycle(s, b); !equal(got, []wasmkernel.InstanceID{a, b, c}) {
		t.Fatalf("first cycle: got %v", got)
	}
	if st, _ := s.State(b); st != StateBlocked {
		t.Fatalf("b state: got %v", st)
	}
	if got := cycle(s); !equal(got, []wasmkernel.InstanceID{a, c}) {
		t.Fatalf("second cycle: got %v, want [a c]", got)
	}

	if !s.Wake(b) {
		t.Fatal("Wake should report a blocked instance")
	}
	if got := cycle(s); !equal(got, []wasmkernel.InstanceID{a, c, b}) {
		t.Fatalf("after wake: got %v", got)
	}
}

func TestHalt(t *testing.T) {
	s := newScheduler(t)
	e, _ := s.Next()
	s.Halt(e.ID)

	if st, _ := s.State(a); st != StateHalted {
		t.Fatalf("state: got %v", st)
	}
	if s.Wake(a) {
		t.Error("halted instances cannot be woken")
	}
	s.Requeue(a)
	if got := cycle(s); !equal(got, []wasmkernel.InstanceID{b, c}) {
		t.Errorf("halted instance ran: %v", got)
	}
	if s.Count(StateHalted) != 1 {
		t.Errorf("halted count: %d", s.Count(StateHalted))
	}
}

func TestRemoveBlocked(t *testing.T) {
	s := newScheduler(t)
	cycle(s, b)

	s.Remove(b)
	if _, ok := s.State(b); ok {
		t.Fatal("removed entry should be gone")
	}
	if s.Wake(b) {
		t.Fatal("a removed instance must not be resurrected")
	}
	for _, id := range s.Queue() {
		if id == b {
			t.Fatal("removed instance still queued")
		}
	}
	if got := cycle(s); !equal(got, []wasmkernel.InstanceID{a, c}) {
		t.Errorf("got %v", got)
	}
}

func TestRemoveRunning(t *testing.T) {
	s := newScheduler(t)
	e, _ := s.Next()
	s.Remove(e.ID)
	if s.Running() != 0 {
		t.Error("removing the running instance clears Running")
	}
	if next, ok := s.Next(); !ok || next.ID != b {
		t.Errorf("next: %+v %v", next, ok)
	}
}

func TestNextWhileRunning(t *testing.T) {
	s := newScheduler(t)
	s.Next()
	if _, ok := s.Next(); ok {
		t.Fatal("Next must not hand out a second quantum while one is open")
	}
}

func TestRequeueIsIdempotent(t *testing.T) {
	s := newScheduler(t)
	e, _ := s.Next()
	s.Requeue(e.ID)
	s.Requeue(e.ID)
	if s.Len() != 3 {
		t.Errorf("queue length: got %d, want 3", s.Len())
	}
}

func TestAddRejects(t *testing.T) {
	s := newScheduler(t)
	if err := s.Add(a, 0); err == nil {
		t.Error("duplicate add should fail")
	}
	if err := s.Add(0, 0); err == nil {
		t.Error("id 0 should be rejected")
	}
}

func TestChargeOverrun(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(zap.New(core))
	_ = s.Add(a, 100)
	_ = s.Add(b, 0)

	s.Charge(a, 50)
	s.Charge(a, 150)
	s.Charge(b, 1_000_000)

	e, _ := s.Entry(a)
	if e.Overruns != 1 {
		t.Errorf("overruns: got %d, want 1", e.Overruns)
	}
	if st, _ := s.State(a); st != StateRunnable {
		t.Error("overruns do not change state")
	}
	if logs.FilterMessage("quantum overrun").Len() != 1 {
		t.Errorf("overrun logs: got %d", logs.Len())
	}
}
