// Package scheduler implements cooperative round-robin scheduling.
//
// Instances are never preempted. Each quantum the kernel takes the head of
// the run queue with Next, calls the guest's entry point, and then reports
// how the call ended:
//
//	returned normally   -> Requeue  (back of the queue)
//	registered a wait   -> Block    (out of the queue until Wake)
//	trapped or exited   -> Halt     (never runs again)
//
// Every entry carries a per-quantum tick budget. Overruns are counted and
// logged; they do not change the entry's state.
package scheduler

import (
	"go.uber.org/zap"

	wasmkernel "github.com/wippyai/wasm-kernel"
	"github.com/wippyai/wasm-kernel/bal"
	"github.com/wippyai/wasm-kernel/errors"
)

// State is an entry's scheduling state.
type State uint8

const (
	StateRunnable State = iota + 1
	StateBlocked
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateBlocked:
		return "blocked"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Entry is the scheduler's record of one instance.
type Entry struct {
	ID       wasmkernel.InstanceID
	State    State
	Budget   bal.Tick
	Quanta   uint64
	Overruns uint64
}

// Scheduler owns every Entry. Not safe for concurrent use.
type Scheduler struct {
	logger  *zap.Logger
	entries map[wasmkernel.InstanceID]*Entry
	queue   []wasmkernel.InstanceID
	running wasmkernel.InstanceID
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:  logger,
		entries: make(map[wasmkernel.InstanceID]*Entry),
	}
}

// Add registers a runnable instance at the back of the queue.
func (s *Scheduler) Add(id wasmkernel.InstanceID, budget bal.Tick) error {
	if id == 0 {
		return errors.InvalidInput(errors.PhaseSchedule, "instance id 0 is reserved")
	}
	if _, exists := s.entries[id]; exists {
		return errors.InvalidInput(errors.PhaseSchedule, "instance already scheduled")
	}
	s.entries[id] = &Entry{ID: id, State: StateRunnable, Budget: budget}
	s.queue = append(s.queue, id)
	return nil
}

// Next pops the head of the run queue. The entry stays runnable and is
// considered running until Requeue, Block, Halt or Remove.
func (s *Scheduler) Next() (*Entry, bool) {
	if s.running != 0 {
		return nil, false
	}
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		if e, ok := s.entries[id]; ok && e.State == StateRunnable {
			s.running = id
			e.Quanta++
			return e, true
		}
	}
	return nil, false
}

// Running returns the instance taken by Next, or 0.
func (s *Scheduler) Running() wasmkernel.InstanceID {
	return s.running
}

// Charge records the ticks a quantum took against the entry's budget.
func (s *Scheduler) Charge(id wasmkernel.InstanceID, elapsed bal.Tick) {
	e, ok := s.entries[id]
	if !ok || e.Budget == 0 || elapsed <= e.Budget {
		return
	}
	e.Overruns++
	s.logger.Warn("quantum overrun",
		zap.Uint32("instance", uint32(id)),
		zap.Uint64("elapsed", uint64(elapsed)),
		zap.Uint64("budget", uint64(e.Budget)),
		zap.Uint64("overruns", e.Overruns))
}

// Requeue puts the running instance at the back of the queue.
func (s *Scheduler) Requeue(id wasmkernel.InstanceID) {
	e, ok := s.entries[id]
	s.release(id)
	if !ok || e.State != StateRunnable || s.queued(id) {
		return
	}
	s.queue = append(s.queue, id)
}

// Block takes a runnable instance out of rotation.
func (s *Scheduler) Block(id wasmkernel.InstanceID) {
	e, ok := s.entries[id]
	s.release(id)
	if !ok || e.State != StateRunnable {
		return
	}
	e.State = StateBlocked
	s.dequeue(id)
}

// Wake makes a blocked instance runnable again. It reports whether the
// instance was blocked.
func (s *Scheduler) Wake(id wasmkernel.InstanceID) bool {
	e, ok := s.entries[id]
	if !ok || e.State != StateBlocked {
		return false
	}
	e.State = StateRunnable
	s.queue = append(s.queue, id)
	return true
}

// Halt stops an instance permanently. The entry remains until Remove.
func (s *Scheduler) Halt(id wasmkernel.InstanceID) {
	e, ok := s.entries[id]
	s.release(id)
	if !ok {
		return
	}
	e.State = StateHalted
	s.dequeue(id)
}

// Remove forgets an instance in any state.
func (s *Scheduler) Remove(id wasmkernel.InstanceID) {
	s.release(id)
	s.dequeue(id)
	delete(s.entries, id)
}

// State returns an instance's state.
func (s *Scheduler) State(id wasmkernel.InstanceID) (State, bool) {
	e, ok := s.entries[id]
	if !ok {
		return 0, false
	}
	return e.State, true
}

// Entry returns a copy of an instance's record.
func (s *Scheduler) Entry(id wasmkernel.InstanceID) (Entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the run queue length.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Queue returns the run queue in order.
func (s *Scheduler) Queue() []wasmkernel.InstanceID {
	return append([]wasmkernel.InstanceID(nil), s.queue...)
}

// Each visits every entry in unspecified order.
func (s *Scheduler) Each(fn func(e Entry)) {
	for _, e := range s.entries {
		fn(*e)
	}
}

// Count returns the number of entries in state st.
func (s *Scheduler) Count(st State) int {
	n := 0
	for _, e := range s.entries {
		if e.State == st {
			n++
		}
	}
	return n
}

func (s *Scheduler) release(id wasmkernel.InstanceID) {
	if s.running == id {
		s.running = 0
	}
}

func (s *Scheduler) queued(id wasmkernel.InstanceID) bool {
	for _, q := range s.queue {
		if q == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) dequeue(id wasmkernel.InstanceID) {
	for i, q := range s.queue {
		if q == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
