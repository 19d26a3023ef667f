// Package baltest provides a deterministic in-memory bal.Backend for tests.
package baltest

import (
	"iter"
	"sync"

	"github.com/wippyai/wasm-kernel/bal"
)

// Frame is one presented frame.
type Frame struct {
	Pixels []byte
	Width  int
	Height int
}

// Backend is a scripted backend. The clock only moves when told to.
type Backend struct {
	frames  []Frame
	pending []bal.Event
	now     bal.Tick
	step    bal.Tick
	mu      sync.Mutex
	busy    bool
	halted  bool
	noRead  bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithAutoAdvance makes every Now call advance the clock by step.
func WithAutoAdvance(step bal.Tick) Option {
	return func(b *Backend) { b.step = step }
}

// WithoutReadBack disables LastFrame.
func WithoutReadBack() Option {
	return func(b *Backend) { b.noRead = true }
}

// New creates a fake backend at tick 0.
func New(opts ...Option) *Backend {
	b := &Backend{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Now() bal.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.now
	b.now += b.step
	return t
}

func (b *Backend) Present(pixels []byte, width, height int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.busy {
		return false
	}
	b.frames = append(b.frames, Frame{
		Pixels: append([]byte(nil), pixels...),
		Width:  width,
		Height: height,
	})
	return true
}

func (b *Backend) PollInput() iter.Seq[bal.Event] {
	b.mu.Lock()
	events := b.pending
	b.pending = nil
	b.mu.Unlock()

	return func(yield func(bal.Event) bool) {
		for _, e := range events {
			if !yield(e) {
				return
			}
		}
	}
}

func (b *Backend) Halt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = true
}

// LastFrame implements bal.FrameReader.
func (b *Backend) LastFrame() ([]byte, int, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.noRead || len(b.frames) == 0 {
		return nil, 0, 0, false
	}
	f := b.frames[len(b.frames)-1]
	return f.Pixels, f.Width, f.Height, true
}

// Advance moves the clock forward.
func (b *Backend) Advance(d bal.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now += d
}

// Push queues input for the next PollInput. Events without a tick are
// stamped with the current clock.
func (b *Backend) Push(events ...bal.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		if e.Tick == 0 {
			e.Tick = b.now
		}
		b.pending = append(b.pending, e)
	}
}

// Key queues a key press for r.
func (b *Backend) Key(r rune) {
	b.Push(bal.Event{Kind: bal.EventKey, Code: uint32(r)})
}

// SetBusy makes Present drop frames.
func (b *Backend) SetBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = busy
}

// Frames returns every accepted frame.
func (b *Backend) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.frames...)
}

// Halted reports whether Halt was called.
func (b *Backend) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

var (
	_ bal.Backend     = (*Backend)(nil)
	_ bal.FrameReader = (*Backend)(nil)
)
