package hosted

import (
	"io"
	"iter"
	"os"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-kernel/bal"
)

// DefaultInputBuffer is the number of events held between polls.
const DefaultInputBuffer = 256

type frame struct {
	pixels []byte
	width  int
	height int
}

// Backend renders to a terminal through bubbletea.
type Backend struct {
	start    time.Time
	in       io.Reader
	out      io.Writer
	logger   *zap.Logger
	program  *tea.Program
	input    chan bal.Event
	done     chan struct{}
	last     atomic.Pointer[frame]
	runErr   error
	title    string
	bufSize  int
	presents atomic.Uint64
	dropped  atomic.Uint64
	lost     atomic.Uint64
	halt     sync.Once
	inflight atomic.Bool
	headless bool
	mouse    bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithHeadless disables the terminal program.
func WithHeadless() Option {
	return func(b *Backend) { b.headless = true }
}

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(b *Backend) {
		if in != nil {
			b.in = in
		}
		if out != nil {
			b.out = out
		}
	}
}

// WithInputBuffer sets how many events are held between polls.
func WithInputBuffer(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithTitle sets the status line title.
func WithTitle(title string) Option {
	return func(b *Backend) { b.title = title }
}

// WithMouse enables mouse reporting.
func WithMouse() Option {
	return func(b *Backend) { b.mouse = true }
}

// New creates a backend and, unless headless, starts its program.
func New(opts ...Option) *Backend {
	b := &Backend{
		start:   time.Now(),
		in:      os.Stdin,
		out:     os.Stdout,
		logger:  zap.NewNop(),
		bufSize: DefaultInputBuffer,
		title:   "wasm-kernel",
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.input = make(chan bal.Event, b.bufSize)

	if !b.headless && !isTerminal(b.out) {
		b.logger.Info("output is not a terminal, running headless")
		b.headless = true
	}
	if b.headless {
		close(b.done)
		return b
	}

	popts := []tea.ProgramOption{
		tea.WithInput(b.in),
		tea.WithOutput(b.out),
		tea.WithAltScreen(),
	}
	if b.mouse {
		popts = append(popts, tea.WithMouseCellMotion())
	}
	b.launch(tea.NewProgram(newModel(b), popts...))
	return b
}

func (b *Backend) launch(p *tea.Program) {
	b.program = p
	go func() {
		if _, err := b.program.Run(); err != nil {
			b.runErr = err
			b.logger.Error("terminal program failed", zap.Error(err))
		}
		// The user may close the program before the kernel asks.
		b.push(bal.Event{Kind: bal.EventQuit})
		close(b.done)
		// A frame sent while the program was exiting is never drawn.
		b.inflight.Store(false)
	}()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalSize returns the size of the output terminal, or 0, 0.
func terminalSize(w io.Writer) (int, int) {
	f, ok := w.(*os.File)
	if !ok {
		return 0, 0
	}
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0, 0
	}
	return cols, rows
}

// Headless reports whether the backend runs without a terminal program.
func (b *Backend) Headless() bool {
	return b.headless
}

// Now returns microseconds since the backend was created.
func (b *Backend) Now() bal.Tick {
	return bal.Tick(time.Since(b.start).Microseconds())
}

// Present hands a frame to the program. A frame that arrives while the
// previous one is still being drawn is dropped.
func (b *Backend) Present(pixels []byte, width, height int) bool {
	if bal.FrameSize(width, height) != len(pixels) {
		return false
	}
	if b.program != nil && b.halted() {
		b.last.Store(&frame{pixels: append([]byte(nil), pixels...), width: width, height: height})
		b.presents.Add(1)
		return true
	}
	if !b.inflight.CompareAndSwap(false, true) {
		b.dropped.Add(1)
		return false
	}
	f := &frame{pixels: append([]byte(nil), pixels...), width: width, height: height}
	b.last.Store(f)
	b.presents.Add(1)

	if b.headless || b.halted() {
		b.inflight.Store(false)
		return true
	}
	go b.program.Send(frameMsg{f})
	return true
}

// LastFrame implements bal.FrameReader.
func (b *Backend) LastFrame() ([]byte, int, int, bool) {
	f := b.last.Load()
	if f == nil {
		return nil, 0, 0, false
	}
	return append([]byte(nil), f.pixels...), f.width, f.height, true
}

// PollInput yields the events buffered when it was called.
func (b *Backend) PollInput() iter.Seq[bal.Event] {
	return func(yield func(bal.Event) bool) {
		for n := len(b.input); n > 0; n-- {
			select {
			case ev := <-b.input:
				if !yield(ev) {
					return
				}
			default:
				return
			}
		}
	}
}

// Inject queues events as if they came from the terminal. Events without a
// tick are stamped with the current time.
func (b *Backend) Inject(events ...bal.Event) {
	for _, ev := range events {
		b.push(ev)
	}
}

func (b *Backend) push(ev bal.Event) {
	if ev.Tick == 0 {
		ev.Tick = b.Now()
	}
	select {
	case b.input <- ev:
	default:
		b.lost.Add(1)
	}
}

// Halt stops the program and restores the terminal. It is safe to call more
// than once.
func (b *Backend) Halt() {
	b.halt.Do(func() {
		if b.program != nil {
			b.program.Quit()
		}
		<-b.done
		b.logger.Info("backend halted",
			zap.Uint64("frames", b.presents.Load()),
			zap.Uint64("frames_dropped", b.dropped.Load()),
			zap.Uint64("input_lost", b.lost.Load()))
	})
}

func (b *Backend) halted() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Err returns the error the terminal program ended with, if any. It is only
// meaningful after Halt.
func (b *Backend) Err() error {
	return b.runErr
}

// Stats reports frame and input counters.
func (b *Backend) Stats() (presented, dropped, inputLost uint64) {
	return b.presents.Load(), b.dropped.Load(), b.lost.Load()
}

var (
	_ bal.Backend     = (*Backend)(nil)
	_ bal.FrameReader = (*Backend)(nil)
)
