package hosted

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-kernel/bal"
)

func newHeadless(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	opts = append([]Option{WithIO(strings.NewReader(""), &bytes.Buffer{})}, opts...)
	b := New(opts...)
	t.Cleanup(b.Halt)
	return b
}

func TestNew_NonTerminalIsHeadless(t *testing.T) {
	b := newHeadless(t)
	if !b.Headless() {
		t.Fatal("a buffer is not a terminal")
	}
}

func TestPresent_ReadBack(t *testing.T) {
	b := newHeadless(t, WithHeadless())

	if _, _, _, ok := b.LastFrame(); ok {
		t.Fatal("no frame presented yet")
	}
	pixels := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !b.Present(pixels, 2, 1) {
		t.Fatal("headless present should not drop")
	}
	pixels[0] = 99

	got, w, h, ok := b.LastFrame()
	if !ok || w != 2 || h != 1 || got[0] != 1 {
		t.Errorf("LastFrame: %v %d %d %v", got, w, h, ok)
	}
	if b.Present(pixels, 3, 1) {
		t.Error("size mismatch should be rejected")
	}
	if p, _, _ := b.Stats(); p != 1 {
		t.Errorf("presented: %d", p)
	}
}

func TestPresent_DropsWhileInflight(t *testing.T) {
	b := newHeadless(t)
	b.inflight.Store(true)

	if b.Present(make([]byte, 4), 1, 1) {
		t.Fatal("present while drawing should drop")
	}
	if _, dropped, _ := b.Stats(); dropped != 1 {
		t.Errorf("dropped: %d", dropped)
	}
}

func TestPresent_AfterProgramExit(t *testing.T) {
	b := &Backend{
		start:   time.Now(),
		logger:  zap.NewNop(),
		bufSize: 4,
		input:   make(chan bal.Event, 4),
		done:    make(chan struct{}),
	}
	b.launch(tea.NewProgram(newModel(b),
		tea.WithInput(nil),
		tea.WithOutput(&bytes.Buffer{}),
		tea.WithoutRenderer(),
		tea.WithoutSignalHandler()))
	t.Cleanup(b.Halt)

	// A frame was handed over but the program exits before drawing it.
	b.inflight.Store(true)
	b.program.Quit()
	<-b.done

	if !b.Present(make([]byte, 4), 1, 1) {
		t.Fatal("present after exit is stuck behind an undrawn frame")
	}
	if _, w, _, ok := b.LastFrame(); !ok || w != 1 {
		t.Error("frame after exit should still be readable")
	}

	var quit bool
	for ev := range b.PollInput() {
		quit = quit || ev.Kind == bal.EventQuit
	}
	if !quit {
		t.Error("program exit should queue a quit event")
	}
}

func TestPollInput_Finite(t *testing.T) {
	b := newHeadless(t, WithInputBuffer(2))
	b.Inject(
		bal.Event{Kind: bal.EventKey, Code: 'a'},
		bal.Event{Kind: bal.EventKey, Code: 'b'},
		bal.Event{Kind: bal.EventKey, Code: 'c'},
	)

	var codes []uint32
	for ev := range b.PollInput() {
		codes = append(codes, ev.Code)
	}
	if len(codes) != 2 || codes[0] != 'a' || codes[1] != 'b' {
		t.Errorf("codes: %q", codes)
	}
	if _, _, lost := b.Stats(); lost != 1 {
		t.Errorf("lost: %d", lost)
	}
	for range b.PollInput() {
		t.Fatal("second poll should be empty")
	}
}

func TestHalt_Idempotent(t *testing.T) {
	b := newHeadless(t)
	b.Halt()
	b.Halt()
	if b.Err() != nil {
		t.Errorf("Err: %v", b.Err())
	}
}

func TestModel_KeysBecomeEvents(t *testing.T) {
	b := newHeadless(t)
	m := newModel(b)

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlA})
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	var got []bal.Event
	for ev := range b.PollInput() {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("events: %+v", got)
	}
	if got[0].Kind != bal.EventKey || got[0].Code != 'x' {
		t.Errorf("rune: %+v", got[0])
	}
	if got[1].Code != bal.KeyEnter {
		t.Errorf("enter: %+v", got[1])
	}
	if got[2].Kind != bal.EventQuit {
		t.Errorf("ctrl+c should request quit: %+v", got[2])
	}
}

func TestModel_FrameClearsInflight(t *testing.T) {
	b := newHeadless(t)
	m := newModel(b)
	b.inflight.Store(true)

	m.Update(frameMsg{&frame{pixels: make([]byte, 16), width: 2, height: 2}})

	if b.inflight.Load() {
		t.Error("drawing a frame must clear inflight")
	}
	if !strings.Contains(m.View(), upperHalf) {
		t.Error("view should contain the frame")
	}
}

func TestKeyEvent(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		code uint32
		mods uint16
		ok   bool
	}{
		{"rune", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}, 'q', 0, true},
		{"alt rune", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}, Alt: true}, 'q', bal.ModAlt, true},
		{"space", tea.KeyMsg{Type: tea.KeySpace}, ' ', 0, true},
		{"escape", tea.KeyMsg{Type: tea.KeyEsc}, bal.KeyEscape, 0, true},
		{"arrow", tea.KeyMsg{Type: tea.KeyLeft}, bal.KeyLeft, 0, true},
		{"empty runes", tea.KeyMsg{Type: tea.KeyRunes}, 0, 0, false},
		{"ctrl combo", tea.KeyMsg{Type: tea.KeyCtrlB}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := keyEvent(tt.msg)
			if ok != tt.ok {
				t.Fatalf("ok: got %v", ok)
			}
			if ok && (ev.Code != tt.code || ev.Mods != tt.mods) {
				t.Errorf("got %+v", ev)
			}
		})
	}
}

func TestPointerEvent(t *testing.T) {
	ev, ok := pointerEvent(tea.MouseMsg{X: 3, Y: 4, Button: tea.MouseButtonLeft, Action: tea.MouseActionRelease, Shift: true})
	if !ok {
		t.Fatal("release should map")
	}
	if ev.X != 3 || ev.Y != 8 || ev.Mods != bal.ModShift|bal.ModRelease {
		t.Errorf("got %+v", ev)
	}
	if _, ok := pointerEvent(tea.MouseMsg{Action: tea.MouseActionMotion}); ok {
		t.Error("bare motion should be ignored")
	}
}

func TestRenderFrame(t *testing.T) {
	// 2x3: rows 0-1 form the first cell row, row 2 pairs with black.
	pixels := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 255, 255, 255, 255,
		10, 20, 30, 255, 0, 0, 0, 255,
	}
	out := renderFrame(pixels, 2, 3, 0, 0)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("rows: %d", len(lines))
	}
	for i, l := range lines {
		if n := strings.Count(l, upperHalf); n != 2 {
			t.Errorf("row %d has %d cells", i, n)
		}
	}

	scaled := renderFrame(pixels, 2, 3, 1, 1)
	if strings.Count(scaled, upperHalf) != 1 {
		t.Errorf("scaled frame: %q", scaled)
	}
	if renderFrame(pixels, 4, 4, 0, 0) != "" {
		t.Error("short buffer should render nothing")
	}
}

func TestRGB(t *testing.T) {
	pixels := []byte{0x12, 0x34, 0x56, 0xff}
	if got := rgb(pixels, 1, 0, 0); got != 0x123456 {
		t.Errorf("rgb: %#x", got)
	}
	if got := hexColor(0x123456); got != "#123456" {
		t.Errorf("hex: %s", got)
	}
}
