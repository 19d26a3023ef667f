package hosted

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-kernel/bal"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type keyMap struct {
	Quit key.Binding
	Help key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Help, k.Quit}}
}

func defaultKeys() keyMap {
	return keyMap{
		Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "shut down")),
		Help: key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "toggle status")),
	}
}

// frameMsg carries a presented frame into the program.
type frameMsg struct {
	f *frame
}

type model struct {
	b          *Backend
	help       help.Model
	keys       keyMap
	screen     string
	frames     uint64
	width      int
	height     int
	hideStatus bool
}

func newModel(b *Backend) *model {
	m := &model{
		b:    b,
		keys: defaultKeys(),
		help: help.New(),
	}
	m.width, m.height = terminalSize(b.out)
	return m
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.screen = renderFrame(msg.f.pixels, msg.f.width, msg.f.height, m.width, m.frameRows())
		m.frames++
		m.b.inflight.Store(false)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.b.push(bal.Event{Kind: bal.EventQuit})
		case key.Matches(msg, m.keys.Help):
			m.hideStatus = !m.hideStatus
		default:
			if ev, ok := keyEvent(msg); ok {
				m.b.push(ev)
			}
		}

	case tea.MouseMsg:
		if ev, ok := pointerEvent(msg); ok {
			m.b.push(ev)
		}
	}
	return m, nil
}

// frameRows is the number of terminal rows available to the frame.
func (m *model) frameRows() int {
	if m.height == 0 || m.hideStatus {
		return m.height
	}
	return m.height - 1
}

func (m *model) View() string {
	var b strings.Builder
	if m.screen == "" {
		b.WriteString(idleStyle.Render("waiting for first frame"))
	} else {
		b.WriteString(m.screen)
	}
	if m.hideStatus {
		return b.String()
	}

	presented, dropped, lost := m.b.Stats()
	b.WriteString("\n")
	b.WriteString(titleStyle.Render(m.b.title))
	b.WriteString(" ")
	b.WriteString(statStyle.Render(fmt.Sprintf("frames %d/%d dropped %d input lost %d",
		m.frames, presented, dropped, lost)))
	b.WriteString(" ")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// keyEvent maps a terminal key to a bal key event. Control combinations
// without a bal code are ignored.
func keyEvent(msg tea.KeyMsg) (bal.Event, bool) {
	ev := bal.Event{Kind: bal.EventKey}
	if msg.Alt {
		ev.Mods |= bal.ModAlt
	}
	switch msg.Type {
	case tea.KeyRunes:
		if len(msg.Runes) == 0 {
			return bal.Event{}, false
		}
		ev.Code = uint32(msg.Runes[0])
	case tea.KeySpace:
		ev.Code = ' '
	case tea.KeyEnter:
		ev.Code = bal.KeyEnter
	case tea.KeyEsc:
		ev.Code = bal.KeyEscape
	case tea.KeyBackspace:
		ev.Code = bal.KeyBackspace
	case tea.KeyTab:
		ev.Code = bal.KeyTab
	case tea.KeyUp:
		ev.Code = bal.KeyUp
	case tea.KeyDown:
		ev.Code = bal.KeyDown
	case tea.KeyLeft:
		ev.Code = bal.KeyLeft
	case tea.KeyRight:
		ev.Code = bal.KeyRight
	default:
		return bal.Event{}, false
	}
	return ev, true
}

// pointerEvent maps a mouse message to a bal pointer event. Y is reported in
// pixel rows, two per cell.
func pointerEvent(msg tea.MouseMsg) (bal.Event, bool) {
	if msg.Action == tea.MouseActionMotion && msg.Button == tea.MouseButtonNone {
		return bal.Event{}, false
	}
	ev := bal.Event{
		Kind: bal.EventPointer,
		Code: uint32(msg.Button),
		X:    int32(msg.X),
		Y:    int32(msg.Y) * 2,
	}
	if msg.Shift {
		ev.Mods |= bal.ModShift
	}
	if msg.Ctrl {
		ev.Mods |= bal.ModCtrl
	}
	if msg.Alt {
		ev.Mods |= bal.ModAlt
	}
	if msg.Action == tea.MouseActionRelease {
		ev.Mods |= bal.ModRelease
	}
	return ev, true
}
