package bal

// EventKind classifies input events.
type EventKind uint16

const (
	EventKey EventKind = iota + 1
	EventPointer
	// EventQuit asks the kernel to shut down.
	EventQuit
)

func (k EventKind) String() string {
	switch k {
	case EventKey:
		return "key"
	case EventPointer:
		return "pointer"
	case EventQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Modifier bits for key and pointer events.
const (
	ModShift uint16 = 1 << iota
	ModCtrl
	ModAlt
	ModRelease
)

// Event is one input record. Code is a Unicode code point for printable
// keys, a Key* constant otherwise, or a button number for pointer events.
type Event struct {
	Tick Tick
	Code uint32
	X    int32
	Y    int32
	Kind EventKind
	Mods uint16
}

// Non-printable key codes live above the Unicode range.
const (
	KeyEnter uint32 = 0x110000 + iota
	KeyEscape
	KeyBackspace
	KeyTab
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
)
