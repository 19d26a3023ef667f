package capability

import (
	"strings"

	wasmkernel "github.com/wippyai/wasm-kernel"
)

// Handle is an opaque reference to a registry resource.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Kind identifies the resource class a capability refers to.
type Kind uint8

const (
	KindTimer Kind = iota + 1
	KindDisplay
	KindInput
	KindExtent
	// KindInterface is a named message endpoint. Write is the exclusive
	// right to serve it, read the right to send to it.
	KindInterface
)

func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindDisplay:
		return "display"
	case KindInput:
		return "input"
	case KindExtent:
		return "extent"
	case KindInterface:
		return "interface"
	default:
		return "invalid"
	}
}

// ParseKind accepts both the short and long manifest spellings.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "timer":
		return KindTimer, true
	case "display", "display-surface":
		return KindDisplay, true
	case "input", "input-queue":
		return KindInput, true
	case "extent", "memory-extent":
		return KindExtent, true
	case "interface":
		return KindInterface, true
	}
	return 0, false
}

// Named reports whether resources of this kind are told apart by name.
func (k Kind) Named() bool {
	return k == KindExtent || k == KindInterface
}

// Rights is a bit set of permitted operations.
type Rights uint8

const (
	RightRead Rights = 1 << iota
	RightWrite
	RightDelegate

	RightsAll = RightRead | RightWrite | RightDelegate
)

// Has reports whether every bit of want is present.
func (r Rights) Has(want Rights) bool {
	return r&want == want
}

// Subset reports whether r grants nothing beyond of.
func (r Rights) Subset(of Rights) bool {
	return r&^of == 0
}

func (r Rights) String() string {
	b := []byte("---")
	if r.Has(RightRead) {
		b[0] = 'r'
	}
	if r.Has(RightWrite) {
		b[1] = 'w'
	}
	if r.Has(RightDelegate) {
		b[2] = 'd'
	}
	return string(b)
}

// ParseRights parses letters from the set "rwd". "-" is ignored so that the
// String form round-trips.
func ParseRights(s string) (Rights, bool) {
	if s == "" {
		return 0, false
	}
	var r Rights
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			r |= RightRead
		case 'w':
			r |= RightWrite
		case 'd':
			r |= RightDelegate
		case '-':
		default:
			return 0, false
		}
	}
	return r, r != 0
}

// Capability is a kernel-minted grant. The zero value is an empty slot.
type Capability struct {
	Handle Handle
	Kind   Kind
	Rights Rights
}

// Valid reports whether the slot holds a grant.
func (c Capability) Valid() bool {
	return c.Handle != 0
}

// ConflictPolicy decides how a load reacts when a requested write grant is
// already held by another instance.
type ConflictPolicy uint8

const (
	// RejectWholesale fails the whole load with ResourceExhausted.
	RejectWholesale ConflictPolicy = iota
	// GrantNonConflicting skips the conflicting entry and grants the rest.
	GrantNonConflicting
)

func (p ConflictPolicy) String() string {
	if p == GrantNonConflicting {
		return "grant-non-conflicting"
	}
	return "reject-wholesale"
}

// EventType classifies registry lifecycle events.
type EventType uint8

const (
	EventMinted EventType = iota
	EventDelegated
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventMinted:
		return "minted"
	case EventDelegated:
		return "delegated"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event is an audit record. From is zero for minted grants.
type Event struct {
	Name   string
	Handle Handle
	From   wasmkernel.InstanceID
	To     wasmkernel.InstanceID
	Type   EventType
	Kind   Kind
	Rights Rights
}

// Observer receives registry lifecycle events.
type Observer interface {
	OnCapabilityEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnCapabilityEvent(e Event) { f(e) }
