package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseBoot     Phase = "boot"     // reset to kernel init
	PhaseLoad     Phase = "load"     // image validation and instantiation
	PhaseSyscall  Phase = "syscall"  // guest to host calls
	PhaseSchedule Phase = "schedule" // instance execution
	PhaseRuntime  Phase = "runtime"  // kernel operations
	PhaseHost     Phase = "host"     // host function registration
	PhaseParse    Phase = "parse"    // manifest and ABI text
)

// Kind categorizes the error
type Kind string

const (
	KindMalformed         Kind = "malformed"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindResourceExhausted Kind = "resource_exhausted"
	KindPermissionDenied  Kind = "permission_denied"
	KindTrap              Kind = "trap"
	KindBootFault         Kind = "boot_fault"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindRegistration      Kind = "registration"
	KindClosed            Kind = "closed"
)

// Sentinels for errors.Is. Matching compares Phase and Kind.
var (
	ErrMalformed         = &Error{Phase: PhaseLoad, Kind: KindMalformed}
	ErrSignatureMismatch = &Error{Phase: PhaseLoad, Kind: KindSignatureMismatch}
	ErrResourceExhausted = &Error{Phase: PhaseLoad, Kind: KindResourceExhausted}
	ErrPermissionDenied  = &Error{Phase: PhaseSyscall, Kind: KindPermissionDenied}
	ErrTrap              = &Error{Phase: PhaseSchedule, Kind: KindTrap}
	ErrBootFault         = &Error{Phase: PhaseBoot, Kind: KindBootFault}
	ErrNotFound          = &Error{Phase: PhaseRuntime, Kind: KindNotFound}
	ErrClosed            = &Error{Phase: PhaseRuntime, Kind: KindClosed}

	// ErrWriteHeld is the cause of every Conflict error.
	ErrWriteHeld = stderrors.New("write capability held by another instance")
)

// Error is the structured error type used throughout the kernel
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Detail   string
	Instance uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Instance != 0 {
		b.WriteString(" in instance ")
		b.WriteString(fmt.Sprint(e.Instance))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Instance sets the instance the error belongs to
func (b *Builder) Instance(id uint32) *Builder {
	b.err.Instance = id
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Is, As and Join forward to the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// Load package convenience constructors

// Malformed creates a structural validation error
func Malformed(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMalformed,
		Detail: detail,
		Cause:  cause,
	}
}

// SignatureMismatch creates an import/export mismatch error
func SignatureMismatch(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindSignatureMismatch,
		Detail: detail,
		Cause:  cause,
	}
}

// ResourceExhausted creates an error for a depleted slot, page or claim
func ResourceExhausted(detail string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindResourceExhausted,
		Detail: detail,
	}
}

// Conflict creates a resource-exhausted error for an already-claimed write capability
func Conflict(resource string, holder uint32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindResourceExhausted,
		Detail: fmt.Sprintf("write capability on %s already held by instance %d", resource, holder),
		Value:  holder,
		Cause:  ErrWriteHeld,
	}
}

// Runtime convenience constructors

// Trap creates an error for an unrecoverable fault inside an instance
func Trap(instance uint32, cause error) *Error {
	return &Error{
		Phase:    PhaseSchedule,
		Kind:     KindTrap,
		Instance: instance,
		Detail:   "instance trapped",
		Cause:    cause,
	}
}

// BootFault creates a fatal pre-initialization error
func BootFault(stage string, cause error) *Error {
	return &Error{
		Phase:  PhaseBoot,
		Kind:   KindBootFault,
		Detail: fmt.Sprintf("fault during %s", stage),
		Cause:  cause,
	}
}

// PermissionDenied creates a capability check failure
func PermissionDenied(instance uint32, detail string) *Error {
	return &Error{
		Phase:    PhaseSyscall,
		Kind:     KindPermissionDenied,
		Instance: instance,
		Detail:   detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, name any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// OutOfBounds creates an out of bounds error for guest memory or extents
func OutOfBounds(phase Phase, offset, length, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds size %d", offset, offset+length, size),
		Value:  offset,
	}
}

// Registration creates a host registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ImportMismatch describes a single import the kernel does not provide as declared
type ImportMismatch struct {
	Namespace string
	Name      string
	Reason    string
}

// ImportMismatchError is returned when an image imports something outside the syscall ABI
type ImportMismatchError struct {
	Imports []ImportMismatch
}

func (e *ImportMismatchError) Error() string {
	if len(e.Imports) == 0 {
		return "import mismatch: no imports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d import(s) do not match the kernel ABI:\n", len(e.Imports)))

	byNS := make(map[string][]ImportMismatch)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, imp := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(imp.Name)
			if imp.Reason != "" {
				b.WriteString(" (")
				b.WriteString(imp.Reason)
				b.WriteByte(')')
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *ImportMismatchError) Is(target error) bool {
	_, ok := target.(*ImportMismatchError)
	return ok
}
