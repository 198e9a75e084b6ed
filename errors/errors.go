package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which engine stage produced the error
type Phase string

const (
	PhaseResolve Phase = "resolve" // capability module loading
	PhaseCatalog Phase = "catalog" // event database access
	PhaseBuild   Phase = "build"   // counter configuration
	PhaseArm     Phase = "arm"     // hardware programming
	PhaseRun     Phase = "run"     // measured work
	PhaseFinish  Phase = "finish"  // snapshot and release
)

// Kind categorizes the error
type Kind string

const (
	KindResolution        Kind = "resolution"
	KindCatalog           Kind = "catalog"
	KindEventNotFound     Kind = "event_not_found"
	KindConflictingEvents Kind = "conflicting_events"
	KindInvariant         Kind = "invariant_violation"
	KindPermissionDenied  Kind = "permission_denied"
	KindHardwareBusy      Kind = "hardware_busy"
	KindHardware          Kind = "hardware"
	KindInvalidState      Kind = "invalid_state"
)

// Sentinels for errors.Is. They match any error of the same kind regardless
// of phase.
var (
	ErrResolution        = &Error{Kind: KindResolution}
	ErrCatalog           = &Error{Kind: KindCatalog}
	ErrEventNotFound     = &Error{Kind: KindEventNotFound}
	ErrConflictingEvents = &Error{Kind: KindConflictingEvents}
	ErrInvariant         = &Error{Kind: KindInvariant}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrHardwareBusy      = &Error{Kind: KindHardwareBusy}
	ErrHardware          = &Error{Kind: KindHardware}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
)

// Error is the structured error returned by every engine component
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Event   string // caller display name
	Key     string // catalog key
	Detail  string
	Indices []int // request indices, for conflicting events
	Code    int32 // raw platform return code, 0 when not applicable
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Event != "" || e.Key != "" {
		b.WriteString(" for ")
		switch {
		case e.Event != "" && e.Key != "":
			fmt.Fprintf(&b, "%s (%q)", e.Event, e.Key)
		case e.Event != "":
			b.WriteString(e.Event)
		default:
			fmt.Fprintf(&b, "%q", e.Key)
		}
	}

	if len(e.Indices) > 0 {
		b.WriteString(" at indices [")
		for i, idx := range e.Indices {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.Itoa(idx))
		}
		b.WriteByte(']')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
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

// Is reports whether target matches this error. A target with an empty
// phase matches every phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
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

// Event sets the caller-facing event name
func (b *Builder) Event(name string) *Builder {
	b.err.Event = name
	return b
}

// Key sets the catalog key
func (b *Builder) Key(key string) *Builder {
	b.err.Key = key
	return b
}

// Indices sets the request indices involved
func (b *Builder) Indices(idx ...int) *Builder {
	b.err.Indices = idx
	return b
}

// Code sets the raw platform return code
func (b *Builder) Code(code int32) *Builder {
	b.err.Code = code
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
	e := b.err
	return &e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// InvalidState reports a session or catalog used outside its lifecycle.
func InvalidState(phase Phase, format string, args ...any) *Error {
	return New(phase, KindInvalidState).Detail(format, args...).Build()
}

// Invariant reports an internal consistency failure. It indicates a bug in
// the engine or a platform reporting values outside the documented bounds.
func Invariant(phase Phase, format string, args ...any) *Error {
	return New(phase, KindInvariant).Detail(format, args...).Build()
}
