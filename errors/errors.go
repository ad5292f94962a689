package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the reload pipeline the error occurred
type Phase string

const (
	PhaseProbe  Phase = "probe"  // artifact mtime read
	PhaseCopy   Phase = "copy"   // versioned copy
	PhaseOpen   Phase = "open"   // compile + instantiate
	PhaseBind   Phase = "bind"   // contract resolution
	PhaseCall   Phase = "call"   // contract operation invocation
	PhaseUnload Phase = "unload" // close + delete
	PhaseArena  Phase = "arena"  // state arena bookkeeping
	PhaseConfig Phase = "config" // host configuration
	PhaseReload Phase = "reload" // controller decisions
)

// Kind categorizes the error
type Kind string

const (
	KindArtifactUnavailable Kind = "artifact_unavailable"
	KindCopyFailed          Kind = "copy_failed"
	KindLoadFailed          Kind = "load_failed"
	KindContractViolation   Kind = "contract_violation"
	KindExhausted           Kind = "exhausted"
	KindAssertion           Kind = "assertion"
	KindInvalidInput        Kind = "invalid_input"
	KindTrap                Kind = "trap"
	KindDeleteFailed        Kind = "delete_failed"
)

// Sentinels for errors.Is. Matching is on Phase and Kind only.
var (
	ErrArtifactUnavailable = &Error{Phase: PhaseProbe, Kind: KindArtifactUnavailable}
	ErrCopyFailed          = &Error{Phase: PhaseCopy, Kind: KindCopyFailed}
	ErrLoadFailed          = &Error{Phase: PhaseOpen, Kind: KindLoadFailed}
	ErrContractViolation   = &Error{Phase: PhaseBind, Kind: KindContractViolation}
	ErrExhausted           = &Error{Phase: PhaseArena, Kind: KindExhausted}
	ErrAssertion           = &Error{Phase: PhaseArena, Kind: KindAssertion}
)

// Error is the structured error type used throughout the host
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Path   string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
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

// Transient reports whether the reload controller should simply retry on the
// next iteration.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindArtifactUnavailable, KindCopyFailed, KindLoadFailed, KindContractViolation:
		return true
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

// Path sets the filesystem path or export name involved
func (b *Builder) Path(path string) *Builder {
	b.err.Path = path
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

// Convenience constructors for the loader stages

// ArtifactUnavailable reports that the canonical artifact could not be
// stat'ed. The cause is kept so callers can tell fs.ErrNotExist apart from a
// transient failure.
func ArtifactUnavailable(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseProbe,
		Kind:   KindArtifactUnavailable,
		Path:   path,
		Detail: "cannot read modification time",
		Cause:  cause,
	}
}

// CopyFailed creates a versioned-copy failure error
func CopyFailed(src, dst string, cause error) *Error {
	return &Error{
		Phase:  PhaseCopy,
		Kind:   KindCopyFailed,
		Path:   dst,
		Detail: fmt.Sprintf("copy from %s", src),
		Cause:  cause,
	}
}

// LoadFailed creates an open failure error for a versioned copy
func LoadFailed(path, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseOpen,
		Kind:   KindLoadFailed,
		Path:   path,
		Detail: detail,
		Cause:  cause,
	}
}

// Exhausted creates an arena exhaustion error
func Exhausted(size, align, remaining uint32) *Error {
	return &Error{
		Phase:  PhaseArena,
		Kind:   KindExhausted,
		Detail: fmt.Sprintf("cannot allocate %d bytes (align %d), %d remaining", size, align, remaining),
		Value:  size,
	}
}

// Assertion creates the value passed to panic for arena programming defects.
func Assertion(format string, args ...any) *Error {
	return &Error{
		Phase:  PhaseArena,
		Kind:   KindAssertion,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Trap wraps a failure returned by a contract operation
func Trap(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTrap,
		Path:   op,
		Detail: "contract operation failed",
		Cause:  cause,
	}
}

// DeleteFailed creates an unload-time delete failure
func DeleteFailed(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseUnload,
		Kind:   KindDeleteFailed,
		Path:   path,
		Detail: "remove versioned artifact",
		Cause:  cause,
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

// ExportProblem is a single unresolved or mistyped contract export
type ExportProblem struct {
	Name   string // export name, e.g. "adopt_state"
	Reason string // "missing" or a signature description
}

// ContractViolationError is returned when a module does not expose the full
// contract. All problems are gathered before binding gives up.
type ContractViolationError struct {
	Path     string
	Problems []ExportProblem
}

// NewContractViolation creates a contract violation for the given unit
func NewContractViolation(path string, problems []ExportProblem) *ContractViolationError {
	return &ContractViolationError{Path: path, Problems: problems}
}

func (e *ContractViolationError) Error() string {
	if len(e.Problems) == 0 {
		return "[bind] contract_violation: no problems specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[bind] contract_violation at %s: %d export(s) unusable:", e.Path, len(e.Problems))

	var missing []string
	for _, p := range e.Problems {
		if p.Reason == "missing" {
			missing = append(missing, p.Name)
			continue
		}
		b.WriteString("\n  - ")
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Reason)
	}
	if len(missing) > 0 {
		b.WriteString("\n  missing: ")
		b.WriteString(strings.Join(missing, ", "))
	}

	return b.String()
}

// Is reports whether target matches this error type
func (e *ContractViolationError) Is(target error) bool {
	if _, ok := target.(*ContractViolationError); ok {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Phase == PhaseBind && t.Kind == KindContractViolation
	}
	return false
}
