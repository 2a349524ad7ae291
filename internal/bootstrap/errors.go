package bootstrap

import (
	"errors"
	"fmt"
)

// Kind classifies a bootstrap failure. Every kind is fatal for the phase
// that produced it; recovery belongs to whoever invoked bootseq.
type Kind int

const (
	KindUnknown Kind = iota
	KindEnvironmentUnavailable
	KindDependencyResolution
	KindSourceCopy
	KindPublish
	KindLaunch
)

func (k Kind) String() string {
	switch k {
	case KindEnvironmentUnavailable:
		return "EnvironmentUnavailable"
	case KindDependencyResolution:
		return "DependencyResolutionError"
	case KindSourceCopy:
		return "SourceCopyError"
	case KindPublish:
		return "PublishError"
	case KindLaunch:
		return "LaunchError"
	default:
		return "UnknownError"
	}
}

// ExitCode is the process exit status reported for a failure of this kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindEnvironmentUnavailable:
		return 10
	case KindDependencyResolution:
		return 11
	case KindSourceCopy:
		return 12
	case KindPublish:
		return 13
	case KindLaunch:
		return 20
	default:
		return 1
	}
}

// Sentinels usable with errors.Is.
var (
	ErrEnvironmentUnavailable = &Error{Kind: KindEnvironmentUnavailable}
	ErrDependencyResolution   = &Error{Kind: KindDependencyResolution}
	ErrSourceCopy             = &Error{Kind: KindSourceCopy}
	ErrPublish                = &Error{Kind: KindPublish}
	ErrLaunch                 = &Error{Kind: KindLaunch}
)

// Error is a classified bootstrap failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// EnvironmentUnavailable wraps err as a base runtime failure.
func EnvironmentUnavailable(op string, err error) error {
	return newError(KindEnvironmentUnavailable, op, err)
}

// DependencyResolution wraps err as a manifest resolution failure.
func DependencyResolution(op string, err error) error {
	return newError(KindDependencyResolution, op, err)
}

// SourceCopy wraps err as a working tree materialization failure.
func SourceCopy(op string, err error) error {
	return newError(KindSourceCopy, op, err)
}

// Publish wraps err as an artifact persistence failure.
func Publish(op string, err error) error {
	return newError(KindPublish, op, err)
}

// Launch wraps err as a run-time launch failure.
func Launch(op string, err error) error {
	return newError(KindLaunch, op, err)
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// ExitCode maps err to a process exit status. nil maps to 0. Classified
// errors win over any exit status carried further down the chain; an
// unclassified error carrying one (a child process exit) passes it through.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if kind := KindOf(err); kind != KindUnknown {
		return kind.ExitCode()
	}
	var ee interface{ ExitCode() int }
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
