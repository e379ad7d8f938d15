package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrLinking            = errors.New("engine linking failed")
	ErrIncompatibleReturn = errors.New("engine return is incompatible with declared type")
	ErrInvocation         = errors.New("engine invocation failed")
	ErrCleanup            = errors.New("engine session cleanup failed")
	ErrArgument           = errors.New("engine call argument is invalid")
)

// LinkingError reports why a method could not be linked. Path and Resolved
// are set only for by-path resolution failures.
type LinkingError struct {
	Interface string
	Method    string
	Reason    string
	Path      string
	Resolved  string
	Err       error
}

func (e *LinkingError) Error() string {
	var b strings.Builder
	b.WriteString("link ")
	if e.Interface != "" {
		b.WriteString(e.Interface)
		if e.Method != "" {
			b.WriteString(".")
		}
	}
	b.WriteString(e.Method)
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Path != "" {
		b.WriteString(" (path: ")
		b.WriteString(e.Path)
		if e.Resolved != "" {
			b.WriteString(", resolved as: ")
			b.WriteString(e.Resolved)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LinkingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLinking}
	}
	return []error{ErrLinking, e.Err}
}

// IncompatibleReturnError reports a remote result that cannot be coerced to
// the declared return type.
type IncompatibleReturnError struct {
	Declared reflect.Type
	Actual   reflect.Type
	Reason   string
}

func (e *IncompatibleReturnError) Error() string {
	actual := "nil"
	if e.Actual != nil {
		actual = e.Actual.String()
	}
	msg := fmt.Sprintf("required return type [%s] is incompatible with type returned by engine [%s]", typeName(e.Declared), actual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *IncompatibleReturnError) Unwrap() error { return ErrIncompatibleReturn }

// CleanupStage names the restoration step that failed.
type CleanupStage string

const (
	StageClear            CleanupStage = "clear"
	StageRestoreDirectory CleanupStage = "restore-directory"
)

// CleanupError reports a failure to restore session state after a call.
// Temporary bindings may remain in the session namespace when Stage is
// StageClear.
type CleanupError struct {
	Function string
	Stage    CleanupStage
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup after %s (%s): %v", e.Function, e.Stage, e.Err)
}

func (e *CleanupError) Unwrap() []error { return []error{ErrCleanup, e.Err} }

// ArgumentError reports a call whose arguments do not match the declared
// parameter list.
type ArgumentError struct {
	Method string
	Index  int
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("call %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("call %s: argument %d: %s", e.Method, e.Index, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrArgument }

func typeName(t reflect.Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}
