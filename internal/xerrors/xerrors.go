// Package xerrors records where gateway errors are created and wrapped.
// The logger reads those positions back to report the failing tenant code
// path instead of the line that logged it.
//
// New and Newf capture the full stack. Wrap and Wrapf record a single
// caller position per link, so a chain of wraps reads as a trail through
// loader, dispatcher and provider.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const stackDepth = 64

// stacked carries the stack at the point the error was created.
type stacked struct {
	error
	pcs []uintptr
}

func (s *stacked) Unwrap() error       { return s.error }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// link is one step of context added on the way up.
type link struct {
	cause error
	msg   string
	pc    uintptr
}

func (l *link) Error() string     { return l.msg + ": " + l.cause.Error() }
func (l *link) Unwrap() error     { return l.cause }
func (l *link) PC() uintptr       { return l.pc }
func (l *link) IsXerrorsWrapper() {}

// callers returns the stack above the exported function that called it.
func callers() []uintptr {
	pcs := make([]uintptr, stackDepth)
	// runtime.Callers, callers, the exported func
	return pcs[:runtime.Callers(3, pcs)]
}

func caller() uintptr {
	var pc [1]uintptr
	if runtime.Callers(3, pc[:]) == 0 {
		return 0
	}
	return pc[0]
}

func New(msg string) error {
	return &stacked{error: errors.New(msg), pcs: callers()}
}

func Newf(format string, args ...any) error {
	return &stacked{error: fmt.Errorf(format, args...), pcs: callers()}
}

// WithStack attaches the current stack to err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{error: err, pcs: callers()}
}

// EnsureTrace is WithStack for errors that do not carry a stack yet, such
// as those coming back from the script engine or an SDK.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var s interface{ StackPCs() []uintptr }
	if errors.As(err, &s) && len(s.StackPCs()) > 0 {
		return err
	}
	return &stacked{error: err, pcs: callers()}
}

// Wrap prefixes err with msg. It returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &link{cause: err, msg: msg, pc: caller()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &link{cause: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}
