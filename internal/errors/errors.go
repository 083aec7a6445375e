package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures of the download pipeline.
type Kind string

const (
	// KindConnection is a failed connect or login. Fatal at construction.
	KindConnection Kind = "connection"
	// KindNotFound is a missing remote directory. Skipped, never fatal.
	KindNotFound Kind = "not_found"
	// KindTransfer is a failed listing or RETR.
	KindTransfer Kind = "transfer"
	// KindDecode is a malformed or truncated gzip container.
	KindDecode Kind = "decode"
	// KindParse is malformed CSV or missing required columns.
	KindParse Kind = "parse"
	// KindMerge is a join the combined table could not absorb. Reported, not fatal.
	KindMerge Kind = "merge"
	// KindSnapshot is a snapshot that could not be read or written.
	KindSnapshot Kind = "snapshot"
)

// Sentinels for errors.Is.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrTransfer   = &Error{Kind: KindTransfer}
	ErrDecode     = &Error{Kind: KindDecode}
	ErrParse      = &Error{Kind: KindParse}
	ErrMerge      = &Error{Kind: KindMerge}
	ErrSnapshot   = &Error{Kind: KindSnapshot}
)

// Error carries the kind, the failing operation and the remote or local path.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// StackTracer is implemented by errors carrying a pkg/errors stack.
type StackTracer interface {
	StackTrace() errors.StackTrace
}

// New builds an Error, attaching a stack to err when it has none.
func New(kind Kind, op, path string, err error) *Error {
	if err != nil {
		if _, ok := err.(StackTracer); !ok {
			err = errors.WithStack(err)
		}
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, op, path, format string, args ...any) *Error {
	return New(kind, op, path, errors.Errorf(format, args...))
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// StackTrace returns the stack of the cause when it has one.
func (e *Error) StackTrace() errors.StackTrace {
	if st, ok := e.Err.(StackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether the pipeline must stop on err.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindMerge, KindSnapshot:
		return false
	default:
		return err != nil
	}
}
