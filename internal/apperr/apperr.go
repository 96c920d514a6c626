// Package apperr carries the outcome class of a failed request structurally,
// so handlers pick an HTTP status from the error kind instead of its text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind classifies an error for the HTTP boundary.
type Kind int

const (
	// KindServer is an unexpected downstream failure.
	KindServer Kind = iota
	// KindClient is a malformed or incomplete request.
	KindClient
	// KindSkip marks an event that is intentionally not processed.
	KindSkip
	// KindConflict means another job already owns the resource.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindSkip:
		return "skip"
	case KindConflict:
		return "conflict"
	default:
		return "server"
	}
}

// Error is an error with a kind, the failing operation, and the stack at creation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Stack   []Frame
}

// Frame is a single stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status. Skips are successful responses.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindSkip:
		return http.StatusOK
	case KindClient:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// StackTrace formats the captured stack, one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "%s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// Skip creates an intentional-skip outcome; reason is reported to the caller.
func Skip(op, reason string) *Error {
	return &Error{Kind: KindSkip, Op: op, Message: reason, Stack: captureStack(2)}
}

// Client creates a client error.
func Client(op, message string) *Error {
	return &Error{Kind: KindClient, Op: op, Message: message, Stack: captureStack(2)}
}

// Clientf creates a client error with a formatted message.
func Clientf(op, format string, args ...any) *Error {
	return &Error{Kind: KindClient, Op: op, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: message, Stack: captureStack(2)}
}

// Server wraps err as a server error. A nil err yields nil.
func Server(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindServer, Op: op, Message: err.Error(), Stack: captureStack(2)}
}

// Wrap adds an operation and message to err, keeping the kind of an inner *Error.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	kind := KindServer
	var inner *Error
	if errors.As(err, &inner) {
		kind = inner.Kind
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err, Stack: captureStack(2)}
}

// KindOf returns the kind of err, or KindServer for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message: the outermost Error message, or err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil && e.Message == "" {
			return e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

// StackOf returns the formatted stack of the outermost *Error in err, if any.
func StackOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.StackTrace()
	}
	return ""
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callersFrames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			frames = append(frames, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		}
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}
