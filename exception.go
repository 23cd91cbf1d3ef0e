package jsbridge

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

const noRepresentation = "<no string representation>"

var packageDir string

func init() {
	_, file, _, _ := runtime.Caller(0)
	packageDir = filepath.Dir(file)
}

// Exception is a value thrown by a script, captured together with its
// string form and the host call site that observed it.
type Exception struct {
	value    Value
	message  string
	hasText  bool
	location string
}

// captureException takes ownership of the thrown handle raw. The string form
// is computed now; a conversion that itself throws leaves it unavailable.
// Caller must hold the context lock.
func (st *contextState) captureException(raw bridge.Value) *Exception {
	b := st.bridge()
	exc := &Exception{value: st.value(raw), location: callerLocation()}

	var inner bridge.Value
	text, ok := b.ToStringCopy(st.raw, raw, &inner)
	if inner != 0 {
		b.ValueRelease(st.raw, inner)
		return exc
	}
	exc.message, exc.hasText = text, ok
	return exc
}

// exception is captureException returned as an error.
func (st *contextState) exception(raw bridge.Value) error {
	return st.captureException(raw)
}

// NewException creates an Error object carrying message, ready to be thrown
// from a host function or used to reject a Deferred.
func NewException(ctx *Context, message string) (*Exception, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	st := ctx.state
	var exc bridge.Value
	raw := st.bridge().ObjectMakeError(st.raw, message, &exc)
	if exc != 0 {
		return nil, ctx.raise(exc)
	}
	thrown := st.captureException(raw)
	thrown.value.scope = ctx.scope
	return thrown, nil
}

// Value returns the thrown value.
func (e *Exception) Value() Value {
	return e.value
}

// Message returns the string form computed at capture time. ok is false when
// the thrown value could not be converted.
func (e *Exception) Message() (message string, ok bool) {
	return e.message, e.hasText
}

// Location returns the host call site, as file:line, that received the
// exception.
func (e *Exception) Location() string {
	return e.location
}

// Error formats the exception as "location: message".
func (e *Exception) Error() string {
	msg := e.message
	if !e.hasText {
		msg = noRepresentation
	}
	if e.location == "" {
		return msg
	}
	return e.location + ": " + msg
}

// callerLocation returns the first frame outside this package's sources.
func callerLocation() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		dir := filepath.Dir(frame.File)
		inPackage := dir == packageDir && !strings.HasSuffix(frame.File, "_test.go")
		if !inPackage && !strings.HasPrefix(frame.Function, "runtime.") && frame.File != "" {
			return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}

// throwable turns a host error into a thrown handle owned by the engine.
// A returned *Exception is rethrown with its original value.
func (st *contextState) throwable(err error) bridge.Value {
	b := st.bridge()
	var exc *Exception
	if errors.As(err, &exc) && exc.value.st != nil && st.admit(exc.value) == nil {
		defer runtime.KeepAlive(exc.value.ref)
		return b.ValueRetain(st.raw, exc.value.raw())
	}
	var inner bridge.Value
	raw := b.ObjectMakeError(st.raw, err.Error(), &inner)
	if inner != 0 {
		return inner
	}
	return raw
}
