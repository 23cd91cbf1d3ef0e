package jsbridge

import (
	"github.com/pkg/errors"
)

// Invalid usage: the host asked for something the value cannot do. These are
// never engine exceptions.
var (
	ErrNotCallable         = errors.New("value is not callable")
	ErrNotConstructor      = errors.New("value is not a constructor")
	ErrInvalidJSON         = errors.New("invalid JSON")
	ErrNotSerializable     = errors.New("value has no JSON representation")
	ErrDeferredUnavailable = errors.New("engine could not create a deferred promise")
	ErrNotObject           = errors.New("value is not an object")
	ErrNotTypedArray       = errors.New("value is not a typed array")
	ErrNotArrayBuffer      = errors.New("value is not an ArrayBuffer")
	ErrNotPromise          = errors.New("value is not a promise")
)

// Resource misuse: lifetimes or ownership rules were broken.
var (
	ErrAlreadyCompleted         = errors.New("deferred result already completed")
	ErrDroppedWithoutCompletion = errors.New("deferred result dropped without completion")
	ErrContextClosed            = errors.New("execution context is closed")
	ErrContextRevoked           = errors.New("adopted context used outside its callback")
	ErrContextMismatch          = errors.New("value belongs to a different heap group")
	ErrCrossRuntimeObject       = errors.New("object belongs to another context of the heap group")
	ErrInvalidContext           = errors.New("engine returned an invalid context")
	ErrEngineClosed             = errors.New("engine is closed")
)

var usageErrors = []error{
	ErrNotCallable, ErrNotConstructor, ErrInvalidJSON, ErrNotSerializable,
	ErrDeferredUnavailable, ErrNotObject, ErrNotTypedArray, ErrNotArrayBuffer, ErrNotPromise,
}

// AsException extracts the engine exception carried by err, if any.
func AsException(err error) (*Exception, bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}

// IsUsageError reports whether err is an invalid-usage error rather than an
// engine exception or a lifetime violation.
func IsUsageError(err error) bool {
	for _, target := range usageErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
