// Package bridge provides the low-level engine ABI: opaque uint32 handles for heap
// groups, execution contexts and values, manual retain/release for groups and
// contexts, and exception reporting through nullable out-parameters.
//
// Each execution context owns its own goja runtime. Value handles live in a
// table until the host drops them and nothing protects them.
package bridge

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Group is an opaque heap group handle. Zero is NULL.
type Group uint32

// Context is an opaque execution context handle. Zero is NULL.
type Context uint32

// Value is an opaque value handle. Zero is NULL.
type Value uint32

// Callback is a host function callable from scripts. A non-zero *exception
// on return is thrown into the calling script and the result is ignored.
type Callback func(ctx Context, function, this Value, args []Value, exception *Value) Value

// Deallocator releases a buffer that was handed to the engine without a copy.
type Deallocator func(bytes []byte, userData any)

// Options configures a Bridge.
type Options struct {
	// MaxCallStackSize limits script recursion depth. Zero keeps the engine default.
	MaxCallStackSize int
	Logger           *zap.Logger
}

type groupRecord struct {
	refs int
}

type contextRecord struct {
	id    Context
	group Group
	refs  int
	rt    *goja.Runtime
	in    *intrinsics
	data  any
}

// valueRecord is destroyed once the host holds no references and nothing
// protects it.
type valueRecord struct {
	ctx      Context
	group    Group
	value    goja.Value
	refs     int
	protects int
}

// Bridge holds every handle table of one engine instance.
type Bridge struct {
	mu       sync.Mutex
	next     uint32
	groups   map[Group]*groupRecord
	contexts map[Context]*contextRecord
	values   map[Value]*valueRecord

	maxCallStackSize int
	logger           *zap.Logger
}

// New creates an empty Bridge.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		groups:           make(map[Group]*groupRecord),
		contexts:         make(map[Context]*contextRecord),
		values:           make(map[Value]*valueRecord),
		maxCallStackSize: opts.MaxCallStackSize,
		logger:           logger,
	}
}

// Close drops every group, context and value. Handles issued before Close
// become invalid.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = make(map[Group]*groupRecord)
	b.contexts = make(map[Context]*contextRecord)
	b.values = make(map[Value]*valueRecord)
}

// Caller must hold b.mu.
func (b *Bridge) nextHandle() uint32 {
	b.next++
	if b.next == 0 {
		b.next++
	}
	return b.next
}

func (b *Bridge) context(c Context) *contextRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contexts[c]
}

// wrap registers v in the value table of cr and returns a handle carrying one
// host reference.
func (b *Bridge) wrap(cr *contextRecord, v goja.Value) Value {
	if v == nil {
		v = goja.Undefined()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := Value(b.nextHandle())
	b.values[h] = &valueRecord{ctx: cr.id, group: cr.group, value: v, refs: 1}
	return h
}

// resolve returns the engine value behind v. It must be called from inside
// run, where a thrown TypeError becomes the operation's exception.
func (b *Bridge) resolve(cr *contextRecord, v Value) goja.Value {
	if v == 0 {
		return goja.Undefined()
	}
	b.mu.Lock()
	rec, ok := b.values[v]
	b.mu.Unlock()
	if !ok {
		panic(cr.rt.NewTypeError("stale value handle %d", v))
	}
	if rec.group != cr.group {
		panic(cr.rt.NewTypeError("value handle %d belongs to another heap group", v))
	}
	if _, isObject := rec.value.(*goja.Object); isObject && rec.ctx != cr.id {
		panic(cr.rt.NewTypeError("value handle %d is an object of another context", v))
	}
	return rec.value
}

func (b *Bridge) resolveObject(cr *contextRecord, v Value) *goja.Object {
	obj, ok := b.resolve(cr, v).(*goja.Object)
	if !ok {
		panic(cr.rt.NewTypeError("value handle %d is not an object", v))
	}
	return obj
}

func (b *Bridge) resolveAll(cr *contextRecord, vs []Value) []goja.Value {
	out := make([]goja.Value, len(vs))
	for i, v := range vs {
		out[i] = b.resolve(cr, v)
	}
	return out
}

// peek looks up a value without raising, for predicates that have no
// exception slot.
func (b *Bridge) peek(c Context, v Value) (*contextRecord, goja.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cr, ok := b.contexts[c]
	if !ok {
		return nil, nil, false
	}
	rec, ok := b.values[v]
	if !ok || rec.group != cr.group {
		return nil, nil, false
	}
	return cr, rec.value, true
}

// run executes body inside the runtime of cr as a native call, so thrown
// script values, stale handles and uncatchable interrupts all end up in the
// exception slot. It reports whether body completed normally.
func (b *Bridge) run(cr *contextRecord, exception *Value, body func() error) (ok bool) {
	defer func() {
		if x := recover(); x != nil {
			b.logger.Error("engine operation panicked", zap.Any("panic", x))
			b.setException(cr, exception, fmt.Errorf("%v", x))
			ok = false
		}
	}()

	thunk := cr.rt.ToValue(func(goja.FunctionCall) goja.Value {
		if err := body(); err != nil {
			if _, isException := err.(*goja.Exception); isException {
				panic(err)
			}
			panic(b.errorValue(cr, err))
		}
		return goja.Undefined()
	})
	call, _ := goja.AssertFunction(thunk)
	if _, err := call(goja.Undefined()); err != nil {
		b.setException(cr, exception, err)
		return false
	}
	return true
}

// errorValue converts a Go error raised by the engine into a script value.
func (b *Bridge) errorValue(cr *contextRecord, err error) goja.Value {
	switch e := err.(type) {
	case *goja.Exception:
		if v := e.Value(); v != nil {
			return v
		}
		return goja.Undefined()
	case *goja.InterruptedError:
		return b.newError(cr, cr.in.errorCtor, e.Error())
	case *goja.StackOverflowError:
		return b.newError(cr, cr.in.rangeError, "Maximum call stack size exceeded")
	case *goja.CompilerSyntaxError:
		return b.newError(cr, cr.in.syntaxError, e.Error())
	default:
		return b.newError(cr, cr.in.errorCtor, err.Error())
	}
}

func (b *Bridge) newError(cr *contextRecord, ctor *goja.Object, message string) goja.Value {
	obj, err := cr.rt.New(ctor, cr.rt.ToValue(message))
	if err != nil {
		return cr.rt.ToValue(message)
	}
	return obj
}

func (b *Bridge) setException(cr *contextRecord, exception *Value, err error) {
	if exception == nil {
		return
	}
	*exception = b.wrap(cr, b.errorValue(cr, err))
}

// throw converts a raised value into a Go panic that run turns back into an
// exception.
func throw(err error) {
	if err != nil {
		panic(err)
	}
}
