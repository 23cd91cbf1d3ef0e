package jsbridge

import (
	"math"
	"runtime"

	"github.com/pkg/errors"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// Type classifies a script value.
type Type = bridge.Type

const (
	TypeUndefined = bridge.TypeUndefined
	TypeNull      = bridge.TypeNull
	TypeBoolean   = bridge.TypeBoolean
	TypeNumber    = bridge.TypeNumber
	TypeString    = bridge.TypeString
	TypeObject    = bridge.TypeObject
	TypeSymbol    = bridge.TypeSymbol
	TypeBigInt    = bridge.TypeBigInt
)

// valueRef owns one engine reference on a value handle. The reference is
// dropped when the collector finds the ref unreachable.
type valueRef struct {
	raw bridge.Value
}

type valueDrop struct {
	b   *bridge.Bridge
	ctx bridge.Context
	raw bridge.Value
}

func newValue(st *contextState, raw bridge.Value) Value {
	ref := &valueRef{raw: raw}
	runtime.AddCleanup(ref, func(d valueDrop) {
		d.b.ValueRelease(d.ctx, d.raw)
	}, valueDrop{b: st.bridge(), ctx: st.raw, raw: raw})
	return Value{st: st, ref: ref}
}

// Value is a script value. It stays valid for as long as it is reachable
// from Go; protect it to keep the underlying script value alive beyond that.
// The zero Value is undefined.
type Value struct {
	st    *contextState
	ref   *valueRef
	scope *scope
}

func (v Value) raw() bridge.Value {
	if v.ref == nil {
		return 0
	}
	return v.ref.raw
}

// acquire locks the owning context and pins v until the returned func runs.
func (v Value) acquire() (func(), error) {
	if v.st == nil {
		return nil, errors.WithStack(ErrInvalidContext)
	}
	if err := v.st.enter(); err != nil {
		return nil, err
	}
	return func() {
		v.st.leave()
		runtime.KeepAlive(v.ref)
	}, nil
}

func (v Value) is(pred func(*bridge.Bridge, bridge.Context, bridge.Value) bool) bool {
	done, err := v.acquire()
	if err != nil {
		return false
	}
	defer done()
	return pred(v.st.bridge(), v.st.raw, v.raw())
}

// Context returns the view that produced v, or nil for the zero Value. A
// value produced under an adopted context yields a view that is revoked
// together with it.
func (v Value) Context() *Context {
	if v.st == nil {
		return nil
	}
	return &Context{state: v.st, scope: v.scope}
}

// derive takes ownership of raw as a value of v's view.
func (v Value) derive(raw bridge.Value) Value {
	out := v.st.value(raw)
	out.scope = v.scope
	return out
}

// raise captures the thrown handle raw under v's view.
func (v Value) raise(raw bridge.Value) error {
	exc := v.st.captureException(raw)
	exc.value.scope = v.scope
	return exc
}

// ============================================================================
// Type Checking
// ============================================================================

// Type returns the type of the value.
func (v Value) Type() Type {
	if v.st == nil {
		return TypeUndefined
	}
	done, err := v.acquire()
	if err != nil {
		return TypeUndefined
	}
	defer done()
	return v.st.bridge().GetType(v.st.raw, v.raw())
}

// IsUndefined returns true if the value is undefined.
func (v Value) IsUndefined() bool {
	if v.st == nil {
		return true
	}
	return v.is((*bridge.Bridge).IsUndefined)
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool { return v.is((*bridge.Bridge).IsNull) }

// IsBool returns true if the value is a boolean.
func (v Value) IsBool() bool { return v.is((*bridge.Bridge).IsBoolean) }

// IsNumber returns true if the value is a number.
func (v Value) IsNumber() bool { return v.is((*bridge.Bridge).IsNumber) }

// IsString returns true if the value is a string.
func (v Value) IsString() bool { return v.is((*bridge.Bridge).IsString) }

// IsSymbol returns true if the value is a symbol.
func (v Value) IsSymbol() bool { return v.is((*bridge.Bridge).IsSymbol) }

// IsBigInt returns true if the value is a BigInt.
func (v Value) IsBigInt() bool { return v.is((*bridge.Bridge).IsBigInt) }

// IsObject returns true if the value is an object.
func (v Value) IsObject() bool { return v.is((*bridge.Bridge).IsObject) }

// IsArray returns true if the value is an array.
func (v Value) IsArray() bool { return v.is((*bridge.Bridge).IsArray) }

// IsDate returns true if the value is a Date.
func (v Value) IsDate() bool { return v.is((*bridge.Bridge).IsDate) }

// IsFunction returns true if the value can be called.
func (v Value) IsFunction() bool { return v.is((*bridge.Bridge).ObjectIsFunction) }

// IsPromise returns true if the value is a native Promise.
func (v Value) IsPromise() bool {
	return v.is(func(b *bridge.Bridge, c bridge.Context, raw bridge.Value) bool {
		state, result := b.PromiseState(c, raw)
		b.ValueRelease(c, result)
		return state != bridge.PromiseNone
	})
}

// Typeof returns the result of the typeof operator.
func (v Value) Typeof() string {
	if v.st == nil {
		return "undefined"
	}
	done, err := v.acquire()
	if err != nil {
		return "undefined"
	}
	defer done()
	return v.st.bridge().TypeOf(v.st.raw, v.raw())
}

// StrictEquals compares with ===.
func (v Value) StrictEquals(other Value) bool {
	if v.st == nil || other.st == nil {
		return v.IsUndefined() && other.IsUndefined()
	}
	done, err := v.acquire()
	if err != nil {
		return false
	}
	defer done()
	defer runtime.KeepAlive(other.ref)
	return v.st.bridge().StrictEquals(v.st.raw, v.raw(), other.raw())
}

// ============================================================================
// Value Conversion
// ============================================================================

// String returns the display string of the value. Values whose conversion
// throws yield "<no string representation>".
func (v Value) String() string {
	if v.st == nil {
		return "undefined"
	}
	s, err := v.ToString()
	if err != nil {
		return noRepresentation
	}
	return s
}

// ToString converts with the script's String() semantics. Symbols convert
// to their description form.
func (v Value) ToString() (string, error) {
	if v.st == nil {
		return "undefined", nil
	}
	done, err := v.acquire()
	if err != nil {
		return "", err
	}
	defer done()

	st := v.st
	var exc bridge.Value
	s, ok := st.bridge().ToStringCopy(st.raw, v.raw(), &exc)
	if exc != 0 {
		return "", v.raise(exc)
	}
	if !ok {
		return "", errors.WithStack(ErrNotSerializable)
	}
	return s, nil
}

// Bool converts with the script's truthiness rules.
func (v Value) Bool() bool {
	if v.st == nil {
		return false
	}
	return v.is((*bridge.Bridge).ToBoolean)
}

// Float64 converts with the script's Number() semantics.
func (v Value) Float64() (float64, error) {
	if v.st == nil {
		return math.NaN(), nil
	}
	done, err := v.acquire()
	if err != nil {
		return math.NaN(), err
	}
	defer done()

	st := v.st
	var exc bridge.Value
	n := st.bridge().ToNumber(st.raw, v.raw(), &exc)
	if exc != 0 {
		return math.NaN(), v.raise(exc)
	}
	return n, nil
}

// Int64 converts to a number and truncates toward zero. NaN converts to 0.
func (v Value) Int64() (int64, error) {
	n, err := v.Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) {
		return 0, nil
	}
	return int64(n), nil
}

// ToObject converts with the script's Object() semantics. Undefined and
// null raise a TypeError.
func (v Value) ToObject() (Object, error) {
	done, err := v.acquire()
	if err != nil {
		return Object{}, err
	}
	defer done()

	st := v.st
	var exc bridge.Value
	raw := st.bridge().ToObject(st.raw, v.raw(), &exc)
	if exc != 0 {
		return Object{}, v.raise(exc)
	}
	return Object{v.derive(raw)}, nil
}

// AsObject returns v as an Object without conversion.
func (v Value) AsObject() (Object, error) {
	if !v.IsObject() {
		return Object{}, errors.Wrapf(ErrNotObject, "value of type %s", v.Type())
	}
	return Object{v}, nil
}

// ============================================================================
// Value Creation
// ============================================================================

func (c *Context) primitive(fn func(b *bridge.Bridge, raw bridge.Context) bridge.Value) (Value, error) {
	if err := c.enter(); err != nil {
		return Value{}, err
	}
	defer c.leave()
	return c.value(fn(c.state.bridge(), c.state.raw)), nil
}

// Undefined returns the undefined value.
func (c *Context) Undefined() (Value, error) {
	return c.primitive((*bridge.Bridge).MakeUndefined)
}

// Null returns the null value.
func (c *Context) Null() (Value, error) {
	return c.primitive((*bridge.Bridge).MakeNull)
}

// Bool creates a boolean.
func (c *Context) Bool(v bool) (Value, error) {
	return c.primitive(func(b *bridge.Bridge, raw bridge.Context) bridge.Value {
		return b.MakeBoolean(raw, v)
	})
}

// Number creates a number.
func (c *Context) Number(v float64) (Value, error) {
	return c.primitive(func(b *bridge.Bridge, raw bridge.Context) bridge.Value {
		return b.MakeNumber(raw, v)
	})
}

// String creates a string.
func (c *Context) String(s string) (Value, error) {
	return c.primitive(func(b *bridge.Bridge, raw bridge.Context) bridge.Value {
		return b.MakeString(raw, s)
	})
}

// NewObject creates an empty plain object.
func (c *Context) NewObject() (Object, error) {
	if err := c.enter(); err != nil {
		return Object{}, err
	}
	defer c.leave()
	return Object{c.value(c.state.bridge().ObjectMake(c.state.raw))}, nil
}

// Array creates an array holding values.
func (c *Context) Array(values ...Value) (Object, error) {
	if err := c.enter(); err != nil {
		return Object{}, err
	}
	defer c.leave()
	defer runtime.KeepAlive(values)

	st := c.state
	raws, err := c.raws(values)
	if err != nil {
		return Object{}, err
	}
	var exc bridge.Value
	raw := st.bridge().ObjectMakeArray(st.raw, raws, &exc)
	if exc != 0 {
		return Object{}, c.raise(exc)
	}
	return Object{c.value(raw)}, nil
}

// raws extracts the handles of values, rejecting values this context cannot
// use. The caller keeps values alive for as long as the handles are used.
func (c *Context) raws(values []Value) ([]bridge.Value, error) {
	out := make([]bridge.Value, len(values))
	for i, v := range values {
		if err := c.admit(v); err != nil {
			return nil, errors.Wrapf(err, "argument %d", i)
		}
		out[i] = v.raw()
	}
	return out, nil
}
