package bridge

import (
	"math"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Type is the engine-level type of a value.
type Type int

const (
	TypeUndefined Type = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	TypeSymbol
	TypeBigInt
)

func (t Type) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeSymbol:
		return "symbol"
	case TypeBigInt:
		return "bigint"
	default:
		return "unknown"
	}
}

func typeOf(v goja.Value) Type {
	switch {
	case v == nil || goja.IsUndefined(v):
		return TypeUndefined
	case goja.IsNull(v):
		return TypeNull
	case goja.IsNumber(v):
		return TypeNumber
	case goja.IsString(v):
		return TypeString
	case goja.IsBigInt(v):
		return TypeBigInt
	}
	switch v.(type) {
	case *goja.Object:
		return TypeObject
	case *goja.Symbol:
		return TypeSymbol
	}
	return TypeBoolean
}

// ============================================================================
// Value creation
// ============================================================================

// MakeUndefined returns a handle to undefined.
func (b *Bridge) MakeUndefined(c Context) Value { return b.makePrimitive(c, goja.Undefined()) }

// MakeNull returns a handle to null.
func (b *Bridge) MakeNull(c Context) Value { return b.makePrimitive(c, goja.Null()) }

// MakeBoolean returns a handle to a boolean.
func (b *Bridge) MakeBoolean(c Context, v bool) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	return b.wrap(cr, cr.rt.ToValue(v))
}

// MakeNumber returns a handle to a number.
func (b *Bridge) MakeNumber(c Context, v float64) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	return b.wrap(cr, cr.rt.ToValue(v))
}

// MakeString returns a handle to a string.
func (b *Bridge) MakeString(c Context, s string) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	return b.wrap(cr, cr.rt.ToValue(s))
}

func (b *Bridge) makePrimitive(c Context, v goja.Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	return b.wrap(cr, v)
}

// MakeFromJSONString parses text as JSON. Invalid JSON yields zero without an
// exception.
func (b *Bridge) MakeFromJSONString(c Context, text string) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var result goja.Value
	var discarded Value
	ok := b.run(cr, &discarded, func() error {
		var err error
		result, err = cr.in.parse(goja.Undefined(), cr.rt.ToValue(text))
		return err
	})
	if !ok {
		b.ValueRelease(c, discarded)
		return 0
	}
	return b.wrap(cr, result)
}

// CreateJSONString serializes v with the given indentation. Values with no JSON
// form (undefined, functions, symbols) report false without an exception.
func (b *Bridge) CreateJSONString(c Context, v Value, indent int, exception *Value) (string, bool) {
	cr := b.context(c)
	if cr == nil {
		return "", false
	}
	var out string
	var serializable bool
	b.run(cr, exception, func() error {
		res, err := cr.in.stringify(goja.Undefined(), b.resolve(cr, v), goja.Undefined(), cr.rt.ToValue(indent))
		if err != nil {
			return err
		}
		if goja.IsUndefined(res) {
			return nil
		}
		out, serializable = res.String(), true
		return nil
	})
	return out, serializable
}

// ============================================================================
// Type predicates
// ============================================================================

// GetType returns the type of v, TypeUndefined for invalid handles.
func (b *Bridge) GetType(c Context, v Value) Type {
	_, val, ok := b.peek(c, v)
	if !ok {
		return TypeUndefined
	}
	return typeOf(val)
}

func (b *Bridge) IsUndefined(c Context, v Value) bool { return b.GetType(c, v) == TypeUndefined }
func (b *Bridge) IsNull(c Context, v Value) bool      { return b.GetType(c, v) == TypeNull }
func (b *Bridge) IsBoolean(c Context, v Value) bool   { return b.GetType(c, v) == TypeBoolean }
func (b *Bridge) IsNumber(c Context, v Value) bool    { return b.GetType(c, v) == TypeNumber }
func (b *Bridge) IsString(c Context, v Value) bool    { return b.GetType(c, v) == TypeString }
func (b *Bridge) IsSymbol(c Context, v Value) bool    { return b.GetType(c, v) == TypeSymbol }
func (b *Bridge) IsBigInt(c Context, v Value) bool    { return b.GetType(c, v) == TypeBigInt }
func (b *Bridge) IsObject(c Context, v Value) bool    { return b.GetType(c, v) == TypeObject }

// IsArray reports whether v is an Array, looking through proxies.
func (b *Bridge) IsArray(c Context, v Value) bool {
	cr, val, ok := b.peek(c, v)
	if !ok || typeOf(val) != TypeObject {
		return false
	}
	var isArray bool
	b.run(cr, nil, func() error {
		res, err := cr.in.isArray(goja.Undefined(), val)
		isArray = err == nil && res.ToBoolean()
		return err
	})
	return isArray
}

// IsDate reports whether v is a Date object.
func (b *Bridge) IsDate(c Context, v Value) bool {
	_, val, ok := b.peek(c, v)
	if !ok {
		return false
	}
	obj, isObject := val.(*goja.Object)
	return isObject && obj.ClassName() == "Date"
}

// StrictEquals compares x and y with ===.
func (b *Bridge) StrictEquals(c Context, x, y Value) bool {
	_, xv, ok := b.peek(c, x)
	if !ok {
		return false
	}
	_, yv, ok := b.peek(c, y)
	if !ok {
		return false
	}
	return xv.StrictEquals(yv)
}

// TypeOf returns the result of the typeof operator.
func (b *Bridge) TypeOf(c Context, v Value) string {
	cr, val, ok := b.peek(c, v)
	if !ok {
		return "undefined"
	}
	out := "undefined"
	b.run(cr, nil, func() error {
		res, err := cr.in.typeOf(goja.Undefined(), val)
		if err == nil {
			out = res.String()
		}
		return err
	})
	return out
}

// ============================================================================
// Conversions
// ============================================================================

// ToBoolean converts v with the language's truthiness rules.
func (b *Bridge) ToBoolean(c Context, v Value) bool {
	_, val, ok := b.peek(c, v)
	if !ok {
		return false
	}
	return val.ToBoolean()
}

// ToNumber converts v to a number. On failure it returns NaN and sets *exception.
func (b *Bridge) ToNumber(c Context, v Value, exception *Value) float64 {
	cr := b.context(c)
	if cr == nil {
		return math.NaN()
	}
	n := math.NaN()
	b.run(cr, exception, func() error {
		n = b.resolve(cr, v).ToNumber().ToFloat()
		return nil
	})
	return n
}

// ToStringCopy converts v to a string. On failure it returns false and sets
// *exception.
func (b *Bridge) ToStringCopy(c Context, v Value, exception *Value) (string, bool) {
	cr := b.context(c)
	if cr == nil {
		return "", false
	}
	var s string
	ok := b.run(cr, exception, func() error {
		val := b.resolve(cr, v)
		if typeOf(val) == TypeSymbol {
			// ToString throws for symbols; String(sym) gives "Symbol(desc)".
			res, err := cr.in.toString(goja.Undefined(), val)
			if err != nil {
				return err
			}
			s = res.String()
			return nil
		}
		s = val.ToString().String()
		return nil
	})
	return s, ok
}

// ToObject boxes v. Null and undefined raise a TypeError.
func (b *Bridge) ToObject(c Context, v Value, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var obj *goja.Object
	if !b.run(cr, exception, func() error {
		obj = b.resolve(cr, v).ToObject(cr.rt)
		return nil
	}) {
		return 0
	}
	return b.wrap(cr, obj)
}

// ============================================================================
// Rooting
// ============================================================================

// ValueProtect keeps v alive until a matching ValueUnprotect.
func (b *Bridge) ValueProtect(c Context, v Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.values[v]; ok {
		rec.protects++
	}
}

// ValueUnprotect balances one ValueProtect. Unbalanced calls are ignored.
func (b *Bridge) ValueUnprotect(c Context, v Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.values[v]
	if !ok {
		return
	}
	if rec.protects == 0 {
		b.logger.Warn("unbalanced value unprotect", zap.Uint32("value", uint32(v)))
		return
	}
	rec.protects--
	if rec.protects == 0 && rec.refs == 0 {
		delete(b.values, v)
	}
}

// ValueShareable reports whether c may use v. Primitives are shared by every
// context of a heap group; objects belong to the runtime of the context that
// created them.
func (b *Bridge) ValueShareable(c Context, v Value) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	cr, ok := b.contexts[c]
	if !ok {
		return false
	}
	rec, ok := b.values[v]
	if !ok || rec.group != cr.group {
		return false
	}
	if _, isObject := rec.value.(*goja.Object); isObject {
		return rec.ctx == c
	}
	return true
}

// ValueRetain adds a host reference to v.
func (b *Bridge) ValueRetain(c Context, v Value) Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.values[v]; ok {
		rec.refs++
	}
	return v
}

// ValueRelease drops a host reference to v. The handle stays valid while it is
// protected.
func (b *Bridge) ValueRelease(c Context, v Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.values[v]
	if !ok {
		return
	}
	if rec.refs > 0 {
		rec.refs--
	}
	if rec.refs == 0 && rec.protects == 0 {
		delete(b.values, v)
	}
}

// ProtectCount reports how many protections v currently has.
func (b *Bridge) ProtectCount(v Value) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.values[v]; ok {
		return rec.protects
	}
	return 0
}

// IsLive reports whether v is still a valid handle.
func (b *Bridge) IsLive(v Value) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.values[v]
	return ok
}

// LiveValues reports how many value handles exist in group g.
func (b *Bridge) LiveValues(g Group) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, rec := range b.values {
		if rec.group == g {
			n++
		}
	}
	return n
}
