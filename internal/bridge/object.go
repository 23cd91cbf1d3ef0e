package bridge

import (
	"strconv"

	"github.com/dop251/goja"
)

// ObjectMake creates an empty plain object.
func (b *Bridge) ObjectMake(c Context) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	return b.wrap(cr, cr.rt.NewObject())
}

// ObjectMakeArray creates an array holding args.
func (b *Bridge) ObjectMakeArray(c Context, args []Value, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var arr *goja.Object
	if !b.run(cr, exception, func() error {
		items := b.resolveAll(cr, args)
		boxed := make([]any, len(items))
		for i, item := range items {
			boxed[i] = item
		}
		arr = cr.rt.NewArray(boxed...)
		return nil
	}) {
		return 0
	}
	return b.wrap(cr, arr)
}

// ObjectMakeError creates an Error object with the given message.
func (b *Bridge) ObjectMakeError(c Context, message string, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var obj *goja.Object
	if !b.run(cr, exception, func() error {
		var err error
		obj, err = cr.rt.New(cr.in.errorCtor, cr.rt.ToValue(message))
		return err
	}) {
		return 0
	}
	return b.wrap(cr, obj)
}

// ObjectMakeFunctionWithCallback creates a function object that invokes cb.
func (b *Bridge) ObjectMakeFunctionWithCallback(c Context, name string, cb Callback) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}

	var self *goja.Object
	native := func(call goja.FunctionCall) goja.Value {
		this := b.wrap(cr, call.This)
		args := make([]Value, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = b.wrap(cr, arg)
		}
		fn := b.wrap(cr, self)

		var exception Value
		ret := cb(cr.id, fn, this, args, &exception)

		var thrown, result goja.Value
		if exception != 0 {
			thrown = b.resolve(cr, exception)
		} else if ret != 0 {
			result = b.resolve(cr, ret)
		}

		// Arguments live for the duration of the call. The callback hands
		// its own reference on the result or exception over to the engine.
		b.ValueRelease(c, fn)
		b.ValueRelease(c, this)
		for _, arg := range args {
			b.ValueRelease(c, arg)
		}
		b.ValueRelease(c, exception)
		b.ValueRelease(c, ret)

		if thrown != nil {
			panic(thrown)
		}
		if result == nil {
			return goja.Undefined()
		}
		return result
	}
	self = cr.rt.ToValue(native).(*goja.Object)
	_ = self.DefineDataProperty("name", cr.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	return b.wrap(cr, self)
}

// ObjectIsFunction reports whether v can be called.
func (b *Bridge) ObjectIsFunction(c Context, v Value) bool {
	_, val, ok := b.peek(c, v)
	if !ok {
		return false
	}
	_, callable := goja.AssertFunction(val)
	return callable
}

// ObjectIsConstructor reports whether v can be used with new.
func (b *Bridge) ObjectIsConstructor(c Context, v Value) bool {
	_, val, ok := b.peek(c, v)
	if !ok {
		return false
	}
	_, ctor := goja.AssertConstructor(val)
	return ctor
}

// ObjectCallAsFunction calls fn with this and args. A zero this means
// undefined. Calling a non-function returns zero without an exception.
func (b *Bridge) ObjectCallAsFunction(c Context, fn, this Value, args []Value, exception *Value) Value {
	cr, val, ok := b.peek(c, fn)
	if !ok {
		return 0
	}
	call, callable := goja.AssertFunction(val)
	if !callable {
		return 0
	}
	var result goja.Value
	if !b.run(cr, exception, func() error {
		var err error
		result, err = call(b.resolve(cr, this), b.resolveAll(cr, args)...)
		return err
	}) {
		return 0
	}
	return b.wrap(cr, result)
}

// ObjectCallAsConstructor calls ctor with new. Calling something that is not a
// constructor returns zero without an exception.
func (b *Bridge) ObjectCallAsConstructor(c Context, ctor Value, args []Value, exception *Value) Value {
	cr, val, ok := b.peek(c, ctor)
	if !ok {
		return 0
	}
	construct, isCtor := goja.AssertConstructor(val)
	if !isCtor {
		return 0
	}
	var result *goja.Object
	if !b.run(cr, exception, func() error {
		var err error
		result, err = construct(nil, b.resolveAll(cr, args)...)
		return err
	}) {
		return 0
	}
	return b.wrap(cr, result)
}

// ============================================================================
// Properties
// ============================================================================

// ObjectGetProperty reads obj[name].
func (b *Bridge) ObjectGetProperty(c Context, obj Value, name string, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var result goja.Value
	if !b.run(cr, exception, func() error {
		result = b.resolveObject(cr, obj).Get(name)
		return nil
	}) {
		return 0
	}
	return b.wrap(cr, result)
}

// ObjectSetProperty writes obj[name] = value.
func (b *Bridge) ObjectSetProperty(c Context, obj Value, name string, value Value, exception *Value) {
	cr := b.context(c)
	if cr == nil {
		return
	}
	b.run(cr, exception, func() error {
		return b.resolveObject(cr, obj).Set(name, b.resolve(cr, value))
	})
}

// ObjectHasProperty evaluates name in obj.
func (b *Bridge) ObjectHasProperty(c Context, obj Value, name string, exception *Value) bool {
	cr := b.context(c)
	if cr == nil {
		return false
	}
	var has bool
	b.run(cr, exception, func() error {
		res, err := cr.in.has(goja.Undefined(), b.resolveObject(cr, obj), cr.rt.ToValue(name))
		if err != nil {
			return err
		}
		has = res.ToBoolean()
		return nil
	})
	return has
}

// ObjectDeleteProperty evaluates delete obj[name] in sloppy mode.
func (b *Bridge) ObjectDeleteProperty(c Context, obj Value, name string, exception *Value) bool {
	cr := b.context(c)
	if cr == nil {
		return false
	}
	var deleted bool
	b.run(cr, exception, func() error {
		res, err := cr.in.remove(goja.Undefined(), b.resolveObject(cr, obj), cr.rt.ToValue(name))
		if err != nil {
			return err
		}
		deleted = res.ToBoolean()
		return nil
	})
	return deleted
}

// ObjectGetPropertyAtIndex reads obj[index].
func (b *Bridge) ObjectGetPropertyAtIndex(c Context, obj Value, index uint32, exception *Value) Value {
	return b.ObjectGetProperty(c, obj, strconv.FormatUint(uint64(index), 10), exception)
}

// ObjectSetPropertyAtIndex writes obj[index] = value.
func (b *Bridge) ObjectSetPropertyAtIndex(c Context, obj Value, index uint32, value Value, exception *Value) {
	b.ObjectSetProperty(c, obj, strconv.FormatUint(uint64(index), 10), value, exception)
}

// ObjectCopyPropertyNames lists the enumerable own string keys of obj.
func (b *Bridge) ObjectCopyPropertyNames(c Context, obj Value, exception *Value) []string {
	cr := b.context(c)
	if cr == nil {
		return nil
	}
	var keys []string
	b.run(cr, exception, func() error {
		keys = b.resolveObject(cr, obj).Keys()
		return nil
	})
	return keys
}
