package jsbridge

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// Object is a Value known to be an object.
type Object struct {
	Value
}

// ============================================================================
// Properties
// ============================================================================

// Get returns a property value by name.
func (o Object) Get(name string) (Value, error) {
	done, err := o.acquire()
	if err != nil {
		return Value{}, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	raw := st.bridge().ObjectGetProperty(st.raw, o.raw(), name, &exc)
	if exc != 0 {
		return Value{}, o.raise(exc)
	}
	return o.derive(raw), nil
}

// Set sets a property value by name.
func (o Object) Set(name string, v Value) error {
	done, err := o.acquire()
	if err != nil {
		return err
	}
	defer done()
	defer runtime.KeepAlive(v.ref)

	st := o.st
	if err := o.Context().admit(v); err != nil {
		return errors.Wrapf(err, "property %q", name)
	}
	var exc bridge.Value
	st.bridge().ObjectSetProperty(st.raw, o.raw(), name, v.raw(), &exc)
	if exc != 0 {
		return o.raise(exc)
	}
	return nil
}

// GetIndex returns an element by index.
func (o Object) GetIndex(index uint32) (Value, error) {
	done, err := o.acquire()
	if err != nil {
		return Value{}, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	raw := st.bridge().ObjectGetPropertyAtIndex(st.raw, o.raw(), index, &exc)
	if exc != 0 {
		return Value{}, o.raise(exc)
	}
	return o.derive(raw), nil
}

// SetIndex sets an element by index.
func (o Object) SetIndex(index uint32, v Value) error {
	done, err := o.acquire()
	if err != nil {
		return err
	}
	defer done()
	defer runtime.KeepAlive(v.ref)

	st := o.st
	if err := o.Context().admit(v); err != nil {
		return errors.Wrapf(err, "index %d", index)
	}
	var exc bridge.Value
	st.bridge().ObjectSetPropertyAtIndex(st.raw, o.raw(), index, v.raw(), &exc)
	if exc != 0 {
		return o.raise(exc)
	}
	return nil
}

// Has evaluates name in o, following the prototype chain.
func (o Object) Has(name string) (bool, error) {
	done, err := o.acquire()
	if err != nil {
		return false, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	has := st.bridge().ObjectHasProperty(st.raw, o.raw(), name, &exc)
	if exc != 0 {
		return false, o.raise(exc)
	}
	return has, nil
}

// Delete removes a property. It reports false for non-configurable
// properties.
func (o Object) Delete(name string) (bool, error) {
	done, err := o.acquire()
	if err != nil {
		return false, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	deleted := st.bridge().ObjectDeleteProperty(st.raw, o.raw(), name, &exc)
	if exc != 0 {
		return false, o.raise(exc)
	}
	return deleted, nil
}

// PropertyNames lists the enumerable own string keys.
func (o Object) PropertyNames() ([]string, error) {
	done, err := o.acquire()
	if err != nil {
		return nil, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	names := st.bridge().ObjectCopyPropertyNames(st.raw, o.raw(), &exc)
	if exc != 0 {
		return nil, o.raise(exc)
	}
	return names, nil
}

// Len returns the length property as an int, or 0 when it is not a number.
func (o Object) Len() int {
	v, err := o.Get("length")
	if err != nil || !v.IsNumber() {
		return 0
	}
	n, _ := v.Int64()
	return int(n)
}

// ============================================================================
// Function Calling
// ============================================================================

// IsConstructor reports whether o can be used with new.
func (o Object) IsConstructor() bool {
	return o.is((*bridge.Bridge).ObjectIsConstructor)
}

// Call calls o as a function with the given this and arguments. Calling a
// non-function returns ErrNotCallable.
func (o Object) Call(this Value, args ...Value) (Value, error) {
	done, err := o.acquire()
	if err != nil {
		return Value{}, err
	}
	defer done()
	defer runtime.KeepAlive(this.ref)
	defer runtime.KeepAlive(args)

	st := o.st
	ctx := o.Context()
	if err := ctx.admit(this); err != nil {
		return Value{}, errors.Wrap(err, "this")
	}
	raws, err := ctx.raws(args)
	if err != nil {
		return Value{}, err
	}
	b := st.bridge()
	if !b.ObjectIsFunction(st.raw, o.raw()) {
		return Value{}, errors.Wrapf(ErrNotCallable, "value of type %s", b.GetType(st.raw, o.raw()))
	}
	var exc bridge.Value
	raw := b.ObjectCallAsFunction(st.raw, o.raw(), this.raw(), raws, &exc)
	if exc != 0 {
		return Value{}, o.raise(exc)
	}
	return o.derive(raw), nil
}

// CallWithoutThis calls o with an undefined this.
func (o Object) CallWithoutThis(args ...Value) (Value, error) {
	return o.Call(Value{}, args...)
}

// CallMethod calls the method name of o with o as this.
func (o Object) CallMethod(name string, args ...Value) (Value, error) {
	method, err := o.Get(name)
	if err != nil {
		return Value{}, err
	}
	if !method.IsFunction() {
		return Value{}, errors.Wrapf(ErrNotCallable, "method %q", name)
	}
	return Object{method}.Call(o.Value, args...)
}

// Construct calls o with new. Calling something that is not a constructor
// returns ErrNotConstructor.
func (o Object) Construct(args ...Value) (Object, error) {
	done, err := o.acquire()
	if err != nil {
		return Object{}, err
	}
	defer done()
	defer runtime.KeepAlive(args)

	st := o.st
	raws, err := o.Context().raws(args)
	if err != nil {
		return Object{}, err
	}
	b := st.bridge()
	if !b.ObjectIsConstructor(st.raw, o.raw()) {
		return Object{}, errors.Wrapf(ErrNotConstructor, "value of type %s", b.GetType(st.raw, o.raw()))
	}
	var exc bridge.Value
	raw := b.ObjectCallAsConstructor(st.raw, o.raw(), raws, &exc)
	if exc != 0 {
		return Object{}, o.raise(exc)
	}
	return Object{o.derive(raw)}, nil
}
