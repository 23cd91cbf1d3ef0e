package bridge

import (
	"reflect"

	"github.com/dop251/goja"
)

// PromiseStatus is the settlement state of a promise.
type PromiseStatus int

const (
	PromiseNone PromiseStatus = iota // not a promise
	PromisePending
	PromiseFulfilled
	PromiseRejected
)

var promiseType = reflect.TypeOf((*goja.Promise)(nil))

// ObjectMakeDeferredPromise creates a pending promise and returns it with its
// resolve and reject functions. On failure it returns zero, leaves resolve and
// reject untouched and sets *exception.
func (b *Bridge) ObjectMakeDeferredPromise(c Context, resolve, reject *Value, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var promise, res, rej goja.Value
	if !b.run(cr, exception, func() error {
		triple, err := cr.in.deferred(goja.Undefined())
		if err != nil {
			return err
		}
		obj := triple.ToObject(cr.rt)
		promise, res, rej = obj.Get("0"), obj.Get("1"), obj.Get("2")
		return nil
	}) {
		return 0
	}
	if resolve != nil {
		*resolve = b.wrap(cr, res)
	}
	if reject != nil {
		*reject = b.wrap(cr, rej)
	}
	return b.wrap(cr, promise)
}

// PromiseState reports the state of v and, once settled, its result.
func (b *Bridge) PromiseState(c Context, v Value) (PromiseStatus, Value) {
	cr, val, ok := b.peek(c, v)
	if !ok {
		return PromiseNone, 0
	}
	obj, isObject := val.(*goja.Object)
	if !isObject || obj.ExportType() != promiseType {
		return PromiseNone, 0
	}
	p, isPromise := obj.Export().(*goja.Promise)
	if !isPromise {
		return PromiseNone, 0
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return PromiseFulfilled, b.wrap(cr, p.Result())
	case goja.PromiseStateRejected:
		return PromiseRejected, b.wrap(cr, p.Result())
	default:
		return PromisePending, 0
	}
}
