package jsbridge

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// TypedArrayType identifies the element type of a typed array.
type TypedArrayType = bridge.TypedArrayType

const (
	TypedArrayInt8         = bridge.TypedArrayInt8
	TypedArrayInt16        = bridge.TypedArrayInt16
	TypedArrayInt32        = bridge.TypedArrayInt32
	TypedArrayUint8        = bridge.TypedArrayUint8
	TypedArrayUint8Clamped = bridge.TypedArrayUint8Clamped
	TypedArrayUint16       = bridge.TypedArrayUint16
	TypedArrayUint32       = bridge.TypedArrayUint32
	TypedArrayFloat32      = bridge.TypedArrayFloat32
	TypedArrayFloat64      = bridge.TypedArrayFloat64
	TypedArrayBigInt64     = bridge.TypedArrayBigInt64
	TypedArrayBigUint64    = bridge.TypedArrayBigUint64
	TypedArrayArrayBuffer  = bridge.TypedArrayArrayBuffer
	TypedArrayNone         = bridge.TypedArrayNone
)

// loan tracks a host buffer lent to the engine. Its release runs exactly
// once: from the engine when the buffer is collected, or from the host when
// creation failed.
type loan struct {
	data      []byte
	onRelease func([]byte)
	released  atomic.Bool
	metrics   *metrics
}

func (l *loan) release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.metrics.transfers.Dec()
	if l.onRelease != nil {
		l.onRelease(l.data)
	}
}

func releaseLoan(_ []byte, userData any) {
	userData.(*loan).release()
}

// TypedArrayFromBytes creates a typed array over data without copying.
// onRelease is called exactly once with data: after the engine has collected
// the array and its buffer, or before TypedArrayFromBytes returns an error.
// The array is frozen so scripts cannot attach properties to it.
func (c *Context) TypedArrayFromBytes(kind TypedArrayType, data []byte, onRelease func([]byte)) (Object, error) {
	l := &loan{data: data, onRelease: onRelease, metrics: c.state.engine.metrics}
	l.metrics.transfers.Inc()

	if err := c.enter(); err != nil {
		l.release()
		return Object{}, err
	}
	defer c.leave()

	st := c.state
	var exc bridge.Value
	raw := st.bridge().ObjectMakeTypedArrayWithBytesNoCopy(st.raw, kind, data, releaseLoan, l, &exc)
	if raw == 0 {
		l.release()
		if exc != 0 {
			return Object{}, c.raise(exc)
		}
		return Object{}, errors.Wrapf(ErrNotTypedArray, "cannot create %s", kind)
	}
	obj := Object{c.value(raw)}
	st.freeze(obj)
	return obj, nil
}

// ArrayBufferFromBytes creates an ArrayBuffer over data without copying,
// with the same release rules as TypedArrayFromBytes.
func (c *Context) ArrayBufferFromBytes(data []byte, onRelease func([]byte)) (Object, error) {
	l := &loan{data: data, onRelease: onRelease, metrics: c.state.engine.metrics}
	l.metrics.transfers.Inc()

	if err := c.enter(); err != nil {
		l.release()
		return Object{}, err
	}
	defer c.leave()

	st := c.state
	var exc bridge.Value
	raw := st.bridge().ObjectMakeArrayBufferWithBytesNoCopy(st.raw, data, releaseLoan, l, &exc)
	if raw == 0 {
		l.release()
		if exc != 0 {
			return Object{}, c.raise(exc)
		}
		return Object{}, errors.WithStack(ErrNotArrayBuffer)
	}
	return Object{c.value(raw)}, nil
}

// TypedArrayFromBuffer creates a typed array viewing buffer.
func (c *Context) TypedArrayFromBuffer(kind TypedArrayType, buffer Object) (Object, error) {
	if err := c.enter(); err != nil {
		return Object{}, err
	}
	defer c.leave()
	defer runtime.KeepAlive(buffer.ref)

	if err := c.admit(buffer.Value); err != nil {
		return Object{}, err
	}
	st := c.state
	var exc bridge.Value
	raw := st.bridge().ObjectMakeTypedArrayWithArrayBuffer(st.raw, kind, buffer.raw(), &exc)
	if exc != 0 {
		return Object{}, c.raise(exc)
	}
	return Object{c.value(raw)}, nil
}

// freeze applies the script-visible Object.freeze to obj, falling back to
// Object.preventExtensions when the engine refuses to freeze a view that has
// elements. Caller must hold the context lock.
func (st *contextState) freeze(obj Object) {
	b := st.bridge()
	global := b.ContextGetGlobalObject(st.raw)
	defer b.ValueRelease(st.raw, global)

	var exc bridge.Value
	ctor := b.ObjectGetProperty(st.raw, global, "Object", &exc)
	defer b.ValueRelease(st.raw, ctor)
	if exc != 0 {
		b.ValueRelease(st.raw, exc)
		return
	}

	for _, name := range []string{"freeze", "preventExtensions"} {
		exc = 0
		fn := b.ObjectGetProperty(st.raw, ctor, name, &exc)
		if exc != 0 {
			b.ValueRelease(st.raw, exc)
			continue
		}
		exc = 0
		res := b.ObjectCallAsFunction(st.raw, fn, ctor, []bridge.Value{obj.raw()}, &exc)
		b.ValueRelease(st.raw, fn)
		b.ValueRelease(st.raw, res)
		if exc == 0 {
			return
		}
		b.ValueRelease(st.raw, exc)
	}
	st.engine.logger.Debug("typed array left extensible", zap.Uint32("value", uint32(obj.raw())))
}

// ============================================================================
// Buffer Access
// ============================================================================

// TypedArrayType classifies o. ArrayBuffers report TypedArrayArrayBuffer,
// everything else that is not a typed array TypedArrayNone.
func (o Object) TypedArrayType() TypedArrayType {
	done, err := o.acquire()
	if err != nil {
		return TypedArrayNone
	}
	defer done()

	st := o.st
	var exc bridge.Value
	kind := st.bridge().ObjectGetTypedArrayType(st.raw, o.raw(), &exc)
	if exc != 0 {
		st.bridge().ValueRelease(st.raw, exc)
		return TypedArrayNone
	}
	return kind
}

// Bytes returns the bytes a typed array views, or the whole contents of an
// ArrayBuffer. The slice aliases engine memory.
func (o Object) Bytes() ([]byte, error) {
	kind := o.TypedArrayType()
	done, err := o.acquire()
	if err != nil {
		return nil, err
	}
	defer done()

	st := o.st
	b := st.bridge()
	var exc bridge.Value
	var data []byte
	switch kind {
	case TypedArrayNone:
		return nil, errors.Wrapf(ErrNotTypedArray, "value of type %s", b.GetType(st.raw, o.raw()))
	case TypedArrayArrayBuffer:
		data = b.ObjectGetArrayBufferBytes(st.raw, o.raw(), &exc)
	default:
		data = b.ObjectGetTypedArrayBytes(st.raw, o.raw(), &exc)
	}
	if exc != 0 {
		return nil, o.raise(exc)
	}
	return data, nil
}

// Buffer returns the ArrayBuffer behind a typed array.
func (o Object) Buffer() (Object, error) {
	done, err := o.acquire()
	if err != nil {
		return Object{}, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	raw := st.bridge().ObjectGetTypedArrayBuffer(st.raw, o.raw(), &exc)
	if exc != 0 {
		return Object{}, o.raise(exc)
	}
	return Object{o.derive(raw)}, nil
}

// ByteLength returns the length in bytes of a typed array or ArrayBuffer.
func (o Object) ByteLength() (int, error) {
	kind := o.TypedArrayType()
	done, err := o.acquire()
	if err != nil {
		return 0, err
	}
	defer done()

	st := o.st
	var exc bridge.Value
	var n int
	switch kind {
	case TypedArrayNone:
		return 0, errors.WithStack(ErrNotTypedArray)
	case TypedArrayArrayBuffer:
		n = st.bridge().ObjectGetArrayBufferByteLength(st.raw, o.raw(), &exc)
	default:
		n = st.bridge().ObjectGetTypedArrayByteLength(st.raw, o.raw(), &exc)
	}
	if exc != 0 {
		return 0, o.raise(exc)
	}
	return n, nil
}
