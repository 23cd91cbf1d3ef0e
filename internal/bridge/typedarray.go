package bridge

import (
	"reflect"
	"runtime"

	"github.com/dop251/goja"
)

// TypedArrayType identifies the element type of a typed array view.
type TypedArrayType int

const (
	TypedArrayInt8 TypedArrayType = iota
	TypedArrayInt16
	TypedArrayInt32
	TypedArrayUint8
	TypedArrayUint8Clamped
	TypedArrayUint16
	TypedArrayUint32
	TypedArrayFloat32
	TypedArrayFloat64
	TypedArrayBigInt64
	TypedArrayBigUint64
	TypedArrayArrayBuffer
	TypedArrayNone
)

var typedArrayNames = map[TypedArrayType]string{
	TypedArrayInt8:         "Int8Array",
	TypedArrayInt16:        "Int16Array",
	TypedArrayInt32:        "Int32Array",
	TypedArrayUint8:        "Uint8Array",
	TypedArrayUint8Clamped: "Uint8ClampedArray",
	TypedArrayUint16:       "Uint16Array",
	TypedArrayUint32:       "Uint32Array",
	TypedArrayFloat32:      "Float32Array",
	TypedArrayFloat64:      "Float64Array",
	TypedArrayBigInt64:     "BigInt64Array",
	TypedArrayBigUint64:    "BigUint64Array",
}

func (t TypedArrayType) String() string {
	switch t {
	case TypedArrayArrayBuffer:
		return "ArrayBuffer"
	case TypedArrayNone:
		return "None"
	}
	if name, ok := typedArrayNames[t]; ok {
		return name
	}
	return "Unknown"
}

var arrayBufferType = reflect.TypeOf(goja.ArrayBuffer{})

// asArrayBuffer unwraps o without exporting anything that is not an ArrayBuffer.
func asArrayBuffer(o *goja.Object) (goja.ArrayBuffer, bool) {
	if o.ExportType() != arrayBufferType {
		return goja.ArrayBuffer{}, false
	}
	buffer, ok := o.Export().(goja.ArrayBuffer)
	return buffer, ok
}

// transfer is the cleanup argument for a zero-copy buffer. It must not
// reference the buffer object itself.
type transfer struct {
	bytes    []byte
	dealloc  Deallocator
	userData any
}

func attachDeallocator(buffer *goja.Object, bytes []byte, dealloc Deallocator, userData any) {
	if dealloc == nil {
		return
	}
	runtime.AddCleanup(buffer, func(t transfer) {
		t.dealloc(t.bytes, t.userData)
	}, transfer{bytes: bytes, dealloc: dealloc, userData: userData})
}

// ObjectMakeTypedArrayWithBytesNoCopy creates a typed array over bytes without
// copying. Once the engine has collected the backing buffer it calls dealloc
// exactly once. If creation fails dealloc is never called and the caller keeps
// ownership of bytes.
func (b *Bridge) ObjectMakeTypedArrayWithBytesNoCopy(c Context, kind TypedArrayType, bytes []byte, dealloc Deallocator, userData any, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var array *goja.Object
	if !b.run(cr, exception, func() error {
		ctor, ok := cr.in.typedArrays[kind]
		if !ok {
			panic(cr.rt.NewTypeError("unsupported typed array type %s", kind))
		}
		buffer := cr.rt.ToValue(cr.rt.NewArrayBuffer(bytes)).(*goja.Object)
		var err error
		array, err = cr.rt.New(ctor, buffer)
		if err != nil {
			return err
		}
		attachDeallocator(buffer, bytes, dealloc, userData)
		return nil
	}) {
		return 0
	}
	return b.wrap(cr, array)
}

// ObjectMakeTypedArrayWithArrayBuffer creates a typed array viewing buffer.
func (b *Bridge) ObjectMakeTypedArrayWithArrayBuffer(c Context, kind TypedArrayType, buffer Value, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var array *goja.Object
	if !b.run(cr, exception, func() error {
		ctor, ok := cr.in.typedArrays[kind]
		if !ok {
			panic(cr.rt.NewTypeError("unsupported typed array type %s", kind))
		}
		buf := b.resolveObject(cr, buffer)
		if _, isBuffer := asArrayBuffer(buf); !isBuffer {
			panic(cr.rt.NewTypeError("value is not an ArrayBuffer"))
		}
		var err error
		array, err = cr.rt.New(ctor, buf)
		return err
	}) {
		return 0
	}
	return b.wrap(cr, array)
}

// ObjectMakeArrayBufferWithBytesNoCopy creates an ArrayBuffer over bytes with
// the same ownership rules as ObjectMakeTypedArrayWithBytesNoCopy.
func (b *Bridge) ObjectMakeArrayBufferWithBytesNoCopy(c Context, bytes []byte, dealloc Deallocator, userData any, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var buffer *goja.Object
	if !b.run(cr, exception, func() error {
		buffer = cr.rt.ToValue(cr.rt.NewArrayBuffer(bytes)).(*goja.Object)
		attachDeallocator(buffer, bytes, dealloc, userData)
		return nil
	}) {
		return 0
	}
	return b.wrap(cr, buffer)
}

// ObjectGetTypedArrayType classifies obj. Plain ArrayBuffers report
// TypedArrayArrayBuffer, everything else TypedArrayNone.
func (b *Bridge) ObjectGetTypedArrayType(c Context, obj Value, exception *Value) TypedArrayType {
	cr, val, ok := b.peek(c, obj)
	if !ok {
		return TypedArrayNone
	}
	o, isObject := val.(*goja.Object)
	if !isObject {
		return TypedArrayNone
	}
	if _, isBuffer := asArrayBuffer(o); isBuffer {
		return TypedArrayArrayBuffer
	}
	kind := TypedArrayNone
	b.run(cr, exception, func() error {
		tag, err := cr.in.typedArrayTag(o)
		if err != nil {
			return err
		}
		name := tag.String()
		for k, n := range typedArrayNames {
			if n == name {
				kind = k
				break
			}
		}
		return nil
	})
	return kind
}

// typedArrayView returns the bytes a typed array looks at. It raises a
// TypeError when obj is not a typed array.
func (b *Bridge) typedArrayView(cr *contextRecord, obj Value) (view []byte, length int) {
	o := b.resolveObject(cr, obj)
	bufVal, err := cr.in.typedArrayBuffer(o)
	throw(err)
	offset, err := cr.in.typedArrayByteOffset(o)
	throw(err)
	byteLength, err := cr.in.typedArrayByteLength(o)
	throw(err)
	n, err := cr.in.typedArrayLength(o)
	throw(err)

	buffer, _ := asArrayBuffer(bufVal.ToObject(cr.rt))
	data := buffer.Bytes()
	start := int(offset.ToInteger())
	end := start + int(byteLength.ToInteger())
	if end > len(data) {
		end = len(data)
	}
	return data[start:end], int(n.ToInteger())
}

// ObjectGetTypedArrayBytes returns the bytes viewed by a typed array. The slice
// aliases engine memory.
func (b *Bridge) ObjectGetTypedArrayBytes(c Context, obj Value, exception *Value) []byte {
	cr := b.context(c)
	if cr == nil {
		return nil
	}
	var view []byte
	b.run(cr, exception, func() error {
		view, _ = b.typedArrayView(cr, obj)
		return nil
	})
	return view
}

// ObjectGetTypedArrayLength returns the element count of a typed array.
func (b *Bridge) ObjectGetTypedArrayLength(c Context, obj Value, exception *Value) int {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var n int
	b.run(cr, exception, func() error {
		_, n = b.typedArrayView(cr, obj)
		return nil
	})
	return n
}

// ObjectGetTypedArrayByteLength returns the byte length of a typed array.
func (b *Bridge) ObjectGetTypedArrayByteLength(c Context, obj Value, exception *Value) int {
	return len(b.ObjectGetTypedArrayBytes(c, obj, exception))
}

// ObjectGetTypedArrayByteOffset returns the offset of a typed array into its buffer.
func (b *Bridge) ObjectGetTypedArrayByteOffset(c Context, obj Value, exception *Value) int {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var offset int
	b.run(cr, exception, func() error {
		v, err := cr.in.typedArrayByteOffset(b.resolveObject(cr, obj))
		if err != nil {
			return err
		}
		offset = int(v.ToInteger())
		return nil
	})
	return offset
}

// ObjectGetTypedArrayBuffer returns the ArrayBuffer behind a typed array.
func (b *Bridge) ObjectGetTypedArrayBuffer(c Context, obj Value, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	var buffer goja.Value
	if !b.run(cr, exception, func() error {
		var err error
		buffer, err = cr.in.typedArrayBuffer(b.resolveObject(cr, obj))
		return err
	}) {
		return 0
	}
	return b.wrap(cr, buffer)
}

// ObjectGetArrayBufferBytes returns the storage of an ArrayBuffer. The slice
// aliases engine memory.
func (b *Bridge) ObjectGetArrayBufferBytes(c Context, obj Value, exception *Value) []byte {
	cr := b.context(c)
	if cr == nil {
		return nil
	}
	var data []byte
	b.run(cr, exception, func() error {
		buffer, ok := asArrayBuffer(b.resolveObject(cr, obj))
		if !ok {
			panic(cr.rt.NewTypeError("value is not an ArrayBuffer"))
		}
		data = buffer.Bytes()
		return nil
	})
	return data
}

// ObjectGetArrayBufferByteLength returns the size of an ArrayBuffer.
func (b *Bridge) ObjectGetArrayBufferByteLength(c Context, obj Value, exception *Value) int {
	return len(b.ObjectGetArrayBufferBytes(c, obj, exception))
}
