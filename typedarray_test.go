package jsbridge

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedArrayFromBytes(t *testing.T) {
	ctx := newTestContext(t)

	data := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	arr, err := ctx.TypedArrayFromBytes(TypedArrayInt32, data, nil)
	require.NoError(t, err)
	assert.Equal(t, TypedArrayInt32, arr.TypedArrayType())

	require.NoError(t, ctx.SetGlobal("arr", arr.Value))
	v, err := ctx.Evaluate("arr.length + ':' + (arr[0] + arr[1])", 1)
	require.NoError(t, err)
	assert.Equal(t, "2:3", v.String())

	// no copy was made
	data[0] = 5
	v, err = ctx.Evaluate("arr[0]", 1)
	require.NoError(t, err)
	assert.Equal(t, "5", v.String())

	n, err := arr.ByteLength()
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	view, err := arr.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, view)
}

func TestTypedArrayIsNotExtensible(t *testing.T) {
	ctx := newTestContext(t)

	arr, err := ctx.TypedArrayFromBytes(TypedArrayUint8, []byte{1, 2, 3}, nil)
	require.NoError(t, err)
	require.NoError(t, ctx.SetGlobal("arr", arr.Value))

	v, err := ctx.Evaluate("Object.isExtensible(arr)", 1)
	require.NoError(t, err)
	assert.Equal(t, "false", v.String())

	_, err = ctx.Evaluate("'use strict'; arr.extra = 1", 1)
	_, ok := AsException(err)
	assert.True(t, ok)
}

func TestTypedArrayReleaseAfterCollection(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()
	ctx, err := eng.NewContext()
	require.NoError(t, err)

	var calls atomic.Int32
	var released atomic.Int32
	data := make([]byte, 64)
	arr, err := ctx.TypedArrayFromBytes(TypedArrayFloat64, data, func(b []byte) {
		calls.Add(1)
		released.Store(int32(len(b)))
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, testutil.ToFloat64(eng.metrics.transfers))

	for range 3 {
		runtime.GC()
	}
	assert.Zero(t, calls.Load(), "released while still reachable")
	runtime.KeepAlive(arr)

	require.NoError(t, ctx.Close())
	require.Eventually(t, func() bool {
		runtime.GC()
		return calls.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	runtime.GC()
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 64, released.Load())
	assert.Zero(t, testutil.ToFloat64(eng.metrics.transfers))
}

func TestTypedArrayCreationFailureReleasesOnce(t *testing.T) {
	ctx := newTestContext(t)

	var calls atomic.Int32
	data := []byte{1, 2, 3}
	_, err := ctx.TypedArrayFromBytes(TypedArrayInt32, data, func(b []byte) {
		calls.Add(1)
		assert.Len(t, b, 3)
	})
	require.Error(t, err)
	exc, ok := AsException(err)
	require.True(t, ok)
	msg, _ := exc.Message()
	assert.Contains(t, msg, "RangeError")
	assert.EqualValues(t, 1, calls.Load())

	for range 3 {
		runtime.GC()
	}
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, testutil.ToFloat64(ctx.Engine().metrics.transfers))
}

func TestTypedArrayOnClosedContextReleases(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.Close())

	var calls atomic.Int32
	_, err := ctx.TypedArrayFromBytes(TypedArrayUint8, []byte{1}, func([]byte) { calls.Add(1) })
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.EqualValues(t, 1, calls.Load())
}

func TestArrayBufferAndViews(t *testing.T) {
	ctx := newTestContext(t)

	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	buf, err := ctx.ArrayBufferFromBytes(data, nil)
	require.NoError(t, err)
	assert.Equal(t, TypedArrayArrayBuffer, buf.TypedArrayType())

	n, err := buf.ByteLength()
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	view, err := ctx.TypedArrayFromBuffer(TypedArrayUint16, buf)
	require.NoError(t, err)
	assert.Equal(t, TypedArrayUint16, view.TypedArrayType())
	assert.Equal(t, 4, view.Len())

	back, err := view.Buffer()
	require.NoError(t, err)
	assert.True(t, back.StrictEquals(buf.Value))

	raw, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestTypedArrayFromScript(t *testing.T) {
	ctx := newTestContext(t)

	v, err := ctx.Evaluate("new Uint8Array([9, 8, 7]).subarray(1)", 1)
	require.NoError(t, err)
	arr, err := v.AsObject()
	require.NoError(t, err)

	data, err := arr.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{8, 7}, data)
}

func TestBytesOfPlainObject(t *testing.T) {
	ctx := newTestContext(t)

	obj, err := ctx.NewObject()
	require.NoError(t, err)
	assert.Equal(t, TypedArrayNone, obj.TypedArrayType())

	_, err = obj.Bytes()
	assert.ErrorIs(t, err, ErrNotTypedArray)
	assert.True(t, IsUsageError(err))
	_, err = obj.ByteLength()
	assert.ErrorIs(t, err, ErrNotTypedArray)
}
