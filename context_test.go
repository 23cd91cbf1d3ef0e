package jsbridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloWorldRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	v, err := ctx.Evaluate("'hello, ' + 'world'", 1)
	require.NoError(t, err)
	assert.True(t, v.IsString())
	assert.Equal(t, "hello, world", v.String())
}

func TestThrownErrorDisplay(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.Evaluate("throw new Error('boom')", 1)
	require.Error(t, err)

	exc, ok := AsException(err)
	require.True(t, ok)
	msg, ok := exc.Message()
	require.True(t, ok)
	assert.Equal(t, "Error: boom", msg)
	assert.True(t, strings.HasPrefix(exc.Location(), "context_test.go:"), exc.Location())
	assert.Equal(t, exc.Location()+": Error: boom", err.Error())
	assert.True(t, exc.Value().IsObject())
}

func TestExceptionWithoutStringForm(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.Evaluate("throw { toString() { throw new Error('nope') } }", 1)
	exc, ok := AsException(err)
	require.True(t, ok)

	_, hasText := exc.Message()
	assert.False(t, hasText)
	assert.Contains(t, exc.Error(), "<no string representation>")
	assert.True(t, exc.Value().IsObject())
}

func TestSiblingsShareHeapButNotGlobals(t *testing.T) {
	val := must(t)
	ctx := newTestContext(t)

	sibling, err := ctx.NewSibling()
	require.NoError(t, err)
	defer sibling.Close()

	eng := ctx.Engine()
	group := ctx.group.Raw()
	assert.Equal(t, group, sibling.group.Raw())
	// root handle, sibling handle, and one per context inside the engine
	assert.Equal(t, 4, eng.bridge.GroupRefs(group))

	_, err = ctx.Evaluate("var shared = 'root'", 1)
	require.NoError(t, err)
	v, err := sibling.Evaluate("typeof shared", 1)
	require.NoError(t, err)
	assert.Equal(t, "undefined", v.String())

	// primitives cross between siblings
	s := val(ctx.String("crossing"))
	require.NoError(t, sibling.SetGlobal("received", s))
	v, err = sibling.Evaluate("received + '!'", 1)
	require.NoError(t, err)
	assert.Equal(t, "crossing!", v.String())

	require.NoError(t, sibling.Close())
	assert.Equal(t, 2, eng.bridge.GroupRefs(group))
}

func TestSiblingOutlivesRoot(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	root, err := eng.NewContext()
	require.NoError(t, err)
	sibling, err := root.NewSibling()
	require.NoError(t, err)
	defer sibling.Close()

	group := root.group.Raw()
	require.NoError(t, root.Close())
	assert.True(t, root.Closed())
	assert.Equal(t, 2, eng.bridge.GroupRefs(group))

	v, err := sibling.Evaluate("40 + 2", 1)
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())
}

func TestObjectsStayWithTheirContext(t *testing.T) {
	ctx := newTestContext(t)
	sibling, err := ctx.NewSibling()
	require.NoError(t, err)
	defer sibling.Close()

	obj, err := ctx.Evaluate("({a: 41})", 1)
	require.NoError(t, err)

	err = sibling.SetGlobal("received", obj)
	assert.ErrorIs(t, err, ErrCrossRuntimeObject)
	_, isException := AsException(err)
	assert.False(t, isException)

	_, err = sibling.ValueOf(obj)
	assert.ErrorIs(t, err, ErrCrossRuntimeObject)
	_, err = Protect(sibling.Context, obj)
	assert.ErrorIs(t, err, ErrCrossRuntimeObject)
	_, err = sibling.Array(obj)
	assert.ErrorIs(t, err, ErrCrossRuntimeObject)

	// another view of the creating context accepts it
	kept, err := ctx.Retain()
	require.NoError(t, err)
	defer kept.Close()
	require.NoError(t, kept.SetGlobal("received", obj))

	// primitives read out of it cross freely
	a, err := Object{obj}.Get("a")
	require.NoError(t, err)
	require.NoError(t, sibling.SetGlobal("a", a))
	v, err := sibling.Evaluate("a + 1", 1)
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())
}

func TestHostFunctionReturningSiblingObject(t *testing.T) {
	ctx := newTestContext(t)
	sibling, err := ctx.NewSibling()
	require.NoError(t, err)
	defer sibling.Close()

	foreign, err := sibling.Evaluate("({})", 1)
	require.NoError(t, err)
	require.NoError(t, ctx.SetFunction("leak", func(*Context, Value, []Value) (Value, error) {
		return foreign, nil
	}))

	v, err := ctx.Evaluate("try { leak(); 'no' } catch (e) { e.message }", 1)
	require.NoError(t, err)
	assert.Contains(t, v.String(), ErrCrossRuntimeObject.Error())
}

func TestValuesFromOtherGroupsAreRejected(t *testing.T) {
	val := must(t)
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	a, err := eng.NewContext()
	require.NoError(t, err)
	defer a.Close()
	b, err := eng.NewContext()
	require.NoError(t, err)
	defer b.Close()

	err = b.SetGlobal("foreign", val(a.Number(1)))
	assert.ErrorIs(t, err, ErrContextMismatch)
}

func TestCloseIsIdempotent(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	ctx, err := eng.NewContext()
	require.NoError(t, err)
	group := ctx.group.Raw()
	raw := ctx.exec.Raw()

	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())
	assert.Zero(t, eng.bridge.GroupRefs(group))
	assert.Zero(t, eng.bridge.ContextRefs(raw))

	_, err = ctx.Evaluate("1", 1)
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestValuesOfClosedContext(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	ctx, err := eng.NewContext()
	require.NoError(t, err)
	obj, err := ctx.Evaluate("({a: 1})", 1)
	require.NoError(t, err)
	require.NoError(t, ctx.Close())

	_, err = obj.ToJSON(0)
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.False(t, obj.IsObject())

	_, err = ctx.Number(42)
	assert.ErrorIs(t, err, ErrContextClosed)
	_, err = ctx.String("x")
	assert.ErrorIs(t, err, ErrContextClosed)
	_, err = ctx.Undefined()
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestPrimitivesOnClosedEngine(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	ctx, err := eng.NewContext()
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	_, err = ctx.Bool(true)
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestRetainKeepsContextAlive(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	ctx, err := eng.NewContext()
	require.NoError(t, err)
	raw := ctx.exec.Raw()

	kept, err := ctx.Retain()
	require.NoError(t, err)
	assert.Equal(t, 2, eng.bridge.ContextRefs(raw))

	require.NoError(t, ctx.Close())
	assert.False(t, kept.Closed())
	v, err := kept.Evaluate("'still here'", 1)
	require.NoError(t, err)
	assert.Equal(t, "still here", v.String())

	require.NoError(t, kept.Close())
	assert.True(t, kept.Closed())
	assert.Zero(t, eng.bridge.ContextRefs(raw))
}

func TestAdoptedContextIsRevokedAfterCallback(t *testing.T) {
	ctx := newTestContext(t)
	eng := ctx.Engine()
	raw := ctx.exec.Raw()

	var adopted *Context
	var retained *ExecutionContext
	var arg Value
	require.NoError(t, ctx.SetFunction("capture", func(c *Context, _ Value, args []Value) (Value, error) {
		adopted = c
		arg = args[0]
		if _, err := arg.Context().Evaluate("'inside'", 1); err != nil {
			return Value{}, err
		}
		assert.False(t, c.scope.revoked.Load())
		v, err := c.Evaluate("1 + 1", 1)
		if err != nil {
			return Value{}, err
		}
		retained, err = c.Retain()
		if err != nil {
			return Value{}, err
		}
		return v, nil
	}))

	// adoption itself does not retain
	before := eng.bridge.ContextRefs(raw)
	v, err := ctx.Evaluate("capture({})", 1)
	require.NoError(t, err)
	assert.Equal(t, "2", v.String())
	assert.Equal(t, before+1, eng.bridge.ContextRefs(raw))

	_, err = adopted.Evaluate("1", 1)
	assert.ErrorIs(t, err, ErrContextRevoked)
	_, err = adopted.Number(7)
	assert.ErrorIs(t, err, ErrContextRevoked)

	// views reached through values keep the callback's scope
	_, err = arg.Context().Evaluate("'still usable'", 1)
	assert.ErrorIs(t, err, ErrContextRevoked)
	assert.True(t, arg.IsObject())

	own, err := ctx.Evaluate("'owner'", 1)
	require.NoError(t, err)
	v, err = own.Context().Evaluate("'usable'", 1)
	require.NoError(t, err)
	assert.Equal(t, "usable", v.String())

	v, err = retained.Evaluate("3", 1)
	require.NoError(t, err)
	assert.Equal(t, "3", v.String())
	require.NoError(t, retained.Close())
	assert.Equal(t, before, eng.bridge.ContextRefs(raw))
}

func TestGlobals(t *testing.T) {
	val := must(t)
	ctx := newTestContext(t)

	require.NoError(t, ctx.SetGlobal("answer", val(ctx.Number(42))))
	v, err := ctx.Evaluate("answer", 1)
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())

	v, err = ctx.GetGlobal("missing")
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())

	global, err := ctx.GlobalObject()
	require.NoError(t, err)
	has, err := global.Has("answer")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStackOverflowIsRangeError(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{MaxCallStackSize: 128, DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()
	ctx, err := eng.NewContext()
	require.NoError(t, err)
	defer ctx.Close()

	_, err = ctx.Evaluate("function f() { return f(); } f()", 1)
	exc, ok := AsException(err)
	require.True(t, ok)
	msg, _ := exc.Message()
	assert.Equal(t, "RangeError: Maximum call stack size exceeded", msg)

	// the context stays usable
	v, err := ctx.Evaluate("'ok'", 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", v.String())
}
