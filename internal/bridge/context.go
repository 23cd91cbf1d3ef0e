package bridge

import (
	"runtime"
	"strings"

	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// intrinsics are captured once per context so host operations keep working
// when scripts overwrite the corresponding globals.
type intrinsics struct {
	errorCtor   *goja.Object
	rangeError  *goja.Object
	syntaxError *goja.Object

	typedArrayTag        goja.Callable
	typedArrayBuffer     goja.Callable
	typedArrayByteOffset goja.Callable
	typedArrayByteLength goja.Callable
	typedArrayLength     goja.Callable
	typedArrays          map[TypedArrayType]*goja.Object

	deferred  goja.Callable
	has       goja.Callable
	remove    goja.Callable
	isArray   goja.Callable
	parse     goja.Callable
	stringify goja.Callable
	typeOf    goja.Callable
	toString  goja.Callable
}

const bootstrap = `(function () {
	var ta = Object.getPrototypeOf(Uint8Array.prototype);
	function getter(name) { return Object.getOwnPropertyDescriptor(ta, name).get; }
	return {
		error: Error,
		rangeError: RangeError,
		syntaxError: SyntaxError,
		typedArrayTag: getter(Symbol.toStringTag),
		typedArrayBuffer: getter("buffer"),
		typedArrayByteOffset: getter("byteOffset"),
		typedArrayByteLength: getter("byteLength"),
		typedArrayLength: getter("length"),
		deferred: function () {
			var resolve, reject;
			var promise = new Promise(function (res, rej) { resolve = res; reject = rej; });
			return [promise, resolve, reject];
		},
		has: function (o, k) { return k in o; },
		remove: function (o, k) { return delete o[k]; },
		isArray: Array.isArray,
		parse: JSON.parse,
		stringify: JSON.stringify,
		typeOf: function (v) { return typeof v; },
		toString: String
	};
})()`

func loadIntrinsics(rt *goja.Runtime) (*intrinsics, error) {
	v, err := rt.RunScript("<intrinsics>", bootstrap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load engine intrinsics")
	}
	obj := v.ToObject(rt)

	fn := func(name string) goja.Callable {
		f, _ := goja.AssertFunction(obj.Get(name))
		return f
	}
	ctor := func(name string) *goja.Object {
		o, _ := obj.Get(name).(*goja.Object)
		return o
	}

	in := &intrinsics{
		errorCtor:            ctor("error"),
		rangeError:           ctor("rangeError"),
		syntaxError:          ctor("syntaxError"),
		typedArrayTag:        fn("typedArrayTag"),
		typedArrayBuffer:     fn("typedArrayBuffer"),
		typedArrayByteOffset: fn("typedArrayByteOffset"),
		typedArrayByteLength: fn("typedArrayByteLength"),
		typedArrayLength:     fn("typedArrayLength"),
		deferred:             fn("deferred"),
		has:                  fn("has"),
		remove:               fn("remove"),
		isArray:              fn("isArray"),
		parse:                fn("parse"),
		stringify:            fn("stringify"),
		typeOf:               fn("typeOf"),
		toString:             fn("toString"),
		typedArrays:          make(map[TypedArrayType]*goja.Object, len(typedArrayNames)),
	}
	for kind, name := range typedArrayNames {
		c, ok := rt.Get(name).(*goja.Object)
		if !ok {
			return nil, errors.Errorf("engine has no %s constructor", name)
		}
		in.typedArrays[kind] = c
	}
	return in, nil
}

// ============================================================================
// Heap groups
// ============================================================================

// GroupCreate creates a heap group with a reference count of one.
func (b *Bridge) GroupCreate() Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := Group(b.nextHandle())
	b.groups[g] = &groupRecord{refs: 1}
	return g
}

// GroupRetain increments the reference count of g.
func (b *Bridge) GroupRetain(g Group) Group {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.groups[g]; ok {
		rec.refs++
	}
	return g
}

// GroupRelease decrements the reference count of g and destroys it at zero.
func (b *Bridge) GroupRelease(g Group) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseGroupLocked(g)
}

func (b *Bridge) releaseGroupLocked(g Group) {
	rec, ok := b.groups[g]
	if !ok {
		return
	}
	rec.refs--
	if rec.refs <= 0 {
		delete(b.groups, g)
	}
}

// GroupRefs reports the reference count of g, zero once it is destroyed.
func (b *Bridge) GroupRefs(g Group) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.groups[g]; ok {
		return rec.refs
	}
	return 0
}

// ============================================================================
// Execution contexts
// ============================================================================

// GlobalContextCreateInGroup creates an execution context with fresh globals
// in group g, retaining g. A zero g creates a private group. The new context
// has a reference count of one. It returns zero on failure.
func (b *Bridge) GlobalContextCreateInGroup(g Group) Context {
	rt := goja.New()
	if b.maxCallStackSize > 0 {
		rt.SetMaxCallStackSize(b.maxCallStackSize)
	}
	in, err := loadIntrinsics(rt)
	if err != nil {
		b.logger.Error("context creation failed", zap.Error(err))
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if g == 0 {
		g = Group(b.nextHandle())
		b.groups[g] = &groupRecord{}
	}
	grp, ok := b.groups[g]
	if !ok {
		return 0
	}
	grp.refs++

	c := Context(b.nextHandle())
	b.contexts[c] = &contextRecord{id: c, group: g, refs: 1, rt: rt, in: in}
	return c
}

// GlobalContextRetain increments the reference count of c.
func (b *Bridge) GlobalContextRetain(c Context) Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.contexts[c]; ok {
		rec.refs++
	}
	return c
}

// GlobalContextRelease decrements the reference count of c. At zero the
// context is destroyed together with every value handle it created, and its
// reference on the heap group is released.
func (b *Bridge) GlobalContextRelease(c Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.contexts[c]
	if !ok {
		return
	}
	rec.refs--
	if rec.refs > 0 {
		return
	}
	delete(b.contexts, c)
	for h, v := range b.values {
		if v.ctx == c {
			delete(b.values, h)
		}
	}
	b.releaseGroupLocked(rec.group)
}

// ContextRefs reports the reference count of c, zero once it is destroyed.
func (b *Bridge) ContextRefs(c Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.contexts[c]; ok {
		return rec.refs
	}
	return 0
}

// ContextGetGroup returns the heap group of c without retaining it.
func (b *Bridge) ContextGetGroup(c Context) Group {
	if cr := b.context(c); cr != nil {
		return cr.group
	}
	return 0
}

// ContextGetGlobalContext returns the global context that c belongs to.
func (b *Bridge) ContextGetGlobalContext(c Context) Context {
	if cr := b.context(c); cr != nil {
		return cr.id
	}
	return 0
}

// SetContextData attaches opaque host data to c.
func (b *Bridge) SetContextData(c Context, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.contexts[c]; ok {
		rec.data = data
	}
}

// ContextData returns the host data attached to c.
func (b *Bridge) ContextData(c Context) any {
	if cr := b.context(c); cr != nil {
		return cr.data
	}
	return nil
}

// ContextGetGlobalObject returns the global object of c.
func (b *Bridge) ContextGetGlobalObject(c Context) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	return b.wrap(cr, cr.rt.GlobalObject())
}

// ============================================================================
// Evaluation
// ============================================================================

// EvaluateScript runs script in c. A non-zero this must be the global object.
// startingLine is the 1-based line number reported for the first line of the
// script. On failure it returns zero and sets *exception.
func (b *Bridge) EvaluateScript(c Context, script string, this Value, sourceURL string, startingLine int, exception *Value) Value {
	cr := b.context(c)
	if cr == nil {
		return 0
	}
	if sourceURL == "" {
		sourceURL = "<eval>"
	}
	src := script
	if startingLine > 1 {
		src = strings.Repeat("\n", startingLine-1) + script
	}

	var result goja.Value
	ok := b.run(cr, exception, func() error {
		if this != 0 {
			if obj, isObject := b.resolve(cr, this).(*goja.Object); !isObject || obj != cr.rt.GlobalObject() {
				panic(cr.rt.NewTypeError("scripts can only be evaluated with the global object as this"))
			}
		}
		var err error
		result, err = cr.rt.RunScript(sourceURL, src)
		return err
	})
	if !ok {
		return 0
	}
	return b.wrap(cr, result)
}

// CheckScriptSyntax reports whether script parses. On a syntax error it
// returns false and sets *exception to a SyntaxError.
func (b *Bridge) CheckScriptSyntax(c Context, script, sourceURL string, startingLine int, exception *Value) bool {
	cr := b.context(c)
	if cr == nil {
		return false
	}
	src := script
	if startingLine > 1 {
		src = strings.Repeat("\n", startingLine-1) + script
	}
	return b.run(cr, exception, func() error {
		_, err := goja.Compile(sourceURL, src, false)
		return err
	})
}

// GarbageCollect asks the collector to reclaim unreachable values. Handles
// still held by the host or protected stay valid.
func (b *Bridge) GarbageCollect(c Context) {
	if b.context(c) == nil {
		return
	}
	runtime.GC()
}
