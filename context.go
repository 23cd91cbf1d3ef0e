package jsbridge

import (
	"os"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// contextState is shared by every view of one engine context and is stored
// as the context's opaque data. It must not reference the owning handles,
// so dropping the last ExecutionContext can still release them.
type contextState struct {
	engine  *Engine
	raw     bridge.Context
	group   bridge.Group
	lock    reentrantLock
	mailbox mailbox
	closed  atomic.Bool
}

func newContextState(e *Engine, raw bridge.Context, group bridge.Group) *contextState {
	return &contextState{
		engine:  e,
		raw:     raw,
		group:   group,
		mailbox: newMailbox(),
	}
}

func (st *contextState) bridge() *bridge.Bridge { return st.engine.bridge }

// sameGroup reports whether other shares st's heap group. Group handles are
// only unique within one engine.
func (st *contextState) sameGroup(other *contextState) bool {
	return st.engine == other.engine && st.group == other.group
}

func (st *contextState) admit(v Value) error {
	if v.st == nil || v.st == st {
		return nil
	}
	if !st.sameGroup(v.st) {
		return errors.WithStack(ErrContextMismatch)
	}
	defer runtime.KeepAlive(v.ref)
	if !st.bridge().ValueShareable(st.raw, v.raw()) {
		return errors.WithStack(ErrCrossRuntimeObject)
	}
	return nil
}

// enter locks the context for the calling goroutine.
func (st *contextState) enter() error {
	if st.engine.closed.Load() {
		return errors.WithStack(ErrEngineClosed)
	}
	st.lock.lock()
	if st.closed.Load() {
		st.lock.unlock()
		return errors.WithStack(ErrContextClosed)
	}
	return nil
}

func (st *contextState) leave() {
	st.lock.unlock()
}

// shutdown marks the context dead once the engine has destroyed it.
func (st *contextState) shutdown() {
	if !st.closed.CompareAndSwap(false, true) {
		return
	}
	if n := st.mailbox.discard(); n > 0 {
		st.engine.logger.Warn("context closed with pending jobs",
			zap.Uint32("context", uint32(st.raw)), zap.Int("jobs", n))
	}
	st.engine.logger.Debug("context destroyed", zap.Uint32("context", uint32(st.raw)))
}

// value takes ownership of a handle returned by the engine.
func (st *contextState) value(raw bridge.Value) Value {
	if raw == 0 {
		return Value{}
	}
	return newValue(st, raw)
}

// borrow wraps a handle the engine still owns, such as a callback argument.
func (st *contextState) borrow(raw bridge.Value) Value {
	if raw == 0 {
		return Value{}
	}
	return newValue(st, st.bridge().ValueRetain(st.raw, raw))
}

// value takes ownership of raw as a value of this view.
func (c *Context) value(raw bridge.Value) Value {
	v := c.state.value(raw)
	v.scope = c.scope
	return v
}

// borrow wraps a handle the engine still owns as a value of this view.
func (c *Context) borrow(raw bridge.Value) Value {
	v := c.state.borrow(raw)
	v.scope = c.scope
	return v
}

// raise captures the thrown handle raw under this view.
func (c *Context) raise(raw bridge.Value) error {
	exc := c.state.captureException(raw)
	exc.value.scope = c.scope
	return exc
}

// scope limits an adopted view to the callback that produced it.
type scope struct {
	revoked atomic.Bool
}

// Context is an operational view of an engine context. It exposes every
// operation but owns nothing: an *ExecutionContext embeds one, and host
// functions receive an adopted one that stops working when the function
// returns. Call Retain to keep a context beyond that.
type Context struct {
	state *contextState
	scope *scope
}

// ExecutionContext owns one reference on an engine context and one on its
// heap group. Close gives both back.
type ExecutionContext struct {
	*Context
	group *Handle[bridge.Group]
	exec  *Handle[bridge.Context]
}

// adopt returns a non-owning view of an engine-supplied context, together
// with the function that revokes it. It performs no retain or release.
func adopt(e *Engine, raw bridge.Context) (*Context, func()) {
	st, ok := e.bridge.ContextData(raw).(*contextState)
	if !ok {
		return nil, func() {}
	}
	sc := &scope{}
	return &Context{state: st, scope: sc}, func() { sc.revoked.Store(true) }
}

func (c *Context) enter() error {
	if c == nil || c.state == nil {
		return errors.WithStack(ErrInvalidContext)
	}
	if c.scope != nil && c.scope.revoked.Load() {
		return errors.WithStack(ErrContextRevoked)
	}
	return c.state.enter()
}

func (c *Context) leave() {
	c.state.leave()
}

// admit reports why v cannot be used in this context, or nil if it can.
// Primitives move freely between the contexts of a heap group; objects stay
// with the context whose runtime created them.
func (c *Context) admit(v Value) error {
	return c.state.admit(v)
}

// Engine returns the engine the context belongs to.
func (c *Context) Engine() *Engine {
	return c.state.engine
}

// Closed reports whether the engine context has been destroyed.
func (c *Context) Closed() bool {
	return c.state.closed.Load()
}

// Retain returns a new owning reference to this context. It works on adopted
// views too, which is how a host function keeps its calling context alive.
func (c *Context) Retain() (*ExecutionContext, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	e := c.state.engine
	exec := e.contextHandle(c.state.raw, false)
	group := e.groupHandle(e.bridge.ContextGetGroup(c.state.raw), false)
	return &ExecutionContext{Context: &Context{state: c.state}, group: group, exec: exec}, nil
}

// NewSibling creates a context in the same heap group. It gets fresh
// globals and its own runtime, and keeps the group alive on its own.
func (ec *ExecutionContext) NewSibling() (*ExecutionContext, error) {
	if err := ec.enter(); err != nil {
		return nil, err
	}
	e := ec.state.engine
	g := e.bridge.ContextGetGroup(ec.exec.Raw())
	ec.leave()
	if g == 0 {
		return nil, errors.WithStack(ErrContextClosed)
	}
	return e.newContextInGroup(e.groupHandle(g, false))
}

// Close releases the execution handle and then the heap group. Only the
// first call has an effect.
func (ec *ExecutionContext) Close() error {
	st := ec.state
	st.lock.lock()
	defer st.lock.unlock()
	if ec.exec.Release() {
		ec.group.Release()
	}
	return nil
}

// ============================================================================
// Evaluation
// ============================================================================

// Evaluate runs source in the global scope. startingLine is the line number
// reported for the first line of source.
func (c *Context) Evaluate(source string, startingLine int) (Value, error) {
	return c.EvaluateScript(source, "", startingLine)
}

// EvaluateScript runs source, naming it sourceURL in stack traces. Jobs
// posted to the context are run first. A thrown value is returned as an
// *Exception.
func (c *Context) EvaluateScript(source, sourceURL string, startingLine int) (Value, error) {
	if err := c.enter(); err != nil {
		return Value{}, err
	}
	defer c.leave()

	c.state.drain()

	st := c.state
	var exc bridge.Value
	raw := st.bridge().EvaluateScript(st.raw, source, 0, sourceURL, startingLine, &exc)
	if exc != 0 {
		return Value{}, c.raise(exc)
	}
	return c.value(raw), nil
}

// EvaluateFile reads and runs the script at path.
func (c *Context) EvaluateFile(path string) (Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Value{}, errors.Wrapf(err, "failed to read script %s", path)
	}
	return c.EvaluateScript(string(src), path, 1)
}

// CheckSyntax parses source without running it. A syntax error is returned
// as an *Exception holding a SyntaxError.
func (c *Context) CheckSyntax(source string) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	st := c.state
	var exc bridge.Value
	if !st.bridge().CheckScriptSyntax(st.raw, source, "<check>", 1, &exc) && exc != 0 {
		return c.raise(exc)
	}
	return nil
}

// GarbageCollect runs a full collection. It must not be called while a
// script of this context is running on another goroutine.
func (c *Context) GarbageCollect() {
	runtime.GC()
}

// ============================================================================
// Globals
// ============================================================================

// GlobalObject returns the global object.
func (c *Context) GlobalObject() (Object, error) {
	if err := c.enter(); err != nil {
		return Object{}, err
	}
	defer c.leave()
	return Object{c.value(c.state.bridge().ContextGetGlobalObject(c.state.raw))}, nil
}

// SetGlobal sets a property on the global object.
func (c *Context) SetGlobal(name string, v Value) error {
	global, err := c.GlobalObject()
	if err != nil {
		return err
	}
	return global.Set(name, v)
}

// GetGlobal reads a property of the global object.
func (c *Context) GetGlobal(name string) (Value, error) {
	global, err := c.GlobalObject()
	if err != nil {
		return Value{}, err
	}
	return global.Get(name)
}
