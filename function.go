package jsbridge

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// HostFunc is a Go function callable from scripts.
//
// ctx is an adopted view of the calling context and is revoked when the
// function returns; use ctx.Retain to keep the context. Returning an
// *Exception rethrows its value, any other error is thrown as an Error
// carrying the error's message.
type HostFunc func(ctx *Context, this Value, args []Value) (Value, error)

// Function creates a script function that calls fn.
func (c *Context) Function(name string, fn HostFunc) (Object, error) {
	if err := c.enter(); err != nil {
		return Object{}, err
	}
	defer c.leave()

	e := c.state.engine
	cb := func(raw bridge.Context, function, this bridge.Value, args []bridge.Value, exception *bridge.Value) bridge.Value {
		ctx, revoke := adopt(e, raw)
		if ctx == nil {
			return 0
		}
		defer revoke()

		st := ctx.state
		thisVal := ctx.borrow(this)
		argVals := make([]Value, len(args))
		for i, arg := range args {
			argVals[i] = ctx.borrow(arg)
		}

		result, err := callHost(e, name, fn, ctx, thisVal, argVals)
		if err != nil {
			*exception = st.throwable(err)
			return 0
		}
		if err := ctx.admit(result); err != nil {
			*exception = st.throwable(fmt.Errorf("host function %s returned an unusable value: %w", name, err))
			return 0
		}
		// The engine takes over one reference; ours goes with result.
		defer runtime.KeepAlive(result.ref)
		return st.bridge().ValueRetain(st.raw, result.raw())
	}

	raw := e.bridge.ObjectMakeFunctionWithCallback(c.state.raw, name, cb)
	return Object{c.value(raw)}, nil
}

// SetFunction defines a host function as a global.
func (c *Context) SetFunction(name string, fn HostFunc) error {
	f, err := c.Function(name, fn)
	if err != nil {
		return err
	}
	return c.SetGlobal(name, f.Value)
}

func callHost(e *Engine, name string, fn HostFunc, ctx *Context, this Value, args []Value) (result Value, err error) {
	defer func() {
		if x := recover(); x != nil {
			e.logger.Error("host function panicked",
				zap.String("function", name),
				zap.Any("panic", x),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("host function %s panicked: %v", name, x)
		}
	}()
	return fn(ctx, this, args)
}

// ============================================================================
// Console
// ============================================================================

var consoleLevels = []string{"log", "info", "warn", "error", "debug"}

// installConsole defines the console global, routing output to the engine's
// console sink.
func installConsole(ctx *Context) error {
	console, err := ctx.NewObject()
	if err != nil {
		return err
	}
	sink := ctx.state.engine.console
	for _, level := range consoleLevels {
		fn, err := ctx.Function(level, func(_ *Context, _ Value, args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, arg := range args {
				parts[i] = arg.String()
			}
			sink(level, strings.Join(parts, " "))
			return Value{}, nil
		})
		if err != nil {
			return err
		}
		if err := console.Set(level, fn.Value); err != nil {
			return err
		}
	}
	return ctx.SetGlobal("console", console.Value)
}
