// Package jsbridge makes a reference-counted, garbage-collected script engine
// safe to drive from Go.
//
// The engine is reached through a C-style ABI (see internal/bridge): heap
// groups and execution contexts are reference counted, values are traced by
// the engine's collector, and exceptions come back through nullable
// out-parameters. This package wraps those rules in ownership types:
// Handle for retain/release pairs, ProtectedValue for collector roots,
// Exception for the out-parameter protocol, and Deferred for promises that
// are completed after the call that created them has returned.
//
// Basic usage:
//
//	eng, err := jsbridge.NewEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	ctx, err := eng.NewContext()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	result, err := ctx.Evaluate("'hello, ' + 'world'", 1)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.String()) // Output: hello, world
package jsbridge

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// Config holds Engine settings. The zero value is usable.
type Config struct {
	// Logger receives lifecycle, leak and host-function diagnostics.
	// Defaults to the package logger.
	Logger *zap.Logger

	// Registerer, when set, receives the engine's prometheus collectors.
	Registerer prometheus.Registerer

	// MaxCallStackSize limits script recursion depth. Zero keeps the engine default.
	MaxCallStackSize int

	// Console receives console.* output from scripts. Defaults to stdout.
	Console func(level, message string)

	// DisableConsole skips installing the console global on new contexts.
	DisableConsole bool
}

// Engine owns one engine instance and every context created from it.
type Engine struct {
	bridge  *bridge.Bridge
	logger  *zap.Logger
	metrics *metrics
	console func(level, message string)
	noCons  bool
	closed  atomic.Bool
}

// NewEngine creates an engine with default settings.
func NewEngine() (*Engine, error) {
	return NewEngineWithConfig(nil)
}

// NewEngineWithConfig creates an engine with the given settings.
func NewEngineWithConfig(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = Logger()
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register engine metrics")
	}
	console := cfg.Console
	if console == nil {
		console = func(_, message string) { fmt.Fprintln(os.Stdout, message) }
	}

	e := &Engine{
		bridge: bridge.New(bridge.Options{
			MaxCallStackSize: cfg.MaxCallStackSize,
			Logger:           logger.Named("bridge"),
		}),
		logger:  logger,
		metrics: m,
		console: console,
		noCons:  cfg.DisableConsole,
	}
	logger.Debug("engine created", zap.Int("max_call_stack_size", cfg.MaxCallStackSize))
	return e, nil
}

// Close invalidates every context, value and handle created by the engine.
// Calling Close more than once is a no-op.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.bridge.Close()
	e.logger.Debug("engine closed")
	return nil
}

// GarbageCollect runs a full collection. Values that are no longer reachable
// from Go are released, and host buffers lent to the engine are handed back
// once scripts no longer reference them.
func (e *Engine) GarbageCollect() {
	runtime.GC()
}

// NewContext creates a context in a fresh heap group.
func (e *Engine) NewContext() (*ExecutionContext, error) {
	if e.closed.Load() {
		return nil, errors.WithStack(ErrEngineClosed)
	}
	group := e.groupHandle(e.bridge.GroupCreate(), true)
	return e.newContextInGroup(group)
}

// newContextInGroup creates a context in the group owned by group. On failure
// group is released.
func (e *Engine) newContextInGroup(group *Handle[bridge.Group]) (*ExecutionContext, error) {
	raw := e.bridge.GlobalContextCreateInGroup(group.Raw())
	if raw == 0 {
		group.Release()
		return nil, errors.Wrap(ErrInvalidContext, "engine refused to create a context")
	}
	exec := e.contextHandle(raw, true)

	st := newContextState(e, raw, group.Raw())
	e.bridge.SetContextData(raw, st)

	ec := &ExecutionContext{Context: &Context{state: st}, group: group, exec: exec}
	if !e.noCons {
		if err := installConsole(ec.Context); err != nil {
			_ = ec.Close()
			return nil, errors.Wrap(err, "failed to add console support")
		}
	}
	e.logger.Debug("context created",
		zap.Uint32("context", uint32(raw)),
		zap.Uint32("group", uint32(group.Raw())))
	return ec, nil
}

// ============================================================================
// Handles
// ============================================================================

func (e *Engine) groupHandle(g bridge.Group, alreadyRetained bool) *Handle[bridge.Group] {
	return newHandle(g, alreadyRetained,
		func(g bridge.Group) {
			e.metrics.retains.WithLabelValues("group").Inc()
			e.bridge.GroupRetain(g)
		},
		func(g bridge.Group) {
			e.metrics.releases.WithLabelValues("group").Inc()
			e.bridge.GroupRelease(g)
		},
		func(g bridge.Group) {
			e.metrics.leaks.WithLabelValues("group").Inc()
			e.logger.Warn("heap group leaked without release", zap.Uint32("group", uint32(g)))
		})
}

func (e *Engine) contextHandle(c bridge.Context, alreadyRetained bool) *Handle[bridge.Context] {
	return newHandle(c, alreadyRetained,
		func(c bridge.Context) {
			e.metrics.retains.WithLabelValues("context").Inc()
			e.bridge.GlobalContextRetain(c)
		},
		func(c bridge.Context) {
			e.metrics.releases.WithLabelValues("context").Inc()
			st, _ := e.bridge.ContextData(c).(*contextState)
			e.bridge.GlobalContextRelease(c)
			if st != nil && e.bridge.ContextRefs(c) == 0 {
				st.shutdown()
			}
		},
		func(c bridge.Context) {
			e.metrics.leaks.WithLabelValues("context").Inc()
			e.logger.Warn("context leaked without close", zap.Uint32("context", uint32(c)))
		})
}
