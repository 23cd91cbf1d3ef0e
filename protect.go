package jsbridge

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// ProtectedValue keeps a script value alive independently of Go
// reachability, for example while a script callback is stored in a host
// data structure. The protection is released exactly once, against the same
// context that established it.
type ProtectedValue struct {
	value   Value
	guard   *protection
	cleanup runtime.Cleanup
}

// protection is the part of a ProtectedValue the leak cleanup needs. It must
// not reference the ProtectedValue.
type protection struct {
	st       *contextState
	raw      bridge.Value
	released atomic.Bool
}

func (p *protection) release() bool {
	if !p.released.CompareAndSwap(false, true) {
		return false
	}
	// Unprotect only touches the handle table, so it may run on the
	// collector's goroutine as well.
	p.st.bridge().ValueUnprotect(p.st.raw, p.raw)
	p.st.engine.metrics.unprotect.Inc()
	return true
}

// Protect roots v in ctx. The context must be alive and v must belong to its
// heap group.
func Protect(ctx *Context, v Value) (*ProtectedValue, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()
	if v.st == nil {
		return nil, errors.Wrap(ErrInvalidContext, "cannot protect the zero value")
	}
	if err := ctx.admit(v); err != nil {
		return nil, err
	}
	return ctx.state.protect(v), nil
}

// protect is Protect with the context lock already held.
func (st *contextState) protect(v Value) *ProtectedValue {
	st.bridge().ValueProtect(st.raw, v.raw())
	st.engine.metrics.protects.Inc()

	pv := &ProtectedValue{
		value: v,
		guard: &protection{st: st, raw: v.raw()},
	}
	pv.cleanup = runtime.AddCleanup(pv, func(p *protection) {
		if p.release() {
			p.st.engine.metrics.leaks.WithLabelValues("protection").Inc()
			p.st.engine.logger.Warn("protected value dropped without release",
				zap.Uint32("value", uint32(p.raw)))
		}
	}, pv.guard)
	return pv
}

// Value returns the protected value.
func (p *ProtectedValue) Value() Value {
	return p.value
}

// Release removes the protection. Only the first call has an effect; it
// reports whether this call released it.
func (p *ProtectedValue) Release() bool {
	if !p.guard.release() {
		return false
	}
	p.cleanup.Stop()
	return true
}

// Released reports whether Release has run.
func (p *ProtectedValue) Released() bool {
	return p.guard.released.Load()
}
