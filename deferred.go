package jsbridge

import (
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// Deferred is a pending promise together with the protected functions that
// settle it. It completes at most once; afterwards both functions are
// unprotected and further completions fail with ErrAlreadyCompleted.
//
// Resolve, Reject, RejectError and Complete take the context lock, so a
// call from another goroutine blocks while a script runs there. Completer is
// the non-blocking way to settle from other goroutines.
type Deferred struct {
	core    *deferredCore
	cleanup runtime.Cleanup
}

// deferredCore is everything the drop cleanup needs. It must not reference
// the Deferred.
type deferredCore struct {
	id        uuid.UUID
	st        *contextState
	promise   *ProtectedValue
	resolve   *ProtectedValue
	reject    *ProtectedValue
	completed atomic.Bool
	closed    atomic.Bool
}

// NewDeferred creates a pending promise in ctx.
func NewDeferred(ctx *Context) (*Deferred, error) {
	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	st := ctx.state
	b := st.bridge()
	var resolve, reject, exc bridge.Value
	promise := b.ObjectMakeDeferredPromise(st.raw, &resolve, &reject, &exc)
	if exc != 0 {
		return nil, ctx.raise(exc)
	}
	if promise == 0 || resolve == 0 || reject == 0 {
		for _, raw := range []bridge.Value{promise, resolve, reject} {
			b.ValueRelease(st.raw, raw)
		}
		return nil, errors.WithStack(ErrDeferredUnavailable)
	}

	core := &deferredCore{
		id:      uuid.New(),
		st:      st,
		promise: st.protect(ctx.value(promise)),
		resolve: st.protect(st.value(resolve)),
		reject:  st.protect(st.value(reject)),
	}
	st.engine.metrics.pending.Inc()

	d := &Deferred{core: core}
	d.cleanup = runtime.AddCleanup(d, func(core *deferredCore) {
		posted := core.st.post(func(*Context) {
			core.drop("deferred dropped without close")
		})
		if !posted {
			core.abandon()
		}
	}, core)
	return d, nil
}

// ID identifies the deferred in logs.
func (d *Deferred) ID() uuid.UUID {
	return d.core.id
}

// Promise returns the promise handed to scripts.
func (d *Deferred) Promise() Value {
	return d.core.promise.Value()
}

// Completed reports whether the deferred has been settled.
func (d *Deferred) Completed() bool {
	return d.core.completed.Load()
}

// Resolve fulfills the promise with v.
func (d *Deferred) Resolve(v Value) error {
	return d.core.settle(true, v)
}

// Reject rejects the promise with the exception's value.
func (d *Deferred) Reject(exc *Exception) error {
	if exc == nil {
		return d.RejectError(errors.New("rejected"))
	}
	return d.core.settle(false, exc.value)
}

// RejectError rejects the promise with an Error carrying err's message. An
// *Exception in err's chain is rejected with its original value.
func (d *Deferred) RejectError(err error) error {
	var exc *Exception
	if errors.As(err, &exc) {
		return d.Reject(exc)
	}
	reason, cerr := d.core.errorValue(err.Error())
	if cerr != nil {
		return cerr
	}
	return d.core.settle(false, reason)
}

// Complete resolves with v when err is nil and rejects otherwise.
func (d *Deferred) Complete(v Value, err error) error {
	if err != nil {
		return d.RejectError(err)
	}
	return d.Resolve(v)
}

// Close rejects a still-pending promise with ErrDroppedWithoutCompletion and
// releases every protection. The promise value stays usable.
func (d *Deferred) Close() error {
	if !d.core.drop("") {
		return nil
	}
	d.cleanup.Stop()
	return nil
}

// Completer returns a handle that completes d from any goroutine.
func (d *Deferred) Completer() *Completer {
	return &Completer{d: d}
}

func (c *deferredCore) errorValue(message string) (Value, error) {
	if err := c.st.enter(); err != nil {
		return Value{}, err
	}
	defer c.st.leave()

	var exc bridge.Value
	raw := c.st.bridge().ObjectMakeError(c.st.raw, message, &exc)
	if exc != 0 {
		return Value{}, c.st.exception(exc)
	}
	return c.st.value(raw), nil
}

// settle calls resolve or reject with v, then unprotects both functions.
func (c *deferredCore) settle(fulfill bool, v Value) error {
	if err := c.st.admit(v); err != nil {
		return err
	}
	if !c.completed.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrAlreadyCompleted, "deferred %s", c.id)
	}
	defer c.st.engine.metrics.pending.Dec()
	defer c.resolve.Release()
	defer c.reject.Release()

	if err := c.st.enter(); err != nil {
		return err
	}
	defer c.st.leave()
	defer runtime.KeepAlive(v.ref)

	fn := c.reject
	if fulfill {
		fn = c.resolve
	}
	st := c.st
	var exc bridge.Value
	st.bridge().ObjectCallAsFunction(st.raw, fn.Value().raw(), 0, []bridge.Value{v.raw()}, &exc)
	st.mailbox.wake()
	if exc != 0 {
		return st.exception(exc)
	}
	return nil
}

// drop rejects a pending deferred and releases the promise protection. It
// reports whether this call did the work.
func (c *deferredCore) drop(reason string) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	if !c.completed.Load() {
		if reason != "" {
			c.st.engine.logger.Warn(reason, zap.Stringer("deferred", c.id))
		}
		if v, err := c.errorValue(ErrDroppedWithoutCompletion.Error()); err == nil {
			if err := c.settle(false, v); err != nil && !errors.Is(err, ErrAlreadyCompleted) {
				c.st.engine.logger.Debug("rejecting dropped deferred failed",
					zap.Stringer("deferred", c.id), zap.Error(err))
			}
		} else {
			c.abandon()
		}
	}
	c.promise.Release()
	return true
}

// abandon settles the bookkeeping of a deferred whose context is gone.
func (c *deferredCore) abandon() {
	if c.completed.CompareAndSwap(false, true) {
		c.st.engine.metrics.pending.Dec()
		c.resolve.Release()
		c.reject.Release()
	}
	c.promise.Release()
}

// ============================================================================
// Completer
// ============================================================================

// Completer settles a Deferred from any goroutine by posting the completion
// to the owning context. Only the first completion is posted.
type Completer struct {
	d    *Deferred
	sent atomic.Bool
}

// Resolve posts a fulfillment with the Go value x, converted with ValueOf.
func (c *Completer) Resolve(x any) error {
	return c.CompleteWith(func(ctx *Context) (Value, error) {
		return ctx.ValueOf(x)
	})
}

// Reject posts a rejection with an Error carrying err's message.
func (c *Completer) Reject(err error) error {
	return c.CompleteWith(func(*Context) (Value, error) {
		return Value{}, err
	})
}

// Complete posts Resolve(x) when err is nil and Reject(err) otherwise.
func (c *Completer) Complete(x any, err error) error {
	if err != nil {
		return c.Reject(err)
	}
	return c.Resolve(x)
}

// CompleteWith posts build to the owning context and completes the deferred
// with its result there. Values are only ever built on the owning side. Once
// the completion has run the deferred is closed.
func (c *Completer) CompleteWith(build func(*Context) (Value, error)) error {
	if !c.sent.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrAlreadyCompleted, "deferred %s", c.d.core.id)
	}
	d := c.d
	if !d.core.st.post(func(ctx *Context) {
		v, err := build(ctx)
		if err := d.Complete(v, err); err != nil {
			ctx.state.engine.logger.Warn("posted completion failed",
				zap.Stringer("deferred", d.core.id), zap.Error(err))
		}
		_ = d.Close()
	}) {
		return errors.WithStack(ErrContextClosed)
	}
	return nil
}
