package jsbridge

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge/internal/bridge"
)

// mailbox queues jobs posted from other goroutines until the context's
// owner drains it.
type mailbox struct {
	mu     sync.Mutex
	jobs   []func(*Context)
	notify chan struct{}
}

func newMailbox() mailbox {
	return mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(job func(*Context)) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	m.wake()
}

// wake makes a waiting Await look at its promise again.
func (m *mailbox) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() []func(*Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.jobs
	m.jobs = nil
	return jobs
}

func (m *mailbox) discard() int {
	return len(m.take())
}

// post queues job for the owner. Jobs posted after the context closed are
// dropped.
func (st *contextState) post(job func(*Context)) bool {
	if st.closed.Load() {
		return false
	}
	st.mailbox.push(job)
	return true
}

// drain runs queued jobs until the mailbox is empty. Caller must hold the
// context lock.
func (st *contextState) drain() int {
	n := 0
	owner := &Context{state: st}
	for {
		jobs := st.mailbox.take()
		if len(jobs) == 0 {
			return n
		}
		for _, job := range jobs {
			st.runJob(owner, job)
			n++
		}
	}
}

func (st *contextState) runJob(owner *Context, job func(*Context)) {
	defer func() {
		if x := recover(); x != nil {
			st.engine.logger.Error("posted job panicked",
				zap.Uint32("context", uint32(st.raw)), zap.Any("panic", x))
		}
	}()
	job(owner)
}

// Post queues job to run on the goroutine that next drains the context,
// through RunPending, Await or the start of an evaluation. It is safe to
// call from any goroutine.
func (c *Context) Post(job func(*Context)) error {
	if c.state.closed.Load() {
		return errors.WithStack(ErrContextClosed)
	}
	if !c.state.post(job) {
		return errors.WithStack(ErrContextClosed)
	}
	return nil
}

// RunPending runs every posted job and reports how many ran. Promise
// reactions scheduled by those jobs run before RunPending returns.
func (c *Context) RunPending() (int, error) {
	if err := c.enter(); err != nil {
		return 0, err
	}
	defer c.leave()
	return c.state.drain(), nil
}

// Await drains posted jobs until v settles or goctx is done. A fulfilled
// promise yields its value, a rejected one its reason as an *Exception. A
// value that is not a promise is returned as is.
func (c *Context) Await(goctx context.Context, v Value) (Value, error) {
	for {
		if _, err := c.RunPending(); err != nil {
			return Value{}, err
		}
		state, result, err := c.promiseState(v)
		if err != nil {
			return Value{}, err
		}
		switch state {
		case bridge.PromiseNone:
			return v, nil
		case bridge.PromiseFulfilled:
			return result, nil
		case bridge.PromiseRejected:
			return Value{}, c.rejection(result)
		}

		select {
		case <-goctx.Done():
			return Value{}, errors.Wrap(goctx.Err(), "await")
		case <-c.state.mailbox.notify:
		}
	}
}

func (c *Context) promiseState(v Value) (bridge.PromiseStatus, Value, error) {
	if v.st == nil {
		return bridge.PromiseNone, Value{}, nil
	}
	if err := c.admit(v); err != nil {
		return bridge.PromiseNone, Value{}, err
	}
	done, err := v.acquire()
	if err != nil {
		return bridge.PromiseNone, Value{}, err
	}
	defer done()
	state, raw := v.st.bridge().PromiseState(v.st.raw, v.raw())
	return state, v.derive(raw), nil
}

// rejection captures a rejection reason as an exception.
func (c *Context) rejection(reason Value) error {
	done, err := reason.acquire()
	if err != nil {
		return err
	}
	defer done()
	st := reason.st
	return reason.raise(st.bridge().ValueRetain(st.raw, reason.raw()))
}
