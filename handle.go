package jsbridge

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
)

// RawHandle is any integer handle type handed out by the engine.
type RawHandle interface {
	~uint32 | ~uint64 | ~uintptr
}

// Handle owns one reference on a reference-counted engine handle. Release
// gives the reference back exactly once; Clone takes another one.
//
// A Handle that becomes unreachable without Release is released by the
// collector and reported as a leak.
type Handle[T RawHandle] struct {
	state   *handleState[T]
	retain  func(T)
	cleanup runtime.Cleanup
}

// handleState is kept apart from Handle so the leak cleanup can run without
// keeping the Handle reachable.
type handleState[T RawHandle] struct {
	raw      T
	released atomic.Bool
	release  func(T)
	onLeak   func(T)
}

func (s *handleState[T]) releaseOnce() bool {
	if !s.released.CompareAndSwap(false, true) {
		return false
	}
	s.release(s.raw)
	return true
}

// NewHandle takes ownership of raw. Unless alreadyRetained is set, raw is
// retained once first.
func NewHandle[T RawHandle](raw T, alreadyRetained bool, retain, release func(T)) *Handle[T] {
	return newHandle(raw, alreadyRetained, retain, release, func(raw T) {
		Logger().Warn("handle leaked without release", zap.Uint64("handle", uint64(raw)))
	})
}

func newHandle[T RawHandle](raw T, alreadyRetained bool, retain, release func(T), onLeak func(T)) *Handle[T] {
	if !alreadyRetained {
		retain(raw)
	}
	st := &handleState[T]{raw: raw, release: release, onLeak: onLeak}
	h := &Handle[T]{state: st, retain: retain}
	h.cleanup = runtime.AddCleanup(h, func(st *handleState[T]) {
		if st.releaseOnce() && st.onLeak != nil {
			st.onLeak(st.raw)
		}
	}, st)
	return h
}

// Clone returns an independent owner of the same engine handle, or nil once
// h has been released.
func (h *Handle[T]) Clone() *Handle[T] {
	if h.state.released.Load() {
		return nil
	}
	h.retain(h.state.raw)
	return newHandle(h.state.raw, true, h.retain, h.state.release, h.state.onLeak)
}

// Raw returns the engine handle, or zero after Release.
func (h *Handle[T]) Raw() T {
	if h.state.released.Load() {
		var zero T
		return zero
	}
	return h.state.raw
}

// Released reports whether Release has run.
func (h *Handle[T]) Released() bool {
	return h.state.released.Load()
}

// Release gives the reference back. Only the first call has an effect; it
// reports whether this call released the handle.
func (h *Handle[T]) Release() bool {
	if !h.state.releaseOnce() {
		return false
	}
	h.cleanup.Stop()
	return true
}
