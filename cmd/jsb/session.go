package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge"
	"github.com/Gaurav-Gosain/jsbridge/wasm"
)

// session owns the engine and the context the user is typing into.
type session struct {
	cfg      *Config
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *jsbridge.Engine
	host     *wasm.Host
	ctx      *jsbridge.ExecutionContext
	siblings []*jsbridge.ExecutionContext
	console  func(level, message string)

	evalCount int
	startTime time.Time
}

func newSession(cfg *Config, logger *zap.Logger, console func(level, message string)) (*session, error) {
	s := &session{
		cfg:       cfg,
		logger:    logger,
		registry:  prometheus.NewRegistry(),
		console:   console,
		startTime: time.Now(),
	}

	engine, err := jsbridge.NewEngineWithConfig(&jsbridge.Config{
		Logger:           logger,
		Registerer:       s.registry,
		MaxCallStackSize: cfg.Engine.MaxCallStackSize,
		Console:          console,
		DisableConsole:   !cfg.Engine.Console,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create engine")
	}
	s.engine = engine

	if cfg.Wasm.Enabled {
		s.host, err = wasm.NewHostWithConfig(context.Background(), &wasm.Config{
			MemoryLimitPages: cfg.Wasm.MemoryLimitPages,
			WASI:             cfg.Wasm.WASI,
			Logger:           logger,
		})
		if err != nil {
			_ = engine.Close()
			return nil, errors.Wrap(err, "failed to create wasm host")
		}
	}

	s.ctx, err = s.newContext()
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// newContext creates a root context with the configured globals installed.
func (s *session) newContext() (*jsbridge.ExecutionContext, error) {
	ctx, err := s.engine.NewContext()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create context")
	}
	if err := s.install(ctx); err != nil {
		_ = ctx.Close()
		return nil, err
	}
	return ctx, nil
}

func (s *session) install(ctx *jsbridge.ExecutionContext) error {
	if s.host == nil {
		return nil
	}
	return errors.Wrap(s.host.Install(ctx.Context), "failed to install wasm")
}

// preload runs the configured scripts in the current context.
func (s *session) preload() error {
	for _, path := range s.cfg.Preload {
		if _, err := s.runFile(path); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) close() {
	for _, sib := range s.siblings {
		_ = sib.Close()
	}
	s.siblings = nil
	if s.ctx != nil {
		_ = s.ctx.Close()
	}
	if s.host != nil {
		_ = s.host.Close()
	}
	_ = s.engine.Close()
}

// eval evaluates code in ctx and waits for a returned promise to settle.
func (s *session) eval(ctx *jsbridge.ExecutionContext, code string) (jsbridge.Value, time.Duration, error) {
	start := time.Now()
	result, err := ctx.Evaluate(code, 1)
	if err == nil && result.IsPromise() {
		result, err = s.await(ctx, result)
	}
	return result, time.Since(start), err
}

func (s *session) await(ctx *jsbridge.ExecutionContext, v jsbridge.Value) (jsbridge.Value, error) {
	goctx, cancel := context.WithTimeout(context.Background(), s.cfg.REPL.AwaitTimeout.Duration)
	defer cancel()
	return ctx.Await(goctx, v)
}

func (s *session) runFile(path string) (time.Duration, error) {
	start := time.Now()
	result, err := s.ctx.EvaluateFile(path)
	if err == nil && result.IsPromise() {
		_, err = s.await(s.ctx, result)
	}
	if err != nil {
		return 0, errors.Wrap(err, path)
	}
	return time.Since(start), nil
}

// reset replaces the current context and drops every sibling.
func (s *session) reset() error {
	ctx, err := s.newContext()
	if err != nil {
		return err
	}
	for _, sib := range s.siblings {
		_ = sib.Close()
	}
	s.siblings = nil
	_ = s.ctx.Close()
	s.ctx = ctx
	s.evalCount = 0
	s.engine.GarbageCollect()
	return nil
}

// sibling creates a context sharing the current heap group.
func (s *session) sibling() (*jsbridge.ExecutionContext, error) {
	sib, err := s.ctx.NewSibling()
	if err != nil {
		return nil, err
	}
	if err := s.install(sib); err != nil {
		_ = sib.Close()
		return nil, err
	}
	s.siblings = append(s.siblings, sib)
	return sib, nil
}

// stats gathers the engine's ownership counters by metric name.
func (s *session) stats() (map[string]float64, error) {
	families, err := s.registry.Gather()
	if err != nil {
		return nil, errors.Wrap(err, "failed to gather metrics")
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, label := range m.GetLabel() {
				name += "{" + label.GetName() + "=" + label.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			}
		}
	}
	return out, nil
}
