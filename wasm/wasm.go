// Package wasm lets scripts load and call WebAssembly modules through wazero.
//
// Install adds a global `wasm` object to a context:
//
//	wasm.validate(bytes)    // true when bytes compile
//	wasm.instantiate(bytes) // Promise<{exports, memory, close}>
//
// Compilation runs off the script goroutine; the promise is settled on the
// owning context through a Completer. Exported functions become host
// functions taking and returning numbers.
package wasm

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/Gaurav-Gosain/jsbridge"
)

// The compilation cache speeds up CompileModule by caching compiled machine
// code. It is shared by every Host.
var (
	globalCache     wazero.CompilationCache
	globalCacheOnce sync.Once
)

func initGlobalCache() {
	globalCache = wazero.NewCompilationCache()
}

var (
	ErrNotBytes       = errors.New("expected a Uint8Array or ArrayBuffer")
	ErrUnsupportedABI = errors.New("unsupported wasm value type")
	ErrHostClosed     = errors.New("wasm host is closed")
)

// Config configures a Host.
type Config struct {
	// MemoryLimitPages caps each instance's memory in 64KiB pages. Zero keeps
	// the wazero default.
	MemoryLimitPages uint32

	// WASI instantiates wasi_snapshot_preview1 so modules built for WASI can
	// link.
	WASI bool

	// Stdout and Stderr receive WASI output. They default to the process
	// streams.
	Stdout io.Writer
	Stderr io.Writer

	Logger *zap.Logger
}

// Host owns one wazero runtime and every module instantiated through it.
type Host struct {
	runtime wazero.Runtime
	goctx   context.Context
	cfg     Config
	logger  *zap.Logger
	next    atomic.Uint64
	closed  atomic.Bool
}

// NewHost creates a Host with default settings.
func NewHost(goctx context.Context) (*Host, error) {
	return NewHostWithConfig(goctx, nil)
}

// NewHostWithConfig creates a Host. goctx bounds every compilation and call.
func NewHostWithConfig(goctx context.Context, cfg *Config) (*Host, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = jsbridge.Logger()
	}

	globalCacheOnce.Do(initGlobalCache)
	runtimeConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithDebugInfoEnabled(false).
		WithCloseOnContextDone(true)
	if c.MemoryLimitPages > 0 {
		runtimeConfig = runtimeConfig.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(goctx, runtimeConfig)
	if c.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(goctx, rt); err != nil {
			_ = rt.Close(goctx)
			return nil, errors.Wrap(err, "failed to instantiate WASI")
		}
	}
	return &Host{runtime: rt, goctx: goctx, cfg: c, logger: c.Logger.Named("wasm")}, nil
}

// Close closes every module the host instantiated.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.runtime.Close(h.goctx)
}

// Install defines the global `wasm` object in ctx.
func (h *Host) Install(ctx *jsbridge.Context) error {
	obj, err := ctx.NewObject()
	if err != nil {
		return err
	}
	for name, fn := range map[string]jsbridge.HostFunc{
		"validate":    h.validate,
		"instantiate": h.instantiate,
	} {
		f, err := ctx.Function(name, fn)
		if err != nil {
			return err
		}
		if err := obj.Set(name, f.Value); err != nil {
			return err
		}
	}
	return ctx.SetGlobal("wasm", obj.Value)
}

// Validate reports whether code compiles.
func (h *Host) Validate(code []byte) error {
	if h.closed.Load() {
		return errors.WithStack(ErrHostClosed)
	}
	compiled, err := h.runtime.CompileModule(h.goctx, code)
	if err != nil {
		return errors.Wrap(err, "invalid wasm module")
	}
	return compiled.Close(h.goctx)
}

// Instantiate compiles and instantiates code under a fresh module name.
func (h *Host) Instantiate(code []byte) (api.Module, error) {
	if h.closed.Load() {
		return nil, errors.WithStack(ErrHostClosed)
	}
	compiled, err := h.runtime.CompileModule(h.goctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "invalid wasm module")
	}
	name := fmt.Sprintf("module-%d", h.next.Add(1))
	config := wazero.NewModuleConfig().
		WithName(name).
		WithStdout(h.cfg.Stdout).
		WithStderr(h.cfg.Stderr)
	mod, err := h.runtime.InstantiateModule(h.goctx, compiled, config)
	if err != nil {
		_ = compiled.Close(h.goctx)
		return nil, errors.Wrapf(err, "failed to instantiate %s", name)
	}
	h.logger.Debug("module instantiated",
		zap.String("module", name),
		zap.Int("exports", len(mod.ExportedFunctionDefinitions())))
	return mod, nil
}

func (h *Host) validate(ctx *jsbridge.Context, _ jsbridge.Value, args []jsbridge.Value) (jsbridge.Value, error) {
	code, err := moduleBytes(args)
	if err != nil {
		return jsbridge.Value{}, err
	}
	return ctx.Bool(h.Validate(code) == nil)
}

func (h *Host) instantiate(ctx *jsbridge.Context, _ jsbridge.Value, args []jsbridge.Value) (jsbridge.Value, error) {
	code, err := moduleBytes(args)
	if err != nil {
		return jsbridge.Value{}, err
	}
	d, err := jsbridge.NewDeferred(ctx)
	if err != nil {
		return jsbridge.Value{}, err
	}
	completer := d.Completer()

	go func() {
		mod, err := h.Instantiate(code)
		if err != nil {
			_ = completer.Reject(err)
			return
		}
		err = completer.CompleteWith(func(owner *jsbridge.Context) (jsbridge.Value, error) {
			return h.instanceObject(owner, mod)
		})
		if err != nil {
			h.logger.Warn("instantiated module was not delivered",
				zap.String("module", mod.Name()), zap.Error(err))
			_ = mod.Close(h.goctx)
		}
	}()
	return d.Promise(), nil
}

// moduleBytes copies the module out of engine memory, since the view may
// move once the calling script resumes.
func moduleBytes(args []jsbridge.Value) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.WithStack(ErrNotBytes)
	}
	obj, err := args[0].AsObject()
	if err != nil {
		return nil, errors.WithStack(ErrNotBytes)
	}
	view, err := obj.Bytes()
	if err != nil {
		return nil, errors.Wrap(ErrNotBytes, err.Error())
	}
	return append([]byte(nil), view...), nil
}

// instanceObject builds {exports, memory, close} for mod.
func (h *Host) instanceObject(ctx *jsbridge.Context, mod api.Module) (jsbridge.Value, error) {
	instance, err := ctx.NewObject()
	if err != nil {
		return jsbridge.Value{}, err
	}
	exports, err := ctx.NewObject()
	if err != nil {
		return jsbridge.Value{}, err
	}
	for name, def := range mod.ExportedFunctionDefinitions() {
		fn, err := ctx.Function(name, h.exported(mod, name, def))
		if err != nil {
			return jsbridge.Value{}, err
		}
		if err := exports.Set(name, fn.Value); err != nil {
			return jsbridge.Value{}, err
		}
	}
	if err := instance.Set("exports", exports.Value); err != nil {
		return jsbridge.Value{}, err
	}

	// memory() returns a fresh view on every call. A view taken before
	// memory.grow keeps the old length and may stop tracking the module's memory.
	if mod.Memory() != nil {
		memory, err := ctx.Function("memory", func(c *jsbridge.Context, _ jsbridge.Value, _ []jsbridge.Value) (jsbridge.Value, error) {
			mem := mod.Memory()
			data, ok := mem.Read(0, mem.Size())
			if !ok {
				return jsbridge.Value{}, errors.New("memory is not readable")
			}
			buf, err := c.ArrayBufferFromBytes(data, nil)
			return buf.Value, err
		})
		if err != nil {
			return jsbridge.Value{}, err
		}
		if err := instance.Set("memory", memory.Value); err != nil {
			return jsbridge.Value{}, err
		}
	}

	closeFn, err := ctx.Function("close", func(c *jsbridge.Context, _ jsbridge.Value, _ []jsbridge.Value) (jsbridge.Value, error) {
		if err := mod.Close(h.goctx); err != nil {
			return jsbridge.Value{}, errors.Wrap(err, "close module")
		}
		return c.Undefined()
	})
	if err != nil {
		return jsbridge.Value{}, err
	}
	if err := instance.Set("close", closeFn.Value); err != nil {
		return jsbridge.Value{}, err
	}
	return instance.Value, nil
}

// exported wraps one exported wasm function. Missing arguments are zero; one
// result is returned as a number, several as an array.
func (h *Host) exported(mod api.Module, name string, def api.FunctionDefinition) jsbridge.HostFunc {
	params := def.ParamTypes()
	results := def.ResultTypes()
	return func(ctx *jsbridge.Context, _ jsbridge.Value, args []jsbridge.Value) (jsbridge.Value, error) {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return jsbridge.Value{}, errors.Errorf("%s: module is closed", name)
		}
		in := make([]uint64, len(params))
		for i, t := range params {
			var x float64
			if i < len(args) {
				f, err := args[i].Float64()
				if err != nil {
					return jsbridge.Value{}, err
				}
				x = f
			}
			encoded, err := encode(t, x)
			if err != nil {
				return jsbridge.Value{}, errors.Wrapf(err, "%s argument %d", name, i)
			}
			in[i] = encoded
		}

		out, err := fn.Call(h.goctx, in...)
		if err != nil {
			return jsbridge.Value{}, errors.Wrapf(err, "%s trapped", name)
		}
		values := make([]jsbridge.Value, len(out))
		for i, raw := range out {
			n, err := decode(results[i], raw)
			if err != nil {
				return jsbridge.Value{}, errors.Wrapf(err, "%s result %d", name, i)
			}
			if values[i], err = ctx.Number(n); err != nil {
				return jsbridge.Value{}, err
			}
		}
		switch len(values) {
		case 0:
			return ctx.Undefined()
		case 1:
			return values[0], nil
		}
		arr, err := ctx.Array(values...)
		return arr.Value, err
	}
}

func encode(t api.ValueType, x float64) (uint64, error) {
	if math.IsNaN(x) && t != api.ValueTypeF32 && t != api.ValueTypeF64 {
		x = 0
	}
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(int64(x))), nil
	case api.ValueTypeI64:
		return api.EncodeI64(int64(x)), nil
	case api.ValueTypeF32:
		return api.EncodeF32(float32(x)), nil
	case api.ValueTypeF64:
		return api.EncodeF64(x), nil
	}
	return 0, errors.Wrap(ErrUnsupportedABI, api.ValueTypeName(t))
}

func decode(t api.ValueType, raw uint64) (float64, error) {
	switch t {
	case api.ValueTypeI32:
		return float64(api.DecodeI32(raw)), nil
	case api.ValueTypeI64:
		return float64(int64(raw)), nil
	case api.ValueTypeF32:
		return float64(api.DecodeF32(raw)), nil
	case api.ValueTypeF64:
		return api.DecodeF64(raw), nil
	}
	return 0, errors.Wrap(ErrUnsupportedABI, api.ValueTypeName(t))
}
