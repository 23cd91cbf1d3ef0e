package jsbridge

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestContext returns a context whose console output is discarded. The
// context and its engine are closed when the test ends.
func newTestContext(t testing.TB) *ExecutionContext {
	t.Helper()
	eng, err := NewEngineWithConfig(&Config{Console: func(string, string) {}})
	require.NoError(t, err)
	ctx, err := eng.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ctx.Close()
		_ = eng.Close()
	})
	return ctx
}

// must returns a func that unwraps a value constructor and fails t on error.
func must(t testing.TB) func(Value, error) Value {
	return func(v Value, err error) Value {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

type evalCase struct {
	name     string
	code     string
	expected string
}

func runEvalCases(t *testing.T, ctx *ExecutionContext, tests []evalCase) {
	t.Helper()
	for _, tt := range tests {
		result, err := ctx.Evaluate(tt.code, 1)
		if err != nil {
			t.Errorf("%s: Evaluate(%q) error = %v", tt.name, tt.code, err)
			continue
		}
		if result.String() != tt.expected {
			t.Errorf("%s: Evaluate(%q) = %q, want %q", tt.name, tt.code, result.String(), tt.expected)
		}
	}
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine()
	require.NoError(t, err)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err = eng.NewContext()
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestMultipleContexts(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	ctx1, err := eng.NewContext()
	require.NoError(t, err)
	defer ctx1.Close()

	ctx2, err := eng.NewContext()
	require.NoError(t, err)
	defer ctx2.Close()

	_, err = ctx1.Evaluate("var x = 42;", 1)
	require.NoError(t, err)
	_, err = ctx2.Evaluate("var x = 100;", 1)
	require.NoError(t, err)

	result1, err := ctx1.Evaluate("x", 1)
	require.NoError(t, err)
	assert.Equal(t, "42", result1.String())

	result2, err := ctx2.Evaluate("x", 1)
	require.NoError(t, err)
	assert.Equal(t, "100", result2.String())
}

// ============================================================================
// Basic Evaluation
// ============================================================================

func TestEvalBasicArithmetic(t *testing.T) {
	ctx := newTestContext(t)
	runEvalCases(t, ctx, []evalCase{
		{"add", "1 + 2", "3"},
		{"sub", "10 - 3", "7"},
		{"mul", "4 * 5", "20"},
		{"div", "20 / 4", "5"},
		{"mod", "10 % 3", "1"},
		{"pow", "2 ** 10", "1024"},
	})
}

func TestEvalKeywords(t *testing.T) {
	ctx := newTestContext(t)
	runEvalCases(t, ctx, []evalCase{
		{"true", "true", "true"},
		{"false", "false", "false"},
		{"null", "null", "null"},
		{"typeof number", "typeof 42", "number"},
		{"typeof string", "typeof 'hello'", "string"},
		{"typeof boolean", "typeof true", "boolean"},
		{"typeof null", "typeof null", "object"},
		{"typeof undefined", "typeof undefined", "undefined"},
	})
}

func TestEvalStrings(t *testing.T) {
	ctx := newTestContext(t)
	runEvalCases(t, ctx, []evalCase{
		{"literal", "'hello, world'", "hello, world"},
		{"concat", "'hello, ' + 'world'", "hello, world"},
		{"upper", "'abc'.toUpperCase()", "ABC"},
		{"template", "`${1 + 1} apples`", "2 apples"},
		{"unicode", "'héllo ✓'", "héllo ✓"},
	})
}

func TestES6Features(t *testing.T) {
	ctx := newTestContext(t)
	runEvalCases(t, ctx, []evalCase{
		{"arrow", "((a, b) => a * b)(6, 7)", "42"},
		{"let const", "(() => { let a = 1; const b = 2; return a + b; })()", "3"},
		{"destructuring", "(() => { const {a, b: [c]} = {a: 1, b: [2]}; return a + c; })()", "3"},
		{"spread", "Math.max(...[1, 5, 3])", "5"},
		{
			"class inheritance",
			`(() => {
				class Animal { constructor(name) { this.name = name; } }
				class Dog extends Animal { bark() { return this.name + ' barks'; } }
				return new Dog('Rex').bark();
			})()`,
			"Rex barks",
		},
		{"map", "new Map([[1, 'a']]).get(1)", "a"},
		{"set", "new Set([1, 1, 2]).size", "2"},
		{"symbol description", "Symbol('tag').description", "tag"},
		{"bigint", "typeof 10n", "bigint"},
		{"optional chaining", "({a: null}).a?.b", "undefined"},
		{"nullish", "null ?? 'fallback'", "fallback"},
		{"proxy", "new Proxy({}, { get: () => 7 }).anything", "7"},
	})
}

func TestEvalStartingLine(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.EvaluateScript("\nthrow new Error('here')", "lines.js", 10)
	exc, ok := AsException(err)
	require.True(t, ok)

	stack, err := exc.Value().AsObject()
	require.NoError(t, err)
	v, err := stack.Get("stack")
	require.NoError(t, err)
	assert.Contains(t, v.String(), "lines.js:11")
}

func TestEvalErrors(t *testing.T) {
	ctx := newTestContext(t)

	tests := []struct {
		code   string
		prefix string
	}{
		{"throw new Error('boom')", "Error: boom"},
		{"undefinedVariable", "ReferenceError"},
		{"null.property", "TypeError"},
		{"function (", "SyntaxError"},
		{"throw 42", "42"},
	}
	for _, tt := range tests {
		_, err := ctx.Evaluate(tt.code, 1)
		exc, ok := AsException(err)
		if !assert.True(t, ok, "Evaluate(%q) error = %v", tt.code, err) {
			continue
		}
		msg, hasText := exc.Message()
		assert.True(t, hasText)
		assert.True(t, strings.HasPrefix(msg, tt.prefix), "Evaluate(%q) message = %q", tt.code, msg)
		assert.False(t, IsUsageError(err))
	}
}

func TestEvalEmptyString(t *testing.T) {
	ctx := newTestContext(t)
	result, err := ctx.Evaluate("", 1)
	require.NoError(t, err)
	assert.True(t, result.IsUndefined())
}

func TestCheckSyntax(t *testing.T) {
	ctx := newTestContext(t)

	require.NoError(t, ctx.CheckSyntax("let a = 1; a + 1"))

	err := ctx.CheckSyntax("let = ;")
	exc, ok := AsException(err)
	require.True(t, ok)
	msg, _ := exc.Message()
	assert.Contains(t, msg, "SyntaxError")

	// checking does not run anything
	require.NoError(t, ctx.CheckSyntax("var checked = true"))
	v, err := ctx.GetGlobal("checked")
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())
}

func TestEvaluateFile(t *testing.T) {
	ctx := newTestContext(t)

	path := t.TempDir() + "/script.js"
	require.NoError(t, os.WriteFile(path, []byte("var fromFile = 6 * 7; fromFile"), 0o644))

	v, err := ctx.EvaluateFile(path)
	require.NoError(t, err)
	assert.Equal(t, "42", v.String())

	_, err = ctx.EvaluateFile(path + ".missing")
	require.Error(t, err)
	_, isExc := AsException(err)
	assert.False(t, isExc)
}

func TestConsole(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	eng, err := NewEngineWithConfig(&Config{Console: func(level, message string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, level+" "+message)
	}})
	require.NoError(t, err)
	defer eng.Close()

	ctx, err := eng.NewContext()
	require.NoError(t, err)
	defer ctx.Close()

	_, err = ctx.Evaluate("console.log('a', 1, true); console.error('bad')", 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"log a 1 true", "error bad"}, lines)
}

func TestDisableConsole(t *testing.T) {
	eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
	require.NoError(t, err)
	defer eng.Close()

	ctx, err := eng.NewContext()
	require.NoError(t, err)
	defer ctx.Close()

	v, err := ctx.Evaluate("typeof console", 1)
	require.NoError(t, err)
	assert.Equal(t, "undefined", v.String())
}

// ============================================================================
// Concurrency
// ============================================================================

func TestParallelEngines(t *testing.T) {
	const numGoroutines = 10
	const iterationsPerGoroutine = 5

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*iterationsPerGoroutine)

	for g := range numGoroutines {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for i := range iterationsPerGoroutine {
				eng, err := NewEngineWithConfig(&Config{DisableConsole: true})
				if err != nil {
					errs <- err
					continue
				}
				ctx, err := eng.NewContext()
				if err != nil {
					eng.Close()
					errs <- err
					continue
				}

				result, err := ctx.Evaluate(fmt.Sprintf("var x = %d * %d; x + 1", goroutineID, i), 1)
				if err != nil {
					errs <- fmt.Errorf("goroutine %d, iter %d: %w", goroutineID, i, err)
				} else if n, _ := result.Int64(); int(n) != goroutineID*i+1 {
					errs <- fmt.Errorf("goroutine %d, iter %d: got %d, want %d", goroutineID, i, n, goroutineID*i+1)
				}
				ctx.Close()
				eng.Close()
			}
		}(g)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConcurrentEvalSameContext(t *testing.T) {
	ctx := newTestContext(t)

	_, err := ctx.Evaluate("var counter = 0", 1)
	require.NoError(t, err)

	const numGoroutines = 10
	const incrementsPerGoroutine = 10

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*incrementsPerGoroutine)
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range incrementsPerGoroutine {
				if _, err := ctx.Evaluate("counter++", 1); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent evaluate error: %v", err)
	}

	result, err := ctx.Evaluate("counter", 1)
	require.NoError(t, err)
	n, _ := result.Int64()
	assert.EqualValues(t, numGoroutines*incrementsPerGoroutine, n)
}

func TestStressManyEvals(t *testing.T) {
	ctx := newTestContext(t)
	for i := range 1000 {
		result, err := ctx.Evaluate(fmt.Sprintf("%d + 1", i), 1)
		require.NoError(t, err)
		n, _ := result.Int64()
		require.EqualValues(t, i+1, n)
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkEvaluate(b *testing.B) {
	ctx := newTestContext(b)
	for b.Loop() {
		_, _ = ctx.Evaluate("1 + 2", 1)
	}
}

func BenchmarkEvaluateFibonacci(b *testing.B) {
	ctx := newTestContext(b)
	_, err := ctx.Evaluate("function fib(n) { return n < 2 ? n : fib(n - 1) + fib(n - 2); }", 1)
	require.NoError(b, err)
	for b.Loop() {
		_, _ = ctx.Evaluate("fib(15)", 1)
	}
}

func BenchmarkHostCallback(b *testing.B) {
	ctx := newTestContext(b)
	require.NoError(b, ctx.SetFunction("add", func(ctx *Context, _ Value, args []Value) (Value, error) {
		x, _ := args[0].Float64()
		y, _ := args[1].Float64()
		return ctx.Number(x + y)
	}))
	for b.Loop() {
		_, _ = ctx.Evaluate("add(1, 2)", 1)
	}
}

func BenchmarkParseJSON(b *testing.B) {
	ctx := newTestContext(b)
	for b.Loop() {
		_, _ = ctx.ParseJSON(`{"name":"test","values":[1,2,3],"nested":{"a":true}}`)
	}
}
