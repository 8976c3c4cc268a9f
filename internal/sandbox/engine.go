package sandbox

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Engine evaluates sandboxed code as a sequence of statements, one per
// line: either `name = expression` assignments or bare expressions.
// Expressions run on the expr virtual machine, which exposes no file,
// process, or network surface; the only bindings available are the
// curated builtins and variables the code itself assigned. Compiled
// statements are cached for repeated executions.
type Engine struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEngine creates a statement engine with an empty program cache.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		logger: logger,
		cache:  make(map[string]*vm.Program),
	}
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Run executes code line by line and returns the namespace of
// variables the code assigned. Blank lines and `#` comments are
// skipped. The first failing statement aborts the run; its error is
// returned as-is so callers can surface it.
func (e *Engine) Run(code string) (map[string]any, error) {
	namespace := make(map[string]any)

	for i, line := range strings.Split(code, "\n") {
		stmt := strings.TrimSpace(line)
		if stmt == "" || strings.HasPrefix(stmt, "#") {
			continue
		}

		name, src, isAssign := splitAssignment(stmt)
		if !isAssign {
			src = stmt
		}

		program, err := e.compile(src)
		if err != nil {
			return nil, fmt.Errorf("line %d: compiling %q: %w", i+1, src, err)
		}

		value, err := expr.Run(program, e.runEnv(namespace))
		if err != nil {
			return nil, fmt.Errorf("line %d: evaluating %q: %w", i+1, src, err)
		}

		if isAssign {
			namespace[name] = value
		}
	}

	return namespace, nil
}

// compile compiles a single expression and caches the result.
func (e *Engine) compile(src string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[src]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(src,
		expr.Env(map[string]any{}),
		// Variables are resolved at runtime against the accumulated
		// namespace, so unknown names must pass compilation.
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[src] = prog
	e.mu.Unlock()

	return prog, nil
}

// runEnv merges the curated builtins with the accumulated namespace.
// Assigned variables shadow builtins of the same name.
func (e *Engine) runEnv(namespace map[string]any) map[string]any {
	env := map[string]any{
		"sleep": func(seconds float64) bool {
			time.Sleep(time.Duration(seconds * float64(time.Second)))
			return true
		},
		"print": func(args ...any) bool {
			e.logger.Debug("sandbox print", slog.String("output", fmt.Sprintln(args...)))
			return true
		},
		"str": func(v any) string {
			return fmt.Sprint(v)
		},
	}
	for k, v := range namespace {
		env[k] = v
	}
	return env
}

// splitAssignment splits a `name = expression` statement. Comparison
// operators (==, !=, <=, >=) do not count as assignments, and a left
// side that is not a bare identifier leaves the whole line to be
// treated as an expression.
func splitAssignment(stmt string) (name, src string, ok bool) {
	for i := 0; i < len(stmt); i++ {
		if stmt[i] != '=' {
			continue
		}
		if i+1 < len(stmt) && stmt[i+1] == '=' {
			i++ // skip over "=="
			continue
		}
		if i > 0 && (stmt[i-1] == '!' || stmt[i-1] == '<' || stmt[i-1] == '>' || stmt[i-1] == '=') {
			continue
		}

		left := strings.TrimSpace(stmt[:i])
		right := strings.TrimSpace(stmt[i+1:])
		if !identifierRE.MatchString(left) || right == "" {
			return "", "", false
		}
		return left, right, true
	}
	return "", "", false
}
