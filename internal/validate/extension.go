package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ExtensionOutcome is advisory. Err is set when the gate itself failed to run.
type ExtensionOutcome struct {
	Gate   string
	Issues []Issue
	Err    error
}

// DefaultExtensionTimeout bounds one Check call when a gate has no Timeout of its own.
const DefaultExtensionTimeout = 2 * time.Second

// ExtensionGate is an operator-provided check written in Go and interpreted with yaegi.
// The source declares package main with func Check(code string) []string.
type ExtensionGate struct {
	Name    string
	Timeout time.Duration // zero means DefaultExtensionTimeout

	mu     sync.Mutex // the interpreter is not safe for concurrent evaluation
	interp *interp.Interpreter
}

// extensionPackages are the only imports an extension gate may use.
var extensionPackages = map[string]bool{
	"strings":      true,
	"strconv":      true,
	"regexp":       true,
	"unicode":      true,
	"unicode/utf8": true,
	"sort":         true,
	"fmt":          true,
}

// CompileExtensionGate interprets src and binds its Check function.
func CompileExtensionGate(name, src string) (*ExtensionGate, error) {
	if err := checkExtensionImports(src); err != nil {
		return nil, fmt.Errorf("extension %s: %w", name, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(allowedSymbols()); err != nil {
		return nil, fmt.Errorf("extension %s: failed to load stdlib: %w", name, err)
	}
	if !strings.Contains(src, "package main") {
		src = "package main\n\n" + src
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("extension %s: evaluation failed: %w", name, err)
	}
	v, err := i.Eval("main.Check")
	if err != nil {
		return nil, fmt.Errorf("extension %s: Check function not found: %w", name, err)
	}
	if _, ok := v.Interface().(func(string) []string); !ok {
		return nil, fmt.Errorf("extension %s: Check has incorrect signature (expected: func(string) []string)", name)
	}
	return &ExtensionGate{Name: name, interp: i}, nil
}

// LoadExtensionGates compiles every .go file in dir, sorted by name. A missing or empty
// dir yields no gates.
func LoadExtensionGates(dir string) ([]*ExtensionGate, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read extension dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") && !strings.HasSuffix(e.Name(), "_test.go") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	gates := make([]*ExtensionGate, 0, len(names))
	for _, n := range names {
		src, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return nil, fmt.Errorf("failed to read extension %s: %w", n, err)
		}
		g, err := CompileExtensionGate(strings.TrimSuffix(n, ".go"), string(src))
		if err != nil {
			return nil, err
		}
		gates = append(gates, g)
	}
	return gates, nil
}

// Run executes the gate under its timeout. A gate that overruns is interrupted and
// reported through Err; its verdict is dropped.
func (g *ExtensionGate) Run(ctx context.Context, code string) ExtensionOutcome {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultExtensionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		msgs []string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("extension %s panicked: %v", g.Name, r)}
			}
		}()
		msgs, err := g.call(ctx, code)
		done <- result{msgs: msgs, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			r.err = fmt.Errorf("extension %s timed out after %s: %w", g.Name, timeout, ctx.Err())
		}
		out := ExtensionOutcome{Gate: g.Name, Err: r.err}
		for _, m := range r.msgs {
			out.Issues = append(out.Issues, Issue{Rule: RuleExtension, Identifier: g.Name, Message: g.Name + ": " + m})
		}
		return out
	case <-ctx.Done():
		return ExtensionOutcome{Gate: g.Name, Err: fmt.Errorf("extension %s timed out after %s: %w", g.Name, timeout, ctx.Err())}
	}
}

// call evaluates Check(code) in the gate's interpreter. Cancelling ctx stops the
// interpreted code at its next step, loops included.
func (g *ExtensionGate) call(ctx context.Context, code string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := g.interp.EvalWithContext(ctx, "main.Check("+strconv.Quote(code)+")")
	if err != nil {
		return nil, fmt.Errorf("extension %s failed: %w", g.Name, err)
	}
	if !v.IsValid() {
		return nil, nil
	}
	msgs, ok := v.Interface().([]string)
	if !ok {
		return nil, fmt.Errorf("extension %s returned %s, want []string", g.Name, v.Type())
	}
	return msgs, nil
}

// allowedSymbols filters the yaegi stdlib export table down to extensionPackages.
// Keys have the form "import/path/name".
func allowedSymbols() interp.Exports {
	out := make(interp.Exports)
	for key, syms := range stdlib.Symbols {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if extensionPackages[key[:idx]] {
			out[key] = syms
		}
	}
	return out
}

func checkExtensionImports(src string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			imports = append(imports, strings.Trim(trimmed, `"`))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`))
		}
	}
	var forbidden []string
	for _, pkg := range imports {
		if !extensionPackages[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports detected: %v", forbidden)
	}
	return nil
}
