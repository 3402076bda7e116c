package passes

import (
	"fmt"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-opt/ir"
)

// Pass is a named transformation over a module.
type Pass interface {
	Name() string
}

// ModulePass runs once over the whole module on the calling goroutine.
type ModulePass interface {
	Pass
	Run(m *ir.Module) error
}

// FunctionPass visits each function independently, holding no state
// across functions, so the runner may dispatch functions across a
// worker pool. Create returns a fresh instance per function so workers
// share nothing.
type FunctionPass interface {
	Pass
	Create() FunctionPass
	RunFunction(m *ir.Module, f *ir.Function) error
}

// registry maps pass names to constructors. It is populated by the
// package's init functions and read-only afterwards.
var registry = map[string]registration{}

type registration struct {
	description string
	construct   func() Pass
}

func register(name, description string, construct func() Pass) {
	registry[name] = registration{description: description, construct: construct}
}

// PassNames returns the registered pass names, sorted.
func PassNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a registered pass's description.
func Describe(name string) string { return registry[name].description }

// DefaultSequence is the canonical -O pipeline.
var DefaultSequence = []string{
	"drop-return-values",
	"simplify-locals",
	"code-pushing",
	"split-loop-vars",
	"reorder-functions",
}

// Runner executes an ordered list of passes over one module. Passes
// run strictly in the declared order; each may depend on the previous
// pass's postconditions. Only function-parallel passes fan out, onto a
// pool bounded by available parallelism.
type Runner struct {
	module *ir.Module
	passes []Pass
	log    *zap.Logger

	// Workers bounds the function-parallel pool; zero means
	// GOMAXPROCS.
	Workers int
}

// NewRunner returns a runner for the module.
func NewRunner(m *ir.Module, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{module: m, log: log}
}

// Add appends a registered pass by name.
func (r *Runner) Add(name string) error {
	reg, ok := registry[name]
	if !ok {
		return fmt.Errorf("unknown pass %q", name)
	}
	r.passes = append(r.passes, reg.construct())
	return nil
}

// AddDefault appends the canonical -O sequence.
func (r *Runner) AddDefault() {
	for _, name := range DefaultSequence {
		if err := r.Add(name); err != nil {
			panic(err) // the default sequence only names registered passes
		}
	}
}

// AddPass appends a constructed pass.
func (r *Runner) AddPass(p Pass) { r.passes = append(r.passes, p) }

// Run executes the passes in order. The first error aborts the
// pipeline; the module must then be considered invalid.
func (r *Runner) Run() error {
	for _, p := range r.passes {
		r.log.Debug("running pass", zap.String("pass", p.Name()))
		var err error
		switch pass := p.(type) {
		case FunctionPass:
			err = r.runFunctionParallel(pass)
		case ModulePass:
			err = pass.Run(r.module)
		default:
			err = fmt.Errorf("pass %q is not runnable", p.Name())
		}
		if err != nil {
			return fmt.Errorf("pass %q: %w", p.Name(), err)
		}
	}
	return nil
}

// runFunctionParallel fans the pass out over the module's functions.
// Each function gets a fresh instance, so no mutable state is shared;
// visit order across functions is unspecified.
func (r *Runner) runFunctionParallel(p FunctionPass) error {
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, f := range r.module.Functions {
		f := f
		g.Go(func() error {
			return p.Create().RunFunction(r.module, f)
		})
	}
	return g.Wait()
}
