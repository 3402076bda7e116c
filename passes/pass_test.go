package passes

import (
	"sync/atomic"
	"testing"

	"github.com/wippyai/wasm-opt/ir"
)

func TestRunnerUnknownPass(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	r := NewRunner(m, nil)
	if err := r.Add("no-such-pass"); err == nil {
		t.Error("unknown pass accepted")
	}
}

func TestRegistryHasNormativePasses(t *testing.T) {
	for _, name := range []string{
		"simplify-locals", "code-pushing", "split-loop-vars",
		"reorder-functions", "drop-return-values", "metrics",
	} {
		if _, ok := registry[name]; !ok {
			t.Errorf("pass %q not registered", name)
		}
		if Describe(name) == "" {
			t.Errorf("pass %q has no description", name)
		}
	}
}

// countingPass records how many instances ran and over which functions.
type countingPass struct {
	instances *atomic.Int64
	functions *atomic.Int64
}

func (p *countingPass) Name() string { return "counting" }

func (p *countingPass) Create() FunctionPass {
	p.instances.Add(1)
	return &countingPass{instances: p.instances, functions: p.functions}
}

func (p *countingPass) RunFunction(m *ir.Module, f *ir.Function) error {
	p.functions.Add(1)
	return nil
}

func TestRunnerFunctionParallelVisitsEachOnce(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	for i := 0; i < 20; i++ {
		f := b.MakeFunction(ir.Name(funcName(i)), nil, ir.TypeNone, nil, b.MakeNop())
		if err := m.AddFunction(f); err != nil {
			t.Fatal(err)
		}
	}
	var instances, functions atomic.Int64
	r := NewRunner(m, nil)
	r.AddPass(&countingPass{instances: &instances, functions: &functions})
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if functions.Load() != 20 {
		t.Errorf("visited %d functions, want 20", functions.Load())
	}
	if instances.Load() != 20 {
		t.Errorf("created %d instances, want one per function", instances.Load())
	}
}

type orderPass struct {
	tag string
	log *[]string
}

func (p *orderPass) Name() string { return p.tag }
func (p *orderPass) Run(m *ir.Module) error {
	*p.log = append(*p.log, p.tag)
	return nil
}

func TestRunnerDeclaredOrder(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	var log []string
	r := NewRunner(m, nil)
	r.AddPass(&orderPass{tag: "first", log: &log})
	r.AddPass(&orderPass{tag: "second", log: &log})
	r.AddPass(&orderPass{tag: "third", log: &log})
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if len(log) != 3 || log[0] != "first" || log[1] != "second" || log[2] != "third" {
		t.Errorf("order: %v", log)
	}
}

func TestDefaultSequenceResolves(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	r := NewRunner(m, nil)
	r.AddDefault()
	if err := r.Run(); err != nil {
		t.Errorf("default pipeline on an empty module: %v", err)
	}
}

func TestDefaultPipelineEndToEnd(t *testing.T) {
	// decode-shaped input: pre-drop dialect with a sinkable local and
	// a splittable loop var, run through the whole -O pipeline
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)

	set := b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(0)))
	backSet := b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(2)))
	loop := b.MakeLoop("out", "in", b.MakeBlock(
		backSet,
		b.MakeBreak("out", nil, b.MakeGetLocal(1, ir.TypeI32)),
		b.MakeBreak("in", nil, nil),
	))
	f := b.MakeFunction("g", nil, ir.TypeI32, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
		{Name: "var$1", Type: ir.TypeI32},
	}, b.MakeBlock(set, loop, b.MakeGetLocal(0, ir.TypeI32)))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(m, nil)
	r.AddDefault()
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("pipeline produced an invalid module: %v", err)
	}
}
