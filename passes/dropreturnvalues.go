package passes

import (
	"github.com/wippyai/wasm-opt/analysis"
	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// DropReturnValues rewrites the implicit-discard dialect into one with
// explicit drops and tees: a concrete-typed expression with no
// observer gets wrapped in a drop, a set_local whose result nobody
// reads loses its tee flag, a break whose target block's value is
// unused drops its payload at the break site, and a store whose value
// is reused spills through a fresh local.

type dropReturnValues struct {
	walk.BaseVisitor

	module   *ir.Module
	function *ir.Function
	builder  ir.Builder

	exprStack []ir.Expression
}

func init() {
	register("drop-return-values", "convert code to use drop and tee",
		func() Pass { return &dropReturnValues{} })
}

func (p *dropReturnValues) Name() string { return "drop-return-values" }

func (p *dropReturnValues) Create() FunctionPass { return &dropReturnValues{} }

func (p *dropReturnValues) RunFunction(m *ir.Module, f *ir.Function) error {
	p.module = m
	p.function = f
	p.builder = ir.NewBuilder(m)
	w := walk.NewPost(p)
	w.SetScan(p.scan)
	w.WalkFunction(m, f)
	return nil
}

// scan wraps the default scanner with stack maintenance hooks.
func (p *dropReturnValues) scan(w *walk.Walker, currp *ir.Expression) {
	w.PushTask(p.visitPost, currp)
	walk.ScanPost(w, currp)
	w.PushTask(p.visitPre, currp)
}

func (p *dropReturnValues) visitPre(w *walk.Walker, currp *ir.Expression) {
	p.exprStack = append(p.exprStack, *currp)
}

func (p *dropReturnValues) visitPost(w *walk.Walker, currp *ir.Expression) {
	p.exprStack = p.exprStack[:len(p.exprStack)-1]
}

func (p *dropReturnValues) maybeDrop(w *walk.Walker, curr ir.Expression) {
	if curr.ResultType().IsConcrete() && !analysis.IsResultUsed(p.exprStack, p.function) {
		w.ReplaceCurrent(p.builder.MakeDrop(curr))
	}
}

func (p *dropReturnValues) VisitBlock(w *walk.Walker, curr *ir.Block) {
	curr.Finalize() // children may have changed
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitIf(w *walk.Walker, curr *ir.If) {
	curr.Finalize()
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitLoop(w *walk.Walker, curr *ir.Loop) {
	curr.Finalize()
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitBreak(w *walk.Walker, curr *ir.Break) {
	if curr.Value == nil {
		return
	}
	// the targeted block may return a value nobody reads; then the
	// break must not send one either, but the payload may have side
	// effects, so it is dropped at the break site
	for i := len(p.exprStack) - 1; i >= 0; i-- {
		switch target := p.exprStack[i].(type) {
		case *ir.Block:
			if target.Name == curr.Name {
				p.dropBreakValueIfUnused(w, curr, i)
				return
			}
		case *ir.Loop:
			if target.In == curr.Name {
				return
			}
			if target.Out == curr.Name {
				p.dropBreakValueIfUnused(w, curr, i)
				return
			}
		}
	}
}

func (p *dropReturnValues) dropBreakValueIfUnused(w *walk.Walker, curr *ir.Break, i int) {
	if analysis.IsResultUsed(p.exprStack[:i+1], p.function) {
		return
	}
	// the value is first in order of operations, so it pulls out front
	w.ReplaceCurrent(p.builder.MakeSequence(
		p.builder.MakeDrop(curr.Value),
		curr,
	))
	curr.Value = nil
}

func (p *dropReturnValues) VisitCall(w *walk.Walker, curr *ir.Call) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitCallImport(w *walk.Walker, curr *ir.CallImport) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitCallIndirect(w *walk.Walker, curr *ir.CallIndirect) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitGetLocal(w *walk.Walker, curr *ir.GetLocal) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitSetLocal(w *walk.Walker, curr *ir.SetLocal) {
	if curr.IsTee && !analysis.IsResultUsed(p.exprStack, p.function) {
		curr.IsTee = false
	}
}

func (p *dropReturnValues) VisitLoad(w *walk.Walker, curr *ir.Load) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitStore(w *walk.Walker, curr *ir.Store) {
	used := analysis.IsResultUsed(p.exprStack, p.function)
	curr.Type = ir.TypeNone
	if !used {
		return
	}
	// the source dialect lets a store yield its value; spill it to a
	// fresh local and read that instead
	valueType := curr.Value.ResultType()
	index := p.builder.AddVar(p.function, valueType)
	value := curr.Value
	curr.Value = p.builder.MakeGetLocal(index, valueType)
	w.ReplaceCurrent(p.builder.MakeSequence(
		p.builder.MakeSequence(
			p.builder.MakeSetLocal(index, value),
			curr,
		),
		p.builder.MakeGetLocal(index, valueType),
	))
}

func (p *dropReturnValues) VisitConst(w *walk.Walker, curr *ir.Const) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitUnary(w *walk.Walker, curr *ir.Unary) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitBinary(w *walk.Walker, curr *ir.Binary) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitSelect(w *walk.Walker, curr *ir.Select) {
	p.maybeDrop(w, curr)
}

func (p *dropReturnValues) VisitHost(w *walk.Walker, curr *ir.Host) {
	p.maybeDrop(w, curr)
}
