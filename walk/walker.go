package walk

import (
	"github.com/wippyai/wasm-opt/ir"
)

// TaskFunc is one unit of traversal work over an expression slot.
// Custom scanners push these to sequence their own hooks between
// child visits.
type TaskFunc func(w *Walker, currp *ir.Expression)

type task struct {
	run   TaskFunc
	currp *ir.Expression
}

// Visitor receives postorder visits, one method per variant. Embed
// BaseVisitor to get no-op defaults. Every method takes the walker so
// it can call ReplaceCurrent and reach the current function and module.
type Visitor interface {
	VisitBlock(w *Walker, n *ir.Block)
	VisitIf(w *Walker, n *ir.If)
	VisitLoop(w *Walker, n *ir.Loop)
	VisitBreak(w *Walker, n *ir.Break)
	VisitSwitch(w *Walker, n *ir.Switch)
	VisitCall(w *Walker, n *ir.Call)
	VisitCallImport(w *Walker, n *ir.CallImport)
	VisitCallIndirect(w *Walker, n *ir.CallIndirect)
	VisitGetLocal(w *Walker, n *ir.GetLocal)
	VisitSetLocal(w *Walker, n *ir.SetLocal)
	VisitLoad(w *Walker, n *ir.Load)
	VisitStore(w *Walker, n *ir.Store)
	VisitConst(w *Walker, n *ir.Const)
	VisitUnary(w *Walker, n *ir.Unary)
	VisitBinary(w *Walker, n *ir.Binary)
	VisitSelect(w *Walker, n *ir.Select)
	VisitDrop(w *Walker, n *ir.Drop)
	VisitReturn(w *Walker, n *ir.Return)
	VisitHost(w *Walker, n *ir.Host)
	VisitNop(w *Walker, n *ir.Nop)
	VisitUnreachable(w *Walker, n *ir.Unreachable)
}

// BaseVisitor implements Visitor with no-ops.
type BaseVisitor struct{}

func (BaseVisitor) VisitBlock(*Walker, *ir.Block)               {}
func (BaseVisitor) VisitIf(*Walker, *ir.If)                     {}
func (BaseVisitor) VisitLoop(*Walker, *ir.Loop)                 {}
func (BaseVisitor) VisitBreak(*Walker, *ir.Break)               {}
func (BaseVisitor) VisitSwitch(*Walker, *ir.Switch)             {}
func (BaseVisitor) VisitCall(*Walker, *ir.Call)                 {}
func (BaseVisitor) VisitCallImport(*Walker, *ir.CallImport)     {}
func (BaseVisitor) VisitCallIndirect(*Walker, *ir.CallIndirect) {}
func (BaseVisitor) VisitGetLocal(*Walker, *ir.GetLocal)         {}
func (BaseVisitor) VisitSetLocal(*Walker, *ir.SetLocal)         {}
func (BaseVisitor) VisitLoad(*Walker, *ir.Load)                 {}
func (BaseVisitor) VisitStore(*Walker, *ir.Store)               {}
func (BaseVisitor) VisitConst(*Walker, *ir.Const)               {}
func (BaseVisitor) VisitUnary(*Walker, *ir.Unary)               {}
func (BaseVisitor) VisitBinary(*Walker, *ir.Binary)             {}
func (BaseVisitor) VisitSelect(*Walker, *ir.Select)             {}
func (BaseVisitor) VisitDrop(*Walker, *ir.Drop)                 {}
func (BaseVisitor) VisitReturn(*Walker, *ir.Return)             {}
func (BaseVisitor) VisitHost(*Walker, *ir.Host)                 {}
func (BaseVisitor) VisitNop(*Walker, *ir.Nop)                   {}
func (BaseVisitor) VisitUnreachable(*Walker, *ir.Unreachable)   {}

// Walker drives a depth-first postorder traversal over an explicit
// task stack, so nesting depth never grows the goroutine stack. Each
// visit receives the node through its parent slot, so a pass can
// rewrite the slot with ReplaceCurrent; traversal then continues past
// the replacement, not into it.
type Walker struct {
	Module   *ir.Module
	Function *ir.Function

	visitor       Visitor
	scan          TaskFunc
	noteNonLinear TaskFunc

	tasks []task
	currp *ir.Expression
}

// NewPost returns a plain postorder walker.
func NewPost(v Visitor) *Walker {
	w := &Walker{visitor: v}
	w.scan = ScanPost
	return w
}

// NewLinear returns a linear-execution walker. The note hook fires at
// every point where control flow stops falling through: breaks,
// switches, returns, unreachables, loop heads, if splits and joins,
// and named block closes.
func NewLinear(v Visitor, note TaskFunc) *Walker {
	w := &Walker{visitor: v, noteNonLinear: note}
	w.scan = ScanLinear
	return w
}

// SetScan replaces the scanner. Custom scanners typically wrap
// ScanPost or ScanLinear to interleave their own tasks.
func (w *Walker) SetScan(f TaskFunc) { w.scan = f }

// Scan invokes the walker's scanner on a slot. Custom scanners use
// this to recurse into children.
func (w *Walker) Scan(currp *ir.Expression) { w.scan(w, currp) }

// PushTask schedules a task; tasks run in LIFO order.
func (w *Walker) PushTask(f TaskFunc, currp *ir.Expression) {
	w.tasks = append(w.tasks, task{run: f, currp: currp})
}

// ReplaceCurrent rewrites the slot of the node being visited.
func (w *Walker) ReplaceCurrent(e ir.Expression) { *w.currp = e }

// Walk traverses the tree rooted at the slot.
func (w *Walker) Walk(rootp *ir.Expression) {
	w.PushTask(w.scan, rootp)
	for len(w.tasks) > 0 {
		t := w.tasks[len(w.tasks)-1]
		w.tasks = w.tasks[:len(w.tasks)-1]
		t.run(w, t.currp)
	}
}

// WalkFunction traverses one function's body.
func (w *Walker) WalkFunction(m *ir.Module, f *ir.Function) {
	w.Module = m
	w.Function = f
	w.Walk(&f.Body)
}

// DoVisit dispatches the postorder visit for a slot. The default
// scanners push it after the children; custom scanners may push it
// themselves.
func DoVisit(w *Walker, currp *ir.Expression) {
	w.currp = currp
	switch n := (*currp).(type) {
	case *ir.Block:
		w.visitor.VisitBlock(w, n)
	case *ir.If:
		w.visitor.VisitIf(w, n)
	case *ir.Loop:
		w.visitor.VisitLoop(w, n)
	case *ir.Break:
		w.visitor.VisitBreak(w, n)
	case *ir.Switch:
		w.visitor.VisitSwitch(w, n)
	case *ir.Call:
		w.visitor.VisitCall(w, n)
	case *ir.CallImport:
		w.visitor.VisitCallImport(w, n)
	case *ir.CallIndirect:
		w.visitor.VisitCallIndirect(w, n)
	case *ir.GetLocal:
		w.visitor.VisitGetLocal(w, n)
	case *ir.SetLocal:
		w.visitor.VisitSetLocal(w, n)
	case *ir.Load:
		w.visitor.VisitLoad(w, n)
	case *ir.Store:
		w.visitor.VisitStore(w, n)
	case *ir.Const:
		w.visitor.VisitConst(w, n)
	case *ir.Unary:
		w.visitor.VisitUnary(w, n)
	case *ir.Binary:
		w.visitor.VisitBinary(w, n)
	case *ir.Select:
		w.visitor.VisitSelect(w, n)
	case *ir.Drop:
		w.visitor.VisitDrop(w, n)
	case *ir.Return:
		w.visitor.VisitReturn(w, n)
	case *ir.Host:
		w.visitor.VisitHost(w, n)
	case *ir.Nop:
		w.visitor.VisitNop(w, n)
	case *ir.Unreachable:
		w.visitor.VisitUnreachable(w, n)
	}
}

// ScanPost is the default postorder scanner: visit after all children,
// children in execution order.
func ScanPost(w *Walker, currp *ir.Expression) {
	w.PushTask(DoVisit, currp)
	slots := ir.ChildSlots(*currp)
	for i := len(slots) - 1; i >= 0; i-- {
		w.PushTask(w.scan, slots[i])
	}
}

// ScanLinear is the linear-execution scanner. It behaves like ScanPost
// plus noteNonLinear tasks at the anchor points: after a break's or
// switch's operands, after a return's value, at an unreachable, at a
// loop head before its body, around each arm of an if, and at the
// close of a named block before its visit.
func ScanLinear(w *Walker, currp *ir.Expression) {
	switch n := (*currp).(type) {
	case *ir.Block:
		w.PushTask(DoVisit, currp)
		if n.Name.IsSet() {
			w.PushTask(doNote, currp)
		}
		for i := len(n.List) - 1; i >= 0; i-- {
			w.PushTask(w.scan, &n.List[i])
		}
	case *ir.If:
		w.PushTask(DoVisit, currp)
		w.PushTask(doNote, currp)
		if n.IfFalse != nil {
			w.PushTask(w.scan, &n.IfFalse)
			w.PushTask(doNote, currp)
		}
		w.PushTask(w.scan, &n.IfTrue)
		w.PushTask(doNote, currp)
		w.PushTask(w.scan, &n.Condition)
	case *ir.Loop:
		w.PushTask(DoVisit, currp)
		w.PushTask(w.scan, &n.Body)
		w.PushTask(doNote, currp)
	case *ir.Break, *ir.Switch, *ir.Return, *ir.Unreachable:
		w.PushTask(DoVisit, currp)
		w.PushTask(doNote, currp)
		slots := ir.ChildSlots(*currp)
		for i := len(slots) - 1; i >= 0; i-- {
			w.PushTask(w.scan, slots[i])
		}
	default:
		ScanPost(w, currp)
	}
}

func doNote(w *Walker, currp *ir.Expression) {
	if w.noteNonLinear != nil {
		w.noteNonLinear(w, currp)
	}
}
