package analysis

import (
	"github.com/wippyai/wasm-opt/ir"
)

// Effects summarizes the observable side effects of an expression
// tree: control-flow transfers, calls, memory accesses, local
// accesses, and potential traps. Passes use it to decide whether two
// expressions can be reordered.
type Effects struct {
	Branches     bool
	Calls        bool
	ReadsMemory  bool
	WritesMemory bool
	ImplicitTrap bool

	LocalsRead    map[ir.Index]struct{}
	LocalsWritten map[ir.Index]struct{}
}

// NewEffects returns an empty summary.
func NewEffects() *Effects {
	return &Effects{
		LocalsRead:    make(map[ir.Index]struct{}),
		LocalsWritten: make(map[ir.Index]struct{}),
	}
}

// EffectsOf returns the summary of a whole expression tree.
func EffectsOf(e ir.Expression) *Effects {
	eff := NewEffects()
	eff.Analyze(e)
	return eff
}

// Analyze accumulates the effects of the tree rooted at e.
func (ef *Effects) Analyze(e ir.Expression) {
	ef.visit(e)
	for _, slot := range ir.ChildSlots(e) {
		ef.Analyze(*slot)
	}
}

// visit accumulates the effects of the single node, ignoring children.
func (ef *Effects) visit(e ir.Expression) {
	switch n := e.(type) {
	case *ir.Break, *ir.Switch, *ir.Return:
		ef.Branches = true
	case *ir.Loop:
		// a loop's back-edge is a branch arrival
		ef.Branches = true
	case *ir.Unreachable:
		ef.Branches = true
		ef.ImplicitTrap = true
	case *ir.Call:
		ef.Calls = true
	case *ir.CallImport:
		ef.Calls = true
	case *ir.CallIndirect:
		ef.Calls = true
		ef.ImplicitTrap = true
	case *ir.GetLocal:
		ef.LocalsRead[n.Index] = struct{}{}
	case *ir.SetLocal:
		ef.LocalsWritten[n.Index] = struct{}{}
	case *ir.Load:
		ef.ReadsMemory = true
		ef.ImplicitTrap = true
	case *ir.Store:
		ef.WritesMemory = true
		ef.ImplicitTrap = true
	case *ir.Host:
		ef.Calls = true
	case *ir.Unary:
		switch n.Op {
		case ir.TruncSFloat32, ir.TruncUFloat32, ir.TruncSFloat64, ir.TruncUFloat64:
			ef.ImplicitTrap = true
		}
	case *ir.Binary:
		switch n.Op {
		case ir.DivS, ir.DivU, ir.RemS, ir.RemU:
			ef.ImplicitTrap = true
		}
	}
}

// CheckPre accumulates effects observable before a node's children
// run, and reports whether anything was added. Entering a loop counts
// as a branch arrival.
func (ef *Effects) CheckPre(e ir.Expression) bool {
	if _, ok := e.(*ir.Loop); ok {
		ef.Branches = true
		return true
	}
	return false
}

// CheckPost accumulates the node's own effects after its children ran,
// and reports whether the summary now has anything.
func (ef *Effects) CheckPost(e ir.Expression) bool {
	ef.visit(e)
	return ef.HasAnything()
}

// AccessesMemory reports any memory read or write.
func (ef *Effects) AccessesMemory() bool { return ef.ReadsMemory || ef.WritesMemory }

// HasSideEffects reports effects that change state or control flow.
func (ef *Effects) HasSideEffects() bool {
	return ef.Branches || ef.Calls || ef.WritesMemory || ef.ImplicitTrap || len(ef.LocalsWritten) > 0
}

// HasAnything reports whether the summary is non-empty.
func (ef *Effects) HasAnything() bool {
	return ef.HasSideEffects() || ef.ReadsMemory || len(ef.LocalsRead) > 0
}

// MergeIn folds another summary into this one.
func (ef *Effects) MergeIn(other *Effects) {
	ef.Branches = ef.Branches || other.Branches
	ef.Calls = ef.Calls || other.Calls
	ef.ReadsMemory = ef.ReadsMemory || other.ReadsMemory
	ef.WritesMemory = ef.WritesMemory || other.WritesMemory
	ef.ImplicitTrap = ef.ImplicitTrap || other.ImplicitTrap
	for i := range other.LocalsRead {
		ef.LocalsRead[i] = struct{}{}
	}
	for i := range other.LocalsWritten {
		ef.LocalsWritten[i] = struct{}{}
	}
}

// Invalidates reports whether reordering other past this summary would
// change observable behavior: a branch against any effect, writes
// against overlapping reads or writes (memory or locals, with calls
// treated as memory writes), and a trap point against another trap
// point, since reordering would reorder which trap fires.
func (ef *Effects) Invalidates(other *Effects) bool {
	if ef.Branches || other.Branches {
		if ef.HasAnything() && other.HasAnything() {
			return true
		}
	}
	if (ef.WritesMemory || ef.Calls) && (other.AccessesMemory() || other.Calls) {
		return true
	}
	if ef.AccessesMemory() && (other.WritesMemory || other.Calls) {
		return true
	}
	for i := range ef.LocalsWritten {
		if _, ok := other.LocalsWritten[i]; ok {
			return true
		}
		if _, ok := other.LocalsRead[i]; ok {
			return true
		}
	}
	for i := range ef.LocalsRead {
		if _, ok := other.LocalsWritten[i]; ok {
			return true
		}
	}
	if ef.ImplicitTrap && other.ImplicitTrap {
		return true
	}
	return false
}
