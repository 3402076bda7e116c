package passes

import (
	"sort"

	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// SplitLoopVars splits critical loop variables - values carried to the
// loop head on every back-edge - so register coalescing can be more
// effective. The back-edge set is redirected to a fresh helper local,
// and the loop body starts by copying the helper into the original; a
// later coalescing pass can then delete whichever copy costs less.
//
// A conditional break to the loop head, or a switch targeting it,
// disqualifies that loop: the carried value must arrive
// unconditionally.

type splitLoopVars struct {
	walk.BaseVisitor

	module   *ir.Module
	function *ir.Function

	// finalSets tracks the last set of each local in the current
	// linear trace with no read after it
	finalSets map[ir.Index]*ir.SetLocal

	// loopEntries snapshots finalSets at every arrival at a loop head:
	// the head itself plus each unconditional continue
	loopEntries map[ir.Name][]map[ir.Index]*ir.SetLocal
}

func init() {
	register("split-loop-vars", "split loop phi variables to help coalescing",
		func() Pass { return &splitLoopVars{} })
}

func (p *splitLoopVars) Name() string { return "split-loop-vars" }

func (p *splitLoopVars) Create() FunctionPass { return &splitLoopVars{} }

func (p *splitLoopVars) RunFunction(m *ir.Module, f *ir.Function) error {
	p.module = m
	p.function = f
	p.finalSets = make(map[ir.Index]*ir.SetLocal)
	p.loopEntries = make(map[ir.Name][]map[ir.Index]*ir.SetLocal)
	walk.NewLinear(p, p.noteNonLinear).WalkFunction(m, f)
	return nil
}

func (p *splitLoopVars) noteNonLinear(w *walk.Walker, currp *ir.Expression) {
	switch curr := (*currp).(type) {
	case *ir.Break:
		if curr.Condition != nil {
			// the carried value must arrive unconditionally
			delete(p.loopEntries, curr.Name)
		} else if entries, ok := p.loopEntries[curr.Name]; ok {
			// a continue to a tracked loop head
			p.loopEntries[curr.Name] = append(entries, p.finalSets)
		}
	case *ir.Loop:
		if curr.In.IsSet() {
			p.loopEntries[curr.In] = append(p.loopEntries[curr.In], p.finalSets)
		}
	}
	// non-linearity clears the current final sets
	p.finalSets = make(map[ir.Index]*ir.SetLocal)
}

func (p *splitLoopVars) VisitGetLocal(w *walk.Walker, curr *ir.GetLocal) {
	delete(p.finalSets, curr.Index)
}

func (p *splitLoopVars) VisitSetLocal(w *walk.Walker, curr *ir.SetLocal) {
	p.finalSets[curr.Index] = curr
}

func (p *splitLoopVars) VisitSwitch(w *walk.Walker, curr *ir.Switch) {
	// a switch to a loop head implies no phi there
	for _, target := range curr.Targets {
		delete(p.loopEntries, target)
	}
	delete(p.loopEntries, curr.Default)
}

func (p *splitLoopVars) VisitLoop(w *walk.Walker, curr *ir.Loop) {
	// the loop body is fully traversed; every entry to the head is
	// recorded, so the optimization can run
	if !curr.In.IsSet() {
		return
	}
	entries := p.loopEntries[curr.In]
	if len(entries) >= 2 {
		builder := ir.NewBuilder(p.module)
		for _, index := range sortedFinalSetIndexes(entries[0]) {
			set := entries[0][index]
			inAll := true
			for i := 1; i < len(entries); i++ {
				if _, ok := entries[i][index]; !ok {
					inAll = false
					break
				}
			}
			if !inAll {
				continue
			}
			// carried on every entry: write a fresh helper instead,
			// and copy it into the original at the loop head
			t := p.function.LocalType(index)
			newIndex := builder.AddVar(p.function, t)
			set.Index = newIndex
			for i := 1; i < len(entries); i++ {
				entries[i][index].Index = newIndex
			}
			curr.Body = builder.MakeSequence(
				builder.MakeSetLocal(index, builder.MakeGetLocal(newIndex, t)),
				curr.Body,
			)
		}
	}
	delete(p.loopEntries, curr.In)
}

func sortedFinalSetIndexes(sets map[ir.Index]*ir.SetLocal) []ir.Index {
	indexes := make([]ir.Index, 0, len(sets))
	for i := range sets {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	return indexes
}
