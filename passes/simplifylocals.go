package passes

import (
	"sort"

	"github.com/wippyai/wasm-opt/analysis"
	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// SimplifyLocals sinks set_locals toward the get_local that consumes
// them, and coalesces sets into block and if return values: when every
// exit of a block sets the same local as its final action, the block
// returns the value instead and a single set wraps the block.
//
// Sinking across control-flow splits is tracked with fragments: at a
// split each sinkable's rational share is divided among the branches,
// and only when the fragments fully re-unite at a merge is the
// sinkable whole again.

// fragment is a rational share in [0, 1], top/bottom.
type fragment struct {
	top    uint64
	bottom uint64
}

func newFragment() fragment { return fragment{top: 1, bottom: 1} }

func (f *fragment) add(other fragment) {
	if f.bottom == other.bottom {
		f.top += other.top
	} else {
		f.top = f.top*other.bottom + other.top*f.bottom
		f.bottom = f.bottom * other.bottom
	}
	// normalize the common case of merging back to one
	if f.top == f.bottom {
		f.top, f.bottom = 1, 1
	}
}

func (f *fragment) split(factor uint64) { f.bottom *= factor }

func (f *fragment) one() bool { return f.top == f.bottom }

// sinkableInfo is one candidate set that may still sink: the slot it
// sits in, the effect summary of the whole set, and its fragment.
type sinkableInfo struct {
	item    *ir.Expression
	effects *analysis.Effects
	frag    fragment
}

// sinkableMap holds the candidates of one linear execution trace,
// keyed by local index.
type sinkableMap map[ir.Index]*sinkableInfo

func (s sinkableMap) sortedIndexes() []ir.Index {
	indexes := make([]ir.Index, 0, len(s))
	for i := range s {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	return indexes
}

func (s sinkableMap) split(factor uint64) {
	for _, info := range s {
		info.frag.split(factor)
	}
}

// clone copies the map with independent fragments; the slots and
// effect summaries are shared, they do not change after registration.
func (s sinkableMap) clone() sinkableMap {
	out := make(sinkableMap, len(s))
	for i, info := range s {
		copied := *info
		out[i] = &copied
	}
	return out
}

// merge folds another trace's candidates in: anything not present in
// both, or present with a different set instance, is gone; shared
// entries add their fragments.
func (s sinkableMap) merge(other sinkableMap) {
	for i, otherInfo := range other {
		if info, ok := s[i]; ok && info.item != otherInfo.item {
			delete(s, i)
		}
	}
	for i, info := range s {
		if otherInfo, ok := other[i]; ok {
			info.frag.add(otherInfo.frag)
		} else {
			delete(s, i)
		}
	}
}

// blockBreak records one break-exit of a block: the break and the
// sinkables alive at it.
type blockBreak struct {
	br        *ir.Break
	sinkables sinkableMap
}

type simplifyLocals struct {
	walk.BaseVisitor

	module   *ir.Module
	function *ir.Function
	builder  ir.Builder

	// sinkables of the current linear execution trace
	sinkables sinkableMap

	// break-exits per block label, used for block-return coalescing
	blockBreaks map[ir.Name][]blockBreak

	// blocks we cannot give a return value: switch targets, and
	// blocks whose breaks already carry values
	unoptimizableBlocks map[ir.Name]bool

	// saved traces around if splits
	ifStack []sinkableMap

	exprStack []ir.Expression

	anotherCycle bool

	// growth requests deferred to the cycle boundary, since pushing
	// into a live block would invalidate held slots
	blocksToEnlarge []*ir.Block
	ifsToEnlarge    []*ir.If
}

func init() {
	register("simplify-locals", "miscellaneous locals-related optimizations",
		func() Pass { return &simplifyLocals{} })
}

func (p *simplifyLocals) Name() string { return "simplify-locals" }

func (p *simplifyLocals) Create() FunctionPass { return &simplifyLocals{} }

func (p *simplifyLocals) RunFunction(m *ir.Module, f *ir.Function) error {
	p.module = m
	p.function = f
	p.builder = ir.NewBuilder(m)
	// multiple cycles may be required: a sink can unblock another,
	// consider x = load; y = store; use(x, y) - the load cannot cross
	// the store, but y can sink, after which so can x
	for {
		p.anotherCycle = false
		p.sinkables = make(sinkableMap)
		p.blockBreaks = make(map[ir.Name][]blockBreak)
		p.unoptimizableBlocks = make(map[ir.Name]bool)
		p.ifStack = p.ifStack[:0]
		p.exprStack = p.exprStack[:0]
		w := walk.NewLinear(p, p.noteNonLinear)
		w.SetScan(p.scan)
		w.WalkFunction(m, f)
		if len(p.blocksToEnlarge) > 0 {
			for _, block := range p.blocksToEnlarge {
				block.List = append(block.List, p.builder.MakeNop())
			}
			p.blocksToEnlarge = p.blocksToEnlarge[:0]
			p.anotherCycle = true
		}
		if len(p.ifsToEnlarge) > 0 {
			for _, iff := range p.ifsToEnlarge {
				iff.IfTrue = p.enlargedArm(iff.IfTrue)
				iff.IfFalse = p.enlargedArm(iff.IfFalse)
			}
			p.ifsToEnlarge = p.ifsToEnlarge[:0]
			p.anotherCycle = true
		}
		if !p.anotherCycle {
			break
		}
	}
	// after the fixed point, sets of locals with no remaining gets
	// reduce to their values
	counter := analysis.NewGetLocalCounter(f, f.Body)
	remover := &setLocalRemover{numGets: counter.NumGets}
	walk.NewPost(remover).WalkFunction(m, f)
	return nil
}

// enlargedArm blockifies an if arm and guarantees a trailing nop to
// write a return value into next cycle.
func (p *simplifyLocals) enlargedArm(arm ir.Expression) *ir.Block {
	block := p.builder.Blockify(arm)
	if len(block.List) == 0 {
		block.List = append(block.List, p.builder.MakeNop())
	} else if _, ok := block.List[len(block.List)-1].(*ir.Nop); !ok {
		block.List = append(block.List, p.builder.MakeNop())
	}
	return block
}

// scan interleaves pre and post hooks around every node, and handles
// ifs with the split/merge stack instead of the generic non-linear
// anchors.
func (p *simplifyLocals) scan(w *walk.Walker, currp *ir.Expression) {
	w.PushTask(p.visitPost, currp)
	if iff, ok := (*currp).(*ir.If); ok {
		if iff.IfFalse != nil {
			w.PushTask(p.doNoteIfFalse, currp)
			w.PushTask(p.scan, &iff.IfFalse)
		}
		w.PushTask(p.doNoteIfTrue, currp)
		w.PushTask(p.scan, &iff.IfTrue)
		w.PushTask(p.doNoteIfCondition, currp)
		w.PushTask(p.scan, &iff.Condition)
	} else {
		walk.ScanLinear(w, currp)
	}
	w.PushTask(p.visitPre, currp)
}

func (p *simplifyLocals) noteNonLinear(w *walk.Walker, currp *ir.Expression) {
	switch curr := (*currp).(type) {
	case *ir.Break:
		if curr.Value != nil {
			// a value means the block already has a return value
			p.unoptimizableBlocks[curr.Name] = true
		} else {
			p.blockBreaks[curr.Name] = append(p.blockBreaks[curr.Name], blockBreak{
				br:        curr,
				sinkables: p.sinkables,
			})
		}
	case *ir.Block:
		return // handled in VisitBlock
	case *ir.If:
		return // handled by the if stack
	case *ir.Switch:
		for _, target := range curr.Targets {
			p.unoptimizableBlocks[target] = true
		}
		p.unoptimizableBlocks[curr.Default] = true
	}
	p.sinkables = make(sinkableMap)
}

func (p *simplifyLocals) doNoteIfCondition(w *walk.Walker, currp *ir.Expression) {
	// control flow splits in two; keep one half, stash the other
	p.sinkables.split(2)
	p.ifStack = append(p.ifStack, p.sinkables.clone())
}

func (p *simplifyLocals) doNoteIfTrue(w *walk.Walker, currp *ir.Expression) {
	forIfFalse := p.ifStack[len(p.ifStack)-1]
	p.ifStack = p.ifStack[:len(p.ifStack)-1]
	if (*currp).(*ir.If).IfFalse != nil {
		p.ifStack = append(p.ifStack, p.sinkables)
		p.sinkables = forIfFalse
	} else {
		// no else arm: as if it were empty, merge directly
		p.sinkables.merge(forIfFalse)
	}
}

func (p *simplifyLocals) doNoteIfFalse(w *walk.Walker, currp *ir.Expression) {
	iff := (*currp).(*ir.If)
	ifTrue := p.ifStack[len(p.ifStack)-1]
	p.optimizeIfReturn(iff, currp, ifTrue)
	p.sinkables.merge(ifTrue)
	p.ifStack = p.ifStack[:len(p.ifStack)-1]
}

func (p *simplifyLocals) visitPre(w *walk.Walker, currp *ir.Expression) {
	curr := *currp
	effects := analysis.NewEffects()
	if effects.CheckPre(curr) {
		p.checkInvalidations(effects)
	}
	p.exprStack = append(p.exprStack, curr)
}

func (p *simplifyLocals) visitPost(w *walk.Walker, currp *ir.Expression) {
	// main set_local processing happens here, since the current node
	// may be the product of ReplaceCurrent and the visitor never saw it
	set, _ := (*currp).(*ir.SetLocal)

	if set != nil {
		// a set over a still-sinkable set makes the earlier store
		// dead; leave just its value
		if found, ok := p.sinkables[set.Index]; ok && found.frag.one() {
			*found.item = (*found.item).(*ir.SetLocal).Value
			delete(p.sinkables, set.Index)
			p.anotherCycle = true
		}
	}

	effects := analysis.NewEffects()
	if effects.CheckPost(*currp) {
		p.checkInvalidations(effects)
	}

	if set != nil {
		p.exprStack[len(p.exprStack)-1] = set
		if _, exists := p.sinkables[set.Index]; !exists &&
			!analysis.IsResultUsed(p.exprStack, p.function) {
			p.sinkables[set.Index] = &sinkableInfo{
				item:    currp,
				effects: analysis.EffectsOf(set),
				frag:    newFragment(),
			}
		}
	}

	p.exprStack = p.exprStack[:len(p.exprStack)-1]
}

func (p *simplifyLocals) checkInvalidations(effects *analysis.Effects) {
	var invalidated []ir.Index
	for index, info := range p.sinkables {
		if effects.Invalidates(info.effects) {
			invalidated = append(invalidated, index)
		}
	}
	for _, index := range invalidated {
		delete(p.sinkables, index)
	}
}

func (p *simplifyLocals) VisitGetLocal(w *walk.Walker, curr *ir.GetLocal) {
	found, ok := p.sinkables[curr.Index]
	if !ok || !found.frag.one() {
		return
	}
	// sink the set to here; its result is now observed
	set := (*found.item).(*ir.SetLocal)
	set.IsTee = true
	w.ReplaceCurrent(set)
	*found.item = p.builder.MakeNop()
	delete(p.sinkables, curr.Index)
	p.anotherCycle = true
}

func (p *simplifyLocals) VisitBlock(w *walk.Walker, curr *ir.Block) {
	hasBreaks := curr.Name.IsSet() && len(p.blockBreaks[curr.Name]) > 0

	p.optimizeBlockReturn(w, curr)

	if curr.Name.IsSet() {
		if p.unoptimizableBlocks[curr.Name] {
			p.sinkables = make(sinkableMap)
			delete(p.unoptimizableBlocks, curr.Name)
		}
		if hasBreaks {
			// more than one path arrives here, so nonlinear
			p.sinkables = make(sinkableMap)
			delete(p.blockBreaks, curr.Name)
		}
	}
}

// optimizeBlockReturn looks for a local every exit of the block sets
// as its final action, and rewrites the block to return the value.
func (p *simplifyLocals) optimizeBlockReturn(w *walk.Walker, block *ir.Block) {
	if !block.Name.IsSet() || p.unoptimizableBlocks[block.Name] {
		return
	}
	breaks := p.blockBreaks[block.Name]
	delete(p.blockBreaks, block.Name)
	if len(breaks) == 0 {
		return // block has no branches
	}
	// look for a whole sinkable present in the falling-through trace
	// and in every break's trace
	var sharedIndex ir.Index
	found := false
	for _, index := range p.sinkables.sortedIndexes() {
		if !p.sinkables[index].frag.one() {
			continue
		}
		inAll := true
		for j := range breaks {
			info, ok := breaks[j].sinkables[index]
			if !ok || !info.frag.one() {
				inAll = false
				break
			}
		}
		if inAll {
			sharedIndex = index
			found = true
			break
		}
	}
	if !found {
		return
	}
	if len(block.List) == 0 || !isNop(block.List[len(block.List)-1]) {
		// we cannot push to the block here without invalidating held
		// slots, so queue growth for the next cycle
		p.blocksToEnlarge = append(p.blocksToEnlarge, block)
		return
	}
	// move the fall-through set's value into return position
	blockSetSlot := p.sinkables[sharedIndex].item
	value := (*blockSetSlot).(*ir.SetLocal).Value
	block.List[len(block.List)-1] = value
	block.Type = value.ResultType()
	*blockSetSlot = p.builder.MakeNop()
	for j := range breaks {
		breakSetSlot := breaks[j].sinkables[sharedIndex].item
		breaks[j].br.Value = (*breakSetSlot).(*ir.SetLocal).Value
		*breakSetSlot = p.builder.MakeNop()
	}
	// a single set at the block's use site consumes the result
	w.ReplaceCurrent(p.builder.MakeSetLocal(sharedIndex, block))
	p.sinkables = make(sinkableMap)
	p.anotherCycle = true
}

// optimizeIfReturn coalesces sets from both arms of an if-else into a
// return value with a single wrapping set.
func (p *simplifyLocals) optimizeIfReturn(iff *ir.If, currp *ir.Expression, ifTrue sinkableMap) {
	// if the if's own result is used we cannot give it another one
	if analysis.IsResultUsed(p.exprStack, p.function) {
		return
	}
	ifFalse := p.sinkables
	var sharedIndex ir.Index
	found := false
	for _, index := range ifTrue.sortedIndexes() {
		if !ifTrue[index].frag.one() {
			continue
		}
		if info, ok := ifFalse[index]; ok && info.frag.one() {
			sharedIndex = index
			found = true
			break
		}
	}
	if !found {
		return
	}
	// both arms must end in a nop we can write the value into
	ifTrueBlock, okTrue := iff.IfTrue.(*ir.Block)
	ifFalseBlock, okFalse := iff.IfFalse.(*ir.Block)
	if !okTrue || !okFalse ||
		len(ifTrueBlock.List) == 0 || !isNop(ifTrueBlock.List[len(ifTrueBlock.List)-1]) ||
		len(ifFalseBlock.List) == 0 || !isNop(ifFalseBlock.List[len(ifFalseBlock.List)-1]) {
		p.ifsToEnlarge = append(p.ifsToEnlarge, iff)
		return
	}
	ifTrueSlot := ifTrue[sharedIndex].item
	ifTrueBlock.List[len(ifTrueBlock.List)-1] = (*ifTrueSlot).(*ir.SetLocal).Value
	*ifTrueSlot = p.builder.MakeNop()
	ifTrueBlock.Finalize()
	ifFalseSlot := ifFalse[sharedIndex].item
	ifFalseBlock.List[len(ifFalseBlock.List)-1] = (*ifFalseSlot).(*ir.SetLocal).Value
	*ifFalseSlot = p.builder.MakeNop()
	ifFalseBlock.Finalize()
	iff.Finalize()
	*currp = p.builder.MakeSetLocal(sharedIndex, iff)
	p.anotherCycle = true
}

func isNop(e ir.Expression) bool {
	_, ok := e.(*ir.Nop)
	return ok
}

// setLocalRemover rewrites sets of read-free locals to their values.
type setLocalRemover struct {
	walk.BaseVisitor
	numGets []ir.Index
}

func (r *setLocalRemover) VisitSetLocal(w *walk.Walker, curr *ir.SetLocal) {
	if r.numGets[curr.Index] == 0 {
		w.ReplaceCurrent(curr.Value)
	}
}
