package passes

import (
	"github.com/wippyai/wasm-opt/analysis"
	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// CodePushing pushes code forward as much as possible, potentially
// into a location behind a condition where it might not always
// execute. Only single-first-assignment locals whose every remaining
// read is downstream qualify.

type codePushing struct {
	walk.BaseVisitor

	module   *ir.Module
	function *ir.Function

	analyzer *analysis.LocalAnalyzer

	// reads seen so far in the main traversal
	numGetsSoFar []ir.Index

	anotherCycle bool
}

func init() {
	register("code-pushing", "push code forward, potentially making it not always execute",
		func() Pass { return &codePushing{} })
}

func (p *codePushing) Name() string { return "code-pushing" }

func (p *codePushing) Create() FunctionPass { return &codePushing{} }

func (p *codePushing) RunFunction(m *ir.Module, f *ir.Function) error {
	p.module = m
	p.function = f
	// pre-scan for SFA locals and their total get and set counts
	p.analyzer = analysis.NewLocalAnalyzer(f)
	for {
		p.anotherCycle = false
		p.numGetsSoFar = make([]ir.Index, f.NumLocals())
		walk.NewPost(p).WalkFunction(m, f)
		if !p.anotherCycle {
			return nil
		}
	}
}

func (p *codePushing) VisitGetLocal(w *walk.Walker, curr *ir.GetLocal) {
	p.numGetsSoFar[curr.Index]++
}

func (p *codePushing) VisitBlock(w *walk.Walker, curr *ir.Block) {
	// pushing needs at least an element to push, an element to push it
	// past, and an element using what was pushed
	if len(curr.List) < 3 {
		return
	}
	// In postorder all our children are done. A variable whose reads
	// seen so far equal its total reads has no users after this block;
	// an SFA variable assigned here therefore has no uses before the
	// assign either, so it can move forward as long as effect ordering
	// allows.
	pusher := newPusher(curr, p.analyzer, p.numGetsSoFar, p.module, p.function)
	if pusher.pushedIntoIf {
		// pushed-into code may itself be further pushable
		p.anotherCycle = true
	}
}

// pusher implements the core logic for one block, then is discarded.
type pusher struct {
	block        *ir.Block
	analyzer     *analysis.LocalAnalyzer
	numGetsSoFar []ir.Index
	builder      ir.Builder
	function     *ir.Function

	// pushables may be scanned more than once, so cache their effects
	pushableEffects map[*ir.SetLocal]*analysis.Effects

	pushedIntoIf bool
}

func newPusher(block *ir.Block, analyzer *analysis.LocalAnalyzer, numGetsSoFar []ir.Index, m *ir.Module, f *ir.Function) *pusher {
	p := &pusher{
		block:           block,
		analyzer:        analyzer,
		numGetsSoFar:    numGetsSoFar,
		builder:         ir.NewBuilder(m),
		function:        f,
		pushableEffects: make(map[*ir.SetLocal]*analysis.Effects),
	}
	// find optimization segments: from the first pushable thing to the
	// first point past which pushing pays, then continue forward
	list := block.List
	relevant := len(list) - 1 // nothing pushes past the final element
	firstPushable := -1
	i := 0
	for i < relevant {
		if firstPushable < 0 && p.isPushable(list[i]) != nil {
			firstPushable = i
			i++
			continue
		}
		if firstPushable >= 0 && isPushPoint(list[i]) {
			i = p.optimizeSegment(firstPushable, i)
			firstPushable = -1
			continue
		}
		i++
	}
	return p
}

// isPushable accepts a set of an SFA local whose reads are all still
// ahead of us.
func (p *pusher) isPushable(e ir.Expression) *ir.SetLocal {
	set, ok := e.(*ir.SetLocal)
	if !ok {
		return nil
	}
	index := set.Index
	if p.analyzer.IsSFA(index) && p.numGetsSoFar[index] == p.analyzer.GetNumGets(index) {
		return set
	}
	return nil
}

// isPushPoint accepts conditional control flow worth pushing past: an
// if, a conditional break, or a drop of either.
func isPushPoint(e ir.Expression) bool {
	if drop, ok := e.(*ir.Drop); ok {
		e = drop.Value
	}
	if _, ok := e.(*ir.If); ok {
		return true
	}
	if br, ok := e.(*ir.Break); ok {
		return br.Condition != nil
	}
	return false
}

func (p *pusher) effectsOf(set *ir.SetLocal) *analysis.Effects {
	if eff, ok := p.pushableEffects[set]; ok {
		return eff
	}
	eff := analysis.EffectsOf(set)
	p.pushableEffects[set] = eff
	return eff
}

// optimizeSegment pushes what it can from [firstPushable, pushPoint)
// past the push point, keeping pushable order intact, and returns the
// position to continue from. Working backward from the push point, a
// cumulative effect summary accumulates everything a pushable would
// have to cross.
func (p *pusher) optimizeSegment(firstPushable, pushPoint int) int {
	list := p.block.List
	pushPointExpr := list[pushPoint]
	cumulative := analysis.EffectsOf(pushPointExpr)
	// ignoring the branch itself is the crucial point of this
	// optimization
	cumulative.Branches = false

	var toPush []*ir.SetLocal

	iff, _ := pushPointExpr.(*ir.If)
	var ifCondition *analysis.Effects
	var toPushToIfTrue, toPushToIfFalse []*ir.SetLocal

	for i := pushPoint - 1; ; i-- {
		if pushable := p.isPushable(list[i]); pushable != nil {
			effects := p.effectsOf(pushable)
			if cumulative.Invalidates(effects) {
				// cannot push past the point; maybe into an if arm,
				// when the local is read only there
				stays := true
				if iff != nil && ifCondition == nil {
					ifCondition = analysis.EffectsOf(iff.Condition)
					if !ifCondition.Invalidates(effects) {
						index := pushable.Index
						trueCounter := analysis.NewGetLocalCounter(p.function, iff.IfTrue)
						if trueCounter.NumGets[index] == p.analyzer.GetNumGets(index) {
							toPushToIfTrue = append(toPushToIfTrue, pushable)
							list[i] = p.builder.MakeNop()
							stays = false
						} else if iff.IfFalse != nil {
							falseCounter := analysis.NewGetLocalCounter(p.function, iff.IfFalse)
							if falseCounter.NumGets[index] == p.analyzer.GetNumGets(index) {
								toPushToIfFalse = append(toPushToIfFalse, pushable)
								list[i] = p.builder.MakeNop()
								stays = false
							}
						}
					}
				}
				if stays {
					// it stays put; later pushables must cross it
					cumulative.MergeIn(effects)
				}
			} else {
				toPush = append(toPush, pushable)
			}
			if i == firstPushable {
				break
			}
		} else {
			// not pushable, so it may block further pushing
			cumulative.Analyze(list[i])
		}
		if i == firstPushable {
			break
		}
	}

	total := len(toPush)
	if total == 0 && len(toPushToIfTrue) == 0 && len(toPushToIfFalse) == 0 {
		return pushPoint + 1
	}

	// compact the segment, skipping the pushed elements; the earliest
	// pushables sit at the end of toPush
	skip := 0
	for i := firstPushable; i <= pushPoint; i++ {
		if skip < total && list[i] == ir.Expression(toPush[total-1-skip]) {
			skip++
		} else if skip > 0 {
			list[i-skip] = list[i]
		}
	}
	// reinsert right after the push point, which the compaction moved
	// back by total, in original relative order
	for i := 0; i < total; i++ {
		list[pushPoint-i] = toPush[i]
	}

	// elements directed into an if arm become the arm's preamble
	if iff != nil {
		pushInto := func(toPush []*ir.SetLocal, arm *ir.Expression) {
			block := p.builder.MakeBlock()
			n := len(toPush)
			block.List = make([]ir.Expression, n+1)
			for i := 0; i < n; i++ {
				block.List[n-1-i] = toPush[i]
			}
			block.List[n] = *arm
			block.Finalize()
			*arm = block
		}
		if len(toPushToIfTrue) > 0 {
			pushInto(toPushToIfTrue, &iff.IfTrue)
			p.pushedIntoIf = true
		}
		if len(toPushToIfFalse) > 0 {
			pushInto(toPushToIfFalse, &iff.IfFalse)
			p.pushedIntoIf = true
		}
	}

	// continue right after the push point; the pushed elements may
	// push again
	return pushPoint - total + 1
}
