package walk

import (
	"github.com/wippyai/wasm-opt/ir"
)

// BasicBlock is a run of expressions with a single entry and exit.
type BasicBlock struct {
	// Exprs holds the non-structural expressions of the block in
	// execution order.
	Exprs []ir.Expression

	// Out and In are successor and predecessor edges.
	Out []*BasicBlock
	In  []*BasicBlock
}

// CFG is the control-flow graph of one function body. Blocks appear in
// construction order; Entry is the first, Exit the canonical return
// point.
type CFG struct {
	Entry  *BasicBlock
	Exit   *BasicBlock
	Blocks []*BasicBlock
}

// BuildCFG materializes the basic-block graph for a function body.
// Structured constructs become edges: an if forks and joins, a loop
// gets a head block targeted by continues, a named block gets a join
// block targeted by its breaks.
func BuildCFG(f *ir.Function) *CFG {
	b := &cfgBuilder{targets: make(map[ir.Name]*BasicBlock)}
	entry := b.newBlock()
	b.curr = entry
	exit := b.newBlock()
	b.exit = exit
	b.walk(f.Body)
	b.link(b.curr, exit)
	return &CFG{Entry: entry, Exit: exit, Blocks: b.blocks}
}

type cfgBuilder struct {
	blocks  []*BasicBlock
	curr    *BasicBlock
	exit    *BasicBlock
	targets map[ir.Name]*BasicBlock
}

func (b *cfgBuilder) newBlock() *BasicBlock {
	bb := &BasicBlock{}
	b.blocks = append(b.blocks, bb)
	return bb
}

func (b *cfgBuilder) link(from, to *BasicBlock) {
	if from == nil || to == nil {
		return
	}
	from.Out = append(from.Out, to)
	to.In = append(to.In, from)
}

func (b *cfgBuilder) branch(target ir.Name) {
	b.link(b.curr, b.targets[target])
}

func (b *cfgBuilder) walk(e ir.Expression) {
	switch n := e.(type) {
	case *ir.Block:
		var cont *BasicBlock
		var saved *BasicBlock
		var hadTarget bool
		if n.Name.IsSet() {
			cont = b.newBlock()
			saved, hadTarget = b.targets[n.Name]
			b.targets[n.Name] = cont
		}
		for _, child := range n.List {
			b.walk(child)
		}
		if cont != nil {
			b.link(b.curr, cont)
			b.curr = cont
			if hadTarget {
				b.targets[n.Name] = saved
			} else {
				delete(b.targets, n.Name)
			}
		}
	case *ir.Loop:
		head := b.newBlock()
		b.link(b.curr, head)
		b.curr = head
		out := b.newBlock()
		if n.In.IsSet() {
			b.targets[n.In] = head
		}
		if n.Out.IsSet() {
			b.targets[n.Out] = out
		}
		b.walk(n.Body)
		b.link(b.curr, out)
		b.curr = out
		if n.In.IsSet() {
			delete(b.targets, n.In)
		}
		if n.Out.IsSet() {
			delete(b.targets, n.Out)
		}
	case *ir.If:
		b.walk(n.Condition)
		cond := b.curr
		join := b.newBlock()
		thenEntry := b.newBlock()
		b.link(cond, thenEntry)
		b.curr = thenEntry
		b.walk(n.IfTrue)
		b.link(b.curr, join)
		if n.IfFalse != nil {
			elseEntry := b.newBlock()
			b.link(cond, elseEntry)
			b.curr = elseEntry
			b.walk(n.IfFalse)
			b.link(b.curr, join)
		} else {
			b.link(cond, join)
		}
		b.curr = join
	case *ir.Break:
		if n.Value != nil {
			b.walk(n.Value)
		}
		if n.Condition != nil {
			b.walk(n.Condition)
		}
		b.branch(n.Name)
		if n.Condition == nil {
			// unconditional: what follows is a fresh, unreached block
			b.curr = b.newBlock()
		} else {
			fall := b.newBlock()
			b.link(b.curr, fall)
			b.curr = fall
		}
	case *ir.Switch:
		if n.Value != nil {
			b.walk(n.Value)
		}
		b.walk(n.Condition)
		for _, t := range n.Targets {
			b.branch(t)
		}
		b.branch(n.Default)
		b.curr = b.newBlock()
	case *ir.Return:
		if n.Value != nil {
			b.walk(n.Value)
		}
		b.curr.Exprs = append(b.curr.Exprs, e)
		b.link(b.curr, b.exit)
		b.curr = b.newBlock()
	case *ir.Unreachable:
		b.curr.Exprs = append(b.curr.Exprs, e)
		b.curr = b.newBlock()
	default:
		for _, slot := range ir.ChildSlots(e) {
			b.walk(*slot)
		}
		b.curr.Exprs = append(b.curr.Exprs, e)
	}
}
