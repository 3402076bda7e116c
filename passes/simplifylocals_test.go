package passes

import (
	"testing"

	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// kindCollector collects every node of a kind in a function.
type kindCollector struct {
	walk.BaseVisitor
	kind ir.Kind
	out  []ir.Expression
}

func collectKind(m *ir.Module, f *ir.Function, kind ir.Kind) []ir.Expression {
	c := &kindCollector{kind: kind}
	walk.NewPost(c).WalkFunction(m, f)
	return c.out
}

func (c *kindCollector) note(e ir.Expression) {
	if e.Kind() == c.kind {
		c.out = append(c.out, e)
	}
}

func (c *kindCollector) VisitBlock(_ *walk.Walker, n *ir.Block)       { c.note(n) }
func (c *kindCollector) VisitIf(_ *walk.Walker, n *ir.If)             { c.note(n) }
func (c *kindCollector) VisitLoop(_ *walk.Walker, n *ir.Loop)         { c.note(n) }
func (c *kindCollector) VisitBreak(_ *walk.Walker, n *ir.Break)       { c.note(n) }
func (c *kindCollector) VisitSetLocal(_ *walk.Walker, n *ir.SetLocal) { c.note(n) }
func (c *kindCollector) VisitGetLocal(_ *walk.Walker, n *ir.GetLocal) { c.note(n) }
func (c *kindCollector) VisitConst(_ *walk.Walker, n *ir.Const)       { c.note(n) }
func (c *kindCollector) VisitCall(_ *walk.Walker, n *ir.Call)         { c.note(n) }
func (c *kindCollector) VisitNop(_ *walk.Walker, n *ir.Nop)           { c.note(n) }

func TestSimplifyLocalsSinksSetToGet(t *testing.T) {
	// x = c; use(x) becomes use(tee x = c), freeing the gap
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	set := b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(7)))
	get := b.MakeGetLocal(0, ir.TypeI32)
	ret := b.MakeReturn(get)
	f := b.MakeFunction("f", nil, ir.TypeI32, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, b.MakeBlock(set, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	// the get slot now holds the set; the set slot became a nop, and
	// the trailing cleanup then dissolved the set into its value since
	// no reads remain
	body := f.Body.(*ir.Block)
	if _, ok := body.List[0].(*ir.Nop); !ok {
		t.Errorf("original set position should be a nop, is %s", body.List[0].Kind())
	}
	retExpr := body.List[1].(*ir.Return)
	if c, ok := retExpr.Value.(*ir.Const); !ok || c.Value.I32() != 7 {
		t.Errorf("return should carry the sunk value, has %s", retExpr.Value.Kind())
	}
}

func TestSimplifyLocalsKeepsSecondGet(t *testing.T) {
	// with two reads the assignment must survive as a tee at the first
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	set := b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(7)))
	use1 := b.MakeSetLocal(1, b.MakeGetLocal(0, ir.TypeI32))
	use2 := b.MakeSetLocal(2, b.MakeGetLocal(0, ir.TypeI32))
	ret := b.MakeReturn(b.MakeBinary(ir.Add,
		b.MakeGetLocal(1, ir.TypeI32), b.MakeGetLocal(2, ir.TypeI32)))
	f := b.MakeFunction("f", nil, ir.TypeI32, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
		{Name: "var$1", Type: ir.TypeI32},
		{Name: "var$2", Type: ir.TypeI32},
	}, b.MakeBlock(set, use1, use2, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	// local 0 is still written exactly once, as a tee feeding use1,
	// and still read by use2's chain
	var writes []*ir.SetLocal
	for _, e := range collectKind(m, f, ir.KindSetLocal) {
		if set := e.(*ir.SetLocal); set.Index == 0 {
			writes = append(writes, set)
		}
	}
	if len(writes) != 1 {
		t.Fatalf("local 0 written %d times, want 1", len(writes))
	}
	if !writes[0].IsTee {
		t.Error("the sunk set in value position must be a tee")
	}
}

func TestSimplifyLocalsInvalidation(t *testing.T) {
	// x = load; store; use(x): the load cannot cross the store
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	load := m.Allocator().Load()
	load.Bytes = 4
	load.Type = ir.TypeI32
	load.Ptr = b.MakeConst(ir.LiteralI32(0))
	set := b.MakeSetLocal(0, load)
	store := m.Allocator().Store()
	store.Bytes = 4
	store.Type = ir.TypeI32
	store.Ptr = b.MakeConst(ir.LiteralI32(4))
	store.Value = b.MakeConst(ir.LiteralI32(9))
	ret := b.MakeReturn(b.MakeGetLocal(0, ir.TypeI32))
	f := b.MakeFunction("f", nil, ir.TypeI32, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, b.MakeBlock(set, store, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	// the set must still precede the store
	body := f.Body.(*ir.Block)
	first, ok := body.List[0].(*ir.SetLocal)
	if !ok || first.Index != 0 {
		t.Fatalf("the loaded set must stay put, first element is %s", body.List[0].Kind())
	}
	if _, ok := first.Value.(*ir.Load); !ok {
		t.Error("the set must keep its load")
	}
}

func TestSimplifyLocalsDeadStoreOverwrite(t *testing.T) {
	// x = a; x = b; use(x): the first store is dead, only its value
	// remains
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	set1 := b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(1)))
	set2 := b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(2)))
	ret := b.MakeReturn(b.MakeGetLocal(0, ir.TypeI32))
	f := b.MakeFunction("f", nil, ir.TypeI32, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, b.MakeBlock(set1, set2, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	body := f.Body.(*ir.Block)
	if c, ok := body.List[0].(*ir.Const); !ok || c.Value.I32() != 1 {
		t.Errorf("dead store should reduce to its value, got %s", body.List[0].Kind())
	}
	// and the second set sinks into the return
	if retExpr, ok := body.List[2].(*ir.Return); ok {
		if c, ok := retExpr.Value.(*ir.Const); !ok || c.Value.I32() != 2 {
			t.Errorf("the live value should reach the return")
		}
	}
}

func TestSimplifyLocalsSingleSetNoReads(t *testing.T) {
	// a local assigned once and never read loses its set entirely
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	set := b.MakeSetLocal(0, b.MakeCall("g", nil, ir.TypeI32))
	g := b.MakeFunction("g", nil, ir.TypeI32, nil, b.MakeConst(ir.LiteralI32(1)))
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, b.MakeBlock(set, b.MakeNop()))
	if err := m.AddFunction(g); err != nil {
		t.Fatal(err)
	}
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}
	if sets := collectKind(m, f, ir.KindSetLocal); len(sets) != 0 {
		t.Errorf("%d sets remain for a never-read local", len(sets))
	}
	// the call survives for its side effects
	if calls := collectKind(m, f, ir.KindCall); len(calls) != 1 {
		t.Errorf("the value's call disappeared")
	}
}

func TestSimplifyLocalsBlockReturn(t *testing.T) {
	// a block whose break exit and fall-through both end setting the
	// same local coalesces into a block return value
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)

	setInIf := b.MakeSetLocal(1, b.MakeConst(ir.LiteralI32(1)))
	breakOut := b.MakeBreak("out", nil, nil)
	iff := b.MakeIf(b.MakeGetLocal(0, ir.TypeI32), b.MakeBlock(setInIf, breakOut), nil)
	setFall := b.MakeSetLocal(1, b.MakeConst(ir.LiteralI32(3)))
	out := b.MakeBlock(iff, setFall)
	out.Name = "out"
	get := b.MakeGetLocal(1, ir.TypeI32)
	ret := b.MakeReturn(get)
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeI32,
		[]ir.NameType{{Name: "var$1", Type: ir.TypeI32}}, b.MakeBlock(out, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	// the break now carries its value
	if breakOut.Value == nil {
		t.Fatal("break exit should carry the coalesced value")
	}
	if c, ok := breakOut.Value.(*ir.Const); !ok || c.Value.I32() != 1 {
		t.Errorf("break value wrong")
	}
	// the block's result is the fall-through value
	if len(out.List) == 0 {
		t.Fatal("block emptied")
	}
	last := out.List[len(out.List)-1]
	if c, ok := last.(*ir.Const); !ok || c.Value.I32() != 3 {
		t.Errorf("block fall-through should be the value, is %s", last.Kind())
	}
	if out.Type != ir.TypeI32 {
		t.Errorf("block type should be i32, is %s", out.Type)
	}
	// the wrapping set around the block sank into the only read and
	// then dissolved, so the return consumes the block directly
	retExpr := findReturn(m, f)
	if retExpr == nil {
		t.Fatal("return vanished")
	}
	if retExpr.Value != ir.Expression(out) {
		t.Errorf("return should consume the coalesced block, has %s", retExpr.Value.Kind())
	}
}

func TestSimplifyLocalsIfReturn(t *testing.T) {
	// both arms of an if-else end setting the same local
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)

	setTrue := b.MakeSetLocal(1, b.MakeConst(ir.LiteralI32(10)))
	setFalse := b.MakeSetLocal(1, b.MakeConst(ir.LiteralI32(20)))
	iff := b.MakeIf(b.MakeGetLocal(0, ir.TypeI32), setTrue, setFalse)
	ret := b.MakeReturn(b.MakeGetLocal(1, ir.TypeI32))
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeI32,
		[]ir.NameType{{Name: "var$1", Type: ir.TypeI32}}, b.MakeBlock(iff, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	// the if becomes a value producer: each arm ends in its constant
	if iff.Type != ir.TypeI32 {
		t.Fatalf("if should produce a value, type is %s", iff.Type)
	}
	trueBlock, ok := iff.IfTrue.(*ir.Block)
	if !ok {
		t.Fatal("true arm not blockified")
	}
	if c, ok := trueBlock.List[len(trueBlock.List)-1].(*ir.Const); !ok || c.Value.I32() != 10 {
		t.Error("true arm should end with its value")
	}
	falseBlock, ok := iff.IfFalse.(*ir.Block)
	if !ok {
		t.Fatal("false arm not blockified")
	}
	if c, ok := falseBlock.List[len(falseBlock.List)-1].(*ir.Const); !ok || c.Value.I32() != 20 {
		t.Error("false arm should end with its value")
	}
}

func TestSimplifyLocalsFragmentBlocksPartialSink(t *testing.T) {
	// a set before an if whose only arm rewrites the local: the post-if
	// read must not see either value sunk into it
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	set := b.MakeSetLocal(1, b.MakeConst(ir.LiteralI32(1)))
	armSet := b.MakeSetLocal(1, b.MakeConst(ir.LiteralI32(2)))
	iff := b.MakeIf(b.MakeGetLocal(0, ir.TypeI32), armSet, nil)
	ret := b.MakeReturn(b.MakeGetLocal(1, ir.TypeI32))
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeI32,
		[]ir.NameType{{Name: "var$1", Type: ir.TypeI32}}, b.MakeBlock(set, iff, ret))
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &simplifyLocals{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	// local 1 must still be written on both paths; the return's read
	// cannot be replaced by either constant
	retExpr := findReturn(m, f)
	if retExpr == nil {
		t.Fatal("return vanished")
	}
	if _, ok := retExpr.Value.(*ir.Const); ok {
		t.Error("a split-path value was wrongly sunk into the merged read")
	}
}

func findReturn(m *ir.Module, f *ir.Function) *ir.Return {
	for _, e := range collectKind(m, f, ir.KindReturn) {
		return e.(*ir.Return)
	}
	return nil
}

func (c *kindCollector) VisitReturn(_ *walk.Walker, n *ir.Return) { c.note(n) }
