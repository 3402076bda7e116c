package walk_test

import (
	"testing"

	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// recorder notes every visited node in order.
type recorder struct {
	walk.BaseVisitor
	visited []ir.Expression
}

func (r *recorder) note(e ir.Expression) { r.visited = append(r.visited, e) }

func (r *recorder) VisitBlock(_ *walk.Walker, n *ir.Block)       { r.note(n) }
func (r *recorder) VisitIf(_ *walk.Walker, n *ir.If)             { r.note(n) }
func (r *recorder) VisitLoop(_ *walk.Walker, n *ir.Loop)         { r.note(n) }
func (r *recorder) VisitBreak(_ *walk.Walker, n *ir.Break)       { r.note(n) }
func (r *recorder) VisitSetLocal(_ *walk.Walker, n *ir.SetLocal) { r.note(n) }
func (r *recorder) VisitGetLocal(_ *walk.Walker, n *ir.GetLocal) { r.note(n) }
func (r *recorder) VisitConst(_ *walk.Walker, n *ir.Const)       { r.note(n) }
func (r *recorder) VisitNop(_ *walk.Walker, n *ir.Nop)           { r.note(n) }
func (r *recorder) VisitDrop(_ *walk.Walker, n *ir.Drop)         { r.note(n) }

func buildLoopFunc(m *ir.Module) (*ir.Function, []ir.Expression) {
	b := ir.NewBuilder(m)
	c1 := b.MakeConst(ir.LiteralI32(1))
	set := b.MakeSetLocal(0, c1)
	get := b.MakeGetLocal(0, ir.TypeI32)
	br := b.MakeBreak("in", nil, get)
	inner := b.MakeBlock(set, br)
	loop := b.MakeLoop("out", "in", inner)
	body := b.MakeBlock(loop)
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, body)
	// expected postorder: const, set, get, break, inner block, loop, body block
	return f, []ir.Expression{c1, set, get, br, inner, loop, body}
}

func TestPostWalkerVisitsEveryNodeOnce(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	f, want := buildLoopFunc(m)

	r := &recorder{}
	walk.NewPost(r).WalkFunction(m, f)

	if len(r.visited) != len(want) {
		t.Fatalf("visited %d nodes, want %d", len(r.visited), len(want))
	}
	for i := range want {
		if r.visited[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, r.visited[i].Kind(), want[i].Kind())
		}
	}
	seen := make(map[ir.Expression]int)
	for _, e := range r.visited {
		seen[e]++
	}
	for e, n := range seen {
		if n != 1 {
			t.Errorf("%s visited %d times", e.Kind(), n)
		}
	}
}

func TestLinearWalkerSameVisitOrder(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	f, want := buildLoopFunc(m)

	r := &recorder{}
	walk.NewLinear(r, nil).WalkFunction(m, f)
	if len(r.visited) != len(want) {
		t.Fatalf("visited %d nodes, want %d", len(r.visited), len(want))
	}
	for i := range want {
		if r.visited[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, r.visited[i].Kind(), want[i].Kind())
		}
	}
}

func TestLinearWalkerNoteAnchors(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	f, _ := buildLoopFunc(m)

	var anchors []ir.Kind
	note := func(w *walk.Walker, currp *ir.Expression) {
		anchors = append(anchors, (*currp).Kind())
	}
	r := &recorder{}
	walk.NewLinear(r, note).WalkFunction(m, f)

	// the loop head fires before its body, the conditional break after
	// its condition; unnamed blocks are silent
	want := []ir.Kind{ir.KindLoop, ir.KindBreak}
	if len(anchors) != len(want) {
		t.Fatalf("got anchors %v, want %v", anchors, want)
	}
	for i := range want {
		if anchors[i] != want[i] {
			t.Fatalf("got anchors %v, want %v", anchors, want)
		}
	}
}

func TestNamedBlockNoteFiresBeforeVisit(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	block := b.MakeBlock(b.MakeNop())
	block.Name = "l"
	f := b.MakeFunction("f", nil, ir.TypeNone, nil, block)

	var events []string
	note := func(w *walk.Walker, currp *ir.Expression) {
		events = append(events, "note")
	}
	r := &visitLogger{events: &events}
	walk.NewLinear(r, note).WalkFunction(m, f)

	want := []string{"nop", "note", "block"}
	if len(events) != len(want) {
		t.Fatalf("events %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events %v, want %v", events, want)
		}
	}
}

type visitLogger struct {
	walk.BaseVisitor
	events *[]string
}

func (v *visitLogger) VisitBlock(_ *walk.Walker, _ *ir.Block) { *v.events = append(*v.events, "block") }
func (v *visitLogger) VisitNop(_ *walk.Walker, _ *ir.Nop)     { *v.events = append(*v.events, "nop") }

// replacer swaps every get_local for a const.
type replacer struct {
	walk.BaseVisitor
	b ir.Builder
}

func (r *replacer) VisitGetLocal(w *walk.Walker, _ *ir.GetLocal) {
	w.ReplaceCurrent(r.b.MakeConst(ir.LiteralI32(42)))
}

func TestReplaceCurrent(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	set := b.MakeSetLocal(0, b.MakeGetLocal(1, ir.TypeI32))
	body := b.MakeBlock(set)
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
		{Name: "var$1", Type: ir.TypeI32},
	}, body)

	walk.NewPost(&replacer{b: b}).WalkFunction(m, f)

	c, ok := set.Value.(*ir.Const)
	if !ok {
		t.Fatalf("child not replaced, still %s", set.Value.Kind())
	}
	if c.Value.I32() != 42 {
		t.Errorf("got %d", c.Value.I32())
	}
}

func TestDeepNestingDoesNotRecurse(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	// a pathological chain of nested blocks
	e := ir.Expression(b.MakeNop())
	for i := 0; i < 200000; i++ {
		e = b.MakeBlock(e)
	}
	f := b.MakeFunction("f", nil, ir.TypeNone, nil, e)
	r := &recorder{}
	walk.NewPost(r).WalkFunction(m, f)
	if len(r.visited) != 200001 {
		t.Errorf("visited %d nodes", len(r.visited))
	}
}

func TestBuildCFG(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)

	// if (c) { x = 1 } else { x = 2 }
	iff := b.MakeIf(
		b.MakeGetLocal(0, ir.TypeI32),
		b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(1))),
		b.MakeSetLocal(0, b.MakeConst(ir.LiteralI32(2))),
	)
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, iff)

	cfg := walk.BuildCFG(f)
	if cfg.Entry == nil || cfg.Exit == nil {
		t.Fatal("missing entry or exit")
	}
	if len(cfg.Entry.Out) != 2 {
		t.Errorf("condition block should fork two ways, has %d successors", len(cfg.Entry.Out))
	}
	if len(cfg.Exit.In) == 0 {
		t.Error("exit unreachable")
	}
}

func TestBuildCFGLoopBackEdge(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	loop := b.MakeLoop("out", "in", b.MakeBreak("in", nil, b.MakeGetLocal(0, ir.TypeI32)))
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, loop)

	cfg := walk.BuildCFG(f)
	// some block must loop back to a block with two predecessors (the head)
	foundHead := false
	for _, bb := range cfg.Blocks {
		if len(bb.In) >= 2 {
			foundHead = true
		}
	}
	if !foundHead {
		t.Error("no loop head with a back edge found")
	}
}
