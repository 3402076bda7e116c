package passes

import (
	"testing"

	"github.com/wippyai/wasm-opt/ir"
)

func TestDropReturnValuesWrapsUnusedValues(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	c := b.MakeConst(ir.LiteralI32(1))
	get := b.MakeGetLocal(0, ir.TypeI32)
	body := b.MakeBlock(c, get, b.MakeNop())
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, body)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		drop, ok := body.List[i].(*ir.Drop)
		if !ok {
			t.Fatalf("element %d not dropped, is %s", i, body.List[i].Kind())
		}
		if i == 0 && drop.Value != ir.Expression(c) {
			t.Error("drop should wrap the original value")
		}
	}
}

func TestDropReturnValuesKeepsUsedValues(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	c := b.MakeConst(ir.LiteralI32(1))
	ret := b.MakeReturn(c)
	f := b.MakeFunction("f", nil, ir.TypeI32, nil, ret)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}
	if ret.Value != ir.Expression(c) {
		t.Error("a consumed value must not be wrapped")
	}
}

func TestDropReturnValuesClearsTee(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	tee := b.MakeTeeLocal(0, b.MakeConst(ir.LiteralI32(1)))
	body := b.MakeBlock(tee, b.MakeNop())
	f := b.MakeFunction("f", nil, ir.TypeNone, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, body)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}
	if tee.IsTee {
		t.Error("an unobserved tee must become a plain set")
	}
}

func TestDropReturnValuesKeepsObservedTee(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	tee := b.MakeTeeLocal(0, b.MakeConst(ir.LiteralI32(1)))
	ret := b.MakeReturn(tee)
	f := b.MakeFunction("f", nil, ir.TypeI32, []ir.NameType{
		{Name: "var$0", Type: ir.TypeI32},
	}, ret)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}
	if !tee.IsTee {
		t.Error("an observed tee must stay a tee")
	}
}

func TestDropReturnValuesBreakValueToUnusedBlock(t *testing.T) {
	// the block's value has no observer, so the break drops its
	// payload at the break site
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	payload := b.MakeConst(ir.LiteralI32(5))
	br := b.MakeBreak("out", payload, nil)
	block := b.MakeBlock(br, b.MakeConst(ir.LiteralI32(6)))
	block.Name = "out"
	body := b.MakeBlock(block, b.MakeNop())
	f := b.MakeFunction("f", nil, ir.TypeNone, nil, body)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	if br.Value != nil {
		t.Fatal("break payload must be gone")
	}
	seq, ok := block.List[0].(*ir.Block)
	if !ok || len(seq.List) != 2 {
		t.Fatalf("break site should be a drop sequence")
	}
	drop, ok := seq.List[0].(*ir.Drop)
	if !ok || drop.Value != ir.Expression(payload) {
		t.Error("payload should be dropped before the break")
	}
	if seq.List[1] != ir.Expression(br) {
		t.Error("the break itself should follow the drop")
	}
}

func TestDropReturnValuesStoreSpill(t *testing.T) {
	// a store whose value is observed spills through a fresh local
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	store := m.Allocator().Store()
	store.Bytes = 4
	store.Type = ir.TypeI32
	store.Ptr = b.MakeConst(ir.LiteralI32(0))
	store.Value = b.MakeConst(ir.LiteralI32(42))
	ret := b.MakeReturn(store)
	f := b.MakeFunction("f", nil, ir.TypeI32, nil, ret)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}

	numLocals := f.NumLocals()
	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}

	if f.NumLocals() != numLocals+1 {
		t.Fatal("spill must allocate a fresh local")
	}
	if store.Type != ir.TypeNone {
		t.Error("a store no longer yields a value")
	}
	seq, ok := ret.Value.(*ir.Block)
	if !ok || len(seq.List) != 2 {
		t.Fatalf("return should consume the spill sequence")
	}
	if _, ok := seq.List[1].(*ir.GetLocal); !ok {
		t.Error("the sequence must end reading the spill local")
	}
	inner, ok := seq.List[0].(*ir.Block)
	if !ok || len(inner.List) != 2 {
		t.Fatal("spill sequence shape wrong")
	}
	set, ok := inner.List[0].(*ir.SetLocal)
	if !ok {
		t.Fatal("the stored value must first land in the spill local")
	}
	if c, ok := set.Value.(*ir.Const); !ok || c.Value.I32() != 42 {
		t.Error("spill set must take the original value")
	}
	if _, ok := store.Value.(*ir.GetLocal); !ok {
		t.Error("the store must read the spill local")
	}
}

func TestDropReturnValuesIfArmNotUsed(t *testing.T) {
	// an if without else cannot produce a value: its arm's value is
	// dropped
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	arm := b.MakeConst(ir.LiteralI32(3))
	iff := b.MakeIf(b.MakeGetLocal(0, ir.TypeI32), arm, nil)
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeNone, nil, iff)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	p := &dropReturnValues{}
	if err := p.RunFunction(m, f); err != nil {
		t.Fatal(err)
	}
	drop, ok := iff.IfTrue.(*ir.Drop)
	if !ok {
		t.Fatalf("arm should be dropped, is %s", iff.IfTrue.Kind())
	}
	if drop.Value != ir.Expression(arm) {
		t.Error("drop should wrap the arm value")
	}
}
