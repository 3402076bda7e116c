package binary_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasm-opt/analysis"
	"github.com/wippyai/wasm-opt/binary"
	"github.com/wippyai/wasm-opt/ir"
)

// Structural module comparison. Labels and local names may be
// regenerated across a round trip, and single-child blocks that nothing
// targets are transparent wrappers, so comparison maps labels and looks
// through those wrappers.

type eqCtx struct {
	aFuncs   map[ir.Name]int
	bFuncs   map[ir.Name]int
	aImports map[ir.Name]int
	bImports map[ir.Name]int
	labels   map[ir.Name]ir.Name

	// per-function: local compaction may renumber non-parameter
	// locals, so indices compare through a bijection
	af       *ir.Function
	bf       *ir.Function
	localMap map[ir.Index]ir.Index
}

func newEqCtx(a, b *ir.Module) *eqCtx {
	ctx := &eqCtx{
		aFuncs:   make(map[ir.Name]int),
		bFuncs:   make(map[ir.Name]int),
		aImports: make(map[ir.Name]int),
		bImports: make(map[ir.Name]int),
		labels:   make(map[ir.Name]ir.Name),
	}
	for i, f := range a.Functions {
		ctx.aFuncs[f.Name] = i
	}
	for i, f := range b.Functions {
		ctx.bFuncs[f.Name] = i
	}
	for i, imp := range a.Imports {
		ctx.aImports[imp.Name] = i
	}
	for i, imp := range b.Imports {
		ctx.bImports[imp.Name] = i
	}
	return ctx
}

func stripTrivialBlocks(e ir.Expression) ir.Expression {
	for {
		b, ok := e.(*ir.Block)
		if !ok || len(b.List) != 1 {
			return e
		}
		if b.Name.IsSet() && analysis.HasBreakTarget(b, b.Name) {
			return e
		}
		e = b.List[0]
	}
}

func normalizeAlign(align uint32, accessBytes uint8) uint32 {
	if align == 0 {
		return uint32(accessBytes)
	}
	return align
}

func exprEqual(a, b ir.Expression, ctx *eqCtx) bool {
	a = stripTrivialBlocks(a)
	b = stripTrivialBlocks(b)
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch an := a.(type) {
	case *ir.Block:
		bn := b.(*ir.Block)
		if len(an.List) != len(bn.List) {
			return false
		}
		saved, had := ctx.labels[an.Name]
		ctx.labels[an.Name] = bn.Name
		for i := range an.List {
			if !exprEqual(an.List[i], bn.List[i], ctx) {
				return false
			}
		}
		if had {
			ctx.labels[an.Name] = saved
		} else {
			delete(ctx.labels, an.Name)
		}
		return true
	case *ir.If:
		bn := b.(*ir.If)
		if (an.IfFalse == nil) != (bn.IfFalse == nil) {
			return false
		}
		if !exprEqual(an.Condition, bn.Condition, ctx) || !exprEqual(an.IfTrue, bn.IfTrue, ctx) {
			return false
		}
		if an.IfFalse != nil && !exprEqual(an.IfFalse, bn.IfFalse, ctx) {
			return false
		}
		return true
	case *ir.Loop:
		bn := b.(*ir.Loop)
		savedOut, hadOut := ctx.labels[an.Out]
		savedIn, hadIn := ctx.labels[an.In]
		ctx.labels[an.Out] = bn.Out
		ctx.labels[an.In] = bn.In
		ok := exprEqual(an.Body, bn.Body, ctx)
		if hadOut {
			ctx.labels[an.Out] = savedOut
		} else {
			delete(ctx.labels, an.Out)
		}
		if hadIn {
			ctx.labels[an.In] = savedIn
		} else {
			delete(ctx.labels, an.In)
		}
		return ok
	case *ir.Break:
		bn := b.(*ir.Break)
		if ctx.labels[an.Name] != bn.Name {
			return false
		}
		if (an.Value == nil) != (bn.Value == nil) || (an.Condition == nil) != (bn.Condition == nil) {
			return false
		}
		if an.Value != nil && !exprEqual(an.Value, bn.Value, ctx) {
			return false
		}
		if an.Condition != nil && !exprEqual(an.Condition, bn.Condition, ctx) {
			return false
		}
		return true
	case *ir.Switch:
		bn := b.(*ir.Switch)
		if len(an.Targets) != len(bn.Targets) {
			return false
		}
		for i := range an.Targets {
			if ctx.labels[an.Targets[i]] != bn.Targets[i] {
				return false
			}
		}
		if ctx.labels[an.Default] != bn.Default {
			return false
		}
		if (an.Value == nil) != (bn.Value == nil) {
			return false
		}
		if an.Value != nil && !exprEqual(an.Value, bn.Value, ctx) {
			return false
		}
		return exprEqual(an.Condition, bn.Condition, ctx)
	case *ir.Call:
		bn := b.(*ir.Call)
		if ctx.aFuncs[an.Target] != ctx.bFuncs[bn.Target] {
			return false
		}
		return operandsEqual(an.Operands, bn.Operands, ctx)
	case *ir.CallImport:
		bn := b.(*ir.CallImport)
		if ctx.aImports[an.Target] != ctx.bImports[bn.Target] {
			return false
		}
		return operandsEqual(an.Operands, bn.Operands, ctx)
	case *ir.CallIndirect:
		bn := b.(*ir.CallIndirect)
		return exprEqual(an.Target, bn.Target, ctx) && operandsEqual(an.Operands, bn.Operands, ctx)
	case *ir.GetLocal:
		return ctx.localsMatch(an.Index, b.(*ir.GetLocal).Index)
	case *ir.SetLocal:
		bn := b.(*ir.SetLocal)
		return ctx.localsMatch(an.Index, bn.Index) && exprEqual(an.Value, bn.Value, ctx)
	case *ir.Load:
		bn := b.(*ir.Load)
		return an.Bytes == bn.Bytes && an.Signed == bn.Signed &&
			an.Offset == bn.Offset && an.Type == bn.Type &&
			normalizeAlign(an.Align, an.Bytes) == normalizeAlign(bn.Align, bn.Bytes) &&
			exprEqual(an.Ptr, bn.Ptr, ctx)
	case *ir.Store:
		bn := b.(*ir.Store)
		return an.Bytes == bn.Bytes && an.Offset == bn.Offset &&
			normalizeAlign(an.Align, an.Bytes) == normalizeAlign(bn.Align, bn.Bytes) &&
			exprEqual(an.Ptr, bn.Ptr, ctx) && exprEqual(an.Value, bn.Value, ctx)
	case *ir.Const:
		bn := b.(*ir.Const)
		return an.Value.Kind == bn.Value.Kind && an.Value.Bits64() == bn.Value.Bits64()
	case *ir.Unary:
		bn := b.(*ir.Unary)
		return an.Op == bn.Op && exprEqual(an.Value, bn.Value, ctx)
	case *ir.Binary:
		bn := b.(*ir.Binary)
		return an.Op == bn.Op && exprEqual(an.Left, bn.Left, ctx) && exprEqual(an.Right, bn.Right, ctx)
	case *ir.Select:
		bn := b.(*ir.Select)
		return exprEqual(an.IfTrue, bn.IfTrue, ctx) &&
			exprEqual(an.IfFalse, bn.IfFalse, ctx) &&
			exprEqual(an.Condition, bn.Condition, ctx)
	case *ir.Return:
		bn := b.(*ir.Return)
		if (an.Value == nil) != (bn.Value == nil) {
			return false
		}
		return an.Value == nil || exprEqual(an.Value, bn.Value, ctx)
	case *ir.Host:
		bn := b.(*ir.Host)
		if an.Op != bn.Op || len(an.Operands) != len(bn.Operands) {
			return false
		}
		return operandsEqual(an.Operands, bn.Operands, ctx)
	case *ir.Nop, *ir.Unreachable:
		return true
	}
	return false
}

// localsMatch accepts a consistent renumbering of locals: parameters
// keep their indices, other locals pair up one-to-one with matching
// types.
func (ctx *eqCtx) localsMatch(a, b ir.Index) bool {
	if mapped, ok := ctx.localMap[a]; ok {
		return mapped == b
	}
	if ctx.af.IsParam(a) != ctx.bf.IsParam(b) {
		return false
	}
	if ctx.af.IsParam(a) && a != b {
		return false
	}
	if ctx.af.LocalType(a) != ctx.bf.LocalType(b) {
		return false
	}
	for _, existing := range ctx.localMap {
		if existing == b {
			return false
		}
	}
	ctx.localMap[a] = b
	return true
}

func operandsEqual(a, b []ir.Expression, ctx *eqCtx) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !exprEqual(a[i], b[i], ctx) {
			return false
		}
	}
	return true
}

func modulesEqual(t *testing.T, a, b *ir.Module) {
	t.Helper()
	if len(a.Functions) != len(b.Functions) {
		t.Fatalf("function count: %d vs %d", len(a.Functions), len(b.Functions))
	}
	if len(a.Imports) != len(b.Imports) || len(a.Exports) != len(b.Exports) {
		t.Fatalf("import/export counts differ")
	}
	if a.Memory.Initial != b.Memory.Initial || a.Memory.Max != b.Memory.Max {
		t.Fatalf("memory descriptors differ")
	}
	if len(a.Memory.Segments) != len(b.Memory.Segments) {
		t.Fatalf("segment counts differ")
	}
	for i := range a.Memory.Segments {
		if a.Memory.Segments[i].Offset != b.Memory.Segments[i].Offset ||
			!bytes.Equal(a.Memory.Segments[i].Data, b.Memory.Segments[i].Data) {
			t.Fatalf("segment %d differs", i)
		}
	}
	ctx := newEqCtx(a, b)
	if a.Start.IsSet() != b.Start.IsSet() {
		t.Fatalf("start presence differs")
	}
	if a.Start.IsSet() && ctx.aFuncs[a.Start] != ctx.bFuncs[b.Start] {
		t.Fatalf("start differs")
	}
	if len(a.Table.Names) != len(b.Table.Names) {
		t.Fatalf("table sizes differ")
	}
	for i := range a.Table.Names {
		if ctx.aFuncs[a.Table.Names[i]] != ctx.bFuncs[b.Table.Names[i]] {
			t.Fatalf("table entry %d differs", i)
		}
	}
	for i := range a.Exports {
		if a.Exports[i].Name != b.Exports[i].Name ||
			ctx.aFuncs[a.Exports[i].Value] != ctx.bFuncs[b.Exports[i].Value] {
			t.Fatalf("export %d differs", i)
		}
	}
	for i := range a.Functions {
		af, bf := a.Functions[i], b.Functions[i]
		if af.Name != bf.Name {
			t.Fatalf("function %d name: %q vs %q", i, af.Name, bf.Name)
		}
		if af.Result != bf.Result || af.NumParams() != bf.NumParams() || af.NumLocals() != bf.NumLocals() {
			t.Fatalf("function %q shape differs", af.Name)
		}
		for j := ir.Index(0); j < af.NumParams(); j++ {
			if af.LocalType(j) != bf.LocalType(j) {
				t.Fatalf("function %q param %d type differs", af.Name, j)
			}
		}
		if !typeMultisetEqual(af, bf) {
			t.Fatalf("function %q local types differ", af.Name)
		}
		ctx.af, ctx.bf = af, bf
		ctx.localMap = make(map[ir.Index]ir.Index)
		if !exprEqual(af.Body, bf.Body, ctx) {
			t.Fatalf("function %q body differs", af.Name)
		}
	}
}

func typeMultisetEqual(a, b *ir.Function) bool {
	counts := make(map[ir.Type]int)
	for _, v := range a.Vars {
		counts[v.Type]++
	}
	for _, v := range b.Vars {
		counts[v.Type]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

func roundTrip(t *testing.T, m *ir.Module) *ir.Module {
	t.Helper()
	encoded, err := binary.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := binary.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	modulesEqual(t, m, decoded)
	// a second trip must be byte-stable
	again, err := binary.Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(encoded, again) {
		t.Fatal("re-encoding the decoded module changed bytes")
	}
	return decoded
}

func TestRoundTripEmptyModule(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	roundTrip(t, m)
}

func TestRoundTripSingleNopFunction(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", nil, ir.TypeNone, nil, b.MakeNop())
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTripUnreachableBody(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", nil, ir.TypeI32, nil, b.MakeUnreachable())
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTrip128Locals(t *testing.T) {
	// the boundary between one- and two-byte LEB local indices
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", nil, ir.TypeI32, nil, nil)
	for i := 0; i < 130; i++ {
		t1 := ir.TypeI32
		if i%3 == 1 {
			t1 = ir.TypeF64
		} else if i%3 == 2 {
			t1 = ir.TypeI64
		}
		b.AddVar(f, t1)
	}
	f.Body = b.MakeBlock(
		b.MakeSetLocal(129, b.MakeConst(ir.LiteralI32(7))),
		b.MakeGetLocal(129, ir.TypeI32),
	)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTripControlFlow(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeI32, nil, nil)

	loopBody := b.MakeBlock(
		b.MakeBreak("continue", nil, b.MakeGetLocal(0, ir.TypeI32)),
		b.MakeBreak("exit", nil, nil),
	)
	outBlock := b.MakeBlock(
		b.MakeIf(
			b.MakeGetLocal(0, ir.TypeI32),
			b.MakeBreak("out", b.MakeConst(ir.LiteralI32(1)), nil),
			b.MakeNop(),
		),
		b.MakeLoop("exit", "continue", loopBody),
		b.MakeConst(ir.LiteralI32(2)),
	)
	outBlock.Name = "out"
	outBlock.Finalize()
	f.Body = outBlock
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTripSwitchZeroTargets(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeNone, nil, nil)
	sw := m.Allocator().Switch()
	sw.Condition = b.MakeGetLocal(0, ir.TypeI32)
	sw.Default = "out"
	block := b.MakeBlock(sw)
	block.Name = "out"
	f.Body = block
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTripSwitchManyTargets(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeNone, nil, nil)
	sw := m.Allocator().Switch()
	sw.Condition = b.MakeGetLocal(0, ir.TypeI32)
	inner := b.MakeBlock(sw)
	inner.Name = "a"
	outer := b.MakeBlock(inner)
	outer.Name = "b"
	sw.Targets = []ir.Name{"a", "b", "a"}
	sw.Default = "b"
	f.Body = outer
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTripCallsAndModuleEntities(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)

	importType := m.EnsureFunctionType([]ir.Type{ir.TypeI32}, ir.TypeI32)
	if err := m.AddImport(&ir.Import{
		Name:   "import$0",
		Module: "env",
		Base:   "callback",
		Type:   importType.Name,
	}); err != nil {
		t.Fatal(err)
	}

	callee := b.MakeFunction("callee", []ir.NameType{{Name: "var$0", Type: ir.TypeI32}}, ir.TypeI32, nil, nil)
	callee.Body = b.MakeGetLocal(0, ir.TypeI32)
	if err := m.AddFunction(callee); err != nil {
		t.Fatal(err)
	}

	caller := b.MakeFunction("caller", nil, ir.TypeI32, nil, nil)
	ci := m.Allocator().CallImport()
	ci.Target = "import$0"
	ci.Operands = []ir.Expression{b.MakeConst(ir.LiteralI32(3))}
	ci.Type = ir.TypeI32
	indirect := m.Allocator().CallIndirect()
	indirect.FullType = importType.Name
	indirect.Target = b.MakeConst(ir.LiteralI32(0))
	indirect.Operands = []ir.Expression{b.MakeConst(ir.LiteralI32(4))}
	indirect.Type = ir.TypeI32
	caller.Body = b.MakeBlock(
		b.MakeSetLocal(0, b.MakeCall("callee", []ir.Expression{ci}, ir.TypeI32)),
		indirect,
	)
	b.AddVar(caller, ir.TypeI32)
	if err := m.AddFunction(caller); err != nil {
		t.Fatal(err)
	}

	startFunc := b.MakeFunction("init", nil, ir.TypeNone, nil, b.MakeNop())
	if err := m.AddFunction(startFunc); err != nil {
		t.Fatal(err)
	}
	m.Start = "init"
	if err := m.AddExport(&ir.Export{Name: "run", Value: "caller"}); err != nil {
		t.Fatal(err)
	}
	m.Table.Names = []ir.Name{"callee", "caller"}

	roundTrip(t, m)
}

func TestRoundTripMemoryAndNumerics(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	m.Memory.Initial = 1
	m.Memory.Max = 16
	m.Memory.Segments = []ir.Segment{
		{Offset: 8, Data: []byte("hello")},
		{Offset: 64, Data: []byte{1, 2, 3}},
	}

	load := m.Allocator().Load()
	load.Bytes = 2
	load.Signed = true
	load.Offset = 16
	load.Type = ir.TypeI32
	load.Ptr = b.MakeConst(ir.LiteralI32(0))

	store := m.Allocator().Store()
	store.Bytes = 8
	store.Offset = 4
	store.Align = 4
	store.Type = ir.TypeF64
	store.Ptr = b.MakeConst(ir.LiteralI32(8))
	store.Value = b.MakeConst(ir.LiteralF64Bits(0x7ff8deadbeef0001)) // NaN payload

	grow := m.Allocator().Host()
	grow.Op = ir.GrowMemory
	grow.Operands = []ir.Expression{b.MakeConst(ir.LiteralI32(1))}
	grow.Finalize()
	size := m.Allocator().Host()
	size.Op = ir.CurrentMemory
	size.Finalize()

	f := b.MakeFunction("mem", nil, ir.TypeI32, nil, nil)
	b.AddVar(f, ir.TypeI32)
	b.AddVar(f, ir.TypeF32)
	f.Body = b.MakeBlock(
		store,
		b.MakeSetLocal(0, load),
		b.MakeSetLocal(1, b.MakeUnary(ir.Sqrt, b.MakeConst(ir.LiteralF32(2)), ir.TypeF32)),
		b.MakeSetLocal(0, grow),
		b.MakeSelect(
			b.MakeBinary(ir.Add, b.MakeGetLocal(0, ir.TypeI32), size),
			b.MakeConst(ir.LiteralI32(-1)),
			b.MakeBinary(ir.LeU, b.MakeGetLocal(0, ir.TypeI32), b.MakeConst(ir.LiteralI32(10))),
		),
	)
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestRoundTripReturnArity(t *testing.T) {
	m := ir.NewModule()
	defer m.Release()
	b := ir.NewBuilder(m)
	f1 := b.MakeFunction("void", nil, ir.TypeNone, nil, b.MakeReturn(nil))
	f2 := b.MakeFunction("value", nil, ir.TypeI64, nil, b.MakeReturn(b.MakeConst(ir.LiteralI64(-9))))
	if err := m.AddFunction(f1); err != nil {
		t.Fatal(err)
	}
	if err := m.AddFunction(f2); err != nil {
		t.Fatal(err)
	}
	roundTrip(t, m)
}

func TestDecodeErrors(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	f := b.MakeFunction("f", nil, ir.TypeNone, nil, b.MakeNop())
	if err := m.AddFunction(f); err != nil {
		t.Fatal(err)
	}
	good, err := binary.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	m.Release()

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[0] = 'X'
		if _, err := binary.Decode(bad); err == nil {
			t.Error("accepted bad magic")
		}
	})
	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[4] = 99
		if _, err := binary.Decode(bad); err == nil {
			t.Error("accepted bad version")
		}
	})
	t.Run("truncated", func(t *testing.T) {
		if _, err := binary.Decode(good[:len(good)-3]); err == nil {
			t.Error("accepted truncated input")
		}
	})
	t.Run("unknown section", func(t *testing.T) {
		bad := append([]byte{}, good[:8]...)
		bad = append(bad, 5, 'b', 'o', 'g', 'u', 's', 0)
		if _, err := binary.Decode(bad); err == nil {
			t.Error("accepted unknown section")
		}
	})
}

func TestSectionSizeMismatch(t *testing.T) {
	// a start section claiming more bytes than its body
	data := []byte{0x00, 0x61, 0x73, 0x6d, 11, 0, 0, 0}
	data = append(data, 5, 's', 't', 'a', 'r', 't', 3, 0)
	if _, err := binary.Decode(data); err == nil {
		t.Error("accepted size mismatch")
	}
}
