package ir

import "fmt"

// Builder constructs nodes in a module's arena. It is a value type;
// make one wherever a pass needs to build.
type Builder struct {
	module *Module
}

// NewBuilder returns a builder allocating into the module's arena.
func NewBuilder(m *Module) Builder { return Builder{module: m} }

// MakeFunction builds a function and registers its signature when
// needed. The body may be nil and filled in later.
func (b Builder) MakeFunction(name Name, params []NameType, result Type, vars []NameType, body Expression) *Function {
	f := &Function{
		Name:   name,
		Params: params,
		Vars:   vars,
		Result: result,
		Body:   body,
	}
	types := make([]Type, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	f.Type = b.module.EnsureFunctionType(types, result).Name
	return f
}

// AddVar appends a fresh local of the given type to the function and
// returns its flat index.
func (b Builder) AddVar(f *Function, t Type) Index {
	index := f.NumLocals()
	f.Vars = append(f.Vars, NameType{
		Name: Name(fmt.Sprintf("var$%d", len(f.Vars))),
		Type: t,
	})
	return index
}

// MakeBlock builds an unlabeled block holding the given children.
func (b Builder) MakeBlock(children ...Expression) *Block {
	block := b.module.allocator.Block()
	block.List = append(block.List, children...)
	block.Finalize()
	return block
}

// MakeSequence builds a two-element block, the usual way to prepend
// one expression to another.
func (b Builder) MakeSequence(first, second Expression) *Block {
	return b.MakeBlock(first, second)
}

// Blockify wraps the expression in a block unless it already is one.
func (b Builder) Blockify(e Expression) *Block {
	if block, ok := e.(*Block); ok {
		return block
	}
	return b.MakeBlock(e)
}

// MakeIf builds an if; ifFalse may be nil.
func (b Builder) MakeIf(condition, ifTrue, ifFalse Expression) *If {
	iff := b.module.allocator.If()
	iff.Condition = condition
	iff.IfTrue = ifTrue
	iff.IfFalse = ifFalse
	iff.Finalize()
	return iff
}

// MakeLoop builds a loop with the given labels.
func (b Builder) MakeLoop(out, in Name, body Expression) *Loop {
	loop := b.module.allocator.Loop()
	loop.Out = out
	loop.In = in
	loop.Body = body
	loop.Finalize()
	return loop
}

// MakeBreak builds a break; value and condition may be nil.
func (b Builder) MakeBreak(target Name, value, condition Expression) *Break {
	br := b.module.allocator.Break()
	br.Name = target
	br.Value = value
	br.Condition = condition
	br.Finalize()
	return br
}

// MakeGetLocal builds a local read.
func (b Builder) MakeGetLocal(index Index, t Type) *GetLocal {
	get := b.module.allocator.GetLocal()
	get.Index = index
	get.Type = t
	return get
}

// MakeSetLocal builds a local write.
func (b Builder) MakeSetLocal(index Index, value Expression) *SetLocal {
	set := b.module.allocator.SetLocal()
	set.Index = index
	set.Value = value
	set.Finalize()
	return set
}

// MakeTeeLocal builds a local write whose result is observed.
func (b Builder) MakeTeeLocal(index Index, value Expression) *SetLocal {
	set := b.MakeSetLocal(index, value)
	set.IsTee = true
	return set
}

// MakeConst builds a constant.
func (b Builder) MakeConst(value Literal) *Const {
	c := b.module.allocator.Const()
	c.Value = value
	return c
}

// MakeUnary builds a unary operation.
func (b Builder) MakeUnary(op UnaryOp, value Expression, t Type) *Unary {
	u := b.module.allocator.Unary()
	u.Op = op
	u.Value = value
	u.Type = t
	return u
}

// MakeBinary builds a binary operation.
func (b Builder) MakeBinary(op BinaryOp, left, right Expression) *Binary {
	bin := b.module.allocator.Binary()
	bin.Op = op
	bin.Left = left
	bin.Right = right
	bin.Finalize()
	return bin
}

// MakeSelect builds a select.
func (b Builder) MakeSelect(ifTrue, ifFalse, condition Expression) *Select {
	sel := b.module.allocator.Select()
	sel.IfTrue = ifTrue
	sel.IfFalse = ifFalse
	sel.Condition = condition
	sel.Finalize()
	return sel
}

// MakeCall builds a direct call.
func (b Builder) MakeCall(target Name, operands []Expression, result Type) *Call {
	call := b.module.allocator.Call()
	call.Target = target
	call.Operands = operands
	call.Type = result
	return call
}

// MakeDrop builds a drop of the given value.
func (b Builder) MakeDrop(value Expression) *Drop {
	drop := b.module.allocator.Drop()
	drop.Value = value
	return drop
}

// MakeReturn builds a return; value may be nil.
func (b Builder) MakeReturn(value Expression) *Return {
	ret := b.module.allocator.Return()
	ret.Value = value
	return ret
}

// MakeNop builds a nop.
func (b Builder) MakeNop() *Nop { return b.module.allocator.Nop() }

// MakeUnreachable builds an unreachable.
func (b Builder) MakeUnreachable() *Unreachable { return b.module.allocator.Unreachable() }
