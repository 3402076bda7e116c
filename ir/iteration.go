package ir

// ChildSlots returns the expression's child slots in execution order.
// Optional children that are absent (a break without a condition, a
// return without a value) are skipped rather than returned as nil
// slots. Structural values - block, if, and loop results - are not
// separate children.
//
// Writing through a returned slot replaces that child in place.
func ChildSlots(e Expression) []*Expression {
	switch n := e.(type) {
	case *Block:
		slots := make([]*Expression, len(n.List))
		for i := range n.List {
			slots[i] = &n.List[i]
		}
		return slots
	case *If:
		slots := []*Expression{&n.Condition, &n.IfTrue}
		if n.IfFalse != nil {
			slots = append(slots, &n.IfFalse)
		}
		return slots
	case *Loop:
		return []*Expression{&n.Body}
	case *Break:
		var slots []*Expression
		if n.Value != nil {
			slots = append(slots, &n.Value)
		}
		if n.Condition != nil {
			slots = append(slots, &n.Condition)
		}
		return slots
	case *Switch:
		var slots []*Expression
		if n.Value != nil {
			slots = append(slots, &n.Value)
		}
		return append(slots, &n.Condition)
	case *Call:
		return operandSlots(n.Operands, nil)
	case *CallImport:
		return operandSlots(n.Operands, nil)
	case *CallIndirect:
		return operandSlots(n.Operands, &n.Target)
	case *SetLocal:
		return []*Expression{&n.Value}
	case *Load:
		return []*Expression{&n.Ptr}
	case *Store:
		return []*Expression{&n.Ptr, &n.Value}
	case *Unary:
		return []*Expression{&n.Value}
	case *Binary:
		return []*Expression{&n.Left, &n.Right}
	case *Select:
		return []*Expression{&n.IfTrue, &n.IfFalse, &n.Condition}
	case *Drop:
		return []*Expression{&n.Value}
	case *Return:
		if n.Value != nil {
			return []*Expression{&n.Value}
		}
		return nil
	case *Host:
		return operandSlots(n.Operands, nil)
	default:
		// GetLocal, Const, Nop, Unreachable
		return nil
	}
}

// operandSlots returns slots for a call's operands, with the indirect
// target first in execution order when present.
func operandSlots(operands []Expression, target *Expression) []*Expression {
	slots := make([]*Expression, 0, len(operands)+1)
	if target != nil {
		slots = append(slots, target)
	}
	for i := range operands {
		slots = append(slots, &operands[i])
	}
	return slots
}
