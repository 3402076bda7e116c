package analysis

import (
	"github.com/wippyai/wasm-opt/ir"
)

// IsResultUsed reports whether the value of the innermost expression
// on the ancestor stack has any observer. The stack runs from the
// function body root to the expression itself, as maintained by a
// pass's pre/post hooks.
//
// A value flows upward through the last element of a block, either arm
// of an if-else, and a loop body; it dies at a non-final block
// element, the arm of an if without an else, or a drop. Any other
// parent consumes it. At the top, the function's result type decides.
func IsResultUsed(stack []ir.Expression, f *ir.Function) bool {
	for i := len(stack) - 2; i >= 0; i-- {
		curr := stack[i]
		above := stack[i+1]
		switch n := curr.(type) {
		case *ir.Block:
			if len(n.List) == 0 || n.List[len(n.List)-1] != above {
				return false
			}
			// fall through to the block's own parent
		case *ir.Loop:
			// the body's value is the loop's value
		case *ir.If:
			if above == n.Condition {
				return true
			}
			if n.IfFalse == nil {
				return false
			}
			// an arm's value is the if's value
		case *ir.Drop:
			return false
		default:
			return true
		}
	}
	return f.Result != ir.TypeNone
}
