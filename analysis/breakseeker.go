package analysis

import (
	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// BreakSeeker finds references to a break target within a subtree.
type BreakSeeker struct {
	walk.BaseVisitor
	Target ir.Name
	Found  int
}

// HasBreakTarget reports whether any descendant of ast breaks or
// switches to the named target.
func HasBreakTarget(ast ir.Expression, target ir.Name) bool {
	s := &BreakSeeker{Target: target}
	root := ast
	walk.NewPost(s).Walk(&root)
	return s.Found > 0
}

func (s *BreakSeeker) VisitBreak(_ *walk.Walker, n *ir.Break) {
	if n.Name == s.Target {
		s.Found++
	}
}

func (s *BreakSeeker) VisitSwitch(_ *walk.Walker, n *ir.Switch) {
	for _, t := range n.Targets {
		if t == s.Target {
			s.Found++
		}
	}
	if n.Default == s.Target {
		s.Found++
	}
}
