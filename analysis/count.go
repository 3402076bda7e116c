package analysis

import (
	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// GetLocalCounter counts reads per local over a subtree.
type GetLocalCounter struct {
	walk.BaseVisitor
	NumGets []ir.Index
}

// NewGetLocalCounter counts the reads in ast, sized for f's locals.
func NewGetLocalCounter(f *ir.Function, ast ir.Expression) *GetLocalCounter {
	c := &GetLocalCounter{}
	c.Analyze(f, ast)
	return c
}

// Analyze recounts over the given subtree.
func (c *GetLocalCounter) Analyze(f *ir.Function, ast ir.Expression) {
	c.NumGets = make([]ir.Index, f.NumLocals())
	root := ast
	walk.NewPost(c).Walk(&root)
}

func (c *GetLocalCounter) VisitGetLocal(_ *walk.Walker, n *ir.GetLocal) {
	c.NumGets[n.Index]++
}

// LocalAnalyzer computes per-local read and write counts and the SFA
// property. Single first assignment: the local is not a parameter, has
// exactly one write, and no read precedes that write in postorder.
type LocalAnalyzer struct {
	walk.BaseVisitor
	sfa     []bool
	NumSets []ir.Index
	NumGets []ir.Index
}

// NewLocalAnalyzer analyzes the whole function body.
func NewLocalAnalyzer(f *ir.Function) *LocalAnalyzer {
	a := &LocalAnalyzer{}
	a.Analyze(f)
	return a
}

// Analyze recomputes the counts and SFA flags for f.
func (a *LocalAnalyzer) Analyze(f *ir.Function) {
	num := f.NumLocals()
	a.NumSets = make([]ir.Index, num)
	a.NumGets = make([]ir.Index, num)
	a.sfa = make([]bool, num)
	for i := f.VarIndexBase(); i < num; i++ {
		a.sfa[i] = true
	}
	root := f.Body
	walk.NewPost(a).Walk(&root)
	for i := ir.Index(0); i < num; i++ {
		if a.NumSets[i] == 0 {
			a.sfa[i] = false
		}
	}
}

// IsSFA reports whether the local is single-first-assignment.
func (a *LocalAnalyzer) IsSFA(i ir.Index) bool { return a.sfa[i] }

// GetNumGets returns the read count for the local.
func (a *LocalAnalyzer) GetNumGets(i ir.Index) ir.Index { return a.NumGets[i] }

func (a *LocalAnalyzer) VisitGetLocal(_ *walk.Walker, n *ir.GetLocal) {
	if a.NumSets[n.Index] == 0 {
		a.sfa[n.Index] = false
	}
	a.NumGets[n.Index]++
}

func (a *LocalAnalyzer) VisitSetLocal(_ *walk.Walker, n *ir.SetLocal) {
	a.NumSets[n.Index]++
	if a.NumSets[n.Index] > 1 {
		a.sfa[n.Index] = false
	}
}
