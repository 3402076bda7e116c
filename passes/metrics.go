package passes

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// Metrics counts each expression kind in the module. A second run in
// the same process reports deltas against the previous run, increases
// in red and decreases in green. It never mutates.

var (
	metricsMu   sync.Mutex
	lastMetrics map[string]int

	increaseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	decreaseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

type metrics struct {
	walk.BaseVisitor

	// Out receives the report; nil means standard output.
	Out io.Writer

	counts map[string]int
}

func init() {
	register("metrics", "report expression counts, with deltas on a second run",
		func() Pass { return &metrics{} })
}

func (p *metrics) Name() string { return "metrics" }

func (p *metrics) Run(m *ir.Module) error {
	p.counts = make(map[string]int)
	for _, f := range m.Functions {
		walk.NewPost(p).WalkFunction(m, f)
	}
	p.report()
	return nil
}

func (p *metrics) count(e ir.Expression) {
	p.counts[e.Kind().String()]++
}

func (p *metrics) VisitBlock(_ *walk.Walker, n *ir.Block)               { p.count(n) }
func (p *metrics) VisitIf(_ *walk.Walker, n *ir.If)                     { p.count(n) }
func (p *metrics) VisitLoop(_ *walk.Walker, n *ir.Loop)                 { p.count(n) }
func (p *metrics) VisitBreak(_ *walk.Walker, n *ir.Break)               { p.count(n) }
func (p *metrics) VisitSwitch(_ *walk.Walker, n *ir.Switch)             { p.count(n) }
func (p *metrics) VisitCall(_ *walk.Walker, n *ir.Call)                 { p.count(n) }
func (p *metrics) VisitCallImport(_ *walk.Walker, n *ir.CallImport)     { p.count(n) }
func (p *metrics) VisitCallIndirect(_ *walk.Walker, n *ir.CallIndirect) { p.count(n) }
func (p *metrics) VisitGetLocal(_ *walk.Walker, n *ir.GetLocal)         { p.count(n) }
func (p *metrics) VisitSetLocal(_ *walk.Walker, n *ir.SetLocal)         { p.count(n) }
func (p *metrics) VisitLoad(_ *walk.Walker, n *ir.Load)                 { p.count(n) }
func (p *metrics) VisitStore(_ *walk.Walker, n *ir.Store)               { p.count(n) }
func (p *metrics) VisitConst(_ *walk.Walker, n *ir.Const)               { p.count(n) }
func (p *metrics) VisitUnary(_ *walk.Walker, n *ir.Unary)               { p.count(n) }
func (p *metrics) VisitBinary(_ *walk.Walker, n *ir.Binary)             { p.count(n) }
func (p *metrics) VisitSelect(_ *walk.Walker, n *ir.Select)             { p.count(n) }
func (p *metrics) VisitDrop(_ *walk.Walker, n *ir.Drop)                 { p.count(n) }
func (p *metrics) VisitReturn(_ *walk.Walker, n *ir.Return)             { p.count(n) }
func (p *metrics) VisitHost(_ *walk.Walker, n *ir.Host)                 { p.count(n) }
func (p *metrics) VisitNop(_ *walk.Walker, n *ir.Nop)                   { p.count(n) }
func (p *metrics) VisitUnreachable(_ *walk.Walker, n *ir.Unreachable)   { p.count(n) }

func (p *metrics) report() {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	keys := make([]string, 0, len(p.counts))
	total := 0
	for k, v := range p.counts {
		keys = append(keys, k)
		total += v
	}
	sort.Strings(keys)

	metricsMu.Lock()
	previous := lastMetrics
	lastMetrics = p.counts
	metricsMu.Unlock()

	fmt.Fprintln(out, "Counts")
	for _, k := range keys {
		v := p.counts[k]
		line := fmt.Sprintf(" %-25s: %-8d", k, v)
		if previous != nil {
			if before, ok := previous[k]; ok && v != before {
				delta := fmt.Sprintf("%+8d", v-before)
				if v > before {
					delta = increaseStyle.Render(delta)
				} else {
					delta = decreaseStyle.Render(delta)
				}
				line += delta
			}
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%-26s: %-8d\n", "Total", total)
}
