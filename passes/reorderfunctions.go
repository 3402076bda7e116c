package passes

import (
	"bytes"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-opt/binary"
	"github.com/wippyai/wasm-opt/ir"
	"github.com/wippyai/wasm-opt/walk"
)

// BitsPerLEBByte is the payload width of one LEB128 byte.
const BitsPerLEBByte = 7

// ReorderFunctions sorts functions to shrink the encoded module and
// improve its compressibility, in decreasing importance:
//
//   - functions with many uses get low indexes, so the LEB operand of
//     every call to them is short;
//   - within ranges whose indexes encode to the same LEB length,
//     larger functions come first;
//   - within fixed chunks, similar functions sit next to each other,
//     measured by mutual compressibility of their encoded bytes.
type reorderFunctions struct {
	// Metric overrides the similarity measure; nil means mutual
	// compressibility via flate.
	Metric SimilarityMetric
}

// SimilarityMetric scores how different two byte streams are; lower
// means more similar.
type SimilarityMetric func(a, b []byte) int

func init() {
	register("reorder-functions", "sort functions by use count, size, and similarity",
		func() Pass { return &reorderFunctions{} })
}

func (p *reorderFunctions) Name() string { return "reorder-functions" }

func (p *reorderFunctions) Run(m *ir.Module) error {
	p.sortByUses(m)
	// materialize each function's encoded bytes for the refinements
	writer := binary.NewWriter(m)
	encoded, err := writer.Write()
	if err != nil {
		return fmt.Errorf("trial encoding: %w", err)
	}
	if len(writer.FunctionRanges) != len(m.Functions) {
		return fmt.Errorf("trial encoding produced %d ranges for %d functions",
			len(writer.FunctionRanges), len(m.Functions))
	}
	info := make(map[ir.Name][]byte, len(m.Functions))
	for i, f := range m.Functions {
		r := writer.FunctionRanges[i]
		info[f.Name] = encoded[r.Offset : r.Offset+r.Size]
	}
	p.refineBySize(m, info)
	p.refineBySimilarity(m, info)
	return nil
}

// functionUseCounter counts call targets; the counters are shared
// atomics, pre-populated before the parallel walk so no concurrent map
// insertion happens.
type functionUseCounter struct {
	walk.BaseVisitor
	uses map[ir.Name]*atomic.Int64
}

func (c *functionUseCounter) VisitCall(w *walk.Walker, curr *ir.Call) {
	c.uses[curr.Target].Add(1)
}

// sortByUses sorts descending by how often each function is a call
// target, counting calls, the start function, exports, and table
// entries. The sort is stable, so ties keep their original order.
func (p *reorderFunctions) sortByUses(m *ir.Module) {
	uses := make(map[ir.Name]*atomic.Int64, len(m.Functions))
	for _, f := range m.Functions {
		uses[f.Name] = &atomic.Int64{}
	}
	counter := &functionUseCounter{uses: uses}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, f := range m.Functions {
		f := f
		g.Go(func() error {
			walk.NewPost(counter).WalkFunction(m, f)
			return nil
		})
	}
	// the counter holds no per-function state, so workers share it
	_ = g.Wait()
	if m.Start.IsSet() {
		uses[m.Start].Add(1)
	}
	for _, e := range m.Exports {
		uses[e.Value].Add(1)
	}
	for _, name := range m.Table.Names {
		uses[name].Add(1)
	}
	sort.SliceStable(m.Functions, func(i, j int) bool {
		return uses[m.Functions[i].Name].Load() > uses[m.Functions[j].Name].Load()
	})
}

// refineBySize sorts by encoded size descending inside each range of
// indexes that shares a LEB length, so stage one's savings survive.
// Bucket boundaries are the absolute index thresholds where the LEB
// encoding grows a byte: 2^7, 2^14, and so on.
func (p *reorderFunctions) refineBySize(m *ir.Module, info map[ir.Name][]byte) {
	start := 0
	bitsAvail := 0
	for start < len(m.Functions) {
		bitsAvail += BitsPerLEBByte
		end := len(m.Functions)
		if bitsAvail < 63 {
			if e := 1 << bitsAvail; e < end {
				end = e
			}
		}
		bucket := m.Functions[start:end]
		sort.SliceStable(bucket, func(i, j int) bool {
			return len(info[bucket[i].Name]) > len(info[bucket[j].Name])
		})
		start = end
	}
}

// refineBySimilarity greedily chains similar functions inside fixed
// chunks of one LEB byte's index range. The previous placement carries
// across chunk boundaries, as it should: adjacency is what compresses.
func (p *reorderFunctions) refineBySimilarity(m *ir.Module, info map[ir.Name][]byte) {
	metric := p.Metric
	if metric == nil {
		metric = CompressedDifference
	}
	functions := m.Functions
	const chunkSize = 1 << BitsPerLEBByte
	start := 0
	var last ir.Name
	for start < len(functions) {
		end := start + chunkSize
		if end > len(functions) {
			end = len(functions)
		}
		for i := start; i < end; i++ {
			if last.IsSet() {
				// greedy: take whichever remaining function is most
				// similar to the one just placed
				bestIndex := i
				bestDifference := metric(info[last], info[functions[i].Name])
				for j := i + 1; j < end; j++ {
					if d := metric(info[last], info[functions[j].Name]); d < bestDifference {
						bestDifference = d
						bestIndex = j
					}
				}
				functions[i], functions[bestIndex] = functions[bestIndex], functions[i]
			}
			last = functions[i].Name
		}
		start = end
	}
}

// CompressedDifference measures dissimilarity by mutual
// compressibility: compress each stream alone and concatenated; the
// more the concatenation undercuts the sum, the more alike they are.
func CompressedDifference(a, b []byte) int {
	ca := compressedSize(a)
	cb := compressedSize(b)
	combined := make([]byte, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	sum := ca + cb
	if sum == 0 {
		return 0
	}
	return (100 * (compressedSize(combined) - sum)) / sum
}

func compressedSize(data []byte) int {
	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return len(data)
	}
	if _, err := zw.Write(data); err != nil {
		return len(data)
	}
	if err := zw.Close(); err != nil {
		return len(data)
	}
	return buf.Len()
}

// HashDifference is the fallback similarity metric: count matching
// substring hashes up to a bounded length; more shared substrings
// means more similar.
func HashDifference(a, b []byte) int {
	const maxSub = 8
	seen := make(map[uint32]bool)
	for length := 2; length <= maxSub; length++ {
		for i := 0; i+length <= len(a); i++ {
			seen[substringHash(a[i:i+length])] = true
		}
	}
	common := 0
	for length := 2; length <= maxSub; length++ {
		for i := 0; i+length <= len(b); i++ {
			if seen[substringHash(b[i:i+length])] {
				common++
			}
		}
	}
	return -common
}

// substringHash is the djb2-xor hash.
func substringHash(data []byte) uint32 {
	var hash uint32 = 5381
	for _, c := range data {
		hash = ((hash << 5) + hash) ^ uint32(c)
	}
	return hash
}
