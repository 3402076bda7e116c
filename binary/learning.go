package binary

import (
	"fmt"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-opt/ir"
)

// Encode emits the module in the plain long form.
func Encode(m *ir.Module) ([]byte, error) {
	return NewWriter(m).Write()
}

// Choice is one point in the emission search space: an order of
// functions and a partition of them into chunks, each chunk getting
// its own opcode table. The AST is never touched; only emission order
// and chunk boundaries vary.
type Choice struct {
	Order      []int
	ChunkSizes []int

	fitness int
}

// Fitness is the negated encoded size; more is better.
func (c *Choice) Fitness() int { return c.fitness }

func (c *Choice) verify() error {
	total := 0
	for _, size := range c.ChunkSizes {
		total += size
	}
	if total != len(c.Order) {
		return fmt.Errorf("chunk sizes cover %d of %d functions", total, len(c.Order))
	}
	return nil
}

// IdentityChoice returns the module's own order with reasonably large
// uniform chunks.
func IdentityChoice(m *ir.Module, chunk int) *Choice {
	num := len(m.Functions)
	c := &Choice{}
	for i := 0; i < num; i++ {
		c.Order = append(c.Order, i)
	}
	for num > chunk {
		c.ChunkSizes = append(c.ChunkSizes, chunk)
		num -= chunk
	}
	c.ChunkSizes = append(c.ChunkSizes, num)
	return c
}

// EncodeWithChoice emits the module compressed under the given choice:
// a trial encoding records opcode usage per chunk, a table is built
// for each chunk, and a second encoding substitutes table bytes.
func EncodeWithChoice(m *ir.Module, choice *Choice) ([]byte, error) {
	if err := choice.verify(); err != nil {
		return nil, err
	}
	original := make([]*ir.Function, len(m.Functions))
	copy(original, m.Functions)
	for i, oi := range choice.Order {
		m.Functions[i] = original[oi]
	}
	defer copy(m.Functions, original)

	infos := make([]*OpcodeInfo, len(choice.ChunkSizes))
	for i := range infos {
		infos[i] = NewOpcodeInfo()
	}
	pre := NewPreprocessor(m, choice.ChunkSizes, infos)
	if _, err := pre.Write(); err != nil {
		return nil, err
	}
	tables := make([]*OpcodeTable, len(infos))
	for i, info := range infos {
		tables[i] = BuildOpcodeTable(info)
	}
	post := NewPostprocessor(m, choice.ChunkSizes, tables)
	return post.Write()
}

// EncodeCompressed emits the module with opcode-table compression in
// its own order, chunked at 100 functions per table.
func EncodeCompressed(m *ir.Module) ([]byte, error) {
	if len(m.Functions) == 0 {
		return Encode(m)
	}
	return EncodeWithChoice(m, IdentityChoice(m, 100))
}

// Generator breeds choices for the genetic search.
type Generator struct {
	module *ir.Module
	rng    *rand.Rand
	log    *zap.Logger
}

// NewGenerator returns a generator over the module with a seeded
// random source, so searches are reproducible.
func NewGenerator(m *ir.Module, seed int64, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{module: m, rng: rand.New(rand.NewSource(seed)), log: log}
}

func (g *Generator) size() int { return len(g.module.Functions) }

// MakeRandom builds a shuffled order with a randomly placed chunking.
func (g *Generator) MakeRandom() (*Choice, error) {
	size := g.size()
	c := &Choice{}
	c.Order = g.rng.Perm(size)
	// pick the number of chunks: sometimes anything, sometimes a
	// conservative minimum of several draws, sometimes a handful
	var num int
	switch {
	case g.rng.Intn(2) == 0:
		num = max(g.rng.Intn(size), 1)
	case g.rng.Intn(2) == 0:
		num = max(min(min(g.rng.Intn(size), g.rng.Intn(size)), min(g.rng.Intn(size), g.rng.Intn(size))), 1)
	default:
		num = min(size, 1+g.rng.Intn(8))
	}
	// uniform chunk sizes via randomly placed markers; a marker means
	// a new chunk starts after its position
	markers := make([]int, num)
	for i := range markers {
		markers[i] = g.rng.Intn(size)
	}
	sort.Ints(markers)
	markers = append(markers, size+1)
	currSize, nextMarker := 0, 0
	for i := 0; i < size; i++ {
		currSize++
		if markers[nextMarker] <= i {
			c.ChunkSizes = append(c.ChunkSizes, currSize)
			currSize = 0
			nextMarker++
		}
	}
	if currSize > 0 {
		c.ChunkSizes = append(c.ChunkSizes, currSize)
	}
	if err := g.calcFitness(c); err != nil {
		return nil, err
	}
	return c, nil
}

// addChunkIndexes accumulates, per function, the index of the chunk it
// lands in under the choice.
func (g *Generator) addChunkIndexes(c *Choice, indexes []int) {
	curr := 0
	for s, chunkSize := range c.ChunkSizes {
		for i := 0; i < chunkSize; i++ {
			indexes[c.Order[curr]] += s
			curr++
		}
	}
}

// MakeMixture breeds two choices. What matters is which functions end
// up together, so approximate by averaging each function's chunk index
// across the parents and regrouping.
func (g *Generator) MakeMixture(left, right *Choice) (*Choice, error) {
	size := g.size()
	c := &Choice{}
	merged := make([]int, size)
	g.addChunkIndexes(left, merged)
	g.addChunkIndexes(right, merged)
	numChunks := max(len(left.ChunkSizes), len(right.ChunkSizes))
	grouped := make([][]int, numChunks)
	mixer := left
	if g.rng.Intn(2) == 0 {
		mixer = right
	}
	for i := 0; i < size; i++ {
		fi := mixer.Order[i]
		chunk := merged[fi] / 2
		if chunk >= numChunks {
			chunk = numChunks - 1
		}
		grouped[chunk] = append(grouped[chunk], fi)
	}
	for _, indexes := range grouped {
		if len(indexes) == 0 {
			continue
		}
		c.Order = append(c.Order, indexes...)
		c.ChunkSizes = append(c.ChunkSizes, len(indexes))
	}
	if err := g.calcFitness(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Generator) calcFitness(c *Choice) error {
	out, err := EncodeWithChoice(g.module, c)
	if err != nil {
		return err
	}
	c.fitness = -len(out)
	return nil
}

// GeneticLearner searches emission orders and chunkings for the
// smallest encoding. Semantics are untouched; only bytes shrink.
type GeneticLearner struct {
	generator  *Generator
	population []*Choice
	log        *zap.Logger
}

// NewGeneticLearner seeds a population of the given size, always
// including the identity choice so the search can only improve on the
// baseline.
func NewGeneticLearner(g *Generator, populationSize int, log *zap.Logger) (*GeneticLearner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &GeneticLearner{generator: g, log: log}
	identity := IdentityChoice(g.module, 100)
	if err := g.calcFitness(identity); err != nil {
		return nil, err
	}
	l.population = append(l.population, identity)
	for len(l.population) < populationSize {
		c, err := g.MakeRandom()
		if err != nil {
			return nil, err
		}
		l.population = append(l.population, c)
	}
	l.sortPopulation()
	return l, nil
}

func (l *GeneticLearner) sortPopulation() {
	sort.SliceStable(l.population, func(i, j int) bool {
		return l.population[i].fitness > l.population[j].fitness
	})
}

// Best returns the fittest choice so far.
func (l *GeneticLearner) Best() *Choice { return l.population[0] }

// RunGeneration keeps the fitter half and refills with mixtures of
// random survivors.
func (l *GeneticLearner) RunGeneration() error {
	size := len(l.population)
	survivors := size / 2
	if survivors < 2 {
		survivors = size
	}
	next := make([]*Choice, 0, size)
	next = append(next, l.population[:survivors]...)
	for len(next) < size {
		left := next[l.generator.rng.Intn(survivors)]
		right := next[l.generator.rng.Intn(survivors)]
		child, err := l.generator.MakeMixture(left, right)
		if err != nil {
			return err
		}
		next = append(next, child)
	}
	l.population = next
	l.sortPopulation()
	l.log.Debug("generation complete",
		zap.Int("best_size", -l.Best().fitness),
		zap.Int("chunks", len(l.Best().ChunkSizes)))
	return nil
}

// EncodeLearned runs the genetic search for a bounded number of
// generations and emits with the best choice found.
func EncodeLearned(m *ir.Module, generations int, seed int64, log *zap.Logger) ([]byte, error) {
	if len(m.Functions) < 2 {
		return EncodeCompressed(m)
	}
	g := NewGenerator(m, seed, log)
	learner, err := NewGeneticLearner(g, 20, log)
	if err != nil {
		return nil, err
	}
	for i := 0; i < generations; i++ {
		if err := learner.RunGeneration(); err != nil {
			return nil, err
		}
	}
	return EncodeWithChoice(m, learner.Best())
}
