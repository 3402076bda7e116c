package ir

import "sync"

// arenaChunkSize is the number of nodes of one variant per chunk.
const arenaChunkSize = 256

// slab is a chunked allocator for one node variant. Chunks are never
// reallocated, so pointers into them stay valid for the slab's life.
type slab[T any] struct {
	chunks [][]T
}

func (s *slab[T]) alloc() *T {
	n := len(s.chunks)
	if n == 0 || len(s.chunks[n-1]) == cap(s.chunks[n-1]) {
		s.chunks = append(s.chunks, make([]T, 0, arenaChunkSize))
		n++
	}
	c := &s.chunks[n-1]
	*c = append(*c, *new(T))
	return &(*c)[len(*c)-1]
}

func (s *slab[T]) release() { s.chunks = nil }

// Arena bulk-allocates AST nodes. Every node allocated here lives
// exactly as long as the arena; there is no individual free. Passes
// drop node references freely and the owning module releases the whole
// arena at teardown.
//
// Allocation is safe from function-parallel pass workers; chunk
// bookkeeping is guarded by a mutex.
type Arena struct {
	mu sync.Mutex

	blocks        slab[Block]
	ifs           slab[If]
	loops         slab[Loop]
	breaks        slab[Break]
	switches      slab[Switch]
	calls         slab[Call]
	callImports   slab[CallImport]
	callIndirects slab[CallIndirect]
	getLocals     slab[GetLocal]
	setLocals     slab[SetLocal]
	loads         slab[Load]
	stores        slab[Store]
	consts        slab[Const]
	unaries       slab[Unary]
	binaries      slab[Binary]
	selects       slab[Select]
	drops         slab[Drop]
	returns       slab[Return]
	hosts         slab[Host]
	nops          slab[Nop]
	unreachables  slab[Unreachable]
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

// Release drops all chunks. Any node allocated from the arena is
// invalid afterwards. Only the module's lifecycle owner may call this.
func (a *Arena) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocks.release()
	a.ifs.release()
	a.loops.release()
	a.breaks.release()
	a.switches.release()
	a.calls.release()
	a.callImports.release()
	a.callIndirects.release()
	a.getLocals.release()
	a.setLocals.release()
	a.loads.release()
	a.stores.release()
	a.consts.release()
	a.unaries.release()
	a.binaries.release()
	a.selects.release()
	a.drops.release()
	a.returns.release()
	a.hosts.release()
	a.nops.release()
	a.unreachables.release()
}

// Typed allocation. Each returns a zero node owned by the arena.

func (a *Arena) Block() *Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks.alloc()
}

func (a *Arena) If() *If {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ifs.alloc()
}

func (a *Arena) Loop() *Loop {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loops.alloc()
}

func (a *Arena) Break() *Break {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.breaks.alloc()
}

func (a *Arena) Switch() *Switch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.switches.alloc()
}

func (a *Arena) Call() *Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls.alloc()
}

func (a *Arena) CallImport() *CallImport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callImports.alloc()
}

func (a *Arena) CallIndirect() *CallIndirect {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callIndirects.alloc()
}

func (a *Arena) GetLocal() *GetLocal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getLocals.alloc()
}

func (a *Arena) SetLocal() *SetLocal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setLocals.alloc()
}

func (a *Arena) Load() *Load {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads.alloc()
}

func (a *Arena) Store() *Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stores.alloc()
}

func (a *Arena) Const() *Const {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.consts.alloc()
}

func (a *Arena) Unary() *Unary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unaries.alloc()
}

func (a *Arena) Binary() *Binary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.binaries.alloc()
}

func (a *Arena) Select() *Select {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selects.alloc()
}

func (a *Arena) Drop() *Drop {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drops.alloc()
}

func (a *Arena) Return() *Return {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.returns.alloc()
}

func (a *Arena) Host() *Host {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hosts.alloc()
}

func (a *Arena) Nop() *Nop {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nops.alloc()
}

func (a *Arena) Unreachable() *Unreachable {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unreachables.alloc()
}
