package binary

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-opt/ir"
)

// MaxImmediates is the most immediates an opcode-table entry can hold.
const MaxImmediates = 2

// MaxOpcode is the size of the opcode byte space.
const MaxOpcode = 256

// OpcodeEntry is a (real opcode, immediate tuple) pair. When frequent,
// the tuple can be assigned an otherwise-unused opcode byte so the
// whole instruction encodes as that single byte.
type OpcodeEntry struct {
	Op     byte
	Size   int // number of immediates, 0..2
	Values [2]ir.Literal
}

func entry0(op byte) OpcodeEntry { return OpcodeEntry{Op: op} }

func entryU32(op byte, x uint32) OpcodeEntry {
	return OpcodeEntry{Op: op, Size: 1, Values: [2]ir.Literal{ir.LiteralI32(int32(x))}}
}

func entryS32(op byte, x int32) OpcodeEntry {
	return OpcodeEntry{Op: op, Size: 1, Values: [2]ir.Literal{ir.LiteralI32(x)}}
}

func entryS64(op byte, x int64) OpcodeEntry {
	return OpcodeEntry{Op: op, Size: 1, Values: [2]ir.Literal{ir.LiteralI64(x)}}
}

func entryF32(op byte, x ir.Literal) OpcodeEntry {
	return OpcodeEntry{Op: op, Size: 1, Values: [2]ir.Literal{x}}
}

func entryF64(op byte, x ir.Literal) OpcodeEntry {
	return OpcodeEntry{Op: op, Size: 1, Values: [2]ir.Literal{x}}
}

func entryU32U32(op byte, x, y uint32) OpcodeEntry {
	return OpcodeEntry{Op: op, Size: 2, Values: [2]ir.Literal{
		ir.LiteralI32(int32(x)), ir.LiteralI32(int32(y)),
	}}
}

// OpcodeInfo records frequency of every (opcode, immediates) tuple
// seen during a trial encoding, plus the raw per-opcode frequency used
// to find free bytes.
type OpcodeInfo struct {
	Freqs   [MaxOpcode]int
	Entries map[OpcodeEntry]int
}

// NewOpcodeInfo returns an empty recorder.
func NewOpcodeInfo() *OpcodeInfo {
	return &OpcodeInfo{Entries: make(map[OpcodeEntry]int)}
}

// Record notes one occurrence of the entry.
func (oi *OpcodeInfo) Record(e OpcodeEntry) {
	oi.Freqs[e.Op]++
	oi.Entries[e]++
}

// Cost scores an entry: frequency times immediate count. Higher is
// better, it is the byte volume the substitution can remove.
func (oi *OpcodeInfo) Cost(e OpcodeEntry) int {
	return oi.Entries[e] * e.Size
}

// OpcodeTable assigns frequent entries to opcode bytes that no real
// opcode in the module occupies.
type OpcodeTable struct {
	Used    [MaxOpcode]bool
	Entries [MaxOpcode]OpcodeEntry
	Mapping map[OpcodeEntry]byte
}

// NewOpcodeTable returns an empty table (no substitutions).
func NewOpcodeTable() *OpcodeTable {
	return &OpcodeTable{Mapping: make(map[OpcodeEntry]byte)}
}

// BuildOpcodeTable constructs a table from recorded info: candidates
// sorted by cost descending (ties by opcode byte), assigned in order
// to each byte the module's real opcodes leave free.
func BuildOpcodeTable(info *OpcodeInfo) *OpcodeTable {
	t := NewOpcodeTable()
	order := make([]OpcodeEntry, 0, len(info.Entries))
	for e := range info.Entries {
		if info.Cost(e) > 0 {
			order = append(order, e)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		lc, rc := info.Cost(order[i]), info.Cost(order[j])
		if lc != rc {
			return lc > rc
		}
		if order[i].Op != order[j].Op {
			return order[i].Op < order[j].Op
		}
		if literalLess(order[i].Values[0], order[j].Values[0]) {
			return true
		}
		if literalLess(order[j].Values[0], order[i].Values[0]) {
			return false
		}
		return literalLess(order[i].Values[1], order[j].Values[1])
	})
	next := 0
	for i := 0; i < MaxOpcode; i++ {
		if info.Freqs[i] > 0 || next >= len(order) {
			continue
		}
		t.Used[i] = true
		t.Entries[i] = order[next]
		t.Mapping[order[next]] = byte(i)
		next++
	}
	return t
}

// literalLess orders literals of the same type; unset (none) literals
// compare equal.
func literalLess(x, y ir.Literal) bool {
	if x.Kind == ir.TypeNone || y.Kind == ir.TypeNone {
		return false
	}
	if x.Kind.IsFloat() {
		if x.Kind == ir.TypeF32 {
			return x.F32() < y.F32()
		}
		return x.F64() < y.F64()
	}
	return x.Bits64() < y.Bits64()
}

// write emits the table as its own section: entry count, then per used
// byte (used byte, real opcode, immediate count, typed immediates).
func (t *OpcodeTable) write(w *Writer) {
	start := w.startSection(SectionOpcodes)
	w.o.Byte(byte(len(t.Mapping)))
	for i := 0; i < MaxOpcode; i++ {
		if !t.Used[i] {
			continue
		}
		e := t.Entries[i]
		w.o.Byte(byte(i))
		w.o.Byte(e.Op)
		w.o.Byte(byte(e.Size))
		for j := 0; j < e.Size; j++ {
			v := e.Values[j]
			w.o.Byte(byte(v.Kind))
			switch v.Kind {
			case ir.TypeI32:
				w.o.S32LEB(v.I32())
			case ir.TypeI64:
				w.o.S64LEB(v.I64())
			case ir.TypeF32:
				w.o.F32Bits(v.Bits32())
			case ir.TypeF64:
				w.o.F64Bits(v.Bits64())
			}
		}
	}
	w.finishSection(start)
}

// read parses a table section body.
func (t *OpcodeTable) read(r *Reader) error {
	num, err := r.byte()
	if err != nil {
		return err
	}
	for i := 0; i < int(num); i++ {
		usedIndex, err := r.byte()
		if err != nil {
			return err
		}
		var e OpcodeEntry
		if e.Op, err = r.byte(); err != nil {
			return err
		}
		size, err := r.byte()
		if err != nil {
			return err
		}
		if int(size) > MaxImmediates {
			return fmt.Errorf("opcode table entry with %d immediates", size)
		}
		e.Size = int(size)
		for j := 0; j < e.Size; j++ {
			tb, err := r.byte()
			if err != nil {
				return err
			}
			switch ir.Type(tb) {
			case ir.TypeI32:
				v, err := r.s32()
				if err != nil {
					return err
				}
				e.Values[j] = ir.LiteralI32(v)
			case ir.TypeI64:
				v, err := r.s64()
				if err != nil {
					return err
				}
				e.Values[j] = ir.LiteralI64(v)
			case ir.TypeF32:
				bits, err := r.i32()
				if err != nil {
					return err
				}
				e.Values[j] = ir.LiteralF32Bits(bits)
			case ir.TypeF64:
				bits, err := r.i64()
				if err != nil {
					return err
				}
				e.Values[j] = ir.LiteralF64Bits(bits)
			default:
				return fmt.Errorf("opcode table immediate with bad type %d", tb)
			}
		}
		t.Used[usedIndex] = true
		t.Entries[usedIndex] = e
	}
	return nil
}
