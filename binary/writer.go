package binary

import (
	"fmt"
	"math/bits"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-opt/analysis"
	"github.com/wippyai/wasm-opt/ir"
)

// impossibleContinue is the synthetic break-stack entry for if arms.
// The format requires a scope entry there, but nothing can target it.
const impossibleContinue ir.Name = "impossible-continue"

// ByteRange locates one function's encoded bytes inside the output.
type ByteRange struct {
	Offset int
	Size   int
}

// emitter writes one expression opcode with its immediates. The plain
// emitter writes the long form; the preprocessing emitter also records
// tuples into an OpcodeInfo; the postprocessing emitter substitutes
// table-assigned single bytes.
type emitter interface {
	emit(op byte)
	emitU32(op byte, x uint32)
	emitS32(op byte, x int32)
	emitS64(op byte, x int64)
	emitF32(op byte, bits uint32)
	emitF64(op byte, bits uint64)
	emitU32U32(op byte, x, y uint32)
}

type plainEmitter struct {
	o *Buffer
}

func (e plainEmitter) emit(op byte) { e.o.Byte(op) }
func (e plainEmitter) emitU32(op byte, x uint32) {
	e.o.Byte(op)
	e.o.U32LEB(x)
}
func (e plainEmitter) emitS32(op byte, x int32) {
	e.o.Byte(op)
	e.o.S32LEB(x)
}
func (e plainEmitter) emitS64(op byte, x int64) {
	e.o.Byte(op)
	e.o.S64LEB(x)
}
func (e plainEmitter) emitF32(op byte, bits uint32) {
	e.o.Byte(op)
	e.o.F32Bits(bits)
}
func (e plainEmitter) emitF64(op byte, bits uint64) {
	e.o.Byte(op)
	e.o.F64Bits(bits)
}
func (e plainEmitter) emitU32U32(op byte, x, y uint32) {
	e.o.Byte(op)
	e.o.U32LEB(x)
	e.o.U32LEB(y)
}

type recordingEmitter struct {
	plain plainEmitter
	info  *OpcodeInfo
}

func (e recordingEmitter) emit(op byte) {
	e.info.Record(entry0(op))
	e.plain.emit(op)
}
func (e recordingEmitter) emitU32(op byte, x uint32) {
	e.info.Record(entryU32(op, x))
	e.plain.emitU32(op, x)
}
func (e recordingEmitter) emitS32(op byte, x int32) {
	e.info.Record(entryS32(op, x))
	e.plain.emitS32(op, x)
}
func (e recordingEmitter) emitS64(op byte, x int64) {
	e.info.Record(entryS64(op, x))
	e.plain.emitS64(op, x)
}
func (e recordingEmitter) emitF32(op byte, bits uint32) {
	e.info.Record(entryF32(op, ir.LiteralF32Bits(bits)))
	e.plain.emitF32(op, bits)
}
func (e recordingEmitter) emitF64(op byte, bits uint64) {
	e.info.Record(entryF64(op, ir.LiteralF64Bits(bits)))
	e.plain.emitF64(op, bits)
}
func (e recordingEmitter) emitU32U32(op byte, x, y uint32) {
	e.info.Record(entryU32U32(op, x, y))
	e.plain.emitU32U32(op, x, y)
}

type tableEmitter struct {
	plain plainEmitter
	table *OpcodeTable
}

func (e tableEmitter) emit(op byte) { e.plain.emit(op) }
func (e tableEmitter) emitU32(op byte, x uint32) {
	if code, ok := e.table.Mapping[entryU32(op, x)]; ok {
		e.plain.emit(code)
		return
	}
	e.plain.emitU32(op, x)
}
func (e tableEmitter) emitS32(op byte, x int32) {
	if code, ok := e.table.Mapping[entryS32(op, x)]; ok {
		e.plain.emit(code)
		return
	}
	e.plain.emitS32(op, x)
}
func (e tableEmitter) emitS64(op byte, x int64) {
	if code, ok := e.table.Mapping[entryS64(op, x)]; ok {
		e.plain.emit(code)
		return
	}
	e.plain.emitS64(op, x)
}
func (e tableEmitter) emitF32(op byte, bits uint32) {
	if code, ok := e.table.Mapping[entryF32(op, ir.LiteralF32Bits(bits))]; ok {
		e.plain.emit(code)
		return
	}
	e.plain.emitF32(op, bits)
}
func (e tableEmitter) emitF64(op byte, bits uint64) {
	if code, ok := e.table.Mapping[entryF64(op, ir.LiteralF64Bits(bits))]; ok {
		e.plain.emit(code)
		return
	}
	e.plain.emitF64(op, bits)
}
func (e tableEmitter) emitU32U32(op byte, x, y uint32) {
	if code, ok := e.table.Mapping[entryU32U32(op, x, y)]; ok {
		e.plain.emit(code)
		return
	}
	e.plain.emitU32U32(op, x, y)
}

// Writer emits a module in the version-11 binary format. The zero
// writer is not usable; construct with NewWriter, NewPreprocessor, or
// NewPostprocessor.
type Writer struct {
	module *ir.Module
	o      *Buffer
	log    *zap.Logger

	// chunkSizes partitions the functions into consecutive runs, each
	// emitted as its own code section. Empty means one section.
	chunkSizes []int
	infos      []*OpcodeInfo
	tables     []*OpcodeTable

	em emitter

	mappedLocals    map[ir.Index]ir.Index
	numLocalsByType map[ir.Type]int
	breakStack      []ir.Name

	mappedFunctions map[ir.Name]uint32
	mappedImports   map[ir.Name]uint32
	mappedTypes     map[ir.Name]uint32

	// FunctionRanges locates each function's encoded body after Write,
	// in function order.
	FunctionRanges []ByteRange
}

// NewWriter returns a plain writer for the module.
func NewWriter(m *ir.Module) *Writer {
	w := &Writer{module: m, o: NewBuffer(), log: zap.NewNop()}
	w.em = plainEmitter{w.o}
	return w
}

// NewPreprocessor returns a trial-encoding writer that records every
// emitted (opcode, immediates) tuple into one OpcodeInfo per chunk.
func NewPreprocessor(m *ir.Module, chunkSizes []int, infos []*OpcodeInfo) *Writer {
	w := NewWriter(m)
	w.chunkSizes = chunkSizes
	w.infos = infos
	return w
}

// NewPostprocessor returns a writer that emits each chunk's opcode
// table as its own section and substitutes table entries while
// encoding that chunk.
func NewPostprocessor(m *ir.Module, chunkSizes []int, tables []*OpcodeTable) *Writer {
	w := NewWriter(m)
	w.chunkSizes = chunkSizes
	w.tables = tables
	return w
}

// SetLogger installs a logger for debug tracing.
func (w *Writer) SetLogger(log *zap.Logger) { w.log = log }

// Write encodes the module and returns the bytes.
func (w *Writer) Write() ([]byte, error) {
	w.prepare()
	w.writeHeader()
	w.writeSignatures()
	if err := w.writeImports(); err != nil {
		return nil, err
	}
	if err := w.writeFunctionSignatures(); err != nil {
		return nil, err
	}
	if err := w.writeFunctionTable(); err != nil {
		return nil, err
	}
	w.writeMemory()
	if err := w.writeExports(); err != nil {
		return nil, err
	}
	if err := w.writeStart(); err != nil {
		return nil, err
	}
	if err := w.writeFunctions(); err != nil {
		return nil, err
	}
	w.writeDataSegments()
	w.writeNames()
	return w.o.Bytes(), nil
}

func (w *Writer) prepare() {
	w.mappedTypes = make(map[ir.Name]uint32, len(w.module.FunctionTypes))
	for i, ft := range w.module.FunctionTypes {
		w.mappedTypes[ft.Name] = uint32(i)
	}
	w.mappedFunctions = make(map[ir.Name]uint32, len(w.module.Functions))
	for i, f := range w.module.Functions {
		w.mappedFunctions[f.Name] = uint32(i)
	}
	w.mappedImports = make(map[ir.Name]uint32, len(w.module.Imports))
	for i, imp := range w.module.Imports {
		w.mappedImports[imp.Name] = uint32(i)
	}
	w.FunctionRanges = make([]ByteRange, 0, len(w.module.Functions))
}

func (w *Writer) writeHeader() {
	w.o.I32(Magic)
	w.o.I32(Version)
}

// startSection writes the section name and reserves the 5-byte size
// slot, returning its offset for finishSection.
func (w *Writer) startSection(name string) int {
	w.o.InlineString(name)
	return w.o.U32LEBPlaceholder()
}

// finishSection back-patches the size slot with the body length.
func (w *Writer) finishSection(start int) {
	size := w.o.Len() - start - lebPlaceholderSize
	w.o.PatchU32LEB(start, uint32(size))
}

func (w *Writer) functionTypeIndex(name ir.Name) (uint32, error) {
	i, ok := w.mappedTypes[name]
	if !ok {
		return 0, fmt.Errorf("unknown function type %q", name)
	}
	return i, nil
}

func (w *Writer) functionIndex(name ir.Name) (uint32, error) {
	i, ok := w.mappedFunctions[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name)
	}
	return i, nil
}

func (w *Writer) importIndex(name ir.Name) (uint32, error) {
	i, ok := w.mappedImports[name]
	if !ok {
		return 0, fmt.Errorf("unknown import %q", name)
	}
	return i, nil
}

func (w *Writer) writeSignatures() {
	if len(w.module.FunctionTypes) == 0 {
		return
	}
	start := w.startSection(SectionSignatures)
	w.o.U32LEB(uint32(len(w.module.FunctionTypes)))
	for _, ft := range w.module.FunctionTypes {
		w.o.Byte(TypeFormBasic)
		w.o.U32LEB(uint32(len(ft.Params)))
		for _, p := range ft.Params {
			w.o.Byte(byte(p))
		}
		if ft.Result == ir.TypeNone {
			w.o.U32LEB(0)
		} else {
			w.o.U32LEB(1)
			w.o.Byte(byte(ft.Result))
		}
	}
	w.finishSection(start)
}

func (w *Writer) writeImports() error {
	if len(w.module.Imports) == 0 {
		return nil
	}
	start := w.startSection(SectionImportTable)
	w.o.U32LEB(uint32(len(w.module.Imports)))
	for _, imp := range w.module.Imports {
		typeIndex, err := w.functionTypeIndex(imp.Type)
		if err != nil {
			return fmt.Errorf("import %q: %w", imp.Name, err)
		}
		w.o.U32LEB(typeIndex)
		w.o.InlineString(string(imp.Module))
		w.o.InlineString(string(imp.Base))
	}
	w.finishSection(start)
	return nil
}

func (w *Writer) writeFunctionSignatures() error {
	if len(w.module.Functions) == 0 {
		return nil
	}
	start := w.startSection(SectionFunctionSignatures)
	w.o.U32LEB(uint32(len(w.module.Functions)))
	for _, f := range w.module.Functions {
		typeIndex, err := w.functionTypeIndex(f.Type)
		if err != nil {
			return fmt.Errorf("function %q: %w", f.Name, err)
		}
		w.o.U32LEB(typeIndex)
	}
	w.finishSection(start)
	return nil
}

func (w *Writer) writeFunctionTable() error {
	if len(w.module.Table.Names) == 0 {
		return nil
	}
	start := w.startSection(SectionFunctionTable)
	w.o.U32LEB(uint32(len(w.module.Table.Names)))
	for _, name := range w.module.Table.Names {
		index, err := w.functionIndex(name)
		if err != nil {
			return fmt.Errorf("table: %w", err)
		}
		w.o.U32LEB(index)
	}
	w.finishSection(start)
	return nil
}

func (w *Writer) writeMemory() {
	if w.module.Memory.Max == 0 {
		return
	}
	start := w.startSection(SectionMemory)
	w.o.U32LEB(w.module.Memory.Initial)
	w.o.U32LEB(w.module.Memory.Max)
	if w.module.Memory.ExportName.IsSet() {
		w.o.Byte(1)
	} else {
		w.o.Byte(0)
	}
	w.finishSection(start)
}

func (w *Writer) writeExports() error {
	if len(w.module.Exports) == 0 {
		return nil
	}
	start := w.startSection(SectionExportTable)
	w.o.U32LEB(uint32(len(w.module.Exports)))
	for _, e := range w.module.Exports {
		index, err := w.functionIndex(e.Value)
		if err != nil {
			return fmt.Errorf("export %q: %w", e.Name, err)
		}
		w.o.U32LEB(index)
		w.o.InlineString(string(e.Name))
	}
	w.finishSection(start)
	return nil
}

func (w *Writer) writeStart() error {
	if !w.module.Start.IsSet() {
		return nil
	}
	index, err := w.functionIndex(w.module.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	start := w.startSection(SectionStart)
	w.o.U32LEB(index)
	w.finishSection(start)
	return nil
}

// chunks returns the function partition: explicit chunk sizes, or one
// chunk holding everything.
func (w *Writer) chunks() [][]*ir.Function {
	funcs := w.module.Functions
	if len(w.chunkSizes) == 0 {
		if len(funcs) == 0 {
			return nil
		}
		return [][]*ir.Function{funcs}
	}
	var out [][]*ir.Function
	at := 0
	for _, size := range w.chunkSizes {
		end := at + size
		if end > len(funcs) {
			end = len(funcs)
		}
		out = append(out, funcs[at:end])
		at = end
	}
	return out
}

func (w *Writer) writeFunctions() error {
	for c, chunk := range w.chunks() {
		switch {
		case w.infos != nil:
			w.em = recordingEmitter{plainEmitter{w.o}, w.infos[c]}
		case w.tables != nil:
			w.tables[c].write(w)
			w.em = tableEmitter{plainEmitter{w.o}, w.tables[c]}
		default:
			w.em = plainEmitter{w.o}
		}
		start := w.startSection(SectionFunctions)
		w.o.U32LEB(uint32(len(chunk)))
		for _, f := range chunk {
			sizePos := w.o.U32LEBPlaceholder()
			bodyStart := w.o.Len()
			w.mapLocals(f)
			w.writeCompactLocals()
			w.breakStack = w.breakStack[:0]
			if err := w.writeExpression(f.Body); err != nil {
				return fmt.Errorf("function %q: %w", f.Name, err)
			}
			size := w.o.Len() - bodyStart
			w.o.PatchU32LEB(sizePos, uint32(size))
			w.FunctionRanges = append(w.FunctionRanges, ByteRange{Offset: bodyStart, Size: size})
			w.log.Debug("wrote function",
				zap.String("name", string(f.Name)),
				zap.Int("size", size))
		}
		w.finishSection(start)
	}
	return nil
}

// mapLocals builds the source-index to compact-index map: parameters
// keep their indices, then all i32 vars in source order, then i64,
// f32, f64.
func (w *Writer) mapLocals(f *ir.Function) {
	w.mappedLocals = make(map[ir.Index]ir.Index, f.NumLocals())
	w.numLocalsByType = make(map[ir.Type]int)
	for i := ir.Index(0); i < f.NumParams(); i++ {
		w.mappedLocals[i] = i
	}
	for _, v := range f.Vars {
		w.numLocalsByType[v.Type]++
	}
	currByType := make(map[ir.Type]int)
	base := f.VarIndexBase()
	for i := base; i < f.NumLocals(); i++ {
		t := f.LocalType(i)
		index := int(base)
		for _, group := range []ir.Type{ir.TypeI32, ir.TypeI64, ir.TypeF32, ir.TypeF64} {
			if t == group {
				w.mappedLocals[i] = ir.Index(index + currByType[t])
				currByType[t]++
				break
			}
			index += w.numLocalsByType[group]
		}
	}
}

// writeCompactLocals emits the (count, type) runs, one per type that
// has any locals.
func (w *Writer) writeCompactLocals() {
	numRuns := 0
	for _, t := range []ir.Type{ir.TypeI32, ir.TypeI64, ir.TypeF32, ir.TypeF64} {
		if w.numLocalsByType[t] > 0 {
			numRuns++
		}
	}
	w.o.U32LEB(uint32(numRuns))
	for _, t := range []ir.Type{ir.TypeI32, ir.TypeI64, ir.TypeF32, ir.TypeF64} {
		if n := w.numLocalsByType[t]; n > 0 {
			w.o.U32LEB(uint32(n))
			w.o.Byte(byte(t))
		}
	}
}

func (w *Writer) writeDataSegments() {
	num := 0
	for _, s := range w.module.Memory.Segments {
		if len(s.Data) > 0 {
			num++
		}
	}
	if num == 0 {
		return
	}
	start := w.startSection(SectionDataSegments)
	w.o.U32LEB(uint32(num))
	for _, s := range w.module.Memory.Segments {
		if len(s.Data) == 0 {
			continue
		}
		w.o.U32LEB(s.Offset)
		w.o.U32LEB(uint32(len(s.Data)))
		w.o.Write(s.Data)
	}
	w.finishSection(start)
}

func (w *Writer) writeNames() {
	if len(w.module.Functions) == 0 {
		return
	}
	start := w.startSection(SectionNames)
	w.o.U32LEB(uint32(len(w.module.Functions)))
	for _, f := range w.module.Functions {
		w.o.InlineString(string(f.Name))
		w.o.U32LEB(0) // no local names
	}
	w.finishSection(start)
}

// breakIndex resolves a target label to its relative depth, scanning
// the break stack from the top.
func (w *Writer) breakIndex(name ir.Name) (uint32, error) {
	for i := len(w.breakStack) - 1; i >= 0; i-- {
		if w.breakStack[i] == name {
			return uint32(len(w.breakStack) - 1 - i), nil
		}
	}
	return 0, fmt.Errorf("break to unresolvable label %q", name)
}

func (w *Writer) pushBreakTarget(name ir.Name) {
	w.breakStack = append(w.breakStack, name)
}

func (w *Writer) popBreakTarget() {
	w.breakStack = w.breakStack[:len(w.breakStack)-1]
}

// writePossibleBlockContents writes a block's children without the
// block wrapper when the block is unnamed or its label is never
// targeted.
func (w *Writer) writePossibleBlockContents(e ir.Expression) error {
	block, ok := e.(*ir.Block)
	if !ok || (block.Name.IsSet() && analysis.HasBreakTarget(block, block.Name)) {
		return w.writeExpression(e)
	}
	for _, child := range block.List {
		if err := w.writeExpression(child); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeExpression(e ir.Expression) error {
	switch n := e.(type) {
	case *ir.Block:
		w.em.emit(OpBlock)
		w.pushBreakTarget(n.Name)
		for _, child := range n.List {
			if err := w.writeExpression(child); err != nil {
				return err
			}
		}
		w.popBreakTarget()
		w.em.emit(OpEnd)
	case *ir.If:
		if err := w.writeExpression(n.Condition); err != nil {
			return err
		}
		w.em.emit(OpIf)
		w.pushBreakTarget(impossibleContinue)
		if err := w.writePossibleBlockContents(n.IfTrue); err != nil {
			return err
		}
		w.popBreakTarget()
		if n.IfFalse != nil {
			w.em.emit(OpElse)
			w.pushBreakTarget(impossibleContinue)
			if err := w.writePossibleBlockContents(n.IfFalse); err != nil {
				return err
			}
			w.popBreakTarget()
		}
		w.em.emit(OpEnd)
	case *ir.Loop:
		w.em.emit(OpLoop)
		w.pushBreakTarget(n.Out)
		w.pushBreakTarget(n.In)
		if err := w.writeExpression(n.Body); err != nil {
			return err
		}
		w.popBreakTarget()
		w.popBreakTarget()
		w.em.emit(OpEnd)
	case *ir.Break:
		if n.Value != nil {
			if err := w.writeExpression(n.Value); err != nil {
				return err
			}
		}
		if n.Condition != nil {
			if err := w.writeExpression(n.Condition); err != nil {
				return err
			}
		}
		depth, err := w.breakIndex(n.Name)
		if err != nil {
			return err
		}
		op := OpBr
		if n.Condition != nil {
			op = OpBrIf
		}
		arity := uint32(0)
		if n.Value != nil {
			arity = 1
		}
		w.em.emitU32U32(op, arity, depth)
	case *ir.Switch:
		if n.Value != nil {
			if err := w.writeExpression(n.Value); err != nil {
				return err
			}
		}
		if err := w.writeExpression(n.Condition); err != nil {
			return err
		}
		arity := uint32(0)
		if n.Value != nil {
			arity = 1
		}
		w.em.emitU32U32(OpTableSwitch, arity, uint32(len(n.Targets)))
		for _, t := range n.Targets {
			depth, err := w.breakIndex(t)
			if err != nil {
				return err
			}
			w.o.I32(depth)
		}
		depth, err := w.breakIndex(n.Default)
		if err != nil {
			return err
		}
		w.o.I32(depth)
	case *ir.Call:
		for _, op := range n.Operands {
			if err := w.writeExpression(op); err != nil {
				return err
			}
		}
		index, err := w.functionIndex(n.Target)
		if err != nil {
			return err
		}
		w.em.emitU32U32(OpCallFunction, uint32(len(n.Operands)), index)
	case *ir.CallImport:
		for _, op := range n.Operands {
			if err := w.writeExpression(op); err != nil {
				return err
			}
		}
		index, err := w.importIndex(n.Target)
		if err != nil {
			return err
		}
		w.em.emitU32U32(OpCallImport, uint32(len(n.Operands)), index)
	case *ir.CallIndirect:
		if err := w.writeExpression(n.Target); err != nil {
			return err
		}
		for _, op := range n.Operands {
			if err := w.writeExpression(op); err != nil {
				return err
			}
		}
		index, err := w.functionTypeIndex(n.FullType)
		if err != nil {
			return err
		}
		w.em.emitU32U32(OpCallIndirect, uint32(len(n.Operands)), index)
	case *ir.GetLocal:
		w.em.emitU32(OpGetLocal, w.mappedLocals[n.Index])
	case *ir.SetLocal:
		if err := w.writeExpression(n.Value); err != nil {
			return err
		}
		w.em.emitU32(OpSetLocal, w.mappedLocals[n.Index])
	case *ir.Load:
		if err := w.writeExpression(n.Ptr); err != nil {
			return err
		}
		op, err := loadOpcode(n)
		if err != nil {
			return err
		}
		w.emitMemoryAccess(op, n.Align, n.Bytes, n.Offset)
	case *ir.Store:
		if err := w.writeExpression(n.Ptr); err != nil {
			return err
		}
		if err := w.writeExpression(n.Value); err != nil {
			return err
		}
		op, err := storeOpcode(n)
		if err != nil {
			return err
		}
		w.emitMemoryAccess(op, n.Align, n.Bytes, n.Offset)
	case *ir.Const:
		switch n.Value.Kind {
		case ir.TypeI32:
			w.em.emitS32(OpI32Const, n.Value.I32())
		case ir.TypeI64:
			w.em.emitS64(OpI64Const, n.Value.I64())
		case ir.TypeF32:
			w.em.emitF32(OpF32Const, n.Value.Bits32())
		case ir.TypeF64:
			w.em.emitF64(OpF64Const, n.Value.Bits64())
		default:
			return fmt.Errorf("const with bad type %s", n.Value.Kind)
		}
	case *ir.Unary:
		if err := w.writeExpression(n.Value); err != nil {
			return err
		}
		op, err := unaryOpcode(n)
		if err != nil {
			return err
		}
		w.em.emit(op)
	case *ir.Binary:
		if err := w.writeExpression(n.Left); err != nil {
			return err
		}
		if err := w.writeExpression(n.Right); err != nil {
			return err
		}
		op, err := binaryOpcode(n)
		if err != nil {
			return err
		}
		w.em.emit(op)
	case *ir.Select:
		if err := w.writeExpression(n.IfTrue); err != nil {
			return err
		}
		if err := w.writeExpression(n.IfFalse); err != nil {
			return err
		}
		if err := w.writeExpression(n.Condition); err != nil {
			return err
		}
		w.em.emit(OpSelect)
	case *ir.Drop:
		// the format predates an explicit drop; the tree position
		// already discards the value
		return w.writeExpression(n.Value)
	case *ir.Return:
		arity := uint32(0)
		if n.Value != nil {
			if err := w.writeExpression(n.Value); err != nil {
				return err
			}
			arity = 1
		}
		w.em.emitU32(OpReturn, arity)
	case *ir.Host:
		switch n.Op {
		case ir.CurrentMemory:
			w.em.emit(OpCurrentMemory)
		case ir.GrowMemory:
			if err := w.writeExpression(n.Operands[0]); err != nil {
				return err
			}
			w.em.emit(OpGrowMemory)
		default:
			return fmt.Errorf("host with bad op %d", n.Op)
		}
	case *ir.Nop:
		w.em.emit(OpNop)
	case *ir.Unreachable:
		w.em.emit(OpUnreachable)
	default:
		return fmt.Errorf("cannot encode %s", e.Kind())
	}
	return nil
}

// emitMemoryAccess writes the (log2 alignment, offset) immediates.
// Zero alignment means natural, the access width.
func (w *Writer) emitMemoryAccess(op byte, align uint32, accessBytes uint8, offset uint32) {
	a := align
	if a == 0 {
		a = uint32(accessBytes)
	}
	w.em.emitU32U32(op, uint32(bits.TrailingZeros32(a)), offset)
}

func loadOpcode(n *ir.Load) (byte, error) {
	switch n.Type {
	case ir.TypeI32:
		switch n.Bytes {
		case 1:
			if n.Signed {
				return OpI32LoadMem8S, nil
			}
			return OpI32LoadMem8U, nil
		case 2:
			if n.Signed {
				return OpI32LoadMem16S, nil
			}
			return OpI32LoadMem16U, nil
		case 4:
			return OpI32LoadMem, nil
		}
	case ir.TypeI64:
		switch n.Bytes {
		case 1:
			if n.Signed {
				return OpI64LoadMem8S, nil
			}
			return OpI64LoadMem8U, nil
		case 2:
			if n.Signed {
				return OpI64LoadMem16S, nil
			}
			return OpI64LoadMem16U, nil
		case 4:
			if n.Signed {
				return OpI64LoadMem32S, nil
			}
			return OpI64LoadMem32U, nil
		case 8:
			return OpI64LoadMem, nil
		}
	case ir.TypeF32:
		return OpF32LoadMem, nil
	case ir.TypeF64:
		return OpF64LoadMem, nil
	}
	return 0, fmt.Errorf("load with bad type %s width %d", n.Type, n.Bytes)
}

func storeOpcode(n *ir.Store) (byte, error) {
	switch storeValueType(n) {
	case ir.TypeI32:
		switch n.Bytes {
		case 1:
			return OpI32StoreMem8, nil
		case 2:
			return OpI32StoreMem16, nil
		case 4:
			return OpI32StoreMem, nil
		}
	case ir.TypeI64:
		switch n.Bytes {
		case 1:
			return OpI64StoreMem8, nil
		case 2:
			return OpI64StoreMem16, nil
		case 4:
			return OpI64StoreMem32, nil
		case 8:
			return OpI64StoreMem, nil
		}
	case ir.TypeF32:
		return OpF32StoreMem, nil
	case ir.TypeF64:
		return OpF64StoreMem, nil
	}
	return 0, fmt.Errorf("store with bad type width %d", n.Bytes)
}

// storeValueType returns the stored type. After drop-return-values a
// store's own result type is none, so fall back to the value operand.
func storeValueType(n *ir.Store) ir.Type {
	if n.Type.IsConcrete() {
		return n.Type
	}
	return n.Value.ResultType()
}

func unaryOpcode(n *ir.Unary) (byte, error) {
	pick := func(t ir.Type, a, b byte) byte {
		if t == ir.TypeI32 || t == ir.TypeF32 {
			return a
		}
		return b
	}
	switch n.Op {
	case ir.Clz:
		return pick(n.Type, OpI32Clz, OpI64Clz), nil
	case ir.Ctz:
		return pick(n.Type, OpI32Ctz, OpI64Ctz), nil
	case ir.Popcnt:
		return pick(n.Type, OpI32Popcnt, OpI64Popcnt), nil
	case ir.EqZ:
		return pick(n.Value.ResultType(), OpI32EqZ, OpI64EqZ), nil
	case ir.Neg:
		return pick(n.Type, OpF32Neg, OpF64Neg), nil
	case ir.Abs:
		return pick(n.Type, OpF32Abs, OpF64Abs), nil
	case ir.Ceil:
		return pick(n.Type, OpF32Ceil, OpF64Ceil), nil
	case ir.Floor:
		return pick(n.Type, OpF32Floor, OpF64Floor), nil
	case ir.Trunc:
		return pick(n.Type, OpF32Trunc, OpF64Trunc), nil
	case ir.Nearest:
		return pick(n.Type, OpF32NearestInt, OpF64NearestInt), nil
	case ir.Sqrt:
		return pick(n.Type, OpF32Sqrt, OpF64Sqrt), nil
	case ir.ExtendSInt32:
		return OpI64STruncI32, nil
	case ir.ExtendUInt32:
		return OpI64UTruncI32, nil
	case ir.WrapInt64:
		return OpI32ConvertI64, nil
	case ir.TruncUFloat32:
		return pick(n.Type, OpI32UTruncF32, OpI64UTruncF32), nil
	case ir.TruncSFloat32:
		return pick(n.Type, OpI32STruncF32, OpI64STruncF32), nil
	case ir.TruncUFloat64:
		return pick(n.Type, OpI32UTruncF64, OpI64UTruncF64), nil
	case ir.TruncSFloat64:
		return pick(n.Type, OpI32STruncF64, OpI64STruncF64), nil
	case ir.ConvertUInt32:
		return pick(n.Type, OpF32UConvertI32, OpF64UConvertI32), nil
	case ir.ConvertSInt32:
		return pick(n.Type, OpF32SConvertI32, OpF64SConvertI32), nil
	case ir.ConvertUInt64:
		return pick(n.Type, OpF32UConvertI64, OpF64UConvertI64), nil
	case ir.ConvertSInt64:
		return pick(n.Type, OpF32SConvertI64, OpF64SConvertI64), nil
	case ir.DemoteFloat64:
		return OpF32ConvertF64, nil
	case ir.PromoteFloat32:
		return OpF64ConvertF32, nil
	case ir.ReinterpretFloat:
		return pick(n.Type, OpI32ReinterpretF32, OpI64ReinterpretF64), nil
	case ir.ReinterpretInt:
		return pick(n.Type, OpF32ReinterpretI32, OpF64ReinterpretI64), nil
	}
	return 0, fmt.Errorf("unary with bad op %d", n.Op)
}

func binaryOpcode(n *ir.Binary) (byte, error) {
	t := n.Left.ResultType()
	if !t.IsConcrete() {
		t = n.Right.ResultType()
	}
	typed := func(i32, i64, f32, f64 byte) (byte, error) {
		switch t {
		case ir.TypeI32:
			return i32, nil
		case ir.TypeI64:
			return i64, nil
		case ir.TypeF32:
			return f32, nil
		case ir.TypeF64:
			return f64, nil
		}
		return 0, fmt.Errorf("binary op %d with bad operand type %s", n.Op, t)
	}
	intTyped := func(i32, i64 byte) (byte, error) {
		switch t {
		case ir.TypeI32:
			return i32, nil
		case ir.TypeI64:
			return i64, nil
		}
		return 0, fmt.Errorf("binary op %d with bad operand type %s", n.Op, t)
	}
	floatTyped := func(f32, f64 byte) (byte, error) {
		switch t {
		case ir.TypeF32:
			return f32, nil
		case ir.TypeF64:
			return f64, nil
		}
		return 0, fmt.Errorf("binary op %d with bad operand type %s", n.Op, t)
	}
	switch n.Op {
	case ir.Add:
		return typed(OpI32Add, OpI64Add, OpF32Add, OpF64Add)
	case ir.Sub:
		return typed(OpI32Sub, OpI64Sub, OpF32Sub, OpF64Sub)
	case ir.Mul:
		return typed(OpI32Mul, OpI64Mul, OpF32Mul, OpF64Mul)
	case ir.DivS:
		return intTyped(OpI32DivS, OpI64DivS)
	case ir.DivU:
		return intTyped(OpI32DivU, OpI64DivU)
	case ir.RemS:
		return intTyped(OpI32RemS, OpI64RemS)
	case ir.RemU:
		return intTyped(OpI32RemU, OpI64RemU)
	case ir.And:
		return intTyped(OpI32And, OpI64And)
	case ir.Or:
		return intTyped(OpI32Or, OpI64Or)
	case ir.Xor:
		return intTyped(OpI32Xor, OpI64Xor)
	case ir.Shl:
		return intTyped(OpI32Shl, OpI64Shl)
	case ir.ShrU:
		return intTyped(OpI32ShrU, OpI64ShrU)
	case ir.ShrS:
		return intTyped(OpI32ShrS, OpI64ShrS)
	case ir.RotL:
		return intTyped(OpI32RotL, OpI64RotL)
	case ir.RotR:
		return intTyped(OpI32RotR, OpI64RotR)
	case ir.Div:
		return floatTyped(OpF32Div, OpF64Div)
	case ir.CopySign:
		return floatTyped(OpF32CopySign, OpF64CopySign)
	case ir.Min:
		return floatTyped(OpF32Min, OpF64Min)
	case ir.Max:
		return floatTyped(OpF32Max, OpF64Max)
	case ir.Eq:
		return typed(OpI32Eq, OpI64Eq, OpF32Eq, OpF64Eq)
	case ir.Ne:
		return typed(OpI32Ne, OpI64Ne, OpF32Ne, OpF64Ne)
	case ir.LtS:
		return intTyped(OpI32LtS, OpI64LtS)
	case ir.LtU:
		return intTyped(OpI32LtU, OpI64LtU)
	case ir.LeS:
		return intTyped(OpI32LeS, OpI64LeS)
	case ir.LeU:
		return intTyped(OpI32LeU, OpI64LeU)
	case ir.GtS:
		return intTyped(OpI32GtS, OpI64GtS)
	case ir.GtU:
		return intTyped(OpI32GtU, OpI64GtU)
	case ir.GeS:
		return intTyped(OpI32GeS, OpI64GeS)
	case ir.GeU:
		return intTyped(OpI32GeU, OpI64GeU)
	case ir.Lt:
		return floatTyped(OpF32Lt, OpF64Lt)
	case ir.Le:
		return floatTyped(OpF32Le, OpF64Le)
	case ir.Gt:
		return floatTyped(OpF32Gt, OpF64Gt)
	case ir.Ge:
		return floatTyped(OpF32Ge, OpF64Ge)
	}
	return 0, fmt.Errorf("binary with bad op %d", n.Op)
}
