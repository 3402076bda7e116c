package binary

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-opt/analysis"
	"github.com/wippyai/wasm-opt/ir"
)

// Decode parses a version-11 binary into a module and validates it.
func Decode(data []byte) (*ir.Module, error) {
	return NewReader(data).Read()
}

// Reader builds a module from binary input. Functions are decoded
// before their names are known, so calls, exports, the start function,
// and the table are recorded by index and resolved once all sections
// are in.
type Reader struct {
	module *ir.Module
	input  []byte
	pos    int
	log    *zap.Logger

	opcodeTable OpcodeTable

	declaredTypes []*ir.FunctionType // per declared function
	functions     []*ir.Function
	functionCalls map[int][]*ir.Call
	exportFixups  []exportFixup
	tableIndexes  []int
	startIndex    int

	currFunction  *ir.Function
	endOfFunction int
	nextLabel     int
	breakStack    []ir.Name
	exprStack     []ir.Expression
	lastSeparator byte
}

// NewReader returns a reader over the input bytes.
func NewReader(data []byte) *Reader {
	return &Reader{
		module:        ir.NewModule(),
		input:         data,
		log:           zap.NewNop(),
		functionCalls: make(map[int][]*ir.Call),
		startIndex:    -1,
	}
}

// exportFixup defers an export's function-name resolution until the
// names are known.
type exportFixup struct {
	export *ir.Export
	index  int
}

// SetLogger installs a logger for debug tracing.
func (r *Reader) SetLogger(log *zap.Logger) { r.log = log }

// Read decodes the whole input. On any error the partial module is
// released and must not be observed.
func (r *Reader) Read() (*ir.Module, error) {
	m, err := r.read()
	if err != nil {
		r.module.Release()
		return nil, err
	}
	return m, nil
}

func (r *Reader) read() (*ir.Module, error) {
	if err := r.readHeader(); err != nil {
		return nil, err
	}
	for r.more() {
		name, err := r.inlineString()
		if err != nil {
			return nil, fmt.Errorf("section name: %w", err)
		}
		size, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("section %q size: %w", name, err)
		}
		before := r.pos
		if before+int(size) > len(r.input) {
			return nil, fmt.Errorf("section %q: declared size %d overruns input", name, size)
		}
		switch name {
		case SectionStart:
			err = r.readStart()
		case SectionMemory:
			err = r.readMemory()
		case SectionSignatures:
			err = r.readSignatures()
		case SectionImportTable:
			err = r.readImports()
		case SectionFunctionSignatures:
			err = r.readFunctionSignatures()
		case SectionFunctions:
			err = r.readFunctions()
		case SectionExportTable:
			err = r.readExports()
		case SectionDataSegments:
			err = r.readDataSegments()
		case SectionFunctionTable:
			err = r.readFunctionTable()
		case SectionOpcodes:
			// each table section governs the code section that
			// follows it; a fresh table replaces the previous one
			r.opcodeTable = OpcodeTable{}
			err = r.opcodeTable.read(r)
		case SectionNames:
			err = r.readNames()
		default:
			return nil, fmt.Errorf("unfamiliar section %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", name, err)
		}
		if r.pos != before+int(size) {
			return nil, fmt.Errorf("section %q: consumed %d bytes of declared %d",
				name, r.pos-before, size)
		}
	}
	if err := r.processFunctions(); err != nil {
		return nil, err
	}
	if err := r.module.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return r.module, nil
}

// Primitive reads.

func (r *Reader) more() bool { return r.pos < len(r.input) }

func (r *Reader) byte() (byte, error) {
	if !r.more() {
		return 0, ErrTruncated
	}
	b := r.input[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) unread() { r.pos-- }

func (r *Reader) i32() (uint32, error) {
	if r.pos+4 > len(r.input) {
		return 0, ErrTruncated
	}
	p := r.input[r.pos:]
	r.pos += 4
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24, nil
}

func (r *Reader) i64() (uint64, error) {
	lo, err := r.i32()
	if err != nil {
		return 0, err
	}
	hi, err := r.i32()
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (r *Reader) u32() (uint32, error) {
	v, n, err := readU32(r.input[r.pos:])
	r.pos += n
	return v, err
}

func (r *Reader) s32() (int32, error) {
	v, n, err := readS32(r.input[r.pos:])
	r.pos += n
	return v, err
}

func (r *Reader) s64() (int64, error) {
	v, n, err := readS64(r.input[r.pos:])
	r.pos += n
	return v, err
}

func (r *Reader) wasmType() (ir.Type, error) {
	b, err := r.byte()
	if err != nil {
		return ir.TypeNone, err
	}
	if b > byte(ir.TypeF64) {
		return ir.TypeNone, fmt.Errorf("bad value type %d", b)
	}
	return ir.Type(b), nil
}

func (r *Reader) inlineString() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.input) {
		return "", ErrTruncated
	}
	s := string(r.input[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *Reader) readHeader() error {
	magic, err := r.i32()
	if err != nil {
		return err
	}
	if magic != Magic {
		return fmt.Errorf("bad magic 0x%08x", magic)
	}
	version, err := r.i32()
	if err != nil {
		return err
	}
	if version != Version {
		return fmt.Errorf("unsupported version %d", version)
	}
	return nil
}

// Section readers.

func (r *Reader) readStart() error {
	index, err := r.u32()
	if err != nil {
		return err
	}
	r.startIndex = int(index)
	return nil
}

func (r *Reader) readMemory() error {
	initial, err := r.u32()
	if err != nil {
		return err
	}
	max, err := r.u32()
	if err != nil {
		return err
	}
	exported, err := r.byte()
	if err != nil {
		return err
	}
	r.module.Memory.Initial = initial
	r.module.Memory.Max = max
	if exported != 0 {
		r.module.Memory.ExportName = "memory"
	}
	return nil
}

func (r *Reader) readSignatures() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != TypeFormBasic {
			return fmt.Errorf("bad function type form 0x%02x", form)
		}
		ft := &ir.FunctionType{Name: ir.Name("type$" + strconv.Itoa(int(i)))}
		numParams, err := r.u32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < numParams; j++ {
			t, err := r.wasmType()
			if err != nil {
				return err
			}
			ft.Params = append(ft.Params, t)
		}
		numResults, err := r.u32()
		if err != nil {
			return err
		}
		switch numResults {
		case 0:
			ft.Result = ir.TypeNone
		case 1:
			if ft.Result, err = r.wasmType(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("function type with %d results", numResults)
		}
		if err := r.module.AddFunctionType(ft); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readImports() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		index, err := r.u32()
		if err != nil {
			return err
		}
		if int(index) >= len(r.module.FunctionTypes) {
			return fmt.Errorf("import type index %d out of range", index)
		}
		imp := &ir.Import{
			Name: ir.Name("import$" + strconv.Itoa(int(i))),
			Type: r.module.FunctionTypes[index].Name,
		}
		mod, err := r.inlineString()
		if err != nil {
			return err
		}
		base, err := r.inlineString()
		if err != nil {
			return err
		}
		imp.Module = ir.Name(mod)
		imp.Base = ir.Name(base)
		if err := r.module.AddImport(imp); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readFunctionSignatures() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		index, err := r.u32()
		if err != nil {
			return err
		}
		if int(index) >= len(r.module.FunctionTypes) {
			return fmt.Errorf("function type index %d out of range", index)
		}
		r.declaredTypes = append(r.declaredTypes, r.module.FunctionTypes[index])
	}
	return nil
}

func (r *Reader) readFunctions() error {
	total, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < total; i++ {
		index := len(r.functions)
		if index >= len(r.declaredTypes) {
			return fmt.Errorf("more bodies than declared signatures")
		}
		size, err := r.u32()
		if err != nil {
			return err
		}
		if size == 0 {
			return fmt.Errorf("function %d: empty body", index)
		}
		r.endOfFunction = r.pos + int(size)
		if r.endOfFunction > len(r.input) {
			return fmt.Errorf("function %d: body overruns input", index)
		}
		ft := r.declaredTypes[index]
		nextVar := 0
		addVar := func(t ir.Type) ir.NameType {
			nt := ir.NameType{Name: ir.Name("var$" + strconv.Itoa(nextVar)), Type: t}
			nextVar++
			return nt
		}
		var params, vars []ir.NameType
		for _, p := range ft.Params {
			params = append(params, addVar(p))
		}
		numLocalTypes, err := r.u32()
		if err != nil {
			return err
		}
		for t := uint32(0); t < numLocalTypes; t++ {
			num, err := r.u32()
			if err != nil {
				return err
			}
			typ, err := r.wasmType()
			if err != nil {
				return err
			}
			for ; num > 0; num-- {
				vars = append(vars, addVar(typ))
			}
		}
		f := &ir.Function{
			Name:   ir.Name(strconv.Itoa(index)),
			Type:   ft.Name,
			Params: params,
			Vars:   vars,
			Result: ft.Result,
		}
		r.currFunction = f
		r.nextLabel = 0
		if len(r.breakStack) != 0 || len(r.exprStack) != 0 {
			return fmt.Errorf("function %d: residual decoder state", index)
		}
		body, err := r.maybeBlock()
		if err != nil {
			return fmt.Errorf("function %d: %w", index, err)
		}
		f.Body = body
		if r.pos != r.endOfFunction {
			return fmt.Errorf("function %d: consumed %d bytes past body end",
				index, r.pos-r.endOfFunction)
		}
		r.currFunction = nil
		r.functions = append(r.functions, f)
		r.log.Debug("read function", zap.Int("index", index), zap.Uint32("size", size))
	}
	return nil
}

func (r *Reader) readExports() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		index, err := r.u32()
		if err != nil {
			return err
		}
		name, err := r.inlineString()
		if err != nil {
			return err
		}
		r.exportFixups = append(r.exportFixups, exportFixup{
			export: &ir.Export{Name: ir.Name(name)},
			index:  int(index),
		})
	}
	return nil
}

func (r *Reader) readDataSegments() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		offset, err := r.u32()
		if err != nil {
			return err
		}
		size, err := r.u32()
		if err != nil {
			return err
		}
		if r.pos+int(size) > len(r.input) {
			return ErrTruncated
		}
		data := make([]byte, size)
		copy(data, r.input[r.pos:])
		r.pos += int(size)
		r.module.Memory.Segments = append(r.module.Memory.Segments, ir.Segment{
			Offset: offset,
			Data:   data,
		})
	}
	return nil
}

func (r *Reader) readFunctionTable() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < num; i++ {
		index, err := r.u32()
		if err != nil {
			return err
		}
		r.tableIndexes = append(r.tableIndexes, int(index))
	}
	return nil
}

func (r *Reader) readNames() error {
	num, err := r.u32()
	if err != nil {
		return err
	}
	if int(num) > len(r.functions) {
		return fmt.Errorf("names for %d functions, have %d", num, len(r.functions))
	}
	for i := uint32(0); i < num; i++ {
		name, err := r.inlineString()
		if err != nil {
			return err
		}
		r.functions[i].Name = ir.Name(name)
		numLocals, err := r.u32()
		if err != nil {
			return err
		}
		if numLocals != 0 {
			return fmt.Errorf("local names are not supported")
		}
	}
	return nil
}

// processFunctions registers the decoded functions under their final
// names and resolves every index-recorded reference to a name.
func (r *Reader) processFunctions() error {
	for _, f := range r.functions {
		if err := r.module.AddFunction(f); err != nil {
			return err
		}
	}
	if r.startIndex >= 0 {
		if r.startIndex >= len(r.functions) {
			return fmt.Errorf("start index %d out of range", r.startIndex)
		}
		r.module.Start = r.functions[r.startIndex].Name
	}
	for _, fix := range r.exportFixups {
		if fix.index >= len(r.functions) {
			return fmt.Errorf("export %q index %d out of range", fix.export.Name, fix.index)
		}
		fix.export.Value = r.functions[fix.index].Name
		if err := r.module.AddExport(fix.export); err != nil {
			return err
		}
	}
	for index, calls := range r.functionCalls {
		if index >= len(r.functions) {
			return fmt.Errorf("call index %d out of range", index)
		}
		for _, call := range calls {
			call.Target = r.functions[index].Name
		}
	}
	for _, index := range r.tableIndexes {
		if index >= len(r.functions) {
			return fmt.Errorf("table index %d out of range", index)
		}
		r.module.Table.Names = append(r.module.Table.Names, r.functions[index].Name)
	}
	return nil
}

// Expression decoding. The decoder is a state machine driven by
// opcodes: reading an op, reading its immediates, collecting already
// decoded children from the expression stack, and closing structured
// constructs on End and Else separators.

func (r *Reader) nextLabelName() ir.Name {
	name := ir.Name("label$" + strconv.Itoa(r.nextLabel))
	r.nextLabel++
	return name
}

func (r *Reader) popExpression() (ir.Expression, error) {
	if len(r.exprStack) == 0 {
		return nil, fmt.Errorf("expression stack underflow")
	}
	e := r.exprStack[len(r.exprStack)-1]
	r.exprStack = r.exprStack[:len(r.exprStack)-1]
	return e, nil
}

// processExpressions decodes until an End or Else separator, or the
// end of the function body, leaving results on the expression stack.
func (r *Reader) processExpressions() error {
	for {
		expr, sep, err := r.readExpression()
		if err != nil {
			return err
		}
		if expr == nil {
			r.lastSeparator = sep
			return nil
		}
		r.exprStack = append(r.exprStack, expr)
	}
}

// maybeBlock decodes a run of expressions, returning the single
// expression directly or wrapping several in an unnamed block.
func (r *Reader) maybeBlock() (ir.Expression, error) {
	start := len(r.exprStack)
	if err := r.processExpressions(); err != nil {
		return nil, err
	}
	end := len(r.exprStack)
	if end-start == 1 {
		return r.popExpression()
	}
	block := r.module.Allocator().Block()
	block.List = append(block.List, r.exprStack[start:end]...)
	block.Finalize()
	r.exprStack = r.exprStack[:start]
	return block, nil
}

// labeledBlock decodes a run of expressions under a fresh label, for
// if arms. The arm's scope label lands on the resulting block; when
// the decoded block already carries a targeted label of its own, a
// wrapper block takes the arm label instead of clobbering it.
func (r *Reader) labeledBlock() (ir.Expression, error) {
	label := r.nextLabelName()
	r.breakStack = append(r.breakStack, label)
	inner, err := r.maybeBlock()
	if err != nil {
		return nil, err
	}
	r.breakStack = r.breakStack[:len(r.breakStack)-1]
	builder := ir.NewBuilder(r.module)
	block := builder.Blockify(inner)
	if block.Name.IsSet() && analysis.HasBreakTarget(block, block.Name) {
		if analysis.HasBreakTarget(block, label) {
			wrapper := builder.MakeBlock(block)
			wrapper.Name = label
			return wrapper, nil
		}
		return block, nil
	}
	block.Name = label
	return block, nil
}

func (r *Reader) breakName(offset uint32) (ir.Name, error) {
	if int(offset) >= len(r.breakStack) {
		return "", fmt.Errorf("break depth %d out of range", offset)
	}
	return r.breakStack[len(r.breakStack)-1-int(offset)], nil
}

// readExpression decodes one expression, or returns nil with the
// separator byte on End, Else, or the function body end.
func (r *Reader) readExpression() (ir.Expression, byte, error) {
	if r.pos == r.endOfFunction {
		return nil, OpEnd, nil
	}
	code, err := r.byte()
	if err != nil {
		return nil, 0, err
	}
	var entry *OpcodeEntry
	if r.opcodeTable.Used[code] {
		entry = &r.opcodeTable.Entries[code]
		code = entry.Op
	}
	alloc := r.module.Allocator()
	switch code {
	case OpEnd, OpElse:
		return nil, code, nil
	case OpBlock:
		e, err := r.readBlocks()
		return e, code, err
	case OpIf:
		e, err := r.readIf()
		return e, code, err
	case OpLoop:
		e, err := r.readLoop()
		return e, code, err
	case OpBr, OpBrIf:
		e, err := r.readBreak(code, entry)
		return e, code, err
	case OpTableSwitch:
		e, err := r.readSwitch(entry)
		return e, code, err
	case OpCallFunction:
		e, err := r.readCall(entry)
		return e, code, err
	case OpCallImport:
		e, err := r.readCallImport(entry)
		return e, code, err
	case OpCallIndirect:
		e, err := r.readCallIndirect(entry)
		return e, code, err
	case OpGetLocal:
		index, err := r.immU32(entry, 0)
		if err != nil {
			return nil, 0, err
		}
		if index >= r.currFunction.NumLocals() {
			return nil, 0, fmt.Errorf("get_local index %d out of range", index)
		}
		get := alloc.GetLocal()
		get.Index = index
		get.Type = r.currFunction.LocalType(index)
		return get, code, nil
	case OpSetLocal:
		index, err := r.immU32(entry, 0)
		if err != nil {
			return nil, 0, err
		}
		if index >= r.currFunction.NumLocals() {
			return nil, 0, fmt.Errorf("set_local index %d out of range", index)
		}
		set := alloc.SetLocal()
		set.Index = index
		if set.Value, err = r.popExpression(); err != nil {
			return nil, 0, err
		}
		set.Finalize()
		return set, code, nil
	case OpSelect:
		sel := alloc.Select()
		if sel.Condition, err = r.popExpression(); err != nil {
			return nil, 0, err
		}
		if sel.IfFalse, err = r.popExpression(); err != nil {
			return nil, 0, err
		}
		if sel.IfTrue, err = r.popExpression(); err != nil {
			return nil, 0, err
		}
		sel.Finalize()
		return sel, code, nil
	case OpReturn:
		arity, err := r.immU32(entry, 0)
		if err != nil {
			return nil, 0, err
		}
		if arity > 1 {
			return nil, 0, fmt.Errorf("return with arity %d", arity)
		}
		ret := alloc.Return()
		if arity == 1 {
			if ret.Value, err = r.popExpression(); err != nil {
				return nil, 0, err
			}
		}
		return ret, code, nil
	case OpNop:
		return alloc.Nop(), code, nil
	case OpUnreachable:
		return alloc.Unreachable(), code, nil
	case OpCurrentMemory:
		host := alloc.Host()
		host.Op = ir.CurrentMemory
		host.Finalize()
		return host, code, nil
	case OpGrowMemory:
		host := alloc.Host()
		host.Op = ir.GrowMemory
		operand, err := r.popExpression()
		if err != nil {
			return nil, 0, err
		}
		host.Operands = []ir.Expression{operand}
		host.Finalize()
		return host, code, nil
	}
	if e, ok, err := r.maybeReadConst(code, entry); ok || err != nil {
		return e, code, err
	}
	if e, ok, err := r.maybeReadLoad(code, entry); ok || err != nil {
		return e, code, err
	}
	if e, ok, err := r.maybeReadStore(code, entry); ok || err != nil {
		return e, code, err
	}
	if e, ok, err := r.maybeReadUnary(code); ok || err != nil {
		return e, code, err
	}
	if e, ok, err := r.maybeReadBinary(code); ok || err != nil {
		return e, code, err
	}
	return nil, 0, fmt.Errorf("bad opcode 0x%02x", code)
}

// immU32 reads an unsigned immediate, from the opcode-table entry when
// the instruction came through the table.
func (r *Reader) immU32(entry *OpcodeEntry, i int) (uint32, error) {
	if entry != nil {
		if i >= entry.Size {
			return 0, fmt.Errorf("opcode table entry missing immediate %d", i)
		}
		return uint32(entry.Values[i].I32()), nil
	}
	return r.u32()
}

// readBlocks reads a block, de-recursing the common chain of blocks
// nested in first position so label depth cannot overflow the stack.
func (r *Reader) readBlocks() (ir.Expression, error) {
	var stack []*ir.Block
	curr := r.module.Allocator().Block()
	for {
		curr.Name = r.nextLabelName()
		r.breakStack = append(r.breakStack, curr.Name)
		stack = append(stack, curr)
		b, err := r.byte()
		if err != nil {
			return nil, err
		}
		if b == OpBlock {
			curr = r.module.Allocator().Block()
			continue
		}
		r.unread()
		break
	}
	outermost := stack[0]
	var last *ir.Block
	for len(stack) > 0 {
		curr = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		start := len(r.exprStack)
		if last != nil {
			// the inner block is this one's first element
			r.exprStack = append(r.exprStack, last)
		}
		last = curr
		if err := r.processExpressions(); err != nil {
			return nil, err
		}
		if r.lastSeparator != OpEnd {
			return nil, fmt.Errorf("block closed by 0x%02x", r.lastSeparator)
		}
		curr.List = append(curr.List, r.exprStack[start:]...)
		r.exprStack = r.exprStack[:start]
		curr.Finalize()
		r.breakStack = r.breakStack[:len(r.breakStack)-1]
	}
	return outermost, nil
}

func (r *Reader) readIf() (ir.Expression, error) {
	iff := r.module.Allocator().If()
	var err error
	if iff.Condition, err = r.popExpression(); err != nil {
		return nil, err
	}
	if iff.IfTrue, err = r.labeledBlock(); err != nil {
		return nil, err
	}
	if r.lastSeparator == OpElse {
		if iff.IfFalse, err = r.labeledBlock(); err != nil {
			return nil, err
		}
		iff.Finalize()
	}
	if r.lastSeparator != OpEnd {
		return nil, fmt.Errorf("if closed by 0x%02x", r.lastSeparator)
	}
	return iff, nil
}

func (r *Reader) readLoop() (ir.Expression, error) {
	loop := r.module.Allocator().Loop()
	loop.Out = r.nextLabelName()
	loop.In = r.nextLabelName()
	r.breakStack = append(r.breakStack, loop.Out, loop.In)
	var err error
	if loop.Body, err = r.maybeBlock(); err != nil {
		return nil, err
	}
	if r.lastSeparator != OpEnd {
		return nil, fmt.Errorf("loop closed by 0x%02x", r.lastSeparator)
	}
	r.breakStack = r.breakStack[:len(r.breakStack)-2]
	loop.Finalize()
	return loop, nil
}

func (r *Reader) readBreak(code byte, entry *OpcodeEntry) (ir.Expression, error) {
	arity, err := r.immU32(entry, 0)
	if err != nil {
		return nil, err
	}
	depth, err := r.immU32(entry, 1)
	if err != nil {
		return nil, err
	}
	if arity > 1 {
		return nil, fmt.Errorf("break with arity %d", arity)
	}
	br := r.module.Allocator().Break()
	if br.Name, err = r.breakName(depth); err != nil {
		return nil, err
	}
	if code == OpBrIf {
		if br.Condition, err = r.popExpression(); err != nil {
			return nil, err
		}
	}
	if arity == 1 {
		if br.Value, err = r.popExpression(); err != nil {
			return nil, err
		}
	}
	br.Finalize()
	return br, nil
}

func (r *Reader) readSwitch(entry *OpcodeEntry) (ir.Expression, error) {
	arity, err := r.immU32(entry, 0)
	if err != nil {
		return nil, err
	}
	numTargets, err := r.immU32(entry, 1)
	if err != nil {
		return nil, err
	}
	if arity > 1 {
		return nil, fmt.Errorf("switch with arity %d", arity)
	}
	sw := r.module.Allocator().Switch()
	if sw.Condition, err = r.popExpression(); err != nil {
		return nil, err
	}
	if arity == 1 {
		if sw.Value, err = r.popExpression(); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < numTargets; i++ {
		depth, err := r.i32()
		if err != nil {
			return nil, err
		}
		target, err := r.breakName(depth)
		if err != nil {
			return nil, err
		}
		sw.Targets = append(sw.Targets, target)
	}
	depth, err := r.i32()
	if err != nil {
		return nil, err
	}
	if sw.Default, err = r.breakName(depth); err != nil {
		return nil, err
	}
	return sw, nil
}

// popOperands pops num children, restoring execution order.
func (r *Reader) popOperands(num int) ([]ir.Expression, error) {
	operands := make([]ir.Expression, num)
	for i := 0; i < num; i++ {
		e, err := r.popExpression()
		if err != nil {
			return nil, err
		}
		operands[num-i-1] = e
	}
	return operands, nil
}

func (r *Reader) readCall(entry *OpcodeEntry) (ir.Expression, error) {
	arity, err := r.immU32(entry, 0)
	if err != nil {
		return nil, err
	}
	index, err := r.immU32(entry, 1)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(r.declaredTypes) {
		return nil, fmt.Errorf("call index %d out of range", index)
	}
	ft := r.declaredTypes[index]
	if int(arity) != len(ft.Params) {
		return nil, fmt.Errorf("call arity %d does not match signature %q", arity, ft.Name)
	}
	call := r.module.Allocator().Call()
	if call.Operands, err = r.popOperands(len(ft.Params)); err != nil {
		return nil, err
	}
	call.Type = ft.Result
	// target is resolved to a name in processFunctions
	r.functionCalls[int(index)] = append(r.functionCalls[int(index)], call)
	return call, nil
}

func (r *Reader) readCallImport(entry *OpcodeEntry) (ir.Expression, error) {
	arity, err := r.immU32(entry, 0)
	if err != nil {
		return nil, err
	}
	index, err := r.immU32(entry, 1)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(r.module.Imports) {
		return nil, fmt.Errorf("call_import index %d out of range", index)
	}
	imp := r.module.Imports[index]
	ft := r.module.GetFunctionType(imp.Type)
	if int(arity) != len(ft.Params) {
		return nil, fmt.Errorf("call_import arity %d does not match signature %q", arity, ft.Name)
	}
	call := r.module.Allocator().CallImport()
	call.Target = imp.Name
	if call.Operands, err = r.popOperands(len(ft.Params)); err != nil {
		return nil, err
	}
	call.Type = ft.Result
	return call, nil
}

func (r *Reader) readCallIndirect(entry *OpcodeEntry) (ir.Expression, error) {
	arity, err := r.immU32(entry, 0)
	if err != nil {
		return nil, err
	}
	index, err := r.immU32(entry, 1)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(r.module.FunctionTypes) {
		return nil, fmt.Errorf("call_indirect type index %d out of range", index)
	}
	ft := r.module.FunctionTypes[index]
	if int(arity) != len(ft.Params) {
		return nil, fmt.Errorf("call_indirect arity %d does not match signature %q", arity, ft.Name)
	}
	call := r.module.Allocator().CallIndirect()
	call.FullType = ft.Name
	if call.Operands, err = r.popOperands(len(ft.Params)); err != nil {
		return nil, err
	}
	if call.Target, err = r.popExpression(); err != nil {
		return nil, err
	}
	call.Type = ft.Result
	return call, nil
}

func (r *Reader) maybeReadConst(code byte, entry *OpcodeEntry) (ir.Expression, bool, error) {
	switch code {
	case OpI32Const, OpI64Const, OpF32Const, OpF64Const:
	default:
		return nil, false, nil
	}
	c := r.module.Allocator().Const()
	if entry != nil {
		c.Value = entry.Values[0]
		return c, true, nil
	}
	switch code {
	case OpI32Const:
		v, err := r.s32()
		if err != nil {
			return nil, true, err
		}
		c.Value = ir.LiteralI32(v)
	case OpI64Const:
		v, err := r.s64()
		if err != nil {
			return nil, true, err
		}
		c.Value = ir.LiteralI64(v)
	case OpF32Const:
		bits32, err := r.i32()
		if err != nil {
			return nil, true, err
		}
		c.Value = ir.LiteralF32Bits(bits32)
	case OpF64Const:
		bits64, err := r.i64()
		if err != nil {
			return nil, true, err
		}
		c.Value = ir.LiteralF64Bits(bits64)
	}
	return c, true, nil
}

// readMemoryAccess reads the (log2 alignment, offset) immediates.
func (r *Reader) readMemoryAccess(entry *OpcodeEntry) (align, offset uint32, err error) {
	logAlign, err := r.immU32(entry, 0)
	if err != nil {
		return 0, 0, err
	}
	if logAlign > 31 {
		return 0, 0, fmt.Errorf("bad alignment %d", logAlign)
	}
	offset, err = r.immU32(entry, 1)
	if err != nil {
		return 0, 0, err
	}
	return uint32(1) << logAlign, offset, nil
}

func (r *Reader) maybeReadLoad(code byte, entry *OpcodeEntry) (ir.Expression, bool, error) {
	var accessBytes uint8
	var t ir.Type
	var signed bool
	switch code {
	case OpI32LoadMem8S:
		accessBytes, t, signed = 1, ir.TypeI32, true
	case OpI32LoadMem8U:
		accessBytes, t = 1, ir.TypeI32
	case OpI32LoadMem16S:
		accessBytes, t, signed = 2, ir.TypeI32, true
	case OpI32LoadMem16U:
		accessBytes, t = 2, ir.TypeI32
	case OpI32LoadMem:
		accessBytes, t = 4, ir.TypeI32
	case OpI64LoadMem8S:
		accessBytes, t, signed = 1, ir.TypeI64, true
	case OpI64LoadMem8U:
		accessBytes, t = 1, ir.TypeI64
	case OpI64LoadMem16S:
		accessBytes, t, signed = 2, ir.TypeI64, true
	case OpI64LoadMem16U:
		accessBytes, t = 2, ir.TypeI64
	case OpI64LoadMem32S:
		accessBytes, t, signed = 4, ir.TypeI64, true
	case OpI64LoadMem32U:
		accessBytes, t = 4, ir.TypeI64
	case OpI64LoadMem:
		accessBytes, t = 8, ir.TypeI64
	case OpF32LoadMem:
		accessBytes, t = 4, ir.TypeF32
	case OpF64LoadMem:
		accessBytes, t = 8, ir.TypeF64
	default:
		return nil, false, nil
	}
	load := r.module.Allocator().Load()
	load.Bytes = accessBytes
	load.Type = t
	load.Signed = signed
	align, offset, err := r.readMemoryAccess(entry)
	if err != nil {
		return nil, true, err
	}
	load.Align = align
	load.Offset = offset
	if load.Ptr, err = r.popExpression(); err != nil {
		return nil, true, err
	}
	return load, true, nil
}

func (r *Reader) maybeReadStore(code byte, entry *OpcodeEntry) (ir.Expression, bool, error) {
	var accessBytes uint8
	var t ir.Type
	switch code {
	case OpI32StoreMem8:
		accessBytes, t = 1, ir.TypeI32
	case OpI32StoreMem16:
		accessBytes, t = 2, ir.TypeI32
	case OpI32StoreMem:
		accessBytes, t = 4, ir.TypeI32
	case OpI64StoreMem8:
		accessBytes, t = 1, ir.TypeI64
	case OpI64StoreMem16:
		accessBytes, t = 2, ir.TypeI64
	case OpI64StoreMem32:
		accessBytes, t = 4, ir.TypeI64
	case OpI64StoreMem:
		accessBytes, t = 8, ir.TypeI64
	case OpF32StoreMem:
		accessBytes, t = 4, ir.TypeF32
	case OpF64StoreMem:
		accessBytes, t = 8, ir.TypeF64
	default:
		return nil, false, nil
	}
	store := r.module.Allocator().Store()
	store.Bytes = accessBytes
	store.Type = t
	align, offset, err := r.readMemoryAccess(entry)
	if err != nil {
		return nil, true, err
	}
	store.Align = align
	store.Offset = offset
	if store.Value, err = r.popExpression(); err != nil {
		return nil, true, err
	}
	if store.Ptr, err = r.popExpression(); err != nil {
		return nil, true, err
	}
	return store, true, nil
}

func (r *Reader) maybeReadUnary(code byte) (ir.Expression, bool, error) {
	op, t, ok := unaryFromOpcode(code)
	if !ok {
		return nil, false, nil
	}
	u := r.module.Allocator().Unary()
	u.Op = op
	u.Type = t
	value, err := r.popExpression()
	if err != nil {
		return nil, true, err
	}
	u.Value = value
	return u, true, nil
}

func (r *Reader) maybeReadBinary(code byte) (ir.Expression, bool, error) {
	op, ok := binaryFromOpcode(code)
	if !ok {
		return nil, false, nil
	}
	b := r.module.Allocator().Binary()
	b.Op = op
	var err error
	if b.Right, err = r.popExpression(); err != nil {
		return nil, true, err
	}
	if b.Left, err = r.popExpression(); err != nil {
		return nil, true, err
	}
	b.Finalize()
	return b, true, nil
}

// unaryFromOpcode maps a numeric opcode byte to its unary op and
// result type.
func unaryFromOpcode(code byte) (ir.UnaryOp, ir.Type, bool) {
	switch code {
	case OpI32Clz:
		return ir.Clz, ir.TypeI32, true
	case OpI64Clz:
		return ir.Clz, ir.TypeI64, true
	case OpI32Ctz:
		return ir.Ctz, ir.TypeI32, true
	case OpI64Ctz:
		return ir.Ctz, ir.TypeI64, true
	case OpI32Popcnt:
		return ir.Popcnt, ir.TypeI32, true
	case OpI64Popcnt:
		return ir.Popcnt, ir.TypeI64, true
	case OpI32EqZ, OpI64EqZ:
		return ir.EqZ, ir.TypeI32, true
	case OpF32Neg:
		return ir.Neg, ir.TypeF32, true
	case OpF64Neg:
		return ir.Neg, ir.TypeF64, true
	case OpF32Abs:
		return ir.Abs, ir.TypeF32, true
	case OpF64Abs:
		return ir.Abs, ir.TypeF64, true
	case OpF32Ceil:
		return ir.Ceil, ir.TypeF32, true
	case OpF64Ceil:
		return ir.Ceil, ir.TypeF64, true
	case OpF32Floor:
		return ir.Floor, ir.TypeF32, true
	case OpF64Floor:
		return ir.Floor, ir.TypeF64, true
	case OpF32Trunc:
		return ir.Trunc, ir.TypeF32, true
	case OpF64Trunc:
		return ir.Trunc, ir.TypeF64, true
	case OpF32NearestInt:
		return ir.Nearest, ir.TypeF32, true
	case OpF64NearestInt:
		return ir.Nearest, ir.TypeF64, true
	case OpF32Sqrt:
		return ir.Sqrt, ir.TypeF32, true
	case OpF64Sqrt:
		return ir.Sqrt, ir.TypeF64, true
	case OpF32UConvertI32:
		return ir.ConvertUInt32, ir.TypeF32, true
	case OpF64UConvertI32:
		return ir.ConvertUInt32, ir.TypeF64, true
	case OpF32SConvertI32:
		return ir.ConvertSInt32, ir.TypeF32, true
	case OpF64SConvertI32:
		return ir.ConvertSInt32, ir.TypeF64, true
	case OpF32UConvertI64:
		return ir.ConvertUInt64, ir.TypeF32, true
	case OpF64UConvertI64:
		return ir.ConvertUInt64, ir.TypeF64, true
	case OpF32SConvertI64:
		return ir.ConvertSInt64, ir.TypeF32, true
	case OpF64SConvertI64:
		return ir.ConvertSInt64, ir.TypeF64, true
	case OpI64STruncI32:
		return ir.ExtendSInt32, ir.TypeI64, true
	case OpI64UTruncI32:
		return ir.ExtendUInt32, ir.TypeI64, true
	case OpI32ConvertI64:
		return ir.WrapInt64, ir.TypeI32, true
	case OpI32UTruncF32:
		return ir.TruncUFloat32, ir.TypeI32, true
	case OpI32UTruncF64:
		return ir.TruncUFloat64, ir.TypeI32, true
	case OpI32STruncF32:
		return ir.TruncSFloat32, ir.TypeI32, true
	case OpI32STruncF64:
		return ir.TruncSFloat64, ir.TypeI32, true
	case OpI64UTruncF32:
		return ir.TruncUFloat32, ir.TypeI64, true
	case OpI64UTruncF64:
		return ir.TruncUFloat64, ir.TypeI64, true
	case OpI64STruncF32:
		return ir.TruncSFloat32, ir.TypeI64, true
	case OpI64STruncF64:
		return ir.TruncSFloat64, ir.TypeI64, true
	case OpF32ConvertF64:
		return ir.DemoteFloat64, ir.TypeF32, true
	case OpF64ConvertF32:
		return ir.PromoteFloat32, ir.TypeF64, true
	case OpI32ReinterpretF32:
		return ir.ReinterpretFloat, ir.TypeI32, true
	case OpI64ReinterpretF64:
		return ir.ReinterpretFloat, ir.TypeI64, true
	case OpF32ReinterpretI32:
		return ir.ReinterpretInt, ir.TypeF32, true
	case OpF64ReinterpretI64:
		return ir.ReinterpretInt, ir.TypeF64, true
	}
	return 0, ir.TypeNone, false
}

// binaryFromOpcode maps a numeric opcode byte to its binary op; the
// node's type comes from its operands at finalize.
func binaryFromOpcode(code byte) (ir.BinaryOp, bool) {
	switch code {
	case OpI32Add, OpI64Add, OpF32Add, OpF64Add:
		return ir.Add, true
	case OpI32Sub, OpI64Sub, OpF32Sub, OpF64Sub:
		return ir.Sub, true
	case OpI32Mul, OpI64Mul, OpF32Mul, OpF64Mul:
		return ir.Mul, true
	case OpI32DivS, OpI64DivS:
		return ir.DivS, true
	case OpI32DivU, OpI64DivU:
		return ir.DivU, true
	case OpI32RemS, OpI64RemS:
		return ir.RemS, true
	case OpI32RemU, OpI64RemU:
		return ir.RemU, true
	case OpI32And, OpI64And:
		return ir.And, true
	case OpI32Or, OpI64Or:
		return ir.Or, true
	case OpI32Xor, OpI64Xor:
		return ir.Xor, true
	case OpI32Shl, OpI64Shl:
		return ir.Shl, true
	case OpI32ShrU, OpI64ShrU:
		return ir.ShrU, true
	case OpI32ShrS, OpI64ShrS:
		return ir.ShrS, true
	case OpI32RotL, OpI64RotL:
		return ir.RotL, true
	case OpI32RotR, OpI64RotR:
		return ir.RotR, true
	case OpF32Div, OpF64Div:
		return ir.Div, true
	case OpF32CopySign, OpF64CopySign:
		return ir.CopySign, true
	case OpF32Min, OpF64Min:
		return ir.Min, true
	case OpF32Max, OpF64Max:
		return ir.Max, true
	case OpI32Eq, OpI64Eq, OpF32Eq, OpF64Eq:
		return ir.Eq, true
	case OpI32Ne, OpI64Ne, OpF32Ne, OpF64Ne:
		return ir.Ne, true
	case OpI32LtS, OpI64LtS:
		return ir.LtS, true
	case OpI32LtU, OpI64LtU:
		return ir.LtU, true
	case OpI32LeS, OpI64LeS:
		return ir.LeS, true
	case OpI32LeU, OpI64LeU:
		return ir.LeU, true
	case OpI32GtS, OpI64GtS:
		return ir.GtS, true
	case OpI32GtU, OpI64GtU:
		return ir.GtU, true
	case OpI32GeS, OpI64GeS:
		return ir.GeS, true
	case OpI32GeU, OpI64GeU:
		return ir.GeU, true
	case OpF32Lt, OpF64Lt:
		return ir.Lt, true
	case OpF32Le, OpF64Le:
		return ir.Le, true
	case OpF32Gt, OpF64Gt:
		return ir.Gt, true
	case OpF64Ge, OpF32Ge:
		return ir.Ge, true
	}
	return 0, false
}
