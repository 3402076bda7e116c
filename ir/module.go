package ir

import "fmt"

// FunctionType is a named function signature. The version-11 format
// allows at most one result.
type FunctionType struct {
	Name   Name
	Params []Type
	Result Type
}

// Equal reports whether two signatures have the same shape, ignoring names.
func (ft *FunctionType) Equal(other *FunctionType) bool {
	if ft.Result != other.Result || len(ft.Params) != len(other.Params) {
		return false
	}
	for i, p := range ft.Params {
		if p != other.Params[i] {
			return false
		}
	}
	return true
}

// NameType pairs a local's name with its type.
type NameType struct {
	Name Name
	Type Type
}

// Function is a module function. Local indices are flat: parameters
// first in declared order, then Vars.
type Function struct {
	Name   Name
	Type   Name // signature name
	Params []NameType
	Vars   []NameType
	Result Type
	Body   Expression
}

// NumParams returns the parameter count.
func (f *Function) NumParams() Index { return Index(len(f.Params)) }

// NumVars returns the count of additional locals.
func (f *Function) NumVars() Index { return Index(len(f.Vars)) }

// NumLocals returns the total local count (params + vars).
func (f *Function) NumLocals() Index { return Index(len(f.Params) + len(f.Vars)) }

// VarIndexBase returns the index of the first non-parameter local.
func (f *Function) VarIndexBase() Index { return Index(len(f.Params)) }

// IsParam reports whether the index refers to a parameter.
func (f *Function) IsParam(i Index) bool { return i < f.NumParams() }

// LocalType returns the type of the local at the flat index.
func (f *Function) LocalType(i Index) Type {
	if f.IsParam(i) {
		return f.Params[i].Type
	}
	return f.Vars[i-f.VarIndexBase()].Type
}

// LocalName returns the name of the local at the flat index.
func (f *Function) LocalName(i Index) Name {
	if f.IsParam(i) {
		return f.Params[i].Name
	}
	return f.Vars[i-f.VarIndexBase()].Name
}

// Import is an imported function.
type Import struct {
	Name   Name // internal name, for CallImport targets
	Module Name // module field of the import
	Base   Name // base field of the import
	Type   Name // signature name
}

// Export maps an external name to an internal function name.
type Export struct {
	Name  Name // external name
	Value Name // internal function name
}

// Segment is a data segment copied into linear memory at Offset.
type Segment struct {
	Offset uint32
	Data   []byte
}

// Memory describes the module's linear memory, in 64KiB pages.
type Memory struct {
	Initial    uint32
	Max        uint32
	ExportName Name
	Segments   []Segment
}

// Table is the function table; entries reference functions by name.
type Table struct {
	Names []Name
}

// Module owns a parsed or constructed WebAssembly module. Functions,
// imports, signatures, and exports carry both a stable name and an
// index equal to their position; the two stay consistent between
// passes. The module owns the arena every AST node lives in.
type Module struct {
	FunctionTypes []*FunctionType
	Imports       []*Import
	Functions     []*Function
	Exports       []*Export
	Memory        Memory
	Table         Table
	Start         Name

	functionsByName     map[Name]*Function
	importsByName       map[Name]*Import
	functionTypesByName map[Name]*FunctionType
	exportsByName       map[Name]*Export

	allocator *Arena
}

// NewModule returns an empty module with a fresh arena.
func NewModule() *Module {
	return &Module{
		functionsByName:     make(map[Name]*Function),
		importsByName:       make(map[Name]*Import),
		functionTypesByName: make(map[Name]*FunctionType),
		exportsByName:       make(map[Name]*Export),
		allocator:           NewArena(),
	}
}

// Allocator returns the module's arena.
func (m *Module) Allocator() *Arena { return m.allocator }

// Release tears the module down, freeing every AST node at once.
func (m *Module) Release() {
	m.FunctionTypes = nil
	m.Imports = nil
	m.Functions = nil
	m.Exports = nil
	m.functionsByName = nil
	m.importsByName = nil
	m.functionTypesByName = nil
	m.exportsByName = nil
	m.allocator.Release()
}

// AddFunctionType registers a signature. The name must be unused.
func (m *Module) AddFunctionType(ft *FunctionType) error {
	if !ft.Name.IsSet() {
		return fmt.Errorf("function type has no name")
	}
	if _, ok := m.functionTypesByName[ft.Name]; ok {
		return fmt.Errorf("duplicate function type %q", ft.Name)
	}
	m.FunctionTypes = append(m.FunctionTypes, ft)
	m.functionTypesByName[ft.Name] = ft
	return nil
}

// EnsureFunctionType returns the signature with the given shape,
// registering a fresh one when none matches.
func (m *Module) EnsureFunctionType(params []Type, result Type) *FunctionType {
	want := &FunctionType{Params: params, Result: result}
	for _, ft := range m.FunctionTypes {
		if ft.Equal(want) {
			return ft
		}
	}
	want.Name = Name(fmt.Sprintf("type$%d", len(m.FunctionTypes)))
	m.FunctionTypes = append(m.FunctionTypes, want)
	m.functionTypesByName[want.Name] = want
	return want
}

// GetFunctionType returns the signature by name, or nil.
func (m *Module) GetFunctionType(name Name) *FunctionType {
	return m.functionTypesByName[name]
}

// AddImport registers an import. The name must be unused.
func (m *Module) AddImport(imp *Import) error {
	if _, ok := m.importsByName[imp.Name]; ok {
		return fmt.Errorf("duplicate import %q", imp.Name)
	}
	m.Imports = append(m.Imports, imp)
	m.importsByName[imp.Name] = imp
	return nil
}

// GetImport returns the import by name, or nil.
func (m *Module) GetImport(name Name) *Import {
	return m.importsByName[name]
}

// AddFunction registers a function. The name must be unused.
func (m *Module) AddFunction(f *Function) error {
	if _, ok := m.functionsByName[f.Name]; ok {
		return fmt.Errorf("duplicate function %q", f.Name)
	}
	m.Functions = append(m.Functions, f)
	m.functionsByName[f.Name] = f
	return nil
}

// GetFunction returns the function by name, or nil.
func (m *Module) GetFunction(name Name) *Function {
	return m.functionsByName[name]
}

// RenameFunction changes a function's stable name, keeping the lookup
// map consistent. Call sites are the caller's concern.
func (m *Module) RenameFunction(f *Function, name Name) error {
	if _, ok := m.functionsByName[name]; ok {
		return fmt.Errorf("duplicate function %q", name)
	}
	delete(m.functionsByName, f.Name)
	f.Name = name
	m.functionsByName[name] = f
	return nil
}

// AddExport registers an export. The external name must be unused.
func (m *Module) AddExport(e *Export) error {
	if _, ok := m.exportsByName[e.Name]; ok {
		return fmt.Errorf("duplicate export %q", e.Name)
	}
	m.Exports = append(m.Exports, e)
	m.exportsByName[e.Name] = e
	return nil
}

// GetExport returns the export by external name, or nil.
func (m *Module) GetExport(name Name) *Export {
	return m.exportsByName[name]
}
