package ir

import "fmt"

// Validate checks the module for structural validity: every function
// and import resolves its signature, every break resolves to an
// enclosing label, and every local access is in range.
func (m *Module) Validate() error {
	if err := m.validateSignatures(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateTable(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	for _, f := range m.Functions {
		if err := m.validateBody(f); err != nil {
			return fmt.Errorf("function %q: %w", f.Name, err)
		}
	}
	return nil
}

func (m *Module) validateSignatures() error {
	for _, f := range m.Functions {
		if m.GetFunctionType(f.Type) == nil {
			return fmt.Errorf("function %q references unknown type %q", f.Name, f.Type)
		}
	}
	for _, imp := range m.Imports {
		if m.GetFunctionType(imp.Type) == nil {
			return fmt.Errorf("import %q references unknown type %q", imp.Name, imp.Type)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	for _, e := range m.Exports {
		if m.GetFunction(e.Value) == nil {
			return fmt.Errorf("export %q references unknown function %q", e.Name, e.Value)
		}
	}
	return nil
}

func (m *Module) validateTable() error {
	for _, name := range m.Table.Names {
		if m.GetFunction(name) == nil {
			return fmt.Errorf("table references unknown function %q", name)
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start.IsSet() && m.GetFunction(m.Start) == nil {
		return fmt.Errorf("start references unknown function %q", m.Start)
	}
	return nil
}

// bodyValidator walks one function body with an explicit label stack.
type bodyValidator struct {
	module   *Module
	function *Function
	labels   []Name
}

func (m *Module) validateBody(f *Function) error {
	if f.Body == nil {
		return fmt.Errorf("missing body")
	}
	v := &bodyValidator{module: m, function: f}
	return v.check(f.Body)
}

func (v *bodyValidator) resolvable(target Name) bool {
	for i := len(v.labels) - 1; i >= 0; i-- {
		if v.labels[i] == target {
			return true
		}
	}
	return false
}

func (v *bodyValidator) check(e Expression) error {
	switch n := e.(type) {
	case *Block:
		v.labels = append(v.labels, n.Name)
		for _, child := range n.List {
			if err := v.check(child); err != nil {
				return err
			}
		}
		v.labels = v.labels[:len(v.labels)-1]
		return nil
	case *Loop:
		v.labels = append(v.labels, n.Out, n.In)
		err := v.check(n.Body)
		v.labels = v.labels[:len(v.labels)-2]
		return err
	case *Break:
		if !v.resolvable(n.Name) {
			return fmt.Errorf("break to unresolvable label %q", n.Name)
		}
	case *Switch:
		for _, t := range n.Targets {
			if !v.resolvable(t) {
				return fmt.Errorf("switch to unresolvable label %q", t)
			}
		}
		if !v.resolvable(n.Default) {
			return fmt.Errorf("switch default to unresolvable label %q", n.Default)
		}
	case *GetLocal:
		if n.Index >= v.function.NumLocals() {
			return fmt.Errorf("get_local index %d out of range", n.Index)
		}
	case *SetLocal:
		if n.Index >= v.function.NumLocals() {
			return fmt.Errorf("set_local index %d out of range", n.Index)
		}
	case *Call:
		if v.module.GetFunction(n.Target) == nil {
			return fmt.Errorf("call to unknown function %q", n.Target)
		}
	case *CallImport:
		if v.module.GetImport(n.Target) == nil {
			return fmt.Errorf("call to unknown import %q", n.Target)
		}
	case *CallIndirect:
		if v.module.GetFunctionType(n.FullType) == nil {
			return fmt.Errorf("call_indirect with unknown type %q", n.FullType)
		}
	}
	for _, slot := range ChildSlots(e) {
		if err := v.check(*slot); err != nil {
			return err
		}
	}
	return nil
}
