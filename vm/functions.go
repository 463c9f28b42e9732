package vm

// Function describes one FUNC declaration: its name, parameter count,
// local-slot count, and the byte offset of its first instruction
// (the instruction immediately following the FUNC header itself).
// Grounded on original_source/minivm/program.py's Function namedtuple
// and the function-table build loop in run.py's Machine.__init__.
type Function struct {
	Name   string
	Params int
	Locals int
	Entry  int
}

// BuildFunctionTable decodes every FUNC declaration in p and returns a
// name-indexed table. A duplicate function name is a load-time
// failure, reported as a DecodeError at the offset of the second
// declaration.
func BuildFunctionTable(p *Program) (map[string]*Function, error) {
	table := make(map[string]*Function)
	var dupErr error

	err := p.Iter(func(ins Instr) bool {
		if ins.Op != FUNC {
			return true
		}
		name := ins.Args[0].(string)
		if _, dup := table[name]; dup {
			dupErr = newDecodeError(ins.Offset, "duplicate function: %s", name)
			return false
		}
		table[name] = &Function{
			Name:   name,
			Params: ins.Args[1].(int),
			Locals: ins.Args[2].(int),
			Entry:  ins.Offset + ins.Length,
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}

	return table, nil
}
