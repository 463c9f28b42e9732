package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// StackLimit is the maximum operand-stack depth of a single frame,
// per spec.md §3.
const StackLimit = 256

// HostIO lets a caller substitute print/input with a buffered or
// scripted implementation in place of the real stdin/stdout (the tests
// use a scripted one). Grounded on spec.md §5's
// "capability interface HostIO" and original_source/minivm/run.py's
// Machine.print/input use_io/on_input split.
type HostIO interface {
	Write(s string)
	ReadLine() (string, error)
}

// StdIO is the default HostIO, writing to and reading from the
// process's real stdout/stdin.
type StdIO struct {
	out writer
	in  lineReader
}

type writer interface {
	WriteString(s string) (int, error)
	Flush() error
}
type lineReader interface{ ReadString(delim byte) (string, error) }

// NewStdIO builds a StdIO over the given writer/reader, typically
// bufio.Writer(os.Stdout) and bufio.Reader(os.Stdin).
func NewStdIO(out writer, in lineReader) *StdIO {
	return &StdIO{out: out, in: in}
}

func (s *StdIO) Write(text string) { s.out.WriteString(text) }

// Flush pushes any buffered output to the underlying writer. Callers
// using a bufio.Writer must call this before the process exits.
func (s *StdIO) Flush() error { return s.out.Flush() }

func (s *StdIO) ReadLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// Frame is one call frame: its function name, current and
// pre-instruction-decode IP, operand stack, and locals (arguments
// followed by zeroed local slots). Grounded on
// original_source/minivm/run.py's Frame class.
type Frame struct {
	Name   string
	IP     int
	PrevIP int
	Stack  []Value
	Locals []Value
	Void   bool
}

// Machine is the MiniVM interpreter: a program, its function table,
// globals, frame stack, and accumulated output. Grounded on
// original_source/minivm/run.py's Machine class.
type Machine struct {
	Program   *Program
	Functions map[string]*Function
	Natives   map[string]*Native

	Globals map[string]Value
	Frames  []*Frame
	Result  Value

	Output string
	IO     HostIO
}

// NewMachine builds an interpreter over program, using the default
// native function table.
func NewMachine(program *Program) (*Machine, error) {
	functions, err := BuildFunctionTable(program)
	if err != nil {
		return nil, err
	}
	return &Machine{
		Program:   program,
		Functions: functions,
		Natives:   DefaultNatives(),
		Globals:   make(map[string]Value),
		Result:    Null,
	}, nil
}

// IP returns the current frame's instruction pointer, or -1 if the
// machine has no live frame.
func (m *Machine) IP() int {
	if len(m.Frames) == 0 {
		return -1
	}
	return m.Frames[len(m.Frames)-1].IP
}

// Running reports whether the machine still has a live frame.
func (m *Machine) Running() bool {
	return len(m.Frames) > 0
}

// Start pushes the initial frame for "main", per spec.md §4.5.
func (m *Machine) Start() error {
	if _, ok := m.Functions["main"]; !ok {
		return &RuntimeError{cause: ErrNoMain}
	}
	return m.enterFunction("main", nil, false)
}

// Run drives the machine to completion and returns its result value.
func (m *Machine) Run() (Value, error) {
	if err := m.Start(); err != nil {
		return Null, err
	}
	for m.Running() {
		if err := m.Step(); err != nil {
			return Null, err
		}
	}
	return m.Result, nil
}

func (m *Machine) print(s string) {
	m.Output += s
	if m.IO != nil {
		m.IO.Write(s)
	}
}

func (m *Machine) input() (string, error) {
	if m.IO == nil {
		return "", errors.New("no input source configured")
	}
	line, err := m.IO.ReadLine()
	if err != nil {
		return "", err
	}
	m.Output += line + "\n"
	return line, nil
}

func (m *Machine) enterFunction(name string, args []Value, void bool) error {
	fn, ok := m.Functions[name]
	if !ok {
		return runtimeErrorf("Function not found: %s", name)
	}
	if len(args) != fn.Params {
		return runtimeErrorf("Function %s expects %d arguments, not %d", name, fn.Params, len(args))
	}

	locals := make([]Value, fn.Params+fn.Locals)
	copy(locals, args)
	for i := fn.Params; i < len(locals); i++ {
		locals[i] = Null
	}

	m.Frames = append(m.Frames, &Frame{
		Name:   name,
		IP:     fn.Entry,
		PrevIP: fn.Entry,
		Locals: locals,
		Void:   void,
	})
	return nil
}

func (m *Machine) curFrame() *Frame { return m.Frames[len(m.Frames)-1] }

// Step decodes and executes a single instruction in the current
// frame. Grounded on original_source/minivm/run.py's Machine.step;
// OP_MOD is corrected to true floor-remainder (the original computes
// a + b instead of a % b).
func (m *Machine) Step() error {
	frame := m.curFrame()
	length, op, args, err := m.Program.ReadFrom(frame.IP)
	if err != nil {
		return err
	}
	frame.PrevIP = frame.IP
	frame.IP += length

	switch op {
	case FUNC:
		return runtimeErrorf("trying to execute FUNC")

	case ConstNull:
		return m.push(Null)
	case ConstFalse:
		return m.push(Bool(false))
	case ConstTrue:
		return m.push(Bool(true))
	case ConstInt, ConstIntBig:
		return m.push(Int(args[0].(int)))
	case ConstString:
		return m.push(Str(args[0].(string)))

	case OpNeg:
		val, err := m.pop()
		if err != nil {
			return err
		}
		if val.Kind() != KindInt {
			return checkIntError(val)
		}
		return m.push(Int(-int(val.IntVal())))

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		if err := m.handleArith(op); err != nil {
			return err
		}

	case CmpEq, CmpNe, CmpLt, CmpLte, CmpGt, CmpGte:
		if err := m.handleCmp(op); err != nil {
			return err
		}

	case OpNot:
		val, err := m.pop()
		if err != nil {
			return err
		}
		return m.push(Bool(!val.Truthy()))

	case Dup:
		val, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.push(val); err != nil {
			return err
		}
		return m.push(val)

	case Drop:
		if _, err := m.pop(); err != nil {
			return err
		}

	case LoadGlobal:
		name := args[0].(string)
		val, ok := m.Globals[name]
		if !ok {
			return runtimeErrorf("Undefined global name: %s", name)
		}
		return m.push(val)

	case StoreGlobal:
		val, err := m.pop()
		if err != nil {
			return err
		}
		m.Globals[args[0].(string)] = val

	case LoadLocal:
		n := args[0].(int)
		if n < 0 || n >= len(frame.Locals) {
			return runtimeErrorf("Invalid local number: %d", n)
		}
		return m.push(frame.Locals[n])

	case StoreLocal:
		n := args[0].(int)
		if n < 0 || n >= len(frame.Locals) {
			return runtimeErrorf("Invalid local number: %d", n)
		}
		val, err := m.pop()
		if err != nil {
			return err
		}
		frame.Locals[n] = val

	case Jump:
		frame.IP = frame.PrevIP + args[0].(int)

	case JumpIf:
		val, err := m.pop()
		if err != nil {
			return err
		}
		if val.Truthy() {
			frame.IP = frame.PrevIP + args[0].(int)
		}

	case Call:
		return m.handleCall(args[0].(string), args[1].(int), false)

	case CallVoid:
		return m.handleCall(args[0].(string), args[1].(int), true)

	case Ret:
		var val Value = Null
		if len(frame.Stack) > 0 {
			var err error
			val, err = m.pop()
			if err != nil {
				return err
			}
		}
		m.Frames = m.Frames[:len(m.Frames)-1]
		if len(m.Frames) > 0 {
			if !frame.Void {
				return m.push(val)
			}
		} else {
			m.Result = val
		}

	default:
		return runtimeErrorf("unhandled opcode: %s", op)
	}

	return nil
}

func checkIntError(v Value) error {
	return runtimeErrorf("expecting an integer, got %s", v.String())
}

func checkStringError(v Value) error {
	return runtimeErrorf("expecting a string, got %s", v.String())
}

func (m *Machine) handleArith(op Opcode) error {
	a, b, err := m.popPair()
	if err != nil {
		return err
	}
	if a.Kind() != KindInt {
		return checkIntError(a)
	}
	if b.Kind() != KindInt {
		return checkIntError(b)
	}
	x, y := int(a.IntVal()), int(b.IntVal())

	var result int
	switch op {
	case OpAdd:
		result = x + y
	case OpSub:
		result = x - y
	case OpMul:
		result = x * y
	case OpDiv:
		if y == 0 {
			return &RuntimeError{cause: ErrDivByZero}
		}
		result = floorDiv(x, y)
	case OpMod:
		if y == 0 {
			return &RuntimeError{cause: ErrModByZero}
		}
		result = floorMod(x, y)
	}
	return m.push(Int(result))
}

// floorDiv and floorMod implement Python's // and % semantics (round
// toward negative infinity), matching spec.md §9's corrected OP_MOD
// and the existing OP_DIV behavior.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func (m *Machine) handleCmp(op Opcode) error {
	a, b, err := m.popPair()
	if err != nil {
		return err
	}

	if op != CmpEq && op != CmpNe {
		if a.Kind() != b.Kind() {
			return runtimeErrorf("incompatible types for comparison: %s and %s", a.String(), b.String())
		}
	}

	var result bool
	switch op {
	case CmpEq:
		result = a.Equal(b)
	case CmpNe:
		result = !a.Equal(b)
	default:
		cmp, ok := a.Compare(b)
		if !ok {
			return runtimeErrorf("incompatible types for comparison: %s and %s", a.String(), b.String())
		}
		switch op {
		case CmpLt:
			result = cmp < 0
		case CmpLte:
			result = cmp <= 0
		case CmpGt:
			result = cmp > 0
		case CmpGte:
			result = cmp >= 0
		}
	}
	return m.push(Bool(result))
}

func (m *Machine) handleCall(name string, nArgs int, void bool) error {
	args, err := m.popMany(nArgs)
	if err != nil {
		return err
	}

	if _, ok := m.Functions[name]; ok {
		return m.enterFunction(name, args, void)
	}

	if native, ok := m.Natives[name]; ok {
		if nArgs != native.Arity {
			return runtimeErrorf("Function %s expects %d arguments, not %d", name, native.Arity, nArgs)
		}
		result, err := native.Call(m, args)
		if err != nil {
			return wrapNativeError(name, err)
		}
		if !void {
			return m.push(result)
		}
		return nil
	}

	return runtimeErrorf("unknown function: %s", name)
}

func (m *Machine) push(v Value) error {
	frame := m.curFrame()
	if len(frame.Stack) >= StackLimit {
		return &RuntimeError{cause: ErrStackOverflow}
	}
	frame.Stack = append(frame.Stack, v)
	return nil
}

func (m *Machine) pop() (Value, error) {
	frame := m.curFrame()
	if len(frame.Stack) < 1 {
		return Null, &RuntimeError{cause: ErrStackUnderflow}
	}
	v := frame.Stack[len(frame.Stack)-1]
	frame.Stack = frame.Stack[:len(frame.Stack)-1]
	return v, nil
}

// popPair pops the top two values, returning them as (a, b) where a
// was pushed before b — i.e. a is the deeper operand.
func (m *Machine) popPair() (a, b Value, err error) {
	frame := m.curFrame()
	if len(frame.Stack) < 2 {
		return Null, Null, &RuntimeError{cause: ErrStackUnderflow}
	}
	n := len(frame.Stack)
	a, b = frame.Stack[n-2], frame.Stack[n-1]
	frame.Stack = frame.Stack[:n-2]
	return a, b, nil
}

func (m *Machine) popMany(n int) ([]Value, error) {
	frame := m.curFrame()
	if len(frame.Stack) < n {
		return nil, &RuntimeError{cause: ErrStackUnderflow}
	}
	start := len(frame.Stack) - n
	result := append([]Value(nil), frame.Stack[start:]...)
	frame.Stack = frame.Stack[:start]
	return result, nil
}

// Traceback renders the live call stack outermost frame first, most
// recent (faulting) frame last, one "name (AAAA)" line followed by a
// disassembly of the faulting instruction, per spec.md §7.3 and
// matching the "Traceback (most recent frame last):" header printed
// ahead of it.
func (m *Machine) Traceback() []string {
	var out []string
	for i := 0; i < len(m.Frames); i++ {
		frame := m.Frames[i]
		out = append(out, fmt.Sprintf("%s (%04X)", frame.Name, frame.PrevIP))
		_, op, args, err := m.Program.ReadFrom(frame.PrevIP)
		if err != nil {
			continue
		}
		out = append(out, "  "+DumpSingle(op, args))
	}
	return out
}
