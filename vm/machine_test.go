package vm

import (
	"strings"
	"testing"
)

// bufferIO is a scripted HostIO for tests: it feeds pre-set lines as
// input and records everything written, standing in for the real
// stdin/stdout the way the interactive debugger substitutes its own
// HostIO implementation.
type bufferIO struct {
	lines []string
	out   strings.Builder
}

func (b *bufferIO) Write(s string) { b.out.WriteString(s) }

func (b *bufferIO) ReadLine() (string, error) {
	if len(b.lines) == 0 {
		return "", nil
	}
	line := b.lines[0]
	b.lines = b.lines[1:]
	return line, nil
}

func runSource(t *testing.T, source string) (Value, *Machine, error) {
	t.Helper()
	bytecode, diags := Assemble(source)
	if diags != nil {
		t.Fatalf("assembling %q: %v", source, diags)
	}
	p, err := NewProgram(bytecode)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	m, err := NewMachine(p)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	io := &bufferIO{}
	m.IO = io
	result, err := m.Run()
	return result, m, err
}

// Scenario 1: add-two.
func TestScenarioAddTwo(t *testing.T) {
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT 2
CONST_INT 3
OP_ADD
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindInt || result.IntVal() != 5 {
		t.Fatalf("expected Integer(5), got %v", result)
	}
}

// Scenario 2: loop to ten.
func TestScenarioLoopToTen(t *testing.T) {
	source := `FUNC "main" 0 1
CONST_INT 0
STORE_LOCAL 0
loop:
LOAD_LOCAL 0
CONST_INT 10
CMP_LT
JUMP_IF body
JUMP done
body:
LOAD_LOCAL 0
CONST_INT 1
OP_ADD
STORE_LOCAL 0
JUMP loop
done:
LOAD_LOCAL 0
RET
`
	result, _, err := runSource(t, source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindInt || result.IntVal() != 10 {
		t.Fatalf("expected Integer(10), got %v", result)
	}
}

// Scenario 4: native print.
func TestScenarioNativePrint(t *testing.T) {
	source := `FUNC "main" 0 0
CONST_STRING "hi"
CALL_VOID "println" 1
RET
`
	result, m, err := runSource(t, source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindNull {
		t.Fatalf("expected Null result, got %v", result)
	}
	io := m.IO.(*bufferIO)
	if io.out.String() != "hi\n" {
		t.Fatalf("expected stdout %q, got %q", "hi\n", io.out.String())
	}
}

// Scenario 5: overflow.
func TestScenarioOverflow(t *testing.T) {
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT_BIG 32767
CONST_INT 1
OP_ADD
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindInt || result.IntVal() != -32768 {
		t.Fatalf("expected Integer(-32768), got %v", result)
	}
}

// Scenario 6: runtime error with traceback.
func TestScenarioDivByZero(t *testing.T) {
	source := `FUNC "main" 0 0
CONST_INT 1
CONST_INT 0
OP_DIV
RET
`
	_, m, err := runSource(t, source)
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
	if !strings.Contains(err.Error(), "division by 0") {
		t.Fatalf("expected a division-by-0 message, got %v", err)
	}
	tb := m.Traceback()
	if len(tb) == 0 || !strings.Contains(tb[0], "main") {
		t.Fatalf("expected a traceback naming 'main', got %v", tb)
	}
	if !strings.Contains(tb[1], "OP_DIV") {
		t.Fatalf("expected the traceback to show the faulting OP_DIV instruction, got %v", tb)
	}
}

// The traceback header promises "most recent frame last"; with two
// live frames the outer caller must be printed before the inner,
// faulting callee.
func TestTracebackOrderOuterFirst(t *testing.T) {
	source := `FUNC "main" 0 0
CALL "sub" 0
RET
FUNC "sub" 0 0
CONST_INT 1
CONST_INT 0
OP_DIV
RET
`
	_, m, err := runSource(t, source)
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}

	tb := m.Traceback()
	if len(tb) != 4 {
		t.Fatalf("expected 4 traceback lines (2 frames x 2 lines each), got %d: %v", len(tb), tb)
	}

	mainLine, subLine := -1, -1
	for i, line := range tb {
		if strings.HasPrefix(line, "main ") && mainLine == -1 {
			mainLine = i
		}
		if strings.HasPrefix(line, "sub ") && subLine == -1 {
			subLine = i
		}
	}
	if mainLine == -1 || subLine == -1 {
		t.Fatalf("expected both 'main' and 'sub' frame headers, got %v", tb)
	}
	if mainLine != 0 {
		t.Fatalf("outer frame 'main' must be printed first, got it at index %d: %v", mainLine, tb)
	}
	if subLine <= mainLine {
		t.Fatalf("inner, faulting frame 'sub' must be printed after 'main', got main=%d sub=%d: %v", mainLine, subLine, tb)
	}
	if !strings.Contains(tb[subLine+1], "OP_DIV") {
		t.Fatalf("expected 'sub' frame's line to show the faulting OP_DIV, got %v", tb)
	}
}

func TestOpModFloorRemainder(t *testing.T) {
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT -7
CONST_INT 3
OP_MOD
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// floor-remainder of -7 mod 3 is 2, not the sign-following -1 that
	// a truncating remainder would give.
	if result.IntVal() != 2 {
		t.Fatalf("expected Integer(2), got %v", result)
	}
}

func TestOpDivFloorDivision(t *testing.T) {
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT -7
CONST_INT 2
OP_DIV
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntVal() != -4 {
		t.Fatalf("expected Integer(-4) (floor of -3.5), got %v", result)
	}
}

func TestSubtractionOperandOrder(t *testing.T) {
	// a - b must subtract the top-of-stack value from the one beneath
	// it: pushing 10 then 3 and subtracting yields 7, not -7.
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT 10
CONST_INT 3
OP_SUB
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntVal() != 7 {
		t.Fatalf("expected Integer(7), got %v", result)
	}
}

func TestStackUnderflow(t *testing.T) {
	_, _, err := runSource(t, `FUNC "main" 0 0
OP_ADD
RET
`)
	if err == nil {
		t.Fatal("expected a stack underflow error")
	}
}

func TestStackOverflow(t *testing.T) {
	source := `FUNC "main" 0 0
loop:
CONST_INT 1
JUMP loop
`
	_, _, err := runSource(t, source)
	if err == nil {
		t.Fatal("expected a stack overflow error")
	}
	if !strings.Contains(err.Error(), "overflow") {
		t.Fatalf("expected a stack overflow error, got %v", err)
	}
}

func TestCallVoidDiscardsResult(t *testing.T) {
	source := `FUNC "main" 0 0
CALL_VOID "returns_five" 0
CONST_NULL
RET
FUNC "returns_five" 0 0
CONST_INT 5
RET
`
	result, _, err := runSource(t, source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindNull {
		t.Fatalf("expected Null, got %v", result)
	}
}

func TestCallReturnsValueToCaller(t *testing.T) {
	source := `FUNC "main" 0 0
CALL "returns_five" 0
RET
FUNC "returns_five" 0 0
CONST_INT 5
RET
`
	result, _, err := runSource(t, source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindInt || result.IntVal() != 5 {
		t.Fatalf("expected Integer(5), got %v", result)
	}
}

func TestCallArgumentOrder(t *testing.T) {
	// args are popped bottom-first: pushing 1 then 2 must bind
	// local0=1, local1=2.
	source := `FUNC "main" 0 0
CONST_INT 1
CONST_INT 2
CALL "sub" 2
RET
FUNC "sub" 2 0
LOAD_LOCAL 0
LOAD_LOCAL 1
OP_SUB
RET
`
	result, _, err := runSource(t, source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntVal() != -1 {
		t.Fatalf("expected Integer(-1) (local0 - local1 = 1 - 2), got %v", result)
	}
}

func TestFallThroughIntoNextFuncIsError(t *testing.T) {
	source := `FUNC "main" 0 0
FUNC "b" 0 0
RET
`
	_, _, err := runSource(t, source)
	if err == nil {
		t.Fatal("expected falling into a FUNC header to be a runtime error")
	}
}

func TestUndefinedGlobal(t *testing.T) {
	_, _, err := runSource(t, `FUNC "main" 0 0
LOAD_GLOBAL "missing"
RET
`)
	if err == nil {
		t.Fatal("expected an error loading an undefined global")
	}
}

func TestGlobalStoreLoad(t *testing.T) {
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT 42
STORE_GLOBAL "g"
LOAD_GLOBAL "g"
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IntVal() != 42 {
		t.Fatalf("expected Integer(42), got %v", result)
	}
}

func TestCmpAcrossVariantsEqNe(t *testing.T) {
	result, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT 0
CONST_NULL
CMP_EQ
RET
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != KindBool || result.BoolVal() != false {
		t.Fatalf("expected false comparing Integer(0) to Null, got %v", result)
	}
}

func TestCmpAcrossVariantsOrderedFails(t *testing.T) {
	_, _, err := runSource(t, `FUNC "main" 0 0
CONST_INT 0
CONST_STRING ""
CMP_LT
RET
`)
	if err == nil {
		t.Fatal("expected an error ordering across mismatched variants")
	}
}

func TestNoMainFunction(t *testing.T) {
	bytecode := assembleOK(t, `FUNC "other" 0 0
RET
`)
	p, err := NewProgram(bytecode)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	m, err := NewMachine(p)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	if _, err := m.Run(); err == nil {
		t.Fatal("expected an error when no 'main' function exists")
	}
}
