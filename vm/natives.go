package vm

import (
	"encoding/base64"
	"strconv"
)

// Native is one built-in function: its fixed arity and Go
// implementation. Grounded on original_source/minivm/run.py's
// NATIVE_FUNCTIONS table and @native decorator, and repurposing
// KTStephano-GVM/vm/devices.go's name-keyed dispatch-table pattern
// for a callable registry instead of a hardware device bus.
type Native struct {
	Name  string
	Arity int
	Call  func(m *Machine, args []Value) (Value, error)
}

// DefaultNatives builds the standard native function table: print,
// println, input, to_int, to_string, concat, length, slice, b64d.
func DefaultNatives() map[string]*Native {
	table := map[string]*Native{}
	add := func(name string, arity int, fn func(m *Machine, args []Value) (Value, error)) {
		table[name] = &Native{Name: name, Arity: arity, Call: fn}
	}

	add("print", 1, nativePrint)
	add("println", 1, nativePrintln)
	add("input", 0, nativeInput)
	add("to_int", 1, nativeToInt)
	add("to_string", 1, nativeToString)
	add("concat", 2, nativeConcat)
	add("length", 1, nativeLength)
	add("slice", 3, nativeSlice)
	add("b64d", 1, nativeB64D)

	return table
}

func nativePrint(m *Machine, args []Value) (Value, error) {
	val := args[0]
	if val.Kind() == KindString {
		m.print(val.StrVal())
	} else {
		m.print(val.String())
	}
	return Null, nil
}

func nativePrintln(m *Machine, args []Value) (Value, error) {
	if _, err := nativePrint(m, args); err != nil {
		return Null, err
	}
	m.print("\n")
	return Null, nil
}

func nativeInput(m *Machine, args []Value) (Value, error) {
	line, err := m.input()
	if err != nil {
		return Null, err
	}
	return Str(line), nil
}

func nativeToInt(m *Machine, args []Value) (Value, error) {
	s := args[0]
	if s.Kind() != KindString {
		return Null, checkStringError(s)
	}
	n, err := strconv.Atoi(s.StrVal())
	if err != nil {
		return Null, nil
	}
	return Int(n), nil
}

func nativeToString(m *Machine, args []Value) (Value, error) {
	val := args[0]
	if val.Kind() == KindString {
		return val, nil
	}
	return Str(val.String()), nil
}

func nativeConcat(m *Machine, args []Value) (Value, error) {
	a, b := args[0], args[1]
	if a.Kind() != KindString {
		return Null, checkStringError(a)
	}
	if b.Kind() != KindString {
		return Null, checkStringError(b)
	}
	return Str(a.StrVal() + b.StrVal()), nil
}

func nativeLength(m *Machine, args []Value) (Value, error) {
	s := args[0]
	if s.Kind() != KindString {
		return Null, checkStringError(s)
	}
	return Int(len(s.StrVal())), nil
}

func nativeSlice(m *Machine, args []Value) (Value, error) {
	s, pos, length := args[0], args[1], args[2]
	if s.Kind() != KindString {
		return Null, checkStringError(s)
	}
	if pos.Kind() != KindInt {
		return Null, checkIntError(pos)
	}
	if length.Kind() != KindInt {
		return Null, checkIntError(length)
	}
	p, n := int(pos.IntVal()), int(length.IntVal())
	if p < 0 || n < 0 {
		return Null, runtimeErrorf("slice: arguments cannot be negative")
	}
	str := s.StrVal()
	if p > len(str) {
		p = len(str)
	}
	end := p + n
	if end > len(str) {
		end = len(str)
	}
	return Str(str[p:end]), nil
}

func nativeB64D(m *Machine, args []Value) (Value, error) {
	s := args[0]
	if s.Kind() != KindString {
		return Null, checkStringError(s)
	}
	decoded, err := base64.StdEncoding.DecodeString(s.StrVal())
	if err != nil {
		return Null, nil
	}
	for _, b := range decoded {
		if b > 0x7F {
			return Null, nil
		}
	}
	return Str(string(decoded)), nil
}
