package vm

import (
	"bufio"
	"strings"
	"testing"
)

func callNative(t *testing.T, name string, args ...Value) (Value, error) {
	t.Helper()
	natives := DefaultNatives()
	n, ok := natives[name]
	if !ok {
		t.Fatalf("no such native: %s", name)
	}
	m := &Machine{Globals: map[string]Value{}, Natives: natives}
	m.Frames = []*Frame{{Locals: nil}}
	return n.Call(m, args)
}

func TestNativeToInt(t *testing.T) {
	v, err := callNative(t, "to_int", Str("42"))
	if err != nil || v.IntVal() != 42 {
		t.Fatalf("to_int(\"42\") = %v, %v", v, err)
	}
	v, err = callNative(t, "to_int", Str("not a number"))
	if err != nil || v.Kind() != KindNull {
		t.Fatalf("to_int(garbage) should be Null, got %v, %v", v, err)
	}
}

func TestNativeToIntOverflow(t *testing.T) {
	v, err := callNative(t, "to_int", Str("40000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.IntVal() != overflow(40000) {
		t.Fatalf("expected overflow(40000) = %d, got %d", overflow(40000), v.IntVal())
	}
}

func TestNativeToString(t *testing.T) {
	v, err := callNative(t, "to_string", Int(7))
	if err != nil || v.StrVal() != "7" {
		t.Fatalf("to_string(7) = %v, %v", v, err)
	}
	v, err = callNative(t, "to_string", Str("already"))
	if err != nil || v.StrVal() != "already" {
		t.Fatalf("to_string of a string should be identity, got %v, %v", v, err)
	}
}

func TestNativeConcat(t *testing.T) {
	v, err := callNative(t, "concat", Str("foo"), Str("bar"))
	if err != nil || v.StrVal() != "foobar" {
		t.Fatalf("concat = %v, %v", v, err)
	}
}

func TestNativeConcatRequiresStrings(t *testing.T) {
	if _, err := callNative(t, "concat", Int(1), Str("x")); err == nil {
		t.Fatal("expected an error concatenating a non-string")
	}
}

func TestNativeLength(t *testing.T) {
	v, err := callNative(t, "length", Str("hello"))
	if err != nil || v.IntVal() != 5 {
		t.Fatalf("length = %v, %v", v, err)
	}
}

func TestNativeSlice(t *testing.T) {
	v, err := callNative(t, "slice", Str("hello world"), Int(6), Int(5))
	if err != nil || v.StrVal() != "world" {
		t.Fatalf("slice = %v, %v", v, err)
	}
}

func TestNativeSliceClampsToLength(t *testing.T) {
	v, err := callNative(t, "slice", Str("hi"), Int(0), Int(100))
	if err != nil || v.StrVal() != "hi" {
		t.Fatalf("slice should clamp to the string length, got %v, %v", v, err)
	}
}

func TestNativeSliceRejectsNegative(t *testing.T) {
	if _, err := callNative(t, "slice", Str("hi"), Int(-1), Int(1)); err == nil {
		t.Fatal("expected an error for a negative slice start")
	}
}

func TestNativeB64Decode(t *testing.T) {
	v, err := callNative(t, "b64d", Str("aGVsbG8="))
	if err != nil || v.StrVal() != "hello" {
		t.Fatalf("b64d = %v, %v", v, err)
	}
}

func TestNativeB64DecodeInvalid(t *testing.T) {
	v, err := callNative(t, "b64d", Str("not valid base64!!"))
	if err != nil {
		t.Fatalf("invalid base64 should not error, got %v", err)
	}
	if v.Kind() != KindNull {
		t.Fatalf("invalid base64 should return Null, got %v", v)
	}
}

func TestNativePrintEmitsRawString(t *testing.T) {
	io := &bufferIO{}
	m := &Machine{Globals: map[string]Value{}, Natives: DefaultNatives(), IO: io}
	if _, err := nativePrint(m, []Value{Str("hi\nthere")}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if io.out.String() != "hi\nthere" {
		t.Fatalf("print should emit raw string bytes, got %q", io.out.String())
	}
}

func TestNativePrintEscapesNonString(t *testing.T) {
	io := &bufferIO{}
	m := &Machine{Globals: map[string]Value{}, Natives: DefaultNatives(), IO: io}
	if _, err := nativePrint(m, []Value{Int(5)}); err != nil {
		t.Fatalf("print: %v", err)
	}
	if io.out.String() != "5" {
		t.Fatalf("print of a non-string should use its rendered form, got %q", io.out.String())
	}
}

func TestNativeInputStripsNewline(t *testing.T) {
	io := NewStdIO(bufio.NewWriter(&strings.Builder{}), bufio.NewReader(strings.NewReader("typed line\n")))
	m := &Machine{Globals: map[string]Value{}, Natives: DefaultNatives(), IO: io}
	v, err := nativeInput(m, nil)
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	if v.StrVal() != "typed line" {
		t.Fatalf("input() = %q, want %q", v.StrVal(), "typed line")
	}
}
