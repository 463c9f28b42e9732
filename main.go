package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"

	"minivm/vm"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  minivm asm <input> <output>")
	fmt.Fprintln(os.Stderr, "  minivm disasm <input> [output] [-hex] [-no-color]")
	fmt.Fprintln(os.Stderr, "  minivm run <input>")
	fmt.Fprintln(os.Stderr, "  minivm debug <input>")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "asm":
		err = cmdAsm(args)
	case "disasm":
		err = cmdDisasm(args)
	case "run":
		err = cmdRun(args)
	case "debug":
		err = cmdDebug(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func readAll(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeAll(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func cmdAsm(args []string) error {
	if len(args) != 2 {
		return errors.New("asm requires INPUT_FILE and OUTPUT_FILE")
	}
	src, err := readAll(args[0])
	if err != nil {
		return errors.Wrap(err, "reading input")
	}

	bytecode, diags := vm.Assemble(string(src))
	if diags != nil {
		for _, line := range vm.FormatDiagnostics(string(src), diags) {
			fmt.Fprintln(os.Stderr, line)
		}
		os.Exit(1)
	}

	return writeAll(args[1], bytecode)
}

func cmdDisasm(args []string) error {
	var input, output string
	output = "-"
	hex := false
	noColor := false

	var positional []string
	for _, a := range args {
		switch a {
		case "-hex":
			hex = true
		case "-no-color":
			noColor = true
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) < 1 || len(positional) > 2 {
		return errors.New("disasm requires INPUT_FILE and an optional OUTPUT_FILE")
	}
	input = positional[0]
	if len(positional) == 2 {
		output = positional[1]
	}

	buf, err := readAll(input)
	if err != nil {
		return errors.Wrap(err, "reading input")
	}
	program, err := loadProgram(buf)
	if err != nil {
		return err
	}

	color := output == "-" && !noColor && isTerminal(os.Stdout)
	dis := vm.NewDisassembler(program, hex, color)
	text, err := dis.Dump()
	if err != nil {
		return err
	}

	if output == "-" {
		_, err := fmt.Print(text)
		return err
	}
	return os.WriteFile(output, []byte(text), 0o644)
}

func cmdRun(args []string) error {
	if len(args) != 1 {
		return errors.New("run requires INPUT_FILE")
	}
	buf, err := readAll(args[0])
	if err != nil {
		return errors.Wrap(err, "reading input")
	}
	program, err := loadProgram(buf)
	if err != nil {
		return err
	}

	m, err := vm.NewMachine(program)
	if err != nil {
		return err
	}
	stdio := vm.NewStdIO(bufio.NewWriter(os.Stdout), bufio.NewReader(os.Stdin))
	m.IO = stdio

	result, err := m.Run()
	stdio.Flush()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Traceback (most recent frame last):")
		for _, line := range m.Traceback() {
			fmt.Fprintln(os.Stderr, line)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Printf("result: %s\n", result.String())
	return nil
}

// cmdDebug implements a line-oriented single-step debugger in place
// of the original's curses TUI, per SPEC_FULL.md §8: commands are
// n (step), r (run until the program ends or the next instruction
// address has a breakpoint), b ADDR (set a breakpoint), locals and
// stack (dump the current frame), q (quit). Grounded on original_source/minivm/debug.py's Debugger
// (instruction listing, frame/locals/stack display) and
// original_source/minivm/run.py's Machine stepping.
func cmdDebug(args []string) error {
	if len(args) != 1 {
		return errors.New("debug requires INPUT_FILE")
	}
	buf, err := readAll(args[0])
	if err != nil {
		return errors.Wrap(err, "reading input")
	}
	program, err := loadProgram(buf)
	if err != nil {
		return err
	}

	m, err := vm.NewMachine(program)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)
	stdio := vm.NewStdIO(bufio.NewWriter(os.Stdout), reader)
	m.IO = stdio
	defer stdio.Flush()

	if err := m.Start(); err != nil {
		return err
	}

	dis := vm.NewDisassembler(program, false, false)
	lines, err := dis.DumpIndexed()
	if err != nil {
		return err
	}

	breakpoints := make(map[int]bool)

	for m.Running() {
		printCurrentLine(lines, m.IP())
		fmt.Print("(minivm-debug) ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		input = strings.TrimSpace(input)
		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "q":
			return nil
		case "n":
			if err := m.Step(); err != nil {
				printDebugFault(m, err)
				return nil
			}
		case "r":
			for m.Running() {
				if breakpoints[m.IP()] {
					break
				}
				if err := m.Step(); err != nil {
					printDebugFault(m, err)
					return nil
				}
			}
		case "b":
			if len(fields) != 2 {
				fmt.Println("usage: b ADDR (hex)")
				continue
			}
			addr, err := strconv.ParseInt(fields[1], 16, 64)
			if err != nil {
				fmt.Println("invalid address:", fields[1])
				continue
			}
			breakpoints[int(addr)] = true
		case "locals":
			frame := m.Frames[len(m.Frames)-1]
			spew.Dump(frame.Locals)
		case "stack":
			frame := m.Frames[len(m.Frames)-1]
			spew.Dump(frame.Stack)
		default:
			fmt.Println("commands: n, r, b ADDR, locals, stack, q")
		}
	}

	fmt.Printf("result: %s\n", m.Result.String())
	return nil
}

func printCurrentLine(lines []vm.IndexedLine, ip int) {
	for _, l := range lines {
		if l.Pos == ip && l.Line != "" {
			fmt.Printf("%04X %s\n", l.Pos, l.Line)
			return
		}
	}
}

func printDebugFault(m *vm.Machine, err error) {
	fmt.Fprintln(os.Stderr, "Traceback (most recent frame last):")
	for _, line := range m.Traceback() {
		fmt.Fprintln(os.Stderr, line)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
}

// loadProgram accepts either a raw assembled program (already
// starting with the header) or assembly source text, matching
// original_source/minivm/run.py's main(): "if data starts with the
// header, use it directly; otherwise assemble it."
func loadProgram(data []byte) (*vm.Program, error) {
	if len(data) >= len(vm.Header) && [8]byte(data[:8]) == vm.Header {
		return vm.NewProgram(data)
	}

	bytecode, diags := vm.Assemble(string(data))
	if diags != nil {
		for _, line := range vm.FormatDiagnostics(string(data), diags) {
			fmt.Fprintln(os.Stderr, line)
		}
		os.Exit(1)
	}
	return vm.NewProgram(bytecode)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
