package vm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Disassembler renders a decoded Program back into MiniVM assembly
// text, grounded on original_source/minivm/disassemble.py's
// Disassembler class: label synthesis over valid jump targets, ANSI
// coloring, and optional hex byte annotation.
type Disassembler struct {
	program *Program
	hex     bool
	color   bool

	targets map[int]string
}

// NewDisassembler wraps program for rendering. hex enables the
// trailing "# AAAA:  XX XX ..." byte annotation; color enables ANSI
// escapes for comments, numbers, strings, and labels.
func NewDisassembler(program *Program, hex, color bool) *Disassembler {
	return &Disassembler{program: program, hex: hex, color: color}
}

func (d *Disassembler) comment(s string) string { return d.wrap(s, "\x1b[90m") }
func (d *Disassembler) number(s string) string  { return d.wrap(s, "\x1b[34m") }
func (d *Disassembler) str(s string) string     { return d.wrap(s, "\x1b[93m") }
func (d *Disassembler) label(s string) string   { return d.wrap(s, "\x1b[96m") }

func (d *Disassembler) wrap(s, code string) string {
	if !d.color {
		return s
	}
	return code + s + "\x1b[0m"
}

var ansiRe = regexp.MustCompile("\x1b.*?m")

// ljust right-pads line to width columns, ignoring ANSI escapes when
// measuring its printable length.
func (d *Disassembler) ljust(line string, width int) string {
	length := len(line)
	if d.color {
		length = len(ansiRe.ReplaceAllString(line, ""))
	}
	if pad := width - length; pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	return line
}

// collectLabels assigns L1, L2, ... to every jump target that lands
// on a valid (non-FUNC-header) instruction start, in order of first
// appearance while scanning JUMP instructions top to bottom.
func (d *Disassembler) collectLabels() error {
	d.targets = make(map[int]string)

	positions := make(map[int]bool)
	instrs, err := d.program.Instructions()
	if err != nil {
		return err
	}
	for _, ins := range instrs {
		if ins.Op != FUNC {
			positions[ins.Offset] = true
		}
	}

	counter := 1
	for _, ins := range instrs {
		if ins.Op != Jump && ins.Op != JumpIf {
			continue
		}
		target := ins.Offset + ins.Args[0].(int)
		if !positions[target] {
			continue
		}
		if _, ok := d.targets[target]; !ok {
			d.targets[target] = fmt.Sprintf("L%d", counter)
			counter++
		}
	}
	return nil
}

// Dump renders the full program as assembly text, one instruction per
// line, with a blank line before every FUNC and synthesized labels
// before the instructions they target.
func (d *Disassembler) Dump() (string, error) {
	lines, err := d.dumpLines()
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// DumpLines renders the same output as Dump but as a slice of lines,
// convenient for a caller that wants to index individual lines.
func (d *Disassembler) DumpLines() ([]string, error) {
	return d.dumpLines()
}

// IndexedLine pairs one rendered disassembly line with the byte
// offset of the instruction it represents, or -1 for blank/label
// lines that do not correspond to an instruction.
type IndexedLine struct {
	Pos  int
	Line string
}

// DumpIndexed renders the program like Dump, but tags every
// instruction line with its offset (blank and label lines carry -1).
// It never adds the hex annotation. The debug REPL uses this to find
// which rendered line corresponds to the current IP.
func (d *Disassembler) DumpIndexed() ([]IndexedLine, error) {
	if err := d.collectLabels(); err != nil {
		return nil, err
	}

	var out []IndexedLine
	err := d.program.Iter(func(ins Instr) bool {
		if ins.Op == FUNC {
			out = append(out, IndexedLine{Pos: -1, Line: ""})
		}
		if lbl, ok := d.targets[ins.Offset]; ok {
			out = append(out, IndexedLine{Pos: -1, Line: d.label(lbl) + ":"})
		}

		var line string
		switch {
		case ins.Op == FUNC:
			line = d.dumpInstr(ins.Op, ins.Args)
		case ins.Op == Jump || ins.Op == JumpIf:
			delta := ins.Args[0].(int)
			target := ins.Offset + delta
			mnemonic := ins.Op.String()
			if lbl, ok := d.targets[target]; ok {
				line = fmt.Sprintf("    %s %s  ", mnemonic, d.label(lbl))
				line += d.comment(fmt.Sprintf("# %+d, %04X", delta, target))
			} else {
				line = fmt.Sprintf("    %s %d  ", mnemonic, delta)
				line += d.comment(fmt.Sprintf("# %+d, %04X (unknown)", delta, target))
			}
		default:
			line = "    " + d.dumpInstr(ins.Op, ins.Args)
		}
		out = append(out, IndexedLine{Pos: ins.Offset, Line: line})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Disassembler) dumpLines() ([]string, error) {
	if err := d.collectLabels(); err != nil {
		return nil, err
	}

	var lines []string
	err := d.program.Iter(func(ins Instr) bool {
		if ins.Op == FUNC {
			lines = append(lines, "")
		}
		if lbl, ok := d.targets[ins.Offset]; ok {
			lines = append(lines, d.label(lbl)+":")
		}

		var line string
		switch {
		case ins.Op == FUNC:
			line = d.dumpInstr(ins.Op, ins.Args)
		case ins.Op == Jump || ins.Op == JumpIf:
			delta := ins.Args[len(ins.Args)-1].(int)
			target := ins.Offset + delta
			mnemonic := ins.Op.String()
			if lbl, ok := d.targets[target]; ok {
				line = fmt.Sprintf("    %s %s  ", mnemonic, d.label(lbl))
				line += d.comment(fmt.Sprintf("# %+d, %04X", delta, target))
			} else {
				line = fmt.Sprintf("    %s %d  ", mnemonic, delta)
				line += d.comment(fmt.Sprintf("# %+d, %04X (unknown)", delta, target))
			}
		default:
			line = "    " + d.dumpInstr(ins.Op, ins.Args)
		}

		if d.hex {
			data := d.program.Bytes()[ins.Offset : ins.Offset+ins.Length]
			line = d.ljust(line, 40) + d.dumpHex(ins.Offset, data)
		}

		lines = append(lines, line)
		return true
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (d *Disassembler) dumpHex(pos int, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %04X: ", pos)
	for _, by := range data {
		fmt.Fprintf(&b, " %02X", by)
	}
	return d.comment(b.String())
}

func (d *Disassembler) dumpInstr(op Opcode, args []any) string {
	var b strings.Builder
	b.WriteString(op.String())
	for i, kind := range op.Params() {
		b.WriteByte(' ')
		if kind == ParamString {
			b.WriteString(d.str(EscapeString(args[i].(string))))
		} else {
			b.WriteString(d.number(strconv.Itoa(args[i].(int))))
		}
	}
	return b.String()
}

// DumpSingle renders one already-decoded instruction without color or
// hex annotation and with no label substitution — used by the
// interpreter's traceback to show the faulting instruction.
func DumpSingle(op Opcode, args []any) string {
	d := &Disassembler{}
	return d.dumpInstr(op, args)
}
