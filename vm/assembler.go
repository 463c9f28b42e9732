package vm

import (
	"strings"

	"github.com/pkg/errors"
)

// Diagnostic is one assembler-reported problem, carrying enough
// position information to render the three-line error format from
// spec.md §7.1: message line, source line, caret line.
type Diagnostic struct {
	Line, Col int
	Message   string
}

func diagFromParseError(e *ParseError) Diagnostic {
	return Diagnostic{Line: e.Line, Col: e.Col, Message: e.Message}
}

type jumpSite struct {
	tok   Token
	label string
}

// Assembler performs the two-pass assembly described in spec.md §4.2,
// grounded on original_source/minivm/assemble.py's Assembler class.
type Assembler struct {
	lines   []string
	data    []byte
	targets map[string]int
	sources map[int]jumpSite
	diags   []Diagnostic
}

// NewAssembler prepares an assembler over source text.
func NewAssembler(source string) *Assembler {
	return &Assembler{
		lines:   strings.Split(source, "\n"),
		data:    append([]byte{}, Header[:]...),
		targets: make(map[string]int),
		sources: make(map[int]jumpSite),
	}
}

// Assemble runs both passes and returns the encoded program. If any
// diagnostic was recorded, it returns (nil, diagnostics) instead.
func Assemble(source string) ([]byte, []Diagnostic) {
	a := NewAssembler(source)
	return a.assemble()
}

func (a *Assembler) assemble() ([]byte, []Diagnostic) {
	for lineno, line := range a.lines {
		scanner := NewScanner(line, lineno)
		tokens, err := scanner.Tokens()
		if err != nil {
			a.diags = append(a.diags, diagFromParseError(err.(*ParseError)))
			continue
		}
		compiled, err := a.parseLine(tokens, len(a.data))
		if err != nil {
			a.diags = append(a.diags, diagFromParseError(err.(*ParseError)))
			continue
		}
		a.data = append(a.data, compiled...)
	}

	a.updateLocations()

	if len(a.diags) > 0 {
		return nil, a.diags
	}
	return a.data, nil
}

func (a *Assembler) parseLine(tokens []Token, programPos int) ([]byte, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	if tokens[0].Kind == TokLabel {
		label := strings.ToUpper(tokens[0].Text)
		if _, dup := a.targets[label]; dup {
			return nil, &ParseError{Line: tokens[0].Line, Col: tokens[0].Col, Message: "duplicate label: " + label}
		}
		a.targets[label] = programPos
		tokens = tokens[1:]
	}

	if len(tokens) == 0 {
		return nil, nil
	}

	op, err := a.parseOpName(tokens[0])
	if err != nil {
		return nil, err
	}
	return a.parseOp(op, tokens, programPos)
}

func (a *Assembler) parseOpName(tok Token) (Opcode, error) {
	if tok.Kind != TokIdent {
		return 0, &ParseError{Line: tok.Line, Col: tok.Col, Message: "operation name expected"}
	}
	name := strings.ToUpper(tok.Text)
	op, ok := LookupMnemonic(name)
	if !ok {
		return 0, &ParseError{Line: tok.Line, Col: tok.Col, Message: "unknown operation: " + name}
	}
	return op, nil
}

func (a *Assembler) parseOp(op Opcode, tokens []Token, programPos int) ([]byte, error) {
	params := op.Params()
	if len(tokens)-1 != len(params) {
		return nil, &ParseError{Line: tokens[0].Line, Col: tokens[0].Col, Message: "wrong number of parameters for " + op.String()}
	}

	if (op == Jump || op == JumpIf) && tokens[1].Kind == TokIdent {
		label := strings.ToUpper(tokens[1].Text)
		a.sources[programPos+1] = jumpSite{tok: tokens[1], label: label}
		return []byte{byte(op), 0, 0}, nil
	}

	result := []byte{byte(op)}
	for i, kind := range params {
		encoded, err := a.parseParam(tokens[i+1], kind)
		if err != nil {
			return nil, err
		}
		result = append(result, encoded...)
	}
	return result, nil
}

func (a *Assembler) parseParam(tok Token, kind ParamKind) ([]byte, error) {
	if kind == ParamString {
		if tok.Kind != TokString {
			return nil, &ParseError{Line: tok.Line, Col: tok.Col, Message: "expected a string"}
		}
		if len(tok.Str) > 255 {
			return nil, &ParseError{Line: tok.Line, Col: tok.Col, Message: "string literal too long"}
		}
		out := make([]byte, 0, len(tok.Str)+1)
		out = append(out, byte(len(tok.Str)))
		out = append(out, tok.Str...)
		return out, nil
	}

	if tok.Kind != TokInteger {
		return nil, &ParseError{Line: tok.Line, Col: tok.Col, Message: "expected a number"}
	}
	value := tok.Int

	var minVal, maxVal int
	switch kind {
	case ParamUint:
		minVal, maxVal = 0, 0xFF
	case ParamInt:
		minVal, maxVal = -0x80, 0x7F
	case ParamIntBig:
		minVal, maxVal = -0x8000, 0x7FFF
	}
	if value < minVal || value > maxVal {
		return nil, &ParseError{
			Line: tok.Line, Col: tok.Col,
			Message: errors.Errorf("number should be between %d and %d: %d", minVal, maxVal, value).Error(),
		}
	}

	switch kind {
	case ParamUint:
		return []byte{byte(value)}, nil
	case ParamInt:
		if value < 0 {
			value += 0x100
		}
		return []byte{byte(value)}, nil
	case ParamIntBig:
		if value < 0 {
			value += 0x10000
		}
		return []byte{byte(value & 0xFF), byte((value >> 8) & 0xFF)}, nil
	default:
		return nil, nil
	}
}

func (a *Assembler) updateLocations() {
	for source, site := range a.sources {
		target, ok := a.targets[site.label]
		if !ok {
			a.diags = append(a.diags, Diagnostic{Line: site.tok.Line, Col: site.tok.Col, Message: "unknown label: " + site.label})
			continue
		}

		delta := target - source + 1
		if delta < -0x8000 || delta > 0x7FFF {
			a.diags = append(a.diags, Diagnostic{
				Line: site.tok.Line, Col: site.tok.Col,
				Message: errors.Errorf("jump too big (%d bytes)", delta).Error(),
			})
		}
		if delta < 0 {
			delta += 0x10000
		}
		a.data[source] = byte(delta & 0xFF)
		a.data[source+1] = byte((delta >> 8) & 0xFF)
	}
}

// FormatDiagnostics renders diagnostics in the three-line form from
// spec.md §7.1 and original_source/minivm/assemble.py's
// Assembler.describe_errors: the message, the offending source line
// indented two spaces, and a caret under the column, also indented.
func FormatDiagnostics(source string, diags []Diagnostic) []string {
	lines := strings.Split(source, "\n")
	const prefix = "  "
	var out []string
	for _, d := range diags {
		out = append(out, d.Error())
		var srcLine string
		if d.Line >= 0 && d.Line < len(lines) {
			srcLine = lines[d.Line]
		}
		out = append(out, prefix+srcLine)
		out = append(out, prefix+strings.Repeat(" ", d.Col)+"^")
	}
	return out
}

// Error renders a single diagnostic as "line:col: error: message".
// Line and column are the raw 0-indexed scanner coordinates, matching
// original_source/minivm/assemble.py's describe_errors output.
func (d Diagnostic) Error() string {
	return errors.Errorf("%d:%d: error: %s", d.Line, d.Col, d.Message).Error()
}
