package vm

// Program wraps a decoded MiniVM byte buffer and exposes both
// sequential iteration and random access, per spec.md §4.1. It is
// grounded on original_source/minivm/program.py's Program class
// (read_uint/read_int/read_int_big/read_string/read_instr/iter), with
// the Go decoder following the same method breakdown.
type Program struct {
	buf []byte
}

// Instr is one decoded instruction: its start offset, encoded byte
// length, opcode, and decoded immediate arguments. args holds int
// for UINT/INT/INT_BIG and string for STRING parameters, in
// declaration order from Opcode.Params().
type Instr struct {
	Offset int
	Length int
	Op     Opcode
	Args   []any
}

// NewProgram validates the header and wraps buf for decoding. buf is
// not copied; callers must not mutate it afterward.
func NewProgram(buf []byte) (*Program, error) {
	if len(buf) < len(Header) || [8]byte(buf[:8]) != Header {
		return nil, newDecodeError(0, "program does not start with the MiniVM header")
	}
	return &Program{buf: buf}, nil
}

// Bytes returns the full underlying buffer, including the header.
func (p *Program) Bytes() []byte { return p.buf }

// Len returns the total buffer length in bytes.
func (p *Program) Len() int { return len(p.buf) }

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readUint() (int, error) {
	if d.pos >= len(d.buf) {
		return 0, newDecodeError(d.pos, "unexpected end of input")
	}
	v := int(d.buf[d.pos])
	d.pos++
	return v, nil
}

func (d *decoder) readInt() (int, error) {
	start := d.pos
	v, err := d.readUint()
	if err != nil {
		return 0, err
	}
	if v&0x80 != 0 {
		v -= 0x100
	}
	_ = start
	return v, nil
}

func (d *decoder) readIntBig() (int, error) {
	lo, err := d.readUint()
	if err != nil {
		return 0, err
	}
	hi, err := d.readUint()
	if err != nil {
		return 0, err
	}
	v := lo | (hi << 8)
	if v&0x8000 != 0 {
		v -= 0x10000
	}
	return v, nil
}

func (d *decoder) readString() (string, error) {
	start := d.pos
	n, err := d.readUint()
	if err != nil {
		return "", err
	}
	if d.pos+n > len(d.buf) {
		return "", newDecodeError(start, "unexpected end of input inside a string")
	}
	data := d.buf[d.pos : d.pos+n]
	for i, c := range data {
		if c > 0x7F {
			return "", newDecodeError(d.pos+i, "string is not ASCII")
		}
	}
	d.pos += n
	return string(data), nil
}

// readInstr decodes one instruction starting at d.pos, advancing d.pos
// past it.
func (d *decoder) readInstr() (Opcode, []any, error) {
	opPos := d.pos
	opByte, err := d.readUint()
	if err != nil {
		return 0, nil, err
	}
	op := Opcode(opByte)
	if !op.Valid() {
		return 0, nil, newDecodeError(opPos, "0x%02X is not a valid op code", opByte)
	}

	params := op.Params()
	args := make([]any, 0, len(params))
	for _, kind := range params {
		switch kind {
		case ParamString:
			s, err := d.readString()
			if err != nil {
				return 0, nil, err
			}
			args = append(args, s)
		case ParamUint:
			v, err := d.readUint()
			if err != nil {
				return 0, nil, err
			}
			args = append(args, v)
		case ParamInt:
			v, err := d.readInt()
			if err != nil {
				return 0, nil, err
			}
			args = append(args, v)
		case ParamIntBig:
			v, err := d.readIntBig()
			if err != nil {
				return 0, nil, err
			}
			args = append(args, v)
		}
	}
	return op, args, nil
}

// ReadFrom decodes a single instruction at byte offset pos, returning
// its encoded length, opcode, and decoded arguments. It does not
// require pos to be the start of a prior iteration step.
func (p *Program) ReadFrom(pos int) (length int, op Opcode, args []any, err error) {
	d := &decoder{buf: p.buf, pos: pos}
	op, args, err = d.readInstr()
	if err != nil {
		return 0, 0, nil, err
	}
	return d.pos - pos, op, args, nil
}

// Iter walks every instruction from just after the header to the end
// of the buffer, calling yield for each. Iteration stops early if
// yield returns false, or if a decode error occurs (in which case err
// is returned).
func (p *Program) Iter(yield func(Instr) bool) error {
	pos := len(Header)
	for pos < len(p.buf) {
		length, op, args, err := p.ReadFrom(pos)
		if err != nil {
			return err
		}
		if !yield(Instr{Offset: pos, Length: length, Op: op, Args: args}) {
			return nil
		}
		pos += length
	}
	return nil
}

// Instructions decodes and collects every instruction in the program.
// Convenience wrapper around Iter for callers that want a slice
// (disassembler label collection, tests).
func (p *Program) Instructions() ([]Instr, error) {
	var out []Instr
	err := p.Iter(func(ins Instr) bool {
		out = append(out, ins)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
