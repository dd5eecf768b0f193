package bytecode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/deepnoodle-ai/burrow/op"
)

// FormatVersion is the version of the serialized code format.
const FormatVersion = 1

var magic = []byte("BRWC")

// ErrInvalidFormat is returned when data does not hold serialized code.
var ErrInvalidFormat = errors.New("bytecode: not a serialized code blob")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

const (
	constNil uint8 = iota
	constBool
	constInt
	constFloat
	constString
	constBytes
	constFunction
	constNames
)

type constRecord struct {
	Kind  uint8           `cbor:"k"`
	Bool  bool            `cbor:"b,omitempty"`
	Int   int64           `cbor:"i,omitempty"`
	Float float64         `cbor:"f,omitempty"`
	Str   string          `cbor:"s,omitempty"`
	Bytes []byte          `cbor:"y,omitempty"`
	Names []string        `cbor:"n,omitempty"`
	Func  *functionRecord `cbor:"fn,omitempty"`
}

type functionRecord struct {
	ID           string      `cbor:"id"`
	Name         string      `cbor:"name"`
	Parameters   []string    `cbor:"params,omitempty"`
	DefaultCount int         `cbor:"defaults,omitempty"`
	KwOnlyCount  int         `cbor:"kwonly,omitempty"`
	VarArgs      bool        `cbor:"varargs,omitempty"`
	VarKwargs    bool        `cbor:"varkw,omitempty"`
	Async        bool        `cbor:"async,omitempty"`
	Generator    bool        `cbor:"gen,omitempty"`
	CellSlots    []int       `cbor:"cells,omitempty"`
	FreeCount    int         `cbor:"free,omitempty"`
	Code         *codeRecord `cbor:"code"`
}

type codeRecord struct {
	ID           string           `cbor:"id"`
	Name         string           `cbor:"name"`
	Instructions []uint16         `cbor:"ins"`
	Constants    []constRecord    `cbor:"consts,omitempty"`
	Names        []string         `cbor:"names,omitempty"`
	Source       string           `cbor:"src,omitempty"`
	Filename     string           `cbor:"file,omitempty"`
	Locations    []SourceLocation `cbor:"locs,omitempty"`
	LocalCount   int              `cbor:"locals,omitempty"`
	GlobalNames  []string         `cbor:"globals,omitempty"`
	LocalNames   []string         `cbor:"localnames,omitempty"`
}

// Marshal serializes a code tree, nested functions included, to a
// self-describing binary blob.
func Marshal(code *Code) ([]byte, error) {
	if code == nil {
		return nil, errors.New("bytecode: cannot marshal nil code")
	}
	rec, err := codeToRecord(code)
	if err != nil {
		return nil, err
	}
	body, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal code: %w", err)
	}
	out := make([]byte, 0, len(magic)+1+len(body))
	out = append(out, magic...)
	out = append(out, FormatVersion)
	return append(out, body...), nil
}

// Unmarshal restores a code tree serialized with Marshal.
func Unmarshal(data []byte) (*Code, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrInvalidFormat
	}
	if v := data[len(magic)]; v != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d", v)
	}
	var rec codeRecord
	if err := cbor.Unmarshal(data[len(magic)+1:], &rec); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal code: %w", err)
	}
	return recordToCode(&rec)
}

func codeToRecord(c *Code) (*codeRecord, error) {
	rec := &codeRecord{
		ID:           c.id,
		Name:         c.name,
		Instructions: make([]uint16, len(c.instructions)),
		Names:        c.names,
		Source:       c.source,
		Filename:     c.filename,
		Locations:    c.locations,
		LocalCount:   c.localCount,
		GlobalNames:  c.globalNames,
		LocalNames:   c.localNames,
	}
	for i, ins := range c.instructions {
		rec.Instructions[i] = uint16(ins)
	}
	for i, constant := range c.constants {
		cr, err := constToRecord(constant)
		if err != nil {
			return nil, fmt.Errorf("bytecode: constant %d of %s: %w", i, c.name, err)
		}
		rec.Constants = append(rec.Constants, cr)
	}
	return rec, nil
}

func constToRecord(value any) (constRecord, error) {
	switch v := value.(type) {
	case nil:
		return constRecord{Kind: constNil}, nil
	case bool:
		return constRecord{Kind: constBool, Bool: v}, nil
	case int64:
		return constRecord{Kind: constInt, Int: v}, nil
	case int:
		return constRecord{Kind: constInt, Int: int64(v)}, nil
	case float64:
		return constRecord{Kind: constFloat, Float: v}, nil
	case string:
		return constRecord{Kind: constString, Str: v}, nil
	case []byte:
		return constRecord{Kind: constBytes, Bytes: v}, nil
	case []string:
		return constRecord{Kind: constNames, Names: v}, nil
	case *Function:
		fr := &functionRecord{
			ID:           v.id,
			Name:         v.name,
			Parameters:   v.parameters,
			DefaultCount: v.defaultCount,
			KwOnlyCount:  v.kwOnlyCount,
			VarArgs:      v.varArgs,
			VarKwargs:    v.varKwargs,
			Async:        v.async,
			Generator:    v.generator,
			CellSlots:    v.cellSlots,
			FreeCount:    v.freeCount,
		}
		if v.code != nil {
			cr, err := codeToRecord(v.code)
			if err != nil {
				return constRecord{}, err
			}
			fr.Code = cr
		}
		return constRecord{Kind: constFunction, Func: fr}, nil
	default:
		return constRecord{}, fmt.Errorf("unsupported constant type %T", value)
	}
}

func recordToCode(rec *codeRecord) (*Code, error) {
	instructions := make([]op.Code, len(rec.Instructions))
	for i, ins := range rec.Instructions {
		instructions[i] = op.Code(ins)
	}
	constants := make([]any, 0, len(rec.Constants))
	for i, cr := range rec.Constants {
		value, err := recordToConst(cr)
		if err != nil {
			return nil, fmt.Errorf("bytecode: constant %d of %s: %w", i, rec.Name, err)
		}
		constants = append(constants, value)
	}
	if err := validate(rec.Name, instructions, len(constants), len(rec.Names)); err != nil {
		return nil, err
	}
	return NewCode(CodeParams{
		ID:           rec.ID,
		Name:         rec.Name,
		Instructions: instructions,
		Constants:    constants,
		Names:        rec.Names,
		Source:       rec.Source,
		Filename:     rec.Filename,
		Locations:    rec.Locations,
		LocalCount:   rec.LocalCount,
		GlobalNames:  rec.GlobalNames,
		LocalNames:   rec.LocalNames,
	}), nil
}

func recordToConst(cr constRecord) (any, error) {
	switch cr.Kind {
	case constNil:
		return nil, nil
	case constBool:
		return cr.Bool, nil
	case constInt:
		return cr.Int, nil
	case constFloat:
		return cr.Float, nil
	case constString:
		return cr.Str, nil
	case constBytes:
		if cr.Bytes == nil {
			return []byte{}, nil
		}
		return cr.Bytes, nil
	case constNames:
		return cr.Names, nil
	case constFunction:
		fr := cr.Func
		if fr == nil {
			return nil, errors.New("function constant without body")
		}
		var code *Code
		if fr.Code != nil {
			var err error
			if code, err = recordToCode(fr.Code); err != nil {
				return nil, err
			}
		}
		return NewFunction(FunctionParams{
			ID:           fr.ID,
			Name:         fr.Name,
			Parameters:   fr.Parameters,
			DefaultCount: fr.DefaultCount,
			KwOnlyCount:  fr.KwOnlyCount,
			VarArgs:      fr.VarArgs,
			VarKwargs:    fr.VarKwargs,
			Async:        fr.Async,
			Generator:    fr.Generator,
			CellSlots:    fr.CellSlots,
			FreeCount:    fr.FreeCount,
			Code:         code,
		}), nil
	default:
		return nil, fmt.Errorf("unknown constant kind %d", cr.Kind)
	}
}

// validate walks the instruction stream checking opcodes and the operands
// that index the constant and name pools.
func validate(name string, instructions []op.Code, constCount, nameCount int) error {
	for ip := 0; ip < len(instructions); {
		info := op.GetInfo(instructions[ip])
		if info.Name == "" {
			return fmt.Errorf("bytecode: %s: invalid opcode %d at %d", name, instructions[ip], ip)
		}
		if ip+info.OperandCount >= len(instructions) {
			return fmt.Errorf("bytecode: %s: truncated %s at %d", name, info.Name, ip)
		}
		switch info.Code {
		case op.LoadConst, op.MakeFunction:
			if int(instructions[ip+1]) >= constCount {
				return fmt.Errorf("bytecode: %s: constant index out of range at %d", name, ip)
			}
		case op.CallKw:
			if int(instructions[ip+2]) >= constCount {
				return fmt.Errorf("bytecode: %s: constant index out of range at %d", name, ip)
			}
		case op.LoadAttr, op.StoreAttr, op.CallMethod, op.Import:
			if int(instructions[ip+1]) >= nameCount {
				return fmt.Errorf("bytecode: %s: name index out of range at %d", name, ip)
			}
		}
		ip += 1 + info.OperandCount
	}
	return nil
}
