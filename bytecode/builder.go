package bytecode

import (
	"fmt"

	"github.com/deepnoodle-ai/burrow/op"
)

// Label marks a jump target in code being assembled by a Builder.
type Label int

type fixup struct {
	opAddr      int // address of the jump opcode
	operandAddr int
}

type label struct {
	addr   int // -1 until marked
	fixups []fixup
}

// Builder assembles a Code from opcodes, operands and labels. It is the
// programmatic counterpart of a compiler back end: hosts that generate
// bytecode and tests that need small programs use it directly.
//
// The zero value is not usable; create builders with NewBuilder.
type Builder struct {
	id           string
	name         string
	filename     string
	source       string
	instructions []op.Code
	locations    []SourceLocation
	constants    []any
	constIndex   map[any]int
	names        []string
	nameIndex    map[string]int
	globals      []string
	globalIndex  map[string]int
	locals       []string
	localCount   int
	labels       []label
	loc          SourceLocation
	err          error
}

// NewBuilder returns a builder for a code block with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		id:          name,
		name:        name,
		constIndex:  map[any]int{},
		nameIndex:   map[string]int{},
		globalIndex: map[string]int{},
	}
}

// SetFilename sets the filename recorded on the built code.
func (b *Builder) SetFilename(filename string) *Builder {
	b.filename = filename
	return b
}

// SetSource sets the source text recorded on the built code.
func (b *Builder) SetSource(source string) *Builder {
	b.source = source
	return b
}

// SetID overrides the code identifier, which defaults to the name.
func (b *Builder) SetID(id string) *Builder {
	b.id = id
	return b
}

// At sets the source location attached to subsequently emitted instructions.
func (b *Builder) At(line, column int) *Builder {
	b.loc = SourceLocation{Line: line, Column: column}
	return b
}

// Emit appends an opcode and its operands.
func (b *Builder) Emit(code op.Code, operands ...int) *Builder {
	info := op.GetInfo(code)
	if info.Name == "" {
		b.fail("unknown opcode %d", code)
		return b
	}
	if len(operands) != info.OperandCount {
		b.fail("%s expects %d operands (got %d)", info.Name, info.OperandCount, len(operands))
		return b
	}
	b.append(code)
	for _, operand := range operands {
		if operand < 0 || operand > 0xFFFF {
			b.fail("%s operand %d out of range", info.Name, operand)
			operand = 0
		}
		b.append(op.Code(operand))
	}
	return b
}

func (b *Builder) append(code op.Code) {
	b.instructions = append(b.instructions, code)
	b.locations = append(b.locations, b.loc)
}

// Const adds a constant to the pool and returns its index. Scalar
// constants are deduplicated.
func (b *Builder) Const(value any) int {
	switch v := value.(type) {
	case int:
		value = int64(v)
	case float32:
		value = float64(v)
	}
	switch value.(type) {
	case nil, bool, int64, float64, string:
		if idx, ok := b.constIndex[value]; ok {
			return idx
		}
		b.constIndex[value] = len(b.constants)
	case []byte, []string, *Function:
	default:
		b.fail("unsupported constant type %T", value)
	}
	b.constants = append(b.constants, value)
	return len(b.constants) - 1
}

// Name adds an attribute name and returns its index.
func (b *Builder) Name(name string) int {
	if idx, ok := b.nameIndex[name]; ok {
		return idx
	}
	b.nameIndex[name] = len(b.names)
	b.names = append(b.names, name)
	return len(b.names) - 1
}

// Global adds a global variable name and returns its index.
func (b *Builder) Global(name string) int {
	if idx, ok := b.globalIndex[name]; ok {
		return idx
	}
	b.globalIndex[name] = len(b.globals)
	b.globals = append(b.globals, name)
	return len(b.globals) - 1
}

// Local declares a named local slot and returns its index. Parameters must
// be declared first, in order.
func (b *Builder) Local(name string) int {
	b.locals = append(b.locals, name)
	if len(b.locals) > b.localCount {
		b.localCount = len(b.locals)
	}
	return len(b.locals) - 1
}

// Reserve ensures the code has at least n namespace slots.
func (b *Builder) Reserve(n int) *Builder {
	if n > b.localCount {
		b.localCount = n
	}
	return b
}

// NewLabel creates an unmarked label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, label{addr: -1})
	return Label(len(b.labels) - 1)
}

// Mark binds the label to the current address and patches pending jumps.
func (b *Builder) Mark(l Label) *Builder {
	lbl := &b.labels[l]
	if lbl.addr >= 0 {
		b.fail("label %d marked twice", l)
		return b
	}
	lbl.addr = len(b.instructions)
	for _, f := range lbl.fixups {
		b.instructions[f.operandAddr] = op.Code(lbl.addr - f.opAddr)
	}
	lbl.fixups = nil
	return b
}

// Jump emits a relative jump to the label. JumpForward is turned into
// JumpBackward when the label is already marked. The conditional jumps,
// ForIter and PushExcept only jump forward.
func (b *Builder) Jump(code op.Code, l Label) *Builder {
	lbl := &b.labels[l]
	opAddr := len(b.instructions)
	if lbl.addr >= 0 {
		if code != JumpAny && code != op.JumpForward && code != op.JumpBackward {
			b.fail("%s cannot jump backward", op.GetInfo(code).Name)
			return b
		}
		return b.Emit(op.JumpBackward, opAddr-lbl.addr)
	}
	if code == JumpAny || code == op.JumpBackward {
		code = op.JumpForward
	}
	b.Emit(code, 0)
	lbl.fixups = append(lbl.fixups, fixup{opAddr: opAddr, operandAddr: opAddr + 1})
	return b
}

// JumpAny lets Jump pick the unconditional direction.
const JumpAny op.Code = 0

// LoadConst emits a LoadConst of the given constant.
func (b *Builder) LoadConst(value any) *Builder {
	return b.Emit(op.LoadConst, b.Const(value))
}

// LoadGlobal emits a LoadGlobal of the named global.
func (b *Builder) LoadGlobal(name string) *Builder {
	return b.Emit(op.LoadGlobal, b.Global(name))
}

// StoreGlobal emits a StoreGlobal to the named global.
func (b *Builder) StoreGlobal(name string) *Builder {
	return b.Emit(op.StoreGlobal, b.Global(name))
}

// LoadAttr emits a LoadAttr of the named attribute.
func (b *Builder) LoadAttr(name string) *Builder {
	return b.Emit(op.LoadAttr, b.Name(name))
}

// CallMethod emits a CallMethod of the named method.
func (b *Builder) CallMethod(name string, argc int) *Builder {
	return b.Emit(op.CallMethod, b.Name(name), argc)
}

// CallKw emits a CallKw whose trailing arguments are bound to the names.
func (b *Builder) CallKw(argc int, names ...string) *Builder {
	return b.Emit(op.CallKw, argc, b.Const(append([]string(nil), names...)))
}

// Build returns the assembled Code or the first error encountered.
func (b *Builder) Build() (*Code, error) {
	if b.err != nil {
		return nil, b.err
	}
	for i, lbl := range b.labels {
		if len(lbl.fixups) > 0 {
			return nil, fmt.Errorf("bytecode: label %d used but never marked", i)
		}
	}
	return NewCode(CodeParams{
		ID:           b.id,
		Name:         b.name,
		Instructions: b.instructions,
		Constants:    b.constants,
		Names:        b.names,
		Source:       b.source,
		Filename:     b.filename,
		Locations:    b.locations,
		LocalCount:   b.localCount,
		GlobalNames:  b.globals,
		LocalNames:   b.locals,
	}), nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Code {
	code, err := b.Build()
	if err != nil {
		panic(err)
	}
	return code
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf("bytecode: "+format, args...)
	}
}
