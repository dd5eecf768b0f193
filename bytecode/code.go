package bytecode

import (
	"strings"

	"github.com/deepnoodle-ai/burrow/op"
)

// Code represents a compiled code block (module, function body, etc.).
// It is immutable after creation and safe for concurrent use.
type Code struct {
	id   string
	name string

	instructions []op.Code
	constants    []any
	names        []string
	source       string
	filename     string

	// Source map: one location per instruction for error reporting
	locations []SourceLocation

	localCount int

	// Global variable names referenced by LoadGlobal/StoreGlobal. Each code
	// block carries its own list; the VM resolves them by name.
	globalNames []string

	// Local variable names (for debugging/disassembly)
	localNames []string
}

// CodeParams contains parameters for creating a new Code.
type CodeParams struct {
	ID           string
	Name         string
	Instructions []op.Code
	Constants    []any
	Names        []string
	Source       string
	Filename     string
	Locations    []SourceLocation
	LocalCount   int
	GlobalNames  []string
	LocalNames   []string
}

// NewCode creates a new immutable Code from the given parameters.
// Input slices are copied to ensure immutability. The Code is fully
// immutable after construction - there are no mutation methods.
func NewCode(params CodeParams) *Code {
	return &Code{
		id:           params.ID,
		name:         params.Name,
		instructions: copyInstructions(params.Instructions),
		constants:    copyAny(params.Constants),
		names:        copyStrings(params.Names),
		source:       params.Source,
		filename:     params.Filename,
		locations:    copyLocations(params.Locations),
		localCount:   params.LocalCount,
		globalNames:  copyStrings(params.GlobalNames),
		localNames:   copyStrings(params.LocalNames),
	}
}

// ID returns the unique identifier for this code block.
func (c *Code) ID() string {
	return c.id
}

// Name returns the name of this code block.
func (c *Code) Name() string {
	return c.name
}

// InstructionCount returns the number of instructions.
func (c *Code) InstructionCount() int {
	return len(c.instructions)
}

// InstructionAt returns the instruction at the given index.
func (c *Code) InstructionAt(index int) op.Code {
	return c.instructions[index]
}

// Instructions returns a copy of the instruction stream. The VM copies this
// once per loaded code object.
func (c *Code) Instructions() []op.Code {
	return copyInstructions(c.instructions)
}

// ConstantCount returns the number of constants.
func (c *Code) ConstantCount() int {
	return len(c.constants)
}

// ConstantAt returns the constant at the given index.
func (c *Code) ConstantAt(index int) any {
	return c.constants[index]
}

// NameCount returns the number of names (attribute names used in this code).
func (c *Code) NameCount() int {
	return len(c.names)
}

// NameAt returns the attribute name at the given index.
func (c *Code) NameAt(index int) string {
	return c.names[index]
}

// Source returns the source code for this block.
func (c *Code) Source() string {
	return c.source
}

// Filename returns the source filename.
func (c *Code) Filename() string {
	return c.filename
}

// LocalCount returns the number of namespace slots a frame running this code
// needs, parameters and cells included.
func (c *Code) LocalCount() int {
	return c.localCount
}

// LocationAt returns the source location for the instruction at the given index.
func (c *Code) LocationAt(ip int) SourceLocation {
	if ip < 0 || ip >= len(c.locations) {
		return SourceLocation{}
	}
	return c.locations[ip]
}

// LocationCount returns the number of recorded source locations.
func (c *Code) LocationCount() int {
	return len(c.locations)
}

// GlobalCount returns the number of global variables.
func (c *Code) GlobalCount() int {
	return len(c.globalNames)
}

// GlobalNameAt returns the global variable name at the given index.
// Returns an empty string if the index is out of range.
func (c *Code) GlobalNameAt(index int) string {
	if index < 0 || index >= len(c.globalNames) {
		return ""
	}
	return c.globalNames[index]
}

// GlobalNames returns a copy of all global variable names.
func (c *Code) GlobalNames() []string {
	return copyStrings(c.globalNames)
}

// LocalNameCount returns the number of local variable names.
func (c *Code) LocalNameCount() int {
	return len(c.localNames)
}

// LocalNameAt returns the local variable name at the given index.
// Returns an empty string if the index is out of range.
func (c *Code) LocalNameAt(index int) string {
	if index < 0 || index >= len(c.localNames) {
		return ""
	}
	return c.localNames[index]
}

// Functions returns every function reachable from this code's constants in
// pre-order. The order is stable, so an index into the result identifies a
// function across a serialization round trip.
func (c *Code) Functions() []*Function {
	var fns []*Function
	var walk func(code *Code)
	walk = func(code *Code) {
		for _, constant := range code.constants {
			if fn, ok := constant.(*Function); ok {
				fns = append(fns, fn)
				if fn.code != nil {
					walk(fn.code)
				}
			}
		}
	}
	walk(c)
	return fns
}

// GetSourceLine returns the source code line at the given 1-based line number.
func (c *Code) GetSourceLine(lineNum int) string {
	if lineNum < 1 || c.source == "" {
		return ""
	}
	lines := strings.Split(c.source, "\n")
	if lineNum > len(lines) {
		return ""
	}
	return lines[lineNum-1]
}

// Stats returns statistics about this code block and every function
// nested in it.
func (c *Code) Stats() Stats {
	s := Stats{GlobalCount: c.GlobalCount()}
	s.add(c)
	for _, fn := range c.Functions() {
		s.FunctionCount++
		if fn.IsAsync() {
			s.AsyncCount++
		}
		if fn.IsGenerator() {
			s.GeneratorCount++
		}
		if fn.code != nil {
			s.add(fn.code)
		}
	}
	return s
}
