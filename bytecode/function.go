package bytecode

import (
	"bytes"
	"strings"
)

// Function represents a compiled function template.
// It is immutable after creation and contains all the static information
// needed to create closures, coroutines and generators at runtime.
type Function struct {
	id           string
	name         string
	parameters   []string
	defaultCount int
	kwOnlyCount  int
	varArgs      bool
	varKwargs    bool
	async        bool
	generator    bool
	cellSlots    []int
	freeCount    int
	code         *Code
	simple       bool // Precomputed: eligible for the call fast path
}

// FunctionParams contains parameters for creating a new Function.
type FunctionParams struct {
	ID         string
	Name       string
	Parameters []string

	// DefaultCount is the number of trailing positional parameters that take
	// the default values supplied by MakeFunction.
	DefaultCount int

	// KwOnlyCount is the number of trailing parameters that can only be
	// passed by keyword.
	KwOnlyCount int

	VarArgs   bool
	VarKwargs bool
	Async     bool
	Generator bool

	// CellSlots lists namespace slots that must be wrapped in a fresh cell
	// when a call begins, because an inner function captures them.
	CellSlots []int

	// FreeCount is the number of captured cells placed right after the
	// parameter slots.
	FreeCount int

	Code *Code
}

// NewFunction creates a new immutable Function from the given parameters.
// Input slices are copied to ensure immutability.
func NewFunction(params FunctionParams) *Function {
	fn := &Function{
		id:           params.ID,
		name:         params.Name,
		parameters:   copyStrings(params.Parameters),
		defaultCount: params.DefaultCount,
		kwOnlyCount:  params.KwOnlyCount,
		varArgs:      params.VarArgs,
		varKwargs:    params.VarKwargs,
		async:        params.Async,
		generator:    params.Generator,
		cellSlots:    copyInts(params.CellSlots),
		freeCount:    params.FreeCount,
		code:         params.Code,
	}
	fn.simple = !fn.async && !fn.generator && !fn.varArgs && !fn.varKwargs &&
		fn.kwOnlyCount == 0 && len(fn.cellSlots) == 0 && fn.freeCount == 0
	return fn
}

// ID returns the unique identifier for this function.
func (f *Function) ID() string {
	return f.id
}

// Name returns the function name, or empty string for anonymous functions.
func (f *Function) Name() string {
	return f.name
}

// Code returns the compiled bytecode for this function's body.
func (f *Function) Code() *Code {
	return f.code
}

// ParameterCount returns the number of named parameters, keyword-only
// parameters included.
func (f *Function) ParameterCount() int {
	return len(f.parameters)
}

// Parameter returns the name of the parameter at the given index.
func (f *Function) Parameter(index int) string {
	return f.parameters[index]
}

// PositionalCount returns the number of parameters that may be passed
// positionally.
func (f *Function) PositionalCount() int {
	return len(f.parameters) - f.kwOnlyCount
}

// DefaultCount returns the number of parameters that take default values.
func (f *Function) DefaultCount() int {
	return f.defaultCount
}

// KwOnlyCount returns the number of keyword-only parameters.
func (f *Function) KwOnlyCount() int {
	return f.kwOnlyCount
}

// HasVarArgs reports whether the function collects extra positional
// arguments into a tuple.
func (f *Function) HasVarArgs() bool {
	return f.varArgs
}

// HasVarKwargs reports whether the function collects extra keyword
// arguments into a dict.
func (f *Function) HasVarKwargs() bool {
	return f.varKwargs
}

// IsAsync reports whether calling the function produces a coroutine.
func (f *Function) IsAsync() bool {
	return f.async
}

// IsGenerator reports whether calling the function produces a generator.
func (f *Function) IsGenerator() bool {
	return f.generator
}

// CellSlotCount returns the number of slots wrapped in cells at entry.
func (f *Function) CellSlotCount() int {
	return len(f.cellSlots)
}

// CellSlotAt returns the namespace slot of the cell at the given index.
func (f *Function) CellSlotAt(index int) int {
	return f.cellSlots[index]
}

// FreeCount returns the number of captured cells.
func (f *Function) FreeCount() int {
	return f.freeCount
}

// VarArgsSlot returns the namespace slot of the *args tuple, or -1.
func (f *Function) VarArgsSlot() int {
	if !f.varArgs {
		return -1
	}
	return len(f.parameters)
}

// VarKwargsSlot returns the namespace slot of the **kwargs dict, or -1.
func (f *Function) VarKwargsSlot() int {
	if !f.varKwargs {
		return -1
	}
	slot := len(f.parameters)
	if f.varArgs {
		slot++
	}
	return slot
}

// FreeStart returns the first namespace slot holding a captured cell.
func (f *Function) FreeStart() int {
	start := len(f.parameters)
	if f.varArgs {
		start++
	}
	if f.varKwargs {
		start++
	}
	return start
}

// Simple reports whether the function is a plain synchronous function with
// no cells, no captured variables and no variadic or keyword-only
// parameters. Calls to simple functions skip general argument binding.
func (f *Function) Simple() bool {
	return f.simple
}

// LocalCount returns the number of namespace slots a call needs.
func (f *Function) LocalCount() int {
	n := f.FreeStart() + f.freeCount
	if f.code != nil && f.code.LocalCount() > n {
		n = f.code.LocalCount()
	}
	return n
}

// String returns a string representation of the function.
func (f *Function) String() string {
	var out bytes.Buffer
	parameters := make([]string, 0, len(f.parameters)+2)
	firstDefault := f.PositionalCount() - f.defaultCount
	for i, name := range f.parameters {
		if i >= firstDefault && i < f.PositionalCount() {
			name += "=..."
		}
		if i == f.PositionalCount() && f.kwOnlyCount > 0 && !f.varArgs {
			parameters = append(parameters, "*")
		}
		parameters = append(parameters, name)
	}
	if f.varArgs {
		parameters = append(parameters, "*args")
	}
	if f.varKwargs {
		parameters = append(parameters, "**kwargs")
	}
	if f.async {
		out.WriteString("async ")
	}
	out.WriteString("def")
	if f.name != "" {
		out.WriteString(" " + f.name)
	}
	out.WriteString("(")
	out.WriteString(strings.Join(parameters, ", "))
	out.WriteString(")")
	return out.String()
}
