// Package bytecode provides immutable representations of compiled code.
//
// This package defines the input of the virtual machine: pure data structures
// that represent compiled bytecode and function templates. Source parsing and
// compilation happen elsewhere; the VM only ever sees these types. They are
// created once and shared safely across goroutines and independent runs.
//
// # Key Types
//
//   - [Code]: An immutable compiled code block (module or function body)
//   - [Function]: An immutable function descriptor: signature, cell layout,
//     async/generator flags and body
//   - [SourceLocation]: Maps bytecode to source positions (value type)
//   - [Builder]: An assembler that produces [Code] from opcodes and labels
//
// # Immutability Guarantees
//
// All types in this package except [Builder] are immutable after
// construction. Constructors copy input slices and index-based accessors are
// used for all collections:
//
//	code.InstructionAt(0)
//	code.ConstantAt(i)
//
// # Namespace Layout
//
// A call's namespace holds parameters first, then the *args and **kwargs
// slots when present, then captured cells, then the remaining locals. See
// [Function.FreeStart].
//
// # Serialization
//
// [Marshal] and [Unmarshal] encode a code tree as CBOR behind a magic header,
// so compiled programs can be cached or shipped alongside paused runs.
package bytecode
