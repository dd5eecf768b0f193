// Package dis disassembles compiled code blocks into a readable listing.
package dis

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/internal/table"
	"github.com/deepnoodle-ai/burrow/op"
)

// Instruction represents a single bytecode instruction and its operands.
type Instruction struct {
	Offset     int
	Line       int
	Name       string
	Opcode     op.Code
	Operands   []op.Code
	Annotation string
	Constant   any
}

// Disassemble returns a parsed representation of the given bytecode.
func Disassemble(code *bytecode.Code) ([]Instruction, error) {
	var instructions []Instruction
	words := code.Instructions()
	for offset := 0; offset < len(words); {
		opcode := words[offset]
		info := op.GetInfo(opcode)
		if info.Name == "" {
			return nil, fmt.Errorf("unknown opcode %d at offset %d", opcode, offset)
		}
		end := offset + 1 + info.OperandCount
		if end > len(words) {
			return nil, fmt.Errorf("%s at offset %d is missing operands", info.Name, offset)
		}
		operands := words[offset+1 : end]
		instr := Instruction{
			Offset:   offset,
			Line:     code.LocationAt(offset).Line,
			Name:     info.Name,
			Opcode:   opcode,
			Operands: operands,
		}
		if err := annotate(code, &instr); err != nil {
			return nil, err
		}
		instructions = append(instructions, instr)
		offset = end
	}
	return instructions, nil
}

func annotate(code *bytecode.Code, instr *Instruction) error {
	var err error
	switch instr.Opcode {
	case op.LoadFast, op.StoreFast, op.DeleteFast, op.LoadCell, op.StoreCell, op.LoadClosure:
		instr.Annotation, err = localName(code, int(instr.Operands[0]))
	case op.LoadGlobal, op.StoreGlobal:
		instr.Annotation, err = globalName(code, int(instr.Operands[0]))
	case op.LoadAttr, op.StoreAttr, op.Import, op.CallMethod:
		instr.Annotation, err = name(code, int(instr.Operands[0]))
	case op.BinaryOp:
		instr.Annotation = op.BinaryOpType(instr.Operands[0]).String()
	case op.CompareOp:
		instr.Annotation = op.CompareOpType(instr.Operands[0]).String()
	case op.JumpForward, op.PopJumpForwardIfFalse, op.PopJumpForwardIfTrue, op.PushExcept, op.ForIter:
		instr.Annotation = fmt.Sprintf("to %d", instr.Offset+int(instr.Operands[0]))
	case op.JumpBackward:
		instr.Annotation = fmt.Sprintf("to %d", instr.Offset-int(instr.Operands[0]))
	case op.LoadConst, op.MakeFunction, op.CallKw:
		idx := int(instr.Operands[0])
		if instr.Opcode == op.CallKw {
			idx = int(instr.Operands[1])
		}
		instr.Constant, err = constant(code, idx)
		switch {
		case err != nil:
		case instr.Constant == nil:
			instr.Annotation = "None"
		default:
			instr.Annotation = fmt.Sprintf("%v", instr.Constant)
		}
	}
	return err
}

// Print a string representation of the given instructions to the given writer.
func Print(instructions []Instruction, writer io.Writer) {
	bold := color.New(color.Bold).SprintFunc()
	var lines [][]string
	for _, instr := range instructions {
		values := []string{
			fmt.Sprintf("%d", instr.Offset),
			lineNumber(instr.Line),
			bold(instr.Name),
			formatOperands(instr.Operands),
		}
		switch c := instr.Constant.(type) {
		case nil:
			if instr.Annotation != "" {
				values = append(values, color.CyanString("%v", instr.Annotation))
			} else {
				values = append(values, "")
			}
		case int64:
			values = append(values, color.YellowString("%d", c))
		case float64:
			values = append(values, color.YellowString("%g", c))
		case string:
			if len(c) > 80 {
				c = c[:77] + "..."
			}
			values = append(values, color.GreenString("%q", c))
		case *bytecode.Function:
			fname := c.Name()
			if fname == "" {
				fname = color.New(color.Italic).Sprint("<anonymous>")
			}
			values = append(values, color.MagentaString("func:%s", fname))
		case []string:
			values = append(values, bold(strings.Join(c, ", ")))
		default:
			values = append(values, bold(fmt.Sprintf("%v", c)))
		}
		lines = append(lines, values)
	}

	table.NewTable(writer).
		WithHeader([]string{"OFFSET", "LINE", "OPCODE", "OPERANDS", "INFO"}).
		WithColumnAlignment([]table.Alignment{
			table.AlignRight,
			table.AlignRight,
			table.AlignLeft,
			table.AlignRight,
			table.AlignLeft,
		}).
		WithHeaderAlignment([]table.Alignment{
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
			table.AlignCenter,
		}).
		WithRows(lines).
		Render()
}

func lineNumber(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}

func formatOperands(ops []op.Code) string {
	var sb strings.Builder
	for i, op := range ops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d", op))
	}
	return sb.String()
}

func localName(code *bytecode.Code, index int) (string, error) {
	if code.LocalCount() <= index {
		return "", fmt.Errorf("local variable index out of range: %d", index)
	}
	if index < code.LocalNameCount() {
		if name := code.LocalNameAt(index); name != "" {
			return name, nil
		}
	}
	return fmt.Sprintf("local_%d", index), nil
}

func globalName(code *bytecode.Code, index int) (string, error) {
	if code.GlobalCount() <= index {
		return "", fmt.Errorf("global variable index out of range: %d", index)
	}
	return code.GlobalNameAt(index), nil
}

func constant(code *bytecode.Code, index int) (any, error) {
	if code.ConstantCount() <= index {
		return nil, fmt.Errorf("constant index out of range: %d", index)
	}
	return code.ConstantAt(index), nil
}

func name(code *bytecode.Code, index int) (string, error) {
	if code.NameCount() <= index {
		return "", fmt.Errorf("name index out of range: %d", index)
	}
	return code.NameAt(index), nil
}
