package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/dis"
)

func printStats(w io.Writer, s bytecode.Stats, format string) error {
	if format == "json" {
		data, err := getOutputJSON(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	fmt.Fprintf(w, "instructions: %d\nconstants: %d\nglobals: %d\nfunctions: %d (async %d, generators %d)\nmax locals: %d\n",
		s.InstructionCount, s.ConstantCount, s.GlobalCount, s.FunctionCount, s.AsyncCount, s.GeneratorCount, s.MaxLocals)
	return nil
}

func newDisCmd(a *app) *cobra.Command {
	var (
		funcName string
		stats    bool
	)
	cmd := &cobra.Command{
		Use:   "dis PROGRAM",
		Short: "Disassemble compiled bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			code, err := bytecode.Unmarshal(data)
			if err != nil {
				return err
			}
			if stats {
				return printStats(cmd.OutOrStdout(), code.Stats(), a.output)
			}
			// Disassemble the specified function, if provided
			if funcName != "" {
				var found *bytecode.Function
				for _, fn := range code.Functions() {
					if fn.Name() == funcName {
						found = fn
						break
					}
				}
				if found == nil {
					return fmt.Errorf("function %q not found", funcName)
				}
				code = found.Code()
			}
			instructions, err := dis.Disassemble(code)
			if err != nil {
				return err
			}
			dis.Print(instructions, cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&funcName, "func", "", "function to disassemble")
	cmd.Flags().BoolVar(&stats, "stats", false, "print a size summary of the program instead")
	return cmd
}
