package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/burrow"
	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
)

const defaultDumpPath = "burrow.dump"

func newRunCmd(a *app) *cobra.Command {
	var (
		inputs    []string
		externals []string
		save      string
		prepare   string
	)
	cmd := &cobra.Command{
		Use:   "run PROGRAM",
		Short: "Run compiled bytecode or a saved runner until it completes or suspends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := a.loadRunner(args[0], inputs, externals)
			if err != nil {
				return err
			}
			if prepare != "" {
				data, err := runner.Dump()
				if err != nil {
					return err
				}
				return writeFile(prepare, data)
			}
			values, err := inputValues(runner.InputNames(), inputs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p, err := runner.Start(values, a.cfg.Tracker(), out)
			if err != nil {
				return err
			}
			return a.report(out, p, save)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&inputs, "input", "i", nil, "program input as name=value (value is JSON or plain text)")
	flags.StringArrayVarP(&externals, "ext", "e", nil, "declare an external function the program may call")
	flags.StringVar(&save, "save", defaultDumpPath, "where to write the dump when the program suspends")
	flags.StringVar(&prepare, "prepare", "", "write the unstarted runner to this path instead of running")
	return cmd
}

// loadRunner reads a program file. Compiled bytecode gets its inputs and
// externals from the configuration and flags; a saved runner carries its
// own.
func (a *app) loadRunner(path string, inputs, externals []string) (*burrow.Runner, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	opts := []burrow.Option{burrow.WithLogger(a.logger)}
	code, codeErr := bytecode.Unmarshal(data)
	if codeErr != nil {
		runner, err := burrow.LoadRunner(data, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s is neither compiled code (%v) nor a saved runner (%v)", path, codeErr, err)
		}
		return runner, nil
	}
	names := a.cfg.Inputs
	if len(names) == 0 {
		for _, in := range inputs {
			name, _, err := parseAssignment(in)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
	}
	var exts []string
	seen := map[string]bool{}
	for _, name := range append(append([]string{}, a.cfg.Externals...), externals...) {
		if !seen[name] {
			seen[name] = true
			exts = append(exts, name)
		}
	}
	a.cfg.Externals = exts
	opts = append(opts, burrow.WithCapabilities(a.cfg.CapabilitySet()))
	filename := code.Filename()
	if filename == "" {
		filename = path
	}
	return burrow.New(code, filename, names, exts, opts...)
}

// inputValues orders the --input values by the runner's declared names.
func inputValues(names, inputs []string) ([]boundary.Value, error) {
	given := make(map[string]boundary.Value, len(inputs))
	for _, in := range inputs {
		name, text, err := parseAssignment(in)
		if err != nil {
			return nil, err
		}
		v, err := parseValue(text)
		if err != nil {
			return nil, err
		}
		given[name] = v
	}
	values := make([]boundary.Value, len(names))
	for i, name := range names {
		v, ok := given[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		values[i] = v
		delete(given, name)
	}
	for name := range given {
		return nil, fmt.Errorf("unknown input %q", name)
	}
	return values, nil
}

// report prints a progress value and, for a suspension, saves the dump the
// next resume starts from.
func (a *app) report(out io.Writer, p burrow.Progress, save string) error {
	if err := printProgress(out, p, a.output); err != nil {
		return err
	}
	if _, done := p.(*burrow.Complete); done {
		return nil
	}
	data, err := p.Dump()
	if err != nil {
		return err
	}
	a.logger.Debug().Str("run_id", p.RunID().String()).Str("path", save).Msg("suspended")
	return writeFile(save, data)
}
