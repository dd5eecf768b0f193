package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/burrow"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect DUMP",
		Short: "Show what a saved run is waiting on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p, err := burrow.LoadProgress(data, burrow.WithLogger(a.logger))
			if err != nil {
				runner, rerr := burrow.LoadRunner(data, burrow.WithLogger(a.logger))
				if rerr != nil {
					return err
				}
				fmt.Fprintf(out, "unstarted runner: inputs %v, externals %v\n",
					runner.InputNames(), runner.ExternalFunctions())
				return nil
			}
			return printProgress(out, p, a.output)
		},
	}
}
