package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/burrow"
	"github.com/deepnoodle-ai/burrow/boundary"
)

type resumeFlags struct {
	ret     string
	raise   string
	future  bool
	results []string
	errs    []string
	save    string
}

func newResumeCmd(a *app) *cobra.Command {
	var f resumeFlags
	cmd := &cobra.Command{
		Use:   "resume DUMP",
		Short: "Answer a suspended run and continue it",
		Long: `Answer the call a dump is suspended on with --return, --raise or --future.
A run waiting on futures is answered with --result id=value and --error id=Type:message.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p, err := burrow.LoadProgress(data, burrow.WithLogger(a.logger), burrow.WithOutput(out))
			if err != nil {
				return err
			}
			next, err := resume(p, &f, cmd.Flags().Changed("return"))
			if err != nil {
				return err
			}
			save := f.save
			if save == "" {
				save = args[0]
			}
			return a.report(out, next, save)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.ret, "return", "", "return this value (JSON or plain text) from the call")
	flags.StringVar(&f.raise, "raise", "", "raise an exception in the program, as Type or Type:message")
	flags.BoolVar(&f.future, "future", false, "answer the call with a future to resolve later")
	flags.StringArrayVar(&f.results, "result", nil, "resolve a future as id=value")
	flags.StringArrayVar(&f.errs, "error", nil, "fail a future as id=Type:message")
	flags.StringVar(&f.save, "save", "", "where to write the next dump (default: overwrite DUMP)")
	cmd.MarkFlagsMutuallyExclusive("return", "raise", "future")
	return cmd
}

func resume(p burrow.Progress, f *resumeFlags, hasReturn bool) (burrow.Progress, error) {
	switch p := p.(type) {
	case *burrow.Complete:
		return nil, errors.New("the run has already completed")
	case *burrow.FunctionCall:
		r, err := f.externalResult(hasReturn)
		if err != nil {
			return nil, err
		}
		return p.Resume(r)
	case *burrow.OsCall:
		r, err := f.externalResult(hasReturn)
		if err != nil {
			return nil, err
		}
		return p.Resume(r)
	case *burrow.ResolveFutures:
		results, err := f.futureResults()
		if err != nil {
			return nil, err
		}
		return p.Resume(results)
	}
	return nil, fmt.Errorf("cannot resume %T", p)
}

func (f *resumeFlags) externalResult(hasReturn bool) (burrow.ExternalResult, error) {
	if len(f.results) > 0 || len(f.errs) > 0 {
		return burrow.ExternalResult{}, errors.New("--result and --error answer futures; use --return, --raise or --future")
	}
	switch {
	case f.future:
		return burrow.Future(), nil
	case f.raise != "":
		return burrow.Raise(parseException(f.raise)), nil
	case hasReturn:
		v, err := parseValue(f.ret)
		if err != nil {
			return burrow.ExternalResult{}, err
		}
		return burrow.Return(v), nil
	default:
		return burrow.Return(boundary.None{}), nil
	}
}

func (f *resumeFlags) futureResults() ([]burrow.FutureResult, error) {
	var results []burrow.FutureResult
	for _, r := range f.results {
		id, text, err := parseCallID(r)
		if err != nil {
			return nil, err
		}
		v, err := parseValue(text)
		if err != nil {
			return nil, err
		}
		results = append(results, burrow.FutureResult{CallID: id, Value: v})
	}
	for _, e := range f.errs {
		id, text, err := parseCallID(e)
		if err != nil {
			return nil, err
		}
		exc := parseException(text)
		results = append(results, burrow.FutureResult{CallID: id, Exc: &exc})
	}
	if len(results) == 0 {
		return nil, errors.New("the run is waiting on futures; answer them with --result or --error")
	}
	return results, nil
}

func parseCallID(s string) (uint64, string, error) {
	key, value, err := parseAssignment(s)
	if err != nil {
		return 0, "", err
	}
	id, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid call id %q", key)
	}
	return id, value, nil
}
