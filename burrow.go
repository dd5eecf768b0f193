// Package burrow runs compiled programs in a sandbox that pauses whenever
// the program needs the host.
//
// A Runner holds compiled code and the names the program expects from its
// host. Start executes it until it completes or suspends; every suspension
// is a Progress value carrying a single-use continuation:
//
//	runner, _ := burrow.New(code, "main.py", nil, []string{"fetch"})
//	progress, err := runner.Start(nil, resource.NoLimit(), os.Stdout)
//	for err == nil {
//		call, ok := progress.(*burrow.FunctionCall)
//		if !ok {
//			break
//		}
//		progress, err = call.Resume(burrow.Return(lookup(call.Args)))
//	}
//
// Runners and paused progress values can be dumped to bytes and loaded in
// another process.
package burrow

import (
	"fmt"
	"io"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/resource"
	"github.com/deepnoodle-ai/burrow/vm"
)

// Runner is a compiled program ready to run. It is immutable and may start
// any number of independent runs.
type Runner struct {
	code       *bytecode.Code
	filename   string
	inputNames []string
	externals  []string
	opts       *options
}

// New creates a Runner. inputNames are the globals the host supplies on
// each Start, in order; externalFunctions are the host functions the
// program may call.
func New(code *bytecode.Code, filename string, inputNames, externalFunctions []string, opts ...Option) (*Runner, error) {
	if code == nil {
		return nil, fmt.Errorf("burrow: code is nil")
	}
	seen := map[string]bool{}
	for _, name := range append(append([]string{}, inputNames...), externalFunctions...) {
		if name == "" {
			return nil, fmt.Errorf("burrow: empty name")
		}
		if seen[name] {
			return nil, fmt.Errorf("burrow: name %q declared twice", name)
		}
		seen[name] = true
	}
	return &Runner{
		code:       code,
		filename:   filename,
		inputNames: append([]string(nil), inputNames...),
		externals:  append([]string(nil), externalFunctions...),
		opts:       collectOptions(opts...),
	}, nil
}

// Code returns the compiled program.
func (r *Runner) Code() *bytecode.Code {
	return r.code
}

// InputNames returns the declared input names.
func (r *Runner) InputNames() []string {
	return append([]string(nil), r.inputNames...)
}

// ExternalFunctions returns the declared external function names.
func (r *Runner) ExternalFunctions() []string {
	return append([]string(nil), r.externals...)
}

// Start begins a run with one value per declared input. The tracker
// enforces resource limits and output receives print; either may be nil.
func (r *Runner) Start(inputs []boundary.Value, tracker resource.Tracker, output io.Writer) (p Progress, err error) {
	defer recoverInternal(&err)
	if len(inputs) != len(r.inputNames) {
		return nil, fmt.Errorf("burrow: %d inputs declared, %d given", len(r.inputNames), len(inputs))
	}
	if tracker == nil {
		tracker = resource.NoLimit()
	}
	id, err := r.opts.newRunID()
	if err != nil {
		return nil, err
	}
	vmOpts := append(r.opts.vmOpts(output),
		vm.WithTracker(tracker),
		vm.WithFilename(r.filename),
		vm.WithCapabilities(r.opts.capabilities(r.externals)),
		vm.WithExternalFunctions(r.externals...),
	)
	machine := vm.New(vmOpts...)
	for i, name := range r.inputNames {
		if err := machine.SetGlobal(name, inputs[i]); err != nil {
			machine.Close()
			return nil, fmt.Errorf("burrow: input %q: %w", name, err)
		}
	}
	run := &run{id: id, vm: machine, logger: r.opts.logger, oneShot: true}
	run.logger.Debug().Str("run_id", id.String()).Str("filename", r.filename).Msg("run starting")
	s, err := machine.Begin(r.code)
	return run.progress(s, err)
}

// RunNoLimits runs the program to completion without resource limits. It
// fails with errz.ErrNeedsHost if the program suspends for the host.
func (r *Runner) RunNoLimits(inputs []boundary.Value) (boundary.Value, error) {
	p, err := r.Start(inputs, resource.NoLimit(), nil)
	if err != nil {
		return nil, err
	}
	switch p := p.(type) {
	case *Complete:
		return p.Value, nil
	case *FunctionCall:
		p.run.vm.Close()
		return nil, fmt.Errorf("%w: call to %s", errz.ErrNeedsHost, p.Name)
	case *OsCall:
		p.run.vm.Close()
		return nil, fmt.Errorf("%w: os call %s", errz.ErrNeedsHost, p.Function)
	case *ResolveFutures:
		p.run.vm.Close()
		return nil, fmt.Errorf("%w: %d unresolved futures", errz.ErrNeedsHost, len(p.CallIDs))
	default:
		return nil, errz.Internalf("unexpected progress %T", p)
	}
}
