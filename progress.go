package burrow

import (
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/vm"
)

// FutureResult resolves one external future.
type FutureResult = vm.FutureResult

// PendingCall describes one unresolved external future.
type PendingCall = vm.PendingCall

// Progress is the outcome of running a program up to its next suspension.
// It is one of *Complete, *FunctionCall, *OsCall or *ResolveFutures.
type Progress interface {
	// RunID identifies the run the progress belongs to.
	RunID() uuid.UUID

	// Dump serializes the progress so LoadProgress can restore it.
	Dump() ([]byte, error)

	isProgress()
}

// Complete is a finished run.
type Complete struct {
	Value boundary.Value
	id    uuid.UUID
}

func (c *Complete) RunID() uuid.UUID { return c.id }
func (c *Complete) isProgress()      {}

// FunctionCall asks the host to call an external function, or a method of
// a proxy object when MethodCall is set; the receiver is then Args[0].
type FunctionCall struct {
	Name       string
	Args       []boundary.Value
	Kwargs     boundary.Dict
	CallID     uint64
	MethodCall bool
	continuation
}

func (c *FunctionCall) isProgress() {}

// Resume answers the call. A Future result lets the program continue with
// an awaitable that a later ResolveFutures settles.
func (c *FunctionCall) Resume(result ExternalResult) (Progress, error) {
	return c.resume(vm.SuspendFunctionCall, result.apply)
}

// OsCall asks the host to perform an OS-mediated operation such as reading
// a file.
type OsCall struct {
	Function string
	Args     []boundary.Value
	Kwargs   boundary.Dict
	CallID   uint64
	continuation
}

func (c *OsCall) isProgress() {}

// Resume answers the OS call. OS calls cannot be deferred as futures.
func (c *OsCall) Resume(result ExternalResult) (Progress, error) {
	if result.kind == resultFuture {
		return nil, fmt.Errorf("%w: os calls cannot return a future", errz.ErrWrongResume)
	}
	return c.resume(vm.SuspendOsCall, result.apply)
}

// ResolveFutures asks the host to settle the external futures the program
// is waiting on.
type ResolveFutures struct {
	CallIDs []uint64
	Calls   []PendingCall
	continuation
}

func (c *ResolveFutures) isProgress() {}

// Resume applies a batch of results. A batch may settle a subset of the
// pending ids; the run then suspends again with the rest. A batch naming
// an id never requested is rejected whole and the continuation stays
// usable.
func (c *ResolveFutures) Resume(results []FutureResult) (Progress, error) {
	return c.resume(vm.SuspendFutures, func(m *vm.VM) (*vm.Suspension, error) {
		return m.ResolveFutures(results)
	})
}

type resultKind uint8

const (
	resultReturn resultKind = iota
	resultRaise
	resultFuture
)

// ExternalResult is the host's answer to a function or OS call.
type ExternalResult struct {
	kind  resultKind
	value boundary.Value
	exc   boundary.Exception
}

// Return answers a call with a value.
func Return(v boundary.Value) ExternalResult {
	return ExternalResult{kind: resultReturn, value: v}
}

// Raise answers a call by raising exc in the program.
func Raise(exc boundary.Exception) ExternalResult {
	return ExternalResult{kind: resultRaise, exc: exc}
}

// Future answers a function call with a promise to resolve it later.
func Future() ExternalResult {
	return ExternalResult{kind: resultFuture}
}

func (r ExternalResult) apply(m *vm.VM) (*vm.Suspension, error) {
	switch r.kind {
	case resultRaise:
		return m.ResumeRaise(r.exc)
	case resultFuture:
		return m.ResumeFuture()
	default:
		return m.ResumeReturn(r.value)
	}
}

// continuation is the single-use handle a suspended progress resumes
// through.
type continuation struct {
	run  *run
	used bool
}

// RunID identifies the run the progress belongs to.
func (c *continuation) RunID() uuid.UUID { return c.run.id }

// Dump serializes the paused run.
func (c *continuation) Dump() ([]byte, error) {
	if c.used {
		return nil, errz.ErrContinuationUsed
	}
	return c.run.dump()
}

func (c *continuation) resume(kind vm.SuspendKind, fn func(*vm.VM) (*vm.Suspension, error)) (p Progress, err error) {
	if c.used {
		return nil, errz.ErrContinuationUsed
	}
	defer recoverInternal(&err)
	s, err := fn(c.run.vm)
	if err != nil && c.run.vm.Waiting() == kind {
		// The VM refused the input and is still waiting on the same request.
		return nil, err
	}
	c.used = true
	return c.run.progress(s, err)
}

// run is one execution of a program, shared by the progress values it
// produces.
type run struct {
	id      uuid.UUID
	vm      *vm.VM
	logger  zerolog.Logger
	oneShot bool
}

// progress converts a VM suspension into the matching progress value. A
// one-shot run releases its VM once it can go no further.
func (r *run) progress(s *vm.Suspension, err error) (Progress, error) {
	if err != nil {
		r.finish()
		return nil, err
	}
	switch s.Kind {
	case vm.SuspendComplete:
		r.finish()
		return &Complete{Value: s.Value, id: r.id}, nil
	case vm.SuspendFunctionCall:
		return &FunctionCall{
			Name:         s.Name,
			Args:         s.Args,
			Kwargs:       s.Kwargs,
			CallID:       s.CallID,
			MethodCall:   s.MethodCall,
			continuation: continuation{run: r},
		}, nil
	case vm.SuspendOsCall:
		return &OsCall{
			Function:     s.Name,
			Args:         s.Args,
			Kwargs:       s.Kwargs,
			CallID:       s.CallID,
			continuation: continuation{run: r},
		}, nil
	case vm.SuspendFutures:
		ids := make([]uint64, len(s.Calls))
		for i, call := range s.Calls {
			ids[i] = call.CallID
		}
		return &ResolveFutures{CallIDs: ids, Calls: s.Calls, continuation: continuation{run: r}}, nil
	default:
		r.finish()
		return nil, errz.Internalf("unknown suspension kind %d", s.Kind)
	}
}

func (r *run) finish() {
	if r.oneShot {
		r.vm.Close()
	}
}

func recoverInternal(err *error) {
	if r := recover(); r != nil {
		*err = errz.Internalf("panic: %v", r)
	}
}
