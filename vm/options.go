package vm

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/resource"
)

// Option is a configuration function for a VM.
type Option func(*VM)

// SyncFunction is a host function resolved without suspending the run.
// Returning a boundary.Exception raises it in the program; any other error
// raises a RuntimeError.
type SyncFunction func(args []boundary.Value, kwargs boundary.Dict) (boundary.Value, error)

// WithCapabilities sets the capability set consulted before every
// host-mediated operation. The default grants nothing.
func WithCapabilities(caps capability.Set) Option {
	return func(vm *VM) {
		vm.caps = caps
	}
}

// WithTracker sets the resource tracker charged by the heap and the
// namespace store.
func WithTracker(tracker resource.Tracker) Option {
	return func(vm *VM) {
		if tracker != nil {
			vm.tracker = tracker
		}
	}
}

// WithFilename names the source of code blocks that carry no filename of
// their own.
func WithFilename(filename string) Option {
	return func(vm *VM) {
		vm.filename = filename
	}
}

// WithOutput sets the sink written by print.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) {
		if w != nil {
			vm.out = w
		}
	}
}

// WithLogger sets the logger for run lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(vm *VM) {
		vm.logger = logger
	}
}

// WithObserver sets an observer for VM execution events.
// The observer receives callbacks for instruction steps, function calls,
// and function returns.
//
// Observer methods are called synchronously during execution, so
// implementations should be fast to avoid impacting performance.
// Returning false from any observer method halts execution immediately.
func WithObserver(observer Observer) Option {
	return func(vm *VM) {
		vm.observer = observer
	}
}

// WithExternalFunctions declares the names of host functions. Each is bound
// as a global; calling one suspends the run with a function call request.
func WithExternalFunctions(names ...string) Option {
	return func(vm *VM) {
		vm.externals = append(vm.externals, names...)
	}
}

// WithSyncFunction registers a host function that is called directly
// instead of suspending. It still consumes a call id.
func WithSyncFunction(name string, fn SyncFunction) Option {
	return func(vm *VM) {
		vm.syncFuncs[name] = fn
	}
}
