package burrow

import (
	"io"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"

	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/resource"
	"github.com/deepnoodle-ai/burrow/vm"
)

// Option configures a Runner or a Session.
type Option func(*options)

type options struct {
	caps      capability.Set
	hasCaps   bool
	logger    zerolog.Logger
	observer  vm.Observer
	output    io.Writer
	runID     uuid.UUID
	limits    resource.Limits
	syncFuncs map[string]vm.SyncFunction
}

func collectOptions(opts ...Option) *options {
	o := &options{
		logger:    zerolog.Nop(),
		syncFuncs: map[string]vm.SyncFunction{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// capabilities returns the configured set, or one granting exactly the
// declared external functions.
func (o *options) capabilities(externals []string) capability.Set {
	if o.hasCaps {
		return o.caps
	}
	grants := make([]capability.Grant, 0, len(externals))
	for _, name := range externals {
		grants = append(grants, capability.CallFunction(name))
	}
	return capability.New(grants...)
}

// vmOpts returns the VM options that a snapshot does not carry.
func (o *options) vmOpts(output io.Writer) []vm.Option {
	if output == nil {
		output = o.output
	}
	opts := []vm.Option{vm.WithLogger(o.logger), vm.WithOutput(output)}
	if o.observer != nil {
		opts = append(opts, vm.WithObserver(o.observer))
	}
	for name, fn := range o.syncFuncs {
		opts = append(opts, vm.WithSyncFunction(name, fn))
	}
	return opts
}

// WithCapabilities sets the capability set of the run. Without it a run may
// call exactly its declared external functions and nothing else.
func WithCapabilities(caps capability.Set) Option {
	return func(o *options) {
		o.caps = caps
		o.hasCaps = true
	}
}

// WithLogger sets the logger for run lifecycle events. The default discards
// everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver sets an observer for VM execution events.
func WithObserver(observer vm.Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithOutput sets the default sink written by print.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithRunID fixes the identity stamped into every dump of the run instead
// of generating a random one.
func WithRunID(id uuid.UUID) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithLimits sets the resource ceilings of a Session.
func WithLimits(limits resource.Limits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithSyncFunction registers a host function answered without suspending.
func WithSyncFunction(name string, fn vm.SyncFunction) Option {
	return func(o *options) {
		o.syncFuncs[name] = fn
	}
}

func (o *options) newRunID() (uuid.UUID, error) {
	if o.runID != uuid.Nil {
		return o.runID, nil
	}
	return uuid.NewV4()
}
