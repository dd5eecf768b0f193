package burrow

import (
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/resource"
	"github.com/deepnoodle-ai/burrow/vm"
)

// Session is an interactive run: globals defined by one Feed are visible
// to the next. Each Feed returns its own progress, which must be driven
// to completion before the next Feed.
type Session struct {
	run  *run
	opts *options
}

// NewSession creates a session that may call the named external functions.
func NewSession(externalFunctions []string, opts ...Option) (*Session, error) {
	o := collectOptions(opts...)
	id, err := o.newRunID()
	if err != nil {
		return nil, err
	}
	vmOpts := append(o.vmOpts(nil),
		vm.WithTracker(resource.NewLimited(o.limits)),
		vm.WithCapabilities(o.capabilities(externalFunctions)),
		vm.WithExternalFunctions(externalFunctions...),
	)
	r := &run{id: id, vm: vm.New(vmOpts...), logger: o.logger}
	return &Session{run: r, opts: o}, nil
}

// ID returns the run id of the session.
func (s *Session) ID() uuid.UUID {
	return s.run.id
}

// Feed runs one block of code against the session globals. An uncaught
// exception ends the block but leaves the session usable.
func (s *Session) Feed(code *bytecode.Code) (p Progress, err error) {
	defer recoverInternal(&err)
	susp, err := s.run.vm.Begin(code)
	return s.run.progress(susp, err)
}

// Global returns the value of a session global.
func (s *Session) Global(name string) (boundary.Value, bool, error) {
	return s.run.vm.Global(name)
}

// SetGlobal binds a session global between feeds.
func (s *Session) SetGlobal(name string, v boundary.Value) error {
	return s.run.vm.SetGlobal(name, v)
}

// Capabilities returns the capability set of the session.
func (s *Session) Capabilities() capability.Set {
	return s.run.vm.Capabilities()
}

// Usage reports the resources consumed so far.
func (s *Session) Usage() resource.Usage {
	return s.run.vm.Tracker().Usage()
}

// Fork returns an isolated copy of the session. The copy keeps only the
// grants in restrict that the session itself holds; changes made by either
// session are invisible to the other. A session suspended on the host
// cannot be forked.
func (s *Session) Fork(restrict ...capability.Grant) (*Session, error) {
	if s.run.vm.Waiting() != 0 {
		return nil, fmt.Errorf("burrow: cannot fork a suspended session: %w", vm.ErrBusy)
	}
	state, err := s.run.vm.MarshalState()
	if err != nil {
		return nil, err
	}
	machine, err := vm.LoadState(state, append(s.opts.vmOpts(nil), vm.WithTracker(resource.NoLimit()))...)
	if err != nil {
		return nil, err
	}
	machine.Restrict(restrict...)
	id, err := uuid.NewV4()
	if err != nil {
		machine.Close()
		return nil, err
	}
	s.run.logger.Debug().Str("run_id", s.run.id.String()).Str("fork_id", id.String()).Msg("session forked")
	return &Session{run: &run{id: id, vm: machine, logger: s.run.logger}, opts: s.opts}, nil
}

// Close releases everything the session holds.
func (s *Session) Close() {
	s.run.vm.Close()
}
