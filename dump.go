package burrow

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"

	"github.com/deepnoodle-ai/burrow/boundary"
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/capability"
	"github.com/deepnoodle-ai/burrow/errz"
	"github.com/deepnoodle-ai/burrow/resource"
	"github.com/deepnoodle-ai/burrow/vm"
)

// Dumps start with magic followed by a format version byte and a canonical
// CBOR envelope.
const (
	magic         = "BURROW"
	formatVersion = 1
)

type dumpKind uint8

const (
	dumpRunner dumpKind = iota + 1
	dumpComplete
	dumpFunctionCall
	dumpOsCall
	dumpFutures
)

type runnerState struct {
	Code      []byte             `cbor:"1,keyasint"`
	Filename  string             `cbor:"2,keyasint"`
	Inputs    []string           `cbor:"3,keyasint"`
	Externals []string           `cbor:"4,keyasint"`
	HasCaps   bool               `cbor:"5,keyasint,omitempty"`
	Caps      []capability.Grant `cbor:"6,keyasint"`
}

type envelope struct {
	Kind   dumpKind       `cbor:"1,keyasint"`
	RunID  []byte         `cbor:"2,keyasint,omitempty"`
	Runner *runnerState   `cbor:"3,keyasint,omitempty"`
	State  []byte         `cbor:"4,keyasint,omitempty"`
	Value  *boundary.Wire `cbor:"5,keyasint,omitempty"`
}

var dumpEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("burrow: failed to create CBOR enc mode: %v", err))
	}
	dumpEncMode = em
}

func encode(env *envelope) ([]byte, error) {
	body, err := dumpEncMode.Marshal(env)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+1+len(body))
	out = append(out, magic...)
	out = append(out, formatVersion)
	return append(out, body...), nil
}

func decode(data []byte) (*envelope, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, errz.Corruptf("not a burrow dump")
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, errz.Corruptf("unsupported dump format version %d", v)
	}
	var env envelope
	if err := cbor.Unmarshal(data[len(magic)+1:], &env); err != nil {
		return nil, errz.Corruptf("decode dump: %v", err)
	}
	return &env, nil
}

func parseRunID(raw []byte) (uuid.UUID, error) {
	if len(raw) == 0 {
		return uuid.Nil, nil
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, errz.Corruptf("run id: %v", err)
	}
	return id, nil
}

// Dump serializes the Runner. Options that cannot be serialized, such as
// the logger, are supplied again to LoadRunner.
func (r *Runner) Dump() ([]byte, error) {
	code, err := bytecode.Marshal(r.code)
	if err != nil {
		return nil, err
	}
	rs := &runnerState{
		Code:      code,
		Filename:  r.filename,
		Inputs:    r.inputNames,
		Externals: r.externals,
		HasCaps:   r.opts.hasCaps,
	}
	if r.opts.hasCaps {
		rs.Caps = r.opts.caps.Grants()
	}
	return encode(&envelope{Kind: dumpRunner, Runner: rs})
}

// LoadRunner restores a Runner from Runner.Dump output. A capability set in
// the dump takes precedence over WithCapabilities.
func LoadRunner(data []byte, opts ...Option) (*Runner, error) {
	env, err := decode(data)
	if err != nil {
		return nil, err
	}
	if env.Kind != dumpRunner || env.Runner == nil {
		return nil, errz.Corruptf("dump holds a %s, not a runner", env.Kind)
	}
	rs := env.Runner
	code, err := bytecode.Unmarshal(rs.Code)
	if err != nil {
		return nil, errz.Corruptf("code: %v", err)
	}
	if rs.HasCaps {
		opts = append(opts, WithCapabilities(capability.New(rs.Caps...)))
	}
	r, err := New(code, rs.Filename, rs.Inputs, rs.Externals, opts...)
	if err != nil {
		return nil, errz.Corruptf("%v", err)
	}
	return r, nil
}

// Dump serializes the completed run.
func (c *Complete) Dump() ([]byte, error) {
	w := boundary.ToWire(c.Value)
	return encode(&envelope{Kind: dumpComplete, RunID: c.id.Bytes(), Value: &w})
}

func (r *run) dump() ([]byte, error) {
	kind, ok := kindOf(r.vm.Waiting())
	if !ok {
		return nil, errz.ErrContinuationUsed
	}
	state, err := r.vm.MarshalState()
	if err != nil {
		return nil, err
	}
	return encode(&envelope{Kind: kind, RunID: r.id.Bytes(), State: state})
}

func kindOf(k vm.SuspendKind) (dumpKind, bool) {
	switch k {
	case vm.SuspendFunctionCall:
		return dumpFunctionCall, true
	case vm.SuspendOsCall:
		return dumpOsCall, true
	case vm.SuspendFutures:
		return dumpFutures, true
	default:
		return 0, false
	}
}

// LoadProgress restores a progress value from its Dump output. The restored
// run uses a fresh resource tracker carrying the saved limits and usage.
// Options supply the logger, observer, output and sync functions.
func LoadProgress(data []byte, opts ...Option) (Progress, error) {
	env, err := decode(data)
	if err != nil {
		return nil, err
	}
	id, err := parseRunID(env.RunID)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case dumpComplete:
		if env.Value == nil {
			return nil, errz.Corruptf("completed dump has no value")
		}
		v, err := env.Value.Value()
		if err != nil {
			return nil, errz.Corruptf("value: %v", err)
		}
		return &Complete{Value: v, id: id}, nil
	case dumpFunctionCall, dumpOsCall, dumpFutures:
	default:
		return nil, errz.Corruptf("dump holds a %s, not a progress value", env.Kind)
	}
	o := collectOptions(opts...)
	vmOpts := append(o.vmOpts(nil), vm.WithTracker(resource.NoLimit()))
	machine, err := vm.LoadState(env.State, vmOpts...)
	if err != nil {
		return nil, err
	}
	s, ok := machine.Suspension()
	if want, _ := kindOf(machine.Waiting()); !ok || want != env.Kind {
		machine.Close()
		return nil, errz.Corruptf("dump of a %s holds a run that is not suspended on one", env.Kind)
	}
	r := &run{id: id, vm: machine, logger: o.logger, oneShot: true}
	r.logger.Debug().Str("run_id", id.String()).Stringer("kind", s.Kind).Msg("progress loaded")
	return r.progress(s, nil)
}

func (k dumpKind) String() string {
	switch k {
	case dumpRunner:
		return "runner"
	case dumpComplete:
		return "completed run"
	case dumpFunctionCall:
		return "function call"
	case dumpOsCall:
		return "os call"
	case dumpFutures:
		return "futures request"
	default:
		return fmt.Sprintf("unknown kind %d", uint8(k))
	}
}
