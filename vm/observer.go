package vm

import (
	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/op"
)

// StepMode controls when OnStep callbacks are triggered.
type StepMode uint8

const (
	// StepAll calls OnStep for every instruction.
	StepAll StepMode = iota

	// StepNone never calls OnStep.
	StepNone

	// StepSampled calls OnStep every N instructions.
	StepSampled

	// StepOnLine calls OnStep when the source line changes.
	StepOnLine
)

// ObserverConfig specifies what events an observer wants to receive.
// Use NewObserverConfig() to create configs with safe defaults.
type ObserverConfig struct {
	// StepMode controls OnStep callback frequency.
	StepMode StepMode

	// SampleInterval is the number of instructions between OnStep calls
	// when StepMode is StepSampled. Values <= 0 are treated as 1.
	SampleInterval int

	// ObserveCalls enables OnCall callbacks.
	ObserveCalls bool

	// ObserveReturns enables OnReturn callbacks.
	ObserveReturns bool
}

// NewObserverConfig creates a config with safe defaults.
// ObserveCalls and ObserveReturns default to true.
func NewObserverConfig(mode StepMode) ObserverConfig {
	return ObserverConfig{
		StepMode:       mode,
		SampleInterval: 1000,
		ObserveCalls:   true,
		ObserveReturns: true,
	}
}

// NormalizeConfig validates and clamps config values.
func NormalizeConfig(cfg ObserverConfig) ObserverConfig {
	if cfg.StepMode == StepSampled && cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 1
	}
	return cfg
}

// Observer is an interface for observing VM execution events, for
// profiling, debugging or tracing.
//
// Implementations can embed NoOpObserver to provide default no-op
// implementations for methods they don't need.
type Observer interface {
	// Config returns the observer's configuration.
	// Called once when the observer is attached to the VM.
	Config() ObserverConfig

	// OnStep is called based on the StepMode in the observer's config.
	// Returns false to halt execution.
	OnStep(event StepEvent) bool

	// OnCall is called when a function frame is pushed.
	// Returns false to halt execution.
	OnCall(event CallEvent) bool

	// OnReturn is called when a function frame returns.
	// Returns false to halt execution.
	OnReturn(event ReturnEvent) bool
}

// StepEvent contains information about a single instruction step.
type StepEvent struct {
	IP         int
	Opcode     op.Code
	OpcodeName string
	Location   bytecode.SourceLocation
	StackDepth int
	FrameDepth int
	TaskID     uint64
}

// CallEvent contains information about a function call.
type CallEvent struct {
	// FunctionName is empty for anonymous functions.
	FunctionName string
	ArgCount     int
	Location     bytecode.SourceLocation
	FrameDepth   int
	TaskID       uint64
}

// ReturnEvent contains information about a function return.
type ReturnEvent struct {
	FunctionName string
	Location     bytecode.SourceLocation
	FrameDepth   int
	TaskID       uint64
}

// NoOpObserver is an Observer implementation that does nothing.
type NoOpObserver struct{}

func (NoOpObserver) Config() ObserverConfig {
	return NewObserverConfig(StepAll)
}

func (NoOpObserver) OnStep(StepEvent) bool     { return true }
func (NoOpObserver) OnCall(CallEvent) bool     { return true }
func (NoOpObserver) OnReturn(ReturnEvent) bool { return true }

var _ Observer = NoOpObserver{}

// observerState tracks sampling between steps.
type observerState struct {
	cfg      ObserverConfig
	count    int
	lastLine int
}

func (s *observerState) shouldStep(loc bytecode.SourceLocation) bool {
	switch s.cfg.StepMode {
	case StepAll:
		return true
	case StepSampled:
		s.count++
		if s.count >= s.cfg.SampleInterval {
			s.count = 0
			return true
		}
		return false
	case StepOnLine:
		if loc.Line != s.lastLine {
			s.lastLine = loc.Line
			return true
		}
		return false
	default:
		return false
	}
}
