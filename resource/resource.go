// Package resource accounts for the memory, allocation count and call depth
// of a single run and enforces optional ceilings on each.
package resource

import "fmt"

// Kind identifies which ceiling a resource error refers to.
type Kind uint8

const (
	Memory Kind = iota + 1
	Allocations
	Recursion
)

// String returns the name of the resource kind.
func (k Kind) String() string {
	switch k {
	case Memory:
		return "memory"
	case Allocations:
		return "allocations"
	case Recursion:
		return "recursion"
	default:
		return "unknown"
	}
}

// Error reports that an operation would exceed a resource ceiling. The VM
// converts these into MemoryError or RecursionError program exceptions; they
// never reach the host directly.
type Error struct {
	Kind      Kind
	Limit     int
	Requested int
}

func (e *Error) Error() string {
	switch e.Kind {
	case Recursion:
		return fmt.Sprintf("maximum recursion depth exceeded (limit %d)", e.Limit)
	case Allocations:
		return fmt.Sprintf("allocation limit exceeded (limit %d)", e.Limit)
	default:
		return fmt.Sprintf("memory limit exceeded: %d bytes requested, limit %d", e.Requested, e.Limit)
	}
}

// Limits holds the ceilings enforced by a tracker. Zero means unlimited.
type Limits struct {
	MaxMemory         int `toml:"max_memory"`
	MaxAllocations    int `toml:"max_allocations"`
	MaxRecursionDepth int `toml:"max_recursion_depth"`
}

// Usage reports current and cumulative consumption.
type Usage struct {
	Memory      int
	PeakMemory  int
	Allocations int
	PeakDepth   int
}

// Tracker gates every heap allocation and every namespace push of a run.
type Tracker interface {
	// OnAllocate charges size bytes, or refuses with an *Error.
	OnAllocate(size int) error

	// OnFree returns size bytes.
	OnFree(size int)

	// CheckRecursion is called before a new call namespace is created, with
	// the number of call namespaces currently active.
	CheckRecursion(depth int) error

	// Usage returns a snapshot of consumption so far.
	Usage() Usage
}

// Grower is implemented by trackers that charge in-place growth of an
// existing object by bytes alone, without counting a new allocation.
type Grower interface {
	OnGrow(size int) error
}

// State is the serializable form of a LimitedTracker.
type State struct {
	Limits Limits
	Usage  Usage
}

// Stateful is implemented by trackers whose counters can be saved into and
// restored from a run snapshot.
type Stateful interface {
	State() State
	Restore(State)
}

// LimitedTracker enforces Limits. It is not safe for concurrent use; a
// tracker belongs to exactly one run.
type LimitedTracker struct {
	limits Limits
	usage  Usage
}

// NewLimited returns a tracker enforcing the given limits.
func NewLimited(limits Limits) *LimitedTracker {
	return &LimitedTracker{limits: limits}
}

// NoLimit returns a tracker that counts usage but never refuses.
func NoLimit() *LimitedTracker {
	return &LimitedTracker{}
}

// Limits returns the configured ceilings.
func (t *LimitedTracker) Limits() Limits {
	return t.limits
}

func (t *LimitedTracker) OnAllocate(size int) error {
	if t.limits.MaxAllocations > 0 && t.usage.Allocations >= t.limits.MaxAllocations {
		return &Error{Kind: Allocations, Limit: t.limits.MaxAllocations, Requested: t.usage.Allocations + 1}
	}
	if t.limits.MaxMemory > 0 && t.usage.Memory+size > t.limits.MaxMemory {
		return &Error{Kind: Memory, Limit: t.limits.MaxMemory, Requested: t.usage.Memory + size}
	}
	t.usage.Allocations++
	t.usage.Memory += size
	if t.usage.Memory > t.usage.PeakMemory {
		t.usage.PeakMemory = t.usage.Memory
	}
	return nil
}

// OnGrow charges size more bytes to an object that is already counted.
func (t *LimitedTracker) OnGrow(size int) error {
	if t.limits.MaxMemory > 0 && t.usage.Memory+size > t.limits.MaxMemory {
		return &Error{Kind: Memory, Limit: t.limits.MaxMemory, Requested: t.usage.Memory + size}
	}
	t.usage.Memory += size
	if t.usage.Memory > t.usage.PeakMemory {
		t.usage.PeakMemory = t.usage.Memory
	}
	return nil
}

func (t *LimitedTracker) OnFree(size int) {
	t.usage.Memory -= size
	if t.usage.Memory < 0 {
		t.usage.Memory = 0
	}
}

func (t *LimitedTracker) CheckRecursion(depth int) error {
	if t.limits.MaxRecursionDepth > 0 && depth >= t.limits.MaxRecursionDepth {
		return &Error{Kind: Recursion, Limit: t.limits.MaxRecursionDepth, Requested: depth + 1}
	}
	if depth+1 > t.usage.PeakDepth {
		t.usage.PeakDepth = depth + 1
	}
	return nil
}

func (t *LimitedTracker) Usage() Usage {
	return t.usage
}

func (t *LimitedTracker) State() State {
	return State{Limits: t.limits, Usage: t.usage}
}

func (t *LimitedTracker) Restore(s State) {
	t.limits = s.Limits
	t.usage = s.Usage
}

var (
	_ Tracker  = (*LimitedTracker)(nil)
	_ Stateful = (*LimitedTracker)(nil)
	_ Grower   = (*LimitedTracker)(nil)
)
