package bytecode

// Stats summarizes a code tree, counting nested function bodies too. Hosts
// use it to size up a program before running it.
type Stats struct {
	InstructionCount int
	ConstantCount    int
	GlobalCount      int
	FunctionCount    int

	// AsyncCount and GeneratorCount are subsets of FunctionCount.
	AsyncCount     int
	GeneratorCount int

	// MaxLocals is the largest namespace any single call needs.
	MaxLocals int
}

func (s *Stats) add(c *Code) {
	s.InstructionCount += len(c.instructions)
	s.ConstantCount += len(c.constants)
	if c.localCount > s.MaxLocals {
		s.MaxLocals = c.localCount
	}
}
