package bytecode

import "fmt"

// SourceLocation is the line and column an instruction word came from. The
// filename and source text live once on the owning Code.
type SourceLocation struct {
	Line   int
	Column int
}

func (s SourceLocation) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// IsZero reports whether the location was never set.
func (s SourceLocation) IsZero() bool {
	return s.Line == 0 && s.Column == 0
}
