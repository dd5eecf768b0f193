package object

import "fmt"

// ExcType is a builtin exception class.
type ExcType uint8

const (
	BaseException ExcType = iota + 1
	Exception
	ArithmeticError
	ZeroDivisionError
	OverflowError
	LookupError
	KeyError
	IndexError
	ValueError
	TypeError
	NameError
	AttributeError
	RuntimeError
	RecursionError
	NotImplementedError
	MemoryError
	OSError
	PermissionError
	FileNotFoundError
	StopIteration
	StopAsyncIteration
	AssertionError
	TimeoutError
	ImportError
	CancelledError
	UnboundLocalError
	excTypeCount
)

var excInfo = [excTypeCount]struct {
	name   string
	parent ExcType
}{
	BaseException:       {"BaseException", 0},
	Exception:           {"Exception", BaseException},
	ArithmeticError:     {"ArithmeticError", Exception},
	ZeroDivisionError:   {"ZeroDivisionError", ArithmeticError},
	OverflowError:       {"OverflowError", ArithmeticError},
	LookupError:         {"LookupError", Exception},
	KeyError:            {"KeyError", LookupError},
	IndexError:          {"IndexError", LookupError},
	ValueError:          {"ValueError", Exception},
	TypeError:           {"TypeError", Exception},
	NameError:           {"NameError", Exception},
	AttributeError:      {"AttributeError", Exception},
	RuntimeError:        {"RuntimeError", Exception},
	RecursionError:      {"RecursionError", RuntimeError},
	NotImplementedError: {"NotImplementedError", RuntimeError},
	MemoryError:         {"MemoryError", Exception},
	OSError:             {"OSError", Exception},
	PermissionError:     {"PermissionError", OSError},
	FileNotFoundError:   {"FileNotFoundError", OSError},
	StopIteration:       {"StopIteration", Exception},
	StopAsyncIteration:  {"StopAsyncIteration", Exception},
	AssertionError:      {"AssertionError", Exception},
	TimeoutError:        {"TimeoutError", OSError},
	ImportError:         {"ImportError", Exception},
	CancelledError:      {"CancelledError", BaseException},
	UnboundLocalError:   {"UnboundLocalError", NameError},
}

// String returns the class name.
func (t ExcType) String() string {
	if t == 0 || t >= excTypeCount {
		return "Exception"
	}
	return excInfo[t].name
}

// Parent returns the base class, or 0 for BaseException.
func (t ExcType) Parent() ExcType {
	if t == 0 || t >= excTypeCount {
		return 0
	}
	return excInfo[t].parent
}

// IsSubclass reports whether t is parent or derives from it.
func (t ExcType) IsSubclass(parent ExcType) bool {
	for c := t; c != 0; c = c.Parent() {
		if c == parent {
			return true
		}
	}
	return false
}

// ExcTypeByName returns the builtin exception class with the given name.
func ExcTypeByName(name string) (ExcType, bool) {
	for t := BaseException; t < excTypeCount; t++ {
		if excInfo[t].name == name {
			return t, true
		}
	}
	return 0, false
}

// ExcTypes returns every builtin exception class.
func ExcTypes() []ExcType {
	out := make([]ExcType, 0, excTypeCount-1)
	for t := BaseException; t < excTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// Exc is a program exception that has not been placed on the heap yet.
// Native code returns it as an error; the VM materializes it and unwinds.
type Exc struct {
	Type    ExcType
	Message string
}

func (e *Exc) Error() string {
	if e.Message == "" {
		return e.Type.String()
	}
	return e.Type.String() + ": " + e.Message
}

// Errorf returns a program exception of type t.
func Errorf(t ExcType, format string, args ...any) *Exc {
	return &Exc{Type: t, Message: fmt.Sprintf(format, args...)}
}
