package vm

import (
	"fmt"

	"github.com/deepnoodle-ai/burrow/bytecode"
	"github.com/deepnoodle-ai/burrow/object"
	"github.com/deepnoodle-ai/burrow/op"
)

// loadedCode is a code block prepared for execution in one VM: constants
// converted to values and global names resolved to global slots.
type loadedCode struct {
	code         *bytecode.Code
	instructions []op.Code
	constants    []object.Value
	raw          []any // constants with no immediate form, by index
	names        []string
	globals      []int
	funcs        map[int]int // constant index to function index
	localCount   int
}

func (vm *VM) wrapCode(cc *bytecode.Code) (*loadedCode, error) {
	c := &loadedCode{
		code:         cc,
		instructions: cc.Instructions(),
		constants:    make([]object.Value, cc.ConstantCount()),
		raw:          make([]any, cc.ConstantCount()),
		names:        make([]string, cc.NameCount()),
		globals:      make([]int, cc.GlobalCount()),
		funcs:        map[int]int{},
		localCount:   cc.LocalCount(),
	}
	for i := 0; i < cc.NameCount(); i++ {
		c.names[i] = cc.NameAt(i)
	}
	for i := 0; i < cc.ConstantCount(); i++ {
		constant := cc.ConstantAt(i)
		switch constant := constant.(type) {
		case nil:
			c.constants[i] = object.None
		case bool:
			c.constants[i] = object.Bool(constant)
		case int64:
			c.constants[i] = object.Int(constant)
		case float64:
			c.constants[i] = object.Float(constant)
		case string:
			c.constants[i] = vm.heap.Intern(constant)
		case []byte, []string, *bytecode.Function:
			c.raw[i] = constant
		default:
			return nil, fmt.Errorf("vm: unsupported constant type %T at index %d", constant, i)
		}
	}
	for i := 0; i < cc.GlobalCount(); i++ {
		c.globals[i] = vm.globalSlot(cc.GlobalNameAt(i))
	}
	return c, nil
}

// globalSlot returns the global namespace slot for name, adding one if the
// name is new.
func (vm *VM) globalSlot(name string) int {
	if slot, ok := vm.globalSlots[name]; ok {
		return slot
	}
	slot := vm.ns.GrowGlobal(1)
	vm.globalSlots[name] = slot
	vm.globalNames = append(vm.globalNames, name)
	return slot
}

// loadRoot prepares a top-level code block and every function reachable
// from it. Function indexes are assigned in pre-order over constants, the
// order of bytecode.Code.Functions, and are never reused. A failed load
// leaves the function table as it was.
func (vm *VM) loadRoot(cc *bytecode.Code) (int, error) {
	mark := len(vm.funcs)
	lc, err := vm.loadCode(cc)
	if err != nil {
		vm.funcs = vm.funcs[:mark]
		vm.funcCode = vm.funcCode[:mark]
		return 0, err
	}
	vm.roots = append(vm.roots, cc)
	vm.rootCode = append(vm.rootCode, lc)
	return len(vm.roots) - 1, nil
}

func (vm *VM) loadCode(cc *bytecode.Code) (*loadedCode, error) {
	lc, err := vm.wrapCode(cc)
	if err != nil {
		return nil, err
	}
	for i, raw := range lc.raw {
		fn, ok := raw.(*bytecode.Function)
		if !ok {
			continue
		}
		if fn.Code() == nil {
			return nil, fmt.Errorf("vm: function %q has no code", fn.Name())
		}
		idx := len(vm.funcs)
		vm.funcs = append(vm.funcs, fn)
		vm.funcCode = append(vm.funcCode, nil)
		fc, err := vm.loadCode(fn.Code())
		if err != nil {
			return nil, err
		}
		if fc.localCount < fn.LocalCount() {
			fc.localCount = fn.LocalCount()
		}
		vm.funcCode[idx] = fc
		lc.funcs[i] = idx
	}
	return lc, nil
}

// location returns the source location of the instruction at ip.
func (c *loadedCode) location(ip int) bytecode.SourceLocation {
	return c.code.LocationAt(ip)
}
