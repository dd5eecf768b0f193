package vm

import (
	"github.com/deepnoodle-ai/burrow/object"
)

// postKind is what happens with the result of a frame when it returns.
type postKind uint8

const (
	postNone         postKind = iota // push the result on the caller's stack
	postDiscard                      // drop the result; nothing is pushed
	postInit                         // drop the result of __init__ and push the instance
	postBinaryLeft                   // result of a.__op__(b); NotImplemented tries b.__rop__(a)
	postBinaryRight                  // result of b.__rop__(a); NotImplemented is a TypeError
	postCompareLeft                  // result of a.__cmp__(b); NotImplemented tries the swap
	postCompareRight                 // result of b.__swapped__(a); NotImplemented falls back
	postNegate                       // push the negated truth of the result
	postTruth                        // push the truth of the result, inverted if asked
	postGenNext                      // generator resumed by next or send
	postGenForIter                   // generator resumed by FOR_ITER
)

// post is the pending action attached to a frame. Operands are owned by the
// post until it runs. When result is set the final value is handed to the
// native caller waiting below the frame instead of the caller's stack.
type post struct {
	kind   postKind
	op     uint16
	a, b   object.Value
	target int
	invert bool
	result bool
}

// frame is one active call. Each frame owns its operand stack and its
// namespace.
type frame struct {
	fn       int // function index, or -1 for module code
	root     int // root code index for module code
	code     *loadedCode
	ns       int
	ip       int
	opIP     int
	stack    []object.Value
	handlers []object.Handler
	post     post
	owner    object.Value // generator or coroutine run by this frame
}

func (f *frame) push(v object.Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() object.Value {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack[n] = object.None
	f.stack = f.stack[:n]
	return v
}

func (f *frame) top() object.Value {
	return f.stack[len(f.stack)-1]
}

// popN removes the top n values, preserving their order.
func (f *frame) popN(n int) []object.Value {
	start := len(f.stack) - n
	out := make([]object.Value, n)
	copy(out, f.stack[start:])
	for i := start; i < len(f.stack); i++ {
		f.stack[i] = object.None
	}
	f.stack = f.stack[:start]
	return out
}

func (f *frame) fetch() int {
	v := f.code.instructions[f.ip]
	f.ip++
	return int(v)
}

// task is one logical thread of the scheduler: a stack of frames that runs
// until its next suspension point.
type task struct {
	id     uint64
	frames []*frame

	// gather and slot identify the gather this task fills, if any.
	gather object.Value
	slot   int

	// waitCall is the external future the task is blocked on; waitGather
	// the gather it awaits.
	waitCall   uint64
	waitGather object.Value

	// delivery is the value or exception handed to the task when it is
	// next scheduled.
	hasDelivery bool
	delivery    object.Value
	deliverExc  bool
}

func (t *task) top() *frame {
	return t.frames[len(t.frames)-1]
}
