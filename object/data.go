package object

import (
	"math/big"
)

// DataKind identifies a heap data variant.
type DataKind uint8

const (
	FreeSlot DataKind = iota
	KindStrData
	KindBytesData
	KindBigIntData
	KindListData
	KindTupleData
	KindNamedTupleData
	KindDictData
	KindSetData
	KindRangeData
	KindIteratorData
	KindClassData
	KindInstanceData
	KindBoundMethodData
	KindBoundNativeData
	KindClosureData
	KindCellData
	KindCoroutineData
	KindGeneratorData
	KindGatherData
	KindFutureData
	KindModuleData
	KindExceptionData
	KindDataclassData
	KindPathData
	KindProxyData
	KindProxyMethodData
	KindWeakRefData
)

// Data is the payload of one heap entry. The set of implementations is
// closed; each variant reports the values it owns so release can walk them.
type Data interface {
	Kind() DataKind
	// EachRef calls fn for every value the data owns.
	EachRef(fn func(Value))
	// Size is the number of bytes charged to the tracker for the entry.
	Size() int
}

// clearable data can drop every value it owns, which is how cycles are
// broken before release.
type clearable interface {
	clear() []Value
}

const (
	baseSize  = 32
	valueSize = 16
)

func eachValue(vs []Value, fn func(Value)) {
	for _, v := range vs {
		fn(v)
	}
}

func takeAll(vs *[]Value) []Value {
	out := *vs
	*vs = nil
	return out
}

// Str is a heap string, created at runtime.
type Str struct {
	S string
}

// Bytes is an immutable byte string.
type Bytes struct {
	B []byte
}

// BigInt is an integer outside the int64 range.
type BigInt struct {
	N *big.Int
}

// List is a mutable sequence.
type List struct {
	Items []Value
}

// Tuple is an immutable sequence.
type Tuple struct {
	Items []Value
}

// NamedTuple is a tuple created by a namedtuple class.
type NamedTuple struct {
	Class Value
	Items []Value
}

// Range is an arithmetic progression.
type Range struct {
	Start int64
	Stop  int64
	Step  int64
}

// Len returns the number of elements in the range.
func (r *Range) Len() int64 {
	if r.Step > 0 && r.Start < r.Stop {
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Step < 0 && r.Start > r.Stop {
		return (r.Start - r.Stop - r.Step - 1) / -r.Step
	}
	return 0
}

// At returns the i-th element of the range.
func (r *Range) At(i int64) int64 {
	return r.Start + i*r.Step
}

// IterMode selects what an Iterator walks over.
type IterMode uint8

const (
	IterSeq IterMode = iota + 1
	IterReversed
	IterChars
	IterDictKeys
	IterDictValues
	IterDictItems
	IterSet
	IterRange
	IterEnumerate
	IterZip
)

// Iterator is a native iterator. Source is the iterated object; for zip
// Sources holds one iterator per argument. Pos is an index, a byte offset
// for IterChars, or the running count for IterEnumerate.
type Iterator struct {
	Mode    IterMode
	Source  Value
	Sources []Value
	Pos     int64
	Done    bool
}

// ClassKind distinguishes classes created by namedtuple and dataclass_of
// from ordinary classes.
type ClassKind uint8

const (
	PlainClass ClassKind = iota
	NamedTupleClass
	DataclassClass
)

// Class is a user-defined class.
type Class struct {
	Name   string
	Bases  []Value
	Attrs  Attrs
	Flavor ClassKind
	Fields []string
	Frozen bool
}

// Instance is an instance of a user-defined class.
type Instance struct {
	Class Value
	Attrs Attrs
}

// BoundMethod is a user function bound to a receiver.
type BoundMethod struct {
	Self Value
	Func Value
}

// BoundNative is a native method of a builtin kind bound to a receiver,
// such as list.append.
type BoundNative struct {
	Self Value
	Name string
}

// Closure is a user function value: a function index plus the cells it
// captured and its default values.
type Closure struct {
	Func     int
	Cells    []Value
	Defaults []Value
}

// Cell holds a captured variable.
type Cell struct {
	Value Value
}

// CoroState is the lifecycle of a coroutine.
type CoroState uint8

const (
	CoroNew CoroState = iota
	CoroRunning
	CoroCompleted
)

// Coroutine is a pending call of an async function. Locals holds the bound
// namespace until the coroutine is first awaited.
type Coroutine struct {
	Func   int
	Locals []Value
	State  CoroState
}

// GenState is the lifecycle of a generator.
type GenState uint8

const (
	GenCreated GenState = iota
	GenSuspended
	GenRunning
	GenDone
)

// Handler is an active exception handler of a frame: where to jump and
// the operand stack depth to unwind to.
type Handler struct {
	Target int
	Depth  int
}

// Generator is a resumable generator call with its saved frame state.
type Generator struct {
	Func     int
	Locals   []Value
	State    GenState
	IP       int
	Stack    []Value
	Handlers []Handler
}

// GatherSlot is one positional item of a gather.
type GatherSlot struct {
	Task   uint64
	Call   uint64
	Filled bool
	Result Value
}

// Gather collects awaitables; nothing is spawned until it is awaited.
type Gather struct {
	Items   []Value
	Awaited bool
	Slots   []GatherSlot
	Waiter  uint64
	Pending int
	Done    bool
}

// ExternalFuture is the result of an external call the host chose to
// resolve later.
type ExternalFuture struct {
	CallID uint64
}

// Module is a namespace of attributes, such as os.
type Module struct {
	Name  string
	Attrs Attrs
}

// TraceEntry is one frame recorded when an exception is raised.
type TraceEntry struct {
	Function string
	Filename string
	Line     int
	Column   int
}

// ExceptionValue is an exception instance.
type ExceptionValue struct {
	Type  ExcType
	Args  []Value
	Trace []TraceEntry
}

// Dataclass is an instance of a class created by dataclass_of.
type Dataclass struct {
	Class Value
	Attrs Attrs
}

// Path is a filesystem path value. It never touches the filesystem itself.
type Path struct {
	P string
}

// Proxy is an opaque handle to a host object.
type Proxy struct {
	ID       int64
	TypeName string
}

// ProxyMethod is a method of a proxy, bound and ready to call.
type ProxyMethod struct {
	Proxy Value
	Name  string
}

// WeakRef observes Target without owning it. Gen detects slot reuse.
type WeakRef struct {
	Target   HeapID
	Gen      uint32
	Callback Value
	Cleared  bool
}

func (*Str) Kind() DataKind            { return KindStrData }
func (*Bytes) Kind() DataKind          { return KindBytesData }
func (*BigInt) Kind() DataKind         { return KindBigIntData }
func (*List) Kind() DataKind           { return KindListData }
func (*Tuple) Kind() DataKind          { return KindTupleData }
func (*NamedTuple) Kind() DataKind     { return KindNamedTupleData }
func (*Dict) Kind() DataKind           { return KindDictData }
func (*Set) Kind() DataKind            { return KindSetData }
func (*Range) Kind() DataKind          { return KindRangeData }
func (*Iterator) Kind() DataKind       { return KindIteratorData }
func (*Class) Kind() DataKind          { return KindClassData }
func (*Instance) Kind() DataKind       { return KindInstanceData }
func (*BoundMethod) Kind() DataKind    { return KindBoundMethodData }
func (*BoundNative) Kind() DataKind    { return KindBoundNativeData }
func (*Closure) Kind() DataKind        { return KindClosureData }
func (*Cell) Kind() DataKind           { return KindCellData }
func (*Coroutine) Kind() DataKind      { return KindCoroutineData }
func (*Generator) Kind() DataKind      { return KindGeneratorData }
func (*Gather) Kind() DataKind         { return KindGatherData }
func (*ExternalFuture) Kind() DataKind { return KindFutureData }
func (*Module) Kind() DataKind         { return KindModuleData }
func (*ExceptionValue) Kind() DataKind { return KindExceptionData }
func (*Dataclass) Kind() DataKind      { return KindDataclassData }
func (*Path) Kind() DataKind           { return KindPathData }
func (*Proxy) Kind() DataKind          { return KindProxyData }
func (*ProxyMethod) Kind() DataKind    { return KindProxyMethodData }
func (*WeakRef) Kind() DataKind        { return KindWeakRefData }

func (*Str) EachRef(func(Value))        {}
func (*Bytes) EachRef(func(Value))      {}
func (*BigInt) EachRef(func(Value))     {}
func (d *List) EachRef(fn func(Value))  { eachValue(d.Items, fn) }
func (d *Tuple) EachRef(fn func(Value)) { eachValue(d.Items, fn) }
func (d *NamedTuple) EachRef(fn func(Value)) {
	fn(d.Class)
	eachValue(d.Items, fn)
}
func (*Range) EachRef(func(Value)) {}
func (d *Iterator) EachRef(fn func(Value)) {
	fn(d.Source)
	eachValue(d.Sources, fn)
}
func (d *Class) EachRef(fn func(Value)) {
	eachValue(d.Bases, fn)
	d.Attrs.each(fn)
}
func (d *Instance) EachRef(fn func(Value)) {
	fn(d.Class)
	d.Attrs.each(fn)
}
func (d *BoundMethod) EachRef(fn func(Value)) {
	fn(d.Self)
	fn(d.Func)
}
func (d *BoundNative) EachRef(fn func(Value)) { fn(d.Self) }
func (d *Closure) EachRef(fn func(Value)) {
	eachValue(d.Cells, fn)
	eachValue(d.Defaults, fn)
}
func (d *Cell) EachRef(fn func(Value))      { fn(d.Value) }
func (d *Coroutine) EachRef(fn func(Value)) { eachValue(d.Locals, fn) }
func (d *Generator) EachRef(fn func(Value)) {
	eachValue(d.Locals, fn)
	eachValue(d.Stack, fn)
}
func (d *Gather) EachRef(fn func(Value)) {
	eachValue(d.Items, fn)
	for _, s := range d.Slots {
		fn(s.Result)
	}
}
func (*ExternalFuture) EachRef(func(Value))      {}
func (d *Module) EachRef(fn func(Value))         { d.Attrs.each(fn) }
func (d *ExceptionValue) EachRef(fn func(Value)) { eachValue(d.Args, fn) }
func (d *Dataclass) EachRef(fn func(Value)) {
	fn(d.Class)
	d.Attrs.each(fn)
}
func (*Path) EachRef(func(Value))             {}
func (*Proxy) EachRef(func(Value))            {}
func (d *ProxyMethod) EachRef(fn func(Value)) { fn(d.Proxy) }
func (d *WeakRef) EachRef(fn func(Value))     { fn(d.Callback) }

func (d *Str) Size() int        { return baseSize + len(d.S) }
func (d *Bytes) Size() int      { return baseSize + len(d.B) }
func (d *BigInt) Size() int     { return baseSize + len(d.N.Bits())*8 }
func (d *List) Size() int       { return baseSize + cap(d.Items)*valueSize }
func (d *Tuple) Size() int      { return baseSize + len(d.Items)*valueSize }
func (d *NamedTuple) Size() int { return baseSize + (len(d.Items)+1)*valueSize }
func (d *Dict) Size() int       { return baseSize + len(d.Entries)*(2*valueSize+16) }
func (d *Set) Size() int        { return baseSize + len(d.Items)*(valueSize+16) }
func (*Range) Size() int        { return baseSize + 24 }
func (d *Iterator) Size() int   { return baseSize + (len(d.Sources)+1)*valueSize }
func (d *Class) Size() int      { return baseSize + len(d.Name) + d.Attrs.size() }
func (d *Instance) Size() int   { return baseSize + d.Attrs.size() }
func (*BoundMethod) Size() int  { return baseSize + 2*valueSize }
func (d *BoundNative) Size() int {
	return baseSize + valueSize + len(d.Name)
}
func (d *Closure) Size() int {
	return baseSize + (len(d.Cells)+len(d.Defaults))*valueSize
}
func (*Cell) Size() int             { return baseSize + valueSize }
func (d *Coroutine) Size() int      { return baseSize + len(d.Locals)*valueSize }
func (d *Generator) Size() int      { return baseSize + (len(d.Locals)+len(d.Stack))*valueSize }
func (d *Gather) Size() int         { return baseSize + len(d.Items)*(valueSize*3) }
func (*ExternalFuture) Size() int   { return baseSize }
func (d *Module) Size() int         { return baseSize + d.Attrs.size() }
func (d *ExceptionValue) Size() int { return baseSize + len(d.Args)*valueSize + len(d.Trace)*32 }
func (d *Dataclass) Size() int      { return baseSize + d.Attrs.size() }
func (d *Path) Size() int           { return baseSize + len(d.P) }
func (d *Proxy) Size() int          { return baseSize + len(d.TypeName) }
func (d *ProxyMethod) Size() int    { return baseSize + valueSize + len(d.Name) }
func (*WeakRef) Size() int          { return baseSize + valueSize }

func (d *List) clear() []Value  { return takeAll(&d.Items) }
func (d *Tuple) clear() []Value { return takeAll(&d.Items) }
func (d *Cell) clear() []Value {
	v := d.Value
	d.Value = None
	return []Value{v}
}
func (d *Instance) clear() []Value  { return d.Attrs.takeAll() }
func (d *Dataclass) clear() []Value { return d.Attrs.takeAll() }
func (d *Class) clear() []Value     { return d.Attrs.takeAll() }
func (d *Module) clear() []Value    { return d.Attrs.takeAll() }
func (d *Closure) clear() []Value {
	out := append(takeAll(&d.Cells), takeAll(&d.Defaults)...)
	return out
}
func (d *Dict) clear() []Value {
	out := make([]Value, 0, 2*len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, e.K, e.Value)
	}
	d.Entries = nil
	d.index = nil
	return out
}
func (d *Set) clear() []Value {
	out := make([]Value, 0, len(d.Items))
	for _, item := range d.Items {
		out = append(out, item.Value)
	}
	d.Items = nil
	d.index = nil
	return out
}

// newData returns an empty instance of the given kind, for decoding.
func newData(kind DataKind) Data {
	switch kind {
	case KindStrData:
		return &Str{}
	case KindBytesData:
		return &Bytes{}
	case KindBigIntData:
		return &BigInt{}
	case KindListData:
		return &List{}
	case KindTupleData:
		return &Tuple{}
	case KindNamedTupleData:
		return &NamedTuple{}
	case KindDictData:
		return &Dict{}
	case KindSetData:
		return &Set{}
	case KindRangeData:
		return &Range{}
	case KindIteratorData:
		return &Iterator{}
	case KindClassData:
		return &Class{}
	case KindInstanceData:
		return &Instance{}
	case KindBoundMethodData:
		return &BoundMethod{}
	case KindBoundNativeData:
		return &BoundNative{}
	case KindClosureData:
		return &Closure{}
	case KindCellData:
		return &Cell{}
	case KindCoroutineData:
		return &Coroutine{}
	case KindGeneratorData:
		return &Generator{}
	case KindGatherData:
		return &Gather{}
	case KindFutureData:
		return &ExternalFuture{}
	case KindModuleData:
		return &Module{}
	case KindExceptionData:
		return &ExceptionValue{}
	case KindDataclassData:
		return &Dataclass{}
	case KindPathData:
		return &Path{}
	case KindProxyData:
		return &Proxy{}
	case KindProxyMethodData:
		return &ProxyMethod{}
	case KindWeakRefData:
		return &WeakRef{}
	default:
		return nil
	}
}
