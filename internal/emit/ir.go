// Package emit builds a typed intermediate representation for one guest
// function's semantics and prints it as Go source implementing that function
// against the runtime contract in internal/guest. Printing text instead of
// compiling to native machine code is this translator's "JIT backend": the
// fragments below construct the tree whose Print output IS the compiled
// artifact.
package emit

import "fmt"

// Fragment is any IR node the printer knows how to render. It intentionally
// carries no methods: the printer type-switches on the concrete fragment,
// the same closed-set pattern the construction helpers below enforce.
type Fragment interface{}

func asFragment(v any) Fragment {
	if f, ok := v.(Fragment); ok {
		return f
	}
	panic(fmt.Sprintf("emit: cannot use %T as a fragment", v))
}

// Var names a local Go variable inside the generated function body.
type Var string

// Reg names a GuestContext register field, e.g. "R3", "F1", "V0", "CR0".
type Reg string

// Lit is a literal integer constant, printed as a typed Go conversion of the
// requested width.
type Lit struct {
	Value int64
	Width int // 8, 16, 32, or 64
}

func U(v uint64, width int) Fragment { return Lit{Value: int64(v), Width: width} }
func I(v int64, width int) Fragment  { return Lit{Value: v, Width: width} }

// Cast renders a typed Go width conversion around Value, e.g. uint32(value).
// Used where guest arithmetic is done at one width (PPC64 effective-address
// computation is always 64-bit) but the consuming call or operator expects
// another (a uint32 guest address parameter).
type Cast struct {
	Value Fragment
	Width int
}

func CastTo(width int, value any) Fragment {
	return Cast{Value: asFragment(value), Width: width}
}

// RegRef reads a GuestContext register.
type RegRef struct{ Name Reg }

func R(name string) RegRef { return RegRef{Name: Reg(name)} }

// VarRef reads a previously assigned local variable.
type VarRef struct{ Name Var }

func V(name Var) VarRef { return VarRef{Name: name} }

// Assign stores Src into Dst. Dst must be a Var, RegRef, or MemRef.
type Assign struct {
	Dst Fragment
	Src Fragment
}

func Assignment(dst, src any) Fragment {
	return Assign{Dst: asFragment(dst), Src: asFragment(src)}
}

// Decl introduces a new local variable initialized from Src.
type Decl struct {
	Name Var
	Src  Fragment
}

func Declare(name Var, src any) Fragment {
	return Decl{Name: name, Src: asFragment(src)}
}

// Width is the memory access size in bytes for a MemRef.
type Width int

const (
	Width8 Width = 1
	Width16 Width = 2
	Width32 Width = 4
	Width64 Width = 8
)

// MemRef is a big-endian guest-memory access at Addr, through the
// GuestContext's LoadU*/StoreU* family (internal/guest handles MMIO
// dispatch and byte-swapping, so the IR never encodes endianness itself).
type MemRef struct {
	Addr   Fragment
	Size   Width
	Signed bool
}

func Mem(addr any, size Width) MemRef {
	return MemRef{Addr: asFragment(addr), Size: size}
}

func MemSigned(addr any, size Width) MemRef {
	return MemRef{Addr: asFragment(addr), Size: size, Signed: true}
}

// BinOpKind enumerates the arithmetic/logical operators the printer renders
// with native Go operators rather than function calls.
type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpAndNot
)

type BinOp struct {
	Kind  BinOpKind
	Left  Fragment
	Right Fragment
}

func Bin(kind BinOpKind, left, right any) Fragment {
	return BinOp{Kind: kind, Left: asFragment(left), Right: asFragment(right)}
}

// CallKind distinguishes calls into the guest runtime support library from
// guest-to-guest indirect calls through the function table.
type CallKind int

const (
	CallRuntime CallKind = iota
	CallIndirect
	// CallDirect invokes a known guest function by address directly (a real
	// "bl"/"bcl"-style subroutine call, as opposed to TailDispatch's "this
	// function is done, control transfers away permanently"). Execution
	// resumes at the fragment after this one once the callee's own Return
	// pops its PushLink entry and its generated Go function returns.
	CallDirect
)

// Call invokes a function. For CallRuntime, Func names the guest-runtime
// function called with Args. For CallIndirect, Target evaluates to a guest
// address that is only known at run time, so the printer renders a
// dispatch-table lookup. For CallDirect, TargetAddr names the generated
// function to call.
type Call struct {
	Kind       CallKind
	Func       string
	Target     Fragment // only used when Kind == CallIndirect
	TargetAddr uint32   // only used when Kind == CallDirect
	Args       []Fragment
	Assign     Fragment // if non-nil (a Var or RegRef), the call's result is stored here
}

// CallDirectFunc calls the generated function at targetAddr and falls
// through to the next fragment, unlike TailDispatch which ends the current
// function's translation.
func CallDirectFunc(targetAddr uint32) Fragment {
	return Call{Kind: CallDirect, TargetAddr: targetAddr}
}

// isNoAssign reports whether assignTo means "discard the result": a Go nil,
// a bare "" string, or an empty Var, all of which calling code uses
// interchangeably to mean "this call has no destination."
func isNoAssign(assignTo any) bool {
	switch v := assignTo.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case Var:
		return v == ""
	default:
		return false
	}
}

// CallRuntimeFunc builds a call to a guest-runtime support function.
// assignTo may be "" (discard the result), a Var, or a RegRef (e.g. R("R3"))
// to store the result directly into a register.
func CallRuntimeFunc(name string, assignTo any, args ...any) Fragment {
	c := Call{Kind: CallRuntime, Func: name, Args: asFragments(args)}
	if !isNoAssign(assignTo) {
		c.Assign = asFragment(assignTo)
	}
	return c
}

func CallIndirectTarget(target any, assignTo any) Fragment {
	c := Call{Kind: CallIndirect, Target: asFragment(target)}
	if !isNoAssign(assignTo) {
		c.Assign = asFragment(assignTo)
	}
	return c
}

func asFragments(args []any) []Fragment {
	out := make([]Fragment, len(args))
	for i, a := range args {
		out[i] = asFragment(a)
	}
	return out
}

// CompareKind enumerates comparison operators used in Condition/If.
type CompareKind int

const (
	CmpEqual CompareKind = iota
	CmpNotEqual
	CmpLess
	CmpLessOrEqual
	CmpGreater
	CmpGreaterOrEqual
)

type Condition struct {
	Kind  CompareKind
	Left  Fragment
	Right Fragment
}

func Compare(kind CompareKind, left, right any) Condition {
	return Condition{Kind: kind, Left: asFragment(left), Right: asFragment(right)}
}

// If renders a Go if/else. Otherwise may be nil.
type If struct {
	Cond      Condition
	Then      Block
	Otherwise Block
}

// Block is a straight-line sequence of fragments.
type Block []Fragment

// Goto jumps to Target, the guest address of a basic block inside the same
// function (rendered as a Go label the printer synthesizes per block).
type Goto struct {
	TargetAddr uint32
}

// TailDispatch hands control to another guest function entirely, rendered
// as `guestFn_XXXXXXXX(ctx)` (direct) or a dispatch-table call (indirect,
// e.g. bctr to a non-local target), followed by `return`.
type TailDispatch struct {
	TargetAddr uint32 // direct; zero means indirect
	Indirect   Fragment
}

// Return exits the current Go function, optionally with a value.
type Return struct {
	Value Fragment
}

// CRUpdate assigns ctx.CR0 (or another field group) from a signed
// comparison against zero, matching record-form (.) instruction semantics.
type CRUpdate struct {
	Field string // "CR0".."CR7"
	Value Fragment
}

// XEROverflow sets ctx.XER overflow and summary-overflow bits from a
// computed boolean condition, matching overflow-form (o) semantics; carry is
// left to XERCarry.
type XEROverflow struct {
	Overflow Fragment // bool-valued fragment
}

// XERCarry sets ctx.XER carry from a computed boolean condition (add/subtract
// with carry-out).
type XERCarry struct {
	Carry Fragment
}

// Comment is an emitted // comment, used sparingly to annotate the
// exception-handler prologue, memory barriers, and unhandled opcodes.
type Comment string

// Label marks a basic-block entry point inside a function body so Goto and
// fallthrough can target it.
type Label struct {
	Addr uint32
}

// Method is one guest function's full body: a flat instruction stream with
// interspersed Labels, compiled from the analyzer's basic blocks in address
// order (spec.md §4.2's "straight-line translation with explicit labels for
// incoming edges").
type Method struct {
	Name string
	Body Block
}

// Program is every translated function plus the generated dispatch-table
// entries wiring guest addresses to Go functions (spec.md §6).
type Program struct {
	Methods      []Method
	FuncMappings map[uint32]string
}
