package guest

import (
	"fmt"
	"sort"
	"sync"
)

// GuestFunc is the signature every generated guestFn_XXXXXXXX satisfies.
type GuestFunc func(ctx *Context)

var (
	dispatchMu sync.RWMutex
	dispatch   = map[uint32]GuestFunc{}
)

// RegisterFunction wires a guest address to its generated Go function.
// Called from each translated package's init(), before any guest code runs
// (spec.md §5 "read-only post-init indirect-dispatch table").
func RegisterFunction(addr uint32, fn GuestFunc) {
	dispatchMu.Lock()
	defer dispatchMu.Unlock()
	dispatch[addr] = fn
}

// Lookup returns the registered function at addr, or nil.
func Lookup(addr uint32) GuestFunc {
	dispatchMu.RLock()
	defer dispatchMu.RUnlock()
	return dispatch[addr]
}

// Dispatch transfers control to the guest function at addr (a bctr/bcctr
// target resolved at runtime because the analyzer could not statically
// prove every indirect-call site). Panics with a descriptive message on a
// miss rather than silently returning, since an unmapped guest call nearly
// always means a hint is missing.
func Dispatch(ctx *Context, addr uint64) {
	fn := Lookup(uint32(addr))
	if fn == nil {
		panic(fmt.Sprintf("guest: indirect dispatch to unmapped address %#08x", uint32(addr)))
	}
	fn(ctx)
}

// CallIndirect is Dispatch's expression form, used where the generated code
// needs the callee's effect but control must return to the caller (the
// callee's own PushLink/Return machinery handles that).
func CallIndirect(ctx *Context, addr uint64) uint64 {
	Dispatch(ctx, addr)
	return ctx.R[3]
}

// PushLink records the return address a direct "bl" call will resume at,
// mirroring the real LR write without needing a host call stack frame per
// guest call (the generated Go call stack already provides that).
func PushLink(ctx *Context, retAddr uint32) {
	ctx.LR = uint64(retAddr)
	ctx.linkStack = append(ctx.linkStack, retAddr)
}

// Return pops the most recent PushLink entry into LR; the generated
// function's own Go `return` performs the actual control transfer; the
// caller's lowering only needs LR to reflect the real guest return address
// for any mftb/mfspr(LR) that follows. Listing it as a sorted helper (rather
// than a stack index) keeps the contract obvious from the call site.
func Return(ctx *Context) {
	n := len(ctx.linkStack)
	if n == 0 {
		return
	}
	ctx.LR = uint64(ctx.linkStack[n-1])
	ctx.linkStack = ctx.linkStack[:n-1]
}

// ExportedEntries returns every registered guest address in ascending
// order.
func ExportedEntries() []uint32 {
	dispatchMu.RLock()
	defer dispatchMu.RUnlock()
	addrs := make([]uint32, 0, len(dispatch))
	for a := range dispatch {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
