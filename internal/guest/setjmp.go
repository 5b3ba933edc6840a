package guest

import "fmt"

// jmpTarget records the state SetJmp needs to restore on a matching
// LongJmp: the guest's integer register file plus LR and CTR.
type jmpTarget struct {
	regs    [32]uint64
	lr, ctr uint64
}

var jmpBufs = map[uint32]jmpTarget{}

// longJmpSignal is recovered by SetJmp's defer to resume execution at the
// saved point; Buf identifies which jmp_buf LongJmp targeted.
type longJmpSignal struct {
	Buf   uint32
	Value uint64
}

func (s longJmpSignal) Error() string {
	return fmt.Sprintf("guest: longjmp to %#08x", s.Buf)
}

// SetJmp implements the guest's setjmp: the guest jmp_buf's address is used
// purely as a map key (spec.md §4.3 "jmp_buf-address-as-key shim"), not
// dereferenced as host memory. Returns 0. A matching LongJmp reaches the
// caller only as a panic, which the caller turns into SetJmp's second
// return value with RecoverLongJmp. The emitter does not generate calls to
// SetJmp, LongJmp or RecoverLongJmp.
func SetJmp(ctx *Context, bufAddr uint32) uint64 {
	jmpBufs[bufAddr] = jmpTarget{regs: ctx.R, lr: ctx.LR, ctr: ctx.CTR}
	return 0
}

// LongJmp implements the guest's longjmp: restores the registers captured
// by the matching SetJmp and unwinds the host Go call stack with a panic
// carrying a longJmpSignal, for the caller to recover via RecoverLongJmp.
func LongJmp(ctx *Context, bufAddr uint32, value uint64) {
	target, ok := jmpBufs[bufAddr]
	if !ok {
		panic(fmt.Sprintf("guest: longjmp to unregistered jmp_buf %#08x", bufAddr))
	}
	if value == 0 {
		value = 1 // longjmp never returns 0 to the setjmp call site
	}
	ctx.R = target.regs
	ctx.LR = target.lr
	ctx.CTR = target.ctr
	panic(longJmpSignal{Buf: bufAddr, Value: value})
}

// RecoverLongJmp reports whether r, a value the caller obtained from
// recover(), is a LongJmp targeting bufAddr, and if so the value to treat as
// SetJmp's return.
func RecoverLongJmp(bufAddr uint32, r any) (uint64, bool) {
	sig, ok := r.(longJmpSignal)
	if !ok || sig.Buf != bufAddr {
		return 0, false
	}
	return sig.Value, true
}
