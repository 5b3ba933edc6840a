package guest

import "math/bits"

// Rlwinm implements the rotate-left-word-immediate-then-AND-mask
// instruction: rotate v left by sh bits, then keep only the bits within
// [mb, me] (inclusive, wrapping), zeroing the rest.
func Rlwinm(ctx *Context, v uint64, sh, mb, me uint64) uint64 {
	r := bits.RotateLeft32(uint32(v), int(sh))
	mask := maskBits(uint32(mb), uint32(me))
	return uint64(r & mask)
}

// maskBits builds the PowerPC rotate-mask: a run of 1 bits from mb to me
// (inclusive, MSB-0 numbering), wrapping around when mb > me.
func maskBits(mb, me uint32) uint32 {
	if mb > me {
		if mb == me+1 {
			return 0xFFFFFFFF
		}
		return ^maskBits(me+1, mb-1)
	}
	var mask uint32
	for i := mb; i <= me; i++ {
		mask |= 1 << (31 - i)
	}
	return mask
}

// AddOverflowed reports whether a+b overflowed the signed 32-bit range,
// the predicate behind the overflow-form (o) suffix on add/addo.
func AddOverflowed(ctx *Context, a, b, result uint64) bool {
	as, bs, rs := int32(a), int32(b), int32(result)
	return (as > 0 && bs > 0 && rs < 0) || (as < 0 && bs < 0 && rs >= 0)
}

// LoadReserve32 performs lwarx: loads the word at addr and records it as the
// reservation target for a subsequent StoreConditional32.
func LoadReserve32(ctx *Context, addr uint32) uint64 {
	v := ctx.LoadU32(addr)
	ctx.reserveAddr = addr
	ctx.reserveValid = true
	return v
}

// StoreConditional32 performs stwcx.: stores v at addr only if the
// reservation established by LoadReserve32 is still valid for that address,
// updating cr0[eq] to report success. Guest code is cooperatively
// scheduled, so the reservation is only ever invalidated by an intervening
// LoadReserve32/StoreConditional32 pair on a different address, not by true
// concurrent access.
func StoreConditional32(ctx *Context, addr uint32, v uint64) {
	success := ctx.reserveValid && ctx.reserveAddr == addr
	if success {
		ctx.StoreU32(addr, v)
	}
	ctx.reserveValid = false
	var cr0 uint8
	if success {
		cr0 = 0b0010
	}
	if ctx.XER&xerSO != 0 {
		cr0 |= 0b0001
	}
	ctx.CR[0] = cr0
}

// Trap implements tw/twi by logging the trap's TO value as a warning; TO 25
// is ignored without logging. It does not evaluate the trap condition, read
// a debug-print string from guest memory, or stop execution: translated code
// always continues after the call.
func Trap(ctx *Context, to uint32) {
	switch to {
	case 31: // always-trap debug break
		logTrap(ctx, to)
	case 20, 26: // conditional traps used by the runtime's debug-print shim
		logTrap(ctx, to)
	case 25: // benign, used as a scheduling hint
	default:
		logTrap(ctx, to)
	}
}

// SetInterruptsEnabled implements mtmsrd's effect on the cooperative MSR[EE]
// flag: bit 15 (0x8000) of the stored value selects external-interrupt
// enable, the only MSR bit this runtime models.
func SetInterruptsEnabled(ctx *Context, msr uint64) {
	ctx.interruptsEnabled = msr&0x8000 != 0
}

// InterruptsEnabled implements mfmsr's read side.
func InterruptsEnabled(ctx *Context) uint64 {
	if ctx.interruptsEnabled {
		return 0x8000
	}
	return 0
}

// BeginHandlerFrame marks entry into a function the hints named an
// exception handler; the prologue emitted under --enable-exception-handlers
// calls it first. It does nothing, and no deferred recover is installed
// around the function.
func BeginHandlerFrame(ctx *Context) {}

// GetSPR/SetSPR back every special-purpose register this runtime doesn't
// give its own GuestContext field (XER/LR/CTR do; everything else is rare
// enough to live in a lazily-allocated map instead).
func GetSPR(ctx *Context, num uint32) uint64 {
	if ctx.spr == nil {
		return 0
	}
	return ctx.spr[num]
}

func SetSPR(ctx *Context, num uint32, v uint64) {
	if ctx.spr == nil {
		ctx.spr = map[uint32]uint64{}
	}
	ctx.spr[num] = v
}
