package emit

import (
	"fmt"

	"github.com/tinyrange/ppcrecomp/internal/ppc"
)

// LowerOptions steers behavior that is policy rather than semantics:
// whether exception-handler prologues are generated for functions the
// hints marked as such.
type LowerOptions struct {
	EnableExceptionHandlers bool
}

// LowerFunction translates one analyzed guest function into a Method whose
// printed Go source reproduces its semantics against the GuestContext
// runtime contract (spec.md §4.2).
func LowerFunction(fn *ppc.Function, opts LowerOptions) Method {
	name := fmt.Sprintf("guestFn_%08X", fn.EntryAddr)
	if fn.Name != "" {
		name = sanitizeName(fn.Name, fn.EntryAddr)
	}

	local := make(map[uint32]bool, len(fn.Blocks))
	for _, blk := range fn.Blocks {
		local[blk.StartAddr] = true
	}
	lc := &lowerCtx{localLabels: local}

	var body Block
	if opts.EnableExceptionHandlers && fn.IsExceptionHandler {
		body = append(body, Comment("exception handler: guest.BeginHandlerFrame marks entry"))
		body = append(body, CallRuntimeFunc("BeginHandlerFrame", ""))
	}

	for _, blk := range fn.Blocks {
		body = append(body, Label{Addr: blk.StartAddr})
		for _, ins := range blk.Instrs {
			body = append(body, lc.lowerInstruction(ins)...)
		}
	}

	return Method{Name: name, Body: body}
}

// lowerCtx carries per-function state lowerInstruction needs: which guest
// addresses are local block labels (so a branch to one becomes a Go `goto`
// instead of a cross-function tail call).
type lowerCtx struct {
	localLabels map[uint32]bool
}

// branchTo renders a control transfer to target: a local Goto if target is
// one of this function's own block starts, otherwise a tail call into the
// (separately generated) function covering target.
func (lc *lowerCtx) branchTo(target uint32) Fragment {
	if lc.localLabels[target] {
		return Goto{TargetAddr: target}
	}
	return TailDispatch{TargetAddr: target}
}

func sanitizeName(name string, addr uint32) string {
	if name == "" {
		return fmt.Sprintf("guestFn_%08X", addr)
	}
	return "guestFn_" + name
}

func gpr(n uint32) Reg  { return Reg(fmt.Sprintf("R%d", n)) }
func fpr(n uint32) Reg  { return Reg(fmt.Sprintf("F%d", n)) }
func vr(n uint32) Reg   { return Reg(fmt.Sprintf("V%d", n)) }

// lowerInstruction expands one decoded instruction into zero or more
// fragments. Record-form and overflow-form variants append CRUpdate /
// XEROverflow / XERCarry fragments after the base operation, matching
// spec.md §4.2's "suffix semantics are layered, not special-cased per
// opcode" design note.
func (lc *lowerCtx) lowerInstruction(ins ppc.Instruction) Block {
	switch ins.Op {
	case ppc.OpAddi:
		return Block{Assignment(R(string(gpr(ins.RT))), addImm(ins))}
	case ppc.OpAddis:
		return Block{Assignment(R(string(gpr(ins.RT))), Bin(OpAdd, raOrZero(ins.RA), I(int64(ins.SIMM)<<16, 64)))}
	case ppc.OpMulli:
		return Block{Assignment(R(string(gpr(ins.RT))), Bin(OpMul, R(string(gpr(ins.RA))), I(int64(ins.SIMM), 64)))}

	case ppc.OpAdd:
		return arith(ins, OpAdd)
	case ppc.OpAddc:
		b := arith(ins, OpAdd)
		b = append(b, XERCarry{Carry: Compare(CmpLess, R(string(gpr(ins.RT))), R(string(gpr(ins.RA))))})
		return b
	case ppc.OpAdde:
		b := Block{Assignment(R(string(gpr(ins.RT))), Bin(OpAdd, Bin(OpAdd, R(string(gpr(ins.RA))), R(string(gpr(ins.RB)))), R("XER_CA")))}
		b = append(b, recordFormSuffix(ins, R(string(gpr(ins.RT))))...)
		return b
	case ppc.OpSubf:
		b := Block{Assignment(R(string(gpr(ins.RT))), Bin(OpSub, R(string(gpr(ins.RB))), R(string(gpr(ins.RA)))))}
		b = append(b, recordFormSuffix(ins, R(string(gpr(ins.RT))))...)
		if ins.OverflowForm() {
			// Signed 32-bit overflow of RB-RA: the operands differ in sign and
			// the result's sign differs from RB's.
			rb, ra, rt := R(string(gpr(ins.RB))), R(string(gpr(ins.RA))), R(string(gpr(ins.RT)))
			sign := Bin(OpAnd, Bin(OpAnd, Bin(OpXor, rb, ra), Bin(OpXor, rb, rt)), U(0x80000000, 64))
			b = append(b, XEROverflow{Overflow: Compare(CmpNotEqual, sign, U(0, 64))})
		}
		return b

	case ppc.OpAndi:
		b := Block{Assignment(R(string(gpr(ins.RA))), Bin(OpAnd, R(string(gpr(ins.RT))), U(uint64(ins.UIMM), 64)))}
		return append(b, CRUpdate{Field: "CR0", Value: R(string(gpr(ins.RA)))})
	case ppc.OpOri:
		return Block{Assignment(R(string(gpr(ins.RA))), Bin(OpOr, R(string(gpr(ins.RT))), U(uint64(ins.UIMM), 64)))}
	case ppc.OpXori:
		return Block{Assignment(R(string(gpr(ins.RA))), Bin(OpXor, R(string(gpr(ins.RT))), U(uint64(ins.UIMM), 64)))}
	case ppc.OpAnd:
		return logical(ins, OpAnd)
	case ppc.OpOr:
		return logical(ins, OpOr)
	case ppc.OpXor:
		return logical(ins, OpXor)

	case ppc.OpRlwinm:
		return Block{CallRuntimeFunc("Rlwinm", R(string(gpr(ins.RA))), R(string(gpr(ins.RT))), U(uint64(ins.SH), 64), U(uint64(ins.MB), 64), U(uint64(ins.ME), 64))}

	// cmp/cmpi/cmpli derive cr[lt,gt,eq] from the sign of a subtraction
	// rather than a direct comparison, matching SetCR's int64/uint64 sign
	// branch; this is an approximation for cmpli near the uint64 wraparound
	// boundary (see design notes).
	case ppc.OpCmpi:
		return Block{CRUpdate{Field: crField(ins.CRFD), Value: Bin(OpSub, R(string(gpr(ins.RA))), I(int64(ins.SIMM), 64))}}
	case ppc.OpCmpli:
		return Block{CRUpdate{Field: crField(ins.CRFD), Value: Bin(OpSub, R(string(gpr(ins.RA))), U(uint64(ins.UIMM), 64))}}
	case ppc.OpCmp:
		return Block{CRUpdate{Field: crField(ins.CRFD), Value: Bin(OpSub, R(string(gpr(ins.RA))), R(string(gpr(ins.RB))))}}

	case ppc.OpLbz:
		return Block{Assignment(R(string(gpr(ins.RT))), Mem(effAddr(ins), Width8))}
	case ppc.OpLhz:
		return Block{Assignment(R(string(gpr(ins.RT))), Mem(effAddr(ins), Width16))}
	case ppc.OpLwz:
		return Block{Assignment(R(string(gpr(ins.RT))), Mem(effAddr(ins), Width32))}
	case ppc.OpLd:
		return Block{Assignment(R(string(gpr(ins.RT))), Mem(effAddr(ins), Width64))}
	case ppc.OpStb:
		return Block{Assignment(Mem(effAddr(ins), Width8), R(string(gpr(ins.RT))))}
	case ppc.OpSth:
		return Block{Assignment(Mem(effAddr(ins), Width16), R(string(gpr(ins.RT))))}
	case ppc.OpStw:
		return Block{Assignment(Mem(effAddr(ins), Width32), R(string(gpr(ins.RT))))}
	case ppc.OpStd:
		return Block{Assignment(Mem(effAddr(ins), Width64), R(string(gpr(ins.RT))))}

	case ppc.OpLwarx:
		return Block{CallRuntimeFunc("LoadReserve32", R(string(gpr(ins.RT))), effAddr(ins))}
	case ppc.OpStwcx:
		return Block{CallRuntimeFunc("StoreConditional32", "", effAddr(ins), R(string(gpr(ins.RT))))}

	case ppc.OpB:
		if ins.LK {
			// A real subroutine call ("bl"): PushLink records the return
			// address, then CallDirectFunc invokes the callee and falls
			// through here once it returns, unlike a tail branch.
			return Block{CallRuntimeFunc("PushLink", "", U(uint64(ins.Addr+ppc.Size), 32)), CallDirectFunc(branchTargetOf(ins))}
		}
		return Block{lc.branchTo(branchTargetOf(ins))}
	case ppc.OpBc:
		target := branchTargetOf(ins)
		var then Block
		if ins.LK {
			then = Block{CallRuntimeFunc("PushLink", "", U(uint64(ins.Addr+ppc.Size), 32)), CallDirectFunc(target)}
		} else {
			then = Block{lc.branchTo(target)}
		}
		return Block{If{
			Cond: Compare(CmpEqual, R(crBit(ins.BI)), U(1, 8)),
			Then: then,
		}}
	case ppc.OpBclr:
		ret := Block{CallRuntimeFunc("Return", ""), Return{}}
		if ins.BO&0x14 == 0x14 { // unconditional: the canonical "blr"
			return ret
		}
		return Block{If{
			Cond: Compare(CmpEqual, R(crBit(ins.BI)), U(1, 8)),
			Then: ret,
		}}
	case ppc.OpBcctr:
		if ins.LK {
			// "bctrl": a real call through the count register (the usual
			// function-pointer call form). guest.Dispatch already calls and
			// returns rather than transferring control away permanently, so
			// no CallDirect/TailDispatch wrapper is needed here.
			return Block{CallRuntimeFunc("PushLink", "", U(uint64(ins.Addr+ppc.Size), 32)), CallRuntimeFunc("Dispatch", "", R("CTR"))}
		}
		return Block{TailDispatch{Indirect: R("CTR")}}

	case ppc.OpTw, ppc.OpTwi:
		return Block{CallRuntimeFunc("Trap", "", U(uint64(ins.TO), 32))}

	case ppc.OpMfspr:
		if named, ok := namedSPR(ins.SPR); ok {
			return Block{Assignment(R(string(gpr(ins.RT))), R(named))}
		}
		return Block{CallRuntimeFunc("GetSPR", R(string(gpr(ins.RT))), U(uint64(ins.SPR), 32))}
	case ppc.OpMtspr:
		if named, ok := namedSPR(ins.SPR); ok {
			return Block{Assignment(R(named), R(string(gpr(ins.RT))))}
		}
		return Block{CallRuntimeFunc("SetSPR", "", U(uint64(ins.SPR), 32), R(string(gpr(ins.RT))))}
	case ppc.OpMftb:
		return Block{Assignment(R(string(gpr(ins.RT))), CallRuntimeFunc("ReadTimebase", ""))}

	case ppc.OpSync, ppc.OpLwsync, ppc.OpEieio, ppc.OpIsync:
		return Block{Comment("memory barrier: single-threaded guest, no-op")}

	case ppc.OpMtmsrd:
		return Block{CallRuntimeFunc("SetInterruptsEnabled", "", R(string(gpr(ins.RT))))}
	case ppc.OpMfmsr:
		return Block{Assignment(R(string(gpr(ins.RT))), CallRuntimeFunc("InterruptsEnabled", ""))}

	case ppc.OpFadd:
		return Block{Assignment(R(string(fpr(ins.RT))), Bin(OpAdd, R(string(fpr(ins.RA))), R(string(fpr(ins.RB)))))}
	case ppc.OpFsub:
		return Block{Assignment(R(string(fpr(ins.RT))), Bin(OpSub, R(string(fpr(ins.RA))), R(string(fpr(ins.RB)))))}
	case ppc.OpFmul:
		return Block{Assignment(R(string(fpr(ins.RT))), Bin(OpMul, R(string(fpr(ins.RA))), R(string(fpr(ins.RB)))))}
	case ppc.OpFdiv:
		return Block{Assignment(R(string(fpr(ins.RT))), Bin(OpDiv, R(string(fpr(ins.RA))), R(string(fpr(ins.RB)))))}
	case ppc.OpFmr:
		return Block{Assignment(R(string(fpr(ins.RT))), R(string(fpr(ins.RB))))}

	case ppc.OpVspltw:
		return Block{CallRuntimeFunc("VectorSplatWord", R(string(vr(ins.VD))), R(string(vr(ins.VB))), U(uint64(ins.UIMM), 32))}
	case ppc.OpVaddsws:
		return Block{CallRuntimeFunc("VectorAddSaturateSigned32", R(string(vr(ins.VD))), R(string(vr(ins.VA))), R(string(vr(ins.VB))))}
	case ppc.OpVcmpequwDot:
		return Block{CallRuntimeFunc("VectorCompareEqualWord", R(string(vr(ins.VD))), R(string(vr(ins.VA))), R(string(vr(ins.VB))))}

	default:
		return Block{Comment(fmt.Sprintf("unhandled opcode %v at %#08x", ins.Op, ins.Addr))}
	}
}

func addImm(ins ppc.Instruction) Fragment {
	return Bin(OpAdd, raOrZero(ins.RA), I(int64(ins.SIMM), 64))
}

// raOrZero implements the PowerPC convention that RA=0 in certain D-form
// instructions means the literal value 0 rather than register r0.
func raOrZero(ra uint32) Fragment {
	if ra == 0 {
		return I(0, 64)
	}
	return R(string(gpr(ra)))
}

// effAddr computes a D-form effective address: PPC64 does the base+offset
// addition at full 64-bit width, so the SIMM is sign-extended to 64 bits
// before adding, and the 64-bit sum is then truncated to the 32-bit guest
// address space expected by every Load/Store accessor.
func effAddr(ins ppc.Instruction) Fragment {
	return CastTo(32, Bin(OpAdd, raOrZero(ins.RA), I(int64(ins.SIMM), 64)))
}

func arith(ins ppc.Instruction, kind BinOpKind) Block {
	b := Block{Assignment(R(string(gpr(ins.RT))), Bin(kind, R(string(gpr(ins.RA))), R(string(gpr(ins.RB)))))}
	b = append(b, recordFormSuffix(ins, R(string(gpr(ins.RT))))...)
	if ins.OverflowForm() {
		b = append(b, XEROverflow{Overflow: CallRuntimeFunc("AddOverflowed", "", R(string(gpr(ins.RA))), R(string(gpr(ins.RB))), R(string(gpr(ins.RT))))})
	}
	return b
}

func logical(ins ppc.Instruction, kind BinOpKind) Block {
	b := Block{Assignment(R(string(gpr(ins.RA))), Bin(kind, R(string(gpr(ins.RT))), R(string(gpr(ins.RB)))))}
	if ins.RecordForm() {
		b = append(b, CRUpdate{Field: "CR0", Value: R(string(gpr(ins.RA)))})
	}
	return b
}

func recordFormSuffix(ins ppc.Instruction, result Fragment) Block {
	if !ins.RecordForm() {
		return nil
	}
	return Block{CRUpdate{Field: "CR0", Value: result}}
}

func crField(n uint32) string {
	return fmt.Sprintf("CR%d", n)
}

func crBit(bi uint32) string {
	return fmt.Sprintf("CRBit%d", bi)
}

// namedSPR reports the GuestContext field backing a well-known SPR number;
// anything else falls back to the generic GetSPR/SetSPR runtime map.
func namedSPR(spr uint32) (string, bool) {
	switch spr {
	case 1:
		return "XER", true
	case 8:
		return "LR", true
	case 9:
		return "CTR", true
	default:
		return "", false
	}
}

func branchTargetOf(ins ppc.Instruction) uint32 {
	switch ins.Op {
	case ppc.OpB:
		if ins.AA {
			return uint32(ins.LI)
		}
		return ins.Addr + uint32(ins.LI)
	case ppc.OpBc:
		if ins.AA {
			return uint32(ins.BD)
		}
		return ins.Addr + uint32(ins.BD)
	default:
		return 0
	}
}
