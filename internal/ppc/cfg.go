package ppc

// boUnconditional reports whether a BO field encodes an always-taken branch,
// i.e. the "branch always" family (BO = 1z1zz per the PowerPC ISA: both the
// ignore-condition bit 0x10 and the do-not-decrement-CTR bit 0x04 set).
func boUnconditional(bo uint32) bool {
	return bo&0x14 == 0x14
}

// isBlr reports whether ins is the canonical unconditional "return" encoding:
// bclr with an always-taken BO and BI=0.
func isBlr(ins Instruction) bool {
	return ins.Op == OpBclr && boUnconditional(ins.BO)
}

// isBctrUnconditional reports whether ins is an unconditional bcctr (the
// indirect-call/jump-table dispatch form).
func isBctrUnconditional(ins Instruction) bool {
	return ins.Op == OpBcctr && boUnconditional(ins.BO)
}

// terminator classifies how a basic block ends. A non-terminator
// instruction simply falls through to the next decoded word.
type terminatorKind int

const (
	termNone terminatorKind = iota
	termFallthrough
	termUnconditionalBranch
	termConditionalBranch
	termReturn
	termIndirectDispatch
	termCall // direct call (b/bc with LK); execution resumes after the call
)

// classify reports how ins affects control flow. Direct calls (LK=1 on a
// branch form) are reported as termCall so the sweep can both enqueue the
// callee as a new function seed and continue decoding the current block,
// matching spec.md §4.1's "direct calls enqueue their target as a new seed."
func classify(ins Instruction) terminatorKind {
	switch ins.Op {
	case OpB:
		if ins.LK {
			return termCall
		}
		return termUnconditionalBranch
	case OpBc:
		if ins.LK {
			return termCall
		}
		return termConditionalBranch
	case OpBclr:
		if isBlr(ins) {
			return termReturn
		}
		if ins.LK {
			return termCall
		}
		return termConditionalBranch
	case OpBcctr:
		if ins.LK {
			return termCall
		}
		return termIndirectDispatch
	default:
		return termNone
	}
}

// branchTarget computes the absolute guest address targeted by a direct
// branch instruction (OpB or OpBc).
func branchTarget(ins Instruction) uint32 {
	switch ins.Op {
	case OpB:
		if ins.AA {
			return uint32(ins.LI)
		}
		return ins.Addr + uint32(ins.LI)
	case OpBc:
		if ins.AA {
			return uint32(ins.BD)
		}
		return ins.Addr + uint32(ins.BD)
	default:
		return 0
	}
}
