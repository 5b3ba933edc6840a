package emit

import (
	"strings"
	"testing"

	"github.com/tinyrange/ppcrecomp/internal/ppc"
)

func lowerOne(ins ppc.Instruction) Block {
	lc := &lowerCtx{localLabels: map[uint32]bool{}}
	return lc.lowerInstruction(ins)
}

// renderBlock prints a Block standalone (not wrapped in a Method) so tests
// can assert on the exact statements an instruction lowers to.
func renderBlock(b Block) string {
	p := &printer{}
	var out strings.Builder
	for _, f := range b {
		out.WriteString(p.exprStmt(f))
	}
	return out.String()
}

// exprStmt renders a single top-level fragment as a statement the way
// printFragment would, without needing a *bufio.Writer.
func (p *printer) exprStmt(f Fragment) string {
	switch v := f.(type) {
	case Assign:
		if mem, ok := v.Dst.(MemRef); ok {
			return p.storeExpr(mem, v.Src) + "\n"
		}
		return p.lvalue(v.Dst) + " = " + p.expr(v.Src) + "\n"
	case Call:
		switch v.Kind {
		case CallRuntime:
			call := "guest." + v.Func + "(ctx, " + joinArgs(p, v.Args) + ")"
			if v.Assign != nil {
				return p.lvalue(v.Assign) + " = " + call + "\n"
			}
			return call + "\n"
		case CallDirect:
			return p.expr(v) + "\n"
		case CallIndirect:
			return p.expr(v) + "\n"
		}
	case CRUpdate:
		return "ctx.SetCR(\"" + v.Field + "\", " + p.expr(v.Value) + ")\n"
	}
	return ""
}

func TestEffAddrSignExtendsAndTruncates(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpLwz, RT: 3, RA: 1, SIMM: -16}
	got := renderBlock(lowerOne(ins))
	// The displacement must be sign-extended to 64 bits before the add, then
	// the sum truncated to uint32 for the Load call — never a raw negative
	// constant conversion.
	if strings.Contains(got, "uint32(-16)") || strings.Contains(got, "uint64(-16)") {
		t.Fatalf("effective address contains an unwrapped negative literal: %s", got)
	}
	if !strings.Contains(got, "ctx.LoadU32(uint32(") {
		t.Fatalf("expected a uint32-truncated address passed to LoadU32, got: %s", got)
	}
}

func TestAddiLowersWithoutWidthMismatch(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpAddi, RT: 3, RA: 0, SIMM: -1}
	got := renderBlock(lowerOne(ins))
	if !strings.Contains(got, "ctx.R[3] = (uint64(0) + uint64(") {
		t.Fatalf("expected RA=0 to lower to a literal 0 of matching width, got: %s", got)
	}
}

func TestDirectCallFallsThroughInsteadOfReturning(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpB, Addr: 0x82001000, LI: 0x100, LK: true}
	b := lowerOne(ins)
	for _, f := range b {
		if _, ok := f.(TailDispatch); ok {
			t.Fatalf("a linked branch (bl) must not lower to TailDispatch, which ends the calling function: %#v", b)
		}
	}
	got := renderBlock(b)
	if !strings.Contains(got, "guestFn_82001100(ctx)") {
		t.Fatalf("expected a direct call to the callee, got: %s", got)
	}
}

func TestPlainBranchUsesTailDispatch(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpB, Addr: 0x82001000, LI: 0x100, LK: false}
	b := lowerOne(ins)
	if len(b) != 1 {
		t.Fatalf("expected a single fragment for an unlinked branch, got %d", len(b))
	}
	if _, ok := b[0].(TailDispatch); !ok {
		t.Fatalf("expected TailDispatch for a tail branch, got %T", b[0])
	}
}

func TestBcctrWithLinkCallsAndFallsThrough(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpBcctr, Addr: 0x82001000, BO: 20, BI: 0, LK: true}
	b := lowerOne(ins)
	for _, f := range b {
		if _, ok := f.(TailDispatch); ok {
			t.Fatalf("bctrl must not lower to TailDispatch: %#v", b)
		}
	}
	got := renderBlock(b)
	if !strings.Contains(got, "guest.Dispatch(ctx, ctx.CTR)") {
		t.Fatalf("expected guest.Dispatch call for bctrl, got: %s", got)
	}
}

func TestBcctrWithoutLinkTailDispatches(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpBcctr, Addr: 0x82001000, BO: 20, BI: 0, LK: false}
	b := lowerOne(ins)
	if len(b) != 1 {
		t.Fatalf("expected a single fragment, got %d", len(b))
	}
	td, ok := b[0].(TailDispatch)
	if !ok {
		t.Fatalf("expected TailDispatch for unconditional bctr, got %T", b[0])
	}
	if td.Indirect == nil {
		t.Fatal("expected an indirect dispatch target for bctr")
	}
}

func TestCmpLowersToSubtractionNotBooleanCondition(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpCmpi, CRFD: 1, RA: 3, SIMM: 10}
	got := renderBlock(lowerOne(ins))
	if !strings.Contains(got, "ctx.SetCR(\"CR1\", (ctx.R[3] - uint64(10)))") {
		t.Fatalf("expected cmpi to lower to a subtraction fed into SetCR, got: %s", got)
	}
}

func TestRlwinmOperandWidthsMatchRuntimeSignature(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpRlwinm, RA: 4, RT: 3, SH: 8, MB: 0, ME: 15}
	got := renderBlock(lowerOne(ins))
	if !strings.Contains(got, "guest.Rlwinm(ctx, ctx.R[3], uint64(8), uint64(0), uint64(15))") {
		t.Fatalf("expected Rlwinm call with uint64-width operands, got: %s", got)
	}
}

func TestStwcxDiscardsResultRatherThanAssigning(t *testing.T) {
	ins := ppc.Instruction{Op: ppc.OpStwcx, RT: 5, RA: 1, RB: 0}
	got := renderBlock(lowerOne(ins))
	if strings.Contains(got, "=") {
		t.Fatalf("StoreConditional32 has no return value and must not be assigned: %s", got)
	}
	if !strings.Contains(got, "guest.StoreConditional32(ctx,") {
		t.Fatalf("expected a StoreConditional32 call, got: %s", got)
	}
}
