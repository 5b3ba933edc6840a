package emit

import (
	"bytes"
	"strings"
	"testing"
)

func renderExpr(f Fragment) string {
	p := &printer{}
	return p.expr(f)
}

func TestLitWrapsNegativeImmediateToUnsignedRange(t *testing.T) {
	got := renderExpr(I(-5, 32))
	want := "uint32(4294967291)"
	if got != want {
		t.Fatalf("renderExpr(I(-5,32)) = %q, want %q", got, want)
	}
}

func TestLitPositiveUnaffected(t *testing.T) {
	got := renderExpr(I(5, 32))
	if got != "uint32(5)" {
		t.Fatalf("renderExpr(I(5,32)) = %q, want uint32(5)", got)
	}
}

func TestLitNegative64BitWraps(t *testing.T) {
	got := renderExpr(I(-1, 64))
	want := "uint64(18446744073709551615)"
	if got != want {
		t.Fatalf("renderExpr(I(-1,64)) = %q, want %q", got, want)
	}
}

func TestCastRendersTypedConversion(t *testing.T) {
	got := renderExpr(CastTo(32, Bin(OpAdd, R("R3"), I(5, 64))))
	want := "uint32((ctx.R[3] + uint64(5)))"
	if got != want {
		t.Fatalf("renderExpr(Cast) = %q, want %q", got, want)
	}
}

func TestPrintMethodEmitsDispatchAndNoLiteralOverflow(t *testing.T) {
	prog := Program{
		Methods: []Method{
			{
				Name: "guestFn_82000000",
				Body: Block{
					Assignment(R("R3"), Bin(OpAdd, R("R1"), I(-32, 64))),
				},
			},
		},
		FuncMappings: map[uint32]string{0x82000000: "guestFn_82000000"},
	}

	var buf bytes.Buffer
	if err := WriteProgram(&buf, "generated", prog); err != nil {
		t.Fatalf("WriteProgram: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "uint64(-32)") || strings.Contains(out, "(-32)") {
		t.Fatalf("generated source contains an unwrapped negative constant conversion:\n%s", out)
	}
	if !strings.Contains(out, "guest.RegisterFunction(0x82000000, guestFn_82000000)") {
		t.Fatalf("expected dispatch table entry in generated source:\n%s", out)
	}
}
