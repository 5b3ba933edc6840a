package emit

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// printer renders a Program as compilable Go source. It never allocates an
// AST; like the teacher's fragment walkers, it writes text directly, trusting
// gofmt (run by the build pipeline, not here) to tidy indentation.
type printer struct {
	w   *bufio.Writer
	pkg string
}

// WriteProgram prints prog as a complete Go source file in package pkg,
// one function per translated guest function plus a package-level dispatch
// table initializer (spec.md §6 "Generated function table").
func WriteProgram(w io.Writer, pkg string, prog Program) error {
	p := &printer{w: bufio.NewWriter(w), pkg: pkg}

	p.printf("// Code generated by the recompiler. DO NOT EDIT.\n\n")
	p.printf("package %s\n\n", pkg)
	p.printf("import \"github.com/tinyrange/ppcrecomp/internal/guest\"\n\n")

	for _, m := range prog.Methods {
		p.printMethod(m)
		p.printf("\n")
	}

	p.printDispatchTable(prog.FuncMappings)

	return p.w.Flush()
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) printDispatchTable(mappings map[uint32]string) {
	p.printf("func init() {\n")
	addrs := make([]uint32, 0, len(mappings))
	for a := range mappings {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		p.printf("\tguest.RegisterFunction(0x%08X, %s)\n", addr, mappings[addr])
	}
	p.printf("}\n")
}

func (p *printer) printMethod(m Method) {
	p.printf("func %s(ctx *guest.Context) {\n", m.Name)
	p.printBlock(m.Body, 1)
	p.printf("}\n")
}

func (p *printer) indent(n int) {
	for i := 0; i < n; i++ {
		p.printf("\t")
	}
}

func (p *printer) printBlock(b Block, depth int) {
	for _, f := range b {
		p.printFragment(f, depth)
	}
}

func (p *printer) printFragment(f Fragment, depth int) {
	p.indent(depth)
	switch v := f.(type) {
	case Decl:
		p.printf("%s := %s\n", v.Name, p.expr(v.Src))

	case Assign:
		if mem, ok := v.Dst.(MemRef); ok {
			p.printf("%s\n", p.storeExpr(mem, v.Src))
			return
		}
		p.printf("%s = %s\n", p.lvalue(v.Dst), p.expr(v.Src))

	case Call:
		p.printCall(v)

	case If:
		p.printf("if %s {\n", p.cond(v.Cond))
		p.printBlock(v.Then, depth+1)
		if v.Otherwise != nil {
			p.indent(depth)
			p.printf("} else {\n")
			p.printBlock(v.Otherwise, depth+1)
		}
		p.indent(depth)
		p.printf("}\n")

	case Goto:
		p.printf("goto L_%08X\n", v.TargetAddr)

	case TailDispatch:
		if v.Indirect != nil {
			p.printf("guest.Dispatch(ctx, %s)\n", p.expr(v.Indirect))
			p.indent(depth)
			p.printf("return\n")
			return
		}
		p.printf("guestFn_%08X(ctx)\n", v.TargetAddr)
		p.indent(depth)
		p.printf("return\n")

	case Return:
		if v.Value == nil {
			p.printf("return\n")
		} else {
			p.printf("return %s\n", p.expr(v.Value))
		}

	case CRUpdate:
		p.printf("ctx.SetCR(%q, %s)\n", v.Field, p.expr(v.Value))

	case XEROverflow:
		p.printf("ctx.SetOverflow(%s)\n", p.expr(v.Overflow))

	case XERCarry:
		p.printf("ctx.SetCarry(%s)\n", p.expr(v.Carry))

	case Comment:
		p.printf("// %s\n", string(v))

	case Label:
		// Go requires labels to precede a statement; emit a no-op target.
		p.printf("L_%08X:\n", v.Addr)
		p.indent(depth)
		p.printf("_ = 0\n")

	case Block:
		p.printBlock(v, depth)

	default:
		p.printf("// unsupported fragment %T\n", v)
	}
}

func (p *printer) printCall(c Call) {
	var call string
	switch c.Kind {
	case CallRuntime:
		call = fmt.Sprintf("guest.%s(ctx, %s)", c.Func, joinArgs(p, c.Args))
	case CallIndirect:
		call = fmt.Sprintf("guest.CallIndirect(ctx, %s)", p.expr(c.Target))
	case CallDirect:
		call = fmt.Sprintf("guestFn_%08X(ctx)", c.TargetAddr)
	}
	if c.Assign != nil {
		p.printf("%s = %s\n", p.lvalue(c.Assign), call)
	} else {
		p.printf("%s\n", call)
	}
}

func joinArgs(p *printer, args []Fragment) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += p.expr(a)
	}
	return out
}

func (p *printer) lvalue(f Fragment) string {
	switch v := f.(type) {
	case VarRef:
		return string(v.Name)
	case RegRef:
		return regExpr(v.Name)
	default:
		return p.expr(f)
	}
}

// regExpr renders a Reg as the concrete Go field/index expression on
// *guest.Context: GPRs/FPRs/VRs are array-indexed (ctx.R[3]), everything
// else (LR, CTR, XER, FPSCR, SPRn, CRn, CRBitn) is a named field or method.
func regExpr(name Reg) string {
	s := string(name)
	if len(s) > 1 {
		switch s[0] {
		case 'R':
			if n, ok := parseRegIndex(s[1:]); ok {
				return fmt.Sprintf("ctx.R[%d]", n)
			}
		case 'F':
			if n, ok := parseRegIndex(s[1:]); ok {
				return fmt.Sprintf("ctx.F[%d]", n)
			}
		case 'V':
			if n, ok := parseRegIndex(s[1:]); ok {
				return fmt.Sprintf("ctx.V[%d]", n)
			}
		}
	}
	if len(s) > 5 && s[:5] == "CRBit" {
		if n, ok := parseRegIndex(s[5:]); ok {
			return fmt.Sprintf("ctx.CRBit(%d)", n)
		}
	}
	if len(s) > 2 && s[:2] == "CR" {
		if n, ok := parseRegIndex(s[2:]); ok {
			return fmt.Sprintf("ctx.CR[%d]", n)
		}
	}
	if len(s) > 3 && s[:3] == "SPR" {
		if n, ok := parseRegIndex(s[3:]); ok {
			return fmt.Sprintf("ctx.SPR(%d)", n)
		}
	}
	switch s {
	case "XER_CA":
		return "uint64(ctx.XER>>29&1)"
	default:
		return "ctx." + s
	}
}

func parseRegIndex(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// storeExpr renders a write through a MemRef as a Store call statement;
// unlike loads, stores are not expressions (guest.Context's Store methods
// take the value directly rather than returning an addressable location).
func (p *printer) storeExpr(m MemRef, value Fragment) string {
	fn := memFuncName(m.Size)
	return fmt.Sprintf("ctx.Store%s(%s, %s)", fn, p.expr(m.Addr), p.expr(value))
}

func memFuncName(w Width) string {
	switch w {
	case Width8:
		return "U8"
	case Width16:
		return "U16"
	case Width32:
		return "U32"
	default:
		return "U64"
	}
}

func (p *printer) expr(f Fragment) string {
	switch v := f.(type) {
	case Lit:
		width := litWidth(v.Width)
		return fmt.Sprintf("uint%d(%s)", width, wrapLiteral(v.Value, width))
	case Cast:
		return fmt.Sprintf("uint%d(%s)", v.Width, p.expr(v.Value))
	case VarRef:
		return string(v.Name)
	case RegRef:
		return regExpr(v.Name)
	case MemRef:
		return p.memExpr(v)
	case BinOp:
		return fmt.Sprintf("(%s %s %s)", p.expr(v.Left), binOpSymbol(v.Kind), p.expr(v.Right))
	case Call:
		switch v.Kind {
		case CallRuntime:
			return fmt.Sprintf("guest.%s(ctx, %s)", v.Func, joinArgs(p, v.Args))
		case CallIndirect:
			return fmt.Sprintf("guest.CallIndirect(ctx, %s)", p.expr(v.Target))
		case CallDirect:
			return fmt.Sprintf("guestFn_%08X(ctx)", v.TargetAddr)
		}
	case Condition:
		return p.cond(v)
	}
	return fmt.Sprintf("/* unsupported expr %T */", f)
}

func litWidth(w int) int {
	if w == 0 {
		return 64
	}
	return w
}

// wrapLiteral renders v's two's-complement bit pattern at the given width as
// a non-negative decimal string. Negative immediates (e.g. addi r1,r1,-32)
// would otherwise print as a literal like "uint32(-5)", which the Go
// compiler rejects as a constant-overflow error on an unsigned conversion.
func wrapLiteral(v int64, width int) string {
	if v >= 0 {
		return fmt.Sprintf("%d", v)
	}
	if width >= 64 {
		return fmt.Sprintf("%d", uint64(v))
	}
	mask := uint64(1)<<uint(width) - 1
	return fmt.Sprintf("%d", uint64(v)&mask)
}

func binOpSymbol(k BinOpKind) string {
	switch k {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpAnd:
		return "&"
	case OpOr:
		return "|"
	case OpXor:
		return "^"
	case OpShl:
		return "<<"
	case OpShr:
		return ">>"
	case OpAndNot:
		return "&^"
	default:
		return "?"
	}
}

func (p *printer) memExpr(m MemRef) string {
	fn := memFuncName(m.Size)
	prefix := "Load"
	if m.Signed {
		prefix = "LoadSigned"
	}
	return fmt.Sprintf("ctx.%s%s(%s)", prefix, fn, p.expr(m.Addr))
}

func (p *printer) cond(c Condition) string {
	return fmt.Sprintf("(%s %s %s)", p.expr(c.Left), cmpSymbol(c.Kind), p.expr(c.Right))
}

func cmpSymbol(k CompareKind) string {
	switch k {
	case CmpEqual:
		return "=="
	case CmpNotEqual:
		return "!="
	case CmpLess:
		return "<"
	case CmpLessOrEqual:
		return "<="
	case CmpGreater:
		return ">"
	case CmpGreaterOrEqual:
		return ">="
	default:
		return "?"
	}
}
