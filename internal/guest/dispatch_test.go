package guest

import "testing"

func TestDispatchInvokesRegisteredFunction(t *testing.T) {
	called := false
	RegisterFunction(0x82001000, func(ctx *Context) {
		called = true
		ctx.R[3] = 7
	})

	ctx := newTestContext(0x10)
	Dispatch(ctx, 0x82001000)
	if !called {
		t.Fatal("expected registered function to run")
	}
	if ctx.R[3] != 7 {
		t.Fatalf("R3 = %d, want 7", ctx.R[3])
	}
}

func TestDispatchPanicsOnUnmappedAddress(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an unmapped dispatch target")
		}
	}()
	Dispatch(newTestContext(0x10), 0xFFFFFFFF)
}

func TestPushLinkAndReturn(t *testing.T) {
	ctx := newTestContext(0x10)
	PushLink(ctx, 0x82001004)
	if ctx.LR != 0x82001004 {
		t.Fatalf("LR = %#x, want 0x82001004", ctx.LR)
	}
	PushLink(ctx, 0x82002008)
	Return(ctx)
	if ctx.LR != 0x82002008 {
		t.Fatalf("after first Return, LR = %#x, want 0x82002008", ctx.LR)
	}
	Return(ctx)
	if ctx.LR != 0x82001004 {
		t.Fatalf("after second Return, LR = %#x, want 0x82001004", ctx.LR)
	}
}
