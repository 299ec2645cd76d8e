package tools

import (
	"context"
	"strings"
	"testing"

	"restaurant-ivr/internal/restaurants"
)

func callCtx(enabled ...string) CallContext {
	return CallContext{
		CallID: "CA123",
		Config: restaurants.RestaurantConfig{
			ID:               "r1",
			Address:          "12 Via Roma",
			ForwardingNumber: "+15557654321",
			EnabledTools:     enabled,
		},
	}
}

func TestDispatch_DisabledToolRejectedBeforeExecution(t *testing.T) {
	d := Defaults()
	inv, sig := d.Dispatch(context.Background(), callCtx(NameEndCall, NameGetAddress), "tc-1", NameForwardCall, nil)

	if inv.Status != StatusRejected {
		t.Fatalf("expected rejected, got %q", inv.Status)
	}
	if !strings.Contains(inv.Result, "tool disabled") {
		t.Fatalf("expected disabled reason, got %q", inv.Result)
	}
	if sig != SignalNone {
		t.Fatalf("expected no signal, got %q", sig)
	}
}

func TestDispatch_UnknownToolRejected(t *testing.T) {
	d := Defaults()
	inv, sig := d.Dispatch(context.Background(), callCtx("order_pizza"), "tc-1", "order_pizza", nil)
	if inv.Status != StatusRejected || sig != SignalNone {
		t.Fatalf("expected unknown tool rejected, got %q signal %q", inv.Status, sig)
	}
}

func TestDispatch_EndCallSignalsTermination(t *testing.T) {
	d := Defaults()
	inv, sig := d.Dispatch(context.Background(), callCtx(NameEndCall), "tc-1", NameEndCall, nil)
	if inv.Status != StatusExecuted {
		t.Fatalf("expected executed, got %q", inv.Status)
	}
	if sig != SignalEndCall {
		t.Fatalf("expected end_call signal, got %q", sig)
	}
}

func TestDispatch_EndCallIdempotentWhileTerminating(t *testing.T) {
	d := Defaults()
	call := callCtx(NameEndCall)
	call.Terminating = func() bool { return true }

	inv, sig := d.Dispatch(context.Background(), call, "tc-2", NameEndCall, nil)
	if inv.Status != StatusExecuted {
		t.Fatalf("expected executed no-op, got %q", inv.Status)
	}
	if sig != SignalNone {
		t.Fatalf("expected no signal on repeat end_call, got %q", sig)
	}
	if !strings.Contains(inv.Result, "already in progress") {
		t.Fatalf("expected no-op result, got %q", inv.Result)
	}
}

func TestDispatch_GetAddress(t *testing.T) {
	d := Defaults()
	inv, sig := d.Dispatch(context.Background(), callCtx(NameGetAddress), "tc-1", NameGetAddress, nil)
	if inv.Status != StatusExecuted || inv.Result != "12 Via Roma" {
		t.Fatalf("expected address, got %q (%q)", inv.Result, inv.Status)
	}
	if sig != SignalNone {
		t.Fatalf("expected no signal, got %q", sig)
	}
}

func TestDispatch_GetAddressMissing(t *testing.T) {
	d := Defaults()
	call := callCtx(NameGetAddress)
	call.Config.Address = ""
	inv, _ := d.Dispatch(context.Background(), call, "tc-1", NameGetAddress, nil)
	if inv.Status != StatusRejected {
		t.Fatalf("expected rejected for missing address, got %q", inv.Status)
	}
}

func TestDispatch_ForwardCall(t *testing.T) {
	d := Defaults()
	inv, sig := d.Dispatch(context.Background(), callCtx(NameForwardCall), "tc-1", NameForwardCall, nil)
	if inv.Status != StatusExecuted {
		t.Fatalf("expected executed, got %q", inv.Status)
	}
	if sig != SignalForward {
		t.Fatalf("expected forward signal, got %q", sig)
	}
}

func TestDispatch_ForwardCallWithoutNumberRejected(t *testing.T) {
	d := Defaults()
	call := callCtx(NameForwardCall)
	call.Config.ForwardingNumber = ""
	inv, sig := d.Dispatch(context.Background(), call, "tc-1", NameForwardCall, nil)
	if inv.Status != StatusRejected || sig != SignalNone {
		t.Fatalf("expected rejected without forwarding number, got %q signal %q", inv.Status, sig)
	}
}
