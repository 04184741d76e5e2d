package core

import (
	"context"
	"testing"
	"time"
)

func TestBusEmitAndReceiveOrdering(t *testing.T) {
	b := NewBus(4)
	b.Emit(Event{Kind: EventTextDelta, Text: "a"})
	b.Emit(Event{Kind: EventTextDelta, Text: "b"})
	b.Emit(Event{Kind: EventDone, StopReason: StopEndTurn})
	b.Close()

	var got []Event
	for e := range b.Events() {
		got = append(got, e)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Text != "a" || got[1].Text != "b" || got[2].Kind != EventDone {
		t.Fatalf("events out of order: %+v", got)
	}
}

func TestBusEmitCtxSendsWhenConsumerReady(t *testing.T) {
	b := NewBus(0)
	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		b.EmitCtx(ctx, Event{Kind: EventWarning, Text: "careful"})
		close(done)
	}()

	select {
	case e := <-b.Events():
		if e.Text != "careful" {
			t.Fatalf("Text = %q, want %q", e.Text, "careful")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	<-done
}

func TestBusEmitCtxAbandonsOnCancellation(t *testing.T) {
	b := NewBus(0) // synchronous, no reader draining it
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		b.EmitCtx(ctx, Event{Kind: EventError})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EmitCtx did not return after context cancellation")
	}
}
