package events

import (
	"testing"
	"time"

	"github.com/pitbosshq/pitboss/internal/types"
)

func TestEmitterHandlers(t *testing.T) {
	e := NewEmitter()
	defer e.Close()

	var got []Event
	e.OnEvent(func(ev Event) {
		got = append(got, ev)
	})

	e.Emit(NewStartedEvent(1234))
	e.Emit(NewLogEvent("info", "hello"))

	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventStarted || got[0].Started.PID != 1234 {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Type != EventLog || got[1].Log.Message != "hello" {
		t.Errorf("unexpected second event: %+v", got[1])
	}
}

func TestEmitterSubscribe(t *testing.T) {
	e := NewEmitter()
	defer e.Close()

	ch, cancel := e.Subscribe(4)
	defer cancel()

	e.Emit(NewStoppedEvent(1))

	select {
	case ev := <-ch:
		if ev.Type != EventStopped || ev.Stopped.Code != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEmitterDropsWhenSubscriberFull(t *testing.T) {
	e := NewEmitter()
	defer e.Close()

	ch, cancel := e.Subscribe(1)
	defer cancel()

	// Second emit must not block even though nobody is draining.
	done := make(chan struct{})
	go func() {
		e.Emit(NewLogEvent("info", "first"))
		e.Emit(NewLogEvent("info", "second"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}

	ev := <-ch
	if ev.Log.Message != "first" {
		t.Errorf("expected first event retained, got %q", ev.Log.Message)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected second event dropped, got %+v", extra)
	default:
	}
}

func TestEmitterCancelUnsubscribes(t *testing.T) {
	e := NewEmitter()
	defer e.Close()

	ch, cancel := e.Subscribe(1)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}

	// Emitting after cancel must not panic.
	e.Emit(NewLogEvent("info", "after cancel"))
}

func TestEmitterClose(t *testing.T) {
	e := NewEmitter()
	ch, _ := e.Subscribe(1)

	e.Close()
	e.Close() // idempotent

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed on Close")
	}

	// Emit after close is a no-op.
	e.Emit(NewStartedEvent(1))

	// Subscribe after close returns a closed channel.
	ch2, cancel2 := e.Subscribe(1)
	cancel2()
	if _, ok := <-ch2; ok {
		t.Error("expected closed channel from post-Close subscribe")
	}
}

func TestConstructorPayloads(t *testing.T) {
	match := &types.PatternMatch{MatchedText: "ECONNREFUSED", Timestamp: time.Now()}
	ev := NewPatternMatchedEvent(match)
	if ev.Type != EventPatternMatched || ev.PatternMatched.Match != match {
		t.Errorf("unexpected pattern_matched event: %+v", ev)
	}
	if ev.ID == "" {
		t.Error("expected generated event id")
	}
	if !ev.Type.IsValid() {
		t.Error("constructor produced invalid type")
	}

	disp := &types.PitCrewDispatch{Title: "t"}
	res := &types.DispatchResult{Success: true, NotionURL: "https://notion.so/x"}
	dev := NewDispatchSentEvent(disp, res)
	if dev.DispatchSent.Result.NotionURL != "https://notion.so/x" {
		t.Errorf("unexpected dispatch_sent payload: %+v", dev.DispatchSent)
	}

	tev := NewTelemetryEvent(&types.TelemetrySnapshot{}, true, "warning", "unknown patterns")
	if !tev.Telemetry.Promoted || tev.Telemetry.Severity != "warning" {
		t.Errorf("unexpected telemetry payload: %+v", tev.Telemetry)
	}

	eev := NewErrorEvent("spawn failed", false)
	if eev.Error.Err != "spawn failed" || eev.Error.ShouldDispatch {
		t.Errorf("unexpected error payload: %+v", eev.Error)
	}
}
