package apiclient

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmitter_PanickingSubscriberIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e := NewEmitter(zap.New(core))

	var got []EventKind
	e.Subscribe(func(ev Event) { panic("overlay crashed") })
	e.Subscribe(func(ev Event) { got = append(got, ev.Kind) })

	e.Emit(Event{Kind: EventStart, ID: "1"})
	e.Emit(Event{Kind: EventStop, ID: "1"})

	if len(got) != 2 || got[0] != EventStart || got[1] != EventStop {
		t.Errorf("healthy subscriber received %v", got)
	}
	if n := logs.FilterMessage("lifecycle subscriber panicked").Len(); n != 2 {
		t.Errorf("panic logs = %d, want 2", n)
	}
}

func TestEmitter_PanicDoesNotCorruptRegistry(t *testing.T) {
	e := NewEmitter(nil)
	e.Subscribe(func(ev Event) { panic("boom") })
	r := NewRegistry(e, time.Minute, nil)

	r.Register("x", RequestMeta{})
	if _, ok := r.Complete("x", Outcome{OK: true}); !ok {
		t.Fatal("Complete() lost the record")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	e := NewEmitter(nil)
	calls := 0
	unsubscribe := e.Subscribe(func(Event) { calls++ })

	e.Emit(Event{Kind: EventFlush})
	unsubscribe()
	unsubscribe()
	e.Emit(Event{Kind: EventFlush})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if e.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", e.Subscribers())
	}
}

func TestEmitter_ChannelDropsWhenFull(t *testing.T) {
	e := NewEmitter(nil)
	ch, cancel := e.Channel(1)

	e.Emit(Event{Kind: EventStart, ID: "1"})
	e.Emit(Event{Kind: EventStop, ID: "1"})

	ev := <-ch
	if ev.Kind != EventStart {
		t.Errorf("first event = %s, want %s", ev.Kind, EventStart)
	}
	if e.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", e.Dropped())
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	e.Emit(Event{Kind: EventFlush})
}

func TestEvent_SerializesAsPlainData(t *testing.T) {
	e := NewEmitter(nil)
	var got Event
	e.Subscribe(func(ev Event) { got = ev })
	e.Emit(Event{Kind: EventStop, ID: "abc", OK: true, Status: 201, ElapsedMs: 12})

	if got.TS.IsZero() {
		t.Error("Emit() did not stamp TS")
	}
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"kind":"http:stop"`, `"id":"abc"`, `"status":201`, `"elapsedMs":12`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("json %s missing %s", data, want)
		}
	}
	if strings.Contains(string(data), "startedAt") {
		t.Errorf("json %s should omit zero startedAt", data)
	}
	if got.Elapsed() != 12*time.Millisecond {
		t.Errorf("Elapsed() = %v", got.Elapsed())
	}
}
