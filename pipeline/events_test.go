package pipeline

import "testing"

func TestEmitter_DropsOnBackpressure(t *testing.T) {
	em := NewEmitter(2)
	if !em.Emit(Event{Status: 1}) || !em.Emit(Event{Status: 2}) {
		t.Fatal("emits within buffer capacity must succeed")
	}
	if em.Emit(Event{Status: 3}) {
		t.Error("emit into a full buffer should report a drop")
	}
	if em.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", em.Dropped())
	}

	// The buffered events are still intact and ordered.
	if ev := <-em.Events(); ev.Status != 1 {
		t.Errorf("first event Status = %d, want 1", ev.Status)
	}
	if ev := <-em.Events(); ev.Status != 2 {
		t.Errorf("second event Status = %d, want 2", ev.Status)
	}
}

func TestEmitter_CloseEndsStream(t *testing.T) {
	em := NewEmitter(4)
	em.Emit(Event{Status: 200})
	em.Close()
	em.Close() // idempotent

	ev, ok := <-em.Events()
	if !ok || ev.Status != 200 {
		t.Fatalf("buffered event lost on close: %+v ok=%v", ev, ok)
	}
	if _, ok := <-em.Events(); ok {
		t.Error("channel should be closed after draining")
	}
}

func TestNewEmitter_DefaultsBuffer(t *testing.T) {
	em := NewEmitter(0)
	if cap(em.ch) == 0 {
		t.Error("zero buffer request should fall back to a sane default")
	}
}
