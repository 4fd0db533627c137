package events

import (
	"strconv"
	"testing"
)

func TestBufferRetainsEmissionOrder(t *testing.T) {
	buffer := NewBuffer(4)
	for i := 0; i < 3; i++ {
		buffer.Emit(Event{Type: strconv.Itoa(i)})
	}
	recent := buffer.Recent()
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	for i, evt := range recent {
		if evt.Type != strconv.Itoa(i) {
			t.Fatalf("event %d = %s", i, evt.Type)
		}
	}
}

func TestBufferEvictsOldestWhenFull(t *testing.T) {
	buffer := NewBuffer(3)
	for i := 0; i < 5; i++ {
		buffer.Emit(Event{Type: strconv.Itoa(i)})
	}
	recent := buffer.Recent()
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	want := []string{"2", "3", "4"}
	for i, evt := range recent {
		if evt.Type != want[i] {
			t.Fatalf("event %d = %s, want %s", i, evt.Type, want[i])
		}
	}
}

func TestMultiFansOut(t *testing.T) {
	first := NewBuffer(2)
	second := NewBuffer(2)
	Multi{first, nil, second}.Emit(Event{Type: "ping"})
	if len(first.Recent()) != 1 || len(second.Recent()) != 1 {
		t.Fatal("event not delivered to all emitters")
	}
}
