package group

import "testing"

func TestIterateOrdersByPriorityDesc(t *testing.T) {
	r := NewRegistry()
	r.Register(Policy{ID: 1, Priority: 1})
	r.Register(Policy{ID: 2, Priority: 5})
	r.Register(Policy{ID: 3, Priority: 3})

	var seen []GroupID
	r.Iterate(func(p Policy) bool {
		seen = append(seen, p.ID)
		return true
	})

	want := []GroupID{2, 3, 1}
	if len(seen) != len(want) {
		t.Fatalf("got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v want %v", seen, want)
		}
	}
}

func TestIterateStopsEarly(t *testing.T) {
	r := NewRegistry()
	r.Register(Policy{ID: 1, Priority: 1})
	r.Register(Policy{ID: 2, Priority: 2})

	count := 0
	r.Iterate(func(p Policy) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("expected iteration to stop after first, got %d calls", count)
	}
}

func TestUnregisterRemovesFromIteration(t *testing.T) {
	r := NewRegistry()
	r.Register(Policy{ID: 1, Priority: 1})
	r.Register(Policy{ID: 2, Priority: 2})
	r.Unregister(1)

	if _, ok := r.Get(1); ok {
		t.Fatalf("expected group 1 to be gone")
	}

	var seen []GroupID
	r.Iterate(func(p Policy) bool {
		seen = append(seen, p.ID)
		return true
	})
	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("got %v want [2]", seen)
	}
}

func TestSetRatio(t *testing.T) {
	r := NewRegistry()
	r.Register(Policy{ID: 1, Ratio: 0.5})
	r.SetRatio(1, 0.1)
	p, ok := r.Get(1)
	if !ok || p.Ratio != 0.1 {
		t.Fatalf("got %+v", p)
	}
}
