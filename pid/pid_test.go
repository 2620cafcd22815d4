package pid

import "testing"

func TestAllocReuse(t *testing.T) {
	a := NewAllocator()
	h1 := a.Alloc()
	h2 := a.Alloc()
	if h1.PID() == h2.PID() {
		t.Fatalf("expected distinct pids")
	}
	reaped := h1.PID()
	h1.Release()

	h3 := a.Alloc()
	if h3.PID() != reaped {
		t.Fatalf("pid %d not reused, want %d", h3.PID(), reaped)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	a := NewAllocator()
	h := a.Alloc()
	h.Release()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double release")
		}
	}()
	h.Release()
}
