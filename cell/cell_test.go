package cell

import "testing"

func TestAccessReadsAndMutates(t *testing.T) {
	c := New(41)
	c.Access(func(v *int) { *v++ })
	got := 0
	c.Access(func(v *int) { got = *v })
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestReentrantAccessPanics(t *testing.T) {
	c := New(0)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on re-entrant access")
		}
	}()
	c.Access(func(v *int) {
		c.Access(func(v2 *int) {})
	})
}

func TestAccessReleasesAfterReturn(t *testing.T) {
	c := New(0)
	c.Access(func(v *int) {})
	c.Access(func(v *int) {}) // must not panic: prior access already released
}
