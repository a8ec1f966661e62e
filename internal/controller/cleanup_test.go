package controller

import (
	"errors"
	"testing"
)

func TestCleanupStackRunsLIFO(t *testing.T) {
	var order []string
	c := NewCleanupStack()
	c.Push("first", func() error { order = append(order, "first"); return nil })
	c.Push("second", func() error { order = append(order, "second"); return nil })
	c.Push("third", func() error { order = append(order, "third"); return nil })

	c.Run()

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("got %v, want %v", order, want)
		}
	}
}

func TestCleanupStackContinuesPastErrors(t *testing.T) {
	var ran []string
	c := NewCleanupStack()
	c.Push("ok-one", func() error { ran = append(ran, "ok-one"); return nil })
	c.Push("failing", func() error { ran = append(ran, "failing"); return errors.New("boom") })
	c.Push("ok-two", func() error { ran = append(ran, "ok-two"); return nil })

	c.Run()

	if len(ran) != 3 {
		t.Fatalf("expected all three entries to run despite the error, got %v", ran)
	}
}

func TestCleanupStackRunIsIdempotent(t *testing.T) {
	calls := 0
	c := NewCleanupStack()
	c.Push("once", func() error { calls++; return nil })

	c.Run()
	c.Run()

	if calls != 1 {
		t.Errorf("expected the stack to be empty after Run, got %d calls", calls)
	}
}
