package clock

import (
	"testing"
	"time"
)

func TestVirtual_AdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewVirtual(start)

	var fired []string
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
	if got := c.Now(); !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(2*time.Second))
	}

	c.Advance(time.Second)
	if len(fired) != 3 {
		t.Fatalf("fired = %v, want 3 calls", fired)
	}
}

func TestVirtual_Stop(t *testing.T) {
	c := NewVirtual(time.Unix(0, 0))

	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })
	if !timer.Stop() {
		t.Fatal("Stop() = false on armed timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	c.Advance(time.Minute)
	if called {
		t.Error("stopped timer fired")
	}
}

func TestVirtual_RearmInsideCallback(t *testing.T) {
	c := NewVirtual(time.Unix(0, 0))

	var at []time.Duration
	var tick func()
	tick = func() {
		at = append(at, c.Now().Sub(time.Unix(0, 0)))
		c.AfterFunc(10*time.Second, tick)
	}
	c.AfterFunc(10*time.Second, tick)

	c.Advance(35 * time.Second)
	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
	if len(at) != len(want) {
		t.Fatalf("ticks at %v, want %v", at, want)
	}
	for i := range want {
		if at[i] != want[i] {
			t.Errorf("tick %d at %v, want %v", i, at[i], want[i])
		}
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}
}
