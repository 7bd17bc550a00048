package queue

import (
	"testing"
	"time"
)

func TestBackoff_BaseDoublesUntilCap(t *testing.T) {
	b := newBackoff(2*time.Second, 5*time.Minute, 0)

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		128 * time.Second,
		256 * time.Second,
		5 * time.Minute, // capped
		5 * time.Minute,
	}
	for attempts, w := range want {
		if got := b.base(attempts); got != w {
			t.Errorf("base(%d) = %v, want %v", attempts, got, w)
		}
	}
}

func TestBackoff_BaseIsMonotonic(t *testing.T) {
	b := newBackoff(time.Second, 10*time.Minute, 0)

	prev := time.Duration(0)
	for attempts := 0; attempts < 30; attempts++ {
		got := b.base(attempts)
		if got < prev {
			t.Fatalf("base(%d) = %v decreased below %v", attempts, got, prev)
		}
		prev = got
	}
}

func TestBackoff_NegativeAttemptsClampToZero(t *testing.T) {
	b := newBackoff(2*time.Second, time.Minute, 0)
	if got := b.base(-3); got != 2*time.Second {
		t.Errorf("base(-3) = %v, want initial delay", got)
	}
}

func TestBackoff_JitterStaysWithinBounds(t *testing.T) {
	b := newBackoff(10*time.Second, time.Minute, 0.2)

	// random=0 is the lowest jitter (-10%), random just under 1 the highest.
	b.random = func() float64 { return 0 }
	if got := b.next(0); got != 9*time.Second {
		t.Errorf("next with random=0 = %v, want 9s", got)
	}

	b.random = func() float64 { return 1 }
	if got := b.next(0); got != 11*time.Second {
		t.Errorf("next with random=1 = %v, want 11s", got)
	}

	b.random = func() float64 { return 0.5 }
	if got := b.next(0); got != 10*time.Second {
		t.Errorf("next with random=0.5 = %v, want exactly base", got)
	}
}

func TestBackoff_NoJitterReturnsBase(t *testing.T) {
	b := newBackoff(time.Second, time.Minute, 0)
	b.random = func() float64 {
		t.Fatal("random must not be consulted when jitter is disabled")
		return 0
	}
	if got := b.next(2); got != 4*time.Second {
		t.Errorf("next(2) = %v, want 4s", got)
	}
}
