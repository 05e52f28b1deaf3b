package gateway

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	bo := NewBackoff(time.Second, 30*time.Second)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // stays capped
	}

	for i, want := range expected {
		got := bo.Next()
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", i, got, want)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(time.Second, 30*time.Second)
	bo.Next() // 1s
	bo.Next() // 2s
	bo.Next() // 4s
	bo.Reset()

	got := bo.Next()
	if got != time.Second {
		t.Errorf("after reset: got %v, want %v", got, time.Second)
	}
}

func TestBackoffNoOverflow(t *testing.T) {
	bo := NewBackoff(time.Second, 30*time.Second)
	for i := 0; i < 200; i++ {
		if d := bo.Next(); d <= 0 || d > 30*time.Second {
			t.Fatalf("attempt %d: got %v", i, d)
		}
	}
}
