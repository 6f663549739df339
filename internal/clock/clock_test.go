package clock

import (
	"testing"
	"time"
)

func TestFixedAdvanceAndSet(t *testing.T) {
	f := NewFixed(1000, time.Second)
	if got := f.NowMS(); got != 1000 {
		t.Fatalf("NowMS() = %d, want 1000", got)
	}
	f.Advance(2 * time.Second)
	if got := f.NowMS(); got != 3000 {
		t.Fatalf("NowMS() after Advance(2s) = %d, want 3000", got)
	}
	f.Set(42)
	if got := f.NowMS(); got != 42 {
		t.Fatalf("NowMS() after Set(42) = %d, want 42", got)
	}
}

func TestNewSystemDefaultsTolerance(t *testing.T) {
	s := NewSystem(0)
	if got := s.ToleranceMS(); got != (30 * time.Second).Milliseconds() {
		t.Errorf("NewSystem(0).ToleranceMS() = %d, want 30s", got)
	}
	s = NewSystem(5 * time.Second)
	if got := s.ToleranceMS(); got != 5000 {
		t.Errorf("NewSystem(5s).ToleranceMS() = %d, want 5000", got)
	}
}

func TestInTolerance(t *testing.T) {
	f := NewFixed(10_000, 500*time.Millisecond)
	cases := []struct {
		name string
		ts   int64
		want bool
	}{
		{"exact match", 10_000, true},
		{"within window", 10_400, true},
		{"at upper boundary", 10_500, true},
		{"past upper boundary", 10_501, false},
		{"at lower boundary", 9_500, true},
		{"past lower boundary", 9_499, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := InTolerance(f, c.ts); got != c.want {
				t.Errorf("InTolerance(clock@10000±500, %d) = %v, want %v", c.ts, got, c.want)
			}
		})
	}
}
