package backoff

import (
	"testing"
	"time"
)

func TestScheduleNext(t *testing.T) {
	s := Schedule{10 * time.Minute, 20 * time.Minute, 40 * time.Minute, 80 * time.Minute}

	for i, want := range s {
		got, ok := s.Next(i)
		if !ok {
			t.Fatalf("attempt %d should still have a wait", i)
		}
		if got != want {
			t.Fatalf("attempt %d: expected %s, got %s", i, want, got)
		}
	}
	if _, ok := s.Next(len(s)); ok {
		t.Fatalf("exhausted schedule must stop")
	}
	if _, ok := s.Next(-1); ok {
		t.Fatalf("negative attempt must stop")
	}
	if s.Total() != 150*time.Minute {
		t.Fatalf("expected 150m total, got %s", s.Total())
	}
}

func TestScheduleClampsNegative(t *testing.T) {
	got, ok := Schedule{-time.Second}.Next(0)
	if !ok || got != 0 {
		t.Fatalf("negative wait should clamp to 0, got %s ok=%v", got, ok)
	}
}

func TestExponentialDelay(t *testing.T) {
	testCases := []struct {
		name    string
		policy  Exponential
		attempt int
		want    time.Duration
	}{
		{"first", Exponential{Base: time.Second, Multiplier: 2, Cap: time.Minute}, 0, time.Second},
		{"third", Exponential{Base: time.Second, Multiplier: 2, Cap: time.Minute}, 2, 4 * time.Second},
		{"capped", Exponential{Base: time.Second, Multiplier: 2, Cap: time.Minute}, 10, time.Minute},
		{"default multiplier", Exponential{Base: time.Second}, 3, 8 * time.Second},
		{"zero base", Exponential{Multiplier: 2}, 3, 0},
		{"negative attempt", Exponential{Base: time.Second, Multiplier: 3}, -2, time.Second},
		{"huge attempt uncapped", Exponential{Base: time.Second, Multiplier: 2}, 200, time.Duration(1<<63 - 1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Delay(tc.attempt); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if got, ok := tc.policy.Next(tc.attempt); !ok || got != tc.want {
				t.Fatalf("Next mismatch: %s ok=%v", got, ok)
			}
		})
	}
}
