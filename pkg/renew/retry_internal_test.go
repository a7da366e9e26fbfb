package renew

import (
	"testing"
	"time"
)

func TestDelayDoublesPerAttempt(t *testing.T) {
	p := Policy{BaseDelay: 50 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 50 * time.Millisecond},
		{3, 100 * time.Millisecond},
		{4, 200 * time.Millisecond},
		{5, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Jitter: 0.2}

	for attempt := 2; attempt <= 4; attempt++ {
		base := p.BaseDelay << uint(attempt-2)
		max := base + time.Duration(p.Jitter*float64(base))
		for i := 0; i < 200; i++ {
			if d := p.delay(attempt); d < base || d > max {
				t.Fatalf("delay(%d) = %v, want within [%v, %v]", attempt, d, base, max)
			}
		}
	}
}
