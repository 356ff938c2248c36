package retry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRun_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	result, err := Run(context.Background(), Fixed(3, 10*time.Millisecond), func(attempt int) (string, bool) {
		attempts++
		return "ok", false
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected result=ok, got %q", result)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRun_SuccessAfterRetry(t *testing.T) {
	attempts := 0
	result, err := Run(context.Background(), Fixed(3, time.Millisecond), func(attempt int) (int, bool) {
		attempts++
		if attempt < 2 {
			return -1, true
		}
		return attempt, false
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if result != 2 {
		t.Errorf("expected result from attempt 2, got %d", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRun_BudgetExhausted(t *testing.T) {
	attempts := 0
	result, err := Run(context.Background(), Fixed(2, time.Millisecond), func(attempt int) (int, bool) {
		attempts++
		return attempt, true
	})

	if err != nil {
		t.Errorf("expected exhausted budget to return the last result without error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", attempts)
	}
	if result != 2 {
		t.Errorf("expected last result 2, got %d", result)
	}
}

func TestRun_ZeroRetries(t *testing.T) {
	attempts := 0
	_, _ = Run(context.Background(), Fixed(0, time.Second), func(attempt int) (struct{}, bool) {
		attempts++
		return struct{}{}, true
	})

	if attempts != 1 {
		t.Errorf("expected single attempt, got %d", attempts)
	}
}

func TestRun_ContextCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	_, err := Run(ctx, Fixed(5, 50*time.Millisecond), func(attempt int) (int, bool) {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return attempt, true
	})

	if !errors.Is(err, ErrAborted) {
		t.Errorf("expected ErrAborted, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts before abort, got %d", attempts)
	}
}

func TestRun_WaitsBetweenAttempts(t *testing.T) {
	var starts []time.Time
	_, _ = Run(context.Background(), Fixed(1, 20*time.Millisecond), func(attempt int) (int, bool) {
		starts = append(starts, time.Now())
		return attempt, true
	})

	if len(starts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(starts))
	}
	if gap := starts[1].Sub(starts[0]); gap < 20*time.Millisecond {
		t.Errorf("expected at least 20ms between attempts, got %v", gap)
	}
}

func TestConfig_DelayFor(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		retry int
		want  time.Duration
	}{
		{name: "fixed first", cfg: Fixed(3, 300*time.Millisecond), retry: 0, want: 300 * time.Millisecond},
		{name: "fixed later", cfg: Fixed(3, 300*time.Millisecond), retry: 2, want: 300 * time.Millisecond},
		{name: "backoff first", cfg: Backoff(5, 100*time.Millisecond, time.Second, 2), retry: 0, want: 100 * time.Millisecond},
		{name: "backoff grows", cfg: Backoff(5, 100*time.Millisecond, time.Second, 2), retry: 2, want: 400 * time.Millisecond},
		{name: "backoff capped", cfg: Backoff(5, 100*time.Millisecond, time.Second, 2), retry: 4, want: time.Second},
		{name: "uncapped", cfg: Config{Delay: time.Millisecond, Multiplier: 10}, retry: 3, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DelayFor(tt.retry); got != tt.want {
				t.Errorf("DelayFor(%d) = %v, want %v", tt.retry, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := Fixed(1, 300*time.Millisecond).Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
	if err := Fixed(-1, 0).Validate(); err == nil {
		t.Error("expected error for negative retries")
	}
	if err := Fixed(1, -time.Second).Validate(); err == nil {
		t.Error("expected error for negative delay")
	}
	if err := (Config{JitterFraction: 2}).Validate(); err == nil {
		t.Error("expected error for jitter fraction > 1")
	}
}

func TestWait_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAddJitter(t *testing.T) {
	duration := 100 * time.Millisecond
	maxDuration := time.Duration(float64(duration) * 1.2)

	results := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		result := addJitter(duration, 0.2)
		if result < duration || result > maxDuration {
			t.Errorf("expected result between %v and %v, got %v", duration, maxDuration, result)
		}
		results[result] = true
	}

	if len(results) < 2 {
		t.Error("expected jitter to produce varied results")
	}
}

func TestAddJitter_ZeroFraction(t *testing.T) {
	duration := 100 * time.Millisecond
	if result := addJitter(duration, 0.0); result != duration {
		t.Errorf("expected no jitter with fraction=0, got %v instead of %v", result, duration)
	}
}

func TestRun_UsesConfiguredLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Fixed(1, time.Millisecond)
	cfg.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	_, _ = Run(context.Background(), cfg, func(attempt int) (int, bool) {
		return attempt, attempt == 0
	})

	if !strings.Contains(buf.String(), "operation failed, retrying") {
		t.Errorf("expected retry warning in configured logger, got %q", buf.String())
	}
}
