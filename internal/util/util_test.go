package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanentStops(t *testing.T) {
	attempts := 0
	notFound := errors.New("404")

	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return Permanent(notFound)
	})

	if !errors.Is(err, notFound) {
		t.Fatalf("Retry error = %v, want %v", err, notFound)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRetryHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait #%d returned %v, want nil", i, err)
		}
	}
	if err := rl.Wait(ctx); err == nil {
		t.Error("fourth Wait should block past the deadline")
	}
}

func TestNilRateLimiterNeverBlocks(t *testing.T) {
	var rl *RateLimiter
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait = %v", err)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("debug", "json", &buf).Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	NewLogger("warn", "text", &buf).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}

	buf.Reset()
	NewLogger("info", "terminal", &buf).Info("tinted", "source", "12")
	if !strings.Contains(buf.String(), "tinted") {
		t.Errorf("terminal output = %q", buf.String())
	}
}
