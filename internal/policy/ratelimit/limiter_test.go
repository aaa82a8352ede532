package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterWaitThrottlesPerHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://sparse.tamu.edu/MM/HB/a.tar.gz"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://sparse.tamu.edu/MM/HB/b.tar.gz"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}

	// A different host has its own bucket.
	start = time.Now()
	if err := l.Wait(ctx, "https://mirror.example/MM/HB/a.tar.gz"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected immediate token for new host, got %v", dur)
	}
	if l.Hosts() != 2 {
		t.Fatalf("expected 2 host buckets, got %d", l.Hosts())
	}
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), "http://127.0.0.1/x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx, "https://sparse.tamu.edu/"); err != nil {
		t.Fatalf("first token should be free: %v", err)
	}
	cancel()
	if err := l.Wait(ctx, "https://sparse.tamu.edu/"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
