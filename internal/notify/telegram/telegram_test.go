package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "pacer/pkg/logx"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"empty token", Config{ChatID: 42}},
		{"blank token", Config{Token: "   ", ChatID: 42}},
		{"missing chat", Config{Token: "123:abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.cfg, logx.Nop()); err == nil {
				t.Fatalf("New(%+v) = nil error", tc.cfg)
			}
		})
	}
}

func TestSendAlertHonorsContext(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Token: "123:abc", ChatID: 42, ThreadID: 7}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.opts.ThreadID != 7 || !s.opts.DisableWebPagePreview {
		t.Fatalf("send options = %+v", s.opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SendAlert(ctx, "[WARN] x"); err == nil {
		t.Fatalf("SendAlert on cancelled ctx = nil")
	}
	// Blank text is dropped without a network call.
	if err := s.SendAlert(context.Background(), "  "); err != nil {
		t.Fatalf("SendAlert blank = %v", err)
	}
	if sent, failed, _ := s.Counts(); sent != 0 || failed != 0 {
		t.Fatalf("counts = %d/%d, want 0/0", sent, failed)
	}
}

func TestAllowDedupWindow(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Token: "123:abc", ChatID: 42, DedupWindow: time.Minute}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !s.allow("[WARN] cooldown", now) {
		t.Fatalf("first alert suppressed")
	}
	if s.allow("[WARN] cooldown", now.Add(30*time.Second)) {
		t.Fatalf("repeat inside window allowed")
	}
	if !s.allow("[WARN] other", now.Add(30*time.Second)) {
		t.Fatalf("different text suppressed")
	}
	if !s.allow("[WARN] cooldown", now.Add(61*time.Second)) {
		t.Fatalf("repeat after window suppressed")
	}

	off, err := New(Config{Token: "123:abc", ChatID: 42, DedupWindow: -1}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !off.allow("x", now) || !off.allow("x", now) {
		t.Fatalf("disabled dedup suppressed a repeat")
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	plain := errors.New("bad gateway")
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, maxRetryDelay},
	}
	for _, tc := range cases {
		if got := retryDelay(time.Second, tc.attempt, plain); got != tc.want {
			t.Fatalf("retryDelay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryDelayFollowsFloodWait(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"value", tele.FloodError{RetryAfter: 7}, 7 * time.Second},
		{"joined value", errors.Join(errors.New("send"), tele.FloodError{RetryAfter: 3}), 3 * time.Second},
		{"pointer", &tele.FloodError{RetryAfter: 5}, 5 * time.Second},
		{"capped", tele.FloodError{RetryAfter: 120}, maxRetryDelay},
		{"zero retry_after", tele.FloodError{}, time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := retryDelay(time.Second, 1, tc.err); got != tc.want {
				t.Fatalf("retryDelay = %v, want %v", got, tc.want)
			}
		})
	}
}
