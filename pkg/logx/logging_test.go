package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "pacing"))
	log.Info("state changed", String("state", "break"), Duration("for", 2*time.Second))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "pacing" || m["state"] != "break" || m["message"] != "state changed" {
		t.Fatalf("unexpected line: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v, want this file", m["caller"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should be disabled at warn")
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Level{"DEBUG": LevelDebug, " info ": LevelInfo, "Warning": LevelWarn, "error": LevelError, "verbose": LevelWarn} {
		if got := parseLevel(in, LevelWarn); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	log.Error("dropped", Err(nil))
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	got := FormatAlert([]byte(`{"level":"warn","time":"x","message":"cooldown entered","reason":"blocked","comp":"dispatch"}` + "\n"))
	want := "[WARN] cooldown entered\n- comp=dispatch\n- reason=blocked"
	if got != want {
		t.Fatalf("FormatAlert:\n got %q\nwant %q", got, want)
	}

	if got := FormatAlert([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON line: got %q", got)
	}
}

type captureSender struct{ ch chan string }

func (c captureSender) SendAlert(_ context.Context, text string) error {
	c.ch <- text
	return nil
}

func TestServiceForwardsAlertsAboveMinLevel(t *testing.T) {
	sender := captureSender{ch: make(chan string, 4)}
	svc, log := New(Config{Level: "debug", Console: false, File: FileConfig{Enabled: true, Path: t.TempDir() + "/pacer.log"}, Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}}, sender)
	defer svc.Close()

	log.Info("not forwarded")
	log.Warn("forwarded", String("k", "v"))

	select {
	case msg := <-sender.ch:
		if !strings.HasPrefix(msg, "[WARN] forwarded") {
			t.Fatalf("unexpected alert %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alert not delivered")
	}
	select {
	case msg := <-sender.ch:
		t.Fatalf("unexpected extra alert %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
