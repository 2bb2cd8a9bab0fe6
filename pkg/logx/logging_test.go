package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "namazbot/internal/transport"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "INFO").With(String("comp", "test"))

	log.Debug("hidden")
	log.Warn("visible", Int("n", 3), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["message"] != "visible" || m["level"] != "warn" || m["comp"] != "test" || m["n"] != float64(3) || m["err"] != "boom" {
		t.Fatalf("entry = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop should not report IsZero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"warn","time":"x","message":"send failed","chat_id":42,"comp":"dispatch"}`))
	want := "[WARN] send failed\n- chat_id=42\n- comp=dispatch"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-json = %q", got)
	}
	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("truncate = %q", got)
	}
}

type captureSender struct{ ch chan string }

func (c *captureSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if to.ChatID == 77 {
		c.ch <- text
	}
	return kit.MessageRef{}, nil
}

func TestServiceTelegramAndFileSinks(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	sender := &captureSender{ch: make(chan string, 4)}
	svc, log := New(Config{
		Level: "DEBUG",
		File:  FileConfig{Enabled: true, Path: path},
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     77,
			MinLevel:   "ERROR",
			RatePerSec: 10,
		},
	}, nil)
	svc.SetSender(sender)

	log.Warn("below telegram level")
	log.Error("reminder failed", String("kind", "asr"))

	select {
	case msg := <-sender.ch:
		if !strings.HasPrefix(msg, "[ERROR] reminder failed") || !strings.Contains(msg, "kind=asr") {
			t.Fatalf("telegram msg = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telegram sink received nothing")
	}
	select {
	case msg := <-sender.ch:
		t.Fatalf("unexpected second message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}

	// Apply keeps loggers created earlier live.
	svc.Apply(Config{Level: "ERROR", File: FileConfig{Enabled: true, Path: path}})
	log.Warn("now filtered")
	_ = svc.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "below telegram level") || !strings.Contains(out, "reminder failed") || strings.Contains(out, "now filtered") {
		t.Fatalf("file sink = %q", out)
	}
}
