package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestSLogLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Warn("audit sink write failed", "actor", "u1", "error", errors.New("disk full"), "granted", true, "elapsed", time.Second)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if got["msg"] != "audit sink write failed" || got["level"] != "WARN" {
		t.Fatalf("unexpected record: %v", got)
	}
	if got["actor"] != "u1" || got["error"] != "disk full" || got["granted"] != true || got["elapsed"] != "1s" {
		t.Fatalf("fields not carried: %v", got)
	}
}

func TestSLogLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	l.Debug("permission check", "actor", "u1")
	if buf.Len() != 0 {
		t.Fatalf("debug entry written at info level: %s", buf.String())
	}
	l.Error("permission check failed", "actor", "u1")
	if buf.Len() == 0 {
		t.Fatalf("error entry dropped")
	}
}

func TestLoggersAcceptOddKeyvals(t *testing.T) {
	var buf bytes.Buffer
	for _, l := range []Logger{Discard, NewPhusluLogger(), NewSLogLogger(slog.New(slog.NewTextHandler(&buf, nil)))} {
		l.Info("dangling", "key")
		l.Debug("empty")
	}
}
