package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	l.With(Int("n", 1)).Error("boom", Err(nil))
}

func TestJSONLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewJSON(&buf, "debug").With(String("comp", "scheduling"))
	l.Debug("reconciled", Int("saves", 2), HealthCode("abcdefghij"))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "scheduling" {
		t.Fatalf("comp = %v, want scheduling", m["comp"])
	}
	if m["saves"] != float64(2) {
		t.Fatalf("saves = %v, want 2", m["saves"])
	}
	hc, _ := m["health_code"].(string)
	if !strings.HasPrefix(hc, "abcdef") || strings.Contains(hc, "ghij") {
		t.Fatalf("health_code = %q, want truncated", hc)
	}
}

func TestServiceApplyLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	svc, l := New(Config{Level: "warn", Extra: &buf})
	defer svc.Close()

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	svc.Apply(Config{Level: "debug", Extra: &buf})
	l.Info("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("expected info line after Apply, got %q", buf.String())
	}

	l.Trace("per plan")
	if strings.Contains(buf.String(), "per plan") {
		t.Fatalf("trace written at debug level: %q", buf.String())
	}
	svc.Apply(Config{Level: "trace", Extra: &buf})
	l.Trace("per plan")
	if !strings.Contains(buf.String(), "per plan") {
		t.Fatalf("expected trace line at trace level, got %q", buf.String())
	}
}
