package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatterFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.Info("hello", Str("b", "2"), Str("a", "1"))
	got := buf.String()
	if !strings.Contains(got, "INFO hello a=1 b=2") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(WarnLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.Info("dropped")
	l.Warn("kept")
	got := buf.String()
	if strings.Contains(got, "dropped") || !strings.Contains(got, "kept") {
		t.Fatalf("level gating failed: %q", got)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(InfoLevel),
		WithFormatter(&JSONFormatter{}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.With(Component("manager")).Info("started", Int("port", 8080))
	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("invalid json: %v (%q)", err, buf.String())
	}
	if obj["msg"] != "started" || obj["component"] != "manager" {
		t.Fatalf("unexpected fields: %v", obj)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("debug"); err != nil || lvl != DebugLevel {
		t.Fatalf("parse debug: %v %v", lvl, err)
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatalf("expected error for bogus level")
	}
}
