package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	// Must not panic and must report disabled at every level.
	logger.Error("boom")
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Fatal("discard logger should be disabled at error level")
	}
}

func TestDefaultNil(t *testing.T) {
	logger := Default(nil)
	if logger == nil {
		t.Fatal("Default(nil) returned nil")
	}
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Fatal("Default(nil) should discard")
	}
}

func TestDefaultPassthrough(t *testing.T) {
	var buf bytes.Buffer
	in := slog.New(slog.NewTextHandler(&buf, nil))
	if got := Default(in); got != in {
		t.Fatal("Default should return the provided logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer

	logger, err := New(&buf, "json", slog.LevelInfo)
	if err != nil {
		t.Fatalf("New json: %v", err)
	}
	logger.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	logger, err = New(&buf, "text", slog.LevelWarn)
	if err != nil {
		t.Fatalf("New text: %v", err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info below warn should be dropped, got %q", buf.String())
	}

	if _, err := New(&buf, "xml", slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
