package logging

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/exp/slog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewWithWriterFormats(t *testing.T) {
	t.Parallel()

	var jsonOut bytes.Buffer
	NewWithWriter(&jsonOut, Config{Level: "info", Format: "json"}).Info("hello", "k", "v")
	if !strings.Contains(jsonOut.String(), `"msg":"hello"`) {
		t.Fatalf("expected json output, got %q", jsonOut.String())
	}

	var textOut bytes.Buffer
	logger := NewWithWriter(&textOut, Config{Level: "warn"})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(textOut.String(), "hidden") || !strings.Contains(textOut.String(), "msg=shown") {
		t.Fatalf("unexpected text output: %q", textOut.String())
	}
}
