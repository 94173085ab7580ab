package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T, level Level) (*DefaultLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	l, err := NewDefaultLogger(&Config{
		LogFilePath: logPath,
		MaxFileSize: 1024 * 1024,
		MaxBackups:  3,
		Level:       level,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func TestNewDefaultLogger(t *testing.T) {
	_, logPath := newTestLogger(t, LevelDebug)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestNewDefaultLogger_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewDefaultLogger(&Config{Level: LevelInfo, Console: &buf})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	l.Info("hello", String("stage", "render"))
	if !strings.Contains(buf.String(), "[INFO] hello stage=render") {
		t.Errorf("unexpected console output: %q", buf.String())
	}
}

func TestLogLevelFiltering(t *testing.T) {
	l, logPath := newTestLogger(t, LevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message", errors.New("boom"))

	content := readLog(t, logPath)
	if strings.Contains(content, "debug message") || strings.Contains(content, "info message") {
		t.Error("entries below the minimum level should be dropped")
	}
	if !strings.Contains(content, "[WARN] warn message") {
		t.Error("warn entry missing")
	}
	if !strings.Contains(content, `[ERROR] error message error="boom"`) {
		t.Error("error entry missing or malformed")
	}
}

func TestSetLevel(t *testing.T) {
	l, logPath := newTestLogger(t, LevelError)

	l.Info("before")
	l.SetLevel(LevelDebug)
	l.Debug("after")

	content := readLog(t, logPath)
	if strings.Contains(content, "before") {
		t.Error("info entry should be filtered before SetLevel")
	}
	if !strings.Contains(content, "after") {
		t.Error("debug entry should pass after SetLevel")
	}
}

func TestLogRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	l, err := NewDefaultLogger(&Config{
		LogFilePath: logPath,
		MaxFileSize: 200,
		MaxBackups:  2,
		Level:       LevelDebug,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.Info("a message long enough to force the log file past its size limit", Int("i", i))
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected rotated file %s.1: %v", logPath, err)
	}
	if _, err := os.Stat(logPath + ".3"); err == nil {
		t.Error("no more than MaxBackups rotated files should exist")
	}
}

func TestFieldFormatting(t *testing.T) {
	l, logPath := newTestLogger(t, LevelDebug)

	l.Info("fields",
		String("plain", "value"),
		String("spaced", "two words"),
		Int("count", 3),
		Int64("bytes", 1024),
		Bool("cached", true),
		Page(7),
		Duration("took", 1500*time.Millisecond),
		Any("list", []int{1, 2}),
	)

	content := readLog(t, logPath)
	for _, want := range []string{
		"plain=value",
		`spaced="two words"`,
		"count=3",
		"bytes=1024",
		"cached=true",
		"page=7",
		"took=1.5s",
		"list=[1 2]",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("log entry missing %q in %q", want, content)
		}
	}
}

func TestWith(t *testing.T) {
	l, logPath := newTestLogger(t, LevelDebug)

	child := l.With(String("run", "abc")).With(Page(2))
	child.Warn("rendered")

	content := readLog(t, logPath)
	if !strings.Contains(content, "rendered run=abc page=2") {
		t.Errorf("child fields not prepended: %q", content)
	}
	if err := child.Close(); err != nil {
		t.Errorf("child Close should be a no-op, got %v", err)
	}
}

func TestStackTraces(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stack.log")
	l, err := NewDefaultLogger(&Config{LogFilePath: logPath, Level: LevelDebug, StackTraces: true})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	l.Error("failed", errors.New("x"))
	if !strings.Contains(readLog(t, logPath), "Stack trace:") {
		t.Error("expected stack trace on error entry")
	}
}

func TestGlobalLogger(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "global.log")
	if err := Init(&Config{LogFilePath: logPath, Level: LevelDebug}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	Debug("global debug")
	Info("global info")
	Warn("global warn")
	Error("global error", nil)
	With(String("k", "v")).Info("global child")

	content := readLog(t, logPath)
	for _, want := range []string{"global debug", "global info", "global warn", "global error", "global child k=v"} {
		if !strings.Contains(content, want) {
			t.Errorf("global log missing %q", want)
		}
	}
}

func TestNoopLogger(t *testing.T) {
	Close()
	l := GetLogger()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x", nil)
	l.With(String("a", "b")).Info("x")
	l.SetLevel(LevelDebug)
	if err := l.Close(); err != nil {
		t.Errorf("noop Close returned %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" warn ":  LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestErrFieldWithNil(t *testing.T) {
	f := Err(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("Err(nil) = %+v", f)
	}
}

func TestLogDirectoryCreation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dir", "app.log")
	l, err := NewDefaultLogger(&Config{LogFilePath: logPath, Level: LevelInfo})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(filepath.Dir(logPath)); err != nil {
		t.Errorf("log directory was not created: %v", err)
	}
}
