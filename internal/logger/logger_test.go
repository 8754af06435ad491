package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fileConfig struct {
	path string
}

func (c fileConfig) GetLevel() string              { return "info" }
func (c fileConfig) GetOutput() string             { return "file" }
func (c fileConfig) GetFile() string               { return c.path }
func (c fileConfig) GetRotation() LumberjackConfig { return LumberjackConfig{MaxSize: 1} }

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWritesToRotatedFile(t *testing.T) {
	previous := defaultLogger
	defer SetDefaultLogger(previous)

	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(fileConfig{path: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("sweep %s finished", "project_deadline_sweep")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "project_deadline_sweep") {
		t.Fatalf("log file missing message: %s", data)
	}
}
