package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/getcharzp/sam2-td/internal/config"
)

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "info", Encoding: "console"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("隐藏")
	logger.Named("osc").Info("收到消息", zap.String("address", "/sam/mode"))
	logger.Sync()

	out := buf.String()
	if strings.Contains(out, "隐藏") {
		t.Error("debug entry should be filtered at info level")
	}
	for _, want := range []string{"INFO", "osc", "收到消息", "/sam/mode"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestNewLogger_JSONWithFile(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "sam2-td.log")
	logger, err := newLogger(config.LogConfig{
		Level:     "debug",
		Encoding:  "json",
		File:      file,
		MaxSizeMB: 1,
	}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("帧循环已启动", zap.Int("width", 1920))
	logger.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("stdout is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "帧循环已启动" || entry["level"] != "DEBUG" || entry["width"] != float64(1920) {
		t.Errorf("unexpected entry %v", entry)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "帧循环已启动") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := newLogger(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := newLogger(config.LogConfig{Level: "info", Encoding: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for invalid encoding")
	}
}
