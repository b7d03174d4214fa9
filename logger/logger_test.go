package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{" INFO ", INFO},
		{"warning", WARN},
		{"WARN", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"unknown", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %s, 期望 %s", tt.in, got, tt.want)
		}
	}
}

func TestSetLevelFiltersOutput(t *testing.T) {
	defer SetLevel(INFO)

	SetLevel(ERROR)
	if shouldLog(WARN) {
		t.Error("ERROR 级别下不应输出 WARN 日志")
	}
	if !shouldLog(ERROR) {
		t.Error("ERROR 级别下应输出 ERROR 日志")
	}

	SetLevel(DEBUG)
	if GetLevel() != DEBUG {
		t.Errorf("期望 DEBUG, 得到 %s", GetLevel())
	}
	if !shouldLog(DEBUG) {
		t.Error("DEBUG 级别下应输出 DEBUG 日志")
	}
}

func TestEnableFileWritesLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	EnableFile(FileOptions{Path: path})
	defer Close()

	Info("✅ 文件日志测试 %d", 42)
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "文件日志测试 42") {
		t.Errorf("日志文件缺少预期内容: %s", string(data))
	}
}
