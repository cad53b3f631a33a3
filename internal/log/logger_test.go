package log

import (
	"testing"

	"github.com/sirupsen/logrus"

	"coopad.dev/coopad/internal/config"
)

func TestInitLevels(t *testing.T) {
	cases := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tc := range cases {
		cfg := config.LogConfig{Level: tc.level, Format: "text"}
		if err := Init(cfg); err != nil {
			t.Fatalf("Init(%s) failed: %v", tc.level, err)
		}
		if logrus.GetLevel() != tc.want {
			t.Errorf("Expected level %v, got %v", tc.want, logrus.GetLevel())
		}
	}
}

func TestInitRejectsBadFormat(t *testing.T) {
	cfg := config.LogConfig{Level: "info", Format: "xml"}
	if err := Init(cfg); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}

func TestInitRejectsBadLevel(t *testing.T) {
	cfg := config.LogConfig{Level: "loud", Format: "text"}
	if err := Init(cfg); err == nil {
		t.Error("Expected error for unknown level, got nil")
	}
}

func TestInitFileOutputRequiresPath(t *testing.T) {
	cfg := config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{Enabled: true},
		},
	}
	if err := Init(cfg); err == nil {
		t.Error("Expected error for file output without path, got nil")
	}
}
