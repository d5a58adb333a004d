package observability

import (
	"testing"

	"github.com/casedesk/case-service/internal/config"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	logger, err := NewLogger(config.AppConfig{Name: "case-service", Version: "test"}, config.LoggerConfig{Level: "warn", Format: "console"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(-1) {
		t.Fatal("debug must be disabled at warn level")
	}

	logger, err = NewLogger(config.AppConfig{}, config.LoggerConfig{Level: "bogus"})
	if err != nil {
		t.Fatalf("fallback level: %v", err)
	}
	if !logger.Core().Enabled(0) {
		t.Fatal("info must be enabled by default")
	}
}
